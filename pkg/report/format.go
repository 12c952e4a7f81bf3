package report

import (
	"fmt"
	"regexp"
	"strings"
)

// Foreign technique terms rendered in italics inside the TÉCNICA section.
var foreignTerms = []string{
	"multislice",
	"multidetector",
	"helical",
	"spiral",
	"contrast",
	"enhancement",
	"attenuation",
	"hounsfield",
	"mip",
	"mpr",
	"vr",
	"3d",
}

var (
	htmlTagRe       = regexp.MustCompile(`<[^>]*>`)
	multiNewlinesRe = regexp.MustCompile(`\n{3,}`)
	foreignTermRes  = compileForeignTermPatterns()
)

func compileForeignTermPatterns() []*regexp.Regexp {
	patterns := make([]*regexp.Regexp, 0, len(foreignTerms))
	for _, term := range foreignTerms {
		patterns = append(patterns, regexp.MustCompile(`(?i)\b`+regexp.QuoteMeta(term)+`\b`))
	}
	return patterns
}

// FormatReportHTML renders plain report text into the standardized HTML the
// editor consumes. Text that already carries the standard classes passes
// through unchanged.
func FormatReportHTML(text string) string {
	if text == "" {
		return ""
	}
	if strings.Contains(text, `<h1 class="laudo-titulo">`) || strings.Contains(text, `<p class="laudo-`) {
		return text
	}

	lines := make([]string, 0)
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) == 0 {
		return ""
	}

	var html strings.Builder
	i := 0

	// First line is the title even when it does not start with TOMOGRAFIA/TC.
	html.WriteString(fmt.Sprintf(`<h1 class="laudo-titulo">%s</h1>`, strings.ToUpper(lines[i])))
	i++

	if i < len(lines) {
		lower := strings.ToLower(lines[i])
		if strings.Contains(lower, "urgência") || strings.Contains(lower, "urgencia") || strings.Contains(lower, "eletivo") {
			html.WriteString(fmt.Sprintf(`<p class="laudo-urgencia">%s</p>`, lines[i]))
			i++
		}
	}

	html.WriteString("<br>")

	for i < len(lines) {
		line := lines[i]
		upper := strings.ToUpper(line)

		switch {
		case strings.HasPrefix(upper, "TÉCNICA:") || strings.HasPrefix(upper, "TECNICA:"):
			html.WriteString(`<p class="laudo-secao">TÉCNICA:</p>`)
			i++
			if i < len(lines) {
				html.WriteString(fmt.Sprintf(`<p class="laudo-texto">%s</p>`, italicizeForeignTerms(lines[i])))
				i++
			}
			html.WriteString("<br>")
		case strings.HasPrefix(upper, "ANÁLISE:") || strings.HasPrefix(upper, "ANALISE:"):
			html.WriteString(`<p class="laudo-secao">ANÁLISE:</p>`)
			i++
			for i < len(lines) {
				next := strings.ToUpper(lines[i])
				if strings.HasPrefix(next, "TÉCNICA:") || strings.HasPrefix(next, "TECNICA:") ||
					strings.HasPrefix(next, "ANÁLISE:") || strings.HasPrefix(next, "ANALISE:") {
					break
				}
				html.WriteString(fmt.Sprintf(`<p class="laudo-texto">%s</p>`, lines[i]))
				i++
			}
		default:
			html.WriteString(fmt.Sprintf(`<p class="laudo-texto">%s</p>`, line))
			i++
		}
	}

	return html.String()
}

func italicizeForeignTerms(text string) string {
	result := text
	for _, re := range foreignTermRes {
		result = re.ReplaceAllStringFunc(result, func(match string) string {
			return "<em>" + match + "</em>"
		})
	}
	return result
}

// StripFormatting removes HTML tags and collapses runs of blank lines,
// returning plain text.
func StripFormatting(text string) string {
	if text == "" {
		return ""
	}

	clean := htmlTagRe.ReplaceAllString(text, "")
	clean = multiNewlinesRe.ReplaceAllString(clean, "\n\n")
	return strings.TrimSpace(clean)
}
