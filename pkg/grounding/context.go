// Package grounding serializes the template/finding knowledge base into the
// text block injected into the generation prompt. Output is deterministic:
// unchanged inputs produce a byte-identical block, which prompt caching and
// reproducible tests both depend on. No size cap is applied here; truncation
// policy belongs to the prompt assembler.
package grounding

import (
	"fmt"
	"strings"
	"sync"

	"github.com/eduardocaminha/radreport/pkg/report"
	"github.com/eduardocaminha/radreport/pkg/store"
	"github.com/eduardocaminha/radreport/pkg/utils"
)

// Source is the read surface the formatter needs from the template store.
type Source interface {
	ReadForExamType(examType string) ([]store.TemplateBundle, error)
	Version(examType string) uint64
}

type cacheEntry struct {
	version uint64
	text    string
}

// Formatter renders grounding context, caching per exam type keyed on the
// store's version counter. A stale counter forces a recompute; invalidation
// is the store bumping the counter on mutation.
type Formatter struct {
	source Source

	mu    sync.Mutex
	cache map[string]cacheEntry
}

func NewFormatter(source Source) *Formatter {
	return &Formatter{
		source: source,
		cache:  make(map[string]cacheEntry),
	}
}

// Context returns the grounding block for an exam type (empty means every
// exam type).
func (f *Formatter) Context(examType string) (string, error) {
	version := f.source.Version(examType)

	f.mu.Lock()
	entry, ok := f.cache[examType]
	f.mu.Unlock()
	if ok && entry.version == version {
		return entry.text, nil
	}

	bundles, err := f.source.ReadForExamType(examType)
	if err != nil {
		return "", utils.WrapIfNotNil(err)
	}
	text := Render(bundles)

	f.mu.Lock()
	f.cache[examType] = cacheEntry{version: version, text: text}
	f.mu.Unlock()
	return text, nil
}

// Render serializes bundles into the prompt block. Empty inputs still produce
// the section headers: grounding context is optional for generation, so an
// empty knowledge base is valid, not an error.
func Render(bundles []store.TemplateBundle) string {
	var b strings.Builder

	b.WriteString("## MÁSCARAS DISPONÍVEIS\n\n")
	for _, bundle := range bundles {
		writeTemplate(&b, bundle)
	}

	b.WriteString("## ACHADOS DISPONÍVEIS\n\n")
	for _, bundle := range bundles {
		for _, finding := range bundle.Findings {
			writeFinding(&b, finding)
		}
	}

	return b.String()
}

func writeTemplate(b *strings.Builder, bundle store.TemplateBundle) {
	tmpl := bundle.Template
	fmt.Fprintf(b, "### %s\n", tmpl.Slug)
	fmt.Fprintf(b, "- Tipo: %s\n", tmpl.ExamType)
	if tmpl.ExamSubtype != "" {
		fmt.Fprintf(b, "- Subtipo: %s\n", tmpl.ExamSubtype)
	}
	fmt.Fprintf(b, "- Contraste: %s\n", tmpl.Contrast)
	fmt.Fprintf(b, "- Urgência padrão: %s\n", yesNo(tmpl.UrgencyDefault))
	if len(tmpl.Keywords) > 0 {
		fmt.Fprintf(b, "- Palavras-chave: %s\n", strings.Join(tmpl.Keywords, ", "))
	}
	if len(bundle.Regions) > 0 {
		fmt.Fprintf(b, "- Regiões: %s\n", strings.Join(regionSummaries(bundle.Regions), "; "))
	}
	b.WriteString("\n```\n")
	b.WriteString(strings.TrimSpace(tmpl.BodyContent))
	b.WriteString("\n```\n\n")
}

func regionSummaries(regions []report.Region) []string {
	summaries := make([]string, 0, len(regions))
	for _, region := range regions {
		summary := region.Slug
		if region.Optional {
			summary += " (opcional)"
		}
		summaries = append(summaries, summary)
	}
	return summaries
}

func writeFinding(b *strings.Builder, finding report.Finding) {
	fmt.Fprintf(b, "### %s\n", finding.Slug)
	fmt.Fprintf(b, "- Região: %s\n", finding.RegionSlug)
	fmt.Fprintf(b, "- Palavras-chave: %s\n", strings.Join(finding.Keywords, ", "))
	if required := finding.FieldsOfKind(report.FieldRequired); len(required) > 0 {
		fmt.Fprintf(b, "- Campos obrigatórios: %s\n", strings.Join(required, ", "))
	}
	if optional := finding.FieldsOfKind(report.FieldOptional); len(optional) > 0 {
		fmt.Fprintf(b, "- Campos opcionais: %s\n", strings.Join(optional, ", "))
	}
	if conditional := finding.FieldsOfKind(report.FieldConditional); len(conditional) > 0 {
		fmt.Fprintf(b, "- Campos condicionais: %s\n", strings.Join(conditional, ", "))
	}
	if finding.MeasureDefault != "" {
		fmt.Fprintf(b, "- Medida padrão: %s\n", finding.MeasureDefault)
	}
	b.WriteString("\n```\n")
	b.WriteString(strings.TrimSpace(finding.BodyContent))
	b.WriteString("\n```\n\n")
}

func yesNo(value bool) string {
	if value {
		return "sim"
	}
	return "não"
}
