// Package validate is the deterministic counterpart of the prompt-level
// validation taxonomy. The live pipeline delegates the judgment to the
// model; this package implements the same contract over field rules so the
// gate can be unit tested without one.
package validate

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/sahilm/fuzzy"

	"github.com/eduardocaminha/radreport/pkg/report"
)

// Evaluation separates blocking violations from advisory ones. Blocking
// entries force report=null with an error message; advisory entries become
// completeness suggestions on a successful report.
type Evaluation struct {
	Blocking []string
	Advisory []string
}

func (e Evaluation) Blocked() bool {
	return len(e.Blocking) > 0
}

var (
	measurementRe = regexp.MustCompile(`\d+([.,]\d+)?\s*(cm|mm)`)
	lateralityRe  = regexp.MustCompile(`(?i)\b(direit[ao]|esquerd[ao]|esq\.?|dir\.?|bilateral|à direita|à esquerda)\b`)

	withContrastRe    = regexp.MustCompile(`(?i)\b(com contraste|contrastado|contrastada|pós-contraste|\bcom\b)`)
	withoutContrastRe = regexp.MustCompile(`(?i)\b(sem contraste|\bsem\b)`)
)

// ContrastStated reports whether the dictation settles contrast
// administration either way. The accepted abbreviations mirror the prompt
// glossary: "com"/"contrastado" and "sem".
func ContrastStated(dictation string) bool {
	return withContrastRe.MatchString(dictation) || withoutContrastRe.MatchString(dictation)
}

// MentionsMeasurement reports whether the dictation carries any measurement.
func MentionsMeasurement(dictation string) bool {
	return measurementRe.MatchString(dictation)
}

// MentionsLaterality reports whether the dictation states a side.
func MentionsLaterality(dictation string) bool {
	return lateralityRe.MatchString(dictation)
}

func fieldStated(dictation, field string) bool {
	lower := strings.ToLower(field)
	switch {
	case strings.Contains(lower, "medida") || strings.Contains(lower, "tamanho") || strings.Contains(lower, "dimens"):
		return MentionsMeasurement(dictation)
	case strings.Contains(lower, "lado") || strings.Contains(lower, "lateral"):
		return MentionsLaterality(dictation)
	default:
		return strings.Contains(strings.ToLower(dictation), lower)
	}
}

// EvaluateFieldRules applies a finding's field rules to the dictation.
// Required fields absent from the dictation block; optional and conditional
// ones only advise. A conditional field whose condition text is not present
// in the dictation is skipped.
func EvaluateFieldRules(dictation string, finding report.Finding) Evaluation {
	eval := Evaluation{}

	for _, field := range finding.FieldsOfKind(report.FieldRequired) {
		if !fieldStated(dictation, field) {
			eval.Blocking = append(eval.Blocking,
				fmt.Sprintf("campo obrigatório %q do achado %q ausente no ditado", field, finding.Slug))
		}
	}

	for _, field := range finding.FieldsOfKind(report.FieldOptional) {
		if !fieldStated(dictation, field) {
			eval.Advisory = append(eval.Advisory,
				fmt.Sprintf("campo opcional %q do achado %q poderia ser descrito", field, finding.Slug))
		}
	}

	for _, field := range finding.FieldsOfKind(report.FieldConditional) {
		rule := finding.FieldRules[field]
		condition := strings.ToLower(strings.TrimSpace(rule.Condition))
		if condition != "" && !strings.Contains(strings.ToLower(dictation), condition) {
			continue
		}
		if !fieldStated(dictation, field) {
			eval.Advisory = append(eval.Advisory,
				fmt.Sprintf("campo condicional %q do achado %q poderia ser descrito", field, finding.Slug))
		}
	}

	return eval
}

// minimum fuzzy score accepted as a keyword hit; sahilm/fuzzy scores short
// accidental matches low or negative.
const minKeywordScore = 0

// MatchFindings returns the findings whose keywords match the dictation,
// preserving input order. Matching is fuzzy per dictation word so inflected
// forms still hit.
func MatchFindings(dictation string, findings []report.Finding) []report.Finding {
	lower := strings.ToLower(dictation)
	words := strings.Fields(lower)
	if len(words) == 0 {
		return nil
	}

	matched := make([]report.Finding, 0)
	for _, finding := range findings {
		if keywordsHit(lower, words, finding.Keywords) {
			matched = append(matched, finding)
		}
	}
	return matched
}

func keywordsHit(dictation string, dictationWords []string, keywords []string) bool {
	for _, keyword := range keywords {
		keyword = strings.ToLower(strings.TrimSpace(keyword))
		if keyword == "" {
			continue
		}
		if strings.Contains(dictation, keyword) {
			return true
		}
		for _, match := range fuzzy.Find(keyword, dictationWords) {
			if match.Score >= minKeywordScore {
				return true
			}
		}
	}
	return false
}

// EvaluateEssentials runs the blocking checks that precede field rules: an
// exam whose template set requires a contrast decision blocks when the
// dictation leaves it unstated.
func EvaluateEssentials(dictation string, templates []report.Template) Evaluation {
	eval := Evaluation{}

	if len(templates) > 0 && !ContrastStated(dictation) {
		eval.Blocking = append(eval.Blocking,
			"contraste não especificado: informe \"com contraste\" ou \"sem contraste\"")
	}
	return eval
}
