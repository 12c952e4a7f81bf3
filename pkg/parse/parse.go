// Package parse extracts a structured result from the model's raw textual
// answer, tolerating formatting noise.
package parse

import (
	"encoding/json"
	"strings"

	"github.com/eduardocaminha/radreport/pkg/report"
)

// StripFence removes a leading/trailing fenced-code marker, tolerating both a
// language-tagged fence and a bare one. Text without a fence passes through
// unchanged, so the operation is idempotent.
func StripFence(text string) string {
	trimmed := strings.TrimSpace(text)

	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}

	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}

// Result parses the raw answer into a GenerationResult. Expected input is a
// JSON object, possibly fence-wrapped. Missing fields coalesce independently:
// absent sugestoes becomes an empty list, absent erro stays nil. When the
// payload is not JSON at all, the entire raw text (pre-stripping) becomes the
// report body: an unparseable-but-sensible answer is still clinically usable
// and must not be discarded.
func Result(raw string) report.GenerationResult {
	payload := StripFence(raw)

	if !strings.HasPrefix(payload, "{") {
		text := raw
		return report.GenerationResult{
			Report:      &text,
			Suggestions: []string{},
		}
	}

	var decoded struct {
		Report      *string  `json:"laudo"`
		Suggestions []string `json:"sugestoes"`
		Error       *string  `json:"erro"`
	}
	if err := json.Unmarshal([]byte(payload), &decoded); err != nil {
		text := raw
		return report.GenerationResult{
			Report:      &text,
			Suggestions: []string{},
		}
	}

	result := report.GenerationResult{
		Report:      decoded.Report,
		Suggestions: decoded.Suggestions,
		Error:       decoded.Error,
	}
	if result.Suggestions == nil {
		result.Suggestions = []string{}
	}
	return result
}
