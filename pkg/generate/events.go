package generate

import (
	"encoding/json"

	"github.com/eduardocaminha/radreport/pkg/report"
)

// Event kinds emitted on the generation stream, in newline-delimited JSON.
const (
	EventTypeDelta = "delta"
	EventTypeDone  = "done"
	EventTypeError = "error"
	EventTypeMeta  = "generation_meta"
)

// Event is one element of the outgoing stream. Exactly one terminal event
// (done or error) is emitted per request; generation_meta is supplementary
// and follows done.
type Event struct {
	Type string

	// delta
	Text string

	// done
	Usage report.TokenUsage
	Model string

	// error
	Message string

	// generation_meta
	DurationMs int64
	CostBRL    float64
	CostUSD    float64
}

// MarshalJSON renders the exact wire shape for each event type.
func (e Event) MarshalJSON() ([]byte, error) {
	switch e.Type {
	case EventTypeDone:
		return json.Marshal(struct {
			Type       string            `json:"type"`
			TokenUsage report.TokenUsage `json:"tokenUsage"`
			Model      string            `json:"model"`
		}{e.Type, e.Usage, e.Model})
	case EventTypeError:
		return json.Marshal(struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		}{e.Type, e.Message})
	case EventTypeMeta:
		return json.Marshal(struct {
			Type                 string  `json:"type"`
			GenerationDurationMs int64   `json:"generationDurationMs"`
			CostBRL              float64 `json:"costBrl"`
			CostUSD              float64 `json:"costUsd"`
		}{e.Type, e.DurationMs, e.CostBRL, e.CostUSD})
	default:
		return json.Marshal(struct {
			Type string `json:"type"`
			Text string `json:"text"`
		}{e.Type, e.Text})
	}
}
