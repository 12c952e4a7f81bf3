package generate

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/eduardocaminha/radreport/pkg/grounding"
	"github.com/eduardocaminha/radreport/pkg/logging"
	"github.com/eduardocaminha/radreport/pkg/model"
	"github.com/eduardocaminha/radreport/pkg/parse"
	"github.com/eduardocaminha/radreport/pkg/pricing"
	"github.com/eduardocaminha/radreport/pkg/prompt"
	"github.com/eduardocaminha/radreport/pkg/report"
	"github.com/eduardocaminha/radreport/pkg/store"
	"github.com/eduardocaminha/radreport/pkg/utils"
)

// ErrEmptyDictation is returned before any quota or backend contact when the
// request carries no usable text.
var ErrEmptyDictation = errors.New("texto do laudo vazio")

const defaultLocale = "pt-BR"

// Request is one report-generation request. UserID identifies the already
// authenticated caller; Text is the raw dictation.
type Request struct {
	UserID         string
	Text           string
	ExamType       string
	Emergency      bool
	Comparative    bool
	ResearchDetail bool
	Locale         string
}

// Mode returns the audit-log mode, comparative taking precedence over
// emergency.
func (r Request) Mode() report.Mode {
	switch {
	case r.Comparative:
		return report.ModeComparative
	case r.Emergency:
		return report.ModeEmergency
	default:
		return report.ModeElective
	}
}

// Orchestrator runs the generation pipeline end to end: quota gate, prompt
// assembly, backend streaming, event tee and audit recording.
type Orchestrator struct {
	store     *store.Store
	grounding *grounding.Formatter
	backend   model.StreamBackend
	now       func() time.Time
}

func NewOrchestrator(st *store.Store, formatter *grounding.Formatter, backend model.StreamBackend) *Orchestrator {
	return &Orchestrator{
		store:     st,
		grounding: formatter,
		backend:   backend,
		now:       time.Now,
	}
}

// Generate validates the request, consumes one quota unit and starts the
// backend stream. Rejected input consumes no quota; once the quota check
// passes the unit is spent, with no refund on a later failure. On success the
// returned channel carries delta events as they arrive, exactly one terminal
// done or error event and, after done, one generation_meta event, then
// closes.
//
// Cancelling ctx aborts the backend request; no generation_meta event and no
// successful audit row are produced for an aborted stream.
func (o *Orchestrator) Generate(ctx context.Context, req Request) (<-chan Event, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, ErrEmptyDictation
	}
	if req.Locale == "" {
		req.Locale = defaultLocale
	}

	if err := o.store.CheckAndConsume(req.UserID); err != nil {
		return nil, utils.WrapIfNotNil(err)
	}

	groundingContext, err := o.grounding.Context(req.ExamType)
	if err != nil {
		return nil, utils.WrapIfNotNil(err)
	}
	system := prompt.Assemble(prompt.AssembleOptions{
		Emergency:        req.Emergency,
		Comparative:      req.Comparative,
		ResearchDetail:   req.ResearchDetail,
		GroundingContext: groundingContext,
	})

	startedAt := o.now()
	backendEvents, err := o.backend.StreamGenerate(ctx, system, req.Text)
	if err != nil {
		o.recordFailure(ctx, req, startedAt, err)
		return nil, utils.WrapIfNotNil(err)
	}

	out := make(chan Event)
	go o.pump(ctx, req, startedAt, backendEvents, out)
	return out, nil
}

// pump tees backend events onto the outgoing stream, accumulating nothing but
// the terminal metadata needed for cost and audit.
func (o *Orchestrator) pump(ctx context.Context, req Request, startedAt time.Time, in <-chan model.StreamEvent, out chan<- Event) {
	defer close(out)

	for event := range in {
		switch event.Kind {
		case model.StreamEventDelta:
			if !o.send(ctx, out, Event{Type: EventTypeDelta, Text: event.Text}) {
				o.recordFailure(ctx, req, startedAt, ctx.Err())
				return
			}
		case model.StreamEventDone:
			durationMs := o.now().Sub(startedAt).Milliseconds()
			cost := pricing.ComputeCost(event.Usage, event.Model)
			if !o.send(ctx, out, Event{Type: EventTypeDone, Usage: event.Usage, Model: event.Model}) {
				o.recordFailure(ctx, req, startedAt, ctx.Err())
				return
			}
			o.send(ctx, out, Event{
				Type:       EventTypeMeta,
				DurationMs: durationMs,
				CostBRL:    cost.TotalBRL,
				CostUSD:    cost.TotalUSD,
			})
			o.recordSuccess(ctx, req, event.Usage, event.Model, cost, durationMs)
			return
		case model.StreamEventError:
			o.send(ctx, out, Event{Type: EventTypeError, Message: event.Err.Error()})
			o.recordFailure(ctx, req, startedAt, event.Err)
			return
		}
	}

	// Backend closed without a terminal event. Treat as an error so the
	// client never hangs waiting for done.
	err := errors.New("backend stream ended without terminal event")
	o.send(ctx, out, Event{Type: EventTypeError, Message: err.Error()})
	o.recordFailure(ctx, req, startedAt, err)
}

func (o *Orchestrator) send(ctx context.Context, out chan<- Event, event Event) bool {
	select {
	case out <- event:
		return true
	case <-ctx.Done():
		return false
	}
}

func (o *Orchestrator) recordSuccess(ctx context.Context, req Request, usage report.TokenUsage, modelName string, cost pricing.CostInfo, durationMs int64) {
	record := store.GenerationRecord{
		UserID:          req.UserID,
		InputTextHash:   store.HashInputText(req.Text),
		InputTextLength: len(req.Text),
		InputTokens:     usage.InputTokens,
		OutputTokens:    usage.OutputTokens,
		TotalTokens:     usage.TotalTokens,
		CostUSD:         cost.TotalUSD,
		CostBRL:         cost.TotalBRL,
		Model:           modelName,
		DurationMs:      durationMs,
		Mode:            req.Mode(),
		Locale:          req.Locale,
		ResearchDetail:  req.ResearchDetail,
		Success:         true,
	}
	if err := o.store.RecordGeneration(record); err != nil {
		logging.NewLogger(ctx).Warnf("audit record failed: %v", err)
	}
}

// recordFailure logs a failed or aborted attempt. Best effort; a failure to
// record never surfaces to the caller.
func (o *Orchestrator) recordFailure(ctx context.Context, req Request, startedAt time.Time, cause error) {
	message := "aborted"
	if cause != nil {
		message = cause.Error()
	}
	record := store.GenerationRecord{
		UserID:          req.UserID,
		InputTextHash:   store.HashInputText(req.Text),
		InputTextLength: len(req.Text),
		DurationMs:      o.now().Sub(startedAt).Milliseconds(),
		Mode:            req.Mode(),
		Locale:          req.Locale,
		ResearchDetail:  req.ResearchDetail,
		Success:         false,
		ErrorMessage:    message,
	}
	if err := o.store.RecordGeneration(record); err != nil {
		logging.NewLogger(ctx).Warnf("audit record failed: %v", err)
	}
}

// GenerateReport drains the event stream and returns the parsed result. It is
// the non-streaming convenience used by callers that do not forward deltas.
func (o *Orchestrator) GenerateReport(ctx context.Context, req Request) (report.GenerationResult, error) {
	events, err := o.Generate(ctx, req)
	if err != nil {
		return report.GenerationResult{}, err
	}

	var accumulated strings.Builder
	for event := range events {
		switch event.Type {
		case EventTypeDelta:
			accumulated.WriteString(event.Text)
		case EventTypeError:
			message := event.Message
			return report.GenerationResult{Error: &message, Suggestions: []string{}}, nil
		}
	}
	return parse.Result(accumulated.String()), nil
}
