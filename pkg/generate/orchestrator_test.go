package generate

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/eduardocaminha/radreport/pkg/grounding"
	"github.com/eduardocaminha/radreport/pkg/model"
	"github.com/eduardocaminha/radreport/pkg/report"
	"github.com/eduardocaminha/radreport/pkg/store"
)

// stubBackend replays a scripted event sequence and records the prompt it
// was invoked with.
type stubBackend struct {
	script     []model.StreamEvent
	err        error
	lastSystem string
	lastUser   string
	block      chan struct{}
}

func (b *stubBackend) StreamGenerate(ctx context.Context, system string, userText string) (<-chan model.StreamEvent, error) {
	b.lastSystem = system
	b.lastUser = userText
	if b.err != nil {
		return nil, b.err
	}

	events := make(chan model.StreamEvent)
	go func() {
		defer close(events)
		for _, event := range b.script {
			if b.block != nil {
				select {
				case <-b.block:
				case <-ctx.Done():
					return
				}
			}
			select {
			case events <- event:
			case <-ctx.Done():
				return
			}
		}
	}()
	return events, nil
}

func doneEvent(input, output int64, modelName string) model.StreamEvent {
	return model.StreamEvent{
		Kind: model.StreamEventDone,
		Usage: report.TokenUsage{
			InputTokens:  input,
			OutputTokens: output,
			TotalTokens:  input + output,
		},
		Model: modelName,
	}
}

type OrchestratorSuite struct {
	suite.Suite
	store   *store.Store
	backend *stubBackend
}

func TestOrchestratorSuite(t *testing.T) {
	suite.Run(t, new(OrchestratorSuite))
}

func (s *OrchestratorSuite) SetupTest() {
	st, err := store.New()
	require.NoError(s.T(), err)
	s.store = st
	s.backend = &stubBackend{}

	tmpl, err := st.CreateTemplate(report.Template{
		Slug:        "tc-abdome-total",
		Name:        "TC Abdome Total",
		ExamType:    "tc",
		BodyContent: "TOMOGRAFIA COMPUTADORIZADA DE ABDOME TOTAL",
		Status:      report.StatusPublished,
	})
	require.NoError(s.T(), err)
	_, err = st.AddFinding(report.Finding{
		TemplateID:  tmpl.ID,
		Slug:        "cisto-renal",
		Keywords:    []string{"cisto"},
		BodyContent: "Cisto no rim {{lado}}.",
		FieldRules: map[string]report.FieldRule{
			"lado": {Kind: report.FieldRequired},
		},
	})
	require.NoError(s.T(), err)
}

func (s *OrchestratorSuite) orchestrator() *Orchestrator {
	return NewOrchestrator(s.store, grounding.NewFormatter(s.store), s.backend)
}

func (s *OrchestratorSuite) request() Request {
	return Request{UserID: "u1", Text: "tc de abdome sem contraste, cisto renal à direita de 2,3 cm"}
}

func (s *OrchestratorSuite) TestStreamHappyPath() {
	s.backend.script = []model.StreamEvent{
		{Kind: model.StreamEventDelta, Text: `{"laudo":"TOMO`},
		{Kind: model.StreamEventDelta, Text: `GRAFIA","sugestoes":[],"erro":null}`},
		doneEvent(100, 50, "claude-sonnet-4-5-20250929"),
	}

	events, err := s.orchestrator().Generate(context.Background(), s.request())
	s.Require().NoError(err)

	collected := make([]Event, 0)
	for event := range events {
		collected = append(collected, event)
	}
	s.Require().Len(collected, 4)

	s.Equal(EventTypeDelta, collected[0].Type)
	s.Equal(EventTypeDelta, collected[1].Type)

	done := collected[2]
	s.Equal(EventTypeDone, done.Type)
	s.Equal("claude-sonnet-4-5-20250929", done.Model)
	s.EqualValues(150, done.Usage.TotalTokens)

	meta := collected[3]
	s.Equal(EventTypeMeta, meta.Type)
	s.Positive(meta.CostUSD)
	s.InDelta(meta.CostUSD*5.5, meta.CostBRL, 1e-9)
	s.GreaterOrEqual(meta.DurationMs, int64(0))
}

func (s *OrchestratorSuite) TestPromptCarriesGroundingAndDictation() {
	s.backend.script = []model.StreamEvent{doneEvent(1, 1, "m")}

	events, err := s.orchestrator().Generate(context.Background(), s.request())
	s.Require().NoError(err)
	for range events {
	}

	s.Contains(s.backend.lastSystem, "## MÁSCARAS DISPONÍVEIS")
	s.Contains(s.backend.lastSystem, "tc-abdome-total")
	s.Contains(s.backend.lastSystem, "cisto-renal")
	s.Equal(s.request().Text, s.backend.lastUser)
}

func (s *OrchestratorSuite) TestModeAddenda() {
	s.backend.script = []model.StreamEvent{doneEvent(1, 1, "m")}

	req := s.request()
	req.Emergency = true
	req.ResearchDetail = true
	events, err := s.orchestrator().Generate(context.Background(), req)
	s.Require().NoError(err)
	for range events {
	}

	s.Contains(s.backend.lastSystem, "MODO PRONTO-SOCORRO (ATIVO)")
	s.Contains(s.backend.lastSystem, "MODO PESQUISA DETALHADA (ATIVO)")
	s.NotContains(s.backend.lastSystem, "MODO COMPARATIVO (ATIVO)")
}

func (s *OrchestratorSuite) TestEmptyTextRejectedBeforeQuota() {
	_, err := s.orchestrator().Generate(context.Background(), Request{UserID: "u1", Text: "   \n "})
	s.Require().ErrorIs(err, ErrEmptyDictation)

	profile, err := s.store.GetProfile("u1")
	s.Require().NoError(err)
	s.Zero(profile.ReportsThisMonth, "rejected input must not consume quota")
}

func (s *OrchestratorSuite) TestQuotaExhausted() {
	s.backend.script = []model.StreamEvent{doneEvent(1, 1, "m")}
	orchestrator := s.orchestrator()

	for i := 0; i < 10; i++ {
		events, err := orchestrator.Generate(context.Background(), s.request())
		s.Require().NoError(err)
		for range events {
		}
	}

	_, err := orchestrator.Generate(context.Background(), s.request())
	s.Require().ErrorIs(err, store.ErrQuotaExceeded)
}

func (s *OrchestratorSuite) TestBackendErrorEvent() {
	s.backend.script = []model.StreamEvent{
		{Kind: model.StreamEventDelta, Text: "par"},
		{Kind: model.StreamEventError, Err: errors.New("overloaded")},
	}

	events, err := s.orchestrator().Generate(context.Background(), s.request())
	s.Require().NoError(err)

	collected := make([]Event, 0)
	for event := range events {
		collected = append(collected, event)
	}
	s.Require().Len(collected, 2)
	s.Equal(EventTypeError, collected[1].Type)
	s.Equal("overloaded", collected[1].Message)

	records, err := s.store.GenerationsForUser("u1")
	s.Require().NoError(err)
	s.Require().Len(records, 1)
	s.False(records[0].Success)
	s.Equal("overloaded", records[0].ErrorMessage)
}

func (s *OrchestratorSuite) TestStreamWithoutTerminalEventSynthesizesError() {
	s.backend.script = []model.StreamEvent{
		{Kind: model.StreamEventDelta, Text: "x"},
	}

	events, err := s.orchestrator().Generate(context.Background(), s.request())
	s.Require().NoError(err)

	var last Event
	for event := range events {
		last = event
	}
	s.Equal(EventTypeError, last.Type)
}

func (s *OrchestratorSuite) TestSuccessAuditRecord() {
	s.backend.script = []model.StreamEvent{
		{Kind: model.StreamEventDelta, Text: "x"},
		doneEvent(200, 80, "claude-sonnet-4-5-20250929"),
	}

	req := s.request()
	req.Comparative = true
	events, err := s.orchestrator().Generate(context.Background(), req)
	s.Require().NoError(err)
	for range events {
	}

	records, err := s.store.GenerationsForUser("u1")
	s.Require().NoError(err)
	s.Require().Len(records, 1)

	record := records[0]
	s.True(record.Success)
	s.Equal(store.HashInputText(req.Text), record.InputTextHash)
	s.Equal(len(req.Text), record.InputTextLength)
	s.EqualValues(200, record.InputTokens)
	s.EqualValues(80, record.OutputTokens)
	s.Equal(report.ModeComparative, record.Mode)
	s.Equal("pt-BR", record.Locale)
	s.Positive(record.CostBRL)
}

func (s *OrchestratorSuite) TestCancellationEmitsNoMeta() {
	s.backend.block = make(chan struct{})
	s.backend.script = []model.StreamEvent{
		{Kind: model.StreamEventDelta, Text: "x"},
		doneEvent(1, 1, "m"),
	}

	ctx, cancel := context.WithCancel(context.Background())
	events, err := s.orchestrator().Generate(ctx, s.request())
	s.Require().NoError(err)

	s.backend.block <- struct{}{}
	first := <-events
	s.Equal(EventTypeDelta, first.Type)
	cancel()

	sawMeta := false
	for event := range events {
		if event.Type == EventTypeMeta {
			sawMeta = true
		}
	}
	s.False(sawMeta, "an aborted stream must not carry generation metadata")

	records, err := s.store.GenerationsForUser("u1")
	s.Require().NoError(err)
	for _, record := range records {
		s.False(record.Success)
	}
}

func (s *OrchestratorSuite) TestGenerateReport() {
	s.backend.script = []model.StreamEvent{
		{Kind: model.StreamEventDelta, Text: `{"laudo":"LAUDO COMPLETO",`},
		{Kind: model.StreamEventDelta, Text: `"sugestoes":["descrever contornos"],"erro":null}`},
		doneEvent(10, 5, "m"),
	}

	result, err := s.orchestrator().GenerateReport(context.Background(), s.request())
	s.Require().NoError(err)
	s.Require().NotNil(result.Report)
	s.Equal("LAUDO COMPLETO", *result.Report)
	s.Equal([]string{"descrever contornos"}, result.Suggestions)
	s.Nil(result.Error)
}

func (s *OrchestratorSuite) TestGenerateReportBackendError() {
	s.backend.script = []model.StreamEvent{
		{Kind: model.StreamEventError, Err: errors.New("timeout")},
	}

	result, err := s.orchestrator().GenerateReport(context.Background(), s.request())
	s.Require().NoError(err)
	s.Nil(result.Report)
	s.Require().NotNil(result.Error)
	s.Equal("timeout", *result.Error)
}

func TestEventWireShapes(t *testing.T) {
	delta, err := json.Marshal(Event{Type: EventTypeDelta, Text: "x"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"delta","text":"x"}`, string(delta))

	done, err := json.Marshal(Event{
		Type:  EventTypeDone,
		Usage: report.TokenUsage{InputTokens: 1, OutputTokens: 2, TotalTokens: 3},
		Model: "m",
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"done","tokenUsage":{"inputTokens":1,"outputTokens":2,"totalTokens":3},"model":"m"}`, string(done))

	failure, err := json.Marshal(Event{Type: EventTypeError, Message: "boom"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"error","message":"boom"}`, string(failure))

	meta, err := json.Marshal(Event{Type: EventTypeMeta, DurationMs: 1200, CostBRL: 0.5, CostUSD: 0.09})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"generation_meta","generationDurationMs":1200,"costBrl":0.5,"costUsd":0.09}`, string(meta))
}

func TestRequestMode(t *testing.T) {
	assert.Equal(t, report.ModeElective, Request{}.Mode())
	assert.Equal(t, report.ModeEmergency, Request{Emergency: true}.Mode())
	assert.Equal(t, report.ModeComparative, Request{Comparative: true}.Mode())
	assert.Equal(t, report.ModeComparative, Request{Emergency: true, Comparative: true}.Mode())
}

func TestBackendStartFailureRecordsAttempt(t *testing.T) {
	st, err := store.New()
	require.NoError(t, err)
	backend := &stubBackend{err: errors.New("connect: connection refused")}
	orchestrator := NewOrchestrator(st, grounding.NewFormatter(st), backend)

	_, err = orchestrator.Generate(context.Background(), Request{UserID: "u1", Text: "texto"})
	require.Error(t, err)

	records, err := st.GenerationsForUser("u1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.False(t, records[0].Success)
	assert.GreaterOrEqual(t, records[0].DurationMs, int64(0))
}
