package model

import (
	"context"

	"github.com/eduardocaminha/radreport/pkg/report"
)

// NewStreamBackendFunc is the factory each llm provider implements to create
// a streaming text-generation backend.
type NewStreamBackendFunc func(opts ...GeneratorOption) (StreamBackend, error)

// StreamBackend issues one generation request with the assembled prompt as
// system instructions and the dictated text as the sole user turn, returning
// a finite, non-restartable sequence of events. The channel is closed after
// the terminal event. Cancelling ctx aborts the underlying request.
type StreamBackend interface {
	StreamGenerate(ctx context.Context, system string, userText string) (<-chan StreamEvent, error)
}

type StreamEventKind string

const (
	StreamEventDelta StreamEventKind = "delta"
	StreamEventDone  StreamEventKind = "done"
	StreamEventError StreamEventKind = "error"
)

// StreamEvent is one unit of backend output. Every stream carries exactly one
// terminal event (done or error), always last.
type StreamEvent struct {
	Kind StreamEventKind

	// Text is the incremental content carried by delta events.
	Text string

	// Usage and Model are populated on the terminal done event.
	Usage report.TokenUsage
	Model string

	// Err is populated on the terminal error event.
	Err error
}

type GeneratorOption interface {
	apply(*GeneratorConfig)
}

type generatorOptionFunc func(*GeneratorConfig)

func (f generatorOptionFunc) apply(cfg *GeneratorConfig) {
	f(cfg)
}

type GeneratorConfig struct {
	URL         string
	AuthToken   string
	Temperature *float64
	MaxTokens   *int
	Model       *string
}

func ResolveGeneratorOpts(opts ...GeneratorOption) GeneratorConfig {
	cfg := GeneratorConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt.apply(&cfg)
		}
	}
	return cfg
}

func WithURL(value string) GeneratorOption {
	return generatorOptionFunc(func(cfg *GeneratorConfig) {
		cfg.URL = value
	})
}

func WithAuthToken(value string) GeneratorOption {
	return generatorOptionFunc(func(cfg *GeneratorConfig) {
		cfg.AuthToken = value
	})
}

func WithTemperature(value float64) GeneratorOption {
	return generatorOptionFunc(func(cfg *GeneratorConfig) {
		cfg.Temperature = &value
	})
}

func WithMaxTokens(value int) GeneratorOption {
	return generatorOptionFunc(func(cfg *GeneratorConfig) {
		cfg.MaxTokens = &value
	})
}

func WithModel(value string) GeneratorOption {
	return generatorOptionFunc(func(cfg *GeneratorConfig) {
		cfg.Model = &value
	})
}
