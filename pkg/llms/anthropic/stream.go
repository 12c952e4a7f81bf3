package anthropic

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"github.com/eduardocaminha/radreport/pkg/logging"
	"github.com/eduardocaminha/radreport/pkg/model"
	"github.com/eduardocaminha/radreport/pkg/report"
	"github.com/eduardocaminha/radreport/pkg/utils"
)

type streamBackend struct {
	client *apiClient
	cfg    model.GeneratorConfig
}

// NewStreamBackend returns a backend that streams Anthropic message events.
func NewStreamBackend(opts ...model.GeneratorOption) (model.StreamBackend, error) {
	cfg := model.ResolveGeneratorOpts(opts...)
	client, err := newAPIClient(cfg)
	if err != nil {
		return nil, utils.WrapIfNotNil(err)
	}

	return &streamBackend{client: client, cfg: cfg}, nil
}

func (b *streamBackend) StreamGenerate(ctx context.Context, system string, userText string) (<-chan model.StreamEvent, error) {
	if strings.TrimSpace(userText) == "" {
		return nil, utils.WrapIfNotNil(errors.New("user text is required"))
	}

	modelName := resolveModelName(b.cfg)
	request := anthropicMessageRequest{
		Model:     modelName,
		MaxTokens: resolveMaxTokens(b.cfg),
		System:    strings.TrimSpace(system),
		Messages: []anthropicMessage{
			{Role: "user", Content: userText},
		},
	}
	if b.cfg.Temperature != nil {
		request.Temperature = b.cfg.Temperature
	}

	body, err := b.client.openMessageStream(ctx, request)
	if err != nil {
		return nil, utils.WrapIfNotNil(err)
	}

	events := make(chan model.StreamEvent)
	go pumpServerSentEvents(ctx, body, modelName, events)
	return events, nil
}

// Wire shapes of the message stream. Only the fields the pipeline consumes
// are declared; everything else passes through inside the raw delta payload.
type sseEnvelope struct {
	Type    string `json:"type"`
	Message *struct {
		Model string          `json:"model"`
		Usage *anthropicUsage `json:"usage"`
	} `json:"message"`
	Delta *struct {
		Type       string `json:"type"`
		Text       string `json:"text"`
		StopReason string `json:"stop_reason"`
	} `json:"delta"`
	Usage *anthropicUsage `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// pumpServerSentEvents reads the SSE body and translates it to stream
// events. Exactly one terminal event (done or error) is sent, always last,
// then the channel closes.
func pumpServerSentEvents(ctx context.Context, body io.ReadCloser, modelName string, events chan<- model.StreamEvent) {
	log := logging.NewLogger(ctx)
	defer close(events)
	defer body.Close()

	usage := report.TokenUsage{}
	resolvedModel := modelName

	send := func(event model.StreamEvent) bool {
		select {
		case events <- event:
			return true
		case <-ctx.Done():
			return false
		}
	}

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}

		envelope := sseEnvelope{}
		if err := json.Unmarshal([]byte(payload), &envelope); err != nil {
			log.Warnf("anthropic stream: skipping malformed event: %v", err)
			continue
		}

		switch envelope.Type {
		case "message_start":
			if envelope.Message != nil {
				if strings.TrimSpace(envelope.Message.Model) != "" {
					resolvedModel = envelope.Message.Model
				}
				if envelope.Message.Usage != nil {
					usage.InputTokens = envelope.Message.Usage.InputTokens
				}
			}
		case "content_block_delta":
			if envelope.Delta != nil && envelope.Delta.Type == "text_delta" && envelope.Delta.Text != "" {
				if !send(model.StreamEvent{Kind: model.StreamEventDelta, Text: envelope.Delta.Text}) {
					return
				}
			}
		case "message_delta":
			if envelope.Usage != nil {
				usage.OutputTokens = envelope.Usage.OutputTokens
			}
		case "message_stop":
			usage.TotalTokens = usage.InputTokens + usage.OutputTokens
			send(model.StreamEvent{
				Kind:  model.StreamEventDone,
				Usage: usage,
				Model: resolvedModel,
			})
			return
		case "error":
			message := "unknown anthropic error"
			if envelope.Error != nil && strings.TrimSpace(envelope.Error.Message) != "" {
				message = envelope.Error.Message
			}
			send(model.StreamEvent{
				Kind: model.StreamEventError,
				Err:  errors.New(message),
			})
			return
		case "ping", "content_block_start", "content_block_stop":
			// Bookkeeping events carry nothing the pipeline needs.
		}
	}

	err := scanner.Err()
	if err == nil {
		err = errors.New("anthropic stream ended without a terminal event")
	}
	send(model.StreamEvent{Kind: model.StreamEventError, Err: utils.WrapIfNotNil(err)})
}
