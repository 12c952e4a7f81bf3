// Package openai adapts the OpenAI chat completions API to the streaming
// backend contract.
package openai

import (
	"context"
	"errors"
	"os"
	"strings"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"

	"github.com/eduardocaminha/radreport/pkg/model"
	"github.com/eduardocaminha/radreport/pkg/report"
	"github.com/eduardocaminha/radreport/pkg/utils"
)

const (
	defaultModelName = "gpt-4o"
	envOpenAIKey     = "OPENAI_KEY"
	envOpenAIModel   = "OPENAI_MODEL"
)

type streamBackend struct {
	client openai.Client
	cfg    model.GeneratorConfig
}

func NewStreamBackend(opts ...model.GeneratorOption) (model.StreamBackend, error) {
	cfg := model.ResolveGeneratorOpts(opts...)

	apiKey := strings.TrimSpace(cfg.AuthToken)
	if apiKey == "" {
		apiKey = strings.TrimSpace(os.Getenv(envOpenAIKey))
	}
	if apiKey == "" {
		return nil, utils.WrapIfNotNil(errors.New("auth token is required (set WithAuthToken or OPENAI_KEY)"))
	}

	clientOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if strings.TrimSpace(cfg.URL) != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(strings.TrimSpace(cfg.URL)))
	}

	return &streamBackend{
		client: openai.NewClient(clientOpts...),
		cfg:    cfg,
	}, nil
}

func (b *streamBackend) StreamGenerate(ctx context.Context, system string, userText string) (<-chan model.StreamEvent, error) {
	if strings.TrimSpace(userText) == "" {
		return nil, utils.WrapIfNotNil(errors.New("user text is required"))
	}

	modelName := resolveModelName(b.cfg)
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(modelName),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(strings.TrimSpace(system)),
			openai.UserMessage(userText),
		},
		StreamOptions: openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: param.NewOpt(true),
		},
	}
	if b.cfg.Temperature != nil {
		params.Temperature = param.NewOpt(*b.cfg.Temperature)
	}
	if b.cfg.MaxTokens != nil {
		params.MaxCompletionTokens = param.NewOpt(int64(*b.cfg.MaxTokens))
	}

	stream := b.client.Chat.Completions.NewStreaming(ctx, params)

	events := make(chan model.StreamEvent)
	go func() {
		defer close(events)
		defer stream.Close()

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

		for stream.Next() {
			chunk := stream.Current()
			if chunk.Model != "" {
				resolvedModel = chunk.Model
			}
			if chunk.Usage.TotalTokens > 0 {
				usage.InputTokens = chunk.Usage.PromptTokens
				usage.OutputTokens = chunk.Usage.CompletionTokens
				usage.TotalTokens = chunk.Usage.TotalTokens
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			delta := chunk.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			if !send(model.StreamEvent{Kind: model.StreamEventDelta, Text: delta}) {
				return
			}
		}

		if err := stream.Err(); err != nil {
			send(model.StreamEvent{Kind: model.StreamEventError, Err: utils.WrapIfNotNil(err)})
			return
		}

		send(model.StreamEvent{
			Kind:  model.StreamEventDone,
			Usage: usage,
			Model: resolvedModel,
		})
	}()
	return events, nil
}

func resolveModelName(cfg model.GeneratorConfig) string {
	if cfg.Model != nil {
		name := strings.TrimSpace(*cfg.Model)
		if name != "" {
			return name
		}
	}

	fromEnv := strings.TrimSpace(os.Getenv(envOpenAIModel))
	if fromEnv != "" {
		return fromEnv
	}
	return defaultModelName
}
