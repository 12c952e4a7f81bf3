// Package gemini adapts the Gemini API to the streaming backend contract.
package gemini

import (
	"context"
	"errors"
	"os"
	"strings"

	"google.golang.org/genai"

	"github.com/eduardocaminha/radreport/pkg/model"
	"github.com/eduardocaminha/radreport/pkg/report"
	"github.com/eduardocaminha/radreport/pkg/utils"
)

const (
	defaultModelName = "gemini-2.5-flash"
	envGeminiKey     = "GEMINI_KEY"
)

type streamBackend struct {
	cfg model.GeneratorConfig
}

func NewStreamBackend(opts ...model.GeneratorOption) (model.StreamBackend, error) {
	return &streamBackend{cfg: model.ResolveGeneratorOpts(opts...)}, nil
}

func newAPIClient(ctx context.Context, cfg model.GeneratorConfig) (*genai.Client, error) {
	clientCfg := &genai.ClientConfig{
		Backend: genai.BackendGeminiAPI,
	}

	token := strings.TrimSpace(cfg.AuthToken)
	if token == "" {
		token = strings.TrimSpace(os.Getenv(envGeminiKey))
	}
	if token != "" {
		clientCfg.APIKey = token
	}

	baseURL := strings.TrimSpace(cfg.URL)
	if baseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{
			BaseURL: baseURL,
		}
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, utils.WrapIfNotNil(err)
	}
	return client, nil
}

func (b *streamBackend) StreamGenerate(ctx context.Context, system string, userText string) (<-chan model.StreamEvent, error) {
	if strings.TrimSpace(userText) == "" {
		return nil, utils.WrapIfNotNil(errors.New("user text is required"))
	}

	client, err := newAPIClient(ctx, b.cfg)
	if err != nil {
		return nil, utils.WrapIfNotNil(err)
	}

	modelName := resolveModelName(b.cfg)
	config := &genai.GenerateContentConfig{}
	if strings.TrimSpace(system) != "" {
		config.SystemInstruction = genai.NewContentFromText(strings.TrimSpace(system), genai.RoleUser)
	}
	if b.cfg.Temperature != nil {
		config.Temperature = genai.Ptr(float32(*b.cfg.Temperature))
	}
	if b.cfg.MaxTokens != nil {
		config.MaxOutputTokens = int32(*b.cfg.MaxTokens)
	}

	events := make(chan model.StreamEvent)
	go func() {
		defer close(events)

		usage := report.TokenUsage{}

		send := func(event model.StreamEvent) bool {
			select {
			case events <- event:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for response, iterErr := range client.Models.GenerateContentStream(ctx, modelName, genai.Text(userText), config) {
			if iterErr != nil {
				send(model.StreamEvent{Kind: model.StreamEventError, Err: utils.WrapIfNotNil(iterErr)})
				return
			}
			if response == nil {
				continue
			}
			if response.UsageMetadata != nil {
				usage.InputTokens = int64(response.UsageMetadata.PromptTokenCount)
				usage.OutputTokens = int64(response.UsageMetadata.CandidatesTokenCount)
				usage.TotalTokens = int64(response.UsageMetadata.TotalTokenCount)
			}
			text := response.Text()
			if text == "" {
				continue
			}
			if !send(model.StreamEvent{Kind: model.StreamEventDelta, Text: text}) {
				return
			}
		}

		send(model.StreamEvent{
			Kind:  model.StreamEventDone,
			Usage: usage,
			Model: modelName,
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
	return defaultModelName
}
