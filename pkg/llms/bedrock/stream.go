package bedrock

import (
	"context"
	"errors"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	bedrocktypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/eduardocaminha/radreport/pkg/logging"
	"github.com/eduardocaminha/radreport/pkg/model"
	"github.com/eduardocaminha/radreport/pkg/report"
	"github.com/eduardocaminha/radreport/pkg/utils"
)

type streamBackend struct {
	cfg model.GeneratorConfig
}

// NewStreamBackend returns a backend that streams through the Bedrock
// Converse API.
func NewStreamBackend(opts ...model.GeneratorOption) (model.StreamBackend, error) {
	return &streamBackend{cfg: model.ResolveGeneratorOpts(opts...)}, nil
}

func (b *streamBackend) StreamGenerate(ctx context.Context, system string, userText string) (<-chan model.StreamEvent, error) {
	if strings.TrimSpace(userText) == "" {
		return nil, utils.WrapIfNotNil(errors.New("user text is required"))
	}

	client, err := newClient(ctx, b.cfg)
	if err != nil {
		return nil, utils.WrapIfNotNil(err)
	}

	modelName := resolveModelName(b.cfg)
	input := &bedrockruntime.ConverseStreamInput{
		ModelId: aws.String(modelName),
		Messages: []bedrocktypes.Message{
			{
				Role: bedrocktypes.ConversationRoleUser,
				Content: []bedrocktypes.ContentBlock{
					&bedrocktypes.ContentBlockMemberText{Value: userText},
				},
			},
		},
	}
	if strings.TrimSpace(system) != "" {
		input.System = []bedrocktypes.SystemContentBlock{
			&bedrocktypes.SystemContentBlockMemberText{Value: strings.TrimSpace(system)},
		}
	}
	if inference := buildInferenceConfig(b.cfg); inference != nil {
		input.InferenceConfig = inference
	}

	output, err := client.ConverseStream(ctx, input)
	if err != nil {
		return nil, utils.WrapIfNotNil(err)
	}

	events := make(chan model.StreamEvent)
	go pumpConverseStream(ctx, output, modelName, events)
	return events, nil
}

func buildInferenceConfig(cfg model.GeneratorConfig) *bedrocktypes.InferenceConfiguration {
	if cfg.MaxTokens == nil && cfg.Temperature == nil {
		return nil
	}

	inference := &bedrocktypes.InferenceConfiguration{}
	if cfg.MaxTokens != nil {
		inference.MaxTokens = aws.Int32(int32(*cfg.MaxTokens))
	}
	if cfg.Temperature != nil {
		inference.Temperature = aws.Float32(float32(*cfg.Temperature))
	}
	return inference
}

// pumpConverseStream translates Converse stream members into stream events.
// Usage arrives in the trailing metadata member, after message stop, so done
// is emitted when the event channel drains cleanly.
func pumpConverseStream(ctx context.Context, output *bedrockruntime.ConverseStreamOutput, modelName string, events chan<- model.StreamEvent) {
	log := logging.NewLogger(ctx)
	defer close(events)

	stream := output.GetStream()
	defer stream.Close()

	usage := report.TokenUsage{}

	send := func(event model.StreamEvent) bool {
		select {
		case events <- event:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for streamEvent := range stream.Events() {
		switch member := streamEvent.(type) {
		case *bedrocktypes.ConverseStreamOutputMemberContentBlockDelta:
			textDelta, ok := member.Value.Delta.(*bedrocktypes.ContentBlockDeltaMemberText)
			if !ok || textDelta.Value == "" {
				continue
			}
			if !send(model.StreamEvent{Kind: model.StreamEventDelta, Text: textDelta.Value}) {
				return
			}
		case *bedrocktypes.ConverseStreamOutputMemberMetadata:
			if member.Value.Usage != nil {
				usage.InputTokens = int64(aws.ToInt32(member.Value.Usage.InputTokens))
				usage.OutputTokens = int64(aws.ToInt32(member.Value.Usage.OutputTokens))
				usage.TotalTokens = int64(aws.ToInt32(member.Value.Usage.TotalTokens))
			}
		case *bedrocktypes.ConverseStreamOutputMemberMessageStop:
			// Metadata follows; keep draining.
		default:
			log.Debugf("bedrock stream: ignoring member %T", member)
		}
	}

	if err := stream.Err(); err != nil {
		send(model.StreamEvent{Kind: model.StreamEventError, Err: utils.WrapIfNotNil(err)})
		return
	}

	if usage.TotalTokens == 0 {
		usage.TotalTokens = usage.InputTokens + usage.OutputTokens
	}
	send(model.StreamEvent{
		Kind:  model.StreamEventDone,
		Usage: usage,
		Model: modelName,
	})
}
