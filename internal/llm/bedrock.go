package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

// BedrockProvider implements Provider on top of the AWS Bedrock Converse and
// ConverseStream APIs, grounded on the same message/tool encoding shape used
// by production Bedrock adapters: messages and system prompt are encoded
// separately, tool schemas become a ToolConfiguration, and streaming events
// arrive as a typed union that gets demultiplexed per content-block index.
type BedrockProvider struct {
	client *bedrockruntime.Client
	model  string
	region string
}

// NewBedrockProvider resolves AWS credentials via the standard SDK chain
// (environment, shared config, container/instance profile) and returns a
// Provider backed by the given model ID (an inference profile ARN or a
// foundation model ID such as "anthropic.claude-sonnet-4-5-20250929-v1:0").
func NewBedrockProvider(ctx context.Context, region, model, accessKeyID, secretAccessKey, sessionToken string) (*BedrockProvider, error) {
	var optFns []func(*config.LoadOptions) error
	if region != "" {
		optFns = append(optFns, config.WithRegion(region))
	}
	if accessKeyID != "" && secretAccessKey != "" {
		optFns = append(optFns, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, sessionToken),
		))
	}
	cfg, err := config.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("bedrock: loading AWS config: %w", err)
	}
	return &BedrockProvider{
		client: bedrockruntime.NewFromConfig(cfg),
		model:  model,
		region: cfg.Region,
	}, nil
}

func (p *BedrockProvider) Name() string {
	return fmt.Sprintf("Bedrock (%s, %s)", p.model, p.region)
}

func (p *BedrockProvider) Credential() string { return "aws-sdk-default-chain" }

func (p *BedrockProvider) Capabilities() Capabilities {
	return Capabilities{ToolCalls: true, SupportsToolChoice: true}
}

func (p *BedrockProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	return newEventStream(ctx, func(ctx context.Context, events chan<- Event) error {
		messages, system, err := encodeBedrockMessages(req.Messages)
		if err != nil {
			return err
		}
		modelID := chooseModel(req.Model, p.model)

		input := &bedrockruntime.ConverseStreamInput{
			ModelId:  aws.String(modelID),
			Messages: messages,
			System:   system,
		}
		if len(req.Tools) > 0 {
			input.ToolConfig = buildBedrockToolConfig(req.Tools, req.ToolChoice)
		}
		var inferCfg brtypes.InferenceConfiguration
		hasInfer := false
		if req.MaxOutputTokens > 0 {
			inferCfg.MaxTokens = aws.Int32(int32(req.MaxOutputTokens))
			hasInfer = true
		}
		if req.Temperature > 0 {
			inferCfg.Temperature = aws.Float32(req.Temperature)
			hasInfer = true
		}
		if req.TopP > 0 {
			inferCfg.TopP = aws.Float32(req.TopP)
			hasInfer = true
		}
		if hasInfer {
			input.InferenceConfig = &inferCfg
		}

		if req.Debug {
			fmt.Fprintln(os.Stderr, "=== DEBUG: Bedrock ConverseStream Request ===")
			fmt.Fprintf(os.Stderr, "Model: %s\n", modelID)
			fmt.Fprintf(os.Stderr, "Messages: %d, Tools: %d\n", len(messages), len(req.Tools))
			fmt.Fprintln(os.Stderr, "==============================================")
		}

		out, err := p.client.ConverseStream(ctx, input)
		if err != nil {
			return fmt.Errorf("bedrock converse stream: %w", err)
		}
		stream := out.GetStream()
		if stream == nil {
			return fmt.Errorf("bedrock: stream output missing event stream")
		}
		defer stream.Close()

		proc := newBedrockEventProcessor()
		for event := range stream.Events() {
			calls, usage, textErr := proc.handle(event)
			if textErr != nil {
				return textErr
			}
			for _, delta := range proc.drainText() {
				events <- Event{Type: EventTextDelta, Text: delta}
			}
			for _, call := range calls {
				events <- Event{Type: EventToolCall, Tool: &call}
			}
			if usage != nil {
				events <- Event{Type: EventUsage, Use: usage}
			}
		}
		if err := stream.Err(); err != nil {
			return fmt.Errorf("bedrock stream recv: %w", err)
		}
		events <- Event{Type: EventDone}
		return nil
	}), nil
}

// bedrockEventProcessor demultiplexes ConverseStream events into text deltas
// and completed tool calls, mirroring the per-content-index buffering used by
// Bedrock Converse adapters: tool_use argument fragments arrive as partial
// JSON keyed by content block index until the block closes.
type bedrockEventProcessor struct {
	toolBlocks map[int32]*bedrockToolBuffer
	pendText   []string
}

type bedrockToolBuffer struct {
	id        string
	name      string
	fragments strings.Builder
}

func newBedrockEventProcessor() *bedrockEventProcessor {
	return &bedrockEventProcessor{toolBlocks: make(map[int32]*bedrockToolBuffer)}
}

func (p *bedrockEventProcessor) drainText() []string {
	out := p.pendText
	p.pendText = nil
	return out
}

func (p *bedrockEventProcessor) handle(event bedrockruntime.ConverseStreamOutput) ([]ToolCall, *Usage, error) {
	switch ev := event.(type) {
	case *brtypes.ConverseStreamOutputMemberMessageStart:
		p.toolBlocks = make(map[int32]*bedrockToolBuffer)
		return nil, nil, nil

	case *brtypes.ConverseStreamOutputMemberContentBlockStart:
		idx := int32(ev.Value.ContentBlockIndex)
		if toolUse, ok := ev.Value.Start.(*brtypes.ContentBlockStartMemberToolUse); ok {
			tb := &bedrockToolBuffer{}
			if toolUse.Value.ToolUseId != nil {
				tb.id = *toolUse.Value.ToolUseId
			}
			if toolUse.Value.Name != nil {
				tb.name = *toolUse.Value.Name
			}
			p.toolBlocks[idx] = tb
		}
		return nil, nil, nil

	case *brtypes.ConverseStreamOutputMemberContentBlockDelta:
		idx := int32(ev.Value.ContentBlockIndex)
		switch delta := ev.Value.Delta.(type) {
		case *brtypes.ContentBlockDeltaMemberText:
			if delta.Value != "" {
				p.pendText = append(p.pendText, delta.Value)
			}
		case *brtypes.ContentBlockDeltaMemberToolUse:
			if tb := p.toolBlocks[idx]; tb != nil && delta.Value.Input != nil {
				tb.fragments.WriteString(*delta.Value.Input)
			}
		}
		return nil, nil, nil

	case *brtypes.ConverseStreamOutputMemberContentBlockStop:
		idx := int32(ev.Value.ContentBlockIndex)
		tb, ok := p.toolBlocks[idx]
		if !ok || tb.name == "" {
			return nil, nil, nil
		}
		delete(p.toolBlocks, idx)
		args := tb.fragments.String()
		if args == "" {
			args = "{}"
		}
		return []ToolCall{{ID: tb.id, Name: tb.name, Arguments: json.RawMessage(args)}}, nil, nil

	case *brtypes.ConverseStreamOutputMemberMetadata:
		if ev.Value.Usage != nil {
			u := ev.Value.Usage
			usage := &Usage{
				InputTokens:  int(derefInt32(u.InputTokens)),
				OutputTokens: int(derefInt32(u.OutputTokens)),
			}
			if u.CacheReadInputTokens != nil {
				usage.CachedInputTokens = int(*u.CacheReadInputTokens)
			}
			if u.CacheWriteInputTokens != nil {
				usage.CacheWriteTokens = int(*u.CacheWriteInputTokens)
			}
			return nil, usage, nil
		}
		return nil, nil, nil

	case *brtypes.ConverseStreamOutputMemberMessageStop, *brtypes.UnknownUnionMember:
		return nil, nil, nil
	}
	return nil, nil, nil
}

func derefInt32(v *int32) int32 {
	if v == nil {
		return 0
	}
	return *v
}

// encodeBedrockMessages splits a provider-agnostic message list into the
// conversational turns and system blocks Converse expects.
func encodeBedrockMessages(messages []Message) ([]brtypes.Message, []brtypes.SystemContentBlock, error) {
	conversation := make([]brtypes.Message, 0, len(messages))
	var system []brtypes.SystemContentBlock

	for _, m := range messages {
		if m.Role == RoleSystem {
			if text := collectTextParts(m.Parts); text != "" {
				system = append(system, &brtypes.SystemContentBlockMemberText{Value: text})
			}
			continue
		}

		blocks := make([]brtypes.ContentBlock, 0, len(m.Parts))
		for _, part := range m.Parts {
			switch part.Type {
			case PartText:
				if part.Text != "" {
					blocks = append(blocks, &brtypes.ContentBlockMemberText{Value: part.Text})
				}
			case PartToolCall:
				if part.ToolCall == nil {
					continue
				}
				input := document.NewLazyDocument(rawMessageToAny(part.ToolCall.Arguments))
				blocks = append(blocks, &brtypes.ContentBlockMemberToolUse{Value: brtypes.ToolUseBlock{
					ToolUseId: aws.String(part.ToolCall.ID),
					Name:      aws.String(part.ToolCall.Name),
					Input:     input,
				}})
			case PartToolResult:
				if part.ToolResult == nil {
					continue
				}
				tr := brtypes.ToolResultBlock{
					ToolUseId: aws.String(part.ToolResult.ID),
					Content: []brtypes.ToolResultContentBlock{
						&brtypes.ToolResultContentBlockMemberText{Value: toolResultTextContent(part.ToolResult)},
					},
				}
				if part.ToolResult.IsError {
					tr.Status = brtypes.ToolResultStatusError
				}
				blocks = append(blocks, &brtypes.ContentBlockMemberToolResult{Value: tr})
			}
		}
		if len(blocks) == 0 {
			continue
		}

		role := brtypes.ConversationRoleUser
		if m.Role == RoleAssistant {
			role = brtypes.ConversationRoleAssistant
		} else if m.Role == RoleTool {
			role = brtypes.ConversationRoleUser
		}
		conversation = append(conversation, brtypes.Message{Role: role, Content: blocks})
	}

	return conversation, system, nil
}

func rawMessageToAny(raw json.RawMessage) *any {
	var v any
	if len(raw) == 0 {
		v = map[string]any{}
	} else if err := json.Unmarshal(raw, &v); err != nil {
		v = map[string]any{}
	}
	return &v
}

func buildBedrockToolConfig(specs []ToolSpec, choice ToolChoice) *brtypes.ToolConfiguration {
	tools := make([]brtypes.Tool, 0, len(specs))
	for _, spec := range specs {
		schema := any(spec.Schema)
		tools = append(tools, &brtypes.ToolMemberToolSpec{Value: brtypes.ToolSpecification{
			Name:        aws.String(spec.Name),
			Description: aws.String(spec.Description),
			InputSchema: &brtypes.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(&schema)},
		}})
	}
	cfg := &brtypes.ToolConfiguration{Tools: tools}
	switch choice.Mode {
	case ToolChoiceRequired:
		cfg.ToolChoice = &brtypes.ToolChoiceMemberAny{Value: brtypes.AnyToolChoice{}}
	case ToolChoiceName:
		cfg.ToolChoice = &brtypes.ToolChoiceMemberTool{Value: brtypes.SpecificToolChoice{Name: aws.String(choice.Name)}}
	}
	return cfg
}
