package gateway

import (
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/taskweave/taskweave/llm"
	"github.com/taskweave/taskweave/store"
)

// buildConverseInput assembles a Bedrock ConverseInput from a Request,
// grounded directly on goadesign-goa-ai's bedrock client buildConverseInput:
// messages and tool config are built from typed unions rather than raw JSON,
// and any free-form tool input/output goes through document.NewLazyDocument.
func buildConverseInput(req Request) *bedrockruntime.ConverseInput {
	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(req.ModelARN),
		Messages: encodeMessages(req.Messages),
	}
	if req.System != "" {
		input.System = []brtypes.SystemContentBlock{
			&brtypes.SystemContentBlockMemberText{Value: req.System},
		}
	}
	if len(req.Tools) > 0 {
		input.ToolConfig = encodeToolConfig(req.Tools)
	}
	return input
}

func encodeMessages(msgs []store.Message) []brtypes.Message {
	out := make([]brtypes.Message, 0, len(msgs))
	for _, m := range msgs {
		role := brtypes.ConversationRoleUser
		if m.Role == store.RoleAssistant {
			role = brtypes.ConversationRoleAssistant
		}
		out = append(out, brtypes.Message{
			Role:    role,
			Content: encodeContentBlocks(m.Content),
		})
	}
	return out
}

func encodeContentBlocks(blocks []store.ContentBlock) []brtypes.ContentBlock {
	out := make([]brtypes.ContentBlock, 0, len(blocks))
	for _, b := range blocks {
		switch {
		case b.ToolUse != nil:
			out = append(out, &brtypes.ContentBlockMemberToolUse{
				Value: brtypes.ToolUseBlock{
					ToolUseId: aws.String(b.ToolUse.ToolUseID),
					Name:      aws.String(b.ToolUse.Name),
					Input:     document.NewLazyDocument(b.ToolUse.Input),
				},
			})
		case b.ToolResult != nil:
			out = append(out, &brtypes.ContentBlockMemberToolResult{
				Value: encodeToolResult(*b.ToolResult),
			})
		default:
			out = append(out, &brtypes.ContentBlockMemberText{Value: b.Text})
		}
	}
	return out
}

func encodeToolResult(tr store.ToolResult) brtypes.ToolResultBlock {
	content := make([]brtypes.ToolResultContentBlock, 0, len(tr.Content))
	for _, c := range tr.Content {
		content = append(content, &brtypes.ToolResultContentBlockMemberText{Value: c.Text})
	}
	block := brtypes.ToolResultBlock{
		ToolUseId: aws.String(tr.ToolUseID),
		Content:   content,
	}
	if tr.Status == "error" {
		block.Status = brtypes.ToolResultStatusError
	}
	return block
}

func encodeToolConfig(schemas []llm.ToolSchema) *brtypes.ToolConfiguration {
	specs := make([]brtypes.Tool, 0, len(schemas))
	for _, s := range schemas {
		specs = append(specs, &brtypes.ToolMemberToolSpec{
			Value: brtypes.ToolSpecification{
				Name:        aws.String(s.Name),
				Description: aws.String(s.Description),
				InputSchema: &brtypes.ToolInputSchemaMemberJson{
					Value: document.NewLazyDocument(s.InputSchema),
				},
			},
		})
	}
	return &brtypes.ToolConfiguration{Tools: specs}
}

// translateResponse converts a ConverseOutput back into the store's message
// shape, the inverse of buildConverseInput. Tool-use inputs are decoded
// eagerly via document.UnmarshalSmithyDocument so the rest of the engine
// never touches the Bedrock document.Interface type.
func translateResponse(out *bedrockruntime.ConverseOutput) (*Response, error) {
	msgOutput, ok := out.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok || msgOutput == nil {
		return &Response{StopReason: string(out.StopReason)}, nil
	}

	blocks := make([]store.ContentBlock, 0, len(msgOutput.Value.Content))
	for _, cb := range msgOutput.Value.Content {
		switch v := cb.(type) {
		case *brtypes.ContentBlockMemberText:
			blocks = append(blocks, store.ContentBlock{Text: v.Value})
		case *brtypes.ContentBlockMemberToolUse:
			input := map[string]any{}
			if v.Value.Input != nil {
				if err := v.Value.Input.UnmarshalSmithyDocument(&input); err != nil {
					return nil, err
				}
			}
			blocks = append(blocks, store.ContentBlock{
				ToolUse: &store.ToolUse{
					ToolUseID: aws.ToString(v.Value.ToolUseId),
					Name:      aws.ToString(v.Value.Name),
					Input:     input,
				},
			})
		}
	}

	msg := store.Message{
		Role:    store.RoleAssistant,
		Content: blocks,
	}

	resp := &Response{
		Message:    msg,
		StopReason: string(out.StopReason),
	}
	if out.Usage != nil {
		resp.Usage = store.Usage{
			InputTokens:  int(aws.ToInt32(out.Usage.InputTokens)),
			OutputTokens: int(aws.ToInt32(out.Usage.OutputTokens)),
		}
	}
	return resp, nil
}
