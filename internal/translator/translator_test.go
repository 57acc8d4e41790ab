package translator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccproxy/ccproxy/internal/block"
	"github.com/ccproxy/ccproxy/internal/types"
)

func TestToOpenAIRequestFlattensPlainTextMessage(t *testing.T) {
	req := types.ClaudeRequest{
		Model:     "claude-3-5-haiku-20241022",
		MaxTokens: 64,
		Messages: []types.ClaudeMessage{
			{Role: "user", Content: types.MessageContent{Text: "Say hi"}},
		},
	}
	out, err := ToOpenAIRequest(req, "gpt-4o-mini", Limits{})
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", out.Model)
	require.Len(t, out.Messages, 1)
	assert.Equal(t, "user", out.Messages[0].Role)
	assert.Equal(t, "Say hi", out.Messages[0].Content)
}

func TestToOpenAIRequestClampsMaxTokens(t *testing.T) {
	req := types.ClaudeRequest{MaxTokens: 500000}
	out, err := ToOpenAIRequest(req, "m", Limits{MaxTokens: 8192, MinTokens: 1})
	require.NoError(t, err)
	assert.Equal(t, 8192, out.MaxTokens)

	req2 := types.ClaudeRequest{MaxTokens: 0}
	out2, err := ToOpenAIRequest(req2, "m", Limits{MaxTokens: 8192, MinTokens: 16})
	require.NoError(t, err)
	assert.Equal(t, 16, out2.MaxTokens)
}

func TestToOpenAIRequestJoinsSystemList(t *testing.T) {
	req := types.ClaudeRequest{
		System: types.SystemField{IsList: true, Blocks: []types.SystemBlock{
			{Type: "text", Text: "first"},
			{Type: "text", Text: "second"},
		}},
	}
	out, err := ToOpenAIRequest(req, "m", Limits{})
	require.NoError(t, err)
	require.Len(t, out.Messages, 1)
	assert.Equal(t, "system", out.Messages[0].Role)
	assert.Equal(t, "first\nsecond", out.Messages[0].Content)
}

func TestToOpenAIRequestAssistantToolUseBecomesToolCalls(t *testing.T) {
	req := types.ClaudeRequest{
		Messages: []types.ClaudeMessage{
			{Role: "assistant", Content: types.MessageContent{IsList: true, Blocks: block.List{
				block.ToolUse{ID: "toolu_1", Name: "get_weather", Input: map[string]interface{}{"city": "Paris"}},
			}}},
		},
	}
	out, err := ToOpenAIRequest(req, "m", Limits{})
	require.NoError(t, err)
	require.Len(t, out.Messages, 1)
	require.Len(t, out.Messages[0].ToolCalls, 1)
	assert.Equal(t, "toolu_1", out.Messages[0].ToolCalls[0].ID)
	assert.Equal(t, "get_weather", out.Messages[0].ToolCalls[0].Function.Name)
	assert.JSONEq(t, `{"city":"Paris"}`, out.Messages[0].ToolCalls[0].Function.Arguments)
}

func TestToOpenAIRequestSplitsToolResultIntoToolMessages(t *testing.T) {
	req := types.ClaudeRequest{
		Messages: []types.ClaudeMessage{
			{Role: "user", Content: types.MessageContent{IsList: true, Blocks: block.List{
				block.Text{Text: "here is the result"},
				block.ToolResult{ToolUseID: "toolu_1", Content: "sunny, 20C"},
			}}},
		},
	}
	out, err := ToOpenAIRequest(req, "m", Limits{})
	require.NoError(t, err)
	require.Len(t, out.Messages, 2)
	assert.Equal(t, "user", out.Messages[0].Role)
	assert.Equal(t, "here is the result", out.Messages[0].Content)
	assert.Equal(t, "tool", out.Messages[1].Role)
	assert.Equal(t, "toolu_1", out.Messages[1].ToolCallID)
	assert.Equal(t, "sunny, 20C", out.Messages[1].Content)
}

func TestToOpenAIRequestUserImageBecomesMultiPartContent(t *testing.T) {
	req := types.ClaudeRequest{
		Messages: []types.ClaudeMessage{
			{Role: "user", Content: types.MessageContent{IsList: true, Blocks: block.List{
				block.Text{Text: "what is this?"},
				block.Image{Source: block.ImageSource{Type: "base64", MediaType: "image/png", Data: "Zm9v"}},
			}}},
		},
	}
	out, err := ToOpenAIRequest(req, "m", Limits{})
	require.NoError(t, err)
	require.Len(t, out.Messages, 1)

	parts, ok := out.Messages[0].Content.([]types.OpenAIContentPart)
	require.True(t, ok)
	require.Len(t, parts, 2)
	assert.Equal(t, "text", parts[0].Type)
	assert.Equal(t, "what is this?", parts[0].Text)
	assert.Equal(t, "image_url", parts[1].Type)
	require.NotNil(t, parts[1].ImageURL)
	assert.Equal(t, "data:image/png;base64,Zm9v", parts[1].ImageURL.URL)
}

func TestToOpenAIRequestUserImageURLPreserved(t *testing.T) {
	req := types.ClaudeRequest{
		Messages: []types.ClaudeMessage{
			{Role: "user", Content: types.MessageContent{IsList: true, Blocks: block.List{
				block.Image{Source: block.ImageSource{Type: "url", URL: "https://example.com/cat.png"}},
			}}},
		},
	}
	out, err := ToOpenAIRequest(req, "m", Limits{})
	require.NoError(t, err)
	parts, ok := out.Messages[0].Content.([]types.OpenAIContentPart)
	require.True(t, ok)
	require.Len(t, parts, 1)
	assert.Equal(t, "https://example.com/cat.png", parts[0].ImageURL.URL)
}

func TestToOpenAIRequestToolChoiceMapping(t *testing.T) {
	cases := map[string]interface{}{
		"auto": "auto",
		"any":  "required",
		"none": "none",
	}
	for claudeType, want := range cases {
		req := types.ClaudeRequest{ToolChoice: &types.ToolChoice{Type: claudeType}}
		out, err := ToOpenAIRequest(req, "m", Limits{})
		require.NoError(t, err)
		assert.Equal(t, want, out.ToolChoice)
	}

	req := types.ClaudeRequest{ToolChoice: &types.ToolChoice{Type: "tool", Name: "get_weather"}}
	out, err := ToOpenAIRequest(req, "m", Limits{})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"type": "function", "function": map[string]string{"name": "get_weather"}}, out.ToolChoice)
}

func TestFromOpenAIResponsePlainText(t *testing.T) {
	stop := "stop"
	resp := types.OpenAIResponse{
		ID: "chatcmpl_1",
		Choices: []types.OpenAIChoice{
			{Message: types.OpenAIMessage{Role: "assistant", Content: "hello there"}, FinishReason: &stop},
		},
		Usage: types.OpenAIUsage{PromptTokens: 5, CompletionTokens: 3},
	}
	out, err := FromOpenAIResponse(resp, "claude-3-5-haiku-20241022")
	require.NoError(t, err)
	assert.Equal(t, "end_turn", out.StopReason)
	require.Len(t, out.Content, 1)
	assert.Equal(t, block.Text{Text: "hello there"}, out.Content[0])
	assert.Equal(t, 5, out.Usage.InputTokens)
	assert.Equal(t, 3, out.Usage.OutputTokens)
}

func TestFromOpenAIResponseToolCallBecomesToolUse(t *testing.T) {
	finish := "tool_calls"
	resp := types.OpenAIResponse{
		Choices: []types.OpenAIChoice{{
			Message: types.OpenAIMessage{
				Role: "assistant",
				ToolCalls: []types.OpenAIToolCall{
					{ID: "call_1", Function: types.OpenAIToolCallFunction{Name: "get_weather", Arguments: `{"city":"Paris"}`}},
				},
			},
			FinishReason: &finish,
		}},
	}
	out, err := FromOpenAIResponse(resp, "m")
	require.NoError(t, err)
	assert.Equal(t, "tool_use", out.StopReason)
	require.Len(t, out.Content, 1)
	tu, ok := out.Content[0].(block.ToolUse)
	require.True(t, ok)
	assert.Equal(t, "call_1", tu.ID)
	assert.Equal(t, "Paris", tu.Input["city"])
}

func TestFromOpenAIResponseEstimatesTokensWhenUsageAbsent(t *testing.T) {
	stop := "stop"
	resp := types.OpenAIResponse{
		Choices: []types.OpenAIChoice{{Message: types.OpenAIMessage{Content: "12345678"}, FinishReason: &stop}},
	}
	out, err := FromOpenAIResponse(resp, "m")
	require.NoError(t, err)
	assert.Equal(t, 2, out.Usage.OutputTokens)
}

func TestFromOpenAIResponseMalformedArgumentsFallsBackToRaw(t *testing.T) {
	finish := "tool_calls"
	resp := types.OpenAIResponse{
		Choices: []types.OpenAIChoice{{
			Message: types.OpenAIMessage{ToolCalls: []types.OpenAIToolCall{
				{ID: "call_1", Function: types.OpenAIToolCallFunction{Name: "f", Arguments: "{not json"}},
			}},
			FinishReason: &finish,
		}},
	}
	out, err := FromOpenAIResponse(resp, "m")
	require.NoError(t, err)
	tu := out.Content[0].(block.ToolUse)
	assert.Equal(t, "{not json", tu.Input["_raw"])
}

func TestEstimateTokensRoundsUp(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("a"))
	assert.Equal(t, 1, EstimateTokens("abcd"))
	assert.Equal(t, 2, EstimateTokens("abcde"))
}
