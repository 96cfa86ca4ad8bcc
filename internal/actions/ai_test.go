package actions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulsecrm/backend/internal/ai"
	"pulsecrm/backend/internal/logging"
	"pulsecrm/backend/pkg/models"
)

// scriptedChat replays canned responses and records requests.
type scriptedChat struct {
	responses []*ai.ChatResponse
	err       error
	requests  []ai.ChatRequest
}

func (c *scriptedChat) Chat(ctx context.Context, apiKey string, req ai.ChatRequest) (*ai.ChatResponse, error) {
	c.requests = append(c.requests, req)
	if c.err != nil {
		return nil, c.err
	}
	resp := c.responses[0]
	if len(c.responses) > 1 {
		c.responses = c.responses[1:]
	}
	return resp, nil
}

type staticContext struct{ text string }

func (s staticContext) Build(ctx context.Context, tenantID, apiKey, query string) string {
	return s.text
}

func aiCreds() *models.TenantCredentials {
	return &models.TenantCredentials{TenantID: "t-1", AIAPIKey: "ai-key"}
}

func TestAITask(t *testing.T) {
	chat := &scriptedChat{responses: []*ai.ChatResponse{
		{Content: "Welcome aboard!", Model: "gpt-4o-mini", TotalTokens: 42},
	}}
	action := NewAITask(chat, nil, logging.NewLoggerWithLevel("error"))

	out, err := action.Execute(context.Background(), Input{
		TenantID:    "t-1",
		Config:      &models.AITaskConfig{Prompt: "Write a welcome email"},
		Credentials: aiCreds(),
	})
	require.NoError(t, err)

	assert.Equal(t, "Welcome aboard!", out["text"])
	assert.Equal(t, 42, out["tokens"])

	require.Len(t, chat.requests, 1)
	msgs := chat.requests[0].Messages
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].Role)
	assert.Equal(t, "Write a welcome email", msgs[1].Content)
}

func TestAITaskInjectsContext(t *testing.T) {
	chat := &scriptedChat{responses: []*ai.ChatResponse{{Content: "ok"}}}
	action := NewAITask(chat, staticContext{text: "Open deals: 3"}, logging.NewLoggerWithLevel("error"))

	_, err := action.Execute(context.Background(), Input{
		TenantID:    "t-1",
		Config:      &models.AITaskConfig{Prompt: "Summarize the pipeline", UseContext: true},
		Credentials: aiCreds(),
	})
	require.NoError(t, err)

	require.Len(t, chat.requests, 1)
	assert.Contains(t, chat.requests[0].Messages[0].Content, "Open deals: 3")
}

func TestAITaskMissingKey(t *testing.T) {
	action := NewAITask(&scriptedChat{}, nil, logging.NewLoggerWithLevel("error"))
	_, err := action.Execute(context.Background(), Input{
		TenantID:    "t-1",
		Config:      &models.AITaskConfig{Prompt: "x"},
		Credentials: &models.TenantCredentials{TenantID: "t-1"},
	})
	require.Error(t, err)
	assert.Equal(t, KindCredentialsMissing, KindOf(err))
}

func TestAITaskGatewayErrors(t *testing.T) {
	action := NewAITask(&scriptedChat{err: &ai.APIError{Status: 429, Body: "rate limited"}}, nil,
		logging.NewLoggerWithLevel("error"))
	_, err := action.Execute(context.Background(), Input{
		TenantID:    "t-1",
		Config:      &models.AITaskConfig{Prompt: "x"},
		Credentials: aiCreds(),
	})
	require.Error(t, err)
	assert.Equal(t, KindActionExecutionFailed, KindOf(err))
	assert.True(t, Retryable(err))

	action = NewAITask(&scriptedChat{err: &ai.APIError{Status: 401, Body: "bad key"}}, nil,
		logging.NewLoggerWithLevel("error"))
	_, err = action.Execute(context.Background(), Input{
		TenantID:    "t-1",
		Config:      &models.AITaskConfig{Prompt: "x"},
		Credentials: aiCreds(),
	})
	require.Error(t, err)
	assert.False(t, Retryable(err), "a rejected key cannot succeed on retry")
}

func TestAIAgentToolLoop(t *testing.T) {
	crm := newFakeCRM()
	chat := &scriptedChat{responses: []*ai.ChatResponse{
		{ToolCalls: []ai.ToolCall{{ID: "c1", Name: "get_crm_summary", Arguments: "{}"}}},
		{ToolCalls: []ai.ToolCall{{ID: "c2", Name: "create_task", Arguments: `{"title": "Clear overdue queue"}`}}},
		{Content: "Created a follow-up task for the overdue queue."},
	}}
	action := NewAIAgent(chat, crm, logging.NewLoggerWithLevel("error"))

	out, err := action.Execute(context.Background(), Input{
		TenantID:    "t-1",
		Config:      &models.AIAgentConfig{Goal: "Tidy the pipeline"},
		Credentials: aiCreds(),
	})
	require.NoError(t, err)

	assert.Equal(t, "Created a follow-up task for the overdue queue.", out["text"])
	assert.Equal(t, 2, out["tool_calls"])
	require.Len(t, crm.tasks, 1)
	assert.Equal(t, "Clear overdue queue", crm.tasks[0])

	// The final request replays the tool exchange back to the model.
	last := chat.requests[len(chat.requests)-1]
	var toolMsgs int
	for _, m := range last.Messages {
		if m.Role == "tool" {
			toolMsgs++
		}
	}
	assert.Equal(t, 2, toolMsgs)
}

func TestAIAgentStopsAtCallCap(t *testing.T) {
	crm := newFakeCRM()
	// The model keeps asking for tools; the loop must stop asking for
	// them once the cap is reached and take the final text.
	chat := &scriptedChat{responses: []*ai.ChatResponse{
		{ToolCalls: []ai.ToolCall{{ID: "c1", Name: "get_crm_summary", Arguments: "{}"}}},
		{ToolCalls: []ai.ToolCall{{ID: "c2", Name: "get_crm_summary", Arguments: "{}"}}},
		{Content: "Done with what I had."},
	}}
	action := NewAIAgent(chat, crm, logging.NewLoggerWithLevel("error"))

	out, err := action.Execute(context.Background(), Input{
		TenantID:    "t-1",
		Config:      &models.AIAgentConfig{Goal: "look around", MaxToolCalls: 2},
		Credentials: aiCreds(),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, out["tool_calls"])

	last := chat.requests[len(chat.requests)-1]
	assert.Empty(t, last.Tools, "the capped request must not offer tools")
}

func TestAIAgentAnswersEveryCallWhenCapSplitsBatch(t *testing.T) {
	crm := newFakeCRM()
	// One assistant turn asks for two tools but the budget only covers
	// one. Both tool_call_ids still need answers in the next request or
	// the gateway rejects the transcript.
	chat := &scriptedChat{responses: []*ai.ChatResponse{
		{ToolCalls: []ai.ToolCall{
			{ID: "c1", Name: "get_crm_summary", Arguments: "{}"},
			{ID: "c2", Name: "create_task", Arguments: `{"title": "Should not happen"}`},
		}},
		{Content: "Stopping at the limit."},
	}}
	action := NewAIAgent(chat, crm, logging.NewLoggerWithLevel("error"))

	out, err := action.Execute(context.Background(), Input{
		TenantID:    "t-1",
		Config:      &models.AIAgentConfig{Goal: "audit", MaxToolCalls: 1},
		Credentials: aiCreds(),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, out["tool_calls"])
	assert.Empty(t, crm.tasks, "the over-budget call must be refused, not executed")

	last := chat.requests[len(chat.requests)-1]
	assert.Empty(t, last.Tools, "the capped request must not offer tools")

	byID := map[string]string{}
	for _, m := range last.Messages {
		if m.Role == "tool" {
			byID[m.ToolCallID] = m.Content
		}
	}
	require.Len(t, byID, 2)
	assert.Contains(t, byID["c1"], "open deals")
	assert.Contains(t, byID["c2"], "tool call limit reached")
}

func TestAIAgentReportsToolErrorsToModel(t *testing.T) {
	crm := newFakeCRM()
	chat := &scriptedChat{responses: []*ai.ChatResponse{
		{ToolCalls: []ai.ToolCall{{ID: "c1", Name: "no_such_tool", Arguments: "{}"}}},
		{Content: "That tool does not exist; stopping."},
	}}
	action := NewAIAgent(chat, crm, logging.NewLoggerWithLevel("error"))

	_, err := action.Execute(context.Background(), Input{
		TenantID:    "t-1",
		Config:      &models.AIAgentConfig{Goal: "x"},
		Credentials: aiCreds(),
	})
	require.NoError(t, err, "a bad tool call is fed back, not fatal")

	last := chat.requests[len(chat.requests)-1]
	found := false
	for _, m := range last.Messages {
		if m.Role == "tool" && m.ToolCallID == "c1" {
			found = true
			assert.Contains(t, m.Content, "unknown tool")
		}
	}
	assert.True(t, found)
}
