package actions

import (
	"context"
	"errors"
	"fmt"

	"pulsecrm/backend/internal/ai"
	"pulsecrm/backend/internal/logging"
	"pulsecrm/backend/pkg/models"
)

// ChatClient is the slice of the AI gateway client the AI actions need.
type ChatClient interface {
	Chat(ctx context.Context, apiKey string, req ai.ChatRequest) (*ai.ChatResponse, error)
}

// ContextProvider supplies the bounded CRM context for prompt grounding.
// Implementations never fail; an unavailable backend yields "".
type ContextProvider interface {
	Build(ctx context.Context, tenantID, apiKey, query string) string
}

const aiTaskSystemPrompt = "You are an assistant inside a CRM automation. " +
	"Answer with the requested content only, no preamble."

// AITask runs a single-shot completion against the AI gateway.
type AITask struct {
	client   ChatClient
	contexts ContextProvider
	logger   *logging.Logger
}

// NewAITask wires the ai_task action. contexts may be nil when retrieval
// is not configured.
func NewAITask(client ChatClient, contexts ContextProvider, logger *logging.Logger) *AITask {
	return &AITask{client: client, contexts: contexts, logger: logger}
}

func (a *AITask) Type() models.StepType { return models.StepAITask }

func (a *AITask) Execute(ctx context.Context, in Input) (map[string]any, error) {
	cfg, ok := in.Config.(*models.AITaskConfig)
	if !ok {
		return nil, NewConfigError(fmt.Errorf("ai_task: unexpected config type %T", in.Config))
	}
	if in.Credentials.AIAPIKey == "" {
		return nil, NewCredentialsError("AI API key")
	}

	system := cfg.System
	if system == "" {
		system = aiTaskSystemPrompt
	}
	if cfg.UseContext && a.contexts != nil {
		if crmContext := a.contexts.Build(ctx, in.TenantID, in.Credentials.AIAPIKey, cfg.Prompt); crmContext != "" {
			system += "\n\nCRM context:\n" + crmContext
		}
	}

	req := ai.ChatRequest{
		Model: cfg.Model,
		Messages: []ai.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: cfg.Prompt},
		},
	}
	if cfg.Temperature > 0 {
		t := cfg.Temperature
		req.Temperature = &t
	}

	resp, err := a.client.Chat(ctx, in.Credentials.AIAPIKey, req)
	if err != nil {
		return nil, classifyGatewayError(ctx, err)
	}

	return map[string]any{
		"text":   resp.Content,
		"model":  resp.Model,
		"tokens": resp.TotalTokens,
	}, nil
}

// classifyGatewayError maps AI client failures onto the action error
// taxonomy.
func classifyGatewayError(ctx context.Context, err error) error {
	var apiErr *ai.APIError
	switch {
	case errors.As(err, &apiErr):
		return NewExecutionError(apiErr.Status, apiErr.Body, err)
	case ctx.Err() == context.DeadlineExceeded:
		return NewTimeoutError(err)
	default:
		return NewExecutionError(0, "", err)
	}
}
