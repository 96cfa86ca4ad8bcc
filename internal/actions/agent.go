package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"pulsecrm/backend/internal/ai"
	"pulsecrm/backend/internal/logging"
	"pulsecrm/backend/internal/repository"
	"pulsecrm/backend/pkg/models"
)

// defaultMaxToolCalls bounds an agent run that never sets its own cap.
const defaultMaxToolCalls = 8

const agentSystemPrompt = "You are an autonomous assistant inside a CRM automation. " +
	"Use the provided tools to inspect and update the CRM, then report what you did. " +
	"When you are done, answer in plain text without calling further tools."

// AIAgent runs a goal-directed tool loop: the model inspects and mutates
// the tenant's CRM through a fixed tool set until it answers in plain
// text or hits the call cap.
type AIAgent struct {
	client ChatClient
	crm    repository.CRMStore
	logger *logging.Logger
}

// NewAIAgent wires the ai_agent action.
func NewAIAgent(client ChatClient, crm repository.CRMStore, logger *logging.Logger) *AIAgent {
	return &AIAgent{client: client, crm: crm, logger: logger}
}

func (a *AIAgent) Type() models.StepType { return models.StepAIAgent }

func (a *AIAgent) Execute(ctx context.Context, in Input) (map[string]any, error) {
	cfg, ok := in.Config.(*models.AIAgentConfig)
	if !ok {
		return nil, NewConfigError(fmt.Errorf("ai_agent: unexpected config type %T", in.Config))
	}
	if in.Credentials.AIAPIKey == "" {
		return nil, NewCredentialsError("AI API key")
	}

	maxCalls := cfg.MaxToolCalls
	if maxCalls <= 0 {
		maxCalls = defaultMaxToolCalls
	}

	messages := []ai.Message{
		{Role: "system", Content: agentSystemPrompt},
		{Role: "user", Content: cfg.Goal},
	}

	calls := 0
	for {
		req := ai.ChatRequest{Model: cfg.Model, Messages: messages}
		if calls < maxCalls {
			req.Tools = agentTools()
		}

		resp, err := a.client.Chat(ctx, in.Credentials.AIAPIKey, req)
		if err != nil {
			return nil, classifyGatewayError(ctx, err)
		}

		if len(resp.ToolCalls) == 0 || calls >= maxCalls {
			return map[string]any{
				"text":       resp.Content,
				"model":      resp.Model,
				"tool_calls": calls,
			}, nil
		}

		messages = append(messages, ai.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		// Every tool_call_id in the assistant turn must get a tool
		// message or the gateway rejects the transcript. Calls past the
		// cap are refused, not executed.
		for _, tc := range resp.ToolCalls {
			var result string
			if calls < maxCalls {
				calls++
				result = a.runTool(ctx, in.TenantID, tc)
				a.logger.Debug("agent tool call",
					"tenant_id", in.TenantID,
					"tool", tc.Name,
					"call", calls)
			} else {
				result = "error: tool call limit reached"
			}
			messages = append(messages, ai.Message{
				Role:       "tool",
				Content:    result,
				ToolCallID: tc.ID,
			})
		}
	}
}

// runTool executes one tool call. Tool failures are reported back to the
// model as text rather than failing the step, so the agent can recover
// or finish with what it has.
func (a *AIAgent) runTool(ctx context.Context, tenantID string, tc ai.ToolCall) string {
	var args map[string]any
	if tc.Arguments != "" {
		if err := json.Unmarshal([]byte(tc.Arguments), &args); err != nil {
			return fmt.Sprintf("error: invalid arguments: %v", err)
		}
	}

	switch tc.Name {
	case "get_crm_summary":
		stats, err := a.crm.DealStats(ctx, tenantID)
		if err != nil {
			return fmt.Sprintf("error: %v", err)
		}
		overdue, err := a.crm.OverdueTaskCount(ctx, tenantID)
		if err != nil {
			return fmt.Sprintf("error: %v", err)
		}
		return fmt.Sprintf("open deals: %d (value %.2f), won this week: %d, overdue tasks: %d",
			stats.OpenCount, stats.OpenAmount, stats.WonThisWeek, overdue)

	case "create_task":
		title, _ := args["title"].(string)
		if title == "" {
			return "error: title is required"
		}
		var dueAt *time.Time
		if hours, ok := args["due_hours"].(float64); ok && hours > 0 {
			t := time.Now().Add(time.Duration(hours) * time.Hour)
			dueAt = &t
		}
		id, err := a.crm.CreateTask(ctx, tenantID, title, dueAt)
		if err != nil {
			return fmt.Sprintf("error: %v", err)
		}
		return "created task " + id

	case "update_deal":
		dealID, _ := args["deal_id"].(string)
		field, _ := args["field"].(string)
		value := fmt.Sprint(args["value"])
		if dealID == "" || field == "" {
			return "error: deal_id and field are required"
		}
		if err := a.crm.UpdateDeal(ctx, tenantID, dealID, field, value); err != nil {
			return fmt.Sprintf("error: %v", err)
		}
		return "updated deal " + dealID

	case "create_contact":
		name, _ := args["name"].(string)
		if name == "" {
			return "error: name is required"
		}
		email, _ := args["email"].(string)
		id, err := a.crm.CreateContact(ctx, tenantID, name, email)
		if err != nil {
			return fmt.Sprintf("error: %v", err)
		}
		return "created contact " + id

	default:
		return fmt.Sprintf("error: unknown tool %q", tc.Name)
	}
}

func agentTools() []ai.Tool {
	return []ai.Tool{
		{
			Name:        "get_crm_summary",
			Description: "Get aggregate pipeline stats: open deal count and value, deals won this week, overdue task count.",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
		},
		{
			Name:        "create_task",
			Description: "Create a follow-up task.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"title":     map[string]any{"type": "string", "description": "Task title"},
					"due_hours": map[string]any{"type": "number", "description": "Hours from now the task is due"},
				},
				"required": []string{"title"},
			},
		},
		{
			Name:        "update_deal",
			Description: "Update one field of a deal. Allowed fields: stage, amount, name.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"deal_id": map[string]any{"type": "string"},
					"field":   map[string]any{"type": "string", "enum": []string{"stage", "amount", "name"}},
					"value":   map[string]any{"type": "string"},
				},
				"required": []string{"deal_id", "field", "value"},
			},
		},
		{
			Name:        "create_contact",
			Description: "Create a contact.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"name":  map[string]any{"type": "string"},
					"email": map[string]any{"type": "string"},
				},
				"required": []string{"name"},
			},
		},
	}
}
