package actions

import (
	"context"
	"fmt"
	"net/http"

	"pulsecrm/backend/internal/logging"
	"pulsecrm/backend/pkg/models"
)

// ChatMessage posts a message to the tenant's team chat webhook.
type ChatMessage struct {
	hc     *http.Client
	logger *logging.Logger
}

// NewChatMessage wires the chat_message action.
func NewChatMessage(logger *logging.Logger) *ChatMessage {
	return &ChatMessage{hc: newIntegrationClient(), logger: logger}
}

func (a *ChatMessage) Type() models.StepType { return models.StepChatMessage }

func (a *ChatMessage) Execute(ctx context.Context, in Input) (map[string]any, error) {
	cfg, ok := in.Config.(*models.ChatMessageConfig)
	if !ok {
		return nil, NewConfigError(fmt.Errorf("chat_message: unexpected config type %T", in.Config))
	}

	// The step may name its own webhook; otherwise the tenant default
	// applies.
	webhook := cfg.WebhookURL
	if webhook == "" {
		webhook = in.Credentials.ChatWebhookURL
	}
	if webhook == "" {
		return nil, NewCredentialsError("chat webhook URL")
	}

	payload := map[string]string{"text": cfg.Text}
	if err := postJSON(ctx, a.hc, webhook, "", payload, nil); err != nil {
		return nil, err
	}

	a.logger.Info("chat message posted", "tenant_id", in.TenantID)
	return map[string]any{"status": "sent"}, nil
}
