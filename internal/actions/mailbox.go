package actions

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"pulsecrm/backend/internal/logging"
	"pulsecrm/backend/pkg/models"
)

// defaultMailboxLimit bounds a read that names no limit.
const defaultMailboxLimit = 10

// MailboxRead fetches recent messages from a tenant mailbox through the
// mailbox service.
type MailboxRead struct {
	baseURL string
	hc      *http.Client
	logger  *logging.Logger
}

// NewMailboxRead wires the mailbox_read action.
func NewMailboxRead(baseURL string, logger *logging.Logger) *MailboxRead {
	return &MailboxRead{
		baseURL: strings.TrimRight(baseURL, "/"),
		hc:      newIntegrationClient(),
		logger:  logger,
	}
}

func (a *MailboxRead) Type() models.StepType { return models.StepMailboxRead }

func (a *MailboxRead) Execute(ctx context.Context, in Input) (map[string]any, error) {
	cfg, ok := in.Config.(*models.MailboxReadConfig)
	if !ok {
		return nil, NewConfigError(fmt.Errorf("mailbox_read: unexpected config type %T", in.Config))
	}
	if in.Credentials.MailboxAPIKey == "" {
		return nil, NewCredentialsError("mailbox API key")
	}

	limit := cfg.Limit
	if limit <= 0 {
		limit = defaultMailboxLimit
	}

	payload := map[string]any{
		"mailbox": cfg.Mailbox,
		"limit":   limit,
	}
	var resp struct {
		Messages []map[string]any `json:"messages"`
	}
	if err := postJSON(ctx, a.hc, a.baseURL+"/messages/list", in.Credentials.MailboxAPIKey, payload, &resp); err != nil {
		return nil, err
	}

	// Normalize to []any so later placeholder lookups behave like any
	// other JSON value in the run context.
	messages := make([]any, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		messages = append(messages, m)
	}
	return map[string]any{
		"messages": messages,
		"count":    len(messages),
	}, nil
}

// MailboxSend sends a message from a tenant mailbox.
type MailboxSend struct {
	baseURL string
	hc      *http.Client
	logger  *logging.Logger
}

// NewMailboxSend wires the mailbox_send action.
func NewMailboxSend(baseURL string, logger *logging.Logger) *MailboxSend {
	return &MailboxSend{
		baseURL: strings.TrimRight(baseURL, "/"),
		hc:      newIntegrationClient(),
		logger:  logger,
	}
}

func (a *MailboxSend) Type() models.StepType { return models.StepMailboxSend }

func (a *MailboxSend) Execute(ctx context.Context, in Input) (map[string]any, error) {
	cfg, ok := in.Config.(*models.MailboxSendConfig)
	if !ok {
		return nil, NewConfigError(fmt.Errorf("mailbox_send: unexpected config type %T", in.Config))
	}
	if in.Credentials.MailboxAPIKey == "" {
		return nil, NewCredentialsError("mailbox API key")
	}

	payload := map[string]string{
		"mailbox": cfg.Mailbox,
		"to":      cfg.To,
		"subject": cfg.Subject,
		"body":    cfg.Body,
	}
	var resp struct {
		MessageID string `json:"message_id"`
	}
	if err := postJSON(ctx, a.hc, a.baseURL+"/messages/send", in.Credentials.MailboxAPIKey, payload, &resp); err != nil {
		return nil, err
	}

	a.logger.Info("mailbox message sent",
		"tenant_id", in.TenantID,
		"mailbox", cfg.Mailbox,
		"to", cfg.To)
	return map[string]any{
		"status":     "sent",
		"message_id": resp.MessageID,
	}, nil
}
