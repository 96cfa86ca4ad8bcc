package actions

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"pulsecrm/backend/internal/logging"
	"pulsecrm/backend/pkg/models"
)

// SendEmail delivers a message through the tenant's transactional email
// service.
type SendEmail struct {
	baseURL string
	hc      *http.Client
	logger  *logging.Logger
}

// NewSendEmail wires the send_email action against the email service at
// baseURL.
func NewSendEmail(baseURL string, logger *logging.Logger) *SendEmail {
	return &SendEmail{
		baseURL: strings.TrimRight(baseURL, "/"),
		hc:      newIntegrationClient(),
		logger:  logger,
	}
}

func (a *SendEmail) Type() models.StepType { return models.StepSendEmail }

func (a *SendEmail) Execute(ctx context.Context, in Input) (map[string]any, error) {
	cfg, ok := in.Config.(*models.SendEmailConfig)
	if !ok {
		return nil, NewConfigError(fmt.Errorf("send_email: unexpected config type %T", in.Config))
	}
	if in.Credentials.EmailAPIKey == "" {
		return nil, NewCredentialsError("email API key")
	}

	payload := map[string]string{
		"to":      cfg.To,
		"subject": cfg.Subject,
		"body":    cfg.Body,
	}
	var resp struct {
		MessageID string `json:"message_id"`
	}
	if err := postJSON(ctx, a.hc, a.baseURL+"/send", in.Credentials.EmailAPIKey, payload, &resp); err != nil {
		return nil, err
	}

	a.logger.Info("email sent", "tenant_id", in.TenantID, "to", cfg.To)
	return map[string]any{
		"status":     "sent",
		"to":         cfg.To,
		"message_id": resp.MessageID,
	}, nil
}
