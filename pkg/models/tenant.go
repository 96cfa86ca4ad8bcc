package models

import (
	"time"
)

type Tenant struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Domain    string    `json:"domain"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TenantCredentials holds a tenant's integration secrets, resolved once
// per run. Secrets are never written into run records or serialized in
// API responses; the json:"-" tags enforce that.
type TenantCredentials struct {
	TenantID       string    `json:"tenant_id"`
	APIKey         string    `json:"-"`
	AIAPIKey       string    `json:"-"`
	EmailAPIKey    string    `json:"-"`
	ChatWebhookURL string    `json:"-"`
	MailboxAPIKey  string    `json:"-"`
	SearchAPIKey   string    `json:"-"`
	UpdatedAt      time.Time `json:"updated_at"`
}
