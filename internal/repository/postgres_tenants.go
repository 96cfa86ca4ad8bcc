package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"pulsecrm/backend/pkg/models"
)

// PostgresTenantStore is a PostgreSQL implementation of the TenantStore interface.
type PostgresTenantStore struct {
	db *pgxpool.Pool
}

// NewPostgresTenantStore creates a new PostgresTenantStore.
func NewPostgresTenantStore(db *pgxpool.Pool) *PostgresTenantStore {
	return &PostgresTenantStore{db: db}
}

func (s *PostgresTenantStore) CreateTenant(ctx context.Context, tenant *models.Tenant) error {
	if tenant.ID == "" {
		tenant.ID = uuid.New().String()
	}
	return s.db.QueryRow(ctx,
		`INSERT INTO tenants (id, name, domain) VALUES ($1, $2, $3) RETURNING created_at, updated_at`,
		tenant.ID, tenant.Name, tenant.Domain).Scan(&tenant.CreatedAt, &tenant.UpdatedAt)
}

func (s *PostgresTenantStore) GetTenantByDomain(ctx context.Context, domain string) (*models.Tenant, error) {
	return s.getTenant(ctx, `SELECT id, name, domain, created_at, updated_at FROM tenants WHERE domain = $1`, domain)
}

func (s *PostgresTenantStore) GetTenantByAPIKey(ctx context.Context, apiKey string) (*models.Tenant, error) {
	if apiKey == "" {
		return nil, ErrNotFound
	}
	return s.getTenant(ctx,
		`SELECT t.id, t.name, t.domain, t.created_at, t.updated_at
		 FROM tenants t JOIN tenant_credentials c ON c.tenant_id = t.id
		 WHERE c.api_key = $1`, apiKey)
}

func (s *PostgresTenantStore) getTenant(ctx context.Context, query string, arg any) (*models.Tenant, error) {
	var tenant models.Tenant
	err := s.db.QueryRow(ctx, query, arg).
		Scan(&tenant.ID, &tenant.Name, &tenant.Domain, &tenant.CreatedAt, &tenant.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &tenant, nil
}

func (s *PostgresTenantStore) GetCredentials(ctx context.Context, tenantID string) (*models.TenantCredentials, error) {
	var creds models.TenantCredentials
	err := s.db.QueryRow(ctx,
		`SELECT tenant_id, api_key, ai_api_key, email_api_key, chat_webhook_url, mailbox_api_key, search_api_key, updated_at
		 FROM tenant_credentials WHERE tenant_id = $1`, tenantID).
		Scan(&creds.TenantID, &creds.APIKey, &creds.AIAPIKey, &creds.EmailAPIKey,
			&creds.ChatWebhookURL, &creds.MailboxAPIKey, &creds.SearchAPIKey, &creds.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &creds, nil
}

func (s *PostgresTenantStore) UpsertCredentials(ctx context.Context, creds *models.TenantCredentials) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO tenant_credentials (tenant_id, api_key, ai_api_key, email_api_key, chat_webhook_url, mailbox_api_key, search_api_key, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		 ON CONFLICT (tenant_id) DO UPDATE SET
			api_key = EXCLUDED.api_key,
			ai_api_key = EXCLUDED.ai_api_key,
			email_api_key = EXCLUDED.email_api_key,
			chat_webhook_url = EXCLUDED.chat_webhook_url,
			mailbox_api_key = EXCLUDED.mailbox_api_key,
			search_api_key = EXCLUDED.search_api_key,
			updated_at = now()`,
		creds.TenantID, creds.APIKey, creds.AIAPIKey, creds.EmailAPIKey,
		creds.ChatWebhookURL, creds.MailboxAPIKey, creds.SearchAPIKey)
	return err
}
