package repository

import (
	"context"
	"errors"
	"time"

	"pulsecrm/backend/pkg/models"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// RuleStore reads automation rules. The engine only ever writes
// last_run_at; everything else belongs to the CRUD layer.
type RuleStore interface {
	// GetRule loads and validates one rule. A workflow that fails
	// schema validation fails the load, not the run.
	GetRule(ctx context.Context, id string) (*models.AutomationRule, error)
	// ListRules returns a tenant's rules, newest first.
	ListRules(ctx context.Context, tenantID string) ([]*models.AutomationRule, error)
	// ListEnabledByTrigger returns a tenant's enabled rules for an
	// event type. Rules with unparseable workflows are skipped.
	ListEnabledByTrigger(ctx context.Context, tenantID string, t models.TriggerType) ([]*models.AutomationRule, error)
	// ListScheduled returns all enabled schedule-triggered rules.
	ListScheduled(ctx context.Context) ([]*models.AutomationRule, error)
	// TouchLastRun sets last_run_at to the attempt time.
	TouchLastRun(ctx context.Context, ruleID string, at time.Time) error
	// CreateRule inserts a rule (seed and tests; the UI owns this in
	// production).
	CreateRule(ctx context.Context, rule *models.AutomationRule) error
}

// RunStore persists execution attempts for audit.
type RunStore interface {
	CreateRun(ctx context.Context, run *models.AutomationRun) error
	// FinishRun records the terminal outcome. It refuses to touch a run
	// that is already finished.
	FinishRun(ctx context.Context, runID string, status models.RunStatus, result map[string]any, errText string, finishedAt time.Time) error
	GetRun(ctx context.Context, id string) (*models.AutomationRun, error)
	// ListRunsByRule returns runs newest first, capped at 100.
	ListRunsByRule(ctx context.Context, ruleID string, limit int) ([]*models.AutomationRun, error)
}

// TenantStore resolves tenants and their integration credentials.
type TenantStore interface {
	CreateTenant(ctx context.Context, tenant *models.Tenant) error
	GetTenantByDomain(ctx context.Context, domain string) (*models.Tenant, error)
	// GetTenantByAPIKey backs the API auth middleware.
	GetTenantByAPIKey(ctx context.Context, apiKey string) (*models.Tenant, error)
	GetCredentials(ctx context.Context, tenantID string) (*models.TenantCredentials, error)
	UpsertCredentials(ctx context.Context, creds *models.TenantCredentials) error
}

// DealStats is the aggregate view of a tenant's open pipeline.
type DealStats struct {
	OpenCount   int
	OpenAmount  float64
	WonThisWeek int
}

// ContactSummary is the minimal contact line exposed to AI context.
type ContactSummary struct {
	Name      string
	Email     string
	CreatedAt time.Time
}

// CRMStore gives the engine its bounded read/write surface over CRM
// tables: aggregate reads for context, explicit mutations for action
// steps. No full-record dumps.
type CRMStore interface {
	DealStats(ctx context.Context, tenantID string) (*DealStats, error)
	OverdueTaskCount(ctx context.Context, tenantID string) (int, error)
	RecentContacts(ctx context.Context, tenantID string, limit int) ([]ContactSummary, error)

	CreateTask(ctx context.Context, tenantID, title string, dueAt *time.Time) (string, error)
	UpdateDeal(ctx context.Context, tenantID, dealID, field, value string) error
	CreateContact(ctx context.Context, tenantID, name, email string) (string, error)
}

// Chunk is one retrievable context fragment.
type Chunk struct {
	ID      string
	Label   string
	Content string
}

// ChunkStore is the tenant-scoped vector index for semantic retrieval.
type ChunkStore interface {
	UpsertChunk(ctx context.Context, tenantID, label, content string, embedding []float32) error
	// SearchChunks returns the top-K chunks by cosine distance.
	SearchChunks(ctx context.Context, tenantID string, embedding []float32, k int) ([]Chunk, error)
}
