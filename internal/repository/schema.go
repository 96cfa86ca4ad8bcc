package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema is the engine's table set. Applied by cmd/seed and the
// integration tests; production deployments run it as a migration.
const Schema = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS tenants (
	id UUID PRIMARY KEY,
	name TEXT NOT NULL,
	domain TEXT NOT NULL UNIQUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS tenant_credentials (
	tenant_id UUID PRIMARY KEY REFERENCES tenants(id) ON DELETE CASCADE,
	api_key TEXT NOT NULL DEFAULT '',
	ai_api_key TEXT NOT NULL DEFAULT '',
	email_api_key TEXT NOT NULL DEFAULT '',
	chat_webhook_url TEXT NOT NULL DEFAULT '',
	mailbox_api_key TEXT NOT NULL DEFAULT '',
	search_api_key TEXT NOT NULL DEFAULT '',
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS automation_rules (
	id UUID PRIMARY KEY,
	tenant_id UUID NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
	name TEXT NOT NULL,
	enabled BOOLEAN NOT NULL DEFAULT true,
	trigger_type TEXT NOT NULL,
	trigger_filter JSONB,
	schedule_cron TEXT NOT NULL DEFAULT '',
	workflow JSONB NOT NULL,
	last_run_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_rules_tenant_trigger ON automation_rules (tenant_id, trigger_type) WHERE enabled;

CREATE TABLE IF NOT EXISTS automation_runs (
	id UUID PRIMARY KEY,
	rule_id UUID NOT NULL REFERENCES automation_rules(id) ON DELETE CASCADE,
	tenant_id UUID NOT NULL,
	status TEXT NOT NULL,
	result JSONB,
	error TEXT NOT NULL DEFAULT '',
	started_at TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_runs_rule_started ON automation_runs (rule_id, started_at DESC);

CREATE TABLE IF NOT EXISTS automation_jobs (
	id UUID PRIMARY KEY,
	rule_id UUID NOT NULL,
	tenant_id UUID NOT NULL,
	reason TEXT NOT NULL,
	payload JSONB,
	status TEXT NOT NULL DEFAULT 'queued',
	attempts INT NOT NULL DEFAULT 0,
	max_attempts INT NOT NULL DEFAULT 3,
	next_run_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	leased_until TIMESTAMPTZ,
	last_error TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_jobs_ready ON automation_jobs (next_run_at) WHERE status = 'queued';

CREATE TABLE IF NOT EXISTS deals (
	id UUID PRIMARY KEY,
	tenant_id UUID NOT NULL,
	name TEXT NOT NULL,
	stage TEXT NOT NULL DEFAULT 'open',
	amount NUMERIC NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS tasks (
	id UUID PRIMARY KEY,
	tenant_id UUID NOT NULL,
	title TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'open',
	due_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS contacts (
	id UUID PRIMARY KEY,
	tenant_id UUID NOT NULL,
	name TEXT NOT NULL,
	email TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS context_chunks (
	id UUID PRIMARY KEY,
	tenant_id UUID NOT NULL,
	label TEXT NOT NULL,
	content TEXT NOT NULL,
	embedding VECTOR,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (tenant_id, label)
);
`

// EnsureSchema applies the schema idempotently.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, Schema)
	return err
}
