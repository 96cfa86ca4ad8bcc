package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"pulsecrm/backend/internal/logging"
	"pulsecrm/backend/pkg/models"
)

// PostgresRuleStore is a PostgreSQL implementation of the RuleStore interface.
type PostgresRuleStore struct {
	db     *pgxpool.Pool
	logger *logging.Logger
}

// NewPostgresRuleStore creates a new PostgresRuleStore.
func NewPostgresRuleStore(db *pgxpool.Pool, logger *logging.Logger) *PostgresRuleStore {
	return &PostgresRuleStore{db: db, logger: logger}
}

const ruleColumns = `id, tenant_id, name, enabled, trigger_type, trigger_filter, schedule_cron, workflow, last_run_at, created_at, updated_at`

func (s *PostgresRuleStore) GetRule(ctx context.Context, id string) (*models.AutomationRule, error) {
	row := s.db.QueryRow(ctx, `SELECT `+ruleColumns+` FROM automation_rules WHERE id = $1`, id)
	rule, err := scanRule(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rule, err
}

func (s *PostgresRuleStore) ListRules(ctx context.Context, tenantID string) ([]*models.AutomationRule, error) {
	rows, err := s.db.Query(ctx, `SELECT `+ruleColumns+` FROM automation_rules WHERE tenant_id = $1 ORDER BY created_at DESC`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return s.collectRules(rows)
}

func (s *PostgresRuleStore) ListEnabledByTrigger(ctx context.Context, tenantID string, t models.TriggerType) ([]*models.AutomationRule, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+ruleColumns+` FROM automation_rules WHERE tenant_id = $1 AND trigger_type = $2 AND enabled`,
		tenantID, string(t))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return s.collectRules(rows)
}

func (s *PostgresRuleStore) ListScheduled(ctx context.Context) ([]*models.AutomationRule, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+ruleColumns+` FROM automation_rules WHERE trigger_type = $1 AND enabled AND schedule_cron <> ''`,
		string(models.TriggerSchedule))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return s.collectRules(rows)
}

func (s *PostgresRuleStore) TouchLastRun(ctx context.Context, ruleID string, at time.Time) error {
	_, err := s.db.Exec(ctx, `UPDATE automation_rules SET last_run_at = $1 WHERE id = $2`, at, ruleID)
	return err
}

func (s *PostgresRuleStore) CreateRule(ctx context.Context, rule *models.AutomationRule) error {
	workflow, err := json.Marshal(rule.Workflow)
	if err != nil {
		return fmt.Errorf("marshal workflow: %w", err)
	}
	var filter []byte
	if rule.TriggerFilter != nil {
		if filter, err = json.Marshal(rule.TriggerFilter); err != nil {
			return fmt.Errorf("marshal trigger filter: %w", err)
		}
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO automation_rules (id, tenant_id, name, enabled, trigger_type, trigger_filter, schedule_cron, workflow)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rule.ID, rule.TenantID, rule.Name, rule.Enabled, string(rule.TriggerType), filter, rule.ScheduleCron, workflow)
	return err
}

// collectRules scans rule rows, skipping rows whose workflow no longer
// validates. A broken definition must not take down matching for the
// tenant's other rules.
func (s *PostgresRuleStore) collectRules(rows pgx.Rows) ([]*models.AutomationRule, error) {
	var rules []*models.AutomationRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			s.logger.Warn("skipping rule with invalid definition", "error", err)
			continue
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*models.AutomationRule, error) {
	var (
		rule       models.AutomationRule
		filterJSON []byte
		workflow   []byte
	)
	err := row.Scan(&rule.ID, &rule.TenantID, &rule.Name, &rule.Enabled, &rule.TriggerType,
		&filterJSON, &rule.ScheduleCron, &workflow, &rule.LastRunAt, &rule.CreatedAt, &rule.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if len(filterJSON) > 0 {
		var cond models.Condition
		if err := json.Unmarshal(filterJSON, &cond); err != nil {
			return nil, fmt.Errorf("rule %s: invalid trigger filter: %w", rule.ID, err)
		}
		if err := cond.Validate(); err != nil {
			return nil, fmt.Errorf("rule %s: %w", rule.ID, err)
		}
		rule.TriggerFilter = &cond
	}

	rule.Workflow, err = models.ParseWorkflow(workflow)
	if err != nil {
		return nil, fmt.Errorf("rule %s: %w", rule.ID, err)
	}
	return &rule, nil
}
