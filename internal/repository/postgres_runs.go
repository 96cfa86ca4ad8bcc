package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"pulsecrm/backend/pkg/models"
)

// maxRunPageSize caps the run-history page served to operators and the UI.
const maxRunPageSize = 100

// PostgresRunStore is a PostgreSQL implementation of the RunStore interface.
type PostgresRunStore struct {
	db *pgxpool.Pool
}

// NewPostgresRunStore creates a new PostgresRunStore.
func NewPostgresRunStore(db *pgxpool.Pool) *PostgresRunStore {
	return &PostgresRunStore{db: db}
}

func (s *PostgresRunStore) CreateRun(ctx context.Context, run *models.AutomationRun) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO automation_runs (id, rule_id, tenant_id, status, started_at) VALUES ($1, $2, $3, $4, $5)`,
		run.ID, run.RuleID, run.TenantID, string(run.Status), run.StartedAt)
	return err
}

func (s *PostgresRunStore) FinishRun(ctx context.Context, runID string, status models.RunStatus, result map[string]any, errText string, finishedAt time.Time) error {
	var resultJSON []byte
	if result != nil {
		var err error
		if resultJSON, err = json.Marshal(result); err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
	}
	// finished_at IS NULL keeps terminal rows immutable under redelivery.
	tag, err := s.db.Exec(ctx,
		`UPDATE automation_runs SET status = $1, result = $2, error = $3, finished_at = $4
		 WHERE id = $5 AND finished_at IS NULL`,
		string(status), resultJSON, errText, finishedAt, runID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("run %s already finished", runID)
	}
	return nil
}

func (s *PostgresRunStore) GetRun(ctx context.Context, id string) (*models.AutomationRun, error) {
	row := s.db.QueryRow(ctx,
		`SELECT id, rule_id, tenant_id, status, result, error, started_at, finished_at FROM automation_runs WHERE id = $1`, id)
	run, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return run, err
}

func (s *PostgresRunStore) ListRunsByRule(ctx context.Context, ruleID string, limit int) ([]*models.AutomationRun, error) {
	if limit <= 0 || limit > maxRunPageSize {
		limit = maxRunPageSize
	}
	rows, err := s.db.Query(ctx,
		`SELECT id, rule_id, tenant_id, status, result, error, started_at, finished_at
		 FROM automation_runs WHERE rule_id = $1 ORDER BY started_at DESC LIMIT $2`,
		ruleID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*models.AutomationRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func scanRun(row rowScanner) (*models.AutomationRun, error) {
	var (
		run        models.AutomationRun
		resultJSON []byte
	)
	err := row.Scan(&run.ID, &run.RuleID, &run.TenantID, &run.Status, &resultJSON,
		&run.Error, &run.StartedAt, &run.FinishedAt)
	if err != nil {
		return nil, err
	}
	if len(resultJSON) > 0 {
		if err := json.Unmarshal(resultJSON, &run.Result); err != nil {
			return nil, fmt.Errorf("run %s: invalid result payload: %w", run.ID, err)
		}
	}
	return &run, nil
}
