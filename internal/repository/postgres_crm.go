package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresCRMStore is a PostgreSQL implementation of the CRMStore interface.
type PostgresCRMStore struct {
	db *pgxpool.Pool
}

// NewPostgresCRMStore creates a new PostgresCRMStore.
func NewPostgresCRMStore(db *pgxpool.Pool) *PostgresCRMStore {
	return &PostgresCRMStore{db: db}
}

func (s *PostgresCRMStore) DealStats(ctx context.Context, tenantID string) (*DealStats, error) {
	var stats DealStats
	err := s.db.QueryRow(ctx,
		`SELECT
			COUNT(*) FILTER (WHERE stage NOT IN ('won', 'lost')),
			COALESCE(SUM(amount) FILTER (WHERE stage NOT IN ('won', 'lost')), 0),
			COUNT(*) FILTER (WHERE stage = 'won' AND updated_at > now() - interval '7 days')
		 FROM deals WHERE tenant_id = $1`, tenantID).
		Scan(&stats.OpenCount, &stats.OpenAmount, &stats.WonThisWeek)
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

func (s *PostgresCRMStore) OverdueTaskCount(ctx context.Context, tenantID string) (int, error) {
	var count int
	err := s.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM tasks WHERE tenant_id = $1 AND status = 'open' AND due_at IS NOT NULL AND due_at < now()`,
		tenantID).Scan(&count)
	return count, err
}

func (s *PostgresCRMStore) RecentContacts(ctx context.Context, tenantID string, limit int) ([]ContactSummary, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.db.Query(ctx,
		`SELECT name, email, created_at FROM contacts WHERE tenant_id = $1 ORDER BY created_at DESC LIMIT $2`,
		tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var contacts []ContactSummary
	for rows.Next() {
		var c ContactSummary
		if err := rows.Scan(&c.Name, &c.Email, &c.CreatedAt); err != nil {
			return nil, err
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

func (s *PostgresCRMStore) CreateTask(ctx context.Context, tenantID, title string, dueAt *time.Time) (string, error) {
	id := uuid.New().String()
	_, err := s.db.Exec(ctx,
		`INSERT INTO tasks (id, tenant_id, title, due_at) VALUES ($1, $2, $3, $4)`,
		id, tenantID, title, dueAt)
	return id, err
}

func (s *PostgresCRMStore) UpdateDeal(ctx context.Context, tenantID, dealID, field, value string) error {
	// field is validated against the step schema before it gets here;
	// the whitelist keeps this from ever becoming an injection path.
	var query string
	switch field {
	case "stage":
		query = `UPDATE deals SET stage = $1, updated_at = now() WHERE id = $2 AND tenant_id = $3`
	case "amount":
		query = `UPDATE deals SET amount = $1::numeric, updated_at = now() WHERE id = $2 AND tenant_id = $3`
	case "name":
		query = `UPDATE deals SET name = $1, updated_at = now() WHERE id = $2 AND tenant_id = $3`
	default:
		return fmt.Errorf("deal field %q is not updatable", field)
	}
	tag, err := s.db.Exec(ctx, query, value, dealID, tenantID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresCRMStore) CreateContact(ctx context.Context, tenantID, name, email string) (string, error) {
	id := uuid.New().String()
	_, err := s.db.Exec(ctx,
		`INSERT INTO contacts (id, tenant_id, name, email) VALUES ($1, $2, $3, $4)`,
		id, tenantID, name, email)
	return id, err
}
