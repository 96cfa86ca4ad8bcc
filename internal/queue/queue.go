// Package queue implements the durable job queue that decouples "a rule
// should run" from "a rule is running". Jobs live in Postgres; dequeue
// takes a lease under FOR UPDATE SKIP LOCKED so a job is visible to
// exactly one worker at a time, while an expired lease makes it
// redeliverable (at-least-once).
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"pulsecrm/backend/pkg/models"
)

// Reason records what put a job on the queue.
type Reason string

const (
	ReasonEvent    Reason = "event"
	ReasonSchedule Reason = "schedule"
	ReasonManual   Reason = "manual"
)

// Job statuses persisted in Postgres.
const (
	StatusQueued = "queued"
	StatusLeased = "leased"
	StatusDone   = "done"
	StatusFailed = "failed"
)

// Job is one pending or in-flight rule execution.
type Job struct {
	ID          string
	RuleID      string
	TenantID    string
	Reason      Reason
	Event       *models.TriggerEvent
	Attempts    int
	MaxAttempts int
	NextRunAt   time.Time
	LastError   string
}

// Queue is the durable delivery contract the engine runs on.
type Queue interface {
	Enqueue(ctx context.Context, job *Job) error
	// Dequeue leases the next ready job, or returns nil when the queue
	// is empty.
	Dequeue(ctx context.Context) (*Job, error)
	// Complete marks a leased job done.
	Complete(ctx context.Context, jobID string) error
	// Fail releases a leased job: retryable failures go back on the
	// queue with backoff until attempts are exhausted, deterministic
	// failures are marked failed immediately.
	Fail(ctx context.Context, job *Job, cause error, retryable bool) error
	// ReapExpired requeues jobs whose worker lease has lapsed.
	ReapExpired(ctx context.Context) (int, error)
}

// Options tune the Postgres queue.
type Options struct {
	LeaseDuration time.Duration
	MaxAttempts   int
	RetryBackoff  time.Duration
}

// PostgresQueue is the pgx-backed Queue implementation.
type PostgresQueue struct {
	db   *pgxpool.Pool
	opts Options
}

// NewPostgresQueue creates a queue over the shared pool.
func NewPostgresQueue(db *pgxpool.Pool, opts Options) *PostgresQueue {
	if opts.LeaseDuration == 0 {
		opts.LeaseDuration = 2 * time.Minute
	}
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = 3
	}
	if opts.RetryBackoff == 0 {
		opts.RetryBackoff = 30 * time.Second
	}
	return &PostgresQueue{db: db, opts: opts}
}

func (q *PostgresQueue) Enqueue(ctx context.Context, job *Job) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.MaxAttempts == 0 {
		job.MaxAttempts = q.opts.MaxAttempts
	}
	var payload []byte
	if job.Event != nil {
		var err error
		if payload, err = json.Marshal(job.Event); err != nil {
			return fmt.Errorf("marshal event payload: %w", err)
		}
	}
	_, err := q.db.Exec(ctx,
		`INSERT INTO automation_jobs (id, rule_id, tenant_id, reason, payload, max_attempts) VALUES ($1, $2, $3, $4, $5, $6)`,
		job.ID, job.RuleID, job.TenantID, string(job.Reason), payload, job.MaxAttempts)
	return err
}

func (q *PostgresQueue) Dequeue(ctx context.Context) (*Job, error) {
	row := q.db.QueryRow(ctx, `
		WITH next AS (
			SELECT id FROM automation_jobs
			WHERE status = 'queued' AND next_run_at <= now()
			ORDER BY next_run_at
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		UPDATE automation_jobs j
		SET status = 'leased', attempts = j.attempts + 1, leased_until = now() + $1, updated_at = now()
		FROM next WHERE j.id = next.id
		RETURNING j.id, j.rule_id, j.tenant_id, j.reason, j.payload, j.attempts, j.max_attempts, j.next_run_at, COALESCE(j.last_error, '')`,
		q.opts.LeaseDuration)

	var (
		job     Job
		payload []byte
	)
	err := row.Scan(&job.ID, &job.RuleID, &job.TenantID, &job.Reason, &payload,
		&job.Attempts, &job.MaxAttempts, &job.NextRunAt, &job.LastError)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(payload) > 0 {
		var event models.TriggerEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			return nil, fmt.Errorf("job %s: invalid event payload: %w", job.ID, err)
		}
		job.Event = &event
	}
	return &job, nil
}

func (q *PostgresQueue) Complete(ctx context.Context, jobID string) error {
	_, err := q.db.Exec(ctx,
		`UPDATE automation_jobs SET status = 'done', leased_until = NULL, updated_at = now() WHERE id = $1`, jobID)
	return err
}

func (q *PostgresQueue) Fail(ctx context.Context, job *Job, cause error, retryable bool) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}

	if !retryable || job.Attempts >= job.MaxAttempts {
		_, err := q.db.Exec(ctx,
			`UPDATE automation_jobs SET status = 'failed', last_error = $1, leased_until = NULL, updated_at = now() WHERE id = $2`,
			msg, job.ID)
		return err
	}

	_, err := q.db.Exec(ctx,
		`UPDATE automation_jobs SET status = 'queued', last_error = $1, leased_until = NULL, next_run_at = $2, updated_at = now() WHERE id = $3`,
		msg, time.Now().Add(q.backoff(job.Attempts)), job.ID)
	return err
}

func (q *PostgresQueue) ReapExpired(ctx context.Context) (int, error) {
	tag, err := q.db.Exec(ctx,
		`UPDATE automation_jobs SET status = 'queued', leased_until = NULL, updated_at = now()
		 WHERE status = 'leased' AND leased_until < now()`)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// backoff doubles per attempt with +/- 25% jitter.
func (q *PostgresQueue) backoff(attempt int) time.Duration {
	d := q.opts.RetryBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	jitter := float64(d) * 0.25 * (rand.Float64()*2 - 1)
	return d + time.Duration(jitter)
}
