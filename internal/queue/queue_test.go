package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"pulsecrm/backend/internal/repository"
	"pulsecrm/backend/pkg/models"
)

func startPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"pgvector/pgvector:pg16",
		postgres.WithDatabase("test-db"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2)),
	)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Fatalf("failed to terminate container: %s", err)
		}
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatal(err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(pool.Close)

	if err := repository.EnsureSchema(ctx, pool); err != nil {
		t.Fatal(err)
	}
	return pool
}

func jobStatus(t *testing.T, pool *pgxpool.Pool, jobID string) (status string, attempts int, nextRunAt time.Time) {
	t.Helper()
	err := pool.QueryRow(context.Background(),
		`SELECT status, attempts, next_run_at FROM automation_jobs WHERE id = $1`, jobID).
		Scan(&status, &attempts, &nextRunAt)
	require.NoError(t, err)
	return status, attempts, nextRunAt
}

func TestPostgresQueue(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	ctx := context.Background()
	pool := startPostgres(t)
	q := NewPostgresQueue(pool, Options{
		LeaseDuration: time.Minute,
		MaxAttempts:   3,
		RetryBackoff:  30 * time.Second,
	})

	t.Run("enqueue and dequeue round-trip", func(t *testing.T) {
		job := &Job{
			RuleID:   uuid.New().String(),
			TenantID: uuid.New().String(),
			Reason:   ReasonEvent,
			Event: &models.TriggerEvent{
				Type:     models.TriggerDealCreated,
				TenantID: "t-1",
				Entity:   map[string]any{"id": "d-1", "amount": float64(24000)},
			},
		}
		require.NoError(t, q.Enqueue(ctx, job))
		assert.NotEmpty(t, job.ID)
		assert.Equal(t, 3, job.MaxAttempts)

		leased, err := q.Dequeue(ctx)
		require.NoError(t, err)
		require.NotNil(t, leased)
		assert.Equal(t, job.ID, leased.ID)
		assert.Equal(t, ReasonEvent, leased.Reason)
		assert.Equal(t, 1, leased.Attempts)
		require.NotNil(t, leased.Event)
		assert.Equal(t, models.TriggerDealCreated, leased.Event.Type)
		assert.Equal(t, float64(24000), leased.Event.Entity["amount"])

		status, _, _ := jobStatus(t, pool, job.ID)
		assert.Equal(t, StatusLeased, status)

		// A leased job is invisible to other workers.
		next, err := q.Dequeue(ctx)
		require.NoError(t, err)
		assert.Nil(t, next)

		require.NoError(t, q.Complete(ctx, leased.ID))
		status, _, _ = jobStatus(t, pool, job.ID)
		assert.Equal(t, StatusDone, status)
	})

	t.Run("empty queue dequeues nil", func(t *testing.T) {
		job, err := q.Dequeue(ctx)
		require.NoError(t, err)
		assert.Nil(t, job)
	})

	t.Run("retryable failure requeues with backoff", func(t *testing.T) {
		job := &Job{RuleID: uuid.New().String(), TenantID: uuid.New().String(), Reason: ReasonSchedule}
		require.NoError(t, q.Enqueue(ctx, job))

		leased, err := q.Dequeue(ctx)
		require.NoError(t, err)
		require.NotNil(t, leased)

		before := time.Now()
		require.NoError(t, q.Fail(ctx, leased, errors.New("gateway timeout"), true))

		status, attempts, nextRunAt := jobStatus(t, pool, job.ID)
		assert.Equal(t, StatusQueued, status)
		assert.Equal(t, 1, attempts)
		// Backoff is 30s with 25% jitter, so the retry is never immediate.
		assert.True(t, nextRunAt.After(before.Add(20*time.Second)),
			"next_run_at %v should be pushed out past %v", nextRunAt, before)

		// Not ready yet, so it does not come back.
		next, err := q.Dequeue(ctx)
		require.NoError(t, err)
		assert.Nil(t, next)

		var lastError string
		require.NoError(t, pool.QueryRow(ctx,
			`SELECT last_error FROM automation_jobs WHERE id = $1`, job.ID).Scan(&lastError))
		assert.Equal(t, "gateway timeout", lastError)
	})

	t.Run("deterministic failure is terminal", func(t *testing.T) {
		job := &Job{RuleID: uuid.New().String(), TenantID: uuid.New().String(), Reason: ReasonManual}
		require.NoError(t, q.Enqueue(ctx, job))

		leased, err := q.Dequeue(ctx)
		require.NoError(t, err)
		require.NotNil(t, leased)

		require.NoError(t, q.Fail(ctx, leased, errors.New("invalid config"), false))

		status, _, _ := jobStatus(t, pool, job.ID)
		assert.Equal(t, StatusFailed, status)
	})

	t.Run("exhausted attempts fail even when retryable", func(t *testing.T) {
		job := &Job{RuleID: uuid.New().String(), TenantID: uuid.New().String(), Reason: ReasonManual, MaxAttempts: 1}
		require.NoError(t, q.Enqueue(ctx, job))

		leased, err := q.Dequeue(ctx)
		require.NoError(t, err)
		require.NotNil(t, leased)
		assert.Equal(t, 1, leased.Attempts)

		require.NoError(t, q.Fail(ctx, leased, errors.New("still flaky"), true))

		status, _, _ := jobStatus(t, pool, job.ID)
		assert.Equal(t, StatusFailed, status)
	})

	t.Run("reap requeues lapsed leases", func(t *testing.T) {
		job := &Job{RuleID: uuid.New().String(), TenantID: uuid.New().String(), Reason: ReasonEvent}
		require.NoError(t, q.Enqueue(ctx, job))

		leased, err := q.Dequeue(ctx)
		require.NoError(t, err)
		require.NotNil(t, leased)

		// Simulate a worker that died mid-lease.
		_, err = pool.Exec(ctx,
			`UPDATE automation_jobs SET leased_until = now() - interval '1 minute' WHERE id = $1`, job.ID)
		require.NoError(t, err)

		reaped, err := q.ReapExpired(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, reaped)

		redelivered, err := q.Dequeue(ctx)
		require.NoError(t, err)
		require.NotNil(t, redelivered)
		assert.Equal(t, job.ID, redelivered.ID)
		assert.Equal(t, 2, redelivered.Attempts)
		require.NoError(t, q.Complete(ctx, redelivered.ID))
	})
}
