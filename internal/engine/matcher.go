// Package engine contains the automation engine's core: trigger
// matching, the schedule ticker, and the execution orchestrator that
// walks a rule's action chain.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"pulsecrm/backend/internal/logging"
	"pulsecrm/backend/internal/queue"
	"pulsecrm/backend/internal/repository"
	"pulsecrm/backend/pkg/models"
)

// Sentinel errors for manual triggering, mapped to HTTP status codes by
// the API layer.
var (
	ErrRuleIDRequired = errors.New("ruleId required")
	ErrRuleNotFound   = errors.New("rule not found")
)

// Matcher selects the rules a domain event or schedule tick should fire
// and enqueues one job per match. Matching itself is side-effect-free.
type Matcher struct {
	rules        repository.RuleStore
	queue        queue.Queue
	logger       *logging.Logger
	tickInterval time.Duration
}

// NewMatcher creates a Matcher. tickInterval is the schedule polling
// period and bounds how far back a cron fire may be picked up.
func NewMatcher(rules repository.RuleStore, q queue.Queue, logger *logging.Logger, tickInterval time.Duration) *Matcher {
	if tickInterval <= 0 {
		tickInterval = time.Minute
	}
	return &Matcher{rules: rules, queue: q, logger: logger, tickInterval: tickInterval}
}

// OnEvent enqueues a job for every enabled rule of the event's tenant
// whose trigger type matches and whose filter passes. No match is a
// no-op, not an error.
func (m *Matcher) OnEvent(ctx context.Context, event models.TriggerEvent) (int, error) {
	if event.TenantID == "" {
		return 0, fmt.Errorf("event has no tenant id")
	}

	rules, err := m.rules.ListEnabledByTrigger(ctx, event.TenantID, event.Type)
	if err != nil {
		return 0, fmt.Errorf("list rules for %s: %w", event.Type, err)
	}

	enqueued := 0
	for _, rule := range rules {
		if rule.TriggerFilter != nil {
			ok, err := rule.TriggerFilter.Evaluate(eventPayload(event))
			if err != nil {
				m.logger.Warn("trigger filter evaluation failed",
					"rule_id", rule.ID, "error", err)
				continue
			}
			if !ok {
				continue
			}
		}

		job := &queue.Job{
			RuleID:   rule.ID,
			TenantID: rule.TenantID,
			Reason:   queue.ReasonEvent,
			Event:    &event,
		}
		if err := m.queue.Enqueue(ctx, job); err != nil {
			return enqueued, fmt.Errorf("enqueue rule %s: %w", rule.ID, err)
		}
		enqueued++
		m.logger.Debug("rule matched event",
			"rule_id", rule.ID, "event", string(event.Type), "job_id", job.ID)
	}
	return enqueued, nil
}

// OnScheduleTick enqueues every enabled schedule rule whose cron
// expression fired within the last tick window and whose last_run_at
// does not already cover that fire (prevents double-fire on restart).
func (m *Matcher) OnScheduleTick(ctx context.Context, now time.Time) (int, error) {
	rules, err := m.rules.ListScheduled(ctx)
	if err != nil {
		return 0, fmt.Errorf("list scheduled rules: %w", err)
	}

	enqueued := 0
	for _, rule := range rules {
		fire, err := lastFire(rule.ScheduleCron, now, m.tickInterval)
		if err != nil {
			m.logger.Warn("invalid cron expression",
				"rule_id", rule.ID, "cron", rule.ScheduleCron, "error", err)
			continue
		}
		if fire.IsZero() {
			continue // not due in this window
		}
		if rule.LastRunAt != nil && !rule.LastRunAt.Before(fire) {
			continue // tick already covered by a previous attempt
		}

		job := &queue.Job{
			RuleID:   rule.ID,
			TenantID: rule.TenantID,
			Reason:   queue.ReasonSchedule,
			Event: &models.TriggerEvent{
				Type:     models.TriggerSchedule,
				TenantID: rule.TenantID,
			},
		}
		if err := m.queue.Enqueue(ctx, job); err != nil {
			return enqueued, fmt.Errorf("enqueue rule %s: %w", rule.ID, err)
		}
		enqueued++
	}
	return enqueued, nil
}

// TriggerNow enqueues a rule directly, bypassing matching, after
// verifying the rule belongs to the requesting tenant. Returns the job
// id so the fire-and-forget handoff stays traceable.
func (m *Matcher) TriggerNow(ctx context.Context, ruleID, tenantID string) (string, error) {
	if ruleID == "" {
		return "", ErrRuleIDRequired
	}
	rule, err := m.rules.GetRule(ctx, ruleID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", ErrRuleNotFound
		}
		return "", err
	}
	if rule.TenantID != tenantID {
		// Same answer as a missing rule so tenants cannot probe each
		// other's rule ids.
		return "", ErrRuleNotFound
	}

	job := &queue.Job{
		RuleID:   rule.ID,
		TenantID: rule.TenantID,
		Reason:   queue.ReasonManual,
		Event: &models.TriggerEvent{
			Type:     models.TriggerManual,
			TenantID: rule.TenantID,
		},
	}
	if err := m.queue.Enqueue(ctx, job); err != nil {
		return "", fmt.Errorf("enqueue: %w", err)
	}
	return job.ID, nil
}

// lastFire returns the cron fire time within (now-window, now], or the
// zero time when the schedule did not fire in that window.
func lastFire(spec string, now time.Time, window time.Duration) (time.Time, error) {
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return time.Time{}, err
	}
	fire := sched.Next(now.Add(-window))
	if fire.After(now) {
		return time.Time{}, nil
	}
	return fire, nil
}

// eventPayload exposes the event to filter predicates: raw fields at the
// top level plus the entity under its record kind ("deal.stage").
func eventPayload(event models.TriggerEvent) map[string]any {
	payload := map[string]any{
		"type":      string(event.Type),
		"tenant_id": event.TenantID,
	}
	for k, v := range event.Entity {
		payload[k] = v
	}
	if kind := event.Type.RecordKind(); kind != "" && event.Entity != nil {
		payload[kind] = event.Entity
	}
	return payload
}
