package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"pulsecrm/backend/internal/actions"
	"pulsecrm/backend/internal/logging"
	"pulsecrm/backend/internal/queue"
	"pulsecrm/backend/internal/repository"
	"pulsecrm/backend/pkg/models"
)

// Options tune per-run execution bounds.
type Options struct {
	// RunTimeout caps one run's total wall clock across all steps.
	RunTimeout time.Duration
	// ActionTimeout bounds each individual step.
	ActionTimeout time.Duration
}

// Orchestrator executes delivered jobs: it loads the rule, records the
// run, resolves credentials, walks the step chain through the action
// registry, and stores the outcome. It implements queue.Handler.
type Orchestrator struct {
	rules    repository.RuleStore
	runs     repository.RunStore
	tenants  repository.TenantStore
	registry *actions.Registry
	logger   *logging.Logger
	opts     Options

	runsStarted   metric.Int64Counter
	runsSucceeded metric.Int64Counter
	runsFailed    metric.Int64Counter
}

// NewOrchestrator wires the orchestrator. Dependencies are passed
// explicitly so tests can run it against fakes.
func NewOrchestrator(
	rules repository.RuleStore,
	runs repository.RunStore,
	tenants repository.TenantStore,
	registry *actions.Registry,
	logger *logging.Logger,
	opts Options,
) *Orchestrator {
	if opts.RunTimeout == 0 {
		opts.RunTimeout = 5 * time.Minute
	}
	if opts.ActionTimeout == 0 {
		opts.ActionTimeout = 30 * time.Second
	}

	meter := otel.Meter("pulsecrm/backend/engine")
	started, _ := meter.Int64Counter("automation.runs.started")
	succeeded, _ := meter.Int64Counter("automation.runs.succeeded")
	failed, _ := meter.Int64Counter("automation.runs.failed")

	return &Orchestrator{
		rules:         rules,
		runs:          runs,
		tenants:       tenants,
		registry:      registry,
		logger:        logger,
		opts:          opts,
		runsStarted:   started,
		runsSucceeded: succeeded,
		runsFailed:    failed,
	}
}

// Handle executes one delivered job and reports whether a failure is
// worth redelivering.
func (o *Orchestrator) Handle(ctx context.Context, job *queue.Job) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, o.opts.RunTimeout)
	defer cancel()

	attemptAt := time.Now()
	logger := o.logger.With("job_id", job.ID, "rule_id", job.RuleID, "tenant_id", job.TenantID)

	rule, loadErr := o.rules.GetRule(ctx, job.RuleID)
	if loadErr != nil {
		if errors.Is(loadErr, repository.ErrNotFound) {
			// Rule deleted between enqueue and delivery; nothing to
			// record a run against.
			return false, fmt.Errorf("rule not found")
		}
		// The definition exists but no longer validates. Record the
		// diagnostic as an Error run so the failure is auditable.
		actionErr := classifyLoadError(loadErr)
		o.recordFailedLoad(ctx, job, attemptAt, actionErr)
		return false, actionErr
	}

	if rule.TenantID != job.TenantID {
		return false, fmt.Errorf("job tenant %s does not own rule %s", job.TenantID, job.RuleID)
	}

	run := &models.AutomationRun{
		ID:        uuid.New().String(),
		RuleID:    rule.ID,
		TenantID:  rule.TenantID,
		Status:    models.RunStatusRunning,
		StartedAt: attemptAt,
	}
	if err := o.runs.CreateRun(ctx, run); err != nil {
		return true, fmt.Errorf("create run record: %w", err)
	}
	o.runsStarted.Add(ctx, 1)

	// last_run_at marks the attempt regardless of outcome so the
	// schedule matcher never double-fires a tick.
	defer func() {
		if err := o.rules.TouchLastRun(context.WithoutCancel(ctx), rule.ID, attemptAt); err != nil {
			logger.Error("updating last_run_at", "error", err)
		}
	}()

	creds := o.resolveCredentials(ctx, rule.TenantID, logger)

	results, execErr := o.walkChain(ctx, rule, job.Event, creds, logger)

	finishedAt := time.Now()
	if execErr != nil {
		o.runsFailed.Add(ctx, 1)
		if err := o.runs.FinishRun(context.WithoutCancel(ctx), run.ID, models.RunStatusError, results, execErr.Error(), finishedAt); err != nil {
			logger.Error("recording run failure", "error", err)
		}
		logger.Info("run failed",
			"run_id", run.ID,
			"kind", string(actions.KindOf(execErr)),
			"duration", finishedAt.Sub(attemptAt))
		return actions.Retryable(execErr), execErr
	}

	o.runsSucceeded.Add(ctx, 1)
	if err := o.runs.FinishRun(context.WithoutCancel(ctx), run.ID, models.RunStatusSuccess, results, "", finishedAt); err != nil {
		logger.Error("recording run success", "error", err)
	}
	logger.Info("run succeeded",
		"run_id", run.ID,
		"steps", len(results),
		"duration", finishedAt.Sub(attemptAt))
	return false, nil
}

// walkChain executes the steps strictly in order. The first failure
// aborts the rest; completed side effects stand (at-least-once, not
// transactional). A false condition short-circuits with success.
func (o *Orchestrator) walkChain(
	ctx context.Context,
	rule *models.AutomationRule,
	event *models.TriggerEvent,
	creds *models.TenantCredentials,
	logger *logging.Logger,
) (map[string]any, error) {
	runCtx := newRunContext(event)
	results := make(map[string]any, len(rule.Workflow))

	for _, step := range rule.Workflow {
		if ctx.Err() != nil {
			return results, actions.NewTimeoutError(fmt.Errorf("run timed out before step %s", step.ID))
		}

		if step.Type == models.StepCondition {
			cond := step.Config.(*models.Condition)
			ok, err := cond.Evaluate(runCtx)
			if err != nil {
				return results, actions.NewConfigError(fmt.Errorf("step %s: %w", step.ID, err))
			}
			if !ok {
				// Rule matched but the branch is not taken: a
				// successful outcome with fewer step outputs.
				logger.Debug("condition false, chain short-circuited", "step", step.ID)
				return results, nil
			}
			continue
		}

		action, err := o.registry.Get(step.Type)
		if err != nil {
			return results, err
		}

		cfg, err := resolveStepConfig(step, runCtx)
		if err != nil {
			return results, err
		}

		stepCtx, cancel := context.WithTimeout(ctx, o.opts.ActionTimeout)
		output, err := action.Execute(stepCtx, actions.Input{
			TenantID:    rule.TenantID,
			Config:      cfg,
			RunContext:  runCtx,
			Credentials: creds,
		})
		cancel()
		if err != nil {
			if stepCtx.Err() == context.DeadlineExceeded && actions.KindOf(err) != actions.KindTimeout {
				err = actions.NewTimeoutError(fmt.Errorf("step %s exceeded %s", step.ID, o.opts.ActionTimeout))
			}
			return results, fmt.Errorf("step %s: %w", step.ID, err)
		}

		if output == nil {
			output = map[string]any{}
		}
		runCtx[step.ID] = output
		results[step.ID] = output
	}
	return results, nil
}

// resolveCredentials loads the tenant's integration secrets once per
// run. Absent credentials are not an error here; an action that needs a
// missing secret fails with CredentialsMissing instead of attempting the
// call.
func (o *Orchestrator) resolveCredentials(ctx context.Context, tenantID string, logger *logging.Logger) *models.TenantCredentials {
	creds, err := o.tenants.GetCredentials(ctx, tenantID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			logger.Warn("resolving tenant credentials", "error", err)
		}
		return &models.TenantCredentials{TenantID: tenantID}
	}
	return creds
}

func (o *Orchestrator) recordFailedLoad(ctx context.Context, job *queue.Job, attemptAt time.Time, cause error) {
	run := &models.AutomationRun{
		ID:        uuid.New().String(),
		RuleID:    job.RuleID,
		TenantID:  job.TenantID,
		Status:    models.RunStatusRunning,
		StartedAt: attemptAt,
	}
	if err := o.runs.CreateRun(ctx, run); err != nil {
		o.logger.Error("recording failed rule load", "rule_id", job.RuleID, "error", err)
		return
	}
	o.runsStarted.Add(ctx, 1)
	o.runsFailed.Add(ctx, 1)
	if err := o.runs.FinishRun(context.WithoutCancel(ctx), run.ID, models.RunStatusError, nil, cause.Error(), time.Now()); err != nil {
		o.logger.Error("finishing failed rule load", "rule_id", job.RuleID, "error", err)
	}
	if err := o.rules.TouchLastRun(context.WithoutCancel(ctx), job.RuleID, attemptAt); err != nil {
		o.logger.Error("updating last_run_at", "rule_id", job.RuleID, "error", err)
	}
}

// classifyLoadError maps definition problems onto the action error
// taxonomy so run history shows the same kinds either way.
func classifyLoadError(err error) error {
	if errors.Is(err, models.ErrUnknownStepType) {
		return actions.NewError(actions.KindUnknownActionType, err)
	}
	return actions.NewConfigError(err)
}

// newRunContext seeds the per-run scratch map: the raw event under
// "trigger" plus the changed entity under its record kind, so step
// configs can reference "${contact.name}" directly.
func newRunContext(event *models.TriggerEvent) map[string]any {
	runCtx := map[string]any{}
	if event == nil {
		return runCtx
	}

	trigger := map[string]any{
		"type":      string(event.Type),
		"tenant_id": event.TenantID,
	}
	for k, v := range event.Entity {
		trigger[k] = v
	}
	runCtx["trigger"] = trigger

	if kind := event.Type.RecordKind(); kind != "" && event.Entity != nil {
		entity := make(map[string]any, len(event.Entity))
		for k, v := range event.Entity {
			entity[k] = v
		}
		runCtx[kind] = entity
	}
	return runCtx
}
