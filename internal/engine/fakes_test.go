package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"pulsecrm/backend/internal/actions"
	"pulsecrm/backend/internal/logging"
	"pulsecrm/backend/internal/queue"
	"pulsecrm/backend/internal/repository"
	"pulsecrm/backend/pkg/models"
)

func testLogger() *logging.Logger {
	return logging.NewLoggerWithLevel("error")
}

// fakeRuleStore is an in-memory RuleStore.
type fakeRuleStore struct {
	mu      sync.Mutex
	rules   map[string]*models.AutomationRule
	loadErr map[string]error
}

func newFakeRuleStore(rules ...*models.AutomationRule) *fakeRuleStore {
	s := &fakeRuleStore{
		rules:   make(map[string]*models.AutomationRule),
		loadErr: make(map[string]error),
	}
	for _, r := range rules {
		s.rules[r.ID] = r
	}
	return s
}

func (s *fakeRuleStore) GetRule(ctx context.Context, id string) (*models.AutomationRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.loadErr[id]; ok {
		return nil, err
	}
	r, ok := s.rules[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return r, nil
}

func (s *fakeRuleStore) ListRules(ctx context.Context, tenantID string) ([]*models.AutomationRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.AutomationRule
	for _, r := range s.rules {
		if r.TenantID == tenantID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *fakeRuleStore) ListEnabledByTrigger(ctx context.Context, tenantID string, t models.TriggerType) ([]*models.AutomationRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.AutomationRule
	for _, r := range s.rules {
		if r.TenantID == tenantID && r.Enabled && r.TriggerType == t {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *fakeRuleStore) ListScheduled(ctx context.Context) ([]*models.AutomationRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.AutomationRule
	for _, r := range s.rules {
		if r.Enabled && r.TriggerType == models.TriggerSchedule {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *fakeRuleStore) TouchLastRun(ctx context.Context, ruleID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.rules[ruleID]; ok {
		t := at
		r.LastRunAt = &t
	}
	return nil
}

func (s *fakeRuleStore) CreateRule(ctx context.Context, rule *models.AutomationRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules[rule.ID] = rule
	return nil
}

func (s *fakeRuleStore) lastRunAt(ruleID string) *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.rules[ruleID]; ok {
		return r.LastRunAt
	}
	return nil
}

// fakeRunStore is an in-memory RunStore.
type fakeRunStore struct {
	mu   sync.Mutex
	runs map[string]*models.AutomationRun
}

func newFakeRunStore() *fakeRunStore {
	return &fakeRunStore{runs: make(map[string]*models.AutomationRun)}
}

func (s *fakeRunStore) CreateRun(ctx context.Context, run *models.AutomationRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *run
	s.runs[run.ID] = &cp
	return nil
}

func (s *fakeRunStore) FinishRun(ctx context.Context, runID string, status models.RunStatus, result map[string]any, errText string, finishedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return repository.ErrNotFound
	}
	if run.FinishedAt != nil {
		return fmt.Errorf("run %s already finished", runID)
	}
	run.Status = status
	run.Result = result
	run.Error = errText
	t := finishedAt
	run.FinishedAt = &t
	return nil
}

func (s *fakeRunStore) GetRun(ctx context.Context, id string) (*models.AutomationRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return run, nil
}

func (s *fakeRunStore) ListRunsByRule(ctx context.Context, ruleID string, limit int) ([]*models.AutomationRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.AutomationRun
	for _, r := range s.runs {
		if r.RuleID == ruleID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *fakeRunStore) all() []*models.AutomationRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.AutomationRun
	for _, r := range s.runs {
		out = append(out, r)
	}
	return out
}

// fakeTenantStore serves fixed credentials.
type fakeTenantStore struct {
	creds map[string]*models.TenantCredentials
}

func newFakeTenantStore(creds ...*models.TenantCredentials) *fakeTenantStore {
	s := &fakeTenantStore{creds: make(map[string]*models.TenantCredentials)}
	for _, c := range creds {
		s.creds[c.TenantID] = c
	}
	return s
}

func (s *fakeTenantStore) CreateTenant(ctx context.Context, tenant *models.Tenant) error { return nil }
func (s *fakeTenantStore) GetTenantByDomain(ctx context.Context, domain string) (*models.Tenant, error) {
	return nil, repository.ErrNotFound
}
func (s *fakeTenantStore) GetTenantByAPIKey(ctx context.Context, apiKey string) (*models.Tenant, error) {
	return nil, repository.ErrNotFound
}
func (s *fakeTenantStore) GetCredentials(ctx context.Context, tenantID string) (*models.TenantCredentials, error) {
	c, ok := s.creds[tenantID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return c, nil
}
func (s *fakeTenantStore) UpsertCredentials(ctx context.Context, creds *models.TenantCredentials) error {
	s.creds[creds.TenantID] = creds
	return nil
}

// fakeQueue records enqueued jobs.
type fakeQueue struct {
	mu   sync.Mutex
	jobs []*queue.Job
}

func (q *fakeQueue) Enqueue(ctx context.Context, job *queue.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *fakeQueue) Dequeue(ctx context.Context) (*queue.Job, error) { return nil, nil }
func (q *fakeQueue) Complete(ctx context.Context, jobID string) error { return nil }
func (q *fakeQueue) Fail(ctx context.Context, job *queue.Job, cause error, retryable bool) error {
	return nil
}
func (q *fakeQueue) ReapExpired(ctx context.Context) (int, error) { return 0, nil }

func (q *fakeQueue) enqueued() []*queue.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*queue.Job(nil), q.jobs...)
}

// fakeAction executes a canned function for one step type.
type fakeAction struct {
	stepType models.StepType
	execute  func(ctx context.Context, in actions.Input) (map[string]any, error)
}

func (a *fakeAction) Type() models.StepType { return a.stepType }
func (a *fakeAction) Execute(ctx context.Context, in actions.Input) (map[string]any, error) {
	return a.execute(ctx, in)
}
