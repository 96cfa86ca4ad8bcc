// Package models defines the domain models for the automation engine
package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// TriggerType identifies what causes a rule to fire.
type TriggerType string

const (
	TriggerDealCreated    TriggerType = "deal.created"
	TriggerDealUpdated    TriggerType = "deal.updated"
	TriggerDealDeleted    TriggerType = "deal.deleted"
	TriggerContactCreated TriggerType = "contact.created"
	TriggerContactUpdated TriggerType = "contact.updated"
	TriggerTaskCreated    TriggerType = "task.created"
	TriggerTaskCompleted  TriggerType = "task.completed"
	TriggerSchedule       TriggerType = "schedule"
	TriggerManual         TriggerType = "manual"
)

// RecordKind returns the CRM record kind an event type refers to
// ("deal.created" -> "deal"), or "" for schedule/manual triggers.
func (t TriggerType) RecordKind() string {
	s := string(t)
	if i := strings.IndexByte(s, '.'); i > 0 {
		return s[:i]
	}
	return ""
}

// RunStatus represents the lifecycle state of an automation run.
type RunStatus string

const (
	RunStatusRunning RunStatus = "running"
	RunStatusSuccess RunStatus = "success"
	RunStatusError   RunStatus = "error"
)

// AutomationRule is a tenant-defined "when X happens, do Y" rule.
// The engine treats rules as read-only except for LastRunAt.
type AutomationRule struct {
	ID            string      `json:"id" db:"id"`
	TenantID      string      `json:"tenant_id" db:"tenant_id"`
	Name          string      `json:"name" db:"name"`
	Enabled       bool        `json:"enabled" db:"enabled"`
	TriggerType   TriggerType `json:"trigger_type" db:"trigger_type"`
	TriggerFilter *Condition  `json:"trigger_filter,omitempty" db:"trigger_filter"`
	ScheduleCron  string      `json:"schedule_cron,omitempty" db:"schedule_cron"`
	Workflow      []Step      `json:"workflow" db:"workflow"`
	LastRunAt     *time.Time  `json:"last_run_at,omitempty" db:"last_run_at"`
	CreatedAt     time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at" db:"updated_at"`
}

// AutomationRun records one execution attempt of a rule's workflow.
// Immutable once FinishedAt is set.
type AutomationRun struct {
	ID         string         `json:"id" db:"id"`
	RuleID     string         `json:"rule_id" db:"rule_id"`
	TenantID   string         `json:"tenant_id" db:"tenant_id"`
	Status     RunStatus      `json:"status" db:"status"`
	Result     map[string]any `json:"result,omitempty" db:"result"`
	Error      string         `json:"error,omitempty" db:"error"`
	StartedAt  time.Time      `json:"started_at" db:"started_at"`
	FinishedAt *time.Time     `json:"finished_at,omitempty" db:"finished_at"`
}

// TriggerEvent is the transient notification emitted by CRM mutation
// handlers. Entity carries only the changed record's identifying fields.
type TriggerEvent struct {
	Type     TriggerType    `json:"type"`
	TenantID string         `json:"tenant_id"`
	Entity   map[string]any `json:"entity,omitempty"`
}

// Condition is a single field/operator/value predicate, used both as a
// trigger filter and as the config of a condition step.
type Condition struct {
	Field string `json:"field"`
	Op    string `json:"op"`
	Value any    `json:"value,omitempty"`
}

// Supported condition operators.
const (
	OpEquals      = "eq"
	OpNotEquals   = "neq"
	OpContains    = "contains"
	OpGreaterThan = "gt"
	OpLessThan    = "lt"
	OpExists      = "exists"
)

// Evaluate applies the predicate against a payload. The field may be a
// dotted path ("deal.stage"). A missing field satisfies only "neq".
func (c *Condition) Evaluate(payload map[string]any) (bool, error) {
	val, found := lookupPath(payload, c.Field)

	switch c.Op {
	case OpExists:
		return found, nil
	case OpEquals:
		return found && looseEqual(val, c.Value), nil
	case OpNotEquals:
		return !found || !looseEqual(val, c.Value), nil
	case OpContains:
		s, ok := val.(string)
		want := fmt.Sprintf("%v", c.Value)
		return found && ok && containsFold(s, want), nil
	case OpGreaterThan, OpLessThan:
		if !found {
			return false, nil
		}
		a, aok := toFloat(val)
		b, bok := toFloat(c.Value)
		if !aok || !bok {
			return false, fmt.Errorf("condition %q: non-numeric comparison", c.Field)
		}
		if c.Op == OpGreaterThan {
			return a > b, nil
		}
		return a < b, nil
	default:
		return false, fmt.Errorf("unknown condition operator %q", c.Op)
	}
}

// Validate checks the predicate is structurally usable.
func (c *Condition) Validate() error {
	if c.Field == "" {
		return fmt.Errorf("condition: field is required")
	}
	switch c.Op {
	case OpEquals, OpNotEquals, OpContains, OpGreaterThan, OpLessThan, OpExists:
		return nil
	default:
		return fmt.Errorf("condition: unknown operator %q", c.Op)
	}
}

func lookupPath(payload map[string]any, path string) (any, bool) {
	cur := any(payload)
	start := 0
	for i := 0; i <= len(path); i++ {
		if i == len(path) || path[i] == '.' {
			key := path[start:i]
			m, ok := cur.(map[string]any)
			if !ok {
				return nil, false
			}
			cur, ok = m[key]
			if !ok {
				return nil, false
			}
			start = i + 1
		}
	}
	return cur, true
}

func looseEqual(a, b any) bool {
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			return af == bf
		}
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
