// Package actions implements the pluggable action executors an automation
// workflow is composed of, and the registry that dispatches step types to
// them.
package actions

import (
	"context"

	"pulsecrm/backend/pkg/models"
)

// Input carries everything an action may need for one execution. The
// orchestrator resolves placeholders in Config before the call, so actions
// see concrete values only.
type Input struct {
	TenantID    string
	Config      models.StepConfig
	RunContext  map[string]any
	Credentials *models.TenantCredentials
}

// Action executes one step kind. Output keys become visible to later
// steps under the step's ID in the run context.
type Action interface {
	// Type returns the step type this action handles.
	Type() models.StepType
	// Execute performs the action. The context carries the per-step
	// deadline; failures must be *actions.Error values.
	Execute(ctx context.Context, in Input) (map[string]any, error)
}

// Registry maps step types to their executors. It is populated once at
// startup; lookups after that are read-only.
type Registry struct {
	actions map[models.StepType]Action
}

// NewRegistry builds a registry from the given actions.
func NewRegistry(acts ...Action) *Registry {
	r := &Registry{actions: make(map[models.StepType]Action, len(acts))}
	for _, a := range acts {
		r.actions[a.Type()] = a
	}
	return r
}

// Get returns the action for a step type, or an UnknownActionType error.
func (r *Registry) Get(t models.StepType) (Action, error) {
	a, ok := r.actions[t]
	if !ok {
		return nil, NewUnknownTypeError(string(t))
	}
	return a, nil
}

// Types lists the registered step types.
func (r *Registry) Types() []models.StepType {
	out := make([]models.StepType, 0, len(r.actions))
	for t := range r.actions {
		out = append(out, t)
	}
	return out
}
