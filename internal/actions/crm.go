package actions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pulsecrm/backend/internal/logging"
	"pulsecrm/backend/internal/repository"
	"pulsecrm/backend/pkg/models"
)

// CreateTask inserts a follow-up task into the tenant's CRM.
type CreateTask struct {
	crm    repository.CRMStore
	logger *logging.Logger
}

// NewCreateTask wires the crm_create_task action.
func NewCreateTask(crm repository.CRMStore, logger *logging.Logger) *CreateTask {
	return &CreateTask{crm: crm, logger: logger}
}

func (a *CreateTask) Type() models.StepType { return models.StepCreateTask }

func (a *CreateTask) Execute(ctx context.Context, in Input) (map[string]any, error) {
	cfg, ok := in.Config.(*models.CreateTaskConfig)
	if !ok {
		return nil, NewConfigError(fmt.Errorf("crm_create_task: unexpected config type %T", in.Config))
	}

	var dueAt *time.Time
	if cfg.DueHours > 0 {
		t := time.Now().Add(time.Duration(cfg.DueHours) * time.Hour)
		dueAt = &t
	}

	id, err := a.crm.CreateTask(ctx, in.TenantID, cfg.Title, dueAt)
	if err != nil {
		return nil, NewExecutionError(0, "", fmt.Errorf("create task: %w", err))
	}

	a.logger.Info("task created", "tenant_id", in.TenantID, "task_id", id)
	out := map[string]any{"task_id": id, "title": cfg.Title}
	if dueAt != nil {
		out["due_at"] = dueAt.UTC().Format(time.RFC3339)
	}
	return out, nil
}

// UpdateDeal sets one whitelisted field on a deal.
type UpdateDeal struct {
	crm    repository.CRMStore
	logger *logging.Logger
}

// NewUpdateDeal wires the crm_update_deal action.
func NewUpdateDeal(crm repository.CRMStore, logger *logging.Logger) *UpdateDeal {
	return &UpdateDeal{crm: crm, logger: logger}
}

func (a *UpdateDeal) Type() models.StepType { return models.StepUpdateDeal }

func (a *UpdateDeal) Execute(ctx context.Context, in Input) (map[string]any, error) {
	cfg, ok := in.Config.(*models.UpdateDealConfig)
	if !ok {
		return nil, NewConfigError(fmt.Errorf("crm_update_deal: unexpected config type %T", in.Config))
	}

	err := a.crm.UpdateDeal(ctx, in.TenantID, cfg.DealID, cfg.Field, cfg.Value)
	if err != nil {
		// A missing deal is a configuration problem, not a transient
		// failure; retrying cannot make the row appear.
		if errors.Is(err, repository.ErrNotFound) {
			return nil, NewConfigError(fmt.Errorf("crm_update_deal: deal %s not found", cfg.DealID))
		}
		return nil, NewExecutionError(0, "", fmt.Errorf("update deal: %w", err))
	}

	a.logger.Info("deal updated",
		"tenant_id", in.TenantID,
		"deal_id", cfg.DealID,
		"field", cfg.Field)
	return map[string]any{
		"deal_id": cfg.DealID,
		"field":   cfg.Field,
		"value":   cfg.Value,
	}, nil
}

// CreateContact inserts a contact into the tenant's CRM.
type CreateContact struct {
	crm    repository.CRMStore
	logger *logging.Logger
}

// NewCreateContact wires the crm_create_contact action.
func NewCreateContact(crm repository.CRMStore, logger *logging.Logger) *CreateContact {
	return &CreateContact{crm: crm, logger: logger}
}

func (a *CreateContact) Type() models.StepType { return models.StepCreateContact }

func (a *CreateContact) Execute(ctx context.Context, in Input) (map[string]any, error) {
	cfg, ok := in.Config.(*models.CreateContactConfig)
	if !ok {
		return nil, NewConfigError(fmt.Errorf("crm_create_contact: unexpected config type %T", in.Config))
	}

	id, err := a.crm.CreateContact(ctx, in.TenantID, cfg.Name, cfg.Email)
	if err != nil {
		return nil, NewExecutionError(0, "", fmt.Errorf("create contact: %w", err))
	}

	a.logger.Info("contact created", "tenant_id", in.TenantID, "contact_id", id)
	return map[string]any{"contact_id": id, "name": cfg.Name}, nil
}
