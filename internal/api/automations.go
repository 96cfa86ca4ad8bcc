package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"pulsecrm/backend/internal/auth"
	"pulsecrm/backend/internal/engine"
	"pulsecrm/backend/internal/logging"
	"pulsecrm/backend/internal/repository"
	"pulsecrm/backend/pkg/models"
)

// defaultRunPageSize is the runs listing page size when none is given.
const defaultRunPageSize = 20

// Server holds the dependencies for the automation API.
type Server struct {
	rules   repository.RuleStore
	runs    repository.RunStore
	matcher *engine.Matcher
	logger  *logging.Logger
}

// NewServer creates the API server.
func NewServer(rules repository.RuleStore, runs repository.RunStore, matcher *engine.Matcher, logger *logging.Logger) *Server {
	return &Server{rules: rules, runs: runs, matcher: matcher, logger: logger}
}

// Register mounts the handlers on an echo group. The group is expected
// to carry the auth middleware already.
func (s *Server) Register(g *echo.Group) {
	g.GET("/automations", s.ListAutomations)
	g.GET("/automations/:id", s.GetAutomation)
	g.POST("/automations/:id/trigger", s.TriggerAutomation)
	g.GET("/automations/:id/runs", s.ListRuns)
	g.GET("/runs/:id", s.GetRun)
	g.POST("/events", s.PostEvent)
}

// ListAutomations returns the tenant's rules, newest first.
// (GET /api/v1/automations)
func (s *Server) ListAutomations(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := auth.TenantID(ctx)

	rules, err := s.rules.ListRules(ctx, tenantID)
	if err != nil {
		s.logger.Error("list rules failed", "tenant_id", tenantID, "error", err)
		return problem(c, http.StatusInternalServerError, "Internal Server Error", "failed to list automations")
	}
	return c.JSON(http.StatusOK, rules)
}

// GetAutomation returns one rule.
// (GET /api/v1/automations/:id)
func (s *Server) GetAutomation(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := auth.TenantID(ctx)

	rule, err := s.rules.GetRule(ctx, c.Param("id"))
	if err != nil || rule.TenantID != tenantID {
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			s.logger.Error("get rule failed", "rule_id", c.Param("id"), "error", err)
		}
		return problem(c, http.StatusNotFound, "Not Found", "rule not found")
	}
	return c.JSON(http.StatusOK, rule)
}

// TriggerResponse acknowledges a manual trigger with the queued job id.
type TriggerResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// TriggerAutomation enqueues a manual run of a rule and returns the job
// id immediately; execution happens asynchronously.
// (POST /api/v1/automations/:id/trigger)
func (s *Server) TriggerAutomation(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := auth.TenantID(ctx)

	jobID, err := s.matcher.TriggerNow(ctx, c.Param("id"), tenantID)
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrRuleIDRequired):
			return problem(c, http.StatusBadRequest, "Bad Request", err.Error())
		case errors.Is(err, engine.ErrRuleNotFound):
			return problem(c, http.StatusNotFound, "Not Found", err.Error())
		default:
			s.logger.Error("manual trigger failed", "rule_id", c.Param("id"), "error", err)
			return problem(c, http.StatusInternalServerError, "Internal Server Error", "failed to trigger automation")
		}
	}
	return c.JSON(http.StatusAccepted, TriggerResponse{JobID: jobID, Status: "queued"})
}

// ListRuns returns a rule's execution history, newest first.
// (GET /api/v1/automations/:id/runs)
func (s *Server) ListRuns(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := auth.TenantID(ctx)
	ruleID := c.Param("id")

	// The rule lookup doubles as the tenant check for the run listing.
	rule, err := s.rules.GetRule(ctx, ruleID)
	if err != nil || rule.TenantID != tenantID {
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			s.logger.Error("get rule failed", "rule_id", ruleID, "error", err)
		}
		return problem(c, http.StatusNotFound, "Not Found", "rule not found")
	}

	limit := defaultRunPageSize
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return problem(c, http.StatusBadRequest, "Bad Request", "limit must be a positive integer")
		}
		limit = n
	}

	runs, err := s.runs.ListRunsByRule(ctx, ruleID, limit)
	if err != nil {
		s.logger.Error("list runs failed", "rule_id", ruleID, "error", err)
		return problem(c, http.StatusInternalServerError, "Internal Server Error", "failed to list runs")
	}
	return c.JSON(http.StatusOK, runs)
}

// GetRun returns one execution record.
// (GET /api/v1/runs/:id)
func (s *Server) GetRun(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := auth.TenantID(ctx)

	run, err := s.runs.GetRun(ctx, c.Param("id"))
	if err != nil || run.TenantID != tenantID {
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			s.logger.Error("get run failed", "run_id", c.Param("id"), "error", err)
		}
		return problem(c, http.StatusNotFound, "Not Found", "run not found")
	}
	return c.JSON(http.StatusOK, run)
}

// EventRequest is a CRM domain event posted by the application tier.
type EventRequest struct {
	Type   models.TriggerType `json:"type"`
	Entity map[string]any     `json:"entity"`
}

// EventResponse reports how many rules the event matched.
type EventResponse struct {
	Matched int `json:"matched"`
}

// PostEvent runs trigger matching for a domain event and enqueues a job
// per matching rule.
// (POST /api/v1/events)
func (s *Server) PostEvent(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := auth.TenantID(ctx)

	var req EventRequest
	if err := c.Bind(&req); err != nil {
		return problem(c, http.StatusBadRequest, "Bad Request", "invalid request body: "+err.Error())
	}
	if req.Type == "" {
		return problem(c, http.StatusBadRequest, "Bad Request", "type is required")
	}

	matched, err := s.matcher.OnEvent(ctx, models.TriggerEvent{
		Type:     req.Type,
		TenantID: tenantID,
		Entity:   req.Entity,
	})
	if err != nil {
		s.logger.Error("event matching failed", "tenant_id", tenantID, "type", req.Type, "error", err)
		return problem(c, http.StatusInternalServerError, "Internal Server Error", "failed to process event")
	}
	return c.JSON(http.StatusAccepted, EventResponse{Matched: matched})
}
