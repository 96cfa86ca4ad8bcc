// Package mcp exposes the automation engine to AI assistants over the
// Model Context Protocol. The HTTP mount runs behind the API-key
// middleware, so every tool call arrives with a resolved tenant.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"pulsecrm/backend/internal/auth"
	"pulsecrm/backend/internal/engine"
	"pulsecrm/backend/internal/repository"
)

type Server struct {
	mcpServer *server.MCPServer
	rules     repository.RuleStore
	runs      repository.RunStore
	crm       repository.CRMStore
	matcher   *engine.Matcher
}

func NewServer(rules repository.RuleStore, runs repository.RunStore, crm repository.CRMStore, matcher *engine.Matcher) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"PulseCRM Automations",
			"1.0.0",
			server.WithToolCapabilities(true),
		),
		rules:   rules,
		runs:    runs,
		crm:     crm,
		matcher: matcher,
	}

	s.registerTools()
	return s
}

func (s *Server) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool(
			"list_automations",
			mcp.WithDescription("List the tenant's automation rules"),
		),
		s.handleListAutomations,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"trigger_automation",
			mcp.WithDescription("Queue a manual run of an automation rule; returns the job id"),
			mcp.WithString("rule_id", mcp.Required(), mcp.Description("The ID of the rule to run")),
		),
		s.handleTriggerAutomation,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"list_runs",
			mcp.WithDescription("List recent executions of an automation rule, newest first"),
			mcp.WithString("rule_id", mcp.Required(), mcp.Description("The ID of the rule")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of runs to return")),
		),
		s.handleListRuns,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"crm_summary",
			mcp.WithDescription("Get aggregate CRM stats: open pipeline, deals won this week, overdue tasks"),
		),
		s.handleCRMSummary,
	)
}

func (s *Server) handleListAutomations(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tenantID := auth.TenantID(ctx)
	if tenantID == "" {
		return mcp.NewToolResultError("No tenant in request context"), nil
	}

	rules, err := s.rules.ListRules(ctx, tenantID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list automations: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(rules)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleTriggerAutomation(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tenantID := auth.TenantID(ctx)
	if tenantID == "" {
		return mcp.NewToolResultError("No tenant in request context"), nil
	}

	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}
	ruleID, ok := args["rule_id"].(string)
	if !ok || ruleID == "" {
		return mcp.NewToolResultError("Missing required parameter: rule_id"), nil
	}

	jobID, err := s.matcher.TriggerNow(ctx, ruleID, tenantID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to trigger: %v", err)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf(`{"job_id":%q,"status":"queued"}`, jobID)), nil
}

func (s *Server) handleListRuns(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tenantID := auth.TenantID(ctx)
	if tenantID == "" {
		return mcp.NewToolResultError("No tenant in request context"), nil
	}

	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}
	ruleID, ok := args["rule_id"].(string)
	if !ok || ruleID == "" {
		return mcp.NewToolResultError("Missing required parameter: rule_id"), nil
	}
	limit := 0
	if n, ok := args["limit"].(float64); ok {
		limit = int(n)
	}

	rule, err := s.rules.GetRule(ctx, ruleID)
	if err != nil || rule.TenantID != tenantID {
		return mcp.NewToolResultError("Rule not found"), nil
	}

	runs, err := s.runs.ListRunsByRule(ctx, ruleID, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list runs: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(runs)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleCRMSummary(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tenantID := auth.TenantID(ctx)
	if tenantID == "" {
		return mcp.NewToolResultError("No tenant in request context"), nil
	}

	stats, err := s.crm.DealStats(ctx, tenantID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to load deal stats: %v", err)), nil
	}
	overdue, err := s.crm.OverdueTaskCount(ctx, tenantID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to load task stats: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(map[string]any{
		"open_deals":    stats.OpenCount,
		"open_amount":   stats.OpenAmount,
		"won_this_week": stats.WonThisWeek,
		"overdue_tasks": overdue,
	})
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func MountHTTPHandlers(mux *http.ServeMux, mcpServer *server.MCPServer) {
	// SSE server backs /mcp/sse and /mcp/message; direct POSTs to /mcp
	// are tool calls.
	sseServer := server.NewSSEServer(mcpServer, server.WithStaticBasePath("/mcp"))

	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			sseServer.ServeHTTP(w, r)
			return
		}
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	})

	mux.HandleFunc("/mcp/sse", sseServer.ServeHTTP)
	mux.HandleFunc("/mcp/message", sseServer.ServeHTTP)
}
