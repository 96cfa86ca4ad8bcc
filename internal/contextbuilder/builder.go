// Package contextbuilder assembles the bounded CRM context handed to
// AI-driven actions: aggregate counts (never full records) plus optional
// semantically retrieved text chunks. Everything here is best-effort; a
// failure degrades to "no context available" instead of failing the
// calling action.
package contextbuilder

import (
	"context"
	"fmt"
	"strings"

	"pulsecrm/backend/internal/actions"
	"pulsecrm/backend/internal/logging"
	"pulsecrm/backend/internal/repository"
)

// defaultTopK is how many chunks retrieval returns when unspecified.
const defaultTopK = 5

// Embedder is the slice of the AI client the builder needs.
type Embedder interface {
	Embed(ctx context.Context, apiKey, text string) ([]float32, error)
}

// Builder computes tenant context summaries and retrieval results.
type Builder struct {
	crm      repository.CRMStore
	chunks   repository.ChunkStore
	embedder Embedder
	logger   *logging.Logger
}

// NewBuilder wires the builder.
func NewBuilder(crm repository.CRMStore, chunks repository.ChunkStore, embedder Embedder, logger *logging.Logger) *Builder {
	return &Builder{crm: crm, chunks: chunks, embedder: embedder, logger: logger}
}

// Summary returns a short aggregate description of the tenant's CRM
// state, or "" when the queries fail.
func (b *Builder) Summary(ctx context.Context, tenantID string) string {
	var lines []string

	if stats, err := b.crm.DealStats(ctx, tenantID); err != nil {
		b.logger.Warn("context: deal stats unavailable", "tenant_id", tenantID, "error", err)
	} else {
		lines = append(lines, fmt.Sprintf("Open deals: %d (total value %.2f), won this week: %d",
			stats.OpenCount, stats.OpenAmount, stats.WonThisWeek))
	}

	if overdue, err := b.crm.OverdueTaskCount(ctx, tenantID); err != nil {
		b.logger.Warn("context: task stats unavailable", "tenant_id", tenantID, "error", err)
	} else {
		lines = append(lines, fmt.Sprintf("Overdue tasks: %d", overdue))
	}

	if contacts, err := b.crm.RecentContacts(ctx, tenantID, 5); err != nil {
		b.logger.Warn("context: recent contacts unavailable", "tenant_id", tenantID, "error", err)
	} else if len(contacts) > 0 {
		names := make([]string, 0, len(contacts))
		for _, c := range contacts {
			names = append(names, c.Name)
		}
		lines = append(lines, "Recent contacts: "+strings.Join(names, ", "))
	}

	return strings.Join(lines, "\n")
}

// Retrieve embeds the query and returns the top-K matching chunks as
// labeled lines, or "" when the index is empty or retrieval fails.
func (b *Builder) Retrieve(ctx context.Context, tenantID, apiKey, query string, k int) string {
	if query == "" {
		return ""
	}
	if k <= 0 {
		k = defaultTopK
	}

	embedding, err := b.embedder.Embed(ctx, apiKey, query)
	if err != nil {
		b.logger.Warn("context: embedding unavailable", "tenant_id", tenantID,
			"error", actions.NewError(actions.KindRetrievalUnavailable, err))
		return ""
	}

	chunks, err := b.chunks.SearchChunks(ctx, tenantID, embedding, k)
	if err != nil {
		b.logger.Warn("context: chunk search failed", "tenant_id", tenantID,
			"error", actions.NewError(actions.KindRetrievalUnavailable, err))
		return ""
	}

	var sb strings.Builder
	for _, c := range chunks {
		fmt.Fprintf(&sb, "[%s] %s\n", c.Label, c.Content)
	}
	return strings.TrimRight(sb.String(), "\n")
}

// Build combines the aggregate summary and retrieval for one query.
func (b *Builder) Build(ctx context.Context, tenantID, apiKey, query string) string {
	summary := b.Summary(ctx, tenantID)
	retrieved := b.Retrieve(ctx, tenantID, apiKey, query, defaultTopK)

	switch {
	case summary == "" && retrieved == "":
		return ""
	case retrieved == "":
		return summary
	case summary == "":
		return retrieved
	default:
		return summary + "\n\nRelevant notes:\n" + retrieved
	}
}
