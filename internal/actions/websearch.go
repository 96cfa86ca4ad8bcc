package actions

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"pulsecrm/backend/internal/logging"
	"pulsecrm/backend/pkg/models"
)

// defaultSearchResults bounds a query that names no max_results.
const defaultSearchResults = 5

// WebSearch queries the web search service and exposes the results to
// later steps.
type WebSearch struct {
	baseURL string
	hc      *http.Client
	logger  *logging.Logger
}

// NewWebSearch wires the web_search action.
func NewWebSearch(baseURL string, logger *logging.Logger) *WebSearch {
	return &WebSearch{
		baseURL: strings.TrimRight(baseURL, "/"),
		hc:      newIntegrationClient(),
		logger:  logger,
	}
}

func (a *WebSearch) Type() models.StepType { return models.StepWebSearch }

func (a *WebSearch) Execute(ctx context.Context, in Input) (map[string]any, error) {
	cfg, ok := in.Config.(*models.WebSearchConfig)
	if !ok {
		return nil, NewConfigError(fmt.Errorf("web_search: unexpected config type %T", in.Config))
	}
	if in.Credentials.SearchAPIKey == "" {
		return nil, NewCredentialsError("search API key")
	}

	maxResults := cfg.MaxResults
	if maxResults <= 0 {
		maxResults = defaultSearchResults
	}

	payload := map[string]any{
		"query":       cfg.Query,
		"max_results": maxResults,
	}
	var resp struct {
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Snippet string `json:"snippet"`
		} `json:"results"`
	}
	if err := postJSON(ctx, a.hc, a.baseURL+"/search", in.Credentials.SearchAPIKey, payload, &resp); err != nil {
		return nil, err
	}

	results := make([]any, 0, len(resp.Results))
	for _, r := range resp.Results {
		results = append(results, map[string]any{
			"title":   r.Title,
			"url":     r.URL,
			"snippet": r.Snippet,
		})
	}
	return map[string]any{
		"results": results,
		"count":   len(results),
	}, nil
}
