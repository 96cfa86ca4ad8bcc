package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulsecrm/backend/internal/actions"
	"pulsecrm/backend/pkg/models"
)

func TestResolveStepConfigInterpolation(t *testing.T) {
	runCtx := map[string]any{
		"trigger": map[string]any{"type": "contact.created"},
		"contact": map[string]any{"name": "Jordan", "email": "jordan@acme.example"},
		"draft":   map[string]any{"text": "Welcome aboard, Jordan!"},
	}

	step := models.Step{
		ID:   "send",
		Type: models.StepSendEmail,
		Config: &models.SendEmailConfig{
			To:      "${contact.email}",
			Subject: "Hello ${contact.name}",
			Body:    "${draft.text}",
		},
	}

	resolved, err := resolveStepConfig(step, runCtx)
	require.NoError(t, err)

	cfg, ok := resolved.(*models.SendEmailConfig)
	require.True(t, ok)
	assert.Equal(t, "jordan@acme.example", cfg.To)
	assert.Equal(t, "Hello Jordan", cfg.Subject)
	assert.Equal(t, "Welcome aboard, Jordan!", cfg.Body)

	// The original config is untouched.
	orig := step.Config.(*models.SendEmailConfig)
	assert.Equal(t, "${contact.email}", orig.To)
}

func TestResolveStepConfigPreservesTypes(t *testing.T) {
	runCtx := map[string]any{
		"deal": map[string]any{"temperature": 0.2},
	}

	step := models.Step{
		ID:   "draft",
		Type: models.StepAITask,
		Config: &models.AITaskConfig{
			Prompt:      "Summarize",
			Temperature: 0.2,
		},
	}

	// A whole-string placeholder keeps the referenced value's JSON type,
	// so a numeric field can be filled from context.
	raw := map[string]any{"x": "${deal.temperature}"}
	resolved, err := resolveValue(raw, runCtx)
	require.NoError(t, err)
	assert.Equal(t, 0.2, resolved.(map[string]any)["x"])

	// Sanity check the typed path too.
	cfg, err := resolveStepConfig(step, runCtx)
	require.NoError(t, err)
	assert.Equal(t, 0.2, cfg.(*models.AITaskConfig).Temperature)
}

func TestResolveStepConfigMissingReference(t *testing.T) {
	step := models.Step{
		ID:   "send",
		Type: models.StepSendEmail,
		Config: &models.SendEmailConfig{
			To:      "${contact.email}",
			Subject: "Hi",
			Body:    "x",
		},
	}

	_, err := resolveStepConfig(step, map[string]any{})
	require.Error(t, err)
	assert.Equal(t, actions.KindInvalidActionConfig, actions.KindOf(err))
	assert.False(t, actions.Retryable(err))
	assert.Contains(t, err.Error(), "contact.email")
}

func TestLookupRunContext(t *testing.T) {
	runCtx := map[string]any{
		"search": map[string]any{
			"results": []any{map[string]any{"title": "a"}},
			"count":   2,
		},
	}

	v, ok := lookupRunContext(runCtx, "search.count")
	require.True(t, ok)
	assert.Equal(t, 2, v)

	_, ok = lookupRunContext(runCtx, "search.results.title")
	assert.False(t, ok, "arrays are not traversable by key")

	_, ok = lookupRunContext(runCtx, "missing")
	assert.False(t, ok)
}
