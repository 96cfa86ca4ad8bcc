package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConditionEvaluate(t *testing.T) {
	payload := map[string]any{
		"deal": map[string]any{
			"stage":  "negotiation",
			"amount": float64(24000),
			"name":   "Acme Renewal",
		},
		"type": "deal.created",
	}

	tests := []struct {
		name string
		cond Condition
		want bool
	}{
		{"eq match", Condition{Field: "deal.stage", Op: OpEquals, Value: "negotiation"}, true},
		{"eq mismatch", Condition{Field: "deal.stage", Op: OpEquals, Value: "won"}, false},
		{"eq numeric cross-type", Condition{Field: "deal.amount", Op: OpEquals, Value: 24000}, true},
		{"neq match", Condition{Field: "deal.stage", Op: OpNotEquals, Value: "won"}, true},
		{"neq on missing field", Condition{Field: "deal.owner", Op: OpNotEquals, Value: "x"}, true},
		{"contains case-insensitive", Condition{Field: "deal.name", Op: OpContains, Value: "acme"}, true},
		{"contains miss", Condition{Field: "deal.name", Op: OpContains, Value: "globex"}, false},
		{"gt", Condition{Field: "deal.amount", Op: OpGreaterThan, Value: 10000}, true},
		{"gt boundary", Condition{Field: "deal.amount", Op: OpGreaterThan, Value: 24000}, false},
		{"lt", Condition{Field: "deal.amount", Op: OpLessThan, Value: 30000}, true},
		{"exists", Condition{Field: "deal.stage", Op: OpExists}, true},
		{"exists miss", Condition{Field: "deal.owner", Op: OpExists}, false},
		{"eq on missing field", Condition{Field: "deal.owner", Op: OpEquals, Value: "x"}, false},
		{"gt on missing field", Condition{Field: "deal.owner", Op: OpGreaterThan, Value: 1}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.cond.Evaluate(payload)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConditionEvaluateErrors(t *testing.T) {
	payload := map[string]any{"deal": map[string]any{"stage": "won"}}

	_, err := (&Condition{Field: "deal.stage", Op: OpGreaterThan, Value: 10}).Evaluate(payload)
	assert.Error(t, err, "comparing a string numerically should fail")

	_, err = (&Condition{Field: "deal.stage", Op: "like", Value: "w"}).Evaluate(payload)
	assert.Error(t, err)
}

func TestConditionValidate(t *testing.T) {
	assert.NoError(t, (&Condition{Field: "deal.stage", Op: OpEquals, Value: "won"}).Validate())
	assert.Error(t, (&Condition{Op: OpEquals}).Validate())
	assert.Error(t, (&Condition{Field: "x", Op: "like"}).Validate())
}

func TestTriggerTypeRecordKind(t *testing.T) {
	assert.Equal(t, "deal", TriggerDealCreated.RecordKind())
	assert.Equal(t, "contact", TriggerContactUpdated.RecordKind())
	assert.Equal(t, "task", TriggerTaskCompleted.RecordKind())
	assert.Equal(t, "", TriggerSchedule.RecordKind())
	assert.Equal(t, "", TriggerManual.RecordKind())
}
