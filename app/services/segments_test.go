package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailtide/mailtide/models"
)

func segmentWith(match models.SegmentMatch, rules ...models.SegmentRule) *models.Segment {
	return &models.Segment{
		ID:         1,
		CustomerID: 1,
		Name:       "Waitlist",
		Match:      match,
		Rules:      rules,
	}
}

func TestBuildPredicateStandardColumns(t *testing.T) {
	svc := NewSegmentationService()

	tests := []struct {
		name      string
		rule      models.SegmentRule
		wantQuery string
		wantArgs  []any
	}{
		{
			name:      "equals",
			rule:      models.SegmentRule{Field: "email", Operator: models.ConditionOperatorEquals, Value: "ada@example.com"},
			wantQuery: "(subscribers.email = ?)",
			wantArgs:  []any{"ada@example.com"},
		},
		{
			name:      "not equals",
			rule:      models.SegmentRule{Field: "status", Operator: models.ConditionOperatorNotEquals, Value: "bounced"},
			wantQuery: "(subscribers.status IS DISTINCT FROM ?)",
			wantArgs:  []any{"bounced"},
		},
		{
			name:      "contains",
			rule:      models.SegmentRule{Field: "first_name", Operator: models.ConditionOperatorContains, Value: "ada"},
			wantQuery: "(subscribers.first_name ILIKE ?)",
			wantArgs:  []any{"%ada%"},
		},
		{
			name:      "not contains treats null as empty",
			rule:      models.SegmentRule{Field: "last_name", Operator: models.ConditionOperatorNotContains, Value: "test"},
			wantQuery: "(COALESCE(subscribers.last_name, '') NOT ILIKE ?)",
			wantArgs:  []any{"%test%"},
		},
		{
			name:      "greater than",
			rule:      models.SegmentRule{Field: "created_at", Operator: models.ConditionOperatorGreaterThan, Value: "2025-01-01"},
			wantQuery: "(subscribers.created_at > ?)",
			wantArgs:  []any{"2025-01-01"},
		},
		{
			name:      "less than",
			rule:      models.SegmentRule{Field: "created_at", Operator: models.ConditionOperatorLessThan, Value: "2025-06-01"},
			wantQuery: "(subscribers.created_at < ?)",
			wantArgs:  []any{"2025-06-01"},
		},
		{
			name:      "exists",
			rule:      models.SegmentRule{Field: "first_name", Operator: models.ConditionOperatorExists},
			wantQuery: "(subscribers.first_name IS NOT NULL)",
			wantArgs:  []any{},
		},
		{
			name:      "not exists",
			rule:      models.SegmentRule{Field: "last_name", Operator: models.ConditionOperatorNotExists},
			wantQuery: "(subscribers.last_name IS NULL)",
			wantArgs:  []any{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pred, err := svc.BuildPredicate(segmentWith(models.SegmentMatchAll, tt.rule))
			require.NoError(t, err)
			assert.Equal(t, tt.wantQuery, pred.Query)
			assert.Equal(t, tt.wantArgs, pred.Args)
		})
	}
}

func TestBuildPredicateCustomFields(t *testing.T) {
	svc := NewSegmentationService()

	tests := []struct {
		name      string
		rule      models.SegmentRule
		wantQuery string
		wantArgs  []any
	}{
		{
			name:      "equals keeps the key as a bind argument",
			rule:      models.SegmentRule{Field: "custom.plan", Operator: models.ConditionOperatorEquals, Value: "pro"},
			wantQuery: "(subscribers.custom_fields->>? = ?)",
			wantArgs:  []any{"plan", "pro"},
		},
		{
			name:      "equals stringifies non-string values",
			rule:      models.SegmentRule{Field: "custom.seats", Operator: models.ConditionOperatorEquals, Value: 12},
			wantQuery: "(subscribers.custom_fields->>? = ?)",
			wantArgs:  []any{"seats", "12"},
		},
		{
			name:      "not equals",
			rule:      models.SegmentRule{Field: "custom.plan", Operator: models.ConditionOperatorNotEquals, Value: "free"},
			wantQuery: "(subscribers.custom_fields->>? IS DISTINCT FROM ?)",
			wantArgs:  []any{"plan", "free"},
		},
		{
			name:      "contains",
			rule:      models.SegmentRule{Field: "custom.company", Operator: models.ConditionOperatorContains, Value: "inc"},
			wantQuery: "(subscribers.custom_fields->>? ILIKE ?)",
			wantArgs:  []any{"company", "%inc%"},
		},
		{
			name:      "not contains",
			rule:      models.SegmentRule{Field: "custom.company", Operator: models.ConditionOperatorNotContains, Value: "llc"},
			wantQuery: "(COALESCE(subscribers.custom_fields->>?, '') NOT ILIKE ?)",
			wantArgs:  []any{"company", "%llc%"},
		},
		{
			name:      "numeric comparison casts the extracted text",
			rule:      models.SegmentRule{Field: "custom.seats", Operator: models.ConditionOperatorGreaterThan, Value: 10},
			wantQuery: "((subscribers.custom_fields->>?)::numeric > ?)",
			wantArgs:  []any{"seats", 10},
		},
		{
			name:      "string comparison stays textual",
			rule:      models.SegmentRule{Field: "custom.tier", Operator: models.ConditionOperatorGreaterThan, Value: "bronze"},
			wantQuery: "(subscribers.custom_fields->>? > ?)",
			wantArgs:  []any{"tier", "bronze"},
		},
		{
			name:      "numeric less than",
			rule:      models.SegmentRule{Field: "custom.seats", Operator: models.ConditionOperatorLessThan, Value: 3.5},
			wantQuery: "((subscribers.custom_fields->>?)::numeric < ?)",
			wantArgs:  []any{"seats", 3.5},
		},
		{
			name:      "exists uses the function form",
			rule:      models.SegmentRule{Field: "custom.plan", Operator: models.ConditionOperatorExists},
			wantQuery: "(jsonb_exists(subscribers.custom_fields, ?))",
			wantArgs:  []any{"plan"},
		},
		{
			name:      "not exists tolerates a null column",
			rule:      models.SegmentRule{Field: "custom.plan", Operator: models.ConditionOperatorNotExists},
			wantQuery: "(NOT jsonb_exists(COALESCE(subscribers.custom_fields, '{}'::jsonb), ?))",
			wantArgs:  []any{"plan"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pred, err := svc.BuildPredicate(segmentWith(models.SegmentMatchAll, tt.rule))
			require.NoError(t, err)
			assert.Equal(t, tt.wantQuery, pred.Query)
			assert.Equal(t, tt.wantArgs, pred.Args)
		})
	}
}

func TestBuildPredicateMatchModes(t *testing.T) {
	svc := NewSegmentationService()
	rules := []models.SegmentRule{
		{Field: "status", Operator: models.ConditionOperatorEquals, Value: "active"},
		{Field: "custom.plan", Operator: models.ConditionOperatorEquals, Value: "pro"},
	}

	all, err := svc.BuildPredicate(segmentWith(models.SegmentMatchAll, rules...))
	require.NoError(t, err)
	assert.Equal(t, "(subscribers.status = ? AND subscribers.custom_fields->>? = ?)", all.Query)
	assert.Equal(t, []any{"active", "plan", "pro"}, all.Args)

	anyOf, err := svc.BuildPredicate(segmentWith(models.SegmentMatchAny, rules...))
	require.NoError(t, err)
	assert.Equal(t, "(subscribers.status = ? OR subscribers.custom_fields->>? = ?)", anyOf.Query)
	assert.Equal(t, []any{"active", "plan", "pro"}, anyOf.Args)
}

func TestBuildPredicateEdgeCases(t *testing.T) {
	svc := NewSegmentationService()

	_, err := svc.BuildPredicate(nil)
	assert.ErrorContains(t, err, "segment is required")

	pred, err := svc.BuildPredicate(segmentWith(models.SegmentMatchAll))
	require.NoError(t, err)
	assert.Equal(t, "1 = 1", pred.Query)
	assert.Empty(t, pred.Args)
}

func TestBuildPredicateCompilationErrors(t *testing.T) {
	svc := NewSegmentationService()

	_, err := svc.BuildPredicate(segmentWith(models.SegmentMatchAll,
		models.SegmentRule{Field: "shoe_size", Operator: models.ConditionOperatorEquals, Value: "42"}))
	assert.ErrorContains(t, err, `segment "Waitlist" rule 0`)
	assert.ErrorContains(t, err, `unknown segment field "shoe_size"`)

	_, err = svc.BuildPredicate(segmentWith(models.SegmentMatchAll,
		models.SegmentRule{Field: "email", Operator: "resembles", Value: "x"}))
	assert.ErrorContains(t, err, `unknown segment operator "resembles"`)

	_, err = svc.BuildPredicate(segmentWith(models.SegmentMatchAll,
		models.SegmentRule{Field: "custom.plan", Operator: "resembles", Value: "x"}))
	assert.ErrorContains(t, err, `unknown segment operator "resembles"`)

	_, err = svc.BuildPredicate(segmentWith(models.SegmentMatchAll,
		models.SegmentRule{Field: "custom.", Operator: models.ConditionOperatorEquals, Value: "x"}))
	assert.ErrorContains(t, err, "empty custom field name")

	_, err = svc.BuildPredicate(segmentWith(models.SegmentMatchAll,
		models.SegmentRule{Field: "email", Operator: models.ConditionOperatorEquals, Value: "good"},
		models.SegmentRule{Field: "bad", Operator: models.ConditionOperatorEquals, Value: "x"}))
	assert.ErrorContains(t, err, `rule 1`, "the failing rule's index is reported")
}

func TestLikePatternEscaping(t *testing.T) {
	svc := NewSegmentationService()

	pred, err := svc.BuildPredicate(segmentWith(models.SegmentMatchAll,
		models.SegmentRule{Field: "email", Operator: models.ConditionOperatorContains, Value: `50%_off\`}))
	require.NoError(t, err)
	assert.Equal(t, []any{`%50\%\_off\\%`}, pred.Args)
}
