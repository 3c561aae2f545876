package services

import (
	"fmt"
	"strings"

	"github.com/mailtide/mailtide/models"
)

// SegmentationService compiles a stored segment's rules into a SQL predicate
// over the subscribers table, ready to be ORed into the recipient query.
type SegmentationService interface {
	BuildPredicate(segment *models.Segment) (*models.SegmentPredicate, error)
}

// SegmentationServiceImpl implements SegmentationService
type SegmentationServiceImpl struct{}

// NewSegmentationService creates a new segmentation service
func NewSegmentationService() SegmentationService {
	return &SegmentationServiceImpl{}
}

// subscriberColumns whitelists the standard fields segment rules may reference
var subscriberColumns = map[string]string{
	"email":      "subscribers.email",
	"first_name": "subscribers.first_name",
	"last_name":  "subscribers.last_name",
	"status":     "subscribers.status",
	"created_at": "subscribers.created_at",
}

const customFieldPrefix = "custom."

// BuildPredicate compiles the segment. Rules combine per the segment's match
// mode (all=AND, any=OR). A segment without rules matches every sendable
// subscriber of the customer. Unknown fields or operators fail compilation;
// the caller records the whole execution as failed rather than guessing.
func (s *SegmentationServiceImpl) BuildPredicate(segment *models.Segment) (*models.SegmentPredicate, error) {
	if segment == nil {
		return nil, fmt.Errorf("segment is required")
	}
	if len(segment.Rules) == 0 {
		return &models.SegmentPredicate{Query: "1 = 1"}, nil
	}

	parts := make([]string, 0, len(segment.Rules))
	args := make([]any, 0, len(segment.Rules)*2)
	for i, rule := range segment.Rules {
		query, ruleArgs, err := compileRule(rule)
		if err != nil {
			return nil, fmt.Errorf("segment %q rule %d: %w", segment.Name, i, err)
		}
		parts = append(parts, query)
		args = append(args, ruleArgs...)
	}

	joiner := " AND "
	if segment.Match == models.SegmentMatchAny {
		joiner = " OR "
	}
	return &models.SegmentPredicate{
		Query: "(" + strings.Join(parts, joiner) + ")",
		Args:  args,
	}, nil
}

func compileRule(rule models.SegmentRule) (string, []any, error) {
	if strings.HasPrefix(rule.Field, customFieldPrefix) {
		key := strings.TrimPrefix(rule.Field, customFieldPrefix)
		if key == "" {
			return "", nil, fmt.Errorf("empty custom field name")
		}
		return compileCustomRule(key, rule)
	}

	column, ok := subscriberColumns[rule.Field]
	if !ok {
		return "", nil, fmt.Errorf("unknown segment field %q", rule.Field)
	}

	switch rule.Operator {
	case models.ConditionOperatorEquals:
		return column + " = ?", []any{rule.Value}, nil
	case models.ConditionOperatorNotEquals:
		return column + " IS DISTINCT FROM ?", []any{rule.Value}, nil
	case models.ConditionOperatorContains:
		return column + " ILIKE ?", []any{likePattern(rule.Value)}, nil
	case models.ConditionOperatorNotContains:
		return "COALESCE(" + column + ", '') NOT ILIKE ?", []any{likePattern(rule.Value)}, nil
	case models.ConditionOperatorGreaterThan:
		return column + " > ?", []any{rule.Value}, nil
	case models.ConditionOperatorLessThan:
		return column + " < ?", []any{rule.Value}, nil
	case models.ConditionOperatorExists:
		return column + " IS NOT NULL", nil, nil
	case models.ConditionOperatorNotExists:
		return column + " IS NULL", nil, nil
	default:
		return "", nil, fmt.Errorf("unknown segment operator %q", rule.Operator)
	}
}

// compileCustomRule targets the custom_fields JSONB column. The key travels
// as a bind argument, never as SQL text. jsonb_exists is the function form of
// the ? operator, which would otherwise collide with bind placeholders.
func compileCustomRule(key string, rule models.SegmentRule) (string, []any, error) {
	const value = "subscribers.custom_fields->>?"

	switch rule.Operator {
	case models.ConditionOperatorEquals:
		return value + " = ?", []any{key, stringValue(rule.Value)}, nil
	case models.ConditionOperatorNotEquals:
		return value + " IS DISTINCT FROM ?", []any{key, stringValue(rule.Value)}, nil
	case models.ConditionOperatorContains:
		return value + " ILIKE ?", []any{key, likePattern(rule.Value)}, nil
	case models.ConditionOperatorNotContains:
		return "COALESCE(" + value + ", '') NOT ILIKE ?", []any{key, likePattern(rule.Value)}, nil
	case models.ConditionOperatorGreaterThan:
		if isNumeric(rule.Value) {
			return "(" + value + ")::numeric > ?", []any{key, rule.Value}, nil
		}
		return value + " > ?", []any{key, stringValue(rule.Value)}, nil
	case models.ConditionOperatorLessThan:
		if isNumeric(rule.Value) {
			return "(" + value + ")::numeric < ?", []any{key, rule.Value}, nil
		}
		return value + " < ?", []any{key, stringValue(rule.Value)}, nil
	case models.ConditionOperatorExists:
		return "jsonb_exists(subscribers.custom_fields, ?)", []any{key}, nil
	case models.ConditionOperatorNotExists:
		return "NOT jsonb_exists(COALESCE(subscribers.custom_fields, '{}'::jsonb), ?)", []any{key}, nil
	default:
		return "", nil, fmt.Errorf("unknown segment operator %q", rule.Operator)
	}
}

func stringValue(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func likePattern(v any) string {
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(stringValue(v))
	return "%" + escaped + "%"
}

func isNumeric(v any) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return true
	default:
		return false
	}
}
