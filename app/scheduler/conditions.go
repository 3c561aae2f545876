package scheduler

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/mailtide/mailtide/models"
)

// FieldAccessor resolves a dot-separated field path against an event or
// subscriber payload. The second return reports whether the path is defined;
// a missing intermediate node makes the whole path undefined.
type FieldAccessor interface {
	Field(path string) (any, bool)
}

// MatchesConditions evaluates a condition list conjunctively against the
// payload. An empty list always matches. The evaluation is pure: no side
// effects, deterministic for a given payload.
func MatchesConditions(payload FieldAccessor, conditions []models.Condition) bool {
	for _, c := range conditions {
		if !matchesCondition(payload, c) {
			return false
		}
	}
	return true
}

func matchesCondition(payload FieldAccessor, c models.Condition) bool {
	value, defined := payload.Field(c.Field)
	if value == nil {
		defined = false
	}

	switch c.Operator {
	case models.ConditionOperatorExists:
		return defined
	case models.ConditionOperatorNotExists:
		return !defined
	}
	// An undefined field satisfies nothing but not_exists.
	if !defined {
		return false
	}

	switch c.Operator {
	case models.ConditionOperatorEquals:
		return looselyEqual(value, c.Value)
	case models.ConditionOperatorNotEquals:
		return !looselyEqual(value, c.Value)
	case models.ConditionOperatorContains:
		return containsValue(value, c.Value)
	case models.ConditionOperatorNotContains:
		return !containsValue(value, c.Value)
	case models.ConditionOperatorGreaterThan:
		return compareValues(value, c.Value) > 0
	case models.ConditionOperatorLessThan:
		return compareValues(value, c.Value) < 0
	default:
		return false
	}
}

// looselyEqual compares numerically when both operands parse as numbers and
// falls back to string comparison otherwise, so "42" and 42 stay equal across
// JSON decoding round-trips.
func looselyEqual(a, b any) bool {
	if fa, ok := numericValue(a); ok {
		if fb, ok := numericValue(b); ok {
			return fa == fb
		}
	}
	return stringValue(a) == stringValue(b)
}

// containsValue checks element equality for slices and substring containment
// for everything else. Both operands are coerced to strings.
func containsValue(value, target any) bool {
	want := stringValue(target)
	switch v := value.(type) {
	case []string:
		for _, el := range v {
			if el == want {
				return true
			}
		}
		return false
	case []any:
		for _, el := range v {
			if stringValue(el) == want {
				return true
			}
		}
		return false
	default:
		return strings.Contains(stringValue(value), want)
	}
}

func compareValues(a, b any) int {
	if fa, ok := numericValue(a); ok {
		if fb, ok := numericValue(b); ok {
			switch {
			case fa > fb:
				return 1
			case fa < fb:
				return -1
			default:
				return 0
			}
		}
	}
	return strings.Compare(stringValue(a), stringValue(b))
}

func numericValue(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func stringValue(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case bool:
		return strconv.FormatBool(s)
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case json.Number:
		return s.String()
	default:
		return fmt.Sprintf("%v", s)
	}
}
