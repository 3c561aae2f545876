package scheduler

import (
	"regexp"
	"strings"
)

var placeholderRe = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_.]+)\s*\}\}`)

// Personalize substitutes {{field}} placeholders with values resolved from
// the payload. Unknown fields collapse to the empty string so a half-filled
// profile never leaks raw placeholders into a delivered message.
func Personalize(text string, payload FieldAccessor) string {
	if text == "" || !strings.Contains(text, "{{") {
		return text
	}
	return placeholderRe.ReplaceAllStringFunc(text, func(match string) string {
		groups := placeholderRe.FindStringSubmatch(match)
		if len(groups) < 2 {
			return ""
		}
		value, ok := payload.Field(groups[1])
		if !ok {
			return ""
		}
		return fieldString(value)
	})
}

func fieldString(v any) string {
	switch s := v.(type) {
	case []string:
		return strings.Join(s, ", ")
	case []any:
		parts := make([]string, 0, len(s))
		for _, el := range s {
			parts = append(parts, stringValue(el))
		}
		return strings.Join(parts, ", ")
	default:
		return stringValue(v)
	}
}
