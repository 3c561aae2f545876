package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mailtide/mailtide/models"
	"github.com/mailtide/mailtide/utils"
)

func TestPersonalize(t *testing.T) {
	payload := mapPayload{
		"first_name": "Ada",
		"city":       "London",
		"tags":       []string{"beta", "newsletter"},
		"score":      float64(7),
	}

	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "replaces a single placeholder", in: "Hi {{first_name}}!", want: "Hi Ada!"},
		{name: "replaces repeated placeholders", in: "{{first_name}} and {{first_name}}", want: "Ada and Ada"},
		{name: "tolerates whitespace inside the braces", in: "Hi {{ first_name }}", want: "Hi Ada"},
		{name: "unknown fields collapse to the empty string", in: "Dear {{nickname}},", want: "Dear ,"},
		{name: "list values join with commas", in: "Lists: {{tags}}", want: "Lists: beta, newsletter"},
		{name: "numbers render without a decimal tail", in: "Score {{score}}", want: "Score 7"},
		{name: "text without placeholders passes through", in: "plain text", want: "plain text"},
		{name: "an empty string stays empty", in: "", want: ""},
		{name: "unclosed braces are left alone", in: "Hi {{first_name", want: "Hi {{first_name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Personalize(tt.in, payload))
		})
	}
}

func TestPersonalizeSubscriberFields(t *testing.T) {
	sub := &models.Subscriber{
		Email:     "ada@example.com",
		FirstName: utils.ToPtr("Ada"),
		LastName:  utils.ToPtr("Lovelace"),
		CustomFields: models.CustomFields{
			"company": map[string]any{"name": "Analytical Engines Ltd"},
		},
	}
	payload := NewSubscriberPayload(sub)

	out := Personalize("{{name}} <{{email}}> at {{custom.company.name}}", payload)
	assert.Equal(t, "Ada Lovelace <ada@example.com> at Analytical Engines Ltd", out)
}
