package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mailtide/mailtide/models"
	"github.com/mailtide/mailtide/utils"
)

func payloadSubscriber() *models.Subscriber {
	return &models.Subscriber{
		ID:         1,
		CustomerID: 1,
		Email:      "grace@example.com",
		FirstName:  utils.ToPtr("Grace"),
		LastName:   utils.ToPtr("Hopper"),
		Status:     models.SubscriberStatusActive,
		CustomFields: models.CustomFields{
			"plan":  "pro",
			"seats": float64(12),
			"company": map[string]any{
				"name": "Compilers Inc",
				"address": map[string]any{
					"city": "Arlington",
				},
			},
		},
		Tags:   []models.Tag{{Name: "vip"}, {Name: "beta"}},
		Groups: []models.Group{{Name: "weekly-digest"}},
	}
}

func TestSubscriberPayloadFields(t *testing.T) {
	payload := NewSubscriberPayload(payloadSubscriber())

	tests := []struct {
		name      string
		path      string
		want      any
		undefined bool
	}{
		{name: "email", path: "email", want: "grace@example.com"},
		{name: "first name", path: "first_name", want: "Grace"},
		{name: "last name", path: "last_name", want: "Hopper"},
		{name: "full name", path: "name", want: "Grace Hopper"},
		{name: "status", path: "status", want: "active"},
		{name: "tags", path: "tags", want: []string{"vip", "beta"}},
		{name: "groups", path: "groups", want: []string{"weekly-digest"}},
		{name: "custom field with prefix", path: "custom.plan", want: "pro"},
		{name: "custom field without prefix", path: "plan", want: "pro"},
		{name: "numeric custom field", path: "custom.seats", want: float64(12)},
		{name: "nested custom field", path: "custom.company.name", want: "Compilers Inc"},
		{name: "deeply nested custom field", path: "custom.company.address.city", want: "Arlington"},
		{name: "missing custom field", path: "custom.nope", undefined: true},
		{name: "missing nested leaf", path: "custom.company.phone", undefined: true},
		{name: "non-map intermediate", path: "custom.plan.tier", undefined: true},
		{name: "empty path", path: "", undefined: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := payload.Field(tt.path)
			if tt.undefined {
				assert.False(t, ok)
				return
			}
			assert.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSubscriberPayloadOptionalFields(t *testing.T) {
	sub := &models.Subscriber{Email: "bare@example.com", Status: models.SubscriberStatusActive}
	payload := NewSubscriberPayload(sub)

	_, ok := payload.Field("first_name")
	assert.False(t, ok, "unset first name should be undefined")
	_, ok = payload.Field("last_name")
	assert.False(t, ok, "unset last name should be undefined")

	name, ok := payload.Field("name")
	assert.True(t, ok)
	assert.Equal(t, "bare", name, "full name falls back to the email local part")

	tags, ok := payload.Field("tags")
	assert.True(t, ok)
	assert.Empty(t, tags)
}

func TestSubscriberPayloadNilSafety(t *testing.T) {
	var nilPayload *SubscriberPayload
	_, ok := nilPayload.Field("email")
	assert.False(t, ok)

	_, ok = NewSubscriberPayload(nil).Field("email")
	assert.False(t, ok)
}

func TestTagAddedPayload(t *testing.T) {
	payload := NewTagAddedPayload(payloadSubscriber(), "early-adopter")

	tag, ok := payload.Field("tag")
	assert.True(t, ok)
	assert.Equal(t, "early-adopter", tag)

	email, ok := payload.Field("email")
	assert.True(t, ok)
	assert.Equal(t, "grace@example.com", email, "subscriber fields stay reachable")

	plan, ok := payload.Field("custom.plan")
	assert.True(t, ok)
	assert.Equal(t, "pro", plan)
}

func TestSubscriberAddedPayload(t *testing.T) {
	payload := NewSubscriberAddedPayload(payloadSubscriber())

	email, ok := payload.Field("email")
	assert.True(t, ok)
	assert.Equal(t, "grace@example.com", email)

	_, ok = payload.Field("tag")
	assert.False(t, ok, "subscriber_added payloads carry no tag")
}
