package scheduler

import (
	"strings"

	"github.com/mailtide/mailtide/models"
)

// SubscriberPayload exposes a subscriber's attributes to condition
// evaluation and template personalization. Custom fields are reachable both
// with and without the "custom." prefix.
type SubscriberPayload struct {
	Subscriber *models.Subscriber
}

func NewSubscriberPayload(sub *models.Subscriber) *SubscriberPayload {
	return &SubscriberPayload{Subscriber: sub}
}

func (p *SubscriberPayload) Field(path string) (any, bool) {
	if p == nil || p.Subscriber == nil {
		return nil, false
	}
	s := p.Subscriber

	switch path {
	case "email":
		return s.Email, true
	case "first_name":
		if s.FirstName == nil {
			return nil, false
		}
		return *s.FirstName, true
	case "last_name":
		if s.LastName == nil {
			return nil, false
		}
		return *s.LastName, true
	case "name":
		return s.FullName(), true
	case "status":
		return string(s.Status), true
	case "tags":
		return s.TagNames(), true
	case "groups":
		return s.GroupNames(), true
	}

	key := strings.TrimPrefix(path, "custom.")
	return lookupPath(s.CustomFields, key)
}

// lookupPath walks a dot-separated path through nested maps. A missing or
// non-map intermediate makes the path undefined.
func lookupPath(fields map[string]any, path string) (any, bool) {
	if len(fields) == 0 || path == "" {
		return nil, false
	}
	parts := strings.Split(path, ".")
	var current any = fields
	for _, part := range parts {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// SubscriberAddedPayload is the condition payload for subscriber_added
// trigger firings.
type SubscriberAddedPayload struct {
	SubscriberPayload
}

func NewSubscriberAddedPayload(sub *models.Subscriber) *SubscriberAddedPayload {
	return &SubscriberAddedPayload{SubscriberPayload: SubscriberPayload{Subscriber: sub}}
}

// TagAddedPayload is the condition payload for tag_added trigger firings.
// The freshly applied tag is reachable under "tag".
type TagAddedPayload struct {
	SubscriberPayload
	Tag string
}

func NewTagAddedPayload(sub *models.Subscriber, tag string) *TagAddedPayload {
	return &TagAddedPayload{SubscriberPayload: SubscriberPayload{Subscriber: sub}, Tag: tag}
}

func (p *TagAddedPayload) Field(path string) (any, bool) {
	if path == "tag" {
		return p.Tag, true
	}
	return p.SubscriberPayload.Field(path)
}
