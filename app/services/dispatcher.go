// Package services provides external service integrations and technical concerns like email dispatch and segmentation
package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// EmailMessage is one fully-personalized message handed to a dispatcher.
// Subject and bodies already have their placeholders substituted.
type EmailMessage struct {
	To           string
	ToName       string
	Subject      string
	HTMLBody     string
	TextBody     string
	FromName     string
	FromEmail    string
	ReplyTo      string
	CampaignID   uint
	SubscriberID uint
}

// SendResult represents the outcome of one dispatch attempt
type SendResult struct {
	Success      bool
	MessageID    string
	ErrorMessage string
}

// EmailDispatcher delivers a single message to a single recipient. A failed
// delivery is reported either through the returned error or through a result
// with Success=false; callers treat both as a per-recipient failure.
type EmailDispatcher interface {
	Send(ctx context.Context, msg *EmailMessage) (*SendResult, error)
}

// MockEmailDispatcher implements EmailDispatcher for testing
type MockEmailDispatcher struct {
	mu sync.Mutex

	// Sent collects every successfully dispatched message in order
	Sent []EmailMessage

	// FailFor maps recipient addresses to the error message their sends
	// should fail with
	FailFor map[string]string

	// Err, when set, is returned for every send as an infrastructure error
	Err error
}

// NewMockEmailDispatcher creates a new mock dispatcher
func NewMockEmailDispatcher() *MockEmailDispatcher {
	return &MockEmailDispatcher{
		Sent:    make([]EmailMessage, 0),
		FailFor: make(map[string]string),
	}
}

// Send records the message, or fails it when scripted to
func (m *MockEmailDispatcher) Send(ctx context.Context, msg *EmailMessage) (*SendResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return nil, m.Err
	}
	if reason, ok := m.FailFor[msg.To]; ok {
		return &SendResult{Success: false, ErrorMessage: reason}, nil
	}

	m.Sent = append(m.Sent, *msg)
	return &SendResult{Success: true, MessageID: fmt.Sprintf("<%s@mock>", uuid.New())}, nil
}

// SentCount returns the number of delivered messages
func (m *MockEmailDispatcher) SentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Sent)
}

// SentTo returns the recipient addresses in delivery order
func (m *MockEmailDispatcher) SentTo() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.Sent))
	for _, msg := range m.Sent {
		out = append(out, msg.To)
	}
	return out
}
