package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockEmailDispatcherRecordsSends(t *testing.T) {
	dispatcher := NewMockEmailDispatcher()
	ctx := context.Background()

	first, err := dispatcher.Send(ctx, &EmailMessage{To: "ada@example.com", Subject: "Hello Ada"})
	require.NoError(t, err)
	assert.True(t, first.Success)
	assert.Contains(t, first.MessageID, "@mock>")

	second, err := dispatcher.Send(ctx, &EmailMessage{To: "grace@example.com", Subject: "Hello Grace"})
	require.NoError(t, err)
	assert.True(t, second.Success)
	assert.NotEqual(t, first.MessageID, second.MessageID)

	assert.Equal(t, 2, dispatcher.SentCount())
	assert.Equal(t, []string{"ada@example.com", "grace@example.com"}, dispatcher.SentTo())
	assert.Equal(t, "Hello Ada", dispatcher.Sent[0].Subject)
}

func TestMockEmailDispatcherScriptedFailure(t *testing.T) {
	dispatcher := NewMockEmailDispatcher()
	dispatcher.FailFor["bounce@example.com"] = "550 mailbox unavailable"

	result, err := dispatcher.Send(context.Background(), &EmailMessage{To: "bounce@example.com"})
	require.NoError(t, err, "a scripted failure is a delivery outcome, not an error")
	assert.False(t, result.Success)
	assert.Equal(t, "550 mailbox unavailable", result.ErrorMessage)
	assert.Zero(t, dispatcher.SentCount())

	ok, err := dispatcher.Send(context.Background(), &EmailMessage{To: "fine@example.com"})
	require.NoError(t, err)
	assert.True(t, ok.Success)
	assert.Equal(t, []string{"fine@example.com"}, dispatcher.SentTo())
}

func TestMockEmailDispatcherInfrastructureError(t *testing.T) {
	dispatcher := NewMockEmailDispatcher()
	dispatcher.Err = errors.New("connection refused")

	result, err := dispatcher.Send(context.Background(), &EmailMessage{To: "ada@example.com"})
	assert.Nil(t, result)
	assert.ErrorContains(t, err, "connection refused")
	assert.Zero(t, dispatcher.SentCount())
}

func TestMockEmailDispatcherHonorsContext(t *testing.T) {
	dispatcher := NewMockEmailDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := dispatcher.Send(ctx, &EmailMessage{To: "ada@example.com"})
	assert.Nil(t, result)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, dispatcher.SentCount())
}
