package bundlesync

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveDedupeKey(t *testing.T) {
	t.Run("provider id wins", func(t *testing.T) {
		key := DeriveDedupeKey(" evt-1 ", TopicProductUpdated, "ext-123", "2026-03-01T12:00:00Z")
		assert.Equal(t, "evt:evt-1", key)
	})

	t.Run("derived key is stable", func(t *testing.T) {
		a := DeriveDedupeKey("", TopicProductUpdated, "ext-123", "2026-03-01T12:00:00Z")
		b := DeriveDedupeKey("", TopicProductUpdated, "ext-123", "2026-03-01T12:00:00Z")
		assert.Equal(t, a, b)
		assert.True(t, strings.HasPrefix(a, "derived:"))
	})

	t.Run("derived key separates resources and timestamps", func(t *testing.T) {
		base := DeriveDedupeKey("", TopicProductUpdated, "ext-123", "t1")
		assert.NotEqual(t, base, DeriveDedupeKey("", TopicProductUpdated, "ext-124", "t1"))
		assert.NotEqual(t, base, DeriveDedupeKey("", TopicProductUpdated, "ext-123", "t2"))
		assert.NotEqual(t, base, DeriveDedupeKey("", TopicProductDeleted, "ext-123", "t1"))
	})
}

func TestTopic_IsKnown(t *testing.T) {
	for _, topic := range KnownTopics {
		assert.True(t, topic.IsKnown(), topic)
		assert.NotNil(t, PayloadFor(topic), topic)
	}
	assert.False(t, Topic("carts/update").IsKnown())
	assert.Nil(t, PayloadFor("carts/update"))
}

func TestWebhookEvent(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	env := Envelope{Topic: TopicOrderPaid, ProviderEventID: "evt-9", ResourceID: "order-1"}
	e := NewWebhookEvent(env, []byte(`{"id":"evt-9"}`), now)

	assert.Equal(t, "evt:evt-9", e.DedupeKey)
	assert.Equal(t, "order-1", e.ExternalResourceID)
	assert.Len(t, e.PayloadHash, 64)
	assert.False(t, e.IsProcessed())

	e.MarkProcessed(errors.New("order store down"), now)
	require.True(t, e.IsProcessed())
	assert.Equal(t, "order store down", e.ProcessingError)
}

func TestClassifyError(t *testing.T) {
	assert.Equal(t, ErrorKindNone, ClassifyError(nil))
	assert.Equal(t, ErrorKindTimeout, ClassifyError(ErrPublishTimeout))
	assert.Equal(t, ErrorKindTransient, ClassifyError(NewTransientError(503, errors.New("unavailable"))))
	assert.Equal(t, ErrorKindTerminal, ClassifyError(NewTerminalError(422, "title is required")))
	assert.Equal(t, ErrorKindExternalMissing, ClassifyError(ErrExternalNotFound))
	assert.Equal(t, ErrorKindTerminal, ClassifyError(errors.New("unknown")))

	err := NewTerminalError(422, "title is required", "price must be positive")
	assert.Equal(t, "platform terminal error (HTTP 422): title is required; price must be positive", err.Error())
	assert.False(t, IsTransient(err))
}
