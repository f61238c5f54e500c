package bundlesync

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Topic is a webhook topic published by the commerce platform
type Topic string

const (
	TopicOrderCreated       Topic = "orders/create"
	TopicOrderPaid          Topic = "orders/paid"
	TopicOrderFulfilled     Topic = "orders/fulfilled"
	TopicFulfillmentUpdated Topic = "fulfillments/update"
	TopicProductUpdated     Topic = "products/update"
	TopicProductDeleted     Topic = "products/delete"
)

// KnownTopics lists every topic with a handler
var KnownTopics = []Topic{
	TopicOrderCreated,
	TopicOrderPaid,
	TopicOrderFulfilled,
	TopicFulfillmentUpdated,
	TopicProductUpdated,
	TopicProductDeleted,
}

// IsKnown reports whether the topic has a handler
func (t Topic) IsKnown() bool {
	for _, k := range KnownTopics {
		if k == t {
			return true
		}
	}
	return false
}

// String returns the string representation of Topic
func (t Topic) String() string {
	return string(t)
}

// Envelope holds the fields extracted from a delivery before topic-specific decoding
type Envelope struct {
	Topic           Topic
	ProviderEventID string
	ResourceID      string
	// ResourceUpdatedAt is the resource's updated_at as reported, kept verbatim for key derivation
	ResourceUpdatedAt string
	CreatedAt         time.Time
}

// DedupeKey returns the key that identifies this delivery across redeliveries
func (e Envelope) DedupeKey() string {
	return DeriveDedupeKey(e.ProviderEventID, e.Topic, e.ResourceID, e.ResourceUpdatedAt)
}

// DeriveDedupeKey prefers the provider event id and otherwise hashes
// topic, resource and update timestamp.
func DeriveDedupeKey(providerEventID string, topic Topic, resourceID, updatedAt string) string {
	if id := strings.TrimSpace(providerEventID); id != "" {
		return "evt:" + id
	}
	sum := sha256.Sum256([]byte(string(topic) + "|" + resourceID + "|" + updatedAt))
	return "derived:" + hex.EncodeToString(sum[:])
}

// WebhookEvent is the admission record of one delivery
type WebhookEvent struct {
	ID                 uuid.UUID
	DedupeKey          string
	Topic              Topic
	ProviderEventID    string
	ExternalResourceID string
	PayloadHash        string
	ReceivedAt         time.Time
	ProcessedAt        *time.Time
	ProcessingError    string
}

// NewWebhookEvent creates an admission record for an envelope and its raw body
func NewWebhookEvent(env Envelope, body []byte, receivedAt time.Time) *WebhookEvent {
	sum := sha256.Sum256(body)
	return &WebhookEvent{
		ID:                 uuid.New(),
		DedupeKey:          env.DedupeKey(),
		Topic:              env.Topic,
		ProviderEventID:    env.ProviderEventID,
		ExternalResourceID: env.ResourceID,
		PayloadHash:        hex.EncodeToString(sum[:]),
		ReceivedAt:         receivedAt,
	}
}

// MarkProcessed stamps the event; a non-nil err is kept as the processing error
func (e *WebhookEvent) MarkProcessed(err error, now time.Time) {
	e.ProcessedAt = &now
	if err != nil {
		e.ProcessingError = err.Error()
	} else {
		e.ProcessingError = ""
	}
}

// IsProcessed reports whether the event has been dispatched
func (e *WebhookEvent) IsProcessed() bool {
	return e.ProcessedAt != nil
}
