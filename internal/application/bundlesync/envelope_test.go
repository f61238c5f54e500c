package bundlesync

import (
	"testing"
	"time"

	"github.com/fitmarket/backend/internal/domain/bundlesync"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEnvelope(t *testing.T) {
	t.Run("body fields", func(t *testing.T) {
		env, err := ParseEnvelope([]byte(orderPaidBody), "", "")
		require.NoError(t, err)
		assert.Equal(t, bundlesync.TopicOrderPaid, env.Topic)
		assert.Equal(t, "evt-1", env.ProviderEventID)
		assert.Equal(t, "order-1", env.ResourceID)
		assert.Equal(t, "2026-05-04T09:58:30Z", env.ResourceUpdatedAt)
		assert.True(t, env.CreatedAt.Equal(time.Date(2026, 5, 4, 9, 59, 0, 0, time.UTC)))
	})

	t.Run("headers win", func(t *testing.T) {
		env, err := ParseEnvelope([]byte(orderPaidBody), "orders/create", "hdr-1")
		require.NoError(t, err)
		assert.Equal(t, bundlesync.TopicOrderCreated, env.Topic)
		assert.Equal(t, "evt:hdr-1", env.DedupeKey())
	})

	t.Run("derived key without provider id", func(t *testing.T) {
		body := []byte(`{"topic":"products/update","data":{"id":"gid-1","updated_at":"2026-05-04T09:00:00Z"}}`)
		first, err := ParseEnvelope(body, "", "")
		require.NoError(t, err)
		second, err := ParseEnvelope(body, "", "")
		require.NoError(t, err)
		assert.Contains(t, first.DedupeKey(), "derived:")
		assert.Equal(t, first.DedupeKey(), second.DedupeKey())
	})

	t.Run("rejections", func(t *testing.T) {
		for name, body := range map[string]string{
			"invalid json":  `{"topic":`,
			"array":         `[{"topic":"orders/paid"}]`,
			"missing topic": `{"data":{"id":"1"}}`,
		} {
			_, err := ParseEnvelope([]byte(body), "", "")
			assert.ErrorIs(t, err, bundlesync.ErrMalformedPayload, name)
		}
	})
}

func TestDecodePayload(t *testing.T) {
	t.Run("order", func(t *testing.T) {
		payload, err := DecodePayload(bundlesync.TopicOrderPaid, []byte(orderPaidBody))
		require.NoError(t, err)
		order, ok := payload.(*bundlesync.OrderPayload)
		require.True(t, ok)
		assert.Equal(t, "order-1", order.ID)
		assert.Equal(t, "cust-1", order.CustomerID())
		require.Len(t, order.LineItems, 2)
		assert.Equal(t, 2, order.LineItems[1].Quantity)
	})

	t.Run("validation names json fields", func(t *testing.T) {
		body := []byte(`{"data":{"id":"ful-1","order_id":"order-1","status":"success","tracking_url":"not a url"}}`)
		_, err := DecodePayload(bundlesync.TopicFulfillmentUpdated, body)
		require.ErrorIs(t, err, bundlesync.ErrMalformedPayload)
		assert.Contains(t, err.Error(), "tracking_url: url")
	})

	t.Run("nested validation", func(t *testing.T) {
		body := []byte(`{"data":{"id":"o","currency":"EUR","line_items":[{"id":"li","product_id":"p","quantity":0}]}}`)
		_, err := DecodePayload(bundlesync.TopicOrderCreated, body)
		require.ErrorIs(t, err, bundlesync.ErrMalformedPayload)
		assert.Contains(t, err.Error(), "quantity: min=1")
	})

	t.Run("unknown fields are rejected", func(t *testing.T) {
		body := []byte(`{"data":{"id":"gid-1","vendor":"acme"}}`)
		_, err := DecodePayload(bundlesync.TopicProductUpdated, body)
		assert.ErrorIs(t, err, bundlesync.ErrMalformedPayload)
	})

	t.Run("topic without schema", func(t *testing.T) {
		_, err := DecodePayload("customers/create", []byte(`{"data":{}}`))
		assert.ErrorIs(t, err, bundlesync.ErrMalformedPayload)
	})
}
