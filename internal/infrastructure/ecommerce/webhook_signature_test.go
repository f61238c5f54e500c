package ecommerce

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fitmarket/backend/internal/domain/bundlesync"
)

func TestWebhookVerifier(t *testing.T) {
	body := []byte(`{"id":"evt-1","topic":"orders/paid"}`)
	v := NewWebhookVerifier("shared-secret")
	sig := v.Sign(body)

	t.Run("valid signature", func(t *testing.T) {
		assert.NoError(t, v.Verify(body, sig))
	})

	t.Run("surrounding whitespace tolerated", func(t *testing.T) {
		assert.NoError(t, v.Verify(body, " "+sig+"\n"))
	})

	t.Run("missing signature", func(t *testing.T) {
		assert.ErrorIs(t, v.Verify(body, ""), bundlesync.ErrSignatureMissing)
	})

	t.Run("tampered body", func(t *testing.T) {
		assert.ErrorIs(t, v.Verify(append(body, ' '), sig), bundlesync.ErrSignatureInvalid)
	})

	t.Run("not base64", func(t *testing.T) {
		assert.ErrorIs(t, v.Verify(body, "%%%"), bundlesync.ErrSignatureInvalid)
	})

	t.Run("other secret", func(t *testing.T) {
		other := NewWebhookVerifier("another-secret")
		assert.ErrorIs(t, other.Verify(body, sig), bundlesync.ErrSignatureInvalid)
	})

	t.Run("empty secret rejects everything", func(t *testing.T) {
		empty := NewWebhookVerifier("")
		assert.ErrorIs(t, empty.Verify(body, empty.Sign(body)), bundlesync.ErrSignatureInvalid)
	})
}
