package ecommerce

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strings"

	"github.com/fitmarket/backend/internal/domain/bundlesync"
)

// WebhookVerifier checks the HMAC-SHA256 signature of webhook deliveries
type WebhookVerifier struct {
	secret []byte
}

// NewWebhookVerifier creates a verifier for the shared webhook secret
func NewWebhookVerifier(secret string) *WebhookVerifier {
	return &WebhookVerifier{secret: []byte(secret)}
}

// Sign returns the base64 encoded HMAC-SHA256 of body
func (v *WebhookVerifier) Sign(body []byte) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Verify checks signature against the raw body in constant time.
// An unconfigured secret rejects every delivery.
func (v *WebhookVerifier) Verify(body []byte, signature string) error {
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return bundlesync.ErrSignatureMissing
	}
	if len(v.secret) == 0 {
		return bundlesync.ErrSignatureInvalid
	}
	got, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return bundlesync.ErrSignatureInvalid
	}
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return bundlesync.ErrSignatureInvalid
	}
	return nil
}
