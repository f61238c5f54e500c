package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	syncapp "github.com/fitmarket/backend/internal/application/bundlesync"
	"github.com/fitmarket/backend/internal/domain/bundlesync"
	"github.com/fitmarket/backend/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
)

// Headers set by the commerce platform on webhook deliveries
const (
	HeaderWebhookSignature = "X-Commerce-Hmac-Sha256"
	HeaderWebhookTopic     = "X-Commerce-Topic"
	HeaderWebhookEventID   = "X-Commerce-Event-Id"
	HeaderWebhookShop      = "X-Commerce-Shop-Domain"
)

// archivedHeaders are copied onto the delivery for the archive
var archivedHeaders = []string{
	HeaderWebhookTopic,
	HeaderWebhookEventID,
	HeaderWebhookShop,
	"User-Agent",
	"Content-Type",
}

// WebhookIngester admits commerce webhook deliveries
type WebhookIngester interface {
	Ingest(ctx context.Context, req syncapp.WebhookRequest) (*syncapp.WebhookResult, error)
}

// WebhookHandler receives commerce platform webhooks. It is unauthenticated
// at the HTTP layer; every delivery is HMAC-verified before it is parsed.
type WebhookHandler struct {
	BaseHandler
	service     WebhookIngester
	maxBodySize int64
}

// NewWebhookHandler creates a new WebhookHandler
func NewWebhookHandler(service WebhookIngester, maxBodySize int64) *WebhookHandler {
	return &WebhookHandler{service: service, maxBodySize: maxBodySize}
}

// Receive godoc
// @ID           receiveCommerceWebhook
// @Summary      Receive a commerce platform webhook
// @Description  Verifies the HMAC signature over the raw body, deduplicates the delivery and dispatches it. Duplicates are acknowledged without reprocessing.
// @Tags         webhooks
// @Accept       json
// @Produce      json
// @Param        X-Commerce-Hmac-Sha256 header string true "Base64 HMAC-SHA256 of the raw body"
// @Param        X-Commerce-Topic header string false "Event topic"
// @Param        X-Commerce-Event-Id header string false "Provider event ID"
// @Success      200 {object} APIResponse[WebhookAck]
// @Failure      400 {object} ErrorResponse "Malformed payload"
// @Failure      401 {object} ErrorResponse "Missing or invalid signature"
// @Failure      413 {object} ErrorResponse
// @Router       /webhooks/commerce [post]
func (h *WebhookHandler) Receive(c *gin.Context) {
	body := c.Request.Body
	if h.maxBodySize > 0 {
		if c.Request.ContentLength > h.maxBodySize {
			h.ErrorWithCode(c, dto.ErrCodePayloadTooLarge, "Webhook body exceeds maximum allowed size")
			return
		}
		body = http.MaxBytesReader(c.Writer, body, h.maxBodySize)
	}
	payload, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.ErrorWithCode(c, dto.ErrCodePayloadTooLarge, "Webhook body exceeds maximum allowed size")
			return
		}
		h.BadRequest(c, "Failed to read request body")
		return
	}

	headers := make(map[string]string, len(archivedHeaders))
	for _, name := range archivedHeaders {
		if v := c.GetHeader(name); v != "" {
			headers[name] = v
		}
	}

	result, err := h.service.Ingest(c.Request.Context(), syncapp.WebhookRequest{
		Body:      payload,
		Signature: c.GetHeader(HeaderWebhookSignature),
		Topic:     c.GetHeader(HeaderWebhookTopic),
		EventID:   c.GetHeader(HeaderWebhookEventID),
		RemoteIP:  c.ClientIP(),
		Headers:   headers,
	})
	switch {
	case err == nil:
		h.Success(c, toWebhookAck(result))
	case errors.Is(err, bundlesync.ErrSignatureMissing):
		h.Unauthorized(c, dto.ErrCodeSignatureInvalid, "Webhook signature missing")
	case errors.Is(err, bundlesync.ErrSignatureInvalid):
		h.Unauthorized(c, dto.ErrCodeSignatureInvalid, "Webhook signature invalid")
	case errors.Is(err, bundlesync.ErrMalformedPayload):
		h.Error(c, http.StatusBadRequest, dto.ErrCodeInvalidJSON, err.Error())
	default:
		h.HandleError(c, err)
	}
}

// RegisterRoutes mounts the webhook endpoint
func (h *WebhookHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/commerce", h.Receive)
}
