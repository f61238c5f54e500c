package ecommerce

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fitmarket/backend/internal/domain/bundlesync"
	"github.com/fitmarket/backend/internal/infrastructure/logger"
	"github.com/fitmarket/backend/internal/infrastructure/telemetry"
)

const (
	// maxCommerceResponseSize limits the response body size to prevent memory exhaustion
	maxCommerceResponseSize = 4 * 1024 * 1024
	// maxErrorSnippet bounds the raw body quoted in error messages
	maxErrorSnippet = 256

	HeaderAccessToken    = "X-Commerce-Access-Token"
	HeaderIdempotencyKey = "Idempotency-Key"
)

// CommerceAdapter implements bundlesync.CommercePlatform over the platform admin REST API.
// Calls are rate limited and transient failures are retried with exponential backoff.
type CommerceAdapter struct {
	config     *CommerceConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
}

var _ bundlesync.CommercePlatform = (*CommerceAdapter)(nil)

// NewCommerceAdapter creates a new platform adapter with the given configuration
func NewCommerceAdapter(cfg *CommerceConfig, zapLogger *zap.Logger) (*CommerceAdapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if zapLogger == nil {
		zapLogger = zap.NewNop()
	}
	return &CommerceAdapter{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
		logger:     zapLogger.Named("commerce"),
	}, nil
}

// SubmitCompositeOffering starts a create or update of a composite offering
func (a *CommerceAdapter) SubmitCompositeOffering(ctx context.Context, input bundlesync.CompositeOfferingInput) (*bundlesync.OperationHandle, error) {
	components := make([]compositeComponentDTO, len(input.Components))
	for i, c := range input.Components {
		components[i] = compositeComponentDTO{ProductID: c.ProductID, Quantity: c.Quantity}
	}
	body := compositeOfferingRequest{CompositeOffering: compositeOfferingBody{
		Title:          input.Title,
		Description:    input.Description,
		Price:          input.Price,
		Currency:       input.Currency,
		Components:     components,
		ServiceSummary: input.ServiceSummary,
	}}

	method, path, idemKey := http.MethodPost, "/composite-offerings", input.IdempotencyKey
	if !input.IsCreate() {
		method, path, idemKey = http.MethodPut, "/composite-offerings/"+url.PathEscape(input.ExternalID), ""
	}

	var env operationEnvelope
	if err := a.call(ctx, "submit", method, path, body, idemKey, &env); err != nil {
		return nil, err
	}
	if env.Operation.ID == "" {
		return nil, bundlesync.NewTerminalError(0, "platform response did not include an operation id")
	}
	return &bundlesync.OperationHandle{
		OperationID: env.Operation.ID,
		Status:      mapOperationStatus(env.Operation.Status),
	}, nil
}

// GetOperation returns the current status of an asynchronous operation
func (a *CommerceAdapter) GetOperation(ctx context.Context, operationID string) (*bundlesync.OperationResult, error) {
	var env operationEnvelope
	if err := a.call(ctx, "get_operation", http.MethodGet, "/operations/"+url.PathEscape(operationID), nil, "", &env); err != nil {
		return nil, err
	}
	op := env.Operation
	result := &bundlesync.OperationResult{
		OperationID: op.ID,
		Status:      mapOperationStatus(op.Status),
		Errors:      op.Errors,
	}
	if result.OperationID == "" {
		result.OperationID = operationID
	}
	if op.Resource != nil {
		result.ResourceID = op.Resource.ID
		result.Handle = op.Resource.Handle
		result.AdminURL = op.Resource.AdminURL
	}
	return result, nil
}

// AttachMetadata writes structured metadata onto the composite offering
func (a *CommerceAdapter) AttachMetadata(ctx context.Context, externalID string, entries []bundlesync.MetadataEntry) (*bundlesync.ResourceVersion, error) {
	req := metadataRequest{Metadata: make([]metadataDTO, len(entries))}
	for i, e := range entries {
		req.Metadata[i] = metadataDTO{Namespace: e.Namespace, Key: e.Key, Type: e.Type, Value: e.Value}
	}
	var env resourceEnvelope
	path := "/composite-offerings/" + url.PathEscape(externalID) + "/metadata"
	if err := a.call(ctx, "attach_metadata", http.MethodPost, path, req, "", &env); err != nil {
		return nil, err
	}
	return &bundlesync.ResourceVersion{Version: env.Resource.Version, UpdatedAt: env.Resource.UpdatedAt}, nil
}

// GetCompositeOffering reads the current state of the composite offering
func (a *CommerceAdapter) GetCompositeOffering(ctx context.Context, externalID string) (*bundlesync.ExternalOffering, error) {
	var env offeringEnvelope
	if err := a.call(ctx, "get_offering", http.MethodGet, "/composite-offerings/"+url.PathEscape(externalID), nil, "", &env); err != nil {
		return nil, err
	}
	o := env.CompositeOffering
	out := &bundlesync.ExternalOffering{
		ID:          o.ID,
		Handle:      o.Handle,
		AdminURL:    o.AdminURL,
		Title:       o.Title,
		Description: o.Description,
		Price:       o.Price,
		Currency:    o.Currency,
		Components:  make([]bundlesync.ExternalComponent, len(o.Components)),
		Version:     o.Version,
		UpdatedAt:   o.UpdatedAt,
	}
	for i, c := range o.Components {
		out.Components[i] = bundlesync.ExternalComponent{ProductID: c.ProductID, Quantity: c.Quantity}
	}
	if out.ID == "" {
		out.ID = externalID
	}
	return out, nil
}

// call performs one logical API call, retrying transient failures
func (a *CommerceAdapter) call(ctx context.Context, op, method, path string, reqBody any, idemKey string, out any) error {
	ctx, span := telemetry.StartSpan(ctx, "commerce."+op,
		telemetry.WithSpanKind(trace.SpanKindClient),
		telemetry.WithAttribute("http.method", method),
		telemetry.WithAttribute("commerce.path", path),
	)
	defer span.End()

	var payload []byte
	if reqBody != nil {
		var err error
		if payload, err = json.Marshal(reqBody); err != nil {
			return fmt.Errorf("commerce: failed to marshal request: %w", err)
		}
	}

	log := logger.WithLogger(ctx, a.logger)
	attempts := 0
	err := backoff.RetryNotify(func() error {
		attempts++
		err := a.doRequest(ctx, method, path, payload, idemKey, out)
		if err == nil || bundlesync.IsTransient(err) {
			return err
		}
		return backoff.Permanent(err)
	}, a.retryPolicy(ctx), func(err error, wait time.Duration) {
		log.Warn("Retrying platform call",
			zap.String("op", op),
			zap.Int("attempt", attempts),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	})
	telemetry.SetAttribute(span, "commerce.attempts", attempts)
	if err != nil {
		telemetry.RecordError(span, err)
		return err
	}
	return nil
}

func (a *CommerceAdapter) retryPolicy(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = a.config.RetryInitial
	eb.MaxInterval = a.config.RetryMax
	eb.MaxElapsedTime = 0
	eb.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(a.config.MaxRetries)), ctx)
}

// doRequest performs a single HTTP round trip and classifies the outcome
func (a *CommerceAdapter) doRequest(ctx context.Context, method, path string, payload []byte, idemKey string, out any) error {
	if err := a.limiter.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return bundlesync.NewTransientError(0, fmt.Errorf("rate limiter: %w", err))
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.config.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("commerce: failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(HeaderAccessToken, a.config.AccessToken)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idemKey != "" {
		req.Header.Set(HeaderIdempotencyKey, idemKey)
	}

	start := time.Now()
	resp, err := a.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return bundlesync.NewTransientError(0, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxCommerceResponseSize))
	if err != nil {
		return bundlesync.NewTransientError(resp.StatusCode, fmt.Errorf("read response: %w", err))
	}

	logger.WithLogger(ctx, a.logger).Debug("Platform call",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(start)),
	)

	if err := classifyStatus(resp, respBody); err != nil {
		return err
	}
	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return bundlesync.NewTerminalError(resp.StatusCode, "invalid response body: "+err.Error())
	}
	return nil
}

// classifyStatus maps an HTTP status onto the platform error taxonomy:
// 404 is not-found, 429 and 5xx are transient, other 4xx are terminal.
func classifyStatus(resp *http.Response, body []byte) error {
	status := resp.StatusCode
	switch {
	case status < http.StatusBadRequest:
		return nil
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: %s %s", bundlesync.ErrExternalNotFound, resp.Request.Method, resp.Request.URL.Path)
	case status == http.StatusTooManyRequests || status >= http.StatusInternalServerError:
		cause := fmt.Errorf("HTTP %d: %s", status, strings.Join(errorMessages(status, body), "; "))
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			cause = fmt.Errorf("%w (retry after %s)", cause, ra)
		}
		return bundlesync.NewTransientError(status, cause)
	default:
		return bundlesync.NewTerminalError(status, errorMessages(status, body)...)
	}
}

func errorMessages(status int, body []byte) []string {
	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err == nil {
		if msgs := env.messages(); len(msgs) > 0 {
			return msgs
		}
	}
	text := strings.TrimSpace(string(body))
	if text == "" {
		return []string{http.StatusText(status)}
	}
	if len(text) > maxErrorSnippet {
		text = text[:maxErrorSnippet] + "..."
	}
	return []string{text}
}

func mapOperationStatus(s string) bundlesync.OperationStatus {
	switch strings.ToUpper(s) {
	case "COMPLETE", "COMPLETED", "SUCCEEDED", "SUCCESS":
		return bundlesync.OperationComplete
	case "FAILED", "ERROR", "CANCELED", "CANCELLED":
		return bundlesync.OperationFailed
	default:
		return bundlesync.OperationRunning
	}
}
