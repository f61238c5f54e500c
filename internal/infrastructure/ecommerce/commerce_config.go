package ecommerce

import (
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/fitmarket/backend/internal/infrastructure/config"
)

// CommerceConfig holds configuration for the commerce platform admin API
type CommerceConfig struct {
	// BaseURL is the admin API root, e.g. https://shop.example.com/admin/api
	BaseURL string
	// AccessToken authorizes admin API calls
	AccessToken string
	// Timeout bounds a single HTTP round trip
	Timeout time.Duration
	// RateLimit is the sustained request rate (requests per second)
	RateLimit float64
	// RateBurst is the limiter bucket size
	RateBurst int
	// MaxRetries caps retries of transient failures per call
	MaxRetries int
	// RetryInitial and RetryMax shape the exponential retry backoff
	RetryInitial time.Duration
	RetryMax     time.Duration
}

// Errors for commerce platform configuration
var (
	ErrCommerceConfigMissingBaseURL     = errors.New("commerce: base URL is required")
	ErrCommerceConfigInvalidBaseURL     = errors.New("commerce: base URL must be an absolute http(s) URL")
	ErrCommerceConfigMissingAccessToken = errors.New("commerce: access token is required")
)

const (
	defaultCommerceTimeout      = 15 * time.Second
	defaultCommerceRateLimit    = 4.0
	defaultCommerceRateBurst    = 8
	defaultCommerceMaxRetries   = 3
	defaultCommerceRetryInitial = 500 * time.Millisecond
	defaultCommerceRetryMax     = 8 * time.Second
)

// NewCommerceConfig builds the client configuration from the application config,
// filling unset values with defaults
func NewCommerceConfig(cfg config.PlatformConfig) *CommerceConfig {
	c := &CommerceConfig{
		BaseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		AccessToken:  cfg.AccessToken,
		Timeout:      cfg.RequestTimeout,
		RateLimit:    cfg.RateLimit,
		RateBurst:    cfg.RateBurst,
		MaxRetries:   cfg.MaxRetries,
		RetryInitial: cfg.RetryInitial,
		RetryMax:     cfg.RetryMax,
	}
	c.applyDefaults()
	return c
}

func (c *CommerceConfig) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = defaultCommerceTimeout
	}
	if c.RateLimit <= 0 {
		c.RateLimit = defaultCommerceRateLimit
	}
	if c.RateBurst <= 0 {
		c.RateBurst = defaultCommerceRateBurst
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryInitial <= 0 {
		c.RetryInitial = defaultCommerceRetryInitial
	}
	if c.RetryMax < c.RetryInitial {
		c.RetryMax = defaultCommerceRetryMax
	}
}

// Validate validates the commerce platform configuration
func (c *CommerceConfig) Validate() error {
	if c.BaseURL == "" {
		return ErrCommerceConfigMissingBaseURL
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return ErrCommerceConfigInvalidBaseURL
	}
	if c.AccessToken == "" {
		return ErrCommerceConfigMissingAccessToken
	}
	return nil
}
