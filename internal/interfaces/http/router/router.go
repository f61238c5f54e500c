package router

import (
	"github.com/gin-gonic/gin"
)

// RouteRegistrar defines the interface for registering routes
type RouteRegistrar interface {
	RegisterRoutes(rg *gin.RouterGroup)
}

// Router lays out the three route trees of the service:
//
//	/                 probes and docs, no auth
//	/webhooks         platform deliveries, HMAC-verified by the handler
//	/api/<version>    review UI endpoints behind bearer auth
type Router struct {
	engine            *gin.Engine
	apiVersion        string
	apiMiddleware     []gin.HandlerFunc
	webhookMiddleware []gin.HandlerFunc
	api               []RouteRegistrar
	webhooks          []RouteRegistrar
	root              []RouteRegistrar
}

// RouterOption is a functional option for Router configuration
type RouterOption func(*Router)

// WithAPIVersion sets the API version prefix (e.g., "v1", "v2")
func WithAPIVersion(version string) RouterOption {
	return func(r *Router) {
		r.apiVersion = version
	}
}

// WithAPIMiddleware adds middleware to the versioned API group, in order
func WithAPIMiddleware(mw ...gin.HandlerFunc) RouterOption {
	return func(r *Router) {
		r.apiMiddleware = append(r.apiMiddleware, mw...)
	}
}

// WithWebhookMiddleware adds middleware to the webhook group, in order
func WithWebhookMiddleware(mw ...gin.HandlerFunc) RouterOption {
	return func(r *Router) {
		r.webhookMiddleware = append(r.webhookMiddleware, mw...)
	}
}

// NewRouter creates a new Router instance
func NewRouter(engine *gin.Engine, opts ...RouterOption) *Router {
	r := &Router{
		engine:     engine,
		apiVersion: "v1",
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a registrar for the versioned API group
func (r *Router) Register(registrar RouteRegistrar) *Router {
	r.api = append(r.api, registrar)
	return r
}

// RegisterWebhook adds a registrar for the /webhooks group
func (r *Router) RegisterWebhook(registrar RouteRegistrar) *Router {
	r.webhooks = append(r.webhooks, registrar)
	return r
}

// RegisterRoot adds a registrar mounted directly on the engine
func (r *Router) RegisterRoot(registrar RouteRegistrar) *Router {
	r.root = append(r.root, registrar)
	return r
}

// Setup registers all routes with the engine
func (r *Router) Setup() {
	for _, registrar := range r.root {
		registrar.RegisterRoutes(&r.engine.RouterGroup)
	}

	if len(r.webhooks) > 0 {
		hooks := r.engine.Group("/webhooks", r.webhookMiddleware...)
		for _, registrar := range r.webhooks {
			registrar.RegisterRoutes(hooks)
		}
	}

	if len(r.api) > 0 {
		api := r.engine.Group("/api/"+r.apiVersion, r.apiMiddleware...)
		for _, registrar := range r.api {
			registrar.RegisterRoutes(api)
		}
	}
}

// RegistrarFunc adapts a function to RouteRegistrar
type RegistrarFunc func(rg *gin.RouterGroup)

// RegisterRoutes implements RouteRegistrar
func (f RegistrarFunc) RegisterRoutes(rg *gin.RouterGroup) {
	f(rg)
}
