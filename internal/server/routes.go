package server

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/givebridge/givebridge/internal/config"
	"github.com/givebridge/givebridge/internal/lifecycle"
	"github.com/givebridge/givebridge/internal/payment"
	"github.com/givebridge/givebridge/internal/reconcile"
	"github.com/givebridge/givebridge/internal/store"
	"github.com/givebridge/givebridge/internal/tenant"
	"github.com/givebridge/givebridge/internal/webhook"
)

// Deps holds shared dependencies injected into HTTP handlers.
type Deps struct {
	Config       *config.Config
	Store        *store.Store
	Tenants      *tenant.Resolver
	Reconciler   *reconcile.Engine
	Orchestrator *payment.Orchestrator
	Lifecycle    *lifecycle.Manager
	Webhook      *webhook.Handler
	Version      string
}

// RegisterRoutes wires all HTTP handlers onto the given ServeMux.
func RegisterRoutes(mux *http.ServeMux, deps *Deps) {
	adminAuth := func(next http.Handler) http.Handler {
		return AdminKeyMiddleware(deps.Config.AdminKey, next)
	}

	// Health / readiness are unauthenticated liveness/readiness probes.
	mux.HandleFunc("/healthz", HandleHealthz)
	mux.HandleFunc("/readyz", HandleReadyz(deps.Store))

	// Status and metrics are private.
	mux.Handle("/status", adminAuth(HandleStatus(deps.Store, deps.Version)))
	mux.Handle("/metrics", adminAuth(promhttp.Handler()))

	// Processor webhook (signature-authenticated, tenant resolved via pk)
	webhookLimiter := NewRateLimiter(240, time.Minute)
	mux.Handle("/api/stripe/webhook", webhookLimiter.Middleware(deps.Webhook))

	// Donor-facing API
	donorLimiter := NewRateLimiter(60, time.Minute)
	mux.Handle("/api/donations/draft", donorLimiter.Middleware(HandleCreateDraft(deps.Reconciler, deps.Tenants)))
	mux.Handle("/api/payments/intent", donorLimiter.Middleware(HandleCreateIntent(deps.Orchestrator)))
	mux.Handle("/api/subscriptions", donorLimiter.Middleware(HandleCreateSubscription(deps.Orchestrator)))

	// Subscription lifecycle
	mux.Handle("POST /api/subscriptions/{id}/cancel", donorLimiter.Middleware(HandleCancelSubscription(deps.Lifecycle)))
	mux.Handle("POST /api/subscriptions/{id}/pause", donorLimiter.Middleware(HandlePauseSubscription(deps.Lifecycle)))
	mux.Handle("POST /api/subscriptions/{id}/resume", donorLimiter.Middleware(HandleResumeSubscription(deps.Lifecycle)))
	mux.Handle("POST /api/subscriptions/{id}/resume-date", donorLimiter.Middleware(HandleSetResumeDate(deps.Lifecycle)))
	mux.Handle("POST /api/subscriptions/{id}/modify", donorLimiter.Middleware(HandleModifySubscription(deps.Lifecycle)))

	// Admin API (key-authenticated)
	mux.Handle("GET /admin/tenants", adminAuth(HandleListTenants(deps.Store)))
	mux.Handle("POST /admin/tenants", adminAuth(HandleCreateTenant(deps.Store)))
	mux.Handle("PUT /admin/tenants/{tenant_id}/credentials", adminAuth(HandleRotateCredentials(deps.Store, deps.Tenants)))
	mux.Handle("GET /admin/tenants/{tenant_id}/donations", adminAuth(HandleListDonations(deps.Store)))
	mux.Handle("GET /admin/tenants/{tenant_id}/subscriptions", adminAuth(HandleListSubscriptions(deps.Store)))
	mux.Handle("GET /admin/subscriptions/{id}/failures", adminAuth(HandleListFailures(deps.Store)))
}
