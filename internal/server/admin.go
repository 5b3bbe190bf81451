package server

import (
	"net/http"
	"strings"

	"github.com/givebridge/givebridge/internal/store"
	"github.com/givebridge/givebridge/internal/tenant"
)

// AdminKeyMiddleware returns middleware that requires a valid admin API key.
func AdminKeyMiddleware(adminKey string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.Header.Get("X-Admin-Key"))
		if key == "" {
			auth := r.Header.Get("Authorization")
			if strings.HasPrefix(auth, "Bearer ") {
				key = strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
			}
		}
		if key == "" || key != adminKey {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// HandleHealthz returns 200 "ok" unconditionally (liveness probe).
func HandleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz returns a handler that checks database connectivity
// (readiness probe).
func HandleReadyz(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		if err := st.Ping(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	}
}

type statusResponse struct {
	Version       string                           `json:"version"`
	Tenants       int                              `json:"tenants"`
	Subscriptions map[store.SubscriptionStatus]int `json:"subscriptions"`
}

// HandleStatus reports aggregate engine status.
func HandleStatus(st *store.Store, version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		tenants, err := st.ListTenants()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		counts, err := st.CountSubscriptionsByStatus()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, statusResponse{
			Version:       version,
			Tenants:       len(tenants),
			Subscriptions: counts,
		})
	}
}

type createTenantRequest struct {
	Name          string `json:"name"`
	PublicKey     string `json:"public_key"`
	SecretKey     string `json:"secret_key"`
	WebhookSecret string `json:"webhook_secret"`
}

// HandleCreateTenant provisions a tenant with its processor credentials.
func HandleCreateTenant(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createTenantRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.Name) == "" {
			writeError(w, http.StatusBadRequest, "tenant name is required")
			return
		}
		if strings.TrimSpace(req.SecretKey) == "" || strings.TrimSpace(req.WebhookSecret) == "" {
			writeError(w, http.StatusBadRequest, "processor credentials are required")
			return
		}

		id, err := store.GenerateTenantID()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		t := &store.Tenant{
			ID:            id,
			Name:          strings.TrimSpace(req.Name),
			PublicKey:     strings.TrimSpace(req.PublicKey),
			SecretKey:     strings.TrimSpace(req.SecretKey),
			WebhookSecret: strings.TrimSpace(req.WebhookSecret),
		}
		if err := st.CreateTenant(t); err != nil {
			writeError(w, http.StatusConflict, "tenant already exists")
			return
		}
		writeJSON(w, http.StatusCreated, t)
	}
}

// HandleListTenants lists all tenants. Credentials never serialize.
func HandleListTenants(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		tenants, err := st.ListTenants()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if tenants == nil {
			tenants = []*store.Tenant{}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"tenants": tenants,
			"count":   len(tenants),
		})
	}
}

type rotateCredentialsRequest struct {
	PublicKey     string `json:"public_key"`
	SecretKey     string `json:"secret_key"`
	WebhookSecret string `json:"webhook_secret"`
}

// HandleRotateCredentials replaces a tenant's processor credentials and
// drops any cached resolution of the old public key.
func HandleRotateCredentials(st *store.Store, tenants *tenant.Resolver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID := r.PathValue("tenant_id")
		existing, err := st.GetTenant(tenantID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if existing == nil {
			writeError(w, http.StatusNotFound, "unknown tenant")
			return
		}

		var req rotateCredentialsRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.SecretKey) == "" || strings.TrimSpace(req.WebhookSecret) == "" {
			writeError(w, http.StatusBadRequest, "processor credentials are required")
			return
		}

		if err := st.UpdateTenantCredentials(tenantID, strings.TrimSpace(req.PublicKey), strings.TrimSpace(req.SecretKey), strings.TrimSpace(req.WebhookSecret)); err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		tenants.Invalidate(existing.PublicKey)
		tenants.Invalidate(strings.TrimSpace(req.PublicKey))

		updated, err := st.GetTenant(tenantID)
		if err != nil || updated == nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, updated)
	}
}

// HandleListDonations lists a tenant's finalized donations.
func HandleListDonations(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		donations, err := st.ListDonationsByTenant(r.PathValue("tenant_id"))
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if donations == nil {
			donations = []*store.Donation{}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"donations": donations,
			"count":     len(donations),
		})
	}
}

// HandleListSubscriptions lists a tenant's recurring donations.
func HandleListSubscriptions(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		subs, err := st.ListSubscriptionsByTenant(r.PathValue("tenant_id"))
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if subs == nil {
			subs = []*store.Subscription{}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"subscriptions": subs,
			"count":         len(subs),
		})
	}
}

// HandleListFailures lists the recorded charge failures for a subscription.
func HandleListFailures(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		failures, err := st.ListFailureRecords(r.PathValue("id"))
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if failures == nil {
			failures = []*store.FailureRecord{}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"failures": failures,
			"count":    len(failures),
		})
	}
}
