package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/givebridge/givebridge/internal/billing"
	"github.com/givebridge/givebridge/internal/lifecycle"
	"github.com/givebridge/givebridge/internal/payment"
	"github.com/givebridge/givebridge/internal/processor"
	"github.com/givebridge/givebridge/internal/reconcile"
	"github.com/givebridge/givebridge/internal/tenant"
)

const requestBodyLimit = 64 * 1024

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Int("status", status).Msg("server: encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, requestBodyLimit)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// writeDomainError maps engine errors onto HTTP statuses. Validation errors
// are the caller's fault, declined payments get a 402 so the donor form can
// react, and anything reaching the processor and failing there is a 502.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, payment.ErrInvalidAmount),
		errors.Is(err, payment.ErrInvalidEmail),
		errors.Is(err, billing.ErrInvalidBillingDay),
		errors.Is(err, lifecycle.ErrNotPaused):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, lifecycle.ErrSubscriptionTerminated):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, lifecycle.ErrSubscriptionNotFound):
		writeError(w, http.StatusNotFound, "subscription not found")
	case errors.Is(err, tenant.ErrTenantNotFound), errors.Is(err, tenant.ErrCredentialsMissing):
		writeError(w, http.StatusNotFound, "unknown tenant")
	default:
		var procErr *processor.Error
		if errors.As(err, &procErr) {
			if procErr.Declined() {
				writeError(w, http.StatusPaymentRequired, procErr.Message)
				return
			}
			writeError(w, http.StatusBadGateway, "payment processor error")
			return
		}
		log.Error().Err(err).Msg("Request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

type draftRequest struct {
	TenantID    string `json:"tenant_id"`
	Email       string `json:"email"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	AmountCents int64  `json:"amount_cents"`
	Campaign    string `json:"campaign"`
	Address     string `json:"address"`
	City        string `json:"city"`
	PostalCode  string `json:"postal_code"`
	Country     string `json:"country"`
}

// HandleCreateDraft captures donor form data before the payment step and
// hands back the tracking key the client threads through payment creation.
func HandleCreateDraft(engine *reconcile.Engine, tenants *tenant.Resolver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		var req draftRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.AmountCents <= 0 {
			writeError(w, http.StatusBadRequest, payment.ErrInvalidAmount.Error())
			return
		}
		if strings.TrimSpace(req.Email) == "" {
			writeError(w, http.StatusBadRequest, payment.ErrInvalidEmail.Error())
			return
		}
		if _, err := tenants.ResolveByID(strings.TrimSpace(req.TenantID)); err != nil {
			writeDomainError(w, err)
			return
		}

		draft, err := engine.SubmitDraft(reconcile.DraftParams{
			TenantID:    strings.TrimSpace(req.TenantID),
			Email:       req.Email,
			FirstName:   req.FirstName,
			LastName:    req.LastName,
			AmountCents: req.AmountCents,
			Campaign:    req.Campaign,
			Address:     req.Address,
			City:        req.City,
			PostalCode:  req.PostalCode,
			Country:     req.Country,
		})
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, draft)
	}
}

type intentRequest struct {
	TenantID    string `json:"tenant_id"`
	AmountCents int64  `json:"amount_cents"`
	Email       string `json:"email"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Campaign    string `json:"campaign"`
	TrackingID  string `json:"tracking_id"`
}

// HandleCreateIntent creates a one-time payment intent for client-side
// confirmation.
func HandleCreateIntent(orch *payment.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		var req intentRequest
		if !decodeBody(w, r, &req) {
			return
		}
		result, err := orch.OneTime(r.Context(), payment.OneTimeParams{
			TenantID:    strings.TrimSpace(req.TenantID),
			AmountCents: req.AmountCents,
			Email:       req.Email,
			FirstName:   req.FirstName,
			LastName:    req.LastName,
			Campaign:    req.Campaign,
			TrackingID:  req.TrackingID,
		})
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, result)
	}
}

type subscribeRequest struct {
	TenantID        string `json:"tenant_id"`
	PaymentMethodID string `json:"payment_method_id"`
	Email           string `json:"email"`
	FirstName       string `json:"first_name"`
	LastName        string `json:"last_name"`
	AmountCents     int64  `json:"amount_cents"`
	Campaign        string `json:"campaign"`
	BillingDay      int    `json:"billing_day"`
	ProductRef      string `json:"product_ref"`
}

// HandleCreateSubscription sets up a recurring donation.
func HandleCreateSubscription(orch *payment.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		var req subscribeRequest
		if !decodeBody(w, r, &req) {
			return
		}
		result, err := orch.Recurring(r.Context(), payment.RecurringParams{
			TenantID:        strings.TrimSpace(req.TenantID),
			PaymentMethodID: strings.TrimSpace(req.PaymentMethodID),
			Email:           req.Email,
			FirstName:       req.FirstName,
			LastName:        req.LastName,
			AmountCents:     req.AmountCents,
			Campaign:        req.Campaign,
			BillingDay:      req.BillingDay,
			ProductRef:      req.ProductRef,
		})
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, result)
	}
}

// HandleCancelSubscription cancels a recurring donation permanently.
func HandleCancelSubscription(mgr *lifecycle.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sub, err := mgr.Cancel(r.Context(), r.PathValue("id"))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sub)
	}
}

type pauseRequest struct {
	ResumeAt time.Time `json:"resume_at"`
}

// HandlePauseSubscription suspends collection until the given resume date.
func HandlePauseSubscription(mgr *lifecycle.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req pauseRequest
		if !decodeBody(w, r, &req) {
			return
		}
		sub, err := mgr.Pause(r.Context(), r.PathValue("id"), req.ResumeAt)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sub)
	}
}

// HandleSetResumeDate moves the scheduled resume date of a paused
// subscription.
func HandleSetResumeDate(mgr *lifecycle.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req pauseRequest
		if !decodeBody(w, r, &req) {
			return
		}
		sub, err := mgr.SetResumeDate(r.Context(), r.PathValue("id"), req.ResumeAt)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sub)
	}
}

// HandleResumeSubscription resumes collection immediately.
func HandleResumeSubscription(mgr *lifecycle.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sub, err := mgr.Resume(r.Context(), r.PathValue("id"))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sub)
	}
}

type modifyRequest struct {
	AmountCents     *int64  `json:"amount_cents"`
	BillingDay      *int    `json:"billing_day"`
	PaymentMethodID *string `json:"payment_method_id"`
}

// HandleModifySubscription changes amount, billing day, or payment method.
// Omitted fields stay untouched.
func HandleModifySubscription(mgr *lifecycle.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req modifyRequest
		if !decodeBody(w, r, &req) {
			return
		}
		sub, err := mgr.Modify(r.Context(), r.PathValue("id"), lifecycle.ModifyParams{
			AmountCents:     req.AmountCents,
			BillingDay:      req.BillingDay,
			PaymentMethodID: req.PaymentMethodID,
		})
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sub)
	}
}
