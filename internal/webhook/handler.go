package webhook

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	stripelib "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/givebridge/givebridge/internal/enginemetrics"
	"github.com/givebridge/givebridge/internal/lifecycle"
	"github.com/givebridge/givebridge/internal/reconcile"
	"github.com/givebridge/givebridge/internal/store"
	"github.com/givebridge/givebridge/internal/tenant"
)

const webhookBodyLimit = 1024 * 1024 // 1 MiB

// Handler verifies and dispatches processor webhook deliveries. Each tenant
// registers its own endpoint URL carrying a pk query parameter, so the
// handler resolves credentials per request before checking the signature.
type Handler struct {
	tenants    *tenant.Resolver
	reconciler *reconcile.Engine
	lifecycle  *lifecycle.Manager
}

type errorResponse struct {
	Error string `json:"error"`
}

type receivedResponse struct {
	Received bool `json:"received"`
}

// NewHandler creates the webhook HTTP handler.
func NewHandler(tenants *tenant.Resolver, reconciler *reconcile.Engine, lc *lifecycle.Manager) *Handler {
	return &Handler{
		tenants:    tenants,
		reconciler: reconciler,
		lifecycle:  lc,
	}
}

// ServeHTTP resolves the tenant, verifies the signature, and dispatches the
// event. A 200 is only sent after the outcome is durably recorded; transient
// failures return 5xx so the processor redelivers.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	eventType := "unknown"
	status := http.StatusOK
	defer func() {
		enginemetrics.WebhookRequestsTotal.WithLabelValues(eventType, strconv.Itoa(status)).Inc()
		enginemetrics.WebhookDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
	}()

	if r.Method != http.MethodPost {
		status = http.StatusMethodNotAllowed
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
		return
	}

	creds, err := h.tenants.ResolveByPublicKey(r.URL.Query().Get("pk"))
	if err != nil {
		// Unknown or misconfigured tenants get the same response as a bad
		// signature so the endpoint does not leak which keys exist.
		status = http.StatusBadRequest
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "unknown endpoint"})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, webhookBodyLimit)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		status = http.StatusBadRequest
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "failed to read request body"})
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if strings.TrimSpace(sigHeader) == "" {
		status = http.StatusBadRequest
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "missing signature"})
		return
	}

	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, creds.WebhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		status = http.StatusBadRequest
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid signature"})
		return
	}
	eventType = string(event.Type)

	if err := h.handleEvent(r, creds, &event); err != nil {
		log.Error().Err(err).
			Str("tenant_id", creds.TenantID).
			Str("event_id", event.ID).
			Str("type", string(event.Type)).
			Msg("Webhook processing failed")
		status = http.StatusInternalServerError
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "processing failed"})
		return
	}

	status = http.StatusOK
	writeJSON(w, http.StatusOK, receivedResponse{Received: true})
}

func (h *Handler) handleEvent(r *http.Request, creds tenant.Credentials, event *stripelib.Event) error {
	switch event.Type {
	case "payment_intent.succeeded":
		var intent PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			return fmt.Errorf("decode payment_intent: %w", err)
		}
		return h.recordIntent(creds, intent, store.DonationCompleted)

	case "payment_intent.payment_failed":
		var intent PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			return fmt.Errorf("decode payment_intent: %w", err)
		}
		return h.recordIntent(creds, intent, store.DonationFailed)

	case "invoice.payment_succeeded":
		var inv Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return fmt.Errorf("decode invoice: %w", err)
		}
		subID := inv.SubscriptionID()
		if subID == "" {
			// One-off invoices have no subscription attached.
			return nil
		}
		return h.lifecycle.ApplyInvoicePaid(r.Context(), creds, lifecycle.InvoiceEvent{
			ProcessorSubscriptionID: subID,
			InvoiceID:               inv.ID,
			OccurredAt:              time.Unix(event.Created, 0).UTC(),
		})

	case "invoice.payment_failed":
		var inv Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return fmt.Errorf("decode invoice: %w", err)
		}
		subID := inv.SubscriptionID()
		if subID == "" {
			return nil
		}
		ev := lifecycle.InvoiceEvent{
			ProcessorSubscriptionID: subID,
			InvoiceID:               inv.ID,
			OccurredAt:              time.Unix(event.Created, 0).UTC(),
		}
		if fe := inv.LastFinalizationError; fe != nil {
			ev.Code = fe.Code
			ev.DeclineCode = fe.DeclineCode
			ev.Message = fe.Message
		}
		return h.lifecycle.ApplyInvoiceFailed(r.Context(), creds, ev)

	case "customer.subscription.updated":
		var sub Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return fmt.Errorf("decode subscription: %w", err)
		}
		return h.lifecycle.ApplyProcessorUpdate(r.Context(), creds, lifecycle.ProcessorUpdate{
			ProcessorSubscriptionID: sub.ID,
			OccurredAt:              time.Unix(event.Created, 0).UTC(),
			Status:                  sub.Status,
			Paused:                  sub.PauseCollection != nil,
			PausedUntil:             sub.ResumesAt(),
			AmountCents:             sub.FirstUnitAmount(),
			PriceID:                 sub.FirstPriceID(),
			ProductID:               sub.FirstProductID(),
		})

	case "customer.subscription.deleted":
		var sub Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return fmt.Errorf("decode subscription: %w", err)
		}
		return h.lifecycle.ApplyProcessorDeletion(r.Context(), creds, sub.ID)

	case "charge.dispute.created", "charge.dispute.closed":
		log.Warn().
			Str("tenant_id", creds.TenantID).
			Str("event_id", event.ID).
			Str("type", string(event.Type)).
			Msg("Dispute event received, manual review required")
		return nil

	default:
		log.Info().
			Str("tenant_id", creds.TenantID).
			Str("type", string(event.Type)).
			Str("event_id", event.ID).
			Msg("Webhook ignored (unhandled type)")
		return nil
	}
}

// recordIntent turns a finalized payment intent into a donation row. The
// intent metadata written at creation time makes the event self-sufficient;
// the matching draft only fills gaps afterwards.
func (h *Handler) recordIntent(creds tenant.Credentials, intent PaymentIntent, status store.DonationStatus) error {
	amount := intent.Amount
	if v := intent.Metadata["amount_cents"]; v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil && parsed > 0 {
			amount = parsed
		}
	}
	_, err := h.reconciler.RecordPayment(reconcile.ConfirmedPayment{
		TenantID:           creds.TenantID,
		ProcessorReference: intent.ID,
		AmountCents:        amount,
		TrackingID:         intent.Metadata["tracking_id"],
		Email:              intent.Metadata["email"],
		FirstName:          intent.Metadata["first_name"],
		LastName:           intent.Metadata["last_name"],
		Campaign:           intent.Metadata["campaign"],
		PaymentMethodKind:  intent.MethodKind(),
		Status:             status,
	})
	return err
}

// PaymentIntent is a minimal representation of a payment_intent event.
type PaymentIntent struct {
	ID                 string            `json:"id"`
	Amount             int64             `json:"amount"`
	Currency           string            `json:"currency"`
	PaymentMethodTypes []string          `json:"payment_method_types"`
	Metadata           map[string]string `json:"metadata"`
}

// MethodKind derives the payment method family from the intent's allowed
// method types.
func (p *PaymentIntent) MethodKind() store.PaymentMethodKind {
	for _, t := range p.PaymentMethodTypes {
		if t == "sepa_debit" || t == "us_bank_account" || t == "bacs_debit" {
			return store.PaymentMethodBankDebit
		}
	}
	return store.PaymentMethodCard
}

// Invoice is a minimal representation of an invoice event.
type Invoice struct {
	ID           string `json:"id"`
	Subscription string `json:"subscription"`
	Parent       struct {
		SubscriptionDetails struct {
			Subscription string `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
	LastFinalizationError *struct {
		Code        string `json:"code"`
		DeclineCode string `json:"decline_code"`
		Message     string `json:"message"`
	} `json:"last_finalization_error"`
}

// SubscriptionID returns the owning subscription, tolerating both the flat
// legacy field and the nested placement newer API versions use.
func (i *Invoice) SubscriptionID() string {
	if s := strings.TrimSpace(i.Subscription); s != "" {
		return s
	}
	return strings.TrimSpace(i.Parent.SubscriptionDetails.Subscription)
}

// Subscription is a minimal representation of a subscription event.
type Subscription struct {
	ID              string `json:"id"`
	Customer        string `json:"customer"`
	Status          string `json:"status"`
	PauseCollection *struct {
		Behavior  string `json:"behavior"`
		ResumesAt int64  `json:"resumes_at"`
	} `json:"pause_collection"`
	Items struct {
		Data []struct {
			Price struct {
				ID         string `json:"id"`
				UnitAmount int64  `json:"unit_amount"`
				Product    string `json:"product"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
	Metadata map[string]string `json:"metadata"`
}

// ResumesAt returns the scheduled resume time when collection is paused.
func (s *Subscription) ResumesAt() *time.Time {
	if s.PauseCollection == nil {
		return nil
	}
	if s.PauseCollection.ResumesAt == 0 {
		return nil
	}
	t := time.Unix(s.PauseCollection.ResumesAt, 0).UTC()
	return &t
}

// FirstPriceID returns the price ID from the first subscription item.
func (s *Subscription) FirstPriceID() string {
	for _, item := range s.Items.Data {
		if id := strings.TrimSpace(item.Price.ID); id != "" {
			return id
		}
	}
	return ""
}

// FirstProductID returns the product ID from the first subscription item.
func (s *Subscription) FirstProductID() string {
	for _, item := range s.Items.Data {
		if id := strings.TrimSpace(item.Price.Product); id != "" {
			return id
		}
	}
	return ""
}

// FirstUnitAmount returns the unit amount from the first subscription item.
func (s *Subscription) FirstUnitAmount() int64 {
	for _, item := range s.Items.Data {
		if item.Price.UnitAmount > 0 {
			return item.Price.UnitAmount
		}
	}
	return 0
}

func writeJSON[T any](w http.ResponseWriter, status int, v T) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Int("status", status).Msg("webhook: encode response")
	}
}
