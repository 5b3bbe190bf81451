// Package reconcile correlates client-submitted donation drafts with
// processor-confirmed payment events. The two writers are independent and
// asynchronously ordered; the tracking correlation key bridges them.
package reconcile

import (
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"

	"github.com/givebridge/givebridge/internal/enginemetrics"
	"github.com/givebridge/givebridge/internal/store"
)

// Engine persists drafts and turns confirmed processor events into durable
// donation rows, idempotently.
type Engine struct {
	store *store.Store
}

// NewEngine creates a reconciliation Engine.
func NewEngine(st *store.Store) *Engine {
	return &Engine{store: st}
}

// DraftParams is the donor-identity step submission.
type DraftParams struct {
	TenantID    string
	Email       string
	FirstName   string
	LastName    string
	AmountCents int64
	Campaign    string
	Address     string
	City        string
	PostalCode  string
	Country     string
}

// SubmitDraft persists a donation draft and returns it with a fresh tracking
// key for the client to thread through the payment step.
func (e *Engine) SubmitDraft(p DraftParams) (*store.DonationDraft, error) {
	draft := &store.DonationDraft{
		TrackingID:  NewTrackingID(),
		TenantID:    p.TenantID,
		Email:       strings.ToLower(strings.TrimSpace(p.Email)),
		FirstName:   strings.TrimSpace(p.FirstName),
		LastName:    strings.TrimSpace(p.LastName),
		AmountCents: p.AmountCents,
		Campaign:    strings.TrimSpace(p.Campaign),
		Address:     p.Address,
		City:        p.City,
		PostalCode:  p.PostalCode,
		Country:     p.Country,
	}
	if err := e.store.CreateDraft(draft); err != nil {
		return nil, err
	}
	return draft, nil
}

// ConfirmedPayment is the processor's view of a completed (or definitively
// failed) one-time payment, as carried on the webhook event.
type ConfirmedPayment struct {
	TenantID           string
	ProcessorReference string
	AmountCents        int64
	TrackingID         string
	Email              string
	FirstName          string
	LastName           string
	Campaign           string
	PaymentMethodKind  store.PaymentMethodKind
	Status             store.DonationStatus
}

// RecordPayment inserts a finalized donation and enriches it from the
// matching draft. Duplicate deliveries for the same processor reference are
// no-ops: the existing row wins and no re-enrichment happens.
func (e *Engine) RecordPayment(p ConfirmedPayment) (*store.Donation, error) {
	if strings.TrimSpace(p.ProcessorReference) == "" {
		return nil, fmt.Errorf("confirmed payment has no processor reference")
	}

	donation := &store.Donation{
		TenantID:           p.TenantID,
		AmountCents:        p.AmountCents,
		Email:              strings.ToLower(strings.TrimSpace(p.Email)),
		FirstName:          p.FirstName,
		LastName:           p.LastName,
		Campaign:           p.Campaign,
		PaymentMethodKind:  p.PaymentMethodKind,
		TrackingID:         p.TrackingID,
		Status:             p.Status,
		ProcessorReference: p.ProcessorReference,
	}

	inserted, err := e.store.InsertDonation(donation)
	if err != nil {
		return nil, err
	}
	if !inserted {
		enginemetrics.ReconciliationTotal.WithLabelValues("duplicate").Inc()
		log.Info().
			Str("tenant_id", p.TenantID).
			Str("processor_reference", p.ProcessorReference).
			Msg("Duplicate payment event ignored")
		return e.store.GetDonationByProcessorReference(p.ProcessorReference)
	}
	enginemetrics.ReconciliationTotal.WithLabelValues("recorded").Inc()

	if err := e.enrich(donation); err != nil {
		// Enrichment is best-effort: a confirmed payment is never lost because
		// the draft went missing.
		log.Warn().Err(err).
			Str("tenant_id", p.TenantID).
			Str("tracking_id", p.TrackingID).
			Msg("Donation enrichment failed")
	}
	return donation, nil
}

func (e *Engine) enrich(d *store.Donation) error {
	if strings.TrimSpace(d.TrackingID) == "" {
		enginemetrics.ReconciliationTotal.WithLabelValues("draft_missing").Inc()
		return nil
	}
	draft, err := e.store.GetDraft(d.TrackingID)
	if err != nil {
		return err
	}
	if draft == nil {
		enginemetrics.ReconciliationTotal.WithLabelValues("draft_missing").Inc()
		log.Info().
			Str("tracking_id", d.TrackingID).
			Msg("No draft found for confirmed payment")
		return nil
	}
	// The tracking key is client-supplied. A draft belonging to another tenant
	// must stay untouched for its own tenant's payment.
	if draft.TenantID != d.TenantID {
		enginemetrics.ReconciliationTotal.WithLabelValues("draft_missing").Inc()
		log.Warn().
			Str("tenant_id", d.TenantID).
			Str("draft_tenant_id", draft.TenantID).
			Str("tracking_id", d.TrackingID).
			Msg("Tracking key resolves to another tenant's draft; ignoring")
		return nil
	}

	// The event payload wins for fields it carries; the draft fills the gaps.
	merged := *draft
	if d.Email != "" {
		merged.Email = d.Email
	}
	if d.FirstName != "" {
		merged.FirstName = d.FirstName
	}
	if d.LastName != "" {
		merged.LastName = d.LastName
	}
	if d.Campaign != "" {
		merged.Campaign = d.Campaign
	}
	if err := e.store.UpdateDonationEnrichment(d.ID, &merged); err != nil {
		return err
	}
	d.Email = merged.Email
	d.FirstName = merged.FirstName
	d.LastName = merged.LastName
	d.Campaign = merged.Campaign
	d.Address = merged.Address
	d.City = merged.City
	d.PostalCode = merged.PostalCode
	d.Country = merged.Country

	enginemetrics.ReconciliationTotal.WithLabelValues("enriched").Inc()

	// The draft is consumed exactly once.
	if err := e.store.DeleteDraft(d.TrackingID); err != nil {
		log.Warn().Err(err).Str("tracking_id", d.TrackingID).Msg("Failed to delete consumed draft")
	}
	return nil
}

// ExpireDrafts removes abandoned drafts older than the retention window.
func (e *Engine) ExpireDrafts(retention time.Duration) {
	deleted, err := e.store.DeleteDraftsBefore(time.Now().UTC().Add(-retention))
	if err != nil {
		log.Error().Err(err).Msg("Draft expiry sweep failed")
		return
	}
	if deleted > 0 {
		log.Info().Int64("deleted", deleted).Msg("Expired abandoned donation drafts")
	}
}

// NewTrackingID returns a fresh opaque tracking correlation key.
func NewTrackingID() string {
	return ulid.Make().String()
}
