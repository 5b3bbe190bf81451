package lifecycle

import (
	"context"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/givebridge/givebridge/internal/dunning"
	"github.com/givebridge/givebridge/internal/enginemetrics"
	"github.com/givebridge/givebridge/internal/store"
	"github.com/givebridge/givebridge/internal/tenant"
)

// InvoiceEvent is the engine's view of a recurring-charge webhook event.
type InvoiceEvent struct {
	ProcessorSubscriptionID string
	InvoiceID               string
	OccurredAt              time.Time
	Code                    string // failure only
	DeclineCode             string // failure only
	Message                 string // failure only
}

// ProcessorUpdate reflects a subscription object change pushed by the
// processor.
type ProcessorUpdate struct {
	ProcessorSubscriptionID string
	OccurredAt              time.Time
	Status                  string
	Paused                  bool
	PausedUntil             *time.Time
	AmountCents             int64
	PriceID                 string
	ProductID               string
}

// staleEvent reports whether a processor event is older than the newest one
// already observed for the subscription. Webhooks are at-least-once and
// unordered; an event for an old state must never regress a newer one.
func staleEvent(sub *store.Subscription, occurredAt time.Time) bool {
	return sub.LastEventAt != nil && occurredAt.Before(*sub.LastEventAt)
}

// ApplyInvoicePaid transitions the subscription to active and clears the
// last-error slot. The first activation sends a confirmation notification.
func (m *Manager) ApplyInvoicePaid(ctx context.Context, creds tenant.Credentials, ev InvoiceEvent) error {
	sub, err := m.store.GetSubscriptionByProcessorID(ev.ProcessorSubscriptionID)
	if err != nil {
		return err
	}
	if sub == nil {
		// Webhooks only ever update subscriptions the orchestrator created.
		log.Warn().
			Str("tenant_id", creds.TenantID).
			Str("processor_subscription_id", ev.ProcessorSubscriptionID).
			Msg("Invoice paid for unknown subscription")
		return nil
	}
	if sub.Status == store.SubscriptionCanceled {
		return nil
	}
	if staleEvent(sub, ev.OccurredAt) {
		log.Info().
			Str("subscription_id", sub.ID).
			Str("invoice_id", ev.InvoiceID).
			Msg("Stale invoice-paid event ignored")
		return nil
	}

	firstActivation := sub.Status == store.SubscriptionIncomplete
	sub.Status = store.SubscriptionActive
	sub.ResumeAt = nil
	sub.LastErrorCode = ""
	sub.LastErrorDeclineCode = ""
	sub.LastErrorMessage = ""
	sub.LastErrorAt = nil
	occurredAt := ev.OccurredAt
	sub.LastEventAt = &occurredAt
	if err := m.store.UpdateSubscription(sub); err != nil {
		return err
	}

	if firstActivation {
		m.send(ctx, sub, creds, TemplateActivated, nil)
	}
	return nil
}

// ApplyInvoiceFailed transitions the subscription to past_due, classifies the
// failure, appends a dunning history row, and triggers a donor notification.
// No classification, fatal or not, cancels the subscription automatically.
func (m *Manager) ApplyInvoiceFailed(ctx context.Context, creds tenant.Credentials, ev InvoiceEvent) error {
	sub, err := m.store.GetSubscriptionByProcessorID(ev.ProcessorSubscriptionID)
	if err != nil {
		return err
	}
	if sub == nil {
		log.Warn().
			Str("tenant_id", creds.TenantID).
			Str("processor_subscription_id", ev.ProcessorSubscriptionID).
			Msg("Invoice failed for unknown subscription")
		return nil
	}
	if sub.Status == store.SubscriptionCanceled {
		return nil
	}
	if staleEvent(sub, ev.OccurredAt) {
		log.Info().
			Str("subscription_id", sub.ID).
			Str("invoice_id", ev.InvoiceID).
			Msg("Stale invoice-failed event ignored")
		return nil
	}

	classification := dunning.Classify(ev.Code, ev.DeclineCode)
	enginemetrics.RecurringFailuresTotal.WithLabelValues(classification.Cause, strconv.FormatBool(classification.Fatal)).Inc()

	occurredAt := ev.OccurredAt
	sub.Status = store.SubscriptionPastDue
	sub.LastErrorCode = ev.Code
	sub.LastErrorDeclineCode = ev.DeclineCode
	sub.LastErrorMessage = ev.Message
	sub.LastErrorAt = &occurredAt
	sub.LastEventAt = &occurredAt
	if err := m.store.UpdateSubscription(sub); err != nil {
		return err
	}

	if err := m.store.AppendFailureRecord(&store.FailureRecord{
		TenantID:       sub.TenantID,
		SubscriptionID: sub.ID,
		InvoiceID:      ev.InvoiceID,
		Code:           ev.Code,
		DeclineCode:    ev.DeclineCode,
		Message:        ev.Message,
		Cause:          classification.Cause,
		Fatal:          classification.Fatal,
	}); err != nil {
		return err
	}

	if classification.Fatal {
		// The payment method is unusable; replacing it stays a donor-driven
		// step for now, so flag it loudly for operators.
		log.Warn().
			Str("subscription_id", sub.ID).
			Str("decline_code", ev.DeclineCode).
			Str("cause", classification.Cause).
			Msg("Fatal payment failure, donor must replace payment method")
	}

	m.send(ctx, sub, creds, classification.Template, map[string]string{
		"cause": classification.Cause,
	})
	return nil
}

// ApplyProcessorUpdate maps a pushed subscription object change onto the
// local row: status via the central mapping, plus amount and catalog
// references when they moved.
func (m *Manager) ApplyProcessorUpdate(_ context.Context, creds tenant.Credentials, up ProcessorUpdate) error {
	sub, err := m.store.GetSubscriptionByProcessorID(up.ProcessorSubscriptionID)
	if err != nil {
		return err
	}
	if sub == nil {
		log.Warn().
			Str("tenant_id", creds.TenantID).
			Str("processor_subscription_id", up.ProcessorSubscriptionID).
			Msg("Update for unknown subscription")
		return nil
	}
	if sub.Status == store.SubscriptionCanceled {
		return nil
	}
	if staleEvent(sub, up.OccurredAt) {
		log.Info().
			Str("subscription_id", sub.ID).
			Str("processor_subscription_id", up.ProcessorSubscriptionID).
			Msg("Stale subscription update ignored")
		return nil
	}

	sub.Status = MapProcessorStatus(up.Status, up.PausedUntil)
	if up.Paused && sub.Status == store.SubscriptionActive {
		// The processor reports active while collection is paused without a
		// scheduled resume date.
		sub.Status = store.SubscriptionPaused
	}
	sub.ResumeAt = up.PausedUntil
	if up.AmountCents > 0 {
		sub.AmountCents = up.AmountCents
	}
	if up.PriceID != "" {
		sub.PriceID = up.PriceID
	}
	if up.ProductID != "" {
		sub.ProductID = up.ProductID
	}
	if !up.OccurredAt.IsZero() {
		occurredAt := up.OccurredAt
		sub.LastEventAt = &occurredAt
	}
	return m.store.UpdateSubscription(sub)
}

// ApplyProcessorDeletion marks the subscription canceled after the processor
// deleted it.
func (m *Manager) ApplyProcessorDeletion(_ context.Context, creds tenant.Credentials, processorSubscriptionID string) error {
	sub, err := m.store.GetSubscriptionByProcessorID(processorSubscriptionID)
	if err != nil {
		return err
	}
	if sub == nil {
		log.Warn().
			Str("tenant_id", creds.TenantID).
			Str("processor_subscription_id", processorSubscriptionID).
			Msg("Deletion for unknown subscription")
		return nil
	}
	if sub.Status == store.SubscriptionCanceled {
		return nil
	}
	sub.Status = store.SubscriptionCanceled
	sub.ResumeAt = nil
	return m.store.UpdateSubscription(sub)
}
