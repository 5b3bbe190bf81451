// Package lifecycle owns the subscription state machine and its mutation
// operations. Proration is disabled on every processor call: changes never
// generate partial-period charges.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/givebridge/givebridge/internal/billing"
	"github.com/givebridge/givebridge/internal/catalog"
	"github.com/givebridge/givebridge/internal/enginemetrics"
	"github.com/givebridge/givebridge/internal/notify"
	"github.com/givebridge/givebridge/internal/processor"
	"github.com/givebridge/givebridge/internal/store"
	"github.com/givebridge/givebridge/internal/tenant"
)

var (
	// ErrSubscriptionNotFound means no subscription matches the identifier.
	ErrSubscriptionNotFound = errors.New("subscription not found")
	// ErrSubscriptionTerminated rejects operations on a canceled subscription.
	ErrSubscriptionTerminated = errors.New("subscription is canceled")
	// ErrNotPaused rejects a resume-date change on a subscription that is not
	// paused.
	ErrNotPaused = errors.New("subscription is not paused")
)

// Notification templates for lifecycle confirmations.
const (
	TemplateCanceled  = "subscription-canceled"
	TemplatePaused    = "subscription-paused"
	TemplateResumed   = "subscription-resumed"
	TemplateModified  = "subscription-modified"
	TemplateActivated = "subscription-activated"
)

var timeNow = time.Now

// Manager applies lifecycle operations and webhook-driven transitions.
type Manager struct {
	store    *store.Store
	tenants  *tenant.Resolver
	clients  processor.Factory
	catalog  *catalog.Manager
	notifier notify.Notifier
}

// NewManager creates a lifecycle Manager.
func NewManager(st *store.Store, tenants *tenant.Resolver, clients processor.Factory, cat *catalog.Manager, notifier notify.Notifier) *Manager {
	return &Manager{
		store:    st,
		tenants:  tenants,
		clients:  clients,
		catalog:  cat,
		notifier: notifier,
	}
}

func (m *Manager) load(id string) (*store.Subscription, error) {
	sub, err := m.store.GetSubscription(id)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, ErrSubscriptionNotFound
	}
	return sub, nil
}

func (m *Manager) clientFor(sub *store.Subscription) (processor.Client, tenant.Credentials, error) {
	creds, err := m.tenants.ResolveByID(sub.TenantID)
	if err != nil {
		return nil, tenant.Credentials{}, err
	}
	return m.clients(creds.SecretKey), creds, nil
}

// Cancel cancels the subscription at the processor, then locally. The
// confirmation notification is fire-and-forget; its failure never rolls back
// the cancellation.
func (m *Manager) Cancel(ctx context.Context, id string) (*store.Subscription, error) {
	sub, err := m.load(id)
	if err != nil {
		return nil, err
	}
	if sub.Status == store.SubscriptionCanceled {
		return nil, ErrSubscriptionTerminated
	}
	client, creds, err := m.clientFor(sub)
	if err != nil {
		return nil, err
	}

	if err := client.CancelSubscription(ctx, sub.ProcessorSubscriptionID); err != nil {
		return nil, err
	}
	sub.Status = store.SubscriptionCanceled
	sub.ResumeAt = nil
	if err := m.store.UpdateSubscription(sub); err != nil {
		return nil, err
	}

	m.send(ctx, sub, creds, TemplateCanceled, nil)
	log.Info().
		Str("tenant_id", sub.TenantID).
		Str("subscription_id", sub.ID).
		Msg("Subscription canceled")
	return sub, nil
}

// Pause pauses collection until resumeAt. The exact resume timestamp is
// stored for display and sent to the processor.
func (m *Manager) Pause(ctx context.Context, id string, resumeAt time.Time) (*store.Subscription, error) {
	sub, err := m.load(id)
	if err != nil {
		return nil, err
	}
	if sub.Status == store.SubscriptionCanceled {
		return nil, ErrSubscriptionTerminated
	}
	if !resumeAt.After(timeNow()) {
		return nil, fmt.Errorf("resume date must be in the future")
	}
	client, creds, err := m.clientFor(sub)
	if err != nil {
		return nil, err
	}

	if _, err := client.UpdateSubscription(ctx, sub.ProcessorSubscriptionID, processor.SubscriptionUpdateParams{
		PauseResumesAt: &resumeAt,
	}); err != nil {
		return nil, err
	}
	sub.Status = store.SubscriptionPaused
	sub.ResumeAt = &resumeAt
	if err := m.store.UpdateSubscription(sub); err != nil {
		return nil, err
	}

	m.send(ctx, sub, creds, TemplatePaused, map[string]string{
		"resume_date": resumeAt.UTC().Format("2006-01-02"),
	})
	return sub, nil
}

// SetResumeDate moves the resume timestamp of an already paused
// subscription. Status does not change.
func (m *Manager) SetResumeDate(ctx context.Context, id string, resumeAt time.Time) (*store.Subscription, error) {
	sub, err := m.load(id)
	if err != nil {
		return nil, err
	}
	if sub.Status == store.SubscriptionCanceled {
		return nil, ErrSubscriptionTerminated
	}
	if sub.Status != store.SubscriptionPaused {
		return nil, ErrNotPaused
	}
	client, _, err := m.clientFor(sub)
	if err != nil {
		return nil, err
	}

	if _, err := client.UpdateSubscription(ctx, sub.ProcessorSubscriptionID, processor.SubscriptionUpdateParams{
		PauseResumesAt: &resumeAt,
	}); err != nil {
		return nil, err
	}
	sub.ResumeAt = &resumeAt
	if err := m.store.UpdateSubscription(sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// Resume lifts the pause immediately.
func (m *Manager) Resume(ctx context.Context, id string) (*store.Subscription, error) {
	sub, err := m.load(id)
	if err != nil {
		return nil, err
	}
	if sub.Status == store.SubscriptionCanceled {
		return nil, ErrSubscriptionTerminated
	}
	if sub.Status != store.SubscriptionPaused {
		return nil, ErrNotPaused
	}
	client, creds, err := m.clientFor(sub)
	if err != nil {
		return nil, err
	}

	if _, err := client.UpdateSubscription(ctx, sub.ProcessorSubscriptionID, processor.SubscriptionUpdateParams{
		ClearPause: true,
	}); err != nil {
		return nil, err
	}
	sub.Status = store.SubscriptionActive
	sub.ResumeAt = nil
	if err := m.store.UpdateSubscription(sub); err != nil {
		return nil, err
	}

	m.send(ctx, sub, creds, TemplateResumed, nil)
	return sub, nil
}

// ModifyParams lists the optional changes; nil fields are untouched.
type ModifyParams struct {
	AmountCents     *int64
	BillingDay      *int
	PaymentMethodID *string
}

// Modify applies amount, billing-day, and payment-method changes. Only fields
// that actually differ from current state reach the processor, and a single
// consolidated confirmation notification summarizes everything applied.
func (m *Manager) Modify(ctx context.Context, id string, p ModifyParams) (*store.Subscription, error) {
	sub, err := m.load(id)
	if err != nil {
		return nil, err
	}
	if sub.Status == store.SubscriptionCanceled {
		return nil, ErrSubscriptionTerminated
	}
	client, creds, err := m.clientFor(sub)
	if err != nil {
		return nil, err
	}

	applied := map[string]string{}

	if p.AmountCents != nil && *p.AmountCents != sub.AmountCents {
		if *p.AmountCents <= 0 {
			return nil, fmt.Errorf("donation amount must be positive")
		}
		entry, err := m.catalog.EnsurePrice(ctx, client, sub.TenantID, sub.Campaign, sub.ProductID, *p.AmountCents, catalog.CadenceMonthly)
		if err != nil {
			return nil, err
		}
		// Compare against the item's current price to avoid a no-op update.
		if entry.Price.ProcessorPriceID != sub.PriceID {
			remote, err := client.GetSubscription(ctx, sub.ProcessorSubscriptionID)
			if err != nil {
				return nil, err
			}
			if err := client.UpdateSubscriptionItem(ctx, remote.ItemID, entry.Price.ProcessorPriceID); err != nil {
				return nil, err
			}
			sub.PriceID = entry.Price.ProcessorPriceID
		}
		sub.AmountCents = *p.AmountCents
		applied["amount"] = formatAmount(*p.AmountCents)
	}

	if p.BillingDay != nil && *p.BillingDay != sub.BillingDay {
		anchor, err := billing.NextAnchor(timeNow(), *p.BillingDay)
		if err != nil {
			return nil, err
		}
		// The next billing date moves as a trial-end adjustment; the
		// subscription itself is never recreated.
		if _, err := client.UpdateSubscription(ctx, sub.ProcessorSubscriptionID, processor.SubscriptionUpdateParams{
			TrialEnd: &anchor,
		}); err != nil {
			return nil, err
		}
		sub.BillingDay = *p.BillingDay
		applied["billing_day"] = strconv.Itoa(*p.BillingDay)
	}

	if p.PaymentMethodID != nil && *p.PaymentMethodID != "" {
		method, err := client.GetPaymentMethod(ctx, *p.PaymentMethodID)
		if err != nil {
			return nil, err
		}
		// kind+last4 is the identity the local row keeps; resubmitting the
		// current method is a no-op like an unchanged amount or billing day.
		if method.Kind != sub.PaymentMethodKind || method.Last4 != sub.Last4 {
			if err := client.AttachPaymentMethod(ctx, sub.ProcessorCustomerID, method.ID); err != nil {
				return nil, err
			}
			if err := client.SetDefaultPaymentMethod(ctx, sub.ProcessorCustomerID, method.ID); err != nil {
				return nil, err
			}
			if _, err := client.UpdateSubscription(ctx, sub.ProcessorSubscriptionID, processor.SubscriptionUpdateParams{
				DefaultPaymentMethodID: method.ID,
			}); err != nil {
				return nil, err
			}
			sub.PaymentMethodKind = method.Kind
			sub.Last4 = method.Last4
			applied["payment_method"] = string(method.Kind) + " ****" + method.Last4
		}
	}

	if len(applied) == 0 {
		return sub, nil
	}
	if err := m.store.UpdateSubscription(sub); err != nil {
		return nil, err
	}

	m.send(ctx, sub, creds, TemplateModified, applied)
	log.Info().
		Str("tenant_id", sub.TenantID).
		Str("subscription_id", sub.ID).
		Int("changes", len(applied)).
		Msg("Subscription modified")
	return sub, nil
}

func (m *Manager) send(ctx context.Context, sub *store.Subscription, creds tenant.Credentials, template string, extra map[string]string) {
	variables := map[string]string{
		"donor_name":  donorName(sub),
		"amount":      formatAmount(sub.AmountCents),
		"association": creds.TenantName,
	}
	for k, v := range extra {
		variables[k] = v
	}
	if err := m.notifier.Send(ctx, notify.Notification{
		Template:  template,
		Recipient: sub.Email,
		Variables: variables,
	}); err != nil {
		enginemetrics.NotificationsTotal.WithLabelValues(template, "error").Inc()
		log.Warn().Err(err).
			Str("subscription_id", sub.ID).
			Str("template", template).
			Msg("Notification delivery failed")
		return
	}
	enginemetrics.NotificationsTotal.WithLabelValues(template, "sent").Inc()
}

func donorName(sub *store.Subscription) string {
	name := sub.FirstName
	if sub.LastName != "" {
		if name != "" {
			name += " "
		}
		name += sub.LastName
	}
	return name
}

func formatAmount(cents int64) string {
	return fmt.Sprintf("%d.%02d", cents/100, cents%100)
}
