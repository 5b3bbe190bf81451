// Package payment turns donor intent into processor payment intents and
// subscriptions.
package payment

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/givebridge/givebridge/internal/billing"
	"github.com/givebridge/givebridge/internal/catalog"
	"github.com/givebridge/givebridge/internal/identity"
	"github.com/givebridge/givebridge/internal/lifecycle"
	"github.com/givebridge/givebridge/internal/processor"
	"github.com/givebridge/givebridge/internal/store"
	"github.com/givebridge/givebridge/internal/tenant"
)

var (
	// ErrInvalidAmount rejects non-positive amounts before any outbound call.
	ErrInvalidAmount = errors.New("donation amount must be positive")
	// ErrInvalidEmail rejects syntactically invalid donor emails before any
	// outbound call.
	ErrInvalidEmail = errors.New("donor email is invalid")
)

var emailPattern = regexp.MustCompile(`^[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}$`)

var timeNow = time.Now

// Orchestrator creates one-time payment intents and recurring subscriptions.
type Orchestrator struct {
	store   *store.Store
	tenants *tenant.Resolver
	clients processor.Factory
	catalog *catalog.Manager
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(st *store.Store, tenants *tenant.Resolver, clients processor.Factory, cat *catalog.Manager) *Orchestrator {
	return &Orchestrator{
		store:   st,
		tenants: tenants,
		clients: clients,
		catalog: cat,
	}
}

// OneTimeParams describes a one-time donation intent.
type OneTimeParams struct {
	TenantID    string
	AmountCents int64
	Email       string
	FirstName   string
	LastName    string
	Campaign    string
	TrackingID  string
}

// OneTimeResult carries the client-confirmable secret back to the donor form.
type OneTimeResult struct {
	PaymentIntentID string `json:"payment_intent_id"`
	ClientSecret    string `json:"client_secret"`
}

// OneTime validates input, resolves the donor's processor customer, and
// creates a payment intent carrying full donor metadata so the confirmation
// webhook needs no second lookup. Invalid input never reaches the processor.
func (o *Orchestrator) OneTime(ctx context.Context, p OneTimeParams) (*OneTimeResult, error) {
	if err := validateDonor(p.AmountCents, p.Email); err != nil {
		return nil, err
	}
	creds, err := o.tenants.ResolveByID(p.TenantID)
	if err != nil {
		return nil, err
	}
	client := o.clients(creds.SecretKey)

	customer, err := identity.NewResolver(client).Resolve(ctx, p.Email, donorDisplayName(p.FirstName, p.LastName))
	if err != nil {
		return nil, err
	}

	intent, err := client.CreatePaymentIntent(ctx, processor.PaymentIntentParams{
		AmountCents:  p.AmountCents,
		CustomerID:   customer.ID,
		ReceiptEmail: strings.ToLower(strings.TrimSpace(p.Email)),
		Metadata: map[string]string{
			"tenant_id":    creds.TenantID,
			"tracking_id":  p.TrackingID,
			"email":        strings.ToLower(strings.TrimSpace(p.Email)),
			"first_name":   p.FirstName,
			"last_name":    p.LastName,
			"campaign":     p.Campaign,
			"amount_cents": strconv.FormatInt(p.AmountCents, 10),
		},
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("tenant_id", creds.TenantID).
		Str("payment_intent_id", intent.ID).
		Int64("amount_cents", p.AmountCents).
		Msg("Created one-time payment intent")
	return &OneTimeResult{PaymentIntentID: intent.ID, ClientSecret: intent.ClientSecret}, nil
}

// RecurringParams describes a recurring donation request.
type RecurringParams struct {
	TenantID        string
	PaymentMethodID string
	Email           string
	FirstName       string
	LastName        string
	AmountCents     int64
	Campaign        string
	BillingDay      int    // 0 means no anchor requested
	ProductRef      string // optional pre-existing processor product id
}

// RecurringResult reports the created subscription. ClientSecret is set for
// card subscriptions, which require immediate confirmation; bank debits clear
// over days and succeed while still incomplete.
type RecurringResult struct {
	Subscription *store.Subscription `json:"subscription"`
	ClientSecret string              `json:"client_secret,omitempty"`
}

// Recurring validates input, attaches the payment method, resolves the
// catalog price, computes the billing anchor if requested, and creates the
// subscription. A local row reflecting the processor's initial status is
// inserted immediately; webhooks only ever update it afterwards.
func (o *Orchestrator) Recurring(ctx context.Context, p RecurringParams) (*RecurringResult, error) {
	if err := validateDonor(p.AmountCents, p.Email); err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.PaymentMethodID) == "" {
		return nil, fmt.Errorf("payment method reference is required")
	}
	creds, err := o.tenants.ResolveByID(p.TenantID)
	if err != nil {
		return nil, err
	}
	client := o.clients(creds.SecretKey)

	customer, err := identity.NewResolver(client).Resolve(ctx, p.Email, donorDisplayName(p.FirstName, p.LastName))
	if err != nil {
		return nil, err
	}

	method, err := client.GetPaymentMethod(ctx, p.PaymentMethodID)
	if err != nil {
		return nil, err
	}
	if err := client.AttachPaymentMethod(ctx, customer.ID, method.ID); err != nil {
		return nil, err
	}
	if err := client.SetDefaultPaymentMethod(ctx, customer.ID, method.ID); err != nil {
		return nil, err
	}

	entry, err := o.catalog.EnsurePrice(ctx, client, creds.TenantID, p.Campaign, p.ProductRef, p.AmountCents, catalog.CadenceMonthly)
	if err != nil {
		return nil, err
	}

	create := processor.SubscriptionCreateParams{
		CustomerID:             customer.ID,
		PriceID:                entry.Price.ProcessorPriceID,
		DefaultPaymentMethodID: method.ID,
		RequireConfirmation:    method.Kind == store.PaymentMethodCard,
		Metadata: map[string]string{
			"tenant_id": creds.TenantID,
			"campaign":  p.Campaign,
		},
	}
	if p.BillingDay > 0 {
		anchor, err := billing.NextAnchor(timeNow(), p.BillingDay)
		if err != nil {
			return nil, err
		}
		create.BillingCycleAnchor = &anchor
	}

	sub, err := client.CreateSubscription(ctx, create)
	if err != nil {
		return nil, err
	}

	localID, err := store.GenerateSubscriptionID()
	if err != nil {
		return nil, err
	}
	local := &store.Subscription{
		ID:                      localID,
		TenantID:                creds.TenantID,
		ProcessorSubscriptionID: sub.ID,
		ProcessorCustomerID:     customer.ID,
		Email:                   strings.ToLower(strings.TrimSpace(p.Email)),
		FirstName:               p.FirstName,
		LastName:                p.LastName,
		AmountCents:             p.AmountCents,
		Campaign:                p.Campaign,
		PaymentMethodKind:       method.Kind,
		Last4:                   method.Last4,
		BillingDay:              p.BillingDay,
		Status:                  lifecycle.MapProcessorStatus(sub.Status, nil),
		ProductID:               entry.Product.ProcessorProductID,
		PriceID:                 entry.Price.ProcessorPriceID,
	}
	if err := o.store.CreateSubscription(local); err != nil {
		return nil, fmt.Errorf("persist subscription: %w", err)
	}

	log.Info().
		Str("tenant_id", creds.TenantID).
		Str("subscription_id", local.ID).
		Str("processor_subscription_id", sub.ID).
		Str("payment_method_kind", string(method.Kind)).
		Int64("amount_cents", p.AmountCents).
		Msg("Created recurring subscription")
	return &RecurringResult{Subscription: local, ClientSecret: sub.ClientSecret}, nil
}

func validateDonor(amountCents int64, email string) error {
	if amountCents <= 0 {
		return ErrInvalidAmount
	}
	if !emailPattern.MatchString(strings.TrimSpace(email)) {
		return ErrInvalidEmail
	}
	return nil
}

func donorDisplayName(first, last string) string {
	return strings.TrimSpace(strings.TrimSpace(first) + " " + strings.TrimSpace(last))
}
