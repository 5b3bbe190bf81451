// Package processor wraps the outbound payment-processor API behind a narrow
// interface. Each tenant gets a client bound to its own secret key; nothing in
// this package touches global processor state.
package processor

import (
	"context"
	"time"

	"github.com/givebridge/givebridge/internal/store"
)

// Customer is an opaque processor-side customer reference.
type Customer struct {
	ID    string
	Email string
	Name  string
}

// PaymentMethod describes an attached payment instrument.
type PaymentMethod struct {
	ID    string
	Kind  store.PaymentMethodKind
	Last4 string
}

// PaymentIntent is a one-time charge awaiting client confirmation.
type PaymentIntent struct {
	ID           string
	ClientSecret string
	Status       string
}

// Product is a processor-side product reference.
type Product struct {
	ID   string
	Name string
}

// Price is a processor-side recurring price.
type Price struct {
	ID          string
	ProductID   string
	AmountCents int64
	Cadence     string
}

// Subscription is the processor's view of a recurring donation.
type Subscription struct {
	ID           string
	CustomerID   string
	Status       string
	ItemID       string
	PriceID      string
	ClientSecret string // present when immediate confirmation is required
}

// PaymentIntentParams carries everything needed to create a one-time intent.
// Metadata must be self-sufficient: the later webhook is processed without a
// second database lookup.
type PaymentIntentParams struct {
	AmountCents  int64
	Currency     string
	CustomerID   string
	ReceiptEmail string
	Metadata     map[string]string
}

// SubscriptionCreateParams carries everything needed to create a subscription.
type SubscriptionCreateParams struct {
	CustomerID             string
	PriceID                string
	DefaultPaymentMethodID string
	BillingCycleAnchor     *time.Time
	// RequireConfirmation selects default_incomplete payment behavior (card).
	// Bank debits clear over days, so they run allow_incomplete instead.
	RequireConfirmation bool
	Metadata            map[string]string
}

// SubscriptionUpdateParams is a sparse update; zero-value fields are omitted.
// Every mutation issued through it disables proration.
type SubscriptionUpdateParams struct {
	PauseResumesAt         *time.Time // pause collection until this timestamp
	ClearPause             bool
	TrialEnd               *time.Time // billing-anchor adjustment
	DefaultPaymentMethodID string
}

// Client is the outbound processor surface used by the engine. Implementations
// must bound every call with a timeout and convert failures into *Error.
type Client interface {
	FindCustomerByEmail(ctx context.Context, email string) (*Customer, error)
	CreateCustomer(ctx context.Context, email, name string) (*Customer, error)

	GetPaymentMethod(ctx context.Context, id string) (*PaymentMethod, error)
	AttachPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error
	SetDefaultPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error

	CreatePaymentIntent(ctx context.Context, params PaymentIntentParams) (*PaymentIntent, error)

	CreateProduct(ctx context.Context, name string) (*Product, error)
	ListPrices(ctx context.Context, productID string) ([]Price, error)
	CreatePrice(ctx context.Context, productID string, amountCents int64, cadence string) (*Price, error)

	CreateSubscription(ctx context.Context, params SubscriptionCreateParams) (*Subscription, error)
	GetSubscription(ctx context.Context, id string) (*Subscription, error)
	UpdateSubscription(ctx context.Context, id string, params SubscriptionUpdateParams) (*Subscription, error)
	UpdateSubscriptionItem(ctx context.Context, itemID, priceID string) error
	CancelSubscription(ctx context.Context, id string) error
}

// Factory builds a Client for a tenant's secret key. Injected so tests can
// substitute fakes without reaching the network.
type Factory func(secretKey string) Client
