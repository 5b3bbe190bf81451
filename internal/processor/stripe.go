package processor

import (
	"context"
	"strings"
	"time"

	stripelib "github.com/stripe/stripe-go/v82"
	stripeclient "github.com/stripe/stripe-go/v82/client"

	"github.com/givebridge/givebridge/internal/store"
)

// DefaultCurrency is the settlement currency for all donations.
const DefaultCurrency = "eur"

// StripeClient implements Client against the Stripe API with a per-tenant
// secret key.
type StripeClient struct {
	api     *stripeclient.API
	timeout time.Duration
}

// NewStripeClient builds a client bound to one tenant's secret key.
func NewStripeClient(secretKey string, timeout time.Duration) *StripeClient {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &StripeClient{
		api:     stripeclient.New(secretKey, nil),
		timeout: timeout,
	}
}

// NewFactory returns a Factory producing Stripe clients with the given
// outbound timeout.
func NewFactory(timeout time.Duration) Factory {
	return func(secretKey string) Client {
		return NewStripeClient(secretKey, timeout)
	}
}

func (c *StripeClient) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.timeout)
}

// FindCustomerByEmail returns the first processor customer matching the email,
// or nil if none exists. The processor has no unique-email constraint, so this
// is best-effort.
func (c *StripeClient) FindCustomerByEmail(ctx context.Context, email string) (*Customer, error) {
	ctx, cancel := c.bound(ctx)
	defer cancel()

	params := &stripelib.CustomerListParams{Email: stripelib.String(email)}
	params.Context = ctx
	params.Limit = stripelib.Int64(1)

	iter := c.api.Customers.List(params)
	if iter.Next() {
		cust := iter.Customer()
		return &Customer{ID: cust.ID, Email: cust.Email, Name: cust.Name}, nil
	}
	if err := iter.Err(); err != nil {
		return nil, wrapErr("customer.list", err)
	}
	return nil, nil
}

// CreateCustomer creates a new processor customer.
func (c *StripeClient) CreateCustomer(ctx context.Context, email, name string) (*Customer, error) {
	ctx, cancel := c.bound(ctx)
	defer cancel()

	params := &stripelib.CustomerParams{
		Email: stripelib.String(email),
		Name:  stripelib.String(name),
	}
	params.Context = ctx

	cust, err := c.api.Customers.New(params)
	if err != nil {
		return nil, wrapErr("customer.create", err)
	}
	return &Customer{ID: cust.ID, Email: cust.Email, Name: cust.Name}, nil
}

// GetPaymentMethod retrieves a payment method and classifies its family.
func (c *StripeClient) GetPaymentMethod(ctx context.Context, id string) (*PaymentMethod, error) {
	ctx, cancel := c.bound(ctx)
	defer cancel()

	params := &stripelib.PaymentMethodParams{}
	params.Context = ctx

	pm, err := c.api.PaymentMethods.Get(id, params)
	if err != nil {
		return nil, wrapErr("payment_method.get", err)
	}
	return mapPaymentMethod(pm), nil
}

// AttachPaymentMethod attaches a payment method to a customer.
func (c *StripeClient) AttachPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error {
	ctx, cancel := c.bound(ctx)
	defer cancel()

	params := &stripelib.PaymentMethodAttachParams{Customer: stripelib.String(customerID)}
	params.Context = ctx

	if _, err := c.api.PaymentMethods.Attach(paymentMethodID, params); err != nil {
		return wrapErr("payment_method.attach", err)
	}
	return nil
}

// SetDefaultPaymentMethod makes a payment method the customer's invoice default.
func (c *StripeClient) SetDefaultPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error {
	ctx, cancel := c.bound(ctx)
	defer cancel()

	params := &stripelib.CustomerParams{
		InvoiceSettings: &stripelib.CustomerInvoiceSettingsParams{
			DefaultPaymentMethod: stripelib.String(paymentMethodID),
		},
	}
	params.Context = ctx

	if _, err := c.api.Customers.Update(customerID, params); err != nil {
		return wrapErr("customer.set_default_payment_method", err)
	}
	return nil
}

// CreatePaymentIntent creates a one-time payment intent carrying full donor
// metadata so the confirmation webhook is self-sufficient.
func (c *StripeClient) CreatePaymentIntent(ctx context.Context, p PaymentIntentParams) (*PaymentIntent, error) {
	ctx, cancel := c.bound(ctx)
	defer cancel()

	currency := p.Currency
	if currency == "" {
		currency = DefaultCurrency
	}
	params := &stripelib.PaymentIntentParams{
		Amount:   stripelib.Int64(p.AmountCents),
		Currency: stripelib.String(strings.ToLower(currency)),
		AutomaticPaymentMethods: &stripelib.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripelib.Bool(true),
		},
		Metadata: p.Metadata,
	}
	params.Context = ctx
	if p.CustomerID != "" {
		params.Customer = stripelib.String(p.CustomerID)
	}
	if p.ReceiptEmail != "" {
		params.ReceiptEmail = stripelib.String(p.ReceiptEmail)
	}

	pi, err := c.api.PaymentIntents.New(params)
	if err != nil {
		return nil, wrapErr("payment_intent.create", err)
	}
	return &PaymentIntent{ID: pi.ID, ClientSecret: pi.ClientSecret, Status: string(pi.Status)}, nil
}

// CreateProduct creates a processor product for a campaign.
func (c *StripeClient) CreateProduct(ctx context.Context, name string) (*Product, error) {
	ctx, cancel := c.bound(ctx)
	defer cancel()

	params := &stripelib.ProductParams{Name: stripelib.String(name)}
	params.Context = ctx

	prod, err := c.api.Products.New(params)
	if err != nil {
		return nil, wrapErr("product.create", err)
	}
	return &Product{ID: prod.ID, Name: prod.Name}, nil
}

// ListPrices lists active recurring prices for a product.
func (c *StripeClient) ListPrices(ctx context.Context, productID string) ([]Price, error) {
	ctx, cancel := c.bound(ctx)
	defer cancel()

	params := &stripelib.PriceListParams{
		Product: stripelib.String(productID),
		Active:  stripelib.Bool(true),
	}
	params.Context = ctx

	var prices []Price
	iter := c.api.Prices.List(params)
	for iter.Next() {
		pr := iter.Price()
		if pr.Recurring == nil {
			continue
		}
		prices = append(prices, Price{
			ID:          pr.ID,
			ProductID:   productID,
			AmountCents: pr.UnitAmount,
			Cadence:     string(pr.Recurring.Interval),
		})
	}
	if err := iter.Err(); err != nil {
		return nil, wrapErr("price.list", err)
	}
	return prices, nil
}

// CreatePrice creates a recurring price on a product.
func (c *StripeClient) CreatePrice(ctx context.Context, productID string, amountCents int64, cadence string) (*Price, error) {
	ctx, cancel := c.bound(ctx)
	defer cancel()

	params := &stripelib.PriceParams{
		Product:    stripelib.String(productID),
		UnitAmount: stripelib.Int64(amountCents),
		Currency:   stripelib.String(DefaultCurrency),
		Recurring: &stripelib.PriceRecurringParams{
			Interval: stripelib.String(cadence),
		},
	}
	params.Context = ctx

	pr, err := c.api.Prices.New(params)
	if err != nil {
		return nil, wrapErr("price.create", err)
	}
	return &Price{ID: pr.ID, ProductID: productID, AmountCents: amountCents, Cadence: cadence}, nil
}

// CreateSubscription creates a recurring subscription. Proration is disabled;
// the billing model never generates partial-period charges.
func (c *StripeClient) CreateSubscription(ctx context.Context, p SubscriptionCreateParams) (*Subscription, error) {
	ctx, cancel := c.bound(ctx)
	defer cancel()

	behavior := "allow_incomplete"
	if p.RequireConfirmation {
		behavior = "default_incomplete"
	}
	params := &stripelib.SubscriptionParams{
		Customer: stripelib.String(p.CustomerID),
		Items: []*stripelib.SubscriptionItemsParams{
			{Price: stripelib.String(p.PriceID)},
		},
		PaymentBehavior:   stripelib.String(behavior),
		ProrationBehavior: stripelib.String("none"),
		Metadata:          p.Metadata,
	}
	params.Context = ctx
	if p.DefaultPaymentMethodID != "" {
		params.DefaultPaymentMethod = stripelib.String(p.DefaultPaymentMethodID)
	}
	if p.BillingCycleAnchor != nil {
		params.BillingCycleAnchor = stripelib.Int64(p.BillingCycleAnchor.Unix())
	}
	if p.RequireConfirmation {
		params.AddExpand("latest_invoice.confirmation_secret")
	}

	sub, err := c.api.Subscriptions.New(params)
	if err != nil {
		return nil, wrapErr("subscription.create", err)
	}
	return mapSubscription(sub), nil
}

// GetSubscription retrieves the processor's view of a subscription.
func (c *StripeClient) GetSubscription(ctx context.Context, id string) (*Subscription, error) {
	ctx, cancel := c.bound(ctx)
	defer cancel()

	params := &stripelib.SubscriptionParams{}
	params.Context = ctx

	sub, err := c.api.Subscriptions.Get(id, params)
	if err != nil {
		return nil, wrapErr("subscription.get", err)
	}
	return mapSubscription(sub), nil
}

// UpdateSubscription applies a sparse update with proration disabled.
func (c *StripeClient) UpdateSubscription(ctx context.Context, id string, p SubscriptionUpdateParams) (*Subscription, error) {
	ctx, cancel := c.bound(ctx)
	defer cancel()

	params := &stripelib.SubscriptionParams{
		ProrationBehavior: stripelib.String("none"),
	}
	params.Context = ctx
	switch {
	case p.PauseResumesAt != nil:
		params.PauseCollection = &stripelib.SubscriptionPauseCollectionParams{
			Behavior:  stripelib.String("void"),
			ResumesAt: stripelib.Int64(p.PauseResumesAt.Unix()),
		}
	case p.ClearPause:
		// The API clears pause_collection on an empty value.
		params.AddExtra("pause_collection", "")
	}
	if p.TrialEnd != nil {
		params.TrialEnd = stripelib.Int64(p.TrialEnd.Unix())
	}
	if p.DefaultPaymentMethodID != "" {
		params.DefaultPaymentMethod = stripelib.String(p.DefaultPaymentMethodID)
	}

	sub, err := c.api.Subscriptions.Update(id, params)
	if err != nil {
		return nil, wrapErr("subscription.update", err)
	}
	return mapSubscription(sub), nil
}

// UpdateSubscriptionItem swaps the subscription item's price without proration.
func (c *StripeClient) UpdateSubscriptionItem(ctx context.Context, itemID, priceID string) error {
	ctx, cancel := c.bound(ctx)
	defer cancel()

	params := &stripelib.SubscriptionItemParams{
		Price:             stripelib.String(priceID),
		ProrationBehavior: stripelib.String("none"),
	}
	params.Context = ctx

	if _, err := c.api.SubscriptionItems.Update(itemID, params); err != nil {
		return wrapErr("subscription_item.update", err)
	}
	return nil
}

// CancelSubscription cancels immediately, without prorating the final period.
func (c *StripeClient) CancelSubscription(ctx context.Context, id string) error {
	ctx, cancel := c.bound(ctx)
	defer cancel()

	params := &stripelib.SubscriptionCancelParams{
		Prorate: stripelib.Bool(false),
	}
	params.Context = ctx

	if _, err := c.api.Subscriptions.Cancel(id, params); err != nil {
		return wrapErr("subscription.cancel", err)
	}
	return nil
}

func mapPaymentMethod(pm *stripelib.PaymentMethod) *PaymentMethod {
	mapped := &PaymentMethod{ID: pm.ID}
	switch pm.Type {
	case stripelib.PaymentMethodTypeSEPADebit:
		mapped.Kind = store.PaymentMethodBankDebit
		if pm.SEPADebit != nil {
			mapped.Last4 = pm.SEPADebit.Last4
		}
	default:
		mapped.Kind = store.PaymentMethodCard
		if pm.Card != nil {
			mapped.Last4 = pm.Card.Last4
		}
	}
	return mapped
}

func mapSubscription(sub *stripelib.Subscription) *Subscription {
	mapped := &Subscription{
		ID:         sub.ID,
		Status:     string(sub.Status),
		CustomerID: customerID(sub),
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		mapped.ItemID = item.ID
		if item.Price != nil {
			mapped.PriceID = item.Price.ID
		}
	}
	if sub.LatestInvoice != nil && sub.LatestInvoice.ConfirmationSecret != nil {
		mapped.ClientSecret = sub.LatestInvoice.ConfirmationSecret.ClientSecret
	}
	return mapped
}

func customerID(sub *stripelib.Subscription) string {
	if sub.Customer == nil {
		return ""
	}
	return sub.Customer.ID
}

var _ Client = (*StripeClient)(nil)
