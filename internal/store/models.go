package store

import (
	"crypto/rand"
	"fmt"
	"strings"
	"time"
)

// PaymentMethodKind is the family of payment instrument behind a donation.
type PaymentMethodKind string

const (
	PaymentMethodCard      PaymentMethodKind = "card"
	PaymentMethodBankDebit PaymentMethodKind = "bank_debit"
)

// DonationStatus is the final state of a one-time donation.
type DonationStatus string

const (
	DonationCompleted DonationStatus = "completed"
	DonationFailed    DonationStatus = "failed"
)

// SubscriptionStatus is the lifecycle status of a recurring donation.
type SubscriptionStatus string

const (
	SubscriptionIncomplete SubscriptionStatus = "incomplete"
	SubscriptionActive     SubscriptionStatus = "active"
	SubscriptionPastDue    SubscriptionStatus = "past_due"
	SubscriptionPaused     SubscriptionStatus = "paused"
	SubscriptionCanceled   SubscriptionStatus = "canceled"
)

// Tenant is one association with its own processor credentials. The public
// key routes inbound webhooks to the tenant without any prior session.
type Tenant struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	PublicKey     string    `json:"public_key"`
	SecretKey     string    `json:"-"`
	WebhookSecret string    `json:"-"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// DonationDraft is the provisional record captured before payment
// confirmation. Consumed once by reconciliation, never mutated.
type DonationDraft struct {
	TrackingID  string    `json:"tracking_id"`
	TenantID    string    `json:"tenant_id"`
	Email       string    `json:"email"`
	FirstName   string    `json:"first_name"`
	LastName    string    `json:"last_name"`
	AmountCents int64     `json:"amount_cents"`
	Campaign    string    `json:"campaign"`
	Address     string    `json:"address"`
	City        string    `json:"city"`
	PostalCode  string    `json:"postal_code"`
	Country     string    `json:"country"`
	CreatedAt   time.Time `json:"created_at"`
}

// Donation is a finalized one-time donation, created only from a
// processor-confirmed event.
type Donation struct {
	ID                 string            `json:"id"`
	TenantID           string            `json:"tenant_id"`
	AmountCents        int64             `json:"amount_cents"`
	Email              string            `json:"email"`
	FirstName          string            `json:"first_name"`
	LastName           string            `json:"last_name"`
	Campaign           string            `json:"campaign"`
	PaymentMethodKind  PaymentMethodKind `json:"payment_method_kind"`
	TrackingID         string            `json:"tracking_id"`
	Status             DonationStatus    `json:"status"`
	ProcessorReference string            `json:"processor_reference"`
	Address            string            `json:"address"`
	City               string            `json:"city"`
	PostalCode         string            `json:"postal_code"`
	Country            string            `json:"country"`
	CreatedAt          time.Time         `json:"created_at"`
}

// Subscription is a recurring donation. Never hard-deleted; canceled rows are
// retained for audit and receipt history.
type Subscription struct {
	ID                      string             `json:"id"`
	TenantID                string             `json:"tenant_id"`
	ProcessorSubscriptionID string             `json:"processor_subscription_id"`
	ProcessorCustomerID     string             `json:"processor_customer_id"`
	Email                   string             `json:"email"`
	FirstName               string             `json:"first_name"`
	LastName                string             `json:"last_name"`
	AmountCents             int64              `json:"amount_cents"`
	Campaign                string             `json:"campaign"`
	PaymentMethodKind       PaymentMethodKind  `json:"payment_method_kind"`
	Last4                   string             `json:"last4"`
	BillingDay              int                `json:"billing_day"`
	Status                  SubscriptionStatus `json:"status"`
	ResumeAt                *time.Time         `json:"resume_at,omitempty"`
	ProductID               string             `json:"product_id"`
	PriceID                 string             `json:"price_id"`
	LastErrorCode           string             `json:"last_error_code,omitempty"`
	LastErrorDeclineCode    string             `json:"last_error_decline_code,omitempty"`
	LastErrorMessage        string             `json:"last_error_message,omitempty"`
	LastErrorAt             *time.Time         `json:"last_error_at,omitempty"`
	LastEventAt             *time.Time         `json:"-"`
	CreatedAt               time.Time          `json:"created_at"`
	UpdatedAt               time.Time          `json:"updated_at"`
}

// Product maps a campaign name to a processor-side product, one per distinct
// campaign per tenant.
type Product struct {
	ID                 string    `json:"id"`
	TenantID           string    `json:"tenant_id"`
	Campaign           string    `json:"campaign"`
	ProcessorProductID string    `json:"processor_product_id"`
	Pinned             bool      `json:"pinned"`
	CreatedAt          time.Time `json:"created_at"`
}

// Price is a local catalog row for a processor-side recurring price. At most
// one row exists per (tenant, product, amount, cadence).
type Price struct {
	ID               string    `json:"id"`
	TenantID         string    `json:"tenant_id"`
	ProductID        string    `json:"product_id"`
	AmountCents      int64     `json:"amount_cents"`
	Cadence          string    `json:"cadence"`
	ProcessorPriceID string    `json:"processor_price_id"`
	CreatedAt        time.Time `json:"created_at"`
}

// FailureRecord is one row per failed recurring charge, independent of the
// subscription's single last-error slot.
type FailureRecord struct {
	ID             string    `json:"id"`
	TenantID       string    `json:"tenant_id"`
	SubscriptionID string    `json:"subscription_id"`
	InvoiceID      string    `json:"invoice_id"`
	Code           string    `json:"code"`
	DeclineCode    string    `json:"decline_code"`
	Message        string    `json:"message"`
	Cause          string    `json:"cause"`
	Fatal          bool      `json:"fatal"`
	CreatedAt      time.Time `json:"created_at"`
}

// crockfordBase32 is the Crockford base32 alphabet (excludes I, L, O, U).
const crockfordBase32 = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

func generateID(prefix string) (string, error) {
	b := make([]byte, 10)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	var sb strings.Builder
	sb.WriteString(prefix)
	for _, v := range b {
		sb.WriteByte(crockfordBase32[int(v)%len(crockfordBase32)])
	}
	return sb.String(), nil
}

// GenerateTenantID returns a tenant ID of the form "t-" followed by 10 random
// Crockford base32 characters (50 bits of entropy).
func GenerateTenantID() (string, error) {
	return generateID("t-")
}

// GenerateSubscriptionID returns a local subscription row ID.
func GenerateSubscriptionID() (string, error) {
	return generateID("s-")
}
