package store

import (
	"database/sql"
	"fmt"
	"time"
)

// CreateSubscription inserts a new subscription record.
func (s *Store) CreateSubscription(sub *Subscription) error {
	if sub == nil {
		return fmt.Errorf("subscription is nil")
	}
	now := time.Now().UTC()
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = now
	}
	sub.UpdatedAt = now

	_, err := s.db.Exec(`
		INSERT INTO subscriptions (id, tenant_id, processor_subscription_id, processor_customer_id,
			email, first_name, last_name, amount_cents, campaign, payment_method_kind, last4,
			billing_day, status, resume_at, product_id, price_id,
			last_error_code, last_error_decline_code, last_error_message, last_error_at,
			last_event_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.ID, sub.TenantID, sub.ProcessorSubscriptionID, sub.ProcessorCustomerID,
		sub.Email, sub.FirstName, sub.LastName, sub.AmountCents, sub.Campaign,
		string(sub.PaymentMethodKind), sub.Last4,
		sub.BillingDay, string(sub.Status), nullableTimeUnix(sub.ResumeAt), sub.ProductID, sub.PriceID,
		sub.LastErrorCode, sub.LastErrorDeclineCode, sub.LastErrorMessage, nullableTimeUnix(sub.LastErrorAt),
		nullableTimeUnix(sub.LastEventAt), sub.CreatedAt.Unix(), sub.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("create subscription: %w", err)
	}
	return nil
}

// GetSubscription retrieves a subscription by local ID. Returns nil if no row matches.
func (s *Store) GetSubscription(id string) (*Subscription, error) {
	row := s.db.QueryRow(subscriptionColumns+` FROM subscriptions WHERE id = ?`, id)
	return scanSubscription(row)
}

// GetSubscriptionByProcessorID retrieves a subscription by the processor's
// subscription ID. Returns nil if no row matches.
func (s *Store) GetSubscriptionByProcessorID(processorSubscriptionID string) (*Subscription, error) {
	row := s.db.QueryRow(subscriptionColumns+` FROM subscriptions WHERE processor_subscription_id = ?`, processorSubscriptionID)
	return scanSubscription(row)
}

// UpdateSubscription modifies an existing subscription record.
func (s *Store) UpdateSubscription(sub *Subscription) error {
	if sub == nil {
		return fmt.Errorf("subscription is nil")
	}
	sub.UpdatedAt = time.Now().UTC()

	res, err := s.db.Exec(`
		UPDATE subscriptions SET processor_customer_id = ?, email = ?, first_name = ?, last_name = ?,
			amount_cents = ?, campaign = ?, payment_method_kind = ?, last4 = ?,
			billing_day = ?, status = ?, resume_at = ?, product_id = ?, price_id = ?,
			last_error_code = ?, last_error_decline_code = ?, last_error_message = ?, last_error_at = ?,
			last_event_at = ?, updated_at = ?
		WHERE id = ?`,
		sub.ProcessorCustomerID, sub.Email, sub.FirstName, sub.LastName,
		sub.AmountCents, sub.Campaign, string(sub.PaymentMethodKind), sub.Last4,
		sub.BillingDay, string(sub.Status), nullableTimeUnix(sub.ResumeAt), sub.ProductID, sub.PriceID,
		sub.LastErrorCode, sub.LastErrorDeclineCode, sub.LastErrorMessage, nullableTimeUnix(sub.LastErrorAt),
		nullableTimeUnix(sub.LastEventAt), sub.UpdatedAt.Unix(),
		sub.ID,
	)
	if err != nil {
		return fmt.Errorf("update subscription: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("subscription %q not found", sub.ID)
	}
	return nil
}

// ListSubscriptionsByTenant returns all subscriptions for a tenant, newest first.
func (s *Store) ListSubscriptionsByTenant(tenantID string) ([]*Subscription, error) {
	rows, err := s.db.Query(subscriptionColumns+` FROM subscriptions WHERE tenant_id = ? ORDER BY created_at DESC`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	defer rows.Close()
	return scanSubscriptions(rows)
}

// CountSubscriptionsByStatus returns a map of status -> count.
func (s *Store) CountSubscriptionsByStatus() (map[SubscriptionStatus]int, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM subscriptions GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count subscriptions by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[SubscriptionStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[SubscriptionStatus(status)] = count
	}
	return counts, rows.Err()
}

const subscriptionColumns = `SELECT id, tenant_id, processor_subscription_id, processor_customer_id,
	email, first_name, last_name, amount_cents, campaign, payment_method_kind, last4,
	billing_day, status, resume_at, product_id, price_id,
	last_error_code, last_error_decline_code, last_error_message, last_error_at,
	last_event_at, created_at, updated_at`

func scanSubscription(sc scanner) (*Subscription, error) {
	var sub Subscription
	var kind, status string
	var resumeAt, lastErrorAt, lastInvoiceEventAt sql.NullInt64
	var createdAt, updatedAt int64

	err := sc.Scan(&sub.ID, &sub.TenantID, &sub.ProcessorSubscriptionID, &sub.ProcessorCustomerID,
		&sub.Email, &sub.FirstName, &sub.LastName, &sub.AmountCents, &sub.Campaign, &kind, &sub.Last4,
		&sub.BillingDay, &status, &resumeAt, &sub.ProductID, &sub.PriceID,
		&sub.LastErrorCode, &sub.LastErrorDeclineCode, &sub.LastErrorMessage, &lastErrorAt,
		&lastInvoiceEventAt, &createdAt, &updatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan subscription: %w", err)
	}
	sub.PaymentMethodKind = PaymentMethodKind(kind)
	sub.Status = SubscriptionStatus(status)
	sub.ResumeAt = nullableTime(resumeAt)
	sub.LastErrorAt = nullableTime(lastErrorAt)
	sub.LastEventAt = nullableTime(lastInvoiceEventAt)
	sub.CreatedAt = time.Unix(createdAt, 0).UTC()
	sub.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &sub, nil
}

func scanSubscriptions(rows *sql.Rows) ([]*Subscription, error) {
	var subs []*Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func nullableTimeUnix(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Unix()
}

func nullableTime(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	ts := time.Unix(v.Int64, 0).UTC()
	return &ts
}
