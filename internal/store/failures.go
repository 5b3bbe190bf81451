package store

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AppendFailureRecord appends one row to the dunning history log.
func (s *Store) AppendFailureRecord(f *FailureRecord) error {
	if f == nil {
		return fmt.Errorf("failure record is nil")
	}
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.Exec(`
		INSERT INTO failure_records (id, tenant_id, subscription_id, invoice_id,
			code, decline_code, message, cause, fatal, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.TenantID, f.SubscriptionID, f.InvoiceID,
		f.Code, f.DeclineCode, f.Message, f.Cause, boolToInt(f.Fatal), f.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("append failure record: %w", err)
	}
	return nil
}

// ListFailureRecords returns the dunning history for a subscription, newest first.
func (s *Store) ListFailureRecords(subscriptionID string) ([]*FailureRecord, error) {
	rows, err := s.db.Query(`SELECT id, tenant_id, subscription_id, invoice_id,
		code, decline_code, message, cause, fatal, created_at
		FROM failure_records WHERE subscription_id = ? ORDER BY created_at DESC`, subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("list failure records: %w", err)
	}
	defer rows.Close()

	var records []*FailureRecord
	for rows.Next() {
		var f FailureRecord
		var fatal int
		var createdAt int64
		if err := rows.Scan(&f.ID, &f.TenantID, &f.SubscriptionID, &f.InvoiceID,
			&f.Code, &f.DeclineCode, &f.Message, &f.Cause, &fatal, &createdAt); err != nil {
			return nil, fmt.Errorf("scan failure record: %w", err)
		}
		f.Fatal = fatal != 0
		f.CreatedAt = time.Unix(createdAt, 0).UTC()
		records = append(records, &f)
	}
	return records, rows.Err()
}
