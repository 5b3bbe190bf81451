package store

import (
	"database/sql"
	"fmt"
	"time"
)

// CreateDraft inserts a donation draft keyed by its tracking ID.
func (s *Store) CreateDraft(d *DonationDraft) error {
	if d == nil {
		return fmt.Errorf("draft is nil")
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.Exec(`
		INSERT INTO donation_drafts (tracking_id, tenant_id, email, first_name, last_name,
			amount_cents, campaign, address, city, postal_code, country, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.TrackingID, d.TenantID, d.Email, d.FirstName, d.LastName,
		d.AmountCents, d.Campaign, d.Address, d.City, d.PostalCode, d.Country,
		d.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("create draft: %w", err)
	}
	return nil
}

// GetDraft retrieves a draft by tracking ID. Returns nil if no row matches.
func (s *Store) GetDraft(trackingID string) (*DonationDraft, error) {
	row := s.db.QueryRow(`SELECT tracking_id, tenant_id, email, first_name, last_name,
		amount_cents, campaign, address, city, postal_code, country, created_at
		FROM donation_drafts WHERE tracking_id = ?`, trackingID)
	return scanDraft(row)
}

// DeleteDraft removes a draft once consumed by reconciliation.
func (s *Store) DeleteDraft(trackingID string) error {
	if _, err := s.db.Exec(`DELETE FROM donation_drafts WHERE tracking_id = ?`, trackingID); err != nil {
		return fmt.Errorf("delete draft: %w", err)
	}
	return nil
}

// DeleteDraftsBefore removes orphaned drafts created before the cutoff.
// Returns the number of rows deleted.
func (s *Store) DeleteDraftsBefore(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM donation_drafts WHERE created_at < ?`, cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("expire drafts: %w", err)
	}
	deleted, _ := res.RowsAffected()
	return deleted, nil
}

func scanDraft(sc scanner) (*DonationDraft, error) {
	var d DonationDraft
	var createdAt int64

	err := sc.Scan(&d.TrackingID, &d.TenantID, &d.Email, &d.FirstName, &d.LastName,
		&d.AmountCents, &d.Campaign, &d.Address, &d.City, &d.PostalCode, &d.Country, &createdAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan draft: %w", err)
	}
	d.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &d, nil
}
