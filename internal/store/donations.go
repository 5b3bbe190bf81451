package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// InsertDonation inserts a finalized donation. Returns (false, nil) if a row
// with the same processor reference already exists (duplicate delivery).
func (s *Store) InsertDonation(d *Donation) (bool, error) {
	if d == nil {
		return false, fmt.Errorf("donation is nil")
	}
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}

	res, err := s.db.Exec(`
		INSERT OR IGNORE INTO donations (id, tenant_id, amount_cents, email, first_name, last_name,
			campaign, payment_method_kind, tracking_id, status, processor_reference,
			address, city, postal_code, country, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.TenantID, d.AmountCents, d.Email, d.FirstName, d.LastName,
		d.Campaign, string(d.PaymentMethodKind), d.TrackingID, string(d.Status), d.ProcessorReference,
		d.Address, d.City, d.PostalCode, d.Country, d.CreatedAt.Unix(),
	)
	if err != nil {
		return false, fmt.Errorf("insert donation: %w", err)
	}
	inserted, _ := res.RowsAffected()
	return inserted > 0, nil
}

// GetDonationByProcessorReference retrieves a donation by its unique
// processor transaction reference. Returns nil if no row matches.
func (s *Store) GetDonationByProcessorReference(ref string) (*Donation, error) {
	row := s.db.QueryRow(donationColumns+` FROM donations WHERE processor_reference = ?`, ref)
	return scanDonation(row)
}

// UpdateDonationEnrichment copies donor identity fields from a draft onto an
// existing donation row.
func (s *Store) UpdateDonationEnrichment(id string, d *DonationDraft) error {
	if d == nil {
		return fmt.Errorf("draft is nil")
	}
	_, err := s.db.Exec(`
		UPDATE donations SET email = ?, first_name = ?, last_name = ?, campaign = ?,
			address = ?, city = ?, postal_code = ?, country = ?
		WHERE id = ?`,
		d.Email, d.FirstName, d.LastName, d.Campaign,
		d.Address, d.City, d.PostalCode, d.Country, id,
	)
	if err != nil {
		return fmt.Errorf("enrich donation: %w", err)
	}
	return nil
}

// ListDonationsByTenant returns all finalized donations for a tenant, newest first.
func (s *Store) ListDonationsByTenant(tenantID string) ([]*Donation, error) {
	rows, err := s.db.Query(donationColumns+` FROM donations WHERE tenant_id = ? ORDER BY created_at DESC`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list donations: %w", err)
	}
	defer rows.Close()

	var donations []*Donation
	for rows.Next() {
		d, err := scanDonation(rows)
		if err != nil {
			return nil, err
		}
		donations = append(donations, d)
	}
	return donations, rows.Err()
}

const donationColumns = `SELECT id, tenant_id, amount_cents, email, first_name, last_name,
	campaign, payment_method_kind, tracking_id, status, processor_reference,
	address, city, postal_code, country, created_at`

func scanDonation(sc scanner) (*Donation, error) {
	var d Donation
	var kind, status string
	var createdAt int64

	err := sc.Scan(&d.ID, &d.TenantID, &d.AmountCents, &d.Email, &d.FirstName, &d.LastName,
		&d.Campaign, &kind, &d.TrackingID, &status, &d.ProcessorReference,
		&d.Address, &d.City, &d.PostalCode, &d.Country, &createdAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan donation: %w", err)
	}
	d.PaymentMethodKind = PaymentMethodKind(kind)
	d.Status = DonationStatus(status)
	d.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &d, nil
}
