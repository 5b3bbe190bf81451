package store

import (
	"database/sql"
	"fmt"
	"time"
)

// CreateTenant inserts a new tenant record.
func (s *Store) CreateTenant(t *Tenant) error {
	if t == nil {
		return fmt.Errorf("tenant is nil")
	}
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now

	_, err := s.db.Exec(`
		INSERT INTO tenants (id, name, public_key, secret_key, webhook_secret, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Name, t.PublicKey, t.SecretKey, t.WebhookSecret,
		t.CreatedAt.Unix(), t.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("create tenant: %w", err)
	}
	return nil
}

// GetTenant retrieves a tenant by ID. Returns nil if no row matches.
func (s *Store) GetTenant(id string) (*Tenant, error) {
	row := s.db.QueryRow(`SELECT id, name, public_key, secret_key, webhook_secret, created_at, updated_at
		FROM tenants WHERE id = ?`, id)
	return scanTenant(row)
}

// GetTenantByPublicKey retrieves a tenant by its webhook routing public key.
func (s *Store) GetTenantByPublicKey(publicKey string) (*Tenant, error) {
	row := s.db.QueryRow(`SELECT id, name, public_key, secret_key, webhook_secret, created_at, updated_at
		FROM tenants WHERE public_key = ?`, publicKey)
	return scanTenant(row)
}

// UpdateTenantCredentials rotates the processor credentials for a tenant.
func (s *Store) UpdateTenantCredentials(id, publicKey, secretKey, webhookSecret string) error {
	res, err := s.db.Exec(`
		UPDATE tenants SET public_key = ?, secret_key = ?, webhook_secret = ?, updated_at = ?
		WHERE id = ?`,
		publicKey, secretKey, webhookSecret, time.Now().UTC().Unix(), id,
	)
	if err != nil {
		return fmt.Errorf("update tenant credentials: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("tenant %q not found", id)
	}
	return nil
}

// ListTenants returns all tenants.
func (s *Store) ListTenants() ([]*Tenant, error) {
	rows, err := s.db.Query(`SELECT id, name, public_key, secret_key, webhook_secret, created_at, updated_at
		FROM tenants ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	defer rows.Close()

	var tenants []*Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

func scanTenant(sc scanner) (*Tenant, error) {
	var t Tenant
	var createdAt, updatedAt int64

	err := sc.Scan(&t.ID, &t.Name, &t.PublicKey, &t.SecretKey, &t.WebhookSecret, &createdAt, &updatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan tenant: %w", err)
	}
	t.CreatedAt = time.Unix(createdAt, 0).UTC()
	t.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &t, nil
}
