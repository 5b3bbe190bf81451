package store

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Store provides persistence for the donation engine, backed by SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the engine database in dir.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	dbPath := filepath.Join(dir, "engine.db")
	dsn := dbPath + "?" + url.Values{
		"_pragma": []string{
			"busy_timeout(30000)",
			"journal_mode(WAL)",
			"synchronous(NORMAL)",
			"foreign_keys(ON)",
		},
	}.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open engine db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tenants (
		id             TEXT PRIMARY KEY,
		name           TEXT NOT NULL DEFAULT '',
		public_key     TEXT NOT NULL UNIQUE,
		secret_key     TEXT NOT NULL DEFAULT '',
		webhook_secret TEXT NOT NULL DEFAULT '',
		created_at     INTEGER NOT NULL,
		updated_at     INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS donation_drafts (
		tracking_id  TEXT PRIMARY KEY,
		tenant_id    TEXT NOT NULL,
		email        TEXT NOT NULL DEFAULT '',
		first_name   TEXT NOT NULL DEFAULT '',
		last_name    TEXT NOT NULL DEFAULT '',
		amount_cents INTEGER NOT NULL,
		campaign     TEXT NOT NULL DEFAULT '',
		address      TEXT NOT NULL DEFAULT '',
		city         TEXT NOT NULL DEFAULT '',
		postal_code  TEXT NOT NULL DEFAULT '',
		country      TEXT NOT NULL DEFAULT '',
		created_at   INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_drafts_tenant ON donation_drafts(tenant_id);
	CREATE INDEX IF NOT EXISTS idx_drafts_created ON donation_drafts(created_at);

	CREATE TABLE IF NOT EXISTS donations (
		id                  TEXT PRIMARY KEY,
		tenant_id           TEXT NOT NULL,
		amount_cents        INTEGER NOT NULL,
		email               TEXT NOT NULL DEFAULT '',
		first_name          TEXT NOT NULL DEFAULT '',
		last_name           TEXT NOT NULL DEFAULT '',
		campaign            TEXT NOT NULL DEFAULT '',
		payment_method_kind TEXT NOT NULL DEFAULT '',
		tracking_id         TEXT NOT NULL DEFAULT '',
		status              TEXT NOT NULL,
		processor_reference TEXT NOT NULL UNIQUE,
		address             TEXT NOT NULL DEFAULT '',
		city                TEXT NOT NULL DEFAULT '',
		postal_code         TEXT NOT NULL DEFAULT '',
		country             TEXT NOT NULL DEFAULT '',
		created_at          INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_donations_tenant ON donations(tenant_id);
	CREATE INDEX IF NOT EXISTS idx_donations_tracking ON donations(tracking_id);

	CREATE TABLE IF NOT EXISTS subscriptions (
		id                        TEXT PRIMARY KEY,
		tenant_id                 TEXT NOT NULL,
		processor_subscription_id TEXT NOT NULL UNIQUE,
		processor_customer_id     TEXT NOT NULL DEFAULT '',
		email                     TEXT NOT NULL DEFAULT '',
		first_name                TEXT NOT NULL DEFAULT '',
		last_name                 TEXT NOT NULL DEFAULT '',
		amount_cents              INTEGER NOT NULL,
		campaign                  TEXT NOT NULL DEFAULT '',
		payment_method_kind       TEXT NOT NULL DEFAULT '',
		last4                     TEXT NOT NULL DEFAULT '',
		billing_day               INTEGER NOT NULL DEFAULT 0,
		status                    TEXT NOT NULL,
		resume_at                 INTEGER,
		product_id                TEXT NOT NULL DEFAULT '',
		price_id                  TEXT NOT NULL DEFAULT '',
		last_error_code           TEXT NOT NULL DEFAULT '',
		last_error_decline_code   TEXT NOT NULL DEFAULT '',
		last_error_message        TEXT NOT NULL DEFAULT '',
		last_error_at             INTEGER,
		last_event_at             INTEGER,
		created_at                INTEGER NOT NULL,
		updated_at                INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_subscriptions_tenant ON subscriptions(tenant_id);
	CREATE INDEX IF NOT EXISTS idx_subscriptions_status ON subscriptions(status);
	CREATE INDEX IF NOT EXISTS idx_subscriptions_customer ON subscriptions(processor_customer_id);

	CREATE TABLE IF NOT EXISTS products (
		id                   TEXT PRIMARY KEY,
		tenant_id            TEXT NOT NULL,
		campaign             TEXT NOT NULL,
		processor_product_id TEXT NOT NULL,
		pinned               INTEGER NOT NULL DEFAULT 0,
		created_at           INTEGER NOT NULL,
		UNIQUE(tenant_id, processor_product_id)
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_products_campaign ON products(tenant_id, campaign) WHERE pinned = 0;

	CREATE TABLE IF NOT EXISTS prices (
		id                 TEXT PRIMARY KEY,
		tenant_id          TEXT NOT NULL,
		product_id         TEXT NOT NULL,
		amount_cents       INTEGER NOT NULL,
		cadence            TEXT NOT NULL,
		processor_price_id TEXT NOT NULL,
		created_at         INTEGER NOT NULL,
		UNIQUE(tenant_id, product_id, amount_cents, cadence)
	);

	CREATE TABLE IF NOT EXISTS failure_records (
		id               TEXT PRIMARY KEY,
		tenant_id        TEXT NOT NULL,
		subscription_id  TEXT NOT NULL,
		invoice_id       TEXT NOT NULL DEFAULT '',
		code             TEXT NOT NULL DEFAULT '',
		decline_code     TEXT NOT NULL DEFAULT '',
		message          TEXT NOT NULL DEFAULT '',
		cause            TEXT NOT NULL DEFAULT '',
		fatal            INTEGER NOT NULL DEFAULT 0,
		created_at       INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_failures_subscription ON failure_records(subscription_id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("init engine schema: %w", err)
	}
	return nil
}

// Ping checks database connectivity (used for readiness probes).
func (s *Store) Ping() error {
	return s.db.Ping()
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// scanner is an interface satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
