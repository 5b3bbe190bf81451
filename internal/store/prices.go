package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// GetProductByCampaign retrieves the product mapped to a campaign name.
// Pinned rows carry a donor-supplied processor product and live outside the
// campaign mapping. Returns nil if no mapping exists yet.
func (s *Store) GetProductByCampaign(tenantID, campaign string) (*Product, error) {
	row := s.db.QueryRow(`SELECT id, tenant_id, campaign, processor_product_id, pinned, created_at
		FROM products WHERE tenant_id = ? AND campaign = ? AND pinned = 0`, tenantID, campaign)
	return scanProduct(row)
}

// GetProductByProcessorID retrieves a product by its processor-side ID.
func (s *Store) GetProductByProcessorID(tenantID, processorProductID string) (*Product, error) {
	row := s.db.QueryRow(`SELECT id, tenant_id, campaign, processor_product_id, pinned, created_at
		FROM products WHERE tenant_id = ? AND processor_product_id = ?`, tenantID, processorProductID)
	return scanProduct(row)
}

// InsertProduct persists a processor product mapping. On a concurrent
// duplicate the existing row wins and is returned: conflicts are resolved by
// processor product id first so a pinned product is never swapped for
// whichever product happens to own the campaign name.
func (s *Store) InsertProduct(p *Product) (*Product, error) {
	if p == nil {
		return nil, fmt.Errorf("product is nil")
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	res, err := s.db.Exec(`
		INSERT OR IGNORE INTO products (id, tenant_id, campaign, processor_product_id, pinned, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID, p.TenantID, p.Campaign, p.ProcessorProductID, boolToInt(p.Pinned), p.CreatedAt.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert product: %w", err)
	}
	if inserted, _ := res.RowsAffected(); inserted > 0 {
		return p, nil
	}
	existing, err := s.GetProductByProcessorID(p.TenantID, p.ProcessorProductID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}
	if !p.Pinned {
		existing, err = s.GetProductByCampaign(p.TenantID, p.Campaign)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return existing, nil
		}
	}
	return nil, fmt.Errorf("insert product: conflict but no existing row for product %q", p.ProcessorProductID)
}

// FindPrice looks up the catalog row for an exact (tenant, product, amount,
// cadence) tuple. Returns nil if none exists.
func (s *Store) FindPrice(tenantID, productID string, amountCents int64, cadence string) (*Price, error) {
	row := s.db.QueryRow(`SELECT id, tenant_id, product_id, amount_cents, cadence, processor_price_id, created_at
		FROM prices WHERE tenant_id = ? AND product_id = ? AND amount_cents = ? AND cadence = ?`,
		tenantID, productID, amountCents, cadence)
	return scanPrice(row)
}

// InsertPrice persists a catalog row. The uniqueness constraint on
// (tenant, product, amount, cadence) absorbs concurrent first-requests; on
// conflict the existing row wins and is returned.
func (s *Store) InsertPrice(p *Price) (*Price, error) {
	if p == nil {
		return nil, fmt.Errorf("price is nil")
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	res, err := s.db.Exec(`
		INSERT OR IGNORE INTO prices (id, tenant_id, product_id, amount_cents, cadence, processor_price_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.TenantID, p.ProductID, p.AmountCents, p.Cadence, p.ProcessorPriceID, p.CreatedAt.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert price: %w", err)
	}
	if inserted, _ := res.RowsAffected(); inserted > 0 {
		return p, nil
	}
	existing, err := s.FindPrice(p.TenantID, p.ProductID, p.AmountCents, p.Cadence)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, fmt.Errorf("insert price: conflict but no existing row for product %q", p.ProductID)
	}
	return existing, nil
}

func scanProduct(sc scanner) (*Product, error) {
	var p Product
	var pinned int
	var createdAt int64

	err := sc.Scan(&p.ID, &p.TenantID, &p.Campaign, &p.ProcessorProductID, &pinned, &createdAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan product: %w", err)
	}
	p.Pinned = pinned != 0
	p.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &p, nil
}

func scanPrice(sc scanner) (*Price, error) {
	var p Price
	var createdAt int64

	err := sc.Scan(&p.ID, &p.TenantID, &p.ProductID, &p.AmountCents, &p.Cadence, &p.ProcessorPriceID, &createdAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan price: %w", err)
	}
	p.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &p, nil
}
