// Package catalog finds or creates recurring prices for donation amounts,
// keeping processor-side catalog growth bounded by the distinct
// (product, amount, cadence) combinations actually donated.
package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/givebridge/givebridge/internal/processor"
	"github.com/givebridge/givebridge/internal/store"
)

// ErrCreationFailed is returned when product or price creation at the
// processor fails. No partial state is persisted when it is returned.
var ErrCreationFailed = errors.New("catalog creation failed")

// CadenceMonthly is the only cadence currently offered to donors.
const CadenceMonthly = "month"

// Manager resolves (tenant, campaign, amount, cadence) tuples to processor
// price references. Concurrent first-requests for the same tuple are
// collapsed in-process; across processes the store's uniqueness constraint
// absorbs the race.
type Manager struct {
	store *store.Store
	group singleflight.Group
}

// NewManager creates a catalog Manager.
func NewManager(st *store.Store) *Manager {
	return &Manager{store: st}
}

// Result is the resolved catalog entry for a recurring donation.
type Result struct {
	Product *store.Product
	Price   *store.Price
}

// EnsurePrice returns the price for the tuple, creating product and price at
// the processor only when no matching entry exists. productRef optionally
// pins a pre-existing processor product instead of the campaign mapping.
func (m *Manager) EnsurePrice(ctx context.Context, client processor.Client, tenantID, campaign, productRef string, amountCents int64, cadence string) (*Result, error) {
	if cadence == "" {
		cadence = CadenceMonthly
	}

	key := fmt.Sprintf("%s|%s|%s|%d|%s", tenantID, campaign, productRef, amountCents, cadence)
	v, err, _ := m.group.Do(key, func() (any, error) {
		return m.ensurePrice(ctx, client, tenantID, campaign, productRef, amountCents, cadence)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Result), nil
}

func (m *Manager) ensurePrice(ctx context.Context, client processor.Client, tenantID, campaign, productRef string, amountCents int64, cadence string) (*Result, error) {
	product, err := m.ensureProduct(ctx, client, tenantID, campaign, productRef)
	if err != nil {
		return nil, err
	}

	existing, err := m.store.FindPrice(tenantID, product.ProcessorProductID, amountCents, cadence)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return &Result{Product: product, Price: existing}, nil
	}

	// The local catalog can lag the processor (restores, parallel writers), so
	// check processor-side prices before creating another one.
	remote, err := client.ListPrices(ctx, product.ProcessorProductID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCreationFailed, err)
	}
	for _, pr := range remote {
		if pr.AmountCents == amountCents && pr.Cadence == cadence {
			return m.persistPrice(tenantID, product, pr)
		}
	}

	created, err := client.CreatePrice(ctx, product.ProcessorProductID, amountCents, cadence)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCreationFailed, err)
	}
	log.Info().
		Str("tenant_id", tenantID).
		Str("processor_price_id", created.ID).
		Int64("amount_cents", amountCents).
		Str("cadence", cadence).
		Msg("Created recurring price")
	return m.persistPrice(tenantID, product, *created)
}

func (m *Manager) persistPrice(tenantID string, product *store.Product, pr processor.Price) (*Result, error) {
	row, err := m.store.InsertPrice(&store.Price{
		TenantID:         tenantID,
		ProductID:        product.ProcessorProductID,
		AmountCents:      pr.AmountCents,
		Cadence:          pr.Cadence,
		ProcessorPriceID: pr.ID,
	})
	if err != nil {
		return nil, err
	}
	return &Result{Product: product, Price: row}, nil
}

func (m *Manager) ensureProduct(ctx context.Context, client processor.Client, tenantID, campaign, productRef string) (*store.Product, error) {
	if productRef != "" {
		product, err := m.store.GetProductByProcessorID(tenantID, productRef)
		if err != nil {
			return nil, err
		}
		if product != nil {
			return product, nil
		}
		// Caller supplied a processor product the engine has not seen yet;
		// persist the mapping so future calls reuse it. Pinned mappings sit
		// outside the campaign namespace so they never shadow (or get
		// resolved to) the campaign's own product.
		return m.store.InsertProduct(&store.Product{
			TenantID:           tenantID,
			Campaign:           campaign,
			ProcessorProductID: productRef,
			Pinned:             true,
		})
	}

	product, err := m.store.GetProductByCampaign(tenantID, campaign)
	if err != nil {
		return nil, err
	}
	if product != nil {
		return product, nil
	}

	created, err := client.CreateProduct(ctx, campaign)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCreationFailed, err)
	}
	log.Info().
		Str("tenant_id", tenantID).
		Str("campaign", campaign).
		Str("processor_product_id", created.ID).
		Msg("Created campaign product")
	return m.store.InsertProduct(&store.Product{
		TenantID:           tenantID,
		Campaign:           campaign,
		ProcessorProductID: created.ID,
	})
}
