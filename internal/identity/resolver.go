// Package identity finds or creates processor-side customers for donor emails.
package identity

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/givebridge/givebridge/internal/processor"
)

// Resolver finds-or-creates a processor customer for a donor email within a
// tenant. This is find-then-create, not an upsert: the processor has no
// unique-email constraint, so concurrent calls can create duplicate
// customers. That cost is tolerated and reconciled out of band.
type Resolver struct {
	client processor.Client
}

// NewResolver creates a Resolver bound to one tenant's processor client.
func NewResolver(client processor.Client) *Resolver {
	return &Resolver{client: client}
}

// Resolve returns the processor customer for the donor, creating one if the
// email lookup finds nothing.
func (r *Resolver) Resolve(ctx context.Context, email, displayName string) (*processor.Customer, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, fmt.Errorf("donor email is empty")
	}

	existing, err := r.client.FindCustomerByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("find customer: %w", err)
	}
	if existing != nil {
		return existing, nil
	}

	created, err := r.client.CreateCustomer(ctx, email, strings.TrimSpace(displayName))
	if err != nil {
		return nil, fmt.Errorf("create customer: %w", err)
	}
	log.Debug().
		Str("customer_id", created.ID).
		Msg("Created processor customer")
	return created, nil
}
