// Package tenant resolves a tenant identifier or inbound webhook public key
// to that tenant's processor credentials.
package tenant

import (
	"errors"
	"strings"
	"sync"

	"github.com/givebridge/givebridge/internal/store"
)

var (
	// ErrTenantNotFound means no tenant matches the identifier or public key.
	ErrTenantNotFound = errors.New("tenant not found")
	// ErrCredentialsMissing means the tenant exists but has no processor
	// credentials configured. Callers respond 400, not 404.
	ErrCredentialsMissing = errors.New("tenant credentials not configured")
)

// Credentials is the resolved routing result for one tenant.
type Credentials struct {
	TenantID      string
	TenantName    string
	SecretKey     string
	WebhookSecret string
}

// maxCacheEntries bounds the public-key cache. Webhook deliveries hit the
// resolver on every request; the cache keeps that off the hot query path.
const maxCacheEntries = 256

// Resolver maps tenant IDs and webhook public keys to processor credentials.
type Resolver struct {
	store *store.Store

	mu      sync.RWMutex
	byPK    map[string]Credentials
	pkOrder []string // insertion order, evicted oldest-first
}

// NewResolver creates a Resolver backed by the durable store.
func NewResolver(st *store.Store) *Resolver {
	return &Resolver{
		store: st,
		byPK:  make(map[string]Credentials),
	}
}

// ResolveByID resolves credentials for an explicit tenant identifier.
func (r *Resolver) ResolveByID(tenantID string) (Credentials, error) {
	t, err := r.store.GetTenant(strings.TrimSpace(tenantID))
	if err != nil {
		return Credentials{}, err
	}
	return credentialsFromTenant(t)
}

// ResolveByPublicKey resolves credentials from an inbound webhook's public-key
// query parameter. Results are cached; Invalidate must be called on rotation.
func (r *Resolver) ResolveByPublicKey(publicKey string) (Credentials, error) {
	publicKey = strings.TrimSpace(publicKey)
	if publicKey == "" {
		return Credentials{}, ErrTenantNotFound
	}

	r.mu.RLock()
	cached, ok := r.byPK[publicKey]
	r.mu.RUnlock()
	if ok {
		return cached, nil
	}

	t, err := r.store.GetTenantByPublicKey(publicKey)
	if err != nil {
		return Credentials{}, err
	}
	creds, err := credentialsFromTenant(t)
	if err != nil {
		return Credentials{}, err
	}

	r.mu.Lock()
	if _, exists := r.byPK[publicKey]; !exists {
		if len(r.pkOrder) >= maxCacheEntries {
			oldest := r.pkOrder[0]
			r.pkOrder = r.pkOrder[1:]
			delete(r.byPK, oldest)
		}
		r.byPK[publicKey] = creds
		r.pkOrder = append(r.pkOrder, publicKey)
	}
	r.mu.Unlock()

	return creds, nil
}

// Invalidate drops a cached public key after credential rotation.
func (r *Resolver) Invalidate(publicKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byPK[publicKey]; !ok {
		return
	}
	delete(r.byPK, publicKey)
	for i, pk := range r.pkOrder {
		if pk == publicKey {
			r.pkOrder = append(r.pkOrder[:i], r.pkOrder[i+1:]...)
			break
		}
	}
}

func credentialsFromTenant(t *store.Tenant) (Credentials, error) {
	if t == nil {
		return Credentials{}, ErrTenantNotFound
	}
	if strings.TrimSpace(t.SecretKey) == "" || strings.TrimSpace(t.WebhookSecret) == "" {
		return Credentials{}, ErrCredentialsMissing
	}
	return Credentials{
		TenantID:      t.ID,
		TenantName:    t.Name,
		SecretKey:     t.SecretKey,
		WebhookSecret: t.WebhookSecret,
	}, nil
}
