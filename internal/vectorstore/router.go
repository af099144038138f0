package vectorstore

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

const (
	tenantPrefix      = "tenant_"
	defaultTenantName = "default"
)

// Router maps organization identifiers onto isolated collections so
// one tenant's documents are never searchable by another. Collection
// names are derived deterministically from the organization ID, so
// routing is stable across restarts.
type Router struct {
	store  *Store
	logger *zap.Logger
}

// NewRouter creates a Router over the given store.
func NewRouter(store *Store, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{store: store, logger: logger}
}

// CollectionName returns the collection for an organization. An empty
// or fully unsanitizable ID routes to the shared default tenant.
func (r *Router) CollectionName(orgID string) string {
	return tenantPrefix + sanitizeTenant(orgID)
}

// sanitizeTenant lowercases the ID and replaces every character that
// is not alphanumeric, underscore, or hyphen.
func sanitizeTenant(orgID string) string {
	orgID = strings.ToLower(strings.TrimSpace(orgID))
	if orgID == "" {
		return defaultTenantName
	}

	var b strings.Builder
	b.Grow(len(orgID))
	for _, c := range orgID {
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '_', c == '-':
			b.WriteRune(c)
		default:
			b.WriteByte('_')
		}
	}

	name := strings.Trim(b.String(), "_")
	if name == "" {
		return defaultTenantName
	}
	return name
}

// Ensure creates the tenant's collection if it does not exist.
func (r *Router) Ensure(ctx context.Context, orgID string) error {
	return r.store.EnsureCollection(ctx, r.CollectionName(orgID))
}

// Add stores pre-embedded documents in the tenant's collection.
func (r *Router) Add(ctx context.Context, orgID string, docs []Document) error {
	name := r.CollectionName(orgID)
	if err := r.store.AddDocuments(ctx, name, docs); err != nil {
		return err
	}
	r.logger.Debug("tenant documents stored",
		zap.String("collection", name),
		zap.Int("count", len(docs)),
	)
	return nil
}

// Query searches the tenant's collection by embedding.
func (r *Router) Query(ctx context.Context, orgID string, embedding []float32, topK int) ([]SearchResult, error) {
	return r.store.Query(ctx, r.CollectionName(orgID), embedding, topK)
}

// Count returns the tenant's document count.
func (r *Router) Count(ctx context.Context, orgID string) (int, error) {
	return r.store.Count(ctx, r.CollectionName(orgID))
}
