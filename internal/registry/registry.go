// Package registry manages enrolled identities on top of an IdentityWriter.
package registry

import (
	"context"
	"fmt"
	"strings"

	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/facematch"
	"github.com/kozaktomas/face-attendance/internal/logger"
)

// Registry creates, finds and (de)activates identities.
type Registry struct {
	store    database.IdentityWriter
	onChange []func()
	log      *logger.Logger
}

// New creates a registry. onChange callbacks run after every successful mutation,
// e.g. to invalidate a matcher's gallery cache.
func New(store database.IdentityWriter, log *logger.Logger, onChange ...func()) *Registry {
	if log == nil {
		log = logger.Nop()
	}
	return &Registry{store: store, onChange: onChange, log: log.With("component", "registry")}
}

func (r *Registry) changed() {
	for _, fn := range r.onChange {
		fn()
	}
}

// Create registers a new active identity.
func (r *Registry) Create(ctx context.Context, name, externalRef string) (*database.Identity, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, &database.ValidationError{Field: "name", Err: fmt.Errorf("%w: empty", database.ErrInvalidValue)}
	}
	identity, err := r.store.CreateIdentity(ctx, name, strings.TrimSpace(externalRef))
	if err != nil {
		return nil, fmt.Errorf("creating identity: %w", err)
	}
	r.log.Info("identity created", "identity_id", identity.ID, "external_ref", identity.ExternalRef)
	r.changed()
	return identity, nil
}

// Get returns an identity, ErrUnknownIdentity when it does not exist.
func (r *Registry) Get(ctx context.Context, id int64) (*database.Identity, error) {
	identity, err := r.store.GetIdentity(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading identity %d: %w", id, err)
	}
	if identity == nil {
		return nil, fmt.Errorf("identity %d: %w", id, database.ErrUnknownIdentity)
	}
	return identity, nil
}

// Resolve finds an identity by numeric ID or external reference.
func (r *Registry) Resolve(ctx context.Context, ref string) (*database.Identity, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, &database.ValidationError{Field: "identity", Err: fmt.Errorf("%w: empty reference", database.ErrInvalidValue)}
	}
	var id int64
	if _, err := fmt.Sscan(ref, &id); err == nil && fmt.Sprint(id) == ref {
		identity, err := r.store.GetIdentity(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("loading identity %d: %w", id, err)
		}
		if identity != nil {
			return identity, nil
		}
	}
	identity, err := r.store.GetIdentityByRef(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("loading identity %q: %w", ref, err)
	}
	if identity == nil {
		return nil, fmt.Errorf("identity %q: %w", ref, database.ErrUnknownIdentity)
	}
	return identity, nil
}

// List returns identities ordered by name.
func (r *Registry) List(ctx context.Context, activeOnly bool) ([]database.Identity, error) {
	return r.store.ListIdentities(ctx, activeOnly)
}

// Search returns identities whose name or external reference contains query,
// ignoring case and diacritics.
func (r *Registry) Search(ctx context.Context, query string, activeOnly bool) ([]database.Identity, error) {
	all, err := r.store.ListIdentities(ctx, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("listing identities: %w", err)
	}
	var out []database.Identity
	for _, identity := range all {
		if facematch.NameMatches(identity.Name, query) || facematch.NameMatches(identity.ExternalRef, query) {
			out = append(out, identity)
		}
	}
	return out, nil
}

// SetActive activates or soft-deletes an identity. Identities are never removed.
func (r *Registry) SetActive(ctx context.Context, id int64, active bool) error {
	if err := r.store.SetActive(ctx, id, active); err != nil {
		return fmt.Errorf("setting identity %d active=%v: %w", id, active, err)
	}
	r.log.Info("identity active flag changed", "identity_id", id, "active", active)
	r.changed()
	return nil
}
