package ports

import (
	"ChatWeb/internal/core/domain"
	"context"
)

// SnapshotFunc receives a complete copy of an identity document every
// time it changes. Snapshots replace, they never merge.
type SnapshotFunc func(identity *domain.Identity)

// CancelFunc releases a registration (watch, auth listener). Safe to
// call more than once.
type CancelFunc func()

// IdentityStore defines the persistence operations for identity
// documents and their embedded conversation logs. It is the typed face
// of the remote document service: List/Get/Create map onto record
// reads and creates, SetStatus onto a merge patch, AppendMessage onto
// the store's atomic array-append primitive, and Watch onto a live
// snapshot subscription.
type IdentityStore interface {
	// List returns every identity record. Ordering is adapter-defined
	// but stable.
	List(ctx context.Context) ([]*domain.Identity, error)

	// Get returns a single identity, or domain.ErrIdentityNotFound.
	Get(ctx context.Context, id string) (*domain.Identity, error)

	// Create inserts a new identity record. A create, never an upsert.
	// Adapters assign an id when identity.ID is empty.
	Create(ctx context.Context, identity *domain.Identity) error

	// SetStatus merge-patches the presence status of one identity.
	SetStatus(ctx context.Context, id string, status domain.PresenceStatus) error

	// AppendMessage atomically appends to the identity's message log.
	// Concurrent appends are sequenced by the store, not the caller.
	AppendMessage(ctx context.Context, id string, msg domain.Message) error

	// AdvanceMessageStatus moves the delivery status of the message at
	// index forward. Regressions fail with domain.ErrStatusRegression.
	AdvanceMessageStatus(ctx context.Context, id string, index int, to domain.DeliveryStatus) error

	// Watch subscribes fn to snapshots of one identity document. The
	// returned cancel stops delivery; after it returns, fn is never
	// invoked again.
	Watch(ctx context.Context, id string, fn SnapshotFunc) (CancelFunc, error)
}
