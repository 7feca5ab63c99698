// Package memory provides an in-process IdentityStore with live watch
// fan-out. It backs tests and STORE_BACKEND=memory development runs.
package memory

import (
	"ChatWeb/internal/core/domain"
	"ChatWeb/internal/core/ports"
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// IdentityStore keeps identity documents in a map and pushes a full
// snapshot to every registered watcher after each write.
type IdentityStore struct {
	log zerolog.Logger

	mu         sync.RWMutex
	identities map[string]*domain.Identity
	watchers   map[string]map[int64]ports.SnapshotFunc
	nextWatch  int64
}

var _ ports.IdentityStore = (*IdentityStore)(nil)

// NewIdentityStore creates an empty in-memory store.
func NewIdentityStore(baseLogger *zerolog.Logger) *IdentityStore {
	return &IdentityStore{
		log:        baseLogger.With().Str("component", "memory_store").Logger(),
		identities: make(map[string]*domain.Identity),
		watchers:   make(map[string]map[int64]ports.SnapshotFunc),
	}
}

// List returns all identities ordered by creation time, then id for
// same-instant creations.
func (s *IdentityStore) List(ctx context.Context) ([]*domain.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.Identity, 0, len(s.identities))
	for _, identity := range s.identities {
		out = append(out, identity.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Get returns one identity by id.
func (s *IdentityStore) Get(ctx context.Context, id string) (*domain.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	identity, ok := s.identities[id]
	if !ok {
		return nil, domain.ErrIdentityNotFound
	}
	return identity.Clone(), nil
}

// Create inserts a new identity, assigning an id when none is set.
func (s *IdentityStore) Create(ctx context.Context, identity *domain.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if identity.ID == "" {
		identity.ID = uuid.NewString()
	}
	if _, exists := s.identities[identity.ID]; exists {
		return fmt.Errorf("identity %s already exists", identity.ID)
	}
	s.identities[identity.ID] = identity.Clone()
	s.log.Info().Str("identity_id", identity.ID).Msg("Identity created")
	return nil
}

// SetStatus patches the presence status.
func (s *IdentityStore) SetStatus(ctx context.Context, id string, status domain.PresenceStatus) error {
	s.mu.Lock()
	identity, ok := s.identities[id]
	if !ok {
		s.mu.Unlock()
		return domain.ErrIdentityNotFound
	}
	identity.Status = status
	snapshot := identity.Clone()
	s.mu.Unlock()

	s.notify(id, snapshot)
	return nil
}

// AppendMessage appends to the identity's message log. The store lock
// sequences concurrent appends.
func (s *IdentityStore) AppendMessage(ctx context.Context, id string, msg domain.Message) error {
	s.mu.Lock()
	identity, ok := s.identities[id]
	if !ok {
		s.mu.Unlock()
		return domain.ErrIdentityNotFound
	}
	identity.Messages = append(identity.Messages, msg)
	snapshot := identity.Clone()
	s.mu.Unlock()

	s.notify(id, snapshot)
	return nil
}

// AdvanceMessageStatus moves one message's delivery status forward.
func (s *IdentityStore) AdvanceMessageStatus(ctx context.Context, id string, index int, to domain.DeliveryStatus) error {
	s.mu.Lock()
	identity, ok := s.identities[id]
	if !ok {
		s.mu.Unlock()
		return domain.ErrIdentityNotFound
	}
	if index < 0 || index >= len(identity.Messages) {
		s.mu.Unlock()
		return fmt.Errorf("message index %d out of range", index)
	}
	if err := identity.Messages[index].Advance(to); err != nil {
		s.mu.Unlock()
		return err
	}
	snapshot := identity.Clone()
	s.mu.Unlock()

	s.notify(id, snapshot)
	return nil
}

// Watch registers fn for snapshots of one identity. The initial state
// is delivered immediately, matching the remote contract where a new
// subscriber first receives the current document.
func (s *IdentityStore) Watch(ctx context.Context, id string, fn ports.SnapshotFunc) (ports.CancelFunc, error) {
	s.mu.Lock()
	identity, ok := s.identities[id]
	if !ok {
		s.mu.Unlock()
		return nil, domain.ErrIdentityNotFound
	}
	if _, exists := s.watchers[id]; !exists {
		s.watchers[id] = make(map[int64]ports.SnapshotFunc)
	}
	s.nextWatch++
	watchID := s.nextWatch
	s.watchers[id][watchID] = fn
	initial := identity.Clone()
	s.mu.Unlock()

	fn(initial)

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if conns, ok := s.watchers[id]; ok {
				delete(conns, watchID)
				if len(conns) == 0 {
					delete(s.watchers, id)
				}
			}
		})
	}
	return cancel, nil
}

// notify pushes a snapshot to every watcher of id.
func (s *IdentityStore) notify(id string, snapshot *domain.Identity) {
	s.mu.RLock()
	fns := make([]ports.SnapshotFunc, 0, len(s.watchers[id]))
	for _, fn := range s.watchers[id] {
		fns = append(fns, fn)
	}
	s.mu.RUnlock()

	for _, fn := range fns {
		fn(snapshot.Clone())
	}
}
