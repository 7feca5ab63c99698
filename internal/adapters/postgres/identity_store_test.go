package postgres

import (
	"ChatWeb/internal/core/domain"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func newTestStore(t *testing.T) *IdentityStore {
	t.Helper()
	nopLogger := zerolog.Nop()
	store, err := NewIdentityStore(context.Background(), testDB, &nopLogger)
	if err != nil {
		t.Fatalf("Failed to create identity store: %v", err)
	}
	return store
}

func createTestIdentity(t *testing.T, store *IdentityStore) *domain.Identity {
	t.Helper()
	identity := domain.NewIdentity(uuid.NewString(), "+1555"+uuid.NewString()[:8])
	if err := store.Create(context.Background(), identity); err != nil {
		t.Fatalf("Failed to create test identity: %v", err)
	}
	t.Cleanup(func() { cleanupTestIdentity(t, identity.ID) })
	return identity
}

func TestIdentityStore_Create_Get_Roundtrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	identity := createTestIdentity(t, store)

	found, err := store.Get(ctx, identity.ID)
	if err != nil {
		t.Fatalf("Failed to get identity: %v", err)
	}
	if found.PhoneNumber != identity.PhoneNumber {
		t.Errorf("PhoneNumber mismatch: got %s, want %s", found.PhoneNumber, identity.PhoneNumber)
	}
	if found.Name != domain.DefaultName {
		t.Errorf("Name mismatch: got %s, want %s", found.Name, domain.DefaultName)
	}
	if found.Status != domain.StatusOffline {
		t.Errorf("Status mismatch: got %s, want %s", found.Status, domain.StatusOffline)
	}
	if len(found.Messages) != 0 {
		t.Errorf("Expected empty message log, got %d entries", len(found.Messages))
	}

	if _, err := store.Get(ctx, "no-such-id"); !errors.Is(err, domain.ErrIdentityNotFound) {
		t.Errorf("Expected ErrIdentityNotFound for missing row, got %v", err)
	}
}

func TestIdentityStore_SetStatus(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	identity := createTestIdentity(t, store)
	if err := store.SetStatus(ctx, identity.ID, domain.StatusOnline); err != nil {
		t.Fatalf("Failed to set status: %v", err)
	}

	found, err := store.Get(ctx, identity.ID)
	if err != nil {
		t.Fatalf("Failed to get identity: %v", err)
	}
	if found.Status != domain.StatusOnline {
		t.Errorf("Status mismatch: got %s, want %s", found.Status, domain.StatusOnline)
	}

	if err := store.SetStatus(ctx, "no-such-id", domain.StatusOnline); !errors.Is(err, domain.ErrIdentityNotFound) {
		t.Errorf("Expected ErrIdentityNotFound for missing row, got %v", err)
	}
}

func TestIdentityStore_AppendMessage(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	identity := createTestIdentity(t, store)
	msg := domain.NewOutgoingMessage("sender-1", "hello")
	if err := store.AppendMessage(ctx, identity.ID, msg); err != nil {
		t.Fatalf("Failed to append message: %v", err)
	}

	found, err := store.Get(ctx, identity.ID)
	if err != nil {
		t.Fatalf("Failed to get identity: %v", err)
	}
	if len(found.Messages) != 1 {
		t.Fatalf("Expected 1 message, got %d", len(found.Messages))
	}
	if found.Messages[0].Text != "hello" {
		t.Errorf("Text mismatch: got %s, want hello", found.Messages[0].Text)
	}
	if found.Messages[0].Status != domain.DeliverySent {
		t.Errorf("Status mismatch: got %s, want %s", found.Messages[0].Status, domain.DeliverySent)
	}

	if err := store.AppendMessage(ctx, "no-such-id", msg); !errors.Is(err, domain.ErrIdentityNotFound) {
		t.Errorf("Expected ErrIdentityNotFound for missing row, got %v", err)
	}
}

func TestIdentityStore_AdvanceMessageStatus_ForwardOnly(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	identity := createTestIdentity(t, store)
	if err := store.AppendMessage(ctx, identity.ID, domain.NewOutgoingMessage("sender-1", "hello")); err != nil {
		t.Fatalf("Failed to append message: %v", err)
	}

	if err := store.AdvanceMessageStatus(ctx, identity.ID, 0, domain.DeliverySeen); err != nil {
		t.Fatalf("Failed to advance status: %v", err)
	}
	found, err := store.Get(ctx, identity.ID)
	if err != nil {
		t.Fatalf("Failed to get identity: %v", err)
	}
	if found.Messages[0].Status != domain.DeliverySeen {
		t.Errorf("Status mismatch: got %s, want %s", found.Messages[0].Status, domain.DeliverySeen)
	}

	// seen never goes back to delivered
	err = store.AdvanceMessageStatus(ctx, identity.ID, 0, domain.DeliveryDelivered)
	if !errors.Is(err, domain.ErrStatusRegression) {
		t.Errorf("Expected ErrStatusRegression, got %v", err)
	}

	err = store.AdvanceMessageStatus(ctx, "no-such-id", 0, domain.DeliverySeen)
	if !errors.Is(err, domain.ErrIdentityNotFound) {
		t.Errorf("Expected ErrIdentityNotFound for missing row, got %v", err)
	}
}

func TestIdentityStore_Watch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	identity := createTestIdentity(t, store)

	var mu sync.Mutex
	var snapshots []*domain.Identity
	cancel, err := store.Watch(ctx, identity.ID, func(snap *domain.Identity) {
		mu.Lock()
		defer mu.Unlock()
		snapshots = append(snapshots, snap)
	})
	if err != nil {
		t.Fatalf("Failed to open watch: %v", err)
	}
	defer cancel()

	count := func() int {
		mu.Lock()
		defer mu.Unlock()
		return len(snapshots)
	}

	// The current row is delivered first.
	if count() != 1 {
		t.Fatalf("Expected initial snapshot, got %d deliveries", count())
	}

	if err := store.AppendMessage(ctx, identity.ID, domain.NewOutgoingMessage("sender-1", "hello")); err != nil {
		t.Fatalf("Failed to append message: %v", err)
	}
	waitFor(t, 5*time.Second, func() bool { return count() == 2 })

	mu.Lock()
	last := snapshots[len(snapshots)-1]
	mu.Unlock()
	if len(last.Messages) != 1 || last.Messages[0].Text != "hello" {
		t.Errorf("Snapshot did not carry the appended message: %+v", last.Messages)
	}

	// No delivery after cancel, even for writes that follow it.
	cancel()
	cancel()
	if err := store.AppendMessage(ctx, identity.ID, domain.NewOutgoingMessage("sender-1", "after cancel")); err != nil {
		t.Fatalf("Failed to append message: %v", err)
	}
	time.Sleep(500 * time.Millisecond)
	if count() != 2 {
		t.Errorf("Expected no delivery after cancel, got %d total", count())
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("Condition not met within %s", timeout)
}
