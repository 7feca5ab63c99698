package postgres

import (
	"ChatWeb/internal/core/domain"
	"ChatWeb/internal/core/ports"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

// notifyChannel carries the id of any identity row that changed.
const notifyChannel = "identity_changed"

const createTableSQL = `
CREATE TABLE IF NOT EXISTS identities (
	id              TEXT PRIMARY KEY,
	phone_number    TEXT NOT NULL,
	name            TEXT NOT NULL,
	profile_picture TEXT NOT NULL,
	status          TEXT NOT NULL DEFAULT 'offline',
	messages        JSONB NOT NULL DEFAULT '[]'::jsonb,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
)`

const identityCols = `id, phone_number, name, profile_picture, status, messages, created_at, updated_at`

// IdentityStore is the PostgreSQL-backed identity repository.
type IdentityStore struct {
	db  *DB
	log zerolog.Logger
}

var _ ports.IdentityStore = (*IdentityStore)(nil)

// NewIdentityStore creates the store and ensures the identities table
// exists.
func NewIdentityStore(ctx context.Context, db *DB, baseLogger *zerolog.Logger) (*IdentityStore, error) {
	s := &IdentityStore{
		db:  db,
		log: baseLogger.With().Str("component", "pg_identity_store").Logger(),
	}
	if _, err := db.pool.Exec(ctx, createTableSQL); err != nil {
		s.log.Error().Err(err).Msg("Failed to ensure identities table")
		return nil, err
	}
	return s, nil
}

// scanIdentity reads one row, decoding the jsonb message log.
func (s *IdentityStore) scanIdentity(row pgx.Row) (*domain.Identity, error) {
	var identity domain.Identity
	var rawMessages []byte

	err := row.Scan(
		&identity.ID,
		&identity.PhoneNumber,
		&identity.Name,
		&identity.ProfilePicture,
		&identity.Status,
		&rawMessages,
		&identity.CreatedAt,
		&identity.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(rawMessages, &identity.Messages); err != nil {
		s.log.Error().Err(err).Str("identity_id", identity.ID).Msg("Failed to decode message log")
		return nil, err
	}
	return &identity, nil
}

// List returns every identity ordered by creation time.
func (s *IdentityStore) List(ctx context.Context) ([]*domain.Identity, error) {
	rows, err := s.db.pool.Query(ctx, `SELECT `+identityCols+` FROM identities ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var identities []*domain.Identity
	for rows.Next() {
		identity, err := s.scanIdentity(rows)
		if err != nil {
			return nil, err
		}
		identities = append(identities, identity)
	}
	return identities, rows.Err()
}

// Get returns a single identity row.
func (s *IdentityStore) Get(ctx context.Context, id string) (*domain.Identity, error) {
	row := s.db.pool.QueryRow(ctx, `SELECT `+identityCols+` FROM identities WHERE id = $1`, id)
	identity, err := s.scanIdentity(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrIdentityNotFound
		}
		return nil, err
	}
	return identity, nil
}

// Create inserts a new identity record.
func (s *IdentityStore) Create(ctx context.Context, identity *domain.Identity) error {
	if identity.ID == "" {
		identity.ID = uuid.NewString()
	}
	rawMessages, err := json.Marshal(identity.Messages)
	if err != nil {
		return err
	}
	_, err = s.db.pool.Exec(ctx, `
		INSERT INTO identities (id, phone_number, name, profile_picture, status, messages)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		identity.ID,
		identity.PhoneNumber,
		identity.Name,
		identity.ProfilePicture,
		identity.Status,
		rawMessages,
	)
	if err != nil {
		s.log.Error().Err(err).Str("identity_id", identity.ID).Msg("Failed to insert identity")
		return err
	}
	return s.notify(ctx, identity.ID)
}

// SetStatus patches the presence status.
func (s *IdentityStore) SetStatus(ctx context.Context, id string, status domain.PresenceStatus) error {
	tag, err := s.db.pool.Exec(ctx,
		`UPDATE identities SET status = $2, updated_at = now() WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrIdentityNotFound
	}
	return s.notify(ctx, id)
}

// AppendMessage appends one element to the jsonb message log. The ||
// concatenation happens row-locked inside the UPDATE, so concurrent
// appends are sequenced by the database.
func (s *IdentityStore) AppendMessage(ctx context.Context, id string, msg domain.Message) error {
	rawMsg, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	tag, err := s.db.pool.Exec(ctx, `
		UPDATE identities
		SET messages = messages || jsonb_build_array($2::jsonb), updated_at = now()
		WHERE id = $1`,
		id, rawMsg)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrIdentityNotFound
	}
	return s.notify(ctx, id)
}

// AdvanceMessageStatus sets the status of one message, guarded so the
// write only matches while the current status is at or below the
// target.
func (s *IdentityStore) AdvanceMessageStatus(ctx context.Context, id string, index int, to domain.DeliveryStatus) error {
	if !to.Valid() {
		return fmt.Errorf("%w: %q", domain.ErrInvalidStatus, to)
	}
	allowed := domain.StatusesAtOrBelow(to)
	allowedStrs := make([]string, len(allowed))
	for i, st := range allowed {
		allowedStrs[i] = string(st)
	}

	tag, err := s.db.pool.Exec(ctx, `
		UPDATE identities
		SET messages = jsonb_set(messages, ARRAY[$2::text, 'status'], to_jsonb($3::text)),
		    updated_at = now()
		WHERE id = $1
		  AND messages->$2->>'status' = ANY($4)`,
		id, index, string(to), allowedStrs)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := s.Get(ctx, id); getErr != nil {
			return getErr
		}
		return fmt.Errorf("%w: message %d -> %s", domain.ErrStatusRegression, index, to)
	}
	return s.notify(ctx, id)
}

// notify wakes every watcher of the changed row.
func (s *IdentityStore) notify(ctx context.Context, id string) error {
	if _, err := s.db.pool.Exec(ctx, `SELECT pg_notify($1, $2)`, notifyChannel, id); err != nil {
		s.log.Error().Err(err).Str("identity_id", id).Msg("Failed to notify watchers")
		return err
	}
	return nil
}

// Watch holds a dedicated LISTEN connection and re-reads the row on
// every matching notification. The current row is delivered first.
// Cancel releases the connection; fn is never invoked after cancel
// returns.
func (s *IdentityStore) Watch(ctx context.Context, id string, fn ports.SnapshotFunc) (ports.CancelFunc, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	conn, err := s.db.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Exec(ctx, `LISTEN `+notifyChannel); err != nil {
		conn.Release()
		return nil, err
	}

	var gate sync.Mutex
	closed := false
	deliver := func(identity *domain.Identity) {
		gate.Lock()
		defer gate.Unlock()
		if closed {
			return
		}
		fn(identity)
	}

	deliver(current)

	watchCtx, stopWatch := context.WithCancel(context.Background())
	go func() {
		defer func() {
			// The connection carries LISTEN state; close it rather
			// than returning it to the pool.
			_ = conn.Conn().Close(context.Background())
			conn.Release()
		}()
		for {
			notification, err := conn.Conn().WaitForNotification(watchCtx)
			if err != nil {
				if watchCtx.Err() == nil {
					s.log.Error().Err(err).Str("identity_id", id).Msg("Watch connection failed")
				}
				return
			}
			if notification.Payload != id {
				continue
			}
			identity, err := s.Get(watchCtx, id)
			if err != nil {
				s.log.Error().Err(err).Str("identity_id", id).Msg("Failed to re-read watched identity")
				continue
			}
			deliver(identity)
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			gate.Lock()
			closed = true
			gate.Unlock()
			stopWatch()
			s.log.Info().Str("identity_id", id).Msg("Conversation watch released")
		})
	}
	return cancel, nil
}
