package room

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nbv9704/CASI4F-sub001/internal/models"
)

// Store is the durable source of truth for rooms and the balance
// ledger. Balance movements are folded into the room mutations they
// belong to because settlement must commit atomically across both:
// a room must never be finished without its payout applied.
//
// Mutating methods are compare-and-set on the room's Version (and,
// for terminal transitions, Status): a concurrent writer that lost
// the race gets ErrStateChanged and must refetch.
type Store interface {
	// CreateRoom inserts the room with its creator already seated
	// and the creator's stake escrowed, all in one transaction.
	// Fails with ErrInsufficientBalance before anything is written.
	CreateRoom(ctx context.Context, r *models.Room) error

	GetRoomByCode(ctx context.Context, code string) (*models.Room, error)

	// ListOpenRooms returns waiting rooms, optionally filtered by
	// variant (empty means all).
	ListOpenRooms(ctx context.Context, variant models.Variant) ([]*models.Room, error)

	// JoinRoom seats p and escrows their stake. Guarded by the
	// version CAS and a uniqueness constraint on (room, user), so a
	// replayed join can never double-escrow.
	JoinRoom(ctx context.Context, r *models.Room, p models.Participant) error

	// UpdateRoom persists non-terminal mutations (ready flags,
	// status flip to active, metadata, draws, nonce, reveal window).
	UpdateRoom(ctx context.Context, r *models.Room) error

	// SettleRoom flips active -> finished and applies every credit
	// in the same transaction. The status CAS makes settlement run
	// exactly once however many triggers race.
	SettleRoom(ctx context.Context, r *models.Room, credits map[uuid.UUID]int64) error

	// CancelRoom flips the room to cancelled and refunds every
	// escrow in the same transaction, with the same CAS guard.
	CancelRoom(ctx context.Context, r *models.Room, refunds map[uuid.UUID]int64) error

	// DeleteRoom removes a waiting room and refunds its escrows.
	DeleteRoom(ctx context.Context, r *models.Room, refunds map[uuid.UUID]int64) error

	// StaleWaiting returns waiting rooms untouched since before.
	StaleWaiting(ctx context.Context, before time.Time) ([]*models.Room, error)

	// StalledActive returns active rooms untouched since before.
	StalledActive(ctx context.Context, before time.Time) ([]*models.Room, error)

	// OverdueReveals returns active rooms whose reveal window
	// elapsed before now without a client acknowledgment.
	OverdueReveals(ctx context.Context, now time.Time) ([]*models.Room, error)

	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// ActionCache stores responses for idempotency tokens over a bounded
// window. A nil value from Get means a miss.
type ActionCache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
}
