package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Variant identifies which game a room plays. The set is closed; the
// room controller resolves variant -> adapter once at creation.
type Variant string

const (
	VariantCoinflip  Variant = "coinflip"
	VariantDiceDuel  Variant = "diceduel"
	VariantDice21    Variant = "dice21"
	VariantDicePoker Variant = "dicepoker"
)

// RoomStatus is the lifecycle state of a room.
type RoomStatus string

const (
	RoomWaiting   RoomStatus = "waiting"
	RoomActive    RoomStatus = "active"
	RoomFinished  RoomStatus = "finished"
	RoomCancelled RoomStatus = "cancelled"
)

// Terminal reports whether no further mutation of the room is legal.
func (s RoomStatus) Terminal() bool {
	return s == RoomFinished || s == RoomCancelled
}

// Participant is one seat in a room. Position is the join order and
// doubles as the turn order for turn-based variants.
type Participant struct {
	UserID   uuid.UUID `json:"user_id"`
	Username string    `json:"username,omitempty"`
	Stake    int64     `json:"stake"`
	Ready    bool      `json:"ready"`
	Position int       `json:"position"`
	JoinedAt time.Time `json:"joined_at"`
}

// Draw is one logged output of the fairness engine. The log is
// append-only; together with the revealed server seed it lets anyone
// replay the whole game.
type Draw struct {
	Nonce   int64     `json:"nonce"`
	Purpose string    `json:"purpose"`
	Value   int       `json:"value"`
	Actor   uuid.UUID `json:"actor,omitempty"`
}

// Room is the durable record for a wager room. It is the unit of
// concurrency: every mutation is load-validate-mutate-persist guarded
// by the Version counter.
type Room struct {
	ID   uuid.UUID `json:"-"`
	Code string    `json:"code"`

	Variant  Variant    `json:"variant"`
	Status   RoomStatus `json:"status"`
	OwnerID  uuid.UUID  `json:"owner_id"`
	Stake    int64      `json:"stake"`
	Capacity int        `json:"capacity"`

	// HouseEdgeBps is the documented house cut in basis points,
	// fixed at creation so settled rooms stay auditable even if the
	// server default changes later.
	HouseEdgeBps int `json:"house_edge_bps"`

	Participants []Participant `json:"participants"`

	// Fairness material. ServerSeed is never serialized; terminal
	// payloads carry it in RevealedSeed instead.
	ServerSeed   string `json:"-"`
	RevealedSeed string `json:"revealed_seed,omitempty"`
	SeedHash     string `json:"seed_hash"`
	ClientSeed   string `json:"client_seed"`
	Nonce        int64  `json:"nonce"`

	Draws []Draw `json:"draws,omitempty"`

	// Meta is owned exclusively by the variant adapter.
	Meta json.RawMessage `json:"meta,omitempty"`

	// RevealAt, when set, blocks further turn actions until it has
	// passed; the sweep force-resolves rooms whose window elapsed
	// without a client acknowledgment.
	RevealAt *time.Time `json:"reveal_at,omitempty"`

	Winners []uuid.UUID `json:"winners,omitempty"`

	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Pot is the total escrowed value: fixed stake times seats taken.
func (r *Room) Pot() int64 {
	return r.Stake * int64(len(r.Participants))
}

// Participant returns the seat for userID, or nil.
func (r *Room) Participant(userID uuid.UUID) *Participant {
	for i := range r.Participants {
		if r.Participants[i].UserID == userID {
			return &r.Participants[i]
		}
	}
	return nil
}

// AllReady reports whether every seated participant flagged ready.
func (r *Room) AllReady() bool {
	for i := range r.Participants {
		if !r.Participants[i].Ready {
			return false
		}
	}
	return len(r.Participants) > 0
}

// RevealPending reports whether the room is inside a reveal window.
func (r *Room) RevealPending(now time.Time) bool {
	return r.RevealAt != nil && now.Before(*r.RevealAt)
}

// RoomEvent is the push payload broadcast to room subscribers. Payload
// is the same shape as the synchronous response for the triggering
// request; clients refetch profile data separately.
type RoomEvent struct {
	Type string `json:"type"`
	Room *Room  `json:"room"`
	Ts   int64  `json:"ts"`
}

const (
	EventRoomUpdated  = "room_updated"
	EventRoomStarted  = "room_started"
	EventRoomFinished = "room_finished"
	EventRoomDeleted  = "room_deleted"
)
