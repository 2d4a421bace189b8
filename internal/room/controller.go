package room

import (
	"context"
	"crypto/rand"
	"encoding/base32"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/nbv9704/CASI4F-sub001/internal/fair"
	"github.com/nbv9704/CASI4F-sub001/internal/models"
)

// Config carries the tunables the controller and sweep share.
type Config struct {
	// RevealDelay is how long a room stays in the pending-reveal
	// sub-state after a draw before the next action is accepted.
	RevealDelay time.Duration
	// WaitingTTL is how long a waiting room may sit untouched
	// before the sweep cancels and refunds it.
	WaitingTTL time.Duration
	// ActiveTTL is how long an active room may stall before the
	// sweep force-resolves or refunds it.
	ActiveTTL time.Duration
	// IdempotencyTTL bounds the replay window for action tokens.
	IdempotencyTTL time.Duration
	// HouseEdgeBps is the documented house cut applied at
	// settlement, in basis points of the pot.
	HouseEdgeBps int
}

// DefaultConfig mirrors the production environment defaults.
func DefaultConfig() Config {
	return Config{
		RevealDelay:    3 * time.Second,
		WaitingTTL:     15 * time.Minute,
		ActiveTTL:      5 * time.Minute,
		IdempotencyTTL: 10 * time.Minute,
		HouseEdgeBps:   0,
	}
}

// Controller orchestrates the room lifecycle. It owns no game logic
// (adapters do) and no durability (the Store does); it enforces the
// state machine, idempotency, and the settlement boundary.
type Controller struct {
	Store Store
	// Cache is optional; without it token replays fall through to
	// the store's own guards and surface precondition errors.
	Cache ActionCache
	Cfg   Config
	Log   *logrus.Logger

	// BroadcastFn pushes an event to room subscribers,
	// fire-and-forget. Assigned by the transport layer; tests swap
	// in a collector.
	BroadcastFn func(ev models.RoomEvent)
	// PublishFn hands terminal results to best-effort consumers
	// (achievement/XP evaluation). It must never block settlement.
	PublishFn func(ctx context.Context, ev models.RoomEvent)

	// Now is a clock hook for tests; nil means time.Now.
	Now func() time.Time
}

// NewController wires a controller with defaults.
func NewController(store Store, cfg Config, log *logrus.Logger) *Controller {
	if log == nil {
		log = logrus.New()
	}
	return &Controller{Store: store, Cfg: cfg, Log: log}
}

func (c *Controller) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c *Controller) broadcast(typ string, r *models.Room) {
	if c.BroadcastFn == nil {
		return
	}
	c.BroadcastFn(models.RoomEvent{Type: typ, Room: r, Ts: c.now().Unix()})
}

func (c *Controller) publish(ctx context.Context, typ string, r *models.Room) {
	if c.PublishFn == nil {
		return
	}
	c.PublishFn(ctx, models.RoomEvent{Type: typ, Room: r, Ts: c.now().Unix()})
}

// newRoomCode returns the externally shareable room id: 8 chars of
// base32 over fresh entropy, distinct from the internal uuid.
func newRoomCode() (string, error) {
	buf := make([]byte, 5)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("room code entropy: %w", err)
	}
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf), nil
}

// Create opens a waiting room, seats the creator and escrows their
// stake. The server seed is generated here and only its commitment
// leaves the record until settlement.
func (c *Controller) Create(ctx context.Context, ownerID uuid.UUID, variant models.Variant, stake int64, capacity int, opts CreateOptions) (*models.Room, error) {
	spec, err := lookupVariant(variant)
	if err != nil {
		return nil, err
	}
	if stake <= 0 {
		return nil, &Error{Kind: ErrInvalidParams.Kind, Msg: "stake must be positive"}
	}
	if capacity == 0 {
		capacity = spec.minPlayers
	}
	if capacity < spec.minPlayers || capacity > spec.maxPlayers {
		return nil, &Error{Kind: ErrInvalidParams.Kind, Msg: fmt.Sprintf("capacity must be %d..%d", spec.minPlayers, spec.maxPlayers)}
	}

	code, err := newRoomCode()
	if err != nil {
		return nil, err
	}
	seed, err := fair.NewServerSeed()
	if err != nil {
		return nil, err
	}

	now := c.now()
	r := &models.Room{
		ID:           uuid.New(),
		Code:         code,
		Variant:      variant,
		Status:       models.RoomWaiting,
		OwnerID:      ownerID,
		Stake:        stake,
		Capacity:     capacity,
		HouseEdgeBps: c.Cfg.HouseEdgeBps,
		ServerSeed:   seed,
		SeedHash:     fair.Commit(seed),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	r.ClientSeed = fair.ClientSeed(r.ID, ownerID)
	r.Participants = []models.Participant{{
		UserID:   ownerID,
		Stake:    stake,
		Position: 0,
		JoinedAt: now,
	}}

	if err := spec.adapter.Init(r, opts); err != nil {
		return nil, err
	}
	if err := c.Store.CreateRoom(ctx, r); err != nil {
		return nil, err
	}

	c.Log.WithFields(logrus.Fields{"room": r.Code, "variant": variant, "stake": stake}).Info("room created")
	return r, nil
}

// joinRetries bounds the refetch loop when concurrent joiners race
// the version CAS. Each lost race means someone else got a seat, so a
// few refetches always reach a definitive answer (seated or full).
const joinRetries = 6

// Join seats a user and escrows their stake, idempotent per token.
func (c *Controller) Join(ctx context.Context, code string, userID uuid.UUID, token string) (*models.Room, error) {
	key := idemKey(code, "join", userID, token)
	if r, ok := c.cachedRoom(ctx, key); ok {
		return r, nil
	}

	var lastErr error
	for attempt := 0; attempt < joinRetries; attempt++ {
		r, err := c.Store.GetRoomByCode(ctx, code)
		if err != nil {
			return nil, err
		}
		if r.Status != models.RoomWaiting {
			return nil, ErrRoomNotJoinable
		}
		if r.Participant(userID) != nil {
			// A replay whose cache entry raced the write still
			// must not surface an error if we can serve the
			// original response.
			if cached, ok := c.cachedRoom(ctx, key); ok {
				return cached, nil
			}
			return nil, ErrAlreadyMember
		}
		if len(r.Participants) >= r.Capacity {
			return nil, ErrRoomFull
		}

		p := models.Participant{
			UserID:   userID,
			Stake:    r.Stake,
			Position: len(r.Participants),
			JoinedAt: c.now(),
		}
		err = c.Store.JoinRoom(ctx, r, p)
		if errors.Is(err, ErrStateChanged) {
			lastErr = err
			continue
		}
		if err != nil {
			if errors.Is(err, ErrAlreadyMember) {
				if cached, ok := c.cachedRoom(ctx, key); ok {
					return cached, nil
				}
			}
			return nil, err
		}

		c.cacheRoom(ctx, key, r)
		c.broadcast(models.EventRoomUpdated, r)
		c.Log.WithFields(logrus.Fields{"room": r.Code, "user": userID}).Info("user joined room")
		return r, nil
	}
	return nil, lastErr
}

// Ready toggles a participant's readiness flag.
func (c *Controller) Ready(ctx context.Context, code string, userID uuid.UUID, flag bool) (*models.Room, error) {
	r, err := c.Store.GetRoomByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if r.Status != models.RoomWaiting {
		return nil, ErrRoomNotWaiting
	}
	p := r.Participant(userID)
	if p == nil {
		return nil, ErrNotMember
	}
	if p.Ready == flag {
		return r, nil
	}
	p.Ready = flag
	r.UpdatedAt = c.now()
	if err := c.Store.UpdateRoom(ctx, r); err != nil {
		return nil, err
	}
	c.broadcast(models.EventRoomUpdated, r)
	return r, nil
}

// Start flips a waiting room active and lets the adapter deal. Owner
// only, and only once everyone seated is ready and the variant
// minimum is met.
func (c *Controller) Start(ctx context.Context, code string, requesterID uuid.UUID) (*models.Room, error) {
	r, err := c.Store.GetRoomByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if r.Status != models.RoomWaiting {
		return nil, ErrRoomNotWaiting
	}
	if r.OwnerID != requesterID {
		return nil, ErrNotOwner
	}
	spec, err := lookupVariant(r.Variant)
	if err != nil {
		return nil, err
	}
	if len(r.Participants) < spec.minPlayers || !r.AllReady() {
		return nil, ErrPreconditions
	}

	r.Status = models.RoomActive
	out, err := spec.adapter.Deal(r, NewDealer(r))
	if err != nil {
		return nil, err
	}
	c.applyReveal(r, out)

	if out.Terminal {
		if err := c.settle(ctx, r, out.Winners); err != nil {
			return nil, err
		}
		return r, nil
	}

	r.UpdatedAt = c.now()
	if err := c.Store.UpdateRoom(ctx, r); err != nil {
		return nil, err
	}
	c.broadcast(models.EventRoomStarted, r)
	c.Log.WithFields(logrus.Fields{"room": r.Code, "players": len(r.Participants)}).Info("room started")
	return r, nil
}

// Action applies one turn action, idempotent per token. Failures
// leave the room unchanged: nothing is persisted unless the adapter
// accepted the action.
func (c *Controller) Action(ctx context.Context, code string, userID uuid.UUID, action string, token string) (*models.Room, error) {
	key := idemKey(code, "action:"+action, userID, token)
	if r, ok := c.cachedRoom(ctx, key); ok {
		return r, nil
	}

	r, err := c.Store.GetRoomByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if r.Status != models.RoomActive {
		return nil, ErrRoomNotActive
	}
	if r.Participant(userID) == nil {
		return nil, ErrNotMember
	}
	now := c.now()
	if r.RevealPending(now) {
		return nil, ErrRevealPending
	}
	r.RevealAt = nil

	spec, err := lookupVariant(r.Variant)
	if err != nil {
		return nil, err
	}
	out, err := spec.adapter.Apply(r, userID, action, NewDealer(r))
	if err != nil {
		if errors.Is(err, ErrDuplicateAction) {
			if cached, ok := c.cachedRoom(ctx, key); ok {
				return cached, nil
			}
		}
		return nil, err
	}
	c.applyReveal(r, out)

	if out.Terminal {
		if err := c.settle(ctx, r, out.Winners); err != nil {
			return nil, err
		}
		c.cacheRoom(ctx, key, r)
		return r, nil
	}

	r.UpdatedAt = now
	if err := c.Store.UpdateRoom(ctx, r); err != nil {
		return nil, err
	}
	c.cacheRoom(ctx, key, r)
	c.broadcast(models.EventRoomUpdated, r)
	return r, nil
}

// Delete removes a waiting room and refunds every escrow. Owner only;
// once active the only exits are completion or sweep timeout.
func (c *Controller) Delete(ctx context.Context, code string, requesterID uuid.UUID) error {
	r, err := c.Store.GetRoomByCode(ctx, code)
	if err != nil {
		return err
	}
	if r.Status != models.RoomWaiting {
		return ErrRoomNotWaiting
	}
	if r.OwnerID != requesterID {
		return ErrNotOwner
	}
	if err := c.Store.DeleteRoom(ctx, r, stakeRefunds(r)); err != nil {
		return err
	}
	c.broadcast(models.EventRoomDeleted, r)
	c.Log.WithFields(logrus.Fields{"room": r.Code}).Info("room deleted by owner")
	return nil
}

// Get fetches a single room by code.
func (c *Controller) Get(ctx context.Context, code string) (*models.Room, error) {
	return c.Store.GetRoomByCode(ctx, code)
}

// List returns open rooms, optionally filtered by variant.
func (c *Controller) List(ctx context.Context, variant models.Variant) ([]*models.Room, error) {
	if variant != "" {
		if _, err := lookupVariant(variant); err != nil {
			return nil, err
		}
	}
	return c.Store.ListOpenRooms(ctx, variant)
}

// VerifyInfo is everything an outside party needs to replay a room's
// draws and check them against the original commitment.
type VerifyInfo struct {
	Code         string            `json:"code"`
	Variant      models.Variant    `json:"variant"`
	Status       models.RoomStatus `json:"status"`
	SeedHash     string            `json:"seed_hash"`
	RevealedSeed string            `json:"revealed_seed,omitempty"`
	ClientSeed   string            `json:"client_seed"`
	NonceCount   int64             `json:"nonce_count"`
	Draws        []models.Draw     `json:"draws"`
}

// Verify returns the fairness material for a room. The server seed
// appears only once the room is terminal.
func (c *Controller) Verify(ctx context.Context, code string) (*VerifyInfo, error) {
	r, err := c.Store.GetRoomByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	info := &VerifyInfo{
		Code:       r.Code,
		Variant:    r.Variant,
		SeedHash:   r.SeedHash,
		ClientSeed: r.ClientSeed,
		NonceCount: r.Nonce,
		Draws:      r.Draws,
		Status:     r.Status,
	}
	if r.Status.Terminal() {
		info.RevealedSeed = r.ServerSeed
	}
	return info, nil
}

// applyReveal opens or clears the pending-reveal window per the
// adapter's outcome. Terminal rooms never hold a window open.
func (c *Controller) applyReveal(r *models.Room, out Outcome) {
	if out.Reveal && !out.Terminal {
		at := c.now().Add(c.Cfg.RevealDelay)
		r.RevealAt = &at
	} else if out.Reveal && out.Terminal {
		r.RevealAt = nil
	}
}

// settle reveals the seed, credits the pot and flips the room
// finished in one store transaction. The status CAS inside SettleRoom
// makes concurrent triggers collapse to exactly one payout.
func (c *Controller) settle(ctx context.Context, r *models.Room, winners []uuid.UUID) error {
	if len(winners) == 0 {
		return fmt.Errorf("room %s reached terminal state with no winners", r.Code)
	}
	r.Status = models.RoomFinished
	r.Winners = winners
	r.RevealedSeed = r.ServerSeed
	r.RevealAt = nil
	r.UpdatedAt = c.now()

	if err := c.Store.SettleRoom(ctx, r, c.payouts(r, winners)); err != nil {
		return err
	}

	c.broadcast(models.EventRoomFinished, r)
	c.publish(ctx, models.EventRoomFinished, r)
	c.Log.WithFields(logrus.Fields{
		"room":    r.Code,
		"variant": r.Variant,
		"pot":     r.Pot(),
		"winners": len(winners),
	}).Info("room settled")
	return nil
}

// payouts splits the pot minus the house edge across the winners.
// Integer division remainder goes to the winner with the lowest join
// position, so no credit is ever created or destroyed.
func (c *Controller) payouts(r *models.Room, winners []uuid.UUID) map[uuid.UUID]int64 {
	pot := r.Pot()
	prize := pot - pot*int64(r.HouseEdgeBps)/10000
	share := prize / int64(len(winners))
	rem := prize % int64(len(winners))

	first := winners[0]
	firstPos := -1
	for _, w := range winners {
		if p := r.Participant(w); p != nil && (firstPos < 0 || p.Position < firstPos) {
			firstPos = p.Position
			first = w
		}
	}

	credits := make(map[uuid.UUID]int64, len(winners))
	for _, w := range winners {
		credits[w] = share
	}
	credits[first] += rem
	return credits
}

func stakeRefunds(r *models.Room) map[uuid.UUID]int64 {
	refunds := make(map[uuid.UUID]int64, len(r.Participants))
	for i := range r.Participants {
		refunds[r.Participants[i].UserID] = r.Participants[i].Stake
	}
	return refunds
}

func idemKey(code, op string, userID uuid.UUID, token string) string {
	if token == "" {
		return ""
	}
	return fmt.Sprintf("idem:%s:%s:%s:%s", code, op, userID, token)
}

func (c *Controller) cachedRoom(ctx context.Context, key string) (*models.Room, bool) {
	if c.Cache == nil || key == "" {
		return nil, false
	}
	data, err := c.Cache.Get(ctx, key)
	if err != nil {
		c.Log.WithError(err).Warn("idempotency cache read failed")
		return nil, false
	}
	if data == nil {
		return nil, false
	}
	var r models.Room
	if err := json.Unmarshal(data, &r); err != nil {
		c.Log.WithError(err).Warn("idempotency cache entry corrupt")
		return nil, false
	}
	return &r, true
}

func (c *Controller) cacheRoom(ctx context.Context, key string, r *models.Room) {
	if c.Cache == nil || key == "" {
		return
	}
	data, err := json.Marshal(r)
	if err != nil {
		return
	}
	if err := c.Cache.Set(ctx, key, data, c.Cfg.IdempotencyTTL); err != nil {
		c.Log.WithError(err).Warn("idempotency cache write failed")
	}
}
