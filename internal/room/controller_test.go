// internal/room/controller_test.go
package room

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nbv9704/CASI4F-sub001/internal/fair"
	"github.com/nbv9704/CASI4F-sub001/internal/models"
)

// mockBroadcaster collects events instead of sending them over WS.
type mockBroadcaster struct {
	mu     sync.Mutex
	events []models.RoomEvent
}

func (mb *mockBroadcaster) broadcastFn(ev models.RoomEvent) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.events = append(mb.events, ev)
}

func (mb *mockBroadcaster) lastEvent() *models.RoomEvent {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if len(mb.events) == 0 {
		return nil
	}
	return &mb.events[len(mb.events)-1]
}

func (mb *mockBroadcaster) countType(typ string) int {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	n := 0
	for _, ev := range mb.events {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

// memCache is an in-process ActionCache for replay tests.
type memCache struct {
	mu      sync.Mutex
	entries map[string][]byte
}

func newMemCache() *memCache {
	return &memCache{entries: make(map[string][]byte)}
}

func (c *memCache) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.entries[key]
	if !ok {
		return nil, nil
	}
	return data, nil
}

func (c *memCache) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = val
	return nil
}

// testClock is a manually advanced clock shared with the controller.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// setupController seeds n users with 1000 credits each and wires a
// controller over a MemStore with a collecting broadcaster.
func setupController(t *testing.T, n int) (*Controller, *MemStore, []uuid.UUID, *mockBroadcaster, *testClock) {
	t.Helper()
	store := NewMemStore()
	users := make([]uuid.UUID, n)
	for i := range users {
		users[i] = uuid.New()
		store.AddUser(users[i], "player", 1000)
	}
	clock := newTestClock()
	mb := &mockBroadcaster{}
	ctrl := NewController(store, DefaultConfig(), nil)
	ctrl.Cache = newMemCache()
	ctrl.BroadcastFn = mb.broadcastFn
	ctrl.Now = clock.Now
	return ctrl, store, users, mb, clock
}

// startCoinflip drives a two-player coinflip room to active.
func startCoinflip(t *testing.T, ctrl *Controller, users []uuid.UUID) *models.Room {
	t.Helper()
	ctx := context.Background()
	r, err := ctrl.Create(ctx, users[0], models.VariantCoinflip, 100, 2, CreateOptions{Choice: "heads"})
	require.NoError(t, err)

	_, err = ctrl.Join(ctx, r.Code, users[1], "")
	require.NoError(t, err)
	for _, u := range users[:2] {
		_, err = ctrl.Ready(ctx, r.Code, u, true)
		require.NoError(t, err)
	}
	started, err := ctrl.Start(ctx, r.Code, users[0])
	require.NoError(t, err)
	require.Equal(t, models.RoomActive, started.Status)
	return started
}

func TestCoinflipFullGame(t *testing.T) {
	ctrl, store, users, mb, clock := setupController(t, 2)
	ctx := context.Background()

	r := startCoinflip(t, ctrl, users)
	require.NotNil(t, r.RevealAt, "deal should open a reveal window")
	require.Equal(t, int64(200), r.Pot())

	// Window still open: the ack has to wait.
	_, err := ctrl.Action(ctx, r.Code, users[0], "ack", "")
	require.ErrorIs(t, err, ErrRevealPending)

	clock.Advance(ctrl.Cfg.RevealDelay + time.Second)
	settled, err := ctrl.Action(ctx, r.Code, users[0], "ack", "")
	require.NoError(t, err)
	require.Equal(t, models.RoomFinished, settled.Status)
	require.Len(t, settled.Winners, 1)
	assert.Equal(t, settled.ServerSeed, settled.RevealedSeed)

	winner := settled.Winners[0]
	loser := users[0]
	if winner == loser {
		loser = users[1]
	}
	assert.Equal(t, int64(1100), store.Balance(winner))
	assert.Equal(t, int64(900), store.Balance(loser))

	last := mb.lastEvent()
	require.NotNil(t, last)
	assert.Equal(t, models.EventRoomFinished, last.Type)
}

func TestCoinflipDrawReplays(t *testing.T) {
	ctrl, _, users, _, clock := setupController(t, 2)
	ctx := context.Background()

	r := startCoinflip(t, ctrl, users)
	clock.Advance(ctrl.Cfg.RevealDelay + time.Second)
	_, err := ctrl.Action(ctx, r.Code, users[0], "ack", "")
	require.NoError(t, err)

	info, err := ctrl.Verify(ctx, r.Code)
	require.NoError(t, err)
	require.NotEmpty(t, info.RevealedSeed)
	require.True(t, fair.VerifyCommit(info.SeedHash, info.RevealedSeed))

	require.Len(t, info.Draws, 1)
	d := info.Draws[0]
	assert.Equal(t, d.Value, fair.Replay(info.RevealedSeed, info.ClientSeed, d.Nonce, 2))
}

func TestVerifyHidesSeedWhileOpen(t *testing.T) {
	ctrl, _, users, _, _ := setupController(t, 2)
	ctx := context.Background()

	r, err := ctrl.Create(ctx, users[0], models.VariantCoinflip, 100, 2, CreateOptions{Choice: "tails"})
	require.NoError(t, err)

	info, err := ctrl.Verify(ctx, r.Code)
	require.NoError(t, err)
	assert.Empty(t, info.RevealedSeed)
	assert.NotEmpty(t, info.SeedHash)
}

func TestJoinIdempotentToken(t *testing.T) {
	ctrl, store, users, _, _ := setupController(t, 2)
	ctx := context.Background()

	r, err := ctrl.Create(ctx, users[0], models.VariantCoinflip, 100, 2, CreateOptions{Choice: "heads"})
	require.NoError(t, err)

	first, err := ctrl.Join(ctx, r.Code, users[1], "tok-1")
	require.NoError(t, err)

	// Replay with the same token: same response, no second escrow.
	replay, err := ctrl.Join(ctx, r.Code, users[1], "tok-1")
	require.NoError(t, err)
	assert.Equal(t, first.Version, replay.Version)
	assert.Equal(t, int64(900), store.Balance(users[1]))

	// A fresh token is a genuine second join attempt.
	_, err = ctrl.Join(ctx, r.Code, users[1], "tok-2")
	require.ErrorIs(t, err, ErrAlreadyMember)
}

func TestConcurrentJoinsRespectCapacity(t *testing.T) {
	const contenders = 8
	ctrl, store, users, _, _ := setupController(t, contenders+1)
	ctx := context.Background()

	r, err := ctrl.Create(ctx, users[0], models.VariantCoinflip, 100, 2, CreateOptions{Choice: "heads"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, contenders)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = ctrl.Join(ctx, r.Code, users[i+1], "")
		}(i)
	}
	wg.Wait()

	seated, full := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			seated++
		case assert.ErrorIs(t, err, ErrRoomFull):
			full++
		}
	}
	assert.Equal(t, 1, seated, "one free seat next to the creator")
	assert.Equal(t, contenders-1, full)

	// Exactly two escrows exist: creator plus the one winner.
	total := int64(0)
	for _, u := range users {
		total += store.Balance(u)
	}
	assert.Equal(t, int64(len(users))*1000-200, total)
}

func TestDiceDuelTurnOrder(t *testing.T) {
	ctrl, store, users, _, clock := setupController(t, 2)
	ctx := context.Background()

	r, err := ctrl.Create(ctx, users[0], models.VariantDiceDuel, 50, 2, CreateOptions{})
	require.NoError(t, err)
	_, err = ctrl.Join(ctx, r.Code, users[1], "")
	require.NoError(t, err)
	for _, u := range users {
		_, err = ctrl.Ready(ctx, r.Code, u, true)
		require.NoError(t, err)
	}
	_, err = ctrl.Start(ctx, r.Code, users[0])
	require.NoError(t, err)

	// Second joiner cannot roll before the creator.
	_, err = ctrl.Action(ctx, r.Code, users[1], "roll", "")
	require.ErrorIs(t, err, ErrNotYourTurn)

	_, err = ctrl.Action(ctx, r.Code, users[0], "roll", "")
	require.NoError(t, err)

	// The first roll opened a reveal window; the next roll waits.
	_, err = ctrl.Action(ctx, r.Code, users[1], "roll", "")
	require.ErrorIs(t, err, ErrRevealPending)

	clock.Advance(ctrl.Cfg.RevealDelay + time.Second)
	settled, err := ctrl.Action(ctx, r.Code, users[1], "roll", "")
	require.NoError(t, err)
	require.Equal(t, models.RoomFinished, settled.Status)
	require.NotEmpty(t, settled.Winners)

	// Pot conservation: total balance is unchanged by settlement.
	total := store.Balance(users[0]) + store.Balance(users[1])
	assert.Equal(t, int64(2000), total)
}

func TestActionIdempotentToken(t *testing.T) {
	ctrl, _, users, _, clock := setupController(t, 2)
	ctx := context.Background()

	r, err := ctrl.Create(ctx, users[0], models.VariantDiceDuel, 50, 2, CreateOptions{})
	require.NoError(t, err)
	_, err = ctrl.Join(ctx, r.Code, users[1], "")
	require.NoError(t, err)
	for _, u := range users {
		_, err = ctrl.Ready(ctx, r.Code, u, true)
		require.NoError(t, err)
	}
	_, err = ctrl.Start(ctx, r.Code, users[0])
	require.NoError(t, err)

	first, err := ctrl.Action(ctx, r.Code, users[0], "roll", "tok-roll")
	require.NoError(t, err)

	// Replaying the token returns the original response instead of
	// a duplicate-roll failure.
	replay, err := ctrl.Action(ctx, r.Code, users[0], "roll", "tok-roll")
	require.NoError(t, err)
	assert.Equal(t, first.Nonce, replay.Nonce)
	assert.Equal(t, first.Version, replay.Version)

	// A fresh token past the reveal window is a real second roll
	// and fails.
	clock.Advance(ctrl.Cfg.RevealDelay + time.Second)
	_, err = ctrl.Action(ctx, r.Code, users[0], "roll", "tok-again")
	require.ErrorIs(t, err, ErrDuplicateAction)
}

func TestStartPreconditions(t *testing.T) {
	ctrl, _, users, _, _ := setupController(t, 3)
	ctx := context.Background()

	r, err := ctrl.Create(ctx, users[0], models.VariantDiceDuel, 50, 3, CreateOptions{})
	require.NoError(t, err)
	_, err = ctrl.Join(ctx, r.Code, users[1], "")
	require.NoError(t, err)

	// Not everyone ready.
	_, err = ctrl.Ready(ctx, r.Code, users[0], true)
	require.NoError(t, err)
	_, err = ctrl.Start(ctx, r.Code, users[0])
	require.ErrorIs(t, err, ErrPreconditions)

	// Non-owner cannot start.
	_, err = ctrl.Ready(ctx, r.Code, users[1], true)
	require.NoError(t, err)
	_, err = ctrl.Start(ctx, r.Code, users[1])
	require.ErrorIs(t, err, ErrNotOwner)
}

func TestDeleteRefundsEveryStake(t *testing.T) {
	ctrl, store, users, mb, _ := setupController(t, 2)
	ctx := context.Background()

	r, err := ctrl.Create(ctx, users[0], models.VariantCoinflip, 300, 2, CreateOptions{Choice: "heads"})
	require.NoError(t, err)
	_, err = ctrl.Join(ctx, r.Code, users[1], "")
	require.NoError(t, err)

	// Only the owner may delete.
	err = ctrl.Delete(ctx, r.Code, users[1])
	require.ErrorIs(t, err, ErrNotOwner)

	require.NoError(t, ctrl.Delete(ctx, r.Code, users[0]))
	assert.Equal(t, int64(1000), store.Balance(users[0]))
	assert.Equal(t, int64(1000), store.Balance(users[1]))

	_, err = ctrl.Get(ctx, r.Code)
	require.ErrorIs(t, err, ErrRoomNotFound)
	assert.Equal(t, 1, mb.countType(models.EventRoomDeleted))
}

func TestCreateValidation(t *testing.T) {
	ctrl, _, users, _, _ := setupController(t, 1)
	ctx := context.Background()

	_, err := ctrl.Create(ctx, users[0], "roulette", 100, 2, CreateOptions{})
	require.ErrorIs(t, err, ErrInvalidParams)

	_, err = ctrl.Create(ctx, users[0], models.VariantCoinflip, 0, 2, CreateOptions{Choice: "heads"})
	require.ErrorIs(t, err, ErrInvalidParams)

	_, err = ctrl.Create(ctx, users[0], models.VariantCoinflip, 100, 3, CreateOptions{Choice: "heads"})
	require.ErrorIs(t, err, ErrInvalidParams)

	_, err = ctrl.Create(ctx, users[0], models.VariantCoinflip, 100, 2, CreateOptions{Choice: "edge"})
	require.ErrorIs(t, err, ErrInvalidParams)

	// Creation escrows, so an empty balance cannot open a room.
	broke := uuid.New()
	_, err = ctrl.Create(ctx, broke, models.VariantCoinflip, 100, 2, CreateOptions{Choice: "heads"})
	require.ErrorIs(t, err, ErrInsufficientBalance)
}

func TestListFiltersByVariant(t *testing.T) {
	ctrl, _, users, _, _ := setupController(t, 1)
	ctx := context.Background()

	_, err := ctrl.Create(ctx, users[0], models.VariantCoinflip, 100, 2, CreateOptions{Choice: "heads"})
	require.NoError(t, err)
	_, err = ctrl.Create(ctx, users[0], models.VariantDiceDuel, 100, 2, CreateOptions{})
	require.NoError(t, err)

	all, err := ctrl.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	duels, err := ctrl.List(ctx, models.VariantDiceDuel)
	require.NoError(t, err)
	require.Len(t, duels, 1)
	assert.Equal(t, models.VariantDiceDuel, duels[0].Variant)

	_, err = ctrl.List(ctx, "roulette")
	require.ErrorIs(t, err, ErrInvalidParams)
}

func TestHouseEdgePayout(t *testing.T) {
	ctrl, store, users, _, clock := setupController(t, 2)
	ctrl.Cfg.HouseEdgeBps = 250 // 2.5%
	ctx := context.Background()

	r := startCoinflip(t, ctrl, users)
	clock.Advance(ctrl.Cfg.RevealDelay + time.Second)
	settled, err := ctrl.Action(ctx, r.Code, users[0], "ack", "")
	require.NoError(t, err)

	// Pot 200, edge 2.5% => 5 credits stay with the house.
	winner := settled.Winners[0]
	assert.Equal(t, int64(1095), store.Balance(winner))
}
