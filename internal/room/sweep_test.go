// internal/room/sweep_test.go
package room

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nbv9704/CASI4F-sub001/internal/models"
)

func newTestSweeper(ctrl *Controller) *Sweeper {
	return NewSweeper(ctrl, time.Minute, ctrl.Log)
}

func TestSweepCancelsStaleWaiting(t *testing.T) {
	ctrl, store, users, mb, clock := setupController(t, 2)
	ctx := context.Background()
	sw := newTestSweeper(ctrl)

	r, err := ctrl.Create(ctx, users[0], models.VariantCoinflip, 100, 2, CreateOptions{Choice: "heads"})
	require.NoError(t, err)
	_, err = ctrl.Join(ctx, r.Code, users[1], "")
	require.NoError(t, err)

	// Young room survives the pass untouched.
	sw.SweepOnce(ctx)
	got, err := ctrl.Get(ctx, r.Code)
	require.NoError(t, err)
	assert.Equal(t, models.RoomWaiting, got.Status)

	clock.Advance(ctrl.Cfg.WaitingTTL + time.Minute)
	sw.SweepOnce(ctx)

	got, err = ctrl.Get(ctx, r.Code)
	require.NoError(t, err)
	assert.Equal(t, models.RoomCancelled, got.Status)
	assert.NotEmpty(t, got.RevealedSeed, "cancellation still reveals the seed")
	assert.Equal(t, int64(1000), store.Balance(users[0]))
	assert.Equal(t, int64(1000), store.Balance(users[1]))

	// A second pass must not refund again.
	sw.SweepOnce(ctx)
	assert.Equal(t, int64(1000), store.Balance(users[0]))
	assert.Equal(t, int64(1000), store.Balance(users[1]))
	assert.Equal(t, 1, mb.countType(models.EventRoomDeleted))
}

func TestSweepForceResolvesUnacknowledged(t *testing.T) {
	ctrl, store, users, mb, clock := setupController(t, 2)
	ctx := context.Background()
	sw := newTestSweeper(ctrl)

	r := startCoinflip(t, ctrl, users)
	require.NotNil(t, r.RevealAt)

	// Nobody acks; the window lapses and the sweep settles from the
	// draw already on record.
	clock.Advance(ctrl.Cfg.RevealDelay + time.Second)
	sw.SweepOnce(ctx)

	got, err := ctrl.Get(ctx, r.Code)
	require.NoError(t, err)
	require.Equal(t, models.RoomFinished, got.Status)
	require.Len(t, got.Winners, 1)

	winner := got.Winners[0]
	assert.Equal(t, int64(1100), store.Balance(winner))
	assert.Equal(t, 1, mb.countType(models.EventRoomFinished))

	// Settlement is final: another pass changes nothing.
	sw.SweepOnce(ctx)
	assert.Equal(t, int64(1100), store.Balance(winner))
	assert.Equal(t, 1, mb.countType(models.EventRoomFinished))
}

func TestSweepRefundsUnresolvableStall(t *testing.T) {
	ctrl, store, users, _, clock := setupController(t, 3)
	ctx := context.Background()
	sw := newTestSweeper(ctrl)

	r, err := ctrl.Create(ctx, users[0], models.VariantDiceDuel, 100, 3, CreateOptions{})
	require.NoError(t, err)
	for _, u := range users[1:] {
		_, err = ctrl.Join(ctx, r.Code, u, "")
		require.NoError(t, err)
	}
	for _, u := range users {
		_, err = ctrl.Ready(ctx, r.Code, u, true)
		require.NoError(t, err)
	}
	_, err = ctrl.Start(ctx, r.Code, users[0])
	require.NoError(t, err)

	// One roll in, then the table walks away. Half-played rooms
	// cannot resolve, so the stall bound refunds everyone.
	_, err = ctrl.Action(ctx, r.Code, users[0], "roll", "")
	require.NoError(t, err)

	clock.Advance(ctrl.Cfg.ActiveTTL + time.Minute)
	sw.SweepOnce(ctx)

	got, err := ctrl.Get(ctx, r.Code)
	require.NoError(t, err)
	assert.Equal(t, models.RoomCancelled, got.Status)
	for _, u := range users {
		assert.Equal(t, int64(1000), store.Balance(u))
	}

	// A second pass must not refund again.
	sw.SweepOnce(ctx)
	for _, u := range users {
		assert.Equal(t, int64(1000), store.Balance(u))
	}
}

func TestSweepDice21MidRoundRefund(t *testing.T) {
	ctrl, store, users, _, clock := setupController(t, 2)
	ctx := context.Background()
	sw := newTestSweeper(ctrl)

	r, err := ctrl.Create(ctx, users[0], models.VariantDice21, 100, 2, CreateOptions{})
	require.NoError(t, err)
	_, err = ctrl.Join(ctx, r.Code, users[1], "")
	require.NoError(t, err)
	for _, u := range users {
		_, err = ctrl.Ready(ctx, r.Code, u, true)
		require.NoError(t, err)
	}
	_, err = ctrl.Start(ctx, r.Code, users[0])
	require.NoError(t, err)

	// First player stands, second never acts. The round cannot
	// resolve from its draws, so the stall bound refunds everyone.
	_, err = ctrl.Action(ctx, r.Code, users[0], "stand", "")
	require.NoError(t, err)

	clock.Advance(ctrl.Cfg.ActiveTTL + time.Minute)
	sw.SweepOnce(ctx)

	// One player still to act: unresolvable, refund path.
	got, err := ctrl.Get(ctx, r.Code)
	require.NoError(t, err)
	assert.Equal(t, models.RoomCancelled, got.Status)
	assert.Equal(t, int64(1000), store.Balance(users[0]))
	assert.Equal(t, int64(1000), store.Balance(users[1]))
}
