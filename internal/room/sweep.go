package room

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/nbv9704/CASI4F-sub001/internal/models"
)

// Sweeper is the periodic background pass that recovers rooms stuck
// past their allowed windows. It follows the same settlement and
// cancel paths as client traffic, so racing a concurrent request or a
// second sweeper instance is safe: whoever loses the CAS just moves on.
type Sweeper struct {
	Ctrl     *Controller
	Interval time.Duration
	Log      *logrus.Logger
}

// NewSweeper wires a sweeper around an existing controller.
func NewSweeper(ctrl *Controller, interval time.Duration, log *logrus.Logger) *Sweeper {
	if log == nil {
		log = logrus.New()
	}
	return &Sweeper{Ctrl: ctrl, Interval: interval, Log: log}
}

// Run sweeps on a fixed interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	s.Log.WithField("interval", s.Interval).Info("sweep scheduler running")
	for {
		select {
		case <-ctx.Done():
			s.Log.Info("sweep scheduler stopped")
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs one full pass. Outcomes are logged, never surfaced
// as player-facing errors.
func (s *Sweeper) SweepOnce(ctx context.Context) {
	now := s.Ctrl.now()
	s.forceResolveOverdue(ctx, now)
	s.recoverStalledActive(ctx, now)
	s.cancelStaleWaiting(ctx, now)
}

// forceResolveOverdue settles rooms whose pending-reveal window
// elapsed without a client acknowledgment, using the already-computed
// draws. Rooms whose draws cannot resolve yet (mid turn sequence) are
// left for the stall bound.
func (s *Sweeper) forceResolveOverdue(ctx context.Context, now time.Time) {
	rooms, err := s.Ctrl.Store.OverdueReveals(ctx, now)
	if err != nil {
		s.Log.WithError(err).Error("sweep: listing overdue reveals")
		return
	}
	for _, r := range rooms {
		winners, ok := lookupResolve(r)
		if !ok {
			continue
		}
		if err := s.Ctrl.settle(ctx, r, winners); err != nil {
			s.logRace("force-resolve", r, err)
			continue
		}
		s.Log.WithFields(logrus.Fields{"room": r.Code, "variant": r.Variant}).Info("sweep: force-resolved unacknowledged room")
	}
}

// recoverStalledActive handles active rooms nobody has touched inside
// the active bound: resolvable ones settle from their draws, the rest
// cancel with every stake refunded exactly once.
func (s *Sweeper) recoverStalledActive(ctx context.Context, now time.Time) {
	rooms, err := s.Ctrl.Store.StalledActive(ctx, now.Add(-s.Ctrl.Cfg.ActiveTTL))
	if err != nil {
		s.Log.WithError(err).Error("sweep: listing stalled active rooms")
		return
	}
	for _, r := range rooms {
		if winners, ok := lookupResolve(r); ok {
			if err := s.Ctrl.settle(ctx, r, winners); err != nil {
				s.logRace("stall-resolve", r, err)
			}
			continue
		}
		if err := s.cancel(ctx, r); err != nil {
			s.logRace("stall-cancel", r, err)
			continue
		}
		s.Log.WithFields(logrus.Fields{"room": r.Code, "variant": r.Variant}).Info("sweep: refunded stalled room")
	}
}

// cancelStaleWaiting refunds waiting rooms that outlived the waiting
// bound without ever starting.
func (s *Sweeper) cancelStaleWaiting(ctx context.Context, now time.Time) {
	rooms, err := s.Ctrl.Store.StaleWaiting(ctx, now.Add(-s.Ctrl.Cfg.WaitingTTL))
	if err != nil {
		s.Log.WithError(err).Error("sweep: listing stale waiting rooms")
		return
	}
	for _, r := range rooms {
		if err := s.cancel(ctx, r); err != nil {
			s.logRace("stale-cancel", r, err)
			continue
		}
		s.Log.WithFields(logrus.Fields{"room": r.Code}).Info("sweep: cancelled stale waiting room")
	}
}

func (s *Sweeper) cancel(ctx context.Context, r *models.Room) error {
	r.Status = models.RoomCancelled
	r.RevealedSeed = r.ServerSeed
	r.RevealAt = nil
	r.UpdatedAt = s.Ctrl.now()
	if err := s.Ctrl.Store.CancelRoom(ctx, r, stakeRefunds(r)); err != nil {
		return err
	}
	s.Ctrl.broadcast(models.EventRoomDeleted, r)
	return nil
}

// logRace keeps lost CAS races quiet: a concurrent settlement already
// did the work.
func (s *Sweeper) logRace(op string, r *models.Room, err error) {
	if errors.Is(err, ErrStateChanged) {
		s.Log.WithFields(logrus.Fields{"room": r.Code, "op": op}).Debug("sweep: lost settlement race, skipping")
		return
	}
	s.Log.WithError(err).WithFields(logrus.Fields{"room": r.Code, "op": op}).Error("sweep: resolution failed")
}

func lookupResolve(r *models.Room) ([]uuid.UUID, bool) {
	spec, err := lookupVariant(r.Variant)
	if err != nil {
		return nil, false
	}
	return spec.adapter.Resolve(r)
}
