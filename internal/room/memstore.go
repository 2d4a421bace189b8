package room

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nbv9704/CASI4F-sub001/internal/models"
)

// MemStore is an in-memory Store with the same CAS semantics as the
// Postgres implementation. It backs the package tests and local
// development without a database.
type MemStore struct {
	mu    sync.Mutex
	rooms map[string]*models.Room
	users map[uuid.UUID]*models.User
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		rooms: make(map[string]*models.Room),
		users: make(map[uuid.UUID]*models.User),
	}
}

// AddUser seeds a user with a starting balance.
func (s *MemStore) AddUser(id uuid.UUID, username string, balance int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[id] = &models.User{ID: id, Username: username, Balance: balance}
}

func (s *MemStore) CreateRoom(ctx context.Context, r *models.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(r.Participants) != 1 {
		return ErrInvalidParams
	}
	if err := s.debit(r.OwnerID, r.Stake); err != nil {
		return err
	}
	r.Version = 1
	s.rooms[r.Code] = cloneRoom(r)
	return nil
}

func (s *MemStore) GetRoomByCode(ctx context.Context, code string) (*models.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[code]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return cloneRoom(r), nil
}

func (s *MemStore) ListOpenRooms(ctx context.Context, variant models.Variant) ([]*models.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Room
	for _, r := range s.rooms {
		if r.Status != models.RoomWaiting {
			continue
		}
		if variant != "" && r.Variant != variant {
			continue
		}
		out = append(out, cloneRoom(r))
	}
	return out, nil
}

func (s *MemStore) JoinRoom(ctx context.Context, r *models.Room, p models.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.rooms[r.Code]
	if !ok {
		return ErrRoomNotFound
	}
	if cur.Version != r.Version {
		return ErrStateChanged
	}
	if cur.Participant(p.UserID) != nil {
		return ErrAlreadyMember
	}
	if len(cur.Participants) >= cur.Capacity {
		return ErrRoomFull
	}
	if err := s.debit(p.UserID, p.Stake); err != nil {
		return err
	}
	cur.Participants = append(cur.Participants, p)
	cur.UpdatedAt = time.Now()
	cur.Version++
	*r = *cloneRoom(cur)
	return nil
}

func (s *MemStore) UpdateRoom(ctx context.Context, r *models.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.rooms[r.Code]
	if !ok {
		return ErrRoomNotFound
	}
	if cur.Version != r.Version || cur.Status.Terminal() {
		return ErrStateChanged
	}
	next := cloneRoom(r)
	next.Version = cur.Version + 1
	s.rooms[r.Code] = next
	r.Version = next.Version
	return nil
}

func (s *MemStore) SettleRoom(ctx context.Context, r *models.Room, credits map[uuid.UUID]int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.rooms[r.Code]
	if !ok {
		return ErrRoomNotFound
	}
	if cur.Status != models.RoomActive {
		return ErrStateChanged
	}
	for id, amount := range credits {
		s.credit(id, amount)
	}
	next := cloneRoom(r)
	next.Status = models.RoomFinished
	next.Version = cur.Version + 1
	s.rooms[r.Code] = next
	r.Version = next.Version
	return nil
}

func (s *MemStore) CancelRoom(ctx context.Context, r *models.Room, refunds map[uuid.UUID]int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.rooms[r.Code]
	if !ok {
		return ErrRoomNotFound
	}
	if cur.Status.Terminal() {
		return ErrStateChanged
	}
	for id, amount := range refunds {
		s.credit(id, amount)
	}
	next := cloneRoom(r)
	next.Status = models.RoomCancelled
	next.Version = cur.Version + 1
	s.rooms[r.Code] = next
	r.Version = next.Version
	return nil
}

func (s *MemStore) DeleteRoom(ctx context.Context, r *models.Room, refunds map[uuid.UUID]int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.rooms[r.Code]
	if !ok {
		return ErrRoomNotFound
	}
	if cur.Status != models.RoomWaiting || cur.Version != r.Version {
		return ErrStateChanged
	}
	for id, amount := range refunds {
		s.credit(id, amount)
	}
	delete(s.rooms, r.Code)
	return nil
}

func (s *MemStore) StaleWaiting(ctx context.Context, before time.Time) ([]*models.Room, error) {
	return s.filter(func(r *models.Room) bool {
		return r.Status == models.RoomWaiting && r.UpdatedAt.Before(before)
	}), nil
}

func (s *MemStore) StalledActive(ctx context.Context, before time.Time) ([]*models.Room, error) {
	return s.filter(func(r *models.Room) bool {
		return r.Status == models.RoomActive && r.UpdatedAt.Before(before)
	}), nil
}

func (s *MemStore) OverdueReveals(ctx context.Context, now time.Time) ([]*models.Room, error) {
	return s.filter(func(r *models.Room) bool {
		return r.Status == models.RoomActive && r.RevealAt != nil && r.RevealAt.Before(now)
	}), nil
}

func (s *MemStore) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("unknown user %s", id)
	}
	copied := *u
	return &copied, nil
}

// Balance is a test convenience so assertions do not need GetUser.
func (s *MemStore) Balance(id uuid.UUID) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		return u.Balance
	}
	return 0
}

func (s *MemStore) filter(keep func(*models.Room) bool) []*models.Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Room
	for _, r := range s.rooms {
		if keep(r) {
			out = append(out, cloneRoom(r))
		}
	}
	return out
}

// debit enforces the ledger invariant: never below zero, checked and
// applied under the store lock like the SQL ledger's guarded UPDATE.
func (s *MemStore) debit(id uuid.UUID, amount int64) error {
	u, ok := s.users[id]
	if !ok || u.Balance < amount {
		return ErrInsufficientBalance
	}
	u.Balance -= amount
	return nil
}

func (s *MemStore) credit(id uuid.UUID, amount int64) {
	if u, ok := s.users[id]; ok {
		u.Balance += amount
	}
}

// cloneRoom deep-copies so callers mutate a private working copy, the
// way a row scan would.
func cloneRoom(r *models.Room) *models.Room {
	c := *r
	c.Participants = append([]models.Participant(nil), r.Participants...)
	c.Draws = append([]models.Draw(nil), r.Draws...)
	c.Winners = append([]uuid.UUID(nil), r.Winners...)
	if r.Meta != nil {
		c.Meta = append([]byte(nil), r.Meta...)
	}
	if r.RevealAt != nil {
		at := *r.RevealAt
		c.RevealAt = &at
	}
	return &c
}
