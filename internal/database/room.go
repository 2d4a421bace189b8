package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nbv9704/CASI4F-sub001/internal/models"
	"github.com/nbv9704/CASI4F-sub001/internal/room"
)

// errInsufficient is the internal marker debitBalance raises; the
// store translates it to the stable room error kind.
var errInsufficient = errors.New("insufficient balance")

// RoomStore is the Postgres room.Store. Every mutating method runs in
// one transaction spanning the room row, the participants and the
// balance ledger, guarded by the room's version (and status for
// terminal flips), so settlement is structurally atomic.
type RoomStore struct {
	pool *pgxpool.Pool
}

// NewRoomStore wraps the shared pool.
func NewRoomStore(pool *pgxpool.Pool) *RoomStore {
	return &RoomStore{pool: pool}
}

const roomColumns = `
	id, code, variant, status, owner_id, stake, capacity, house_edge_bps,
	server_seed, seed_hash, client_seed, nonce, draws, meta, reveal_at,
	winners, version, created_at, updated_at
`

func (s *RoomStore) CreateRoom(ctx context.Context, r *models.Room) error {
	r.Version = 1
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		if err := debitBalance(ctx, tx, r.OwnerID, r.Stake); err != nil {
			return err
		}
		draws, winners, err := encodeJSONCols(r)
		if err != nil {
			return err
		}
		q := `
		INSERT INTO rooms (` + roomColumns + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
		`
		if _, err := tx.Exec(ctx, q,
			r.ID, r.Code, r.Variant, r.Status, r.OwnerID, r.Stake, r.Capacity, r.HouseEdgeBps,
			r.ServerSeed, r.SeedHash, r.ClientSeed, r.Nonce, draws, []byte(r.Meta), r.RevealAt,
			winners, r.Version, r.CreatedAt, r.UpdatedAt,
		); err != nil {
			return fmt.Errorf("insert room: %w", err)
		}
		return insertParticipant(ctx, tx, r.ID, &r.Participants[0])
	})
	return translateErr(err)
}

func (s *RoomStore) GetRoomByCode(ctx context.Context, code string) (*models.Room, error) {
	q := `SELECT ` + roomColumns + ` FROM rooms WHERE code=$1`
	r, err := scanRoom(s.pool.QueryRow(ctx, q, code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, room.ErrRoomNotFound
		}
		return nil, err
	}
	if err := s.loadParticipants(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *RoomStore) ListOpenRooms(ctx context.Context, variant models.Variant) ([]*models.Room, error) {
	q := `SELECT ` + roomColumns + ` FROM rooms WHERE status='waiting'`
	args := []interface{}{}
	if variant != "" {
		q += ` AND variant=$1`
		args = append(args, variant)
	}
	q += ` ORDER BY created_at DESC`
	return s.queryRooms(ctx, q, args...)
}

func (s *RoomStore) JoinRoom(ctx context.Context, r *models.Room, p models.Participant) error {
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		// The version guard serializes joins: the capacity the
		// caller validated still holds if this row matches.
		tag, err := tx.Exec(ctx,
			`UPDATE rooms SET version=version+1, updated_at=$3 WHERE id=$1 AND version=$2 AND status='waiting'`,
			r.ID, r.Version, time.Now(),
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return room.ErrStateChanged
		}
		if err := debitBalance(ctx, tx, p.UserID, p.Stake); err != nil {
			return err
		}
		return insertParticipant(ctx, tx, r.ID, &p)
	})
	if err != nil {
		return translateErr(err)
	}
	r.Version++
	r.Participants = append(r.Participants, p)
	return nil
}

func (s *RoomStore) UpdateRoom(ctx context.Context, r *models.Room) error {
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		if err := casUpdateRoom(ctx, tx, r, `status IN ('waiting','active')`); err != nil {
			return err
		}
		return syncReadyFlags(ctx, tx, r)
	})
	if err != nil {
		return translateErr(err)
	}
	r.Version++
	return nil
}

func (s *RoomStore) SettleRoom(ctx context.Context, r *models.Room, credits map[uuid.UUID]int64) error {
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		// Status check-and-set: only one settlement can ever move
		// the row out of 'active', however many triggers race.
		if err := casUpdateRoom(ctx, tx, r, `status='active'`); err != nil {
			return err
		}
		for userID, amount := range credits {
			if err := creditBalance(ctx, tx, userID, amount); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return translateErr(err)
	}
	r.Version++
	return nil
}

func (s *RoomStore) CancelRoom(ctx context.Context, r *models.Room, refunds map[uuid.UUID]int64) error {
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		if err := casUpdateRoom(ctx, tx, r, `status IN ('waiting','active')`); err != nil {
			return err
		}
		for userID, amount := range refunds {
			if err := creditBalance(ctx, tx, userID, amount); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return translateErr(err)
	}
	r.Version++
	return nil
}

func (s *RoomStore) DeleteRoom(ctx context.Context, r *models.Room, refunds map[uuid.UUID]int64) error {
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`DELETE FROM rooms WHERE id=$1 AND version=$2 AND status='waiting'`,
			r.ID, r.Version,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return room.ErrStateChanged
		}
		if _, err := tx.Exec(ctx, `DELETE FROM room_participants WHERE room_id=$1`, r.ID); err != nil {
			return err
		}
		for userID, amount := range refunds {
			if err := creditBalance(ctx, tx, userID, amount); err != nil {
				return err
			}
		}
		return nil
	})
	return translateErr(err)
}

func (s *RoomStore) StaleWaiting(ctx context.Context, before time.Time) ([]*models.Room, error) {
	q := `SELECT ` + roomColumns + ` FROM rooms WHERE status='waiting' AND updated_at < $1`
	return s.queryRooms(ctx, q, before)
}

func (s *RoomStore) StalledActive(ctx context.Context, before time.Time) ([]*models.Room, error) {
	q := `SELECT ` + roomColumns + ` FROM rooms WHERE status='active' AND updated_at < $1`
	return s.queryRooms(ctx, q, before)
}

func (s *RoomStore) OverdueReveals(ctx context.Context, now time.Time) ([]*models.Room, error) {
	q := `SELECT ` + roomColumns + ` FROM rooms WHERE status='active' AND reveal_at IS NOT NULL AND reveal_at < $1`
	return s.queryRooms(ctx, q, now)
}

func (s *RoomStore) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return GetUserByID(ctx, id)
}

// casUpdateRoom writes every controller-mutable column, guarded by
// version and the given status predicate.
func casUpdateRoom(ctx context.Context, tx pgx.Tx, r *models.Room, statusCond string) error {
	draws, winners, err := encodeJSONCols(r)
	if err != nil {
		return err
	}
	q := `
	UPDATE rooms
	SET status=$3, nonce=$4, draws=$5, meta=$6, reveal_at=$7, winners=$8,
	    server_seed=$9, version=version+1, updated_at=$10
	WHERE id=$1 AND version=$2 AND ` + statusCond
	tag, err := tx.Exec(ctx, q,
		r.ID, r.Version, r.Status, r.Nonce, draws, []byte(r.Meta), r.RevealAt,
		winners, r.ServerSeed, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update room %s: %w", r.Code, err)
	}
	if tag.RowsAffected() == 0 {
		return room.ErrStateChanged
	}
	return nil
}

func syncReadyFlags(ctx context.Context, tx pgx.Tx, r *models.Room) error {
	for i := range r.Participants {
		p := &r.Participants[i]
		if _, err := tx.Exec(ctx,
			`UPDATE room_participants SET ready=$3 WHERE room_id=$1 AND user_id=$2`,
			r.ID, p.UserID, p.Ready,
		); err != nil {
			return err
		}
	}
	return nil
}

func insertParticipant(ctx context.Context, tx pgx.Tx, roomID uuid.UUID, p *models.Participant) error {
	// The primary key on (room_id, user_id) is the structural guard
	// against a replayed join double-escrowing: a conflict rolls the
	// whole transaction back, debit included.
	tag, err := tx.Exec(ctx, `
		INSERT INTO room_participants (room_id, user_id, stake, ready, position, joined_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (room_id, user_id) DO NOTHING`,
		roomID, p.UserID, p.Stake, p.Ready, p.Position, p.JoinedAt,
	)
	if err != nil {
		return fmt.Errorf("insert participant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return room.ErrAlreadyMember
	}
	return nil
}

func (s *RoomStore) queryRooms(ctx context.Context, q string, args ...interface{}) ([]*models.Room, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Room
	for rows.Next() {
		r, err := scanRoom(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	for _, r := range out {
		if err := s.loadParticipants(ctx, r); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *RoomStore) loadParticipants(ctx context.Context, r *models.Room) error {
	q := `
	SELECT p.user_id, u.username, p.stake, p.ready, p.position, p.joined_at
	FROM room_participants p
	JOIN users u ON u.id = p.user_id
	WHERE p.room_id = $1
	ORDER BY p.position
	`
	rows, err := s.pool.Query(ctx, q, r.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	r.Participants = nil
	for rows.Next() {
		var p models.Participant
		if err := rows.Scan(&p.UserID, &p.Username, &p.Stake, &p.Ready, &p.Position, &p.JoinedAt); err != nil {
			return err
		}
		r.Participants = append(r.Participants, p)
	}
	return rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRoom(row rowScanner) (*models.Room, error) {
	var (
		r       models.Room
		draws   []byte
		meta    []byte
		winners []byte
	)
	err := row.Scan(
		&r.ID, &r.Code, &r.Variant, &r.Status, &r.OwnerID, &r.Stake, &r.Capacity, &r.HouseEdgeBps,
		&r.ServerSeed, &r.SeedHash, &r.ClientSeed, &r.Nonce, &draws, &meta, &r.RevealAt,
		&winners, &r.Version, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.Meta = meta
	if len(draws) > 0 {
		if err := json.Unmarshal(draws, &r.Draws); err != nil {
			return nil, fmt.Errorf("decode draws for room %s: %w", r.Code, err)
		}
	}
	if len(winners) > 0 {
		if err := json.Unmarshal(winners, &r.Winners); err != nil {
			return nil, fmt.Errorf("decode winners for room %s: %w", r.Code, err)
		}
	}
	if r.Status.Terminal() {
		r.RevealedSeed = r.ServerSeed
	}
	return &r, nil
}

func encodeJSONCols(r *models.Room) (draws, winners []byte, err error) {
	if draws, err = json.Marshal(r.Draws); err != nil {
		return nil, nil, fmt.Errorf("encode draws: %w", err)
	}
	if winners, err = json.Marshal(r.Winners); err != nil {
		return nil, nil, fmt.Errorf("encode winners: %w", err)
	}
	return draws, winners, nil
}

// translateErr maps internal ledger markers to the stable room kinds.
func translateErr(err error) error {
	if errors.Is(err, errInsufficient) {
		return room.ErrInsufficientBalance
	}
	return err
}
