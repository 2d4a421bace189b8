package room

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/nbv9704/CASI4F-sub001/internal/models"
)

const (
	sideHeads = "heads"
	sideTails = "tails"
)

// coinflipMeta is the coinflip adapter's slice of the room record.
// Choice is the creator's side; the joiner implicitly takes the other.
type coinflipMeta struct {
	Choice string `json:"choice"`
	Result string `json:"result,omitempty"`
}

// coinflipAdapter plays a single committed coin toss between exactly
// two players. The toss happens at deal; the room then sits in a
// reveal window until a participant acknowledges (or the sweep does).
type coinflipAdapter struct{}

func (coinflipAdapter) Init(r *models.Room, opts CreateOptions) error {
	if opts.Choice != sideHeads && opts.Choice != sideTails {
		return &Error{Kind: ErrInvalidParams.Kind, Msg: fmt.Sprintf("choice must be %q or %q", sideHeads, sideTails)}
	}
	return writeMeta(r, coinflipMeta{Choice: opts.Choice})
}

func (coinflipAdapter) Deal(r *models.Room, d *Dealer) (Outcome, error) {
	var m coinflipMeta
	if err := readMeta(r, &m); err != nil {
		return Outcome{}, err
	}
	if d.Draw("coin", uuid.Nil, 2) == 0 {
		m.Result = sideHeads
	} else {
		m.Result = sideTails
	}
	if err := writeMeta(r, m); err != nil {
		return Outcome{}, err
	}
	return Outcome{Reveal: true}, nil
}

func (a coinflipAdapter) Apply(r *models.Room, userID uuid.UUID, action string, d *Dealer) (Outcome, error) {
	if action != "ack" {
		return Outcome{}, ErrUnknownAction
	}
	winners, ok := a.Resolve(r)
	if !ok {
		return Outcome{}, ErrRoomNotActive
	}
	return Outcome{Terminal: true, Winners: winners}, nil
}

func (coinflipAdapter) Resolve(r *models.Room) ([]uuid.UUID, bool) {
	var m coinflipMeta
	if err := readMeta(r, &m); err != nil || m.Result == "" {
		return nil, false
	}
	ownerWon := m.Result == m.Choice
	for i := range r.Participants {
		p := &r.Participants[i]
		if (p.UserID == r.OwnerID) == ownerWon {
			return []uuid.UUID{p.UserID}, true
		}
	}
	return nil, false
}

func readMeta(r *models.Room, v interface{}) error {
	if len(r.Meta) == 0 {
		return fmt.Errorf("room %s has no variant metadata", r.Code)
	}
	if err := json.Unmarshal(r.Meta, v); err != nil {
		return fmt.Errorf("decode %s metadata: %w", r.Variant, err)
	}
	return nil
}

func writeMeta(r *models.Room, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s metadata: %w", r.Variant, err)
	}
	r.Meta = data
	return nil
}
