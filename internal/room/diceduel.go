package room

import (
	"github.com/google/uuid"

	"github.com/nbv9704/CASI4F-sub001/internal/models"
)

// diceDuelMeta tracks one roll per participant, keyed by user id.
// Turn is an index into the participant list in join order.
type diceDuelMeta struct {
	Turn  int            `json:"turn"`
	Rolls map[string]int `json:"rolls"`
	Order []uuid.UUID    `json:"order"`
}

// diceDuelAdapter: turn-ordered, one d6 each, highest face takes the
// pot, ties split it.
type diceDuelAdapter struct{}

func (diceDuelAdapter) Init(r *models.Room, opts CreateOptions) error {
	return writeMeta(r, diceDuelMeta{Rolls: map[string]int{}})
}

func (diceDuelAdapter) Deal(r *models.Room, d *Dealer) (Outcome, error) {
	m := diceDuelMeta{Rolls: map[string]int{}}
	for i := range r.Participants {
		m.Order = append(m.Order, r.Participants[i].UserID)
	}
	if err := writeMeta(r, m); err != nil {
		return Outcome{}, err
	}
	return Outcome{}, nil
}

func (diceDuelAdapter) Apply(r *models.Room, userID uuid.UUID, action string, d *Dealer) (Outcome, error) {
	if action != "roll" {
		return Outcome{}, ErrUnknownAction
	}
	var m diceDuelMeta
	if err := readMeta(r, &m); err != nil {
		return Outcome{}, err
	}
	if _, rolled := m.Rolls[userID.String()]; rolled {
		return Outcome{}, ErrDuplicateAction
	}
	if m.Turn >= len(m.Order) || m.Order[m.Turn] != userID {
		return Outcome{}, ErrNotYourTurn
	}

	m.Rolls[userID.String()] = d.Die("roll", userID)
	m.Turn++
	if err := writeMeta(r, &m); err != nil {
		return Outcome{}, err
	}

	if len(m.Rolls) < len(m.Order) {
		return Outcome{Reveal: true}, nil
	}
	return Outcome{Reveal: true, Terminal: true, Winners: duelWinners(&m)}, nil
}

func (diceDuelAdapter) Resolve(r *models.Room) ([]uuid.UUID, bool) {
	var m diceDuelMeta
	if err := readMeta(r, &m); err != nil {
		return nil, false
	}
	if len(m.Order) == 0 || len(m.Rolls) < len(m.Order) {
		return nil, false
	}
	return duelWinners(&m), true
}

// duelWinners returns every participant holding the highest roll, in
// join order.
func duelWinners(m *diceDuelMeta) []uuid.UUID {
	best := 0
	for _, v := range m.Rolls {
		if v > best {
			best = v
		}
	}
	var winners []uuid.UUID
	for _, id := range m.Order {
		if m.Rolls[id.String()] == best {
			winners = append(winners, id)
		}
	}
	return winners
}
