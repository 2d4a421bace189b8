package room

import (
	"github.com/google/uuid"

	"github.com/nbv9704/CASI4F-sub001/internal/models"
)

// bustThreshold is the accumulation ceiling; crossing it busts.
const bustThreshold = 21

// dice21Meta tracks each player's running total, whether they are
// done (stood or busted), and whose turn it is.
type dice21Meta struct {
	Turn   int             `json:"turn"`
	Order  []uuid.UUID     `json:"order"`
	Totals map[string]int  `json:"totals"`
	Stood  map[string]bool `json:"stood"`
	Busted map[string]bool `json:"busted"`
}

func (m *dice21Meta) done(id uuid.UUID) bool {
	return m.Stood[id.String()] || m.Busted[id.String()]
}

func (m *dice21Meta) allDone() bool {
	for _, id := range m.Order {
		if !m.done(id) {
			return false
		}
	}
	return len(m.Order) > 0
}

// advance moves the turn to the next player who is still in, wrapping
// around; it stops once everyone is done.
func (m *dice21Meta) advance() {
	for i := 0; i < len(m.Order); i++ {
		m.Turn = (m.Turn + 1) % len(m.Order)
		if !m.done(m.Order[m.Turn]) {
			return
		}
	}
}

// dice21Adapter: hit/stand dice accumulation against a bust threshold
// of twenty-one. Highest surviving total wins; every player busting
// splits the pot back.
type dice21Adapter struct{}

func (dice21Adapter) Init(r *models.Room, opts CreateOptions) error {
	return writeMeta(r, dice21Meta{Totals: map[string]int{}, Stood: map[string]bool{}, Busted: map[string]bool{}})
}

func (dice21Adapter) Deal(r *models.Room, d *Dealer) (Outcome, error) {
	m := dice21Meta{Totals: map[string]int{}, Stood: map[string]bool{}, Busted: map[string]bool{}}
	for i := range r.Participants {
		m.Order = append(m.Order, r.Participants[i].UserID)
	}
	if err := writeMeta(r, m); err != nil {
		return Outcome{}, err
	}
	return Outcome{}, nil
}

func (dice21Adapter) Apply(r *models.Room, userID uuid.UUID, action string, d *Dealer) (Outcome, error) {
	var m dice21Meta
	if err := readMeta(r, &m); err != nil {
		return Outcome{}, err
	}
	if m.done(userID) {
		return Outcome{}, ErrDuplicateAction
	}
	if m.Turn >= len(m.Order) || m.Order[m.Turn] != userID {
		return Outcome{}, ErrNotYourTurn
	}

	out := Outcome{}
	switch action {
	case "hit":
		m.Totals[userID.String()] += d.Die("hit", userID)
		if m.Totals[userID.String()] > bustThreshold {
			m.Busted[userID.String()] = true
			m.advance()
		}
		// A hit that survives keeps the turn; the player decides
		// again after the reveal window.
		out.Reveal = true
	case "stand":
		m.Stood[userID.String()] = true
		m.advance()
	default:
		return Outcome{}, ErrUnknownAction
	}

	if m.allDone() {
		out.Terminal = true
		out.Winners = dice21Winners(&m)
	}
	if err := writeMeta(r, &m); err != nil {
		return Outcome{}, err
	}
	return out, nil
}

func (dice21Adapter) Resolve(r *models.Room) ([]uuid.UUID, bool) {
	var m dice21Meta
	if err := readMeta(r, &m); err != nil {
		return nil, false
	}
	if !m.allDone() {
		return nil, false
	}
	return dice21Winners(&m), true
}

// dice21Winners returns the players holding the highest non-busted
// total. When everyone busted, the whole table "wins": the settlement
// split hands every stake straight back.
func dice21Winners(m *dice21Meta) []uuid.UUID {
	best := -1
	for _, id := range m.Order {
		if m.Busted[id.String()] {
			continue
		}
		if t := m.Totals[id.String()]; t > best {
			best = t
		}
	}
	if best < 0 {
		return append([]uuid.UUID(nil), m.Order...)
	}
	var winners []uuid.UUID
	for _, id := range m.Order {
		if !m.Busted[id.String()] && m.Totals[id.String()] == best {
			winners = append(winners, id)
		}
	}
	return winners
}
