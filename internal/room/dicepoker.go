package room

import (
	"sort"

	"github.com/google/uuid"

	"github.com/nbv9704/CASI4F-sub001/internal/models"
)

const pokerHandSize = 5

// Hand categories, weakest to strongest. The table is static: rank
// strength never depends on who rolled what.
const (
	handHighDie = iota
	handPair
	handTwoPair
	handThreeKind
	handStraight
	handFullHouse
	handFourKind
	handFiveKind
)

// dicePokerMeta holds each player's five-die hand, drawn all at once
// at deal so nobody rolls after seeing anyone else's hand.
type dicePokerMeta struct {
	Order []uuid.UUID      `json:"order"`
	Hands map[string][]int `json:"hands"`
}

// dicePokerAdapter: simultaneous five-dice hands ranked by the static
// hand-strength table, tiebroken by dice sum then highest die.
type dicePokerAdapter struct{}

func (dicePokerAdapter) Init(r *models.Room, opts CreateOptions) error {
	return writeMeta(r, dicePokerMeta{Hands: map[string][]int{}})
}

func (dicePokerAdapter) Deal(r *models.Room, d *Dealer) (Outcome, error) {
	m := dicePokerMeta{Hands: map[string][]int{}}
	// Hands draw in join order on consecutive nonces; the draw log
	// ties every die to its owner for replay.
	for i := range r.Participants {
		id := r.Participants[i].UserID
		m.Order = append(m.Order, id)
		hand := make([]int, 0, pokerHandSize)
		for j := 0; j < pokerHandSize; j++ {
			hand = append(hand, d.Die("hand", id))
		}
		m.Hands[id.String()] = hand
	}
	if err := writeMeta(r, m); err != nil {
		return Outcome{}, err
	}
	return Outcome{Reveal: true}, nil
}

func (a dicePokerAdapter) Apply(r *models.Room, userID uuid.UUID, action string, d *Dealer) (Outcome, error) {
	if action != "ack" {
		return Outcome{}, ErrUnknownAction
	}
	winners, ok := a.Resolve(r)
	if !ok {
		return Outcome{}, ErrRoomNotActive
	}
	return Outcome{Terminal: true, Winners: winners}, nil
}

func (dicePokerAdapter) Resolve(r *models.Room) ([]uuid.UUID, bool) {
	var m dicePokerMeta
	if err := readMeta(r, &m); err != nil {
		return nil, false
	}
	if len(m.Order) == 0 || len(m.Hands) < len(m.Order) {
		return nil, false
	}

	type scored struct {
		id       uuid.UUID
		cat, sum int
		high     int
	}
	best := []scored{}
	for _, id := range m.Order {
		s := scored{id: id}
		s.cat, s.sum, s.high = scoreHand(m.Hands[id.String()])
		switch {
		case len(best) == 0 || beats(s.cat, s.sum, s.high, best[0].cat, best[0].sum, best[0].high):
			best = []scored{s}
		case s.cat == best[0].cat && s.sum == best[0].sum && s.high == best[0].high:
			best = append(best, s)
		}
	}
	winners := make([]uuid.UUID, 0, len(best))
	for _, s := range best {
		winners = append(winners, s.id)
	}
	return winners, true
}

func beats(cat, sum, high, bCat, bSum, bHigh int) bool {
	if cat != bCat {
		return cat > bCat
	}
	if sum != bSum {
		return sum > bSum
	}
	return high > bHigh
}

// scoreHand classifies five dice into (category, sum, highest die).
func scoreHand(hand []int) (cat, sum, high int) {
	counts := map[int]int{}
	for _, die := range hand {
		counts[die]++
		sum += die
		if die > high {
			high = die
		}
	}

	shape := make([]int, 0, len(counts))
	for _, c := range counts {
		shape = append(shape, c)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(shape)))

	switch {
	case shape[0] == 5:
		cat = handFiveKind
	case shape[0] == 4:
		cat = handFourKind
	case shape[0] == 3 && shape[1] == 2:
		cat = handFullHouse
	case len(counts) == 5 && (!hasDie(counts, 1) || !hasDie(counts, 6)):
		// Five distinct faces form a run exactly when the missing
		// sixth face is an end face: 1-5 or 2-6.
		cat = handStraight
	case shape[0] == 3:
		cat = handThreeKind
	case shape[0] == 2 && shape[1] == 2:
		cat = handTwoPair
	case shape[0] == 2:
		cat = handPair
	default:
		cat = handHighDie
	}
	return cat, sum, high
}

func hasDie(counts map[int]int, face int) bool {
	return counts[face] > 0
}
