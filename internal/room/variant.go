// Package room holds the wager-room lifecycle: the controller that
// drives create/join/ready/start/action/settlement, the per-game
// variant adapters, the sweep that recovers abandoned rooms, and the
// Store contract everything persists through.
package room

import (
	"github.com/google/uuid"

	"github.com/nbv9704/CASI4F-sub001/internal/fair"
	"github.com/nbv9704/CASI4F-sub001/internal/models"
)

// CreateOptions carries the variant-specific creation parameters.
type CreateOptions struct {
	// Choice is the creator's pick where the variant wants one
	// (coinflip side). Other variants ignore it.
	Choice string `json:"choice,omitempty"`
}

// Outcome is what an adapter reports back after dealing or applying an
// action. Winners is only meaningful when Terminal is set.
type Outcome struct {
	Terminal bool
	Winners  []uuid.UUID
	// Reveal asks the controller to open a pending-reveal window:
	// the action produced a draw clients need time to observe.
	Reveal bool
}

// Adapter is the per-variant game logic. Adapters own the room's Meta
// exclusively and take randomness only from the dealer, never from any
// other entropy source, so verification stays uniform across variants.
type Adapter interface {
	// Init validates creation parameters and writes the initial
	// metadata. The room has exactly its creator seated.
	Init(r *models.Room, opts CreateOptions) error

	// Deal moves the room into play once the controller flips it
	// active. Simultaneous variants draw everything here.
	Deal(r *models.Room, d *Dealer) (Outcome, error)

	// Apply handles one turn action for a seated user. Turn-order
	// violations come back as ErrNotYourTurn or ErrDuplicateAction.
	Apply(r *models.Room, userID uuid.UUID, action string, d *Dealer) (Outcome, error)

	// Resolve computes winners from draws already made, for sweep
	// forced settlement. ok is false when the room cannot be
	// resolved from its current draws (refund instead).
	Resolve(r *models.Room) (winners []uuid.UUID, ok bool)
}

// Dealer couples a fairness source to a room so every draw is logged
// against the nonce that produced it.
type Dealer struct {
	room *models.Room
	src  *fair.Source
}

// NewDealer builds a dealer positioned at the room's persisted nonce.
func NewDealer(r *models.Room) *Dealer {
	return &Dealer{
		room: r,
		src:  fair.NewSource(r.ServerSeed, r.ClientSeed, r.Nonce),
	}
}

// Draw maps the next digest into [0, domain), appends a log entry and
// advances the room's nonce.
func (d *Dealer) Draw(purpose string, actor uuid.UUID, domain int) int {
	nonce := d.src.Nonce
	v := d.src.Draw(domain)
	d.room.Draws = append(d.room.Draws, models.Draw{
		Nonce:   nonce,
		Purpose: purpose,
		Value:   v,
		Actor:   actor,
	})
	d.room.Nonce = d.src.Nonce
	return v
}

// Die returns a face 1..6.
func (d *Dealer) Die(purpose string, actor uuid.UUID) int {
	return d.Draw(purpose, actor, 6) + 1
}

// variantSpec is resolved once at room creation; no runtime shape
// sniffing of metadata afterwards.
type variantSpec struct {
	minPlayers int
	maxPlayers int
	adapter    Adapter
}

var variants = map[models.Variant]variantSpec{
	models.VariantCoinflip:  {minPlayers: 2, maxPlayers: 2, adapter: coinflipAdapter{}},
	models.VariantDiceDuel:  {minPlayers: 2, maxPlayers: 6, adapter: diceDuelAdapter{}},
	models.VariantDice21:    {minPlayers: 2, maxPlayers: 6, adapter: dice21Adapter{}},
	models.VariantDicePoker: {minPlayers: 2, maxPlayers: 6, adapter: dicePokerAdapter{}},
}

// lookupVariant returns the spec for a variant, or ErrInvalidParams.
func lookupVariant(v models.Variant) (variantSpec, error) {
	spec, ok := variants[v]
	if !ok {
		return variantSpec{}, ErrInvalidParams
	}
	return spec, nil
}
