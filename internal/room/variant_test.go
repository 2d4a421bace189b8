// internal/room/variant_test.go
package room

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nbv9704/CASI4F-sub001/internal/models"
)

func TestScoreHand(t *testing.T) {
	cases := []struct {
		name string
		hand []int
		cat  int
	}{
		{"five of a kind", []int{4, 4, 4, 4, 4}, handFiveKind},
		{"four of a kind", []int{6, 6, 6, 6, 2}, handFourKind},
		{"full house", []int{3, 3, 3, 5, 5}, handFullHouse},
		{"low straight", []int{1, 2, 3, 4, 5}, handStraight},
		{"high straight", []int{2, 3, 4, 5, 6}, handStraight},
		{"broken run is high die", []int{1, 2, 3, 4, 6}, handHighDie},
		{"three of a kind", []int{2, 2, 2, 5, 6}, handThreeKind},
		{"two pair", []int{2, 2, 5, 5, 6}, handTwoPair},
		{"pair", []int{3, 3, 1, 5, 6}, handPair},
		{"high die", []int{1, 2, 4, 5, 6}, handHighDie},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cat, _, _ := scoreHand(tc.hand)
			assert.Equal(t, tc.cat, cat)
		})
	}
}

func TestScoreHandTiebreakers(t *testing.T) {
	// Same category: sum decides.
	cat1, sum1, _ := scoreHand([]int{6, 6, 1, 2, 3})
	cat2, sum2, _ := scoreHand([]int{5, 5, 1, 2, 3})
	require.Equal(t, cat1, cat2)
	assert.True(t, beats(cat1, sum1, 6, cat2, sum2, 5))

	// Same category and sum: highest die decides.
	assert.True(t, beats(handPair, 18, 6, handPair, 18, 5))
	assert.False(t, beats(handPair, 18, 5, handPair, 18, 5))
}

func TestDuelWinnersTieSplits(t *testing.T) {
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	m := &diceDuelMeta{
		Order: []uuid.UUID{a, b, c},
		Rolls: map[string]int{
			a.String(): 5,
			b.String(): 5,
			c.String(): 2,
		},
	}
	assert.Equal(t, []uuid.UUID{a, b}, duelWinners(m))
}

func TestDice21WinnersAllBustRefunds(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	m := &dice21Meta{
		Order:  []uuid.UUID{a, b},
		Totals: map[string]int{a.String(): 24, b.String(): 22},
		Stood:  map[string]bool{},
		Busted: map[string]bool{a.String(): true, b.String(): true},
	}
	assert.Equal(t, []uuid.UUID{a, b}, dice21Winners(m))
}

func TestDice21WinnersHighestSurvivor(t *testing.T) {
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	m := &dice21Meta{
		Order:  []uuid.UUID{a, b, c},
		Totals: map[string]int{a.String(): 19, b.String(): 24, c.String(): 17},
		Stood:  map[string]bool{a.String(): true, c.String(): true},
		Busted: map[string]bool{b.String(): true},
	}
	assert.Equal(t, []uuid.UUID{a}, dice21Winners(m))
}

func TestPayoutRemainderGoesToLowestPosition(t *testing.T) {
	ctrl := NewController(NewMemStore(), DefaultConfig(), nil)
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	r := &models.Room{
		Stake: 101,
		Participants: []models.Participant{
			{UserID: a, Stake: 101, Position: 0},
			{UserID: b, Stake: 101, Position: 1},
			{UserID: c, Stake: 101, Position: 2},
		},
	}

	// Pot 303 split two ways: 151 each plus 1 remainder to the
	// earlier joiner. Winner order in the slice must not matter.
	credits := ctrl.payouts(r, []uuid.UUID{c, b})
	assert.Equal(t, int64(152), credits[b])
	assert.Equal(t, int64(151), credits[c])

	total := int64(0)
	for _, v := range credits {
		total += v
	}
	assert.Equal(t, r.Pot(), total)
}

func TestDealerLogsDraws(t *testing.T) {
	actor := uuid.New()
	r := &models.Room{
		ServerSeed: "7c9e6679f7425e4b0d2e1a0f3a3c1d2e7c9e6679f7425e4b0d2e1a0f3a3c1d2e",
		ClientSeed: "client",
	}
	d := NewDealer(r)

	first := d.Die("roll", actor)
	second := d.Die("roll", actor)
	require.GreaterOrEqual(t, first, 1)
	require.LessOrEqual(t, first, 6)

	require.Len(t, r.Draws, 2)
	assert.Equal(t, int64(0), r.Draws[0].Nonce)
	assert.Equal(t, int64(1), r.Draws[1].Nonce)
	assert.Equal(t, first-1, r.Draws[0].Value)
	assert.Equal(t, second-1, r.Draws[1].Value)
	assert.Equal(t, int64(2), r.Nonce)

	// Same seeds replay to the same faces.
	d2 := NewDealer(&models.Room{ServerSeed: r.ServerSeed, ClientSeed: r.ClientSeed})
	assert.Equal(t, first, d2.Die("roll", actor))
	assert.Equal(t, second, d2.Die("roll", actor))
}
