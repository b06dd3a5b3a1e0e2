package gacha

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hoccoo/internal/domain"
)

func standardTable() Table {
	return Table{
		{Rarity: "rare", Weight: 0.05},
		{Rarity: "uncommon", Weight: 0.15},
		{Rarity: "common", Weight: 0.80},
	}
}

func fullPool() []domain.Item {
	return []domain.Item{
		{ID: "r1", Name: "Golden Mug", Rarity: "rare"},
		{ID: "u1", Name: "Sticker Pack", Rarity: "uncommon"},
		{ID: "u2", Name: "Desk Plant", Rarity: "uncommon"},
		{ID: "c1", Name: "Thank-you Card", Rarity: "common"},
		{ID: "c2", Name: "Candy", Rarity: "common"},
		{ID: "c3", Name: "High Five", Rarity: "common"},
	}
}

// fixedSource replays scripted floats and always picks index 0.
type fixedSource struct {
	floats []float64
	i      int
}

func (f *fixedSource) Float64() float64 {
	v := f.floats[f.i%len(f.floats)]
	f.i++
	return v
}

func (f *fixedSource) Intn(int) int { return 0 }

func TestTierFrequenciesMatchWeights(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	const n = 20000
	draws := RollHand(fullPool(), standardTable(), n, rng)
	require.Len(t, draws, n)

	counts := Tally(draws)
	for _, tier := range standardTable() {
		got := float64(counts[tier.Rarity]) / n
		assert.InDelta(t, tier.Weight, got, 0.015, "tier %s", tier.Rarity)
	}
	for _, d := range draws {
		require.NotNil(t, d.Item)
		assert.Equal(t, d.Rarity, d.Item.Rarity)
	}
}

func TestEmptyTierLeavesSlotEmpty(t *testing.T) {
	pool := []domain.Item{
		{ID: "c1", Name: "Candy", Rarity: "common"},
		{ID: "c2", Name: "High Five", Rarity: "common"},
	}
	for seed := int64(1); seed <= 50; seed++ {
		draws := RollHand(pool, standardTable(), 5, rand.New(rand.NewSource(seed)))
		require.Len(t, draws, 5)
		for _, d := range draws {
			if d.Rarity == "common" {
				require.NotNil(t, d.Item, "seed %d", seed)
			} else {
				assert.True(t, d.Empty(), "seed %d: %s slot should be empty", seed, d.Rarity)
			}
		}
		for _, it := range Items(draws) {
			assert.Equal(t, domain.Rarity("common"), it.Rarity)
		}
	}
}

func TestPickChecksHighestTierFirst(t *testing.T) {
	tbl := standardTable()
	assert.Equal(t, domain.Rarity("rare"), tbl.Pick(0))
	assert.Equal(t, domain.Rarity("rare"), tbl.Pick(0.049))
	assert.Equal(t, domain.Rarity("uncommon"), tbl.Pick(0.05))
	assert.Equal(t, domain.Rarity("uncommon"), tbl.Pick(0.199))
	assert.Equal(t, domain.Rarity("common"), tbl.Pick(0.2))
	assert.Equal(t, domain.Rarity("common"), tbl.Pick(0.9999))
}

func TestPickFallsBackToLastTier(t *testing.T) {
	tbl := Table{{Rarity: "rare", Weight: 0.1}, {Rarity: "common", Weight: 0.5}}
	assert.Equal(t, domain.Rarity("common"), tbl.Pick(0.95))
}

func TestRollHandUsesDrawOrder(t *testing.T) {
	src := &fixedSource{floats: []float64{0.01, 0.5, 0.1}}
	draws := RollHand(fullPool(), standardTable(), 3, src)
	require.Len(t, draws, 3)
	assert.Equal(t, "r1", draws[0].Item.ID)
	assert.Equal(t, "c1", draws[1].Item.ID)
	assert.Equal(t, "u1", draws[2].Item.ID)
}

func TestRollHandDeterministicForSeed(t *testing.T) {
	a := RollHand(fullPool(), standardTable(), 10, rand.New(rand.NewSource(7)))
	b := RollHand(fullPool(), standardTable(), 10, rand.New(rand.NewSource(7)))
	assert.Equal(t, a, b)
}

func TestRollHandZeroSize(t *testing.T) {
	assert.Empty(t, RollHand(fullPool(), standardTable(), 0, rand.New(rand.NewSource(1))))
}

func TestTableValidate(t *testing.T) {
	require.NoError(t, standardTable().Validate())
	assert.ErrorIs(t, Table{}.Validate(), ErrEmptyTable)
	assert.ErrorIs(t, Table{{Rarity: "a", Weight: -0.1}}.Validate(), ErrNegativeWeight)
	assert.Error(t, Table{{Rarity: "a", Weight: 0.6}, {Rarity: "b", Weight: 0.6}}.Validate())
	assert.Error(t, Table{{Rarity: "a", Weight: 0.2}, {Rarity: "a", Weight: 0.2}}.Validate())
	assert.Error(t, Table{{Weight: 0.2}}.Validate())
}
