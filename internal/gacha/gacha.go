// Package gacha draws reward hands from a rarity-weighted item pool.
package gacha

import (
	"errors"
	"fmt"
	"math"

	"hoccoo/internal/domain"
)

// Source is the randomness a roll consumes. *math/rand.Rand satisfies it.
type Source interface {
	Float64() float64
	Intn(n int) int
}

// Tier is one rarity bucket with its draw probability.
type Tier struct {
	Rarity domain.Rarity `json:"rarity" yaml:"name"`
	Weight float64       `json:"weight" yaml:"weight"`
}

// Table lists tiers highest rarity first. The last tier absorbs any
// probability mass the others leave unclaimed.
type Table []Tier

const weightEpsilon = 1e-9

var (
	ErrEmptyTable     = errors.New("rarity table is empty")
	ErrNegativeWeight = errors.New("rarity weight must be non-negative")
)

func (t Table) Validate() error {
	if len(t) == 0 {
		return ErrEmptyTable
	}
	seen := map[domain.Rarity]bool{}
	sum := 0.0
	for _, tier := range t {
		if tier.Rarity == "" {
			return errors.New("rarity name is required")
		}
		if seen[tier.Rarity] {
			return fmt.Errorf("duplicate rarity %s", tier.Rarity)
		}
		seen[tier.Rarity] = true
		if tier.Weight < 0 || math.IsNaN(tier.Weight) {
			return fmt.Errorf("%w: %s", ErrNegativeWeight, tier.Rarity)
		}
		sum += tier.Weight
	}
	if sum > 1+weightEpsilon {
		return fmt.Errorf("rarity weights sum to %.4f, must not exceed 1", sum)
	}
	return nil
}

// Has reports whether r is one of the table's tiers.
func (t Table) Has(r domain.Rarity) bool {
	for _, tier := range t {
		if tier.Rarity == r {
			return true
		}
	}
	return false
}

// Pick maps a uniform u in [0,1) onto a tier by cumulative weight.
func (t Table) Pick(u float64) domain.Rarity {
	if len(t) == 0 {
		return ""
	}
	cum := 0.0
	for _, tier := range t {
		cum += tier.Weight
		if u < cum {
			return tier.Rarity
		}
	}
	return t[len(t)-1].Rarity
}

// Draw is one slot of a rolled hand. Item is nil when the sampled tier had
// no items in the pool.
type Draw struct {
	Rarity domain.Rarity `json:"rarity"`
	Item   *domain.Item  `json:"item,omitempty"`
}

func (d Draw) Empty() bool { return d.Item == nil }

// RollHand draws handSize slots independently and with replacement. Each
// slot samples a tier, then an item uniformly within that tier. An empty
// tier leaves the slot empty rather than failing or redrawing, so the
// result always has handSize entries.
func RollHand(pool []domain.Item, weights Table, handSize int, rng Source) []Draw {
	if handSize <= 0 {
		return []Draw{}
	}
	byRarity := make(map[domain.Rarity][]domain.Item)
	for _, it := range pool {
		byRarity[it.Rarity] = append(byRarity[it.Rarity], it)
	}
	draws := make([]Draw, 0, handSize)
	for i := 0; i < handSize; i++ {
		rarity := weights.Pick(rng.Float64())
		d := Draw{Rarity: rarity}
		if candidates := byRarity[rarity]; len(candidates) > 0 {
			it := candidates[rng.Intn(len(candidates))]
			d.Item = &it
		}
		draws = append(draws, d)
	}
	return draws
}

// Items returns the non-empty draws' items in draw order.
func Items(draws []Draw) []domain.Item {
	out := make([]domain.Item, 0, len(draws))
	for _, d := range draws {
		if d.Item != nil {
			out = append(out, *d.Item)
		}
	}
	return out
}

// Tally counts draws per sampled rarity, empty slots included.
func Tally(draws []Draw) map[domain.Rarity]int {
	out := make(map[domain.Rarity]int)
	for _, d := range draws {
		out[d.Rarity]++
	}
	return out
}
