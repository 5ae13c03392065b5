package climate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/talgya/agora/internal/store"
)

func TestRichnessStaysInBounds(t *testing.T) {
	f := NewField(42)
	start := time.Unix(1_700_000_000, 0)
	for _, r := range store.Resources {
		for day := 0; day < 365; day++ {
			got := f.Richness(r, start.AddDate(0, 0, day))
			assert.GreaterOrEqual(t, got, MinRichness)
			assert.LessOrEqual(t, got, MaxRichness)
		}
	}
}

func TestRichnessDeterministicPerSeed(t *testing.T) {
	at := time.Unix(1_700_000_000, 0)
	a := NewField(42).Richness(store.ResourceFood, at)
	b := NewField(42).Richness(store.ResourceFood, at)
	assert.Equal(t, a, b)

	c := NewField(43).Richness(store.ResourceFood, at)
	assert.NotEqual(t, a, c)
}

func TestResourcesDriftIndependently(t *testing.T) {
	f := NewField(42)
	at := time.Unix(1_700_000_000, 0)
	food := f.Richness(store.ResourceFood, at)
	energy := f.Richness(store.ResourceEnergy, at)
	assert.NotEqual(t, food, energy)
}
