// Package climate provides a slowly drifting resource-richness field.
// Work yields are modulated by it so production varies across simulated
// days instead of being a flat rate.
package climate

import (
	"time"

	opensimplex "github.com/ojrac/opensimplex-go"

	"github.com/talgya/agora/internal/store"
)

// Richness bounds. The field maps noise into [Min, Max] around 1.0.
const (
	MinRichness = 0.8
	MaxRichness = 1.2
)

// Field is a deterministic richness field seeded once at world creation.
type Field struct {
	noise opensimplex.Noise
}

// NewField creates a richness field from a world seed.
func NewField(seed int64) *Field {
	return &Field{noise: opensimplex.NewNormalized(seed)}
}

// Richness returns the yield modifier for a resource at time t. Each
// resource drifts along its own axis of the noise field, so scarcity of
// one does not imply scarcity of another.
func (f *Field) Richness(r store.Resource, t time.Time) float64 {
	day := float64(t.Unix()) / 86400.0
	n := f.noise.Eval2(day/30.0, axis(r)) // one noise period ≈ a simulated month
	return MinRichness + n*(MaxRichness-MinRichness)
}

func axis(r store.Resource) float64 {
	switch r {
	case store.ResourceFood:
		return 0
	case store.ResourceEnergy:
		return 100
	case store.ResourceMaterials:
		return 200
	default:
		return 300
	}
}
