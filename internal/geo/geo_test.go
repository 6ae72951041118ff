package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHaversineKm(t *testing.T) {
	t.Run("zero distance for identical points", func(t *testing.T) {
		assert.Zero(t, HaversineKm(17.3850, 78.4867, 17.3850, 78.4867))
	})

	t.Run("known city pair", func(t *testing.T) {
		// Hyderabad to Bangalore is roughly 500 km.
		d := HaversineKm(17.3850, 78.4867, 12.9716, 77.5946)
		assert.InDelta(t, 500, d, 15)
	})

	t.Run("symmetry", func(t *testing.T) {
		a := HaversineKm(10, 20, 30, 40)
		b := HaversineKm(30, 40, 10, 20)
		assert.InDelta(t, a, b, 1e-9)
	})

	t.Run("short distance", func(t *testing.T) {
		// About 0.11 km per 0.001 degree of latitude.
		d := HaversineKm(17.3850, 78.4867, 17.3860, 78.4867)
		assert.InDelta(t, 0.111, d, 0.01)
	})
}
