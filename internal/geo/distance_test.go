package geo

import (
	"testing"

	"github.com/Domenick1991/attribution/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestDistanceKm(t *testing.T) {
	paris := domain.Location{Lat: 48.8566, Lng: 2.3522}
	lyon := domain.Location{Lat: 45.7640, Lng: 4.8357}

	assert.InDelta(t, 0, DistanceKm(paris, paris), 1e-9)
	assert.InDelta(t, 392, DistanceKm(paris, lyon), 2)
	assert.InDelta(t, DistanceKm(paris, lyon), DistanceKm(lyon, paris), 1e-9)
}

func TestDistanceKm_OneDegreeOfLatitude(t *testing.T) {
	a := domain.Location{Lat: 0, Lng: 0}
	b := domain.Location{Lat: 1, Lng: 0}

	assert.InDelta(t, 111.19, DistanceKm(a, b), 0.01)
}
