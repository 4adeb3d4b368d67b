package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestECEFToGeodetic(t *testing.T) {
	tests := []struct {
		name    string
		x, y, z float64
		lat     float64
		lon     float64
		height  float64
	}{
		{"near Beijing", -2168000, 4386000, 4078000, 40.0009087, 116.3031893, -97.793},
		{"near Shanghai", -2850000, 4655000, 3288000, 31.2351698, 121.4768393, -415.299},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lat, lon, h := ECEFToGeodetic(tt.x, tt.y, tt.z)
			assert.InDelta(t, tt.lat, lat, 1e-6)
			assert.InDelta(t, tt.lon, lon, 1e-6)
			assert.InDelta(t, tt.height, h, 0.01)
		})
	}
}

func TestECEFToGeodeticPoles(t *testing.T) {
	lat, _, _ := ECEFToGeodetic(0, 0, 6356752.3)
	assert.InDelta(t, 90.0, lat, 1e-6)

	lat, _, _ = ECEFToGeodetic(0, 0, -6356752.3)
	assert.InDelta(t, -90.0, lat, 1e-6)
}

func TestReverseGeocode(t *testing.T) {
	place, ok := ReverseGeocode(40.0009, 116.3032, 0)
	require.True(t, ok)
	assert.Equal(t, "Beijing", place.City)
	assert.Equal(t, "CN", place.CountryCode)

	place, ok = ReverseGeocode(52.51, 13.40, 0)
	require.True(t, ok)
	assert.Equal(t, "Berlin", place.City)
	assert.Equal(t, "DE", place.CountryCode)

	// The caster default position sits near Guilin.
	place, ok = ReverseGeocode(25.20341154, 110.277492, 0)
	require.True(t, ok)
	assert.Equal(t, "Guilin", place.City)
}

func TestReverseGeocodePopulationFloor(t *testing.T) {
	// Near Reykjavik, but the floor excludes it.
	place, ok := ReverseGeocode(64.14, -21.94, 500000)
	require.True(t, ok)
	assert.NotEqual(t, "Reykjavik", place.City)

	place, ok = ReverseGeocode(64.14, -21.94, 0)
	require.True(t, ok)
	assert.Equal(t, "Reykjavik", place.City)
}

func TestCountryAlpha3(t *testing.T) {
	assert.Equal(t, "CHN", CountryAlpha3("CN"))
	assert.Equal(t, "DEU", CountryAlpha3("DE"))
	assert.Equal(t, "USA", CountryAlpha3("US"))
	assert.Equal(t, "", CountryAlpha3("XX"))
}
