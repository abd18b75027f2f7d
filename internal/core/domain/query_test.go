package domain_test

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/samirrijal/roadreport/internal/core/domain"
)

func TestHeatmapQuery_Validate(t *testing.T) {
	tests := []struct {
		name    string
		bounds  domain.BoundingBox
		wantErr bool
	}{
		{"boston", domain.BoundingBox{South: 42.34, North: 42.38, West: -71.12, East: -71.05}, false},
		{"whole world", domain.BoundingBox{South: -90, North: 90, West: -180, East: 180}, false},
		{"south above north", domain.BoundingBox{South: 42.38, North: 42.34, West: -71.12, East: -71.05}, true},
		{"degenerate latitude", domain.BoundingBox{South: 42, North: 42, West: -71.12, East: -71.05}, true},
		{"antimeridian crossing", domain.BoundingBox{South: -10, North: 10, West: 170, East: -170}, true},
		{"latitude out of range", domain.BoundingBox{South: -91, North: 10, West: 0, East: 1}, true},
		{"longitude out of range", domain.BoundingBox{South: 0, North: 1, West: 0, East: 181}, true},
		{"nan", domain.BoundingBox{South: math.NaN(), North: 1, West: 0, East: 1}, true},
		{"inf", domain.BoundingBox{South: 0, North: 1, West: math.Inf(-1), East: 1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := domain.HeatmapQuery{Bounds: tt.bounds, Zoom: 13}.Validate()
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			assert.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrInvalidQuery), "got %v", err)
		})
	}
}

func TestBoundingBox_Contains(t *testing.T) {
	b := domain.BoundingBox{South: 0, North: 1, West: 0, East: 1}
	assert.True(t, b.Contains(domain.GeoPoint{Lat: 0.5, Lng: 0.5}))
	assert.True(t, b.Contains(domain.GeoPoint{Lat: 1, Lng: 0}))
	assert.False(t, b.Contains(domain.GeoPoint{Lat: 1.1, Lng: 0.5}))
}
