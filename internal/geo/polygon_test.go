package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radarzone/companion/pkg/core"
)

var unitSquare = []core.Point{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 1, Y: 1}, {X: 0, Y: 1}}

func TestPointInPolygon_UnitSquare(t *testing.T) {
	assert.True(t, PointInPolygon(core.Point{X: 0.5, Y: 0.5}, unitSquare))
	assert.False(t, PointInPolygon(core.Point{X: 2, Y: 2}, unitSquare))
	assert.False(t, PointInPolygon(core.Point{X: -0.1, Y: 0.5}, unitSquare))
	assert.False(t, PointInPolygon(core.Point{X: 0.5, Y: 1.1}, unitSquare))
}

func TestPointInPolygon_HalfOpenBoundary(t *testing.T) {
	cases := []struct {
		name string
		p    core.Point
		want bool
	}{
		{"left edge", core.Point{X: 0, Y: 0.5}, true},
		{"bottom edge", core.Point{X: 0.5, Y: 0}, true},
		{"right edge", core.Point{X: 1, Y: 0.5}, false},
		{"top edge", core.Point{X: 0.5, Y: 1}, false},
		{"bottom-left corner", core.Point{X: 0, Y: 0}, true},
		{"bottom-right corner", core.Point{X: 1, Y: 0}, false},
		{"top-left corner", core.Point{X: 0, Y: 1}, false},
		{"top-right corner", core.Point{X: 1, Y: 1}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, PointInPolygon(tc.p, unitSquare))
		})
	}
}

func TestPointInPolygon_VertexOrderIrrelevant(t *testing.T) {
	clockwise := []core.Point{{X: 0, Y: 1}, {X: 1, Y: 1}, {X: 1, Y: 0}, {X: 0, Y: 0}}
	for _, p := range []core.Point{{X: 0.5, Y: 0.5}, {X: 0, Y: 0.5}, {X: 1, Y: 0.5}, {X: 3, Y: 0.5}} {
		assert.Equal(t, PointInPolygon(p, unitSquare), PointInPolygon(p, clockwise), "point %v", p)
	}
}

func TestPointInPolygon_Concave(t *testing.T) {
	// U shape opening upwards.
	u := []core.Point{
		{X: 0, Y: 0}, {X: 3, Y: 0}, {X: 3, Y: 3}, {X: 2, Y: 3},
		{X: 2, Y: 1}, {X: 1, Y: 1}, {X: 1, Y: 3}, {X: 0, Y: 3},
	}
	assert.True(t, PointInPolygon(core.Point{X: 0.5, Y: 2}, u))
	assert.True(t, PointInPolygon(core.Point{X: 2.5, Y: 2}, u))
	assert.True(t, PointInPolygon(core.Point{X: 1.5, Y: 0.5}, u))
	assert.False(t, PointInPolygon(core.Point{X: 1.5, Y: 2}, u), "inside the notch")
}

func TestPointInPolygon_Degenerate(t *testing.T) {
	assert.False(t, PointInPolygon(core.Point{}, nil))
	assert.False(t, PointInPolygon(core.Point{X: 0.5}, []core.Point{{X: 0}, {X: 1}}))
}

func TestValidatePolygon(t *testing.T) {
	require.NoError(t, ValidatePolygon(unitSquare))

	err := ValidatePolygon(unitSquare[:2])
	assert.ErrorIs(t, err, ErrTooFewVertices)

	bowtie := []core.Point{{X: 0, Y: 0}, {X: 1, Y: 1}, {X: 1, Y: 0}, {X: 0, Y: 1}}
	assert.ErrorIs(t, ValidatePolygon(bowtie), ErrNotSimple)

	collinear := []core.Point{{X: 0, Y: 0}, {X: 1, Y: 1}, {X: 2, Y: 2}}
	assert.ErrorIs(t, ValidatePolygon(collinear), ErrNotSimple)
}

func TestToGeom_ClosesRing(t *testing.T) {
	poly := ToGeom(unitSquare)
	assert.Equal(t, 5, poly.ExteriorRing().Coordinates().Length())
	assert.InDelta(t, 1.0, poly.Area(), 1e-12)

	closed := append(append([]core.Point{}, unitSquare...), unitSquare[0])
	assert.Equal(t, 5, ToGeom(closed).ExteriorRing().Coordinates().Length())
}
