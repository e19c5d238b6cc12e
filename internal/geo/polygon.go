package geo

import (
	"errors"
	"fmt"

	geom "github.com/peterstace/simplefeatures/geom"

	"github.com/radarzone/companion/pkg/core"
)

// MinVertices is the smallest vertex count of a zone polygon.
const MinVertices = 3

var (
	// ErrTooFewVertices is returned when a polygon has fewer than MinVertices points.
	ErrTooFewVertices = errors.New("polygon needs at least 3 vertices")
	// ErrNotSimple is returned when a polygon self-intersects or has no area.
	ErrNotSimple = errors.New("polygon is not simple")
)

// PointInPolygon reports whether p lies inside polygon using horizontal ray
// crossing. An edge counts when exactly one endpoint is strictly above p.Y
// and the intersection lies strictly to the right of p.X, so points on the
// left/bottom boundary count as inside and points on the right/top boundary
// as outside. Polygons with fewer than three vertices contain nothing.
func PointInPolygon(p core.Point, polygon []core.Point) bool {
	n := len(polygon)
	if n < MinVertices {
		return false
	}
	inside := false
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		a, b := polygon[i], polygon[j]
		if (a.Y > p.Y) == (b.Y > p.Y) {
			continue
		}
		x := (b.X-a.X)*(p.Y-a.Y)/(b.Y-a.Y) + a.X
		if x > p.X {
			inside = !inside
		}
	}
	return inside
}

// ToGeom converts a zone outline into a closed simplefeatures polygon.
func ToGeom(points []core.Point) geom.Polygon {
	flat := make([]float64, 0, (len(points)+1)*2)
	for _, pt := range points {
		flat = append(flat, pt.X, pt.Y)
	}
	if len(points) > 0 && points[0] != points[len(points)-1] {
		flat = append(flat, points[0].X, points[0].Y)
	}
	ring := geom.NewLineString(geom.NewSequence(flat, geom.DimXY))
	return geom.NewPolygon([]geom.LineString{ring})
}

// ValidatePolygon rejects outlines that cannot serve as a zone: fewer than
// three vertices, self-intersections or zero area.
func ValidatePolygon(points []core.Point) error {
	if len(points) < MinVertices {
		return fmt.Errorf("%w: got %d", ErrTooFewVertices, len(points))
	}
	poly := ToGeom(points)
	if err := poly.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrNotSimple, err)
	}
	if !poly.ExteriorRing().IsSimple() {
		return fmt.Errorf("%w: ring self-intersects", ErrNotSimple)
	}
	if poly.Area() == 0 {
		return fmt.Errorf("%w: zero area", ErrNotSimple)
	}
	return nil
}
