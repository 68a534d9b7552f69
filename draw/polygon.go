package draw

import (
	"errors"
	"fmt"

	"github.com/golang/geo/s2"
	"github.com/paulmach/orb"
)

// EarthRadiusKm is the mean Earth radius.
const EarthRadiusKm = 6371.0088

var ErrIncompletePolygon = errors.New("draw: polygon needs at least 3 points")

// Polygon closes the captured points into a single-ring polygon.
func Polygon(points []orb.Point) (orb.Polygon, error) {
	if len(points) < MinPoints {
		return nil, ErrIncompletePolygon
	}
	ring := make(orb.Ring, 0, len(points)+1)
	ring = append(ring, points...)
	if !ring.Closed() {
		ring = append(ring, points[0])
	}
	return orb.Polygon{ring}, nil
}

// Area is a spherical region built from a polygon's outer ring. Holes are
// ignored; drawn areas never have them.
type Area struct {
	loop *s2.Loop
}

// NewArea accepts rings in either winding order.
func NewArea(p orb.Polygon) (*Area, error) {
	if len(p) == 0 {
		return nil, ErrIncompletePolygon
	}
	ring := p[0]
	if ring.Closed() {
		ring = ring[:len(ring)-1]
	}
	pts := make([]s2.Point, 0, len(ring))
	for i, pt := range ring {
		if i > 0 && pt == ring[i-1] {
			continue
		}
		pts = append(pts, s2.PointFromLatLng(s2.LatLngFromDegrees(pt.Lat(), pt.Lon())))
	}
	if len(pts) < MinPoints {
		return nil, ErrIncompletePolygon
	}
	loop := s2.LoopFromPoints(pts)
	if err := loop.Validate(); err != nil {
		return nil, fmt.Errorf("draw: invalid polygon: %w", err)
	}
	loop.Normalize()
	return &Area{loop: loop}, nil
}

func (a *Area) Contains(p orb.Point) bool {
	return a.loop.ContainsPoint(s2.PointFromLatLng(s2.LatLngFromDegrees(p.Lat(), p.Lon())))
}

func (a *Area) Km2() float64 {
	return a.loop.Area() * EarthRadiusKm * EarthRadiusKm
}
