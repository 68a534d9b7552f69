package overlay

import (
	"sort"

	"github.com/dhconnelly/rtreego"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
)

// Neighborhood is a named area; Geometry is an orb.Polygon or
// orb.MultiPolygon.
type Neighborhood struct {
	Name     string
	Geometry orb.Geometry
}

type neighborhoodItem struct {
	n    Neighborhood
	rect rtreego.Rect
}

func (it *neighborhoodItem) Bounds() rtreego.Rect { return it.rect }

func (it *neighborhoodItem) contains(p orb.Point) bool {
	switch g := it.n.Geometry.(type) {
	case orb.Polygon:
		return planar.PolygonContains(g, p)
	case orb.MultiPolygon:
		return planar.MultiPolygonContains(g, p)
	}
	return false
}

// NeighborhoodIndex answers which neighborhood a point falls in.
type NeighborhoodIndex struct {
	tree  *rtreego.Rtree
	items []*neighborhoodItem
}

// NewNeighborhoodIndex skips entries whose geometry is not areal.
func NewNeighborhoodIndex(ns []Neighborhood) *NeighborhoodIndex {
	idx := &NeighborhoodIndex{}
	objs := make([]rtreego.Spatial, 0, len(ns))
	for _, n := range ns {
		switch n.Geometry.(type) {
		case orb.Polygon, orb.MultiPolygon:
		default:
			continue
		}
		b := n.Geometry.Bound()
		rect, err := rtreego.NewRectFromPoints(rtreego.Point{b.Min[0], b.Min[1]}, rtreego.Point{b.Max[0], b.Max[1]})
		if err != nil {
			continue
		}
		it := &neighborhoodItem{n: n, rect: rect}
		idx.items = append(idx.items, it)
		objs = append(objs, it)
	}
	idx.tree = rtreego.NewTree(2, 4, 16, objs...)
	return idx
}

// NeighborhoodsFromFeatures reads the "name" property of every areal feature.
func NeighborhoodsFromFeatures(fc *geojson.FeatureCollection) []Neighborhood {
	if fc == nil {
		return nil
	}
	out := make([]Neighborhood, 0, len(fc.Features))
	for _, f := range fc.Features {
		if f.Geometry == nil {
			continue
		}
		out = append(out, Neighborhood{Name: f.Properties.MustString("name", ""), Geometry: f.Geometry})
	}
	return out
}

func (idx *NeighborhoodIndex) Len() int { return len(idx.items) }

// At returns the neighborhood containing p. When polygons overlap the one
// with the smallest area wins.
func (idx *NeighborhoodIndex) At(p orb.Point) (Neighborhood, bool) {
	candidates := idx.tree.SearchIntersect(rtreego.Point{p[0], p[1]}.ToRect(1e-9))
	var hits []*neighborhoodItem
	for _, c := range candidates {
		it := c.(*neighborhoodItem)
		if it.contains(p) {
			hits = append(hits, it)
		}
	}
	if len(hits) == 0 {
		return Neighborhood{}, false
	}
	sort.Slice(hits, func(i, j int) bool {
		return planar.Area(hits[i].n.Geometry) < planar.Area(hits[j].n.Geometry)
	})
	return hits[0].n, true
}

// FeatureCollection renders the neighborhoods for the overlay layer.
func (idx *NeighborhoodIndex) FeatureCollection() *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, it := range idx.items {
		f := geojson.NewFeature(it.n.Geometry)
		f.Properties["name"] = it.n.Name
		fc.Append(f)
	}
	return fc
}
