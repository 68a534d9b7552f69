// Package listing reads and writes listing point sets: GeoJSON files,
// compact binary snapshots, zstd-compressed variants of both, and a
// directory of saved datasets.
package listing

import (
	"fmt"
	"strconv"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"web/estatemap/cluster"
)

// DecodeGeoJSON reads a FeatureCollection of Point features. The listing id
// comes from the "id" property, then the feature id, then the position in
// the file. Non-point features are skipped.
func DecodeGeoJSON(data []byte) ([]cluster.Point, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("listing: decode geojson: %w", err)
	}
	return FromFeatures(fc), nil
}

func FromFeatures(fc *geojson.FeatureCollection) []cluster.Point {
	points := make([]cluster.Point, 0, len(fc.Features))
	for i, f := range fc.Features {
		pt, ok := f.Geometry.(orb.Point)
		if !ok {
			continue
		}
		points = append(points, cluster.Point{
			ID:       featureID(f, i),
			Lng:      pt.Lon(),
			Lat:      pt.Lat(),
			Price:    f.Properties.MustFloat64("price", 0),
			Category: f.Properties.MustString("category", ""),
		})
	}
	return points
}

func featureID(f *geojson.Feature, i int) string {
	for _, v := range []interface{}{f.Properties["id"], f.ID} {
		switch id := v.(type) {
		case string:
			if id != "" {
				return id
			}
		case float64:
			return strconv.FormatFloat(id, 'f', -1, 64)
		case int:
			return strconv.Itoa(id)
		}
	}
	return "listing-" + strconv.Itoa(i+1)
}

// ToFeatures is the inverse of FromFeatures.
func ToFeatures(points []cluster.Point) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, p := range points {
		f := geojson.NewFeature(orb.Point{p.Lng, p.Lat})
		f.Properties["id"] = p.ID
		f.Properties["price"] = p.Price
		if p.Category != "" {
			f.Properties["category"] = p.Category
		}
		fc.Append(f)
	}
	return fc
}
