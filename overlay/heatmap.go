package overlay

import (
	"sort"

	"github.com/mmcloughlin/geohash"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"web/estatemap/cluster"
)

// DefaultHeatmapPrecision is a geohash length of roughly 1.2km cells.
const DefaultHeatmapPrecision = 6

type heatCell struct {
	hash     string
	count    int
	priceSum float64
}

// HeatmapFromPoints buckets listings into geohash cells. Each feature sits at
// its cell center and carries count, avgPrice and a weight in [0, 1] that is
// the cell's average price relative to the most expensive cell.
func HeatmapFromPoints(points []cluster.Point, precision uint) *geojson.FeatureCollection {
	if precision == 0 || precision > 12 {
		precision = DefaultHeatmapPrecision
	}
	cells := make(map[string]*heatCell)
	for _, p := range points {
		hash := geohash.EncodeWithPrecision(p.Lat, p.Lng, precision)
		c, ok := cells[hash]
		if !ok {
			c = &heatCell{hash: hash}
			cells[hash] = c
		}
		c.count++
		c.priceSum += p.Price
	}

	ordered := make([]*heatCell, 0, len(cells))
	maxAvg := 0.0
	for _, c := range cells {
		ordered = append(ordered, c)
		if avg := c.priceSum / float64(c.count); avg > maxAvg {
			maxAvg = avg
		}
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].hash < ordered[j].hash })

	fc := geojson.NewFeatureCollection()
	for _, c := range ordered {
		lat, lng := geohash.DecodeCenter(c.hash)
		avg := c.priceSum / float64(c.count)
		weight := 0.0
		if maxAvg > 0 {
			weight = avg / maxAvg
		}
		f := geojson.NewFeature(orb.Point{lng, lat})
		f.Properties["geohash"] = c.hash
		f.Properties["count"] = c.count
		f.Properties["avgPrice"] = avg
		f.Properties["weight"] = weight
		fc.Append(f)
	}
	return fc
}
