package listing

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/paulmach/orb"

	"web/estatemap/cluster"
)

// ContinentalUS is the default area for generated listings.
var ContinentalUS = orb.Bound{Min: orb.Point{-125.0, 25.0}, Max: orb.Point{-67.0, 49.0}}

var Categories = []string{"house", "apartment", "condo", "townhouse", "land"}

type city struct {
	lng, lat float64
	weight   float64
}

// Generate creates n listings inside bounds. Most listings gather around a
// handful of random city centers with a gaussian spread and the rest are
// uniform, so clustering looks like real inventory. The same seed always
// yields the same listings.
func Generate(n int, bounds orb.Bound, seed int64) []cluster.Point {
	r := rand.New(rand.NewSource(seed))
	width := bounds.Max[0] - bounds.Min[0]
	height := bounds.Max[1] - bounds.Min[1]

	numCities := 5 + r.Intn(6)
	cities := make([]city, numCities)
	total := 0.0
	for i := range cities {
		cities[i] = city{
			lng:    bounds.Min[0] + r.Float64()*width,
			lat:    bounds.Min[1] + r.Float64()*height,
			weight: 0.2 + r.Float64(),
		}
		total += cities[i].weight
	}

	points := make([]cluster.Point, n)
	for i := range points {
		var lng, lat float64
		if r.Float64() < 0.8 {
			c := pickCity(cities, r.Float64()*total)
			spread := math.Min(width, height) * 0.02
			lng = clamp(c.lng+r.NormFloat64()*spread, bounds.Min[0], bounds.Max[0])
			lat = clamp(c.lat+r.NormFloat64()*spread, bounds.Min[1], bounds.Max[1])
		} else {
			lng = bounds.Min[0] + r.Float64()*width
			lat = bounds.Min[1] + r.Float64()*height
		}
		points[i] = cluster.Point{
			ID:       fmt.Sprintf("listing-%d", i+1),
			Lng:      lng,
			Lat:      lat,
			Price:    math.Round(80000 + math.Exp(r.NormFloat64()*0.6+12.5)),
			Category: Categories[r.Intn(len(Categories))],
		}
	}
	return points
}

func pickCity(cities []city, target float64) city {
	for _, c := range cities {
		if target < c.weight {
			return c
		}
		target -= c.weight
	}
	return cities[len(cities)-1]
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
