package cluster

import (
	"fmt"
	"math/rand"
	"runtime"
	"testing"

	"github.com/paulmach/orb"
)

// generateRandomPoints creates n random listings within a geographic bounding box
func generateRandomPoints(n int, minLng, maxLng, minLat, maxLat float64) []Point {
	points := make([]Point, n)
	// deterministic seed for reproducibility
	r := rand.New(rand.NewSource(42))
	categories := []string{"house", "apartment", "land"}

	for i := 0; i < n; i++ {
		points[i] = Point{
			ID:       fmt.Sprintf("p%d", i+1),
			Lng:      minLng + r.Float64()*(maxLng-minLng),
			Lat:      minLat + r.Float64()*(maxLat-minLat),
			Price:    50000 + r.Float64()*950000,
			Category: categories[r.Intn(len(categories))],
		}
	}
	return points
}

var benchOptions = Options{RadiusPx: 60, MaxZoom: 16, MinPoints: 2}

func benchmarkBuild(b *testing.B, numPoints int) {
	points := generateRandomPoints(numPoints, -125.0, -65.0, 25.0, 49.0)

	var before, after runtime.MemStats
	runtime.ReadMemStats(&before)
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		if _, err := Build(points, benchOptions); err != nil {
			b.Fatal(err)
		}
	}

	b.StopTimer()
	runtime.ReadMemStats(&after)
	b.ReportMetric(float64(after.TotalAlloc-before.TotalAlloc)/1024/1024/float64(b.N), "MB/op")
}

func BenchmarkBuildSmall(b *testing.B)  { benchmarkBuild(b, 1000) }
func BenchmarkBuildMedium(b *testing.B) { benchmarkBuild(b, 10000) }
func BenchmarkBuildLarge(b *testing.B)  { benchmarkBuild(b, 50000) }

func benchmarkQuery(b *testing.B, zoom int) {
	idx, err := Build(generateRandomPoints(20000, -125.0, -65.0, 25.0, 49.0), benchOptions)
	if err != nil {
		b.Fatal(err)
	}
	view := orb.Bound{Min: orb.Point{-100, 35}, Max: orb.Point{-90, 42}}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		idx.ClustersInBounds(view, zoom)
	}
}

func BenchmarkQuery_LowZoom(b *testing.B)  { benchmarkQuery(b, 3) }
func BenchmarkQuery_MidZoom(b *testing.B)  { benchmarkQuery(b, 8) }
func BenchmarkQuery_HighZoom(b *testing.B) { benchmarkQuery(b, 14) }
