// Package poi fetches points of interest for the POI overlay from an
// Overpass API endpoint.
package poi

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/serjvanilla/go-overpass"
)

const (
	DefaultEndpoint = "https://overpass-api.de/api/interpreter"
	DefaultAmenity  = "school|hospital|pharmacy|supermarket|park|restaurant|cafe"
	DefaultTimeout  = 15 * time.Second
)

// Source returns the POIs inside a bounding box as GeoJSON points.
type Source interface {
	Fetch(ctx context.Context, bbox orb.Bound) (*geojson.FeatureCollection, error)
}

type OverpassSource struct {
	client  overpass.Client
	amenity string
	timeout time.Duration
}

func NewOverpassSource(endpoint, amenity string, timeout time.Duration) *OverpassSource {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if amenity == "" {
		amenity = DefaultAmenity
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	httpClient := &http.Client{Timeout: timeout}
	return &OverpassSource{
		client:  overpass.NewWithSettings(endpoint, 2, httpClient),
		amenity: amenity,
		timeout: timeout,
	}
}

// BuildQuery selects amenity nodes in bbox. Overpass expects the box as
// south,west,north,east.
func BuildQuery(bbox orb.Bound, amenity string, timeout time.Duration) string {
	return fmt.Sprintf(`[out:json][timeout:%d];
(
	node["amenity"~"%s"](%s,%s,%s,%s);
);
out body;`,
		int(timeout.Seconds()), amenity,
		coord(bbox.Min[1]), coord(bbox.Min[0]), coord(bbox.Max[1]), coord(bbox.Max[0]))
}

func coord(v float64) string { return strconv.FormatFloat(v, 'f', 6, 64) }

// Fetch runs the query. The overpass client has no context support, so a
// cancelled ctx abandons the request and returns ctx.Err().
func (s *OverpassSource) Fetch(ctx context.Context, bbox orb.Bound) (*geojson.FeatureCollection, error) {
	type answer struct {
		result overpass.Result
		err    error
	}
	ch := make(chan answer, 1)
	query := BuildQuery(bbox, s.amenity, s.timeout)
	go func() {
		res, err := s.client.Query(query)
		ch <- answer{res, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case a := <-ch:
		if a.err != nil {
			return nil, fmt.Errorf("poi: overpass query failed: %w", a.err)
		}
		return toFeatures(&a.result), nil
	}
}

func toFeatures(result *overpass.Result) *geojson.FeatureCollection {
	ids := make([]int64, 0, len(result.Nodes))
	for id := range result.Nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	fc := geojson.NewFeatureCollection()
	for _, id := range ids {
		node := result.Nodes[id]
		f := geojson.NewFeature(orb.Point{node.Lon, node.Lat})
		f.ID = node.ID
		f.Properties["osmId"] = node.ID
		f.Properties["amenity"] = node.Tags["amenity"]
		if name := node.Tags["name"]; name != "" {
			f.Properties["name"] = name
		}
		fc.Append(f)
	}
	return fc
}
