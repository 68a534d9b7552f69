package poi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const overpassBody = `{
  "version": 0.6,
  "osm3s": {"timestamp_osm_base": "2024-05-01T12:00:00Z"},
  "elements": [
    {"type": "node", "id": 20, "lat": 40.74, "lon": -73.99, "tags": {"amenity": "cafe"}},
    {"type": "node", "id": 10, "lat": 40.73, "lon": -73.98, "tags": {"amenity": "school", "name": "PS 41"}}
  ]
}`

var manhattan = orb.Bound{Min: orb.Point{-74.02, 40.70}, Max: orb.Point{-73.93, 40.80}}

func TestBuildQuery(t *testing.T) {
	q := BuildQuery(manhattan, "school|park", 20*time.Second)
	assert.Contains(t, q, "[timeout:20]")
	assert.Contains(t, q, `node["amenity"~"school|park"](40.700000,-74.020000,40.800000,-73.930000)`)
}

func TestFetchConvertsNodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(overpassBody))
	}))
	defer srv.Close()

	src := NewOverpassSource(srv.URL, "", time.Second)
	fc, err := src.Fetch(context.Background(), manhattan)
	require.NoError(t, err)
	require.Len(t, fc.Features, 2)

	first := fc.Features[0]
	assert.Equal(t, orb.Point{-73.98, 40.73}, first.Geometry)
	assert.Equal(t, "school", first.Properties["amenity"])
	assert.Equal(t, "PS 41", first.Properties["name"])
	assert.Equal(t, "cafe", fc.Features[1].Properties["amenity"])
	_, hasName := fc.Features[1].Properties["name"]
	assert.False(t, hasName)
}

func TestFetchServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewOverpassSource(srv.URL, "", time.Second).Fetch(context.Background(), manhattan)
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "poi:"))
}

func TestFetchHonoursContext(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := NewOverpassSource(srv.URL, "", 5*time.Second).Fetch(ctx, manhattan)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
