package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"web/estatemap/cluster"
	"web/estatemap/isochrone"
	"web/estatemap/listing"
	"web/estatemap/metrics"
	"web/estatemap/runner"
	"web/estatemap/session"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

const fiveListings = `{"type":"FeatureCollection","features":[
{"type":"Feature","geometry":{"type":"Point","coordinates":[-73.990,40.73]},"properties":{"id":"p1","price":100000,"category":"house"}},
{"type":"Feature","geometry":{"type":"Point","coordinates":[-73.988,40.73]},"properties":{"id":"p2","price":200000,"category":"house"}},
{"type":"Feature","geometry":{"type":"Point","coordinates":[-73.986,40.73]},"properties":{"id":"p3","price":300000,"category":"apartment"}},
{"type":"Feature","geometry":{"type":"Point","coordinates":[-73.984,40.73]},"properties":{"id":"p4","price":400000,"category":"house"}},
{"type":"Feature","geometry":{"type":"Point","coordinates":[-73.982,40.73]},"properties":{"id":"p5","price":500000,"category":"land"}}
]}`

const downtownQuery = "north=40.85&south=40.65&east=-73.9&west=-74.1"

type testEnv struct {
	server  *Server
	runner  *runner.SessionRunner
	metrics *metrics.Metrics
}

func newEnv(t *testing.T, cfg runner.Config) *testEnv {
	t.Helper()
	m := metrics.New()
	cfg.Metrics = m
	cfg.Session.Cluster = cluster.Options{RadiusPx: 60, MaxZoom: 16, MinPoints: 2}
	r := runner.New(cfg)
	t.Cleanup(r.Close)
	return &testEnv{server: NewServer(Config{Addr: ":0"}, r, m, nil), runner: r, metrics: m}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader([]byte(body)))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

func (e *testEnv) createSession(t *testing.T) string {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/sessions", fiveListings)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var info runner.Info
	decode(t, w, &info)
	return info.ID
}

func TestHealthAndMetrics(t *testing.T) {
	env := newEnv(t, runner.Config{})

	w := env.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)

	env.do(t, http.MethodGet, "/api/sessions", "")
	w = env.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "estatemap_http_requests_total")
}

func TestCORSPreflight(t *testing.T) {
	env := newEnv(t, runner.Config{})
	w := env.do(t, http.MethodOptions, "/api/sessions", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestCreateSessionFromGeoJSON(t *testing.T) {
	env := newEnv(t, runner.Config{})
	id := env.createSession(t)

	w := env.do(t, http.MethodGet, "/api/sessions", "")
	var list []runner.Info
	decode(t, w, &list)
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0].ID)
	assert.Equal(t, 5, list[0].Points)
}

func TestCreateSessionFromGenerator(t *testing.T) {
	env := newEnv(t, runner.Config{})
	w := env.do(t, http.MethodPost, "/api/sessions", `{"numPoints": 200, "seed": 7}`)
	require.Equal(t, http.StatusCreated, w.Code)
	var info runner.Info
	decode(t, w, &info)
	assert.Equal(t, 200, info.Points)
}

func TestCreateSessionRejectsBadBodies(t *testing.T) {
	env := newEnv(t, runner.Config{})
	for _, body := range []string{`nope`, `{}`, `{"numPoints": -3}`, `{"type":"FeatureCollection","features":3}`} {
		w := env.do(t, http.MethodPost, "/api/sessions", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
	}
}

func TestClustersAndSummary(t *testing.T) {
	env := newEnv(t, runner.Config{})
	id := env.createSession(t)

	w := env.do(t, http.MethodGet, "/api/sessions/"+id+"/clusters?zoom=10&"+downtownQuery, "")
	require.Equal(t, http.StatusOK, w.Code)
	fc, err := geojson.UnmarshalFeatureCollection(w.Body.Bytes())
	require.NoError(t, err)
	require.Len(t, fc.Features, 1)
	assert.Equal(t, true, fc.Features[0].Properties["cluster"])
	assert.Equal(t, 5.0, fc.Features[0].Properties["point_count"])

	w = env.do(t, http.MethodGet, "/api/sessions/"+id+"/summary?zoom=16&"+downtownQuery, "")
	require.Equal(t, http.StatusOK, w.Code)
	var sum cluster.Summary
	decode(t, w, &sum)
	assert.Equal(t, 5, sum.TotalPoints)
	assert.Equal(t, 5, sum.NumSinglePoints)
	assert.InDelta(t, 60.0, sum.Categories["house"], 1e-9)
}

func TestClusterDrillDown(t *testing.T) {
	env := newEnv(t, runner.Config{})
	id := env.createSession(t)

	w := env.do(t, http.MethodGet, "/api/sessions/"+id+"/clusters?zoom=10&"+downtownQuery, "")
	fc, err := geojson.UnmarshalFeatureCollection(w.Body.Bytes())
	require.NoError(t, err)
	key := fc.Features[0].ID.(string)

	w = env.do(t, http.MethodGet, "/api/sessions/"+id+"/clusters/"+key+"/leaves?limit=3", "")
	require.Equal(t, http.StatusOK, w.Code)
	leaves, err := geojson.UnmarshalFeatureCollection(w.Body.Bytes())
	require.NoError(t, err)
	assert.Len(t, leaves.Features, 3)

	w = env.do(t, http.MethodGet, "/api/sessions/"+id+"/clusters/"+key+"/expansion-zoom", "")
	require.Equal(t, http.StatusOK, w.Code)
	var ez struct {
		Zoom int `json:"zoom"`
	}
	decode(t, w, &ez)
	assert.Greater(t, ez.Zoom, 10)

	w = env.do(t, http.MethodGet, "/api/sessions/"+id+"/clusters/"+key+"/children", "")
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, "/api/sessions/"+id+"/clusters/9999/leaves", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = env.do(t, http.MethodGet, "/api/sessions/"+id+"/clusters/abc/leaves", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestQueryValidation(t *testing.T) {
	env := newEnv(t, runner.Config{})
	id := env.createSession(t)

	w := env.do(t, http.MethodGet, "/api/sessions/"+id+"/clusters?zoom=x&"+downtownQuery, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = env.do(t, http.MethodGet, "/api/sessions/"+id+"/clusters?zoom=3&north=1&south=2&east=0&west=0", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = env.do(t, http.MethodGet, "/api/sessions/nope/clusters?zoom=3&"+downtownQuery, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestViewportAndMarkers(t *testing.T) {
	env := newEnv(t, runner.Config{})
	id := env.createSession(t)

	w := env.do(t, http.MethodPost, "/api/sessions/"+id+"/viewport",
		`{"north":40.85,"south":40.65,"east":-73.9,"west":-74.1,"zoom":16}`)
	require.Equal(t, http.StatusOK, w.Code)
	var res struct {
		Diff    struct{ Added []string } `json:"diff"`
		Markers []session.Marker         `json:"markers"`
	}
	decode(t, w, &res)
	assert.Len(t, res.Diff.Added, 5)
	assert.Len(t, res.Markers, 5)

	w = env.do(t, http.MethodPost, "/api/sessions/"+id+"/markers/p3/click", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"selectedId":"p3"`)

	w = env.do(t, http.MethodPost, "/api/sessions/"+id+"/markers/p4/hover", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"diff":{"added":null,"updated":["p4"],"removed":null}}`, w.Body.String())
	w = env.do(t, http.MethodDelete, "/api/sessions/"+id+"/markers/p4/hover", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"updated":["p4"]`)
	w = env.do(t, http.MethodPost, "/api/sessions/"+id+"/markers/nope/hover", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodPost, "/api/sessions/"+id+"/listings/p1/favorite", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"favorite":true`)

	w = env.do(t, http.MethodPost, "/api/sessions/"+id+"/viewport", `{"north":1,"south":0,"east":1,"west":0}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLayers(t *testing.T) {
	env := newEnv(t, runner.Config{})
	id := env.createSession(t)

	w := env.do(t, http.MethodPost, "/api/sessions/"+id+"/layers/heatmap/toggle", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"visible":true`)

	w = env.do(t, http.MethodPut, "/api/sessions/"+id+"/layers/heatmap/visible", `{"visible":false}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodPost, "/api/sessions/"+id+"/layers/traffic/toggle", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPut, "/api/sessions/"+id+"/layers/poi/data",
		`{"type":"FeatureCollection","features":[{"type":"Feature","geometry":{"type":"Point","coordinates":[1,2]},"properties":{}}]}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, "/api/sessions/"+id+"/layers", "")
	var layers []struct {
		Kind    string `json:"kind"`
		Visible bool   `json:"visible"`
	}
	decode(t, w, &layers)
	require.Len(t, layers, 5)
	assert.Equal(t, "heatmap", layers[0].Kind)
	assert.Equal(t, "isochrone", layers[4].Kind)
}

func TestDrawFlow(t *testing.T) {
	env := newEnv(t, runner.Config{})
	id := env.createSession(t)
	base := "/api/sessions/" + id + "/draw"

	w := env.do(t, http.MethodPost, base+"/points", `{"lng":-74.0,"lat":40.72}`)
	assert.Contains(t, w.Body.String(), `"accepted":false`)

	env.do(t, http.MethodPost, base+"/start", "")
	for _, p := range []string{`{"lng":-74.0,"lat":40.72}`, `{"lng":-73.97,"lat":40.72}`} {
		w = env.do(t, http.MethodPost, base+"/points", p)
		require.Equal(t, http.StatusOK, w.Code)
	}
	w = env.do(t, http.MethodPost, base+"/finish", "")
	assert.Contains(t, w.Body.String(), `"finished":false`)

	env.do(t, http.MethodPost, base+"/points", `{"lng":-73.97,"lat":40.74}`)
	w = env.do(t, http.MethodPost, base+"/finish", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"finished":true`)

	w = env.do(t, http.MethodGet, base+"/listings", "")
	fc, err := geojson.UnmarshalFeatureCollection(w.Body.Bytes())
	require.NoError(t, err)
	assert.NotEmpty(t, fc.Features)

	w = env.do(t, http.MethodPost, base+"/points", `{"lng":-73.97}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodDelete, base, "")
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestIsochrone(t *testing.T) {
	fetch := isochrone.FetcherFunc(func(ctx context.Context, c orb.Point, minutes int, mode string) (orb.Polygon, error) {
		return orb.Polygon{{{-74, 40.7}, {-73.9, 40.7}, {-73.9, 40.8}, {-74, 40.7}}}, nil
	})
	env := newEnv(t, runner.Config{Session: session.Options{Fetcher: fetch}})
	id := env.createSession(t)
	base := "/api/sessions/" + id + "/isochrone"

	w := env.do(t, http.MethodPost, base, `{"lng":-73.98,"lat":40.73,"minutes":15,"mode":"walking"}`)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	sess, err := env.runner.Get(id)
	require.NoError(t, err)
	sess.Wait()

	w = env.do(t, http.MethodGet, base, "")
	assert.Contains(t, w.Body.String(), `"status":"active"`)

	w = env.do(t, http.MethodPost, base, `{"lng":-73.98,"lat":40.73,"minutes":500}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodDelete, base, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"idle"`)
}

func TestIsochroneWithoutService(t *testing.T) {
	env := newEnv(t, runner.Config{})
	id := env.createSession(t)
	w := env.do(t, http.MethodPost, "/api/sessions/"+id+"/isochrone", `{"lng":-73.98,"lat":40.73,"minutes":15}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestDatasets(t *testing.T) {
	store, err := listing.NewStore(t.TempDir())
	require.NoError(t, err)
	env := newEnv(t, runner.Config{Store: store})

	w := env.do(t, http.MethodPost, "/api/datasets", `{"numPoints": 300, "seed": 3}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var ds listing.DatasetInfo
	decode(t, w, &ds)
	assert.Equal(t, 300, ds.NumPoints)

	w = env.do(t, http.MethodGet, "/api/datasets", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), ds.ID)

	w = env.do(t, http.MethodPost, "/api/datasets/"+ds.ID+"/sessions", "")
	require.Equal(t, http.StatusCreated, w.Code)
	var info runner.Info
	decode(t, w, &info)
	assert.Equal(t, 300, info.Points)
	assert.Equal(t, ds.ID, info.Dataset)

	w = env.do(t, http.MethodPost, "/api/datasets/missing/sessions", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDatasetsWithoutStore(t *testing.T) {
	env := newEnv(t, runner.Config{})
	w := env.do(t, http.MethodGet, "/api/datasets", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestReplacePointsAndDelete(t *testing.T) {
	env := newEnv(t, runner.Config{})
	id := env.createSession(t)

	w := env.do(t, http.MethodPut, "/api/sessions/"+id+"/points", `{"numPoints": 40, "seed": 1}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"points":40}`, w.Body.String())
	w = env.do(t, http.MethodGet, "/api/sessions/"+id, "")
	require.Equal(t, http.StatusOK, w.Code)
	var info runner.Info
	decode(t, w, &info)
	assert.Equal(t, 40, info.Points)

	w = env.do(t, http.MethodDelete, "/api/sessions/"+id, "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = env.do(t, http.MethodGet, "/api/sessions/"+id, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
