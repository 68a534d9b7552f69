package runner

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"web/estatemap/cluster"
	"web/estatemap/listing"
	"web/estatemap/metrics"
	"web/estatemap/session"
)

func testPoints(n int) []cluster.Point {
	points := make([]cluster.Point, n)
	for i := range points {
		points[i] = cluster.Point{
			ID:    fmt.Sprintf("p%d", i),
			Lng:   -73.99 + float64(i)*0.01,
			Lat:   40.73,
			Price: 250000,
		}
	}
	return points
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newRunner(t *testing.T, cfg Config) (*SessionRunner, *clock) {
	t.Helper()
	cfg.Session.Cluster = cluster.Options{RadiusPx: 60, MaxZoom: 16, MinPoints: 2}
	r := New(cfg)
	c := &clock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	r.now = c.now
	t.Cleanup(r.Close)
	return r, c
}

func TestCreateGetDelete(t *testing.T) {
	r, _ := newRunner(t, Config{})

	info, err := r.Create(testPoints(10))
	require.NoError(t, err)
	assert.Len(t, info.ID, 36)
	assert.Equal(t, 10, info.Points)

	s, err := r.Get(info.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, s.Index().Len())

	require.NoError(t, r.Delete(info.ID))
	_, err = r.Get(info.ID)
	var nf *SessionNotFoundError
	assert.True(t, errors.As(err, &nf))
	assert.True(t, errors.As(r.Delete(info.ID), &nf))
}

func TestInfoTracksRebuiltIndex(t *testing.T) {
	r, _ := newRunner(t, Config{})
	info, err := r.Create(testPoints(10))
	require.NoError(t, err)

	s, err := r.Get(info.ID)
	require.NoError(t, err)
	require.NoError(t, s.BuildIndex(testPoints(4)))

	got, err := r.Info(info.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, got.Points)
	require.Len(t, r.List(), 1)
	assert.Equal(t, 4, r.List()[0].Points)
}

func TestCreateRejectsBadOptions(t *testing.T) {
	r := New(Config{Session: session.Options{Cluster: cluster.Options{RadiusPx: -1, MinPoints: 2}}})
	defer r.Close()

	_, err := r.Create(testPoints(3))
	var cfgErr *cluster.ConfigError
	assert.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, 0, r.Len())
}

func TestListOldestFirst(t *testing.T) {
	r, c := newRunner(t, Config{})

	a, err := r.Create(testPoints(2))
	require.NoError(t, err)
	c.t = c.t.Add(time.Minute)
	b, err := r.Create(testPoints(3))
	require.NoError(t, err)

	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, a.ID, list[0].ID)
	assert.Equal(t, b.ID, list[1].ID)
}

func TestLeastRecentlyUsedIsEvicted(t *testing.T) {
	m := metrics.New()
	r, c := newRunner(t, Config{MaxSessions: 2, Metrics: m})

	a, _ := r.Create(testPoints(2))
	c.t = c.t.Add(time.Second)
	b, _ := r.Create(testPoints(2))
	c.t = c.t.Add(time.Second)
	_, err := r.Get(a.ID)
	require.NoError(t, err)
	c.t = c.t.Add(time.Second)

	_, err = r.Create(testPoints(2))
	require.NoError(t, err)

	assert.Equal(t, 2, r.Len())
	_, err = r.Get(b.ID)
	assert.Error(t, err, "b was least recently used")
	_, err = r.Get(a.ID)
	assert.NoError(t, err)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ActiveSessions))
}

func TestIdleSessionsAreEvicted(t *testing.T) {
	r, c := newRunner(t, Config{IdleTTL: 10 * time.Minute})

	old, _ := r.Create(testPoints(2))
	c.t = c.t.Add(8 * time.Minute)
	fresh, _ := r.Create(testPoints(2))
	c.t = c.t.Add(5 * time.Minute)

	assert.Equal(t, 1, r.evictIdle())
	_, err := r.Info(old.ID)
	assert.Error(t, err)
	_, err = r.Info(fresh.ID)
	assert.NoError(t, err)
}

func TestCreateFromDataset(t *testing.T) {
	store, err := listing.NewStore(t.TempDir())
	require.NoError(t, err)
	ds, err := store.Save(testPoints(7))
	require.NoError(t, err)

	r, _ := newRunner(t, Config{Store: store})
	info, err := r.CreateFromDataset(ds.ID)
	require.NoError(t, err)
	assert.Equal(t, 7, info.Points)
	assert.Equal(t, ds.ID, info.Dataset)

	_, err = r.CreateFromDataset("missing")
	var nf *listing.DatasetNotFoundError
	assert.True(t, errors.As(err, &nf))
}

func TestCreateFromDatasetWithoutStore(t *testing.T) {
	r, _ := newRunner(t, Config{})
	_, err := r.CreateFromDataset("abc")
	var nf *listing.DatasetNotFoundError
	assert.True(t, errors.As(err, &nf))
}

func TestCloseEmptiesRunner(t *testing.T) {
	r := New(Config{Session: session.Options{Cluster: cluster.Options{RadiusPx: 60, MaxZoom: 16, MinPoints: 2}}})
	_, err := r.Create(testPoints(2))
	require.NoError(t, err)
	r.Close()
	r.Close()
	assert.Equal(t, 0, r.Len())
}
