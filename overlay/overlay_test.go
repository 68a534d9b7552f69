package overlay

import (
	"errors"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"web/estatemap/cluster"
)

type recordingSurface struct {
	sources    map[Kind]int
	visibility []Kind
}

func newRecordingSurface() *recordingSurface {
	return &recordingSurface{sources: make(map[Kind]int)}
}

func (s *recordingSurface) SetLayerSource(kind Kind, _ *geojson.FeatureCollection) {
	s.sources[kind]++
}

func (s *recordingSurface) SetLayerVisibility(kind Kind, _ bool) {
	s.visibility = append(s.visibility, kind)
}

func sampleData() *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	fc.Append(geojson.NewFeature(orb.Point{1, 2}))
	return fc
}

func TestLayersHaveFixedZOrder(t *testing.T) {
	c := New(nil)
	layers := c.Layers()
	require.Len(t, layers, len(Kinds))
	for i, l := range layers {
		assert.Equal(t, Kinds[i], l.Kind)
		assert.Equal(t, i, l.ZIndex)
		assert.False(t, l.Visible)
		assert.Nil(t, l.Data)
	}

	require.NoError(t, c.SetLayerVisible(Isochrone, true))
	require.NoError(t, c.SetLayerData(Heatmap, sampleData()))
	for i, l := range c.Layers() {
		assert.Equal(t, i, l.ZIndex)
	}
}

func TestHiddenLayerKeepsData(t *testing.T) {
	surface := newRecordingSurface()
	c := New(surface)

	data := sampleData()
	require.NoError(t, c.SetLayerData(Neighborhoods, data))
	require.NoError(t, c.SetLayerVisible(Neighborhoods, true))

	visible, err := c.Toggle(Neighborhoods)
	require.NoError(t, err)
	assert.False(t, visible)
	l, err := c.Layer(Neighborhoods)
	require.NoError(t, err)
	assert.Same(t, data, l.Data)

	visible, err = c.Toggle(Neighborhoods)
	require.NoError(t, err)
	assert.True(t, visible)

	// re-showing never pushes the source again
	assert.Equal(t, 1, surface.sources[Neighborhoods])
	assert.Equal(t, []Kind{Neighborhoods, Neighborhoods, Neighborhoods}, surface.visibility)
}

func TestLayersAreIndependent(t *testing.T) {
	c := New(nil)
	require.NoError(t, c.SetLayerVisible(Heatmap, true))
	require.NoError(t, c.SetLayerData(POI, sampleData()))

	heat, _ := c.Layer(Heatmap)
	poi, _ := c.Layer(POI)
	assert.True(t, heat.Visible)
	assert.Nil(t, heat.Data)
	assert.False(t, poi.Visible)
	assert.NotNil(t, poi.Data)
}

func TestSetVisibleIsNoopWhenUnchanged(t *testing.T) {
	surface := newRecordingSurface()
	c := New(surface)
	require.NoError(t, c.SetLayerVisible(POI, false))
	assert.Empty(t, surface.visibility)
}

func TestUnknownLayer(t *testing.T) {
	c := New(nil)
	var unknown *UnknownLayerError

	err := c.SetLayerVisible(Kind("traffic"), true)
	assert.True(t, errors.As(err, &unknown))
	_, err = c.Toggle(Kind("traffic"))
	assert.True(t, errors.As(err, &unknown))
	_, err = ParseKind("traffic")
	assert.True(t, errors.As(err, &unknown))

	k, err := ParseKind("drawn-area")
	require.NoError(t, err)
	assert.Equal(t, DrawnArea, k)
}

func TestHeatmapFromPoints(t *testing.T) {
	points := []cluster.Point{
		{ID: "a", Lng: -73.9851, Lat: 40.7589, Price: 100},
		{ID: "b", Lng: -73.9852, Lat: 40.7590, Price: 300},
		{ID: "c", Lng: 2.2945, Lat: 48.8584, Price: 400},
	}
	fc := HeatmapFromPoints(points, 6)
	require.Len(t, fc.Features, 2)

	total := 0
	for _, f := range fc.Features {
		count := f.Properties.MustInt("count")
		total += count
		w := f.Properties.MustFloat64("weight")
		assert.True(t, w > 0 && w <= 1)
		assert.Len(t, f.Properties.MustString("geohash"), 6)
		if count == 2 {
			assert.Equal(t, 200.0, f.Properties.MustFloat64("avgPrice"))
			assert.Equal(t, 0.5, w)
			p := f.Geometry.(orb.Point)
			assert.InDelta(t, -73.985, p.Lon(), 0.01)
			assert.InDelta(t, 40.759, p.Lat(), 0.01)
		} else {
			assert.Equal(t, 1.0, w)
		}
	}
	assert.Equal(t, 3, total)

	assert.Empty(t, HeatmapFromPoints(nil, 5).Features)
}

func square(minX, minY, maxX, maxY float64) orb.Polygon {
	return orb.Polygon{orb.Ring{{minX, minY}, {maxX, minY}, {maxX, maxY}, {minX, maxY}, {minX, minY}}}
}

func TestNeighborhoodIndexAt(t *testing.T) {
	idx := NewNeighborhoodIndex([]Neighborhood{
		{Name: "downtown", Geometry: square(0, 0, 10, 10)},
		{Name: "old town", Geometry: square(2, 2, 4, 4)},
		{Name: "islands", Geometry: orb.MultiPolygon{square(20, 20, 21, 21), square(30, 30, 31, 31)}},
		{Name: "not an area", Geometry: orb.Point{5, 5}},
	})
	assert.Equal(t, 3, idx.Len())

	n, ok := idx.At(orb.Point{3, 3})
	require.True(t, ok)
	assert.Equal(t, "old town", n.Name)

	n, ok = idx.At(orb.Point{8, 8})
	require.True(t, ok)
	assert.Equal(t, "downtown", n.Name)

	n, ok = idx.At(orb.Point{30.5, 30.5})
	require.True(t, ok)
	assert.Equal(t, "islands", n.Name)

	_, ok = idx.At(orb.Point{15, 15})
	assert.False(t, ok)

	fc := idx.FeatureCollection()
	assert.Len(t, fc.Features, 3)
}

func TestNeighborhoodsFromFeatures(t *testing.T) {
	fc := geojson.NewFeatureCollection()
	f := geojson.NewFeature(square(0, 0, 1, 1))
	f.Properties["name"] = "harbor"
	fc.Append(f)

	ns := NeighborhoodsFromFeatures(fc)
	require.Len(t, ns, 1)
	assert.Equal(t, "harbor", ns[0].Name)
	assert.Nil(t, NeighborhoodsFromFeatures(nil))
}
