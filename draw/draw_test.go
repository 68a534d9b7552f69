package draw

import (
	"errors"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFinishNeedsThreePoints(t *testing.T) {
	tool := New()
	tool.Start()
	assert.Equal(t, Idle, tool.Status())

	require.True(t, tool.AppendPoint(orb.Point{0, 0}))
	require.True(t, tool.AppendPoint(orb.Point{1, 0}))
	assert.Equal(t, Collecting, tool.Status())
	assert.False(t, tool.CanFinish())

	_, ok := tool.Finish()
	assert.False(t, ok)
	assert.Equal(t, Collecting, tool.Status())
	assert.Len(t, tool.Points(), 2)

	require.True(t, tool.AppendPoint(orb.Point{1, 1}))
	assert.True(t, tool.CanFinish())
	r, ok := tool.Finish()
	require.True(t, ok)
	assert.Equal(t, Finished, r.Status)
	assert.Equal(t, []orb.Point{{0, 0}, {1, 0}, {1, 1}}, r.Points)

	assert.Equal(t, Idle, tool.Status())
	assert.False(t, tool.Active())
	assert.Empty(t, tool.Points())
}

func TestClicksIgnoredUntilStarted(t *testing.T) {
	tool := New()
	assert.False(t, tool.AppendPoint(orb.Point{1, 1}))
	assert.Equal(t, Idle, tool.Status())

	_, ok := tool.Finish()
	assert.False(t, ok)
}

func TestCancelFromAnyState(t *testing.T) {
	tool := New()
	r := tool.Cancel()
	assert.Equal(t, Cancelled, r.Status)

	tool.Start()
	tool.AppendPoint(orb.Point{3, 4})
	r = tool.Cancel()
	assert.Equal(t, Cancelled, r.Status)
	assert.Equal(t, []orb.Point{{3, 4}}, r.Points)
	assert.Equal(t, Idle, tool.Status())
	assert.False(t, tool.AppendPoint(orb.Point{5, 5}))
}

func TestRestartDiscardsPoints(t *testing.T) {
	tool := New()
	tool.Start()
	tool.AppendPoint(orb.Point{1, 1})
	tool.Start()
	assert.Empty(t, tool.Points())
	assert.Equal(t, Idle, tool.Status())
}

func TestPolygonClosesRing(t *testing.T) {
	poly, err := Polygon([]orb.Point{{0, 0}, {1, 0}, {1, 1}})
	require.NoError(t, err)
	require.Len(t, poly, 1)
	assert.Len(t, poly[0], 4)
	assert.True(t, poly[0].Closed())

	_, err = Polygon([]orb.Point{{0, 0}, {1, 0}})
	assert.True(t, errors.Is(err, ErrIncompletePolygon))
}

func TestAreaContainsEitherWinding(t *testing.T) {
	ccw := []orb.Point{{-74.02, 40.70}, {-73.97, 40.70}, {-73.97, 40.75}, {-74.02, 40.75}}
	cw := []orb.Point{{-74.02, 40.70}, {-74.02, 40.75}, {-73.97, 40.75}, {-73.97, 40.70}}

	for _, pts := range [][]orb.Point{ccw, cw} {
		poly, err := Polygon(pts)
		require.NoError(t, err)
		area, err := NewArea(poly)
		require.NoError(t, err)

		assert.True(t, area.Contains(orb.Point{-74.0, 40.72}))
		assert.False(t, area.Contains(orb.Point{-73.90, 40.72}))
		// about 4.2km by 5.6km
		assert.InDelta(t, 23.4, area.Km2(), 1.0)
	}
}

func TestAreaRejectsDegenerateRing(t *testing.T) {
	_, err := NewArea(orb.Polygon{orb.Ring{{0, 0}, {0, 0}, {1, 1}, {0, 0}}})
	assert.True(t, errors.Is(err, ErrIncompletePolygon))
	_, err = NewArea(nil)
	assert.Error(t, err)
}

func TestStatusText(t *testing.T) {
	b, err := Finished.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "finished", string(b))
	assert.Equal(t, "idle", Idle.String())
}
