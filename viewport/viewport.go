// Package viewport tracks the visible map region and turns bursts of move
// events into single padded cluster queries.
package viewport

import (
	"math"
	"sync"

	"github.com/paulmach/orb"

	"web/estatemap/cluster"
)

// DefaultPaddingRatio pads the query by one viewport width and height on
// each side.
const DefaultPaddingRatio = 1.0

// State is the latest camera position reported by the map surface.
type State struct {
	Center orb.Point
	Zoom   float64
	Bounds orb.Bound
}

// Query is what the session asks the cluster index for.
type Query struct {
	Bounds orb.Bound
	Zoom   int
}

type Controller struct {
	mu          sync.Mutex
	padding     float64
	state       State
	pending     bool
	subscribers []func(Query)
}

func New(paddingRatio float64) *Controller {
	if paddingRatio < 0 {
		paddingRatio = DefaultPaddingRatio
	}
	return &Controller{padding: paddingRatio}
}

// OnMove records a move or zoom event. Moves arriving before the next Flush
// replace each other.
func (c *Controller) OnMove(bounds orb.Bound, zoom float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = State{Center: center(bounds), Zoom: zoom, Bounds: bounds}
	c.pending = true
}

func (c *Controller) Current() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}

// Subscribe registers fn to receive every query emitted by Flush.
func (c *Controller) Subscribe(fn func(Query)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribers = append(c.subscribers, fn)
}

// Flush runs one render cycle. If a move is pending it builds exactly one
// query from the latest state and hands it to the subscribers.
func (c *Controller) Flush() (Query, bool) {
	c.mu.Lock()
	if !c.pending {
		c.mu.Unlock()
		return Query{}, false
	}
	c.pending = false
	q := BuildQuery(c.state, c.padding)
	subs := make([]func(Query), len(c.subscribers))
	copy(subs, c.subscribers)
	c.mu.Unlock()

	for _, fn := range subs {
		fn(q)
	}
	return q, true
}

// BuildQuery pads the state's bounds and floors its zoom.
func BuildQuery(s State, paddingRatio float64) Query {
	return Query{
		Bounds: PadBounds(s.Bounds, paddingRatio),
		Zoom:   int(math.Floor(s.Zoom)),
	}
}

// PadBounds widens b by ratio times its width and height on every side.
// A result spanning the whole world in longitude collapses to [-180, 180].
// Bounds crossing the antimeridian have Min longitude greater than Max.
func PadBounds(b orb.Bound, ratio float64) orb.Bound {
	width := b.Max[0] - b.Min[0]
	if width < 0 {
		width += 360
	}
	height := b.Max[1] - b.Min[1]

	minLat := clampLat(b.Min[1] - height*ratio)
	maxLat := clampLat(b.Max[1] + height*ratio)

	span := width * (1 + 2*ratio)
	if span >= 360 {
		return orb.Bound{Min: orb.Point{-180, minLat}, Max: orb.Point{180, maxLat}}
	}
	minLng := wrapLng(b.Min[0] - width*ratio)
	maxLng := wrapLng(b.Max[0] + width*ratio)
	return orb.Bound{Min: orb.Point{minLng, minLat}, Max: orb.Point{maxLng, maxLat}}
}

func center(b orb.Bound) orb.Point {
	lng := (b.Min[0] + b.Max[0]) / 2
	if b.Min[0] > b.Max[0] {
		lng = wrapLng((b.Min[0] + b.Max[0] + 360) / 2)
	}
	return orb.Point{lng, (b.Min[1] + b.Max[1]) / 2}
}

func clampLat(lat float64) float64 {
	return math.Max(-cluster.MaxLatitude, math.Min(cluster.MaxLatitude, lat))
}

func wrapLng(lng float64) float64 {
	if lng >= -180 && lng <= 180 {
		return lng
	}
	w := math.Mod(lng+180, 360)
	if w < 0 {
		w += 360
	}
	return w - 180
}
