// Package draw captures a user-drawn search polygon one map click at a time.
package draw

import "github.com/paulmach/orb"

// MinPoints is the fewest clicks that make a polygon.
const MinPoints = 3

type Status int

const (
	Idle Status = iota
	Collecting
	Finished
	Cancelled
)

func (s Status) String() string {
	switch s {
	case Collecting:
		return "collecting"
	case Finished:
		return "finished"
	case Cancelled:
		return "cancelled"
	default:
		return "idle"
	}
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Result is what a drawing ended with. Points are in click order.
type Result struct {
	Status Status      `json:"status"`
	Points []orb.Point `json:"points"`
}

// Tool is the drawing state machine. It is not safe for concurrent use;
// the owning session serializes calls.
type Tool struct {
	armed  bool
	status Status
	points []orb.Point
}

func New() *Tool { return &Tool{} }

// Start enables drawing; the next map click begins a new polygon. Points of
// an unfinished polygon are discarded.
func (t *Tool) Start() {
	t.armed = true
	t.status = Idle
	t.points = nil
}

// AppendPoint records a map click. Clicks while drawing is not enabled are
// ignored and report false.
func (t *Tool) AppendPoint(p orb.Point) bool {
	if !t.armed {
		return false
	}
	t.status = Collecting
	t.points = append(t.points, p)
	return true
}

// Finish closes the polygon if at least MinPoints were captured and resets
// the tool. With fewer points nothing changes and ok is false.
func (t *Tool) Finish() (Result, bool) {
	if t.status != Collecting || len(t.points) < MinPoints {
		return Result{}, false
	}
	r := Result{Status: Finished, Points: t.points}
	t.reset()
	return r, true
}

// Cancel aborts from any state and resets the tool.
func (t *Tool) Cancel() Result {
	r := Result{Status: Cancelled, Points: t.points}
	t.reset()
	return r
}

func (t *Tool) reset() {
	t.armed = false
	t.status = Idle
	t.points = nil
}

func (t *Tool) Status() Status { return t.status }

func (t *Tool) Active() bool { return t.armed }

// Points returns a copy of the points captured so far.
func (t *Tool) Points() []orb.Point {
	out := make([]orb.Point, len(t.points))
	copy(out, t.points)
	return out
}

// CanFinish tells the caller whether to offer the finish action.
func (t *Tool) CanFinish() bool {
	return t.status == Collecting && len(t.points) >= MinPoints
}
