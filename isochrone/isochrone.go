// Package isochrone drives the travel-time area workflow: pick a point,
// fetch the reachable polygon asynchronously, show it. Every fetch carries a
// token so late answers from superseded requests are dropped.
package isochrone

import (
	"context"
	"errors"
	"fmt"

	"github.com/paulmach/orb"
)

type Status int

const (
	Idle Status = iota
	Selecting
	Fetching
	Active
)

func (s Status) String() string {
	switch s {
	case Selecting:
		return "selecting"
	case Fetching:
		return "fetching"
	case Active:
		return "active"
	default:
		return "idle"
	}
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

const (
	DefaultMode = "driving"
	MaxMinutes  = 120
)

var Modes = map[string]bool{"driving": true, "walking": true, "cycling": true}

var (
	// ErrStaleResponse marks a completion for a fetch that was superseded or
	// deactivated. It is not shown to the user.
	ErrStaleResponse = errors.New("isochrone: stale response")
	ErrNoPolygon     = errors.New("isochrone: response has no polygon")
	ErrNoPoint       = errors.New("isochrone: no point chosen")
)

// FetchFailure is a failed fetch. The request falls back to selecting and
// the user may retry.
type FetchFailure struct {
	Err error
}

func (e *FetchFailure) Error() string { return "isochrone: fetch failed: " + e.Err.Error() }

func (e *FetchFailure) Unwrap() error { return e.Err }

// StateError reports a call that is not valid in the current state.
type StateError struct {
	Op     string
	Status Status
}

func (e *StateError) Error() string {
	return fmt.Sprintf("isochrone: cannot %s while %s", e.Op, e.Status)
}

// InputError reports bad minutes or mode.
type InputError struct {
	Field  string
	Reason string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("isochrone: invalid %s: %s", e.Field, e.Reason)
}

// Ticket describes one fetch. Ctx is cancelled when the fetch is superseded.
type Ticket struct {
	Token   uint64
	Ctx     context.Context
	Center  orb.Point
	Minutes int
	Mode    string
}

// Snapshot is the externally visible state.
type Snapshot struct {
	Status  Status      `json:"status"`
	Center  *orb.Point  `json:"center,omitempty"`
	Minutes int         `json:"minutes,omitempty"`
	Mode    string      `json:"mode,omitempty"`
	Token   uint64      `json:"token"`
	Polygon orb.Polygon `json:"polygon,omitempty"`
}

// Request is not safe for concurrent use. Completions arriving from fetch
// goroutines must be serialized with the other calls by the owner.
type Request struct {
	status    Status
	center    orb.Point
	hasCenter bool
	minutes   int
	mode      string
	token     uint64
	cancel    context.CancelFunc
	polygon   orb.Polygon
}

func New() *Request { return &Request{} }

func (r *Request) Status() Status { return r.status }

func (r *Request) Token() uint64 { return r.token }

func (r *Request) Polygon() orb.Polygon { return r.polygon }

func (r *Request) Snapshot() Snapshot {
	s := Snapshot{Status: r.status, Minutes: r.minutes, Mode: r.mode, Token: r.token, Polygon: r.polygon}
	if r.hasCenter {
		c := r.center
		s.Center = &c
	}
	return s
}

// invalidate makes any in-flight fetch stale.
func (r *Request) invalidate() {
	r.token++
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
}

// Begin enters point selection, dropping any in-flight fetch and any shown
// polygon.
func (r *Request) Begin() {
	if r.status == Fetching {
		r.invalidate()
	}
	r.status = Selecting
	r.polygon = nil
}

// Choose sets the center point.
func (r *Request) Choose(p orb.Point) error {
	if r.status != Selecting {
		return &StateError{Op: "choose a point", Status: r.status}
	}
	r.center = p
	r.hasCenter = true
	return nil
}

// CheckInput validates minutes and mode and returns the mode to use, which
// is DefaultMode when mode is empty.
func CheckInput(minutes int, mode string) (string, error) {
	if minutes <= 0 || minutes > MaxMinutes {
		return "", &InputError{Field: "minutes", Reason: fmt.Sprintf("must be within [1, %d], got %d", MaxMinutes, minutes)}
	}
	if mode == "" {
		mode = DefaultMode
	}
	if !Modes[mode] {
		return "", &InputError{Field: "mode", Reason: fmt.Sprintf("unsupported mode %q", mode)}
	}
	return mode, nil
}

// Start issues a new fetch for the chosen point. A fetch already in flight
// is cancelled and its eventual completion will be stale.
func (r *Request) Start(ctx context.Context, minutes int, mode string) (Ticket, error) {
	if r.status == Idle {
		return Ticket{}, &StateError{Op: "start", Status: r.status}
	}
	if !r.hasCenter {
		return Ticket{}, ErrNoPoint
	}
	mode, err := CheckInput(minutes, mode)
	if err != nil {
		return Ticket{}, err
	}

	r.invalidate()
	fetchCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.status = Fetching
	r.minutes = minutes
	r.mode = mode
	r.polygon = nil
	return Ticket{Token: r.token, Ctx: fetchCtx, Center: r.center, Minutes: minutes, Mode: mode}, nil
}

// Complete applies the result of the fetch identified by token. It returns
// ErrStaleResponse for superseded fetches and *FetchFailure when the fetch
// failed or produced no usable polygon.
func (r *Request) Complete(token uint64, poly orb.Polygon, fetchErr error) error {
	if token != r.token || r.status != Fetching {
		return ErrStaleResponse
	}
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	if fetchErr == nil && !ValidPolygon(poly) {
		fetchErr = ErrNoPolygon
	}
	if fetchErr != nil {
		r.status = Selecting
		return &FetchFailure{Err: fetchErr}
	}
	r.status = Active
	r.polygon = poly
	return nil
}

// Deactivate returns to idle from any state.
func (r *Request) Deactivate() {
	r.invalidate()
	r.status = Idle
	r.hasCenter = false
	r.center = orb.Point{}
	r.minutes = 0
	r.mode = ""
	r.polygon = nil
}

// ValidPolygon requires an outer ring with at least three distinct corners.
func ValidPolygon(p orb.Polygon) bool {
	if len(p) == 0 {
		return false
	}
	ring := p[0]
	if ring.Closed() {
		ring = ring[:len(ring)-1]
	}
	return len(ring) >= 3
}
