// Package reconcile keeps the markers on a rendering surface in step with
// the latest cluster query, emitting the smallest set of add, update and
// remove operations.
package reconcile

import (
	"sort"

	"web/estatemap/cluster"
	"web/estatemap/logging"
	"web/estatemap/metrics"
)

// Handle is whatever the surface uses to address a marker it created.
type Handle interface{}

// Handlers are attached to a marker when it is created. They look the node
// up through the reconciler at call time, so they always see current data.
type Handlers struct {
	Click func()
	Hover func()
}

// VisualState is everything about a marker that the surface draws. Two
// equal states render identically.
type VisualState struct {
	Kind     cluster.NodeKind
	Label    string
	Lng, Lat float64
	Count    int
	Selected bool
	Compared bool
	Favorite bool
	Hovered  bool
}

// Surface is the rendering side. Implementations must not call back into
// the reconciler from these methods.
type Surface interface {
	CreateMarker(key string, state VisualState, h Handlers) Handle
	UpdateMarker(h Handle, state VisualState)
	RemoveMarker(h Handle)
}

type StyleFunc func(n cluster.Node) VisualState

type Diff struct {
	Added   []string `json:"added"`
	Updated []string `json:"updated"`
	Removed []string `json:"removed"`
}

func (d Diff) Empty() bool {
	return len(d.Added) == 0 && len(d.Updated) == 0 && len(d.Removed) == 0
}

type entry struct {
	node   cluster.Node
	state  VisualState
	handle Handle
}

type Reconciler struct {
	surface Surface
	style   StyleFunc
	entries map[string]*entry
	logger  logging.Logger
	metrics *metrics.Metrics

	onClick func(cluster.Node)
	onHover func(cluster.Node)
}

func New(surface Surface, style StyleFunc, logger logging.Logger) *Reconciler {
	if style == nil {
		style = DefaultStyle(nil)
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Reconciler{
		surface: surface,
		style:   style,
		entries: make(map[string]*entry),
		logger:  logger,
	}
}

func (r *Reconciler) SetMetrics(m *metrics.Metrics) { r.metrics = m }

// OnClick sets the function marker clicks are routed to.
func (r *Reconciler) OnClick(fn func(cluster.Node)) { r.onClick = fn }

// OnHover sets the function marker hovers are routed to.
func (r *Reconciler) OnHover(fn func(cluster.Node)) { r.onHover = fn }

// Reconcile makes the surface show exactly nodes. Repeated ids are ignored
// after their first occurrence.
func (r *Reconciler) Reconcile(nodes []cluster.Node) Diff {
	diff := Diff{}
	next := make(map[string]*entry, len(nodes))

	for _, n := range nodes {
		if _, dup := next[n.Key]; dup {
			continue
		}
		state := r.style(n)
		if e, ok := r.entries[n.Key]; ok {
			e.node = n
			if e.state != state {
				e.state = state
				r.surface.UpdateMarker(e.handle, state)
				diff.Updated = append(diff.Updated, n.Key)
			}
			next[n.Key] = e
			continue
		}
		e := &entry{node: n, state: state}
		e.handle = r.surface.CreateMarker(n.Key, state, r.handlers(e))
		next[n.Key] = e
		diff.Added = append(diff.Added, n.Key)
	}

	for key := range r.entries {
		if _, ok := next[key]; !ok {
			diff.Removed = append(diff.Removed, key)
		}
	}
	sort.Strings(diff.Removed)
	for _, key := range diff.Removed {
		r.surface.RemoveMarker(r.entries[key].handle)
	}
	r.entries = next

	r.metrics.ObserveDiff(len(diff.Added), len(diff.Updated), len(diff.Removed))
	r.logger.Debug("reconciled markers",
		logging.Int("added", len(diff.Added)),
		logging.Int("updated", len(diff.Updated)),
		logging.Int("removed", len(diff.Removed)),
		logging.Int("rendered", len(r.entries)))
	return diff
}

// Restyle re-runs the style function over the rendered markers, typically
// after selection or favorite flags change.
func (r *Reconciler) Restyle() Diff {
	diff := Diff{}
	keys := r.Keys()
	for _, key := range keys {
		e := r.entries[key]
		state := r.style(e.node)
		if state == e.state {
			continue
		}
		e.state = state
		r.surface.UpdateMarker(e.handle, state)
		diff.Updated = append(diff.Updated, key)
	}
	r.metrics.ObserveDiff(0, len(diff.Updated), 0)
	return diff
}

// Reset removes every marker from the surface.
func (r *Reconciler) Reset() Diff {
	diff := Diff{Removed: r.Keys()}
	for _, key := range diff.Removed {
		r.surface.RemoveMarker(r.entries[key].handle)
	}
	r.entries = make(map[string]*entry)
	r.metrics.ObserveDiff(0, 0, len(diff.Removed))
	return diff
}

// Len is the number of markers currently on the surface.
func (r *Reconciler) Len() int { return len(r.entries) }

// Keys returns the rendered keys in sorted order.
func (r *Reconciler) Keys() []string {
	keys := make([]string, 0, len(r.entries))
	for k := range r.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Node returns the current data behind a rendered key.
func (r *Reconciler) Node(key string) (cluster.Node, bool) {
	e, ok := r.entries[key]
	if !ok {
		return cluster.Node{}, false
	}
	return e.node, true
}

func (r *Reconciler) handlers(e *entry) Handlers {
	return Handlers{
		Click: func() {
			if r.onClick != nil {
				r.onClick(e.node)
			}
		},
		Hover: func() {
			if r.onHover != nil {
				r.onHover(e.node)
			}
		},
	}
}
