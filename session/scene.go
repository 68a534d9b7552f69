package session

import (
	"sort"

	"github.com/paulmach/orb/geojson"

	"web/estatemap/overlay"
	"web/estatemap/reconcile"
)

// Marker is one marker as the scene currently draws it.
type Marker struct {
	Key   string                `json:"key"`
	State reconcile.VisualState `json:"state"`

	handlers reconcile.Handlers
}

// Scene is an in-memory rendering surface. It records what a map client
// would show so the HTTP API can hand it out. Only the owning session
// touches it, always under the session lock.
type Scene struct {
	markers map[string]*Marker
	layers  map[overlay.Kind]*sceneLayer
}

type sceneLayer struct {
	visible bool
	data    *geojson.FeatureCollection
}

func NewScene() *Scene {
	return &Scene{
		markers: make(map[string]*Marker),
		layers:  make(map[overlay.Kind]*sceneLayer),
	}
}

func (s *Scene) CreateMarker(key string, state reconcile.VisualState, h reconcile.Handlers) reconcile.Handle {
	m := &Marker{Key: key, State: state, handlers: h}
	s.markers[key] = m
	return m
}

func (s *Scene) UpdateMarker(h reconcile.Handle, state reconcile.VisualState) {
	h.(*Marker).State = state
}

func (s *Scene) RemoveMarker(h reconcile.Handle) {
	delete(s.markers, h.(*Marker).Key)
}

func (s *Scene) SetLayerSource(kind overlay.Kind, data *geojson.FeatureCollection) {
	s.layer(kind).data = data
}

func (s *Scene) SetLayerVisibility(kind overlay.Kind, visible bool) {
	s.layer(kind).visible = visible
}

func (s *Scene) layer(kind overlay.Kind) *sceneLayer {
	l, ok := s.layers[kind]
	if !ok {
		l = &sceneLayer{}
		s.layers[kind] = l
	}
	return l
}

func (s *Scene) marker(key string) (*Marker, bool) {
	m, ok := s.markers[key]
	return m, ok
}

// Markers returns a copy of every marker sorted by key.
func (s *Scene) Markers() []Marker {
	out := make([]Marker, 0, len(s.markers))
	for _, m := range s.markers {
		out = append(out, Marker{Key: m.Key, State: m.State})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func (s *Scene) Len() int { return len(s.markers) }

// LayerVisible reports what the surface was last told for kind.
func (s *Scene) LayerVisible(kind overlay.Kind) bool {
	l, ok := s.layers[kind]
	return ok && l.visible
}
