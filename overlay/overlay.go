// Package overlay coordinates the map's data layers. Each layer has its own
// visibility and data, and the stacking order never changes.
package overlay

import (
	"fmt"
	"sort"
	"sync"

	"github.com/paulmach/orb/geojson"
)

type Kind string

const (
	Heatmap       Kind = "heatmap"
	Neighborhoods Kind = "neighborhoods"
	POI           Kind = "poi"
	DrawnArea     Kind = "drawn-area"
	Isochrone     Kind = "isochrone"
)

// Kinds lists every layer bottom to top.
var Kinds = []Kind{Heatmap, Neighborhoods, POI, DrawnArea, Isochrone}

func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", &UnknownLayerError{Kind: s}
}

type UnknownLayerError struct {
	Kind string
}

func (e *UnknownLayerError) Error() string {
	return fmt.Sprintf("overlay: unknown layer %q", e.Kind)
}

type Layer struct {
	Kind    Kind                       `json:"kind"`
	Visible bool                       `json:"visible"`
	Data    *geojson.FeatureCollection `json:"data,omitempty"`
	ZIndex  int                        `json:"zIndex"`
}

// Surface receives layer changes. Either call may be skipped when nothing
// changed for that layer.
type Surface interface {
	SetLayerSource(kind Kind, data *geojson.FeatureCollection)
	SetLayerVisibility(kind Kind, visible bool)
}

type Coordinator struct {
	mu      sync.RWMutex
	surface Surface
	layers  map[Kind]*Layer
}

// New creates all layers hidden and empty. surface may be nil.
func New(surface Surface) *Coordinator {
	c := &Coordinator{
		surface: surface,
		layers:  make(map[Kind]*Layer, len(Kinds)),
	}
	for i, k := range Kinds {
		c.layers[k] = &Layer{Kind: k, ZIndex: i}
	}
	return c
}

func (c *Coordinator) layer(kind Kind) (*Layer, error) {
	l, ok := c.layers[kind]
	if !ok {
		return nil, &UnknownLayerError{Kind: string(kind)}
	}
	return l, nil
}

// SetLayerVisible shows or hides a layer without touching its data.
func (c *Coordinator) SetLayerVisible(kind Kind, visible bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, err := c.layer(kind)
	if err != nil {
		return err
	}
	if l.Visible == visible {
		return nil
	}
	l.Visible = visible
	if c.surface != nil {
		c.surface.SetLayerVisibility(kind, visible)
	}
	return nil
}

// Toggle flips visibility and returns the new value.
func (c *Coordinator) Toggle(kind Kind) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, err := c.layer(kind)
	if err != nil {
		return false, err
	}
	l.Visible = !l.Visible
	if c.surface != nil {
		c.surface.SetLayerVisibility(kind, l.Visible)
	}
	return l.Visible, nil
}

// SetLayerData replaces a layer's data. Visibility is left alone, so data
// can be loaded into a hidden layer ahead of time. A nil fc clears it.
func (c *Coordinator) SetLayerData(kind Kind, fc *geojson.FeatureCollection) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, err := c.layer(kind)
	if err != nil {
		return err
	}
	l.Data = fc
	if c.surface != nil {
		c.surface.SetLayerSource(kind, fc)
	}
	return nil
}

func (c *Coordinator) Layer(kind Kind) (Layer, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	l, err := c.layer(kind)
	if err != nil {
		return Layer{}, err
	}
	return *l, nil
}

// Layers returns a snapshot of every layer ordered by ZIndex.
func (c *Coordinator) Layers() []Layer {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Layer, 0, len(c.layers))
	for _, l := range c.layers {
		out = append(out, *l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ZIndex < out[j].ZIndex })
	return out
}
