package reconcile

import (
	"fmt"
	"math"

	"web/estatemap/cluster"
)

// Flags are the per-listing marker toggles driven by the user.
type Flags struct {
	Selected map[string]bool
	Compared map[string]bool
	Favorite map[string]bool
	Hovered  string
}

func NewFlags() *Flags {
	return &Flags{
		Selected: make(map[string]bool),
		Compared: make(map[string]bool),
		Favorite: make(map[string]bool),
	}
}

// Select makes id the only selected listing; an empty id clears the
// selection.
func (f *Flags) Select(id string) {
	f.Selected = make(map[string]bool)
	if id != "" {
		f.Selected[id] = true
	}
}

// Hover marks the marker with key as hovered; an empty key clears it.
func (f *Flags) Hover(key string) { f.Hovered = key }

func (f *Flags) ToggleCompare(id string) bool {
	f.Compared[id] = !f.Compared[id]
	if !f.Compared[id] {
		delete(f.Compared, id)
	}
	return f.Compared[id]
}

func (f *Flags) ToggleFavorite(id string) bool {
	f.Favorite[id] = !f.Favorite[id]
	if !f.Favorite[id] {
		delete(f.Favorite, id)
	}
	return f.Favorite[id]
}

// DefaultStyle labels points with their price and clusters with their size
// and price range. Hover applies to any marker, the other flags to points
// only; nil flags mean none are set.
func DefaultStyle(flags *Flags) StyleFunc {
	return func(n cluster.Node) VisualState {
		s := VisualState{Kind: n.Kind, Lng: n.Lng, Lat: n.Lat, Count: n.Count}
		if flags != nil && flags.Hovered != "" {
			s.Hovered = flags.Hovered == n.Key
		}
		if n.IsCluster() {
			s.Label = ClusterLabel(n)
			return s
		}
		s.Label = FormatPrice(n.Point.Price)
		if flags != nil {
			s.Selected = flags.Selected[n.Key]
			s.Compared = flags.Compared[n.Key]
			s.Favorite = flags.Favorite[n.Key]
		}
		return s
	}
}

func ClusterLabel(n cluster.Node) string {
	if n.PriceMin == n.PriceMax {
		return fmt.Sprintf("%d · %s", n.Count, FormatPrice(n.PriceMin))
	}
	return fmt.Sprintf("%d · %s-%s", n.Count, FormatPrice(n.PriceMin), FormatPrice(n.PriceMax))
}

// FormatPrice renders a price the way map pins show it: $850, $420K, $1.2M.
func FormatPrice(p float64) string {
	switch {
	case p >= 1e6:
		return fmt.Sprintf("$%.1fM", math.Floor(p/1e5)/10)
	case p >= 1e3:
		return fmt.Sprintf("$%.0fK", math.Floor(p/1e3))
	default:
		return fmt.Sprintf("$%.0f", p)
	}
}
