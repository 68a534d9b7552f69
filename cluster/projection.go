package cluster

import "math"

// MaxLatitude is the Web Mercator latitude limit.
const MaxLatitude = 85.05112878

// project converts lng/lat to normalized Web Mercator coordinates in [0, 1];
// multiply by TileSize*2^zoom for pixels at a zoom level.
func project(lng, lat float64) (float64, float64) {
	sin := math.Sin(lat * math.Pi / 180)
	// clamp so the poles do not project to infinity
	if sin > 0.9999 {
		sin = 0.9999
	} else if sin < -0.9999 {
		sin = -0.9999
	}
	x := lng/360 + 0.5
	y := 0.5 - 0.25*math.Log((1+sin)/(1-sin))/math.Pi
	if y < 0 {
		y = 0
	} else if y > 1 {
		y = 1
	}
	return x, y
}

// wrapLng brings a longitude outside [-180, 180] back into range.
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

func clampLat(lat float64) float64 {
	return math.Max(-MaxLatitude, math.Min(MaxLatitude, lat))
}
