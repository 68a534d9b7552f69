package api

import (
	"fmt"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/paulmach/orb"

	"web/estatemap/cluster"
)

func queryFloat(c *gin.Context, name string) (float64, error) {
	v, err := strconv.ParseFloat(c.Query(name), 64)
	if err != nil {
		return 0, invalid(fmt.Sprintf("invalid %s parameter", name))
	}
	return v, nil
}

// boundsFromQuery reads north, south, east and west. west > east means the
// box crosses the antimeridian.
func boundsFromQuery(c *gin.Context) (orb.Bound, error) {
	var vals [4]float64
	for i, name := range []string{"north", "south", "east", "west"} {
		v, err := queryFloat(c, name)
		if err != nil {
			return orb.Bound{}, err
		}
		vals[i] = v
	}
	north, south, east, west := vals[0], vals[1], vals[2], vals[3]
	if south > north {
		return orb.Bound{}, invalid("south must not exceed north")
	}
	return orb.Bound{Min: orb.Point{west, south}, Max: orb.Point{east, north}}, nil
}

func zoomFromQuery(c *gin.Context) (int, error) {
	zoom, err := strconv.Atoi(c.Query("zoom"))
	if err != nil {
		return 0, invalid("invalid zoom parameter")
	}
	return zoom, nil
}

func clusterIDParam(c *gin.Context) (uint32, error) {
	id, ok := cluster.ParseClusterKey(c.Param("cid"))
	if !ok {
		return 0, invalid(fmt.Sprintf("invalid cluster id %q", c.Param("cid")))
	}
	return id, nil
}

type boundsBody struct {
	North float64  `json:"north"`
	South float64  `json:"south"`
	East  float64  `json:"east"`
	West  float64  `json:"west"`
	Zoom  *float64 `json:"zoom"`
}

func (b boundsBody) bound() (orb.Bound, error) {
	if b.South > b.North {
		return orb.Bound{}, invalid("south must not exceed north")
	}
	return orb.Bound{Min: orb.Point{b.West, b.South}, Max: orb.Point{b.East, b.North}}, nil
}

type pointBody struct {
	Lng *float64 `json:"lng"`
	Lat *float64 `json:"lat"`
}

func (p pointBody) point() (orb.Point, error) {
	if p.Lng == nil || p.Lat == nil {
		return orb.Point{}, invalid("lng and lat are required")
	}
	if *p.Lat < -90 || *p.Lat > 90 {
		return orb.Point{}, invalid("lat must be within [-90, 90]")
	}
	return orb.Point{*p.Lng, *p.Lat}, nil
}
