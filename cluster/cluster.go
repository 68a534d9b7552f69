// Package cluster builds a zoom-indexed cluster hierarchy over listing
// points and answers bounding-box queries against it.
package cluster

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
)

const (
	DefaultTileSize = 256
	DefaultNodeSize = 64
	MaxZoomLimit    = 22

	clusterKeyPrefix = "cluster:"
)

// Point is one listing on the map.
type Point struct {
	ID       string
	Lng, Lat float64
	Price    float64
	Category string
}

type NodeKind uint8

const (
	KindPoint NodeKind = iota
	KindCluster
)

func (k NodeKind) String() string {
	if k == KindCluster {
		return "cluster"
	}
	return "point"
}

// NodeRef addresses a node in the index arenas: Index is a position in the
// points arena for KindPoint and in the clusters arena for KindCluster.
type NodeRef struct {
	Kind  NodeKind
	Index int32
}

// Cluster is an aggregate of at least MinPoints points. Its position is the
// count-weighted centroid of its children; Count is the sum of their counts.
type Cluster struct {
	ID         uint32
	Lng, Lat   float64
	Count      int
	PriceMin   float64
	PriceMax   float64
	PriceSum   float64
	Categories map[string]int
	Zoom       int // level the cluster was formed at
	Children   []NodeRef
}

// Node is a query result: a single point or a cluster.
type Node struct {
	Kind      NodeKind
	Key       string
	Lng, Lat  float64
	Count     int
	PriceMin  float64
	PriceMax  float64
	PriceAvg  float64
	ClusterID uint32
	Point     Point
}

func (n Node) IsCluster() bool { return n.Kind == KindCluster }

// ClusterKey is the node key used for cluster id.
func ClusterKey(id uint32) string {
	return clusterKeyPrefix + strconv.FormatUint(uint64(id), 10)
}

// ParseClusterKey accepts either "cluster:<id>" or a bare numeric id.
func ParseClusterKey(key string) (uint32, bool) {
	id, err := strconv.ParseUint(strings.TrimPrefix(key, clusterKeyPrefix), 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(id), true
}

type Options struct {
	RadiusPx  float64
	MaxZoom   int
	MinPoints int
	TileSize  float64
	NodeSize  int
}

func (o Options) validate() (Options, error) {
	if o.RadiusPx <= 0 {
		return o, &ConfigError{Field: "radiusPx", Reason: fmt.Sprintf("must be positive, got %v", o.RadiusPx)}
	}
	if o.MinPoints < 2 {
		return o, &ConfigError{Field: "minPoints", Reason: fmt.Sprintf("must be at least 2, got %d", o.MinPoints)}
	}
	if o.MaxZoom < 0 || o.MaxZoom > MaxZoomLimit {
		return o, &ConfigError{Field: "maxZoom", Reason: fmt.Sprintf("must be within [0, %d], got %d", MaxZoomLimit, o.MaxZoom)}
	}
	if o.TileSize <= 0 {
		o.TileSize = DefaultTileSize
	}
	if o.NodeSize <= 0 {
		o.NodeSize = DefaultNodeSize
	}
	return o, nil
}

type level struct {
	refs []NodeRef
	tree *KDTree
}

// Index is an immutable cluster hierarchy. Build a new one whenever the
// point set changes.
type Index struct {
	opts     Options
	points   []Point
	clusters []Cluster
	levels   []*level // levels[z] for z in [0, MaxZoom]
}

// Build constructs the hierarchy from MaxZoom (every point on its own) down
// to zoom 0, merging nodes that fall within RadiusPx of each other.
func Build(points []Point, opts Options) (*Index, error) {
	opts, err := opts.validate()
	if err != nil {
		return nil, err
	}

	idx := &Index{
		opts:   opts,
		points: make([]Point, len(points)),
		levels: make([]*level, opts.MaxZoom+1),
	}
	copy(idx.points, points)
	for i := range idx.points {
		idx.points[i].Lng = wrapLng(idx.points[i].Lng)
	}

	refs := make([]NodeRef, len(points))
	for i := range refs {
		refs[i] = NodeRef{Kind: KindPoint, Index: int32(i)}
	}
	idx.levels[opts.MaxZoom] = idx.newLevel(refs)

	for z := opts.MaxZoom - 1; z >= 0; z-- {
		next, merged := idx.clusterLevel(idx.levels[z+1].refs, z)
		if !merged {
			// nothing changed, share the finer level
			idx.levels[z] = idx.levels[z+1]
			continue
		}
		idx.levels[z] = idx.newLevel(next)
	}
	return idx, nil
}

func (idx *Index) newLevel(refs []NodeRef) *level {
	kd := make([]KDPoint, len(refs))
	for i, ref := range refs {
		lng, lat := idx.position(ref)
		x, y := project(lng, lat)
		kd[i] = KDPoint{X: x, Y: y, Ref: int32(i)}
	}
	return &level{refs: refs, tree: NewKDTree(kd, idx.opts.NodeSize)}
}

type cellKey struct{ x, y int64 }

// group accumulates nodes around a seed position while one level is built.
type group struct {
	seedX, seedY float64
	members      []NodeRef
	count        int
	sumLng       float64
	sumLat       float64
	priceMin     float64
	priceMax     float64
	priceSum     float64
}

func (g *group) add(idx *Index, ref NodeRef) {
	lng, lat := idx.position(ref)
	count := idx.count(ref)
	pmin, pmax, psum := idx.prices(ref)

	if len(g.members) == 0 || pmin < g.priceMin {
		g.priceMin = pmin
	}
	if len(g.members) == 0 || pmax > g.priceMax {
		g.priceMax = pmax
	}
	g.members = append(g.members, ref)
	g.count += count
	g.sumLng += lng * float64(count)
	g.sumLat += lat * float64(count)
	g.priceSum += psum
}

// clusterLevel greedily groups the nodes of the finer level in pixel space
// at zoom z. Neighbor search is limited to the 3x3 grid cells around a node.
func (idx *Index) clusterLevel(nodes []NodeRef, z int) ([]NodeRef, bool) {
	scale := idx.opts.TileSize * math.Exp2(float64(z))
	r := idx.opts.RadiusPx
	r2 := r * r

	groups := make([]group, 0, len(nodes))
	grid := make(map[cellKey][]int32, len(nodes))

	for _, ref := range nodes {
		lng, lat := idx.position(ref)
		x, y := project(lng, lat)
		x, y = x*scale, y*scale
		cx, cy := int64(math.Floor(x/r)), int64(math.Floor(y/r))

		best := int32(-1)
		bestD := r2
		for dx := int64(-1); dx <= 1; dx++ {
			for dy := int64(-1); dy <= 1; dy++ {
				for _, gi := range grid[cellKey{cx + dx, cy + dy}] {
					g := &groups[gi]
					ddx, ddy := g.seedX-x, g.seedY-y
					if d := ddx*ddx + ddy*ddy; d < bestD {
						best, bestD = gi, d
					}
				}
			}
		}

		if best < 0 {
			best = int32(len(groups))
			groups = append(groups, group{seedX: x, seedY: y})
			key := cellKey{cx, cy}
			grid[key] = append(grid[key], best)
		}
		groups[best].add(idx, ref)
	}

	merged := false
	out := make([]NodeRef, 0, len(groups))
	for i := range groups {
		g := &groups[i]
		if len(g.members) < 2 || g.count < idx.opts.MinPoints {
			out = append(out, g.members...)
			continue
		}
		out = append(out, idx.newCluster(g, z))
		merged = true
	}
	return out, merged
}

func (idx *Index) newCluster(g *group, z int) NodeRef {
	id := uint32(len(idx.clusters))
	c := Cluster{
		ID:         id,
		Lng:        g.sumLng / float64(g.count),
		Lat:        g.sumLat / float64(g.count),
		Count:      g.count,
		PriceMin:   g.priceMin,
		PriceMax:   g.priceMax,
		PriceSum:   g.priceSum,
		Categories: make(map[string]int),
		Zoom:       z,
		Children:   g.members,
	}
	for _, child := range g.members {
		if child.Kind == KindPoint {
			if cat := idx.points[child.Index].Category; cat != "" {
				c.Categories[cat]++
			}
			continue
		}
		for cat, n := range idx.clusters[child.Index].Categories {
			c.Categories[cat] += n
		}
	}
	idx.clusters = append(idx.clusters, c)
	return NodeRef{Kind: KindCluster, Index: int32(id)}
}

func (idx *Index) position(ref NodeRef) (float64, float64) {
	if ref.Kind == KindCluster {
		c := &idx.clusters[ref.Index]
		return c.Lng, c.Lat
	}
	p := &idx.points[ref.Index]
	return p.Lng, p.Lat
}

func (idx *Index) count(ref NodeRef) int {
	if ref.Kind == KindCluster {
		return idx.clusters[ref.Index].Count
	}
	return 1
}

func (idx *Index) prices(ref NodeRef) (lo, hi, sum float64) {
	if ref.Kind == KindCluster {
		c := &idx.clusters[ref.Index]
		return c.PriceMin, c.PriceMax, c.PriceSum
	}
	p := idx.points[ref.Index].Price
	return p, p, p
}

func (idx *Index) node(ref NodeRef) Node {
	if ref.Kind == KindCluster {
		c := &idx.clusters[ref.Index]
		return Node{
			Kind:      KindCluster,
			Key:       ClusterKey(c.ID),
			Lng:       c.Lng,
			Lat:       c.Lat,
			Count:     c.Count,
			PriceMin:  c.PriceMin,
			PriceMax:  c.PriceMax,
			PriceAvg:  c.PriceSum / float64(c.Count),
			ClusterID: c.ID,
		}
	}
	p := idx.points[ref.Index]
	return Node{
		Kind:     KindPoint,
		Key:      p.ID,
		Lng:      p.Lng,
		Lat:      p.Lat,
		Count:    1,
		PriceMin: p.Price,
		PriceMax: p.Price,
		PriceAvg: p.Price,
		Point:    p,
	}
}

func (idx *Index) Options() Options { return idx.opts }

func (idx *Index) Len() int { return len(idx.points) }

func (idx *Index) NumClusters() int { return len(idx.clusters) }

// Points returns the indexed points; callers must not modify the slice.
func (idx *Index) Points() []Point { return idx.points }

func (idx *Index) clampZoom(zoom int) int {
	if zoom < 0 {
		return 0
	}
	if zoom > idx.opts.MaxZoom {
		return idx.opts.MaxZoom
	}
	return zoom
}

// LevelSize returns the number of nodes at a zoom level.
func (idx *Index) LevelSize(zoom int) int {
	if len(idx.levels) == 0 {
		return 0
	}
	return len(idx.levels[idx.clampZoom(zoom)].refs)
}

// ClustersInBounds returns the clusters and ungrouped points at zoom whose
// position lies inside bbox. A bbox whose Min longitude is greater than its
// Max longitude crosses the antimeridian.
func (idx *Index) ClustersInBounds(bbox orb.Bound, zoom int) []Node {
	result := []Node{}
	if len(idx.points) == 0 {
		return result
	}
	lvl := idx.levels[idx.clampZoom(zoom)]

	minLng, maxLng := bbox.Min[0], bbox.Max[0]
	minLat, maxLat := clampLat(bbox.Min[1]), clampLat(bbox.Max[1])
	if maxLng-minLng >= 360 {
		minLng, maxLng = -180, 180
	} else {
		minLng, maxLng = wrapLng(minLng), wrapLng(maxLng)
	}

	collect := func(west, east float64) {
		minX, maxY := project(west, minLat)
		maxX, minY := project(east, maxLat)
		// points beyond the mercator limit project onto the edge
		if maxLat >= MaxLatitude {
			minY = 0
		}
		if minLat <= -MaxLatitude {
			maxY = 1
		}
		lvl.tree.Range(minX, minY, maxX, maxY, func(p KDPoint) {
			result = append(result, idx.node(lvl.refs[p.Ref]))
		})
	}

	if minLng > maxLng {
		collect(minLng, 180)
		collect(-180, maxLng)
	} else {
		collect(minLng, maxLng)
	}
	return result
}

func (idx *Index) cluster(id uint32) (*Cluster, error) {
	if int(id) >= len(idx.clusters) {
		return nil, &NotFoundError{ID: ClusterKey(id)}
	}
	return &idx.clusters[id], nil
}

// Cluster returns a copy of the cluster record.
func (idx *Index) Cluster(id uint32) (Cluster, error) {
	c, err := idx.cluster(id)
	if err != nil {
		return Cluster{}, err
	}
	return *c, nil
}

// LeavesOf returns up to limit points of a cluster in depth-first order.
// A limit <= 0 returns every leaf.
func (idx *Index) LeavesOf(id uint32, limit int) ([]Point, error) {
	c, err := idx.cluster(id)
	if err != nil {
		return nil, err
	}
	capHint := c.Count
	if limit > 0 && limit < capHint {
		capHint = limit
	}
	leaves := make([]Point, 0, capHint)
	idx.appendLeaves(c.Children, limit, &leaves)
	return leaves, nil
}

func (idx *Index) appendLeaves(children []NodeRef, limit int, leaves *[]Point) bool {
	for _, child := range children {
		if limit > 0 && len(*leaves) >= limit {
			return true
		}
		if child.Kind == KindPoint {
			*leaves = append(*leaves, idx.points[child.Index])
			continue
		}
		if idx.appendLeaves(idx.clusters[child.Index].Children, limit, leaves) {
			return true
		}
	}
	return limit > 0 && len(*leaves) >= limit
}

// Children returns the nodes a cluster splits into one zoom level finer.
func (idx *Index) Children(id uint32) ([]Node, error) {
	c, err := idx.cluster(id)
	if err != nil {
		return nil, err
	}
	nodes := make([]Node, len(c.Children))
	for i, ref := range c.Children {
		nodes[i] = idx.node(ref)
	}
	return nodes, nil
}

// ExpansionZoom is the smallest zoom at which the cluster is shown as more
// than one node.
func (idx *Index) ExpansionZoom(id uint32) (int, error) {
	c, err := idx.cluster(id)
	if err != nil {
		return 0, err
	}
	z := c.Zoom + 1
	if z > idx.opts.MaxZoom {
		z = idx.opts.MaxZoom
	}
	return z, nil
}
