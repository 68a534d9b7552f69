package cluster

import (
	"math"
	"sort"
)

// KDNode is one node of the flat tree. Leaves cover Points[Start:End+1];
// inner nodes split on the point at Start (== End).
type KDNode struct {
	Start, End  int32
	Left, Right int32 // index into Nodes, -1 when absent
	Axis        uint8
	Leaf        bool
}

// KDPoint is a projected node position; Ref indexes the level's node list.
type KDPoint struct {
	X, Y float64
	Ref  int32
}

type KDTree struct {
	Nodes    []KDNode
	Points   []KDPoint
	NodeSize int
	Bounds   KDBounds
}

type KDBounds struct {
	MinX, MinY, MaxX, MaxY float64
}

// Extend expands bounds to include another point
func (b *KDBounds) Extend(x, y float64) {
	b.MinX = math.Min(b.MinX, x)
	b.MinY = math.Min(b.MinY, y)
	b.MaxX = math.Max(b.MaxX, x)
	b.MaxY = math.Max(b.MaxY, y)
}

func (b KDBounds) intersects(minX, minY, maxX, maxY float64) bool {
	return b.MinX <= maxX && b.MaxX >= minX && b.MinY <= maxY && b.MaxY >= minY
}

func NewKDTree(points []KDPoint, nodeSize int) *KDTree {
	if nodeSize <= 0 {
		nodeSize = 64
	}
	tree := &KDTree{
		Nodes:    make([]KDNode, 0, 2*len(points)/nodeSize+1),
		Points:   make([]KDPoint, len(points)),
		NodeSize: nodeSize,
		Bounds: KDBounds{
			MinX: math.Inf(1),
			MinY: math.Inf(1),
			MaxX: math.Inf(-1),
			MaxY: math.Inf(-1),
		},
	}
	copy(tree.Points, points)

	for _, p := range points {
		tree.Bounds.Extend(p.X, p.Y)
	}
	if len(points) > 0 {
		tree.buildNodes(0, len(points)-1, 0)
	}
	return tree
}

func (t *KDTree) buildNodes(start, end, depth int) int32 {
	if start > end {
		return -1
	}

	nodeIdx := int32(len(t.Nodes))
	t.Nodes = append(t.Nodes, KDNode{})

	if end-start < t.NodeSize {
		t.Nodes[nodeIdx] = KDNode{Start: int32(start), End: int32(end), Left: -1, Right: -1, Leaf: true}
		return nodeIdx
	}

	axis := depth % 2
	median := (start + end) / 2
	sortPointsRange(t.Points[start:end+1], axis)

	// children append to t.Nodes, so fill the node in afterwards
	left := t.buildNodes(start, median-1, depth+1)
	right := t.buildNodes(median+1, end, depth+1)
	t.Nodes[nodeIdx] = KDNode{
		Start: int32(median),
		End:   int32(median),
		Left:  left,
		Right: right,
		Axis:  uint8(axis),
	}
	return nodeIdx
}

func sortPointsRange(points []KDPoint, axis int) {
	if axis == 0 {
		sort.Slice(points, func(i, j int) bool { return points[i].X < points[j].X })
	} else {
		sort.Slice(points, func(i, j int) bool { return points[i].Y < points[j].Y })
	}
}

// Range calls fn for every point inside the closed box.
func (t *KDTree) Range(minX, minY, maxX, maxY float64, fn func(KDPoint)) {
	if t == nil || len(t.Nodes) == 0 || !t.Bounds.intersects(minX, minY, maxX, maxY) {
		return
	}
	t.rangeNode(0, minX, minY, maxX, maxY, fn)
}

func (t *KDTree) rangeNode(idx int32, minX, minY, maxX, maxY float64, fn func(KDPoint)) {
	if idx < 0 {
		return
	}
	node := t.Nodes[idx]
	if node.Leaf {
		for _, p := range t.Points[node.Start : node.End+1] {
			if p.X >= minX && p.X <= maxX && p.Y >= minY && p.Y <= maxY {
				fn(p)
			}
		}
		return
	}

	p := t.Points[node.Start]
	if p.X >= minX && p.X <= maxX && p.Y >= minY && p.Y <= maxY {
		fn(p)
	}

	coord, lo, hi := p.X, minX, maxX
	if node.Axis == 1 {
		coord, lo, hi = p.Y, minY, maxY
	}
	if lo <= coord {
		t.rangeNode(node.Left, minX, minY, maxX, maxY, fn)
	}
	if hi >= coord {
		t.rangeNode(node.Right, minX, minY, maxX, maxY, fn)
	}
}
