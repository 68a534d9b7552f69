// Package session ties the map engine together for one map view: the
// cluster index, the viewport, marker reconciliation, the overlays, the
// draw tool and the isochrone request. A session is the unit the runner
// hands out and the HTTP API drives.
package session

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"web/estatemap/cluster"
	"web/estatemap/draw"
	"web/estatemap/isochrone"
	"web/estatemap/logging"
	"web/estatemap/metrics"
	"web/estatemap/overlay"
	"web/estatemap/poi"
	"web/estatemap/reconcile"
	"web/estatemap/viewport"
)

var (
	ErrNoFetcher   = errors.New("session: no isochrone service configured")
	ErrNoPOISource = errors.New("session: no POI source configured")
	ErrNoViewport  = errors.New("session: viewport has not been set")
)

// MarkerNotFoundError is returned for clicks on keys the scene does not
// show.
type MarkerNotFoundError struct {
	Key string
}

func (e *MarkerNotFoundError) Error() string {
	return fmt.Sprintf("session: no marker %q", e.Key)
}

type Options struct {
	Cluster       cluster.Options
	PaddingRatio  float64
	Fetcher       isochrone.Fetcher
	POI           poi.Source
	Neighborhoods *overlay.NeighborhoodIndex
	Metrics       *metrics.Metrics
	Logger        logging.Logger
}

type Session struct {
	mu   sync.Mutex
	wg   sync.WaitGroup
	opts Options

	logger  logging.Logger
	metrics *metrics.Metrics

	index      *cluster.Index
	viewport   *viewport.Controller
	scene      *Scene
	flags      *reconcile.Flags
	reconciler *reconcile.Reconciler
	overlays   *overlay.Coordinator
	draw       *draw.Tool
	iso        *isochrone.Request

	query     viewport.Query
	hasQuery  bool
	rendered  reconcile.Diff
	drawn     *draw.Area
	drawnPoly orb.Polygon
	isoErr    error
	clicked   ClickResult
	hovered   reconcile.Diff
}

// New builds the index over points and returns a session with an empty
// scene. The scene is populated by the first Move and Render.
func New(points []cluster.Point, opts Options) (*Session, error) {
	if opts.Logger == nil {
		opts.Logger = logging.NewNopLogger()
	}
	if opts.PaddingRatio == 0 {
		opts.PaddingRatio = viewport.DefaultPaddingRatio
	}

	s := &Session{
		opts:     opts,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		viewport: viewport.New(opts.PaddingRatio),
		scene:    NewScene(),
		flags:    reconcile.NewFlags(),
		draw:     draw.New(),
		iso:      isochrone.New(),
	}
	s.overlays = overlay.New(s.scene)
	s.reconciler = reconcile.New(s.scene, reconcile.DefaultStyle(s.flags), s.logger.Named("reconcile"))
	s.reconciler.SetMetrics(opts.Metrics)
	s.reconciler.OnClick(s.handleClick)
	s.reconciler.OnHover(s.handleHover)
	s.viewport.Subscribe(s.applyQuery)

	if err := s.buildIndex(points); err != nil {
		return nil, err
	}
	if opts.Neighborhoods != nil {
		_ = s.overlays.SetLayerData(overlay.Neighborhoods, opts.Neighborhoods.FeatureCollection())
	}
	return s, nil
}

// BuildIndex replaces the index. Cluster keys are reassigned, so the scene
// is reconciled against the new index at the last rendered viewport before
// BuildIndex returns.
func (s *Session) BuildIndex(points []cluster.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buildIndex(points)
}

func (s *Session) buildIndex(points []cluster.Point) error {
	start := time.Now()
	idx, err := cluster.Build(points, s.opts.Cluster)
	if err != nil {
		return err
	}
	elapsed := time.Since(start)
	if s.metrics != nil {
		s.metrics.IndexBuildDuration.Observe(elapsed.Seconds())
		s.metrics.IndexedPoints.Set(float64(idx.Len()))
	}
	s.logger.Info("index built",
		logging.Int("points", idx.Len()),
		logging.Int("clusters", idx.NumClusters()),
		logging.Duration("elapsed", elapsed))

	s.index = idx
	if s.hasQuery {
		s.reconciler.Reconcile(idx.ClustersInBounds(s.query.Bounds, s.query.Zoom))
	} else {
		s.reconciler.Reset()
	}
	return s.overlays.SetLayerData(overlay.Heatmap, overlay.HeatmapFromPoints(idx.Points(), overlay.DefaultHeatmapPrecision))
}

func (s *Session) Index() *cluster.Index {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index
}

// Query runs a cluster query without touching the scene.
func (s *Session) Query(bounds orb.Bound, zoom int) []cluster.Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index.ClustersInBounds(bounds, zoom)
}

// Move records a camera change. Moves before the next Render coalesce.
func (s *Session) Move(bounds orb.Bound, zoom float64) {
	s.viewport.OnMove(bounds, zoom)
}

// Render is one render cycle: if the viewport moved, query the index and
// reconcile the scene.
func (s *Session) Render() reconcile.Diff {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.render()
}

func (s *Session) render() reconcile.Diff {
	s.rendered = reconcile.Diff{}
	s.viewport.Flush()
	return s.rendered
}

// applyQuery receives the viewport's query from Flush, under the session
// lock held by render.
func (s *Session) applyQuery(q viewport.Query) {
	s.query = q
	s.hasQuery = true
	s.rendered = s.reconciler.Reconcile(s.index.ClustersInBounds(q.Bounds, q.Zoom))
}

func (s *Session) Markers() []Marker {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scene.Markers()
}

func (s *Session) Viewport() viewport.State {
	return s.viewport.Current()
}

// ClickResult describes what a marker click did. A cluster click zooms the
// viewport to the cluster's expansion zoom; a point click selects it.
type ClickResult struct {
	Key        string  `json:"key"`
	Cluster    bool    `json:"cluster"`
	ZoomTo     float64 `json:"zoomTo,omitempty"`
	SelectedID string  `json:"selectedId,omitempty"`
}

// Click routes a click on the marker with key through its handlers.
func (s *Session) Click(key string) (ClickResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.scene.marker(key)
	if !ok || m.handlers.Click == nil {
		return ClickResult{}, &MarkerNotFoundError{Key: key}
	}
	s.clicked = ClickResult{Key: key}
	m.handlers.Click()
	return s.clicked, nil
}

// handleClick runs under the session lock, from Click.
func (s *Session) handleClick(n cluster.Node) {
	if !n.IsCluster() {
		s.flags.Select(n.Point.ID)
		s.reconciler.Restyle()
		s.clicked.SelectedID = n.Point.ID
		return
	}
	zoom, err := s.index.ExpansionZoom(n.ClusterID)
	if err != nil {
		s.logger.Warn("expansion zoom failed", logging.String("key", n.Key), logging.Err(err))
		return
	}
	cur := s.viewport.Current()
	s.viewport.OnMove(zoomBounds(cur, orb.Point{n.Lng, n.Lat}, float64(zoom)), float64(zoom))
	s.clicked.Cluster = true
	s.clicked.ZoomTo = float64(zoom)
}

// zoomBounds keeps the viewport's screen size while centering on c at
// zoom. Without a previous viewport it assumes one world tile.
func zoomBounds(cur viewport.State, c orb.Point, zoom float64) orb.Bound {
	width, height := 360.0, 170.0
	scale := math.Exp2(-zoom)
	if !cur.Bounds.IsZero() {
		width = cur.Bounds.Max[0] - cur.Bounds.Min[0]
		if width < 0 {
			width += 360
		}
		height = cur.Bounds.Max[1] - cur.Bounds.Min[1]
		scale = math.Exp2(cur.Zoom - zoom)
	}
	halfW, halfH := width*scale/2, height*scale/2
	return orb.Bound{
		Min: orb.Point{c[0] - halfW, c[1] - halfH},
		Max: orb.Point{c[0] + halfW, c[1] + halfH},
	}
}

// Select makes id the selected listing and restyles the scene.
// Hover routes a pointer entering the marker with key through its
// handlers. At most one marker is hovered at a time.
func (s *Session) Hover(key string) (reconcile.Diff, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.scene.marker(key)
	if !ok || m.handlers.Hover == nil {
		return reconcile.Diff{}, &MarkerNotFoundError{Key: key}
	}
	s.hovered = reconcile.Diff{}
	m.handlers.Hover()
	return s.hovered, nil
}

// handleHover runs under the session lock, from Hover.
func (s *Session) handleHover(n cluster.Node) {
	s.flags.Hover(n.Key)
	s.hovered = s.reconciler.Restyle()
}

// ClearHover is the pointer leaving the hovered marker.
func (s *Session) ClearHover() reconcile.Diff {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flags.Hover("")
	return s.reconciler.Restyle()
}

func (s *Session) Select(id string) reconcile.Diff {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flags.Select(id)
	return s.reconciler.Restyle()
}

func (s *Session) ToggleCompare(id string) (bool, reconcile.Diff) {
	s.mu.Lock()
	defer s.mu.Unlock()
	on := s.flags.ToggleCompare(id)
	return on, s.reconciler.Restyle()
}

func (s *Session) ToggleFavorite(id string) (bool, reconcile.Diff) {
	s.mu.Lock()
	defer s.mu.Unlock()
	on := s.flags.ToggleFavorite(id)
	return on, s.reconciler.Restyle()
}

func (s *Session) ToggleLayer(kind string) (bool, error) {
	k, err := overlay.ParseKind(kind)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.overlays.Toggle(k)
}

func (s *Session) SetLayerVisible(kind string, visible bool) error {
	k, err := overlay.ParseKind(kind)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.overlays.SetLayerVisible(k, visible)
}

func (s *Session) SetLayerData(kind string, fc *geojson.FeatureCollection) error {
	k, err := overlay.ParseKind(kind)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.overlays.SetLayerData(k, fc)
}

func (s *Session) Layers() []overlay.Layer {
	return s.overlays.Layers()
}

// NeighborhoodAt looks up the neighborhood under p.
func (s *Session) NeighborhoodAt(p orb.Point) (overlay.Neighborhood, bool) {
	if s.opts.Neighborhoods == nil {
		return overlay.Neighborhood{}, false
	}
	return s.opts.Neighborhoods.At(p)
}

// StartDraw arms the draw tool. The previous drawn area stays until a new
// polygon is finished.
func (s *Session) StartDraw() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.draw.Start()
}

func (s *Session) AppendDrawPoint(p orb.Point) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draw.AppendPoint(p)
}

// FinishDraw closes the polygon and shows it on the drawn-area layer. With
// fewer than three points nothing happens and ok is false.
func (s *Session) FinishDraw() (draw.Result, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.draw.CanFinish() {
		return draw.Result{Status: s.draw.Status(), Points: s.draw.Points()}, false, nil
	}
	res, _ := s.draw.Finish()
	poly, err := draw.Polygon(res.Points)
	if err != nil {
		return res, false, err
	}
	area, err := draw.NewArea(poly)
	if err != nil {
		return res, false, err
	}
	s.drawn = area
	s.drawnPoly = poly

	f := geojson.NewFeature(poly)
	f.Properties["areaKm2"] = area.Km2()
	fc := geojson.NewFeatureCollection()
	fc.Append(f)
	if err := s.overlays.SetLayerData(overlay.DrawnArea, fc); err != nil {
		return res, false, err
	}
	return res, true, s.overlays.SetLayerVisible(overlay.DrawnArea, true)
}

func (s *Session) CancelDraw() draw.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draw.Cancel()
}

// ClearDrawnArea removes the finished polygon.
func (s *Session) ClearDrawnArea() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drawn = nil
	s.drawnPoly = nil
	if err := s.overlays.SetLayerData(overlay.DrawnArea, nil); err != nil {
		return err
	}
	return s.overlays.SetLayerVisible(overlay.DrawnArea, false)
}

// DrawState is the draw tool as the client sees it.
type DrawState struct {
	Status    draw.Status `json:"status"`
	Active    bool        `json:"active"`
	Points    []orb.Point `json:"points"`
	CanFinish bool        `json:"canFinish"`
	Area      orb.Polygon `json:"area,omitempty"`
	AreaKm2   float64     `json:"areaKm2,omitempty"`
}

func (s *Session) Draw() DrawState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drawState()
}

func (s *Session) drawState() DrawState {
	st := DrawState{
		Status:    s.draw.Status(),
		Active:    s.draw.Active(),
		Points:    s.draw.Points(),
		CanFinish: s.draw.CanFinish(),
		Area:      s.drawnPoly,
	}
	if s.drawn != nil {
		st.AreaKm2 = s.drawn.Km2()
	}
	return st
}

// PointsInDrawnArea returns the listings inside the finished polygon, or
// nil when there is none.
func (s *Session) PointsInDrawnArea() []cluster.Point {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pointsInDrawnArea()
}

func (s *Session) pointsInDrawnArea() []cluster.Point {
	if s.drawn == nil {
		return nil
	}
	var out []cluster.Point
	for _, p := range s.index.Points() {
		if s.drawn.Contains(orb.Point{p.Lng, p.Lat}) {
			out = append(out, p)
		}
	}
	return out
}

// ActivateIsochrone starts a fetch of the area reachable from point. It
// returns once the fetch is issued; the result lands on the isochrone
// layer when it arrives, unless a later call superseded it.
func (s *Session) ActivateIsochrone(ctx context.Context, point orb.Point, minutes int, mode string) error {
	if s.opts.Fetcher == nil {
		return ErrNoFetcher
	}
	if _, err := isochrone.CheckInput(minutes, mode); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.iso.Begin()
	if err := s.iso.Choose(point); err != nil {
		return err
	}
	ticket, err := s.iso.Start(ctx, minutes, mode)
	if err != nil {
		return err
	}
	s.isoErr = nil
	_ = s.overlays.SetLayerData(overlay.Isochrone, nil)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		poly, err := s.opts.Fetcher.Fetch(ticket.Ctx, ticket.Center, ticket.Minutes, ticket.Mode)
		s.completeIsochrone(ticket, poly, err)
	}()
	return nil
}

func (s *Session) completeIsochrone(t isochrone.Ticket, poly orb.Polygon, fetchErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.iso.Complete(t.Token, poly, fetchErr)
	switch {
	case errors.Is(err, isochrone.ErrStaleResponse):
		s.metrics.IsochroneOutcome("stale")
		s.logger.Debug("stale isochrone dropped", logging.Uint64("token", t.Token))
	case err != nil:
		s.metrics.IsochroneOutcome("failed")
		s.isoErr = err
		s.logger.Warn("isochrone fetch failed",
			logging.Uint64("token", t.Token),
			logging.Int("minutes", t.Minutes),
			logging.String("mode", t.Mode),
			logging.Err(err))
	default:
		s.metrics.IsochroneOutcome("applied")
		f := geojson.NewFeature(poly)
		f.Properties["minutes"] = t.Minutes
		f.Properties["mode"] = t.Mode
		fc := geojson.NewFeatureCollection()
		fc.Append(f)
		_ = s.overlays.SetLayerData(overlay.Isochrone, fc)
		_ = s.overlays.SetLayerVisible(overlay.Isochrone, true)
		s.logger.Info("isochrone applied", logging.Uint64("token", t.Token), logging.Int("minutes", t.Minutes))
	}
}

// DeactivateIsochrone cancels any fetch in flight and hides the layer.
func (s *Session) DeactivateIsochrone() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deactivateIsochrone()
}

func (s *Session) deactivateIsochrone() {
	s.iso.Deactivate()
	s.isoErr = nil
	_ = s.overlays.SetLayerData(overlay.Isochrone, nil)
	_ = s.overlays.SetLayerVisible(overlay.Isochrone, false)
}

// IsochroneState adds the last fetch error to the request snapshot.
type IsochroneState struct {
	isochrone.Snapshot
	Error string `json:"error,omitempty"`
}

func (s *Session) Isochrone() IsochroneState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isochroneState()
}

func (s *Session) isochroneState() IsochroneState {
	st := IsochroneState{Snapshot: s.iso.Snapshot()}
	if s.isoErr != nil {
		st.Error = s.isoErr.Error()
	}
	return st
}

// Wait blocks until every isochrone fetch goroutine has returned.
func (s *Session) Wait() {
	s.wg.Wait()
}

// LoadPOIs fetches POIs for the current viewport into the POI layer. The
// fetch runs without holding the session lock.
func (s *Session) LoadPOIs(ctx context.Context) (int, error) {
	if s.opts.POI == nil {
		return 0, ErrNoPOISource
	}
	st := s.viewport.Current()
	if st.Bounds.IsZero() {
		return 0, ErrNoViewport
	}
	fc, err := s.opts.POI.Fetch(ctx, st.Bounds)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.overlays.SetLayerData(overlay.POI, fc); err != nil {
		return 0, err
	}
	return len(fc.Features), s.overlays.SetLayerVisible(overlay.POI, true)
}

// Summary describes the session as a whole.
type Summary struct {
	Points       int             `json:"points"`
	Markers      int             `json:"markers"`
	Viewport     viewport.State  `json:"viewport"`
	Zoom         int             `json:"zoom"`
	Visible      cluster.Summary `json:"visible"`
	Draw         DrawState       `json:"draw"`
	PointsInArea int             `json:"pointsInArea"`
	Isochrone    IsochroneState  `json:"isochrone"`
	Layers       []overlay.Layer `json:"layers"`
}

func (s *Session) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := s.reconciler.Keys()
	nodes := make([]cluster.Node, 0, len(keys))
	for _, k := range keys {
		if n, ok := s.reconciler.Node(k); ok {
			nodes = append(nodes, n)
		}
	}
	layers := s.overlays.Layers()
	for i := range layers {
		layers[i].Data = nil
	}
	return Summary{
		Points:       s.index.Len(),
		Markers:      s.scene.Len(),
		Viewport:     s.viewport.Current(),
		Zoom:         s.query.Zoom,
		Visible:      s.index.Summarize(nodes),
		Draw:         s.drawState(),
		PointsInArea: len(s.pointsInDrawnArea()),
		Isochrone:    s.isochroneState(),
		Layers:       layers,
	}
}

// Close cancels background work and clears the scene.
func (s *Session) Close() {
	s.mu.Lock()
	s.deactivateIsochrone()
	s.draw.Cancel()
	s.reconciler.Reset()
	s.mu.Unlock()
	s.wg.Wait()
}
