package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"web/estatemap/cluster"
	"web/estatemap/listing"
	"web/estatemap/logging"
	"web/estatemap/session"
)

// MaxGeneratedPoints caps demo datasets requested over HTTP.
const MaxGeneratedPoints = 2_000_000

var errNoStore = errors.New("api: no dataset directory configured")

func (s *Server) session(c *gin.Context) (*session.Session, bool) {
	sess, err := s.runner.Get(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return nil, false
	}
	return sess, true
}

type generateRequest struct {
	Type      string `json:"type"`
	NumPoints int    `json:"numPoints"`
	Seed      int64  `json:"seed"`
}

func (g generateRequest) generate() ([]cluster.Point, error) {
	if g.NumPoints <= 0 || g.NumPoints > MaxGeneratedPoints {
		return nil, invalid(fmt.Sprintf("numPoints must be within [1, %d]", MaxGeneratedPoints))
	}
	seed := g.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return listing.Generate(g.NumPoints, listing.ContinentalUS, seed), nil
}

// pointsFromBody accepts a GeoJSON FeatureCollection of listings or a
// {"numPoints": n} request for generated demo data.
func pointsFromBody(c *gin.Context) ([]cluster.Point, error) {
	body, err := c.GetRawData()
	if err != nil {
		return nil, invalid("could not read request body")
	}
	var req generateRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, invalid("request body must be JSON")
	}
	if req.Type == "FeatureCollection" {
		points, err := listing.DecodeGeoJSON(body)
		if err != nil {
			return nil, invalid(err.Error())
		}
		return points, nil
	}
	return req.generate()
}

func (s *Server) createSession(c *gin.Context) {
	points, err := pointsFromBody(c)
	if err != nil {
		writeError(c, err)
		return
	}
	info, err := s.runner.Create(points)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, info)
}

func (s *Server) listSessions(c *gin.Context) {
	c.JSON(http.StatusOK, s.runner.List())
}

func (s *Server) getSession(c *gin.Context) {
	info, err := s.runner.Info(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (s *Server) deleteSession(c *gin.Context) {
	if err := s.runner.Delete(c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) replacePoints(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	points, err := pointsFromBody(c)
	if err != nil {
		writeError(c, err)
		return
	}
	if err := sess.BuildIndex(points); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"points": len(points)})
}

type datasetResponse struct {
	listing.DatasetInfo
	Size string `json:"size"`
}

func (s *Server) listDatasets(c *gin.Context) {
	store := s.runner.Store()
	if store == nil {
		writeError(c, errNoStore)
		return
	}
	list, err := store.List()
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]datasetResponse, len(list))
	for i, ds := range list {
		out[i] = datasetResponse{DatasetInfo: ds, Size: listing.FormatFileSize(ds.FileSize)}
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) createDataset(c *gin.Context) {
	store := s.runner.Store()
	if store == nil {
		writeError(c, errNoStore)
		return
	}
	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, invalid("invalid request"))
		return
	}
	points, err := req.generate()
	if err != nil {
		writeError(c, err)
		return
	}
	start := time.Now()
	ds, err := store.Save(points)
	if err != nil {
		writeError(c, err)
		return
	}
	s.logger.Info("dataset saved",
		logging.String("dataset", ds.ID),
		logging.Int("points", ds.NumPoints),
		logging.String("size", listing.FormatFileSize(ds.FileSize)),
		logging.Duration("elapsed", time.Since(start)))
	c.JSON(http.StatusCreated, datasetResponse{DatasetInfo: ds, Size: listing.FormatFileSize(ds.FileSize)})
}

func (s *Server) createSessionFromDataset(c *gin.Context) {
	info, err := s.runner.CreateFromDataset(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, info)
}

// nodeFeatures renders query results as GeoJSON points.
func nodeFeatures(nodes []cluster.Node) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, n := range nodes {
		f := geojson.NewFeature(orb.Point{n.Lng, n.Lat})
		f.ID = n.Key
		f.Properties["cluster"] = n.IsCluster()
		f.Properties["point_count"] = n.Count
		f.Properties["priceMin"] = n.PriceMin
		f.Properties["priceMax"] = n.PriceMax
		f.Properties["priceAvg"] = n.PriceAvg
		if n.IsCluster() {
			f.Properties["clusterId"] = n.ClusterID
		} else {
			f.Properties["id"] = n.Point.ID
			f.Properties["category"] = n.Point.Category
		}
		fc.Append(f)
	}
	return fc
}

func (s *Server) queryNodes(c *gin.Context) (*session.Session, []cluster.Node, bool) {
	sess, ok := s.session(c)
	if !ok {
		return nil, nil, false
	}
	bounds, err := boundsFromQuery(c)
	if err != nil {
		writeError(c, err)
		return nil, nil, false
	}
	zoom, err := zoomFromQuery(c)
	if err != nil {
		writeError(c, err)
		return nil, nil, false
	}
	return sess, sess.Query(bounds, zoom), true
}

func (s *Server) getClusters(c *gin.Context) {
	_, nodes, ok := s.queryNodes(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, nodeFeatures(nodes))
}

func (s *Server) getSummary(c *gin.Context) {
	sess, nodes, ok := s.queryNodes(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, sess.Index().Summarize(nodes))
}

func (s *Server) getLeaves(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	id, err := clusterIDParam(c)
	if err != nil {
		writeError(c, err)
		return
	}
	limit := 10
	if v := c.Query("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil {
			writeError(c, invalid("invalid limit parameter"))
			return
		}
	}
	leaves, err := sess.Index().LeavesOf(id, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, listing.ToFeatures(leaves))
}

func (s *Server) getChildren(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	id, err := clusterIDParam(c)
	if err != nil {
		writeError(c, err)
		return
	}
	nodes, err := sess.Index().Children(id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, nodeFeatures(nodes))
}

func (s *Server) getExpansionZoom(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	id, err := clusterIDParam(c)
	if err != nil {
		writeError(c, err)
		return
	}
	zoom, err := sess.Index().ExpansionZoom(id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"clusterId": id, "zoom": zoom})
}

// moveViewport records the move and runs a render cycle, returning the
// marker operations it produced.
func (s *Server) moveViewport(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	var body boundsBody
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, invalid("invalid viewport"))
		return
	}
	if body.Zoom == nil {
		writeError(c, invalid("zoom is required"))
		return
	}
	bounds, err := body.bound()
	if err != nil {
		writeError(c, err)
		return
	}
	sess.Move(bounds, *body.Zoom)
	diff := sess.Render()
	c.JSON(http.StatusOK, gin.H{"diff": diff, "markers": sess.Markers()})
}

func (s *Server) getMarkers(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, sess.Markers())
}

func (s *Server) clickMarker(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	res, err := sess.Click(c.Param("key"))
	if err != nil {
		writeError(c, err)
		return
	}
	// a cluster click moves the camera; render the new view right away
	diff := sess.Render()
	c.JSON(http.StatusOK, gin.H{"click": res, "diff": diff})
}

func (s *Server) hoverMarker(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	diff, err := sess.Hover(c.Param("key"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"diff": diff})
}

func (s *Server) clearHover(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"diff": sess.ClearHover()})
}

func (s *Server) toggleFavorite(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	on, diff := sess.ToggleFavorite(c.Param("lid"))
	c.JSON(http.StatusOK, gin.H{"favorite": on, "diff": diff})
}

func (s *Server) toggleCompare(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	on, diff := sess.ToggleCompare(c.Param("lid"))
	c.JSON(http.StatusOK, gin.H{"compared": on, "diff": diff})
}

func (s *Server) getLayers(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, sess.Layers())
}

func (s *Server) toggleLayer(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	visible, err := sess.ToggleLayer(c.Param("kind"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"kind": c.Param("kind"), "visible": visible})
}

func (s *Server) setLayerVisible(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	var body struct {
		Visible *bool `json:"visible"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.Visible == nil {
		writeError(c, invalid("visible is required"))
		return
	}
	if err := sess.SetLayerVisible(c.Param("kind"), *body.Visible); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"kind": c.Param("kind"), "visible": *body.Visible})
}

func (s *Server) setLayerData(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	body, err := c.GetRawData()
	if err != nil {
		writeError(c, invalid("could not read request body"))
		return
	}
	fc, err := geojson.UnmarshalFeatureCollection(body)
	if err != nil {
		writeError(c, invalid(fmt.Sprintf("invalid feature collection: %v", err)))
		return
	}
	if err := sess.SetLayerData(c.Param("kind"), fc); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"kind": c.Param("kind"), "features": len(fc.Features)})
}

func (s *Server) loadPOIs(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	n, err := sess.LoadPOIs(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"features": n})
}

func (s *Server) getNeighborhood(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	lng, err := queryFloat(c, "lng")
	if err != nil {
		writeError(c, err)
		return
	}
	lat, err := queryFloat(c, "lat")
	if err != nil {
		writeError(c, err)
		return
	}
	n, found := sess.NeighborhoodAt(orb.Point{lng, lat})
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "no neighborhood at that point"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"name": n.Name})
}

func (s *Server) getDraw(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, sess.Draw())
}

func (s *Server) startDraw(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	sess.StartDraw()
	c.JSON(http.StatusOK, sess.Draw())
}

func (s *Server) appendDrawPoint(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	var body pointBody
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, invalid("invalid point"))
		return
	}
	p, err := body.point()
	if err != nil {
		writeError(c, err)
		return
	}
	accepted := sess.AppendDrawPoint(p)
	c.JSON(http.StatusOK, gin.H{"accepted": accepted, "draw": sess.Draw()})
}

func (s *Server) finishDraw(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	res, finished, err := sess.FinishDraw()
	if err != nil {
		writeError(c, invalid(err.Error()))
		return
	}
	c.JSON(http.StatusOK, gin.H{"finished": finished, "result": res, "draw": sess.Draw()})
}

func (s *Server) cancelDraw(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	res := sess.CancelDraw()
	c.JSON(http.StatusOK, gin.H{"result": res, "draw": sess.Draw()})
}

func (s *Server) clearDraw(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	if err := sess.ClearDrawnArea(); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) drawnListings(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, listing.ToFeatures(sess.PointsInDrawnArea()))
}

func (s *Server) getIsochrone(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, sess.Isochrone())
}

func (s *Server) activateIsochrone(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	var body struct {
		pointBody
		Minutes int    `json:"minutes"`
		Mode    string `json:"mode"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, invalid("invalid isochrone request"))
		return
	}
	p, err := body.point()
	if err != nil {
		writeError(c, err)
		return
	}
	if err := sess.ActivateIsochrone(s.baseCtx, p, body.Minutes, body.Mode); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, sess.Isochrone())
}

func (s *Server) deactivateIsochrone(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	sess.DeactivateIsochrone()
	c.JSON(http.StatusOK, sess.Isochrone())
}
