package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(cors())
	r.Use(requestLogger(s.logger))
	if s.metrics != nil {
		r.Use(requestMetrics(s.metrics))
		r.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "sessions": s.runner.Len()})
	})

	api := r.Group("/api")

	api.GET("/datasets", s.listDatasets)
	api.POST("/datasets", s.createDataset)
	api.POST("/datasets/:id/sessions", s.createSessionFromDataset)

	api.POST("/sessions", s.createSession)
	api.GET("/sessions", s.listSessions)

	sess := api.Group("/sessions/:id")
	sess.GET("", s.getSession)
	sess.DELETE("", s.deleteSession)
	sess.PUT("/points", s.replacePoints)

	sess.GET("/clusters", s.getClusters)
	sess.GET("/summary", s.getSummary)
	sess.GET("/clusters/:cid/leaves", s.getLeaves)
	sess.GET("/clusters/:cid/children", s.getChildren)
	sess.GET("/clusters/:cid/expansion-zoom", s.getExpansionZoom)

	sess.POST("/viewport", s.moveViewport)
	sess.GET("/markers", s.getMarkers)
	sess.POST("/markers/:key/click", s.clickMarker)
	sess.POST("/markers/:key/hover", s.hoverMarker)
	sess.DELETE("/markers/:key/hover", s.clearHover)
	sess.POST("/listings/:lid/favorite", s.toggleFavorite)
	sess.POST("/listings/:lid/compare", s.toggleCompare)

	sess.GET("/layers", s.getLayers)
	sess.POST("/layers/:kind/toggle", s.toggleLayer)
	sess.PUT("/layers/:kind/visible", s.setLayerVisible)
	sess.PUT("/layers/:kind/data", s.setLayerData)
	sess.POST("/pois", s.loadPOIs)
	sess.GET("/neighborhood", s.getNeighborhood)

	sess.GET("/draw", s.getDraw)
	sess.POST("/draw/start", s.startDraw)
	sess.POST("/draw/points", s.appendDrawPoint)
	sess.POST("/draw/finish", s.finishDraw)
	sess.POST("/draw/cancel", s.cancelDraw)
	sess.DELETE("/draw", s.clearDraw)
	sess.GET("/draw/listings", s.drawnListings)

	sess.GET("/isochrone", s.getIsochrone)
	sess.POST("/isochrone", s.activateIsochrone)
	sess.DELETE("/isochrone", s.deactivateIsochrone)

	return r
}
