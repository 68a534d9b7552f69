package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"web/estatemap/cluster"
	"web/estatemap/isochrone"
	"web/estatemap/listing"
	"web/estatemap/overlay"
	"web/estatemap/runner"
	"web/estatemap/session"
)

// badRequest wraps errors caused by the request itself.
type badRequest struct {
	msg string
}

func (e *badRequest) Error() string { return e.msg }

func invalid(msg string) error { return &badRequest{msg: msg} }

func statusOf(err error) int {
	var (
		bad       *badRequest
		cfgErr    *cluster.ConfigError
		layerErr  *overlay.UnknownLayerError
		inputErr  *isochrone.InputError
		stateErr  *isochrone.StateError
		notFound  *cluster.NotFoundError
		noSession *runner.SessionNotFoundError
		noDataset *listing.DatasetNotFoundError
		noMarker  *session.MarkerNotFoundError
	)
	switch {
	case errors.As(err, &bad), errors.As(err, &cfgErr), errors.As(err, &layerErr),
		errors.As(err, &inputErr), errors.Is(err, isochrone.ErrNoPoint),
		errors.Is(err, session.ErrNoViewport):
		return http.StatusBadRequest
	case errors.As(err, &notFound), errors.As(err, &noSession),
		errors.As(err, &noDataset), errors.As(err, &noMarker):
		return http.StatusNotFound
	case errors.As(err, &stateErr):
		return http.StatusConflict
	case errors.Is(err, session.ErrNoFetcher), errors.Is(err, session.ErrNoPOISource),
		errors.Is(err, errNoStore):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	status := statusOf(err)
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}
