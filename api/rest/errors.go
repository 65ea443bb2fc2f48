package rest

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/gamedb/game/ops"
	"github.com/kasuganosora/gamedb/repo"
)

// statusOf maps repository errors to HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, repo.ErrTableNotFound), errors.Is(err, ops.ErrRowNotFound):
		return http.StatusNotFound
	case errors.Is(err, repo.ErrFieldNotFound), errors.Is(err, repo.ErrKindMismatch):
		return http.StatusBadRequest
	case errors.Is(err, repo.ErrNotLoaded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func abortErr(c *gin.Context, err error) {
	c.AbortWithStatusJSON(statusOf(err), gin.H{"error": err.Error()})
}
