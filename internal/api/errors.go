package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/farm-ledger/internal/command"
	"github.com/example/farm-ledger/internal/domain/inventory"
)

const kindInvalidRequest = "InvalidRequest"

var statusByKind = map[string]int{
	"ItemNotFound":               http.StatusNotFound,
	"ReservationNotFound":        http.StatusNotFound,
	"DuplicateSku":               http.StatusConflict,
	"ItemHasOpenReservations":    http.StatusConflict,
	"ReservationAlreadyResolved": http.StatusConflict,
	"ConcurrencyConflict":        http.StatusConflict,
	"InsufficientStock":          http.StatusUnprocessableEntity,
	"InsufficientAvailableStock": http.StatusUnprocessableEntity,
	"ItemInactive":               http.StatusUnprocessableEntity,
	"ReservationExpired":         http.StatusUnprocessableEntity,
}

type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func badRequest(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": errorBody{Kind: kindInvalidRequest, Message: message}})
}

// respondError maps ledger error kinds to statuses. Anything the ledger does
// not name is logged and reported as a bare 500.
func (h *Handlers) respondError(c *gin.Context, err error) {
	if errors.Is(err, command.ErrInvalidCommand) {
		badRequest(c, err.Error())
		return
	}

	kind := inventory.KindOf(err)
	if kind == "Internal" {
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		_ = c.Error(err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": errorBody{Kind: kind, Message: "internal error"}})
		return
	}

	status, ok := statusByKind[kind]
	if !ok {
		status = http.StatusBadRequest
	}
	c.AbortWithStatusJSON(status, gin.H{"error": errorBody{Kind: kind, Message: err.Error()}})
}
