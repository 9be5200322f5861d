package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tutormarket/internal/apperr"
)

var statusByKind = map[error]int{
	apperr.ErrValidation:           http.StatusBadRequest,
	apperr.ErrInvalidRange:         http.StatusBadRequest,
	apperr.ErrInThePast:            http.StatusBadRequest,
	apperr.ErrEmptyMessage:         http.StatusBadRequest,
	apperr.ErrUnauthorized:         http.StatusForbidden,
	apperr.ErrNotFound:             http.StatusNotFound,
	apperr.ErrPreconditionFailed:   http.StatusConflict,
	apperr.ErrInvalidTransition:    http.StatusConflict,
	apperr.ErrDuplicateApplication: http.StatusConflict,
	apperr.ErrTuitionAlreadyHired:  http.StatusConflict,
	apperr.ErrUnavailable:          http.StatusServiceUnavailable,
}

type errorBody struct {
	Error   string              `json:"error"`
	Message string              `json:"message"`
	Fields  []apperr.FieldError `json:"fields,omitempty"`
}

// writeError renders err as the JSON error body with the status of its kind.
func (h *Handler) writeError(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	status, ok := statusByKind[kind]
	if !ok || kind == nil {
		h.logger.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("route", c.FullPath()),
			zap.Error(err),
		)
		_ = c.Error(err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, errorBody{Error: "internal", Message: "internal error"})
		return
	}
	if errors.Is(kind, apperr.ErrUnavailable) {
		h.logger.Warn("dependency unavailable", zap.String("route", c.FullPath()), zap.Error(err))
	}
	msg, fields := apperr.Details(err)
	c.AbortWithStatusJSON(status, errorBody{Error: kind.Error(), Message: msg, Fields: fields})
}

func badBody(op string, err error) error {
	return apperr.Wrap(op, apperr.ErrValidation, "malformed request body", err)
}
