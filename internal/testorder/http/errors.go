package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/apiforge-labs/testorder-backend/internal/logging"
	"github.com/apiforge-labs/testorder-backend/internal/testorder/domain"
)

const reasonInvalidRequest = "INVALID_REQUEST"

// writeError maps workflow errors to status codes. Anything that is not a
// workflow error is logged and reported as 500 without its message.
func (h *Handler) writeError(c *gin.Context, err error) {
	var werr *domain.Error
	if !errors.As(err, &werr) {
		logging.WithReqIDFromCtx(c.Request.Context(), h.log).
			WithError(err).
			WithField("path", c.FullPath()).
			Error("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "internal server error"})
		return
	}

	status := http.StatusInternalServerError
	switch werr.Kind {
	case domain.KindNotFound:
		status = http.StatusNotFound
	case domain.KindValidation:
		status = http.StatusBadRequest
	case domain.KindConflict:
		status = http.StatusConflict
	}

	body := gin.H{"ok": false, "error": werr.Message, "reason_code": werr.Reason}
	if len(werr.Details) > 0 {
		body["details"] = werr.Details
	}
	c.JSON(status, body)
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": msg, "reason_code": reasonInvalidRequest})
}

// uuidParam parses a path parameter, answering 400 when it is malformed.
func uuidParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		badRequest(c, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}
