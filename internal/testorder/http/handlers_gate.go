package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GetGateStatus reports whether downstream generation may run for a suite
func (h *Handler) GetGateStatus(c *gin.Context) {
	suiteID, ok := uuidParam(c, "suite_id")
	if !ok {
		return
	}

	status, err := h.gate.GetGateStatus(c.Request.Context(), suiteID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true, "gate": status})
}

// GetApprovedOrder returns the applied order, or 409 while the gate is closed
func (h *Handler) GetApprovedOrder(c *gin.Context) {
	suiteID, ok := uuidParam(c, "suite_id")
	if !ok {
		return
	}

	order, err := h.gate.RequireApprovedOrder(c.Request.Context(), suiteID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true, "order": order})
}
