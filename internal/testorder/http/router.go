package http

import "github.com/gin-gonic/gin"

// Register registers the order proposal and gate routes under a
// /test-suites/:suite_id prefix of rg
func (h *Handler) Register(rg *gin.RouterGroup) {
	suites := rg.Group("/test-suites/:suite_id")

	suites.POST("/order-proposals", h.CreateProposal)
	suites.GET("/order-proposals", h.ListProposals)
	suites.GET("/order-proposals/latest", h.GetLatestProposal)
	suites.GET("/order-proposals/:proposal_id", h.GetProposal)
	suites.PUT("/order-proposals/:proposal_id/reorder", h.ReorderProposal)
	suites.POST("/order-proposals/:proposal_id/approve", h.ApproveProposal)
	suites.POST("/order-proposals/:proposal_id/reject", h.RejectProposal)

	suites.GET("/order-gate-status", h.GetGateStatus)
	suites.GET("/approved-order", h.GetApprovedOrder)

	if h.events != nil {
		suites.GET("/order-events", h.StreamOrderEvents)
	}
}
