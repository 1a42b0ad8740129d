package http

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/apiforge-labs/testorder-backend/internal/auth"
	"github.com/apiforge-labs/testorder-backend/internal/testorder/domain"
	"github.com/apiforge-labs/testorder-backend/internal/testorder/service"
)

// CreateProposal builds a new pending order proposal for a suite
func (h *Handler) CreateProposal(c *gin.Context) {
	suiteID, ok := uuidParam(c, "suite_id")
	if !ok {
		return
	}

	var body proposeRequest
	if !bindOptionalJSON(c, &body) {
		return
	}

	in := service.ProposeInput{
		SuiteID:     suiteID,
		EndpointIDs: body.EndpointIDs,
		UserID:      auth.UserID(c),
		Source:      domain.ProposalSource(body.Source),
	}
	if body.SpecificationID != nil {
		in.SpecificationID = *body.SpecificationID
	}

	p, err := h.proposals.Propose(c.Request.Context(), in)
	if err != nil {
		h.writeError(c, err)
		return
	}

	writeProposal(c, http.StatusCreated, p)
}

// ListProposals returns every proposal of a suite, oldest first
func (h *Handler) ListProposals(c *gin.Context) {
	suiteID, ok := uuidParam(c, "suite_id")
	if !ok {
		return
	}

	proposals, err := h.proposals.ListProposals(c.Request.Context(), suiteID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if proposals == nil {
		proposals = []domain.TestOrderProposal{}
	}

	c.JSON(http.StatusOK, gin.H{"ok": true, "proposals": proposals})
}

func (h *Handler) GetLatestProposal(c *gin.Context) {
	suiteID, ok := uuidParam(c, "suite_id")
	if !ok {
		return
	}

	p, err := h.proposals.GetLatestProposal(c.Request.Context(), suiteID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	writeProposal(c, http.StatusOK, p)
}

func (h *Handler) GetProposal(c *gin.Context) {
	suiteID, ok := uuidParam(c, "suite_id")
	if !ok {
		return
	}
	proposalID, ok := uuidParam(c, "proposal_id")
	if !ok {
		return
	}

	p, err := h.proposals.GetProposal(c.Request.Context(), suiteID, proposalID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	writeProposal(c, http.StatusOK, p)
}

// ReorderProposal stores the reviewer's sequence on a pending proposal
func (h *Handler) ReorderProposal(c *gin.Context) {
	suiteID, ok := uuidParam(c, "suite_id")
	if !ok {
		return
	}
	proposalID, ok := uuidParam(c, "proposal_id")
	if !ok {
		return
	}

	var body reorderRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	p, err := h.proposals.Reorder(c.Request.Context(), service.ReorderInput{
		SuiteID:            suiteID,
		ProposalID:         proposalID,
		UserID:             auth.UserID(c),
		ConcurrencyToken:   concurrencyToken(c, body.ConcurrencyToken),
		OrderedEndpointIDs: body.OrderedEndpointIDs,
		ReviewNotes:        body.ReviewNotes,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	writeProposal(c, http.StatusOK, p)
}

func (h *Handler) ApproveProposal(c *gin.Context) {
	suiteID, ok := uuidParam(c, "suite_id")
	if !ok {
		return
	}
	proposalID, ok := uuidParam(c, "proposal_id")
	if !ok {
		return
	}

	var body approveRequest
	if !bindOptionalJSON(c, &body) {
		return
	}

	p, err := h.proposals.Approve(c.Request.Context(), service.ApproveInput{
		SuiteID:          suiteID,
		ProposalID:       proposalID,
		UserID:           auth.UserID(c),
		ConcurrencyToken: concurrencyToken(c, body.ConcurrencyToken),
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	writeProposal(c, http.StatusOK, p)
}

func (h *Handler) RejectProposal(c *gin.Context) {
	suiteID, ok := uuidParam(c, "suite_id")
	if !ok {
		return
	}
	proposalID, ok := uuidParam(c, "proposal_id")
	if !ok {
		return
	}

	var body rejectRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	p, err := h.proposals.Reject(c.Request.Context(), service.RejectInput{
		SuiteID:          suiteID,
		ProposalID:       proposalID,
		UserID:           auth.UserID(c),
		ConcurrencyToken: concurrencyToken(c, body.ConcurrencyToken),
		ReviewNotes:      body.ReviewNotes,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	writeProposal(c, http.StatusOK, p)
}

// writeProposal echoes the concurrency token as ETag so clients can send it
// back in If-Match.
func writeProposal(c *gin.Context, status int, p *domain.TestOrderProposal) {
	if p.ConcurrencyToken != "" {
		c.Header("ETag", `"`+p.ConcurrencyToken+`"`)
	}
	c.JSON(status, gin.H{"ok": true, "proposal": p})
}

// concurrencyToken prefers the body value and falls back to If-Match.
func concurrencyToken(c *gin.Context, fromBody string) string {
	if t := strings.TrimSpace(fromBody); t != "" {
		return t
	}
	t := strings.TrimSpace(c.GetHeader("If-Match"))
	t = strings.TrimPrefix(t, "W/")
	return strings.Trim(t, `"`)
}

// bindOptionalJSON accepts an empty body and rejects malformed JSON.
func bindOptionalJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, "invalid request body")
		return false
	}
	return true
}
