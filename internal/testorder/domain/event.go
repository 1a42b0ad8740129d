package domain

import (
	"time"

	"github.com/google/uuid"
)

// Proposal lifecycle event types.
const (
	EventProposalCreated   = "proposal.created"
	EventProposalReordered = "proposal.reordered"
	EventProposalApproved  = "proposal.approved"
	EventProposalRejected  = "proposal.rejected"
)

// ProposalEvent is published after a workflow mutation commits.
type ProposalEvent struct {
	Type           string         `json:"type"`
	SuiteID        uuid.UUID      `json:"suiteId"`
	ProposalID     uuid.UUID      `json:"proposalId"`
	ProposalNumber int            `json:"proposalNumber"`
	Status         ProposalStatus `json:"status"`
	ActorID        string         `json:"actorId"`
	OccurredAt     time.Time      `json:"occurredAt"`
}
