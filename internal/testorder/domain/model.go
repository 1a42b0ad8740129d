package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ApprovalStatus is the order-approval state recorded on a test suite.
type ApprovalStatus string

const (
	ApprovalNotApplicable ApprovalStatus = "not_applicable"
	ApprovalPendingReview ApprovalStatus = "pending_review"
	ApprovalApproved      ApprovalStatus = "approved"
	ApprovalRejected      ApprovalStatus = "rejected"
)

// ProposalStatus is the lifecycle state of a TestOrderProposal.
// Pending is the only non-terminal state.
type ProposalStatus string

const (
	ProposalPending             ProposalStatus = "pending"
	ProposalApproved            ProposalStatus = "approved"
	ProposalModifiedAndApproved ProposalStatus = "modified_and_approved"
	ProposalRejected            ProposalStatus = "rejected"
	ProposalSuperseded          ProposalStatus = "superseded"
)

// IsApproved reports whether the status carries an applied order.
func (s ProposalStatus) IsApproved() bool {
	return s == ProposalApproved || s == ProposalModifiedAndApproved
}

// IsTerminal reports whether no further transition is allowed.
func (s ProposalStatus) IsTerminal() bool {
	return s != ProposalPending
}

// ProposalSource records what triggered a proposal.
type ProposalSource string

const (
	SourceAlgorithm     ProposalSource = "algorithm"
	SourceUserRequested ProposalSource = "user_requested"
	SourceRegenerated   ProposalSource = "regenerated"
)

func (s ProposalSource) Valid() bool {
	switch s {
	case SourceAlgorithm, SourceUserRequested, SourceRegenerated:
		return true
	}
	return false
}

// Reason codes attached to order items.
const (
	ReasonAuthFirst         = "AUTH_FIRST"
	ReasonAuthPrerequisite  = "AUTH_PREREQUISITE"
	ReasonDependencyOrdered = "DEPENDENCY_ORDERED"
	ReasonCycleFallback     = "CYCLE_FALLBACK"
)

// EndpointMetadata is computed per request and never persisted.
type EndpointMetadata struct {
	EndpointID           uuid.UUID
	HTTPMethod           string
	Path                 string
	OperationID          string
	IsAuthRelated        bool
	DependsOnEndpointIDs []uuid.UUID
}

// OrderItem is one position of a proposed, modified or applied order.
// The JSON shape is the persisted contract of the order columns.
type OrderItem struct {
	EndpointID  uuid.UUID `json:"endpointId"`
	HTTPMethod  string    `json:"httpMethod"`
	Path        string    `json:"path"`
	OrderIndex  int       `json:"orderIndex"`
	ReasonCodes []string  `json:"reasonCodes,omitempty"` // nil when there are none
}

// TestSuite is the owner of the ordering workflow.
type TestSuite struct {
	ID                  uuid.UUID      `json:"id"`
	ProjectID           uuid.UUID      `json:"project_id"`
	SpecificationID     uuid.UUID      `json:"specification_id"`
	Name                string         `json:"name"`
	SelectedEndpointIDs []uuid.UUID    `json:"selected_endpoint_ids"`
	ApprovalStatus      ApprovalStatus `json:"approval_status"`
	ApprovedByID        *string        `json:"approved_by_id,omitempty"`
	ApprovedAt          *time.Time     `json:"approved_at,omitempty"`
	CreatedByID         string         `json:"created_by_id"`
	ArchivedAt          *time.Time     `json:"archived_at,omitempty"`
	ArchiveReason       string         `json:"archive_reason,omitempty"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
}

// IsArchived reports whether the suite was archived outside this workflow.
func (s *TestSuite) IsArchived() bool {
	return s.ArchivedAt != nil
}

// TestOrderProposal is one numbered attempt at an execution order.
// ProposedOrder never changes after insert.
type TestOrderProposal struct {
	ID                uuid.UUID       `json:"id"`
	TestSuiteID       uuid.UUID       `json:"test_suite_id"`
	ProposalNumber    int             `json:"proposal_number"`
	Source            ProposalSource  `json:"source"`
	Status            ProposalStatus  `json:"status"`
	ProposedOrder     json.RawMessage `json:"proposed_order"`
	UserModifiedOrder json.RawMessage `json:"user_modified_order,omitempty"`
	AppliedOrder      json.RawMessage `json:"applied_order,omitempty"`
	ReviewedByID      *string         `json:"reviewed_by_id,omitempty"`
	ReviewedAt        *time.Time      `json:"reviewed_at,omitempty"`
	ReviewNotes       *string         `json:"review_notes,omitempty"`
	AppliedAt         *time.Time      `json:"applied_at,omitempty"`
	CreatedByID       string          `json:"created_by_id"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
	ConcurrencyToken  string          `json:"concurrency_token"`
}

// Clone returns a deep copy so callers can stage changes without touching
// the loaded record.
func (p *TestOrderProposal) Clone() *TestOrderProposal {
	if p == nil {
		return nil
	}
	c := *p
	c.ProposedOrder = cloneRaw(p.ProposedOrder)
	c.UserModifiedOrder = cloneRaw(p.UserModifiedOrder)
	c.AppliedOrder = cloneRaw(p.AppliedOrder)
	c.ReviewedByID = clonePtr(p.ReviewedByID)
	c.ReviewedAt = clonePtr(p.ReviewedAt)
	c.ReviewNotes = clonePtr(p.ReviewNotes)
	c.AppliedAt = clonePtr(p.AppliedAt)
	return &c
}

// Clone returns a deep copy of the suite.
func (s *TestSuite) Clone() *TestSuite {
	if s == nil {
		return nil
	}
	c := *s
	c.SelectedEndpointIDs = append([]uuid.UUID(nil), s.SelectedEndpointIDs...)
	c.ApprovedByID = clonePtr(s.ApprovedByID)
	c.ApprovedAt = clonePtr(s.ApprovedAt)
	c.ArchivedAt = clonePtr(s.ArchivedAt)
	return &c
}

// GateStatus answers whether downstream generation may run for a suite.
type GateStatus struct {
	SuiteID              uuid.UUID       `json:"suite_id"`
	IsGatePassed         bool            `json:"is_gate_passed"`
	ReasonCode           string          `json:"reason_code,omitempty"`
	ActiveProposalID     *uuid.UUID      `json:"active_proposal_id,omitempty"`
	ActiveProposalStatus *ProposalStatus `json:"active_proposal_status,omitempty"`
	OrderSize            int             `json:"order_size"`
}

func cloneRaw(b json.RawMessage) json.RawMessage {
	if b == nil {
		return nil
	}
	return append(json.RawMessage(nil), b...)
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
