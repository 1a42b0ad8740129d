package http

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/apiforge-labs/testorder-backend/internal/testorder/domain"
	"github.com/apiforge-labs/testorder-backend/internal/testorder/events"
	"github.com/apiforge-labs/testorder-backend/internal/testorder/service"
)

// ProposalService is the workflow surface the handlers drive.
type ProposalService interface {
	Propose(ctx context.Context, in service.ProposeInput) (*domain.TestOrderProposal, error)
	Reorder(ctx context.Context, in service.ReorderInput) (*domain.TestOrderProposal, error)
	Approve(ctx context.Context, in service.ApproveInput) (*domain.TestOrderProposal, error)
	Reject(ctx context.Context, in service.RejectInput) (*domain.TestOrderProposal, error)
	GetProposal(ctx context.Context, suiteID, proposalID uuid.UUID) (*domain.TestOrderProposal, error)
	ListProposals(ctx context.Context, suiteID uuid.UUID) ([]domain.TestOrderProposal, error)
	GetLatestProposal(ctx context.Context, suiteID uuid.UUID) (*domain.TestOrderProposal, error)
}

type GateService interface {
	GetGateStatus(ctx context.Context, suiteID uuid.UUID) (*domain.GateStatus, error)
	RequireApprovedOrder(ctx context.Context, suiteID uuid.UUID) ([]domain.OrderItem, error)
}

// EventSource opens live lifecycle subscriptions per suite.
type EventSource interface {
	Subscribe(ctx context.Context, suiteID uuid.UUID) (*events.Subscription, error)
}

const defaultKeepAlive = 15 * time.Second

// Handler handles HTTP requests for order proposals and the approval gate
type Handler struct {
	proposals ProposalService
	gate      GateService
	events    EventSource
	log       logrus.FieldLogger
	keepAlive time.Duration
}

// New creates a new Handler. events may be nil, which disables the stream
// route.
func New(proposals ProposalService, gate GateService, events EventSource, log logrus.FieldLogger) *Handler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Handler{
		proposals: proposals,
		gate:      gate,
		events:    events,
		log:       log,
		keepAlive: defaultKeepAlive,
	}
}

type proposeRequest struct {
	SpecificationID *uuid.UUID  `json:"specification_id,omitempty"`
	EndpointIDs     []uuid.UUID `json:"endpoint_ids,omitempty"`
	Source          string      `json:"source,omitempty"`
}

type reorderRequest struct {
	ConcurrencyToken   string      `json:"concurrency_token"`
	OrderedEndpointIDs []uuid.UUID `json:"ordered_endpoint_ids"`
	ReviewNotes        *string     `json:"review_notes,omitempty"`
}

type approveRequest struct {
	ConcurrencyToken string `json:"concurrency_token"`
}

type rejectRequest struct {
	ConcurrencyToken string `json:"concurrency_token"`
	ReviewNotes      string `json:"review_notes"`
}
