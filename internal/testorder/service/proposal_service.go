package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/apiforge-labs/testorder-backend/internal/testorder/builder"
	"github.com/apiforge-labs/testorder-backend/internal/testorder/domain"
	"github.com/apiforge-labs/testorder-backend/internal/testorder/repository"
)

// Store is the persistence the workflow runs against.
type Store interface {
	GetSuite(ctx context.Context, suiteID uuid.UUID) (*domain.TestSuite, error)
	GetProposal(ctx context.Context, suiteID, proposalID uuid.UUID) (*domain.TestOrderProposal, error)
	ListProposals(ctx context.Context, suiteID uuid.UUID) ([]domain.TestOrderProposal, error)
	LatestProposal(ctx context.Context, suiteID uuid.UUID) (*domain.TestOrderProposal, error)
	LatestApprovedProposal(ctx context.Context, suiteID uuid.UUID) (*domain.TestOrderProposal, error)
	WithinTx(ctx context.Context, fn func(repository.Tx) error) error
}

type OrderBuilder interface {
	BuildProposalOrder(ctx context.Context, suiteID, specificationID uuid.UUID, endpointIDs []uuid.UUID) ([]domain.OrderItem, error)
}

// EventPublisher delivers lifecycle notifications after commit.
type EventPublisher interface {
	Publish(ctx context.Context, event domain.ProposalEvent) error
}

// GateInvalidator drops cached gate results of a suite.
type GateInvalidator interface {
	Invalidate(ctx context.Context, suiteID uuid.UUID) error
}

// ProposalDeps wires a ProposalService. Events and GateCache are optional.
type ProposalDeps struct {
	Store     Store
	Builder   OrderBuilder
	Events    EventPublisher
	GateCache GateInvalidator
	Log       logrus.FieldLogger
	Now       func() time.Time
}

// ProposalService owns the proposal lifecycle of a test suite.
type ProposalService struct {
	store     Store
	builder   OrderBuilder
	events    EventPublisher
	gateCache GateInvalidator
	log       logrus.FieldLogger
	now       func() time.Time
}

func NewProposalService(deps ProposalDeps) *ProposalService {
	s := &ProposalService{
		store:     deps.Store,
		builder:   deps.Builder,
		events:    deps.Events,
		gateCache: deps.GateCache,
		log:       deps.Log,
		now:       deps.Now,
	}
	if s.log == nil {
		s.log = logrus.StandardLogger()
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	return s
}

type ProposeInput struct {
	SuiteID         uuid.UUID
	SpecificationID uuid.UUID
	EndpointIDs     []uuid.UUID
	UserID          string
	Source          domain.ProposalSource
}

type ReorderInput struct {
	SuiteID            uuid.UUID
	ProposalID         uuid.UUID
	UserID             string
	ConcurrencyToken   string
	OrderedEndpointIDs []uuid.UUID
	ReviewNotes        *string
}

type ApproveInput struct {
	SuiteID          uuid.UUID
	ProposalID       uuid.UUID
	UserID           string
	ConcurrencyToken string
}

type RejectInput struct {
	SuiteID          uuid.UUID
	ProposalID       uuid.UUID
	UserID           string
	ConcurrencyToken string
	ReviewNotes      string
}

// Propose builds a fresh order and stores it as the suite's new pending
// proposal, superseding the previous pending one. An empty specification or
// endpoint list falls back to the suite's own scope.
func (s *ProposalService) Propose(ctx context.Context, in ProposeInput) (*domain.TestOrderProposal, error) {
	source := in.Source
	if source == "" {
		source = domain.SourceAlgorithm
	}
	if !source.Valid() {
		return nil, domain.Validation(domain.ReasonInvalidSource, "unknown proposal source %q", in.Source)
	}

	suite, err := s.loadSuite(ctx, in.SuiteID)
	if err != nil {
		return nil, err
	}
	if err := guardSuite(suite, in.UserID); err != nil {
		return nil, err
	}

	specID := in.SpecificationID
	if specID == uuid.Nil {
		specID = suite.SpecificationID
	}
	endpointIDs := in.EndpointIDs
	if len(endpointIDs) == 0 {
		endpointIDs = suite.SelectedEndpointIDs
	}

	items, err := s.builder.BuildProposalOrder(ctx, suite.ID, specID, endpointIDs)
	if err != nil {
		return nil, err
	}
	proposed, err := builder.SerializeOrderJSON(items)
	if err != nil {
		return nil, err
	}

	now := s.now()
	proposal := &domain.TestOrderProposal{
		ID:            uuid.New(),
		TestSuiteID:   suite.ID,
		Source:        source,
		Status:        domain.ProposalPending,
		ProposedOrder: proposed,
		CreatedByID:   in.UserID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	var superseded int64
	err = s.store.WithinTx(ctx, func(tx repository.Tx) error {
		locked, err := tx.LockSuite(ctx, suite.ID)
		if err != nil {
			return err
		}
		if superseded, err = tx.SupersedePending(ctx, suite.ID, now); err != nil {
			return err
		}
		if proposal.ProposalNumber, err = tx.NextProposalNumber(ctx, suite.ID); err != nil {
			return err
		}
		if err := tx.InsertProposal(ctx, proposal); err != nil {
			return err
		}

		locked.ApprovalStatus = domain.ApprovalPendingReview
		locked.ApprovedByID = nil
		locked.ApprovedAt = nil
		locked.UpdatedAt = now
		return tx.UpdateSuiteApproval(ctx, locked)
	})
	if err != nil {
		return nil, s.translate(err)
	}

	s.log.WithFields(logrus.Fields{
		"suite_id":        suite.ID,
		"proposal_id":     proposal.ID,
		"proposal_number": proposal.ProposalNumber,
		"endpoints":       len(items),
		"superseded":      superseded,
	}).Info("order proposal created")

	s.afterCommit(ctx, domain.EventProposalCreated, proposal, in.UserID, true)
	return proposal, nil
}

// Reorder records a reviewer permutation of a pending proposal. The
// proposal stays pending.
func (s *ProposalService) Reorder(ctx context.Context, in ReorderInput) (*domain.TestOrderProposal, error) {
	if err := requireToken(in.ConcurrencyToken); err != nil {
		return nil, err
	}
	suite, proposal, err := s.loadForReview(ctx, in.SuiteID, in.ProposalID, in.UserID)
	if err != nil {
		return nil, err
	}
	if proposal.Status != domain.ProposalPending {
		return nil, notPending(proposal)
	}

	original, err := builder.DeserializeOrderJSON(proposal.ProposedOrder)
	if err != nil {
		return nil, fmt.Errorf("proposal %s: %w", proposal.ID, err)
	}
	ids, err := builder.ValidateReorderedEndpointSet(original, in.OrderedEndpointIDs)
	if err != nil {
		return nil, err
	}
	modified, err := builder.SerializeOrderJSON(builder.ApplyReorder(original, ids))
	if err != nil {
		return nil, err
	}

	updated := proposal.Clone()
	updated.UserModifiedOrder = modified
	if in.ReviewNotes != nil {
		if notes := strings.TrimSpace(*in.ReviewNotes); notes != "" {
			updated.ReviewNotes = &notes
		}
	}
	updated.UpdatedAt = s.now()

	err = s.store.WithinTx(ctx, func(tx repository.Tx) error {
		return tx.UpdateProposalReview(ctx, updated, in.ConcurrencyToken)
	})
	if err != nil {
		return nil, s.translate(err)
	}

	s.log.WithFields(logrus.Fields{
		"suite_id":    suite.ID,
		"proposal_id": updated.ID,
	}).Info("order proposal reordered")

	s.afterCommit(ctx, domain.EventProposalReordered, updated, in.UserID, false)
	return updated, nil
}

// Approve freezes the proposal's order as the suite's applied order.
// Approving an already approved proposal returns it unchanged.
func (s *ProposalService) Approve(ctx context.Context, in ApproveInput) (*domain.TestOrderProposal, error) {
	if err := requireToken(in.ConcurrencyToken); err != nil {
		return nil, err
	}
	suite, proposal, err := s.loadForReview(ctx, in.SuiteID, in.ProposalID, in.UserID)
	if err != nil {
		return nil, err
	}
	if proposal.Status.IsApproved() {
		return proposal, nil
	}
	if proposal.Status != domain.ProposalPending {
		return nil, notPending(proposal)
	}

	now := s.now()
	updated := proposal.Clone()
	if len(updated.UserModifiedOrder) > 0 {
		updated.Status = domain.ProposalModifiedAndApproved
		updated.AppliedOrder = updated.UserModifiedOrder
	} else {
		updated.Status = domain.ProposalApproved
		updated.AppliedOrder = updated.ProposedOrder
	}
	updated.ReviewedByID = lo.ToPtr(in.UserID)
	updated.ReviewedAt = &now
	updated.AppliedAt = &now
	updated.UpdatedAt = now

	// suite row first, then the proposal, as in Propose
	err = s.store.WithinTx(ctx, func(tx repository.Tx) error {
		locked, err := tx.LockSuite(ctx, suite.ID)
		if err != nil {
			return err
		}
		if err := guardSuite(locked, in.UserID); err != nil {
			return err
		}
		if err := tx.UpdateProposalReview(ctx, updated, in.ConcurrencyToken); err != nil {
			return err
		}

		locked.ApprovalStatus = domain.ApprovalApproved
		locked.ApprovedByID = lo.ToPtr(in.UserID)
		locked.ApprovedAt = &now
		locked.UpdatedAt = now
		return tx.UpdateSuiteApproval(ctx, locked)
	})
	if err != nil {
		return nil, s.translate(err)
	}

	s.log.WithFields(logrus.Fields{
		"suite_id":    suite.ID,
		"proposal_id": updated.ID,
		"status":      updated.Status,
	}).Info("order proposal approved")

	s.afterCommit(ctx, domain.EventProposalApproved, updated, in.UserID, true)
	return updated, nil
}

// Reject closes a pending proposal. Review notes are mandatory.
func (s *ProposalService) Reject(ctx context.Context, in RejectInput) (*domain.TestOrderProposal, error) {
	if err := requireToken(in.ConcurrencyToken); err != nil {
		return nil, err
	}
	notes := strings.TrimSpace(in.ReviewNotes)
	if notes == "" {
		return nil, domain.Validation(domain.ReasonReviewNotesRequired, "review notes are required to reject a proposal")
	}
	suite, proposal, err := s.loadForReview(ctx, in.SuiteID, in.ProposalID, in.UserID)
	if err != nil {
		return nil, err
	}
	if proposal.Status != domain.ProposalPending {
		return nil, notPending(proposal)
	}

	now := s.now()
	updated := proposal.Clone()
	updated.Status = domain.ProposalRejected
	updated.ReviewedByID = lo.ToPtr(in.UserID)
	updated.ReviewedAt = &now
	updated.ReviewNotes = &notes
	updated.UpdatedAt = now

	err = s.store.WithinTx(ctx, func(tx repository.Tx) error {
		locked, err := tx.LockSuite(ctx, suite.ID)
		if err != nil {
			return err
		}
		if err := guardSuite(locked, in.UserID); err != nil {
			return err
		}
		if err := tx.UpdateProposalReview(ctx, updated, in.ConcurrencyToken); err != nil {
			return err
		}

		locked.ApprovalStatus = domain.ApprovalRejected
		locked.ApprovedByID = nil
		locked.ApprovedAt = nil
		locked.UpdatedAt = now
		return tx.UpdateSuiteApproval(ctx, locked)
	})
	if err != nil {
		return nil, s.translate(err)
	}

	s.log.WithFields(logrus.Fields{
		"suite_id":    suite.ID,
		"proposal_id": updated.ID,
	}).Info("order proposal rejected")

	s.afterCommit(ctx, domain.EventProposalRejected, updated, in.UserID, true)
	return updated, nil
}

// GetProposal returns one proposal of a suite.
func (s *ProposalService) GetProposal(ctx context.Context, suiteID, proposalID uuid.UUID) (*domain.TestOrderProposal, error) {
	if _, err := s.loadSuite(ctx, suiteID); err != nil {
		return nil, err
	}
	p, err := s.store.GetProposal(ctx, suiteID, proposalID)
	if err != nil {
		return nil, s.translate(err)
	}
	return p, nil
}

// ListProposals returns the full proposal history by ascending number.
func (s *ProposalService) ListProposals(ctx context.Context, suiteID uuid.UUID) ([]domain.TestOrderProposal, error) {
	if _, err := s.loadSuite(ctx, suiteID); err != nil {
		return nil, err
	}
	list, err := s.store.ListProposals(ctx, suiteID)
	if err != nil {
		return nil, s.translate(err)
	}
	return list, nil
}

// GetLatestProposal returns the highest-numbered proposal of any status.
func (s *ProposalService) GetLatestProposal(ctx context.Context, suiteID uuid.UUID) (*domain.TestOrderProposal, error) {
	if _, err := s.loadSuite(ctx, suiteID); err != nil {
		return nil, err
	}
	p, err := s.store.LatestProposal(ctx, suiteID)
	if err != nil {
		return nil, s.translate(err)
	}
	return p, nil
}

func (s *ProposalService) loadSuite(ctx context.Context, suiteID uuid.UUID) (*domain.TestSuite, error) {
	suite, err := s.store.GetSuite(ctx, suiteID)
	if err != nil {
		return nil, s.translate(err)
	}
	return suite, nil
}

func (s *ProposalService) loadForReview(ctx context.Context, suiteID, proposalID uuid.UUID, userID string) (*domain.TestSuite, *domain.TestOrderProposal, error) {
	suite, err := s.loadSuite(ctx, suiteID)
	if err != nil {
		return nil, nil, err
	}
	if err := guardSuite(suite, userID); err != nil {
		return nil, nil, err
	}
	proposal, err := s.store.GetProposal(ctx, suiteID, proposalID)
	if err != nil {
		return nil, nil, s.translate(err)
	}
	return suite, proposal, nil
}

// afterCommit runs the best-effort follow-ups of a committed mutation.
// Failures are logged and never returned.
func (s *ProposalService) afterCommit(ctx context.Context, eventType string, p *domain.TestOrderProposal, actorID string, gateChanged bool) {
	log := s.log.WithFields(logrus.Fields{"suite_id": p.TestSuiteID, "proposal_id": p.ID})

	if gateChanged && s.gateCache != nil {
		if err := s.gateCache.Invalidate(ctx, p.TestSuiteID); err != nil {
			log.WithError(err).Warn("failed to invalidate gate cache")
		}
	}
	if s.events == nil {
		return
	}
	event := domain.ProposalEvent{
		Type:           eventType,
		SuiteID:        p.TestSuiteID,
		ProposalID:     p.ID,
		ProposalNumber: p.ProposalNumber,
		Status:         p.Status,
		ActorID:        actorID,
		OccurredAt:     s.now(),
	}
	if err := s.events.Publish(ctx, event); err != nil {
		log.WithError(err).WithField("event", eventType).Warn("failed to publish proposal event")
	}
}

// translate maps storage sentinels onto the workflow error surface.
func (s *ProposalService) translate(err error) error {
	var werr *domain.Error
	switch {
	case errors.As(err, &werr):
		return err
	case errors.Is(err, domain.ErrStaleWrite):
		return domain.Conflict(domain.ReasonConcurrencyConflict,
			"the proposal was modified by another request; reload it and retry").Wrap(err)
	case errors.Is(err, domain.ErrSuiteNotFound):
		return domain.NotFound(domain.ReasonSuiteNotFound, "test suite not found").Wrap(err)
	case errors.Is(err, domain.ErrProposalNotFound):
		return domain.NotFound(domain.ReasonProposalNotFound, "order proposal not found").Wrap(err)
	default:
		return err
	}
}

func guardSuite(suite *domain.TestSuite, userID string) error {
	if strings.TrimSpace(userID) == "" || suite.CreatedByID != userID {
		return domain.Validation(domain.ReasonNotSuiteOwner, "only the suite owner can change its test order")
	}
	if suite.IsArchived() {
		reason := suite.ArchiveReason
		if reason == "" {
			reason = "archived"
		}
		return domain.Validation(domain.ReasonSuiteArchived, "test suite is archived: %s", reason)
	}
	return nil
}

func requireToken(token string) error {
	if strings.TrimSpace(token) == "" {
		return domain.Validation(domain.ReasonConcurrencyTokenRequired, "concurrency token is required")
	}
	return nil
}

func notPending(p *domain.TestOrderProposal) error {
	return domain.Validation(domain.ReasonProposalNotPending,
		"proposal %d is %s; only pending proposals can be changed", p.ProposalNumber, p.Status)
}
