package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/apiforge-labs/testorder-backend/internal/testorder/builder"
	"github.com/apiforge-labs/testorder-backend/internal/testorder/domain"
)

// GateStore is the read side the approval gate needs.
type GateStore interface {
	GetSuite(ctx context.Context, suiteID uuid.UUID) (*domain.TestSuite, error)
	LatestProposal(ctx context.Context, suiteID uuid.UUID) (*domain.TestOrderProposal, error)
	LatestApprovedProposal(ctx context.Context, suiteID uuid.UUID) (*domain.TestOrderProposal, error)
}

// GateCache keeps passed gate results. Set only stores when the suite's
// generation still equals the one read before evaluating.
type GateCache interface {
	Get(ctx context.Context, suiteID uuid.UUID) (*domain.GateStatus, bool, error)
	Generation(ctx context.Context, suiteID uuid.UUID) (int64, error)
	Set(ctx context.Context, status *domain.GateStatus, generation int64) (bool, error)
}

// GateService answers whether downstream generation may run for a suite.
type GateService struct {
	store GateStore
	cache GateCache
	log   logrus.FieldLogger
}

// NewGateService creates a gate over store. cache may be nil.
func NewGateService(store GateStore, cache GateCache, log logrus.FieldLogger) *GateService {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &GateService{store: store, cache: cache, log: log}
}

func (g *GateService) GetGateStatus(ctx context.Context, suiteID uuid.UUID) (*domain.GateStatus, error) {
	log := g.log.WithField("suite_id", suiteID)

	cacheable := g.cache != nil
	var generation int64
	if cacheable {
		status, ok, err := g.cache.Get(ctx, suiteID)
		switch {
		case err != nil:
			log.WithError(err).Warn("gate cache read failed")
		case ok:
			return status, nil
		}
		if generation, err = g.cache.Generation(ctx, suiteID); err != nil {
			log.WithError(err).Warn("gate cache generation read failed")
			cacheable = false
		}
	}

	status, _, err := g.evaluate(ctx, suiteID)
	if err != nil {
		return nil, err
	}

	if status.IsGatePassed && cacheable {
		stored, err := g.cache.Set(ctx, status, generation)
		switch {
		case err != nil:
			log.WithError(err).Warn("gate cache write failed")
		case !stored:
			log.Debug("gate changed during evaluation; result not cached")
		}
	}
	return status, nil
}

// RequireApprovedOrder returns the frozen applied order of the suite, or a
// Conflict(ORDER_CONFIRMATION_REQUIRED) when no order has been approved.
// Downstream generation must call this before producing any test case.
func (g *GateService) RequireApprovedOrder(ctx context.Context, suiteID uuid.UUID) ([]domain.OrderItem, error) {
	status, proposal, err := g.evaluate(ctx, suiteID)
	if err != nil {
		return nil, err
	}
	if !status.IsGatePassed {
		return nil, domain.Conflict(domain.ReasonOrderConfirmationRequired,
			"test order for suite %s must be approved before generating test cases", suiteID)
	}
	return builder.DeserializeOrderJSON(proposal.AppliedOrder)
}

// evaluate reads the gate from the store. The returned proposal is the
// approved one when the gate passes.
func (g *GateService) evaluate(ctx context.Context, suiteID uuid.UUID) (*domain.GateStatus, *domain.TestOrderProposal, error) {
	if _, err := g.store.GetSuite(ctx, suiteID); err != nil {
		if errors.Is(err, domain.ErrSuiteNotFound) {
			return nil, nil, domain.NotFound(domain.ReasonSuiteNotFound, "test suite not found").Wrap(err)
		}
		return nil, nil, err
	}

	status := &domain.GateStatus{SuiteID: suiteID}

	approved, err := g.store.LatestApprovedProposal(ctx, suiteID)
	switch {
	case err == nil && len(approved.AppliedOrder) > 0:
		items, err := builder.DeserializeOrderJSON(approved.AppliedOrder)
		if err != nil {
			return nil, nil, fmt.Errorf("proposal %s: %w", approved.ID, err)
		}
		status.IsGatePassed = true
		status.ActiveProposalID = &approved.ID
		status.ActiveProposalStatus = &approved.Status
		status.OrderSize = len(items)
		return status, approved, nil
	case err != nil && !errors.Is(err, domain.ErrProposalNotFound):
		return nil, nil, err
	}

	status.ReasonCode = domain.ReasonOrderConfirmationRequired
	latest, err := g.store.LatestProposal(ctx, suiteID)
	switch {
	case err == nil:
		status.ActiveProposalID = &latest.ID
		status.ActiveProposalStatus = &latest.Status
	case !errors.Is(err, domain.ErrProposalNotFound):
		return nil, nil, err
	}
	return status, nil, nil
}
