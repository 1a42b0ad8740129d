package service

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apiforge-labs/testorder-backend/internal/testorder/domain"
)

func (f *fixture) approve(t *testing.T, p *domain.TestOrderProposal) *domain.TestOrderProposal {
	t.Helper()
	approved, err := f.svc.Approve(context.Background(), ApproveInput{
		SuiteID: f.suite.ID, ProposalID: p.ID, UserID: owner, ConcurrencyToken: p.ConcurrencyToken,
	})
	require.NoError(t, err)
	return approved
}

func TestGateService_GetGateStatus(t *testing.T) {
	t.Run("fails without any proposal", func(t *testing.T) {
		f := newFixture(t)

		status, err := f.gate.GetGateStatus(context.Background(), f.suite.ID)
		require.NoError(t, err)
		assert.False(t, status.IsGatePassed)
		assert.Equal(t, domain.ReasonOrderConfirmationRequired, status.ReasonCode)
		assert.Nil(t, status.ActiveProposalID)
		assert.Nil(t, status.ActiveProposalStatus)
		assert.Zero(t, status.OrderSize)
	})

	t.Run("fails while the latest proposal is pending", func(t *testing.T) {
		f := newFixture(t)
		p := f.propose(t, f.createUser)

		status, err := f.gate.GetGateStatus(context.Background(), f.suite.ID)
		require.NoError(t, err)
		assert.False(t, status.IsGatePassed)
		assert.Equal(t, p.ID, lo.FromPtr(status.ActiveProposalID))
		assert.Equal(t, domain.ProposalPending, lo.FromPtr(status.ActiveProposalStatus))
		assert.Empty(t, f.cache.entries)
	})

	t.Run("passes once an order is approved", func(t *testing.T) {
		f := newFixture(t)
		p := f.approve(t, f.propose(t, f.login, f.createUser, f.getUser))

		status, err := f.gate.GetGateStatus(context.Background(), f.suite.ID)
		require.NoError(t, err)
		assert.True(t, status.IsGatePassed)
		assert.Empty(t, status.ReasonCode)
		assert.Equal(t, p.ID, lo.FromPtr(status.ActiveProposalID))
		assert.Equal(t, domain.ProposalApproved, lo.FromPtr(status.ActiveProposalStatus))
		assert.Equal(t, 3, status.OrderSize)
		assert.Contains(t, f.cache.entries, f.suite.ID)
	})

	t.Run("keeps passing on the approved order while a newer proposal is pending", func(t *testing.T) {
		f := newFixture(t)
		approved := f.approve(t, f.propose(t, f.createUser, f.getUser))
		f.propose(t, f.createUser)

		status, err := f.gate.GetGateStatus(context.Background(), f.suite.ID)
		require.NoError(t, err)
		assert.True(t, status.IsGatePassed)
		assert.Equal(t, approved.ID, lo.FromPtr(status.ActiveProposalID))
		assert.Equal(t, 2, status.OrderSize)
	})

	t.Run("serves cached results", func(t *testing.T) {
		f := newFixture(t)
		f.approve(t, f.propose(t, f.createUser))

		_, err := f.gate.GetGateStatus(context.Background(), f.suite.ID)
		require.NoError(t, err)
		reads := f.store.reads

		status, err := f.gate.GetGateStatus(context.Background(), f.suite.ID)
		require.NoError(t, err)
		assert.True(t, status.IsGatePassed)
		assert.Equal(t, reads, f.store.reads)
	})

	t.Run("proposing drops the cached result", func(t *testing.T) {
		f := newFixture(t)
		f.approve(t, f.propose(t, f.createUser))
		_, err := f.gate.GetGateStatus(context.Background(), f.suite.ID)
		require.NoError(t, err)
		require.Contains(t, f.cache.entries, f.suite.ID)

		f.propose(t, f.createUser)
		assert.NotContains(t, f.cache.entries, f.suite.ID)
	})

	t.Run("an approval during evaluation keeps the result out of the cache", func(t *testing.T) {
		f := newFixture(t)
		f.approve(t, f.propose(t, f.createUser))
		second := f.propose(t, f.createUser, f.getUser)
		f.cache.afterGeneration = func() { f.approve(t, second) }

		status, err := f.gate.GetGateStatus(context.Background(), f.suite.ID)
		require.NoError(t, err)
		assert.True(t, status.IsGatePassed)
		assert.NotContains(t, f.cache.entries, f.suite.ID)

		status, err = f.gate.GetGateStatus(context.Background(), f.suite.ID)
		require.NoError(t, err)
		assert.Equal(t, second.ID, lo.FromPtr(status.ActiveProposalID))
		require.Contains(t, f.cache.entries, f.suite.ID)
		assert.Equal(t, second.ID, lo.FromPtr(f.cache.entries[f.suite.ID].ActiveProposalID))
	})

	t.Run("cache failures fall back to the store", func(t *testing.T) {
		f := newFixture(t)
		f.approve(t, f.propose(t, f.createUser))
		f.cache.err = errors.New("redis down")

		status, err := f.gate.GetGateStatus(context.Background(), f.suite.ID)
		require.NoError(t, err)
		assert.True(t, status.IsGatePassed)
	})

	t.Run("unknown suite", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.gate.GetGateStatus(context.Background(), uuid.New())
		assertWorkflowError(t, err, domain.KindNotFound, domain.ReasonSuiteNotFound)
	})
}

func TestGateService_RequireApprovedOrder(t *testing.T) {
	t.Run("refuses when only a rejected proposal exists", func(t *testing.T) {
		f := newFixture(t)
		p := f.propose(t, f.createUser)
		_, err := f.svc.Reject(context.Background(), RejectInput{
			SuiteID: f.suite.ID, ProposalID: p.ID, UserID: owner, ConcurrencyToken: p.ConcurrencyToken, ReviewNotes: "needs review",
		})
		require.NoError(t, err)

		_, err = f.gate.RequireApprovedOrder(context.Background(), f.suite.ID)
		assertWorkflowError(t, err, domain.KindConflict, domain.ReasonOrderConfirmationRequired)

		status, err := f.gate.GetGateStatus(context.Background(), f.suite.ID)
		require.NoError(t, err)
		assert.False(t, status.IsGatePassed)
		assert.Equal(t, domain.ProposalRejected, lo.FromPtr(status.ActiveProposalStatus))
	})

	t.Run("returns the applied order", func(t *testing.T) {
		f := newFixture(t)
		p := f.propose(t, f.createUser, f.getUser)
		reordered, err := f.svc.Reorder(context.Background(), ReorderInput{
			SuiteID: f.suite.ID, ProposalID: p.ID, UserID: owner, ConcurrencyToken: p.ConcurrencyToken,
			OrderedEndpointIDs: []uuid.UUID{f.getUser, f.createUser},
		})
		require.NoError(t, err)
		f.approve(t, reordered)

		items, err := f.gate.RequireApprovedOrder(context.Background(), f.suite.ID)
		require.NoError(t, err)
		require.Len(t, items, 2)
		assert.Equal(t, f.getUser, items[0].EndpointID)
		assert.Equal(t, 1, items[0].OrderIndex)
		assert.Equal(t, f.createUser, items[1].EndpointID)
		assert.Equal(t, 2, items[1].OrderIndex)
	})

	t.Run("unknown suite", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.gate.RequireApprovedOrder(context.Background(), uuid.New())
		assertWorkflowError(t, err, domain.KindNotFound, domain.ReasonSuiteNotFound)
	})
}
