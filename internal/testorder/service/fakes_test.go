package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/apiforge-labs/testorder-backend/internal/testorder/domain"
	"github.com/apiforge-labs/testorder-backend/internal/testorder/repository"
)

// memStore is an in-memory Store. Transactions run on copies and are
// swapped in only on success, so a failed unit of work leaves no trace.
type memStore struct {
	mu        sync.Mutex
	suites    map[uuid.UUID]*domain.TestSuite
	proposals map[uuid.UUID]*domain.TestOrderProposal
	reads     int
	// txOps records the Tx calls of the last unit of work, in order.
	txOps []string
	// txErr, when set, aborts the next unit of work after fn ran.
	txErr error
	// beforeTx runs under the store lock as a unit of work begins.
	beforeTx func(m *memStore)
}

func newMemStore(suites ...*domain.TestSuite) *memStore {
	m := &memStore{
		suites:    make(map[uuid.UUID]*domain.TestSuite),
		proposals: make(map[uuid.UUID]*domain.TestOrderProposal),
	}
	for _, s := range suites {
		m.suites[s.ID] = s.Clone()
	}
	return m
}

func (m *memStore) GetSuite(_ context.Context, suiteID uuid.UUID) (*domain.TestSuite, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	s, ok := m.suites[suiteID]
	if !ok {
		return nil, domain.ErrSuiteNotFound
	}
	return s.Clone(), nil
}

func (m *memStore) GetProposal(_ context.Context, suiteID, proposalID uuid.UUID) (*domain.TestOrderProposal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	return findProposal(m.proposals, suiteID, proposalID)
}

func (m *memStore) ListProposals(_ context.Context, suiteID uuid.UUID) ([]domain.TestOrderProposal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	var out []domain.TestOrderProposal
	for _, p := range m.sorted(suiteID) {
		out = append(out, *p.Clone())
	}
	return out, nil
}

func (m *memStore) LatestProposal(_ context.Context, suiteID uuid.UUID) (*domain.TestOrderProposal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	list := m.sorted(suiteID)
	if len(list) == 0 {
		return nil, domain.ErrProposalNotFound
	}
	return list[len(list)-1].Clone(), nil
}

func (m *memStore) LatestApprovedProposal(_ context.Context, suiteID uuid.UUID) (*domain.TestOrderProposal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	list := m.sorted(suiteID)
	for i := len(list) - 1; i >= 0; i-- {
		if list[i].Status.IsApproved() && len(list[i].AppliedOrder) > 0 {
			return list[i].Clone(), nil
		}
	}
	return nil, domain.ErrProposalNotFound
}

func (m *memStore) WithinTx(ctx context.Context, fn func(repository.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.beforeTx != nil {
		m.beforeTx(m)
		m.beforeTx = nil
	}

	tx := &memTx{
		suites:    make(map[uuid.UUID]*domain.TestSuite, len(m.suites)),
		proposals: make(map[uuid.UUID]*domain.TestOrderProposal, len(m.proposals)),
	}
	for id, s := range m.suites {
		tx.suites[id] = s.Clone()
	}
	for id, p := range m.proposals {
		tx.proposals[id] = p.Clone()
	}

	err := fn(tx)
	m.txOps = tx.ops
	if err != nil {
		return err
	}
	if m.txErr != nil {
		err, m.txErr = m.txErr, nil
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.suites, m.proposals = tx.suites, tx.proposals
	return nil
}

func (m *memStore) sorted(suiteID uuid.UUID) []*domain.TestOrderProposal {
	var out []*domain.TestOrderProposal
	for _, p := range m.proposals {
		if p.TestSuiteID == suiteID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProposalNumber < out[j].ProposalNumber })
	return out
}

func (m *memStore) pendingCount(suiteID uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, p := range m.sorted(suiteID) {
		if p.Status == domain.ProposalPending {
			n++
		}
	}
	return n
}

type memTx struct {
	suites    map[uuid.UUID]*domain.TestSuite
	proposals map[uuid.UUID]*domain.TestOrderProposal
	ops       []string
}

func (t *memTx) LockSuite(_ context.Context, suiteID uuid.UUID) (*domain.TestSuite, error) {
	t.ops = append(t.ops, "LockSuite")
	s, ok := t.suites[suiteID]
	if !ok {
		return nil, domain.ErrSuiteNotFound
	}
	return s.Clone(), nil
}

func (t *memTx) GetProposal(_ context.Context, suiteID, proposalID uuid.UUID) (*domain.TestOrderProposal, error) {
	t.ops = append(t.ops, "GetProposal")
	return findProposal(t.proposals, suiteID, proposalID)
}

func (t *memTx) SupersedePending(_ context.Context, suiteID uuid.UUID, at time.Time) (int64, error) {
	t.ops = append(t.ops, "SupersedePending")
	var n int64
	for _, p := range t.proposals {
		if p.TestSuiteID == suiteID && p.Status == domain.ProposalPending {
			p.Status = domain.ProposalSuperseded
			p.UpdatedAt = at
			p.ConcurrencyToken = uuid.NewString()
			n++
		}
	}
	return n, nil
}

func (t *memTx) NextProposalNumber(_ context.Context, suiteID uuid.UUID) (int, error) {
	t.ops = append(t.ops, "NextProposalNumber")
	highest := 0
	for _, p := range t.proposals {
		if p.TestSuiteID == suiteID && p.ProposalNumber > highest {
			highest = p.ProposalNumber
		}
	}
	return highest + 1, nil
}

func (t *memTx) InsertProposal(_ context.Context, p *domain.TestOrderProposal) error {
	t.ops = append(t.ops, "InsertProposal")
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	for _, existing := range t.proposals {
		if existing.TestSuiteID == p.TestSuiteID && existing.ProposalNumber == p.ProposalNumber {
			return fmt.Errorf("duplicate proposal number %d", p.ProposalNumber)
		}
		if existing.TestSuiteID == p.TestSuiteID && existing.Status == domain.ProposalPending && p.Status == domain.ProposalPending {
			return fmt.Errorf("suite %s already has a pending proposal", p.TestSuiteID)
		}
	}
	p.ConcurrencyToken = uuid.NewString()
	t.proposals[p.ID] = p.Clone()
	return nil
}

func (t *memTx) UpdateProposalReview(_ context.Context, p *domain.TestOrderProposal, expectedToken string) error {
	t.ops = append(t.ops, "UpdateProposalReview")
	stored, ok := t.proposals[p.ID]
	if !ok || stored.ConcurrencyToken != expectedToken {
		return domain.ErrStaleWrite
	}
	next := p.Clone()
	next.ProposedOrder = stored.ProposedOrder
	next.ConcurrencyToken = uuid.NewString()
	t.proposals[p.ID] = next
	p.ConcurrencyToken = next.ConcurrencyToken
	return nil
}

func (t *memTx) UpdateSuiteApproval(_ context.Context, s *domain.TestSuite) error {
	t.ops = append(t.ops, "UpdateSuiteApproval")
	if _, ok := t.suites[s.ID]; !ok {
		return domain.ErrSuiteNotFound
	}
	t.suites[s.ID] = s.Clone()
	return nil
}

func findProposal(all map[uuid.UUID]*domain.TestOrderProposal, suiteID, proposalID uuid.UUID) (*domain.TestOrderProposal, error) {
	p, ok := all[proposalID]
	if !ok || p.TestSuiteID != suiteID {
		return nil, domain.ErrProposalNotFound
	}
	return p.Clone(), nil
}

// catalogueResolver serves fixed metadata, in request order.
type catalogueResolver map[uuid.UUID]domain.EndpointMetadata

func (c catalogueResolver) GetEndpointMetadata(_ context.Context, _ uuid.UUID, ids []uuid.UUID) ([]domain.EndpointMetadata, error) {
	if len(ids) == 0 {
		return nil, domain.Validation(domain.ReasonEmptyEndpointSet, "at least one endpoint is required")
	}
	out := make([]domain.EndpointMetadata, 0, len(ids))
	for _, id := range ids {
		m, ok := c[id]
		if !ok {
			return nil, domain.NotFound(domain.ReasonEndpointNotInSpecification, "endpoint %s not found", id)
		}
		out = append(out, m)
	}
	return out, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.ProposalEvent
	err    error
}

func (r *recordingPublisher) Publish(_ context.Context, e domain.ProposalEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return r.err
}

func (r *recordingPublisher) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

type recordingCache struct {
	mu          sync.Mutex
	entries     map[uuid.UUID]*domain.GateStatus
	generations map[uuid.UUID]int64
	invalidated []uuid.UUID
	err         error
	// afterGeneration runs once Generation has been read.
	afterGeneration func()
}

func newRecordingCache() *recordingCache {
	return &recordingCache{
		entries:     make(map[uuid.UUID]*domain.GateStatus),
		generations: make(map[uuid.UUID]int64),
	}
}

func (r *recordingCache) Get(_ context.Context, suiteID uuid.UUID) (*domain.GateStatus, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, false, r.err
	}
	s, ok := r.entries[suiteID]
	return s, ok, nil
}

func (r *recordingCache) Generation(_ context.Context, suiteID uuid.UUID) (int64, error) {
	r.mu.Lock()
	gen, err := r.generations[suiteID], r.err
	hook := r.afterGeneration
	r.afterGeneration = nil
	r.mu.Unlock()
	if hook != nil {
		hook()
	}
	return gen, err
}

func (r *recordingCache) Set(_ context.Context, status *domain.GateStatus, generation int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return false, r.err
	}
	if r.generations[status.SuiteID] != generation {
		return false, nil
	}
	r.entries[status.SuiteID] = status
	return true, nil
}

func (r *recordingCache) Invalidate(_ context.Context, suiteID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invalidated = append(r.invalidated, suiteID)
	if r.err != nil {
		return r.err
	}
	r.generations[suiteID]++
	delete(r.entries, suiteID)
	return nil
}

func (m *memStore) lastTxOps() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.txOps...)
}
