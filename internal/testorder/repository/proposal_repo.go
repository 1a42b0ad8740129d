package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/apiforge-labs/testorder-backend/internal/testorder/domain"
)

// Tx is the unit of work the proposal workflow mutates through. Nothing it
// writes is visible until the surrounding WithinTx returns nil.
type Tx interface {
	// LockSuite loads a suite and holds a row lock until the unit of work ends.
	LockSuite(ctx context.Context, suiteID uuid.UUID) (*domain.TestSuite, error)
	GetProposal(ctx context.Context, suiteID, proposalID uuid.UUID) (*domain.TestOrderProposal, error)
	// SupersedePending moves the suite's pending proposal, if any, to superseded.
	SupersedePending(ctx context.Context, suiteID uuid.UUID, at time.Time) (int64, error)
	NextProposalNumber(ctx context.Context, suiteID uuid.UUID) (int, error)
	// InsertProposal stores p and assigns its concurrency token.
	InsertProposal(ctx context.Context, p *domain.TestOrderProposal) error
	// UpdateProposalReview writes the mutable review fields of p if the stored
	// token still equals expectedToken, then assigns p a fresh token.
	// A mismatch returns domain.ErrStaleWrite.
	UpdateProposalReview(ctx context.Context, p *domain.TestOrderProposal, expectedToken string) error
	UpdateSuiteApproval(ctx context.Context, s *domain.TestSuite) error
}

type queryer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ProposalRepository persists test suites and their order proposals.
type ProposalRepository struct {
	db *pgxpool.Pool
}

func NewProposalRepository(db *pgxpool.Pool) *ProposalRepository {
	return &ProposalRepository{db: db}
}

// WithinTx runs fn in one transaction, committing only when fn returns nil.
// A cancelled ctx aborts before commit.
func (r *ProposalRepository) WithinTx(ctx context.Context, fn func(Tx) error) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&pgTx{q: tx}); err != nil {
		return lockConflict(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", lockConflict(err))
	}
	return nil
}

const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

// lockConflict reports an aborted transaction as a stale write so callers
// can reload and retry.
func lockConflict(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == pgSerializationFailure || pgErr.Code == pgDeadlockDetected) {
		return fmt.Errorf("%w: %s", domain.ErrStaleWrite, pgErr.Message)
	}
	return err
}

func (r *ProposalRepository) GetSuite(ctx context.Context, suiteID uuid.UUID) (*domain.TestSuite, error) {
	return getSuite(ctx, r.db, suiteID, false)
}

func (r *ProposalRepository) GetProposal(ctx context.Context, suiteID, proposalID uuid.UUID) (*domain.TestOrderProposal, error) {
	return getProposal(ctx, r.db, suiteID, proposalID)
}

// ListProposals returns every proposal of a suite by ascending number.
func (r *ProposalRepository) ListProposals(ctx context.Context, suiteID uuid.UUID) ([]domain.TestOrderProposal, error) {
	rows, err := r.db.Query(ctx, selectProposal+`
where test_suite_id = $1
order by proposal_number asc;
`, suiteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.TestOrderProposal, 0, 8)
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// LatestProposal returns the highest-numbered proposal of any status.
func (r *ProposalRepository) LatestProposal(ctx context.Context, suiteID uuid.UUID) (*domain.TestOrderProposal, error) {
	return r.latest(ctx, suiteID, false)
}

// LatestApprovedProposal returns the highest-numbered approved or
// modified-and-approved proposal that carries an applied order.
func (r *ProposalRepository) LatestApprovedProposal(ctx context.Context, suiteID uuid.UUID) (*domain.TestOrderProposal, error) {
	return r.latest(ctx, suiteID, true)
}

func (r *ProposalRepository) latest(ctx context.Context, suiteID uuid.UUID, approvedOnly bool) (*domain.TestOrderProposal, error) {
	q := selectProposal + `
where test_suite_id = $1
`
	if approvedOnly {
		q += `  and status in ('approved', 'modified_and_approved')
  and applied_order is not null
`
	}
	q += `order by proposal_number desc
limit 1;
`
	p, err := scanProposal(r.db.QueryRow(ctx, q, suiteID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrProposalNotFound
	}
	return p, err
}

type pgTx struct {
	q queryer
}

func (t *pgTx) LockSuite(ctx context.Context, suiteID uuid.UUID) (*domain.TestSuite, error) {
	return getSuite(ctx, t.q, suiteID, true)
}

func (t *pgTx) GetProposal(ctx context.Context, suiteID, proposalID uuid.UUID) (*domain.TestOrderProposal, error) {
	return getProposal(ctx, t.q, suiteID, proposalID)
}

func (t *pgTx) SupersedePending(ctx context.Context, suiteID uuid.UUID, at time.Time) (int64, error) {
	tag, err := t.q.Exec(ctx, `
update test_order_proposals
set status = 'superseded',
    updated_at = $2,
    concurrency_token = gen_random_uuid()
where test_suite_id = $1
  and status = 'pending'
`, suiteID, at)
	if err != nil {
		return 0, fmt.Errorf("supersede pending proposal: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (t *pgTx) NextProposalNumber(ctx context.Context, suiteID uuid.UUID) (int, error) {
	var next int
	if err := t.q.QueryRow(ctx, `
select coalesce(max(proposal_number), 0) + 1
from test_order_proposals
where test_suite_id = $1
`, suiteID).Scan(&next); err != nil {
		return 0, fmt.Errorf("next proposal number: %w", err)
	}
	return next, nil
}

func (t *pgTx) InsertProposal(ctx context.Context, p *domain.TestOrderProposal) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.ConcurrencyToken = uuid.NewString()

	err := t.q.QueryRow(ctx, `
insert into test_order_proposals (
  id, test_suite_id, proposal_number, source, status,
  proposed_order, user_modified_order, applied_order,
  reviewed_by_id, reviewed_at, review_notes, applied_at,
  created_by_id, created_at, updated_at, concurrency_token
)
values (
  $1, $2, $3, $4, $5,
  $6::jsonb, $7::jsonb, $8::jsonb,
  $9, $10, $11, $12,
  $13, $14, $14, $15
)
returning created_at, updated_at
`, p.ID, p.TestSuiteID, p.ProposalNumber, string(p.Source), string(p.Status),
		jsonText(p.ProposedOrder), jsonText(p.UserModifiedOrder), jsonText(p.AppliedOrder),
		p.ReviewedByID, p.ReviewedAt, p.ReviewNotes, p.AppliedAt,
		p.CreatedByID, p.CreatedAt, p.ConcurrencyToken,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert proposal: %w", err)
	}
	return nil
}

func (t *pgTx) UpdateProposalReview(ctx context.Context, p *domain.TestOrderProposal, expectedToken string) error {
	next := uuid.NewString()
	tag, err := t.q.Exec(ctx, `
update test_order_proposals
set status = $3,
    user_modified_order = $4::jsonb,
    applied_order = $5::jsonb,
    reviewed_by_id = $6,
    reviewed_at = $7,
    review_notes = $8,
    applied_at = $9,
    updated_at = $10,
    concurrency_token = $11
where id = $1
  and concurrency_token::text = $2
`, p.ID, expectedToken, string(p.Status),
		jsonText(p.UserModifiedOrder), jsonText(p.AppliedOrder),
		p.ReviewedByID, p.ReviewedAt, p.ReviewNotes, p.AppliedAt,
		p.UpdatedAt, next)
	if err != nil {
		return fmt.Errorf("update proposal: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrStaleWrite
	}
	p.ConcurrencyToken = next
	return nil
}

func (t *pgTx) UpdateSuiteApproval(ctx context.Context, s *domain.TestSuite) error {
	tag, err := t.q.Exec(ctx, `
update test_suites
set approval_status = $2,
    approved_by_id = $3,
    approved_at = $4,
    updated_at = $5
where id = $1
`, s.ID, string(s.ApprovalStatus), s.ApprovedByID, s.ApprovedAt, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update suite approval: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSuiteNotFound
	}
	return nil
}

func getSuite(ctx context.Context, q queryer, suiteID uuid.UUID, forUpdate bool) (*domain.TestSuite, error) {
	sql := `
select id, project_id, specification_id, name, selected_endpoint_ids::text[],
       approval_status, approved_by_id, approved_at, created_by_id,
       archived_at, coalesce(archive_reason, ''), created_at, updated_at
from test_suites
where id = $1
`
	if forUpdate {
		sql += "for update\n"
	}

	var s domain.TestSuite
	var selected []string
	var status string
	err := q.QueryRow(ctx, sql, suiteID).Scan(
		&s.ID, &s.ProjectID, &s.SpecificationID, &s.Name, &selected,
		&status, &s.ApprovedByID, &s.ApprovedAt, &s.CreatedByID,
		&s.ArchivedAt, &s.ArchiveReason, &s.CreatedAt, &s.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrSuiteNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get suite: %w", err)
	}

	s.ApprovalStatus = domain.ApprovalStatus(status)
	s.SelectedEndpointIDs = make([]uuid.UUID, 0, len(selected))
	for _, raw := range selected {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("suite %s: selected endpoint id %q: %w", suiteID, raw, err)
		}
		s.SelectedEndpointIDs = append(s.SelectedEndpointIDs, id)
	}
	return &s, nil
}

const selectProposal = `
select id, test_suite_id, proposal_number, source, status,
       proposed_order::text, user_modified_order::text, applied_order::text,
       reviewed_by_id, reviewed_at, review_notes, applied_at,
       created_by_id, created_at, updated_at, concurrency_token::text
from test_order_proposals`

func getProposal(ctx context.Context, q queryer, suiteID, proposalID uuid.UUID) (*domain.TestOrderProposal, error) {
	p, err := scanProposal(q.QueryRow(ctx, selectProposal+`
where id = $1
  and test_suite_id = $2
`, proposalID, suiteID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrProposalNotFound
	}
	return p, err
}

func scanProposal(row pgx.Row) (*domain.TestOrderProposal, error) {
	var p domain.TestOrderProposal
	var source, status string
	var proposed string
	var modified, applied *string
	err := row.Scan(
		&p.ID, &p.TestSuiteID, &p.ProposalNumber, &source, &status,
		&proposed, &modified, &applied,
		&p.ReviewedByID, &p.ReviewedAt, &p.ReviewNotes, &p.AppliedAt,
		&p.CreatedByID, &p.CreatedAt, &p.UpdatedAt, &p.ConcurrencyToken,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan proposal: %w", err)
	}
	p.Source = domain.ProposalSource(source)
	p.Status = domain.ProposalStatus(status)
	p.ProposedOrder = json.RawMessage(proposed)
	if modified != nil {
		p.UserModifiedOrder = json.RawMessage(*modified)
	}
	if applied != nil {
		p.AppliedOrder = json.RawMessage(*applied)
	}
	return &p, nil
}

// jsonText passes a JSON column as text so NULL stays NULL.
func jsonText(raw json.RawMessage) *string {
	if len(raw) == 0 {
		return nil
	}
	s := string(raw)
	return &s
}
