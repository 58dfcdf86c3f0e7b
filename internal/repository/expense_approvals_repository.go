package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/finara-hq/be-expenses/internal/database"
	"github.com/finara-hq/be-expenses/internal/errors"
)

// ActionSnapshot is the locked view of one expense's approval set, read
// under the expense row lock. Siblings holds the full set ordered by
// sequence_order and includes Target.
type ActionSnapshot struct {
	Expense  *Expense
	Target   *ExpenseApproval
	Siblings []*ExpenseApproval
}

// ActionWrites is the batch of writes computed from a snapshot and committed
// atomically with it.
type ActionWrites struct {
	TargetStatus   ApprovalStatus
	TargetComments *string
	ActedAt        time.Time
	SkipIDs        []string       // pending siblings to mark skipped
	ExpenseStatus  *ExpenseStatus // nil = no expense-level transition
}

// ExpenseApprovalsRepository handles reads and updates on approval records.
// Record creation happens in ExpenseRepository.Submit (transactionally with
// the expense's own transition).
type ExpenseApprovalsRepository struct {
	db *database.DB
}

// NewExpenseApprovalsRepository creates a new ExpenseApprovalsRepository.
func NewExpenseApprovalsRepository(db *database.DB) *ExpenseApprovalsRepository {
	return &ExpenseApprovalsRepository{db: db}
}

// WithActionLock runs one approval action as a single transaction. It locks
// the parent expense row, reads the target record and its full sibling set
// under that lock, invokes fn to compute the resulting writes as a pure
// function of the snapshot, and commits them. Two concurrent actions on the
// same expense serialize on the expense row; actions on different expenses
// do not block each other. A nil ActionWrites commits nothing.
func (r *ExpenseApprovalsRepository) WithActionLock(
	ctx context.Context,
	approvalID string,
	fn func(snap *ActionSnapshot) (*ActionWrites, error),
) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		var expenseID string
		err := tx.QueryRow(ctx,
			`SELECT expense_id FROM expense_approvals WHERE id = $1`,
			approvalID,
		).Scan(&expenseID)
		if err == pgx.ErrNoRows {
			return errors.NotFound("expense_approval", approvalID)
		}
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to resolve approval")
		}

		// The expense row lock is the exclusive scope for the whole approval
		// set; every mutation path takes it before reading siblings.
		expenseQuery := `
			SELECT id, company_id, employee_id, expense_number, title, description, expense_date::text,
			       submitted_currency, submitted_amount, company_currency, company_amount,
			       exchange_rate, status, approval_rule_id, submitted_at, created_at, updated_at
			FROM expenses
			WHERE id = $1
			FOR UPDATE
		`
		expense, err := scanExpense(tx.QueryRow(ctx, expenseQuery, expenseID))
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to lock expense")
		}

		siblings, err := loadApprovals(ctx, tx, expenseID)
		if err != nil {
			return err
		}

		snap := &ActionSnapshot{Expense: expense, Siblings: siblings}
		for _, a := range siblings {
			if a.ID == approvalID {
				snap.Target = a
				break
			}
		}
		if snap.Target == nil {
			return errors.NotFound("expense_approval", approvalID)
		}

		writes, err := fn(snap)
		if err != nil {
			return err
		}
		if writes == nil {
			return nil
		}

		targetQuery := `
			UPDATE expense_approvals
			SET status      = $2,
			    comments    = $3,
			    approved_at = $4,
			    updated_at  = NOW()
			WHERE id = $1
		`
		if _, err := tx.Exec(ctx, targetQuery,
			approvalID, writes.TargetStatus, writes.TargetComments, writes.ActedAt,
		); err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to update approval")
		}

		if len(writes.SkipIDs) > 0 {
			skipQuery := `
				UPDATE expense_approvals
				SET status = 'skipped', updated_at = NOW()
				WHERE id = ANY($1) AND status = 'pending'
			`
			if _, err := tx.Exec(ctx, skipQuery, writes.SkipIDs); err != nil {
				return errors.Wrap(err, errors.ErrCodeInternal, "failed to skip sibling approvals")
			}
		}

		if writes.ExpenseStatus != nil {
			statusQuery := `
				UPDATE expenses
				SET status = $2, updated_at = NOW()
				WHERE id = $1
			`
			if _, err := tx.Exec(ctx, statusQuery, expenseID, *writes.ExpenseStatus); err != nil {
				return errors.Wrap(err, errors.ErrCodeInternal, "failed to update expense status")
			}
		}

		return nil
	})
}

// GetByID retrieves one approval record.
func (r *ExpenseApprovalsRepository) GetByID(ctx context.Context, id string) (*ExpenseApproval, error) {
	query := `
		SELECT id, expense_id, approver_id, sequence_order, status,
		       comments, approved_at, created_at, updated_at
		FROM expense_approvals
		WHERE id = $1
	`

	approval, err := scanApproval(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("expense_approval", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get approval")
	}
	return approval, nil
}

// GetByExpenseID returns the full approval set for an expense ordered by
// sequence_order.
func (r *ExpenseApprovalsRepository) GetByExpenseID(ctx context.Context, expenseID string) ([]*ExpenseApproval, error) {
	query := approvalSelect + `
		WHERE expense_id = $1
		ORDER BY sequence_order ASC, created_at ASC
	`

	rows, err := r.db.Query(ctx, query, expenseID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get expense approvals")
	}
	defer rows.Close()

	return scanApprovalRows(rows)
}

// GetPendingForApprover returns pending approval records awaiting a user,
// restricted to expenses that are themselves still pending.
func (r *ExpenseApprovalsRepository) GetPendingForApprover(ctx context.Context, approverID string) ([]*ExpenseApproval, error) {
	query := `
		SELECT a.id, a.expense_id, a.approver_id, a.sequence_order, a.status,
		       a.comments, a.approved_at, a.created_at, a.updated_at
		FROM expense_approvals a
		JOIN expenses e ON e.id = a.expense_id
		WHERE a.approver_id = $1
		  AND a.status = 'pending'
		  AND e.status = 'pending'
		ORDER BY e.submitted_at DESC, a.sequence_order ASC
	`

	rows, err := r.db.Query(ctx, query, approverID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get pending approvals")
	}
	defer rows.Close()

	return scanApprovalRows(rows)
}

// ── scan helpers ─────────────────────────────────────────────────────────────

const approvalSelect = `
	SELECT id, expense_id, approver_id, sequence_order, status,
	       comments, approved_at, created_at, updated_at
	FROM expense_approvals`

func loadApprovals(ctx context.Context, tx pgx.Tx, expenseID string) ([]*ExpenseApproval, error) {
	query := approvalSelect + `
		WHERE expense_id = $1
		ORDER BY sequence_order ASC, created_at ASC
	`

	rows, err := tx.Query(ctx, query, expenseID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to load approval set")
	}
	defer rows.Close()

	return scanApprovalRows(rows)
}

type approvalScanner interface {
	Scan(dest ...any) error
}

func scanApproval(row approvalScanner) (*ExpenseApproval, error) {
	a := &ExpenseApproval{}
	err := row.Scan(
		&a.ID,
		&a.ExpenseID,
		&a.ApproverID,
		&a.SequenceOrder,
		&a.Status,
		&a.Comments,
		&a.ApprovedAt,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func scanApprovalRows(rows pgx.Rows) ([]*ExpenseApproval, error) {
	var approvals []*ExpenseApproval
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan approval")
		}
		approvals = append(approvals, a)
	}
	return approvals, nil
}
