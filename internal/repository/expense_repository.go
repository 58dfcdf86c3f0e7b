package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/finara-hq/be-expenses/internal/database"
	"github.com/finara-hq/be-expenses/internal/errors"
)

// ExpenseRepository handles expense data operations.
type ExpenseRepository struct {
	db *database.DB
}

// NewExpenseRepository creates a new expense repository.
func NewExpenseRepository(db *database.DB) *ExpenseRepository {
	return &ExpenseRepository{db: db}
}

// Create inserts an expense with its lines in one transaction.
func (r *ExpenseRepository) Create(ctx context.Context, expense *Expense) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		query := `
			INSERT INTO expenses
			    (company_id, employee_id, expense_number, title, description, expense_date,
			     submitted_currency, submitted_amount, company_currency, company_amount,
			     exchange_rate, status)
			VALUES ($1, $2, $3, $4, $5, $6::date, $7, $8, $9, $10, $11, $12)
			RETURNING id, created_at, updated_at
		`

		err := tx.QueryRow(ctx, query,
			expense.CompanyID,
			expense.EmployeeID,
			expense.ExpenseNumber,
			expense.Title,
			expense.Description,
			expense.ExpenseDate,
			expense.SubmittedCurrency,
			expense.SubmittedAmount,
			expense.CompanyCurrency,
			expense.CompanyAmount,
			expense.ExchangeRate,
			expense.Status,
		).Scan(&expense.ID, &expense.CreatedAt, &expense.UpdatedAt)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to create expense")
		}

		lineQuery := `
			INSERT INTO expense_lines
			    (expense_id, category_id, description, amount, merchant_name, line_order)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id, created_at
		`

		for _, line := range expense.Lines {
			line.ExpenseID = expense.ID
			err := tx.QueryRow(ctx, lineQuery,
				line.ExpenseID,
				line.CategoryID,
				line.Description,
				line.Amount,
				line.MerchantName,
				line.LineOrder,
			).Scan(&line.ID, &line.CreatedAt)
			if err != nil {
				return errors.Wrap(err, errors.ErrCodeInternal, "failed to create expense line")
			}
		}

		return nil
	})
}

// GetByID retrieves an expense with its lines.
func (r *ExpenseRepository) GetByID(ctx context.Context, id, companyID string) (*Expense, error) {
	query := `
		SELECT id, company_id, employee_id, expense_number, title, description, expense_date::text,
		       submitted_currency, submitted_amount, company_currency, company_amount,
		       exchange_rate, status, approval_rule_id, submitted_at, created_at, updated_at
		FROM expenses
		WHERE id = $1 AND company_id = $2
	`

	expense, err := scanExpense(r.db.QueryRow(ctx, query, id, companyID))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("expense", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get expense")
	}

	expense.Lines, err = r.getLines(ctx, expense.ID)
	if err != nil {
		return nil, err
	}
	return expense, nil
}

// List returns expenses for a company, optionally filtered by employee and
// status, newest first.
func (r *ExpenseRepository) List(ctx context.Context, companyID string, employeeID *string, status *ExpenseStatus, limit, offset int) ([]*Expense, error) {
	query := `
		SELECT id, company_id, employee_id, expense_number, title, description, expense_date::text,
		       submitted_currency, submitted_amount, company_currency, company_amount,
		       exchange_rate, status, approval_rule_id, submitted_at, created_at, updated_at
		FROM expenses
		WHERE company_id = $1
	`
	args := []any{companyID}

	if employeeID != nil {
		args = append(args, *employeeID)
		query += fmt.Sprintf(" AND employee_id = $%d", len(args))
	}
	if status != nil {
		args = append(args, *status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}

	args = append(args, limit, offset)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list expenses")
	}
	defer rows.Close()

	var expenses []*Expense
	for rows.Next() {
		expense, err := scanExpense(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan expense")
		}
		expenses = append(expenses, expense)
	}
	return expenses, nil
}

// CountByCompany returns the number of expenses a company has created.
// Used for expense number generation.
func (r *ExpenseRepository) CountByCompany(ctx context.Context, companyID string) (int64, error) {
	var count int64
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM expenses WHERE company_id = $1`, companyID).Scan(&count)
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to count expenses")
	}
	return count, nil
}

// Submit transitions a draft expense to the given status, binds the selected
// rule and inserts the approval set, all in one transaction. The draft
// precondition is enforced in SQL so a concurrent submit cannot slip through.
// Partial failure leaves nothing committed.
func (r *ExpenseRepository) Submit(ctx context.Context, expenseID string, ruleID *string, status ExpenseStatus, approvals []*ExpenseApproval) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		query := `
			UPDATE expenses
			SET status           = $2,
			    approval_rule_id = $3,
			    submitted_at     = NOW(),
			    updated_at       = NOW()
			WHERE id = $1 AND status = 'draft'
			RETURNING id
		`

		var returnedID string
		err := tx.QueryRow(ctx, query, expenseID, status, ruleID).Scan(&returnedID)
		if err == pgx.ErrNoRows {
			return errors.New(errors.ErrCodeConflict, "only draft expenses can be submitted")
		}
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to submit expense")
		}

		approvalQuery := `
			INSERT INTO expense_approvals
			    (expense_id, approver_id, sequence_order, status)
			VALUES ($1, $2, $3, $4)
			RETURNING id, created_at, updated_at
		`

		for _, approval := range approvals {
			approval.ExpenseID = expenseID
			err := tx.QueryRow(ctx, approvalQuery,
				approval.ExpenseID,
				approval.ApproverID,
				approval.SequenceOrder,
				approval.Status,
			).Scan(&approval.ID, &approval.CreatedAt, &approval.UpdatedAt)
			if err != nil {
				return errors.Wrap(err, errors.ErrCodeInternal, "failed to create expense approval")
			}
		}

		return nil
	})
}

// UpdateStatus sets the expense status when the current status is one of the
// allowed source states. Used for cancellation.
func (r *ExpenseRepository) UpdateStatus(ctx context.Context, id, companyID string, status ExpenseStatus, from ...ExpenseStatus) error {
	query := `
		UPDATE expenses
		SET status = $3, updated_at = NOW()
		WHERE id = $1 AND company_id = $2 AND status = ANY($4)
		RETURNING id
	`

	fromStates := make([]string, len(from))
	for i, s := range from {
		fromStates[i] = string(s)
	}

	var returnedID string
	err := r.db.QueryRow(ctx, query, id, companyID, status, fromStates).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.New(errors.ErrCodeConflict,
			fmt.Sprintf("expense cannot transition to '%s' from its current status", status))
	}
	return err
}

// Delete removes a draft expense; lines and approvals cascade.
func (r *ExpenseRepository) Delete(ctx context.Context, id, companyID string) error {
	query := `
		DELETE FROM expenses
		WHERE id = $1 AND company_id = $2 AND status = 'draft'
	`

	tag, err := r.db.Exec(ctx, query, id, companyID)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to delete expense")
	}
	if tag.RowsAffected() == 0 {
		return errors.New(errors.ErrCodeConflict, "only draft expenses can be deleted")
	}
	return nil
}

// ── scan helpers ─────────────────────────────────────────────────────────────

type expenseScanner interface {
	Scan(dest ...any) error
}

func scanExpense(row expenseScanner) (*Expense, error) {
	expense := &Expense{}
	err := row.Scan(
		&expense.ID,
		&expense.CompanyID,
		&expense.EmployeeID,
		&expense.ExpenseNumber,
		&expense.Title,
		&expense.Description,
		&expense.ExpenseDate,
		&expense.SubmittedCurrency,
		&expense.SubmittedAmount,
		&expense.CompanyCurrency,
		&expense.CompanyAmount,
		&expense.ExchangeRate,
		&expense.Status,
		&expense.ApprovalRuleID,
		&expense.SubmittedAt,
		&expense.CreatedAt,
		&expense.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return expense, nil
}

func (r *ExpenseRepository) getLines(ctx context.Context, expenseID string) ([]*ExpenseLine, error) {
	query := `
		SELECT id, expense_id, category_id, description, amount, merchant_name, line_order, created_at
		FROM expense_lines
		WHERE expense_id = $1
		ORDER BY line_order ASC
	`

	rows, err := r.db.Query(ctx, query, expenseID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get expense lines")
	}
	defer rows.Close()

	var lines []*ExpenseLine
	for rows.Next() {
		line := &ExpenseLine{}
		err := rows.Scan(
			&line.ID,
			&line.ExpenseID,
			&line.CategoryID,
			&line.Description,
			&line.Amount,
			&line.MerchantName,
			&line.LineOrder,
			&line.CreatedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan expense line")
		}
		lines = append(lines, line)
	}
	return lines, nil
}
