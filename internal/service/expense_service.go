package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/finara-hq/be-expenses/internal/errors"
	"github.com/finara-hq/be-expenses/internal/repository"
)

// ExpenseStore is the expense storage the service needs.
type ExpenseStore interface {
	Create(ctx context.Context, expense *repository.Expense) error
	GetByID(ctx context.Context, id, companyID string) (*repository.Expense, error)
	List(ctx context.Context, companyID string, employeeID *string, status *repository.ExpenseStatus, limit, offset int) ([]*repository.Expense, error)
	CountByCompany(ctx context.Context, companyID string) (int64, error)
	Submit(ctx context.Context, expenseID string, ruleID *string, status repository.ExpenseStatus, approvals []*repository.ExpenseApproval) error
	UpdateStatus(ctx context.Context, id, companyID string, status repository.ExpenseStatus, from ...repository.ExpenseStatus) error
	Delete(ctx context.Context, id, companyID string) error
}

// CompanyStore resolves companies.
type CompanyStore interface {
	GetByID(ctx context.Context, id string) (*repository.Company, error)
}

// CurrencyConverter supplies exchange rates. Conversion happens at expense
// creation, before anything enters the approval core.
type CurrencyConverter interface {
	GetRate(ctx context.Context, from, to string) (decimal.Decimal, error)
}

// ExpenseService handles the expense lifecycle: creation with currency
// conversion, submission into the approval workflow, cancellation.
type ExpenseService struct {
	expenses  ExpenseStore
	companies CompanyStore
	approvals *ApprovalService
	currency  CurrencyConverter
	audit     AuditStore
	notifier  Notifier
	log       zerolog.Logger
}

// NewExpenseService creates a new ExpenseService.
func NewExpenseService(
	expenses ExpenseStore,
	companies CompanyStore,
	approvals *ApprovalService,
	currency CurrencyConverter,
	audit AuditStore,
	notifier Notifier,
	log zerolog.Logger,
) *ExpenseService {
	return &ExpenseService{
		expenses:  expenses,
		companies: companies,
		approvals: approvals,
		currency:  currency,
		audit:     audit,
		notifier:  notifier,
		log:       log,
	}
}

// CreateExpenseRequest carries a new expense.
type CreateExpenseRequest struct {
	CompanyID         string
	EmployeeID        string
	Title             string
	Description       *string
	ExpenseDate       string // YYYY-MM-DD
	SubmittedCurrency string
	SubmittedAmount   decimal.Decimal
	Lines             []ExpenseLineRequest
}

// ExpenseLineRequest is one itemized line on a new expense.
type ExpenseLineRequest struct {
	CategoryID   *string
	Description  string
	Amount       decimal.Decimal
	MerchantName *string
}

// CreateExpense creates a draft expense, converting the submitted amount
// into the company currency at the current exchange rate.
func (s *ExpenseService) CreateExpense(ctx context.Context, req *CreateExpenseRequest) (*repository.Expense, error) {
	if req.Title == "" {
		return nil, errors.InvalidInput("title", "title is required")
	}
	if _, err := time.Parse("2006-01-02", req.ExpenseDate); err != nil {
		return nil, errors.InvalidInput("expense_date", "invalid date format, expected YYYY-MM-DD")
	}
	if len(req.SubmittedCurrency) != 3 {
		return nil, errors.InvalidInput("submitted_currency", "currency must be 3-letter ISO code")
	}
	if !req.SubmittedAmount.IsPositive() {
		return nil, errors.InvalidInput("submitted_amount", "amount must be positive")
	}
	if len(req.Lines) < 1 {
		return nil, errors.InvalidInput("lines", "expense must have at least 1 line")
	}
	for _, line := range req.Lines {
		if line.Description == "" {
			return nil, errors.InvalidInput("lines", "line description is required")
		}
		if !line.Amount.IsPositive() {
			return nil, errors.InvalidInput("lines", "line amount must be positive")
		}
	}

	company, err := s.companies.GetByID(ctx, req.CompanyID)
	if err != nil {
		return nil, err
	}

	submittedCurrency := strings.ToUpper(req.SubmittedCurrency)
	rate, err := s.currency.GetRate(ctx, submittedCurrency, company.CurrencyCode)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "unable to fetch exchange rate")
	}
	companyAmount := req.SubmittedAmount.Mul(rate).Round(2)

	number, err := s.nextExpenseNumber(ctx, req.CompanyID)
	if err != nil {
		return nil, err
	}

	expense := &repository.Expense{
		CompanyID:         req.CompanyID,
		EmployeeID:        req.EmployeeID,
		ExpenseNumber:     number,
		Title:             req.Title,
		Description:       req.Description,
		ExpenseDate:       req.ExpenseDate,
		SubmittedCurrency: submittedCurrency,
		SubmittedAmount:   req.SubmittedAmount,
		CompanyCurrency:   company.CurrencyCode,
		CompanyAmount:     companyAmount,
		ExchangeRate:      rate,
		Status:            repository.ExpenseStatusDraft,
	}

	for i, lineReq := range req.Lines {
		expense.Lines = append(expense.Lines, &repository.ExpenseLine{
			CategoryID:   lineReq.CategoryID,
			Description:  lineReq.Description,
			Amount:       lineReq.Amount,
			MerchantName: lineReq.MerchantName,
			LineOrder:    i + 1,
		})
	}

	if err := s.expenses.Create(ctx, expense); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("expense_id", expense.ID).
		Str("expense_number", expense.ExpenseNumber).
		Str("company_id", expense.CompanyID).
		Str("company_amount", companyAmount.String()).
		Msg("Expense created")

	s.appendAudit(ctx, expense, "expense_created", map[string]interface{}{
		"expense_number": expense.ExpenseNumber,
		"company_amount": companyAmount.String(),
	})

	return expense, nil
}

// SubmitExpense moves a draft expense into the approval workflow. The
// applicable rule is selected by the expense's company-currency amount and
// bound to the expense for the workflow's lifetime; when no rule applies the
// expense is approved immediately with no approval records.
func (s *ExpenseService) SubmitExpense(ctx context.Context, id, companyID string) (*repository.Expense, error) {
	expense, err := s.expenses.GetByID(ctx, id, companyID)
	if err != nil {
		return nil, err
	}
	if expense.Status != repository.ExpenseStatusDraft {
		return nil, errors.New(errors.ErrCodeConflict,
			fmt.Sprintf("cannot submit expense with status '%s'", expense.Status))
	}

	rule, err := s.approvals.SelectRule(ctx, expense.CompanyID, expense.CompanyAmount)
	if err != nil {
		return nil, err
	}

	if rule == nil {
		// Default-allow: no applicable rule auto-approves the expense.
		if err := s.expenses.Submit(ctx, expense.ID, nil, repository.ExpenseStatusApproved, nil); err != nil {
			return nil, err
		}
		s.log.Info().
			Str("expense_id", expense.ID).
			Msg("No approval rule applies; expense auto-approved")
		s.appendAudit(ctx, expense, "expense_auto_approved", nil)
		s.publish(ctx, "expense_approved", expense, nil)
		return s.expenses.GetByID(ctx, id, companyID)
	}

	approvals, err := s.approvals.BuildApprovals(ctx, expense, rule)
	if err != nil {
		return nil, err
	}

	if err := s.expenses.Submit(ctx, expense.ID, &rule.ID, repository.ExpenseStatusPending, approvals); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("expense_id", expense.ID).
		Str("rule_id", rule.ID).
		Str("rule_type", string(rule.RuleType)).
		Int("approval_count", len(approvals)).
		Msg("Expense submitted for approval")

	s.appendAudit(ctx, expense, "expense_submitted", map[string]interface{}{
		"rule_id":        rule.ID,
		"approval_count": len(approvals),
	})
	s.publish(ctx, "expense_submitted", expense, map[string]interface{}{
		"rule_id": rule.ID,
	})

	return s.expenses.GetByID(ctx, id, companyID)
}

// GetExpense retrieves an expense with its lines.
func (s *ExpenseService) GetExpense(ctx context.Context, id, companyID string) (*repository.Expense, error) {
	return s.expenses.GetByID(ctx, id, companyID)
}

// ListExpenses lists a company's expenses with optional filters.
func (s *ExpenseService) ListExpenses(ctx context.Context, companyID string, employeeID *string, status *repository.ExpenseStatus, page, pageSize int) ([]*repository.Expense, error) {
	offset := (page - 1) * pageSize
	return s.expenses.List(ctx, companyID, employeeID, status, pageSize, offset)
}

// GetAuditTrail returns an expense's audit entries oldest-first.
func (s *ExpenseService) GetAuditTrail(ctx context.Context, expenseID string) ([]*repository.AuditEntry, error) {
	return s.audit.GetByExpenseID(ctx, expenseID)
}

// CancelExpense cancels a draft or pending expense. Terminal expenses stay
// terminal.
func (s *ExpenseService) CancelExpense(ctx context.Context, id, companyID string) error {
	err := s.expenses.UpdateStatus(ctx, id, companyID, repository.ExpenseStatusCancelled,
		repository.ExpenseStatusDraft, repository.ExpenseStatusPending)
	if err != nil {
		return err
	}

	s.log.Info().Str("expense_id", id).Msg("Expense cancelled")
	s.appendAudit(ctx, &repository.Expense{ID: id, CompanyID: companyID}, "expense_cancelled", nil)
	return nil
}

// DeleteExpense removes a draft expense.
func (s *ExpenseService) DeleteExpense(ctx context.Context, id, companyID string) error {
	if err := s.expenses.Delete(ctx, id, companyID); err != nil {
		return err
	}
	s.log.Info().Str("expense_id", id).Msg("Expense deleted")
	return nil
}

// nextExpenseNumber generates EXP-YYYYMM-NNNNN, sequential per company.
func (s *ExpenseService) nextExpenseNumber(ctx context.Context, companyID string) (string, error) {
	count, err := s.expenses.CountByCompany(ctx, companyID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("EXP-%s-%05d", time.Now().UTC().Format("200601"), count+1), nil
}

func (s *ExpenseService) appendAudit(ctx context.Context, expense *repository.Expense, action string, newValue map[string]interface{}) {
	if s.audit == nil {
		return
	}
	entry := &repository.AuditEntry{
		CompanyID:  expense.CompanyID,
		ExpenseID:  &expense.ID,
		Action:     action,
		EntityType: "expense",
		EntityID:   &expense.ID,
		NewValue:   newValue,
	}
	if err := s.audit.Append(ctx, entry); err != nil {
		s.log.Warn().Err(err).
			Str("action", action).
			Msg("Failed to write audit log entry")
	}
}

func (s *ExpenseService) publish(ctx context.Context, eventType string, expense *repository.Expense, payload map[string]interface{}) {
	if s.notifier == nil {
		return
	}
	s.notifier.PublishApprovalEvent(ctx, eventType, expense.ID, expense.CompanyID, expense.EmployeeID, payload)
}
