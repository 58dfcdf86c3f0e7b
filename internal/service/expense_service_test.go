package service

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finara-hq/be-expenses/internal/errors"
	"github.com/finara-hq/be-expenses/internal/repository"
)

// ── fakes ────────────────────────────────────────────────────────────────────

type fakeExpenseStore struct {
	expenses map[string]*repository.Expense
	nextID   string

	submittedRuleID    *string
	submittedStatus    repository.ExpenseStatus
	submittedApprovals []*repository.ExpenseApproval
}

func newFakeExpenseStore() *fakeExpenseStore {
	return &fakeExpenseStore{expenses: make(map[string]*repository.Expense), nextID: "exp-new"}
}

func (f *fakeExpenseStore) Create(_ context.Context, expense *repository.Expense) error {
	expense.ID = f.nextID
	f.expenses[expense.ID] = expense
	return nil
}

func (f *fakeExpenseStore) GetByID(_ context.Context, id, _ string) (*repository.Expense, error) {
	expense, ok := f.expenses[id]
	if !ok {
		return nil, errors.NotFound("expense", id)
	}
	return expense, nil
}

func (f *fakeExpenseStore) List(_ context.Context, _ string, _ *string, _ *repository.ExpenseStatus, _, _ int) ([]*repository.Expense, error) {
	var out []*repository.Expense
	for _, e := range f.expenses {
		out = append(out, e)
	}
	return out, nil
}

func (f *fakeExpenseStore) CountByCompany(_ context.Context, _ string) (int64, error) {
	return int64(len(f.expenses)), nil
}

func (f *fakeExpenseStore) Submit(_ context.Context, expenseID string, ruleID *string, status repository.ExpenseStatus, approvals []*repository.ExpenseApproval) error {
	expense, ok := f.expenses[expenseID]
	if !ok {
		return errors.NotFound("expense", expenseID)
	}
	expense.Status = status
	expense.ApprovalRuleID = ruleID
	f.submittedRuleID = ruleID
	f.submittedStatus = status
	f.submittedApprovals = approvals
	return nil
}

func (f *fakeExpenseStore) UpdateStatus(_ context.Context, id, _ string, status repository.ExpenseStatus, from ...repository.ExpenseStatus) error {
	expense, ok := f.expenses[id]
	if !ok {
		return errors.NotFound("expense", id)
	}
	for _, s := range from {
		if expense.Status == s {
			expense.Status = status
			return nil
		}
	}
	return errors.New(errors.ErrCodeConflict, "invalid status transition")
}

func (f *fakeExpenseStore) Delete(_ context.Context, id, _ string) error {
	delete(f.expenses, id)
	return nil
}

type fakeCompanyStore struct {
	company *repository.Company
}

func (f *fakeCompanyStore) GetByID(_ context.Context, id string) (*repository.Company, error) {
	if f.company == nil || f.company.ID != id {
		return nil, errors.NotFound("company", id)
	}
	return f.company, nil
}

type fakeConverter struct {
	rate     decimal.Decimal
	lastFrom string
	lastTo   string
}

func (f *fakeConverter) GetRate(_ context.Context, from, to string) (decimal.Decimal, error) {
	f.lastFrom = from
	f.lastTo = to
	if from == to {
		return decimal.NewFromInt(1), nil
	}
	return f.rate, nil
}

// ── fixtures ─────────────────────────────────────────────────────────────────

type expenseFixture struct {
	svc       *ExpenseService
	store     *fakeExpenseStore
	rules     *fakeRuleStore
	converter *fakeConverter
}

func newExpenseFixture(rules *fakeRuleStore) *expenseFixture {
	store := newFakeExpenseStore()
	companies := &fakeCompanyStore{company: &repository.Company{
		ID:           "co-1",
		Name:         "Acme",
		CurrencyCode: "USD",
		IsActive:     true,
	}}
	converter := &fakeConverter{rate: decimal.RequireFromString("1.1")}

	managers := &fakeManagerStore{}
	approvalSvc := NewApprovalService(rules, &fakeApprovalStore{}, managers, nil, nil, zerolog.Nop())
	svc := NewExpenseService(store, companies, approvalSvc, converter, &fakeAuditStore{}, &fakeNotifier{}, zerolog.Nop())

	return &expenseFixture{svc: svc, store: store, rules: rules, converter: converter}
}

func validCreateRequest() *CreateExpenseRequest {
	return &CreateExpenseRequest{
		CompanyID:         "co-1",
		EmployeeID:        "emp-1",
		Title:             "Client dinner",
		ExpenseDate:       "2026-08-15",
		SubmittedCurrency: "eur",
		SubmittedAmount:   decimal.NewFromInt(100),
		Lines: []ExpenseLineRequest{
			{Description: "Dinner", Amount: decimal.NewFromInt(100)},
		},
	}
}

// ── CreateExpense ────────────────────────────────────────────────────────────

func TestCreateExpenseConvertsCurrency(t *testing.T) {
	fix := newExpenseFixture(&fakeRuleStore{})

	expense, err := fix.svc.CreateExpense(context.Background(), validCreateRequest())
	require.NoError(t, err)

	assert.Equal(t, repository.ExpenseStatusDraft, expense.Status)
	assert.Equal(t, "EUR", expense.SubmittedCurrency)
	assert.Equal(t, "USD", expense.CompanyCurrency)
	assert.True(t, expense.CompanyAmount.Equal(decimal.RequireFromString("110.00")),
		"company amount %s", expense.CompanyAmount)
	assert.Equal(t, "EUR", fix.converter.lastFrom)
	assert.Equal(t, "USD", fix.converter.lastTo)
	assert.Regexp(t, `^EXP-\d{6}-00001$`, expense.ExpenseNumber)
	require.Len(t, expense.Lines, 1)
	assert.Equal(t, 1, expense.Lines[0].LineOrder)
}

func TestCreateExpenseValidation(t *testing.T) {
	fix := newExpenseFixture(&fakeRuleStore{})

	tests := []struct {
		name   string
		mutate func(req *CreateExpenseRequest)
	}{
		{"missing title", func(req *CreateExpenseRequest) { req.Title = "" }},
		{"bad date", func(req *CreateExpenseRequest) { req.ExpenseDate = "15/08/2026" }},
		{"bad currency", func(req *CreateExpenseRequest) { req.SubmittedCurrency = "EURO" }},
		{"zero amount", func(req *CreateExpenseRequest) { req.SubmittedAmount = decimal.Zero }},
		{"no lines", func(req *CreateExpenseRequest) { req.Lines = nil }},
		{"line without description", func(req *CreateExpenseRequest) { req.Lines[0].Description = "" }},
		{"negative line amount", func(req *CreateExpenseRequest) { req.Lines[0].Amount = decimal.NewFromInt(-5) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validCreateRequest()
			tt.mutate(req)

			_, err := fix.svc.CreateExpense(context.Background(), req)
			require.Error(t, err)
			assert.Equal(t, errors.ErrCodeInvalidInput, errors.CodeOf(err))
		})
	}
}

// ── SubmitExpense ────────────────────────────────────────────────────────────

func TestSubmitExpenseNoRuleAutoApproves(t *testing.T) {
	fix := newExpenseFixture(&fakeRuleStore{})

	created, err := fix.svc.CreateExpense(context.Background(), validCreateRequest())
	require.NoError(t, err)

	submitted, err := fix.svc.SubmitExpense(context.Background(), created.ID, "co-1")
	require.NoError(t, err)

	assert.Equal(t, repository.ExpenseStatusApproved, submitted.Status)
	assert.Nil(t, submitted.ApprovalRuleID)
	assert.Empty(t, fix.store.submittedApprovals)
}

func TestSubmitExpenseBindsMatchingRule(t *testing.T) {
	rule := boundedRule("rule-1", 0, 1000)
	rule.ApproverSequences = []*repository.ApproverSequence{
		{ApproverID: "u1", SequenceOrder: 1},
		{ApproverID: "u2", SequenceOrder: 2},
	}
	fix := newExpenseFixture(&fakeRuleStore{rules: []*repository.ApprovalRule{rule}})

	created, err := fix.svc.CreateExpense(context.Background(), validCreateRequest())
	require.NoError(t, err)

	submitted, err := fix.svc.SubmitExpense(context.Background(), created.ID, "co-1")
	require.NoError(t, err)

	assert.Equal(t, repository.ExpenseStatusPending, submitted.Status)
	require.NotNil(t, submitted.ApprovalRuleID)
	assert.Equal(t, "rule-1", *submitted.ApprovalRuleID)

	require.Len(t, fix.store.submittedApprovals, 2)
	assert.Equal(t, "u1", fix.store.submittedApprovals[0].ApproverID)
	assert.Equal(t, repository.ApprovalStatusPending, fix.store.submittedApprovals[0].Status)
}

func TestSubmitExpenseRequiresDraft(t *testing.T) {
	fix := newExpenseFixture(&fakeRuleStore{})

	created, err := fix.svc.CreateExpense(context.Background(), validCreateRequest())
	require.NoError(t, err)
	created.Status = repository.ExpenseStatusPending

	_, err = fix.svc.SubmitExpense(context.Background(), created.ID, "co-1")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeConflict, errors.CodeOf(err))
}

// ── CancelExpense ────────────────────────────────────────────────────────────

func TestCancelExpense(t *testing.T) {
	fix := newExpenseFixture(&fakeRuleStore{})

	created, err := fix.svc.CreateExpense(context.Background(), validCreateRequest())
	require.NoError(t, err)

	require.NoError(t, fix.svc.CancelExpense(context.Background(), created.ID, "co-1"))
	assert.Equal(t, repository.ExpenseStatusCancelled, created.Status)

	// Terminal states stay terminal.
	err = fix.svc.CancelExpense(context.Background(), created.ID, "co-1")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeConflict, errors.CodeOf(err))
}
