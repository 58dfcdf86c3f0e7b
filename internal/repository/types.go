package repository

import (
	"time"

	"github.com/shopspring/decimal"
)

// ── Enumerations ─────────────────────────────────────────────────────────────

// RuleType is the closed set of approval rule strategies.
type RuleType string

const (
	RuleTypePercentage       RuleType = "percentage"
	RuleTypeSpecificApprover RuleType = "specific_approver"
	RuleTypeHybrid           RuleType = "hybrid"
	RuleTypeSequential       RuleType = "sequential"
)

// ValidRuleType reports whether t is a known rule type.
func ValidRuleType(t RuleType) bool {
	switch t {
	case RuleTypePercentage, RuleTypeSpecificApprover, RuleTypeHybrid, RuleTypeSequential:
		return true
	}
	return false
}

// ExpenseStatus is the expense lifecycle state.
type ExpenseStatus string

const (
	ExpenseStatusDraft     ExpenseStatus = "draft"
	ExpenseStatusPending   ExpenseStatus = "pending"
	ExpenseStatusApproved  ExpenseStatus = "approved"
	ExpenseStatusRejected  ExpenseStatus = "rejected"
	ExpenseStatusCancelled ExpenseStatus = "cancelled"
)

// Terminal reports whether the status is final. The decision engine never
// re-opens a terminal expense.
func (s ExpenseStatus) Terminal() bool {
	return s == ExpenseStatusApproved || s == ExpenseStatusRejected || s == ExpenseStatusCancelled
}

// ApprovalStatus is the state of one approval record.
type ApprovalStatus string

const (
	ApprovalStatusPending  ApprovalStatus = "pending"
	ApprovalStatusApproved ApprovalStatus = "approved"
	ApprovalStatusRejected ApprovalStatus = "rejected"
	ApprovalStatusSkipped  ApprovalStatus = "skipped"
)

// UserRole is the company role of a user.
type UserRole string

const (
	UserRoleAdmin    UserRole = "admin"
	UserRoleManager  UserRole = "manager"
	UserRoleEmployee UserRole = "employee"
)

// ── Companies and users ──────────────────────────────────────────────────────

// Company is the tenant owning users, expenses and rules.
type Company struct {
	ID           string
	Name         string
	Country      string
	CurrencyCode string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// User is a company member.
type User struct {
	ID           string
	CompanyID    string
	Email        string
	PasswordHash string
	FullName     string
	Role         UserRole
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ManagerRelationship links an employee to their (single) manager.
type ManagerRelationship struct {
	ID         string
	EmployeeID string
	ManagerID  string
	CreatedAt  time.Time
}

// ── Approval configuration ───────────────────────────────────────────────────

// ApprovalRule is a company's approval configuration. Structural fields
// (type, threshold, approver, bounds, sequences) are immutable after
// creation; only name, active flag and priority may change.
type ApprovalRule struct {
	ID                       string
	CompanyID                string
	Name                     string
	RuleType                 RuleType
	ApprovalPercentage       *decimal.Decimal // 0-100; required for percentage/hybrid
	SpecificApproverID       *string          // required for specific_approver/hybrid
	RequiresManagerApproval  bool
	MinAmount                *decimal.Decimal // nil = unbounded below
	MaxAmount                *decimal.Decimal // nil = unbounded above
	IsActive                 bool
	Priority                 int
	ApproverSequences        []*ApproverSequence
	CreatedAt                time.Time
	UpdatedAt                time.Time
}

// Matches reports whether amount falls within the rule's inclusive bounds.
func (r *ApprovalRule) Matches(amount decimal.Decimal) bool {
	if r.MinAmount != nil && amount.LessThan(*r.MinAmount) {
		return false
	}
	if r.MaxAmount != nil && amount.GreaterThan(*r.MaxAmount) {
		return false
	}
	return true
}

// ApproverSequence is one (rule, approver, order) slot in a rule's base
// sequence. Order is positive and unique per rule; an approver appears at
// most once per rule.
type ApproverSequence struct {
	ID             string
	ApprovalRuleID string
	ApproverID     string
	SequenceOrder  int
	CreatedAt      time.Time
}

// ── Expenses ─────────────────────────────────────────────────────────────────

// Expense is the subject of approval. CompanyAmount is the amount converted
// into the company currency; the decision engine only reasons over it.
type Expense struct {
	ID                string
	CompanyID         string
	EmployeeID        string
	ExpenseNumber     string
	Title             string
	Description       *string
	ExpenseDate       string // YYYY-MM-DD
	SubmittedCurrency string
	SubmittedAmount   decimal.Decimal
	CompanyCurrency   string
	CompanyAmount     decimal.Decimal
	ExchangeRate      decimal.Decimal
	Status            ExpenseStatus
	// ApprovalRuleID is bound at submission time and governs all subsequent
	// approval actions; rules are never re-selected mid-workflow.
	ApprovalRuleID *string
	SubmittedAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
	Lines          []*ExpenseLine
}

// ExpenseLine is one itemized line on an expense.
type ExpenseLine struct {
	ID           string
	ExpenseID    string
	CategoryID   *string
	Description  string
	Amount       decimal.Decimal
	MerchantName *string
	LineOrder    int
	CreatedAt    time.Time
}

// ExpenseApproval is one approver's record on an expense. Exactly one record
// exists per (expense, approver) slot; a record leaves pending at most once.
type ExpenseApproval struct {
	ID            string
	ExpenseID     string
	ApproverID    string
	SequenceOrder int
	Status        ApprovalStatus
	Comments      *string
	ApprovedAt    *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ── Audit ────────────────────────────────────────────────────────────────────

// AuditEntry is one immutable audit log record.
type AuditEntry struct {
	ID         string
	CompanyID  string
	UserID     *string
	ExpenseID  *string
	Action     string
	EntityType string
	EntityID   *string
	OldValue   map[string]interface{}
	NewValue   map[string]interface{}
	CreatedAt  time.Time
}
