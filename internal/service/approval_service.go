package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/finara-hq/be-expenses/internal/errors"
	"github.com/finara-hq/be-expenses/internal/repository"
)

// Action is an approver's decision on an approval record.
type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
)

// ActionResult is the structured outcome of ProcessAction. Success=false
// covers both the already-processed precondition and the sequential gate
// failure; the latter still commits the individual record's mutation.
type ActionResult struct {
	Success       bool                      `json:"success"`
	Message       string                    `json:"message"`
	ExpenseStatus *repository.ExpenseStatus `json:"expense_status,omitempty"`
}

// RuleStore is the approval-rule storage the service needs.
type RuleStore interface {
	Create(ctx context.Context, rule *repository.ApprovalRule) error
	GetByID(ctx context.Context, id, companyID string) (*repository.ApprovalRule, error)
	GetBoundRule(ctx context.Context, id string) (*repository.ApprovalRule, error)
	List(ctx context.Context, companyID string, activeOnly bool) ([]*repository.ApprovalRule, error)
	Update(ctx context.Context, rule *repository.ApprovalRule) error
	Delete(ctx context.Context, id, companyID string) error
}

// ApprovalStore is the approval-record storage the service needs.
type ApprovalStore interface {
	WithActionLock(ctx context.Context, approvalID string, fn func(snap *repository.ActionSnapshot) (*repository.ActionWrites, error)) error
	GetByExpenseID(ctx context.Context, expenseID string) ([]*repository.ExpenseApproval, error)
	GetPendingForApprover(ctx context.Context, approverID string) ([]*repository.ExpenseApproval, error)
}

// ManagerStore resolves manager relationships.
type ManagerStore interface {
	GetManagerFor(ctx context.Context, employeeID string) (*repository.User, error)
}

// AuditStore appends and reads audit log entries.
type AuditStore interface {
	Append(ctx context.Context, entry *repository.AuditEntry) error
	GetByExpenseID(ctx context.Context, expenseID string) ([]*repository.AuditEntry, error)
}

// Notifier publishes approval events to interested services. Implementations
// must be non-fatal: a failed publish never fails the operation.
type Notifier interface {
	PublishApprovalEvent(ctx context.Context, eventType, expenseID, companyID, actorID string, payload map[string]interface{})
}

// ApprovalService owns rule selection, approval-set construction and the
// decision engine that resolves individual approver actions into expense
// outcomes.
type ApprovalService struct {
	rules     RuleStore
	approvals ApprovalStore
	users     ManagerStore
	audit     AuditStore
	notifier  Notifier
	log       zerolog.Logger
}

// NewApprovalService creates a new ApprovalService.
func NewApprovalService(
	rules RuleStore,
	approvals ApprovalStore,
	users ManagerStore,
	audit AuditStore,
	notifier Notifier,
	log zerolog.Logger,
) *ApprovalService {
	return &ApprovalService{
		rules:     rules,
		approvals: approvals,
		users:     users,
		audit:     audit,
		notifier:  notifier,
		log:       log,
	}
}

// ── Rule selection ───────────────────────────────────────────────────────────

// SelectRule returns the applicable rule for an amount in company currency:
// the highest-priority active rule whose bounds contain the amount, creation
// order breaking priority ties. A nil rule with nil error means no rule
// applies; the caller auto-approves.
func (s *ApprovalService) SelectRule(ctx context.Context, companyID string, amount decimal.Decimal) (*repository.ApprovalRule, error) {
	rules, err := s.rules.List(ctx, companyID, true)
	if err != nil {
		return nil, err
	}

	for _, rule := range rules {
		if rule.Matches(amount) {
			return rule, nil
		}
	}
	return nil, nil
}

// ── Approval-set construction ────────────────────────────────────────────────

// BuildApprovals materializes the ordered approval set for an expense under
// a rule. When the rule requires manager approval and the employee has a
// manager, the manager takes sequence_order 0 and the rule's sequence slots
// shift by one; a missing manager relationship skips the slot silently.
// The manager is not de-duplicated against the sequence: an approver who is
// both gets two records.
func (s *ApprovalService) BuildApprovals(ctx context.Context, expense *repository.Expense, rule *repository.ApprovalRule) ([]*repository.ExpenseApproval, error) {
	var approvals []*repository.ExpenseApproval
	offset := 0

	if rule.RequiresManagerApproval {
		manager, err := s.users.GetManagerFor(ctx, expense.EmployeeID)
		if err != nil {
			return nil, err
		}
		if manager != nil {
			approvals = append(approvals, &repository.ExpenseApproval{
				ExpenseID:     expense.ID,
				ApproverID:    manager.ID,
				SequenceOrder: 0,
				Status:        repository.ApprovalStatusPending,
			})
			offset = 1
		}
	}

	for _, seq := range rule.ApproverSequences {
		approvals = append(approvals, &repository.ExpenseApproval{
			ExpenseID:     expense.ID,
			ApproverID:    seq.ApproverID,
			SequenceOrder: seq.SequenceOrder + offset,
			Status:        repository.ApprovalStatusPending,
		})
	}

	return approvals, nil
}

// ── Decision engine ──────────────────────────────────────────────────────────

// ProcessAction resolves one approver's decision. The whole action runs as a
// single transaction scoped to the expense's approval set; the acted-upon
// record's mutation commits even when the sequential gate subsequently
// fails. actorID, when non-empty, must match the record's approver.
func (s *ApprovalService) ProcessAction(ctx context.Context, approvalID, actorID string, action Action, comments *string) (*ActionResult, error) {
	if action != ActionApprove && action != ActionReject {
		return nil, errors.InvalidInput("action", fmt.Sprintf("unknown action '%s'", action))
	}

	var (
		result    *ActionResult
		expenseID string
		companyID string
	)

	err := s.approvals.WithActionLock(ctx, approvalID, func(snap *repository.ActionSnapshot) (*repository.ActionWrites, error) {
		expenseID = snap.Expense.ID
		companyID = snap.Expense.CompanyID

		if actorID != "" && snap.Target.ApproverID != actorID {
			return nil, errors.New(errors.ErrCodeUnauthorized, "user is not the approver for this record")
		}

		// Terminal expenses are final. Siblings of a rejected record stay
		// pending, so a later action on one must not re-open the expense.
		if snap.Expense.Status != repository.ExpenseStatusPending {
			result = &ActionResult{Success: false, Message: msgExpenseFinalized}
			return nil, nil
		}

		// A record leaves pending at most once; re-invocations fail
		// deterministically with no mutation.
		if snap.Target.Status != repository.ApprovalStatusPending {
			result = &ActionResult{Success: false, Message: msgAlreadyProcessed}
			return nil, nil
		}

		now := time.Now().UTC()

		if action == ActionReject {
			// One rejection is final for the whole expense. Siblings are
			// left in whatever state they were in.
			rejected := repository.ExpenseStatusRejected
			result = &ActionResult{Success: true, Message: msgExpenseRejected, ExpenseStatus: &rejected}
			return &repository.ActionWrites{
				TargetStatus:   repository.ApprovalStatusRejected,
				TargetComments: comments,
				ActedAt:        now,
				ExpenseStatus:  &rejected,
			}, nil
		}

		// The individual approval commits before the collective gate is
		// evaluated. The snapshot reflects it so the evaluation sees the
		// record as approved.
		snap.Target.Status = repository.ApprovalStatusApproved

		rule, err := s.resolveBoundRule(ctx, snap.Expense)
		if err != nil {
			return nil, err
		}

		out := evaluateApprove(rule, snap.Target, snap.Siblings)

		writes := &repository.ActionWrites{
			TargetStatus:   repository.ApprovalStatusApproved,
			TargetComments: comments,
			ActedAt:        now,
			SkipIDs:        out.SkipIDs,
			ExpenseStatus:  out.ExpenseStatus,
		}

		if out.GateFailed {
			result = &ActionResult{Success: false, Message: out.Message}
			return writes, nil
		}

		status := repository.ExpenseStatusPending
		if out.ExpenseStatus != nil {
			status = *out.ExpenseStatus
		}
		result = &ActionResult{Success: true, Message: out.Message, ExpenseStatus: &status}
		return writes, nil
	})
	if err != nil {
		return nil, err
	}

	if result.Success {
		statusAfter := ""
		if result.ExpenseStatus != nil {
			statusAfter = string(*result.ExpenseStatus)
		}

		s.appendAudit(ctx, &repository.AuditEntry{
			CompanyID:  companyID,
			UserID:     optional(actorID),
			ExpenseID:  &expenseID,
			Action:     fmt.Sprintf("expense_%s", action),
			EntityType: "expense_approval",
			EntityID:   &approvalID,
			NewValue: map[string]interface{}{
				"action":         string(action),
				"expense_status": statusAfter,
			},
		})

		if s.notifier != nil {
			s.notifier.PublishApprovalEvent(ctx, fmt.Sprintf("expense_%s", action), expenseID, companyID, actorID, map[string]interface{}{
				"approval_id":    approvalID,
				"expense_status": statusAfter,
			})
		}
	}

	s.log.Info().
		Str("approval_id", approvalID).
		Str("expense_id", expenseID).
		Str("action", string(action)).
		Bool("success", result.Success).
		Msg("Approval action processed")

	return result, nil
}

// resolveBoundRule loads the rule bound to the expense at submission time.
// A missing binding, a deleted rule or a deactivated rule all resolve to nil.
func (s *ApprovalService) resolveBoundRule(ctx context.Context, expense *repository.Expense) (*repository.ApprovalRule, error) {
	if expense.ApprovalRuleID == nil {
		return nil, nil
	}
	rule, err := s.rules.GetBoundRule(ctx, *expense.ApprovalRuleID)
	if err != nil {
		return nil, err
	}
	if rule == nil || !rule.IsActive {
		return nil, nil
	}
	return rule, nil
}

// ── Queries ──────────────────────────────────────────────────────────────────

// GetPendingApprovals returns the approval records awaiting a user.
func (s *ApprovalService) GetPendingApprovals(ctx context.Context, approverID string) ([]*repository.ExpenseApproval, error) {
	return s.approvals.GetPendingForApprover(ctx, approverID)
}

// GetExpenseApprovals returns the full approval set for an expense.
func (s *ApprovalService) GetExpenseApprovals(ctx context.Context, expenseID string) ([]*repository.ExpenseApproval, error) {
	return s.approvals.GetByExpenseID(ctx, expenseID)
}

// ── Rule administration ──────────────────────────────────────────────────────

// CreateRuleRequest carries a new rule's configuration.
type CreateRuleRequest struct {
	CompanyID               string
	Name                    string
	RuleType                repository.RuleType
	ApprovalPercentage      *decimal.Decimal
	SpecificApproverID      *string
	RequiresManagerApproval bool
	MinAmount               *decimal.Decimal
	MaxAmount               *decimal.Decimal
	Priority                int
	ApproverSequences       []ApproverSequenceRequest
}

// ApproverSequenceRequest is one (approver, order) slot in a new rule.
type ApproverSequenceRequest struct {
	ApproverID    string
	SequenceOrder int
}

// CreateRule validates and persists a new approval rule with its sequences.
func (s *ApprovalService) CreateRule(ctx context.Context, req *CreateRuleRequest) (*repository.ApprovalRule, error) {
	if err := validateRuleRequest(req); err != nil {
		return nil, err
	}

	rule := &repository.ApprovalRule{
		CompanyID:               req.CompanyID,
		Name:                    req.Name,
		RuleType:                req.RuleType,
		ApprovalPercentage:      req.ApprovalPercentage,
		SpecificApproverID:      req.SpecificApproverID,
		RequiresManagerApproval: req.RequiresManagerApproval,
		MinAmount:               req.MinAmount,
		MaxAmount:               req.MaxAmount,
		IsActive:                true,
		Priority:                req.Priority,
	}

	for _, seq := range req.ApproverSequences {
		rule.ApproverSequences = append(rule.ApproverSequences, &repository.ApproverSequence{
			ApproverID:    seq.ApproverID,
			SequenceOrder: seq.SequenceOrder,
		})
	}

	if err := s.rules.Create(ctx, rule); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("rule_id", rule.ID).
		Str("company_id", rule.CompanyID).
		Str("rule_type", string(rule.RuleType)).
		Int("sequence_count", len(rule.ApproverSequences)).
		Msg("Approval rule created")

	return rule, nil
}

// UpdateRuleRequest carries the mutable rule fields.
type UpdateRuleRequest struct {
	ID        string
	CompanyID string
	Name      *string
	IsActive  *bool
	Priority  *int
}

// UpdateRule changes a rule's name, active flag or priority. Structural
// fields are immutable after creation.
func (s *ApprovalService) UpdateRule(ctx context.Context, req *UpdateRuleRequest) (*repository.ApprovalRule, error) {
	rule, err := s.rules.GetByID(ctx, req.ID, req.CompanyID)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		if *req.Name == "" {
			return nil, errors.InvalidInput("name", "rule name cannot be empty")
		}
		rule.Name = *req.Name
	}
	if req.IsActive != nil {
		rule.IsActive = *req.IsActive
	}
	if req.Priority != nil {
		rule.Priority = *req.Priority
	}

	if err := s.rules.Update(ctx, rule); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("rule_id", rule.ID).
		Bool("is_active", rule.IsActive).
		Int("priority", rule.Priority).
		Msg("Approval rule updated")

	return rule, nil
}

// GetRule retrieves a rule with its sequences.
func (s *ApprovalService) GetRule(ctx context.Context, id, companyID string) (*repository.ApprovalRule, error) {
	return s.rules.GetByID(ctx, id, companyID)
}

// ListRules returns all rules for a company, highest priority first.
func (s *ApprovalService) ListRules(ctx context.Context, companyID string) ([]*repository.ApprovalRule, error) {
	return s.rules.List(ctx, companyID, false)
}

// DeleteRule removes a rule. Expenses already bound to it fall back to the
// "no governing rule" behavior on their next action.
func (s *ApprovalService) DeleteRule(ctx context.Context, id, companyID string) error {
	if err := s.rules.Delete(ctx, id, companyID); err != nil {
		return err
	}
	s.log.Info().Str("rule_id", id).Msg("Approval rule deleted")
	return nil
}

func validateRuleRequest(req *CreateRuleRequest) error {
	if req.Name == "" {
		return errors.InvalidInput("name", "rule name is required")
	}
	if !repository.ValidRuleType(req.RuleType) {
		return errors.InvalidInput("rule_type", fmt.Sprintf("unknown rule type '%s'", req.RuleType))
	}

	needsPercentage := req.RuleType == repository.RuleTypePercentage || req.RuleType == repository.RuleTypeHybrid
	if needsPercentage {
		if req.ApprovalPercentage == nil {
			return errors.InvalidInput("approval_percentage", "required for percentage and hybrid rules")
		}
		if req.ApprovalPercentage.LessThanOrEqual(decimal.Zero) || req.ApprovalPercentage.GreaterThan(decimal.NewFromInt(100)) {
			return errors.InvalidInput("approval_percentage", "must be between 0 and 100")
		}
	}

	needsSpecific := req.RuleType == repository.RuleTypeSpecificApprover || req.RuleType == repository.RuleTypeHybrid
	if needsSpecific && req.SpecificApproverID == nil {
		return errors.InvalidInput("specific_approver_id", "required for specific_approver and hybrid rules")
	}

	if req.MinAmount != nil && req.MaxAmount != nil && req.MinAmount.GreaterThan(*req.MaxAmount) {
		return errors.InvalidInput("min_amount", "cannot exceed max_amount")
	}

	seenOrders := make(map[int]bool)
	seenApprovers := make(map[string]bool)
	for _, seq := range req.ApproverSequences {
		if seq.SequenceOrder < 1 {
			return errors.InvalidInput("sequence_order", "must be a positive integer")
		}
		if seenOrders[seq.SequenceOrder] {
			return errors.InvalidInput("sequence_order", fmt.Sprintf("duplicate order %d", seq.SequenceOrder))
		}
		if seenApprovers[seq.ApproverID] {
			return errors.InvalidInput("approver_id", "approver cannot appear twice in a rule")
		}
		seenOrders[seq.SequenceOrder] = true
		seenApprovers[seq.ApproverID] = true
	}

	return nil
}

// appendAudit writes an audit entry, logging a warning on failure.
// Audit failures never fail the operation.
func (s *ApprovalService) appendAudit(ctx context.Context, entry *repository.AuditEntry) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Append(ctx, entry); err != nil {
		s.log.Warn().Err(err).
			Str("action", entry.Action).
			Msg("Failed to write audit log entry")
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
