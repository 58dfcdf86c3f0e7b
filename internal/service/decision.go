package service

import (
	"github.com/shopspring/decimal"

	"github.com/finara-hq/be-expenses/internal/repository"
)

// Result messages reported by ProcessAction.
const (
	msgAlreadyProcessed   = "Approval already processed"
	msgExpenseFinalized   = "Expense already finalized"
	msgExpenseRejected    = "Expense rejected"
	msgExpenseApproved    = "Expense approved"
	msgExpenseAutoApprove = "Expense auto-approved"
	msgApprovalRecorded   = "Approval recorded"
	msgSequenceIncomplete = "Previous approvals must be completed first"
)

// evalOutcome is the collective result of evaluating an approve action
// against the governing rule. ExpenseStatus nil means the expense stays
// pending. GateFailed marks the sequential out-of-order case, where the
// individual record commits but the collective gate reports failure.
type evalOutcome struct {
	ExpenseStatus *repository.ExpenseStatus
	SkipIDs       []string
	GateFailed    bool
	Message       string
}

// evaluateApprove computes the expense-level consequence of an approval.
// The target is expected to already carry status approved in the snapshot;
// siblings is the full approval set for the expense, target included,
// ordered by sequence_order. The function is pure: it never touches storage.
func evaluateApprove(
	rule *repository.ApprovalRule,
	target *repository.ExpenseApproval,
	siblings []*repository.ExpenseApproval,
) evalOutcome {
	// Rule deleted or deactivated since submission: record the individual
	// approval, no expense-level transition.
	if rule == nil || !rule.IsActive {
		return evalOutcome{Message: msgApprovalRecorded}
	}

	switch rule.RuleType {
	case repository.RuleTypeSequential:
		return evaluateSequential(target, siblings)
	case repository.RuleTypeSpecificApprover:
		return evaluateSpecificApprover(rule, target, siblings)
	case repository.RuleTypePercentage, repository.RuleTypeHybrid:
		return evaluateThreshold(rule, siblings)
	}
	return evalOutcome{Message: msgApprovalRecorded}
}

// evaluateSequential gates on ascending sequence order. An approval arriving
// before all earlier-order siblings have resolved fails the gate even though
// the record itself already committed.
func evaluateSequential(target *repository.ExpenseApproval, siblings []*repository.ExpenseApproval) evalOutcome {
	for _, sib := range siblings {
		if sib.SequenceOrder < target.SequenceOrder && sib.Status == repository.ApprovalStatusPending {
			return evalOutcome{GateFailed: true, Message: msgSequenceIncomplete}
		}
	}

	for _, sib := range siblings {
		if sib.Status != repository.ApprovalStatusApproved {
			return evalOutcome{Message: msgApprovalRecorded}
		}
	}

	approved := repository.ExpenseStatusApproved
	return evalOutcome{ExpenseStatus: &approved, Message: msgExpenseApproved}
}

// evaluateSpecificApprover approves the whole expense as soon as the rule's
// designated approver acts; everyone else's approval is only recorded.
func evaluateSpecificApprover(
	rule *repository.ApprovalRule,
	target *repository.ExpenseApproval,
	siblings []*repository.ExpenseApproval,
) evalOutcome {
	if rule.SpecificApproverID == nil || target.ApproverID != *rule.SpecificApproverID {
		return evalOutcome{Message: msgApprovalRecorded}
	}

	approved := repository.ExpenseStatusApproved
	return evalOutcome{
		ExpenseStatus: &approved,
		SkipIDs:       pendingSiblingIDs(siblings, target.ID),
		Message:       msgExpenseAutoApprove,
	}
}

// evaluateThreshold implements the percentage gate, with the hybrid variant
// additionally passing when the designated approver has approved. Skipped
// records stay in the denominator.
func evaluateThreshold(rule *repository.ApprovalRule, siblings []*repository.ExpenseApproval) evalOutcome {
	total := len(siblings)
	approvedCount := 0
	specificApproved := false

	for _, sib := range siblings {
		if sib.Status == repository.ApprovalStatusApproved {
			approvedCount++
			if rule.RuleType == repository.RuleTypeHybrid &&
				rule.SpecificApproverID != nil &&
				sib.ApproverID == *rule.SpecificApproverID {
				specificApproved = true
			}
		}
	}

	percentageMet := false
	if rule.ApprovalPercentage != nil && total > 0 {
		pct := decimal.NewFromInt(int64(approvedCount * 100)).Div(decimal.NewFromInt(int64(total)))
		percentageMet = pct.GreaterThanOrEqual(*rule.ApprovalPercentage)
	}

	if !percentageMet && !specificApproved {
		return evalOutcome{Message: msgApprovalRecorded}
	}

	approved := repository.ExpenseStatusApproved
	return evalOutcome{
		ExpenseStatus: &approved,
		SkipIDs:       pendingSiblingIDs(siblings, ""),
		Message:       msgExpenseApproved,
	}
}

// pendingSiblingIDs collects ids of still-pending records, excluding
// excludeID when non-empty.
func pendingSiblingIDs(siblings []*repository.ExpenseApproval, excludeID string) []string {
	var ids []string
	for _, sib := range siblings {
		if sib.ID == excludeID {
			continue
		}
		if sib.Status == repository.ApprovalStatusPending {
			ids = append(ids, sib.ID)
		}
	}
	return ids
}
