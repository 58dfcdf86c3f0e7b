package service

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finara-hq/be-expenses/internal/repository"
)

func approvalRecord(id, approverID string, order int, status repository.ApprovalStatus) *repository.ExpenseApproval {
	return &repository.ExpenseApproval{
		ID:            id,
		ExpenseID:     "exp-1",
		ApproverID:    approverID,
		SequenceOrder: order,
		Status:        status,
	}
}

func percentageRule(pct int64) *repository.ApprovalRule {
	p := decimal.NewFromInt(pct)
	return &repository.ApprovalRule{
		ID:                 "rule-1",
		RuleType:           repository.RuleTypePercentage,
		ApprovalPercentage: &p,
		IsActive:           true,
	}
}

func TestEvaluateApproveNoGoverningRule(t *testing.T) {
	target := approvalRecord("a1", "u1", 1, repository.ApprovalStatusApproved)

	out := evaluateApprove(nil, target, []*repository.ExpenseApproval{target})
	assert.Nil(t, out.ExpenseStatus)
	assert.False(t, out.GateFailed)
	assert.Equal(t, msgApprovalRecorded, out.Message)

	inactive := percentageRule(50)
	inactive.IsActive = false
	out = evaluateApprove(inactive, target, []*repository.ExpenseApproval{target})
	assert.Nil(t, out.ExpenseStatus)
	assert.Equal(t, msgApprovalRecorded, out.Message)
}

func TestEvaluateSequentialGate(t *testing.T) {
	rule := &repository.ApprovalRule{ID: "rule-1", RuleType: repository.RuleTypeSequential, IsActive: true}

	t.Run("out of order approval fails the gate", func(t *testing.T) {
		target := approvalRecord("a2", "u2", 2, repository.ApprovalStatusApproved)
		siblings := []*repository.ExpenseApproval{
			approvalRecord("a1", "u1", 1, repository.ApprovalStatusPending),
			target,
		}

		out := evaluateApprove(rule, target, siblings)
		assert.True(t, out.GateFailed)
		assert.Nil(t, out.ExpenseStatus)
		assert.Equal(t, msgSequenceIncomplete, out.Message)
	})

	t.Run("in order with later approvals outstanding", func(t *testing.T) {
		target := approvalRecord("a1", "u1", 1, repository.ApprovalStatusApproved)
		siblings := []*repository.ExpenseApproval{
			target,
			approvalRecord("a2", "u2", 2, repository.ApprovalStatusPending),
		}

		out := evaluateApprove(rule, target, siblings)
		assert.False(t, out.GateFailed)
		assert.Nil(t, out.ExpenseStatus)
		assert.Equal(t, msgApprovalRecorded, out.Message)
	})

	t.Run("final approval approves the expense", func(t *testing.T) {
		target := approvalRecord("a2", "u2", 2, repository.ApprovalStatusApproved)
		siblings := []*repository.ExpenseApproval{
			approvalRecord("a1", "u1", 1, repository.ApprovalStatusApproved),
			target,
		}

		out := evaluateApprove(rule, target, siblings)
		require.NotNil(t, out.ExpenseStatus)
		assert.Equal(t, repository.ExpenseStatusApproved, *out.ExpenseStatus)
		assert.Equal(t, msgExpenseApproved, out.Message)
	})
}

func TestEvaluateSpecificApprover(t *testing.T) {
	designated := "u-boss"
	rule := &repository.ApprovalRule{
		ID:                 "rule-1",
		RuleType:           repository.RuleTypeSpecificApprover,
		SpecificApproverID: &designated,
		IsActive:           true,
	}

	t.Run("non-designated approver is only recorded", func(t *testing.T) {
		target := approvalRecord("a1", "u1", 1, repository.ApprovalStatusApproved)
		siblings := []*repository.ExpenseApproval{
			target,
			approvalRecord("a2", designated, 2, repository.ApprovalStatusPending),
		}

		out := evaluateApprove(rule, target, siblings)
		assert.Nil(t, out.ExpenseStatus)
		assert.Empty(t, out.SkipIDs)
		assert.Equal(t, msgApprovalRecorded, out.Message)
	})

	t.Run("designated approver approves and skips the rest", func(t *testing.T) {
		target := approvalRecord("a2", designated, 2, repository.ApprovalStatusApproved)
		siblings := []*repository.ExpenseApproval{
			approvalRecord("a1", "u1", 1, repository.ApprovalStatusPending),
			target,
			approvalRecord("a3", "u3", 3, repository.ApprovalStatusPending),
		}

		out := evaluateApprove(rule, target, siblings)
		require.NotNil(t, out.ExpenseStatus)
		assert.Equal(t, repository.ExpenseStatusApproved, *out.ExpenseStatus)
		assert.ElementsMatch(t, []string{"a1", "a3"}, out.SkipIDs)
		assert.Equal(t, msgExpenseAutoApprove, out.Message)
	})
}

func TestEvaluateThresholdPercentage(t *testing.T) {
	rule := percentageRule(60)

	t.Run("below threshold stays pending", func(t *testing.T) {
		target := approvalRecord("a1", "u1", 1, repository.ApprovalStatusApproved)
		siblings := []*repository.ExpenseApproval{
			target,
			approvalRecord("a2", "u2", 2, repository.ApprovalStatusPending),
			approvalRecord("a3", "u3", 3, repository.ApprovalStatusPending),
		}

		out := evaluateApprove(rule, target, siblings)
		assert.Nil(t, out.ExpenseStatus)
		assert.Equal(t, msgApprovalRecorded, out.Message)
	})

	t.Run("2 of 3 meets 60 percent", func(t *testing.T) {
		target := approvalRecord("a2", "u2", 2, repository.ApprovalStatusApproved)
		siblings := []*repository.ExpenseApproval{
			approvalRecord("a1", "u1", 1, repository.ApprovalStatusApproved),
			target,
			approvalRecord("a3", "u3", 3, repository.ApprovalStatusPending),
		}

		out := evaluateApprove(rule, target, siblings)
		require.NotNil(t, out.ExpenseStatus)
		assert.Equal(t, repository.ExpenseStatusApproved, *out.ExpenseStatus)
		assert.Equal(t, []string{"a3"}, out.SkipIDs)
	})

	t.Run("skipped records stay in the denominator", func(t *testing.T) {
		target := approvalRecord("a1", "u1", 1, repository.ApprovalStatusApproved)
		siblings := []*repository.ExpenseApproval{
			target,
			approvalRecord("a2", "u2", 2, repository.ApprovalStatusSkipped),
			approvalRecord("a3", "u3", 3, repository.ApprovalStatusPending),
		}

		// 1 approved of 3 total is 33 percent, not 50 of the unskipped pool.
		out := evaluateApprove(rule, target, siblings)
		assert.Nil(t, out.ExpenseStatus)
		assert.Equal(t, msgApprovalRecorded, out.Message)
	})

	t.Run("exact threshold passes", func(t *testing.T) {
		rule := percentageRule(50)
		target := approvalRecord("a1", "u1", 1, repository.ApprovalStatusApproved)
		siblings := []*repository.ExpenseApproval{
			target,
			approvalRecord("a2", "u2", 2, repository.ApprovalStatusPending),
		}

		out := evaluateApprove(rule, target, siblings)
		require.NotNil(t, out.ExpenseStatus)
		assert.Equal(t, repository.ExpenseStatusApproved, *out.ExpenseStatus)
	})
}

func TestEvaluateThresholdHybrid(t *testing.T) {
	designated := "u-boss"
	pct := decimal.NewFromInt(75)
	rule := &repository.ApprovalRule{
		ID:                 "rule-1",
		RuleType:           repository.RuleTypeHybrid,
		ApprovalPercentage: &pct,
		SpecificApproverID: &designated,
		IsActive:           true,
	}

	t.Run("designated approver short-circuits the percentage", func(t *testing.T) {
		target := approvalRecord("a2", designated, 2, repository.ApprovalStatusApproved)
		siblings := []*repository.ExpenseApproval{
			approvalRecord("a1", "u1", 1, repository.ApprovalStatusPending),
			target,
			approvalRecord("a3", "u3", 3, repository.ApprovalStatusPending),
			approvalRecord("a4", "u4", 4, repository.ApprovalStatusPending),
		}

		// 1 of 4 is 25 percent, well under 75, but the designated approver acted.
		out := evaluateApprove(rule, target, siblings)
		require.NotNil(t, out.ExpenseStatus)
		assert.Equal(t, repository.ExpenseStatusApproved, *out.ExpenseStatus)
		assert.ElementsMatch(t, []string{"a1", "a3", "a4"}, out.SkipIDs)
	})

	t.Run("percentage path without the designated approver", func(t *testing.T) {
		target := approvalRecord("a3", "u3", 3, repository.ApprovalStatusApproved)
		siblings := []*repository.ExpenseApproval{
			approvalRecord("a1", "u1", 1, repository.ApprovalStatusApproved),
			approvalRecord("a2", "u2", 2, repository.ApprovalStatusApproved),
			target,
			approvalRecord("a4", designated, 4, repository.ApprovalStatusPending),
		}

		out := evaluateApprove(rule, target, siblings)
		require.NotNil(t, out.ExpenseStatus)
		assert.Equal(t, repository.ExpenseStatusApproved, *out.ExpenseStatus)
		assert.Equal(t, []string{"a4"}, out.SkipIDs)
	})

	t.Run("neither path met", func(t *testing.T) {
		target := approvalRecord("a1", "u1", 1, repository.ApprovalStatusApproved)
		siblings := []*repository.ExpenseApproval{
			target,
			approvalRecord("a2", "u2", 2, repository.ApprovalStatusPending),
			approvalRecord("a3", designated, 3, repository.ApprovalStatusPending),
		}

		out := evaluateApprove(rule, target, siblings)
		assert.Nil(t, out.ExpenseStatus)
		assert.Equal(t, msgApprovalRecorded, out.Message)
	})
}
