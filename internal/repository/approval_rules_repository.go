package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/finara-hq/be-expenses/internal/database"
	"github.com/finara-hq/be-expenses/internal/errors"
)

// ApprovalRulesRepository handles CRUD for approval_rules and their
// approver_sequences.
type ApprovalRulesRepository struct {
	db *database.DB
}

// NewApprovalRulesRepository creates a new ApprovalRulesRepository.
func NewApprovalRulesRepository(db *database.DB) *ApprovalRulesRepository {
	return &ApprovalRulesRepository{db: db}
}

// Create inserts a rule and its approver sequences in one transaction.
func (r *ApprovalRulesRepository) Create(ctx context.Context, rule *ApprovalRule) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		ruleQuery := `
			INSERT INTO approval_rules
			    (company_id, name, rule_type, approval_percentage,
			     specific_approver_id, requires_manager_approval,
			     min_amount, max_amount, is_active, priority)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			RETURNING id, created_at, updated_at
		`

		err := tx.QueryRow(ctx, ruleQuery,
			rule.CompanyID,
			rule.Name,
			rule.RuleType,
			rule.ApprovalPercentage,
			rule.SpecificApproverID,
			rule.RequiresManagerApproval,
			rule.MinAmount,
			rule.MaxAmount,
			rule.IsActive,
			rule.Priority,
		).Scan(&rule.ID, &rule.CreatedAt, &rule.UpdatedAt)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to create approval rule")
		}

		seqQuery := `
			INSERT INTO approver_sequences (approval_rule_id, approver_id, sequence_order)
			VALUES ($1, $2, $3)
			RETURNING id, created_at
		`

		for _, seq := range rule.ApproverSequences {
			seq.ApprovalRuleID = rule.ID
			err := tx.QueryRow(ctx, seqQuery,
				seq.ApprovalRuleID,
				seq.ApproverID,
				seq.SequenceOrder,
			).Scan(&seq.ID, &seq.CreatedAt)
			if err != nil {
				return errors.Wrap(err, errors.ErrCodeInternal, "failed to create approver sequence")
			}
		}

		return nil
	})
}

// GetByID retrieves a rule with its sequences.
func (r *ApprovalRulesRepository) GetByID(ctx context.Context, id, companyID string) (*ApprovalRule, error) {
	query := `
		SELECT id, company_id, name, rule_type, approval_percentage,
		       specific_approver_id, requires_manager_approval,
		       min_amount, max_amount, is_active, priority,
		       created_at, updated_at
		FROM approval_rules
		WHERE id = $1 AND company_id = $2
	`

	rule, err := r.scanRule(r.db.QueryRow(ctx, query, id, companyID))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("approval_rule", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get approval rule")
	}

	rule.ApproverSequences, err = r.getSequences(ctx, rule.ID)
	if err != nil {
		return nil, err
	}
	return rule, nil
}

// GetBoundRule loads a rule by primary key only, without a company filter.
// Used by the decision engine to resolve the rule bound to an expense at
// submission time. Returns nil (no error) when the rule no longer exists.
func (r *ApprovalRulesRepository) GetBoundRule(ctx context.Context, id string) (*ApprovalRule, error) {
	query := `
		SELECT id, company_id, name, rule_type, approval_percentage,
		       specific_approver_id, requires_manager_approval,
		       min_amount, max_amount, is_active, priority,
		       created_at, updated_at
		FROM approval_rules
		WHERE id = $1
	`

	rule, err := r.scanRule(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rule.ApproverSequences, err = r.getSequences(ctx, rule.ID)
	if err != nil {
		return nil, err
	}
	return rule, nil
}

// List returns all rules for a company ordered by priority descending,
// creation order breaking ties.
func (r *ApprovalRulesRepository) List(ctx context.Context, companyID string, activeOnly bool) ([]*ApprovalRule, error) {
	query := `
		SELECT id, company_id, name, rule_type, approval_percentage,
		       specific_approver_id, requires_manager_approval,
		       min_amount, max_amount, is_active, priority,
		       created_at, updated_at
		FROM approval_rules
		WHERE company_id = $1
	`
	if activeOnly {
		query += " AND is_active = TRUE"
	}
	query += " ORDER BY priority DESC, created_at ASC"

	rows, err := r.db.Query(ctx, query, companyID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list approval rules")
	}
	defer rows.Close()

	var rules []*ApprovalRule
	for rows.Next() {
		rule, err := r.scanRule(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan approval rule")
		}
		rules = append(rules, rule)
	}

	for _, rule := range rules {
		rule.ApproverSequences, err = r.getSequences(ctx, rule.ID)
		if err != nil {
			return nil, err
		}
	}
	return rules, nil
}

// Update persists the mutable rule fields: name, active flag and priority.
// Structural fields are immutable after creation.
func (r *ApprovalRulesRepository) Update(ctx context.Context, rule *ApprovalRule) error {
	query := `
		UPDATE approval_rules
		SET name       = $3,
		    is_active  = $4,
		    priority   = $5,
		    updated_at = NOW()
		WHERE id = $1 AND company_id = $2
		RETURNING updated_at
	`

	err := r.db.QueryRow(ctx, query,
		rule.ID,
		rule.CompanyID,
		rule.Name,
		rule.IsActive,
		rule.Priority,
	).Scan(&rule.UpdatedAt)

	if err == pgx.ErrNoRows {
		return errors.NotFound("approval_rule", rule.ID)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update approval rule")
	}
	return nil
}

// Delete removes a rule; its approver sequences cascade.
func (r *ApprovalRulesRepository) Delete(ctx context.Context, id, companyID string) error {
	query := `
		DELETE FROM approval_rules
		WHERE id = $1 AND company_id = $2
	`

	tag, err := r.db.Exec(ctx, query, id, companyID)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to delete approval rule")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("approval_rule", id)
	}
	return nil
}

// ── scan helpers ─────────────────────────────────────────────────────────────

type ruleScanner interface {
	Scan(dest ...any) error
}

func (r *ApprovalRulesRepository) scanRule(row ruleScanner) (*ApprovalRule, error) {
	rule := &ApprovalRule{}
	err := row.Scan(
		&rule.ID,
		&rule.CompanyID,
		&rule.Name,
		&rule.RuleType,
		&rule.ApprovalPercentage,
		&rule.SpecificApproverID,
		&rule.RequiresManagerApproval,
		&rule.MinAmount,
		&rule.MaxAmount,
		&rule.IsActive,
		&rule.Priority,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return rule, nil
}

func (r *ApprovalRulesRepository) getSequences(ctx context.Context, ruleID string) ([]*ApproverSequence, error) {
	query := `
		SELECT id, approval_rule_id, approver_id, sequence_order, created_at
		FROM approver_sequences
		WHERE approval_rule_id = $1
		ORDER BY sequence_order ASC
	`

	rows, err := r.db.Query(ctx, query, ruleID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get approver sequences")
	}
	defer rows.Close()

	var seqs []*ApproverSequence
	for rows.Next() {
		seq := &ApproverSequence{}
		err := rows.Scan(&seq.ID, &seq.ApprovalRuleID, &seq.ApproverID, &seq.SequenceOrder, &seq.CreatedAt)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan approver sequence")
		}
		seqs = append(seqs, seq)
	}
	return seqs, nil
}
