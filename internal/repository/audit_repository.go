package repository

import (
	"context"
	"encoding/json"

	"github.com/finara-hq/be-expenses/internal/database"
	"github.com/finara-hq/be-expenses/internal/errors"
)

// AuditRepository appends and reads immutable audit log entries.
type AuditRepository struct {
	db *database.DB
}

// NewAuditRepository creates a new AuditRepository.
func NewAuditRepository(db *database.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Append inserts one audit entry. Entries are never updated or deleted.
func (r *AuditRepository) Append(ctx context.Context, entry *AuditEntry) error {
	oldJSON, err := marshalValues(entry.OldValue)
	if err != nil {
		return err
	}
	newJSON, err := marshalValues(entry.NewValue)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO audit_log
		    (company_id, user_id, expense_id, action, entity_type, entity_id,
		     old_value, new_value)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at
	`

	return r.db.QueryRow(ctx, query,
		entry.CompanyID,
		entry.UserID,
		entry.ExpenseID,
		entry.Action,
		entry.EntityType,
		entry.EntityID,
		oldJSON,
		newJSON,
	).Scan(&entry.ID, &entry.CreatedAt)
}

// GetByExpenseID returns the audit trail for an expense oldest-first.
func (r *AuditRepository) GetByExpenseID(ctx context.Context, expenseID string) ([]*AuditEntry, error) {
	query := `
		SELECT id, company_id, user_id, expense_id, action, entity_type, entity_id,
		       old_value, new_value, created_at
		FROM audit_log
		WHERE expense_id = $1
		ORDER BY created_at ASC
	`

	rows, err := r.db.Query(ctx, query, expenseID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get audit log")
	}
	defer rows.Close()

	var entries []*AuditEntry
	for rows.Next() {
		entry := &AuditEntry{}
		var oldJSON, newJSON []byte

		err := rows.Scan(
			&entry.ID,
			&entry.CompanyID,
			&entry.UserID,
			&entry.ExpenseID,
			&entry.Action,
			&entry.EntityType,
			&entry.EntityID,
			&oldJSON,
			&newJSON,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan audit entry")
		}

		if oldJSON != nil {
			if err := json.Unmarshal(oldJSON, &entry.OldValue); err != nil {
				return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal audit old_value")
			}
		}
		if newJSON != nil {
			if err := json.Unmarshal(newJSON, &entry.NewValue); err != nil {
				return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal audit new_value")
			}
		}

		entries = append(entries, entry)
	}
	return entries, nil
}

func marshalValues(values map[string]interface{}) ([]byte, error) {
	if values == nil {
		return nil, nil
	}
	data, err := json.Marshal(values)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal audit values")
	}
	return data, nil
}
