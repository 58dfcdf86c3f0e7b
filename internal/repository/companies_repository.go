package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/finara-hq/be-expenses/internal/database"
	"github.com/finara-hq/be-expenses/internal/errors"
)

// CompaniesRepository handles company records.
type CompaniesRepository struct {
	db *database.DB
}

// NewCompaniesRepository creates a new CompaniesRepository.
func NewCompaniesRepository(db *database.DB) *CompaniesRepository {
	return &CompaniesRepository{db: db}
}

// Create inserts a new company.
func (r *CompaniesRepository) Create(ctx context.Context, company *Company) error {
	query := `
		INSERT INTO companies (name, country, currency_code, is_active)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query,
		company.Name,
		company.Country,
		company.CurrencyCode,
		company.IsActive,
	).Scan(&company.ID, &company.CreatedAt, &company.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create company")
	}
	return nil
}

// GetByID retrieves a company.
func (r *CompaniesRepository) GetByID(ctx context.Context, id string) (*Company, error) {
	query := `
		SELECT id, name, country, currency_code, is_active, created_at, updated_at
		FROM companies
		WHERE id = $1
	`

	c := &Company{}
	err := r.db.QueryRow(ctx, query, id).Scan(
		&c.ID,
		&c.Name,
		&c.Country,
		&c.CurrencyCode,
		&c.IsActive,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("company", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get company")
	}
	return c, nil
}
