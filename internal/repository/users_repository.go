package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/finara-hq/be-expenses/internal/database"
	"github.com/finara-hq/be-expenses/internal/errors"
)

// UsersRepository handles users and manager relationships.
type UsersRepository struct {
	db *database.DB
}

// NewUsersRepository creates a new UsersRepository.
func NewUsersRepository(db *database.DB) *UsersRepository {
	return &UsersRepository{db: db}
}

// Create inserts a new user.
func (r *UsersRepository) Create(ctx context.Context, user *User) error {
	query := `
		INSERT INTO users (company_id, email, password_hash, full_name, role, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query,
		user.CompanyID,
		user.Email,
		user.PasswordHash,
		user.FullName,
		user.Role,
		user.IsActive,
	).Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create user")
	}
	return nil
}

// GetByID retrieves a user by primary key within a company.
func (r *UsersRepository) GetByID(ctx context.Context, id, companyID string) (*User, error) {
	query := userSelect + ` WHERE id = $1 AND company_id = $2`

	user, err := scanUser(r.db.QueryRow(ctx, query, id, companyID))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("user", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get user")
	}
	return user, nil
}

// GetByEmail retrieves a user by email. Returns nil when no user exists.
func (r *UsersRepository) GetByEmail(ctx context.Context, email string) (*User, error) {
	query := userSelect + ` WHERE email = $1`

	user, err := scanUser(r.db.QueryRow(ctx, query, email))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get user by email")
	}
	return user, nil
}

// ListByCompany returns all users in a company.
func (r *UsersRepository) ListByCompany(ctx context.Context, companyID string) ([]*User, error) {
	query := userSelect + ` WHERE company_id = $1 ORDER BY created_at ASC`

	rows, err := r.db.Query(ctx, query, companyID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list users")
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan user")
		}
		users = append(users, user)
	}
	return users, nil
}

// GetManagerFor returns the employee's current manager, or nil when no
// manager relationship exists. At most one relationship exists per employee.
func (r *UsersRepository) GetManagerFor(ctx context.Context, employeeID string) (*User, error) {
	query := `
		SELECT u.id, u.company_id, u.email, u.password_hash, u.full_name, u.role,
		       u.is_active, u.created_at, u.updated_at
		FROM manager_relationships mr
		JOIN users u ON u.id = mr.manager_id
		WHERE mr.employee_id = $1
	`

	user, err := scanUser(r.db.QueryRow(ctx, query, employeeID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to look up manager")
	}
	return user, nil
}

// AssignManager sets the employee's manager, replacing any existing
// relationship, in one transaction.
func (r *UsersRepository) AssignManager(ctx context.Context, employeeID, managerID string) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`DELETE FROM manager_relationships WHERE employee_id = $1`,
			employeeID,
		); err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to clear manager relationship")
		}

		if _, err := tx.Exec(ctx,
			`INSERT INTO manager_relationships (employee_id, manager_id) VALUES ($1, $2)`,
			employeeID, managerID,
		); err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to assign manager")
		}
		return nil
	})
}

// ── scan helpers ─────────────────────────────────────────────────────────────

const userSelect = `
	SELECT id, company_id, email, password_hash, full_name, role,
	       is_active, created_at, updated_at
	FROM users`

type userScanner interface {
	Scan(dest ...any) error
}

func scanUser(row userScanner) (*User, error) {
	u := &User{}
	err := row.Scan(
		&u.ID,
		&u.CompanyID,
		&u.Email,
		&u.PasswordHash,
		&u.FullName,
		&u.Role,
		&u.IsActive,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return u, nil
}
