package service

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/finara-hq/be-expenses/internal/errors"
	"github.com/finara-hq/be-expenses/internal/repository"
)

// UserStore is the user storage the service needs.
type UserStore interface {
	Create(ctx context.Context, user *repository.User) error
	GetByID(ctx context.Context, id, companyID string) (*repository.User, error)
	GetByEmail(ctx context.Context, email string) (*repository.User, error)
	ListByCompany(ctx context.Context, companyID string) ([]*repository.User, error)
	GetManagerFor(ctx context.Context, employeeID string) (*repository.User, error)
	AssignManager(ctx context.Context, employeeID, managerID string) error
}

// CompanyWriter creates companies.
type CompanyWriter interface {
	Create(ctx context.Context, company *repository.Company) error
	GetByID(ctx context.Context, id string) (*repository.Company, error)
}

// UserService handles company and user provisioning plus manager
// relationships.
type UserService struct {
	users     UserStore
	companies CompanyWriter
	log       zerolog.Logger
}

// NewUserService creates a new UserService.
func NewUserService(users UserStore, companies CompanyWriter, log zerolog.Logger) *UserService {
	return &UserService{users: users, companies: companies, log: log}
}

// CreateCompanyRequest carries a new tenant.
type CreateCompanyRequest struct {
	Name         string
	Country      string
	CurrencyCode string
}

// CreateCompany provisions a new company.
func (s *UserService) CreateCompany(ctx context.Context, req *CreateCompanyRequest) (*repository.Company, error) {
	if req.Name == "" {
		return nil, errors.InvalidInput("name", "company name is required")
	}
	if len(req.CurrencyCode) != 3 {
		return nil, errors.InvalidInput("currency_code", "currency must be 3-letter ISO code")
	}

	company := &repository.Company{
		Name:         req.Name,
		Country:      req.Country,
		CurrencyCode: strings.ToUpper(req.CurrencyCode),
		IsActive:     true,
	}
	if err := s.companies.Create(ctx, company); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("company_id", company.ID).
		Str("currency", company.CurrencyCode).
		Msg("Company created")

	return company, nil
}

// CreateUserRequest carries a new user.
type CreateUserRequest struct {
	CompanyID string
	Email     string
	Password  string
	FullName  string
	Role      repository.UserRole
}

// CreateUser provisions a user with a bcrypt password hash. Emails are
// globally unique.
func (s *UserService) CreateUser(ctx context.Context, req *CreateUserRequest) (*repository.User, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, errors.InvalidInput("email", "valid email is required")
	}
	if len(req.Password) < 8 {
		return nil, errors.InvalidInput("password", "password must be at least 8 characters")
	}
	if req.FullName == "" {
		return nil, errors.InvalidInput("full_name", "full name is required")
	}
	switch req.Role {
	case repository.UserRoleAdmin, repository.UserRoleManager, repository.UserRoleEmployee:
	default:
		return nil, errors.InvalidInput("role", "unknown role")
	}

	if _, err := s.companies.GetByID(ctx, req.CompanyID); err != nil {
		return nil, err
	}

	existing, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, errors.New(errors.ErrCodeConflict, "a user with this email already exists")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to hash password")
	}

	user := &repository.User{
		CompanyID:    req.CompanyID,
		Email:        email,
		PasswordHash: string(hash),
		FullName:     req.FullName,
		Role:         req.Role,
		IsActive:     true,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("user_id", user.ID).
		Str("company_id", user.CompanyID).
		Str("role", string(user.Role)).
		Msg("User created")

	return user, nil
}

// VerifyPassword checks a user's credentials.
func (s *UserService) VerifyPassword(ctx context.Context, email, password string) (*repository.User, error) {
	user, err := s.users.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return nil, err
	}
	if user == nil || !user.IsActive {
		return nil, errors.New(errors.ErrCodeUnauthorized, "invalid credentials")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, errors.New(errors.ErrCodeUnauthorized, "invalid credentials")
	}
	return user, nil
}

// AssignManager sets an employee's manager. Both users must belong to the
// same company and an employee cannot manage themselves.
func (s *UserService) AssignManager(ctx context.Context, companyID, employeeID, managerID string) error {
	if employeeID == managerID {
		return errors.InvalidInput("manager_id", "user cannot be their own manager")
	}

	if _, err := s.users.GetByID(ctx, employeeID, companyID); err != nil {
		return err
	}
	if _, err := s.users.GetByID(ctx, managerID, companyID); err != nil {
		return err
	}

	if err := s.users.AssignManager(ctx, employeeID, managerID); err != nil {
		return err
	}

	s.log.Info().
		Str("employee_id", employeeID).
		Str("manager_id", managerID).
		Msg("Manager assigned")

	return nil
}

// ListUsers returns a company's users.
func (s *UserService) ListUsers(ctx context.Context, companyID string) ([]*repository.User, error) {
	return s.users.ListByCompany(ctx, companyID)
}

// GetUser retrieves a user.
func (s *UserService) GetUser(ctx context.Context, id, companyID string) (*repository.User, error) {
	return s.users.GetByID(ctx, id, companyID)
}
