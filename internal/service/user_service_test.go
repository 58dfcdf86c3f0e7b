package service

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finara-hq/be-expenses/internal/errors"
	"github.com/finara-hq/be-expenses/internal/repository"
)

func (f *fakeCompanyStore) Create(_ context.Context, company *repository.Company) error {
	company.ID = "co-created"
	f.company = company
	return nil
}

type fakeUserStore struct {
	users    map[string]*repository.User
	managers map[string]string
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{users: make(map[string]*repository.User), managers: make(map[string]string)}
}

func (f *fakeUserStore) Create(_ context.Context, user *repository.User) error {
	user.ID = "u-" + user.Email
	f.users[user.ID] = user
	return nil
}

func (f *fakeUserStore) GetByID(_ context.Context, id, companyID string) (*repository.User, error) {
	user, ok := f.users[id]
	if !ok || user.CompanyID != companyID {
		return nil, errors.NotFound("user", id)
	}
	return user, nil
}

func (f *fakeUserStore) GetByEmail(_ context.Context, email string) (*repository.User, error) {
	for _, user := range f.users {
		if user.Email == email {
			return user, nil
		}
	}
	return nil, nil
}

func (f *fakeUserStore) ListByCompany(_ context.Context, companyID string) ([]*repository.User, error) {
	var out []*repository.User
	for _, user := range f.users {
		if user.CompanyID == companyID {
			out = append(out, user)
		}
	}
	return out, nil
}

func (f *fakeUserStore) GetManagerFor(_ context.Context, employeeID string) (*repository.User, error) {
	if managerID, ok := f.managers[employeeID]; ok {
		return f.users[managerID], nil
	}
	return nil, nil
}

func (f *fakeUserStore) AssignManager(_ context.Context, employeeID, managerID string) error {
	f.managers[employeeID] = managerID
	return nil
}

func newUserFixture() (*UserService, *fakeUserStore) {
	store := newFakeUserStore()
	companies := &fakeCompanyStore{company: &repository.Company{ID: "co-1", CurrencyCode: "USD", IsActive: true}}
	return NewUserService(store, companies, zerolog.Nop()), store
}

func TestCreateUserHashesPassword(t *testing.T) {
	svc, _ := newUserFixture()

	user, err := svc.CreateUser(context.Background(), &CreateUserRequest{
		CompanyID: "co-1",
		Email:     "  Alice@Example.COM ",
		Password:  "correct horse",
		FullName:  "Alice Jones",
		Role:      repository.UserRoleEmployee,
	})
	require.NoError(t, err)

	assert.Equal(t, "alice@example.com", user.Email)
	assert.NotEqual(t, "correct horse", user.PasswordHash)
	assert.True(t, user.IsActive)

	verified, err := svc.VerifyPassword(context.Background(), "alice@example.com", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, user.ID, verified.ID)

	_, err = svc.VerifyPassword(context.Background(), "alice@example.com", "wrong")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeUnauthorized, errors.CodeOf(err))
}

func TestCreateUserValidation(t *testing.T) {
	svc, _ := newUserFixture()

	tests := []struct {
		name string
		req  CreateUserRequest
	}{
		{"bad email", CreateUserRequest{CompanyID: "co-1", Email: "not-an-email", Password: "longenough", FullName: "A", Role: repository.UserRoleEmployee}},
		{"short password", CreateUserRequest{CompanyID: "co-1", Email: "a@b.com", Password: "short", FullName: "A", Role: repository.UserRoleEmployee}},
		{"missing name", CreateUserRequest{CompanyID: "co-1", Email: "a@b.com", Password: "longenough", Role: repository.UserRoleEmployee}},
		{"unknown role", CreateUserRequest{CompanyID: "co-1", Email: "a@b.com", Password: "longenough", FullName: "A", Role: "owner"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateUser(context.Background(), &tt.req)
			require.Error(t, err)
			assert.Equal(t, errors.ErrCodeInvalidInput, errors.CodeOf(err))
		})
	}
}

func TestCreateUserDuplicateEmail(t *testing.T) {
	svc, _ := newUserFixture()

	req := &CreateUserRequest{
		CompanyID: "co-1",
		Email:     "bob@example.com",
		Password:  "longenough",
		FullName:  "Bob",
		Role:      repository.UserRoleManager,
	}
	_, err := svc.CreateUser(context.Background(), req)
	require.NoError(t, err)

	_, err = svc.CreateUser(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeConflict, errors.CodeOf(err))
}

func TestAssignManager(t *testing.T) {
	svc, store := newUserFixture()

	store.users["emp"] = &repository.User{ID: "emp", CompanyID: "co-1"}
	store.users["mgr"] = &repository.User{ID: "mgr", CompanyID: "co-1"}
	store.users["outsider"] = &repository.User{ID: "outsider", CompanyID: "co-2"}

	require.NoError(t, svc.AssignManager(context.Background(), "co-1", "emp", "mgr"))
	assert.Equal(t, "mgr", store.managers["emp"])

	err := svc.AssignManager(context.Background(), "co-1", "emp", "emp")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeInvalidInput, errors.CodeOf(err))

	err = svc.AssignManager(context.Background(), "co-1", "emp", "outsider")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeNotFound, errors.CodeOf(err))
}

func TestCreateCompany(t *testing.T) {
	svc, _ := newUserFixture()

	company, err := svc.CreateCompany(context.Background(), &CreateCompanyRequest{
		Name:         "Acme",
		Country:      "US",
		CurrencyCode: "usd",
	})
	require.NoError(t, err)
	assert.Equal(t, "USD", company.CurrencyCode)
	assert.True(t, company.IsActive)

	_, err = svc.CreateCompany(context.Background(), &CreateCompanyRequest{Name: "", CurrencyCode: "USD"})
	require.Error(t, err)
}
