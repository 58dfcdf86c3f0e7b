package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/finara-hq/be-expenses/internal/errors"
	"github.com/finara-hq/be-expenses/internal/repository"
	"github.com/finara-hq/be-expenses/internal/service"
)

// HTTPHandler handles HTTP requests
type HTTPHandler struct {
	expenses  *service.ExpenseService
	approvals *service.ApprovalService
	users     *service.UserService
	log       zerolog.Logger
}

// NewHTTPHandler creates a new HTTP handler
func NewHTTPHandler(expenses *service.ExpenseService, approvals *service.ApprovalService, users *service.UserService, log zerolog.Logger) *HTTPHandler {
	return &HTTPHandler{
		expenses:  expenses,
		approvals: approvals,
		users:     users,
		log:       log,
	}
}

// ── Expenses ─────────────────────────────────────────────────────────────────

type expenseLinePayload struct {
	CategoryID   *string         `json:"category_id,omitempty"`
	Description  string          `json:"description"`
	Amount       decimal.Decimal `json:"amount"`
	MerchantName *string         `json:"merchant_name,omitempty"`
}

type createExpensePayload struct {
	CompanyID         string               `json:"company_id"`
	EmployeeID        string               `json:"employee_id"`
	Title             string               `json:"title"`
	Description       *string              `json:"description,omitempty"`
	ExpenseDate       string               `json:"expense_date"`
	SubmittedCurrency string               `json:"submitted_currency"`
	SubmittedAmount   decimal.Decimal      `json:"submitted_amount"`
	Lines             []expenseLinePayload `json:"lines"`
}

// CreateExpense handles create expense HTTP requests
func (h *HTTPHandler) CreateExpense(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var payload createExpensePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	req := &service.CreateExpenseRequest{
		CompanyID:         payload.CompanyID,
		EmployeeID:        payload.EmployeeID,
		Title:             payload.Title,
		Description:       payload.Description,
		ExpenseDate:       payload.ExpenseDate,
		SubmittedCurrency: payload.SubmittedCurrency,
		SubmittedAmount:   payload.SubmittedAmount,
	}
	for _, line := range payload.Lines {
		req.Lines = append(req.Lines, service.ExpenseLineRequest{
			CategoryID:   line.CategoryID,
			Description:  line.Description,
			Amount:       line.Amount,
			MerchantName: line.MerchantName,
		})
	}

	expense, err := h.expenses.CreateExpense(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, expense)
}

// GetExpense handles get expense HTTP requests
func (h *HTTPHandler) GetExpense(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	expenseID := r.URL.Query().Get("id")
	companyID := r.URL.Query().Get("company_id")
	if expenseID == "" || companyID == "" {
		http.Error(w, "Expense ID and Company ID are required", http.StatusBadRequest)
		return
	}

	expense, err := h.expenses.GetExpense(r.Context(), expenseID, companyID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, expense)
}

// ListExpenses handles list expenses HTTP requests
func (h *HTTPHandler) ListExpenses(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	companyID := r.URL.Query().Get("company_id")
	if companyID == "" {
		http.Error(w, "Company ID is required", http.StatusBadRequest)
		return
	}

	var employeeIDPtr *string
	if employeeID := r.URL.Query().Get("employee_id"); employeeID != "" {
		employeeIDPtr = &employeeID
	}

	var statusPtr *repository.ExpenseStatus
	if status := r.URL.Query().Get("status"); status != "" {
		s := repository.ExpenseStatus(status)
		statusPtr = &s
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}

	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	if pageSize < 1 || pageSize > 100 {
		pageSize = 50
	}

	expenses, err := h.expenses.ListExpenses(r.Context(), companyID, employeeIDPtr, statusPtr, page, pageSize)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"expenses":  expenses,
		"page":      page,
		"page_size": pageSize,
	})
}

// SubmitExpense handles submit expense HTTP requests
func (h *HTTPHandler) SubmitExpense(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		ID        string `json:"id"`
		CompanyID string `json:"company_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.ID == "" || req.CompanyID == "" {
		http.Error(w, "Expense ID and Company ID are required", http.StatusBadRequest)
		return
	}

	expense, err := h.expenses.SubmitExpense(r.Context(), req.ID, req.CompanyID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, expense)
}

// CancelExpense handles cancel expense HTTP requests
func (h *HTTPHandler) CancelExpense(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		ID        string `json:"id"`
		CompanyID string `json:"company_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.expenses.CancelExpense(r.Context(), req.ID, req.CompanyID); err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// DeleteExpense handles delete expense HTTP requests
func (h *HTTPHandler) DeleteExpense(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	expenseID := r.URL.Query().Get("id")
	companyID := r.URL.Query().Get("company_id")
	if expenseID == "" || companyID == "" {
		http.Error(w, "Expense ID and Company ID are required", http.StatusBadRequest)
		return
	}

	if err := h.expenses.DeleteExpense(r.Context(), expenseID, companyID); err != nil {
		h.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetExpenseAudit handles expense audit trail HTTP requests
func (h *HTTPHandler) GetExpenseAudit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	expenseID := r.URL.Query().Get("expense_id")
	if expenseID == "" {
		http.Error(w, "Expense ID is required", http.StatusBadRequest)
		return
	}

	entries, err := h.expenses.GetAuditTrail(r.Context(), expenseID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{"audit": entries})
}

// ── Approvals ────────────────────────────────────────────────────────────────

// GetExpenseApprovals handles get expense approvals HTTP requests
func (h *HTTPHandler) GetExpenseApprovals(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	expenseID := r.URL.Query().Get("expense_id")
	if expenseID == "" {
		http.Error(w, "Expense ID is required", http.StatusBadRequest)
		return
	}

	approvals, err := h.approvals.GetExpenseApprovals(r.Context(), expenseID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{"approvals": approvals})
}

// GetPendingApprovals handles pending approvals HTTP requests
func (h *HTTPHandler) GetPendingApprovals(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	approverID := r.URL.Query().Get("approver_id")
	if approverID == "" {
		http.Error(w, "Approver ID is required", http.StatusBadRequest)
		return
	}

	approvals, err := h.approvals.GetPendingApprovals(r.Context(), approverID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{"approvals": approvals})
}

// ProcessApprovalAction handles approve/reject HTTP requests
func (h *HTTPHandler) ProcessApprovalAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		ApprovalID string  `json:"approval_id"`
		ApproverID string  `json:"approver_id"`
		Action     string  `json:"action"`
		Comments   *string `json:"comments,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.ApprovalID == "" {
		http.Error(w, "Approval ID is required", http.StatusBadRequest)
		return
	}

	result, err := h.approvals.ProcessAction(r.Context(), req.ApprovalID, req.ApproverID, service.Action(req.Action), req.Comments)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

// ── Approval rules ───────────────────────────────────────────────────────────

type approverSequencePayload struct {
	ApproverID    string `json:"approver_id"`
	SequenceOrder int    `json:"sequence_order"`
}

type createRulePayload struct {
	CompanyID               string                    `json:"company_id"`
	Name                    string                    `json:"name"`
	RuleType                repository.RuleType       `json:"rule_type"`
	ApprovalPercentage      *decimal.Decimal          `json:"approval_percentage,omitempty"`
	SpecificApproverID      *string                   `json:"specific_approver_id,omitempty"`
	RequiresManagerApproval bool                      `json:"requires_manager_approval"`
	MinAmount               *decimal.Decimal          `json:"min_amount,omitempty"`
	MaxAmount               *decimal.Decimal          `json:"max_amount,omitempty"`
	Priority                int                       `json:"priority"`
	ApproverSequences       []approverSequencePayload `json:"approver_sequences,omitempty"`
}

// CreateRule handles create approval rule HTTP requests
func (h *HTTPHandler) CreateRule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var payload createRulePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	req := &service.CreateRuleRequest{
		CompanyID:               payload.CompanyID,
		Name:                    payload.Name,
		RuleType:                payload.RuleType,
		ApprovalPercentage:      payload.ApprovalPercentage,
		SpecificApproverID:      payload.SpecificApproverID,
		RequiresManagerApproval: payload.RequiresManagerApproval,
		MinAmount:               payload.MinAmount,
		MaxAmount:               payload.MaxAmount,
		Priority:                payload.Priority,
	}
	for _, seq := range payload.ApproverSequences {
		req.ApproverSequences = append(req.ApproverSequences, service.ApproverSequenceRequest{
			ApproverID:    seq.ApproverID,
			SequenceOrder: seq.SequenceOrder,
		})
	}

	rule, err := h.approvals.CreateRule(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, rule)
}

// GetRule handles get approval rule HTTP requests
func (h *HTTPHandler) GetRule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ruleID := r.URL.Query().Get("id")
	companyID := r.URL.Query().Get("company_id")
	if ruleID == "" || companyID == "" {
		http.Error(w, "Rule ID and Company ID are required", http.StatusBadRequest)
		return
	}

	rule, err := h.approvals.GetRule(r.Context(), ruleID, companyID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, rule)
}

// ListRules handles list approval rules HTTP requests
func (h *HTTPHandler) ListRules(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	companyID := r.URL.Query().Get("company_id")
	if companyID == "" {
		http.Error(w, "Company ID is required", http.StatusBadRequest)
		return
	}

	rules, err := h.approvals.ListRules(r.Context(), companyID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{"rules": rules})
}

// UpdateRule handles update approval rule HTTP requests
func (h *HTTPHandler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req service.UpdateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.ID == "" || req.CompanyID == "" {
		http.Error(w, "Rule ID and Company ID are required", http.StatusBadRequest)
		return
	}

	rule, err := h.approvals.UpdateRule(r.Context(), &req)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, rule)
}

// DeleteRule handles delete approval rule HTTP requests
func (h *HTTPHandler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ruleID := r.URL.Query().Get("id")
	companyID := r.URL.Query().Get("company_id")
	if ruleID == "" || companyID == "" {
		http.Error(w, "Rule ID and Company ID are required", http.StatusBadRequest)
		return
	}

	if err := h.approvals.DeleteRule(r.Context(), ruleID, companyID); err != nil {
		h.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ── Companies and users ──────────────────────────────────────────────────────

// CreateCompany handles create company HTTP requests
func (h *HTTPHandler) CreateCompany(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req service.CreateCompanyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	company, err := h.users.CreateCompany(r.Context(), &req)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, company)
}

// CreateUser handles create user HTTP requests
func (h *HTTPHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req service.CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	user, err := h.users.CreateUser(r.Context(), &req)
	if err != nil {
		h.writeError(w, err)
		return
	}

	// The password hash never leaves the service.
	user.PasswordHash = ""
	h.writeJSON(w, http.StatusCreated, user)
}

// ListUsers handles list users HTTP requests
func (h *HTTPHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	companyID := r.URL.Query().Get("company_id")
	if companyID == "" {
		http.Error(w, "Company ID is required", http.StatusBadRequest)
		return
	}

	users, err := h.users.ListUsers(r.Context(), companyID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	for _, u := range users {
		u.PasswordHash = ""
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"users": users})
}

// AssignManager handles assign manager HTTP requests
func (h *HTTPHandler) AssignManager(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		CompanyID  string `json:"company_id"`
		EmployeeID string `json:"employee_id"`
		ManagerID  string `json:"manager_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.users.AssignManager(r.Context(), req.CompanyID, req.EmployeeID, req.ManagerID); err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "assigned"})
}

// ── Helpers ──────────────────────────────────────────────────────────────────

func (h *HTTPHandler) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Warn().Err(err).Msg("Failed to encode response body")
	}
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, err error) {
	status := errors.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Msg("Request failed")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"code":  string(errors.CodeOf(err)),
		"error": errors.MessageOf(err),
	})
}
