package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/ppcxy/cyfm-engine/pkg/apperrors"
	"github.com/ppcxy/cyfm-engine/pkg/models"
	"github.com/ppcxy/cyfm-engine/pkg/repositories"
	"github.com/ppcxy/cyfm-engine/pkg/services"
)

// SearchParamPrefix prefixes search query parameters: search_LIKE_name=adm.
const SearchParamPrefix = "search_"

// UserRequest is the body of POST and PUT /api/users.
type UserRequest struct {
	Username string `json:"username"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Status   string `json:"status"`
	TeamID   *int64 `json:"team_id"`
}

// ListUsersResponse wraps a page of users.
type ListUsersResponse struct {
	Users []*models.User `json:"users"`
	Total int64          `json:"total"`
}

// UsersHandler handles user management HTTP requests.
type UsersHandler struct {
	userService services.UserService
	logger      *zap.Logger
}

// NewUsersHandler creates a new users handler.
func NewUsersHandler(userService services.UserService, logger *zap.Logger) *UsersHandler {
	return &UsersHandler{
		userService: userService,
		logger:      logger,
	}
}

// RegisterRoutes registers the users handler's routes on the given mux.
func (h *UsersHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/users", h.List)
	mux.HandleFunc("POST /api/users", h.Create)
	mux.HandleFunc("GET /api/users/search", h.Search)
	mux.HandleFunc("GET /api/users/{id}", h.Get)
	mux.HandleFunc("PUT /api/users/{id}", h.Update)
	mux.HandleFunc("DELETE /api/users/{id}", h.Delete)
}

// List handles GET /api/users?limit=&offset=&sort=&order=
func (h *UsersHandler) List(w http.ResponseWriter, r *http.Request) {
	page, ok := h.parsePage(w, r)
	if !ok {
		return
	}

	users, err := h.userService.List(r.Context(), page)
	if err != nil {
		writeServiceError(w, err, "list users", h.logger)
		return
	}
	total, err := h.userService.Count(r.Context(), nil)
	if err != nil {
		writeServiceError(w, err, "count users", h.logger)
		return
	}

	writeOK(w, http.StatusOK, ListUsersResponse{Users: users, Total: total}, h.logger)
}

// Search handles GET /api/users/search
// Filters come either as a single field=&op=&value= triple or as any number
// of search_<OP>_<field>=value parameters.
func (h *UsersHandler) Search(w http.ResponseWriter, r *http.Request) {
	page, ok := h.parsePage(w, r)
	if !ok {
		return
	}

	filters, err := parseFilters(r)
	if err != nil {
		writeServiceError(w, err, "parse search filters", h.logger)
		return
	}

	users, err := h.userService.Search(r.Context(), filters, page)
	if err != nil {
		writeServiceError(w, err, "search users", h.logger)
		return
	}
	total, err := h.userService.Count(r.Context(), filters)
	if err != nil {
		writeServiceError(w, err, "count users", h.logger)
		return
	}

	writeOK(w, http.StatusOK, ListUsersResponse{Users: users, Total: total}, h.logger)
}

// Get handles GET /api/users/{id}
func (h *UsersHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseUserID(w, r)
	if !ok {
		return
	}

	user, err := h.userService.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, err, "get user", h.logger)
		return
	}
	writeOK(w, http.StatusOK, user, h.logger)
}

// Create handles POST /api/users
func (h *UsersHandler) Create(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeUser(w, r)
	if !ok {
		return
	}

	user := req.toModel()
	if err := h.userService.Create(r.Context(), user); err != nil {
		writeServiceError(w, err, "create user", h.logger)
		return
	}
	writeOK(w, http.StatusCreated, user, h.logger)
}

// Update handles PUT /api/users/{id}
func (h *UsersHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseUserID(w, r)
	if !ok {
		return
	}
	req, ok := h.decodeUser(w, r)
	if !ok {
		return
	}

	existing, err := h.userService.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, err, "get user", h.logger)
		return
	}

	user := req.toModel()
	user.ID = id
	user.CreatedAt = existing.CreatedAt
	if err := h.userService.Update(r.Context(), user); err != nil {
		writeServiceError(w, err, "update user", h.logger)
		return
	}
	writeOK(w, http.StatusOK, user, h.logger)
}

// Delete handles DELETE /api/users/{id}
func (h *UsersHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseUserID(w, r)
	if !ok {
		return
	}

	if err := h.userService.Delete(r.Context(), id); err != nil {
		writeServiceError(w, err, "delete user", h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (r UserRequest) toModel() *models.User {
	return &models.User{
		Username: r.Username,
		Name:     r.Name,
		Email:    r.Email,
		Status:   r.Status,
		TeamID:   r.TeamID,
	}
}

func (h *UsersHandler) decodeUser(w http.ResponseWriter, r *http.Request) (UserRequest, bool) {
	var req UserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return req, false
	}
	return req, true
}

func (h *UsersHandler) parseUserID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_user_id", "Invalid user ID format"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return 0, false
	}
	return id, true
}

func (h *UsersHandler) parsePage(w http.ResponseWriter, r *http.Request) (repositories.Page, bool) {
	page, err := parsePage(r)
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_page", err.Error()); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return page, false
	}
	return page, true
}

// parsePage reads limit, offset, sort and order from the query string.
func parsePage(r *http.Request) (repositories.Page, error) {
	q := r.URL.Query()
	page := repositories.Page{
		OrderBy: q.Get("sort"),
		Desc:    strings.EqualFold(q.Get("order"), "desc"),
	}

	var err error
	if v := q.Get("limit"); v != "" {
		if page.Limit, err = strconv.Atoi(v); err != nil {
			return page, fmt.Errorf("invalid limit %q", v)
		}
	}
	if v := q.Get("offset"); v != "" {
		if page.Offset, err = strconv.Atoi(v); err != nil {
			return page, fmt.Errorf("invalid offset %q", v)
		}
	}
	return page, nil
}

func parseFilters(r *http.Request) ([]repositories.SearchFilter, error) {
	q := r.URL.Query()

	filters, err := repositories.ParseSearchParams(q, SearchParamPrefix)
	if err != nil {
		return nil, err
	}

	field := q.Get("field")
	if field == "" {
		return filters, nil
	}
	opName := q.Get("op")
	if opName == "" {
		opName = string(repositories.OpEQ)
	}
	op, err := repositories.ParseOperator(opName)
	if err != nil {
		return nil, err
	}
	if !q.Has("value") {
		return nil, fmt.Errorf("value is required with field %q: %w", field, apperrors.ErrInvalidFilter)
	}
	return append(filters, repositories.SearchFilter{Field: field, Operator: op, Value: q.Get("value")}), nil
}
