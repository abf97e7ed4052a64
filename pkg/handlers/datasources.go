package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/ppcxy/cyfm-engine/pkg/adapters/datasource"
	"github.com/ppcxy/cyfm-engine/pkg/audit"
	"github.com/ppcxy/cyfm-engine/pkg/logging"
	"github.com/ppcxy/cyfm-engine/pkg/services"
)

// SwitchRequest is the POST /api/datasources/switch body.
type SwitchRequest struct {
	Name string `json:"name"`
}

// ListDatasourcesResponse wraps the catalog listing.
type ListDatasourcesResponse struct {
	Datasources []services.DatasourceInfo `json:"datasources"`
}

// DialectResponse is the result of resolving a URL's dialect.
type DialectResponse struct {
	URL       string `json:"url"`
	Dialect   string `json:"dialect"`
	GoquName  string `json:"builder_dialect"`
	Supported bool   `json:"supported"`
}

// DatasourcesHandler handles datasource switching HTTP requests.
type DatasourcesHandler struct {
	datasourceService services.DatasourceService
	auditor           *audit.SecurityAuditor
	logger            *zap.Logger
}

// NewDatasourcesHandler creates a new datasources handler. auditor may be nil.
func NewDatasourcesHandler(datasourceService services.DatasourceService, auditor *audit.SecurityAuditor, logger *zap.Logger) *DatasourcesHandler {
	return &DatasourcesHandler{
		datasourceService: datasourceService,
		auditor:           auditor,
		logger:            logger,
	}
}

// RegisterRoutes registers the datasource handler's routes on the given mux.
func (h *DatasourcesHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/datasources", h.List)
	mux.HandleFunc("GET /api/datasources/current", h.Current)
	mux.HandleFunc("GET /api/datasources/stats", h.Stats)
	mux.HandleFunc("GET /api/datasources/types", h.Types)
	mux.HandleFunc("GET /api/datasources/dialect", h.Dialect)
	mux.HandleFunc("POST /api/datasources/switch", h.Switch)
	mux.HandleFunc("POST /api/datasources/{name}/test", h.TestConnection)
	mux.HandleFunc("POST /api/datasources/{id}/retire", h.Retire)
}

// List handles GET /api/datasources
func (h *DatasourcesHandler) List(w http.ResponseWriter, r *http.Request) {
	data := ListDatasourcesResponse{Datasources: h.datasourceService.List(r.Context())}
	writeOK(w, http.StatusOK, data, h.logger)
}

// Current handles GET /api/datasources/current
// Returns 503 not_bound before the first successful switch.
func (h *DatasourcesHandler) Current(w http.ResponseWriter, r *http.Request) {
	info, err := h.datasourceService.Current(r.Context())
	if err != nil {
		writeServiceError(w, err, "get current datasource", h.logger)
		return
	}
	writeOK(w, http.StatusOK, info, h.logger)
}

// Stats handles GET /api/datasources/stats
func (h *DatasourcesHandler) Stats(w http.ResponseWriter, r *http.Request) {
	writeOK(w, http.StatusOK, h.datasourceService.Stats(r.Context()), h.logger)
}

// Types handles GET /api/datasources/types
func (h *DatasourcesHandler) Types(w http.ResponseWriter, r *http.Request) {
	writeOK(w, http.StatusOK, h.datasourceService.ListTypes(r.Context()), h.logger)
}

// Switch handles POST /api/datasources/switch
// A switch that was attempted and failed is a 200 with success false; the
// previous binding stays in place.
func (h *DatasourcesHandler) Switch(w http.ResponseWriter, r *http.Request) {
	var req SwitchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		if err := ErrorResponse(w, http.StatusBadRequest, "missing_name", "Datasource name is required"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	result, err := h.datasourceService.Switch(r.Context(), req.Name)
	if err != nil {
		h.auditor.LogDatasourceSwitch(r.Context(), audit.SwitchDetails{To: req.Name, Message: logging.SanitizeError(err)})
		writeServiceError(w, err, "switch datasource", h.logger)
		return
	}
	h.auditor.LogDatasourceSwitch(r.Context(), audit.SwitchDetails{
		From:    result.Previous,
		To:      result.Name,
		PoolID:  result.PoolID,
		Success: result.Success,
		Message: result.Message,
	})

	response := ApiResponse{Success: result.Success, Data: result, Message: result.Message}
	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}

// Retire handles POST /api/datasources/{id}/retire
func (h *DatasourcesHandler) Retire(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		if err := ErrorResponse(w, http.StatusBadRequest, "missing_id", "Pool ID is required"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	err := h.datasourceService.Retire(r.Context(), id)
	h.auditor.LogPoolRetired(r.Context(), id, err)
	if err != nil {
		writeServiceError(w, err, "retire pool", h.logger)
		return
	}
	writeOK(w, http.StatusOK, map[string]string{"id": id}, h.logger)
}

// TestConnection handles POST /api/datasources/{name}/test
func (h *DatasourcesHandler) TestConnection(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := h.datasourceService.TestConnection(r.Context(), name); err != nil {
		status, code := StatusForError(err)
		if status == http.StatusInternalServerError {
			// Connection failures are an answer, not a server fault.
			response := ApiResponse{Success: false, Error: "connection_failed", Message: logging.SanitizeError(err)}
			if err := WriteJSON(w, http.StatusOK, response); err != nil {
				h.logger.Error("Failed to encode response", zap.Error(err))
			}
			return
		}
		if err := ErrorResponse(w, status, code, err.Error()); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	writeOK(w, http.StatusOK, map[string]string{"name": name}, h.logger)
}

// Dialect handles GET /api/datasources/dialect?url=
func (h *DatasourcesHandler) Dialect(w http.ResponseWriter, r *http.Request) {
	rawURL := r.URL.Query().Get("url")
	if rawURL == "" {
		if err := ErrorResponse(w, http.StatusBadRequest, "missing_url", "url query parameter is required"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	d, err := datasource.DialectFor(rawURL)
	if err != nil {
		writeServiceError(w, err, "resolve dialect", h.logger)
		return
	}

	writeOK(w, http.StatusOK, DialectResponse{
		URL:       logging.SanitizeConnectionString(rawURL),
		Dialect:   string(d),
		GoquName:  d.GoquDialect(),
		Supported: datasource.IsRegistered(d),
	}, h.logger)
}
