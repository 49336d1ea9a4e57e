/*
handlers.go - HTTP handlers for estimates, timesheets and quotes

PURPOSE:
  Decodes requests, calls the repositories and encodes the results.
  Every rule (validation, ownership, numbering) is enforced by the
  repositories; handlers only translate.

ENDPOINTS:
  Estimates:
    GET    /api/estimates                    List, newest first
    POST   /api/estimates                    Create (body includes items)
    GET    /api/estimates/next-number?year=  Next free number (default: this year)
    GET    /api/estimates/{id}               One estimate with items
    PUT    /api/estimates/{id}               Replace estimate and items
    DELETE /api/estimates/{id}               Delete with items

  Timesheet (always the caller's own entries):
    GET    /api/timesheet?start=&end=        Entries in a date range
                                             (startDate/endDate also accepted)
    POST   /api/timesheet                    Create
    GET    /api/timesheet/{id}               One entry
    PUT    /api/timesheet/{id}               Replace
    DELETE /api/timesheet/{id}               Delete

  Quotes:
    GET/POST /api/quotes, GET/PUT/DELETE /api/quotes/{id}

ERROR HANDLING:
  Repository errors map to a status through core.HTTPStatus:
  - 400: Validation errors, invalid input
  - 403: Forbidden, pending approval, protected admin
  - 404: Resource not found
  - 409: Duplicate estimate number or email, last admin
  - 422: Operation not valid in the current state
  - 5xx: Storage failures, logged with the full cause chain

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/warp/estimator/auth"
	"github.com/warp/estimator/core"
	"github.com/warp/estimator/estimate"
	"github.com/warp/estimator/quote"
	"github.com/warp/estimator/timesheet"
	"github.com/warp/estimator/users"
)

// Handler holds all HTTP handler dependencies.
type Handler struct {
	Estimates  *estimate.Repository
	Timesheets *timesheet.Repository
	Users      *users.Repository
	Quotes     *quote.Repository
	Log        zerolog.Logger

	// Tokens signs and verifies access tokens. It must carry a secret.
	Tokens         auth.Config
	AllowedOrigins []string

	// now is replaceable in tests.
	now func() time.Time
}

// NewHandler creates a new handler over the given repositories.
func NewHandler(est *estimate.Repository, ts *timesheet.Repository, u *users.Repository, q *quote.Repository, log zerolog.Logger) *Handler {
	return &Handler{
		Estimates:  est,
		Timesheets: ts,
		Users:      u,
		Quotes:     q,
		Log:        log.With().Str("component", "api").Logger(),
		now:        time.Now,
	}
}

// =============================================================================
// ESTIMATE HANDLERS
// =============================================================================

func (h *Handler) ListEstimates(w http.ResponseWriter, r *http.Request) {
	list, err := h.Estimates.List(r.Context())
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) CreateEstimate(w http.ResponseWriter, r *http.Request) {
	var req estimate.Estimate
	if !decode(w, r, &req) {
		return
	}

	id, err := h.Estimates.Save(r.Context(), req, req.Items)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, CreatedResponse{ID: id})
}

func (h *Handler) GetEstimate(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	est, err := h.Estimates.Get(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	if est == nil {
		writeError(w, http.StatusNotFound, "Estimate not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, est)
}

func (h *Handler) UpdateEstimate(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var req estimate.Estimate
	if !decode(w, r, &req) {
		return
	}

	if _, err := h.Estimates.Update(r.Context(), id, req, req.Items); err != nil {
		h.writeStoreError(w, r, err)
		return
	}

	est, err := h.Estimates.Get(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, est)
}

func (h *Handler) DeleteEstimate(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	if _, err := h.Estimates.Delete(r.Context(), id); err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Estimate deleted"})
}

func (h *Handler) NextEstimateNumber(w http.ResponseWriter, r *http.Request) {
	// An absent or unparseable year means the current one.
	year := h.now().Year()
	if parsed, err := strconv.Atoi(r.URL.Query().Get("year")); err == nil {
		year = parsed
	}

	number, err := h.Estimates.NextNumber(r.Context(), year)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, NextNumberResponse{Number: number})
}

// =============================================================================
// TIMESHEET HANDLERS
// =============================================================================

func (h *Handler) ListTimesheet(w http.ResponseWriter, r *http.Request) {
	u := currentUser(r)
	q := r.URL.Query()

	entries, err := h.Timesheets.List(r.Context(), u.ID,
		queryParam(q, "start", "startDate"), queryParam(q, "end", "endDate"))
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) CreateTimesheetEntry(w http.ResponseWriter, r *http.Request) {
	var req timesheet.Entry
	if !decode(w, r, &req) {
		return
	}
	req.UserID = currentUser(r).ID

	id, err := h.Timesheets.Save(r.Context(), req)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, CreatedResponse{ID: id})
}

func (h *Handler) GetTimesheetEntry(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	entry, err := h.Timesheets.Get(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	if entry == nil {
		writeError(w, http.StatusNotFound, "Timesheet entry not found", nil)
		return
	}
	if u := currentUser(r); entry.UserID != u.ID && !u.IsAdmin() {
		writeError(w, http.StatusForbidden, "Not your timesheet entry", nil)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (h *Handler) UpdateTimesheetEntry(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var req timesheet.Entry
	if !decode(w, r, &req) {
		return
	}
	req.UserID = currentUser(r).ID

	if err := h.Timesheets.Update(r.Context(), id, req); err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	entry, err := h.Timesheets.Get(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (h *Handler) DeleteTimesheetEntry(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	if err := h.Timesheets.Delete(r.Context(), id, currentUser(r).ID); err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Timesheet entry deleted"})
}

// =============================================================================
// QUOTE HANDLERS
// =============================================================================

func (h *Handler) ListQuotes(w http.ResponseWriter, r *http.Request) {
	list, err := h.Quotes.List(r.Context())
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) CreateQuote(w http.ResponseWriter, r *http.Request) {
	var req quote.Quote
	if !decode(w, r, &req) {
		return
	}
	owner := currentUser(r).ID
	req.UserID = &owner

	id, err := h.Quotes.Create(r.Context(), req)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, CreatedResponse{ID: id})
}

func (h *Handler) GetQuote(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	q, err := h.Quotes.Get(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	if q == nil {
		writeError(w, http.StatusNotFound, "Quote not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (h *Handler) UpdateQuote(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var req quote.Quote
	if !decode(w, r, &req) {
		return
	}
	if err := h.Quotes.Update(r.Context(), id, req); err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	q, err := h.Quotes.Get(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (h *Handler) DeleteQuote(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	if err := h.Quotes.Delete(r.Context(), id); err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Quote deleted"})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeStoreError renders a repository error. Client errors echo the
// offending fields; server errors are logged and their cause withheld.
func (h *Handler) writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	status := core.HTTPStatus(err)
	kind := core.KindOf(err)

	resp := ErrorResponse{Error: http.StatusText(status)}
	if kind != nil {
		resp.Error = kind.Error()
		resp.Code = errorCode(kind)
	}

	if status >= http.StatusInternalServerError {
		h.Log.Error().
			Err(err).
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("path", r.URL.Path).
			Msg("request failed")
		writeJSON(w, status, resp)
		return
	}

	var e *core.Error
	if errors.As(err, &e) && len(e.Fields) > 0 {
		resp.Details = e.Fields
	}
	writeJSON(w, status, resp)
}

var codes = map[error]string{
	core.ErrValidation:         "validation_failed",
	core.ErrNotFound:           "not_found",
	core.ErrUniqueViolation:    "conflict",
	core.ErrForbidden:          "forbidden",
	core.ErrPendingApproval:    "pending_approval",
	core.ErrLastAdmin:          "last_admin",
	core.ErrAdminProtected:     "admin_protected",
	core.ErrInvalidState:       "invalid_state",
	core.ErrStorageUnavailable: "storage_unavailable",
	core.ErrMigrationFailed:    "migration_failed",
	core.ErrWriteFailed:        "write_failed",
}

func errorCode(kind error) string {
	return codes[kind]
}

// queryParam returns the first non-empty value among names.
func queryParam(q url.Values, names ...string) string {
	for _, name := range names {
		if v := q.Get(name); v != "" {
			return v
		}
	}
	return ""
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

func parseID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid id", err)
		return 0, false
	}
	return id, true
}
