/*
handlers_test.go - End-to-end tests for the HTTP API

Tests for:
- Login and Bearer token outcomes (missing, malformed, expired, pending,
  deleted account)
- Estimate CRUD and numbering through the router
- Timesheet ownership enforcement
- Admin-only routes and account invariants
- Error status mapping
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/warp/estimator/auth"
	"github.com/warp/estimator/estimate"
	"github.com/warp/estimator/quote"
	"github.com/warp/estimator/store/sqlite"
	"github.com/warp/estimator/timesheet"
	"github.com/warp/estimator/users"
)

const (
	adminEmail = "admin@example.com"
	adminPass  = "admin123"
)

var testNow = time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)

func setupTestRouter(t *testing.T) (*Handler, *chi.Mux) {
	t.Helper()
	engine := sqlite.New(sqlite.Options{Path: sqlite.MemoryPath, Logger: zerolog.Nop()})
	t.Cleanup(func() { engine.Close() })

	userRepo := users.NewRepository(engine, users.Options{BcryptCost: bcrypt.MinCost})
	require.NoError(t, userRepo.Initialize(context.Background(), users.Bootstrap{
		Email: adminEmail, Password: adminPass, Name: "Admin",
	}))

	h := NewHandler(
		estimate.NewRepository(engine),
		timesheet.NewRepository(engine),
		userRepo,
		quote.NewRepository(engine),
		zerolog.Nop(),
	)
	h.Tokens = auth.Config{Secret: "test-secret", Issuer: "estimator", TTL: time.Hour}
	h.now = func() time.Time { return testNow }
	return h, NewRouter(h)
}

func do(t *testing.T, router http.Handler, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func login(t *testing.T, router http.Handler, email, password string) string {
	t.Helper()
	rec := do(t, router, http.MethodPost, "/api/auth/login", LoginRequest{Email: email, Password: password}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	token := decodeBody[LoginResponse](t, rec).Token
	require.NotEmpty(t, token)
	return token
}

func loginAdmin(t *testing.T, router http.Handler) string {
	return login(t, router, adminEmail, adminPass)
}

// registerApproved registers an account, approves it as admin and
// returns a token for it.
func registerApproved(t *testing.T, router http.Handler, email string) string {
	t.Helper()
	rec := do(t, router, http.MethodPost, "/api/auth/register", RegisterRequest{Email: email, Password: "secret1", Name: email}, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id := decodeBody[CreatedResponse](t, rec).ID

	rec = do(t, router, http.MethodPost, "/api/admin/approve-user/"+itoa(id), nil, loginAdmin(t, router))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return login(t, router, email, "secret1")
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}

// =============================================================================
// AUTH
// =============================================================================

func TestAuth(t *testing.T) {
	_, router := setupTestRouter(t)

	rec := do(t, router, http.MethodGet, "/api/estimates", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))

	rec = do(t, router, http.MethodGet, "/api/estimates", nil, "not-a-jwt")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/estimates", nil)
	req.SetBasicAuth(adminEmail, adminPass)
	basic := httptest.NewRecorder()
	router.ServeHTTP(basic, req)
	assert.Equal(t, http.StatusUnauthorized, basic.Code)

	rec = do(t, router, http.MethodPost, "/api/auth/login", LoginRequest{Email: adminEmail, Password: "wrong"}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, router, http.MethodPost, "/api/auth/login", LoginRequest{Email: adminEmail, Password: adminPass}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[LoginResponse](t, rec)
	assert.Equal(t, "Bearer", resp.TokenType)
	assert.True(t, testNow.Add(time.Hour).Equal(resp.ExpiresAt), resp.ExpiresAt)
	assert.Equal(t, "admin", resp.User.Role)
	assert.NotContains(t, rec.Body.String(), "password")

	rec = do(t, router, http.MethodGet, "/api/auth/user", nil, resp.Token)
	require.Equal(t, http.StatusOK, rec.Code)
	me := decodeBody[UserDTO](t, rec)
	assert.Equal(t, adminEmail, me.Email)
	assert.Equal(t, "admin", me.Role)
}

func TestAuth_TokenClaims(t *testing.T) {
	h, router := setupTestRouter(t)

	claims, err := auth.Parse(h.Tokens, testNow, loginAdmin(t, router))
	require.NoError(t, err)

	assert.Equal(t, users.RoleAdmin, claims.Role)
	assert.True(t, claims.IsApproved)
	assert.Equal(t, adminEmail, claims.Email)
}

func TestAuth_ExpiredToken(t *testing.T) {
	h, router := setupTestRouter(t)
	token := loginAdmin(t, router)

	h.now = func() time.Time { return testNow.Add(2 * time.Hour) }

	rec := do(t, router, http.MethodGet, "/api/auth/user", nil, token)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuth_PendingAccount(t *testing.T) {
	_, router := setupTestRouter(t)

	rec := do(t, router, http.MethodPost, "/api/auth/register",
		RegisterRequest{Email: "new@example.com", Password: "secret1", Name: "New"}, "")
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, router, http.MethodPost, "/api/auth/login",
		LoginRequest{Email: "new@example.com", Password: "secret1"}, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "pending_approval", decodeBody[ErrorResponse](t, rec).Code)
	assert.NotContains(t, rec.Body.String(), "token")
}

func TestAuth_DeletedAccountLosesAccess(t *testing.T) {
	_, router := setupTestRouter(t)
	pat := registerApproved(t, router, "pat@example.com")

	rec := do(t, router, http.MethodGet, "/api/auth/user", nil, pat)
	require.Equal(t, http.StatusOK, rec.Code)
	id := decodeBody[UserDTO](t, rec).ID

	rec = do(t, router, http.MethodDelete, "/api/admin/users/"+itoa(id), nil, loginAdmin(t, router))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, router, http.MethodGet, "/api/auth/user", nil, pat)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRegister_Errors(t *testing.T) {
	_, router := setupTestRouter(t)

	rec := do(t, router, http.MethodPost, "/api/auth/register",
		RegisterRequest{Email: adminEmail, Password: "secret1", Name: "Dup"}, "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, router, http.MethodPost, "/api/auth/register", RegisterRequest{Email: "bad"}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_failed", decodeBody[ErrorResponse](t, rec).Code)
}

// =============================================================================
// ESTIMATES
// =============================================================================

func TestEstimateLifecycle(t *testing.T) {
	_, router := setupTestRouter(t)
	admin := loginAdmin(t, router)

	rec := do(t, router, http.MethodGet, "/api/estimates/next-number", nil, admin)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2024-001", decodeBody[NextNumberResponse](t, rec).Number)

	body := map[string]any{
		"number":    "2024-001",
		"date":      "2024-07-01",
		"sales_tax": 10,
		"items": []map[string]any{
			{"quantity": 2, "description": "Valve", "price": 10},
			{"quantity": 1, "description": "Labor", "price": 5},
		},
	}
	rec = do(t, router, http.MethodPost, "/api/estimates", body, admin)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id := decodeBody[CreatedResponse](t, rec).ID

	rec = do(t, router, http.MethodGet, "/api/estimates/"+itoa(id), nil, admin)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeBody[estimate.Estimate](t, rec)
	assert.Equal(t, "27.5", got.TotalAmount.String())
	assert.Len(t, got.Items, 2)

	rec = do(t, router, http.MethodPost, "/api/estimates", body, admin)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, router, http.MethodGet, "/api/estimates/next-number?year=2024", nil, admin)
	assert.Equal(t, "2024-002", decodeBody[NextNumberResponse](t, rec).Number)

	body["items"] = []map[string]any{{"quantity": 1, "description": "Only", "price": 100}}
	rec = do(t, router, http.MethodPut, "/api/estimates/"+itoa(id), body, admin)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, decodeBody[estimate.Estimate](t, rec).Items, 1)

	rec = do(t, router, http.MethodDelete, "/api/estimates/"+itoa(id), nil, admin)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, router, http.MethodGet, "/api/estimates/"+itoa(id), nil, admin)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, router, http.MethodDelete, "/api/estimates/"+itoa(id), nil, admin)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEstimate_BadInput(t *testing.T) {
	_, router := setupTestRouter(t)
	admin := loginAdmin(t, router)

	rec := do(t, router, http.MethodPost, "/api/estimates", map[string]any{"date": "2024-07-01"}, admin)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeBody[ErrorResponse](t, rec)
	assert.Equal(t, []any{"number: required"}, resp.Details)

	rec = do(t, router, http.MethodGet, "/api/estimates/abc", nil, admin)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Unparseable year falls back to the current one; an out of range
	// year is still rejected
	rec = do(t, router, http.MethodGet, "/api/estimates/next-number?year=soon", nil, admin)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2024-001", decodeBody[NextNumberResponse](t, rec).Number)

	rec = do(t, router, http.MethodGet, "/api/estimates/next-number?year=0", nil, admin)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// TIMESHEET
// =============================================================================

func TestTimesheet_Ownership(t *testing.T) {
	_, router := setupTestRouter(t)
	alice := registerApproved(t, router, "alice@example.com")
	bob := registerApproved(t, router, "bob@example.com")

	entry := map[string]any{
		"date":          "2024-07-02",
		"customer_name": "Acme",
		"time_in":       "08:00",
		"time_out":      "16:30",
	}
	rec := do(t, router, http.MethodPost, "/api/timesheet", entry, alice)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id := decodeBody[CreatedResponse](t, rec).ID

	rec = do(t, router, http.MethodGet, "/api/timesheet?start=2024-07-01&end=2024-07-31", nil, alice)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeBody[[]timesheet.Entry](t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, "8.5", list[0].TotalHours.String())

	rec = do(t, router, http.MethodGet, "/api/timesheet?startDate=2024-07-01&endDate=2024-07-31", nil, alice)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]timesheet.Entry](t, rec), 1)

	rec = do(t, router, http.MethodGet, "/api/timesheet?start=2024-07-01&end=2024-07-31", nil, bob)
	assert.Empty(t, decodeBody[[]timesheet.Entry](t, rec))

	rec = do(t, router, http.MethodGet, "/api/timesheet/"+itoa(id), nil, bob)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	entry["notes"] = "hijack"
	rec = do(t, router, http.MethodPut, "/api/timesheet/"+itoa(id), entry, bob)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, router, http.MethodDelete, "/api/timesheet/"+itoa(id), nil, bob)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, router, http.MethodGet, "/api/timesheet/"+itoa(id), nil, alice)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody[timesheet.Entry](t, rec).Notes)

	rec = do(t, router, http.MethodGet, "/api/timesheet?start=2024-07-01", nil, alice)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// QUOTES
// =============================================================================

func TestQuotes(t *testing.T) {
	_, router := setupTestRouter(t)
	admin := loginAdmin(t, router)

	rec := do(t, router, http.MethodPost, "/api/quotes", map[string]any{
		"customer_name": "Globex",
		"items":         []map[string]any{{"description": "Service", "quantity": 2, "price": 40}},
	}, admin)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id := decodeBody[CreatedResponse](t, rec).ID

	rec = do(t, router, http.MethodGet, "/api/quotes/"+itoa(id), nil, admin)
	require.Equal(t, http.StatusOK, rec.Code)
	q := decodeBody[quote.Quote](t, rec)
	assert.Equal(t, "80", q.TotalAmount.String())
	assert.Equal(t, quote.StatusPending, q.Status)
	require.NotNil(t, q.UserID)

	rec = do(t, router, http.MethodGet, "/api/quotes", nil, admin)
	assert.Len(t, decodeBody[[]quote.Quote](t, rec), 1)

	rec = do(t, router, http.MethodDelete, "/api/quotes/"+itoa(id), nil, admin)
	assert.Equal(t, http.StatusOK, rec.Code)
}

// =============================================================================
// ADMIN
// =============================================================================

func TestAdminRoutes_RequireAdmin(t *testing.T) {
	_, router := setupTestRouter(t)
	pat := registerApproved(t, router, "pat@example.com")
	admin := loginAdmin(t, router)

	rec := do(t, router, http.MethodGet, "/api/admin/users", nil, pat)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, router, http.MethodGet, "/api/admin/users", nil, admin)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]UserDTO](t, rec), 2)
}

func TestAdmin_AccountInvariants(t *testing.T) {
	_, router := setupTestRouter(t)
	admin := loginAdmin(t, router)

	rec := do(t, router, http.MethodGet, "/api/auth/user", nil, admin)
	adminID := decodeBody[UserDTO](t, rec).ID

	rec = do(t, router, http.MethodDelete, "/api/admin/users/"+itoa(adminID), nil, admin)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "last_admin", decodeBody[ErrorResponse](t, rec).Code)

	rec = do(t, router, http.MethodPut, "/api/admin/users/"+itoa(adminID)+"/role", RoleRequest{Role: users.RoleUser}, admin)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "admin_protected", decodeBody[ErrorResponse](t, rec).Code)

	rec = do(t, router, http.MethodPost, "/api/auth/register",
		RegisterRequest{Email: "pending@example.com", Password: "secret1", Name: "P"}, "")
	pendingID := decodeBody[CreatedResponse](t, rec).ID

	rec = do(t, router, http.MethodGet, "/api/admin/pending-users", nil, admin)
	require.Len(t, decodeBody[[]UserDTO](t, rec), 1)

	rec = do(t, router, http.MethodPost, "/api/admin/approve-user/"+itoa(pendingID), nil, admin)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, router, http.MethodPost, "/api/admin/deny-user/"+itoa(pendingID), nil, admin)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(t, router, http.MethodPut, "/api/admin/users/"+itoa(pendingID), users.Profile{
		Email: "renamed@example.com", Name: "Renamed", Role: users.RoleUser, IsApproved: true,
	}, admin)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "renamed@example.com", decodeBody[UserDTO](t, rec).Email)

	rec = do(t, router, http.MethodDelete, "/api/admin/users/"+itoa(pendingID), nil, admin)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, router, http.MethodPost, "/api/admin/approve-user/"+itoa(pendingID), nil, admin)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
