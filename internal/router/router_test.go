package router

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketescrow/internal/auth"
	"marketescrow/internal/handler"
	"marketescrow/internal/model"
	"marketescrow/internal/service"
)

type memTokens struct {
	mu        sync.Mutex
	refresh   map[string]auth.Principal
	blacklist map[string]bool
}

func newMemTokens() *memTokens {
	return &memTokens{refresh: map[string]auth.Principal{}, blacklist: map[string]bool{}}
}

func (m *memTokens) StoreRefreshToken(_ context.Context, id string, p auth.Principal, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refresh[id] = p
	return nil
}

func (m *memTokens) GetRefreshToken(_ context.Context, id string) (auth.Principal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.refresh[id]
	if !ok {
		return auth.Principal{}, assert.AnError
	}
	return p, nil
}

func (m *memTokens) DeleteRefreshToken(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.refresh, id)
	return nil
}

func (m *memTokens) BlacklistAccessToken(_ context.Context, id string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blacklist[id] = true
	return nil
}

func (m *memTokens) IsAccessTokenBlacklisted(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.blacklist[id], nil
}

type stubPayouts struct {
	service.PayoutService
	runs int
}

func (s *stubPayouts) ListBatches(context.Context, int) ([]model.PayoutBatch, error) {
	s.runs++
	return []model.PayoutBatch{}, nil
}

type testEnv struct {
	e       *echo.Echo
	jwt     *auth.JWTService
	tokens  *memTokens
	payouts *stubPayouts
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	jwtService := auth.NewJWTService("test-secret")
	tokens := newMemTokens()
	payouts := &stubPayouts{}
	e := echo.New()
	Register(e, jwtService.Secret(), tokens, Handlers{
		Auth:     handler.NewAuthHandler(service.NewAuthService(nil, jwtService, tokens)),
		Slices:   handler.NewSliceHandler(nil, nil, nil),
		Disputes: handler.NewDisputeHandler(nil),
		Aura:     handler.NewAuraHandler(nil, nil),
		Admin:    handler.NewAdminHandler(payouts, nil, nil),
		Webhooks: handler.NewWebhookHandler(nil),
	})
	return &testEnv{e: e, jwt: jwtService, tokens: tokens, payouts: payouts}
}

func (env *testEnv) token(t *testing.T, role model.Role) string {
	t.Helper()
	tok, err := env.jwt.GenerateAccessToken(auth.Principal{UserID: uuid.New(), Email: string(role) + "@example.com", Role: role})
	require.NoError(t, err)
	return tok
}

func (env *testEnv) get(path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	return rec
}

func TestRegister_Healthz(t *testing.T) {
	env := newTestEnv(t)
	rec := env.get("/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))
}

func TestRegister_SecuredRoutesNeedToken(t *testing.T) {
	env := newTestEnv(t)

	assert.Equal(t, http.StatusUnauthorized, env.get("/api/me", "").Code)
	assert.Equal(t, http.StatusUnauthorized, env.get("/api/me", "garbage").Code)

	rec := env.get("/api/me", env.token(t, model.RoleProvider))
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "provider", body["role"])
}

func TestRegister_AdminRoutesNeedAdminRole(t *testing.T) {
	env := newTestEnv(t)

	assert.Equal(t, http.StatusForbidden, env.get("/api/admin/payouts", env.token(t, model.RoleClient)).Code)
	assert.Equal(t, http.StatusForbidden, env.get("/api/admin/payouts", env.token(t, model.RoleProvider)).Code)
	assert.Zero(t, env.payouts.runs)

	assert.Equal(t, http.StatusOK, env.get("/api/admin/payouts", env.token(t, model.RoleAdmin)).Code)
	assert.Equal(t, 1, env.payouts.runs)
}

func TestRegister_BlacklistedTokenIsRejected(t *testing.T) {
	env := newTestEnv(t)
	tok := env.token(t, model.RoleAdmin)
	claims, err := env.jwt.ValidateToken(tok)
	require.NoError(t, err)

	require.Equal(t, http.StatusOK, env.get("/api/me", tok).Code)
	require.NoError(t, env.tokens.BlacklistAccessToken(context.Background(), claims.ID, time.Minute))
	assert.Equal(t, http.StatusUnauthorized, env.get("/api/me", tok).Code)
}
