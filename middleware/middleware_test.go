package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"agrimart/models"
	"agrimart/store"
	"agrimart/utils"

	"github.com/golang-jwt/jwt/v5"
	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var secret = []byte("test-secret")

func token(t *testing.T, userID string, roles ...string) string {
	t.Helper()
	claims := Claims{
		UserID: userID,
		Role:   roles,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	require.NoError(t, err)
	return "Bearer " + s
}

func whoami(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	p := utils.PrincipalFromRequest(r)
	utils.RespondWithJSON(w, http.StatusOK, p)
}

func TestAuthenticateSetsPrincipal(t *testing.T) {
	auth := NewAuth(secret)
	router := httprouter.New()
	router.GET("/me", Chain(auth.Authenticate, RequireRoles(models.RoleSeller))(whoami))

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", token(t, "farmer-1", "seller"))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "farmer-1")
}

func TestAuthenticateRejects(t *testing.T) {
	auth := NewAuth(secret)
	router := httprouter.New()
	router.GET("/me", Chain(auth.Authenticate, RequireRoles(models.RoleSeller))(whoami))

	cases := map[string]struct {
		header string
		status int
	}{
		"missing":    {"", http.StatusUnauthorized},
		"bad format": {"Token abc", http.StatusUnauthorized},
		"bad sig":    {token(t, "u1", "seller")[:40] + "x", http.StatusUnauthorized},
		"wrong role": {token(t, "u1", "buyer"), http.StatusForbidden},
		"admin":      {token(t, "root", "admin"), http.StatusOK},
	}
	for name, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, tc.status, w.Code, name)
	}
}

func TestIdempotentReplaysResponse(t *testing.T) {
	auth := NewAuth(secret)
	records := store.NewMemory()
	var calls int32
	handler := func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		n := atomic.AddInt32(&calls, 1)
		utils.RespondWithJSON(w, http.StatusCreated, utils.M{"call": n})
	}
	router := httprouter.New()
	router.POST("/checkout", Chain(auth.Authenticate, Idempotent(records))(handler))

	send := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/checkout", strings.NewReader(body))
		req.Header.Set("Authorization", token(t, "buyer-1", "buyer"))
		req.Header.Set("Idempotency-Key", "k-1")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	first := send(`{"a":1}`)
	second := send(`{"a":1}`)
	assert.Equal(t, http.StatusCreated, first.Code)
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.Equal(t, "true", second.Header().Get("Idempotent-Replayed"))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	conflict := send(`{"a":2}`)
	assert.Equal(t, http.StatusConflict, conflict.Code)
}

func TestIdempotentReleasesKeyOnServerError(t *testing.T) {
	auth := NewAuth(secret)
	records := store.NewMemory()
	var calls int32
	handler := func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		if atomic.AddInt32(&calls, 1) == 1 {
			utils.RespondWithError(w, http.StatusInternalServerError, "database unavailable")
			return
		}
		utils.RespondWithJSON(w, http.StatusCreated, utils.M{"ok": true})
	}
	router := httprouter.New()
	router.POST("/checkout", Chain(auth.Authenticate, Idempotent(records))(handler))

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/checkout", strings.NewReader(`{"a":1}`))
		req.Header.Set("Authorization", token(t, "buyer-1", "buyer"))
		req.Header.Set("Idempotency-Key", "k-1")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusInternalServerError, send().Code)
	_, err := records.GetIdempotency(context.Background(), "buyer-1:k-1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	retry := send()
	assert.Equal(t, http.StatusCreated, retry.Code)
	assert.Empty(t, retry.Header().Get("Idempotent-Replayed"))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))

	replay := send()
	assert.Equal(t, http.StatusCreated, replay.Code)
	assert.Equal(t, "true", replay.Header().Get("Idempotent-Replayed"))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}
