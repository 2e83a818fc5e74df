package ratelim

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/assert"
)

func TestLimitPerIP(t *testing.T) {
	rl := NewRateLimiter(1, 2)
	h := rl.Limit(func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.WriteHeader(http.StatusNoContent)
	})

	call := func(addr string) int {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/gateway", nil)
		req.RemoteAddr = addr
		w := httptest.NewRecorder()
		h(w, req, nil)
		return w.Code
	}

	assert.Equal(t, http.StatusNoContent, call("10.0.0.1:1111"))
	assert.Equal(t, http.StatusNoContent, call("10.0.0.1:2222"))
	assert.Equal(t, http.StatusTooManyRequests, call("10.0.0.1:3333"))
	assert.Equal(t, http.StatusNoContent, call("10.0.0.2:1111"))
}

func TestSweepDropsIdleVisitors(t *testing.T) {
	rl := NewRateLimiter(60, 1)
	now := time.Now()
	rl.getLimiter("a", now.Add(-time.Hour))
	rl.getLimiter("b", now)
	assert.Equal(t, 1, rl.Sweep(now))
	assert.Len(t, rl.visitors, 1)
}
