package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"agrimart/models"
	"agrimart/store"
	"agrimart/utils"

	"github.com/julienschmidt/httprouter"
)

const idempotencyTTL = 24 * time.Hour

func computeRequestHash(r *http.Request, bodyBytes []byte, userID string) string {
	h := sha256.New()
	h.Write([]byte(r.Method + ":" + r.URL.Path + ":" + userID + ":"))
	h.Write(bodyBytes)
	return hex.EncodeToString(h.Sum(nil))
}

// CaptureResponseWriter wraps http.ResponseWriter to capture status and body.
type CaptureResponseWriter struct {
	w           http.ResponseWriter
	statusCode  int
	buf         bytes.Buffer
	wroteHeader bool
}

func NewCaptureResponseWriter(w http.ResponseWriter) *CaptureResponseWriter {
	return &CaptureResponseWriter{w: w, statusCode: http.StatusOK}
}

func (c *CaptureResponseWriter) Header() http.Header {
	return c.w.Header()
}

func (c *CaptureResponseWriter) WriteHeader(statusCode int) {
	if !c.wroteHeader {
		c.statusCode = statusCode
		c.w.WriteHeader(statusCode)
		c.wroteHeader = true
	}
}

func (c *CaptureResponseWriter) Write(b []byte) (int, error) {
	c.buf.Write(b)
	return c.w.Write(b)
}

func (c *CaptureResponseWriter) Status() int {
	return c.statusCode
}

func (c *CaptureResponseWriter) BodyBytes() []byte {
	return c.buf.Bytes()
}

// Idempotent ensures safe replay for mutating endpoints when the client sends Idempotency-Key.
//   - No header: pass-through.
//   - First use of a key: run the handler and store its response. A 5xx
//     response releases the key so the client can retry.
//   - Replay with the same request: return the stored response.
//   - Replay with a different request body or path: 409.
//   - Replay while the first request is still in flight: 409.
func Idempotent(records store.IdempotencyStore) Middleware {
	return func(next httprouter.Handle) httprouter.Handle {
		return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
			key := r.Header.Get("Idempotency-Key")
			if key == "" {
				next(w, r, ps)
				return
			}

			userID := utils.GetUserIDFromRequest(r)

			// Limit body size to 1 MB to prevent memory issues
			bodyBytes, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
			if err != nil {
				utils.RespondWithError(w, http.StatusBadRequest, "failed to read request body")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(bodyBytes))

			scoped := userID + ":" + key
			reqHash := computeRequestHash(r, bodyBytes, userID)
			now := time.Now()
			rec := models.IdempotencyRecord{
				Key:         scoped,
				Method:      r.Method,
				Path:        r.URL.Path,
				UserID:      userID,
				RequestHash: reqHash,
				CreatedAt:   now,
				ExpiresAt:   now.Add(idempotencyTTL),
			}

			ctx := r.Context()
			err = records.InsertIdempotency(ctx, rec)
			if err == nil {
				crw := NewCaptureResponseWriter(w)
				next(crw, r, ps)

				if crw.Status() >= http.StatusInternalServerError {
					_ = records.DeleteIdempotency(context.WithoutCancel(ctx), scoped)
					return
				}
				var parsed interface{}
				if err := json.Unmarshal(crw.BodyBytes(), &parsed); err != nil {
					parsed = string(crw.BodyBytes())
				}
				_ = records.SaveIdempotencyResponse(ctx, scoped, map[string]interface{}{
					"status": crw.Status(),
					"body":   parsed,
				})
				return
			}

			if !errors.Is(err, store.ErrDuplicate) {
				utils.RespondWithError(w, http.StatusInternalServerError, "idempotency lookup error")
				return
			}

			existing, err := records.GetIdempotency(ctx, scoped)
			if err != nil {
				utils.RespondWithError(w, http.StatusInternalServerError, "idempotency lookup error")
				return
			}
			if existing.RequestHash != reqHash {
				utils.RespondWithError(w, http.StatusConflict, "idempotency-key conflict")
				return
			}
			if existing.Response == nil {
				utils.RespondWithError(w, http.StatusConflict, "request with this idempotency-key is in progress")
				return
			}

			status := http.StatusOK
			switch v := existing.Response["status"].(type) {
			case int:
				status = v
			case int32:
				status = int(v)
			case int64:
				status = int(v)
			case float64:
				status = int(v)
			}
			w.Header().Set("Idempotent-Replayed", "true")
			utils.RespondWithJSON(w, status, existing.Response["body"])
		}
	}
}
