package utils

import (
	"encoding/json"
	"errors"
	"net/http"

	"agrimart/apperr"

	"go.uber.org/zap"
)

type M map[string]interface{}

// Sends a JSON response
func RespondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

func RespondWithError(w http.ResponseWriter, code int, msg string) {
	RespondWithJSON(w, code, M{"success": false, "error": msg})
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindExternal:
		return http.StatusBadGateway
	case apperr.KindSignatureInvalid:
		return http.StatusBadRequest
	case apperr.KindValidation:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

// RespondWithAppError writes a client-facing error. Anything that is not an
// *apperr.Error is logged and hidden behind a generic 500.
func RespondWithAppError(w http.ResponseWriter, logger *zap.Logger, err error) {
	var ae *apperr.Error
	if !errors.As(err, &ae) {
		logger.Error("unhandled error", zap.Error(err))
		RespondWithError(w, http.StatusInternalServerError, "internal error")
		return
	}
	status := StatusFor(ae.Kind)
	if ae.Kind == apperr.KindExternal {
		logger.Warn("external service failure", zap.String("reason", ae.Reason), zap.Error(ae.Err))
	}
	RespondWithJSON(w, status, M{"success": false, "error": string(ae.Kind), "reason": ae.Reason})
}

// DecodeJSON reads a bounded JSON body into dst.
func DecodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err := dec.Decode(dst); err != nil {
		return apperr.Wrap(apperr.KindValidation, "invalid_json", err)
	}
	return nil
}
