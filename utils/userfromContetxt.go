package utils

import (
	"net/http"

	"agrimart/globals"
	"agrimart/models"
)

// PrincipalFromRequest returns the authenticated caller, or a zero Principal.
func PrincipalFromRequest(r *http.Request) models.Principal {
	p, ok := r.Context().Value(globals.PrincipalKey).(models.Principal)
	if !ok {
		return models.Principal{}
	}
	return p
}

func GetUserIDFromRequest(r *http.Request) string {
	return PrincipalFromRequest(r).UserID
}
