package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"agrimart/globals"
	"agrimart/models"
	"agrimart/utils"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

// JWT claims
type Claims struct {
	Username string   `json:"username"`
	UserID   string   `json:"userId"`
	Role     []string `json:"role"`
	jwt.RegisteredClaims
}

// Middleware wraps a route handle.
type Middleware func(httprouter.Handle) httprouter.Handle

// Chain applies mws so that the first one runs outermost.
func Chain(mws ...Middleware) Middleware {
	return func(final httprouter.Handle) httprouter.Handle {
		for i := len(mws) - 1; i >= 0; i-- {
			final = mws[i](final)
		}
		return final
	}
}

// Auth validates HS256 bearer tokens issued by the identity service.
type Auth struct {
	secret []byte
}

func NewAuth(secret []byte) *Auth {
	return &Auth{secret: secret}
}

func (a *Auth) Authenticate(next httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		tokenString := r.Header.Get("Authorization")
		if tokenString == "" && websocket.IsWebSocketUpgrade(r) {
			// Browsers cannot set headers on a websocket handshake.
			if qt := r.URL.Query().Get("access_token"); qt != "" {
				tokenString = "Bearer " + qt
			}
		}
		if tokenString == "" {
			utils.RespondWithError(w, http.StatusUnauthorized, "Missing token")
			return
		}

		claims, err := a.ValidateJWT(tokenString)
		if err != nil {
			utils.RespondWithError(w, http.StatusUnauthorized, "Invalid token")
			return
		}

		principal := models.Principal{UserID: claims.UserID, Roles: claims.Role}
		ctx := context.WithValue(r.Context(), globals.PrincipalKey, principal)
		ctx = context.WithValue(ctx, globals.UserIDKey, claims.UserID)
		next(w, r.WithContext(ctx), ps)
	}
}

func (a *Auth) ValidateJWT(tokenString string) (*Claims, error) {
	if len(tokenString) < 8 || !strings.HasPrefix(tokenString, "Bearer ") {
		return nil, fmt.Errorf("invalid token format")
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString[7:], claims, func(token *jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("unauthorized: %w", err)
	}
	if !token.Valid || claims.UserID == "" {
		return nil, fmt.Errorf("unauthorized: missing subject")
	}
	return claims, nil
}

// RequireRoles lets the request through when the principal holds any of roles.
// Admins always pass.
func RequireRoles(roles ...models.Role) Middleware {
	return func(next httprouter.Handle) httprouter.Handle {
		return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
			p := utils.PrincipalFromRequest(r)
			if p.Anonymous() {
				utils.RespondWithError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}
			if p.IsAdmin() {
				next(w, r, ps)
				return
			}
			for _, role := range roles {
				if p.Has(role) {
					next(w, r, ps)
					return
				}
			}
			utils.RespondWithError(w, http.StatusForbidden, "Forbidden")
		}
	}
}
