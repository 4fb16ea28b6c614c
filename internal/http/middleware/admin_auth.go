package middleware

import (
	"context"
	"net/http"

	"github.com/golang-jwt/jwt/v5"
)

const adminClaimsKey contextKey = "adminClaims"

// AdminJWT guards operator endpoints such as manual sweeps.
func AdminJWT(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var claims jwt.RegisteredClaims
			if !verifyBearer(w, r, secret, "admin", &claims) {
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), adminClaimsKey, claims)))
		})
	}
}

// AdminClaimsFromContext returns the operator's claims if AdminJWT ran.
func AdminClaimsFromContext(ctx context.Context) (jwt.RegisteredClaims, bool) {
	claims, ok := ctx.Value(adminClaimsKey).(jwt.RegisteredClaims)
	return claims, ok
}
