package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

const approverEmailKey contextKey = "approverEmail"

// ApproverClaims are the claims carried by approver tokens issued to practice staff.
type ApproverClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// ApproverJWT requires an HMAC-signed bearer token with an email claim and exposes that email to
// handlers through ApproverEmailFromContext.
func ApproverJWT(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var claims ApproverClaims
			if !verifyBearer(w, r, secret, "approver", &claims) {
				return
			}
			email := strings.ToLower(strings.TrimSpace(claims.Email))
			if email == "" {
				http.Error(w, "token has no email claim", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), approverEmailKey, email)))
		})
	}
}

// ApproverEmailFromContext returns the authenticated approver, if any.
func ApproverEmailFromContext(ctx context.Context) (string, bool) {
	email, ok := ctx.Value(approverEmailKey).(string)
	return email, ok && email != ""
}
