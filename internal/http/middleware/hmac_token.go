package middleware

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

// verifyBearer parses the request's bearer token into claims, writing a 401 and returning false on any failure.
// Only HMAC-signed tokens are accepted.
func verifyBearer(w http.ResponseWriter, r *http.Request, secret, realm string, claims jwt.Claims) bool {
	if secret == "" {
		http.Error(w, realm+" auth disabled", http.StatusUnauthorized)
		return false
	}
	tokenString, ok := bearerToken(r)
	if !ok {
		http.Error(w, "missing authorization header", http.StatusUnauthorized)
		return false
	}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return false
	}
	return true
}

func bearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	return token, token != ""
}
