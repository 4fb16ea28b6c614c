package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signToken(t *testing.T, method jwt.SigningMethod, key any, claims jwt.Claims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return signed
}

func approverToken(t *testing.T, secret, email string, expiresIn time.Duration) string {
	return signToken(t, jwt.SigningMethodHS256, []byte(secret), ApproverClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "staff-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
		},
	})
}

func TestApproverJWT(t *testing.T) {
	tests := []struct {
		name      string
		secret    string
		header    string
		wantCode  int
		wantEmail string
	}{
		{name: "auth disabled", secret: "", header: "Bearer x", wantCode: http.StatusUnauthorized},
		{name: "missing header", secret: "s3cret", wantCode: http.StatusUnauthorized},
		{name: "not bearer", secret: "s3cret", header: "Basic abc", wantCode: http.StatusUnauthorized},
		{name: "wrong secret", secret: "s3cret",
			header: "Bearer " + approverToken(t, "other", "manager@practice.test", time.Minute), wantCode: http.StatusUnauthorized},
		{name: "expired", secret: "s3cret",
			header: "Bearer " + approverToken(t, "s3cret", "manager@practice.test", -time.Minute), wantCode: http.StatusUnauthorized},
		{name: "no email claim", secret: "s3cret",
			header: "Bearer " + approverToken(t, "s3cret", " ", time.Minute), wantCode: http.StatusForbidden},
		{name: "valid", secret: "s3cret",
			header: "Bearer " + approverToken(t, "s3cret", "Manager@Practice.test", time.Minute),
			wantCode: http.StatusOK, wantEmail: "manager@practice.test"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotEmail string
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotEmail, _ = ApproverEmailFromContext(r.Context())
				w.WriteHeader(http.StatusOK)
			})
			req := httptest.NewRequest(http.MethodPost, "/api/v1/approvals/a1/decisions", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()

			ApproverJWT(tt.secret)(next).ServeHTTP(rec, req)

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantEmail, gotEmail)
		})
	}
}

func TestApproverJWTRejectsNonHMAC(t *testing.T) {
	token := signToken(t, jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, ApproverClaims{Email: "manager@practice.test"})
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	ApproverJWT("s3cret")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	})).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestApproverEmailFromContextEmpty(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	_, ok := ApproverEmailFromContext(req.Context())
	assert.False(t, ok)
}

func TestAdminJWT(t *testing.T) {
	valid := signToken(t, jwt.SigningMethodHS256, []byte("ops"), jwt.RegisteredClaims{
		Subject:   "scheduler",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	})

	called := false
	handler := AdminJWT("ops")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		claims, ok := AdminClaimsFromContext(r.Context())
		assert.True(t, ok)
		assert.Equal(t, "scheduler", claims.Subject)
		w.WriteHeader(http.StatusAccepted)
	}))

	req := httptest.NewRequest(http.MethodPost, "/internal/sweeps/escalations", nil)
	req.Header.Set("Authorization", "Bearer "+valid)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.True(t, called)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/internal/sweeps/escalations", nil)
	rec = httptest.NewRecorder()
	AdminJWT("")(handler).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestBearerToken(t *testing.T) {
	for header, want := range map[string]string{
		"Bearer abc.def":   "abc.def",
		"Bearer   abc.def": "abc.def",
		"Bearer ":          "",
		"bearer abc":       "",
		"":                 "",
	} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", header)
		got, ok := bearerToken(req)
		assert.Equal(t, want, got, header)
		assert.Equal(t, want != "", ok, header)
	}
}
