package mw

import (
	"context"
	"errors"
	"net/http"

	"poolwatch/internal/security"
	"poolwatch/pkg/httputil"

	"github.com/golang-jwt/jwt/v5"
)

// Key for the producer subject in ctx
type claimsCtxKey struct{}

type BearerVerifier interface {
	VerifyBearer(authHeader string) (*jwt.RegisteredClaims, error)
}

var _ BearerVerifier = (*security.RS256Verifier)(nil)

type JWTMiddleware struct {
	verifier BearerVerifier
}

func NewJWTMiddleware(v BearerVerifier) (*JWTMiddleware, error) {
	if v == nil {
		return nil, errors.New("JWT verifier cannot be nil")
	}
	return &JWTMiddleware{verifier: v}, nil
}

func (m *JWTMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := m.verifier.VerifyBearer(r.Header.Get("Authorization"))
		if err != nil {
			_ = httputil.Error(w, r, http.StatusUnauthorized, httputil.CodeUnauthorize, err.Error(), nil)
			return
		}

		ctx := context.WithValue(r.Context(), claimsCtxKey{}, claims.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SubjectFromContext returns the authenticated producer, "" when the request was not authenticated
func SubjectFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(claimsCtxKey{}).(string); ok {
		return s
	}
	return ""
}
