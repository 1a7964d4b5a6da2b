package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mboyle/zonehub/internal/api"
	"github.com/mboyle/zonehub/internal/apperrors"
)

const issuer = "zonehub"

var (
	ErrTokenExpired = errors.New("token expired")
	ErrTokenInvalid = errors.New("token invalid")
)

// publicPrefixes stay reachable without a token even when the hook is on;
// health probes and monitors do not carry credentials.
var publicPrefixes = []string{
	"/health",
}

// Middleware validates bearer tokens on every non-public route. With an
// empty secret the hook is disabled and requests pass through untouched.
func Middleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if secret == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isPublic(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				api.WriteError(w, r, apperrors.NewUnauthorized("missing bearer token"))
				return
			}
			token := strings.TrimPrefix(header, "Bearer ")

			if err := VerifyToken(secret, token); err != nil {
				if errors.Is(err, ErrTokenExpired) {
					api.WriteError(w, r, apperrors.NewUnauthorized("token expired"))
					return
				}
				api.WriteError(w, r, apperrors.NewUnauthorized("invalid token"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// VerifyToken parses and validates an HS256 token.
func VerifyToken(secret, token string) error {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithIssuer(issuer),
	)
	parsed, err := parser.Parse(token, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrTokenExpired
		}
		return ErrTokenInvalid
	}
	if !parsed.Valid {
		return ErrTokenInvalid
	}
	return nil
}

// IssueToken mints a token for a client, mainly for provisioning and tests.
func IssueToken(secret, subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func isPublic(path string) bool {
	for _, prefix := range publicPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
