package api

import (
	"context"
	"log"
	"net/http"

	"github.com/google/uuid"

	"github.com/mboyle/zonehub/internal/apperrors"
)

type requestIDKey struct{}

const requestIDHeader = "X-Request-Id"

// RequestIDMiddleware stamps every request with an id and echoes it on the
// response. A caller-supplied id is kept so log lines correlate across
// systems.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestID returns the id stamped on the request, or "".
func GetRequestID(r *http.Request) string {
	if r == nil {
		return ""
	}
	id, _ := r.Context().Value(requestIDKey{}).(string)
	return id
}

// RecovererMiddleware turns a handler panic into a 500 instead of a
// dropped connection.
func RecovererMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Printf("API: panic serving %s %s: %v", r.Method, r.URL.Path, rec)
				WriteError(w, r, apperrors.NewInternal("internal server error"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}
