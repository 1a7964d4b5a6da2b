package api

import "net/http"

// Handler is an endpoint that reports failure by returning an error rather
// than writing its own status line. Errors funnel through WriteError so
// every endpoint fails in the same JSON shape.
type Handler func(http.ResponseWriter, *http.Request) error

func (fn Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := fn(w, r); err != nil {
		WriteError(w, r, err)
	}
}
