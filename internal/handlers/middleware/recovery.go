package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/nkiryanov/identity/internal/handlers/render"
)

type errorLogger interface {
	Error(msg string, args ...any)
}

// Turn handler panic into 500 response
func RecoveryMiddleware(l errorLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					if err == http.ErrAbortHandler {
						panic(err)
					}

					l.Error("panic recovered",
						"error", err,
						"method", r.Method,
						"uri", r.RequestURI,
						"stack", string(debug.Stack()),
					)
					render.Error(w, "Internal server error", http.StatusInternalServerError)
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
