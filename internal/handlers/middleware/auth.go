package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/nkiryanov/identity/internal/handlers/render"
	"github.com/nkiryanov/identity/internal/handlers/userctx"
	"github.com/nkiryanov/identity/internal/models"
)

// Paths served without bearer token by default
var DefaultPublicPaths = []string{
	"POST /account",
	"/account/validate",
	"/health",
	"/metrics",
	"/docs",
}

type authService interface {
	Authenticate(ctx context.Context, r *http.Request) (models.Principal, error)
}

// Reject requests without valid access token, except public ones
// Public entry is either exact path or "METHOD /path"
func AuthMiddleware(as authService, public []string) func(http.Handler) http.Handler {
	isPublic := publicMatcher(public)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isPublic(r) {
				next.ServeHTTP(w, r)
				return
			}

			principal, err := as.Authenticate(r.Context(), r)
			if err != nil {
				render.ServiceError(w, err)
				return
			}
			ctx := userctx.New(r.Context(), principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func publicMatcher(entries []string) func(r *http.Request) bool {
	paths := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		paths[e] = struct{}{}
	}

	return func(r *http.Request) bool {
		path := strings.TrimSuffix(r.URL.Path, "/")
		if path == "" {
			path = "/"
		}
		if _, ok := paths[path]; ok {
			return true
		}
		_, ok := paths[r.Method+" "+path]
		return ok
	}
}
