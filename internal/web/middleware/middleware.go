package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/harvestbin/silo/internal/auth"
	"github.com/harvestbin/silo/internal/store"
)

type contextKey string

// StoreContextKey is the context key the store proxy is injected under.
const StoreContextKey contextKey = "store"

// WithStore is the injection plugin: it places the store proxy into the
// request context so every handler downstream can reach it through
// StoreFrom without threading the handle explicitly.
func WithStore(s *store.Store) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), StoreContextKey, s)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// StoreFrom retrieves the injected store proxy from the context.
func StoreFrom(ctx context.Context) *store.Store {
	s, ok := ctx.Value(StoreContextKey).(*store.Store)
	if !ok {
		return nil
	}
	return s
}

// Logger is a middleware that logs requests
func Logger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			log.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Str("remote", r.RemoteAddr).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("Request")
		}()

		next.ServeHTTP(ww, r)
	})
}

// AllowSubnet rejects connections from outside the allowed subnet. A nil
// subnet allows everything.
func AllowSubnet(allowed *net.IPNet) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if allowed == nil {
				next.ServeHTTP(w, r)
				return
			}

			host, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				host = r.RemoteAddr
			}
			ip := net.ParseIP(host)
			if ip == nil || !allowed.Contains(ip) {
				log.Warn().Str("remote", r.RemoteAddr).Msg("Connection from outside allowed subnet rejected")
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// TokenAuth validates the bearer token on API requests. When requireToken is
// false the middleware passes everything through, which is the default for
// local single-user deployments.
func TokenAuth(tokens *auth.TokenService, requireToken bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !requireToken {
				next.ServeHTTP(w, r)
				return
			}

			token := bearerToken(r)
			if token == "" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			valid, err := tokens.Validate(token)
			if err != nil {
				log.Error().Err(err).Msg("Failed to validate API token")
				http.Error(w, "Internal server error", http.StatusInternalServerError)
				return
			}
			if !valid {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// bearerToken extracts the token from the Authorization header or the
// "token" query parameter (for EventSource clients that cannot set headers).
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return r.URL.Query().Get("token")
}
