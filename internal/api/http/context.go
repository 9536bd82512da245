package http

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"shelfshare-backend/internal/logger"
	"shelfshare-backend/internal/security"
)

const (
	// HeaderUsername carries the caller's identity, set by the authenticating proxy.
	HeaderUsername      = "X-Username"
	HeaderAuthorization = "Authorization"
	HeaderRequestID     = "X-Request-ID"
)

type contextKey string

const (
	usernameKey  contextKey = "username"
	requestIDKey contextKey = "request-id"
)

// WithUsername returns a context carrying the caller's username.
func WithUsername(ctx context.Context, username string) context.Context {
	return context.WithValue(ctx, usernameKey, username)
}

// UsernameFromContext extracts the caller's username placed by the identity middleware.
func UsernameFromContext(ctx context.Context) (string, bool) {
	name, ok := ctx.Value(usernameKey).(string)
	return name, ok && name != ""
}

// RequestIDFromContext returns the id assigned to the current request.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// identityMiddleware resolves the caller. With a token manager only bearer tokens
// are accepted and a bad token is rejected outright; without one the proxy header is trusted.
// Requests with no identity pass through and fail in handlers that need one.
func identityMiddleware(tokens security.TokenManager) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if tokens == nil {
				if name := strings.TrimSpace(r.Header.Get(HeaderUsername)); name != "" {
					r = r.WithContext(WithUsername(r.Context(), name))
				}
				next.ServeHTTP(w, r)
				return
			}

			token, err := security.ExtractBearer(r.Header.Get(HeaderAuthorization))
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}
			claims, err := tokens.ValidateToken(token)
			if err != nil {
				logger.WarnContext(r.Context(), "Rejected bearer token", "error", err, "path", r.URL.Path)
				writeJSON(w, http.StatusUnauthorized, errorResponse{Code: codeUnauthenticated, Message: err.Error()})
				return
			}
			r = r.WithContext(WithUsername(r.Context(), claims.Username()))
			next.ServeHTTP(w, r)
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// requestLogMiddleware assigns a request id and logs each request once it completes.
func requestLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(HeaderRequestID, id)
		r = r.WithContext(context.WithValue(r.Context(), requestIDKey, id))

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		logger.InfoContext(r.Context(), "HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
			"requestID", id)
	})
}
