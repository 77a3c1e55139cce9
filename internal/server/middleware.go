package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/nbd-wtf/go-nostr"
)

// contextKey is a private type for request context values
type contextKey string

const pubkeyContextKey contextKey = "auth_pubkey"

// PubkeyFromContext returns the authenticated pubkey stored by the auth
// middleware, or an empty string if the request was not authenticated.
func PubkeyFromContext(ctx context.Context) string {
	pubkey, _ := ctx.Value(pubkeyContextKey).(string)
	return pubkey
}

// loggingMiddleware logs HTTP requests
func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapper := &responseWriterWrapper{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapper, r)

		s.logger.Info("HTTP request", map[string]interface{}{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      wrapper.statusCode,
			"duration":    time.Since(start).String(),
			"remote_addr": r.RemoteAddr,
		})
	})
}

// corsMiddleware adds CORS headers
func (s *HTTPServer) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// metricsMiddleware records request metrics
func (s *HTTPServer) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapper := &responseWriterWrapper{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapper, r)

		s.metricsManager.GetPrometheusMetrics().RecordHTTPRequest(
			r.Method,
			getRoutePath(r),
			strconv.Itoa(wrapper.statusCode),
			time.Since(start),
		)
	})
}

// nostrAuthMiddleware authenticates requests. The Authorization header
// carries either a signed event ("Nostr <base64>") bound to this exact
// URL and method, or a session token ("Bearer <jwt>") issued by the
// login exchange. Rejections are deliberately uniform so callers cannot
// probe which check failed.
func (s *HTTPServer) nostrAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")

		if token, ok := strings.CutPrefix(header, "Bearer "); ok {
			pubkey, err := s.sessions.Verify(token)
			if err != nil {
				s.rejectAuth(w, err)
				return
			}

			if s.metricsManager != nil {
				s.metricsManager.GetPrometheusMetrics().RecordAuthAttempt("session", "success")
			}

			ctx := context.WithValue(r.Context(), pubkeyContextKey, pubkey)
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		event, err := eventFromAuthorizationHeader(header)
		if err != nil {
			s.rejectAuth(w, err)
			return
		}

		pubkey, err := s.verifier.VerifyRequestAuth(event, s.requestURL(r), r.Method)
		if err != nil {
			s.rejectAuth(w, err)
			return
		}

		if s.metricsManager != nil {
			s.metricsManager.GetPrometheusMetrics().RecordAuthAttempt("request", "success")
		}

		ctx := context.WithValue(r.Context(), pubkeyContextKey, pubkey)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireAdminMiddleware restricts routes to users with the admin flag.
// It runs after the auth middleware, so the pubkey is already verified.
func (s *HTTPServer) requireAdminMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pubkey := PubkeyFromContext(r.Context())

		if !s.isAdmin(r.Context(), pubkey) {
			s.writeError(w, http.StatusForbidden, "admin access required", nil)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// isAdmin reports whether the pubkey's user record carries the admin flag
func (s *HTTPServer) isAdmin(ctx context.Context, pubkey string) bool {
	user, err := s.storage.GetUser(ctx, pubkey)
	return err == nil && user.Admin
}

func (s *HTTPServer) rejectAuth(w http.ResponseWriter, err error) {
	if s.metricsManager != nil {
		s.metricsManager.GetPrometheusMetrics().RecordAuthAttempt("request", "failure")
	}

	s.logger.Debug("Request authentication rejected", map[string]interface{}{"error": err})
	s.writeJSON(w, http.StatusUnauthorized, map[string]interface{}{
		"error": "authentication failed",
	})
}

// requestURL reconstructs the absolute URL the client signed over. Behind
// a proxy the public base URL must be configured, otherwise the host and
// forwarded scheme of the incoming request are used.
func (s *HTTPServer) requestURL(r *http.Request) string {
	if s.config.PublicURL != "" {
		return strings.TrimRight(s.config.PublicURL, "/") + r.URL.RequestURI()
	}

	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}

	return fmt.Sprintf("%s://%s%s", scheme, r.Host, r.URL.RequestURI())
}

// eventFromAuthorizationHeader decodes a "Nostr <base64 JSON>" header value
func eventFromAuthorizationHeader(header string) (*nostr.Event, error) {
	const scheme = "Nostr "

	if len(header) <= len(scheme) || !strings.EqualFold(header[:len(scheme)], scheme) {
		return nil, fmt.Errorf("missing or malformed authorization header")
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(header[len(scheme):]))
	if err != nil {
		return nil, fmt.Errorf("failed to decode authorization header: %w", err)
	}

	var event nostr.Event
	if err := json.Unmarshal(raw, &event); err != nil {
		return nil, fmt.Errorf("failed to parse authorization event: %w", err)
	}

	return &event, nil
}

// getRoutePath returns the mux route template for metrics labels,
// falling back to the raw path for unmatched requests
func getRoutePath(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if template, err := route.GetPathTemplate(); err == nil {
			return template
		}
	}
	return r.URL.Path
}

// responseWriterWrapper wraps http.ResponseWriter to capture status code
type responseWriterWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriterWrapper) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}
