package auth

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/farmer-power/collection-engine/pkg/audit"
	"github.com/farmer-power/collection-engine/pkg/models"
)

// Middleware provides HTTP authentication middleware for producers.
// It is thin and delegates authentication logic to AuthService.
type Middleware struct {
	authService AuthService
	auditor     *audit.SecurityAuditor
	logger      *zap.Logger
}

// NewMiddleware creates a new auth middleware. A nil authService disables
// authentication: requests pass through as anonymous push submissions.
func NewMiddleware(authService AuthService, logger *zap.Logger) *Middleware {
	return &Middleware{
		authService: authService,
		auditor:     audit.NewSecurityAuditor(logger),
		logger:      logger,
	}
}

// Enabled reports whether requests are authenticated.
func (m *Middleware) Enabled() bool {
	return m.authService != nil
}

// RequireProducer validates the producer token and, when pathParamName names
// a path value, that the token grants that source type. Claims and push
// provenance are set in the context for downstream handlers.
func (m *Middleware) RequireProducer(pathParamName string) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if m.authService == nil {
				ctx := models.WithProvenance(r.Context(), models.Provenance{Channel: models.ChannelPush})
				next(w, r.WithContext(ctx))
				return
			}

			claims, err := m.authService.ValidateRequest(r)
			if err != nil {
				m.auditor.LogAuthFailure(err.Error(), r.RemoteAddr, r.URL.Path)
				m.unauthorized(w, "Authentication required")
				return
			}

			if pathParamName != "" {
				sourceType := r.PathValue(pathParamName)
				if err := m.authService.AuthorizeSource(claims, sourceType); err != nil {
					m.auditor.LogSourceDenied(claims.Subject, sourceType, r.RemoteAddr)
					m.forbidden(w, "Producer is not allowed to submit this source type")
					return
				}
			}

			ctx := context.WithValue(r.Context(), ClaimsKey, claims)
			ctx = models.WithProvenance(ctx, models.Provenance{
				Channel:  models.ChannelPush,
				Producer: claims.Subject,
			})
			next(w, r.WithContext(ctx))
		}
	}
}

// unauthorized returns a 401 response with JSON error body.
func (m *Middleware) unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="collection-engine"`)
	m.writeError(w, http.StatusUnauthorized, "unauthorized", message)
}

// forbidden returns a 403 response with JSON error body.
func (m *Middleware) forbidden(w http.ResponseWriter, message string) {
	m.writeError(w, http.StatusForbidden, "forbidden", message)
}

func (m *Middleware) writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{
		"error":   code,
		"message": message,
	}); err != nil {
		m.logger.Error("Failed to write error response", zap.Error(err))
	}
}
