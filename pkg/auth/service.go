package auth

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// Common authentication errors.
var (
	ErrMissingAuthorization = errors.New("missing authorization")
	ErrInvalidAuthFormat    = errors.New("invalid authorization header format")
	ErrSourceNotAllowed     = errors.New("producer may not submit this source type")
)

// AuthService defines the interface for producer authentication.
type AuthService interface {
	// ValidateRequest extracts the bearer token from the Authorization
	// header and validates it.
	ValidateRequest(r *http.Request) (*Claims, error)

	// AuthorizeSource checks that the producer may submit sourceType.
	AuthorizeSource(claims *Claims, sourceType string) error
}

type authService struct {
	validator TokenValidator
	logger    *zap.Logger
}

// NewAuthService creates a new AuthService with the given token validator.
func NewAuthService(validator TokenValidator, logger *zap.Logger) AuthService {
	return &authService{
		validator: validator,
		logger:    logger.Named("auth"),
	}
}

func (s *authService) ValidateRequest(r *http.Request) (*Claims, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		s.logger.Debug("No token in request",
			zap.String("path", r.URL.Path),
			zap.String("method", r.Method))
		return nil, ErrMissingAuthorization
	}

	scheme, token, ok := strings.Cut(authHeader, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		s.logger.Debug("Invalid Authorization header format", zap.String("path", r.URL.Path))
		return nil, ErrInvalidAuthFormat
	}

	claims, err := s.validator.ValidateToken(token)
	if err != nil {
		s.logger.Debug("Token validation failed",
			zap.Error(err),
			zap.String("path", r.URL.Path))
		return nil, err
	}
	return claims, nil
}

func (s *authService) AuthorizeSource(claims *Claims, sourceType string) error {
	if sourceType == "" || claims.AllowsSource(sourceType) {
		return nil
	}
	s.logger.Warn("Producer submitted a source type outside its grant",
		zap.String("producer", claims.Subject),
		zap.String("source_type", sourceType))
	return ErrSourceNotAllowed
}

// Ensure authService implements AuthService at compile time.
var _ AuthService = (*authService)(nil)
