package jwt

import (
	"errors"
	"net/http"
	"strings"
)

// TokenExtractorFunc extracts a token from a request. It returns
// ErrMissingToken when the request carries none.
type TokenExtractorFunc func(r *http.Request) (string, error)

// MiddlewareConfig configures the middleware.
type MiddlewareConfig struct {
	Service   *Service
	Extractor TokenExtractorFunc // defaults to BearerTokenExtractor

	// Required rejects requests without a token instead of passing them
	// through anonymously.
	Required bool
}

// Middleware verifies an optional bearer token and stores its claims in the
// request context.
func Middleware(service *Service) func(next http.Handler) http.Handler {
	return MiddlewareWithConfig(MiddlewareConfig{Service: service})
}

func MiddlewareWithConfig(cfg MiddlewareConfig) func(next http.Handler) http.Handler {
	if cfg.Service == nil {
		panic("jwt: Service is required")
	}
	if cfg.Extractor == nil {
		cfg.Extractor = BearerTokenExtractor
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := cfg.Extractor(r)
			if errors.Is(err, ErrMissingToken) && !cfg.Required {
				next.ServeHTTP(w, r)
				return
			}
			if err != nil {
				http.Error(w, err.Error(), http.StatusUnauthorized)
				return
			}

			claims, err := cfg.Service.Parse(token)
			if err != nil {
				http.Error(w, ErrInvalidToken.Error(), http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(SetClaims(r.Context(), claims)))
		})
	}
}

// BearerTokenExtractor reads "Authorization: Bearer <token>".
func BearerTokenExtractor(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ErrMissingToken
	}

	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", ErrInvalidToken
	}
	return token, nil
}

// CookieTokenExtractor reads the token from a cookie.
func CookieTokenExtractor(cookieName string) TokenExtractorFunc {
	return func(r *http.Request) (string, error) {
		cookie, err := r.Cookie(cookieName)
		if err != nil || cookie.Value == "" {
			return "", ErrMissingToken
		}
		return cookie.Value, nil
	}
}
