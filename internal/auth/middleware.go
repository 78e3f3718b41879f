// Package auth guards the REST API with API keys and per-key rate limits
package auth

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"

	"position_trader/internal/core"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	// HeaderAPIKey carries the caller's API key
	HeaderAPIKey = "X-API-Key"
	// HeaderRequestID echoes the id assigned to each request
	HeaderRequestID = "X-Request-ID"
	// DefaultRateLimitPerKey is the default number of requests per second allowed per API key
	DefaultRateLimitPerKey = 100
)

// APIKeyValidator validates API keys and manages rate limiting
type APIKeyValidator struct {
	validKeys     map[string]bool
	rateLimiters  map[string]*rate.Limiter
	rateLimit     int
	logger        core.ILogger
	mu            sync.RWMutex
	failureLogger core.ILogger
}

// NewAPIKeyValidator creates a new API key validator with rate limiting
func NewAPIKeyValidator(apiKeys []string, rateLimit int, logger core.ILogger) *APIKeyValidator {
	validKeys := make(map[string]bool)
	for _, key := range apiKeys {
		if key != "" {
			validKeys[key] = true
		}
	}

	if rateLimit <= 0 {
		rateLimit = DefaultRateLimitPerKey
	}

	return &APIKeyValidator{
		validKeys:     validKeys,
		rateLimiters:  make(map[string]*rate.Limiter),
		rateLimit:     rateLimit,
		logger:        logger.WithField("component", "auth"),
		failureLogger: logger.WithField("component", "auth_failure"),
	}
}

// AddAPIKey adds a new API key to the validator (for key rotation)
func (v *APIKeyValidator) AddAPIKey(apiKey string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.validKeys[apiKey] = true
	v.logger.Info("API key added")
}

// RemoveAPIKey removes an API key from the validator (for key rotation)
func (v *APIKeyValidator) RemoveAPIKey(apiKey string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.validKeys, apiKey)
	delete(v.rateLimiters, apiKey)
	v.logger.Info("API key removed")
}

// Enabled reports whether any key is configured. With no keys every request passes.
func (v *APIKeyValidator) Enabled() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.validKeys) > 0
}

// ValidateAPIKey checks if the API key is valid
func (v *APIKeyValidator) ValidateAPIKey(apiKey string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.validKeys[apiKey]
}

// CheckRateLimit checks if the request is within rate limit for the API key
func (v *APIKeyValidator) CheckRateLimit(apiKey string) bool {
	v.mu.Lock()
	limiter, exists := v.rateLimiters[apiKey]
	if !exists {
		limiter = rate.NewLimiter(rate.Limit(v.rateLimit), v.rateLimit)
		v.rateLimiters[apiKey] = limiter
	}
	v.mu.Unlock()

	return limiter.Allow()
}

type requestIDKey struct{}

// RequestID returns the id the middleware assigned to the request
func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return "unknown"
}

// Middleware authenticates every request passing through next. It has the
// shape of mux.MiddlewareFunc.
func (v *APIKeyValidator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		w.Header().Set(HeaderRequestID, requestID)

		// CORS preflight carries no credentials
		if !v.Enabled() || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		clientIP := clientIP(r)
		apiKey := r.Header.Get(HeaderAPIKey)
		if apiKey == "" {
			v.failureLogger.Warn("Authentication failed: missing API key",
				"path", r.URL.Path,
				"request_id", requestID,
				"client_ip", clientIP)
			reject(w, http.StatusUnauthorized, "unauthorized", "missing API key")
			return
		}

		if !v.ValidateAPIKey(apiKey) {
			v.failureLogger.Warn("Authentication failed: invalid API key",
				"path", r.URL.Path,
				"request_id", requestID,
				"client_ip", clientIP)
			reject(w, http.StatusUnauthorized, "unauthorized", "invalid API key")
			return
		}

		if !v.CheckRateLimit(apiKey) {
			v.failureLogger.Warn("Rate limit exceeded",
				"path", r.URL.Path,
				"request_id", requestID,
				"client_ip", clientIP)
			reject(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded for API key")
			return
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func reject(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code, "message": message})
}
