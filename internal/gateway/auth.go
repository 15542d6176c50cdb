package gateway

import (
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	"strings"
)

// AuthType defines the authentication method
type AuthType string

const (
	// AuthTypeLocal accepts loopback connections only.
	AuthTypeLocal    AuthType = "local"
	AuthTypeAPIToken AuthType = "api-token"
	AuthTypeNone     AuthType = "none"
)

// AuthConfig holds authentication configuration
type AuthConfig struct {
	Type  AuthType `yaml:"type" toml:"type"`
	Token string   `yaml:"token,omitempty" toml:"token,omitempty"`
}

var (
	errNotLocal     = errors.New("local auth requires a loopback connection")
	errMissingToken = errors.New("missing authorization token")
	errInvalidToken = errors.New("invalid token")
)

// Authenticator handles authentication
type Authenticator struct {
	config *AuthConfig
}

// NewAuthenticator creates a new authenticator. A nil config means local auth.
func NewAuthenticator(config *AuthConfig) *Authenticator {
	if config == nil {
		config = &AuthConfig{Type: AuthTypeLocal}
	}
	return &Authenticator{config: config}
}

// Authenticate validates a request
func (a *Authenticator) Authenticate(r *http.Request) error {
	switch a.config.Type {
	case AuthTypeNone:
		return nil
	case AuthTypeLocal, "":
		if isLocalRequest(r) {
			return nil
		}
		return errNotLocal
	case AuthTypeAPIToken:
		return a.authenticateAPIToken(r)
	default:
		return errors.New("unknown auth type")
	}
}

func (a *Authenticator) authenticateAPIToken(r *http.Request) error {
	token := extractBearerToken(r)
	if token == "" {
		return errMissingToken
	}
	if a.config.Token == "" || !secureCompare(token, a.config.Token) {
		return errInvalidToken
	}
	return nil
}

// isLocalRequest checks if the request comes from a loopback address
func isLocalRequest(r *http.Request) bool {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// extractBearerToken extracts the bearer token from Authorization header
func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}

	const prefix = "Bearer "
	if len(auth) < len(prefix) || !strings.EqualFold(auth[:len(prefix)], prefix) {
		return ""
	}

	return strings.TrimSpace(auth[len(prefix):])
}

// secureCompare performs constant-time string comparison
func secureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Middleware returns an HTTP middleware that enforces authentication.
// It returns 401 Unauthorized if authentication fails.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := a.Authenticate(r); err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}
