package api

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var errUnauthorized = errors.New("unauthorized")

// Authenticator accepts either a static API key in X-API-Key or an HS256
// bearer token.
type Authenticator struct {
	apiKeys [][]byte
	secret  []byte
	issuer  string
}

func NewAuthenticator(apiKeys []string, jwtSecret, issuer string) *Authenticator {
	a := &Authenticator{secret: []byte(jwtSecret), issuer: issuer}
	for _, k := range apiKeys {
		if k != "" {
			a.apiKeys = append(a.apiKeys, []byte(k))
		}
	}
	return a
}

// IssueToken signs a token for subject valid for ttl.
func (a *Authenticator) IssueToken(subject string, ttl time.Duration) (string, error) {
	if len(a.secret) == 0 {
		return "", fmt.Errorf("jwt secret is required")
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    a.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func (a *Authenticator) validAPIKey(key string) bool {
	for _, k := range a.apiKeys {
		if subtle.ConstantTimeCompare([]byte(key), k) == 1 {
			return true
		}
	}
	return false
}

func (a *Authenticator) validToken(raw string) error {
	if len(a.secret) == 0 {
		return errUnauthorized
	}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	_, err := jwt.ParseWithClaims(raw, &jwt.RegisteredClaims{}, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	return err
}

// Authenticate checks the request credentials.
func (a *Authenticator) Authenticate(r *http.Request) error {
	if key := r.Header.Get("X-API-Key"); key != "" {
		if a.validAPIKey(key) {
			return nil
		}
		return errUnauthorized
	}

	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return errUnauthorized
	}
	if err := a.validToken(token); err != nil {
		return fmt.Errorf("%w: %v", errUnauthorized, err)
	}
	return nil
}

// Middleware rejects unauthenticated requests with 401.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := a.Authenticate(r); err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}
