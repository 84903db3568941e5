// Package auth guards mutating HTTP routes with a single admin bearer token
// whose bcrypt hash is configured at startup.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"

	"github.com/apex/log"
	"golang.org/x/crypto/bcrypt"
)

type Authenticator struct {
	hash []byte
}

// NewAuthenticator accepts a bcrypt hash as produced by HashToken.
func NewAuthenticator(hash string) (*Authenticator, error) {
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return nil, errors.New("auth: admin token hash is not a bcrypt hash")
	}
	return &Authenticator{hash: []byte(hash)}, nil
}

// GenerateToken creates a new admin token (plaintext) and its hash.
func GenerateToken() (token, hash string, err error) {
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return "", "", err
	}
	token = "sc-" + hex.EncodeToString(raw)
	hash, err = HashToken(token)
	return token, hash, err
}

func HashToken(token string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Verify reports whether token matches the configured hash.
func (a *Authenticator) Verify(token string) bool {
	return bcrypt.CompareHashAndPassword(a.hash, []byte(token)) == nil
}

// Middleware checks the Authorization header.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Missing Authorization header", http.StatusUnauthorized)
			return
		}

		parts := strings.Fields(authHeader)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			http.Error(w, "Invalid Authorization header format", http.StatusUnauthorized)
			return
		}

		if !a.Verify(parts[1]) {
			log.WithFields(log.Fields{"path": r.URL.Path, "remote": r.RemoteAddr}).Warn("rejected admin token")
			http.Error(w, "Invalid admin token", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}
