package session

import (
	"crypto/subtle"
	"errors"
	"time"

	"golang.org/x/time/rate"
)

var (
	// ErrInvalidCredentials is returned when the username or password does not match.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrTooManyAttempts is returned when login attempts arrive faster than allowed.
	ErrTooManyAttempts = errors.New("too many login attempts")
)

// Authenticator checks the single operator credential pair.
type Authenticator struct {
	username []byte
	password []byte
	limiter  *rate.Limiter
}

// NewAuthenticator creates an authenticator allowing a burst of 5 attempts,
// refilled at one attempt per second.
func NewAuthenticator(username, password string) *Authenticator {
	return NewAuthenticatorWithLimit(username, password, rate.Every(time.Second), 5)
}

// NewAuthenticatorWithLimit creates an authenticator with an explicit attempt rate.
func NewAuthenticatorWithLimit(username, password string, every rate.Limit, burst int) *Authenticator {
	return &Authenticator{
		username: []byte(username),
		password: []byte(password),
		limiter:  rate.NewLimiter(every, burst),
	}
}

// Authenticate compares the credentials in constant time.
func (a *Authenticator) Authenticate(username, password string) error {
	if !a.limiter.Allow() {
		return ErrTooManyAttempts
	}
	if len(a.username) == 0 || len(a.password) == 0 {
		return ErrInvalidCredentials
	}

	userOK := subtle.ConstantTimeCompare([]byte(username), a.username)
	passOK := subtle.ConstantTimeCompare([]byte(password), a.password)
	if userOK&passOK != 1 {
		return ErrInvalidCredentials
	}
	return nil
}
