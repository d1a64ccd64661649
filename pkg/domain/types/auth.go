package types

import "github.com/m-mizutani/goerr/v2"

// AuthSessionID is the handle of an in-flight 2FA challenge (Duo calls this a
// transaction ID).
type AuthSessionID string

func (x AuthSessionID) String() string {
	return string(x)
}

const EmptyAuthSessionID AuthSessionID = ""

// AuthStatus is the polled outcome of a 2FA challenge.
type AuthStatus string

const (
	AuthStatusNone     AuthStatus = "none"
	AuthStatusPending  AuthStatus = "pending"
	AuthStatusApproved AuthStatus = "approved"
	AuthStatusDenied   AuthStatus = "denied"
	AuthStatusError    AuthStatus = "error"
)

func (s AuthStatus) String() string {
	return string(s)
}

func (s AuthStatus) Validate() error {
	switch s {
	case AuthStatusNone, AuthStatusPending, AuthStatusApproved, AuthStatusDenied, AuthStatusError:
		return nil
	}
	return goerr.New("invalid auth status", goerr.V("status", s))
}

// Settled returns true once the challenge can no longer change outcome.
func (s AuthStatus) Settled() bool {
	return s == AuthStatusApproved || s == AuthStatusDenied || s == AuthStatusError
}
