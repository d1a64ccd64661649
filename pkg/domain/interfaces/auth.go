package interfaces

import (
	"context"

	"github.com/secmon-lab/vigil/pkg/domain/types"
)

// AuthClient is the capability contract of the 2FA vendor binding.
type AuthClient interface {
	// Supports reports whether the user can receive a push challenge.
	Supports(ctx context.Context, userName types.UserName) (bool, error)

	// StartChallenge issues an asynchronous push challenge and returns its
	// session handle. The reason is shown to the user in the push prompt.
	StartChallenge(ctx context.Context, userName types.UserName, reason string) (types.AuthSessionID, error)

	// PollStatus checks the challenge outcome without blocking on user action.
	PollStatus(ctx context.Context, session types.AuthSessionID) (types.AuthStatus, error)
}
