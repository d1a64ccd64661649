package auth

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/vigil/pkg/domain/interfaces"
	"github.com/secmon-lab/vigil/pkg/domain/types"
)

// Noop is a development stand-in for a real 2FA provider. Every user is
// push-capable and every challenge is approved on the first poll.
type Noop struct {
	mu       sync.Mutex
	outcome  types.AuthStatus
	sessions map[types.AuthSessionID]types.AuthStatus
}

var _ interfaces.AuthClient = &Noop{}

func NewNoop() *Noop {
	return &Noop{
		outcome:  types.AuthStatusApproved,
		sessions: map[types.AuthSessionID]types.AuthStatus{},
	}
}

// SetOutcome changes what future challenges resolve to, for tests exercising
// denied or pending paths.
func (x *Noop) SetOutcome(status types.AuthStatus) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.outcome = status
}

func (x *Noop) Supports(ctx context.Context, userName types.UserName) (bool, error) {
	return true, nil
}

func (x *Noop) StartChallenge(ctx context.Context, userName types.UserName, reason string) (types.AuthSessionID, error) {
	id := types.AuthSessionID(uuid.NewString())
	x.mu.Lock()
	x.sessions[id] = x.outcome
	x.mu.Unlock()
	return id, nil
}

func (x *Noop) PollStatus(ctx context.Context, session types.AuthSessionID) (types.AuthStatus, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	st, ok := x.sessions[session]
	if !ok {
		return types.AuthStatusError, goerr.New("unknown auth session", goerr.V("session", session))
	}
	return st, nil
}

// Resolve overrides the outcome of a pending session, for tests that need a
// denied or still-pending challenge.
func (x *Noop) Resolve(session types.AuthSessionID, status types.AuthStatus) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.sessions[session] = status
}
