package directory

import (
	"context"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/vigil/pkg/domain/interfaces"
	"github.com/secmon-lab/vigil/pkg/domain/model/errs"
	"github.com/secmon-lab/vigil/pkg/domain/model/user"
	"github.com/secmon-lab/vigil/pkg/domain/types"
	"github.com/secmon-lab/vigil/pkg/utils/clock"
	"github.com/secmon-lab/vigil/pkg/utils/logging"
)

const defaultTTL = 15 * time.Minute

// Service resolves alert usernames to chat users. The chat workspace roster is
// cached with a TTL; the 2FA capability of each user is filled in lazily on
// first lookup so a roster refresh does not fan out into one auth call per
// member.
type Service struct {
	chat interfaces.ChatClient
	auth interfaces.AuthClient
	ttl  time.Duration

	mu        sync.RWMutex
	byName    map[types.UserName]*user.User
	byID      map[types.UserID]*user.User
	canAuth   map[types.UserName]bool
	refreshed time.Time
}

func New(chat interfaces.ChatClient, auth interfaces.AuthClient, opts ...Option) *Service {
	s := &Service{
		chat:    chat,
		auth:    auth,
		ttl:     defaultTTL,
		byName:  map[types.UserName]*user.User{},
		byID:    map[types.UserID]*user.User{},
		canAuth: map[types.UserName]bool{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type Option func(*Service)

func WithTTL(ttl time.Duration) Option {
	return func(s *Service) {
		s.ttl = ttl
	}
}

// Lookup resolves a username to a chat user, refreshing the roster when the
// cache is stale. Unknown users return an error tagged not-found.
func (x *Service) Lookup(ctx context.Context, name types.UserName) (*user.User, error) {
	if err := x.ensureFresh(ctx); err != nil {
		return nil, err
	}

	x.mu.RLock()
	u, ok := x.byName[name]
	canAuth, authKnown := x.canAuth[name]
	x.mu.RUnlock()
	if !ok {
		return nil, goerr.New("user not found in chat workspace",
			goerr.T(errs.TagNotFound),
			goerr.V("user", name))
	}

	if !authKnown {
		supported, err := x.auth.Supports(ctx, name)
		if err != nil {
			// A capability probe failure must not stall dispatch. Treat
			// the user as unable to authenticate until the next lookup.
			logging.From(ctx).Warn("2FA capability check failed",
				"user", name, logging.ErrAttr(err))
			supported = false
		} else {
			x.mu.Lock()
			x.canAuth[name] = supported
			x.mu.Unlock()
		}
		canAuth = supported
	}

	resolved := *u
	resolved.CanAuth = canAuth
	return &resolved, nil
}

// LookupByID resolves a chat platform user ID, for inbound messages.
func (x *Service) LookupByID(ctx context.Context, id types.UserID) (*user.User, error) {
	if err := x.ensureFresh(ctx); err != nil {
		return nil, err
	}

	x.mu.RLock()
	u, ok := x.byID[id]
	x.mu.RUnlock()
	if !ok {
		return nil, goerr.New("user ID not found in chat workspace",
			goerr.T(errs.TagNotFound),
			goerr.V("user_id", id))
	}

	resolved := *u
	x.mu.RLock()
	resolved.CanAuth = x.canAuth[u.Name]
	x.mu.RUnlock()
	return &resolved, nil
}

// Refresh forces a roster reload regardless of TTL.
func (x *Service) Refresh(ctx context.Context) error {
	users, err := x.chat.Users(ctx)
	if err != nil {
		return goerr.Wrap(err, "failed to list chat users")
	}

	byName := make(map[types.UserName]*user.User, len(users))
	byID := make(map[types.UserID]*user.User, len(users))
	for _, u := range users {
		byName[u.Name] = u
		byID[u.ID] = u
	}

	x.mu.Lock()
	x.byName = byName
	x.byID = byID
	x.refreshed = clock.Now(ctx)
	x.mu.Unlock()
	return nil
}

func (x *Service) ensureFresh(ctx context.Context) error {
	x.mu.RLock()
	fresh := !x.refreshed.IsZero() && clock.Since(ctx, x.refreshed) < x.ttl
	x.mu.RUnlock()
	if fresh {
		return nil
	}
	return x.Refresh(ctx)
}
