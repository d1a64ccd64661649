package suppress

import (
	"context"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/vigil/pkg/domain/types"
	"github.com/secmon-lab/vigil/pkg/utils/clock"
)

// Ignore suppresses assignment of one alert class to one user until it
// expires. It is created either by an administrator or automatically as
// backoff after a user confirmed an action.
type Ignore struct {
	UserName   types.UserName `json:"user" firestore:"user"`
	AlertTitle string         `json:"alert_title" firestore:"alert_title"`
	Reason     string         `json:"reason" firestore:"reason"`
	ExpiresAt  time.Time      `json:"expires_at" firestore:"expires_at"`
	CreatedAt  time.Time      `json:"created_at" firestore:"created_at"`
}

func NewIgnore(ctx context.Context, userName types.UserName, alertTitle, reason string, ttl time.Duration) (*Ignore, error) {
	if err := userName.Validate(); err != nil {
		return nil, err
	}
	if alertTitle == "" {
		return nil, goerr.New("empty alert title for ignore entry")
	}
	if ttl <= 0 {
		return nil, goerr.New("non-positive ignore TTL", goerr.V("ttl", ttl))
	}

	now := clock.Now(ctx)
	return &Ignore{
		UserName:   userName,
		AlertTitle: alertTitle,
		Reason:     reason,
		ExpiresAt:  now.Add(ttl),
		CreatedAt:  now,
	}, nil
}

func (x *Ignore) Expired(ctx context.Context) bool {
	return !clock.Now(ctx).Before(x.ExpiresAt)
}

// BlacklistEntry permanently suppresses assignment for one user. Alerts for a
// blacklisted user are finalized without any contact attempt.
type BlacklistEntry struct {
	UserName  types.UserName `json:"user" firestore:"user"`
	CreatedAt time.Time      `json:"created_at" firestore:"created_at"`
}

func NewBlacklistEntry(ctx context.Context, userName types.UserName) (*BlacklistEntry, error) {
	if err := userName.Validate(); err != nil {
		return nil, err
	}
	return &BlacklistEntry{
		UserName:  userName,
		CreatedAt: clock.Now(ctx),
	}, nil
}
