package memory

import (
	"context"
	"sort"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/vigil/pkg/domain/model/errs"
	"github.com/secmon-lab/vigil/pkg/domain/model/suppress"
	"github.com/secmon-lab/vigil/pkg/domain/types"
	"github.com/secmon-lab/vigil/pkg/utils/clock"
)

func (r *Memory) PutIgnore(ctx context.Context, entry *suppress.Ignore) error {
	if err := entry.UserName.Validate(); err != nil {
		return goerr.Wrap(err, "invalid ignore entry", goerr.T(errs.TagValidation))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	copied := *entry
	r.ignores[ignoreKey{user: entry.UserName, title: entry.AlertTitle}] = &copied
	return nil
}

func (r *Memory) ActiveIgnore(ctx context.Context, userName types.UserName, alertTitle string) (*suppress.Ignore, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pruneExpiredIgnores(ctx)

	entry, ok := r.ignores[ignoreKey{user: userName, title: alertTitle}]
	if !ok {
		return nil, nil
	}

	copied := *entry
	return &copied, nil
}

func (r *Memory) ListIgnores(ctx context.Context) ([]*suppress.Ignore, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pruneExpiredIgnores(ctx)

	entries := make([]*suppress.Ignore, 0, len(r.ignores))
	for _, entry := range r.ignores {
		copied := *entry
		entries = append(entries, &copied)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].ExpiresAt.Before(entries[j].ExpiresAt)
	})
	return entries, nil
}

// caller must hold r.mu
func (r *Memory) pruneExpiredIgnores(ctx context.Context) {
	now := clock.Now(ctx)
	for key, entry := range r.ignores {
		if !now.Before(entry.ExpiresAt) {
			delete(r.ignores, key)
		}
	}
}

func (r *Memory) PutBlacklist(ctx context.Context, entry *suppress.BlacklistEntry) error {
	if err := entry.UserName.Validate(); err != nil {
		return goerr.Wrap(err, "invalid blacklist entry", goerr.T(errs.TagValidation))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	copied := *entry
	r.blacklist[entry.UserName] = &copied
	return nil
}

func (r *Memory) DeleteBlacklist(ctx context.Context, userName types.UserName) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.blacklist[userName]; !ok {
		return goerr.New("blacklist entry not found",
			goerr.T(errs.TagNotFound),
			goerr.V("user", userName))
	}

	delete(r.blacklist, userName)
	return nil
}

func (r *Memory) IsBlacklisted(ctx context.Context, userName types.UserName) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.blacklist[userName]
	return ok, nil
}

func (r *Memory) ListBlacklist(ctx context.Context) ([]*suppress.BlacklistEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]*suppress.BlacklistEntry, 0, len(r.blacklist))
	for _, entry := range r.blacklist {
		copied := *entry
		entries = append(entries, &copied)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].UserName < entries[j].UserName
	})
	return entries, nil
}
