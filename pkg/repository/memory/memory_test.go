package memory_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/vigil/pkg/domain/model/alert"
	"github.com/secmon-lab/vigil/pkg/domain/model/suppress"
	"github.com/secmon-lab/vigil/pkg/domain/types"
	"github.com/secmon-lab/vigil/pkg/repository/memory"
	"github.com/secmon-lab/vigil/pkg/utils/clock"
)

func newAlert(t *testing.T, ctx context.Context, user types.UserName, title string) *alert.Alert {
	t.Helper()
	a, err := alert.New(ctx, types.NewAlertFingerprint(), user, title, "description", "reason")
	gt.NoError(t, err)
	return a
}

func TestClaimNewAlerts(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()

	t.Run("oldest first and flipped to in_progress", func(t *testing.T) {
		base := time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)
		for i := 2; i >= 0; i-- {
			tick := base.Add(time.Duration(i) * time.Minute)
			tctx := clock.With(ctx, func() time.Time { return tick })
			gt.NoError(t, repo.PutAlert(tctx, *newAlert(t, tctx, "alice", "Password reset")))
		}

		claimed := gt.R1(repo.ClaimNewAlerts(ctx)).NoError(t)
		gt.Equal(t, len(claimed), 3)
		for i, a := range claimed {
			gt.Equal(t, a.Status, types.AlertStatusInProgress)
			if i > 0 {
				gt.False(t, a.CreatedAt.Before(claimed[i-1].CreatedAt))
			}
		}
	})

	t.Run("second claim is empty", func(t *testing.T) {
		claimed := gt.R1(repo.ClaimNewAlerts(ctx)).NoError(t)
		gt.Equal(t, len(claimed), 0)
	})

	t.Run("no alert claimed twice under concurrency", func(t *testing.T) {
		repo := memory.New()
		for range 20 {
			gt.NoError(t, repo.PutAlert(ctx, *newAlert(t, ctx, "alice", "login")))
		}

		var mu sync.Mutex
		seen := map[types.AlertFingerprint]int{}
		var wg sync.WaitGroup
		for range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				claimed, err := repo.ClaimNewAlerts(ctx)
				if err != nil {
					return
				}
				mu.Lock()
				for _, a := range claimed {
					seen[a.Fingerprint]++
				}
				mu.Unlock()
			}()
		}
		wg.Wait()

		gt.Equal(t, len(seen), 20)
		for fp, n := range seen {
			if n != 1 {
				t.Errorf("alert %s claimed %d times", fp, n)
			}
		}
	})
}

func TestPutAlertImmutability(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()

	a := newAlert(t, ctx, "alice", "Password reset")
	gt.NoError(t, a.Finalize(ctx, alert.Response{Performed: true, Authenticated: true}))
	gt.NoError(t, repo.PutAlert(ctx, *a))

	t.Run("idempotent identical save", func(t *testing.T) {
		gt.NoError(t, repo.PutAlert(ctx, *a))
	})

	t.Run("conflicting response rejected", func(t *testing.T) {
		mutated := *a
		mutated.Response.Performed = false
		gt.Error(t, repo.PutAlert(ctx, mutated))
	})

	t.Run("status regression rejected", func(t *testing.T) {
		mutated := *a
		mutated.Status = types.AlertStatusInProgress
		gt.Error(t, repo.PutAlert(ctx, mutated))
	})
}

func TestIgnore(t *testing.T) {
	now := time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)
	ctx := clock.With(context.Background(), func() time.Time { return now })
	repo := memory.New()

	entry := gt.R1(suppress.NewIgnore(ctx, "alice", "Password reset", "ignored", time.Hour)).NoError(t)
	gt.NoError(t, repo.PutIgnore(ctx, entry))

	t.Run("active before expiry", func(t *testing.T) {
		got := gt.R1(repo.ActiveIgnore(ctx, "alice", "Password reset")).NoError(t)
		gt.NotNil(t, got)
		gt.Equal(t, got.Reason, "ignored")
	})

	t.Run("nil for other class", func(t *testing.T) {
		got := gt.R1(repo.ActiveIgnore(ctx, "alice", "VPN login")).NoError(t)
		gt.Nil(t, got)
	})

	t.Run("pruned after expiry", func(t *testing.T) {
		later := clock.With(context.Background(), func() time.Time { return now.Add(2 * time.Hour) })
		got := gt.R1(repo.ActiveIgnore(later, "alice", "Password reset")).NoError(t)
		gt.Nil(t, got)

		entries := gt.R1(repo.ListIgnores(later)).NoError(t)
		gt.Equal(t, len(entries), 0)
	})
}

func TestBlacklist(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()

	entry := gt.R1(suppress.NewBlacklistEntry(ctx, "mallory")).NoError(t)
	gt.NoError(t, repo.PutBlacklist(ctx, entry))

	gt.True(t, gt.R1(repo.IsBlacklisted(ctx, "mallory")).NoError(t))
	gt.False(t, gt.R1(repo.IsBlacklisted(ctx, "alice")).NoError(t))

	entries := gt.R1(repo.ListBlacklist(ctx)).NoError(t)
	gt.Equal(t, len(entries), 1)

	gt.NoError(t, repo.DeleteBlacklist(ctx, "mallory"))
	gt.False(t, gt.R1(repo.IsBlacklisted(ctx, "mallory")).NoError(t))
	gt.Error(t, repo.DeleteBlacklist(ctx, "mallory"))
}
