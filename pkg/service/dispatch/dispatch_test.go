package dispatch_test

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/vigil/pkg/domain/interfaces"
	"github.com/secmon-lab/vigil/pkg/domain/model/alert"
	"github.com/secmon-lab/vigil/pkg/domain/model/suppress"
	"github.com/secmon-lab/vigil/pkg/domain/model/user"
	"github.com/secmon-lab/vigil/pkg/domain/types"
	"github.com/secmon-lab/vigil/pkg/repository/memory"
	"github.com/secmon-lab/vigil/pkg/service/auth"
	"github.com/secmon-lab/vigil/pkg/service/chat"
	"github.com/secmon-lab/vigil/pkg/service/directory"
	"github.com/secmon-lab/vigil/pkg/service/dispatch"
	"github.com/secmon-lab/vigil/pkg/service/escalation"
	"github.com/secmon-lab/vigil/pkg/utils/clock"
)

// trackedChat wraps the console client and records who got direct messages
// and what landed in channels.
type trackedChat struct {
	*chat.Console

	mu         sync.Mutex
	directTo   []types.UserID
	directText []string
	channel    []string
}

func (x *trackedChat) SendDirect(ctx context.Context, userID types.UserID, text string) error {
	x.mu.Lock()
	x.directTo = append(x.directTo, userID)
	x.directText = append(x.directText, text)
	x.mu.Unlock()
	return x.Console.SendDirect(ctx, userID, text)
}

func (x *trackedChat) SendToChannel(ctx context.Context, channelID types.ChannelID, text string) error {
	x.mu.Lock()
	x.channel = append(x.channel, text)
	x.mu.Unlock()
	return x.Console.SendToChannel(ctx, channelID, text)
}

func (x *trackedChat) directCount(id types.UserID) int {
	x.mu.Lock()
	defer x.mu.Unlock()
	var n int
	for _, to := range x.directTo {
		if to == id {
			n++
		}
	}
	return n
}

func (x *trackedChat) directTexts() []string {
	x.mu.Lock()
	defer x.mu.Unlock()
	return append([]string(nil), x.directText...)
}

func (x *trackedChat) channelTexts() []string {
	x.mu.Lock()
	defer x.mu.Unlock()
	return append([]string(nil), x.channel...)
}

type loopFixture struct {
	loop *dispatch.Loop
	repo *memory.Memory
	chat *trackedChat
	auth *auth.Noop
	now  *time.Time
	ctx  context.Context
}

func newLoopFixture(t *testing.T) *loopFixture {
	now := time.Date(2025, 3, 3, 11, 0, 0, 0, time.UTC)
	ctx := clock.With(context.Background(), func() time.Time { return now })

	users := []*user.User{
		{ID: "U001", Name: "alice", RealName: "Alice Example"},
		{ID: "U002", Name: "bob", RealName: "Bob Example"},
	}
	chatClient := &trackedChat{Console: chat.NewConsole(&bytes.Buffer{}, users)}
	authClient := auth.NewNoop()
	repo := memory.New()

	loop := gt.R1(dispatch.New(
		dispatch.WithRepository(repo),
		dispatch.WithChat(chatClient),
		dispatch.WithAuth(authClient),
		dispatch.WithDirectory(directory.New(chatClient, authClient)),
		dispatch.WithReportChannel(types.ChannelID("C-SECURITY")),
	)).NoError(t)

	return &loopFixture{loop: loop, repo: repo, chat: chatClient, auth: authClient, now: &now, ctx: ctx}
}

func (f *loopFixture) fileAlert(t *testing.T, name types.UserName, title string) types.AlertFingerprint {
	a := gt.R1(alert.New(f.ctx, types.NewAlertFingerprint(), name, title, "desc", "reason")).NoError(t)
	gt.NoError(t, f.repo.PutAlert(f.ctx, *a))
	return a.Fingerprint
}

func TestLoopHappyPath(t *testing.T) {
	f := newLoopFixture(t)
	fp := f.fileAlert(t, "alice", "SSH login from new host")

	// Claim + start: greeting, alert body, prompt.
	f.loop.Step(f.ctx)
	gt.Equal(t, f.loop.ActiveSessions(), 1)
	stored := gt.R1(f.repo.GetAlert(f.ctx, fp)).NoError(t)
	gt.Equal(t, stored.Status, types.AlertStatusInProgress)

	// User affirms; push approved next tick; bye on reap.
	f.chat.Inject("U001", "yes")
	f.loop.Step(f.ctx)
	f.loop.Step(f.ctx)
	gt.Equal(t, f.loop.ActiveSessions(), 0)

	stored = gt.R1(f.repo.GetAlert(f.ctx, fp)).NoError(t)
	gt.Equal(t, stored.Status, types.AlertStatusComplete)
	gt.True(t, stored.Response.Performed)
	gt.True(t, stored.Response.Authenticated)
	gt.A(t, f.chat.channelTexts()).Length(0)

	// Verified alert class is auto-ignored for a while.
	entry := gt.R1(f.repo.ActiveIgnore(f.ctx, "alice", "SSH login from new host")).NoError(t)
	gt.NotNil(t, entry)
}

func TestLoopOneAgentPerUser(t *testing.T) {
	f := newLoopFixture(t)
	f.fileAlert(t, "alice", "alert one")
	f.fileAlert(t, "alice", "alert two")

	f.loop.Step(f.ctx)
	gt.Equal(t, f.loop.ActiveSessions(), 1)

	// Second alert stays queued until the first completes.
	f.chat.Inject("U001", "no")
	f.loop.Step(f.ctx)
	f.loop.Step(f.ctx)
	gt.Equal(t, f.loop.ActiveSessions(), 1)
}

func TestLoopBlacklistedUserNeverContacted(t *testing.T) {
	f := newLoopFixture(t)
	gt.NoError(t, f.repo.PutBlacklist(f.ctx, &suppress.BlacklistEntry{
		UserName:  "bob",
		CreatedAt: *f.now,
	}))
	fp := f.fileAlert(t, "bob", "suspicious download")

	f.loop.Step(f.ctx)
	gt.Equal(t, f.loop.ActiveSessions(), 0)
	gt.Equal(t, f.chat.directCount("U002"), 0)

	// Closed without any notice anywhere; only the comment records why.
	gt.A(t, f.chat.channelTexts()).Length(0)
	stored := gt.R1(f.repo.GetAlert(f.ctx, fp)).NoError(t)
	gt.Equal(t, stored.Status, types.AlertStatusComplete)
	gt.Equal(t, stored.Response.Comment, "blacklisted")
	gt.False(t, stored.Response.Performed)
}

func TestLoopIgnoredAlertClosedSilently(t *testing.T) {
	f := newLoopFixture(t)
	entry := gt.R1(suppress.NewIgnore(f.ctx, "alice", "noisy alert", "requested by user", time.Hour)).NoError(t)
	gt.NoError(t, f.repo.PutIgnore(f.ctx, entry))
	fp := f.fileAlert(t, "alice", "noisy alert")

	f.loop.Step(f.ctx)
	gt.Equal(t, f.loop.ActiveSessions(), 0)
	gt.Equal(t, f.chat.directCount("U001"), 0)
	gt.A(t, f.chat.channelTexts()).Length(0)

	stored := gt.R1(f.repo.GetAlert(f.ctx, fp)).NoError(t)
	gt.Equal(t, stored.Status, types.AlertStatusComplete)
	gt.True(t, strings.Contains(stored.Response.Comment, string(types.EscalateReasonIgnored)))
}

func TestLoopUnknownUserEscalates(t *testing.T) {
	f := newLoopFixture(t)
	fp := f.fileAlert(t, "mallory", "login anomaly")

	f.loop.Step(f.ctx)
	gt.Equal(t, f.loop.ActiveSessions(), 0)
	notices := f.chat.channelTexts()
	gt.A(t, notices).Length(1)
	gt.True(t, strings.Contains(notices[0], string(types.EscalateReasonUnknownUser)))

	stored := gt.R1(f.repo.GetAlert(f.ctx, fp)).NoError(t)
	gt.Equal(t, stored.Status, types.AlertStatusComplete)
}

func TestLoopResponseTimeoutEscalatesOnce(t *testing.T) {
	f := newLoopFixture(t)
	f.fileAlert(t, "alice", "SSH login from new host")

	f.loop.Step(f.ctx)
	gt.Equal(t, f.loop.ActiveSessions(), 1)

	*f.now = f.now.Add(escalation.DefaultResponseTimeout + time.Minute)
	f.loop.Step(f.ctx)
	f.loop.Step(f.ctx)

	gt.Equal(t, f.loop.ActiveSessions(), 0)
	gt.A(t, f.chat.channelTexts()).Length(1)
}

func TestLoopRecover(t *testing.T) {
	f := newLoopFixture(t)
	fp := f.fileAlert(t, "alice", "pending alert")

	// Simulate a previous process having claimed the alert, then dying.
	claimed := gt.R1(f.repo.ClaimNewAlerts(f.ctx)).NoError(t)
	gt.A(t, claimed).Length(1)

	gt.NoError(t, f.loop.Recover(f.ctx))
	f.loop.Step(f.ctx)
	gt.Equal(t, f.loop.ActiveSessions(), 1)

	f.chat.Inject("U001", "no")
	f.loop.Step(f.ctx)
	stored := gt.R1(f.repo.GetAlert(f.ctx, fp)).NoError(t)
	gt.Equal(t, stored.Status, types.AlertStatusComplete)
}

func TestLoopCancel(t *testing.T) {
	f := newLoopFixture(t)
	fp := f.fileAlert(t, "alice", "long running check")

	f.loop.Step(f.ctx)
	gt.Equal(t, f.loop.ActiveSessions(), 1)

	gt.NoError(t, f.loop.Cancel(f.ctx, fp))
	gt.Equal(t, f.loop.ActiveSessions(), 0)

	stored := gt.R1(f.repo.GetAlert(f.ctx, fp)).NoError(t)
	gt.Equal(t, stored.Status, types.AlertStatusComplete)
	notices := f.chat.channelTexts()
	gt.A(t, notices).Length(1)
	gt.True(t, strings.Contains(notices[0], string(types.EscalateReasonCancelled)))

	gt.Error(t, f.loop.Cancel(f.ctx, types.NewAlertFingerprint()))
}

func TestLoopCancelReleasesSession(t *testing.T) {
	f := newLoopFixture(t)
	fp := f.fileAlert(t, "alice", "long running check")

	f.loop.Step(f.ctx)
	gt.NoError(t, f.loop.Cancel(f.ctx, fp))

	texts := f.chat.directTexts()
	gt.True(t, len(texts) > 0)
	gt.True(t, strings.Contains(texts[len(texts)-1], "That's everything"))

	// The next alert opens a fresh session with a greeting.
	f.fileAlert(t, "alice", "another check")
	f.loop.Step(f.ctx)

	var greeted int
	for _, text := range f.chat.directTexts() {
		if strings.Contains(text, "friendly security bot") {
			greeted++
		}
	}
	gt.Equal(t, greeted, 2)
}

func TestLoopTestCommand(t *testing.T) {
	f := newLoopFixture(t)

	f.chat.Inject("U001", "test")
	f.loop.Step(f.ctx)

	// The synthetic alert is claimed on the following tick.
	f.loop.Step(f.ctx)
	gt.Equal(t, f.loop.ActiveSessions(), 1)

	alerts := gt.R1(f.repo.QueryAlerts(f.ctx, &alert.QueryFilter{UserName: "alice"})).NoError(t)
	gt.A(t, alerts).Length(1)
	gt.Equal(t, alerts[0].Title, "Test alert")
}

// noDeviceAuth hides the push device for selected users.
type noDeviceAuth struct {
	*auth.Noop
	without map[types.UserName]bool
}

func (x *noDeviceAuth) Supports(ctx context.Context, name types.UserName) (bool, error) {
	if x.without[name] {
		return false, nil
	}
	return x.Noop.Supports(ctx, name)
}

func TestLoopBackoffWithoutAuthDevice(t *testing.T) {
	now := time.Date(2025, 3, 3, 11, 0, 0, 0, time.UTC)
	ctx := clock.With(context.Background(), func() time.Time { return now })

	users := []*user.User{{ID: "U002", Name: "bob", RealName: "Bob Example"}}
	chatClient := &trackedChat{Console: chat.NewConsole(&bytes.Buffer{}, users)}
	authClient := &noDeviceAuth{Noop: auth.NewNoop(), without: map[types.UserName]bool{"bob": true}}
	repo := memory.New()

	loop := gt.R1(dispatch.New(
		dispatch.WithRepository(repo),
		dispatch.WithChat(chatClient),
		dispatch.WithAuth(authClient),
		dispatch.WithDirectory(directory.New(chatClient, authClient)),
		dispatch.WithReportChannel(types.ChannelID("C-SECURITY")),
	)).NoError(t)

	a := gt.R1(alert.New(ctx, types.NewAlertFingerprint(), "bob", "VPN from new country", "desc", "reason")).NoError(t)
	gt.NoError(t, repo.PutAlert(ctx, *a))

	loop.Step(ctx)
	chatClient.Inject("U002", "yes")
	loop.Step(ctx)

	stored := gt.R1(repo.GetAlert(ctx, a.Fingerprint)).NoError(t)
	gt.Equal(t, stored.Status, types.AlertStatusComplete)
	gt.True(t, stored.Response.Performed)
	gt.False(t, stored.Response.Authenticated)

	// Performed alone backs off repeats of this alert class.
	entry := gt.R1(repo.ActiveIgnore(ctx, "bob", "VPN from new country")).NoError(t)
	gt.NotNil(t, entry)
}

func TestLoopIdleUserReplies(t *testing.T) {
	f := newLoopFixture(t)

	f.chat.Inject("U001", "hi")
	f.loop.Step(f.ctx)
	gt.Equal(t, f.chat.directCount("U001"), 1)

	f.chat.Inject("U001", "yes")
	f.loop.Step(f.ctx)
	gt.Equal(t, f.chat.directCount("U001"), 2) // nothing_to_do
}

var _ interfaces.ChatClient = &trackedChat{}
