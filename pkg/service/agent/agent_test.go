package agent_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/vigil/pkg/domain/interfaces"
	"github.com/secmon-lab/vigil/pkg/domain/model/alert"
	"github.com/secmon-lab/vigil/pkg/domain/model/user"
	"github.com/secmon-lab/vigil/pkg/domain/types"
	"github.com/secmon-lab/vigil/pkg/repository/memory"
	"github.com/secmon-lab/vigil/pkg/service/agent"
	"github.com/secmon-lab/vigil/pkg/service/auth"
	"github.com/secmon-lab/vigil/pkg/service/chat"
	"github.com/secmon-lab/vigil/pkg/service/command"
	"github.com/secmon-lab/vigil/pkg/service/escalation"
	"github.com/secmon-lab/vigil/pkg/utils/clock"
)

type sentMessage struct {
	channel types.ChannelID
	userID  types.UserID
	text    string
}

type recordingChat struct {
	interfaces.ChatClient
	sent []sentMessage
}

func (x *recordingChat) SendDirect(ctx context.Context, userID types.UserID, text string) error {
	x.sent = append(x.sent, sentMessage{userID: userID, text: text})
	return nil
}

func (x *recordingChat) SendToChannel(ctx context.Context, channelID types.ChannelID, text string) error {
	x.sent = append(x.sent, sentMessage{channel: channelID, text: text})
	return nil
}

func (x *recordingChat) channelNotices() []sentMessage {
	var out []sentMessage
	for _, m := range x.sent {
		if m.channel != "" {
			out = append(out, m)
		}
	}
	return out
}

type fixture struct {
	agent *agent.Agent
	chat  *recordingChat
	auth  *auth.Noop
	repo  *memory.Memory
	alert *alert.Alert
	now   *time.Time
	ctx   context.Context
}

func newFixture(t *testing.T, canAuth bool) *fixture {
	now := time.Date(2025, 3, 3, 11, 0, 0, 0, time.UTC)
	ctx := clock.With(context.Background(), func() time.Time { return now })

	repo := memory.New()
	chatClient := &recordingChat{}
	authClient := auth.NewNoop()
	catalog := gt.R1(chat.NewCatalog()).NoError(t)

	a := gt.R1(alert.New(ctx,
		types.NewAlertFingerprint(),
		types.UserName("alice"),
		"SSH login from new host",
		"Login to prod-bastion from 203.0.113.7",
		"first login from this address",
	)).NoError(t)
	a.Status = types.AlertStatusInProgress
	gt.NoError(t, repo.PutAlert(ctx, *a))

	u := &user.User{ID: "U001", Name: "alice", RealName: "Alice Example", CanAuth: canAuth}

	ag := agent.New(agent.Deps{
		Repo:          repo,
		Chat:          chatClient,
		Auth:          authClient,
		Catalog:       catalog,
		Policy:        escalation.NewPolicy(),
		ReportChannel: types.ChannelID("C-SECURITY"),
	}, a, u)

	return &fixture{agent: ag, chat: chatClient, auth: authClient, repo: repo, alert: a, now: &now, ctx: ctx}
}

func (f *fixture) stored(t *testing.T) *alert.Alert {
	return gt.R1(f.repo.GetAlert(f.ctx, f.alert.Fingerprint)).NoError(t)
}

func TestAgentAffirmWithAuth(t *testing.T) {
	f := newFixture(t, true)

	gt.NoError(t, f.agent.Start(f.ctx, true))
	gt.Equal(t, f.agent.State(), types.AgentStateAwaitingResponse)
	gt.A(t, f.chat.sent).Length(3) // greeting, alert, prompt

	gt.NoError(t, f.agent.HandleCommand(f.ctx, command.Parse("yes")))
	gt.Equal(t, f.agent.State(), types.AgentStateAwaitingAuth)

	// The noop client approves on first poll.
	gt.NoError(t, f.agent.Tick(f.ctx))
	gt.True(t, f.agent.Done())

	stored := f.stored(t)
	gt.Equal(t, stored.Status, types.AlertStatusComplete)
	gt.True(t, stored.Response.Performed)
	gt.True(t, stored.Response.Authenticated)
	gt.A(t, f.chat.channelNotices()).Length(0)
}

func TestAgentAffirmWithoutAuthDevice(t *testing.T) {
	f := newFixture(t, false)

	gt.NoError(t, f.agent.Start(f.ctx, true))
	gt.NoError(t, f.agent.HandleCommand(f.ctx, command.Parse("yes")))
	gt.True(t, f.agent.Done())

	stored := f.stored(t)
	gt.True(t, stored.Response.Performed)
	gt.False(t, stored.Response.Authenticated)
}

func TestAgentDenyEscalates(t *testing.T) {
	f := newFixture(t, true)

	gt.NoError(t, f.agent.Start(f.ctx, false))
	gt.NoError(t, f.agent.HandleCommand(f.ctx, command.Parse("no I was asleep")))
	gt.True(t, f.agent.Done())
	gt.Equal(t, f.agent.EscalateReason(), types.EscalateReasonDenied)

	notices := f.chat.channelNotices()
	gt.A(t, notices).Length(1)
	gt.True(t, strings.Contains(notices[0].text, "SSH login from new host"))
	gt.True(t, strings.Contains(notices[0].text, "I was asleep"))

	stored := f.stored(t)
	gt.Equal(t, stored.Status, types.AlertStatusComplete)
	gt.False(t, stored.Response.Performed)
}

func TestAgentAuthDeniedEscalates(t *testing.T) {
	f := newFixture(t, true)

	f.auth.SetOutcome(types.AuthStatusDenied)
	gt.NoError(t, f.agent.Start(f.ctx, false))
	gt.NoError(t, f.agent.HandleCommand(f.ctx, command.Parse("yes")))
	gt.Equal(t, f.agent.State(), types.AgentStateAwaitingAuth)

	gt.NoError(t, f.agent.Tick(f.ctx))
	gt.True(t, f.agent.Done())
	gt.Equal(t, f.agent.EscalateReason(), types.EscalateReasonAuthDenied)

	stored := f.stored(t)
	gt.True(t, stored.Response.Performed)
	gt.False(t, stored.Response.Authenticated)
}

func TestAgentResponseTimeoutEscalates(t *testing.T) {
	f := newFixture(t, true)

	gt.NoError(t, f.agent.Start(f.ctx, false))
	gt.Equal(t, f.agent.State(), types.AgentStateAwaitingResponse)

	*f.now = f.now.Add(escalation.DefaultResponseTimeout + time.Minute)
	gt.NoError(t, f.agent.Tick(f.ctx))
	gt.True(t, f.agent.Done())
	gt.Equal(t, f.agent.EscalateReason(), types.EscalateReasonResponseTimeout)
	gt.A(t, f.chat.channelNotices()).Length(1)
}

func TestAgentMalformedResponsesEscalate(t *testing.T) {
	f := newFixture(t, true)

	gt.NoError(t, f.agent.Start(f.ctx, false))
	gt.NoError(t, f.agent.HandleCommand(f.ctx, command.Parse("maybe")))
	gt.NoError(t, f.agent.HandleCommand(f.ctx, command.Parse("what alert")))
	gt.Equal(t, f.agent.State(), types.AgentStateAwaitingResponse)

	gt.NoError(t, f.agent.HandleCommand(f.ctx, command.Parse("dunno")))
	gt.True(t, f.agent.Done())
	gt.Equal(t, f.agent.EscalateReason(), types.EscalateReasonRetryExceeded)

	stored := f.stored(t)
	gt.True(t, strings.Contains(stored.Response.Comment, "maybe"))
	gt.True(t, strings.Contains(stored.Response.Comment, "dunno"))
}

func TestAgentIgnoreCommand(t *testing.T) {
	f := newFixture(t, true)

	gt.NoError(t, f.agent.Start(f.ctx, false))
	gt.NoError(t, f.agent.HandleCommand(f.ctx, command.Parse("ignore 1h30m")))
	gt.True(t, f.agent.Done())

	entry := gt.R1(f.repo.ActiveIgnore(f.ctx, types.UserName("alice"), "SSH login from new host")).NoError(t)
	gt.NotNil(t, entry)
	gt.Equal(t, entry.ExpiresAt, f.now.Add(90*time.Minute))

	// No escalation notice for a user snooze.
	gt.A(t, f.chat.channelNotices()).Length(0)
}

func TestAgentCommentBufferedDuringAuth(t *testing.T) {
	f := newFixture(t, true)

	gt.NoError(t, f.agent.Start(f.ctx, false))
	gt.NoError(t, f.agent.HandleCommand(f.ctx, command.Parse("yes")))
	gt.Equal(t, f.agent.State(), types.AgentStateAwaitingAuth)

	gt.NoError(t, f.agent.HandleCommand(f.ctx, command.Parse("it was me from the hotel wifi")))
	gt.Equal(t, f.agent.State(), types.AgentStateAwaitingAuth)

	gt.NoError(t, f.agent.Tick(f.ctx))
	stored := f.stored(t)
	gt.True(t, strings.Contains(stored.Response.Comment, "hotel wifi"))
}

func TestAgentAuthErrorEscalates(t *testing.T) {
	f := newFixture(t, true)

	f.auth.SetOutcome(types.AuthStatusError)
	gt.NoError(t, f.agent.Start(f.ctx, false))
	gt.NoError(t, f.agent.HandleCommand(f.ctx, command.Parse("yes")))

	gt.NoError(t, f.agent.Tick(f.ctx))
	gt.True(t, f.agent.Done())
	gt.Equal(t, f.agent.EscalateReason(), types.EscalateReasonAuthDenied)
}

// flakyRepo fails a number of saves before behaving again.
type flakyRepo struct {
	interfaces.Repository
	failPuts int
}

func (x *flakyRepo) PutAlert(ctx context.Context, a alert.Alert) error {
	if x.failPuts > 0 {
		x.failPuts--
		return goerr.New("store unavailable")
	}
	return x.Repository.PutAlert(ctx, a)
}

func TestAgentFinalizeRetriedAfterStoreFailure(t *testing.T) {
	now := time.Date(2025, 3, 3, 11, 0, 0, 0, time.UTC)
	ctx := clock.With(context.Background(), func() time.Time { return now })

	mem := memory.New()
	repo := &flakyRepo{Repository: mem}
	chatClient := &recordingChat{}
	catalog := gt.R1(chat.NewCatalog()).NoError(t)

	a := gt.R1(alert.New(ctx,
		types.NewAlertFingerprint(),
		types.UserName("alice"),
		"SSH login from new host",
		"desc", "reason",
	)).NoError(t)
	a.Status = types.AlertStatusInProgress
	gt.NoError(t, mem.PutAlert(ctx, *a))

	ag := agent.New(agent.Deps{
		Repo:          repo,
		Chat:          chatClient,
		Auth:          auth.NewNoop(),
		Catalog:       catalog,
		Policy:        escalation.NewPolicy(),
		ReportChannel: types.ChannelID("C-SECURITY"),
	}, a, &user.User{ID: "U001", Name: "alice", CanAuth: true})

	gt.NoError(t, ag.Start(ctx, true))

	repo.failPuts = 1
	gt.Error(t, ag.HandleCommand(ctx, command.Parse("no")))
	gt.False(t, ag.Done())
	gt.Equal(t, ag.State(), types.AgentStateEscalated)

	// The store heals; the next tick lands the terminal save.
	gt.NoError(t, ag.Tick(ctx))
	gt.True(t, ag.Done())

	stored := gt.R1(mem.GetAlert(ctx, a.Fingerprint)).NoError(t)
	gt.Equal(t, stored.Status, types.AlertStatusComplete)
	gt.False(t, stored.Response.Performed)
}
