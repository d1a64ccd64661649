package agent

import (
	"context"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/vigil/pkg/domain/interfaces"
	"github.com/secmon-lab/vigil/pkg/domain/model/alert"
	"github.com/secmon-lab/vigil/pkg/domain/model/errs"
	"github.com/secmon-lab/vigil/pkg/domain/model/suppress"
	"github.com/secmon-lab/vigil/pkg/domain/model/user"
	"github.com/secmon-lab/vigil/pkg/domain/types"
	"github.com/secmon-lab/vigil/pkg/service/chat"
	"github.com/secmon-lab/vigil/pkg/service/command"
	"github.com/secmon-lab/vigil/pkg/service/escalation"
	"github.com/secmon-lab/vigil/pkg/utils/clock"
	"github.com/secmon-lab/vigil/pkg/utils/logging"
)

// Deps are the collaborators one verification session needs. The dispatch
// loop owns them and shares the same set across all live agents.
type Deps struct {
	Repo    interfaces.Repository
	Chat    interfaces.ChatClient
	Auth    interfaces.AuthClient
	Catalog *chat.Catalog
	Policy  *escalation.Policy

	// ReportChannel receives escalation notices. Empty disables channel
	// reporting; escalations are then only logged.
	ReportChannel types.ChannelID
}

// Agent drives the verification conversation for exactly one alert with
// exactly one user. It is a plain state machine: every externally triggered
// change comes in through HandleCommand or Tick, both called from a single
// dispatch goroutine per agent, so the struct needs no locking.
type Agent struct {
	deps  Deps
	alert *alert.Alert
	user  *user.User

	state     types.AgentState
	enteredAt time.Time

	performed     bool
	authenticated bool
	retries       int
	comments      []string

	authSession types.AuthSessionID
	reason      types.EscalateReason
}

func New(deps Deps, a *alert.Alert, u *user.User) *Agent {
	return &Agent{
		deps:  deps,
		alert: a,
		user:  u,
		state: types.AgentStateCreated,
	}
}

func (x *Agent) State() types.AgentState           { return x.state }
func (x *Agent) Alert() *alert.Alert               { return x.alert }
func (x *Agent) User() *user.User                  { return x.user }
func (x *Agent) Done() bool                        { return x.state.Terminal() }
func (x *Agent) EscalateReason() types.EscalateReason { return x.reason }

// Start opens the conversation: greeting (only for the first alert of a
// session), the alert body, and the yes/no prompt. A delivery failure leaves
// the agent in created so the dispatch loop can retry or give up.
func (x *Agent) Start(ctx context.Context, greet bool) error {
	if x.state != types.AgentStateCreated {
		return goerr.New("agent already started",
			goerr.T(errs.TagInvariant),
			goerr.V("state", x.state))
	}

	if greet {
		if err := x.say(ctx, "greeting", map[string]any{"Name": x.user.DisplayName()}); err != nil {
			return err
		}
	}
	if err := x.say(ctx, "alert", map[string]any{
		"Title":       x.alert.Title,
		"Description": x.alert.Description,
		"Reason":      x.alert.Reason,
	}); err != nil {
		return err
	}
	if err := x.say(ctx, "action_prompt", nil); err != nil {
		return err
	}

	x.transition(ctx, types.AgentStateAwaitingResponse)
	return nil
}

// HandleCommand applies one interpreted user message to the session.
func (x *Agent) HandleCommand(ctx context.Context, cmd command.Command) error {
	switch x.state {
	case types.AgentStateAwaitingResponse:
		return x.handleResponse(ctx, cmd)
	case types.AgentStateAwaitingAuth:
		// The user typed while a push is pending. Whatever they said is
		// context worth keeping, but it cannot settle the challenge.
		if cmd.Text != "" {
			x.comments = append(x.comments, cmd.Text)
		}
		return nil
	default:
		logging.From(ctx).Debug("message ignored in current state",
			"state", x.state, "user", x.user.Name)
		return nil
	}
}

func (x *Agent) handleResponse(ctx context.Context, cmd command.Command) error {
	switch cmd.Kind {
	case types.CommandGreet:
		return x.say(ctx, "hi", map[string]any{"Name": x.user.DisplayName()})

	case types.CommandHelp:
		return x.say(ctx, "help", nil)

	case types.CommandAffirm:
		if cmd.Text != "" {
			x.comments = append(x.comments, cmd.Text)
		}
		x.performed = true
		return x.startAuth(ctx)

	case types.CommandDeny:
		if cmd.Text != "" {
			x.comments = append(x.comments, cmd.Text)
		}
		x.performed = false
		if err := x.say(ctx, "escalated", nil); err != nil {
			return err
		}
		return x.Escalate(ctx, types.EscalateReasonDenied)

	case types.CommandIgnore:
		return x.ignore(ctx, cmd.Duration)

	default:
		if cmd.Text != "" {
			x.comments = append(x.comments, cmd.Text)
		}
		x.retries++
		if x.deps.Policy.RetryExceeded(x.retries) {
			return x.Escalate(ctx, types.EscalateReasonRetryExceeded)
		}
		return x.say(ctx, "bad_command", nil)
	}
}

// startAuth begins 2FA confirmation of an affirmed action, or reports
// directly when the user has no push-capable device.
func (x *Agent) startAuth(ctx context.Context) error {
	if !x.user.CanAuth {
		if err := x.say(ctx, "no_2fa", nil); err != nil {
			return err
		}
		return x.report(ctx)
	}

	session, err := x.deps.Auth.StartChallenge(ctx, x.user.Name, x.alert.Title)
	if err != nil {
		// Challenge issuance failing is the vendor's problem, not the
		// user's. Degrade to an unauthenticated report.
		errs.Handle(ctx, goerr.Wrap(err, "failed to start 2FA challenge",
			goerr.V("user", x.user.Name)))
		if err := x.say(ctx, "no_2fa", nil); err != nil {
			return err
		}
		return x.report(ctx)
	}

	x.authSession = session
	if err := x.say(ctx, "sending_push", nil); err != nil {
		return err
	}
	x.transition(ctx, types.AgentStateAwaitingAuth)
	return nil
}

func (x *Agent) ignore(ctx context.Context, ttl time.Duration) error {
	entry, err := suppress.NewIgnore(ctx, x.user.Name, x.alert.Title, "requested by user", ttl)
	if err != nil {
		return err
	}
	if err := x.deps.Repo.PutIgnore(ctx, entry); err != nil {
		return goerr.Wrap(err, "failed to store ignore entry")
	}

	if err := x.say(ctx, "ignored", map[string]any{
		"Title": x.alert.Title,
		"Until": entry.ExpiresAt.Format(time.RFC822),
	}); err != nil {
		return err
	}

	x.comments = append(x.comments, "user snoozed this alert class")
	return x.report(ctx)
}

// Tick advances the session on timers: pending push polling and timeout
// escalation. Called once per dispatch tick.
func (x *Agent) Tick(ctx context.Context) error {
	switch x.state {
	case types.AgentStateAwaitingAuth:
		if err := x.pollAuth(ctx); err != nil {
			return err
		}
	case types.AgentStateEscalated, types.AgentStateReported:
		// A store failure interrupted the terminal save. Finalize is
		// idempotent for the same response, so keep retrying here until
		// the save lands and the session becomes reapable.
		return x.finalize(ctx, x.performed, x.authenticated)
	}

	if reason, ok := x.deps.Policy.ShouldEscalate(x.state, x.enteredAt, clock.Now(ctx)); ok {
		if x.state == types.AgentStateAwaitingResponse {
			if err := x.say(ctx, "no_response", nil); err != nil {
				return err
			}
		}
		return x.Escalate(ctx, reason)
	}
	return nil
}

func (x *Agent) pollAuth(ctx context.Context) error {
	status, err := x.deps.Auth.PollStatus(ctx, x.authSession)
	if err != nil {
		// Transient poll failures resolve themselves; the auth timeout
		// bounds how long we keep trying.
		logging.From(ctx).Warn("2FA status poll failed",
			"user", x.user.Name, logging.ErrAttr(err))
		return nil
	}

	if !status.Settled() {
		return nil
	}

	if status == types.AuthStatusApproved {
		x.authenticated = true
		if err := x.say(ctx, "good_auth", nil); err != nil {
			return err
		}
		return x.report(ctx)
	}

	// Denied, or the provider settled on something unexpected. Either way
	// the challenge cannot succeed anymore.
	if err := x.say(ctx, "bad_auth", nil); err != nil {
		return err
	}
	return x.Escalate(ctx, types.EscalateReasonAuthDenied)
}

// report closes a session the user resolved themselves.
func (x *Agent) report(ctx context.Context) error {
	x.transition(ctx, types.AgentStateReported)
	return x.finalize(ctx, x.performed, x.authenticated)
}

// Escalate hands the session to the security team and closes it. The alert is
// still finalized so the dashboard shows the outcome.
func (x *Agent) Escalate(ctx context.Context, reason types.EscalateReason) error {
	x.reason = reason
	x.transition(ctx, types.AgentStateEscalated)

	if x.deps.ReportChannel != "" {
		notice, err := x.deps.Catalog.Render("report", map[string]any{
			"Title":       x.alert.Title,
			"User":        x.user.Name,
			"Reason":      reason.String(),
			"Elapsed":     humanize.Time(x.alert.CreatedAt),
			"Description": x.alert.Description,
			"Comment":     x.comment(),
			"URL":         x.alert.URL,
		})
		if err != nil {
			return err
		}
		if err := x.deps.Chat.SendToChannel(ctx, x.deps.ReportChannel, notice); err != nil {
			errs.Handle(ctx, goerr.Wrap(err, "failed to deliver escalation notice",
				goerr.T(errs.TagSlackError),
				goerr.V("channel", x.deps.ReportChannel)))
		}
	} else {
		logging.From(ctx).Warn("alert escalated without report channel",
			"fingerprint", x.alert.Fingerprint,
			"user", x.user.Name,
			"reason", reason)
	}

	return x.finalize(ctx, x.performed, x.authenticated)
}

// finalize persists the terminal response and completes the session.
func (x *Agent) finalize(ctx context.Context, performed, authenticated bool) error {
	resp := alert.Response{
		Performed:     performed,
		Authenticated: authenticated,
		Comment:       x.comment(),
	}
	if err := x.alert.Finalize(ctx, resp); err != nil {
		return err
	}
	if err := x.deps.Repo.PutAlert(ctx, *x.alert); err != nil {
		return goerr.Wrap(err, "failed to persist completed alert",
			goerr.T(errs.TagDatabase),
			goerr.V("fingerprint", x.alert.Fingerprint))
	}

	x.transition(ctx, types.AgentStateComplete)
	return nil
}

func (x *Agent) comment() string {
	return strings.Join(x.comments, " / ")
}

func (x *Agent) say(ctx context.Context, key string, data any) error {
	text, err := x.deps.Catalog.Render(key, data)
	if err != nil {
		return err
	}
	if err := x.deps.Chat.SendDirect(ctx, x.user.ID, text); err != nil {
		return goerr.Wrap(err, "failed to send direct message",
			goerr.T(errs.TagSlackError),
			goerr.T(errs.TagUndeliverable),
			goerr.V("user", x.user.Name),
			goerr.V("key", key))
	}
	return nil
}

func (x *Agent) transition(ctx context.Context, next types.AgentState) {
	logging.From(ctx).Debug("agent state transition",
		"user", x.user.Name,
		"fingerprint", x.alert.Fingerprint,
		"from", x.state,
		"to", next)
	x.state = next
	x.enteredAt = clock.Now(ctx)
}
