package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/opaq"
	"github.com/secmon-lab/vigil/pkg/domain/interfaces"
	"github.com/secmon-lab/vigil/pkg/domain/model/alert"
	"github.com/secmon-lab/vigil/pkg/domain/model/errs"
	"github.com/secmon-lab/vigil/pkg/domain/model/suppress"
	"github.com/secmon-lab/vigil/pkg/domain/model/user"
	"github.com/secmon-lab/vigil/pkg/domain/types"
	"github.com/secmon-lab/vigil/pkg/service/agent"
	"github.com/secmon-lab/vigil/pkg/service/chat"
	"github.com/secmon-lab/vigil/pkg/service/command"
	"github.com/secmon-lab/vigil/pkg/service/directory"
	"github.com/secmon-lab/vigil/pkg/service/escalation"
	"github.com/secmon-lab/vigil/pkg/utils/logging"
	"golang.org/x/sync/errgroup"
)

const (
	defaultTickInterval = 5 * time.Second
	maxDeliveryRetries  = 3
	triageQueryPath     = "data.alert.triage"
)

// triageResult is the policy gate verdict for one incoming alert.
type triageResult struct {
	Action string `json:"action"`
}

const (
	triageHandle   = "handle"
	triageDrop     = "drop"
	triageEscalate = "escalate"
)

// Loop is the dispatch core: it claims new alerts, pairs each with a live
// verification agent, routes inbound chat to the right agent, and advances
// every session on a fixed tick. One Loop per deployment; all mutable state
// is guarded by a single mutex so HTTP-triggered operations like Cancel can
// interleave safely with the ticker.
type Loop struct {
	repo      interfaces.Repository
	chatSvc   interfaces.ChatClient
	authSvc   interfaces.AuthClient
	directory *directory.Service
	catalog   *chat.Catalog
	policy    *escalation.Policy
	gate      interfaces.PolicyClient

	reportChannel types.ChannelID
	tick          time.Duration

	mu        sync.Mutex
	active    map[types.UserName]*agent.Agent
	queues    map[types.UserName]alert.Alerts
	inSession map[types.UserName]bool
	failures  map[types.AlertFingerprint]int
}

type Option func(*Loop)

func WithRepository(repo interfaces.Repository) Option {
	return func(x *Loop) { x.repo = repo }
}

func WithChat(c interfaces.ChatClient) Option {
	return func(x *Loop) { x.chatSvc = c }
}

func WithAuth(a interfaces.AuthClient) Option {
	return func(x *Loop) { x.authSvc = a }
}

func WithDirectory(d *directory.Service) Option {
	return func(x *Loop) { x.directory = d }
}

func WithCatalog(c *chat.Catalog) Option {
	return func(x *Loop) { x.catalog = c }
}

func WithEscalationPolicy(p *escalation.Policy) Option {
	return func(x *Loop) { x.policy = p }
}

// WithPolicyGate installs a Rego triage gate consulted for every claimed
// alert. Without one every alert is handled.
func WithPolicyGate(gate interfaces.PolicyClient) Option {
	return func(x *Loop) { x.gate = gate }
}

func WithReportChannel(ch types.ChannelID) Option {
	return func(x *Loop) { x.reportChannel = ch }
}

func WithTickInterval(d time.Duration) Option {
	return func(x *Loop) { x.tick = d }
}

func New(opts ...Option) (*Loop, error) {
	x := &Loop{
		tick:      defaultTickInterval,
		active:    map[types.UserName]*agent.Agent{},
		queues:    map[types.UserName]alert.Alerts{},
		inSession: map[types.UserName]bool{},
		failures:  map[types.AlertFingerprint]int{},
	}
	for _, opt := range opts {
		opt(x)
	}

	if x.repo == nil || x.chatSvc == nil || x.authSvc == nil || x.directory == nil {
		return nil, goerr.New("dispatch loop requires repository, chat, auth and directory")
	}
	if x.catalog == nil {
		catalog, err := chat.NewCatalog()
		if err != nil {
			return nil, err
		}
		x.catalog = catalog
	}
	if x.policy == nil {
		x.policy = escalation.NewPolicy()
	}
	return x, nil
}

// Run blocks until the context is cancelled, stepping the loop on every tick.
// Alerts left in progress by a previous process are recovered first.
func (x *Loop) Run(ctx context.Context) error {
	if err := x.Recover(ctx); err != nil {
		return err
	}

	logger := logging.From(ctx)
	logger.Info("dispatch loop started", "tick", x.tick)

	ticker := time.NewTicker(x.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("dispatch loop stopped")
			return nil
		case <-ticker.C:
			x.Step(ctx)
		}
	}
}

// Recover re-enqueues alerts that were in progress when the previous process
// died, so a restart resumes their verification instead of stranding them.
func (x *Loop) Recover(ctx context.Context) error {
	alerts, err := x.repo.GetAlertsByStatus(ctx, types.AlertStatusInProgress)
	if err != nil {
		return goerr.Wrap(err, "failed to load in-progress alerts for recovery")
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	for _, a := range alerts {
		x.queues[a.UserName] = append(x.queues[a.UserName], a)
	}
	if len(alerts) > 0 {
		logging.From(ctx).Info("recovered in-progress alerts", "count", len(alerts))
	}
	return nil
}

// Step runs one full dispatch pass: inbound routing, claiming, session
// starts, agent advancement, and reaping. Errors inside a phase are reported
// and absorbed so one bad alert or one flaky vendor call never stalls the
// other sessions.
func (x *Loop) Step(ctx context.Context) {
	x.mu.Lock()
	defer x.mu.Unlock()

	x.routeInbound(ctx)
	x.claimAlerts(ctx)
	x.startSessions(ctx)
	x.advanceAgents(ctx)
	x.reapAgents(ctx)
}

func (x *Loop) routeInbound(ctx context.Context) {
	for _, msg := range x.chatSvc.PollInbound(ctx) {
		u, err := x.directory.LookupByID(ctx, msg.UserID)
		if err != nil {
			logging.From(ctx).Warn("inbound message from unknown user",
				"user_id", msg.UserID, logging.ErrAttr(err))
			continue
		}

		cmd := command.Parse(msg.Text)

		// The test command works with or without an active session.
		if cmd.Kind == types.CommandTest {
			if err := x.fileTestAlert(ctx, u.Name); err != nil {
				errs.Handle(ctx, err)
			}
			continue
		}

		if ag, ok := x.active[u.Name]; ok {
			if err := ag.HandleCommand(ctx, cmd); err != nil {
				errs.Handle(ctx, err)
			}
			continue
		}
		x.handleIdleUser(ctx, u, cmd)
	}
}

// handleIdleUser answers a user who has no alert waiting on them.
func (x *Loop) handleIdleUser(ctx context.Context, u *user.User, cmd command.Command) {
	var key string
	var data any
	switch cmd.Kind {
	case types.CommandGreet:
		key, data = "hi", map[string]any{"Name": u.DisplayName()}
	case types.CommandHelp:
		key = "help"
	default:
		key = "nothing_to_do"
	}

	text, err := x.catalog.Render(key, data)
	if err != nil {
		errs.Handle(ctx, err)
		return
	}
	if err := x.chatSvc.SendDirect(ctx, u.ID, text); err != nil {
		errs.Handle(ctx, goerr.Wrap(err, "failed to reply to idle user",
			goerr.T(errs.TagSlackError), goerr.V("user", u.Name)))
	}
}

// fileTestAlert stores a synthetic alert for the requesting user. It flows
// through the normal claim path like any other alert.
func (x *Loop) fileTestAlert(ctx context.Context, name types.UserName) error {
	a, err := alert.New(ctx, types.NewAlertFingerprint(), name,
		"Test alert",
		"This is a synthetic alert you requested with the test command.",
		"user-requested test")
	if err != nil {
		return err
	}
	if err := x.repo.PutAlert(ctx, *a); err != nil {
		return goerr.Wrap(err, "failed to store test alert")
	}
	logging.From(ctx).Info("test alert filed", "user", name, "fingerprint", a.Fingerprint)
	return nil
}

func (x *Loop) claimAlerts(ctx context.Context) {
	claimed, err := x.repo.ClaimNewAlerts(ctx)
	if err != nil {
		errs.Handle(ctx, goerr.Wrap(err, "failed to claim new alerts",
			goerr.T(errs.TagDatabase), goerr.T(errs.TagTransient)))
		return
	}

	for _, a := range claimed {
		x.admit(ctx, a)
	}
}

// admit decides what happens to one freshly claimed alert: drop, escalate
// without contact, or queue for its user.
func (x *Loop) admit(ctx context.Context, a *alert.Alert) {
	logger := logging.From(ctx)

	switch x.triage(ctx, a) {
	case triageDrop:
		logger.Info("alert dropped by triage policy", "fingerprint", a.Fingerprint, "title", a.Title)
		x.closeSilently(ctx, a, "dropped by triage policy")
		return
	case triageEscalate:
		x.escalateUnattended(ctx, a, types.EscalateReasonPolicy)
		return
	}

	blacklisted, err := x.repo.IsBlacklisted(ctx, a.UserName)
	if err != nil {
		errs.Handle(ctx, goerr.Wrap(err, "blacklist check failed", goerr.T(errs.TagDatabase)))
	}
	if blacklisted {
		logger.Info("alert for blacklisted user", "fingerprint", a.Fingerprint, "user", a.UserName)
		x.closeSilently(ctx, a, "blacklisted")
		return
	}

	if entry, err := x.repo.ActiveIgnore(ctx, a.UserName, a.Title); err != nil {
		errs.Handle(ctx, goerr.Wrap(err, "ignore lookup failed", goerr.T(errs.TagDatabase)))
	} else if entry != nil {
		logger.Info("alert suppressed by ignore",
			"fingerprint", a.Fingerprint,
			"user", a.UserName,
			"until", entry.ExpiresAt)
		x.closeSilently(ctx, a, types.EscalateReasonIgnored.String()+": "+entry.Reason)
		return
	}

	if _, err := x.directory.Lookup(ctx, a.UserName); err != nil {
		logger.Warn("alert for unknown user", "fingerprint", a.Fingerprint, "user", a.UserName)
		x.escalateUnattended(ctx, a, types.EscalateReasonUnknownUser)
		return
	}

	x.queues[a.UserName] = append(x.queues[a.UserName], a)
}

// triage consults the Rego gate. Absent policy or gate means handle.
func (x *Loop) triage(ctx context.Context, a *alert.Alert) string {
	if x.gate == nil {
		return triageHandle
	}

	input := map[string]any{
		"title":       a.Title,
		"user":        a.UserName,
		"description": a.Description,
		"reason":      a.Reason,
	}
	var result triageResult
	if err := x.gate.Query(ctx, triageQueryPath, input, &result); err != nil {
		if errors.Is(err, opaq.ErrNoEvalResult) {
			return triageHandle
		}
		errs.Handle(ctx, goerr.Wrap(err, "triage policy query failed",
			goerr.V("fingerprint", a.Fingerprint)))
		return triageHandle
	}

	switch result.Action {
	case triageDrop, triageEscalate:
		return result.Action
	default:
		return triageHandle
	}
}

// startSessions opens an agent for every user who has queued alerts and no
// active session. Delivery failures are retried a few ticks, then the alert
// escalates as undeliverable.
func (x *Loop) startSessions(ctx context.Context) {
	for name, queue := range x.queues {
		if len(queue) == 0 {
			delete(x.queues, name)
			continue
		}
		if _, busy := x.active[name]; busy {
			continue
		}

		a := queue[0]
		u, err := x.directory.Lookup(ctx, name)
		if err != nil {
			x.queues[name] = queue[1:]
			x.escalateUnattended(ctx, a, types.EscalateReasonUnknownUser)
			continue
		}

		ag := agent.New(x.agentDeps(), a, u)
		greet := !x.inSession[name]
		if !greet {
			if text, err := x.catalog.Render("between_alerts", nil); err == nil {
				if err := x.chatSvc.SendDirect(ctx, u.ID, text); err != nil {
					logging.From(ctx).Warn("between-alerts notice failed",
						"user", name, logging.ErrAttr(err))
				}
			}
		}

		if err := ag.Start(ctx, greet); err != nil {
			x.failures[a.Fingerprint]++
			if x.failures[a.Fingerprint] >= maxDeliveryRetries {
				logging.From(ctx).Error("alert undeliverable, escalating",
					"fingerprint", a.Fingerprint, "user", name, logging.ErrAttr(err))
				delete(x.failures, a.Fingerprint)
				x.queues[name] = queue[1:]
				x.escalateUnattended(ctx, a, types.EscalateReasonUndeliverable)
			} else {
				logging.From(ctx).Warn("alert delivery failed, will retry",
					"fingerprint", a.Fingerprint,
					"attempt", x.failures[a.Fingerprint],
					logging.ErrAttr(err))
			}
			continue
		}

		delete(x.failures, a.Fingerprint)
		x.queues[name] = queue[1:]
		x.active[name] = ag
		x.inSession[name] = true
	}
}

// advanceAgents ticks every live session concurrently. Each agent is owned by
// exactly one goroutine per tick; they share only thread-safe collaborators.
func (x *Loop) advanceAgents(ctx context.Context) {
	eg, egCtx := errgroup.WithContext(ctx)
	for _, ag := range x.active {
		eg.Go(func() error {
			if err := ag.Tick(egCtx); err != nil {
				errs.Handle(egCtx, goerr.Wrap(err, "agent tick failed",
					goerr.V("user", ag.User().Name),
					goerr.V("fingerprint", ag.Alert().Fingerprint)))
			}
			return nil
		})
	}
	// Tick errors are absorbed above; Wait only joins the goroutines.
	_ = eg.Wait()
}

// reapAgents removes finished sessions, files the auto-backoff ignore for
// confirmed alerts, and says goodbye to users with nothing left queued.
func (x *Loop) reapAgents(ctx context.Context) {
	for name, ag := range x.active {
		if !ag.Done() {
			continue
		}
		delete(x.active, name)

		a := ag.Alert()
		if ag.State() == types.AgentStateComplete && a.Response.Performed {
			x.fileBackoffIgnore(ctx, a)
		}

		x.closeSession(ctx, name, ag.User().ID)
	}
}

// closeSession releases the per-user session slot and says goodbye, unless
// another alert is still queued for the user.
func (x *Loop) closeSession(ctx context.Context, name types.UserName, id types.UserID) {
	if len(x.queues[name]) > 0 {
		return
	}
	delete(x.inSession, name)

	if text, err := x.catalog.Render("bye", nil); err == nil {
		if err := x.chatSvc.SendDirect(ctx, id, text); err != nil {
			logging.From(ctx).Warn("goodbye message failed",
				"user", name, logging.ErrAttr(err))
		}
	}
}

// fileBackoffIgnore stops re-asking a user about an alert class they just
// verified. A burst of identical alerts would otherwise re-prompt every time.
func (x *Loop) fileBackoffIgnore(ctx context.Context, a *alert.Alert) {
	entry, err := suppress.NewIgnore(ctx, a.UserName, a.Title, "recently verified", x.policy.BackoffTTL)
	if err != nil {
		errs.Handle(ctx, err)
		return
	}
	if err := x.repo.PutIgnore(ctx, entry); err != nil {
		errs.Handle(ctx, goerr.Wrap(err, "failed to store backoff ignore", goerr.T(errs.TagDatabase)))
	}
}

// Cancel aborts an in-flight verification by fingerprint, whether the alert
// is queued or mid-conversation. The alert completes as an escalation so its
// outcome stays visible.
func (x *Loop) Cancel(ctx context.Context, fingerprint types.AlertFingerprint) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	for name, ag := range x.active {
		if ag.Alert().Fingerprint != fingerprint {
			continue
		}
		if err := ag.Escalate(ctx, types.EscalateReasonCancelled); err != nil {
			return err
		}
		delete(x.active, name)
		x.closeSession(ctx, name, ag.User().ID)
		return nil
	}

	for name, queue := range x.queues {
		for i, a := range queue {
			if a.Fingerprint != fingerprint {
				continue
			}
			x.queues[name] = append(queue[:i:i], queue[i+1:]...)
			x.escalateUnattended(ctx, a, types.EscalateReasonCancelled)
			return nil
		}
	}

	return goerr.New("no in-flight alert with fingerprint",
		goerr.T(errs.TagNotFound),
		goerr.V("fingerprint", fingerprint))
}

// closeSilently completes an alert without contacting anyone.
func (x *Loop) closeSilently(ctx context.Context, a *alert.Alert, comment string) {
	resp := alert.Response{Performed: false, Authenticated: false, Comment: comment}
	if err := a.Finalize(ctx, resp); err != nil {
		errs.Handle(ctx, err)
		return
	}
	if err := x.repo.PutAlert(ctx, *a); err != nil {
		errs.Handle(ctx, goerr.Wrap(err, "failed to persist closed alert", goerr.T(errs.TagDatabase)))
	}
}

// escalateUnattended reports an alert to the security channel when no user
// conversation can or should happen.
func (x *Loop) escalateUnattended(ctx context.Context, a *alert.Alert, reason types.EscalateReason) {
	if x.reportChannel != "" {
		notice, err := x.catalog.Render("report", map[string]any{
			"Title":       a.Title,
			"User":        a.UserName,
			"Reason":      reason.String(),
			"Elapsed":     humanize.Time(a.CreatedAt),
			"Description": a.Description,
			"Comment":     "",
			"URL":         a.URL,
		})
		if err != nil {
			errs.Handle(ctx, err)
		} else if err := x.chatSvc.SendToChannel(ctx, x.reportChannel, notice); err != nil {
			errs.Handle(ctx, goerr.Wrap(err, "failed to deliver escalation notice",
				goerr.T(errs.TagSlackError)))
		}
	} else {
		logging.From(ctx).Warn("alert escalated without report channel",
			"fingerprint", a.Fingerprint, "reason", reason)
	}

	x.closeSilently(ctx, a, "escalated: "+reason.String())
}

// ActiveSessions reports how many verifications are live, for health output.
func (x *Loop) ActiveSessions() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.active)
}

func (x *Loop) agentDeps() agent.Deps {
	return agent.Deps{
		Repo:          x.repo,
		Chat:          x.chatSvc,
		Auth:          x.authSvc,
		Catalog:       x.catalog,
		Policy:        x.policy,
		ReportChannel: x.reportChannel,
	}
}
