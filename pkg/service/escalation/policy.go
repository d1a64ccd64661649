package escalation

import (
	"time"

	"github.com/secmon-lab/vigil/pkg/domain/types"
)

const (
	DefaultResponseTimeout = 2 * time.Hour
	DefaultAuthTimeout     = 10 * time.Minute
	DefaultMaxRetries      = 3
	DefaultBackoffTTL      = 21 * time.Hour

	// Business hours window for deadline stretching.
	OpeningHour = 10
	ClosingHour = 18
)

// Policy centralizes every time-based threshold of the verification flow so
// the agent state machine stays free of tuning knobs.
type Policy struct {
	// ResponseTimeout bounds time in awaiting_response.
	ResponseTimeout time.Duration
	// AuthTimeout bounds time in awaiting_auth.
	AuthTimeout time.Duration
	// MaxRetries bounds malformed responses before escalation.
	MaxRetries int
	// BackoffTTL is how long an alert class is auto-ignored for a user after
	// they confirmed performing the action.
	BackoffTTL time.Duration
	// BusinessHours, when set, stretches response deadlines that would expire
	// outside the 10:00-18:00 weekday window in that location. Nil disables
	// stretching.
	BusinessHours *time.Location
}

func NewPolicy() *Policy {
	return &Policy{
		ResponseTimeout: DefaultResponseTimeout,
		AuthTimeout:     DefaultAuthTimeout,
		MaxRetries:      DefaultMaxRetries,
		BackoffTTL:      DefaultBackoffTTL,
	}
}

// ShouldEscalate decides whether a timeout-driven escalation applies to an
// agent that entered its current state at enteredAt.
func (p *Policy) ShouldEscalate(state types.AgentState, enteredAt, now time.Time) (types.EscalateReason, bool) {
	switch state {
	case types.AgentStateAwaitingResponse:
		if now.After(p.ResponseDeadline(enteredAt)) {
			return types.EscalateReasonResponseTimeout, true
		}
	case types.AgentStateAwaitingAuth:
		if now.After(enteredAt.Add(p.AuthTimeout)) {
			return types.EscalateReasonAuthTimeout, true
		}
	}
	return "", false
}

// RetryExceeded reports whether the malformed-response count passed the limit.
func (p *Policy) RetryExceeded(count int) bool {
	return count >= p.MaxRetries
}

// ResponseDeadline computes when an unanswered prompt escalates. With business
// hours configured, deadlines that would land outside the window roll forward
// into the next business window so prompts sent late in the day survive until
// morning.
func (p *Policy) ResponseDeadline(start time.Time) time.Time {
	end := start.Add(p.ResponseTimeout)
	if p.BusinessHours == nil || p.duringBusinessHours(end) {
		return end
	}

	local := end.In(p.BusinessHours)
	endOfDay := time.Date(local.Year(), local.Month(), local.Day(), ClosingHour, 0, 0, 0, p.BusinessHours)
	if local.Before(endOfDay) {
		// Before opening or on a weekend: treat the previous closing as the
		// cutoff so the overflow carries into the next window.
		endOfDay = endOfDay.Add(-24 * time.Hour)
	}
	overflow := local.Sub(endOfDay)

	next := endOfDay.Add(time.Duration((OpeningHour-ClosingHour+24)%24) * time.Hour)
	for !p.duringBusinessHours(next) {
		next = next.Add(24 * time.Hour)
	}
	return next.Add(overflow)
}

func (p *Policy) duringBusinessHours(t time.Time) bool {
	local := t.In(p.BusinessHours)
	wd := local.Weekday()
	if wd == time.Saturday || wd == time.Sunday {
		return false
	}
	return OpeningHour <= local.Hour() && local.Hour() < ClosingHour
}
