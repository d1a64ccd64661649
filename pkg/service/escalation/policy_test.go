package escalation_test

import (
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/vigil/pkg/domain/types"
	"github.com/secmon-lab/vigil/pkg/service/escalation"
)

func TestShouldEscalate(t *testing.T) {
	policy := escalation.NewPolicy()
	entered := time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC) // Monday

	t.Run("awaiting_response within timeout", func(t *testing.T) {
		_, ok := policy.ShouldEscalate(types.AgentStateAwaitingResponse, entered, entered.Add(time.Hour))
		gt.False(t, ok)
	})

	t.Run("awaiting_response past timeout", func(t *testing.T) {
		reason, ok := policy.ShouldEscalate(types.AgentStateAwaitingResponse, entered, entered.Add(3*time.Hour))
		gt.True(t, ok)
		gt.Equal(t, reason, types.EscalateReasonResponseTimeout)
	})

	t.Run("awaiting_auth past timeout", func(t *testing.T) {
		reason, ok := policy.ShouldEscalate(types.AgentStateAwaitingAuth, entered, entered.Add(11*time.Minute))
		gt.True(t, ok)
		gt.Equal(t, reason, types.EscalateReasonAuthTimeout)
	})

	t.Run("other states never time out", func(t *testing.T) {
		_, ok := policy.ShouldEscalate(types.AgentStateEscalated, entered, entered.Add(24*time.Hour))
		gt.False(t, ok)
	})
}

func TestRetryExceeded(t *testing.T) {
	policy := escalation.NewPolicy()
	gt.False(t, policy.RetryExceeded(2))
	gt.True(t, policy.RetryExceeded(3))
}

func TestResponseDeadline(t *testing.T) {
	policy := escalation.NewPolicy()
	policy.BusinessHours = time.UTC

	t.Run("deadline inside business hours is unchanged", func(t *testing.T) {
		start := time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC) // Monday 09:00
		gt.Equal(t, policy.ResponseDeadline(start), start.Add(2*time.Hour))
	})

	t.Run("deadline past closing rolls into next morning", func(t *testing.T) {
		start := time.Date(2024, 4, 1, 17, 30, 0, 0, time.UTC) // Monday 17:30
		want := time.Date(2024, 4, 2, 11, 30, 0, 0, time.UTC)  // Tuesday 11:30
		gt.Equal(t, policy.ResponseDeadline(start), want)
	})

	t.Run("friday evening rolls over the weekend", func(t *testing.T) {
		start := time.Date(2024, 4, 5, 17, 30, 0, 0, time.UTC) // Friday 17:30
		want := time.Date(2024, 4, 8, 11, 30, 0, 0, time.UTC)  // Monday 11:30
		gt.Equal(t, policy.ResponseDeadline(start), want)
	})

	t.Run("stretching disabled without location", func(t *testing.T) {
		plain := escalation.NewPolicy()
		start := time.Date(2024, 4, 5, 17, 30, 0, 0, time.UTC)
		gt.Equal(t, plain.ResponseDeadline(start), start.Add(2*time.Hour))
	})
}
