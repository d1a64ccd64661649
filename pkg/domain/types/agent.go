package types

import "github.com/m-mizutani/goerr/v2"

// AgentState is the state of a live verification session between the bot and
// one user about one alert. It is transient and never persisted.
type AgentState string

const (
	AgentStateCreated          AgentState = "created"
	AgentStateAwaitingResponse AgentState = "awaiting_response"
	AgentStateAwaitingAuth     AgentState = "awaiting_auth"
	AgentStateEscalated        AgentState = "escalated"
	AgentStateReported         AgentState = "reported"
	AgentStateComplete         AgentState = "complete"
)

func (s AgentState) String() string {
	return string(s)
}

func (s AgentState) Validate() error {
	switch s {
	case AgentStateCreated, AgentStateAwaitingResponse, AgentStateAwaitingAuth,
		AgentStateEscalated, AgentStateReported, AgentStateComplete:
		return nil
	}
	return goerr.New("invalid agent state", goerr.V("state", s))
}

// Terminal returns true if the agent is eligible for reaping.
func (s AgentState) Terminal() bool {
	return s == AgentStateComplete
}

// EscalateReason explains why a session was escalated to the monitoring
// channel instead of resolved by the user.
type EscalateReason string

const (
	EscalateReasonDenied          EscalateReason = "action denied"
	EscalateReasonAuthDenied      EscalateReason = "2FA denied"
	EscalateReasonAuthTimeout     EscalateReason = "2FA timeout"
	EscalateReasonResponseTimeout EscalateReason = "response timeout"
	EscalateReasonRetryExceeded   EscalateReason = "too many malformed responses"
	EscalateReasonUndeliverable   EscalateReason = "undeliverable"
	EscalateReasonUnknownUser     EscalateReason = "unknown user"
	EscalateReasonIgnored         EscalateReason = "ignored alert class"
	EscalateReasonCancelled       EscalateReason = "cancelled"
	EscalateReasonPolicy          EscalateReason = "policy escalation"
)

func (r EscalateReason) String() string {
	return string(r)
}
