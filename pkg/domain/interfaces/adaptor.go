package interfaces

import (
	"context"

	"github.com/m-mizutani/opaq"
	"github.com/slack-go/slack"
)

// SlackClient is the narrow slice of the slack-go API the chat service needs.
// Kept small so tests can provide a fake without the full SDK surface.
type SlackClient interface {
	AuthTest() (*slack.AuthTestResponse, error)
	GetUsersContext(ctx context.Context, options ...slack.GetUsersOption) ([]slack.User, error)
	OpenConversationContext(ctx context.Context, params *slack.OpenConversationParameters) (*slack.Channel, bool, bool, error)
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// PolicyClient evaluates the optional Rego triage policy on alert intake.
type PolicyClient interface {
	Query(context.Context, string, any, any, ...opaq.QueryOption) error
	Sources() map[string]string
}
