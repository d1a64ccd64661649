package chat

import (
	"context"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/vigil/pkg/domain/interfaces"
	"github.com/secmon-lab/vigil/pkg/domain/model/errs"
	"github.com/secmon-lab/vigil/pkg/domain/model/user"
	"github.com/secmon-lab/vigil/pkg/domain/types"
	"github.com/slack-go/slack"
)

// SlackService implements the chat capability over the Slack Web API. Inbound
// direct messages arrive via the Events API controller, which pushes them into
// the service's buffer; the dispatch loop drains the buffer each tick.
type SlackService struct {
	client interfaces.SlackClient
	botID  types.UserID

	inboundMu sync.Mutex
	inbound   []interfaces.Message
}

var _ interfaces.ChatClient = &SlackService{}

func NewSlack(client interfaces.SlackClient) (*SlackService, error) {
	authTest, err := client.AuthTest()
	if err != nil {
		return nil, goerr.Wrap(err, "failed to auth test of slack", goerr.T(errs.TagSlackError))
	}

	return &SlackService{
		client: client,
		botID:  types.UserID(authTest.UserID),
	}, nil
}

// BotID returns the bot's own user ID, used to drop self-sent events.
func (x *SlackService) BotID() types.UserID {
	return x.botID
}

func (x *SlackService) Users(ctx context.Context) ([]*user.User, error) {
	members, err := x.client.GetUsersContext(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list slack users", goerr.T(errs.TagSlackError))
	}

	users := make([]*user.User, 0, len(members))
	for _, m := range members {
		if m.IsBot || m.Deleted {
			continue
		}
		users = append(users, &user.User{
			ID:       types.UserID(m.ID),
			Name:     types.UserName(m.Name),
			RealName: m.Profile.FirstName,
		})
	}
	return users, nil
}

func (x *SlackService) SendDirect(ctx context.Context, userID types.UserID, text string) error {
	ch, _, _, err := x.client.OpenConversationContext(ctx, &slack.OpenConversationParameters{
		Users: []string{userID.String()},
	})
	if err != nil {
		return goerr.Wrap(err, "failed to open DM conversation",
			goerr.T(errs.TagSlackError),
			goerr.V("user_id", userID))
	}

	if _, _, err := x.client.PostMessageContext(ctx, ch.ID,
		slack.MsgOptionText(text, false),
	); err != nil {
		return goerr.Wrap(err, "failed to post direct message",
			goerr.T(errs.TagSlackError),
			goerr.V("user_id", userID))
	}
	return nil
}

func (x *SlackService) SendToChannel(ctx context.Context, channelID types.ChannelID, text string) error {
	if _, _, err := x.client.PostMessageContext(ctx, channelID.String(),
		slack.MsgOptionText(text, false),
	); err != nil {
		return goerr.Wrap(err, "failed to post channel message",
			goerr.T(errs.TagSlackError),
			goerr.V("channel_id", channelID))
	}
	return nil
}

// PushInbound buffers one inbound DM. Called by the Events API controller.
func (x *SlackService) PushInbound(msg interfaces.Message) {
	if msg.UserID == x.botID {
		return
	}

	x.inboundMu.Lock()
	defer x.inboundMu.Unlock()
	x.inbound = append(x.inbound, msg)
}

func (x *SlackService) PollInbound(ctx context.Context) []interfaces.Message {
	x.inboundMu.Lock()
	defer x.inboundMu.Unlock()

	drained := x.inbound
	x.inbound = nil
	return drained
}
