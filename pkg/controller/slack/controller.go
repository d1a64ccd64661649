package slack

import (
	"context"

	"github.com/secmon-lab/vigil/pkg/domain/interfaces"
	"github.com/secmon-lab/vigil/pkg/domain/types"
	"github.com/secmon-lab/vigil/pkg/utils/logging"
	"github.com/slack-go/slack/slackevents"
)

// InboundSink receives user messages decoded from Slack events. The chat
// service implements it and hands the messages to the dispatch loop on the
// next tick.
type InboundSink interface {
	PushInbound(msg interfaces.Message)
}

// Controller translates Slack Events API callbacks into inbound chat
// messages. Only direct messages matter to the bot; channel chatter and bot
// echoes are dropped here.
type Controller struct {
	sink InboundSink
}

func New(sink InboundSink) *Controller {
	return &Controller{sink: sink}
}

// HandleEvent processes one decoded callback event.
func (x *Controller) HandleEvent(ctx context.Context, event slackevents.EventsAPIEvent) {
	inner := event.InnerEvent
	switch ev := inner.Data.(type) {
	case *slackevents.MessageEvent:
		x.handleMessage(ctx, ev)
	default:
		logging.From(ctx).Debug("ignoring slack event", "type", inner.Type)
	}
}

func (x *Controller) handleMessage(ctx context.Context, ev *slackevents.MessageEvent) {
	// Only plain direct messages from humans. Edits, joins and bot posts
	// carry a subtype or bot ID.
	if ev.ChannelType != "im" || ev.SubType != "" || ev.BotID != "" || ev.User == "" {
		return
	}

	logging.From(ctx).Debug("inbound direct message", "user", ev.User)
	x.sink.PushInbound(interfaces.Message{
		UserID: types.UserID(ev.User),
		Text:   ev.Text,
	})
}
