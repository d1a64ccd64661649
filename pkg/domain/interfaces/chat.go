package interfaces

import (
	"context"

	"github.com/secmon-lab/vigil/pkg/domain/model/user"
	"github.com/secmon-lab/vigil/pkg/domain/types"
)

// Message is one inbound direct message from a chat user.
type Message struct {
	UserID types.UserID
	Text   string
}

// ChatClient is the capability contract of the chat platform binding. All of
// its operations may fail transiently; callers retry on the next tick.
type ChatClient interface {
	// Users lists every directory member known to the chat platform.
	Users(ctx context.Context) ([]*user.User, error)

	SendDirect(ctx context.Context, userID types.UserID, text string) error
	SendToChannel(ctx context.Context, channelID types.ChannelID, text string) error

	// PollInbound drains buffered direct messages without blocking.
	PollInbound(ctx context.Context) []Message
}
