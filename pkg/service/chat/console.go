package chat

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/secmon-lab/vigil/pkg/domain/interfaces"
	"github.com/secmon-lab/vigil/pkg/domain/model/user"
	"github.com/secmon-lab/vigil/pkg/domain/types"
	"github.com/secmon-lab/vigil/pkg/utils/safe"
)

// Console is a ChatClient for dev mode and tests: outbound messages go to a
// writer, inbound messages are injected with Inject.
type Console struct {
	w     io.Writer
	users []*user.User

	inboundMu sync.Mutex
	inbound   []interfaces.Message
}

var _ interfaces.ChatClient = &Console{}

func NewConsole(w io.Writer, users []*user.User) *Console {
	return &Console{w: w, users: users}
}

func (x *Console) Users(ctx context.Context) ([]*user.User, error) {
	return x.users, nil
}

func (x *Console) SendDirect(ctx context.Context, userID types.UserID, text string) error {
	safe.Write(ctx, x.w, fmt.Appendf(nil, "[DM -> %s] %s\n", userID, text))
	return nil
}

func (x *Console) SendToChannel(ctx context.Context, channelID types.ChannelID, text string) error {
	safe.Write(ctx, x.w, fmt.Appendf(nil, "[#%s] %s\n", channelID, text))
	return nil
}

// Inject queues an inbound message as if the user had typed it.
func (x *Console) Inject(userID types.UserID, text string) {
	x.inboundMu.Lock()
	defer x.inboundMu.Unlock()
	x.inbound = append(x.inbound, interfaces.Message{UserID: userID, Text: text})
}

func (x *Console) PollInbound(ctx context.Context) []interfaces.Message {
	x.inboundMu.Lock()
	defer x.inboundMu.Unlock()

	drained := x.inbound
	x.inbound = nil
	return drained
}
