package dispatch

import (
	"context"
	"errors"

	"farebot/internal/transport"
)

// ErrSendFailed marks chunks dropped after the retry budget was spent.
var ErrSendFailed = errors.New("send failed")

// Sender delivers one payload to one user.
type Sender interface {
	Send(ctx context.Context, userID int64, text string) error
}

type SenderFunc func(ctx context.Context, userID int64, text string) error

func (f SenderFunc) Send(ctx context.Context, userID int64, text string) error {
	return f(ctx, userID, text)
}

// ChatSender sends HTML payloads through a chat transport. In private chats
// the user id is the chat id.
type ChatSender struct {
	Adapter transport.Adapter
}

func (s ChatSender) Send(ctx context.Context, userID int64, text string) error {
	if s.Adapter == nil {
		return transport.ErrUnavailable
	}
	_, err := s.Adapter.SendText(ctx, userID, text, &transport.SendOptions{
		ParseMode:      transport.ParseHTML,
		DisablePreview: true,
	})
	return err
}
