// Package transport defines the chat transport the bot and the dispatcher talk to.
package transport

import (
	"context"
	"errors"
)

// ErrUnavailable reports that the adapter is not started or already stopped.
var ErrUnavailable = errors.New("transport unavailable")

type UpdateKind string

const (
	UpdateMessage  UpdateKind = "message"
	UpdateCallback UpdateKind = "callback"
)

type Update struct {
	Kind     UpdateKind
	Message  *Message
	Callback *Callback
}

type Message struct {
	ID           int
	ChatID       int64
	FromID       int64
	FromUsername string
	Text         string
	IsPrivate    bool
}

type Callback struct {
	ID        string
	FromID    int64
	ChatID    int64
	MessageID int
	Data      string
}

type MessageRef struct {
	ChatID    int64
	MessageID int
}

// Button is one inline keyboard button; Data comes back as Callback.Data.
type Button struct {
	Text string
	Data string
}

type SendOptions struct {
	// ParseMode is "HTML" or empty for plain text.
	ParseMode      string
	DisablePreview bool
	// Keyboard rows rendered as an inline keyboard.
	Keyboard [][]Button
}

const ParseHTML = "HTML"

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, chatID int64, text string, opt *SendOptions) (MessageRef, error)
	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
	AnswerCallback(ctx context.Context, callbackID string, text string) error
}

// BotCommand is a single bot command menu entry.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is implemented by adapters that can publish a
// command menu (Telegram setMyCommands).
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}

// Keyboard builds inline keyboard rows of at most perRow buttons.
func Keyboard(buttons []Button, perRow int) [][]Button {
	if perRow <= 0 {
		perRow = 1
	}
	var rows [][]Button
	for i := 0; i < len(buttons); i += perRow {
		end := min(i+perRow, len(buttons))
		rows = append(rows, append([]Button(nil), buttons[i:end]...))
	}
	return rows
}
