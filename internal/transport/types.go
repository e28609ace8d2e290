// Package transport defines the chat-facing types shared by the command
// router, the notifier and the platform adapters.
package transport

import (
	"context"
	"strconv"
)

type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int // forum topic thread id (0 if none)
	FromID       int64
	FromUsername string
	FromName     string
	Text         string
	IsGroup      bool
}

// DisplayName is how replies address the sender: @username, then the
// first name, then the numeric id.
func (m *Message) DisplayName() string {
	switch {
	case m.FromUsername != "":
		return m.FromUsername
	case m.FromName != "":
		return m.FromName
	default:
		return strconv.FormatInt(m.FromID, 10)
	}
}

// UserKey is the stable identifier reminders are stored under.
func (m *Message) UserKey() string { return strconv.FormatInt(m.FromID, 10) }

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	Silent         bool
}

type Notification struct {
	Channel string // "reminder", "log", ...
	Target  ChatTarget
	Text    string
	Options *SendOptions
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Message) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}

type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is implemented by adapters that can publish a command
// menu to the platform.
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
