package router

import (
	"context"
	"errors"
	"math"
	"regexp"
	"strconv"
	"time"

	"remindme/internal/reminder"
	logx "remindme/pkg/logx"
)

// Reminders is what the command handlers need from reminder.Service.
type Reminders interface {
	Create(ctx context.Context, user string, quantity int64, timeText string) (reminder.Created, error)
	Cancel(ctx context.Context, user, message string) (reminder.CancelOutcome, error)
	MaxDelay() time.Duration
}

var (
	reRemindMe = regexp.MustCompile(`(?is)^remindme\s+(\d+)\s+(.+)$`)
	reCancel   = regexp.MustCompile(`(?is)^cancel\s+"(.+)"$`)
)

const storeFailedReply = "Sorry, reminders are unavailable right now. Try again later."

// ReminderCommands returns the chat commands backed by r.
func ReminderCommands(r Reminders) []Command {
	return []Command{
		{
			Name:        "remindme",
			Description: "set a reminder",
			Usage:       "!remindme <minutes> <message>",
			Pattern:     reRemindMe,
			Timeout:     15 * time.Second,
			Handle:      remindHandler(r),
		},
		{
			Name:        "cancel",
			Description: "cancel a reminder",
			Usage:       "!cancel \"<message>\"",
			Pattern:     reCancel,
			Timeout:     15 * time.Second,
			Handle:      cancelHandler(r),
		},
		{
			Name:        "help",
			Aliases:     []string{"start"},
			Description: "how to use reminders",
			Timeout:     5 * time.Second,
			Handle: func(ctx context.Context, req *Request) error {
				return req.Reply(ctx, reminder.HelpText)
			},
		},
	}
}

// parseQuantity saturates digit runs too long for int64.
func parseQuantity(s string) int64 {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return math.MaxInt64
	}
	return n
}

func remindHandler(r Reminders) HandlerFunc {
	return func(ctx context.Context, req *Request) error {
		name := req.Msg.DisplayName()
		c, err := r.Create(ctx, req.Msg.UserKey(), parseQuantity(req.Groups[0]), req.Groups[1])
		switch {
		case errors.Is(err, reminder.ErrDelayOutOfRange):
			return req.Reply(ctx, reminder.TooFarReply(name, r.MaxDelay()))
		case err != nil:
			_ = req.Reply(ctx, storeFailedReply)
			return err
		}
		req.logger(logx.Nop()).Debug("reminder set", logx.Int64("id", c.ID), logx.Time("fire_at", c.FireAt))
		return req.Reply(ctx, reminder.CreatedReply(name, c))
	}
}

func cancelHandler(r Reminders) HandlerFunc {
	return func(ctx context.Context, req *Request) error {
		name := req.Msg.DisplayName()
		msg := req.Groups[0]
		out, err := r.Cancel(ctx, req.Msg.UserKey(), msg)
		if err != nil {
			_ = req.Reply(ctx, storeFailedReply)
			return err
		}
		if out == reminder.CancelCanceled {
			return req.Reply(ctx, reminder.CanceledReply(name, msg))
		}
		return req.Reply(ctx, reminder.NotFoundReply(name))
	}
}
