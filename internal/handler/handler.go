// Package handler implements the chat commands. Each handler owns one
// command kind, checks its own feature switch and host capability, talks
// back to the sender through the gateway and returns a structured result.
package handler

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"qqbridge/internal/binding"
	"qqbridge/internal/domain"
)

// Request is one parsed inbound command.
type Request struct {
	Message domain.InboundMessage
	Command domain.Command
}

// CommandHandler handles the commands it recognizes. ok is false when the
// command belongs to another handler.
type CommandHandler interface {
	TryHandle(ctx context.Context, req Request) (res domain.Result, ok bool)
}

// Features are the per-command switches.
type Features struct {
	Bind           bool
	CheckIn        bool
	LatestPosts    bool
	PointsTransfer bool
}

// Config carries everything the built-in handlers depend on.
type Config struct {
	Features Features
	ForumURL string
	Location *time.Location
	Host     domain.Host
	Bindings *binding.Store
	Notifier domain.Notifier
	Logger   *slog.Logger
	Now      func() time.Time
	NewToken func() string
}

// deps is shared by the built-in handlers.
type deps struct {
	Config
}

func newDeps(cfg Config) *deps {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewToken == nil {
		cfg.NewToken = func() string { return uuid.NewString() }
	}
	return &deps{Config: cfg}
}

// Default returns the built-in handlers in dispatch order.
func Default(cfg Config) []CommandHandler {
	d := newDeps(cfg)
	return []CommandHandler{
		&Bind{d},
		&Unbind{d},
		&CheckIn{d},
		&LatestPosts{d},
		&Transfer{d},
	}
}

// replyAt mentions the sender in the originating group. It is a no-op for
// messages without a group.
func (d *deps) replyAt(ctx context.Context, msg domain.InboundMessage, text string) {
	if msg.GroupID == "" {
		return
	}
	if err := d.Notifier.SendAt(ctx, msg.GroupID, msg.SenderID, text); err != nil {
		d.Logger.Warn("group reply failed", "group_id", msg.GroupID, "qq_id", msg.SenderID, "error", err)
	}
}

func (d *deps) sendGroup(ctx context.Context, groupID, text string) {
	if err := d.Notifier.SendGroup(ctx, groupID, text); err != nil {
		d.Logger.Warn("group message failed", "group_id", groupID, "error", err)
	}
}

func (d *deps) sendPrivate(ctx context.Context, userID, text string) {
	if err := d.Notifier.SendPrivate(ctx, userID, text); err != nil {
		d.Logger.Warn("private message failed", "qq_id", userID, "error", err)
	}
}

// replyBoth answers in the group and privately.
func (d *deps) replyBoth(ctx context.Context, msg domain.InboundMessage, groupText, privateText string) {
	d.replyAt(ctx, msg, groupText)
	d.sendPrivate(ctx, msg.SenderID, privateText)
}

// reject replies with text in the group and returns an error result.
func (d *deps) reject(ctx context.Context, msg domain.InboundMessage, f domain.Failure, reason, text string) domain.Result {
	d.replyAt(ctx, msg, text)
	return domain.Fail(f, reason, text)
}

// accountName returns the display name of an account, or "" when it
// cannot be loaded.
func (d *deps) accountName(ctx context.Context, id int64) string {
	acct, err := d.Host.Accounts.AccountByID(ctx, id)
	if err != nil {
		d.Logger.Warn("account lookup failed", "user_id", id, "error", err)
		return ""
	}
	return acct.Name()
}
