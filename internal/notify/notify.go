// Package notify turns content events into chat notifications: group
// broadcasts for published and updated posts and a private message for new
// comments.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"qqbridge/internal/domain"
	"qqbridge/internal/metrics"
	"qqbridge/internal/onebot"
)

// Settings are the push switches.
type Settings struct {
	NewPost         bool
	Update          bool
	Comment         bool
	AtAll           bool
	CommentNoticeQQ string
	FaceID          int
}

// Config configures a Worker.
type Config struct {
	Settings    Settings
	GroupIDs    []string
	Broadcaster domain.Broadcaster
	Notifier    domain.Notifier
	Location    *time.Location
	Now         func() time.Time
	Logger      *slog.Logger
}

// Worker formats and sends notifications for content events.
type Worker struct {
	cfg    Config
	logger *slog.Logger
}

func NewWorker(cfg Config) *Worker {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Worker{cfg: cfg, logger: cfg.Logger}
}

// Run handles events until ctx is cancelled or the channel is closed.
func (w *Worker) Run(ctx context.Context, events <-chan domain.ContentEvent) error {
	w.logger.Info("notification worker started", "groups", len(w.cfg.GroupIDs))
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			w.Handle(ctx, ev)
		}
	}
}

// Handle processes one event and reports whether a notification was sent.
func (w *Worker) Handle(ctx context.Context, ev domain.ContentEvent) bool {
	switch ev.Type {
	case domain.EventPostTransition:
		return w.handleTransition(ev)
	case domain.EventComment:
		return w.handleComment(ctx, ev)
	default:
		w.logger.Warn("unknown content event", "type", ev.Type)
		return false
	}
}

// Action classifies a status transition. It returns "" when the transition
// should not be announced.
func (w *Worker) Action(ev domain.ContentEvent) string {
	if !notifiable(ev.Post.Type) || ev.NewStatus == "auto-draft" || ev.NewStatus != "publish" {
		return ""
	}
	noun := contentNoun(ev.Post.Type)
	if ev.OldStatus != "publish" {
		if w.cfg.Settings.NewPost {
			return "新" + noun + "发布"
		}
		return ""
	}
	if w.cfg.Settings.Update {
		return noun + "更新"
	}
	return ""
}

func (w *Worker) handleTransition(ev domain.ContentEvent) bool {
	action := w.Action(ev)
	if action == "" {
		return false
	}
	if len(w.cfg.GroupIDs) == 0 {
		w.logger.Warn("no groups configured, notification skipped", "post_id", ev.Post.ID)
		return false
	}
	msg := w.PostMessage(ev.Post, action)
	w.cfg.Broadcaster.Broadcast(w.cfg.GroupIDs, msg)

	kind := "update"
	if ev.OldStatus != "publish" {
		kind = "publish"
	}
	metrics.Notifications.WithLabelValues(kind).Inc()
	w.logger.Info("post notification sent", "post_id", ev.Post.ID, "action", action, "groups", len(w.cfg.GroupIDs))
	return true
}

// PostMessage renders the group announcement for a post.
func (w *Worker) PostMessage(p domain.Post, action string) string {
	var prefix, section, image string
	if w.cfg.Settings.AtAll {
		prefix = onebot.AtAll() + "\n"
	}
	if p.Section != "" {
		section = "【" + p.Section + "】"
	}
	if src := imageFor(p); src != "" {
		image = onebot.Image(src)
	}
	date := w.cfg.Now().In(w.cfg.Location).Format("2006年01月02日 15:04")
	return fmt.Sprintf("%s%s %s：\n%s【%s】\n%s\n【%s】\n查看详情：%s",
		prefix, onebot.Face(w.cfg.Settings.FaceID), action, section, p.Title, image, date, p.Permalink)
}

func (w *Worker) handleComment(ctx context.Context, ev domain.ContentEvent) bool {
	s := w.cfg.Settings
	if !s.Comment || s.CommentNoticeQQ == "" || ev.Comment == nil || !notifiable(ev.Post.Type) {
		return false
	}
	if err := w.cfg.Notifier.SendPrivate(ctx, s.CommentNoticeQQ, w.CommentMessage(ev.Post, *ev.Comment)); err != nil {
		w.logger.Warn("comment notification failed", "qq_id", s.CommentNoticeQQ, "post_id", ev.Post.ID, "error", err)
		return false
	}
	metrics.Notifications.WithLabelValues("comment").Inc()
	return true
}

// CommentMessage renders the private new-comment notice.
func (w *Worker) CommentMessage(p domain.Post, c domain.Comment) string {
	at := c.CreatedAt
	if at.IsZero() {
		at = w.cfg.Now()
	}
	return fmt.Sprintf("新评论提醒：\n评论时间：%s\n用户【%s】在%s【%s】评论如下：\n%s\n点击前往查看：%s",
		at.In(w.cfg.Location).Format("2006年01月02日 15:04:05"), c.Author, contentNoun(p.Type), p.Title, c.Content, p.Permalink)
}

func notifiable(postType string) bool {
	return postType == "post" || postType == "forum_post"
}

func contentNoun(postType string) string {
	if postType == "forum_post" {
		return "帖子"
	}
	return "文章"
}

var imgPattern = regexp.MustCompile(`(?is)<img[^>]+src=['"]([^'"]+)['"]`)

// imageFor prefers the featured image and falls back to the first image in
// the post body.
func imageFor(p domain.Post) string {
	if p.ImageURL != "" {
		return p.ImageURL
	}
	if m := imgPattern.FindStringSubmatch(p.Content); m != nil {
		return m[1]
	}
	return ""
}
