package handler

import (
	"context"
	"fmt"
	"strings"

	"qqbridge/internal/domain"
)

const (
	recentPostsLimit = 5
	forumPostType    = "forum_post"
	defaultSection   = "未分类"
)

// LatestPosts lists the newest forum posts in the group.
type LatestPosts struct{ *deps }

func (h *LatestPosts) TryHandle(ctx context.Context, req Request) (domain.Result, bool) {
	if req.Command.Kind != domain.KindListRecentPosts {
		return domain.Result{}, false
	}
	return h.handle(ctx, req.Message), true
}

func (h *LatestPosts) handle(ctx context.Context, msg domain.InboundMessage) domain.Result {
	if !h.Features.LatestPosts {
		return h.reject(ctx, msg, domain.FailureIgnored, "latest_posts_feature_disabled", "最新帖子功能未启用，请联系管理员")
	}

	posts, err := h.Host.Content.RecentPosts(ctx, domain.PostQuery{
		Type:   forumPostType,
		Status: "publish",
		Limit:  recentPostsLimit,
	})
	if err != nil {
		h.Logger.Error("recent posts query failed", "error", err)
		return h.reject(ctx, msg, domain.FailureServiceUnavailable, "query_failed", "查询帖子失败，请稍后再试")
	}
	if len(posts) == 0 {
		h.replyAt(ctx, msg, "抱歉，暂时没有找到任何论坛帖子")
		return domain.Succeed("没有找到帖子")
	}

	h.sendGroup(ctx, msg.GroupID, h.render(posts))

	res := domain.Succeed("已发送最新帖子列表")
	res.Count = len(posts)
	return res
}

func (h *LatestPosts) render(posts []domain.Post) string {
	var b strings.Builder
	b.WriteString("【最新论坛帖子】\n\n")
	for i, p := range posts {
		section := p.Section
		if section == "" {
			section = defaultSection
		}
		fmt.Fprintf(&b, "%d. 【%s】%s\n", i+1, section, p.Title)
		fmt.Fprintf(&b, "   作者：%s | 时间：%s | 回复：%d\n", p.AuthorName, p.PublishedAt.In(h.Location).Format("2006-01-02 15:04"), p.CommentCount)
		fmt.Fprintf(&b, "   %s\n\n", p.Permalink)
	}
	b.WriteString("查看更多：" + h.ForumURL)
	return b.String()
}
