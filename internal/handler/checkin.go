package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"qqbridge/internal/domain"
)

const (
	msgCheckInFailed   = "签到失败：系统错误，请稍后再试或到网站手动签到"
	msgBindFirstSuffix = "请先发送「+ 论坛绑定 您的邮箱」进行绑定"
)

// CheckIn performs the daily site check-in for the sender's bound account.
type CheckIn struct{ *deps }

func (h *CheckIn) TryHandle(ctx context.Context, req Request) (domain.Result, bool) {
	if req.Command.Kind != domain.KindCheckIn {
		return domain.Result{}, false
	}
	return h.handle(ctx, req.Message), true
}

func (h *CheckIn) handle(ctx context.Context, msg domain.InboundMessage) domain.Result {
	if !h.Features.CheckIn {
		return h.reject(ctx, msg, domain.FailureIgnored, "checkin_feature_disabled", "群签到功能未启用，请联系管理员")
	}
	svc := h.Host.CheckIns
	if svc == nil || !svc.Enabled() {
		return h.reject(ctx, msg, domain.FailureServiceUnavailable, "site_checkin_disabled", "网站签到功能未启用，请联系管理员")
	}

	accountID, ok, err := h.Bindings.Find(ctx, msg.SenderID)
	if err != nil {
		h.Logger.Error("binding lookup failed", "qq_id", msg.SenderID, "error", err)
		return h.failed(ctx, msg, domain.FailureServiceUnavailable, "query_failed")
	}
	if !ok {
		text := "签到失败：您的QQ号尚未绑定网站账号，" + msgBindFirstSuffix
		h.replyBoth(ctx, msg, text, text)
		return domain.Fail(domain.FailureValidation, "not_bound", "QQ号未绑定网站账号")
	}
	name := h.accountName(ctx, accountID)

	done, err := svc.CheckedInToday(ctx, accountID)
	if err != nil {
		h.Logger.Error("check-in status failed", "user_id", accountID, "error", err)
		return h.failed(ctx, msg, domain.FailureServiceUnavailable, "checkin_failed")
	}
	if done {
		return h.already(ctx, msg, name)
	}

	preview, err := svc.RewardPreview(ctx, accountID)
	if err != nil {
		h.Logger.Error("check-in reward preview failed", "user_id", accountID, "error", err)
		return h.failed(ctx, msg, domain.FailureServiceUnavailable, "checkin_failed")
	}

	reward, err := svc.CheckIn(ctx, accountID)
	if errors.Is(err, domain.ErrAlreadyCheckedIn) {
		return h.already(ctx, msg, name)
	}
	if err != nil {
		h.Logger.Error("check-in failed", "user_id", accountID, "error", err)
		return h.failed(ctx, msg, domain.FailureState, "checkin_failed")
	}
	// The committed streak is authoritative; hosts that do not report one
	// fall back to the preview.
	if reward.ContinuousDays == 0 {
		reward.ContinuousDays = preview.ContinuousDays
	}

	summary := checkInSummary(reward)
	h.replyAt(ctx, msg, summary)
	h.sendPrivate(ctx, msg.SenderID, name+"，"+summary)
	h.Logger.Info("checked in", "qq_id", msg.SenderID, "user_id", accountID, "streak", reward.ContinuousDays)

	res := domain.Succeed("签到成功")
	res.UserID = accountID
	res.QQID = msg.SenderID
	res.Reward = &reward
	return res
}

func (h *CheckIn) already(ctx context.Context, msg domain.InboundMessage, name string) domain.Result {
	h.replyBoth(ctx, msg, "您今天已经签到过了哦！", name+"，您今天已经签到过了哦！")
	return domain.Fail(domain.FailureValidation, "already_checked_in", "今日已签到")
}

func (h *CheckIn) failed(ctx context.Context, msg domain.InboundMessage, f domain.Failure, reason string) domain.Result {
	h.replyBoth(ctx, msg, msgCheckInFailed, msgCheckInFailed)
	return domain.Fail(f, reason, "签到失败")
}

// checkInSummary mentions the streak only past the first day and only the
// rewards that were actually paid.
func checkInSummary(r domain.CheckInReward) string {
	var b strings.Builder
	if r.ContinuousDays > 1 {
		fmt.Fprintf(&b, "您已连续签到%d天！", r.ContinuousDays)
	} else {
		b.WriteString("签到成功！")
	}
	if r.Points != 0 {
		fmt.Fprintf(&b, " 积分+%d", r.Points)
	}
	if r.Integral != 0 {
		fmt.Fprintf(&b, " 经验值+%d", r.Integral)
	}
	return b.String()
}
