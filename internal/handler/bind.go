package handler

import (
	"context"
	"errors"
	"fmt"

	"qqbridge/internal/domain"
)

const (
	msgBindDisabled = "账号绑定功能未启用，请联系管理员"
	msgSystemError  = "系统错误，请联系管理员"
)

// Bind links the sender's chat identity to the account with the given email.
type Bind struct{ *deps }

func (h *Bind) TryHandle(ctx context.Context, req Request) (domain.Result, bool) {
	if req.Command.Kind != domain.KindBind {
		return domain.Result{}, false
	}
	return h.handle(ctx, req.Message, req.Command.Email), true
}

func (h *Bind) handle(ctx context.Context, msg domain.InboundMessage, email string) domain.Result {
	if !h.Features.Bind {
		return h.reject(ctx, msg, domain.FailureIgnored, "bind_feature_disabled", msgBindDisabled)
	}

	acct, err := h.Host.Accounts.AccountByEmail(ctx, email)
	if errors.Is(err, domain.ErrNotFound) {
		text := fmt.Sprintf("绑定失败：未找到邮箱为 %s 的用户", email)
		h.replyBoth(ctx, msg, text, text)
		return domain.Fail(domain.FailureValidation, "account_not_found", "未找到该邮箱对应的用户")
	}
	if err != nil {
		h.Logger.Error("account lookup failed", "email", email, "error", err)
		text := "绑定失败：" + msgSystemError
		h.replyBoth(ctx, msg, text, text)
		return domain.Fail(domain.FailureServiceUnavailable, "query_failed", text)
	}

	if err := h.Bindings.Bind(ctx, msg.SenderID, acct.ID); err != nil {
		h.Logger.Error("bind failed", "qq_id", msg.SenderID, "user_id", acct.ID, "error", err)
		text := "绑定失败：" + msgSystemError
		h.replyBoth(ctx, msg, text, text)
		return domain.Fail(domain.FailureState, "bind_failed", text)
	}

	h.Logger.Info("account bound", "qq_id", msg.SenderID, "user_id", acct.ID)
	text := fmt.Sprintf("绑定成功！您的账号 %s 已成功与QQ号关联", acct.Name())
	h.replyBoth(ctx, msg, text, text)

	res := domain.Succeed("绑定成功")
	res.UserID = acct.ID
	res.QQID = msg.SenderID
	return res
}

// Unbind removes the sender's binding.
type Unbind struct{ *deps }

func (h *Unbind) TryHandle(ctx context.Context, req Request) (domain.Result, bool) {
	if req.Command.Kind != domain.KindUnbind {
		return domain.Result{}, false
	}
	return h.handle(ctx, req.Message), true
}

func (h *Unbind) handle(ctx context.Context, msg domain.InboundMessage) domain.Result {
	if !h.Features.Bind {
		return h.reject(ctx, msg, domain.FailureIgnored, "bind_feature_disabled", msgBindDisabled)
	}

	accountID, ok, err := h.Bindings.Find(ctx, msg.SenderID)
	if err != nil {
		h.Logger.Error("binding lookup failed", "qq_id", msg.SenderID, "error", err)
		text := "解绑失败：" + msgSystemError
		h.replyBoth(ctx, msg, text, text)
		return domain.Fail(domain.FailureServiceUnavailable, "query_failed", text)
	}
	if !ok {
		text := "解绑失败：您的QQ号尚未绑定任何网站账号"
		h.replyBoth(ctx, msg, text, text)
		return domain.Fail(domain.FailureValidation, "not_bound", "QQ号未绑定网站账号")
	}

	name := h.accountName(ctx, accountID)

	removed, err := h.Bindings.Unbind(ctx, accountID)
	if err != nil || !removed {
		h.Logger.Error("unbind failed", "qq_id", msg.SenderID, "user_id", accountID, "error", err)
		text := "解绑失败：" + msgSystemError
		h.replyBoth(ctx, msg, text, text)
		return domain.Fail(domain.FailureState, "unbind_failed", "解绑失败")
	}

	h.Logger.Info("account unbound", "qq_id", msg.SenderID, "user_id", accountID)
	text := fmt.Sprintf("解绑成功！您的QQ号已与账号 %s 解除关联", name)
	h.replyBoth(ctx, msg, text, text)

	res := domain.Succeed("解绑成功")
	res.UserID = accountID
	res.QQID = msg.SenderID
	return res
}
