package handler

import (
	"context"
	"fmt"

	"qqbridge/internal/domain"
	"qqbridge/internal/metrics"
)

const (
	maxTransferAmount = 10000
	transferType      = "积分转账"
	rollbackSuffix    = "_rollback"
)

// Transfer moves points from the sender to the mentioned member.
type Transfer struct{ *deps }

func (h *Transfer) TryHandle(ctx context.Context, req Request) (domain.Result, bool) {
	if req.Command.Kind != domain.KindTransferPoints {
		return domain.Result{}, false
	}
	res := h.handle(ctx, req.Message, req.Command)
	outcome := res.Reason
	if res.OK() {
		outcome = "success"
	}
	metrics.Transfers.WithLabelValues(outcome).Inc()
	return res, true
}

func (h *Transfer) handle(ctx context.Context, msg domain.InboundMessage, cmd domain.Command) domain.Result {
	if !h.Features.PointsTransfer {
		return h.reject(ctx, msg, domain.FailureIgnored, "points_transfer_feature_disabled", "积分转账功能未启用，请联系管理员")
	}
	ledger := h.Host.Points
	if ledger == nil {
		return h.reject(ctx, msg, domain.FailureServiceUnavailable, "points_system_unavailable", "积分系统不可用，请联系管理员")
	}
	if cmd.FormatError {
		return h.reject(ctx, msg, domain.FailureValidation, "invalid_format", "格式错误，正确格式：+ 积分转账 @用户 积分数量")
	}
	amount := cmd.Amount
	if amount <= 0 || amount > maxTransferAmount {
		return h.reject(ctx, msg, domain.FailureValidation, "invalid_points_amount", "积分数量必须为正数且不能超过10000")
	}
	if cmd.Target == msg.SenderID {
		return h.reject(ctx, msg, domain.FailureValidation, "self_transfer", "不能给自己转账")
	}

	fromID, ok, err := h.Bindings.Find(ctx, msg.SenderID)
	if err != nil {
		return h.queryFailed(ctx, msg, "sender binding", err)
	}
	if !ok {
		return h.reject(ctx, msg, domain.FailureValidation, "sender_not_bound", "您尚未绑定网站账号，"+msgBindFirstSuffix)
	}
	toID, ok, err := h.Bindings.Find(ctx, cmd.Target)
	if err != nil {
		return h.queryFailed(ctx, msg, "receiver binding", err)
	}
	if !ok {
		return h.reject(ctx, msg, domain.FailureValidation, "receiver_not_bound", "对方尚未绑定网站账号，无法转账")
	}

	balance, err := ledger.Balance(ctx, fromID)
	if err != nil {
		return h.queryFailed(ctx, msg, "balance", err)
	}
	if balance < amount {
		return h.reject(ctx, msg, domain.FailureValidation, "insufficient_points", fmt.Sprintf("您的积分余额不足，当前余额：%d", balance))
	}

	fromName := h.accountName(ctx, fromID)
	toName := h.accountName(ctx, toID)
	token := "transfer_" + h.NewToken()

	if err := ledger.Mutate(ctx, domain.PointsMutation{
		AccountID: fromID,
		Delta:     -amount,
		Token:     token,
		Type:      transferType,
		Note:      "转账给用户 " + toName,
	}); err != nil {
		h.Logger.Error("transfer debit failed", "token", token, "user_id", fromID, "error", err)
		return h.reject(ctx, msg, domain.FailureState, "deduction_failed", "转账失败，扣除积分时出错")
	}

	if err := ledger.Mutate(ctx, domain.PointsMutation{
		AccountID: toID,
		Delta:     amount,
		Token:     token,
		Type:      transferType,
		Note:      "收到用户 " + fromName + " 的转账",
	}); err != nil {
		h.Logger.Error("transfer credit failed, compensating", "token", token, "user_id", toID, "error", err)
		h.compensate(ctx, fromID, amount, token)
		return h.reject(ctx, msg, domain.FailureState, "addition_failed", "转账失败，增加对方积分时出错")
	}

	h.Logger.Info("points transferred", "token", token, "from_user_id", fromID, "to_user_id", toID, "points", amount)
	h.sendGroup(ctx, msg.GroupID, fmt.Sprintf("转账成功！\n%s 向 %s 转账 %d 积分", fromName, toName, amount))
	h.sendPrivate(ctx, cmd.Target, fmt.Sprintf("您收到一笔积分转账！\n发送者：%s\n金额：%d 积分\n时间：%s",
		fromName, amount, h.Now().In(h.Location).Format("2006-01-02 15:04:05")))

	res := domain.Succeed("转账成功")
	res.FromUserID = fromID
	res.ToUserID = toID
	res.Points = amount
	res.Token = token
	return res
}

// compensate refunds a debited sender. It is attempted once; a failure
// leaves the sender short and is only logged.
func (h *Transfer) compensate(ctx context.Context, accountID, amount int64, token string) {
	err := h.Host.Points.Mutate(ctx, domain.PointsMutation{
		AccountID: accountID,
		Delta:     amount,
		Token:     token + rollbackSuffix,
		Type:      transferType,
		Note:      "转账失败回滚",
	})
	if err != nil {
		h.Logger.Error("transfer rollback failed, sender left short",
			"token", token+rollbackSuffix, "user_id", accountID, "points", amount, "error", err)
		metrics.Transfers.WithLabelValues("rollback_failed").Inc()
	}
}

func (h *Transfer) queryFailed(ctx context.Context, msg domain.InboundMessage, what string, err error) domain.Result {
	h.Logger.Error("transfer lookup failed", "lookup", what, "qq_id", msg.SenderID, "error", err)
	return h.reject(ctx, msg, domain.FailureServiceUnavailable, "query_failed", "转账失败：系统错误，请稍后再试")
}
