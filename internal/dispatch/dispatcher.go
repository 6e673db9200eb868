// Package dispatch decides whether an inbound chat message is in scope and
// routes it to the command handler that owns it.
package dispatch

import (
	"context"
	"log/slog"

	"qqbridge/internal/command"
	"qqbridge/internal/domain"
	"qqbridge/internal/handler"
	"qqbridge/internal/metrics"
)

// Config configures a Dispatcher.
type Config struct {
	InteractionEnabled bool
	GroupIDs           []string
	Parser             *command.Parser
	Handlers           []handler.CommandHandler
	Logger             *slog.Logger
}

// Dispatcher runs the gate checks for an inbound message in a fixed order
// and hands surviving messages to the first handler that claims them.
type Dispatcher struct {
	interaction bool
	groups      map[string]struct{}
	parser      *command.Parser
	handlers    []handler.CommandHandler
	logger      *slog.Logger
}

func New(cfg Config) *Dispatcher {
	if cfg.Parser == nil {
		cfg.Parser = command.NewParser()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	groups := make(map[string]struct{}, len(cfg.GroupIDs))
	for _, g := range cfg.GroupIDs {
		groups[g] = struct{}{}
	}
	return &Dispatcher{
		interaction: cfg.InteractionEnabled,
		groups:      groups,
		parser:      cfg.Parser,
		handlers:    cfg.Handlers,
		logger:      cfg.Logger,
	}
}

// Append adds a handler after the existing ones.
func (d *Dispatcher) Append(h handler.CommandHandler) {
	d.handlers = append(d.handlers, h)
}

// Dispatch always returns a result; it never fails.
func (d *Dispatcher) Dispatch(ctx context.Context, msg domain.InboundMessage) domain.Result {
	kind := domain.KindUnrecognized
	res := d.dispatch(ctx, msg, &kind)
	metrics.Commands.WithLabelValues(kind.String(), string(res.Status), res.Reason).Inc()
	return res
}

func (d *Dispatcher) dispatch(ctx context.Context, msg domain.InboundMessage, kind *domain.CommandKind) domain.Result {
	if !d.interaction {
		return domain.Ignored("interaction_disabled")
	}
	if !msg.IsGroup() {
		return domain.Ignored("not_group_message")
	}
	if _, ok := d.groups[msg.GroupID]; !ok {
		d.logger.Debug("message from unconfigured group", "group_id", msg.GroupID)
		return domain.Ignored("group_not_configured")
	}
	if msg.Text == "" || msg.SenderID == "" {
		return domain.Fail(domain.FailureValidation, "missing_parameters", "")
	}

	cmd := d.parser.Parse(msg.Text)
	*kind = cmd.Kind
	if cmd.Kind == domain.KindUnrecognized {
		return domain.Ignored("command_not_recognized")
	}

	d.logger.Info("command received", "command", cmd.Kind.String(), "group_id", msg.GroupID, "qq_id", msg.SenderID)
	req := handler.Request{Message: msg, Command: cmd}
	for _, h := range d.handlers {
		if res, ok := h.TryHandle(ctx, req); ok {
			if !res.OK() {
				d.logger.Info("command rejected", "command", cmd.Kind.String(), "qq_id", msg.SenderID, "reason", res.Reason)
			}
			return res
		}
	}
	return domain.Ignored("command_not_recognized")
}
