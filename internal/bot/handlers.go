package bot

import (
	"context"
	"errors"
	"strings"

	"farebot/internal/airports"
	"farebot/internal/subscription"
	kit "farebot/internal/transport"
	logx "farebot/pkg/logx"
)

const callbackRemove = "rm"

func (m *Manager) builtinCommands() []Command {
	return []Command{
		{Name: "start", Description: "Start (or restart) your subscription", Handle: m.handleStart},
		{Name: "get_subscriptions", Description: "List subscribed airports", Handle: m.handleList},
		{Name: "remove_subscription", Description: "Remove a subscribed airport", Handle: m.handleRemoveMenu},
		{Name: "pause_updates", Description: "Stop daily fare updates", Handle: m.handlePause},
		{Name: "start_updates", Description: "Resume daily fare updates", Handle: m.handleResume},
		{Name: "help", Description: "Show help", Handle: m.handleHelp},
	}
}

func (m *Manager) builtinCallbacks() []CallbackRoute {
	return []CallbackRoute{{Prefix: callbackRemove, Handle: m.handleRemove}}
}

// Announce wraps next so the added reply reaches the user before the fares
// of the new origin do.
func (m *Manager) Announce(next subscription.Trigger) subscription.Trigger {
	m.announced.Store(true)
	return subscription.TriggerFunc(func(ctx context.Context, userID int64, code string) error {
		if _, err := m.adapter.SendText(ctx, userID, ReplyAdded, nil); err != nil {
			m.log.Warn("added reply not delivered", logx.Int64("user_id", userID), logx.Err(err))
		}
		if next == nil {
			return nil
		}
		return next.DispatchOrigin(ctx, userID, code)
	})
}

func (m *Manager) handleStart(ctx context.Context, req *Request) error {
	if err := m.subs.Initialize(ctx, req.FromID); err != nil {
		_ = req.Reply(ctx, ReplyInternal, nil)
		return err
	}
	return req.Reply(ctx, ReplyIntro, nil)
}

func (m *Manager) handleAdd(ctx context.Context, req *Request) error {
	err := m.subs.AddOrigin(ctx, req.FromID, req.Text)
	switch {
	case err == nil:
		if !m.announced.Load() {
			return req.Reply(ctx, ReplyAdded, nil)
		}
		return nil
	case errors.Is(err, subscription.ErrImmediateDispatch):
		if !m.announced.Load() {
			_ = req.Reply(ctx, ReplyAdded, nil)
		}
		// The dispatcher already logged the pair failure.
		return req.Reply(ctx, ReplyAddedNoFares, nil)
	case errors.Is(err, subscription.ErrAlreadySubscribed):
		return req.Reply(ctx, ReplyAlreadyExists, nil)
	case errors.Is(err, subscription.ErrInvalidAirportCode):
		if err := req.Reply(ctx, ReplyInvalidCode, nil); err != nil {
			return err
		}
		return req.Reply(ctx, ReplyCodeList, &kit.SendOptions{DisablePreview: true})
	case errors.Is(err, subscription.ErrNotInitialized):
		return req.Reply(ctx, ReplyStartFirst, nil)
	default:
		_ = req.Reply(ctx, ReplyInternal, nil)
		return err
	}
}

func (m *Manager) handleList(ctx context.Context, req *Request) error {
	codes, err := m.subs.ListOrigins(ctx, req.FromID)
	if err != nil {
		_ = req.Reply(ctx, ReplyInternal, nil)
		return err
	}
	if len(codes) == 0 {
		return req.Reply(ctx, ReplyNoSubscriptions, nil)
	}
	return req.Reply(ctx, strings.Join(codes, " "), nil)
}

func (m *Manager) handleRemoveMenu(ctx context.Context, req *Request) error {
	codes, err := m.subs.ListOrigins(ctx, req.FromID)
	if err != nil {
		_ = req.Reply(ctx, ReplyInternal, nil)
		return err
	}
	if len(codes) == 0 {
		return req.Reply(ctx, ReplyNoSubscriptions, nil)
	}
	buttons := make([]kit.Button, 0, len(codes))
	for _, c := range codes {
		buttons = append(buttons, kit.Button{Text: c, Data: callbackRemove + ":" + c})
	}
	return req.Reply(ctx, ReplyPickRemoval, &kit.SendOptions{Keyboard: kit.Keyboard(buttons, 1)})
}

func (m *Manager) handleRemove(ctx context.Context, req *Request, payload string) error {
	cb := req.Update.Callback
	code := airports.Normalize(payload)
	err := m.subs.RemoveOrigin(ctx, req.FromID, code)
	switch {
	case err == nil:
		_ = req.Adapter.AnswerCallback(ctx, cb.ID, "")
		return req.Adapter.EditText(ctx, kit.MessageRef{ChatID: cb.ChatID, MessageID: cb.MessageID}, ReplyRemovedPrefix+code, nil)
	case errors.Is(err, subscription.ErrNotSubscribed):
		return req.Adapter.AnswerCallback(ctx, cb.ID, ReplyNotSubscribed)
	case errors.Is(err, subscription.ErrNotInitialized):
		return req.Adapter.AnswerCallback(ctx, cb.ID, ReplyStartFirst)
	default:
		_ = req.Adapter.AnswerCallback(ctx, cb.ID, ReplyInternal)
		return err
	}
}

func (m *Manager) handlePause(ctx context.Context, req *Request) error {
	return m.setActive(ctx, req, m.subs.Pause, ReplyPaused)
}

func (m *Manager) handleResume(ctx context.Context, req *Request) error {
	return m.setActive(ctx, req, m.subs.Resume, ReplyResumed)
}

func (m *Manager) setActive(ctx context.Context, req *Request, fn func(context.Context, int64) error, ok string) error {
	err := fn(ctx, req.FromID)
	switch {
	case err == nil:
		return req.Reply(ctx, ok, nil)
	case errors.Is(err, subscription.ErrNotInitialized):
		return req.Reply(ctx, ReplyStartFirst, nil)
	default:
		_ = req.Reply(ctx, ReplyInternal, nil)
		return err
	}
}

func (m *Manager) handleHelp(ctx context.Context, req *Request) error {
	return req.Reply(ctx, m.helpText(), &kit.SendOptions{ParseMode: kit.ParseHTML, DisablePreview: true})
}
