package daemon

import (
	"context"

	"github.com/harun/vprtutor/internal/telegram"
	"github.com/harun/vprtutor/pkg/commandqueue"
	"github.com/harun/vprtutor/pkg/tutor"
)

// dispatcher is the part of the tutor the Telegram callbacks need
type dispatcher interface {
	Dispatch(ctx context.Context, ev tutor.Event) (*commandqueue.Pending, error)
}

// bindIngress maps Telegram callbacks to tutor events. Callbacks only enqueue;
// the update loop never waits for a completion.
func bindIngress(t dispatcher, handler *telegram.Handler, commands *telegram.Commands) {
	dispatch := func(ctx context.Context, ev tutor.Event) error {
		_, err := t.Dispatch(ctx, ev)
		return err
	}

	handler.SetOnMessage(func(ctx context.Context, mc telegram.MessageContext) error {
		return dispatch(ctx, tutor.Event{
			Kind:      tutor.EventMessage,
			SessionID: mc.SessionKey,
			ChatID:    mc.ChatID,
			MessageID: mc.MessageID,
			Text:      mc.Text,
		})
	})

	handler.SetOnUnsupported(func(ctx context.Context, mc telegram.MessageContext) error {
		return dispatch(ctx, tutor.Event{
			Kind:      tutor.EventUnsupported,
			SessionID: mc.SessionKey,
			ChatID:    mc.ChatID,
			MessageID: mc.MessageID,
		})
	})

	command := func(kind tutor.EventKind) telegram.CommandFunc {
		return func(ctx context.Context, cc telegram.CommandContext) error {
			return dispatch(ctx, tutor.Event{
				Kind:      kind,
				SessionID: cc.SessionKey,
				ChatID:    cc.ChatID,
				MessageID: cc.MessageID,
			})
		}
	}

	commands.Register("start", command(tutor.EventStart))
	commands.Register("help", command(tutor.EventHelp))
	commands.SetOnUnknown(command(tutor.EventUnknownCommand))
}
