package tutor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/harun/vprtutor/internal/observability"
	"github.com/harun/vprtutor/internal/tracing"
	"github.com/harun/vprtutor/pkg/commandqueue"
	"github.com/harun/vprtutor/pkg/completion"
	"github.com/harun/vprtutor/pkg/prompt"
	"github.com/harun/vprtutor/pkg/session"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Completer produces one reply for an assembled conversation
type Completer interface {
	Complete(ctx context.Context, messages []completion.Message) (string, error)
}

// Sender delivers a text reply to a chat
type Sender interface {
	SendText(ctx context.Context, chatID int64, text string) error
}

// EventKind identifies what the student sent
type EventKind string

const (
	EventStart          EventKind = "start"
	EventHelp           EventKind = "help"
	EventMessage        EventKind = "message"
	EventUnsupported    EventKind = "unsupported"
	EventUnknownCommand EventKind = "unknown_command"
)

// Event is one inbound student action, already mapped to a session
type Event struct {
	Kind      EventKind
	SessionID string
	ChatID    int64
	MessageID int
	Text      string
}

// Options wires a Tutor
type Options struct {
	Store     session.Store
	Assembler *prompt.Assembler
	Completer Completer
	Sender    Sender
	Queue     *commandqueue.CommandQueue
	Logger    zerolog.Logger

	// WarnAfter logs events that wait on their session lane longer than this.
	WarnAfter time.Duration
}

// Tutor binds inbound events to the session store, the assembler and the completer
type Tutor struct {
	store     session.Store
	assembler *prompt.Assembler
	completer Completer
	sender    Sender
	queue     *commandqueue.CommandQueue
	logger    zerolog.Logger
	warnAfter time.Duration
}

// New creates a Tutor
func New(opts Options) (*Tutor, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if opts.Completer == nil {
		return nil, fmt.Errorf("completer is required")
	}
	if opts.Sender == nil {
		return nil, fmt.Errorf("sender is required")
	}
	if opts.Queue == nil {
		return nil, fmt.Errorf("command queue is required")
	}
	if opts.Assembler == nil {
		opts.Assembler = prompt.NewAssembler(prompt.DefaultWindow)
	}

	observability.EnsureRegistered()

	return &Tutor{
		store:     opts.Store,
		assembler: opts.Assembler,
		completer: opts.Completer,
		sender:    opts.Sender,
		queue:     opts.Queue,
		logger:    opts.Logger.With().Str("component", "tutor").Logger(),
		warnAfter: opts.WarnAfter,
	}, nil
}

// Dispatch queues ev on its session lane and returns without waiting.
// Events of one session are handled in the order they are dispatched.
func (t *Tutor) Dispatch(ctx context.Context, ev Event) (*commandqueue.Pending, error) {
	if strings.TrimSpace(ev.SessionID) == "" {
		return nil, session.ErrEmptySessionID
	}

	var options *commandqueue.TaskOptions
	if t.warnAfter > 0 {
		options = &commandqueue.TaskOptions{WarnAfter: t.warnAfter}
	}

	return t.queue.Submit(ctx, ev.SessionID, func(taskCtx context.Context) (interface{}, error) {
		return nil, t.Handle(taskCtx, ev)
	}, options)
}

// Handle runs the handler for ev on the calling goroutine
func (t *Tutor) Handle(ctx context.Context, ev Event) error {
	switch ev.Kind {
	case EventStart:
		return t.OnStart(ctx, ev.SessionID, ev.ChatID)
	case EventHelp:
		return t.OnHelp(ctx, ev.ChatID)
	case EventMessage:
		return t.OnMessage(ctx, ev.SessionID, ev.ChatID, ev.Text)
	case EventUnsupported:
		return t.OnUnsupported(ctx, ev.ChatID)
	case EventUnknownCommand:
		return t.reply(ctx, ev.ChatID, "unknown_command", prompt.UnknownCommandText)
	default:
		return fmt.Errorf("unknown event kind %q", ev.Kind)
	}
}

// OnStart resets the session and sends the welcome text
func (t *Tutor) OnStart(ctx context.Context, sessionID string, chatID int64) error {
	logger := tracing.LoggerFromContext(ctx, t.logger)

	if err := t.store.Reset(sessionID); err != nil {
		logger.Error().Err(err).Str("session_id", sessionID).Msg("Failed to reset session")
		return fmt.Errorf("reset session: %w", err)
	}

	logger.Info().Str("session_id", sessionID).Msg("Session reset")
	return t.reply(ctx, chatID, "welcome", prompt.WelcomeText)
}

// OnHelp repeats the welcome text without touching history
func (t *Tutor) OnHelp(ctx context.Context, chatID int64) error {
	return t.reply(ctx, chatID, "welcome", prompt.WelcomeText)
}

// OnUnsupported answers a non-text message with a hint; history is untouched
func (t *Tutor) OnUnsupported(ctx context.Context, chatID int64) error {
	return t.reply(ctx, chatID, "unsupported", prompt.UnsupportedText)
}

// OnMessage records the student's text, asks the completer and relays the reply.
// When the completion fails only the user turn stays in history and the apology is sent.
func (t *Tutor) OnMessage(ctx context.Context, sessionID string, chatID int64, text string) error {
	ctx, span := tracing.StartSpan(
		ctx,
		"vprtutor.tutor",
		"tutor.on_message",
		attribute.String("session_id", sessionID),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, t.logger).With().Str("session_id", sessionID).Logger()

	if err := t.store.Append(sessionID, session.RoleUser, text); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error().Err(err).Msg("Failed to record user turn")
		return t.apologize(ctx, chatID, fmt.Errorf("append user turn: %w", err))
	}

	history, err := t.store.RecentWindow(sessionID, t.assembler.WindowSize())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error().Err(err).Msg("Failed to read session window")
		return t.apologize(ctx, chatID, fmt.Errorf("read window: %w", err))
	}

	messages := t.assembler.Assemble(history)
	span.SetAttributes(attribute.Int("messages", len(messages)))

	reply, err := t.completer.Complete(ctx, messages)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		event := logger.Error().Err(err)
		var unavailable *completion.UnavailableError
		if errors.As(err, &unavailable) {
			event = event.
				Str("provider", unavailable.Provider).
				Str("kind", string(unavailable.Kind)).
				Int("attempts", unavailable.Attempts)
		}
		event.Msg("Completion unavailable")

		return t.apologize(ctx, chatID, nil)
	}

	if err := t.store.Append(sessionID, session.RoleAssistant, reply); err != nil {
		// The student still gets the answer; only the history misses it.
		logger.Error().Err(err).Msg("Failed to record assistant turn")
	}

	logger.Debug().Int("reply_len", len([]rune(reply))).Msg("Reply ready")
	return t.reply(ctx, chatID, "answer", reply)
}

// apologize sends the apology; cause is returned alongside any send error
func (t *Tutor) apologize(ctx context.Context, chatID int64, cause error) error {
	sendErr := t.reply(ctx, chatID, "apology", prompt.ApologyText)
	if cause != nil {
		return errors.Join(cause, sendErr)
	}
	return sendErr
}

func (t *Tutor) reply(ctx context.Context, chatID int64, kind, text string) error {
	if err := t.sender.SendText(ctx, chatID, text); err != nil {
		logger := tracing.LoggerFromContext(ctx, t.logger)
		logger.Error().
			Err(err).
			Int64("chat_id", chatID).
			Str("reply_kind", kind).
			Msg("Failed to send reply")
		return fmt.Errorf("send %s reply: %w", kind, err)
	}
	observability.RecordReply(kind)
	return nil
}
