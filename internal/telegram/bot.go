package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/harun/vprtutor/internal/config"
	"github.com/harun/vprtutor/internal/logger"
	"github.com/harun/vprtutor/internal/observability"
	"github.com/harun/vprtutor/internal/tracing"
	"github.com/rs/zerolog"
)

// MaxMessageLength is the Telegram limit for one text message, in characters.
const MaxMessageLength = 4096

var ErrEmptyMessage = errors.New("telegram: message text is empty")

// Bot represents a Telegram bot instance
type Bot struct {
	api    *tgbotapi.BotAPI
	config *config.TelegramConfig
	logger zerolog.Logger
	dedupe *updateDedupe

	// Handlers
	messageHandler     MessageHandler
	commandHandler     CommandHandler
	unsupportedHandler UnsupportedHandler

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	done    chan struct{}
}

// MessageHandler handles incoming text messages
type MessageHandler interface {
	HandleMessage(ctx context.Context, update tgbotapi.Update) error
}

// CommandHandler handles bot commands
type CommandHandler interface {
	HandleCommand(ctx context.Context, update tgbotapi.Update) error
}

// UnsupportedHandler handles messages without text: stickers, photos, voice notes
type UnsupportedHandler interface {
	HandleUnsupported(ctx context.Context, update tgbotapi.Update) error
}

// New creates a new Telegram bot instance and authenticates it with getMe
func New(cfg *config.TelegramConfig, log *logger.Logger) (*Bot, error) {
	if cfg == nil {
		return nil, fmt.Errorf("telegram config is required")
	}

	if cfg.BotToken == "" {
		return nil, fmt.Errorf("bot token is required")
	}

	endpoint := cfg.APIEndpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}

	client := &http.Client{
		Timeout: time.Duration(cfg.PollTimeoutSeconds)*time.Second + 15*time.Second,
	}

	api, err := tgbotapi.NewBotAPIWithClient(cfg.BotToken, endpoint, client)
	if err != nil {
		observability.RecordTelegramError("auth")
		return nil, fmt.Errorf("failed to create bot API: %w", err)
	}
	api.Debug = cfg.Debug

	bot := &Bot{
		api:    api,
		config: cfg,
		logger: log.Component("telegram"),
		dedupe: newUpdateDedupe(cfg.DedupeTTL()),
	}

	bot.logger.Info().
		Str("username", api.Self.UserName).
		Int64("id", api.Self.ID).
		Msg("Telegram bot authenticated")

	return bot, nil
}

// SessionKey names the conversation of one Telegram user
func SessionKey(userID int64) string {
	return "tg:" + strconv.FormatInt(userID, 10)
}

// Start begins long polling. Updates are handled one at a time, in arrival order,
// until Stop is called or ctx is cancelled.
func (b *Bot) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running {
		return fmt.Errorf("bot is already running")
	}

	b.logger.Info().Msg("Starting Telegram bot")

	u := tgbotapi.NewUpdate(0)
	u.Timeout = b.config.PollTimeoutSeconds

	updates := b.api.GetUpdatesChan(u)
	b.stopCh = make(chan struct{})
	b.done = make(chan struct{})
	b.running = true

	b.dedupe.Start()
	go b.processUpdates(ctx, updates, b.stopCh, b.done)

	b.logger.Info().Msg("Telegram bot started")

	return nil
}

// Stop stops polling and waits for the update loop to exit
func (b *Bot) Stop() error {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return fmt.Errorf("bot is not running")
	}

	b.logger.Info().Msg("Stopping Telegram bot")

	b.running = false
	close(b.stopCh)
	done := b.done
	b.mu.Unlock()

	b.api.StopReceivingUpdates()
	b.dedupe.Stop()
	<-done

	b.logger.Info().Msg("Telegram bot stopped")

	return nil
}

// processUpdates drains the updates channel
func (b *Bot) processUpdates(ctx context.Context, updates tgbotapi.UpdatesChannel, stopCh, done chan struct{}) {
	defer close(done)

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if err := b.handleUpdate(ctx, update); err != nil {
				b.logger.Error().
					Err(err).
					Int("update_id", update.UpdateID).
					Msg("Failed to handle update")
			}
		}
	}
}

// handleUpdate routes an update to the appropriate handler
func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) error {
	msg := update.Message
	if msg == nil || msg.From == nil || msg.Chat == nil {
		observability.RecordTelegramReceived("ignored")
		return nil
	}

	if b.dedupe.Seen(dedupeKey(msg)) {
		observability.RecordTelegramReceived("duplicate")
		b.logger.Debug().
			Int64("chat_id", msg.Chat.ID).
			Int("message_id", msg.MessageID).
			Msg("Duplicate message dropped")
		return nil
	}

	ctx = tracing.NewUpdateContext(ctx, SessionKey(msg.From.ID), update.UpdateID)

	switch {
	case msg.IsCommand():
		observability.RecordTelegramReceived("command")
		if b.commandHandler != nil {
			return b.commandHandler.HandleCommand(ctx, update)
		}
	case strings.TrimSpace(msg.Text) != "":
		observability.RecordTelegramReceived("text")
		if b.messageHandler != nil {
			return b.messageHandler.HandleMessage(ctx, update)
		}
	default:
		observability.RecordTelegramReceived("unsupported")
		if b.unsupportedHandler != nil {
			return b.unsupportedHandler.HandleUnsupported(ctx, update)
		}
	}

	return nil
}

func dedupeKey(msg *tgbotapi.Message) string {
	return strconv.FormatInt(msg.Chat.ID, 10) + ":" + strconv.Itoa(msg.MessageID)
}

// SendText sends text to a chat, split into several messages when it exceeds
// MaxMessageLength
func (b *Bot) SendText(ctx context.Context, chatID int64, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}

	log := tracing.LoggerFromContext(ctx, b.logger)

	for _, chunk := range splitMessage(text, MaxMessageLength) {
		if err := ctx.Err(); err != nil {
			return err
		}

		if _, err := b.api.Send(tgbotapi.NewMessage(chatID, chunk)); err != nil {
			observability.RecordTelegramError("send")
			return fmt.Errorf("failed to send message: %w", err)
		}
		observability.RecordTelegramSent()
	}

	log.Debug().
		Int64("chat_id", chatID).
		Msg("Message sent")

	return nil
}

// splitMessage cuts text into chunks of at most limit runes, preferring
// to break after a newline in the second half of a chunk.
func splitMessage(text string, limit int) []string {
	runes := []rune(text)
	if len(runes) <= limit {
		return []string{text}
	}

	var chunks []string
	for len(runes) > limit {
		cut := limit
		for i := limit - 1; i >= limit/2; i-- {
			if runes[i] == '\n' {
				cut = i + 1
				break
			}
		}
		chunks = append(chunks, string(runes[:cut]))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		chunks = append(chunks, string(runes))
	}
	return chunks
}

// SetMessageHandler sets the message handler
func (b *Bot) SetMessageHandler(handler MessageHandler) {
	b.messageHandler = handler
}

// SetCommandHandler sets the command handler
func (b *Bot) SetCommandHandler(handler CommandHandler) {
	b.commandHandler = handler
}

// SetUnsupportedHandler sets the handler for messages without text
func (b *Bot) SetUnsupportedHandler(handler UnsupportedHandler) {
	b.unsupportedHandler = handler
}

// Username returns the bot's Telegram username
func (b *Bot) Username() string {
	return b.api.Self.UserName
}

// IsRunning returns whether the bot is running
func (b *Bot) IsRunning() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}
