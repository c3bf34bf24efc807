package telegram

import (
	"context"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/harun/vprtutor/internal/tracing"
	"github.com/rs/zerolog"
)

// Handler turns text and non-text messages into MessageContext callbacks
type Handler struct {
	bot    *Bot
	logger zerolog.Logger

	onMessage     func(context.Context, MessageContext) error
	onUnsupported func(context.Context, MessageContext) error
}

// MessageContext contains message metadata
type MessageContext struct {
	SessionKey string
	ChatID     int64
	MessageID  int
	UserID     int64
	Username   string
	Text       string
	Timestamp  time.Time
	MediaType  string
}

// NewHandler creates a new message handler
func NewHandler(bot *Bot) *Handler {
	return &Handler{
		bot:    bot,
		logger: bot.logger.With().Str("module", "handler").Logger(),
	}
}

// HandleMessage processes incoming text messages
func (h *Handler) HandleMessage(ctx context.Context, update tgbotapi.Update) error {
	if update.Message == nil || update.Message.From == nil {
		return nil
	}

	mc := newMessageContext(update.Message)

	logger := tracing.LoggerFromContext(ctx, h.logger)
	logger.Debug().
		Int64("chat_id", mc.ChatID).
		Int("text_len", len([]rune(mc.Text))).
		Msg("Message received")

	if h.onMessage != nil {
		return h.onMessage(ctx, mc)
	}
	return nil
}

// HandleUnsupported processes messages that carry no text
func (h *Handler) HandleUnsupported(ctx context.Context, update tgbotapi.Update) error {
	if update.Message == nil || update.Message.From == nil {
		return nil
	}

	mc := newMessageContext(update.Message)

	logger := tracing.LoggerFromContext(ctx, h.logger)
	logger.Debug().
		Int64("chat_id", mc.ChatID).
		Str("media_type", mc.MediaType).
		Msg("Unsupported message received")

	if h.onUnsupported != nil {
		return h.onUnsupported(ctx, mc)
	}
	return nil
}

func newMessageContext(msg *tgbotapi.Message) MessageContext {
	mc := MessageContext{
		SessionKey: SessionKey(msg.From.ID),
		ChatID:     msg.Chat.ID,
		MessageID:  msg.MessageID,
		UserID:     msg.From.ID,
		Username:   msg.From.UserName,
		Text:       msg.Text,
		Timestamp:  time.Unix(int64(msg.Date), 0),
		MediaType:  mediaType(msg),
	}
	return mc
}

// mediaType names the payload of a message, empty for plain text
func mediaType(msg *tgbotapi.Message) string {
	switch {
	case msg.Photo != nil:
		return "photo"
	case msg.Sticker != nil:
		return "sticker"
	case msg.Voice != nil:
		return "voice"
	case msg.VideoNote != nil:
		return "video_note"
	case msg.Video != nil:
		return "video"
	case msg.Audio != nil:
		return "audio"
	case msg.Animation != nil:
		return "animation"
	case msg.Document != nil:
		return "document"
	case msg.Location != nil:
		return "location"
	case msg.Contact != nil:
		return "contact"
	case msg.Text == "":
		return "other"
	}
	return ""
}

// SetOnMessage sets the text message callback
func (h *Handler) SetOnMessage(callback func(context.Context, MessageContext) error) {
	h.onMessage = callback
}

// SetOnUnsupported sets the callback for messages without text
func (h *Handler) SetOnUnsupported(callback func(context.Context, MessageContext) error) {
	h.onUnsupported = callback
}
