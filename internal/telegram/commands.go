package telegram

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/harun/vprtutor/internal/tracing"
	"github.com/rs/zerolog"
)

// Commands dispatches bot commands to registered handlers
type Commands struct {
	bot    *Bot
	logger zerolog.Logger

	mu        sync.RWMutex
	handlers  map[string]CommandFunc
	onUnknown CommandFunc
}

// CommandFunc is a function that handles a command
type CommandFunc func(context.Context, CommandContext) error

// CommandContext contains command metadata
type CommandContext struct {
	SessionKey string
	ChatID     int64
	MessageID  int
	UserID     int64
	Username   string
	Command    string
	Args       []string
	RawArgs    string
}

// NewCommands creates a new command handler
func NewCommands(bot *Bot) *Commands {
	return &Commands{
		bot:      bot,
		logger:   bot.logger.With().Str("module", "commands").Logger(),
		handlers: make(map[string]CommandFunc),
	}
}

// HandleCommand processes incoming commands
func (c *Commands) HandleCommand(ctx context.Context, update tgbotapi.Update) error {
	if update.Message == nil || update.Message.From == nil || !update.Message.IsCommand() {
		return nil
	}

	msg := update.Message
	command := strings.ToLower(msg.Command())
	rawArgs := msg.CommandArguments()

	cc := CommandContext{
		SessionKey: SessionKey(msg.From.ID),
		ChatID:     msg.Chat.ID,
		MessageID:  msg.MessageID,
		UserID:     msg.From.ID,
		Username:   msg.From.UserName,
		Command:    command,
		Args:       strings.Fields(rawArgs),
		RawArgs:    rawArgs,
	}

	logger := tracing.LoggerFromContext(ctx, c.logger)
	logger.Debug().
		Int64("chat_id", cc.ChatID).
		Str("command", command).
		Msg("Command received")

	c.mu.RLock()
	handler, exists := c.handlers[command]
	unknown := c.onUnknown
	c.mu.RUnlock()

	if !exists {
		if unknown == nil {
			return nil
		}
		return unknown(ctx, cc)
	}

	return handler(ctx, cc)
}

// Register registers a command handler
func (c *Commands) Register(command string, handler CommandFunc) {
	command = strings.ToLower(strings.TrimPrefix(command, "/"))

	c.mu.Lock()
	c.handlers[command] = handler
	c.mu.Unlock()

	c.logger.Debug().Str("command", command).Msg("Command registered")
}

// SetOnUnknown sets the handler for commands nobody registered
func (c *Commands) SetOnUnknown(handler CommandFunc) {
	c.mu.Lock()
	c.onUnknown = handler
	c.mu.Unlock()
}

// SetCommands publishes the command menu shown by Telegram clients
func (c *Commands) SetCommands(commands []tgbotapi.BotCommand) error {
	cfg := tgbotapi.NewSetMyCommands(commands...)
	if _, err := c.bot.api.Request(cfg); err != nil {
		return fmt.Errorf("failed to set commands: %w", err)
	}

	c.logger.Info().Int("count", len(commands)).Msg("Bot commands updated")
	return nil
}

// GetRegisteredCommands returns all registered commands, sorted
func (c *Commands) GetRegisteredCommands() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	commands := make([]string, 0, len(c.handlers))
	for cmd := range c.handlers {
		commands = append(commands, cmd)
	}
	sort.Strings(commands)
	return commands
}
