package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/harun/vprtutor/internal/config"
	"github.com/harun/vprtutor/internal/logger"
	"github.com/harun/vprtutor/internal/observability"
	"github.com/harun/vprtutor/internal/telegram"
	"github.com/harun/vprtutor/internal/tracing"
	"github.com/harun/vprtutor/pkg/commandqueue"
	"github.com/harun/vprtutor/pkg/completion"
	"github.com/harun/vprtutor/pkg/prompt"
	"github.com/harun/vprtutor/pkg/session"
	"github.com/harun/vprtutor/pkg/tutor"
)

const (
	queueName = "sessions"

	// drainTimeout bounds how long Stop waits for in-flight replies.
	drainTimeout = 10 * time.Second
)

// Daemon runs the tutor bot: Telegram polling, the per-session queue and the ops listener
type Daemon struct {
	config  *config.Config
	logger  *logger.Logger
	version string

	// Core modules
	store     *session.MemoryStore
	sweeper   *session.Sweeper
	completer *completion.Client
	queue     *commandqueue.CommandQueue
	tutor     *tutor.Tutor

	// Telegram
	telegramBot     *telegram.Bot
	telegramCmd     *telegram.Commands
	telegramHandler *telegram.Handler

	opsServer *observability.Server
	eventLoop *EventLoop

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startTime time.Time
	running   bool
	mu        sync.RWMutex

	tracer *tracing.Provider
}

// Status describes a running daemon
type Status struct {
	Running   bool          `json:"running"`
	Uptime    time.Duration `json:"uptime"`
	StartTime time.Time     `json:"start_time"`
	Sessions  int           `json:"sessions"`
	Provider  string        `json:"provider"`
}

var newTelegramBot = func(cfg *config.TelegramConfig, log *logger.Logger) (*telegram.Bot, error) {
	return telegram.New(cfg, log)
}

// New creates a daemon from a validated configuration
func New(cfg *config.Config, log *logger.Logger, version string) (*Daemon, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	observability.EnsureRegistered()

	d := &Daemon{
		config:  cfg,
		logger:  log,
		version: version,
		ctx:     ctx,
		cancel:  cancel,
	}

	if cfg.Ops.Tracing {
		tracer, err := tracing.Setup(tracing.Options{
			ServiceName:    "vprtutor",
			ServiceVersion: version,
			SampleRatio:    cfg.Ops.TraceSampleRatio,
		})
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize tracing, continuing without it")
		}
		d.tracer = tracer
	}

	if err := d.initializeCoreModules(); err != nil {
		d.abort()
		return nil, fmt.Errorf("failed to initialize core modules: %w", err)
	}

	if err := d.initializeServices(); err != nil {
		d.abort()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	d.eventLoop = NewEventLoop(d)

	return d, nil
}

func (d *Daemon) abort() {
	d.cancel()
	if d.queue != nil {
		_ = d.queue.Close()
	}
	_ = d.tracer.Shutdown(context.Background())
	d.tracer = nil
}

// initializeCoreModules builds the session store, completion client, queue and tutor
func (d *Daemon) initializeCoreModules() error {
	zl := d.logger.GetZerolog()

	d.store = session.NewMemoryStore(session.Options{MaxTurns: d.config.Session.MaxTurns})
	d.logger.Info().
		Int("window", d.config.Session.Window).
		Int("max_turns", d.config.Session.MaxTurns).
		Msg("Session store initialized")

	if ttl := d.config.Session.IdleTTL(); ttl > 0 {
		sweeper, err := session.NewSweeper(d.store, ttl, d.config.Session.SweepSchedule, zl)
		if err != nil {
			return fmt.Errorf("failed to create session sweeper: %w", err)
		}
		d.sweeper = sweeper
	}

	cc := d.config.Completion
	provider, err := completion.NewProvider(cc.Provider, completion.ProviderOptions{
		APIKey:  cc.APIKey(),
		BaseURL: cc.BaseURL,
	})
	if err != nil {
		return fmt.Errorf("failed to create completion provider: %w", err)
	}

	completer, err := completion.NewClient(provider, completion.Config{
		Model:       cc.ModelName(),
		MaxTokens:   cc.MaxTokens,
		Temperature: cc.Temperature,
		Timeout:     cc.Timeout(),
		MaxRetries:  cc.MaxRetries,
		BackoffBase: cc.BackoffBase(),
		BackoffMax:  cc.BackoffMax(),
	}, zl)
	if err != nil {
		return fmt.Errorf("failed to create completion client: %w", err)
	}
	d.completer = completer
	d.logger.Info().
		Str("provider", provider.Name()).
		Str("model", cc.ModelName()).
		Int("max_retries", cc.MaxRetries).
		Msg("Completion client initialized")

	d.queue = commandqueue.New(queueName)

	return nil
}

// initializeServices connects Telegram and binds it to the tutor
func (d *Daemon) initializeServices() error {
	bot, err := newTelegramBot(&d.config.Telegram, d.logger)
	if err != nil {
		return fmt.Errorf("failed to create telegram bot: %w", err)
	}
	d.telegramBot = bot

	t, err := tutor.New(tutor.Options{
		Store:     d.store,
		Assembler: prompt.NewAssembler(d.config.Session.Window),
		Completer: d.completer,
		Sender:    bot,
		Queue:     d.queue,
		Logger:    d.logger.GetZerolog(),
		WarnAfter: 2 * d.config.Completion.Timeout(),
	})
	if err != nil {
		return fmt.Errorf("failed to create tutor: %w", err)
	}
	d.tutor = t

	d.telegramHandler = telegram.NewHandler(bot)
	d.telegramCmd = telegram.NewCommands(bot)
	bindIngress(d.tutor, d.telegramHandler, d.telegramCmd)

	bot.SetMessageHandler(d.telegramHandler)
	bot.SetUnsupportedHandler(d.telegramHandler)
	bot.SetCommandHandler(d.telegramCmd)

	if d.config.Ops.Addr != "" {
		d.opsServer = observability.NewServer(d.config.Ops.Addr, d.logger.GetZerolog())
		d.opsServer.AddCheck("telegram", func() error {
			if !bot.IsRunning() {
				return fmt.Errorf("not polling")
			}
			return nil
		})
		d.opsServer.AddCheck("queue", func() error {
			if d.queue.IsClosed() {
				return commandqueue.ErrClosed
			}
			return nil
		})
	}

	return nil
}

// Start starts polling, the sweeper, the ops listener and the event loop
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	logger := d.logger.GetZerolog().With().Str("trace_id", tracing.NewTraceID()).Logger()
	logger.Info().Str("version", d.version).Msg("Starting vprtutor")

	if d.opsServer != nil {
		if err := d.opsServer.Start(); err != nil {
			d.markStopped()
			return fmt.Errorf("failed to start ops server: %w", err)
		}
		logger.Info().Str("addr", d.opsServer.Addr()).Msg("Ops server started")
	}

	if d.sweeper != nil {
		if err := d.sweeper.Start(); err != nil {
			logger.Warn().Err(err).Msg("Failed to start session sweeper")
		} else {
			logger.Info().Dur("idle_ttl", d.config.Session.IdleTTL()).Msg("Session sweeper started")
		}
	}

	if err := d.telegramCmd.SetCommands([]tgbotapi.BotCommand{
		{Command: "start", Description: "Начать заново"},
		{Command: "help", Description: "Что я умею"},
	}); err != nil {
		logger.Warn().Err(err).Msg("Failed to publish bot commands")
	}

	if err := d.telegramBot.Start(d.ctx); err != nil {
		d.markStopped()
		return fmt.Errorf("failed to start telegram bot: %w", err)
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.eventLoop.Run(d.ctx)
	}()

	logger.Info().Msg("vprtutor started")

	return nil
}

func (d *Daemon) markStopped() {
	d.mu.Lock()
	d.running = false
	d.mu.Unlock()
}

// Stop stops accepting updates, lets in-flight replies finish and shuts everything down
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is not running")
	}
	d.running = false
	d.mu.Unlock()

	logger := d.logger.GetZerolog().With().Str("trace_id", tracing.NewTraceID()).Logger()
	logger.Info().Msg("Stopping vprtutor")

	if err := d.telegramBot.Stop(); err != nil {
		logger.Error().Err(err).Msg("Failed to stop telegram bot")
	}

	d.eventLoop.HandleShutdown(drainTimeout)

	d.cancel()

	if err := d.queue.Close(); err != nil {
		logger.Error().Err(err).Msg("Failed to close command queue")
	}

	if d.sweeper != nil && d.sweeper.IsRunning() {
		if err := d.sweeper.Stop(); err != nil {
			logger.Error().Err(err).Msg("Failed to stop session sweeper")
		}
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		logger.Warn().Msg("Timeout waiting for goroutines to stop")
	}

	if d.opsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := d.opsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("Failed to stop ops server")
		}
		cancel()
	}

	if d.tracer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := d.tracer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("Failed to shutdown tracing")
		}
		cancel()
		d.tracer = nil
	}

	logger.Info().Msg("vprtutor stopped")

	return nil
}

// Status returns the daemon status
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := Status{
		Running:  d.running,
		Sessions: d.store.Count(),
		Provider: d.completer.Provider(),
	}

	if d.running {
		status.Uptime = time.Since(d.startTime)
		status.StartTime = d.startTime
	}

	return status
}

// Run starts the daemon and blocks until ctx is cancelled or SIGINT/SIGTERM arrives
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.Start(); err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		d.logger.Info().Str("signal", sig.String()).Msg("Received signal")
	case <-ctx.Done():
		d.logger.Info().Msg("Context cancelled")
	}

	return d.Stop()
}

// OpsAddr returns the bound ops listener address, empty when disabled
func (d *Daemon) OpsAddr() string {
	if d.opsServer == nil {
		return ""
	}
	return d.opsServer.Addr()
}
