package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const DefaultSweepSchedule = "@every 10m"

// IdleEvicter is implemented by stores that can drop idle sessions
type IdleEvicter interface {
	EvictIdle(maxIdle time.Duration) int
}

// Sweeper periodically evicts sessions idle for longer than maxIdle
type Sweeper struct {
	store   IdleEvicter
	maxIdle time.Duration
	cron    *cron.Cron
	logger  zerolog.Logger

	mu      sync.Mutex
	running bool
}

// NewSweeper creates a sweeper on the given cron schedule.
// Standard five-field expressions and descriptors like "@every 10m" are accepted.
func NewSweeper(store IdleEvicter, maxIdle time.Duration, schedule string, logger zerolog.Logger) (*Sweeper, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if maxIdle <= 0 {
		return nil, fmt.Errorf("max idle must be positive, got %s", maxIdle)
	}
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}

	s := &Sweeper{
		store:   store,
		maxIdle: maxIdle,
		cron:    cron.New(),
		logger:  logger.With().Str("module", "session_sweeper").Logger(),
	}

	if _, err := s.cron.AddFunc(schedule, func() { s.Sweep() }); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}

	return s, nil
}

// Start begins running sweeps in the background
func (s *Sweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("sweeper is already running")
	}
	s.cron.Start()
	s.running = true

	s.logger.Info().Dur("max_idle", s.maxIdle).Msg("Session sweeper started")
	return nil
}

// Stop halts scheduling and waits for an in-flight sweep to finish
func (s *Sweeper) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return fmt.Errorf("sweeper is not running")
	}
	<-s.cron.Stop().Done()
	s.running = false

	s.logger.Info().Msg("Session sweeper stopped")
	return nil
}

// IsRunning reports whether the sweeper is scheduled
func (s *Sweeper) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Sweep evicts idle sessions once and returns how many were removed
func (s *Sweeper) Sweep() int {
	evicted := s.store.EvictIdle(s.maxIdle)
	if evicted > 0 {
		s.logger.Info().Int("evicted", evicted).Msg("Idle sessions evicted")
	}
	return evicted
}
