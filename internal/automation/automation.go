package automation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"aura-oracle/internal/report"
)

// ErrTooSoon is returned when the minimum interval since the last run has
// not yet elapsed.
var ErrTooSoon = errors.New("automation: too soon")

// Updater is the coordinator's pull-based update entry point.
type Updater interface {
	ProcessScheduledUpdate(ctx context.Context, caller common.Address) (report.ReserveReport, error)
}

// StateStore persists the last successful run so restarts keep honouring
// the interval.
type StateStore interface {
	LoadLastRun(ctx context.Context, name string) (time.Time, bool, error)
	SaveLastRun(ctx context.Context, name string, at time.Time) error
}

// Options tune the facade.
type Options struct {
	// Name keys the persisted state.
	Name        string
	MinInterval time.Duration
	// Caller is the identity holding the automation capability on the coordinator.
	Caller common.Address
	State  StateStore
	Now    func() time.Time
}

// Facade enforces a minimum refresh interval in front of the coordinator.
type Facade struct {
	opts    Options
	updater Updater
	logger  zerolog.Logger

	mu      sync.Mutex
	lastRun time.Time
	loaded  bool
}

// New constructs a Facade.
func New(opts Options, updater Updater, logger zerolog.Logger) (*Facade, error) {
	if updater == nil {
		return nil, errors.New("updater cannot be nil")
	}
	if opts.MinInterval <= 0 {
		return nil, errors.New("min interval must be positive")
	}
	if opts.Name == "" {
		opts.Name = "nav-por"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Facade{
		opts:    opts,
		updater: updater,
		logger:  logger.With().Str("component", "automation").Str("upkeep", opts.Name).Logger(),
	}, nil
}

// CheckUpkeep reports whether PerformUpkeep would currently do work. The
// answer is advisory: a concurrent PerformUpkeep may still win the slot.
func (f *Facade) CheckUpkeep(ctx context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.load(ctx); err != nil {
		return false, err
	}
	return f.opts.Now().Sub(f.lastRun) >= f.opts.MinInterval, nil
}

// PerformUpkeep runs the coordinator's scheduled update if the interval has
// elapsed and then advances lastRun. The whole check-run-advance sequence
// holds the facade lock, so of two racing callers the loser observes the
// advanced lastRun and gets ErrTooSoon.
func (f *Facade) PerformUpkeep(ctx context.Context) (report.ReserveReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.load(ctx); err != nil {
		return report.ReserveReport{}, err
	}

	now := f.opts.Now()
	if elapsed := now.Sub(f.lastRun); elapsed < f.opts.MinInterval {
		return report.ReserveReport{}, fmt.Errorf("%w: next run in %s", ErrTooSoon, (f.opts.MinInterval - elapsed).Truncate(time.Second))
	}

	r, err := f.updater.ProcessScheduledUpdate(ctx, f.opts.Caller)
	if err != nil {
		return report.ReserveReport{}, fmt.Errorf("process scheduled update: %w", err)
	}

	f.lastRun = now
	if f.opts.State != nil {
		if err := f.opts.State.SaveLastRun(ctx, f.opts.Name, now); err != nil {
			f.logger.Error().Err(err).Time("last_run", now).Msg("failed to persist automation state")
		}
	}

	f.logger.Info().Time("last_run", now).Str("report_id", r.ReportID.Hex()).Msg("upkeep performed")
	return r, nil
}

// LastRun returns the time of the last successful upkeep.
func (f *Facade) LastRun() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastRun
}

// MinInterval returns the configured interval.
func (f *Facade) MinInterval() time.Duration {
	return f.opts.MinInterval
}

func (f *Facade) load(ctx context.Context) error {
	if f.loaded || f.opts.State == nil {
		return nil
	}
	at, ok, err := f.opts.State.LoadLastRun(ctx, f.opts.Name)
	if err != nil {
		return fmt.Errorf("load automation state: %w", err)
	}
	if ok {
		f.lastRun = at
	}
	f.loaded = true
	return nil
}
