package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"aura-oracle/internal/alerting"
	"aura-oracle/internal/automation"
	"aura-oracle/internal/oracle"
	"aura-oracle/internal/report"
	"aura-oracle/internal/scheduler"
	"aura-oracle/internal/storage"
	"aura-oracle/internal/vault"
)

// Upkeeper is the automation facade.
type Upkeeper interface {
	PerformUpkeep(ctx context.Context) (report.ReserveReport, error)
}

// SolvencyMonitor evaluates the solvency gate.
type SolvencyMonitor interface {
	Status(ctx context.Context) (vault.Status, error)
}

// Options tune the daemon.
type Options struct {
	PoolID        common.Hash
	AssetID       common.Hash
	LockKey       int64
	AlertsEnabled bool
	AlertCooldown time.Duration
	Channels      []string
}

var _ oracle.Listener = (*Service)(nil)

// Service orchestrates scheduled upkeep, solvency monitoring and alerting.
type Service struct {
	opts      Options
	scheduler *scheduler.Scheduler
	upkeep    Upkeeper
	monitor   SolvencyMonitor
	locker    storage.AdvisoryLocker
	notifier  alerting.Notifier
	logger    zerolog.Logger
	now       func() time.Time

	mu         sync.Mutex
	gateClosed bool
	lastAlert  time.Time
}

// New constructs the daemon service. locker and notifier may be nil.
func New(opts Options, sched *scheduler.Scheduler, upkeep Upkeeper, monitor SolvencyMonitor, locker storage.AdvisoryLocker, notifier alerting.Notifier, logger zerolog.Logger) *Service {
	return &Service{
		opts:      opts,
		scheduler: sched,
		upkeep:    upkeep,
		monitor:   monitor,
		locker:    locker,
		notifier:  notifier,
		logger:    logger.With().Str("component", "service").Logger(),
		now:       time.Now,
	}
}

// Run begins the scheduling loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.Tick)
}

// Tick 执行单次调度：先尝试 upkeep，再检查偿付能力。
func (s *Service) Tick(ctx context.Context, bucket time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("bucket", bucket).Msg("skip tick because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	upkeepErr := s.runUpkeep(ctx, bucket)
	if err := s.checkSolvency(ctx, bucket); err != nil {
		return errors.Join(upkeepErr, err)
	}
	return upkeepErr
}

// ReportAccepted re-evaluates solvency as soon as a report lands so a
// closing gate is reported without waiting for the next tick.
func (s *Service) ReportAccepted(ctx context.Context, a oracle.Acceptance) {
	if err := s.checkSolvency(ctx, s.now().UTC()); err != nil {
		s.logger.Error().Err(err).Str("source", a.Source).Msg("post-acceptance solvency check failed")
	}
}

func (s *Service) runUpkeep(ctx context.Context, bucket time.Time) error {
	if s.upkeep == nil {
		return nil
	}
	r, err := s.upkeep.PerformUpkeep(ctx)
	if errors.Is(err, automation.ErrTooSoon) {
		s.logger.Debug().Time("bucket", bucket).Err(err).Msg("upkeep not due")
		return nil
	}
	if err != nil {
		s.notify(ctx, alerting.Notification{
			Kind:    alerting.KindUpkeepFailed,
			At:      s.now(),
			PoolID:  s.opts.PoolID,
			AssetID: s.opts.AssetID,
			Reason:  err.Error(),
		}, false)
		return fmt.Errorf("perform upkeep: %w", err)
	}
	s.logger.Info().Time("bucket", bucket).
		Str("nav", report.FormatScaled(r.NAV)).
		Str("reserve", report.FormatScaled(r.Reserve)).
		Uint64("timestamp", r.Timestamp).
		Msg("scheduled update applied")
	return nil
}

func (s *Service) checkSolvency(ctx context.Context, bucket time.Time) error {
	if s.monitor == nil {
		return nil
	}
	status, err := s.monitor.Status(ctx)
	if err != nil {
		return fmt.Errorf("evaluate solvency: %w", err)
	}

	s.mu.Lock()
	wasClosed := s.gateClosed
	s.gateClosed = !status.Open
	s.mu.Unlock()

	log := s.logger.With().Time("bucket", bucket).Bool("open", status.Open).Logger()
	if status.Open {
		log.Debug().Str("reserve", fmtWad(status.Reserve)).Str("liability", fmtWad(status.Liability)).Msg("solvency ok")
		if wasClosed {
			s.notify(ctx, s.statusNotification(alerting.KindGateReopened, status), true)
		}
		return nil
	}

	log.Warn().Str("reason", status.Reason).
		Str("reserve", fmtWad(status.Reserve)).
		Str("liability", fmtWad(status.Liability)).
		Msg("solvency gate closed")
	s.notify(ctx, s.statusNotification(alerting.KindGateClosed, status), !wasClosed)
	return nil
}

// notify sends a notification unless alerts are off or the cooldown since
// the last alert has not elapsed. force bypasses the cooldown for state
// transitions.
func (s *Service) notify(ctx context.Context, note alerting.Notification, force bool) {
	if !s.opts.AlertsEnabled || s.notifier == nil {
		return
	}
	now := s.now()

	s.mu.Lock()
	if !force && !s.lastAlert.IsZero() && now.Sub(s.lastAlert) < s.opts.AlertCooldown {
		s.mu.Unlock()
		s.logger.Debug().Str("kind", string(note.Kind)).Msg("alert suppressed by cooldown")
		return
	}
	s.lastAlert = now
	s.mu.Unlock()

	note.Channels = s.opts.Channels
	if err := s.notifier.Notify(ctx, note); err != nil {
		s.logger.Error().Err(err).Str("kind", string(note.Kind)).Msg("failed to dispatch alert")
	}
}

func (s *Service) statusNotification(kind alerting.Kind, st vault.Status) alerting.Notification {
	return alerting.Notification{
		Kind:             kind,
		At:               s.now(),
		PoolID:           s.opts.PoolID,
		AssetID:          s.opts.AssetID,
		NAV:              wadDecimal(st.NAV),
		Reserve:          wadDecimal(st.Reserve),
		Liability:        wadDecimal(st.Liability),
		TotalShares:      wadDecimal(st.TotalShares),
		NAVTimestamp:     st.NAVTimestamp,
		ReserveTimestamp: st.ReserveTimestamp,
		Reason:           st.Reason,
	}
}

func wadDecimal(v *uint256.Int) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return report.ToDecimal(v.ToBig())
}

func fmtWad(v *uint256.Int) string {
	if v == nil {
		return "-"
	}
	return report.FormatScaled(v.ToBig())
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.opts.LockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.opts.LockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
