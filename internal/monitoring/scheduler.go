package monitoring

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/isdelr/safeback/internal/metrics"
	"github.com/isdelr/safeback/internal/models"
	"github.com/isdelr/safeback/internal/services"
)

// Spent confirmation tokens are kept this long before the scheduler purges them.
const confirmationRetention = 24 * time.Hour

// RunResult is the outcome of one workspace in a scheduler pass.
type RunResult struct {
	WorkspaceID string `json:"workspace_id"`
	SnapshotID  string `json:"snapshot_id,omitempty"`
	Skipped     bool   `json:"skipped"`
	Error       string `json:"error,omitempty"`
}

// Scheduler captures scheduled snapshots for every workspace with backups enabled.
type Scheduler struct {
	settingsSvc   services.SettingsServiceProvider
	snapshotSvc   services.SnapshotServiceProvider
	memberSvc     services.MemberServiceProvider
	confirmations *services.ConfirmationStore
	interval      time.Duration
	concurrency   int
	ticker        *time.Ticker
	now           func() time.Time

	// Every pass runs under ctx, which Stop cancels.
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	exited   chan struct{}
	running  bool
	mu       sync.Mutex
	stopOnce sync.Once
}

// NewScheduler creates a new scheduler instance. confirmations may be nil.
func NewScheduler(
	settingsSvc services.SettingsServiceProvider,
	snapshotSvc services.SnapshotServiceProvider,
	memberSvc services.MemberServiceProvider,
	confirmations *services.ConfirmationStore,
	interval time.Duration,
	concurrency int,
) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	if concurrency < 1 {
		concurrency = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		settingsSvc:   settingsSvc,
		snapshotSvc:   snapshotSvc,
		memberSvc:     memberSvc,
		confirmations: confirmations,
		interval:      interval,
		concurrency:   concurrency,
		now:           time.Now,
		ctx:           ctx,
		cancel:        cancel,
		done:          make(chan struct{}),
		exited:        make(chan struct{}),
	}
}

// Run starts the scheduler's ticking loop.
func (s *Scheduler) Run() {
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()
	defer close(s.exited)

	log.Info().Dur("interval", s.interval).Msg("Starting backup scheduler")
	s.ticker = time.NewTicker(s.interval)
	defer s.ticker.Stop()

	// Run once immediately on start
	s.tick()

	for {
		select {
		case <-s.done:
			log.Info().Msg("Stopping backup scheduler")
			return
		case <-s.ticker.C:
			s.tick()
		}
	}
}

// Stop halts the scheduler, cancelling any pass in progress, and waits for Run to return.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.cancel()
		close(s.done)
	})
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if running {
		<-s.exited
	}
}

func (s *Scheduler) tick() {
	ctx, cancel := context.WithTimeout(s.ctx, 30*time.Minute)
	defer cancel()

	if _, err := s.RunOnce(ctx, false); err != nil {
		log.Error().Err(err).Msg("Scheduler pass failed")
	}
	if s.confirmations != nil {
		if n, err := s.confirmations.PurgeExpired(ctx, confirmationRetention); err != nil {
			log.Warn().Err(err).Msg("Failed to purge expired confirmation tokens")
		} else if n > 0 {
			log.Debug().Int64("purged", n).Msg("Purged expired confirmation tokens")
		}
	}
}

// RunOnce captures a scheduled snapshot for every enabled workspace that is due, or
// for all of them when force is set. Workspaces run in parallel; one failing does not
// affect the others.
func (s *Scheduler) RunOnce(ctx context.Context, force bool) ([]RunResult, error) {
	enabled, err := s.settingsSvc.ListEnabled(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing enabled workspaces: %w", err)
	}

	results := make([]RunResult, len(enabled))
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, settings := range enabled {
		i, settings := i, settings
		g.Go(func() error {
			results[i] = s.runWorkspace(ctx, settings, force)
			return nil
		})
	}
	_ = g.Wait()

	failed := lo.CountBy(results, func(r RunResult) bool { return r.Error != "" })
	skipped := lo.CountBy(results, func(r RunResult) bool { return r.Skipped })
	metrics.SchedulerLastRun.SetToCurrentTime()
	log.Info().
		Int("workspaces", len(results)).
		Int("captured", len(results)-failed-skipped).
		Int("skipped", skipped).
		Int("failed", failed).
		Bool("force", force).
		Msg("Scheduler pass complete")
	return results, nil
}

func (s *Scheduler) runWorkspace(ctx context.Context, settings models.BackupSettings, force bool) RunResult {
	result := RunResult{WorkspaceID: settings.WorkspaceID}

	if !force {
		due, err := s.isDue(ctx, settings)
		if err != nil {
			return s.fail(result, err)
		}
		if !due {
			result.Skipped = true
			metrics.SchedulerRuns.WithLabelValues(metrics.OutcomeSkipped).Inc()
			return result
		}
	}

	actor, err := s.memberSvc.ResolveAdmin(ctx, settings.WorkspaceID)
	if err != nil {
		return s.fail(result, err)
	}

	reason := fmt.Sprintf("scheduled %s backup", settings.Cadence)
	snap, err := s.snapshotSvc.Capture(ctx, services.CaptureRequest{
		WorkspaceID: settings.WorkspaceID,
		Actor:       actor,
		Type:        models.SnapshotScheduled,
		Reason:      &reason,
	})
	if err != nil {
		return s.fail(result, err)
	}

	result.SnapshotID = snap.ID
	if err := s.settingsSvc.MarkScheduled(ctx, settings.WorkspaceID, snap.CreatedAt); err != nil {
		log.Warn().Err(err).Str("workspace_id", settings.WorkspaceID).Msg("Scheduler: failed to record scheduled run")
	}
	metrics.SchedulerRuns.WithLabelValues(metrics.OutcomeSuccess).Inc()
	return result
}

func (s *Scheduler) fail(result RunResult, err error) RunResult {
	result.Error = err.Error()
	metrics.SchedulerRuns.WithLabelValues(metrics.OutcomeFailure).Inc()
	log.Error().Err(err).Str("workspace_id", result.WorkspaceID).Msg("Scheduler: workspace capture failed")
	return result
}

// isDue reports whether the cadence has elapsed since the last scheduled run.
// Workspaces that predate last_scheduled_at fall back to their newest scheduled snapshot.
func (s *Scheduler) isDue(ctx context.Context, settings models.BackupSettings) (bool, error) {
	schedule, err := services.CadenceSchedule(settings.Cadence)
	if err != nil {
		return false, err
	}
	if settings.LastScheduledAt != nil {
		return !schedule.Next(*settings.LastScheduledAt).After(s.now()), nil
	}
	last, ok, err := s.snapshotSvc.LastSnapshotAt(ctx, settings.WorkspaceID, models.SnapshotScheduled)
	if err != nil {
		return false, err
	}
	if !ok {
		return true, nil
	}
	return !schedule.Next(last).After(s.now()), nil
}
