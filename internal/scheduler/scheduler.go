package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/blackmichael/clean-following/internal/domain"
)

// Resubscriber is the signal the scheduler raises when the follow set
// changed and the firehose subscription must be rebuilt.
type Resubscriber interface {
	Resubscribe()
}

// Scheduler runs the periodic maintenance loops: follow-list refresh and
// retention pruning. Individual iteration failures are logged and retried on
// the next tick; they never take the process down.
type Scheduler struct {
	feedService     *domain.FeedService
	subscriber      Resubscriber
	logger          *slog.Logger
	refreshInterval time.Duration
	cleanupInterval time.Duration
	retention       time.Duration
}

// New creates a Scheduler.
func New(
	feedService *domain.FeedService,
	subscriber Resubscriber,
	refreshInterval time.Duration,
	cleanupInterval time.Duration,
	retention time.Duration,
	logger *slog.Logger,
) *Scheduler {
	return &Scheduler{
		feedService:     feedService,
		subscriber:      subscriber,
		logger:          logger,
		refreshInterval: refreshInterval,
		cleanupInterval: cleanupInterval,
		retention:       retention,
	}
}

// StartFollowRefresh periodically re-fetches the follow list and, when
// membership changed, signals the subscriber to rebuild its subscription.
// It blocks until ctx is cancelled.
func (s *Scheduler) StartFollowRefresh(ctx context.Context) {
	ticker := time.NewTicker(s.refreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.refreshFollows(ctx)
		}
	}
}

// StartRetentionSweep periodically prunes rows older than the retention
// window. It runs immediately on start and blocks until ctx is cancelled.
func (s *Scheduler) StartRetentionSweep(ctx context.Context) {
	s.prune(ctx)

	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.prune(ctx)
		}
	}
}

func (s *Scheduler) refreshFollows(ctx context.Context) {
	changed, err := s.feedService.RefreshFollows(ctx)
	if err != nil {
		s.logger.Error("follow refresh failed, keeping existing set", "error", err)
		return
	}
	if changed {
		s.subscriber.Resubscribe()
	}
}

func (s *Scheduler) prune(ctx context.Context) {
	deleted, err := s.feedService.PruneOldData(ctx, s.retention)
	if err != nil {
		s.logger.Error("retention sweep failed", "error", err)
	} else if deleted > 0 {
		s.logger.Info("retention sweep complete", "deleted", deleted)
	}
}
