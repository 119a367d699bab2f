package membership

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tuckborough/burrow/internal/metrics"
)

// Sweeper periodically applies the time-based cleanups correctness does not
// depend on: overdue PENDING invitations become EXPIRED in place of the
// lazy per-read flip, and old read notifications are pruned.
type Sweeper struct {
	mu        sync.RWMutex
	store     Store
	logger    *slog.Logger
	interval  time.Duration
	retention time.Duration
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewSweeper creates a sweeper. interval defaults to one hour, notification
// retention to thirty days.
func NewSweeper(store Store, logger *slog.Logger, interval, retention time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	return &Sweeper{
		store:     store,
		logger:    logger,
		interval:  interval,
		retention: retention,
	}
}

// Start begins the sweep loop.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.mu.Unlock()

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sweep()
			}
		}
	}()
}

// Stop gracefully stops the sweeper.
func (s *Sweeper) Stop() {
	s.mu.RLock()
	cancel := s.cancel
	done := s.done
	s.mu.RUnlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (s *Sweeper) sweep() {
	now := time.Now().UTC()

	expired, err := s.store.ExpireOverdueInvitations(now)
	if err != nil {
		s.logger.Error("expire overdue invitations", "error", err)
	} else if expired > 0 {
		metrics.InvitationsExpired.Add(float64(expired))
		s.logger.Info("expired overdue invitations", "count", expired)
	}

	pruned, err := s.store.DeleteReadNotificationsBefore(now.Add(-s.retention))
	if err != nil {
		s.logger.Error("prune read notifications", "error", err)
	} else if pruned > 0 {
		s.logger.Info("pruned read notifications", "count", pruned)
	}
}
