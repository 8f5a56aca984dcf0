package mailsync

import (
	"context"
	"errors"
	"log"
	"time"

	"golang.org/x/sync/errgroup"
)

// ConnectionLister lists connections due for incremental sync.
type ConnectionLister interface {
	ListSyncableConnectionIDs(ctx context.Context) ([]string, error)
}

// IncrementalSyncer runs one incremental pass.
type IncrementalSyncer interface {
	PerformIncrementalSync(ctx context.Context, connectionID string) error
}

// SchedulerConfig holds the scheduler timing. Zero values fall back to the defaults below.
type SchedulerConfig struct {
	Interval    time.Duration
	MaxWorkers  int
	PassTimeout time.Duration
}

const (
	DefaultSyncInterval = 2 * time.Minute
	// DefaultPassTimeout bounds one incremental pass so a stuck provider cannot hold the
	// connection lock until the next round.
	DefaultPassTimeout = 10 * time.Minute
)

func (c SchedulerConfig) withDefaults() SchedulerConfig {
	if c.Interval <= 0 {
		c.Interval = DefaultSyncInterval
	}
	if c.MaxWorkers < 1 {
		c.MaxWorkers = 1
	}
	if c.PassTimeout <= 0 {
		c.PassTimeout = DefaultPassTimeout
	}
	return c
}

// Scheduler periodically runs incremental sync for every syncable connection.
type Scheduler struct {
	lister ConnectionLister
	syncer IncrementalSyncer
	cfg    SchedulerConfig
}

// NewScheduler creates a scheduler that syncs the connections lister returns on every tick.
func NewScheduler(lister ConnectionLister, syncer IncrementalSyncer, cfg SchedulerConfig) *Scheduler {
	return &Scheduler{
		lister: lister,
		syncer: syncer,
		cfg:    cfg.withDefaults(),
	}
}

// Run syncs immediately and then on every tick until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			log.Printf("Scheduler: Sync round failed: %v", err)
		}

		select {
		case <-ctx.Done():
			log.Println("Scheduler: Stopped")
			return
		case <-ticker.C:
		}
	}
}

// RunOnce syncs every syncable connection with at most MaxWorkers passes in flight,
// each bounded by PassTimeout.
// Per-connection failures are logged; only listing failures are returned.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	ids, err := s.lister.ListSyncableConnectionIDs(ctx)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.MaxWorkers)

	for _, id := range ids {
		g.Go(func() error {
			passCtx, cancel := context.WithTimeout(gctx, s.cfg.PassTimeout)
			defer cancel()

			err := s.syncer.PerformIncrementalSync(passCtx, id)
			switch {
			case err == nil:
			case errors.Is(err, ErrTokenExpired):
				log.Printf("Scheduler: Connection %s needs re-authorization", id)
			default:
				log.Printf("Scheduler: Incremental sync for connection %s failed, retrying next round: %v", id, err)
			}
			return nil
		})
	}

	return g.Wait()
}
