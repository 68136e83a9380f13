package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/MHHHH233/pfe-backend-sub001/internal/logger"
	"github.com/MHHHH233/pfe-backend-sub001/internal/quota"
	"github.com/MHHHH233/pfe-backend-sub001/internal/sweeper"
)

const (
	DefaultSweepInterval = 5 * time.Minute
	DefaultQuotaInterval = 24 * time.Hour
)

// Scheduler drives the periodic reconciliation work: the expiry sweep on a
// short interval and quota detection daily. The two loops are independent
// and uncoordinated; each unit of work is idempotent, so an overlap with a
// manual trigger or with each other is harmless. A failed tick logs,
// reports nothing, and leaves the retry to the next tick.
type Scheduler struct {
	Sweeper  *sweeper.Sweeper
	Enforcer *quota.Enforcer
	Log      *logger.Logger

	SweepInterval time.Duration
	QuotaInterval time.Duration
}

func New(sw *sweeper.Sweeper, enf *quota.Enforcer, log *logger.Logger) *Scheduler {
	return &Scheduler{
		Sweeper:       sw,
		Enforcer:      enf,
		Log:           log,
		SweepInterval: DefaultSweepInterval,
		QuotaInterval: DefaultQuotaInterval,
	}
}

// Start launches the background loops. They stop when ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	go s.sweepLoop(ctx)
	go s.quotaLoop(ctx)
}

func (s *Scheduler) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(s.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := s.Sweeper.Run(ctx)
			if err != nil {
				s.Log.Error("SWEEP", fmt.Sprintf("sweep tick failed: %v", err))
				continue
			}
			if !report.Empty() {
				s.Log.Info("SWEEP", fmt.Sprintf("stale=%d skew=%d past=%d",
					report.StaleCancelled, report.SkewCancelled, report.PastDeleted))
			}
		}
	}
}

// quotaLoop only detects and logs. Eviction is destructive to user data
// and runs solely through the confirmed administrator paths.
func (s *Scheduler) quotaLoop(ctx context.Context) {
	ticker := time.NewTicker(s.QuotaInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := s.Enforcer.Detect(ctx, "")
			if err != nil {
				s.Log.Error("QUOTA", fmt.Sprintf("quota detection failed: %v", err))
				continue
			}
			if report.OverQuotaClients > 0 {
				s.Log.Warn("QUOTA", fmt.Sprintf("%d client(s) over quota on %s, run reconcile to evict",
					report.OverQuotaClients, report.Date))
			}
		}
	}
}
