package sweeper

import (
	"context"
	"fmt"
	"time"

	"github.com/MHHHH233/pfe-backend-sub001/internal/clock"
	"github.com/MHHHH233/pfe-backend-sub001/internal/logger"
	"github.com/MHHHH233/pfe-backend-sub001/internal/models"
)

// Store is the slice of the reservation store the sweeper needs. Every
// mutation is a single bulk statement over ids selected just before, and
// every mutation is idempotent, so an interrupted or re-run pass is safe.
type Store interface {
	StalePendingIDs(ctx context.Context, olderThan time.Time) ([]string, error)
	ClockSkewedIDs(ctx context.Context, newerThan time.Time) ([]string, error)
	PastDatedIDs(ctx context.Context, now time.Time, exclude []string) ([]string, error)
	PastDatedCancelledIDs(ctx context.Context, now time.Time) ([]string, error)
	ListByIDs(ctx context.Context, ids []string) ([]models.Reservation, error)
	CancelByIDs(ctx context.Context, ids []string, reason string, now time.Time) (int64, error)
	DeleteByIDs(ctx context.Context, ids []string) (int64, error)
	RewriteCreatedAt(ctx context.Context, ids []string, to, now time.Time) (int64, error)
}

// Predicate names, in evaluation order. A row claimed by an earlier
// predicate is excluded from the later ones within the same pass.
const (
	PredicateStalePending = "stale_pending"
	PredicateClockSkew    = "clock_skew_future"
	PredicatePastDated    = "past_dated"
)

const (
	// DefaultStaleAfter is how long a pending reservation may sit
	// unconfirmed before it is reclaimed.
	DefaultStaleAfter = time.Hour

	// DefaultSkewTolerance is how far in the future a created_at may lie
	// before it counts as a write-time clock defect.
	DefaultSkewTolerance = 24 * time.Hour

	// repairBackdate is what RepairClockSkew rewrites created_at to,
	// relative to now. Two hours back puts the row past the stale-pending
	// cutoff so the next sweep claims it.
	repairBackdate = 2 * time.Hour
)

// Sweeper applies the time-based cleanup predicates. The scheduled path
// only ever soft-cancels or removes past slots; the destructive
// administrator paths (PurgeStalePending, RepairClockSkew) live behind
// explicit confirmation in their callers.
type Sweeper struct {
	Store Store
	Clock clock.Clock
	Log   *logger.Logger

	StaleAfter    time.Duration
	SkewTolerance time.Duration

	// Disabled predicates are skipped by Run and Preview, keyed by
	// predicate name.
	Disabled map[string]bool
}

func New(store Store, clk clock.Clock, log *logger.Logger) *Sweeper {
	return &Sweeper{
		Store:         store,
		Clock:         clk,
		Log:           log,
		StaleAfter:    DefaultStaleAfter,
		SkewTolerance: DefaultSkewTolerance,
	}
}

// SweepReport counts the rows affected by each predicate in one pass. A
// row is counted at most once.
type SweepReport struct {
	StaleCancelled int `json:"staleCancelled"`
	SkewCancelled  int `json:"skewCancelled"`
	PastDeleted    int `json:"pastDeleted"`
}

// Empty reports whether the pass changed nothing, i.e. the store had
// already reached the cleanup fixed point.
func (r SweepReport) Empty() bool {
	return r.StaleCancelled == 0 && r.SkewCancelled == 0 && r.PastDeleted == 0
}

// Candidates holds the rows each predicate would touch, for dry runs.
type Candidates struct {
	StalePending []models.Reservation `json:"stale_pending"`
	ClockSkewed  []models.Reservation `json:"clock_skew_future"`
	PastDated    []models.Reservation `json:"past_dated"`
}

type predicate struct {
	name    string
	collect func(ctx context.Context, now time.Time, exclude []string) ([]string, error)
	apply   func(ctx context.Context, ids []string, now time.Time) (int64, error)
	record  func(report *SweepReport, affected int)
}

func (s *Sweeper) predicates() []predicate {
	return []predicate{
		{
			name: PredicateStalePending,
			collect: func(ctx context.Context, now time.Time, _ []string) ([]string, error) {
				return s.Store.StalePendingIDs(ctx, now.Add(-s.StaleAfter))
			},
			apply: func(ctx context.Context, ids []string, now time.Time) (int64, error) {
				return s.Store.CancelByIDs(ctx, ids, models.ReasonExpired, now)
			},
			record: func(report *SweepReport, affected int) { report.StaleCancelled = affected },
		},
		{
			name: PredicateClockSkew,
			collect: func(ctx context.Context, now time.Time, _ []string) ([]string, error) {
				return s.Store.ClockSkewedIDs(ctx, now.Add(s.SkewTolerance))
			},
			apply: func(ctx context.Context, ids []string, now time.Time) (int64, error) {
				return s.Store.CancelByIDs(ctx, ids, models.ReasonClockSkew, now)
			},
			record: func(report *SweepReport, affected int) { report.SkewCancelled = affected },
		},
		{
			name: PredicatePastDated,
			collect: func(ctx context.Context, now time.Time, exclude []string) ([]string, error) {
				return s.Store.PastDatedIDs(ctx, now, exclude)
			},
			apply: func(ctx context.Context, ids []string, _ time.Time) (int64, error) {
				return s.Store.DeleteByIDs(ctx, ids)
			},
			record: func(report *SweepReport, affected int) { report.PastDeleted = affected },
		},
	}
}

// Run executes one sweep pass. A store failure aborts the pass and yields
// a zero-effect report; the next scheduled tick retries from scratch.
func (s *Sweeper) Run(ctx context.Context) (SweepReport, error) {
	now := s.Clock.Now()

	var report SweepReport
	var touched []string
	for _, p := range s.predicates() {
		if s.Disabled[p.name] {
			continue
		}
		ids, err := p.collect(ctx, now, touched)
		if err != nil {
			return SweepReport{}, fmt.Errorf("sweep %s: %w", p.name, err)
		}
		affected, err := p.apply(ctx, ids, now)
		if err != nil {
			return SweepReport{}, fmt.Errorf("sweep %s: %w", p.name, err)
		}
		p.record(&report, int(affected))
		touched = append(touched, ids...)
		if s.Log != nil && affected > 0 {
			s.Log.LogSweep(p.name, int(affected))
		}
	}
	return report, nil
}

// Preview lists the rows each enabled predicate would touch, without
// mutating anything. The administrator confirmation flow shows this set
// before any destructive run.
func (s *Sweeper) Preview(ctx context.Context) (Candidates, error) {
	now := s.Clock.Now()

	var out Candidates
	var touched []string
	for _, p := range s.predicates() {
		if s.Disabled[p.name] {
			continue
		}
		ids, err := p.collect(ctx, now, touched)
		if err != nil {
			return Candidates{}, fmt.Errorf("preview %s: %w", p.name, err)
		}
		rows, err := s.Store.ListByIDs(ctx, ids)
		if err != nil {
			return Candidates{}, fmt.Errorf("preview %s: %w", p.name, err)
		}
		switch p.name {
		case PredicateStalePending:
			out.StalePending = rows
		case PredicateClockSkew:
			out.ClockSkewed = rows
		case PredicatePastDated:
			out.PastDated = rows
		}
		touched = append(touched, ids...)
	}
	return out, nil
}

// PurgeStalePending hard-deletes stale pending reservations. Only the
// administrator reconciliation path calls this; the scheduled sweep never
// hard-deletes rows whose slot is still ahead.
func (s *Sweeper) PurgeStalePending(ctx context.Context) (int, error) {
	now := s.Clock.Now()
	ids, err := s.Store.StalePendingIDs(ctx, now.Add(-s.StaleAfter))
	if err != nil {
		return 0, fmt.Errorf("purge stale pending: %w", err)
	}
	deleted, err := s.Store.DeleteByIDs(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("purge stale pending: %w", err)
	}
	return int(deleted), nil
}

// PurgeCancelledHistory hard-deletes cancelled reservations whose slot has
// passed. Retention of cancelled rows serves no booking purpose; only an
// administrator invokes this.
func (s *Sweeper) PurgeCancelledHistory(ctx context.Context) (int, error) {
	now := s.Clock.Now()
	ids, err := s.Store.PastDatedCancelledIDs(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("purge cancelled history: %w", err)
	}
	deleted, err := s.Store.DeleteByIDs(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("purge cancelled history: %w", err)
	}
	return int(deleted), nil
}

// RepairReport describes a clock-skew repair run.
type RepairReport struct {
	Examined    int       `json:"examined"`
	Rewritten   int       `json:"rewritten"`
	RewrittenTo time.Time `json:"rewrittenTo"`
}

// ClockSkewCandidates lists pending reservations with an implausibly
// future created_at, for the repair confirmation prompt.
func (s *Sweeper) ClockSkewCandidates(ctx context.Context) ([]models.Reservation, error) {
	ids, err := s.Store.ClockSkewedIDs(ctx, s.Clock.Now().Add(s.SkewTolerance))
	if err != nil {
		return nil, err
	}
	return s.Store.ListByIDs(ctx, ids)
}

// RepairClockSkew rewrites created_at on the given rows to two hours in
// the past, so the stale-pending predicate claims them on the next sweep.
// Callers must have presented the candidate set and obtained explicit
// confirmation; this method itself never selects rows.
func (s *Sweeper) RepairClockSkew(ctx context.Context, ids []string) (RepairReport, error) {
	now := s.Clock.Now()
	to := now.Add(-repairBackdate)

	report := RepairReport{Examined: len(ids), RewrittenTo: to}
	if len(ids) == 0 {
		return report, nil
	}

	rewritten, err := s.Store.RewriteCreatedAt(ctx, ids, to, now)
	if err != nil {
		return RepairReport{}, fmt.Errorf("repair clock skew: %w", err)
	}
	report.Rewritten = int(rewritten)
	if s.Log != nil {
		s.Log.Warn("SWEEP", fmt.Sprintf("clock-skew repair rewrote created_at on %d row(s)", report.Rewritten))
	}
	return report, nil
}
