package quota

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/MHHHH233/pfe-backend-sub001/internal/clock"
	"github.com/MHHHH233/pfe-backend-sub001/internal/logger"
	"github.com/MHHHH233/pfe-backend-sub001/internal/models"
	"github.com/MHHHH233/pfe-backend-sub001/internal/reservation"
)

// Store is the slice of the reservation store the enforcer reads from.
// ActiveByDate already excludes guest rows (null client id); they are not
// subject to the per-client cap.
type Store interface {
	ActiveByDate(ctx context.Context, date string) ([]models.Reservation, error)
}

// Canceller evicts over-quota reservations through the lifecycle state
// machine, never by direct row mutation. Cancel is idempotent, so racing
// a concurrent sweep over the same row is harmless.
type Canceller interface {
	Cancel(ctx context.Context, id, reason string) (*models.Reservation, error)
}

// DefaultMaxPerClientPerDay is the cap on non-cancelled reservations a
// single client may hold for one calendar date.
const DefaultMaxPerClientPerDay = 2

// Enforcer detects clients over the daily reservation cap and, on explicit
// invocation only, cancels the excess. The most recently created
// reservations are kept preferentially.
type Enforcer struct {
	Store        Store
	Reservations Canceller
	Clock        clock.Clock
	Log          *logger.Logger
	MaxPerDay    int
}

func New(store Store, reservations Canceller, clk clock.Clock, log *logger.Logger) *Enforcer {
	return &Enforcer{
		Store:        store,
		Reservations: reservations,
		Clock:        clk,
		Log:          log,
		MaxPerDay:    DefaultMaxPerClientPerDay,
	}
}

// ClientDetail is the per-client breakdown of one enforcement run.
type ClientDetail struct {
	ClientID  string   `json:"clientId"`
	Total     int      `json:"total"`
	Kept      []string `json:"kept"`
	Cancelled []string `json:"cancelled"`
}

type EnforcementReport struct {
	Date             string         `json:"date"`
	OverQuotaClients int            `json:"overQuotaClients"`
	CancelledCount   int            `json:"cancelledCount"`
	PerClient        []ClientDetail `json:"perClientDetail"`
	DryRun           bool           `json:"dryRun"`
}

// Detect reports which clients exceed the cap on the given date without
// cancelling anything. The daily timer runs this; eviction stays behind
// an explicit, confirmed invocation.
func (e *Enforcer) Detect(ctx context.Context, date string) (EnforcementReport, error) {
	return e.run(ctx, date, false)
}

// Enforce cancels every reservation beyond the cap for each over-quota
// client on the given date, keeping the newest ones. Re-running
// immediately is a no-op.
func (e *Enforcer) Enforce(ctx context.Context, date string) (EnforcementReport, error) {
	return e.run(ctx, date, true)
}

func (e *Enforcer) run(ctx context.Context, date string, apply bool) (EnforcementReport, error) {
	if date == "" {
		date = e.Clock.Now().Format("2006-01-02")
	}

	rows, err := e.Store.ActiveByDate(ctx, date)
	if err != nil {
		return EnforcementReport{}, fmt.Errorf("quota scan %s: %w", date, err)
	}

	byClient := make(map[string][]models.Reservation)
	for _, row := range rows {
		if row.ClientID == nil {
			continue
		}
		byClient[*row.ClientID] = append(byClient[*row.ClientID], row)
	}

	clientIDs := make([]string, 0, len(byClient))
	for clientID, group := range byClient {
		if len(group) > e.MaxPerDay {
			clientIDs = append(clientIDs, clientID)
		}
	}
	sort.Strings(clientIDs)

	report := EnforcementReport{Date: date, DryRun: !apply}
	for _, clientID := range clientIDs {
		group := byClient[clientID]

		// Rank newest first; equal created_at breaks ties by id so the
		// outcome never depends on storage iteration order.
		sort.Slice(group, func(i, j int) bool {
			if !group[i].CreatedAt.Equal(group[j].CreatedAt) {
				return group[i].CreatedAt.After(group[j].CreatedAt)
			}
			return group[i].ID < group[j].ID
		})

		detail := ClientDetail{ClientID: clientID, Total: len(group)}
		for _, kept := range group[:e.MaxPerDay] {
			detail.Kept = append(detail.Kept, kept.ID)
		}
		for _, excess := range group[e.MaxPerDay:] {
			if apply {
				_, err := e.Reservations.Cancel(ctx, excess.ID, models.ReasonQuotaExceeded)
				if errors.Is(err, reservation.ErrNotFound) {
					// Hard-deleted by a concurrent sweep; nothing left
					// to evict.
					continue
				}
				if err != nil {
					return EnforcementReport{}, fmt.Errorf("quota evict %s: %w", excess.ID, err)
				}
			}
			detail.Cancelled = append(detail.Cancelled, excess.ID)
			report.CancelledCount++
		}
		report.OverQuotaClients++
		report.PerClient = append(report.PerClient, detail)

		if apply && e.Log != nil {
			e.Log.LogQuota(clientID, len(detail.Cancelled))
		}
	}
	return report, nil
}
