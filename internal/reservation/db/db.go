package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/MHHHH233/pfe-backend-sub001/internal/models"
	"github.com/MHHHH233/pfe-backend-sub001/internal/reservation"
)

// DB is the reservation store. It is the only component that touches the
// reservations table; the lifecycle service, sweeper and enforcer all go
// through it.
type DB struct {
	Bun *bun.DB
}

// Statuses counted as occupying a slot. The legacy "annuler" value is a
// cancellation and therefore excluded.
var activeStatuses = []string{models.StatusPending, models.StatusConfirmed}

var cancelledStatuses = []string{models.StatusCancelled, models.StatusCancelledLegacy}

func storeErr(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", reservation.ErrStoreUnavailable, err)
}

// CreateReservation inserts a new row.
func (d *DB) CreateReservation(ctx context.Context, res *models.Reservation) error {
	_, err := d.Bun.NewInsert().Model(res).Exec(ctx)
	return storeErr(err)
}

// GetReservationByID fetches one reservation by id.
func (d *DB) GetReservationByID(ctx context.Context, id string) (*models.Reservation, error) {
	var res models.Reservation
	err := d.Bun.NewSelect().
		Model(&res).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, reservation.ErrNotFound
	}
	if err != nil {
		return nil, storeErr(err)
	}
	return &res, nil
}

// ActiveBySlot returns the pending or confirmed reservation occupying the
// given slot, or nil when the slot is free.
func (d *DB) ActiveBySlot(ctx context.Context, date, startTime, fieldID string) (*models.Reservation, error) {
	var res models.Reservation
	err := d.Bun.NewSelect().
		Model(&res).
		Where("date = ?", date).
		Where("start_time = ?", startTime).
		Where("field_id = ?", fieldID).
		Where("status IN (?)", bun.In(activeStatuses)).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr(err)
	}
	return &res, nil
}

// ConfirmPending promotes a pending reservation to confirmed in a single
// conditional statement: the update only applies while the row is still
// pending and no other reservation for the same slot is already confirmed.
// Returns the number of rows affected (0 means the condition failed and the
// caller must disambiguate).
func (d *DB) ConfirmPending(ctx context.Context, id, date, startTime, fieldID string, now time.Time) (int64, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.Reservation)(nil)).
		Set("status = ?", models.StatusConfirmed).
		Set("updated_at = ?", now).
		Where("id = ?", id).
		Where("status = ?", models.StatusPending).
		Where("NOT EXISTS (SELECT 1 FROM reservations occupied WHERE occupied.date = ? AND occupied.start_time = ? AND occupied.field_id = ? AND occupied.status = ? AND occupied.id <> ?)",
			date, startTime, fieldID, models.StatusConfirmed, id).
		Exec(ctx)
	if err != nil {
		return 0, storeErr(err)
	}
	affected, err := res.RowsAffected()
	return affected, storeErr(err)
}

// TransitionStatus applies a guarded status change: the update only fires
// while the current status is one of from. Returns rows affected.
func (d *DB) TransitionStatus(ctx context.Context, id string, from []string, to, reason string, now time.Time) (int64, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.Reservation)(nil)).
		Set("status = ?", to).
		Set("cancel_reason = ?", reason).
		Set("updated_at = ?", now).
		Where("id = ?", id).
		Where("status IN (?)", bun.In(from)).
		Exec(ctx)
	if err != nil {
		return 0, storeErr(err)
	}
	affected, err := res.RowsAffected()
	return affected, storeErr(err)
}

// StalePendingIDs returns the ids of pending reservations created before
// olderThan.
func (d *DB) StalePendingIDs(ctx context.Context, olderThan time.Time) ([]string, error) {
	var ids []string
	err := d.Bun.NewSelect().
		Model((*models.Reservation)(nil)).
		Column("id").
		Where("status = ?", models.StatusPending).
		Where("created_at < ?", olderThan).
		Order("id ASC").
		Scan(ctx, &ids)
	if err != nil {
		return nil, storeErr(err)
	}
	return ids, nil
}

// ClockSkewedIDs returns the ids of pending reservations whose created_at
// lies after newerThan. Such timestamps indicate a write-time clock bug,
// not a legitimate future intent.
func (d *DB) ClockSkewedIDs(ctx context.Context, newerThan time.Time) ([]string, error) {
	var ids []string
	err := d.Bun.NewSelect().
		Model((*models.Reservation)(nil)).
		Column("id").
		Where("status = ?", models.StatusPending).
		Where("created_at > ?", newerThan).
		Order("id ASC").
		Scan(ctx, &ids)
	if err != nil {
		return nil, storeErr(err)
	}
	return ids, nil
}

// PastDatedIDs returns ids of pending/confirmed reservations whose slot lies
// strictly before now. Rows in exclude are skipped so a single sweep pass
// never counts the same row under two predicates. Date and start_time are
// stored as lexicographically ordered strings, so the comparison works the
// same under both dialects.
func (d *DB) PastDatedIDs(ctx context.Context, now time.Time, exclude []string) ([]string, error) {
	nowDate := now.UTC().Format("2006-01-02")
	nowTime := now.UTC().Format("15:04")

	q := d.Bun.NewSelect().
		Model((*models.Reservation)(nil)).
		Column("id").
		Where("status IN (?)", bun.In(activeStatuses)).
		Where("(date < ? OR (date = ? AND start_time < ?))", nowDate, nowDate, nowTime).
		Order("id ASC")
	if len(exclude) > 0 {
		q = q.Where("id NOT IN (?)", bun.In(exclude))
	}

	var ids []string
	if err := q.Scan(ctx, &ids); err != nil {
		return nil, storeErr(err)
	}
	return ids, nil
}

// PastDatedCancelledIDs returns ids of cancelled reservations whose slot is
// already in the past. Only the administrator purge path deletes these.
func (d *DB) PastDatedCancelledIDs(ctx context.Context, now time.Time) ([]string, error) {
	nowDate := now.UTC().Format("2006-01-02")
	nowTime := now.UTC().Format("15:04")

	var ids []string
	err := d.Bun.NewSelect().
		Model((*models.Reservation)(nil)).
		Column("id").
		Where("status IN (?)", bun.In(cancelledStatuses)).
		Where("(date < ? OR (date = ? AND start_time < ?))", nowDate, nowDate, nowTime).
		Order("id ASC").
		Scan(ctx, &ids)
	if err != nil {
		return nil, storeErr(err)
	}
	return ids, nil
}

// ListByIDs fetches full rows for the given ids, for dry-run previews.
func (d *DB) ListByIDs(ctx context.Context, ids []string) ([]models.Reservation, error) {
	if len(ids) == 0 {
		return []models.Reservation{}, nil
	}
	var rows []models.Reservation
	err := d.Bun.NewSelect().
		Model(&rows).
		Where("id IN (?)", bun.In(ids)).
		Order("id ASC").
		Scan(ctx)
	if err != nil {
		return nil, storeErr(err)
	}
	return rows, nil
}

// CancelByIDs bulk-cancels the given rows in one statement. Rows that have
// already left the active states are skipped, which makes re-application
// safe when a concurrent writer got there first.
func (d *DB) CancelByIDs(ctx context.Context, ids []string, reason string, now time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := d.Bun.NewUpdate().
		Model((*models.Reservation)(nil)).
		Set("status = ?", models.StatusCancelled).
		Set("cancel_reason = ?", reason).
		Set("updated_at = ?", now).
		Where("id IN (?)", bun.In(ids)).
		Where("status IN (?)", bun.In(activeStatuses)).
		Exec(ctx)
	if err != nil {
		return 0, storeErr(err)
	}
	affected, err := res.RowsAffected()
	return affected, storeErr(err)
}

// DeleteByIDs hard-deletes the given rows in one statement.
func (d *DB) DeleteByIDs(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := d.Bun.NewDelete().
		Model((*models.Reservation)(nil)).
		Where("id IN (?)", bun.In(ids)).
		Exec(ctx)
	if err != nil {
		return 0, storeErr(err)
	}
	affected, err := res.RowsAffected()
	return affected, storeErr(err)
}

// ActiveByDate lists the non-cancelled reservations of identified clients on
// one calendar date, for quota grouping. Guest rows (null client_id) are
// excluded from the cap entirely.
func (d *DB) ActiveByDate(ctx context.Context, date string) ([]models.Reservation, error) {
	var rows []models.Reservation
	err := d.Bun.NewSelect().
		Model(&rows).
		Where("date = ?", date).
		Where("client_id IS NOT NULL").
		Where("status IN (?)", bun.In(activeStatuses)).
		Order("client_id ASC", "created_at ASC", "id ASC").
		Scan(ctx)
	if err != nil {
		return nil, storeErr(err)
	}
	return rows, nil
}

// CountByClientAndDate counts a client's non-cancelled reservations on a
// date.
func (d *DB) CountByClientAndDate(ctx context.Context, clientID, date string) (int, error) {
	count, err := d.Bun.NewSelect().
		Model((*models.Reservation)(nil)).
		Where("client_id = ?", clientID).
		Where("date = ?", date).
		Where("status IN (?)", bun.In(activeStatuses)).
		Count(ctx)
	if err != nil {
		return 0, storeErr(err)
	}
	return count, nil
}

// RewriteCreatedAt sets created_at on the given rows. Used only by the
// confirmation-gated clock-skew repair.
func (d *DB) RewriteCreatedAt(ctx context.Context, ids []string, to, now time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := d.Bun.NewUpdate().
		Model((*models.Reservation)(nil)).
		Set("created_at = ?", to).
		Set("updated_at = ?", now).
		Where("id IN (?)", bun.In(ids)).
		Exec(ctx)
	if err != nil {
		return 0, storeErr(err)
	}
	affected, err := res.RowsAffected()
	return affected, storeErr(err)
}
