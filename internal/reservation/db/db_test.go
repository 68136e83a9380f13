package db_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "github.com/uptrace/bun/driver/sqliteshim"

	"github.com/MHHHH233/pfe-backend-sub001/internal/models"
	"github.com/MHHHH233/pfe-backend-sub001/internal/reservation"
	"github.com/MHHHH233/pfe-backend-sub001/internal/reservation/db"
)

func setupTestDB(t *testing.T) (*db.DB, *bun.DB) {
	sqldb, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to connect to in-memory database: %v", err)
	}

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())

	_, err = bunDB.NewCreateTable().Model((*models.Reservation)(nil)).Exec(context.Background())
	if err != nil {
		t.Fatalf("Failed to create reservations table: %v", err)
	}

	return &db.DB{Bun: bunDB}, bunDB
}

func strPtr(s string) *string { return &s }

func seed(t *testing.T, bunDB *bun.DB, res models.Reservation) models.Reservation {
	t.Helper()
	if res.ID == "" {
		res.ID = uuid.New().String()
	}
	if res.Reference == "" {
		res.Reference = "RES-" + res.ID[:8]
	}
	if res.Status == "" {
		res.Status = models.StatusPending
	}
	_, err := bunDB.NewInsert().Model(&res).Exec(context.Background())
	require.NoError(t, err)
	return res
}

func TestGetReservationByID(t *testing.T) {
	store, bunDB := setupTestDB(t)
	defer bunDB.Close()

	created := seed(t, bunDB, models.Reservation{
		ClientID:  strPtr("client-1"),
		FieldID:   "field-1",
		Date:      "2024-06-01",
		StartTime: "10:00",
		CreatedAt: time.Now().UTC(),
	})

	got, err := store.GetReservationByID(context.Background(), created.ID)
	assert.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, models.StatusPending, got.Status)

	_, err = store.GetReservationByID(context.Background(), "missing")
	assert.ErrorIs(t, err, reservation.ErrNotFound)
}

func TestActiveBySlot(t *testing.T) {
	store, bunDB := setupTestDB(t)
	defer bunDB.Close()

	// Cancelled rows, including the legacy status value, do not occupy
	// the slot.
	seed(t, bunDB, models.Reservation{
		FieldID: "field-1", Date: "2024-06-01", StartTime: "10:00",
		Status: models.StatusCancelled,
	})
	seed(t, bunDB, models.Reservation{
		FieldID: "field-1", Date: "2024-06-01", StartTime: "10:00",
		Status: models.StatusCancelledLegacy,
	})

	got, err := store.ActiveBySlot(context.Background(), "2024-06-01", "10:00", "field-1")
	assert.NoError(t, err)
	assert.Nil(t, got)

	active := seed(t, bunDB, models.Reservation{
		FieldID: "field-1", Date: "2024-06-01", StartTime: "10:00",
		Status: models.StatusPending,
	})

	got, err = store.ActiveBySlot(context.Background(), "2024-06-01", "10:00", "field-1")
	assert.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, active.ID, got.ID)

	// A different field with the same date and time is a different slot.
	got, err = store.ActiveBySlot(context.Background(), "2024-06-01", "10:00", "field-2")
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestConfirmPendingFirstWins(t *testing.T) {
	store, bunDB := setupTestDB(t)
	defer bunDB.Close()
	ctx := context.Background()

	a := seed(t, bunDB, models.Reservation{
		ID: "res-a", FieldID: "field-1", Date: "2024-06-01", StartTime: "10:00",
	})
	b := seed(t, bunDB, models.Reservation{
		ID: "res-b", FieldID: "field-1", Date: "2024-06-01", StartTime: "10:00",
	})

	now := time.Now().UTC()

	affected, err := store.ConfirmPending(ctx, a.ID, a.Date, a.StartTime, a.FieldID, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), affected)

	// The slot already has a confirmed reservation, so the conditional
	// update must refuse.
	affected, err = store.ConfirmPending(ctx, b.ID, b.Date, b.StartTime, b.FieldID, now)
	require.NoError(t, err)
	assert.Equal(t, int64(0), affected)

	gotB, err := store.GetReservationByID(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, gotB.Status)
}

func TestConfirmPendingRequiresPendingState(t *testing.T) {
	store, bunDB := setupTestDB(t)
	defer bunDB.Close()
	ctx := context.Background()

	cancelled := seed(t, bunDB, models.Reservation{
		FieldID: "field-1", Date: "2024-06-01", StartTime: "10:00",
		Status: models.StatusCancelled,
	})

	affected, err := store.ConfirmPending(ctx, cancelled.ID, cancelled.Date, cancelled.StartTime, cancelled.FieldID, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, int64(0), affected)
}

func TestTransitionStatusGuard(t *testing.T) {
	store, bunDB := setupTestDB(t)
	defer bunDB.Close()
	ctx := context.Background()
	now := time.Now().UTC()

	pending := seed(t, bunDB, models.Reservation{
		FieldID: "field-1", Date: "2024-06-01", StartTime: "10:00",
	})

	from := []string{models.StatusPending, models.StatusConfirmed}
	affected, err := store.TransitionStatus(ctx, pending.ID, from, models.StatusCancelled, models.ReasonClientRequest, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), affected)

	// Cancelled is terminal: the guard refuses a second transition.
	affected, err = store.TransitionStatus(ctx, pending.ID, from, models.StatusCancelled, models.ReasonExpired, now)
	require.NoError(t, err)
	assert.Equal(t, int64(0), affected)

	got, err := store.GetReservationByID(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, got.Status)
	assert.Equal(t, models.ReasonClientRequest, got.CancelReason)
}

func TestStalePendingIDsBoundary(t *testing.T) {
	store, bunDB := setupTestDB(t)
	defer bunDB.Close()
	ctx := context.Background()

	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	stale := seed(t, bunDB, models.Reservation{
		ID: "res-stale", FieldID: "f", Date: "2024-06-02", StartTime: "10:00",
		CreatedAt: now.Add(-61 * time.Minute),
	})
	seed(t, bunDB, models.Reservation{
		ID: "res-fresh", FieldID: "f", Date: "2024-06-02", StartTime: "11:00",
		CreatedAt: now.Add(-59 * time.Minute),
	})
	// Confirmed rows are never stale-pending candidates.
	seed(t, bunDB, models.Reservation{
		ID: "res-confirmed", FieldID: "f", Date: "2024-06-02", StartTime: "12:00",
		Status: models.StatusConfirmed, CreatedAt: now.Add(-2 * time.Hour),
	})

	ids, err := store.StalePendingIDs(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{stale.ID}, ids)
}

func TestClockSkewedIDsBoundary(t *testing.T) {
	store, bunDB := setupTestDB(t)
	defer bunDB.Close()
	ctx := context.Background()

	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	skewed := seed(t, bunDB, models.Reservation{
		ID: "res-skewed", FieldID: "f", Date: "2024-06-02", StartTime: "10:00",
		CreatedAt: now.Add(25 * time.Hour),
	})
	seed(t, bunDB, models.Reservation{
		ID: "res-tolerated", FieldID: "f", Date: "2024-06-02", StartTime: "11:00",
		CreatedAt: now.Add(23 * time.Hour),
	})

	ids, err := store.ClockSkewedIDs(ctx, now.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{skewed.ID}, ids)
}

func TestPastDatedIDs(t *testing.T) {
	store, bunDB := setupTestDB(t)
	defer bunDB.Close()
	ctx := context.Background()

	now := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

	past := seed(t, bunDB, models.Reservation{
		ID: "res-past", FieldID: "f", Date: "2024-06-01", StartTime: "09:59",
		Status: models.StatusConfirmed, CreatedAt: now.Add(-24 * time.Hour),
	})
	pastPending := seed(t, bunDB, models.Reservation{
		ID: "res-past-pending", FieldID: "f", Date: "2024-05-31", StartTime: "18:00",
		CreatedAt: now.Add(-24 * time.Hour),
	})
	seed(t, bunDB, models.Reservation{
		ID: "res-future", FieldID: "f", Date: "2024-06-01", StartTime: "10:01",
		CreatedAt: now.Add(-24 * time.Hour),
	})
	// Cancelled rows are left to the administrator purge path.
	seed(t, bunDB, models.Reservation{
		ID: "res-past-cancelled", FieldID: "f", Date: "2024-05-30", StartTime: "09:00",
		Status: models.StatusCancelled, CreatedAt: now.Add(-48 * time.Hour),
	})

	ids, err := store.PastDatedIDs(ctx, now, nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{past.ID, pastPending.ID}, ids)

	ids, err = store.PastDatedIDs(ctx, now, []string{past.ID})
	require.NoError(t, err)
	assert.Equal(t, []string{pastPending.ID}, ids)
}

func TestPastDatedCancelledIDs(t *testing.T) {
	store, bunDB := setupTestDB(t)
	defer bunDB.Close()
	ctx := context.Background()

	now := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

	old := seed(t, bunDB, models.Reservation{
		ID: "res-old-cancelled", FieldID: "f", Date: "2024-05-30", StartTime: "09:00",
		Status: models.StatusCancelled,
	})
	legacy := seed(t, bunDB, models.Reservation{
		ID: "res-old-legacy", FieldID: "f", Date: "2024-05-29", StartTime: "09:00",
		Status: models.StatusCancelledLegacy,
	})
	seed(t, bunDB, models.Reservation{
		ID: "res-upcoming-cancelled", FieldID: "f", Date: "2024-06-02", StartTime: "09:00",
		Status: models.StatusCancelled,
	})

	ids, err := store.PastDatedCancelledIDs(ctx, now)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{old.ID, legacy.ID}, ids)
}

func TestCancelByIDsIsIdempotent(t *testing.T) {
	store, bunDB := setupTestDB(t)
	defer bunDB.Close()
	ctx := context.Background()
	now := time.Now().UTC()

	a := seed(t, bunDB, models.Reservation{
		ID: "res-a", FieldID: "f", Date: "2024-06-01", StartTime: "10:00",
	})
	b := seed(t, bunDB, models.Reservation{
		ID: "res-b", FieldID: "f", Date: "2024-06-01", StartTime: "11:00",
		Status: models.StatusConfirmed,
	})

	affected, err := store.CancelByIDs(ctx, []string{a.ID, b.ID}, models.ReasonExpired, now)
	require.NoError(t, err)
	assert.Equal(t, int64(2), affected)

	// Re-applying to the same rows touches nothing.
	affected, err = store.CancelByIDs(ctx, []string{a.ID, b.ID}, models.ReasonExpired, now)
	require.NoError(t, err)
	assert.Equal(t, int64(0), affected)

	affected, err = store.CancelByIDs(ctx, nil, models.ReasonExpired, now)
	require.NoError(t, err)
	assert.Equal(t, int64(0), affected)
}

func TestDeleteByIDs(t *testing.T) {
	store, bunDB := setupTestDB(t)
	defer bunDB.Close()
	ctx := context.Background()

	a := seed(t, bunDB, models.Reservation{
		ID: "res-a", FieldID: "f", Date: "2024-06-01", StartTime: "10:00",
	})

	deleted, err := store.DeleteByIDs(ctx, []string{a.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, err = store.GetReservationByID(ctx, a.ID)
	assert.ErrorIs(t, err, reservation.ErrNotFound)
}

func TestActiveByDateExcludesGuestsAndCancelled(t *testing.T) {
	store, bunDB := setupTestDB(t)
	defer bunDB.Close()
	ctx := context.Background()

	c1 := seed(t, bunDB, models.Reservation{
		ID: "res-1", ClientID: strPtr("client-1"), FieldID: "f", Date: "2024-06-01", StartTime: "10:00",
	})
	c2 := seed(t, bunDB, models.Reservation{
		ID: "res-2", ClientID: strPtr("client-1"), FieldID: "f", Date: "2024-06-01", StartTime: "11:00",
		Status: models.StatusConfirmed,
	})
	seed(t, bunDB, models.Reservation{
		ID: "res-guest", FieldID: "f", Date: "2024-06-01", StartTime: "12:00",
	})
	seed(t, bunDB, models.Reservation{
		ID: "res-cancelled", ClientID: strPtr("client-1"), FieldID: "f", Date: "2024-06-01", StartTime: "13:00",
		Status: models.StatusCancelled,
	})
	seed(t, bunDB, models.Reservation{
		ID: "res-other-day", ClientID: strPtr("client-1"), FieldID: "f", Date: "2024-06-02", StartTime: "10:00",
	})

	rows, err := store.ActiveByDate(ctx, "2024-06-01")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, c1.ID, rows[0].ID)
	assert.Equal(t, c2.ID, rows[1].ID)
}

func TestCountByClientAndDate(t *testing.T) {
	store, bunDB := setupTestDB(t)
	defer bunDB.Close()
	ctx := context.Background()

	seed(t, bunDB, models.Reservation{
		ID: "res-1", ClientID: strPtr("client-1"), FieldID: "f", Date: "2024-06-01", StartTime: "10:00",
	})
	seed(t, bunDB, models.Reservation{
		ID: "res-2", ClientID: strPtr("client-1"), FieldID: "f", Date: "2024-06-01", StartTime: "11:00",
		Status: models.StatusCancelled,
	})

	count, err := store.CountByClientAndDate(ctx, "client-1", "2024-06-01")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRewriteCreatedAt(t *testing.T) {
	store, bunDB := setupTestDB(t)
	defer bunDB.Close()
	ctx := context.Background()

	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	skewed := seed(t, bunDB, models.Reservation{
		ID: "res-skewed", FieldID: "f", Date: "2024-06-02", StartTime: "10:00",
		CreatedAt: now.Add(26 * time.Hour),
	})

	backdated := now.Add(-2 * time.Hour)
	affected, err := store.RewriteCreatedAt(ctx, []string{skewed.ID}, backdated, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), affected)

	got, err := store.GetReservationByID(ctx, skewed.ID)
	require.NoError(t, err)
	assert.True(t, got.CreatedAt.Equal(backdated))
}
