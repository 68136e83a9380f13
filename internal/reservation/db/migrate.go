package db

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	"github.com/MHHHH233/pfe-backend-sub001/internal/models"
)

// Migrate creates the reservations table and the lookup indices the engine
// relies on: (client_id, date) for quota grouping and
// (date, start_time, field_id) for slot-conflict and past-dated checks.
func Migrate(ctx context.Context, db *bun.DB) error {
	_, err := db.NewCreateTable().
		Model((*models.Reservation)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("create reservations table: %w", err)
	}

	_, err = db.NewCreateIndex().
		Model((*models.Reservation)(nil)).
		Index("idx_reservations_client_date").
		Column("client_id", "date").
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("create client/date index: %w", err)
	}

	_, err = db.NewCreateIndex().
		Model((*models.Reservation)(nil)).
		Index("idx_reservations_slot").
		Column("date", "start_time", "field_id").
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("create slot index: %w", err)
	}

	return nil
}
