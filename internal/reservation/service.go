package reservation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MHHHH233/pfe-backend-sub001/internal/clock"
	"github.com/MHHHH233/pfe-backend-sub001/internal/logger"
	"github.com/MHHHH233/pfe-backend-sub001/internal/models"
)

type DBLayer interface {
	CreateReservation(ctx context.Context, res *models.Reservation) error
	GetReservationByID(ctx context.Context, id string) (*models.Reservation, error)
	ActiveBySlot(ctx context.Context, date, startTime, fieldID string) (*models.Reservation, error)
	ConfirmPending(ctx context.Context, id, date, startTime, fieldID string, now time.Time) (int64, error)
	TransitionStatus(ctx context.Context, id string, from []string, to, reason string, now time.Time) (int64, error)
	CountByClientAndDate(ctx context.Context, clientID, date string) (int, error)
}

type SlotLock interface {
	LockSlot(date, startTime, fieldID, ownerID string) (bool, error)
	UnlockSlot(date, startTime, fieldID, ownerID string) error
}

type EventPublisher interface {
	PublishReservationCreated(models.Reservation) error
	PublishReservationConfirmed(models.Reservation) error
	PublishReservationCancelled(models.Reservation) error
}

// Service is the reservation lifecycle state machine. Valid transitions:
// pending -> confirmed, pending -> cancelled, confirmed -> cancelled.
// Cancelled is terminal. Every mutation goes through the store's guarded
// transition operations, so a row that already left the state it was
// selected for simply no-ops.
type Service struct {
	DB     DBLayer
	Locks  SlotLock
	Events EventPublisher
	Clock  clock.Clock
	Log    *logger.Logger

	// QuotaWarnThreshold makes Create log when a client's bookings for the
	// day exceed it. Creation is never blocked on quota; eviction belongs
	// to the confirmed enforcement path. Zero disables the advisory.
	QuotaWarnThreshold int
}

func NewService(db DBLayer, locks SlotLock, events EventPublisher, clk clock.Clock, log *logger.Logger) *Service {
	return &Service{DB: db, Locks: locks, Events: events, Clock: clk, Log: log}
}

var activeStatuses = []string{models.StatusPending, models.StatusConfirmed}

func (s *Service) logInfo(action, id, message string) {
	if s.Log != nil {
		s.Log.LogReservation(action, id, message)
	}
}

func (s *Service) logWarn(message string) {
	if s.Log != nil {
		s.Log.Warn("RESERVE", message)
	}
}

func newReference() string {
	return "RES-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:10])
}

func validateSlot(date, startTime string) error {
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return fmt.Errorf("invalid date %q: %w", date, err)
	}
	if _, err := time.Parse("15:04", startTime); err != nil {
		return fmt.Errorf("invalid start time %q: %w", startTime, err)
	}
	return nil
}

// Get fetches one reservation.
func (s *Service) Get(ctx context.Context, id string) (*models.Reservation, error) {
	return s.DB.GetReservationByID(ctx, id)
}

// Create books a slot. It fails with ErrSlotConflict when a pending or
// confirmed reservation already occupies the exact (date, start, field)
// tuple. A nil clientID records a guest booking, which the daily quota
// never counts.
func (s *Service) Create(ctx context.Context, clientID *string, fieldID, date, startTime string) (*models.Reservation, error) {
	if err := validateSlot(date, startTime); err != nil {
		return nil, err
	}

	id := uuid.NewString()

	if s.Locks != nil {
		ok, err := s.Locks.LockSlot(date, startTime, fieldID, id)
		if err != nil {
			return nil, fmt.Errorf("slot lock: %w", err)
		}
		if !ok {
			return nil, fmt.Errorf("slot %s %s on field %s is being booked: %w", date, startTime, fieldID, ErrSlotConflict)
		}
		defer func() {
			if err := s.Locks.UnlockSlot(date, startTime, fieldID, id); err != nil {
				s.logWarn(fmt.Sprintf("failed to release slot lock for %s: %v", id, err))
			}
		}()
	}

	occupied, err := s.DB.ActiveBySlot(ctx, date, startTime, fieldID)
	if err != nil {
		return nil, err
	}
	if occupied != nil {
		return nil, fmt.Errorf("slot %s %s on field %s held by %s: %w", date, startTime, fieldID, occupied.ID, ErrSlotConflict)
	}

	now := s.Clock.Now()
	res := &models.Reservation{
		ID:        id,
		Reference: newReference(),
		ClientID:  clientID,
		FieldID:   fieldID,
		Date:      date,
		StartTime: startTime,
		Status:    models.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.DB.CreateReservation(ctx, res); err != nil {
		return nil, err
	}

	s.logInfo("CREATE", res.ID, fmt.Sprintf("slot %s %s field %s", date, startTime, fieldID))

	if clientID != nil && s.QuotaWarnThreshold > 0 {
		if count, err := s.DB.CountByClientAndDate(ctx, *clientID, date); err == nil && count > s.QuotaWarnThreshold {
			s.logWarn(fmt.Sprintf("client %s now holds %d reservation(s) on %s, over the cap of %d", *clientID, count, date, s.QuotaWarnThreshold))
		}
	}

	if s.Events != nil {
		if err := s.Events.PublishReservationCreated(*res); err != nil {
			s.logWarn(fmt.Sprintf("publish created event for %s: %v", res.ID, err))
		}
	}
	return res, nil
}

// Confirm promotes a pending reservation to confirmed. First confirmation
// wins: when another reservation for the same slot is already confirmed the
// call fails with ErrSlotConflict and performs no mutation.
func (s *Service) Confirm(ctx context.Context, id string) (*models.Reservation, error) {
	res, err := s.DB.GetReservationByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if status := models.NormalizeStatus(res.Status); status != models.StatusPending {
		return nil, fmt.Errorf("cannot confirm reservation %s in state %s: %w", id, status, ErrInvalidTransition)
	}

	if s.Locks != nil {
		ok, err := s.Locks.LockSlot(res.Date, res.StartTime, res.FieldID, res.ID)
		if err != nil {
			return nil, fmt.Errorf("slot lock: %w", err)
		}
		if !ok {
			return nil, fmt.Errorf("slot %s %s on field %s is being confirmed: %w", res.Date, res.StartTime, res.FieldID, ErrSlotConflict)
		}
		defer func() {
			if err := s.Locks.UnlockSlot(res.Date, res.StartTime, res.FieldID, res.ID); err != nil {
				s.logWarn(fmt.Sprintf("failed to release slot lock for %s: %v", res.ID, err))
			}
		}()
	}

	affected, err := s.DB.ConfirmPending(ctx, res.ID, res.Date, res.StartTime, res.FieldID, s.Clock.Now())
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		// The conditional write refused: either the row left pending in
		// the meantime, or another reservation holds the slot confirmed.
		current, err := s.DB.GetReservationByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if models.NormalizeStatus(current.Status) != models.StatusPending {
			return nil, fmt.Errorf("cannot confirm reservation %s in state %s: %w", id, current.Status, ErrInvalidTransition)
		}
		return nil, fmt.Errorf("slot %s %s on field %s already confirmed: %w", res.Date, res.StartTime, res.FieldID, ErrSlotConflict)
	}

	confirmed, err := s.DB.GetReservationByID(ctx, id)
	if err != nil {
		return nil, err
	}

	s.logInfo("CONFIRM", confirmed.ID, "reservation confirmed")

	if s.Events != nil {
		if err := s.Events.PublishReservationConfirmed(*confirmed); err != nil {
			s.logWarn(fmt.Sprintf("publish confirmed event for %s: %v", confirmed.ID, err))
		}
	}
	return confirmed, nil
}

// Cancel moves a pending or confirmed reservation to cancelled. Cancelling
// an already-cancelled reservation is a successful no-op; the sweeper and
// the quota enforcer may both race to cancel the same row.
func (s *Service) Cancel(ctx context.Context, id, reason string) (*models.Reservation, error) {
	res, err := s.DB.GetReservationByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if res.IsCancelled() {
		return res, nil
	}

	now := s.Clock.Now()
	affected, err := s.DB.TransitionStatus(ctx, id, activeStatuses, models.StatusCancelled, reason, now)
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		// Lost a race; if someone else cancelled first that still counts
		// as success.
		current, err := s.DB.GetReservationByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if current.IsCancelled() {
			return current, nil
		}
		return nil, fmt.Errorf("cannot cancel reservation %s in state %s: %w", id, current.Status, ErrInvalidTransition)
	}

	res.Status = models.StatusCancelled
	res.CancelReason = reason
	res.UpdatedAt = now

	s.logInfo("CANCEL", res.ID, "reason "+reason)

	if s.Events != nil {
		if err := s.Events.PublishReservationCancelled(*res); err != nil {
			s.logWarn(fmt.Sprintf("publish cancelled event for %s: %v", res.ID, err))
		}
	}
	return res, nil
}
