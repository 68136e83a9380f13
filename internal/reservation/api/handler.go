package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/MHHHH233/pfe-backend-sub001/internal/models"
	"github.com/MHHHH233/pfe-backend-sub001/internal/quota"
	"github.com/MHHHH233/pfe-backend-sub001/internal/reservation"
	"github.com/MHHHH233/pfe-backend-sub001/internal/sweeper"
	"github.com/MHHHH233/pfe-backend-sub001/internal/utils"
)

type Handler struct {
	Reservations *reservation.Service
	Sweeper      *sweeper.Sweeper
	Enforcer     *quota.Enforcer
}

type createRequest struct {
	ClientID  *string `json:"client_id"`
	FieldID   string  `json:"field_id"`
	Date      string  `json:"date"`
	StartTime string  `json:"start_time"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func writeJSON(w http.ResponseWriter, status int, body utils.APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, reservation.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, reservation.ErrInvalidTransition),
		errors.Is(err, reservation.ErrSlotConflict):
		return http.StatusConflict
	case errors.Is(err, reservation.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadRequest
	}
}

func (h *Handler) CreateReservation(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request body", err.Error()))
		return
	}
	if req.FieldID == "" || req.Date == "" || req.StartTime == "" {
		writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request body", "field_id, date and start_time are required"))
		return
	}

	res, err := h.Reservations.Create(r.Context(), req.ClientID, req.FieldID, req.Date, req.StartTime)
	if err != nil {
		writeJSON(w, statusFor(err), utils.ErrorResponse("Could not create reservation", err.Error()))
		return
	}
	writeJSON(w, http.StatusCreated, utils.SuccessResponse("reservation created", res))
}

func (h *Handler) GetReservation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "reservationId")
	res, err := h.Reservations.Get(r.Context(), id)
	if err != nil {
		writeJSON(w, statusFor(err), utils.ErrorResponse("Reservation not found", err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, utils.SuccessResponse("reservation", res))
}

func (h *Handler) ConfirmReservation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "reservationId")
	res, err := h.Reservations.Confirm(r.Context(), id)
	if err != nil {
		writeJSON(w, statusFor(err), utils.ErrorResponse("Could not confirm reservation", err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, utils.SuccessResponse("reservation confirmed", res))
}

func (h *Handler) CancelReservation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "reservationId")

	reason := models.ReasonClientRequest
	if r.Body != nil && r.ContentLength > 0 {
		var req cancelRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request body", err.Error()))
			return
		}
		if req.Reason != "" {
			reason = req.Reason
		}
	}

	res, err := h.Reservations.Cancel(r.Context(), id, reason)
	if err != nil {
		writeJSON(w, statusFor(err), utils.ErrorResponse("Could not cancel reservation", err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, utils.SuccessResponse("reservation cancelled", res))
}

// ---------------- ADMIN TRIGGERS ----------------

func confirmed(r *http.Request) bool {
	return r.URL.Query().Get("confirm") == "true"
}

// RunSweep triggers one sweep pass. With dry_run=true it only reports the
// candidate sets. The scheduled path runs the same pass every interval.
func (h *Handler) RunSweep(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("dry_run") == "true" {
		candidates, err := h.Sweeper.Preview(r.Context())
		if err != nil {
			writeJSON(w, statusFor(err), utils.ErrorResponse("Sweep preview failed", err.Error()))
			return
		}
		writeJSON(w, http.StatusOK, utils.SuccessResponse("sweep candidates", candidates))
		return
	}

	report, err := h.Sweeper.Run(r.Context())
	if err != nil {
		writeJSON(w, statusFor(err), utils.ErrorResponse("Sweep failed", err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, utils.SuccessResponse("sweep complete", report))
}

// PurgeStale hard-deletes stale pending reservations. Without confirm=true
// it returns the candidate set and takes no action.
func (h *Handler) PurgeStale(w http.ResponseWriter, r *http.Request) {
	if !confirmed(r) {
		candidates, err := h.Sweeper.Preview(r.Context())
		if err != nil {
			writeJSON(w, statusFor(err), utils.ErrorResponse("Purge preview failed", err.Error()))
			return
		}
		writeJSON(w, http.StatusOK, utils.NoActionResponse(candidates.StalePending))
		return
	}

	deleted, err := h.Sweeper.PurgeStalePending(r.Context())
	if err != nil {
		writeJSON(w, statusFor(err), utils.ErrorResponse("Purge failed", err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, utils.SuccessResponse("stale pending reservations deleted", map[string]int{"deleted": deleted}))
}

// EnforceQuota runs quota detection, and eviction only with confirm=true.
func (h *Handler) EnforceQuota(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")

	var report quota.EnforcementReport
	var err error
	if confirmed(r) {
		report, err = h.Enforcer.Enforce(r.Context(), date)
	} else {
		report, err = h.Enforcer.Detect(r.Context(), date)
	}
	if err != nil {
		writeJSON(w, statusFor(err), utils.ErrorResponse("Quota enforcement failed", err.Error()))
		return
	}
	if report.DryRun {
		writeJSON(w, http.StatusOK, utils.NoActionResponse(report))
		return
	}
	writeJSON(w, http.StatusOK, utils.SuccessResponse("quota enforced", report))
}

// RepairClockSkew rewrites implausibly-future created_at values. Without
// confirm=true it lists the candidates and takes no action. An optional
// id query parameter restricts the repair to one reservation.
func (h *Handler) RepairClockSkew(w http.ResponseWriter, r *http.Request) {
	candidates, err := h.Sweeper.ClockSkewCandidates(r.Context())
	if err != nil {
		writeJSON(w, statusFor(err), utils.ErrorResponse("Repair preview failed", err.Error()))
		return
	}

	ids := filterIDs(candidates, r.URL.Query().Get("id"))

	if !confirmed(r) {
		writeJSON(w, http.StatusOK, utils.NoActionResponse(candidates))
		return
	}

	report, err := h.Sweeper.RepairClockSkew(r.Context(), ids)
	if err != nil {
		writeJSON(w, statusFor(err), utils.ErrorResponse("Repair failed", err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, utils.SuccessResponse("clock skew repaired", report))
}

func filterIDs(candidates []models.Reservation, only string) []string {
	var ids []string
	for _, c := range candidates {
		if only == "" || c.ID == only {
			ids = append(ids, c.ID)
		}
	}
	return ids
}

// Health is a liveness probe.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, utils.SuccessResponse("ok", nil))
}
