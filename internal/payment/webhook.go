package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/MHHHH233/pfe-backend-sub001/internal/logger"
	"github.com/MHHHH233/pfe-backend-sub001/internal/models"
)

// ReservationService is the slice of the lifecycle state machine the
// payment collaborator drives: a successful payment confirms, a failed or
// abandoned one cancels. Everything else about the payment protocol stays
// outside this engine.
type ReservationService interface {
	Confirm(ctx context.Context, id string) (*models.Reservation, error)
	Cancel(ctx context.Context, id, reason string) (*models.Reservation, error)
}

const maxWebhookBody = 65536

// WebhookHandler maps Stripe events onto reservation transitions. The
// reservation id travels in the checkout session metadata.
type WebhookHandler struct {
	Reservations  ReservationService
	SigningSecret string
	Log           *logger.Logger
}

func (h *WebhookHandler) warn(message string) {
	if h.Log != nil {
		h.Log.Warn("PAYMENT", message)
	}
}

func (h *WebhookHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	event, err := webhook.ConstructEvent(payload, r.Header.Get("Stripe-Signature"), h.SigningSecret)
	if err != nil {
		h.warn(fmt.Sprintf("webhook signature verification failed: %v", err))
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted:
		h.applySignal(r.Context(), w, event, true)
	case stripe.EventTypeCheckoutSessionExpired, stripe.EventTypePaymentIntentPaymentFailed:
		h.applySignal(r.Context(), w, event, false)
	default:
		// Not a signal this engine acts on; acknowledge so Stripe stops
		// retrying.
		w.WriteHeader(http.StatusOK)
	}
}

func (h *WebhookHandler) applySignal(ctx context.Context, w http.ResponseWriter, event stripe.Event, success bool) {
	reservationID := reservationIDFromEvent(event)
	if reservationID == "" {
		h.warn(fmt.Sprintf("event %s carries no reservation_id metadata", event.ID))
		w.WriteHeader(http.StatusOK)
		return
	}

	var err error
	if success {
		_, err = h.Reservations.Confirm(ctx, reservationID)
	} else {
		_, err = h.Reservations.Cancel(ctx, reservationID, models.ReasonPaymentFailed)
	}
	if err != nil {
		// Surfacing a 4xx/5xx makes Stripe retry; transition contract
		// violations will not heal on retry, so log and acknowledge.
		h.warn(fmt.Sprintf("signal for reservation %s not applied: %v", reservationID, err))
	}
	w.WriteHeader(http.StatusOK)
}

func reservationIDFromEvent(event stripe.Event) string {
	switch event.Type {
	case stripe.EventTypePaymentIntentPaymentFailed:
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			return ""
		}
		return intent.Metadata["reservation_id"]
	default:
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return ""
		}
		return session.Metadata["reservation_id"]
	}
}
