package kafka

import (
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"

	"github.com/MHHHH233/pfe-backend-sub001/internal/models"
)

// Event names published on the reservation stream.
const (
	EventReservationCreated   = "reservation_created"
	EventReservationConfirmed = "reservation_confirmed"
	EventReservationCancelled = "reservation_cancelled"
)

type reservationEvent struct {
	Event       string             `json:"event"`
	Reservation models.Reservation `json:"reservation"`
}

type Producer struct {
	Writer *kafka.Writer
}

func NewProducer(brokers []string, topic string) *Producer {
	writer := kafka.NewWriter(kafka.WriterConfig{
		Brokers: brokers,
		Topic:   topic,
	})
	return &Producer{Writer: writer}
}

func (p *Producer) publish(event string, res models.Reservation) error {
	msgBytes, err := json.Marshal(reservationEvent{Event: event, Reservation: res})
	if err != nil {
		return err
	}
	return p.Writer.WriteMessages(context.Background(),
		kafka.Message{
			Key:   []byte(res.ID),
			Value: msgBytes,
		},
	)
}

// PublishReservationCreated streams the creation event.
func (p *Producer) PublishReservationCreated(res models.Reservation) error {
	return p.publish(EventReservationCreated, res)
}

// PublishReservationConfirmed streams the confirmation event.
func (p *Producer) PublishReservationConfirmed(res models.Reservation) error {
	return p.publish(EventReservationConfirmed, res)
}

// PublishReservationCancelled streams the cancellation event.
func (p *Producer) PublishReservationCancelled(res models.Reservation) error {
	return p.publish(EventReservationCancelled, res)
}

func (p *Producer) Close() error {
	return p.Writer.Close()
}

// Noop satisfies the publisher interface when Kafka is disabled (local
// development, the reconcile CLI, tests).
type Noop struct{}

func (Noop) PublishReservationCreated(models.Reservation) error   { return nil }
func (Noop) PublishReservationConfirmed(models.Reservation) error { return nil }
func (Noop) PublishReservationCancelled(models.Reservation) error { return nil }
