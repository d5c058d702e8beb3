package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
)

// Событие платежного контура для downstream-потребителей
// (игровые сервера, аналитика)
type PaymentEvent struct {
	OrderID     string    `json:"order_id"`
	UserID      string    `json:"user_id"`
	Status      string    `json:"status"`
	PayStatus   string    `json:"pay_status,omitempty"`
	RCode       string    `json:"rcode,omitempty"`
	AmountCents int64     `json:"amount_cents"`
	GoldAmount  int64     `json:"gold_amount"`
	OccurredAt  time.Time `json:"occurred_at"`
}

type Publisher struct {
	writer *kafka.Writer
}

func NewPublisher(brokers []string, topic string) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.LeastBytes{},
		},
	}
}

// Publish отправляет событие. Ключ — user_id: события одного
// пользователя попадают в одну партицию и сохраняют порядок.
func (p *Publisher) Publish(ctx context.Context, event PaymentEvent) error {
	msg, err := json.Marshal(event)
	if err != nil {
		return err
	}

	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.UserID),
		Value: msg,
		Time:  time.Now(),
	})
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}
