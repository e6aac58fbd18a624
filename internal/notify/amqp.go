package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/rajpalom13/move-meal-sub000/internal/model"
)

// AMQPSink публикует события в topic-exchange RabbitMQ. Ключ маршрутизации
// имеет вид "<вид кластера>.<тип события>", например "basket.status_changed".
type AMQPSink struct {
	url      string
	exchange string

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewAMQPSink создаёт канал доставки. Соединение устанавливается при первой публикации.
func NewAMQPSink(url, exchange string) *AMQPSink {
	if exchange == "" {
		exchange = "movemeal.events"
	}
	return &AMQPSink{url: url, exchange: exchange}
}

// Name возвращает имя канала доставки.
func (s *AMQPSink) Name() string { return "amqp" }

// Deliver публикует событие. При ошибке соединение сбрасывается и
// устанавливается заново при следующей попытке.
func (s *AMQPSink) Deliver(ctx context.Context, ev model.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ch, err := s.channel()
	if err != nil {
		return err
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    ev.OccurredAt,
		Type:         string(ev.Kind),
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, s.exchange, routingKey(ev), false, false, pub); err != nil {
		s.reset()
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

func routingKey(ev model.Event) string {
	return string(ev.ClusterKind) + "." + string(ev.Kind)
}

func (s *AMQPSink) channel() (*amqp.Channel, error) {
	if s.ch != nil && !s.ch.IsClosed() {
		return s.ch, nil
	}
	s.reset()

	conn, err := amqp.DialConfig(s.url, amqp.Config{
		Heartbeat: 10 * time.Second,
		Dial:      amqp.DefaultDial(5 * time.Second),
	})
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(
		s.exchange,
		"topic",
		true,  // durable
		false, // autoDelete
		false, // internal
		false, // noWait
		nil,
	); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	s.conn, s.ch = conn, ch
	return ch, nil
}

func (s *AMQPSink) reset() {
	if s.ch != nil {
		_ = s.ch.Close()
		s.ch = nil
	}
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
}

// Close закрывает соединение с брокером.
func (s *AMQPSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
	return nil
}
