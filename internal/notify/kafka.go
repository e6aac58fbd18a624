package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/rajpalom13/move-meal-sub000/internal/model"
)

// MessageWriter описывает часть kafka.Writer, используемую каналом доставки.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink пишет события в топик Kafka. Ключом сообщения служит идентификатор
// кластера, поэтому события одного кластера попадают в одну партицию.
type KafkaSink struct {
	writer MessageWriter
}

// NewKafkaSink создаёт канал доставки поверх kafka.Writer.
func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return NewKafkaSinkWithWriter(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 10 * time.Millisecond,
	})
}

// NewKafkaSinkWithWriter создаёт канал доставки с заданным писателем.
func NewKafkaSinkWithWriter(w MessageWriter) *KafkaSink {
	return &KafkaSink{writer: w}
}

// Name возвращает имя канала доставки.
func (s *KafkaSink) Name() string { return "kafka" }

// Deliver записывает событие в топик.
func (s *KafkaSink) Deliver(ctx context.Context, ev model.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(ev.ClusterID),
		Value: body,
		Time:  ev.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event", Value: []byte(ev.Kind)},
		},
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write kafka message: %w", err)
	}
	return nil
}

// Close закрывает писателя.
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
