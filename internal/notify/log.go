package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/rajpalom13/move-meal-sub000/internal/model"
)

// LogSink пишет события в лог.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink создаёт канал доставки в лог.
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Name возвращает имя канала доставки.
func (s *LogSink) Name() string { return "log" }

// Deliver записывает событие.
func (s *LogSink) Deliver(_ context.Context, ev model.Event) error {
	s.logger.Info("cluster event",
		zap.String("event", string(ev.Kind)),
		zap.String("cluster_id", ev.ClusterID),
		zap.String("cluster_kind", string(ev.ClusterKind)),
		zap.Int64("actor_id", ev.ActorID),
		zap.Int64("user_id", ev.UserID),
		zap.String("from", string(ev.From)),
		zap.String("to", string(ev.To)),
		zap.Int("recipients", len(ev.Recipients)),
	)
	return nil
}
