// Package notify доставляет события жизненного цикла кластеров подписчикам.
//
// Координатор передаёт события в Dispatcher только после фиксации мутации.
// Доставка асинхронна и не влияет на результат операции: ошибки каналов
// логируются и учитываются в метриках.
package notify

import (
	"context"
	"hash/fnv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rajpalom13/move-meal-sub000/internal/metrics"
	"github.com/rajpalom13/move-meal-sub000/internal/model"
)

// Sink доставляет события получателям.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, ev model.Event) error
}

// Config задаёт параметры диспетчера.
type Config struct {
	Workers     int
	QueueSize   int
	MaxAttempts int
	Backoff     time.Duration
	// DrainTimeout ограничивает доставку оставшихся событий при остановке.
	DrainTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.Backoff <= 0 {
		c.Backoff = 200 * time.Millisecond
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = 5 * time.Second
	}
	return c
}

// Dispatcher распределяет события по воркерам. События одного кластера
// всегда попадают в одну очередь и доставляются в порядке фиксации.
type Dispatcher struct {
	cfg    Config
	queues []chan model.Event
	sinks  []Sink
	logger *zap.Logger
}

// NewDispatcher создаёт диспетчер с указанными каналами доставки.
func NewDispatcher(cfg Config, logger *zap.Logger, sinks ...Sink) *Dispatcher {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	perWorker := max(1, cfg.QueueSize/cfg.Workers)
	queues := make([]chan model.Event, cfg.Workers)
	for i := range queues {
		queues[i] = make(chan model.Event, perWorker)
	}

	return &Dispatcher{
		cfg:    cfg,
		queues: queues,
		sinks:  sinks,
		logger: logger,
	}
}

// Emit ставит события в очередь и никогда не блокируется.
// При переполнении очереди событие отбрасывается.
func (d *Dispatcher) Emit(events ...model.Event) {
	for _, ev := range events {
		q := d.queues[d.shard(ev.ClusterID)]
		select {
		case q <- ev:
			metrics.NotifyQueueLength.Inc()
		default:
			metrics.EventsDroppedTotal.Inc()
			d.logger.Warn("notify queue is full, event dropped",
				zap.String("cluster_id", ev.ClusterID),
				zap.String("event", string(ev.Kind)),
			)
		}
	}
}

func (d *Dispatcher) shard(clusterID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(clusterID))
	return int(h.Sum32() % uint32(len(d.queues)))
}

// Run запускает воркеры и блокируется до отмены ctx. Перед возвратом
// воркеры доставляют уже поставленные в очередь события.
func (d *Dispatcher) Run(ctx context.Context) error {
	var g errgroup.Group
	for _, q := range d.queues {
		g.Go(func() error {
			d.work(ctx, q)
			return nil
		})
	}
	return g.Wait()
}

func (d *Dispatcher) work(ctx context.Context, q chan model.Event) {
	for {
		select {
		case <-ctx.Done():
			d.drain(q)
			return
		case ev := <-q:
			metrics.NotifyQueueLength.Dec()
			d.deliver(ctx, ev)
		}
	}
}

func (d *Dispatcher) drain(q chan model.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.DrainTimeout)
	defer cancel()

	for {
		select {
		case ev := <-q:
			metrics.NotifyQueueLength.Dec()
			d.deliver(ctx, ev)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, ev model.Event) {
	for _, s := range d.sinks {
		if err := d.deliverWithRetry(ctx, s, ev); err != nil {
			metrics.DeliveriesTotal.WithLabelValues(s.Name(), "failed").Inc()
			d.logger.Error("event delivery failed",
				zap.String("sink", s.Name()),
				zap.String("cluster_id", ev.ClusterID),
				zap.String("event", string(ev.Kind)),
				zap.Error(err),
			)
			continue
		}
		metrics.DeliveriesTotal.WithLabelValues(s.Name(), "ok").Inc()
	}
}

func (d *Dispatcher) deliverWithRetry(ctx context.Context, s Sink, ev model.Event) error {
	backoff := d.cfg.Backoff
	var err error
	for attempt := 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		if err = s.Deliver(ctx, ev); err == nil {
			return nil
		}
		if attempt == d.cfg.MaxAttempts {
			break
		}

		d.logger.Debug("retrying event delivery",
			zap.String("sink", s.Name()),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		backoff *= 2
	}
	return err
}
