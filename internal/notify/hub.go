package notify

import (
	"context"
	"sync"

	"github.com/rajpalom13/move-meal-sub000/internal/metrics"
	"github.com/rajpalom13/move-meal-sub000/internal/model"
)

const subscriberBuffer = 16

// Hub рассылает события подписчикам потока кластера внутри процесса.
// Медленный подписчик теряет события, но не задерживает остальных.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[chan model.Event]struct{}
}

// NewHub создаёт пустой Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan model.Event]struct{})}
}

// Name возвращает имя канала доставки.
func (h *Hub) Name() string { return "stream" }

// Subscribe подписывается на события кластера. Возвращённая функция
// отменяет подписку и закрывает канал.
func (h *Hub) Subscribe(clusterID string) (<-chan model.Event, func()) {
	ch := make(chan model.Event, subscriberBuffer)

	h.mu.Lock()
	set, ok := h.subs[clusterID]
	if !ok {
		set = make(map[chan model.Event]struct{})
		h.subs[clusterID] = set
	}
	set[ch] = struct{}{}
	h.mu.Unlock()
	metrics.StreamSubscribers.Inc()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[clusterID], ch)
			if len(h.subs[clusterID]) == 0 {
				delete(h.subs, clusterID)
			}
			close(ch)
			h.mu.Unlock()
			metrics.StreamSubscribers.Dec()
		})
	}
}

// Deliver отправляет событие всем подписчикам кластера.
func (h *Hub) Deliver(_ context.Context, ev model.Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.subs[ev.ClusterID] {
		select {
		case ch <- ev:
		default:
		}
	}
	return nil
}
