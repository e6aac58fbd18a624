package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/rajpalom13/move-meal-sub000/internal/cluster"
	"github.com/rajpalom13/move-meal-sub000/internal/middleware"
)

const heartbeatInterval = 15 * time.Second

// Events транслирует события кластера его участникам в формате server-sent events.
// Коды получения в поток не попадают.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.GetActorFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	if h.events == nil {
		http.Error(w, http.StatusText(http.StatusNotImplemented), http.StatusNotImplemented)
		return
	}

	id := chi.URLParam(r, "id")
	c, err := h.service.GetCluster(r.Context(), id)
	if err != nil {
		h.writeError(w, err, "events", zap.String("clusterID", id))
		return
	}
	if _, member := c.Member(actor.ID); !member {
		h.writeError(w, cluster.ErrForbidden, "events", zap.String("clusterID", id))
		return
	}

	events, cancel := h.events.Subscribe(id)
	defer cancel()

	rc := http.NewResponseController(w)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		h.logger.Warn("event stream not flushable", zap.Error(err))
		return
	}

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
		case ev, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				h.logger.Error("marshal event error", zap.Error(err), zap.String("clusterID", id))
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, data); err != nil {
				h.logger.Debug("event stream closed", zap.Int64("userID", actor.ID), zap.Error(err))
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}
