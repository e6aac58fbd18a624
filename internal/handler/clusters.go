package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/rajpalom13/move-meal-sub000/internal/middleware"
	"github.com/rajpalom13/move-meal-sub000/internal/model"
	"github.com/rajpalom13/move-meal-sub000/internal/service"
	"github.com/rajpalom13/move-meal-sub000/internal/validation"
)

const (
	defaultRadiusKm    = 5.0
	maxRadiusKm        = 50.0
	defaultNearbyLimit = 20
	maxNearbyLimit     = 100
)

func decode(r *http.Request, v any) bool {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v) == nil
}

// CreateBasket создаёт кластер-корзину от имени текущего пользователя.
func (h *Handler) CreateBasket(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.GetActorFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req createBasketRequest
	if !decode(r, &req) {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if !validation.IsValidTitle(req.Title) || !validation.IsValidPoint(req.Location) ||
		!validation.IsValidAmount(req.MinimumBasket) || !validation.IsValidAmount(req.OrderAmount) ||
		req.DeliveryDistanceKm < 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	c, err := h.service.CreateBasketCluster(r.Context(), actor, model.BasketClusterInput{
		Title:              req.Title,
		Location:           req.Location,
		MinimumBasket:      model.MoneyFromRupees(req.MinimumBasket),
		MaxMembers:         req.MaxMembers,
		DeliveryDistanceKm: req.DeliveryDistanceKm,
		ScheduledAt:        req.ScheduledAt,
		Order: model.BasketPayload{
			OrderAmount: model.MoneyFromRupees(req.OrderAmount),
			Items:       strings.TrimSpace(req.Items),
		},
	})
	if err != nil {
		h.writeError(w, err, "create basket", zap.Int64("userID", actor.ID))
		return
	}

	writeJSON(w, http.StatusCreated, newClusterResponse(c, actor.ID))
}

// CreateRide создаёт кластер-поездку от имени текущего пользователя.
func (h *Handler) CreateRide(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.GetActorFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req createRideRequest
	if !decode(r, &req) {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	pickup := req.Origin
	if req.Pickup != nil {
		pickup = *req.Pickup
	}
	if !validation.IsValidTitle(req.Title) || !validation.IsValidPoint(req.Origin) ||
		!validation.IsValidPoint(req.Destination) || !validation.IsValidPoint(pickup) ||
		(req.TotalFare != 0 && !validation.IsValidAmount(req.TotalFare)) {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	c, err := h.service.CreateRideCluster(r.Context(), actor, model.RideClusterInput{
		Title:         req.Title,
		Origin:        req.Origin,
		Destination:   req.Destination,
		SeatsRequired: req.SeatsRequired,
		TotalFare:     model.MoneyFromRupees(req.TotalFare),
		Restricted:    req.Restricted,
		DepartureAt:   req.DepartureAt,
		Pickup:        model.RidePayload{Pickup: pickup, Address: strings.TrimSpace(req.Address)},
	})
	if err != nil {
		h.writeError(w, err, "create ride", zap.Int64("userID", actor.ID))
		return
	}

	writeJSON(w, http.StatusCreated, newClusterResponse(c, actor.ID))
}

// GetCluster возвращает снимок кластера с показателями ёмкости.
func (h *Handler) GetCluster(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.GetActorFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	id := chi.URLParam(r, "id")
	c, err := h.service.GetCluster(r.Context(), id)
	if err != nil {
		h.writeError(w, err, "get cluster", zap.String("clusterID", id))
		return
	}

	writeJSON(w, http.StatusOK, newClusterResponse(c, actor.ID))
}

// Join добавляет текущего пользователя в кластер.
func (h *Handler) Join(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.GetActorFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	payload, ok := h.readPayload(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	id := chi.URLParam(r, "id")
	c, err := h.service.Join(r.Context(), actor, id, payload)
	if err != nil {
		h.writeError(w, err, "join", zap.String("clusterID", id), zap.Int64("userID", actor.ID))
		return
	}

	writeJSON(w, http.StatusOK, newClusterResponse(c, actor.ID))
}

// Leave удаляет текущего пользователя из кластера.
func (h *Handler) Leave(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.GetActorFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	id := chi.URLParam(r, "id")
	c, err := h.service.Leave(r.Context(), actor.ID, id)
	if err != nil {
		h.writeError(w, err, "leave", zap.String("clusterID", id), zap.Int64("userID", actor.ID))
		return
	}

	writeJSON(w, http.StatusOK, newClusterResponse(c, actor.ID))
}

// UpdatePayload заменяет заказ или точку посадки текущего пользователя.
func (h *Handler) UpdatePayload(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.GetActorFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	payload, ok := h.readPayload(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	id := chi.URLParam(r, "id")
	c, err := h.service.UpdatePayload(r.Context(), actor.ID, id, payload)
	if err != nil {
		h.writeError(w, err, "update payload", zap.String("clusterID", id), zap.Int64("userID", actor.ID))
		return
	}

	writeJSON(w, http.StatusOK, newClusterResponse(c, actor.ID))
}

func (h *Handler) readPayload(r *http.Request) (model.Payload, bool) {
	var req payloadRequest
	if !decode(r, &req) {
		return nil, false
	}

	switch {
	case req.OrderAmount != nil && req.Pickup == nil:
		if !validation.IsValidAmount(*req.OrderAmount) {
			return nil, false
		}
		return model.BasketPayload{
			OrderAmount: model.MoneyFromRupees(*req.OrderAmount),
			Items:       strings.TrimSpace(req.Items),
		}, true
	case req.Pickup != nil && req.OrderAmount == nil:
		if !validation.IsValidPoint(*req.Pickup) {
			return nil, false
		}
		return model.RidePayload{Pickup: *req.Pickup, Address: strings.TrimSpace(req.Address)}, true
	}
	return nil, false
}

// UpdateStatus переводит кластер в новый статус.
func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.GetActorFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req statusRequest
	if !decode(r, &req) || req.Status == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	id := chi.URLParam(r, "id")
	c, err := h.service.UpdateStatus(r.Context(), actor.ID, id, req.Status)
	if err != nil {
		h.writeError(w, err, "update status", zap.String("clusterID", id), zap.String("status", string(req.Status)))
		return
	}

	writeJSON(w, http.StatusOK, newClusterResponse(c, actor.ID))
}

// VerifyCode погашает код получения участника.
func (h *Handler) VerifyCode(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.GetActorFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req verifyRequest
	if !decode(r, &req) {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	code := strings.TrimSpace(req.Code)
	if !validation.IsValidCode(code, h.codeLength) {
		http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
		return
	}

	id := chi.URLParam(r, "id")
	c, userID, err := h.service.VerifyCode(r.Context(), actor.ID, id, code)
	if err != nil {
		h.writeError(w, err, "verify code", zap.String("clusterID", id))
		return
	}

	writeJSON(w, http.StatusOK, verifyResponse{UserID: userID, Cluster: newClusterResponse(c, actor.ID)})
}

// Nearby возвращает открытые кластеры рядом с точкой.
func (h *Handler) Nearby(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.GetActorFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	q, ok := parseNearbyQuery(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	candidates, err := h.service.Nearby(r.Context(), actor, q)
	if err != nil {
		h.writeError(w, err, "nearby", zap.Int64("userID", actor.ID))
		return
	}

	if len(candidates) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]candidateResponse, 0, len(candidates))
	for _, c := range candidates {
		resp = append(resp, candidateResponse{
			Cluster:    newClusterResponse(c.Cluster, actor.ID),
			DistanceKm: c.DistanceKm,
			Score:      c.Score,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func parseNearbyQuery(r *http.Request) (service.NearbyQuery, bool) {
	values := r.URL.Query()
	lat, errLat := strconv.ParseFloat(values.Get("lat"), 64)
	lng, errLng := strconv.ParseFloat(values.Get("lng"), 64)
	if errLat != nil || errLng != nil {
		return service.NearbyQuery{}, false
	}

	q := service.NearbyQuery{
		Point:    model.Point{Lat: lat, Lng: lng},
		RadiusKm: defaultRadiusKm,
		Limit:    defaultNearbyLimit,
	}
	if !validation.IsValidPoint(q.Point) {
		return q, false
	}

	if v := values.Get("radius_km"); v != "" {
		radius, err := strconv.ParseFloat(v, 64)
		if err != nil || radius <= 0 || radius > maxRadiusKm {
			return q, false
		}
		q.RadiusKm = radius
	}

	switch kind := model.Kind(values.Get("kind")); kind {
	case "", model.KindBasket, model.KindRide:
		q.Kind = kind
	default:
		return q, false
	}

	if v := values.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit <= 0 {
			return q, false
		}
		q.Limit = min(limit, maxNearbyLimit)
	}
	return q, true
}
