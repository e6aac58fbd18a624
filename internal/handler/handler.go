// Package handler содержит HTTP-обработчики API сервиса совместных заказов и поездок.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/rajpalom13/move-meal-sub000/internal/cluster"
	"github.com/rajpalom13/move-meal-sub000/internal/middleware"
	"github.com/rajpalom13/move-meal-sub000/internal/model"
	"github.com/rajpalom13/move-meal-sub000/internal/ranking"
	"github.com/rajpalom13/move-meal-sub000/internal/repository"
	"github.com/rajpalom13/move-meal-sub000/internal/service"
	"github.com/rajpalom13/move-meal-sub000/internal/validation"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RegisterUser(ctx context.Context, email, password, name, gender string) (*model.User, error)
	AuthenticateUser(ctx context.Context, email, password string) (*model.User, error)
	CreateBasketCluster(ctx context.Context, creator model.Actor, in model.BasketClusterInput) (*model.Cluster, error)
	CreateRideCluster(ctx context.Context, creator model.Actor, in model.RideClusterInput) (*model.Cluster, error)
	GetCluster(ctx context.Context, id string) (*model.Cluster, error)
	Join(ctx context.Context, actor model.Actor, id string, payload model.Payload) (*model.Cluster, error)
	Leave(ctx context.Context, userID int64, id string) (*model.Cluster, error)
	UpdatePayload(ctx context.Context, userID int64, id string, payload model.Payload) (*model.Cluster, error)
	UpdateStatus(ctx context.Context, actorID int64, id string, to model.Status) (*model.Cluster, error)
	VerifyCode(ctx context.Context, actorID int64, id, code string) (*model.Cluster, int64, error)
	Nearby(ctx context.Context, actor model.Actor, q service.NearbyQuery) ([]ranking.Candidate, error)
	MyClusters(ctx context.Context, userID int64) ([]*model.Cluster, error)
	Ping(ctx context.Context) error
}

// EventSource выдаёт поток событий кластера.
type EventSource interface {
	Subscribe(clusterID string) (<-chan model.Event, func())
}

// Config задаёт необязательные зависимости обработчика.
type Config struct {
	// CodeLength задаёт длину кода получения, принимаемого на проверку.
	CodeLength int
	Events     EventSource
	Limiter    *middleware.RateLimiter
	Metrics    http.Handler
}

// Handler реализует HTTP-обработчики API.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	events         EventSource
	limiter        *middleware.RateLimiter
	metrics        http.Handler
	codeLength     int
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware, cfg Config) *Handler {
	if cfg.CodeLength <= 0 {
		cfg.CodeLength = cluster.DefaultCodeLength
	}
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
		events:         cfg.Events,
		limiter:        cfg.Limiter,
		metrics:        cfg.Metrics,
		codeLength:     cfg.CodeLength,
	}
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Gender   string `json:"gender"`
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type userResponse struct {
	ID     int64  `json:"id"`
	Email  string `json:"email"`
	Name   string `json:"name,omitempty"`
	Gender string `json:"gender,omitempty"`
	Token  string `json:"token"`
}

// Register обрабатывает регистрацию нового пользователя.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if !validation.IsValidEmail(req.Email) || !validation.IsValidPassword(req.Password) || !validation.IsValidGender(req.Gender) {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	u, err := h.service.RegisterUser(r.Context(), req.Email, req.Password, req.Name, req.Gender)
	if err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
			return
		}
		h.logger.Error("register user error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.issueSession(w, u)
}

// Login выполняет аутентификацию пользователя и выдаёт токен.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Email == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	u, err := h.service.AuthenticateUser(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		h.logger.Error("login user error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.issueSession(w, u)
}

func (h *Handler) issueSession(w http.ResponseWriter, u *model.User) {
	token, err := h.authMiddleware.SetAuthCookie(w, u)
	if err != nil {
		h.logger.Error("issue token error", zap.Error(err), zap.Int64("userID", u.ID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, userResponse{
		ID:     u.ID,
		Email:  u.Email,
		Name:   u.Name,
		Gender: u.Gender,
		Token:  token,
	})
}

// MyClusters возвращает кластеры текущего пользователя.
func (h *Handler) MyClusters(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.GetActorFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	clusters, err := h.service.MyClusters(r.Context(), actor.ID)
	if err != nil {
		h.writeError(w, err, "my clusters", zap.Int64("userID", actor.ID))
		return
	}

	if len(clusters) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]clusterResponse, 0, len(clusters))
	for _, c := range clusters {
		resp = append(resp, newClusterResponse(c, actor.ID))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Health проверяет доступность хранилища.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Ping(r.Context()); err != nil {
		h.logger.Warn("health check failed", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
