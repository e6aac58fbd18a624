// Package service реализует координатор жизненного цикла кластеров.
//
// Каждая мутация выполняется под блокировкой кластера: снимок читается из
// хранилища, копия изменяется чистой функцией пакета cluster и записывается
// через CompareAndSwap. События передаются оповещателю только после
// успешной записи.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rajpalom13/move-meal-sub000/internal/cluster"
	"github.com/rajpalom13/move-meal-sub000/internal/geo"
	"github.com/rajpalom13/move-meal-sub000/internal/locker"
	"github.com/rajpalom13/move-meal-sub000/internal/metrics"
	"github.com/rajpalom13/move-meal-sub000/internal/model"
	"github.com/rajpalom13/move-meal-sub000/internal/ranking"
	"github.com/rajpalom13/move-meal-sub000/internal/repository"
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	Ping(ctx context.Context) error
	CreateUser(ctx context.Context, u *model.User) (int64, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	GetUserByID(ctx context.Context, id int64) (*model.User, error)
	CreateCluster(ctx context.Context, c *model.Cluster) error
	LoadCluster(ctx context.Context, id string) (*model.Cluster, error)
	CompareAndSwap(ctx context.Context, expected int64, c *model.Cluster) error
	ListOpenClusters(ctx context.Context, f repository.ClusterFilter) ([]*model.Cluster, error)
	GetClustersByIDs(ctx context.Context, ids []string) ([]*model.Cluster, error)
	ListClustersByUser(ctx context.Context, userID int64) ([]*model.Cluster, error)
}

// Notifier принимает зафиксированные события. Emit не должен блокироваться.
type Notifier interface {
	Emit(events ...model.Event)
}

// GeoSearch описывает внешний сервис поиска кластеров по координатам.
type GeoSearch interface {
	Nearby(ctx context.Context, p model.Point, radiusKm float64, kind model.Kind) (*geo.NearbyResult, int, time.Duration, error)
}

// Ranker упорядочивает кластеры для рекомендаций.
type Ranker interface {
	Rank(req ranking.Request, clusters []*model.Cluster) []ranking.Candidate
}

// Options задаёт зависимости и параметры координатора.
// Незаполненные поля получают значения по умолчанию.
type Options struct {
	Locker   locker.Locker
	Notifier Notifier
	Geo      GeoSearch
	Ranker   Ranker
	Codes    cluster.CodeGenerator
	Eligible cluster.EligibilityFunc

	// MutationRetries задаёт число повторов мутации при конфликте версий.
	MutationRetries int
	RetryBackoff    time.Duration

	Now    func() time.Time
	NewID  func() string
	Logger *zap.Logger
}

// Service содержит бизнес-логику координатора кластеров.
type Service struct {
	repo     Repository
	locker   locker.Locker
	notifier Notifier
	geo      GeoSearch
	ranker   Ranker
	codes    cluster.CodeGenerator
	eligible cluster.EligibilityFunc
	retries  int
	backoff  time.Duration
	now      func() time.Time
	newID    func() string
	logger   *zap.Logger
}

type nopNotifier struct{}

func (nopNotifier) Emit(...model.Event) {}

// NewService создаёт новый сервис с указанным хранилищем.
func NewService(repo Repository, opts Options) *Service {
	s := &Service{
		repo:     repo,
		locker:   opts.Locker,
		notifier: opts.Notifier,
		geo:      opts.Geo,
		ranker:   opts.Ranker,
		codes:    opts.Codes,
		eligible: opts.Eligible,
		retries:  opts.MutationRetries,
		backoff:  opts.RetryBackoff,
		now:      opts.Now,
		newID:    opts.NewID,
		logger:   opts.Logger,
	}
	if s.locker == nil {
		s.locker = locker.NewLocal(5 * time.Second)
	}
	if s.notifier == nil {
		s.notifier = nopNotifier{}
	}
	if s.ranker == nil {
		s.ranker = ranking.NewScorer(ranking.DefaultWeights)
	}
	if s.codes == nil {
		s.codes = cluster.NewRandomCodes(cluster.DefaultCodeLength)
	}
	if s.eligible == nil {
		s.eligible = cluster.GenderMatch
	}
	if s.retries <= 0 {
		s.retries = 3
	}
	if s.backoff <= 0 {
		s.backoff = 10 * time.Millisecond
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// Ping проверяет доступность хранилища.
func (s *Service) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

// mutation изменяет переданную копию кластера и возвращает события.
type mutation func(c *model.Cluster, now time.Time) ([]model.Event, error)

// mutate выполняет мутацию кластера id под блокировкой. Конфликт версий
// повторяется ограниченное число раз, остальные ошибки возвращаются сразу.
// При любой ошибке хранилище остаётся нетронутым.
func (s *Service) mutate(ctx context.Context, op, id string, fn mutation) (*model.Cluster, error) {
	release, err := s.locker.Acquire(ctx, id)
	if err != nil {
		if errors.Is(err, locker.ErrLockTimeout) {
			metrics.LockTimeoutsTotal.Inc()
		}
		s.observe(op, err)
		return nil, err
	}

	defer release()

	c, events, err := s.applyWithRetry(ctx, op, id, fn)
	s.observe(op, err)
	if err != nil {
		return nil, err
	}

	// Публикация под блокировкой: события кластера идут в порядке фиксации.
	s.publish(events)
	return c, nil
}

func (s *Service) applyWithRetry(ctx context.Context, op, id string, fn mutation) (*model.Cluster, []model.Event, error) {
	backoff := s.backoff
	var lastErr error
	for attempt := 0; attempt <= s.retries; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, nil, ctx.Err()
			case <-timer.C:
			}
			backoff *= 2
		}

		snap, err := s.repo.LoadCluster(ctx, id)
		if err != nil {
			return nil, nil, err
		}

		next := snap.Clone()
		events, err := fn(next, s.now())
		if err != nil {
			return nil, nil, err
		}

		err = s.repo.CompareAndSwap(ctx, snap.Version, next)
		if err == nil {
			return next, events, nil
		}
		if !errors.Is(err, repository.ErrVersionConflict) {
			return nil, nil, err
		}

		lastErr = err
		metrics.VersionConflictsTotal.Inc()
		s.logger.Debug("cluster version conflict, retrying",
			zap.String("operation", op),
			zap.String("cluster_id", id),
			zap.Int("attempt", attempt+1),
		)
	}
	return nil, nil, lastErr
}

func (s *Service) publish(events []model.Event) {
	for _, ev := range events {
		switch ev.Kind {
		case model.EventStatusChanged:
			metrics.StatusTransitionsTotal.WithLabelValues(string(ev.ClusterKind), string(ev.From), string(ev.To)).Inc()
		case model.EventCodeVerified:
			metrics.CodesVerifiedTotal.Inc()
		}
	}
	if len(events) > 0 {
		s.notifier.Emit(events...)
	}
}

func (s *Service) observe(op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.MutationsTotal.WithLabelValues(op, outcome).Inc()
}

// CreateBasketCluster создаёт кластер-корзину от имени creator.
func (s *Service) CreateBasketCluster(ctx context.Context, creator model.Actor, in model.BasketClusterInput) (*model.Cluster, error) {
	c, events, err := cluster.NewBasket(s.newID(), creator, in, s.now())
	if err != nil {
		return nil, err
	}
	return s.create(ctx, c, events)
}

// CreateRideCluster создаёт кластер-поездку от имени creator.
func (s *Service) CreateRideCluster(ctx context.Context, creator model.Actor, in model.RideClusterInput) (*model.Cluster, error) {
	c, events, err := cluster.NewRide(s.newID(), creator, in, s.now())
	if err != nil {
		return nil, err
	}
	return s.create(ctx, c, events)
}

func (s *Service) create(ctx context.Context, c *model.Cluster, events []model.Event) (*model.Cluster, error) {
	if err := s.repo.CreateCluster(ctx, c); err != nil {
		s.observe("create", err)
		return nil, fmt.Errorf("create cluster: %w", err)
	}
	s.observe("create", nil)
	metrics.ClustersCreatedTotal.WithLabelValues(string(c.Kind)).Inc()
	s.publish(events)
	return c, nil
}

// GetCluster возвращает полный снимок кластера без блокировки.
func (s *Service) GetCluster(ctx context.Context, id string) (*model.Cluster, error) {
	return s.repo.LoadCluster(ctx, id)
}

// Join добавляет actor в кластер.
func (s *Service) Join(ctx context.Context, actor model.Actor, id string, payload model.Payload) (*model.Cluster, error) {
	return s.mutate(ctx, "join", id, func(c *model.Cluster, now time.Time) ([]model.Event, error) {
		return cluster.Join(c, actor, payload, s.eligible, now)
	})
}

// Leave удаляет пользователя из кластера.
func (s *Service) Leave(ctx context.Context, userID int64, id string) (*model.Cluster, error) {
	return s.mutate(ctx, "leave", id, func(c *model.Cluster, now time.Time) ([]model.Event, error) {
		return cluster.Leave(c, userID, now)
	})
}

// UpdatePayload заменяет данные участника.
func (s *Service) UpdatePayload(ctx context.Context, userID int64, id string, payload model.Payload) (*model.Cluster, error) {
	return s.mutate(ctx, "update_payload", id, func(c *model.Cluster, now time.Time) ([]model.Event, error) {
		return cluster.UpdatePayload(c, userID, payload, now)
	})
}

// UpdateStatus переводит кластер в новый статус по запросу actorID.
func (s *Service) UpdateStatus(ctx context.Context, actorID int64, id string, to model.Status) (*model.Cluster, error) {
	return s.mutate(ctx, "update_status", id, func(c *model.Cluster, now time.Time) ([]model.Event, error) {
		return cluster.UpdateStatus(c, actorID, to, s.codes, now)
	})
}

// VerifyCode погашает код получения и возвращает кластер и идентификатор
// получившего участника.
func (s *Service) VerifyCode(ctx context.Context, actorID int64, id, code string) (*model.Cluster, int64, error) {
	var collector int64
	c, err := s.mutate(ctx, "verify_code", id, func(c *model.Cluster, now time.Time) ([]model.Event, error) {
		userID, events, err := cluster.Verify(c, code, actorID, now)
		collector = userID
		return events, err
	})
	if err != nil {
		return nil, 0, err
	}
	return c, collector, nil
}

// MyClusters возвращает кластеры, в которых состоит пользователь.
func (s *Service) MyClusters(ctx context.Context, userID int64) ([]*model.Cluster, error) {
	return s.repo.ListClustersByUser(ctx, userID)
}
