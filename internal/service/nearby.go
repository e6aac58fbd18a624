package service

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/rajpalom13/move-meal-sub000/internal/cluster"
	"github.com/rajpalom13/move-meal-sub000/internal/model"
	"github.com/rajpalom13/move-meal-sub000/internal/ranking"
	"github.com/rajpalom13/move-meal-sub000/internal/repository"
)

// NearbyQuery описывает поиск кластеров рядом с точкой.
type NearbyQuery struct {
	Point    model.Point
	RadiusKm float64
	Kind     model.Kind
	Limit    int
}

// Nearby возвращает открытые кластеры рядом с точкой, упорядоченные для actor.
// Если внешний сервис геопоиска не настроен или недоступен, поиск выполняется
// по хранилищу.
func (s *Service) Nearby(ctx context.Context, actor model.Actor, q NearbyQuery) ([]ranking.Candidate, error) {
	clusters, err := s.nearbyCandidates(ctx, q)
	if err != nil {
		return nil, err
	}

	history, err := s.repo.ListClustersByUser(ctx, actor.ID)
	if err != nil {
		return nil, err
	}

	ranked := s.ranker.Rank(ranking.Request{
		UserID:     actor.ID,
		Origin:     q.Point,
		RadiusKm:   q.RadiusKm,
		Companions: ranking.Companions(actor.ID, history),
	}, clusters)

	if q.Limit > 0 && len(ranked) > q.Limit {
		ranked = ranked[:q.Limit]
	}
	return ranked, nil
}

func (s *Service) nearbyCandidates(ctx context.Context, q NearbyQuery) ([]*model.Cluster, error) {
	// Выборка шире q.Limit: окончательный порядок задаёт ранжирование.
	filter := repository.ClusterFilter{Kind: q.Kind, Center: &q.Point, RadiusKm: q.RadiusKm, Limit: repository.MaxListLimit}
	if s.geo == nil {
		return s.repo.ListOpenClusters(ctx, filter)
	}

	res, statusCode, retryAfter, err := s.geo.Nearby(ctx, q.Point, q.RadiusKm, q.Kind)
	switch {
	case err != nil:
		s.logger.Warn("geo search failed, falling back to storage", zap.Error(err))
		return s.repo.ListOpenClusters(ctx, filter)
	case statusCode == http.StatusTooManyRequests:
		s.logger.Warn("geo search throttled, falling back to storage", zap.Duration("retry_after", retryAfter))
		return s.repo.ListOpenClusters(ctx, filter)
	case statusCode == http.StatusNoContent || res == nil:
		return nil, nil
	}

	found, err := s.repo.GetClustersByIDs(ctx, res.ClusterIDs)
	if err != nil {
		return nil, err
	}

	// Индекс геопоиска может отставать от хранилища.
	clusters := found[:0]
	for _, c := range found {
		if !cluster.Accepting(c.Kind, c.Status) || (q.Kind != "" && c.Kind != q.Kind) {
			continue
		}
		clusters = append(clusters, c)
	}
	return clusters, nil
}
