// Package ranking упорядочивает кластеры для рекомендаций пользователю.
package ranking

import (
	"cmp"
	"slices"

	"github.com/rajpalom13/move-meal-sub000/internal/cluster"
	"github.com/rajpalom13/move-meal-sub000/internal/geo"
	"github.com/rajpalom13/move-meal-sub000/internal/model"
)

// Weights задаёт вклад признаков в итоговую оценку.
type Weights struct {
	Distance float64
	Progress float64
	Overlap  float64
}

// DefaultWeights задаёт веса по умолчанию: близость важнее заполненности.
var DefaultWeights = Weights{Distance: 0.5, Progress: 0.3, Overlap: 0.2}

// Request описывает того, для кого строятся рекомендации.
type Request struct {
	UserID   int64
	Origin   model.Point
	RadiusKm float64
	// Companions содержит пользователей, с которыми UserID уже состоял в кластерах.
	Companions map[int64]struct{}
}

// Candidate описывает кластер с оценкой.
type Candidate struct {
	Cluster    *model.Cluster
	DistanceKm float64
	Score      float64
}

// Scorer ранжирует кластеры по заданным весам.
type Scorer struct {
	weights Weights
}

// NewScorer создаёт Scorer. Нулевые веса заменяются весами по умолчанию.
func NewScorer(w Weights) *Scorer {
	if w == (Weights{}) {
		w = DefaultWeights
	}
	return &Scorer{weights: w}
}

// Rank возвращает кластеры по убыванию оценки. Кластеры, в которых
// пользователь уже состоит, исключаются.
func (s *Scorer) Rank(req Request, clusters []*model.Cluster) []Candidate {
	res := make([]Candidate, 0, len(clusters))
	for _, c := range clusters {
		if _, member := c.Member(req.UserID); member {
			continue
		}
		d := geo.Haversine(req.Origin, c.Location)
		res = append(res, Candidate{
			Cluster:    c,
			DistanceKm: d,
			Score:      s.score(req, c, d),
		})
	}

	slices.SortStableFunc(res, func(a, b Candidate) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		if c := cmp.Compare(a.DistanceKm, b.DistanceKm); c != 0 {
			return c
		}
		return cmp.Compare(a.Cluster.ID, b.Cluster.ID)
	})
	return res
}

func (s *Scorer) score(req Request, c *model.Cluster, distanceKm float64) float64 {
	closeness := 1.0
	if req.RadiusKm > 0 {
		closeness = 1 - min(distanceKm/req.RadiusKm, 1)
	}

	progress := float64(cluster.ProgressPercent(c)) / 100

	overlap := 0.0
	if len(req.Companions) > 0 && len(c.Members) > 0 {
		known := 0
		for _, m := range c.Members {
			if _, ok := req.Companions[m.UserID]; ok {
				known++
			}
		}
		overlap = float64(known) / float64(len(c.Members))
	}

	return s.weights.Distance*closeness + s.weights.Progress*progress + s.weights.Overlap*overlap
}

// Companions собирает участников кластеров пользователя, кроме него самого.
func Companions(userID int64, history []*model.Cluster) map[int64]struct{} {
	res := make(map[int64]struct{})
	for _, c := range history {
		for _, m := range c.Members {
			if m.UserID != userID {
				res[m.UserID] = struct{}{}
			}
		}
	}
	return res
}
