// Package repository содержит хранилища кластеров и пользователей:
// PostgreSQL для продуктивной работы и хранилище в памяти.
//
// Оба хранилища реализуют одинаковую семантику: снимок кластера читается
// целиком и записывается целиком через CompareAndSwap по номеру версии.
package repository

import (
	"errors"
	"fmt"

	"github.com/rajpalom13/move-meal-sub000/internal/cluster"
	"github.com/rajpalom13/move-meal-sub000/internal/geo"
	"github.com/rajpalom13/move-meal-sub000/internal/model"
)

var (
	// ErrUserExists возвращается при попытке создать пользователя с уже существующим email.
	ErrUserExists = errors.New("user already exists")
	// ErrUserNotFound возвращается, если пользователь не найден.
	ErrUserNotFound = errors.New("user not found")
	// ErrClusterNotFound возвращается, если кластер не найден.
	ErrClusterNotFound = errors.New("cluster not found")
	// ErrClusterExists возвращается при повторном создании кластера с тем же идентификатором.
	ErrClusterExists = errors.New("cluster already exists")
	// ErrVersionConflict возвращается, если кластер изменился после чтения снимка.
	ErrVersionConflict = errors.New("cluster version conflict")
)

// ClusterFilter ограничивает выборку открытых кластеров. При заданном центре
// кластеры упорядочены по удалённости, иначе начиная с новых.
type ClusterFilter struct {
	Kind     model.Kind
	Center   *model.Point
	RadiusKm float64
	Limit    int
}

const defaultListLimit = 50

// MaxListLimit ограничивает размер одной выборки открытых кластеров.
const MaxListLimit = 500

func (f ClusterFilter) limit() int {
	if f.Limit <= 0 {
		return defaultListLimit
	}
	return min(f.Limit, MaxListLimit)
}

// checkSnapshot проверяет инварианты снимка перед записью.
func checkSnapshot(c *model.Cluster) error {
	if len(c.Members) == 0 || c.Members[0].UserID != c.CreatorID {
		return fmt.Errorf("cluster %s: creator must be the first member", c.ID)
	}
	if len(c.Members) > c.MaxMembers {
		return fmt.Errorf("cluster %s: %d members exceed limit %d", c.ID, len(c.Members), c.MaxMembers)
	}
	if got := cluster.Recompute(c); got != c.Capacity.Current {
		return fmt.Errorf("cluster %s: capacity %d does not match members (%d)", c.ID, c.Capacity.Current, got)
	}
	active := make(map[string]struct{}, len(c.Members))
	for _, m := range c.Members {
		if m.CollectionCode == "" || m.Collected {
			continue
		}
		if _, dup := active[m.CollectionCode]; dup {
			return fmt.Errorf("cluster %s: duplicate active collection code", c.ID)
		}
		active[m.CollectionCode] = struct{}{}
	}
	return nil
}

// matches сообщает, попадает ли кластер в выборку открытых.
func (f ClusterFilter) matches(c *model.Cluster) bool {
	if !cluster.Accepting(c.Kind, c.Status) {
		return false
	}
	if f.Kind != "" && c.Kind != f.Kind {
		return false
	}
	if f.Center != nil && f.RadiusKm > 0 {
		return geo.Haversine(*f.Center, c.Location) <= f.RadiusKm
	}
	return true
}
