package repository

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rajpalom13/move-meal-sub000/internal/geo"
	"github.com/rajpalom13/move-meal-sub000/internal/model"
)

// MemoryRepository хранит данные в памяти процесса. Снимки копируются на
// входе и на выходе, поэтому вызывающий код не может изменить хранилище
// в обход CompareAndSwap.
type MemoryRepository struct {
	mu       sync.RWMutex
	clusters map[string]*model.Cluster
	users    map[int64]*model.User
	emails   map[string]int64
	nextUser int64
	now      func() time.Time
}

// NewMemoryRepository создаёт пустое хранилище в памяти.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		clusters: make(map[string]*model.Cluster),
		users:    make(map[int64]*model.User),
		emails:   make(map[string]int64),
		now:      time.Now,
	}
}

// Close ничего не делает.
func (r *MemoryRepository) Close() error { return nil }

// Ping всегда успешен.
func (r *MemoryRepository) Ping(context.Context) error { return nil }

// CreateUser создаёт нового пользователя.
func (r *MemoryRepository) CreateUser(ctx context.Context, u *model.User) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := strings.ToLower(u.Email)
	if _, ok := r.emails[key]; ok {
		return 0, fmt.Errorf("%w: %s", ErrUserExists, u.Email)
	}

	r.nextUser++
	u.ID = r.nextUser
	u.CreatedAt = r.now().UTC()

	stored := *u
	stored.PasswordHash = slices.Clone(u.PasswordHash)
	r.users[u.ID] = &stored
	r.emails[key] = u.ID
	return u.ID, nil
}

// GetUserByEmail возвращает пользователя по email.
func (r *MemoryRepository) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.emails[strings.ToLower(email)]
	if !ok {
		return nil, ErrUserNotFound
	}
	u := *r.users[id]
	return &u, nil
}

// GetUserByID возвращает пользователя по идентификатору.
func (r *MemoryRepository) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

// CreateCluster сохраняет новый кластер с версией 1.
func (r *MemoryRepository) CreateCluster(ctx context.Context, c *model.Cluster) error {
	if err := checkSnapshot(c); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.clusters[c.ID]; ok {
		return fmt.Errorf("%w: %s", ErrClusterExists, c.ID)
	}
	c.Version = 1
	r.clusters[c.ID] = c.Clone()
	return nil
}

// LoadCluster возвращает копию снимка кластера.
func (r *MemoryRepository) LoadCluster(ctx context.Context, id string) (*model.Cluster, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.clusters[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrClusterNotFound, id)
	}
	return c.Clone(), nil
}

// CompareAndSwap заменяет снимок, если сохранённая версия равна expected.
func (r *MemoryRepository) CompareAndSwap(ctx context.Context, expected int64, c *model.Cluster) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkSnapshot(c); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.clusters[c.ID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrClusterNotFound, c.ID)
	}
	if cur.Version != expected {
		return fmt.Errorf("%w: %s at version %d, stored %d", ErrVersionConflict, c.ID, expected, cur.Version)
	}

	c.Version = expected + 1
	r.clusters[c.ID] = c.Clone()
	return nil
}

// ListOpenClusters возвращает кластеры, принимающие участников, с учётом фильтра.
func (r *MemoryRepository) ListOpenClusters(ctx context.Context, f ClusterFilter) ([]*model.Cluster, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var res []*model.Cluster
	for _, c := range r.clusters {
		if f.matches(c) {
			res = append(res, c.Clone())
		}
	}
	if f.Center != nil {
		sortNearestFirst(res, *f.Center)
	} else {
		sortNewestFirst(res)
	}
	if len(res) > f.limit() {
		res = res[:f.limit()]
	}
	return res, nil
}

// GetClustersByIDs возвращает найденные кластеры в порядке переданных идентификаторов.
func (r *MemoryRepository) GetClustersByIDs(ctx context.Context, ids []string) ([]*model.Cluster, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	res := make([]*model.Cluster, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		c, ok := r.clusters[id]
		if _, dup := seen[id]; !ok || dup {
			continue
		}
		seen[id] = struct{}{}
		res = append(res, c.Clone())
	}
	return res, nil
}

// ListClustersByUser возвращает кластеры, в которых состоит пользователь, начиная с новых.
func (r *MemoryRepository) ListClustersByUser(ctx context.Context, userID int64) ([]*model.Cluster, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var res []*model.Cluster
	for _, c := range r.clusters {
		if _, ok := c.Member(userID); ok {
			res = append(res, c.Clone())
		}
	}
	sortNewestFirst(res)
	return res, nil
}

func sortNewestFirst(clusters []*model.Cluster) {
	slices.SortFunc(clusters, func(a, b *model.Cluster) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}

func sortNearestFirst(clusters []*model.Cluster, center model.Point) {
	slices.SortFunc(clusters, func(a, b *model.Cluster) int {
		if c := cmp.Compare(geo.Haversine(center, a.Location), geo.Haversine(center, b.Location)); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}
