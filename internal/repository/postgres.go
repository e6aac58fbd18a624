package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/rajpalom13/move-meal-sub000/internal/geo"
	"github.com/rajpalom13/move-meal-sub000/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const clusterColumns = `id, kind, title, creator_id, status, capacity_target, capacity_current,
	max_members, restricted, restricted_to, lat, lng, dest_lat, dest_lng, delivery_distance_km,
	delivery_fee, total_fare, fare_per_person, scheduled_at, created_at, updated_at, version`

const memberColumns = `cluster_id, user_id, position, joined_at, order_amount, items,
	pickup_lat, pickup_lng, address, collection_code, collected, collected_at`

var readOnlyTx = pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

var retryDelays = []time.Duration{100 * time.Millisecond, 300 * time.Millisecond, 1 * time.Second}

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	for i := 0; i <= len(retryDelays); i++ {
		err = fn()
		if err == nil || !retryable(err) || i == len(retryDelays) {
			return err
		}

		timer := time.NewTimer(retryDelays[i])
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}

	return isConnectionError(err)
}

func isConnectionError(err error) bool {
	// Упрощенная проверка на ошибки соединения
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// Ping проверяет доступность базы данных.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// CreateUser создаёт нового пользователя.
func (r *PostgresRepository) CreateUser(ctx context.Context, u *model.User) (int64, error) {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO users (email, name, gender, password_hash) VALUES ($1, $2, $3, $4) RETURNING id, created_at`,
		u.Email, u.Name, u.Gender, u.PasswordHash,
	).Scan(&u.ID, &u.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return 0, fmt.Errorf("%w: %s", ErrUserExists, u.Email)
		}
		return 0, fmt.Errorf("create user: %w", err)
	}
	return u.ID, nil
}

// GetUserByEmail возвращает пользователя по email.
func (r *PostgresRepository) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.getUser(ctx, `WHERE email = $1`, email)
}

// GetUserByID возвращает пользователя по идентификатору.
func (r *PostgresRepository) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	return r.getUser(ctx, `WHERE id = $1`, id)
}

func (r *PostgresRepository) getUser(ctx context.Context, where string, arg any) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, email, name, gender, password_hash, created_at FROM users `+where,
		arg,
	)

	var u model.User
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.Gender, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	return &u, nil
}

// CreateCluster сохраняет новый кластер с версией 1.
func (r *PostgresRepository) CreateCluster(ctx context.Context, c *model.Cluster) error {
	if err := checkSnapshot(c); err != nil {
		return err
	}

	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		var destLat, destLng *float64
		if c.Destination != nil {
			destLat, destLng = &c.Destination.Lat, &c.Destination.Lng
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO clusters (`+clusterColumns+`)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, 1)`,
			c.ID, string(c.Kind), c.Title, c.CreatorID, string(c.Status), c.Capacity.Target, c.Capacity.Current,
			c.MaxMembers, c.Restricted, c.RestrictedTo, c.Location.Lat, c.Location.Lng, destLat, destLng,
			c.DeliveryDistanceKm, int64(c.DeliveryFee), int64(c.TotalFare), int64(c.FarePerPerson),
			c.ScheduledAt, c.CreatedAt, c.UpdatedAt,
		)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
				return fmt.Errorf("%w: %s", ErrClusterExists, c.ID)
			}
			return fmt.Errorf("insert cluster: %w", err)
		}

		if err := insertMembers(ctx, tx, c); err != nil {
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	c.Version = 1
	return nil
}

// LoadCluster читает полный снимок кластера в одной транзакции только для чтения.
func (r *PostgresRepository) LoadCluster(ctx context.Context, id string) (*model.Cluster, error) {
	clusters, err := r.queryClusters(ctx, `SELECT `+clusterColumns+` FROM clusters WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	if len(clusters) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrClusterNotFound, id)
	}
	return clusters[0], nil
}

// CompareAndSwap записывает снимок, если версия кластера в базе равна expected.
// Строка кластера и состав участников заменяются в одной транзакции.
func (r *PostgresRepository) CompareAndSwap(ctx context.Context, expected int64, c *model.Cluster) error {
	if err := checkSnapshot(c); err != nil {
		return err
	}

	err := r.withRetry(ctx, func() error {
		return r.swap(ctx, expected, c)
	})
	if err != nil {
		return err
	}

	c.Version = expected + 1
	return nil
}

func (r *PostgresRepository) swap(ctx context.Context, expected int64, c *model.Cluster) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE clusters
		 SET title = $3, status = $4, capacity_target = $5, capacity_current = $6, max_members = $7,
		     restricted = $8, restricted_to = $9, delivery_fee = $10, total_fare = $11,
		     fare_per_person = $12, updated_at = $13, version = version + 1
		 WHERE id = $1 AND version = $2`,
		c.ID, expected, c.Title, string(c.Status), c.Capacity.Target, c.Capacity.Current, c.MaxMembers,
		c.Restricted, c.RestrictedTo, int64(c.DeliveryFee), int64(c.TotalFare),
		int64(c.FarePerPerson), c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update cluster: %w", err)
	}

	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM clusters WHERE id = $1)`, c.ID).Scan(&exists); err != nil {
			return fmt.Errorf("check cluster: %w", err)
		}
		if !exists {
			return fmt.Errorf("%w: %s", ErrClusterNotFound, c.ID)
		}
		return fmt.Errorf("%w: %s at version %d", ErrVersionConflict, c.ID, expected)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM cluster_members WHERE cluster_id = $1`, c.ID); err != nil {
		return fmt.Errorf("delete members: %w", err)
	}

	if err := insertMembers(ctx, tx, c); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func insertMembers(ctx context.Context, tx pgx.Tx, c *model.Cluster) error {
	batch := &pgx.Batch{}
	for i, m := range c.Members {
		batch.Queue(
			`INSERT INTO cluster_members (`+memberColumns+`)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			memberArgs(c.ID, i, m)...,
		)
	}

	br := tx.SendBatch(ctx, batch)
	for range c.Members {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("insert member: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("insert members: %w", err)
	}
	return nil
}

func memberArgs(clusterID string, position int, m model.Membership) []any {
	var (
		amount          *int64
		items, address  *string
		pickLat, pickLn *float64
		code            *string
	)
	switch p := m.Payload.(type) {
	case model.BasketPayload:
		v := int64(p.OrderAmount)
		amount, items = &v, &p.Items
	case model.RidePayload:
		pickLat, pickLn, address = &p.Pickup.Lat, &p.Pickup.Lng, &p.Address
	}
	if m.CollectionCode != "" {
		code = &m.CollectionCode
	}
	return []any{
		clusterID, m.UserID, position, m.JoinedAt, amount, items,
		pickLat, pickLn, address, code, m.Collected, m.CollectedAt,
	}
}

// ListOpenClusters возвращает кластеры, принимающие участников, с учётом фильтра.
func (r *PostgresRepository) ListOpenClusters(ctx context.Context, f ClusterFilter) ([]*model.Cluster, error) {
	query, args := buildOpenClustersQuery(f)
	clusters, err := r.queryClusters(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	res := clusters[:0]
	for _, c := range clusters {
		if f.matches(c) {
			res = append(res, c)
		}
	}
	return res, nil
}

func buildOpenClustersQuery(f ClusterFilter) (string, []any) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + clusterColumns + ` FROM clusters
		WHERE (status = 'open' OR (kind = 'basket' AND status = 'filled'))`)

	var args []any
	if f.Kind != "" {
		args = append(args, string(f.Kind))
		fmt.Fprintf(&sb, " AND kind = $%d", len(args))
	}
	if f.Center != nil && f.RadiusKm > 0 {
		box := geo.BoundingBox(*f.Center, f.RadiusKm)
		args = append(args, box.MinLat, box.MaxLat, box.MinLng, box.MaxLng)
		n := len(args)
		fmt.Fprintf(&sb, " AND lat BETWEEN $%d AND $%d AND lng BETWEEN $%d AND $%d", n-3, n-2, n-1, n)
	}
	if f.Center != nil {
		// Плоское приближение расстояния достаточно для упорядочивания в пределах радиуса.
		args = append(args, f.Center.Lat, f.Center.Lng)
		n := len(args)
		fmt.Fprintf(&sb, " ORDER BY power(lat - $%d, 2) + power((lng - $%d) * cos(radians($%d)), 2), id", n-1, n, n-1)
	} else {
		sb.WriteString(" ORDER BY created_at DESC, id")
	}
	args = append(args, f.limit())
	fmt.Fprintf(&sb, " LIMIT $%d", len(args))

	return sb.String(), args
}

// GetClustersByIDs возвращает найденные кластеры в порядке переданных идентификаторов.
func (r *PostgresRepository) GetClustersByIDs(ctx context.Context, ids []string) ([]*model.Cluster, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	clusters, err := r.queryClusters(ctx, `SELECT `+clusterColumns+` FROM clusters WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	return orderByIDs(clusters, ids), nil
}

// ListClustersByUser возвращает кластеры, в которых состоит пользователь, начиная с новых.
func (r *PostgresRepository) ListClustersByUser(ctx context.Context, userID int64) ([]*model.Cluster, error) {
	return r.queryClusters(ctx,
		`SELECT `+clusterColumns+` FROM clusters
		 WHERE id IN (SELECT cluster_id FROM cluster_members WHERE user_id = $1)
		 ORDER BY created_at DESC`,
		userID,
	)
}

// queryClusters читает кластеры и их участников в одной транзакции, чтобы
// снимок не смешивал состояния до и после параллельной записи.
func (r *PostgresRepository) queryClusters(ctx context.Context, query string, args ...any) ([]*model.Cluster, error) {
	var res []*model.Cluster
	err := r.withRetry(ctx, func() error {
		res = nil

		tx, err := r.pool.BeginTx(ctx, readOnlyTx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		rows, err := tx.Query(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("select clusters: %w", err)
		}

		byID := make(map[string]*model.Cluster)
		var ids []string
		for rows.Next() {
			c, err := scanCluster(rows)
			if err != nil {
				rows.Close()
				return err
			}
			res = append(res, c)
			byID[c.ID] = c
			ids = append(ids, c.ID)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("rows error: %w", err)
		}

		if len(ids) > 0 {
			if err := loadMembers(ctx, tx, ids, byID); err != nil {
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func loadMembers(ctx context.Context, tx pgx.Tx, ids []string, byID map[string]*model.Cluster) error {
	rows, err := tx.Query(ctx,
		`SELECT `+memberColumns+` FROM cluster_members
		 WHERE cluster_id = ANY($1)
		 ORDER BY cluster_id, position`,
		ids,
	)
	if err != nil {
		return fmt.Errorf("select members: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			clusterID       string
			position        int
			m               model.Membership
			amount          *int64
			items, address  *string
			pickLat, pickLn *float64
			code            *string
		)
		if err := rows.Scan(&clusterID, &m.UserID, &position, &m.JoinedAt, &amount, &items,
			&pickLat, &pickLn, &address, &code, &m.Collected, &m.CollectedAt); err != nil {
			return fmt.Errorf("scan member: %w", err)
		}

		c, ok := byID[clusterID]
		if !ok {
			continue
		}
		switch c.Kind {
		case model.KindBasket:
			p := model.BasketPayload{}
			if amount != nil {
				p.OrderAmount = model.Money(*amount)
			}
			if items != nil {
				p.Items = *items
			}
			m.Payload = p
		case model.KindRide:
			p := model.RidePayload{}
			if pickLat != nil && pickLn != nil {
				p.Pickup = model.Point{Lat: *pickLat, Lng: *pickLn}
			}
			if address != nil {
				p.Address = *address
			}
			m.Payload = p
		}
		if code != nil {
			m.CollectionCode = *code
		}
		if m.CollectedAt != nil {
			t := m.CollectedAt.UTC()
			m.CollectedAt = &t
		}
		m.JoinedAt = m.JoinedAt.UTC()
		c.Members = append(c.Members, m)
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("rows error: %w", err)
	}
	return nil
}

func scanCluster(row pgx.Row) (*model.Cluster, error) {
	var (
		c                model.Cluster
		kind, status     string
		destLat, destLng *float64
		fee, total, per  int64
	)
	err := row.Scan(&c.ID, &kind, &c.Title, &c.CreatorID, &status, &c.Capacity.Target, &c.Capacity.Current,
		&c.MaxMembers, &c.Restricted, &c.RestrictedTo, &c.Location.Lat, &c.Location.Lng, &destLat, &destLng,
		&c.DeliveryDistanceKm, &fee, &total, &per, &c.ScheduledAt, &c.CreatedAt, &c.UpdatedAt, &c.Version)
	if err != nil {
		return nil, fmt.Errorf("scan cluster: %w", err)
	}

	c.Kind = model.Kind(kind)
	c.Status = model.Status(status)
	c.DeliveryFee, c.TotalFare, c.FarePerPerson = model.Money(fee), model.Money(total), model.Money(per)
	if destLat != nil && destLng != nil {
		c.Destination = &model.Point{Lat: *destLat, Lng: *destLng}
	}
	c.ScheduledAt = c.ScheduledAt.UTC()
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	c.Members = []model.Membership{}
	return &c, nil
}

func orderByIDs(clusters []*model.Cluster, ids []string) []*model.Cluster {
	byID := make(map[string]*model.Cluster, len(clusters))
	for _, c := range clusters {
		byID[c.ID] = c
	}
	res := make([]*model.Cluster, 0, len(clusters))
	for _, id := range ids {
		if c, ok := byID[id]; ok {
			res = append(res, c)
			delete(byID, id)
		}
	}
	return res
}
