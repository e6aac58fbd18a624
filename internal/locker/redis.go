package locker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// releaseScript удаляет ключ, только если он всё ещё принадлежит владельцу.
var releaseScript = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('DEL', KEYS[1])
	end
	return 0
`)

// RedisOptions задаёт параметры распределённой блокировки.
type RedisOptions struct {
	Prefix string
	// TTL ограничивает время владения, если процесс упал, не освободив ключ.
	TTL  time.Duration
	Wait time.Duration
	// Poll задаёт паузу между попытками захвата.
	Poll time.Duration
}

// Redis реализует блокировку, разделяемую несколькими экземплярами сервиса.
type Redis struct {
	client *redis.Client
	opts   RedisOptions
	logger *zap.Logger
}

// NewRedis создаёт распределённый Locker поверх Redis.
func NewRedis(client *redis.Client, opts RedisOptions, logger *zap.Logger) *Redis {
	if opts.Prefix == "" {
		opts.Prefix = "movemeal:lock"
	}
	if opts.TTL <= 0 {
		opts.TTL = 10 * time.Second
	}
	if opts.Poll <= 0 {
		opts.Poll = 20 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Redis{client: client, opts: opts, logger: logger}
}

// Acquire захватывает блокировку командой SET NX PX, опрашивая Redis до
// истечения времени ожидания.
func (r *Redis) Acquire(ctx context.Context, key string) (func(), error) {
	redisKey := r.opts.Prefix + ":" + key
	token := uuid.NewString()

	var deadline <-chan time.Time
	if r.opts.Wait > 0 {
		timer := time.NewTimer(r.opts.Wait)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		ok, err := r.client.SetNX(ctx, redisKey, token, r.opts.TTL).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire %s: %w", key, err)
		}
		if ok {
			break
		}

		select {
		case <-time.After(r.opts.Poll):
		case <-deadline:
			return nil, fmt.Errorf("%w: %s", ErrLockTimeout, key)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := releaseScript.Run(ctx, r.client, []string{redisKey}, token).Err(); err != nil {
				r.logger.Warn("release lock failed", zap.String("key", key), zap.Error(err))
			}
		})
	}, nil
}
