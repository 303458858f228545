package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	redis "github.com/redis/go-redis/v9"

	"possale/backend/internal/domain"
)

func NewRedisClient(addr string, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// versionTTL outlives any single read, so an expired counter never lets a
// stale Set through.
const versionTTL = 24 * time.Hour

var errStaleVersion = errors.New("sale version moved")

func saleKey(saleID int64) string {
	return fmt.Sprintf("pos:sale:%d", saleID)
}

func versionKey(saleID int64) string {
	return saleKey(saleID) + ":ver"
}

type RedisSaleCache struct {
	client *redis.Client
}

func NewRedisSaleCache(client *redis.Client) *RedisSaleCache {
	return &RedisSaleCache{client: client}
}

func (c *RedisSaleCache) Get(ctx context.Context, saleID int64) (*domain.Sale, bool, error) {
	val, err := c.client.Get(ctx, saleKey(saleID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var sale domain.Sale
	if err := json.Unmarshal([]byte(val), &sale); err != nil {
		return nil, false, err
	}
	return &sale, true, nil
}

func (c *RedisSaleCache) Version(ctx context.Context, saleID int64) (int64, error) {
	version, err := c.client.Get(ctx, versionKey(saleID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return version, err
}

// Set writes sale under WATCH on its version key. A version that moved, or
// a transaction aborted by a concurrent Delete, is a silent skip.
func (c *RedisSaleCache) Set(ctx context.Context, sale *domain.Sale, version int64, ttl time.Duration) error {
	if sale == nil {
		return nil
	}
	payload, err := json.Marshal(sale)
	if err != nil {
		return err
	}

	verKey := versionKey(sale.ID)
	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, verKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != version {
			return errStaleVersion
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, saleKey(sale.ID), payload, ttl)
			return nil
		})
		return err
	}, verKey)
	if errors.Is(err, errStaleVersion) || errors.Is(err, redis.TxFailedErr) {
		return nil
	}
	return err
}

func (c *RedisSaleCache) Delete(ctx context.Context, saleID int64) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, versionKey(saleID))
		pipe.Expire(ctx, versionKey(saleID), versionTTL)
		pipe.Del(ctx, saleKey(saleID))
		return nil
	})
	return err
}

type RedisSaleLocker struct {
	locker *redislock.Client
	ttl    time.Duration
}

func NewRedisSaleLocker(client *redis.Client, ttl time.Duration) *RedisSaleLocker {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &RedisSaleLocker{locker: redislock.New(client), ttl: ttl}
}

// Lock waits briefly for the per-sale lock and gives up with ErrLocked.
func (l *RedisSaleLocker) Lock(ctx context.Context, saleID int64) (func(), error) {
	lock, err := l.locker.Obtain(ctx, saleKey(saleID)+":lock", l.ttl, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(50*time.Millisecond), 20),
	})
	if errors.Is(err, redislock.ErrNotObtained) {
		return func() {}, ErrLocked
	}
	if err != nil {
		return func() {}, err
	}
	return func() {
		// The request context may already be done; release on a fresh one.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = lock.Release(releaseCtx)
	}, nil
}
