package rediskeeper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/drstein77/farmcare/internal/models"
	"github.com/drstein77/farmcare/internal/storage"
)

// OrdersKey is the hash that holds submitted orders, keyed by order id.
const OrdersKey = "farmcare:orders"

const maxBackoff = 30 * time.Second

type Log interface {
	Info(string, ...zap.Field)
	Error(string, ...zap.Field)
}

// RedisKeeper stores carts as plain string values in Redis.
type RedisKeeper struct {
	client   *redis.Client
	log      Log
	attempts int
}

// NewRedisKeeper accepts either a redis:// URL or a bare host[:port].
func NewRedisKeeper(redisAddr string, attempts int, log Log) *RedisKeeper {
	opts, err := redis.ParseURL(redisAddr)
	if err != nil {
		if !strings.Contains(redisAddr, ":") {
			redisAddr += ":6379"
		}
		opts = &redis.Options{
			Addr:         redisAddr,
			MinIdleConns: 1,
			MaxRetries:   3,
			DialTimeout:  10 * time.Second,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
			PoolSize:     10,
			PoolTimeout:  4 * time.Second,
			IdleTimeout:  180 * time.Second,
		}
	}
	if attempts < 1 {
		attempts = 1
	}

	return &RedisKeeper{
		client:   redis.NewClient(opts),
		log:      log,
		attempts: attempts,
	}
}

// Initialize waits for Redis to answer, backing off exponentially.
func (r *RedisKeeper) Initialize(ctx context.Context) error {
	for i := 0; i < r.attempts; i++ {
		if r.Ping(ctx) {
			r.log.Info("RedisKeeper initialized", zap.Int("attempt", i+1))
			return nil
		}
		if i == r.attempts-1 {
			break
		}

		backoff := time.Duration(100*(1<<uint(i))) * time.Millisecond
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
		r.log.Info("RedisKeeper: waiting before next attempt", zap.Duration("backoff", backoff))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}

	return fmt.Errorf("failed to connect to Redis after %d attempts", r.attempts)
}

func (r *RedisKeeper) Load(ctx context.Context, key string) ([]byte, error) {
	val, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("redis GET %s: %w", key, err)
	}
	return val, nil
}

func (r *RedisKeeper) Save(ctx context.Context, key string, data []byte) error {
	if err := r.client.Set(ctx, key, data, 0).Err(); err != nil {
		return fmt.Errorf("redis SET %s: %w", key, err)
	}
	return nil
}

// SubmitOrder stores the order as JSON in OrdersKey. Existing ids are
// rejected with storage.ErrConflict.
func (r *RedisKeeper) SubmitOrder(ctx context.Context, order models.Order) error {
	data, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("failed to encode order: %w", err)
	}

	created, err := r.client.HSetNX(ctx, OrdersKey, order.ID, data).Result()
	if err != nil {
		return fmt.Errorf("redis HSETNX %s: %w", OrdersKey, err)
	}
	if !created {
		return fmt.Errorf("order %s: %w", order.ID, storage.ErrConflict)
	}

	r.log.Info("order stored in redis", zap.String("order_id", order.ID))
	return nil
}

// Order reads back a submitted order.
func (r *RedisKeeper) Order(ctx context.Context, id string) (*models.Order, error) {
	val, err := r.client.HGet(ctx, OrdersKey, id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("redis HGET %s: %w", OrdersKey, err)
	}

	var order models.Order
	if err := json.Unmarshal(val, &order); err != nil {
		return nil, fmt.Errorf("failed to decode order %s: %w", id, err)
	}
	return &order, nil
}

// Orders returns up to limit submitted orders, newest first. A limit <= 0
// returns all of them.
func (r *RedisKeeper) Orders(ctx context.Context, limit int) ([]models.Order, error) {
	vals, err := r.client.HVals(ctx, OrdersKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis HVALS %s: %w", OrdersKey, err)
	}

	orders := make([]models.Order, 0, len(vals))
	for _, val := range vals {
		var order models.Order
		if err := json.Unmarshal([]byte(val), &order); err != nil {
			r.log.Error("Skipping undecodable order", zap.Error(err))
			continue
		}
		orders = append(orders, order)
	}

	sort.Slice(orders, func(i, j int) bool {
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})
	if limit > 0 && len(orders) > limit {
		orders = orders[:limit]
	}
	return orders, nil
}

func (r *RedisKeeper) Ping(ctx context.Context) bool {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := r.client.Ping(pingCtx).Err(); err != nil {
		r.log.Error("Redis ping failed", zap.Error(err))
		return false
	}
	return true
}

func (r *RedisKeeper) Close() bool {
	if err := r.client.Close(); err != nil {
		r.log.Error("Failed to close redis client", zap.Error(err))
		return false
	}
	r.log.Info("Redis client closed")
	return true
}
