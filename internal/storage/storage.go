package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/drstein77/farmcare/internal/models"
)

var (
	// ErrNotFound indicates that nothing was saved under a key.
	ErrNotFound = errors.New("not found")
	// ErrMalformed indicates a saved document that is not a cart.
	ErrMalformed = errors.New("malformed cart document")
	// ErrConflict indicates an order with the same id already exists.
	ErrConflict = errors.New("data conflict")
)

type Log interface {
	Info(string, ...zap.Field)
	Error(string, ...zap.Field)
}

// Keeper is durable key-value storage for serialized carts.
type Keeper interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, data []byte) error
	Ping(context.Context) bool
	Close() bool
}

// MemoryStorage is a process-local Keeper that also records submitted orders.
type MemoryStorage struct {
	mx sync.RWMutex

	data   map[string][]byte
	orders []models.Order
	log    Log
}

// NewMemoryStorage creates a new MemoryStorage instance
func NewMemoryStorage(log Log) *MemoryStorage {
	return &MemoryStorage{
		data: make(map[string][]byte),
		log:  log,
	}
}

func (ms *MemoryStorage) Load(_ context.Context, key string) ([]byte, error) {
	ms.mx.RLock()
	defer ms.mx.RUnlock()

	data, ok := ms.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func (ms *MemoryStorage) Save(_ context.Context, key string, data []byte) error {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	ms.data[key] = append([]byte(nil), data...)
	return nil
}

// SubmitOrder stores the order in memory.
func (ms *MemoryStorage) SubmitOrder(_ context.Context, order models.Order) error {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	for _, o := range ms.orders {
		if o.ID == order.ID {
			return fmt.Errorf("order %s: %w", order.ID, ErrConflict)
		}
	}
	ms.orders = append(ms.orders, order)
	ms.log.Info("order stored in memory", zap.String("order_id", order.ID), zap.Int("items", len(order.Items)))
	return nil
}

// Orders returns up to limit submitted orders, newest first. A limit <= 0
// returns all of them.
func (ms *MemoryStorage) Orders(_ context.Context, limit int) ([]models.Order, error) {
	ms.mx.RLock()
	defer ms.mx.RUnlock()

	n := len(ms.orders)
	if limit > 0 && limit < n {
		n = limit
	}
	orders := make([]models.Order, 0, n)
	for i := len(ms.orders) - 1; i >= 0 && len(orders) < n; i-- {
		orders = append(orders, ms.orders[i])
	}
	return orders, nil
}

// Order looks up a submitted order by id.
func (ms *MemoryStorage) Order(_ context.Context, id string) (*models.Order, error) {
	ms.mx.RLock()
	defer ms.mx.RUnlock()

	for _, o := range ms.orders {
		if o.ID == id {
			return &o, nil
		}
	}
	return nil, ErrNotFound
}

func (ms *MemoryStorage) Ping(context.Context) bool {
	return true
}

func (ms *MemoryStorage) Close() bool {
	ms.log.Info("memory storage closed")
	return true
}
