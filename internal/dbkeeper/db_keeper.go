package dbkeeper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/drstein77/farmcare/internal/models"
	"github.com/drstein77/farmcare/internal/pricing"
	"github.com/drstein77/farmcare/internal/storage"
)

type Log interface {
	Info(string, ...zap.Field)
	Error(string, ...zap.Field)
}

// DBKeeper stores carts and orders in PostgreSQL.
type DBKeeper struct {
	pool *pgxpool.Pool
	log  Log
}

func NewDBKeeper(ctx context.Context, dsn func() string, log Log) (*DBKeeper, error) {
	addr := dsn()
	if addr == "" {
		return nil, errors.New("database dsn is empty")
	}

	config, err := pgxpool.ParseConfig(addr)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database DSN: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}

	log.Info("Connected!")

	return &DBKeeper{
		pool: pool,
		log:  log,
	}, nil
}

func (kp *DBKeeper) Load(ctx context.Context, key string) ([]byte, error) {
	if kp.pool == nil {
		return nil, fmt.Errorf("database connection pool is nil")
	}

	var value []byte
	err := kp.pool.QueryRow(ctx, `SELECT value FROM cart_kv WHERE key = $1`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to load %s: %w", key, err)
	}
	return value, nil
}

func (kp *DBKeeper) Save(ctx context.Context, key string, data []byte) error {
	if kp.pool == nil {
		return fmt.Errorf("database connection pool is nil")
	}

	stmt := `
		INSERT INTO cart_kv (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
	`
	if _, err := kp.pool.Exec(ctx, stmt, key, data); err != nil {
		return fmt.Errorf("failed to save %s: %w", key, err)
	}
	return nil
}

// SubmitOrder inserts the order and its lines in one transaction.
func (kp *DBKeeper) SubmitOrder(ctx context.Context, order models.Order) (err error) {
	if kp.pool == nil {
		return fmt.Errorf("database connection pool is nil")
	}

	tx, err := kp.pool.Begin(ctx)
	if err != nil {
		kp.log.Error("Failed to begin transaction", zap.Error(err))
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
				kp.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
			}
		}
	}()

	tag, err := tx.Exec(ctx, `
		INSERT INTO orders (id, subtotal, delivery_fee, total, currency, payment_method, phone, address, cart_version, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING
	`, order.ID, order.Subtotal.Amount, order.DeliveryFee.Amount, order.Total.Amount, order.Total.Currency,
		string(order.PaymentMethod), order.Phone, order.Address, int64(order.CartVersion), order.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		err = fmt.Errorf("order %s: %w", order.ID, storage.ErrConflict)
		return err
	}

	stmt := `
		INSERT INTO order_items (order_id, line, product_id, name, unit_price, unit, quantity)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	batch := &pgx.Batch{}
	for i, item := range order.Items {
		batch.Queue(stmt, order.ID, i, item.ID, item.Name, item.Price.Amount, item.Unit, item.Quantity)
	}

	br := tx.SendBatch(ctx, batch)
	for range order.Items {
		if _, execErr := br.Exec(); execErr != nil {
			br.Close()
			err = fmt.Errorf("failed to execute batch query: %w", execErr)
			return err
		}
	}
	if closeErr := br.Close(); closeErr != nil {
		err = fmt.Errorf("failed to close batch results: %w", closeErr)
		return err
	}

	if commitErr := tx.Commit(ctx); commitErr != nil {
		err = fmt.Errorf("failed to commit transaction: %w", commitErr)
		return err
	}

	kp.log.Info("Order successfully inserted", zap.String("order_id", order.ID), zap.Int("items", len(order.Items)))
	return nil
}

const orderColumns = `id, subtotal, delivery_fee, total, currency, payment_method, phone, address, cart_version, created_at`

// Orders returns up to limit submitted orders with their lines, newest
// first. A limit <= 0 returns all of them.
func (kp *DBKeeper) Orders(ctx context.Context, limit int) ([]models.Order, error) {
	if kp.pool == nil {
		return nil, fmt.Errorf("database connection pool is nil")
	}

	query := `SELECT ` + orderColumns + ` FROM orders ORDER BY created_at DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := kp.pool.Query(ctx, query, args...)
	if err != nil {
		kp.log.Error("Failed to execute query", zap.Error(err))
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", rows.Err())
	}

	for i := range orders {
		if orders[i].Items, err = kp.orderItems(ctx, orders[i].ID, orders[i].Total.Currency); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

// Order looks up a submitted order by id.
func (kp *DBKeeper) Order(ctx context.Context, id string) (*models.Order, error) {
	if kp.pool == nil {
		return nil, fmt.Errorf("database connection pool is nil")
	}

	row := kp.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}

	if order.Items, err = kp.orderItems(ctx, order.ID, order.Total.Currency); err != nil {
		return nil, err
	}
	return &order, nil
}

func (kp *DBKeeper) orderItems(ctx context.Context, orderID, currency string) ([]models.CartItem, error) {
	rows, err := kp.pool.Query(ctx, `
		SELECT product_id, name, unit_price, unit, quantity
		FROM order_items WHERE order_id = $1 ORDER BY line
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to query order items: %w", err)
	}
	defer rows.Close()

	items := []models.CartItem{}
	for rows.Next() {
		var (
			item  models.CartItem
			price int64
		)
		if err := rows.Scan(&item.ID, &item.Name, &price, &item.Unit, &item.Quantity); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		item.Price = pricing.New(price, currency)
		items = append(items, item)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", rows.Err())
	}
	return items, nil
}

func scanOrder(row pgx.Row) (models.Order, error) {
	var (
		order                        models.Order
		subtotal, deliveryFee, total int64
		currency, method             string
		cartVersion                  int64
	)
	err := row.Scan(&order.ID, &subtotal, &deliveryFee, &total, &currency, &method,
		&order.Phone, &order.Address, &cartVersion, &order.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Order{}, err
		}
		return models.Order{}, fmt.Errorf("failed to scan row: %w", err)
	}

	order.Subtotal = pricing.New(subtotal, currency)
	order.DeliveryFee = pricing.New(deliveryFee, currency)
	order.Total = pricing.New(total, currency)
	order.PaymentMethod = models.PaymentMethod(method)
	order.CartVersion = uint64(cartVersion)
	order.CreatedAt = order.CreatedAt.UTC()
	return order, nil
}

func (kp *DBKeeper) Ping(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := kp.pool.Ping(ctx); err != nil {
		kp.log.Error("Database ping failed", zap.Error(err))
		return false
	}

	return true
}

func (kp *DBKeeper) Close() bool {
	if kp.pool != nil {
		kp.pool.Close()
		kp.log.Info("Database connection pool closed")
		return true
	}
	kp.log.Info("Attempted to close a nil database connection pool")
	return false
}
