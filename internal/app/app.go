package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi"
	chimw "github.com/go-chi/chi/middleware"
	"go.uber.org/zap"

	"github.com/drstein77/farmcare/internal/cart"
	"github.com/drstein77/farmcare/internal/checkout"
	"github.com/drstein77/farmcare/internal/config"
	"github.com/drstein77/farmcare/internal/controllers"
	"github.com/drstein77/farmcare/internal/dbkeeper"
	"github.com/drstein77/farmcare/internal/logger"
	"github.com/drstein77/farmcare/internal/middleware"
	"github.com/drstein77/farmcare/internal/models"
	"github.com/drstein77/farmcare/internal/pricing"
	"github.com/drstein77/farmcare/internal/rediskeeper"
	"github.com/drstein77/farmcare/internal/storage"
)

// backend persists the cart, accepts placed orders and reads them back.
type backend interface {
	storage.Keeper
	checkout.OrderSubmitter
	Orders(ctx context.Context, limit int) ([]models.Order, error)
	Order(ctx context.Context, id string) (*models.Order, error)
}

type Server struct {
	Log *logger.Logger

	ctx    context.Context
	option *config.Options

	mu       sync.Mutex
	srv      *http.Server
	store    *cart.Store
	keeper   backend
	stopping bool
	stopped  chan struct{}
	stopOnce sync.Once
}

// NewServer parses the configuration and builds the logger
func NewServer(ctx context.Context) *Server {
	// create and initialize a new option instance
	option := config.NewOptions()
	option.ParseFlags()

	// get a new logger
	nLogger, err := logger.NewLogger(option.LogLevel())
	if err != nil {
		log.Fatalln(err)
	}

	return newServer(ctx, option, nLogger)
}

func newServer(ctx context.Context, option *config.Options, log *logger.Logger) *Server {
	return &Server{
		Log:     log,
		ctx:     ctx,
		option:  option,
		stopped: make(chan struct{}),
	}
}

// Serve wires the cart and starts the HTTP server. It returns once the
// server has been shut down.
func (server *Server) Serve() {
	keeper, err := newBackend(server.ctx, server.option, server.Log)
	if err != nil {
		server.Log.Error("Failed to initialize storage", zap.Error(err))
		return
	}

	store := cart.NewStore(keeper, cart.Config{
		Key:      server.option.CartKey(),
		Currency: server.option.Currency(),
	}, server.Log.With(zap.String("component", "cart")))

	// the cart is usable while the saved state loads
	go store.Hydrate(server.ctx)

	svc := checkout.NewService(store, keeper, policy(server.option), server.Log)

	// create router and mount routes
	srv := &http.Server{
		Addr:    server.option.RunAddr(),
		Handler: newRouter(store, svc, keeper, server.Log),
	}

	server.mu.Lock()
	if server.stopping {
		server.mu.Unlock()
		store.Close(context.Background())
		keeper.Close()
		return
	}
	server.srv = srv
	server.store = store
	server.keeper = keeper
	server.mu.Unlock()

	server.Log.Info("Starting server",
		zap.String("address", srv.Addr),
		zap.String("storage", server.option.StorageBackend()),
	)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		server.Log.Error("Server failed", zap.Error(err))
		server.Shutdown(5 * time.Second)
	}

	<-server.stopped
}

// Shutdown stops the HTTP server, writes the pending cart state and
// releases the storage.
func (server *Server) Shutdown(timeout time.Duration) {
	server.stopOnce.Do(func() {
		defer close(server.stopped)

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		server.mu.Lock()
		server.stopping = true
		srv, store, keeper := server.srv, server.store, server.keeper
		server.mu.Unlock()

		if srv != nil {
			if err := srv.Shutdown(ctx); err != nil {
				server.Log.Error("Failed to shutdown server", zap.Error(err))
			}
		}
		if store != nil {
			if err := store.Close(ctx); err != nil {
				server.Log.Error("Failed to save cart on shutdown", zap.Error(err))
			}
		}
		if keeper != nil {
			keeper.Close()
		}

		server.Log.Info("Server stopped")
		server.Log.Sync()
	})
}

func newRouter(store *cart.Store, svc *checkout.Service, keeper backend, log *logger.Logger) http.Handler {
	basecontr := controllers.NewBaseController(store, svc, keeper, log)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestLogger(log))
	r.Mount("/", basecontr.Route())
	return r
}

func newBackend(ctx context.Context, option *config.Options, log *logger.Logger) (backend, error) {
	switch option.StorageBackend() {
	case config.BackendMemory:
		return storage.NewMemoryStorage(log), nil

	case config.BackendRedis:
		kp := rediskeeper.NewRedisKeeper(option.RedisAddr(), option.RedisAttempts(), log)
		if err := kp.Initialize(ctx); err != nil {
			kp.Close()
			return nil, err
		}
		return kp, nil

	case config.BackendPostgres:
		if err := dbkeeper.Migrate(option.DataBaseDSN(), option.MigrationsDir(), log); err != nil {
			return nil, err
		}
		kp, err := dbkeeper.NewDBKeeper(ctx, option.DataBaseDSN, log)
		if err != nil {
			return nil, err
		}
		return kp, nil
	}

	return nil, fmt.Errorf("unknown storage backend %q", option.StorageBackend())
}

func policy(option *config.Options) checkout.Policy {
	currency := option.Currency()
	return checkout.Policy{
		FreeDeliveryThreshold: pricing.FromMajor(option.FreeDeliveryThreshold(), currency),
		DeliveryFee:           pricing.FromMajor(option.DeliveryFee(), currency),
		MinOrder:              pricing.FromMajor(option.OrderMinAmount(), currency),
		MaxOrder:              pricing.FromMajor(option.OrderMaxAmount(), currency),
	}
}
