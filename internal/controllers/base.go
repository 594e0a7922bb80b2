package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/drstein77/farmcare/internal/cart"
	"github.com/drstein77/farmcare/internal/checkout"
	"github.com/drstein77/farmcare/internal/middleware"
	"github.com/drstein77/farmcare/internal/models"
	"github.com/drstein77/farmcare/internal/pricing"
	"github.com/drstein77/farmcare/internal/storage"
)

// Cart interface for cart operations
type Cart interface {
	Currency() string
	AddItem(models.Product)
	UpdateQuantity(id string, quantity int)
	RemoveItem(id string)
	DecreaseQuantity(id string)
	Clear()
	Snapshot() cart.Snapshot
	Subscribe(cart.Listener) func()
}

// Checkout interface for pricing and placing orders
type Checkout interface {
	Quote() models.Quote
	Checkout(context.Context, models.CheckoutRequest) (*models.Order, error)
}

// Storage interface for storage health and placed orders
type Storage interface {
	Ping(context.Context) bool
	Orders(ctx context.Context, limit int) ([]models.Order, error)
	Order(ctx context.Context, id string) (*models.Order, error)
}

const (
	defaultOrdersLimit = 20
	maxOrdersLimit     = 100
)

// Log interface for logging
type Log interface {
	Info(string, ...zapcore.Field)
	Error(string, ...zapcore.Field)
}

// BaseController struct for handling requests
type BaseController struct {
	cart     Cart
	checkout Checkout
	storage  Storage
	log      Log
}

// NewBaseController creates a new BaseController instance
func NewBaseController(cart Cart, checkout Checkout, storage Storage, log Log) *BaseController {
	instance := &BaseController{
		cart:     cart,
		checkout: checkout,
		storage:  storage,
		log:      log,
	}

	return instance
}

// Route sets up the routes for the BaseController
func (h *BaseController) Route() *chi.Mux {
	r := chi.NewRouter()

	r.Group(func(r chi.Router) {
		r.Use(middleware.DecompressRequestMiddleware)
		r.Use(middleware.CompressResponseMiddleware)

		r.Get("/api/v0/cart", h.getCart)
		r.Delete("/api/v0/cart", h.clearCart)
		r.Post("/api/v0/cart/items", h.addItem)
		r.Put("/api/v0/cart/items/{id}", h.updateItem)
		r.Post("/api/v0/cart/items/{id}/decrease", h.decreaseItem)
		r.Delete("/api/v0/cart/items/{id}", h.removeItem)
		r.Get("/api/v0/cart/quote", h.getQuote)
		r.Post("/api/v0/checkout", h.postCheckout)
		r.Get("/api/v0/orders", h.getOrders)
		r.Get("/api/v0/orders/{id}", h.getOrder)
	})

	// event streams must not be buffered by the gzip writer
	r.Group(func(r chi.Router) {
		r.Get("/api/v0/cart/events", h.cartEvents)
		r.Get("/ping", h.ping)
	})

	return r
}

type addItemRequest struct {
	ID       string           `json:"id"`
	Name     string           `json:"name"`
	Label    string           `json:"label"`
	Price    *decimal.Decimal `json:"price"`
	Currency string           `json:"currency"`
	Unit     string           `json:"unit"`
	Flags    models.Flags     `json:"flags"`
}

// product builds the catalog descriptor. A structured price wins over a label.
func (req addItemRequest) product(cartCurrency string) (models.Product, error) {
	currency := req.Currency
	if currency == "" {
		currency = cartCurrency
	}

	var p models.Product
	switch {
	case req.Price != nil:
		p = models.Product{
			ID:    strings.TrimSpace(req.ID),
			Name:  strings.TrimSpace(req.Name),
			Price: pricing.FromDecimal(*req.Price, currency),
			Unit:  strings.TrimSpace(req.Unit),
			Flags: req.Flags,
		}
	case req.Label != "":
		var err error
		p, err = models.ProductFromLabel(req.ID, req.Name, req.Label, currency, req.Flags)
		if err != nil {
			return models.Product{}, err
		}
		if unit := strings.TrimSpace(req.Unit); unit != "" {
			p.Unit = unit
		}
	default:
		return models.Product{}, fmt.Errorf("%w: price or label is required", models.ErrInvalidProduct)
	}

	if err := p.Validate(cartCurrency); err != nil {
		return models.Product{}, err
	}
	return p, nil
}

type updateItemRequest struct {
	Quantity *int `json:"quantity"`
}

func (h *BaseController) getCart(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, newCartView(h.cart.Snapshot()))
}

func (h *BaseController) clearCart(w http.ResponseWriter, r *http.Request) {
	h.cart.Clear()
	writeJSON(w, http.StatusOK, newCartView(h.cart.Snapshot()))
}

func (h *BaseController) addItem(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var req addItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Failed to decode request: %v", err), http.StatusBadRequest)
		return
	}

	p, err := req.product(h.cart.Currency())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	h.cart.AddItem(p)
	writeJSON(w, http.StatusOK, newCartView(h.cart.Snapshot()))
}

func (h *BaseController) updateItem(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var req updateItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Failed to decode request: %v", err), http.StatusBadRequest)
		return
	}
	if req.Quantity == nil {
		http.Error(w, "quantity is required", http.StatusBadRequest)
		return
	}
	if *req.Quantity > models.MaxQuantity {
		http.Error(w, fmt.Sprintf("quantity must not exceed %d", models.MaxQuantity), http.StatusBadRequest)
		return
	}

	h.cart.UpdateQuantity(chi.URLParam(r, "id"), *req.Quantity)
	writeJSON(w, http.StatusOK, newCartView(h.cart.Snapshot()))
}

func (h *BaseController) decreaseItem(w http.ResponseWriter, r *http.Request) {
	h.cart.DecreaseQuantity(chi.URLParam(r, "id"))
	writeJSON(w, http.StatusOK, newCartView(h.cart.Snapshot()))
}

func (h *BaseController) removeItem(w http.ResponseWriter, r *http.Request) {
	h.cart.RemoveItem(chi.URLParam(r, "id"))
	writeJSON(w, http.StatusOK, newCartView(h.cart.Snapshot()))
}

func (h *BaseController) getQuote(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, newQuoteView(h.checkout.Quote()))
}

func (h *BaseController) postCheckout(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var req models.CheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Failed to decode request: %v", err), http.StatusBadRequest)
		return
	}

	order, err := h.checkout.Checkout(r.Context(), req)
	if err != nil {
		http.Error(w, err.Error(), checkoutStatus(err))
		return
	}

	writeJSON(w, http.StatusCreated, order)
}

func (h *BaseController) getOrders(w http.ResponseWriter, r *http.Request) {
	limit := defaultOrdersLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, maxOrdersLimit)
	}

	orders, err := h.storage.Orders(r.Context(), limit)
	if err != nil {
		h.log.Error("Failed to retrieve orders", zap.Error(err))
		http.Error(w, fmt.Sprintf("Failed to retrieve orders: %v", err), http.StatusInternalServerError)
		return
	}
	if orders == nil {
		orders = []models.Order{}
	}

	writeJSON(w, http.StatusOK, orders)
}

func (h *BaseController) getOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.storage.Order(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "Order not found", http.StatusNotFound)
			return
		}
		h.log.Error("Failed to retrieve order", zap.Error(err))
		http.Error(w, fmt.Sprintf("Failed to retrieve order: %v", err), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, order)
}

func checkoutStatus(err error) int {
	switch {
	case errors.Is(err, checkout.ErrSubmit):
		return http.StatusBadGateway
	case errors.Is(err, checkout.ErrEmptyCart),
		errors.Is(err, checkout.ErrBelowMinimum),
		errors.Is(err, checkout.ErrAboveMaximum),
		errors.Is(err, checkout.ErrPaymentMethod),
		errors.Is(err, checkout.ErrPhoneRequired),
		errors.Is(err, checkout.ErrInvalidPhone):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

// cartEvents streams a snapshot on connect and after every change. Slow
// readers skip intermediate states and always receive the newest one.
func (h *BaseController) cartEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	updates := make(chan cart.Snapshot, 1)
	cancel := h.cart.Subscribe(func(snap cart.Snapshot) {
		// listeners run one at a time, so draining and refilling is safe
		select {
		case <-updates:
		default:
		}
		updates <- snap
	})
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	last := h.cart.Snapshot()
	if err := writeEvent(w, last); err != nil {
		return
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case snap := <-updates:
			if snap.Version < last.Version {
				continue
			}
			last = snap
			if err := writeEvent(w, snap); err != nil {
				h.log.Error("Failed to write cart event", zap.Error(err))
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, snap cart.Snapshot) error {
	data, err := json.Marshal(newCartView(snap))
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: cart\nid: %d\ndata: %s\n\n", snap.Version, data)
	return err
}

func (h *BaseController) ping(w http.ResponseWriter, r *http.Request) {
	if h.storage == nil || !h.storage.Ping(r.Context()) {
		http.Error(w, "Storage is unavailable", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
