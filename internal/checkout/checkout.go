package checkout

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/drstein77/farmcare/internal/cart"
	"github.com/drstein77/farmcare/internal/models"
	"github.com/drstein77/farmcare/internal/pricing"
)

var (
	ErrEmptyCart     = errors.New("cart is empty")
	ErrBelowMinimum  = errors.New("order is below the minimum amount")
	ErrAboveMaximum  = errors.New("order is above the maximum amount")
	ErrPaymentMethod = errors.New("unsupported payment method")
	ErrPhoneRequired = errors.New("phone number is required for M-Pesa")
	ErrInvalidPhone  = errors.New("invalid phone number")
	ErrSubmit        = errors.New("order submission failed")
)

// Kenyan mobile numbers: 07xx/01xx, optionally with +254 instead of 0.
var phonePattern = regexp.MustCompile(`^(\+254|0)?[17]\d{8}$`)

type Log interface {
	Info(string, ...zap.Field)
	Error(string, ...zap.Field)
}

// Cart is what checkout needs from the cart store.
type Cart interface {
	Snapshot() cart.Snapshot
	RemoveOrdered([]models.CartItem)
}

// OrderSubmitter hands a placed order to the backend.
type OrderSubmitter interface {
	SubmitOrder(ctx context.Context, order models.Order) error
}

// Policy holds delivery pricing and order bounds.
type Policy struct {
	FreeDeliveryThreshold pricing.Money
	DeliveryFee           pricing.Money
	MinOrder              pricing.Money
	MaxOrder              pricing.Money
}

// DefaultPolicy: delivery is free above 1000, otherwise 150; orders must
// be between 100 and 100000.
func DefaultPolicy(currency string) Policy {
	return Policy{
		FreeDeliveryThreshold: pricing.FromMajor(1000, currency),
		DeliveryFee:           pricing.FromMajor(150, currency),
		MinOrder:              pricing.FromMajor(100, currency),
		MaxOrder:              pricing.FromMajor(100000, currency),
	}
}

type Service struct {
	cart      Cart
	submitter OrderSubmitter
	policy    Policy
	log       Log

	// mu keeps two checkouts from submitting the same cart.
	mu    sync.Mutex
	now   func() time.Time
	newID func() string
}

func NewService(cart Cart, submitter OrderSubmitter, policy Policy, log Log) *Service {
	return &Service{
		cart:      cart,
		submitter: submitter,
		policy:    policy,
		log:       log,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// Quote prices the current cart.
func (s *Service) Quote() models.Quote {
	return s.quote(s.cart.Snapshot())
}

func (s *Service) quote(snap cart.Snapshot) models.Quote {
	subtotal := snap.Total
	fee := s.policy.DeliveryFee
	remaining := pricing.Zero(subtotal.Currency)
	if subtotal.Amount > s.policy.FreeDeliveryThreshold.Amount {
		fee = pricing.Zero(subtotal.Currency)
	} else {
		remaining = s.policy.FreeDeliveryThreshold.Sub(subtotal)
	}

	return models.Quote{
		Count:                 snap.Count,
		Subtotal:              subtotal,
		DeliveryFee:           fee,
		Total:                 subtotal.Add(fee),
		FreeDeliveryRemaining: remaining,
	}
}

// Checkout validates the request against a snapshot of the cart, submits
// the order and, once the submitter has accepted it, takes the ordered
// quantities off the cart. Items added while the order was in flight stay.
// On any error the cart is left as it was.
func (s *Service) Checkout(ctx context.Context, req models.CheckoutRequest) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	phone, err := validateRequest(req)
	if err != nil {
		return nil, err
	}

	snap := s.cart.Snapshot()
	if len(snap.Items) == 0 {
		return nil, ErrEmptyCart
	}

	q := s.quote(snap)
	switch {
	case q.Subtotal.Amount < s.policy.MinOrder.Amount:
		return nil, fmt.Errorf("%w: %s < %s", ErrBelowMinimum, q.Subtotal, s.policy.MinOrder)
	case s.policy.MaxOrder.Amount > 0 && q.Subtotal.Amount > s.policy.MaxOrder.Amount:
		return nil, fmt.Errorf("%w: %s > %s", ErrAboveMaximum, q.Subtotal, s.policy.MaxOrder)
	}

	order := models.Order{
		ID:            s.newID(),
		Items:         snap.Items,
		Subtotal:      q.Subtotal,
		DeliveryFee:   q.DeliveryFee,
		Total:         q.Total,
		PaymentMethod: req.PaymentMethod,
		Phone:         phone,
		Address:       strings.TrimSpace(req.Address),
		CartVersion:   snap.Version,
		CreatedAt:     s.now().UTC(),
	}

	if err := s.submitter.SubmitOrder(ctx, order); err != nil {
		s.log.Error("Failed to submit order", zap.String("order_id", order.ID), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrSubmit, err)
	}

	s.cart.RemoveOrdered(order.Items)
	s.log.Info("order placed",
		zap.String("order_id", order.ID),
		zap.Int("items", len(order.Items)),
		zap.String("total", order.Total.String()),
		zap.String("payment_method", string(order.PaymentMethod)),
	)
	return &order, nil
}

func validateRequest(req models.CheckoutRequest) (string, error) {
	if !req.PaymentMethod.Valid() {
		return "", fmt.Errorf("%w: %q", ErrPaymentMethod, req.PaymentMethod)
	}

	phone := strings.Join(strings.Fields(req.Phone), "")
	if req.PaymentMethod == models.PaymentMpesa && phone == "" {
		return "", ErrPhoneRequired
	}
	if phone != "" && !phonePattern.MatchString(phone) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPhone, req.Phone)
	}
	return phone, nil
}
