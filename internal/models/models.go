package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/drstein77/farmcare/internal/pricing"
)

// ErrInvalidProduct is returned when a catalog descriptor fails validation.
var ErrInvalidProduct = errors.New("invalid product")

// Flags is display metadata carried through the cart untouched.
type Flags struct {
	MostPurchased bool `json:"mostPurchased,omitempty"`
	Latest        bool `json:"latest,omitempty"`
}

// Product is an immutable catalog descriptor handed to the cart.
// ID is the line-item identity; Name is for display only.
type Product struct {
	ID    string        `json:"id"`
	Name  string        `json:"name"`
	Price pricing.Money `json:"price"`
	Unit  string        `json:"unit,omitempty"`
	Flags Flags         `json:"flags"`
}

// ProductFromLabel builds a Product from a legacy display price such as
// "KES 120/kg".
func ProductFromLabel(id, name, label, currency string, flags Flags) (Product, error) {
	parsed, err := pricing.ParseLabel(label, currency)
	if err != nil {
		return Product{}, fmt.Errorf("%w: %v", ErrInvalidProduct, err)
	}
	return Product{
		ID:    strings.TrimSpace(id),
		Name:  strings.TrimSpace(name),
		Price: parsed.Price,
		Unit:  parsed.Unit,
		Flags: flags,
	}, nil
}

// Validate checks the descriptor at the catalog boundary. currency is the
// cart currency; an empty value accepts any.
func (p Product) Validate(currency string) error {
	switch {
	case strings.TrimSpace(p.ID) == "":
		return fmt.Errorf("%w: id is required", ErrInvalidProduct)
	case strings.TrimSpace(p.Name) == "":
		return fmt.Errorf("%w: name is required", ErrInvalidProduct)
	case p.Price.Amount < 0:
		return fmt.Errorf("%w: price must not be negative", ErrInvalidProduct)
	case p.Price.Currency == "":
		return fmt.Errorf("%w: currency is required", ErrInvalidProduct)
	case currency != "" && !strings.EqualFold(p.Price.Currency, currency):
		return fmt.Errorf("%w: currency %s does not match cart currency %s", ErrInvalidProduct, p.Price.Currency, currency)
	}
	return nil
}

// Label renders the price the way the catalog displays it.
func (p Product) Label() string {
	return pricing.FormatLabel(p.Price, p.Unit)
}

// MaxQuantity caps the quantity of a single cart line.
const MaxQuantity = 999

// CartItem is a product line with its quantity. Quantity is always >= 1
// while the item is in a cart.
type CartItem struct {
	Product
	Quantity int `json:"quantity"`
}

// LineTotal is price times quantity.
func (i CartItem) LineTotal() pricing.Money {
	return i.Price.Mul(i.Quantity)
}

type PaymentMethod string

const (
	PaymentMpesa PaymentMethod = "mpesa"
	PaymentCard  PaymentMethod = "card"
	PaymentCOD   PaymentMethod = "cod"
)

// Valid reports whether m is a supported payment method.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMpesa, PaymentCard, PaymentCOD:
		return true
	}
	return false
}

// Quote is the price breakdown shown before an order is placed.
type Quote struct {
	Count                 int           `json:"count"`
	Subtotal              pricing.Money `json:"subtotal"`
	DeliveryFee           pricing.Money `json:"delivery_fee"`
	Total                 pricing.Money `json:"total"`
	FreeDeliveryRemaining pricing.Money `json:"free_delivery_remaining"`
}

// CheckoutRequest carries the customer's checkout choices.
type CheckoutRequest struct {
	PaymentMethod PaymentMethod `json:"payment_method"`
	Phone         string        `json:"phone,omitempty"`
	Address       string        `json:"address,omitempty"`
}

// Order is a submitted checkout.
type Order struct {
	ID            string        `json:"id"`
	Items         []CartItem    `json:"items"`
	Subtotal      pricing.Money `json:"subtotal"`
	DeliveryFee   pricing.Money `json:"delivery_fee"`
	Total         pricing.Money `json:"total"`
	PaymentMethod PaymentMethod `json:"payment_method"`
	Phone         string        `json:"phone,omitempty"`
	Address       string        `json:"address,omitempty"`
	CartVersion   uint64        `json:"cart_version"`
	CreatedAt     time.Time     `json:"created_at"`
}
