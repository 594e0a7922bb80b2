package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drstein77/farmcare/internal/pricing"
)

func TestProductFromLabel(t *testing.T) {
	t.Parallel()

	p, err := ProductFromLabel(" tom-1 ", "Tomatoes", "KES 120/kg", "KES", Flags{Latest: true})
	require.NoError(t, err)
	assert.Equal(t, "tom-1", p.ID)
	assert.Equal(t, pricing.New(12000, "KES"), p.Price)
	assert.Equal(t, "kg", p.Unit)
	assert.True(t, p.Flags.Latest)
	assert.Equal(t, "KES 120.00/kg", p.Label())
	assert.NoError(t, p.Validate("KES"))

	_, err = ProductFromLabel("x", "X", "call us", "KES", Flags{})
	assert.ErrorIs(t, err, ErrInvalidProduct)
}

func TestProductValidate(t *testing.T) {
	t.Parallel()

	valid := Product{ID: "a", Name: "A", Price: pricing.FromMajor(50, "KES")}

	tests := []struct {
		name   string
		mutate func(*Product)
		ok     bool
	}{
		{name: "valid", mutate: func(*Product) {}, ok: true},
		{name: "missing id", mutate: func(p *Product) { p.ID = " " }},
		{name: "missing name", mutate: func(p *Product) { p.Name = "" }},
		{name: "negative price", mutate: func(p *Product) { p.Price.Amount = -1 }},
		{name: "missing currency", mutate: func(p *Product) { p.Price.Currency = "" }},
		{name: "foreign currency", mutate: func(p *Product) { p.Price.Currency = "USD" }},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			p := valid
			tt.mutate(&p)
			err := p.Validate("KES")
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrInvalidProduct)
		})
	}
}

func TestCartItemLineTotal(t *testing.T) {
	t.Parallel()

	item := CartItem{Product: Product{Price: pricing.FromMajor(50, "KES")}, Quantity: 3}
	assert.Equal(t, int64(15000), item.LineTotal().Amount)
}

func TestPaymentMethodValid(t *testing.T) {
	t.Parallel()

	assert.True(t, PaymentMpesa.Valid())
	assert.True(t, PaymentCard.Valid())
	assert.True(t, PaymentCOD.Valid())
	assert.False(t, PaymentMethod("paypal").Valid())
	assert.False(t, PaymentMethod("").Valid())
}
