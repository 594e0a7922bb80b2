package controllers

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drstein77/farmcare/internal/cart"
	"github.com/drstein77/farmcare/internal/checkout"
	"github.com/drstein77/farmcare/internal/logger"
	"github.com/drstein77/farmcare/internal/models"
	"github.com/drstein77/farmcare/internal/pricing"
	"github.com/drstein77/farmcare/internal/storage"
)

type failingSubmitter struct{}

func (failingSubmitter) SubmitOrder(context.Context, models.Order) error {
	return fmt.Errorf("backend down")
}

type fixture struct {
	store  *cart.Store
	mem    *storage.MemoryStorage
	router http.Handler
}

func newFixture(t *testing.T, submitter checkout.OrderSubmitter) *fixture {
	t.Helper()

	log := logger.Nop()
	mem := storage.NewMemoryStorage(log)
	store := cart.NewStore(mem, cart.Config{Currency: "KES"}, log)
	t.Cleanup(func() { store.Close(context.Background()) })
	store.Hydrate(context.Background())

	if submitter == nil {
		submitter = mem
	}
	svc := checkout.NewService(store, submitter, checkout.DefaultPolicy("KES"), log)

	return &fixture{
		store:  store,
		mem:    mem,
		router: NewBaseController(store, svc, mem, log).Route(),
	}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeCart(t *testing.T, rec *httptest.ResponseRecorder) cartView {
	t.Helper()

	var v cartView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestAddItem(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/api/v0/cart/items", `{"id":"tom-1","name":"Tomatoes","label":"KES 120/kg","flags":{"latest":true}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/api/v0/cart/items", `{"id":"tom-1","name":"Tomatoes","price":"120","unit":"kg"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	v := decodeCart(t, rec)
	require.Len(t, v.Items, 1)
	assert.Equal(t, 2, v.Items[0].Quantity)
	assert.Equal(t, "KES 120.00/kg", v.Items[0].Label)
	assert.Equal(t, int64(24000), v.Items[0].LineTotal.Amount)
	assert.True(t, v.Items[0].Flags.Latest)
	assert.Equal(t, 2, v.Count)
	assert.Equal(t, "KES 240.00", v.TotalLabel)
	assert.False(t, v.Hydrating)
}

func TestAddItem_Rejected(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "bad json", body: `{"id":`},
		{name: "no price", body: `{"id":"a","name":"A"}`},
		{name: "bad label", body: `{"id":"a","name":"A","label":"free"}`},
		{name: "no id", body: `{"name":"A","price":10}`},
		{name: "negative", body: `{"id":"a","name":"A","price":-1}`},
		{name: "foreign currency", body: `{"id":"a","name":"A","price":10,"currency":"USD"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)

			rec := f.do(t, http.MethodPost, "/api/v0/cart/items", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Empty(t, f.store.Items())
		})
	}
}

func TestItemMutations(t *testing.T) {
	f := newFixture(t, nil)

	f.do(t, http.MethodPost, "/api/v0/cart/items", `{"id":"tom-1","name":"Tomatoes","price":120,"unit":"kg"}`)
	f.do(t, http.MethodPost, "/api/v0/cart/items", `{"id":"kal-1","name":"Kale","price":30,"unit":"bunch"}`)

	rec := f.do(t, http.MethodPut, "/api/v0/cart/items/kal-1", `{"quantity":4}`)
	require.Equal(t, http.StatusOK, rec.Code)
	v := decodeCart(t, rec)
	assert.Equal(t, 5, v.Count)
	assert.Equal(t, int64(24000), v.Total.Amount)

	rec = f.do(t, http.MethodPost, "/api/v0/cart/items/kal-1/decrease", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 4, decodeCart(t, rec).Count)

	rec = f.do(t, http.MethodDelete, "/api/v0/cart/items/tom-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	v = decodeCart(t, rec)
	require.Len(t, v.Items, 1)
	assert.Equal(t, "kal-1", v.Items[0].ID)

	rec = f.do(t, http.MethodPut, "/api/v0/cart/items/kal-1", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPut, "/api/v0/cart/items/kal-1", `{"quantity":9223372036854775}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 3, f.store.Count())

	rec = f.do(t, http.MethodPut, "/api/v0/cart/items/kal-1", `{"quantity":0}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeCart(t, rec).Items)

	f.do(t, http.MethodPost, "/api/v0/cart/items", `{"id":"tom-1","name":"Tomatoes","price":120}`)
	rec = f.do(t, http.MethodDelete, "/api/v0/cart", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, decodeCart(t, rec).Count)
}

func TestGetQuote(t *testing.T) {
	f := newFixture(t, nil)
	f.do(t, http.MethodPost, "/api/v0/cart/items", `{"id":"tom-1","name":"Tomatoes","price":120}`)

	rec := f.do(t, http.MethodGet, "/api/v0/cart/quote", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var q quoteView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &q))
	assert.Equal(t, int64(12000), q.Subtotal.Amount)
	assert.Equal(t, int64(15000), q.DeliveryFee.Amount)
	assert.Equal(t, "KES 270.00", q.TotalLabel)
	assert.False(t, q.FreeDelivery)
}

func TestPostCheckout(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/api/v0/checkout", `{"payment_method":"cod"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	f.do(t, http.MethodPost, "/api/v0/cart/items", `{"id":"tom-1","name":"Tomatoes","price":120}`)

	rec = f.do(t, http.MethodPost, "/api/v0/checkout", `{"payment_method":"mpesa"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v0/checkout", `{"payment_method":"mpesa","phone":"0712 345 678","address":"Nakuru"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var order models.Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &order))
	assert.Equal(t, "0712345678", order.Phone)
	assert.Equal(t, int64(27000), order.Total.Amount)
	assert.Empty(t, f.store.Items())

	rec = f.do(t, http.MethodGet, "/api/v0/orders", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var orders []models.Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &orders))
	require.Len(t, orders, 1)
	assert.Equal(t, order.ID, orders[0].ID)

	rec = f.do(t, http.MethodGet, "/api/v0/orders/"+order.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got models.Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, order.Total, got.Total)
}

func TestGetOrders(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/api/v0/orders", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/v0/orders?limit=x", "").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/v0/orders?limit=0", "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/v0/orders/missing", "").Code)
}

func TestPostCheckout_SubmitFailure(t *testing.T) {
	f := newFixture(t, failingSubmitter{})
	f.do(t, http.MethodPost, "/api/v0/cart/items", `{"id":"tom-1","name":"Tomatoes","price":120}`)

	rec := f.do(t, http.MethodPost, "/api/v0/checkout", `{"payment_method":"card"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Len(t, f.store.Items(), 1)
}

func TestPing(t *testing.T) {
	f := newFixture(t, nil)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/ping", "").Code)
}

func TestCompressedResponse(t *testing.T) {
	f := newFixture(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v0/cart", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))
}

func TestCartEvents(t *testing.T) {
	f := newFixture(t, nil)
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v0/cart/events", nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	events := bufio.NewReader(resp.Body)

	first := readEvent(t, events)
	assert.Equal(t, 0, first.Count)

	f.store.AddItem(models.Product{ID: "tom-1", Name: "Tomatoes", Price: pricing.FromMajor(120, "KES"), Unit: "kg"})
	f.store.UpdateQuantity("tom-1", 3)

	// intermediate states may be skipped, the last one always arrives
	for {
		ev := readEvent(t, events)
		if ev.Version == 2 {
			assert.Equal(t, 3, ev.Count)
			break
		}
		require.Less(t, ev.Version, uint64(2))
	}
}

func readEvent(t *testing.T, r *bufio.Reader) cartView {
	t.Helper()

	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		if data, ok := strings.CutPrefix(strings.TrimSpace(line), "data: "); ok {
			var v cartView
			require.NoError(t, json.Unmarshal([]byte(data), &v))
			return v
		}
	}
}
