package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/drstein77/farmcare/internal/models"
	"github.com/drstein77/farmcare/internal/pricing"
)

// cartRecord is the persisted shape of one line item. Flags sit at the top
// level to stay readable by carts saved before ids and amounts existed.
type cartRecord struct {
	ID            string `json:"id,omitempty"`
	Name          string `json:"name"`
	Price         string `json:"price"`
	Amount        *int64 `json:"amount,omitempty"`
	Currency      string `json:"currency,omitempty"`
	Unit          string `json:"unit,omitempty"`
	Quantity      int    `json:"quantity"`
	MostPurchased bool   `json:"mostPurchased,omitempty"`
	Latest        bool   `json:"latest,omitempty"`
}

// EncodeCart serializes items as a JSON array.
func EncodeCart(items []models.CartItem) ([]byte, error) {
	records := make([]cartRecord, 0, len(items))
	for _, item := range items {
		amount := item.Price.Amount
		records = append(records, cartRecord{
			ID:            item.ID,
			Name:          item.Name,
			Price:         item.Label(),
			Amount:        &amount,
			Currency:      item.Price.Currency,
			Unit:          item.Unit,
			Quantity:      item.Quantity,
			MostPurchased: item.Flags.MostPurchased,
			Latest:        item.Flags.Latest,
		})
	}

	data, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("failed to encode cart: %w", err)
	}
	return data, nil
}

// DecodeCart parses a document written by EncodeCart or by older clients.
// Anything whose top-level value is not an array yields ErrMalformed.
// Entries that cannot be items or are priced in another currency are
// skipped. Duplicate ids are merged, capped at models.MaxQuantity.
func DecodeCart(data []byte, currency string) ([]models.CartItem, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, ErrMalformed
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	items := make([]models.CartItem, 0, len(raw))
	index := make(map[string]int, len(raw))
	for _, entry := range raw {
		var rec cartRecord
		if err := json.Unmarshal(entry, &rec); err != nil {
			continue
		}
		item, ok := rec.item(currency)
		if !ok {
			continue
		}
		if i, dup := index[item.ID]; dup {
			items[i].Quantity = min(items[i].Quantity+item.Quantity, models.MaxQuantity)
			continue
		}
		index[item.ID] = len(items)
		items = append(items, item)
	}
	return items, nil
}

func (rec cartRecord) item(cartCurrency string) (models.CartItem, bool) {
	if rec.Name == "" || rec.Quantity <= 0 {
		return models.CartItem{}, false
	}

	id := rec.ID
	if id == "" {
		id = rec.Name
	}

	currency := cartCurrency
	if rec.Currency != "" {
		currency = rec.Currency
	}

	var (
		price pricing.Money
		unit  = rec.Unit
	)
	switch {
	case rec.Amount != nil:
		price = pricing.New(*rec.Amount, currency)
	default:
		if label, err := pricing.ParseLabel(rec.Price, currency); err == nil {
			price = label.Price
			if unit == "" {
				unit = label.Unit
			}
		} else {
			price = pricing.ParseLenient(rec.Price, currency)
		}
	}
	if price.Amount < 0 {
		return models.CartItem{}, false
	}
	if cartCurrency != "" && !strings.EqualFold(price.Currency, strings.TrimSpace(cartCurrency)) {
		return models.CartItem{}, false
	}

	return models.CartItem{
		Product: models.Product{
			ID:    id,
			Name:  rec.Name,
			Price: price,
			Unit:  unit,
			Flags: models.Flags{MostPurchased: rec.MostPurchased, Latest: rec.Latest},
		},
		Quantity: min(rec.Quantity, models.MaxQuantity),
	}, true
}
