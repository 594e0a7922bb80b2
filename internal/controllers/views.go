package controllers

import (
	"github.com/drstein77/farmcare/internal/cart"
	"github.com/drstein77/farmcare/internal/models"
	"github.com/drstein77/farmcare/internal/pricing"
)

type itemView struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Price     pricing.Money `json:"price"`
	Label     string        `json:"label"`
	Unit      string        `json:"unit,omitempty"`
	Flags     models.Flags  `json:"flags"`
	Quantity  int           `json:"quantity"`
	LineTotal pricing.Money `json:"line_total"`
}

type cartView struct {
	Version    uint64        `json:"version"`
	Items      []itemView    `json:"items"`
	Count      int           `json:"count"`
	Total      pricing.Money `json:"total"`
	TotalLabel string        `json:"total_label"`
	Hydrating  bool          `json:"hydrating"`
}

func newCartView(snap cart.Snapshot) cartView {
	items := make([]itemView, 0, len(snap.Items))
	for _, it := range snap.Items {
		items = append(items, itemView{
			ID:        it.ID,
			Name:      it.Name,
			Price:     it.Price,
			Label:     it.Label(),
			Unit:      it.Unit,
			Flags:     it.Flags,
			Quantity:  it.Quantity,
			LineTotal: it.LineTotal(),
		})
	}

	return cartView{
		Version:    snap.Version,
		Items:      items,
		Count:      snap.Count,
		Total:      snap.Total,
		TotalLabel: snap.Total.String(),
		Hydrating:  snap.Hydrating,
	}
}

type quoteView struct {
	models.Quote
	TotalLabel   string `json:"total_label"`
	FreeDelivery bool   `json:"free_delivery"`
}

func newQuoteView(q models.Quote) quoteView {
	return quoteView{
		Quote:        q,
		TotalLabel:   q.Total.String(),
		FreeDelivery: q.DeliveryFee.IsZero(),
	}
}
