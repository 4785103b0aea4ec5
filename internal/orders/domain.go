// Package orders tracks sales orders through the goods pipeline: on hold
// while demand sits on a vendor run, on order once the run is published,
// and processing once every demanded line has arrived.
package orders

import (
	"errors"
	"time"
)

// Status is the order's position in the fulfilment pipeline.
type Status string

const (
	// StatusHold means the order waits for its goods to be ordered.
	StatusHold Status = "HOLD"
	// StatusOnOrder means at least one PO covers the order's demand.
	StatusOnOrder Status = "ON_ORDER"
	// StatusProcessing means all goods arrived and production may start.
	StatusProcessing Status = "PROCESSING"
)

// Order is a sales order header with its reconciliation flags.
type Order struct {
	ID                int64     `json:"id"`
	Customer          string    `json:"customer"`
	Status            Status    `json:"status"`
	ReadyForWorkOrder bool      `json:"ready_for_work_order"`
	MissingGoods      bool      `json:"missing_goods"`
	PONumbers         []string  `json:"po_numbers,omitempty"`
	CreatedAt         time.Time `json:"created"`
}

// OrderLine is one demanded garment position on an order.
type OrderLine struct {
	ID         int64  `json:"id"`
	OrderID    int64  `json:"order_id"`
	ItemCode   string `json:"item_code"`
	Color      string `json:"color"`
	Size       string `json:"size"`
	Qty        int    `json:"qty"`
	ArtworkURL string `json:"artwork_url,omitempty"`
	Note       string `json:"note,omitempty"`
}

// ErrNotFound indicates record missing.
var ErrNotFound = errors.New("orders: not found")
