package receiving

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Purchase order lifecycle statuses.
type POStatus string

const (
	// POStatusOpen is a draft vendor run, not yet ordered.
	POStatusOpen POStatus = "OPEN"
	// POStatusOrdered is a published PO awaiting receipt.
	POStatusOrdered POStatus = "ORDERED"
	// POStatusReceived is a fully received, closed PO.
	POStatusReceived POStatus = "RECEIVED"
)

// PurchaseOrder domain model.
type PurchaseOrder struct {
	ID        int64
	Vendor    string
	Number    string
	OrderedOn time.Time
	Status    POStatus
	Total     decimal.Decimal
}

// OrderRef links a PO line to a sales order that demanded part of it.
type OrderRef struct {
	OrderID     int64
	DemandedQty int
}

// Line is one (item, color, size) combination within a PO. ReceivedQty is
// derived from the receipt ledger on every read, never stored on the line.
type Line struct {
	Key         LineKey
	OrderedQty  int
	UnitCost    decimal.Decimal
	Orders      []OrderRef
	ReceivedQty int
}

// Short reports whether the line still awaits goods.
func (l Line) Short() bool {
	return l.ReceivedQty < l.OrderedQty
}

// ReceiptEvent is one append-only ledger entry. Entries are keyed by the
// human-facing PO number so receipt history survives internal id churn.
type ReceiptEvent struct {
	ID        int64
	PONumber  string
	LineID    string
	Qty       int
	ActorID   int64
	BatchID   string
	CreatedAt time.Time
}

// OrderDecision is the per-order outcome of a reconciliation pass.
type OrderDecision struct {
	Ready   bool `json:"ready"`
	Missing bool `json:"missing"`
}

// ReceiveResult summarises a reconciliation pass for the caller.
type ReceiveResult struct {
	POID          int64                   `json:"po_id"`
	PONumber      string                  `json:"po_number"`
	FullyReceived bool                    `json:"fully_received"`
	Orders        map[int64]OrderDecision `json:"orders"`
	Note          string                  `json:"note,omitempty"`
}

// POListItem is a row in the open-receiving worklist.
type POListItem struct {
	ID         int64     `json:"po_id"`
	Number     string    `json:"po_number"`
	Vendor     string    `json:"vendor"`
	Status     POStatus  `json:"status"`
	ItemsCount int       `json:"items_count"`
	CreatedAt  time.Time `json:"created"`
}

// DraftLine is one saved-but-unsubmitted receive count.
type DraftLine struct {
	LineID string `json:"po_line_id"`
	Qty    int    `json:"qty"`
}

var (
	// ErrNotFound indicates record missing.
	ErrNotFound = errors.New("receiving: not found")
	// ErrInvalidPayload indicates a batch with no usable deltas.
	ErrInvalidPayload = errors.New("receiving: invalid payload")
	// ErrUnauthenticated indicates a missing actor identity.
	ErrUnauthenticated = errors.New("receiving: actor required")
	// ErrInvalidState occurs when an action violates the status workflow.
	ErrInvalidState = errors.New("receiving: invalid state transition")
)
