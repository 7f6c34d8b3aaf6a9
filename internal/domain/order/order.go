package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested order does not exist.
var ErrNotFound = errors.New("order not found")

// ErrInvalidStatus is returned when a status transition names an unknown
// lifecycle state.
var ErrInvalidStatus = errors.New("invalid order status")

// Status is the lifecycle state of an order. Conversational flows always
// create orders as StatusPending; transitions are an administrative action.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusPreparing Status = "preparing"
	StatusReady     Status = "ready"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusPreparing, StatusReady, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Item is one line of an order. Name and UnitPrice are snapshots taken from
// the catalog when the line was created; later catalog edits never touch
// them. MenuItemID is a weak back-reference that becomes nil if the catalog
// item is deleted.
type Item struct {
	ID                  string
	OrderID             string
	MenuItemID          *string
	Name                string
	UnitPrice           decimal.Decimal
	Quantity            int
	SpecialInstructions string
}

// LineTotal returns quantity times the unit price snapshot.
func (i Item) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Order is the aggregate root for a customer order. Total is derived from
// the line items and recomputed after every mutation; it is never accepted
// from caller input.
type Order struct {
	ID                  string
	CustomerName        string
	SpecialInstructions string
	Status              Status
	Total               decimal.Decimal
	Items               []Item
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// RecomputeTotal recalculates Total as the exact decimal sum of all line
// totals.
func (o *Order) RecomputeTotal() {
	total := decimal.Zero
	for _, item := range o.Items {
		total = total.Add(item.LineTotal())
	}
	o.Total = total.Round(2)
}

// ListFilter selects and pages the order list. Orders are always sorted by
// CreatedAt descending before paging.
type ListFilter struct {
	Status  Status // empty matches all
	Page    int    // 1-based
	PerPage int
}

// Repository defines persistence operations for orders and their line items.
// Save persists the order row together with its current line items as one
// atomic write.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	Save(ctx context.Context, o *Order) error
	List(ctx context.Context, f ListFilter) ([]Order, int, error)
	ListAll(ctx context.Context) ([]Order, error)
	Delete(ctx context.Context, id string) error
	DeleteAll(ctx context.Context) error
}
