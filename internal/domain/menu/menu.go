package menu

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested menu item does not exist.
var ErrNotFound = errors.New("menu item not found")

// Item represents a purchasable catalog entry. The embedding is a semantic
// vector computed from the item's name and description; nil means it has not
// been computed yet and the item is invisible to similarity search.
type Item struct {
	ID          string
	Name        string
	Description string
	Price       decimal.Decimal
	Embedding   []float32
}

// EmbeddingText returns the text the item's embedding is computed from.
// Whenever name or description changes, the embedding must be recomputed
// from this exact text.
func (i Item) EmbeddingText() string {
	return i.Name + " " + i.Description
}

// Repository defines persistence operations for the menu catalog.
// List returns items in catalog insertion order, which callers rely on for
// stable search result ordering.
type Repository interface {
	List(ctx context.Context) ([]Item, error)
	GetByID(ctx context.Context, id string) (*Item, error)
	Upsert(ctx context.Context, item *Item) error
	Delete(ctx context.Context, id string) error
	ReplaceAll(ctx context.Context, items []Item) error
}
