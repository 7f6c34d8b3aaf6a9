// Package memory implements the menu and order repositories in process
// memory. It backs unit and integration tests and dev-mode runs that have no
// PostgreSQL available; behavior mirrors the postgres package, including
// weak-reference nulling and cascade deletes.
package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/xenking/tavolo/internal/domain/menu"
)

var _ menu.Repository = (*MenuRepository)(nil)

// MenuRepository is an in-memory menu.Repository. Items keep catalog
// insertion order. An OnDelete hook lets the order repository null out weak
// references the way the SQL FK does.
type MenuRepository struct {
	mu    sync.RWMutex
	items []menu.Item

	// OnDelete, when set, is called with the deleted item's ID.
	OnDelete func(menuItemID string)
}

// NewMenuRepository returns an empty in-memory catalog.
func NewMenuRepository() *MenuRepository {
	return &MenuRepository{}
}

// List returns all items in insertion order.
func (r *MenuRepository) List(_ context.Context) ([]menu.Item, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]menu.Item(nil), r.items...), nil
}

// GetByID returns a single item by its identifier.
func (r *MenuRepository) GetByID(_ context.Context, id string) (*menu.Item, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i := range r.items {
		if r.items[i].ID == id {
			cp := r.items[i]
			return &cp, nil
		}
	}
	return nil, menu.ErrNotFound
}

// Upsert inserts the item, or updates in place when the name already exists
// so catalog position is preserved.
func (r *MenuRepository) Upsert(_ context.Context, item *menu.Item) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.items {
		if strings.EqualFold(r.items[i].Name, item.Name) {
			item.ID = r.items[i].ID
			r.items[i] = *item
			return nil
		}
	}
	r.items = append(r.items, *item)
	return nil
}

// Delete removes the item and fires the weak-reference hook.
func (r *MenuRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	idx := -1
	for i := range r.items {
		if r.items[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		r.mu.Unlock()
		return menu.ErrNotFound
	}
	r.items = append(r.items[:idx], r.items[idx+1:]...)
	hook := r.OnDelete
	r.mu.Unlock()

	if hook != nil {
		hook(id)
	}
	return nil
}

// ReplaceAll swaps the entire catalog. Every previous row is deleted before
// the new ones land, so the weak-reference hook fires for all old IDs, the
// same as the SQL delete-and-reinsert transaction.
func (r *MenuRepository) ReplaceAll(_ context.Context, items []menu.Item) error {
	r.mu.Lock()
	removed := make([]string, len(r.items))
	for i := range r.items {
		removed[i] = r.items[i].ID
	}
	r.items = append([]menu.Item(nil), items...)
	hook := r.OnDelete
	r.mu.Unlock()

	if hook != nil {
		for _, id := range removed {
			hook(id)
		}
	}
	return nil
}
