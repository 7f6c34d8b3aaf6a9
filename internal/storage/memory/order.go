package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/xenking/tavolo/internal/domain/order"
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository is an in-memory order.Repository with the same observable
// semantics as the PostgreSQL one: newest-first listing, deep-copied reads
// and writes.
type OrderRepository struct {
	mu     sync.RWMutex
	orders map[string]*order.Order
}

// NewOrderRepository returns an empty in-memory order store.
func NewOrderRepository() *OrderRepository {
	return &OrderRepository{orders: make(map[string]*order.Order)}
}

// Create persists a new order.
func (r *OrderRepository) Create(_ context.Context, o *order.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders[o.ID] = cloneOrder(o)
	return nil
}

// Get returns the order with its line items.
func (r *OrderRepository) Get(_ context.Context, id string) (*order.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	return cloneOrder(o), nil
}

// Save replaces the stored order and its items.
func (r *OrderRepository) Save(_ context.Context, o *order.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.orders[o.ID]; !ok {
		return order.ErrNotFound
	}
	r.orders[o.ID] = cloneOrder(o)
	return nil
}

// List returns one page of orders, newest first.
func (r *OrderRepository) List(_ context.Context, f order.ListFilter) ([]order.Order, int, error) {
	r.mu.RLock()
	matched := make([]*order.Order, 0, len(r.orders))
	for _, o := range r.orders {
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		matched = append(matched, o)
	}
	r.mu.RUnlock()

	sortNewestFirst(matched)

	total := len(matched)
	start := (f.Page - 1) * f.PerPage
	if start > total {
		start = total
	}
	end := start + f.PerPage
	if end > total {
		end = total
	}

	page := make([]order.Order, 0, end-start)
	for _, o := range matched[start:end] {
		page = append(page, *cloneOrder(o))
	}
	return page, total, nil
}

// ListAll returns every order, newest first.
func (r *OrderRepository) ListAll(_ context.Context) ([]order.Order, error) {
	r.mu.RLock()
	all := make([]*order.Order, 0, len(r.orders))
	for _, o := range r.orders {
		all = append(all, o)
	}
	r.mu.RUnlock()

	sortNewestFirst(all)

	out := make([]order.Order, 0, len(all))
	for _, o := range all {
		out = append(out, *cloneOrder(o))
	}
	return out, nil
}

// Delete removes the order and its items.
func (r *OrderRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.orders[id]; !ok {
		return order.ErrNotFound
	}
	delete(r.orders, id)
	return nil
}

// DeleteAll removes every order.
func (r *OrderRepository) DeleteAll(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders = make(map[string]*order.Order)
	return nil
}

// NullMenuRefs clears the weak menu reference on every line item pointing at
// the deleted catalog item, mirroring the ON DELETE SET NULL FK. Wire it to
// MenuRepository.OnDelete.
func (r *OrderRepository) NullMenuRefs(menuItemID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.orders {
		for i := range o.Items {
			if o.Items[i].MenuItemID != nil && *o.Items[i].MenuItemID == menuItemID {
				o.Items[i].MenuItemID = nil
			}
		}
	}
}

func sortNewestFirst(orders []*order.Order) {
	sort.SliceStable(orders, func(i, j int) bool {
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})
}

func cloneOrder(o *order.Order) *order.Order {
	cp := *o
	cp.Items = make([]order.Item, len(o.Items))
	for i, item := range o.Items {
		cp.Items[i] = item
		if item.MenuItemID != nil {
			id := *item.MenuItemID
			cp.Items[i].MenuItemID = &id
		}
	}
	return &cp
}
