package order

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/xenking/tavolo/internal/domain/menu"
)

// Action is the kind of mutation a Change applies to an order.
type Action string

const (
	ActionAdd    Action = "add"
	ActionRemove Action = "remove"
	ActionModify Action = "modify"
)

// Change is a normalized request to mutate one line of an order. Query is
// free text that the add action resolves against the catalog; remove and
// modify match against the order's own line item name snapshots.
type Change struct {
	Action              Action
	Query               string
	Quantity            int
	SpecialInstructions string
}

// Outcome classifies the result of applying a single change.
type Outcome string

const (
	// OutcomeApplied means the change mutated the order.
	OutcomeApplied Outcome = "applied"
	// OutcomeNotFound means no catalog item or line item matched; the order
	// is untouched.
	OutcomeNotFound Outcome = "not_found"
	// OutcomeUnavailable means item resolution failed because the embedding
	// provider was unreachable; the order is untouched.
	OutcomeUnavailable Outcome = "unavailable"
)

// ChangeResult reports what happened to one change. ItemName is the resolved
// snapshot name when the change applied.
type ChangeResult struct {
	Change   Change
	Outcome  Outcome
	ItemName string
	Err      error
}

// ListResult is one page of the order list.
type ListResult struct {
	Orders     []Order
	TotalCount int
	TotalPages int
	Page       int
	PerPage    int
}

// Resolver resolves free text to ranked catalog matches.
type Resolver interface {
	Resolve(ctx context.Context, query string, opts menu.ResolveOptions) ([]menu.Match, error)
}

// Notifier is told after every engine operation that changed observable
// order state. The broadcast hub implements it; publication is decoupled
// from the mutation path and must not block it.
type Notifier interface {
	OrdersChanged(ctx context.Context)
}

type noopNotifier struct{}

func (noopNotifier) OrdersChanged(context.Context) {}

// Service owns all order mutations. Mutations on the same order are
// serialized through a per-order lock so each resolve/mutate/recompute/save
// sequence appears atomic; different orders proceed in parallel.
type Service struct {
	orders   Repository
	resolver Resolver
	notifier Notifier

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewService creates the order engine. notifier may be nil.
func NewService(orders Repository, resolver Resolver, notifier Notifier) *Service {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	return &Service{
		orders:   orders,
		resolver: resolver,
		notifier: notifier,
		locks:    make(map[string]*sync.Mutex),
	}
}

// lockOrder returns the mutex serializing mutations for the given order ID.
func (s *Service) lockOrder(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

// Create persists a new empty pending order and broadcasts the change.
func (s *Service) Create(ctx context.Context, customerName, specialInstructions string) (*Order, error) {
	now := time.Now().UTC()
	o := &Order{
		ID:                  uuid.New().String(),
		CustomerName:        customerName,
		SpecialInstructions: specialInstructions,
		Status:              StatusPending,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	o.RecomputeTotal()

	if err := s.orders.Create(ctx, o); err != nil {
		return nil, errors.Wrap(err, "create order")
	}

	s.notifier.OrdersChanged(ctx)
	return o, nil
}

// Get returns the order with the given ID.
func (s *Service) Get(ctx context.Context, id string) (*Order, error) {
	return s.orders.Get(ctx, id)
}

// ApplyChange applies a single change to the order. Resolution failures are
// reported in the ChangeResult; the returned error is reserved for
// persistence failures.
func (s *Service) ApplyChange(ctx context.Context, orderID string, ch Change) (*ChangeResult, error) {
	results, err := s.ApplyChanges(ctx, orderID, []Change{ch})
	if err != nil {
		return nil, err
	}
	return &results[0], nil
}

// ApplyChanges applies a batch of changes to the order under its lock.
// Each change commits or fails independently: one unresolved item does not
// roll back the others. Multi-change batches resolve with the strict
// similarity threshold to avoid loose matches compounding. Exactly one
// broadcast fires if any change applied.
func (s *Service) ApplyChanges(ctx context.Context, orderID string, chs []Change) ([]ChangeResult, error) {
	if len(chs) == 0 {
		return nil, nil
	}

	lock := s.lockOrder(orderID)
	lock.Lock()
	defer lock.Unlock()

	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, errors.Wrapf(err, "get order %s", orderID)
	}

	opts := menu.ResolveOptions{}
	if len(chs) > 1 {
		opts.Threshold = menu.StrictThreshold
	}

	results := make([]ChangeResult, 0, len(chs))
	applied := 0
	for _, ch := range chs {
		res := s.applyOne(ctx, o, ch, opts)
		if res.Outcome == OutcomeApplied {
			applied++
		}
		results = append(results, res)
	}

	if applied > 0 {
		o.RecomputeTotal()
		o.UpdatedAt = time.Now().UTC()
		if err := s.orders.Save(ctx, o); err != nil {
			return nil, errors.Wrapf(err, "save order %s", orderID)
		}
		s.notifier.OrdersChanged(ctx)
	}

	return results, nil
}

// applyOne mutates o in memory according to one change.
func (s *Service) applyOne(ctx context.Context, o *Order, ch Change, opts menu.ResolveOptions) ChangeResult {
	if ch.Quantity < 1 {
		ch.Quantity = 1
	}

	switch ch.Action {
	case ActionAdd:
		return s.addItem(ctx, o, ch, opts)
	case ActionRemove:
		return removeItem(o, ch)
	case ActionModify:
		return modifyItem(o, ch)
	default:
		return ChangeResult{Change: ch, Outcome: OutcomeNotFound, Err: errors.Errorf("unknown action %q", ch.Action)}
	}
}

// addItem resolves the query against the catalog and either increments an
// existing line referencing the same menu item or appends a new line with a
// name/price snapshot.
func (s *Service) addItem(ctx context.Context, o *Order, ch Change, opts menu.ResolveOptions) ChangeResult {
	matches, err := s.resolver.Resolve(ctx, ch.Query, opts)
	if err != nil {
		// Both provider outages and catalog read failures leave the order
		// untouched and surface as a retryable per-change failure.
		return ChangeResult{Change: ch, Outcome: OutcomeUnavailable, Err: err}
	}
	if len(matches) == 0 {
		return ChangeResult{Change: ch, Outcome: OutcomeNotFound}
	}

	resolved := matches[0].Item

	// Idempotent accumulation: an existing line for the same menu item gets
	// its quantity bumped instead of a duplicate row.
	for i := range o.Items {
		item := &o.Items[i]
		sameRef := item.MenuItemID != nil && *item.MenuItemID == resolved.ID
		sameName := item.MenuItemID == nil && strings.EqualFold(item.Name, resolved.Name)
		if sameRef || sameName {
			item.Quantity += ch.Quantity
			return ChangeResult{Change: ch, Outcome: OutcomeApplied, ItemName: item.Name}
		}
	}

	menuItemID := resolved.ID
	o.Items = append(o.Items, Item{
		ID:                  uuid.New().String(),
		OrderID:             o.ID,
		MenuItemID:          &menuItemID,
		Name:                resolved.Name,
		UnitPrice:           resolved.Price,
		Quantity:            ch.Quantity,
		SpecialInstructions: ch.SpecialInstructions,
	})
	return ChangeResult{Change: ch, Outcome: OutcomeApplied, ItemName: resolved.Name}
}

// removeItem deletes the first line whose snapshot name matches the query,
// preferring an exact case-insensitive match over a substring match.
func removeItem(o *Order, ch Change) ChangeResult {
	idx := findLine(o.Items, ch.Query)
	if idx < 0 {
		return ChangeResult{Change: ch, Outcome: OutcomeNotFound}
	}
	name := o.Items[idx].Name
	o.Items = append(o.Items[:idx], o.Items[idx+1:]...)
	return ChangeResult{Change: ch, Outcome: OutcomeApplied, ItemName: name}
}

// modifyItem sets (not increments) the quantity on the first matching line.
func modifyItem(o *Order, ch Change) ChangeResult {
	idx := findLine(o.Items, ch.Query)
	if idx < 0 {
		return ChangeResult{Change: ch, Outcome: OutcomeNotFound}
	}
	o.Items[idx].Quantity = ch.Quantity
	return ChangeResult{Change: ch, Outcome: OutcomeApplied, ItemName: o.Items[idx].Name}
}

// findLine locates a line item by name, exact match first, substring second.
func findLine(items []Item, query string) int {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return -1
	}
	for i := range items {
		if strings.ToLower(items[i].Name) == q {
			return i
		}
	}
	for i := range items {
		if strings.Contains(strings.ToLower(items[i].Name), q) {
			return i
		}
	}
	return -1
}

// UpdateStatus sets the order's status. This is an administrative action; it
// still broadcasts since it changes observable state.
func (s *Service) UpdateStatus(ctx context.Context, orderID string, status Status) (*Order, error) {
	if !status.Valid() {
		return nil, errors.Wrapf(ErrInvalidStatus, "%q", status)
	}

	lock := s.lockOrder(orderID)
	lock.Lock()
	defer lock.Unlock()

	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, errors.Wrapf(err, "get order %s", orderID)
	}

	o.Status = status
	o.UpdatedAt = time.Now().UTC()
	if err := s.orders.Save(ctx, o); err != nil {
		return nil, errors.Wrapf(err, "save order %s", orderID)
	}

	s.notifier.OrdersChanged(ctx)
	return o, nil
}

// List returns one page of orders, newest first, optionally filtered by
// status.
func (s *Service) List(ctx context.Context, f ListFilter) (*ListResult, error) {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PerPage < 1 {
		f.PerPage = 10
	}

	orders, total, err := s.orders.List(ctx, f)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}

	return &ListResult{
		Orders:     orders,
		TotalCount: total,
		TotalPages: (total + f.PerPage - 1) / f.PerPage,
		Page:       f.Page,
		PerPage:    f.PerPage,
	}, nil
}

// Delete removes the order and its line items, then broadcasts.
func (s *Service) Delete(ctx context.Context, orderID string) error {
	lock := s.lockOrder(orderID)
	lock.Lock()
	defer lock.Unlock()

	if err := s.orders.Delete(ctx, orderID); err != nil {
		return errors.Wrapf(err, "delete order %s", orderID)
	}

	s.mu.Lock()
	delete(s.locks, orderID)
	s.mu.Unlock()

	s.notifier.OrdersChanged(ctx)
	return nil
}

// ClearAll removes every order and broadcasts the now-empty snapshot once.
func (s *Service) ClearAll(ctx context.Context) error {
	if err := s.orders.DeleteAll(ctx); err != nil {
		return errors.Wrap(err, "clear orders")
	}

	s.mu.Lock()
	s.locks = make(map[string]*sync.Mutex)
	s.mu.Unlock()

	s.notifier.OrdersChanged(ctx)
	return nil
}
