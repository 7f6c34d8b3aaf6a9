// Package broadcast fans order snapshots out to live subscribers.
//
// Every engine mutation triggers one publish carrying the full current order
// list. Clients replace their state wholesale, so frames are snapshots, not
// deltas. A new subscriber receives the current snapshot immediately; a
// subscriber that cannot keep up is dropped rather than retried so it can
// never stall delivery to the others.
package broadcast

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/tavolo/internal/domain/order"
)

// Topic is the single live-update channel key.
const Topic = "orders"

// sendBuffer is how many frames a subscriber may lag before being dropped.
const sendBuffer = 8

// SnapshotFunc returns the full current order list, nested items included.
type SnapshotFunc func(ctx context.Context) ([]order.Order, error)

// Subscriber is one live connection's view of the topic. Frames arrive on
// Updates until the hub drops or unsubscribes it, at which point the channel
// is closed.
type Subscriber struct {
	ch chan []byte
}

// Updates returns the channel of encoded orders_update frames.
func (s *Subscriber) Updates() <-chan []byte {
	return s.ch
}

// Hub is the fan-out point for order state changes. It implements
// order.Notifier.
type Hub struct {
	snapshot SnapshotFunc

	mu     sync.Mutex
	subs   map[*Subscriber]struct{}
	closed bool
}

// New creates a Hub that builds frames from the given snapshot source.
func New(snapshot SnapshotFunc) *Hub {
	return &Hub{
		snapshot: snapshot,
		subs:     make(map[*Subscriber]struct{}),
	}
}

// Subscribe registers a new live subscriber and queues the current snapshot
// as its first frame. The snapshot is built under the hub lock so a publish
// cannot land between frame construction and registration; the first frame a
// client sees is never older than the last broadcast it missed.
func (h *Hub) Subscribe(ctx context.Context) (*Subscriber, error) {
	sub := &Subscriber{ch: make(chan []byte, sendBuffer)}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(sub.ch)
		return sub, nil
	}

	frame, err := h.buildFrame(ctx)
	if err != nil {
		return nil, err
	}
	h.subs[sub] = struct{}{}
	sub.ch <- frame
	return sub, nil
}

// Unsubscribe removes the subscriber and closes its channel. Safe to call
// more than once.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub]; !ok {
		return
	}
	delete(h.subs, sub)
	close(sub.ch)
}

// OrdersChanged publishes the full current snapshot to every subscriber.
// The mutation path calls this fire-and-forget: frame delivery is a
// non-blocking send, and a subscriber with a full buffer is dropped.
// Frames are built and queued under the same lock as Subscribe, so each
// subscriber channel sees snapshots in publish order.
func (h *Hub) OrdersChanged(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed || len(h.subs) == 0 {
		return
	}

	frame, err := h.buildFrame(ctx)
	if err != nil {
		zctx.From(ctx).Error("Snapshot for broadcast failed", zap.Error(err))
		return
	}

	for sub := range h.subs {
		select {
		case sub.ch <- frame:
		default:
			// Slow or dead subscriber: drop it so the rest keep receiving.
			zctx.From(ctx).Warn("Dropping slow subscriber", zap.String("topic", Topic))
			delete(h.subs, sub)
			close(sub.ch)
		}
	}
}

// SubscriberCount returns the number of live subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close drops all subscribers and rejects future publishes.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for sub := range h.subs {
		delete(h.subs, sub)
		close(sub.ch)
	}
}

// Frame is the wire shape of one orders_update message.
type Frame struct {
	Type   string      `json:"type"`
	Orders []OrderView `json:"orders"`
}

// OrderView is the broadcast representation of an order.
type OrderView struct {
	ID                  string     `json:"id"`
	Status              string     `json:"status"`
	CustomerName        string     `json:"customer_name"`
	SpecialInstructions string     `json:"special_instructions"`
	TotalAmount         string     `json:"total_amount"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
	Items               []ItemView `json:"items"`
}

// ItemView is the broadcast representation of a line item.
type ItemView struct {
	ItemName            string `json:"item_name"`
	Quantity            int    `json:"quantity"`
	Price               string `json:"price"`
	SpecialInstructions string `json:"special_instructions"`
}

// buildFrame fetches the current snapshot and encodes it once for all
// subscribers.
func (h *Hub) buildFrame(ctx context.Context) ([]byte, error) {
	orders, err := h.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return json.Marshal(NewFrame(orders))
}

// NewFrame converts domain orders into the orders_update wire shape.
func NewFrame(orders []order.Order) Frame {
	views := make([]OrderView, len(orders))
	for i, o := range orders {
		items := make([]ItemView, len(o.Items))
		for j, item := range o.Items {
			items[j] = ItemView{
				ItemName:            item.Name,
				Quantity:            item.Quantity,
				Price:               item.UnitPrice.StringFixed(2),
				SpecialInstructions: item.SpecialInstructions,
			}
		}
		views[i] = OrderView{
			ID:                  o.ID,
			Status:              string(o.Status),
			CustomerName:        o.CustomerName,
			SpecialInstructions: o.SpecialInstructions,
			TotalAmount:         o.Total.StringFixed(2),
			CreatedAt:           o.CreatedAt,
			UpdatedAt:           o.UpdatedAt,
			Items:               items,
		}
	}
	return Frame{Type: "orders_update", Orders: views}
}
