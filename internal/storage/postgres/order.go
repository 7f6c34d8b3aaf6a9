package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/tavolo/internal/domain/order"
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create persists a new order and its line items.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "begin create order")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
		INSERT INTO orders (id, customer_name, special_instructions, status, total_amount, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		o.ID, o.CustomerName, o.SpecialInstructions, o.Status, o.Total, o.CreatedAt, o.UpdatedAt); err != nil {
		return errors.Wrapf(err, "insert order %s", o.ID)
	}

	if err := insertItems(ctx, tx, o); err != nil {
		return err
	}

	return errors.Wrap(tx.Commit(ctx), "commit create order")
}

// Get returns the order with its line items.
func (r *OrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, customer_name, special_instructions, status, total_amount, created_at, updated_at
		FROM orders
		WHERE id = $1`, id)

	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, err
	}

	items, err := r.itemsFor(ctx, []string{o.ID})
	if err != nil {
		return nil, err
	}
	o.Items = items[o.ID]
	return &o, nil
}

// Save writes the order row and replaces its line items atomically. The
// delete-and-reinsert keeps the items table exactly in sync with the
// aggregate's in-memory state.
func (r *OrderRepository) Save(ctx context.Context, o *order.Order) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "begin save order")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		UPDATE orders
		SET customer_name = $2, special_instructions = $3, status = $4, total_amount = $5, updated_at = $6
		WHERE id = $1`,
		o.ID, o.CustomerName, o.SpecialInstructions, o.Status, o.Total, o.UpdatedAt)
	if err != nil {
		return errors.Wrapf(err, "update order %s", o.ID)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}

	if _, err := tx.Exec(ctx, `DELETE FROM order_items WHERE order_id = $1`, o.ID); err != nil {
		return errors.Wrapf(err, "clear items for order %s", o.ID)
	}
	if err := insertItems(ctx, tx, o); err != nil {
		return err
	}

	return errors.Wrap(tx.Commit(ctx), "commit save order")
}

// List returns one page of orders, newest first, with nested items.
func (r *OrderRepository) List(ctx context.Context, f order.ListFilter) ([]order.Order, int, error) {
	where := ``
	args := []any{f.PerPage, (f.Page - 1) * f.PerPage}
	countArgs := []any{}
	if f.Status != "" {
		where = `WHERE status = $3`
		args = append(args, f.Status)
		countArgs = append(countArgs, f.Status)
	}

	var total int
	countQuery := `SELECT count(*) FROM orders`
	if f.Status != "" {
		countQuery += ` WHERE status = $1`
	}
	if err := r.pool.QueryRow(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "count orders")
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, customer_name, special_instructions, status, total_amount, created_at, updated_at
		FROM orders `+where+`
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2`, args...)
	if err != nil {
		return nil, 0, errors.Wrap(err, "list orders")
	}

	orders, err := collectOrders(rows)
	if err != nil {
		return nil, 0, err
	}
	if err := r.attachItems(ctx, orders); err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

// ListAll returns every order with nested items, newest first. This feeds
// broadcast snapshots.
func (r *OrderRepository) ListAll(ctx context.Context) ([]order.Order, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, customer_name, special_instructions, status, total_amount, created_at, updated_at
		FROM orders
		ORDER BY created_at DESC`)
	if err != nil {
		return nil, errors.Wrap(err, "list all orders")
	}

	orders, err := collectOrders(rows)
	if err != nil {
		return nil, err
	}
	if err := r.attachItems(ctx, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// Delete removes the order; line items cascade via the FK.
func (r *OrderRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM orders WHERE id = $1`, id)
	if err != nil {
		return errors.Wrapf(err, "delete order %s", id)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

// DeleteAll removes every order and, by cascade, every line item.
func (r *OrderRepository) DeleteAll(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM orders`)
	return errors.Wrap(err, "delete all orders")
}

func insertItems(ctx context.Context, tx pgx.Tx, o *order.Order) error {
	for _, item := range o.Items {
		if _, err := tx.Exec(ctx, `
			INSERT INTO order_items (id, order_id, menu_item_id, item_name, unit_price, quantity, special_instructions)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			item.ID, o.ID, item.MenuItemID, item.Name, item.UnitPrice, item.Quantity, item.SpecialInstructions); err != nil {
			return errors.Wrapf(err, "insert item %q for order %s", item.Name, o.ID)
		}
	}
	return nil
}

func scanOrder(row rowScanner) (order.Order, error) {
	var o order.Order
	if err := row.Scan(&o.ID, &o.CustomerName, &o.SpecialInstructions, &o.Status, &o.Total, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return order.Order{}, errors.Wrap(err, "scan order")
	}
	return o, nil
}

func collectOrders(rows pgx.Rows) ([]order.Order, error) {
	defer rows.Close()

	var orders []order.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, errors.Wrap(rows.Err(), "iterate orders")
}

// attachItems loads line items for the given orders in one query.
func (r *OrderRepository) attachItems(ctx context.Context, orders []order.Order) error {
	if len(orders) == 0 {
		return nil
	}

	ids := make([]string, len(orders))
	index := make(map[string]*order.Order, len(orders))
	for i := range orders {
		ids[i] = orders[i].ID
		index[orders[i].ID] = &orders[i]
	}

	items, err := r.itemsFor(ctx, ids)
	if err != nil {
		return err
	}
	for id, o := range index {
		o.Items = items[id]
	}
	return nil
}

func (r *OrderRepository) itemsFor(ctx context.Context, orderIDs []string) (map[string][]order.Item, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, order_id, menu_item_id, item_name, unit_price, quantity, special_instructions
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY position`, orderIDs)
	if err != nil {
		return nil, errors.Wrap(err, "list order items")
	}
	defer rows.Close()

	items := make(map[string][]order.Item)
	for rows.Next() {
		var item order.Item
		if err := rows.Scan(&item.ID, &item.OrderID, &item.MenuItemID, &item.Name,
			&item.UnitPrice, &item.Quantity, &item.SpecialInstructions); err != nil {
			return nil, errors.Wrap(err, "scan order item")
		}
		items[item.OrderID] = append(items[item.OrderID], item)
	}
	return items, errors.Wrap(rows.Err(), "iterate order items")
}
