package postgres

import (
	"context"
	"encoding/json"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/tavolo/internal/domain/menu"
)

var _ menu.Repository = (*MenuRepository)(nil)

// MenuRepository implements menu.Repository backed by PostgreSQL. Embeddings
// are stored as JSONB float arrays; catalog order follows the position
// sequence.
type MenuRepository struct {
	pool *pgxpool.Pool
}

// NewMenuRepository returns a MenuRepository that uses the given pool.
func NewMenuRepository(pool *pgxpool.Pool) *MenuRepository {
	return &MenuRepository{pool: pool}
}

// List returns all menu items in catalog insertion order.
func (r *MenuRepository) List(ctx context.Context) ([]menu.Item, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, description, price, embedding
		FROM menu_items
		ORDER BY position`)
	if err != nil {
		return nil, errors.Wrap(err, "list menu items")
	}
	defer rows.Close()

	var items []menu.Item
	for rows.Next() {
		item, err := scanMenuItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, errors.Wrap(rows.Err(), "iterate menu items")
}

// GetByID returns a single menu item by its identifier.
func (r *MenuRepository) GetByID(ctx context.Context, id string) (*menu.Item, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, description, price, embedding
		FROM menu_items
		WHERE id = $1`, id)

	item, err := scanMenuItem(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, menu.ErrNotFound
		}
		return nil, err
	}
	return &item, nil
}

// Upsert inserts the item or, when the name already exists, updates the
// existing row in place so its catalog position is preserved.
func (r *MenuRepository) Upsert(ctx context.Context, item *menu.Item) error {
	embedding, err := marshalEmbedding(item.Embedding)
	if err != nil {
		return err
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO menu_items (id, name, description, price, embedding)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (name) DO UPDATE
		SET description = EXCLUDED.description,
		    price = EXCLUDED.price,
		    embedding = EXCLUDED.embedding`,
		item.ID, item.Name, item.Description, item.Price, embedding)
	return errors.Wrapf(err, "upsert menu item %q", item.Name)
}

// Delete removes the menu item. Line items referencing it keep their
// snapshots; the weak reference nulls out via the FK.
func (r *MenuRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM menu_items WHERE id = $1`, id)
	if err != nil {
		return errors.Wrapf(err, "delete menu item %s", id)
	}
	if tag.RowsAffected() == 0 {
		return menu.ErrNotFound
	}
	return nil
}

// ReplaceAll swaps the entire catalog in one transaction.
func (r *MenuRepository) ReplaceAll(ctx context.Context, items []menu.Item) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "begin replace catalog")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM menu_items`); err != nil {
		return errors.Wrap(err, "clear catalog")
	}

	for _, item := range items {
		embedding, err := marshalEmbedding(item.Embedding)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO menu_items (id, name, description, price, embedding)
			VALUES ($1, $2, $3, $4, $5)`,
			item.ID, item.Name, item.Description, item.Price, embedding); err != nil {
			return errors.Wrapf(err, "insert menu item %q", item.Name)
		}
	}

	return errors.Wrap(tx.Commit(ctx), "commit replace catalog")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMenuItem(row rowScanner) (menu.Item, error) {
	var (
		item      menu.Item
		price     decimal.Decimal
		embedding []byte
	)
	if err := row.Scan(&item.ID, &item.Name, &item.Description, &price, &embedding); err != nil {
		return menu.Item{}, errors.Wrap(err, "scan menu item")
	}
	item.Price = price

	if len(embedding) > 0 {
		if err := json.Unmarshal(embedding, &item.Embedding); err != nil {
			return menu.Item{}, errors.Wrapf(err, "decode embedding for %s", item.ID)
		}
	}
	return item, nil
}

func marshalEmbedding(vec []float32) ([]byte, error) {
	if len(vec) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(vec)
	return data, errors.Wrap(err, "encode embedding")
}
