package cart

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type PGRepo struct{ DB *pgxpool.Pool }

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (r *PGRepo) Get(ctx context.Context, userID string) (Cart, error) {
	c := Cart{UserID: userID, Items: []Item{}, TotalAmount: decimal.Zero}
	err := r.DB.QueryRow(ctx, `SELECT total_amount, updated_at FROM carts WHERE user_id=$1`, userID).
		Scan(&c.TotalAmount, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return c, nil
	}
	if err != nil {
		return Cart{}, err
	}
	if c.Items, err = loadItems(ctx, r.DB, userID); err != nil {
		return Cart{}, err
	}
	return c, nil
}

// Update locks the cart row for the duration of fn, so concurrent mutations
// of one cart serialize instead of interleaving.
func (r *PGRepo) Update(ctx context.Context, userID string, fn func(*Cart) error) (Cart, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Cart{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `INSERT INTO carts(user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`, userID); err != nil {
		return Cart{}, err
	}
	c := Cart{UserID: userID}
	if err := tx.QueryRow(ctx, `SELECT total_amount FROM carts WHERE user_id=$1 FOR UPDATE`, userID).Scan(&c.TotalAmount); err != nil {
		return Cart{}, err
	}
	if c.Items, err = loadItems(ctx, tx, userID); err != nil {
		return Cart{}, err
	}

	if err := fn(&c); err != nil {
		return Cart{}, err
	}
	if c.Items == nil {
		c.Items = []Item{}
	}
	c.Recalculate()
	c.UpdatedAt = time.Now().UTC()

	if _, err := tx.Exec(ctx, `DELETE FROM cart_items WHERE user_id=$1`, userID); err != nil {
		return Cart{}, err
	}
	for i, it := range c.Items {
		if _, err := tx.Exec(ctx, `
			INSERT INTO cart_items(user_id, position, product_id, size, quantity, unit_price)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			userID, i, it.ProductID, it.Size, it.Quantity, it.UnitPrice,
		); err != nil {
			return Cart{}, err
		}
	}
	if _, err := tx.Exec(ctx, `UPDATE carts SET total_amount=$2, updated_at=$3 WHERE user_id=$1`,
		userID, c.TotalAmount, c.UpdatedAt); err != nil {
		return Cart{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Cart{}, err
	}
	return c, nil
}

func loadItems(ctx context.Context, q querier, userID string) ([]Item, error) {
	rows, err := q.Query(ctx, `SELECT product_id, size, quantity, unit_price
	                          FROM cart_items WHERE user_id=$1 ORDER BY position`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []Item{}
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ProductID, &it.Size, &it.Quantity, &it.UnitPrice); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}
