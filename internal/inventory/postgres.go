package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/ariefcatur/storefront-checkout/internal/apperr"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PGLedger struct{ DB *pgxpool.Pool }

func (l *PGLedger) Product(ctx context.Context, id string) (Product, error) {
	var p Product
	err := l.DB.QueryRow(ctx, `SELECT id, name, price, stock, sizes FROM products WHERE id=$1`, id).
		Scan(&p.ID, &p.Name, &p.Price, &p.Stock, &p.Sizes)
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, fmt.Errorf("product %s: %w", id, apperr.ErrNotFound)
	}
	return p, err
}

// Decrement is one conditional UPDATE; zero rows means missing or short.
func (l *PGLedger) Decrement(ctx context.Context, id string, qty int) error {
	if err := validQty(qty); err != nil {
		return err
	}
	ct, err := l.DB.Exec(ctx, `UPDATE products SET stock = stock - $2, updated_at = now()
	                          WHERE id=$1 AND stock >= $2`, id, qty)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 1 {
		return nil
	}
	p, err := l.Product(ctx, id)
	if err != nil {
		return err
	}
	return &apperr.StockError{ProductID: id, Name: p.Name, Requested: qty, Available: p.Stock}
}

func (l *PGLedger) Increment(ctx context.Context, id string, qty int) error {
	if err := validQty(qty); err != nil {
		return err
	}
	ct, err := l.DB.Exec(ctx, `UPDATE products SET stock = stock + $2, updated_at = now() WHERE id=$1`, id, qty)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("product %s: %w", id, apperr.ErrNotFound)
	}
	return nil
}

// Put upserts a catalog row. Used for seeding.
func (l *PGLedger) Put(ctx context.Context, p Product) error {
	_, err := l.DB.Exec(ctx, `
		INSERT INTO products(id, name, price, stock, sizes)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, price = EXCLUDED.price, stock = EXCLUDED.stock,
		    sizes = EXCLUDED.sizes, updated_at = now()
	`, p.ID, p.Name, p.Price, p.Stock, p.Sizes)
	return err
}
