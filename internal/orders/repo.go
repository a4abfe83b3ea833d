package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/storefront-checkout/internal/apperr"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PGRepo struct{ DB *pgxpool.Pool }

const orderCols = `id, order_number, user_id, shipping_address, payment_method, payment_status, order_status,
	COALESCE(payment_intent_id, ''), COALESCE(payment_session_id, ''),
	subtotal, shipping_cost, tax, total_amount, notes, delivered_at, created_at, updated_at`

type dbtx interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (r *PGRepo) Create(ctx context.Context, o Order) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO orders(id, order_number, user_id, shipping_address, payment_method, payment_status,
		                   order_status, payment_intent_id, payment_session_id, subtotal, shipping_cost, tax,
		                   total_amount, notes, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,NULLIF($8,''),NULLIF($9,''),$10,$11,$12,$13,$14,$15,$16)`,
		o.ID, o.OrderNumber, o.UserID, o.ShippingAddress, o.PaymentMethod, o.PaymentStatus,
		o.OrderStatus, o.PaymentIntentID, o.PaymentSessionID, o.Subtotal, o.ShippingCost, o.Tax,
		o.TotalAmount, o.Notes, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("order %s: %w", o.OrderNumber, apperr.ErrDuplicate)
		}
		return err
	}
	for i, it := range o.Items {
		if _, err := tx.Exec(ctx, `
			INSERT INTO order_items(order_id, position, product_id, name, price, quantity, size)
			VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			o.ID, i, it.ProductID, it.Name, it.Price, it.Quantity, it.Size,
		); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (r *PGRepo) Get(ctx context.Context, id string) (Order, error) {
	return r.getOne(ctx, r.DB, `SELECT `+orderCols+` FROM orders WHERE id=$1`, id)
}

func (r *PGRepo) FindByPaymentRef(ctx context.Context, ref string) (Order, error) {
	if ref == "" {
		return Order{}, fmt.Errorf("empty payment ref: %w", apperr.ErrNotFound)
	}
	return r.getOne(ctx, r.DB, `SELECT `+orderCols+` FROM orders
		WHERE payment_intent_id=$1 OR payment_session_id=$1
		ORDER BY created_at DESC LIMIT 1`, ref)
}

// Update holds the row lock while fn runs so concurrent webhook deliveries
// for one order see each other's writes.
func (r *PGRepo) Update(ctx context.Context, id string, fn func(*Order) (bool, error)) (Order, bool, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Order{}, false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	o, err := r.getOne(ctx, tx, `SELECT `+orderCols+` FROM orders WHERE id=$1 FOR UPDATE`, id)
	if err != nil {
		return Order{}, false, err
	}
	changed, err := fn(&o)
	if err != nil {
		return Order{}, false, err
	}
	if !changed {
		return o, false, nil
	}
	o.UpdatedAt = time.Now().UTC()
	if _, err := tx.Exec(ctx, `
		UPDATE orders SET payment_status=$2, order_status=$3, payment_intent_id=NULLIF($4,''),
		                  payment_session_id=NULLIF($5,''), delivered_at=$6, updated_at=$7
		WHERE id=$1`,
		o.ID, o.PaymentStatus, o.OrderStatus, o.PaymentIntentID, o.PaymentSessionID, o.DeliveredAt, o.UpdatedAt,
	); err != nil {
		return Order{}, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Order{}, false, err
	}
	return o, true, nil
}

func (r *PGRepo) ListByUser(ctx context.Context, userID string) ([]Order, error) {
	return r.getMany(ctx, `SELECT `+orderCols+` FROM orders WHERE user_id=$1 ORDER BY created_at DESC`, userID)
}

func (r *PGRepo) List(ctx context.Context, f ListFilter) (Page, error) {
	f = f.normalize()
	var total int
	if err := r.DB.QueryRow(ctx, `SELECT COUNT(*) FROM orders WHERE ($1 = '' OR order_status = $1)`,
		string(f.Status)).Scan(&total); err != nil {
		return Page{}, err
	}
	list, err := r.getMany(ctx, `SELECT `+orderCols+` FROM orders
		WHERE ($1 = '' OR order_status = $1)
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, string(f.Status), f.Limit, f.offset())
	if err != nil {
		return Page{}, err
	}
	return newPage(list, total, f), nil
}

func (r *PGRepo) ListStalePending(ctx context.Context, method PaymentMethod, before time.Time, limit int) ([]Order, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.getMany(ctx, `SELECT `+orderCols+` FROM orders
		WHERE payment_method=$1 AND payment_status='pending' AND order_status <> 'cancelled' AND created_at < $2
		ORDER BY created_at LIMIT $3`, method, before, limit)
}

func (r *PGRepo) getOne(ctx context.Context, q dbtx, sql string, args ...any) (Order, error) {
	o, err := scanOrder(q.QueryRow(ctx, sql, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, fmt.Errorf("order: %w", apperr.ErrNotFound)
	}
	if err != nil {
		return Order{}, err
	}
	items, err := loadItems(ctx, q, []string{o.ID})
	if err != nil {
		return Order{}, err
	}
	o.Items = items[o.ID]
	return o, nil
}

func (r *PGRepo) getMany(ctx context.Context, sql string, args ...any) ([]Order, error) {
	rows, err := r.DB.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	out := []Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return out, nil
	}

	ids := make([]string, len(out))
	for i, o := range out {
		ids[i] = o.ID
	}
	items, err := loadItems(ctx, r.DB, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Items = items[out[i].ID]
	}
	return out, nil
}

func scanOrder(row pgx.Row) (Order, error) {
	var o Order
	err := row.Scan(&o.ID, &o.OrderNumber, &o.UserID, &o.ShippingAddress, &o.PaymentMethod, &o.PaymentStatus,
		&o.OrderStatus, &o.PaymentIntentID, &o.PaymentSessionID, &o.Subtotal, &o.ShippingCost, &o.Tax,
		&o.TotalAmount, &o.Notes, &o.DeliveredAt, &o.CreatedAt, &o.UpdatedAt)
	return o, err
}

func loadItems(ctx context.Context, q dbtx, orderIDs []string) (map[string][]Item, error) {
	rows, err := q.Query(ctx, `SELECT order_id, product_id, name, price, quantity, size
	                          FROM order_items WHERE order_id = ANY($1) ORDER BY order_id, position`, orderIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]Item, len(orderIDs))
	for rows.Next() {
		var id string
		var it Item
		if err := rows.Scan(&id, &it.ProductID, &it.Name, &it.Price, &it.Quantity, &it.Size); err != nil {
			return nil, err
		}
		out[id] = append(out[id], it)
	}
	return out, rows.Err()
}
