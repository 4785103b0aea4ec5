package orders

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/printflow-erp/printflow/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence for orders. It
// implements the projector port the receiving engine pushes outcomes
// through, joining any transaction found on the context.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type executor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (r *Repository) conn(ctx context.Context) executor {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

// SetProcessing pushes a fully supplied order into production.
func (r *Repository) SetProcessing(ctx context.Context, orderID int64) error {
	_, err := r.conn(ctx).Exec(ctx, `UPDATE orders SET status=$1 WHERE id=$2`, StatusProcessing, orderID)
	return err
}

// SetReadiness records the reconciliation outcome for an order.
func (r *Repository) SetReadiness(ctx context.Context, orderID int64, ready, missing bool) error {
	_, err := r.conn(ctx).Exec(ctx,
		`UPDATE orders SET ready_for_work_order=$1, missing_goods=$2 WHERE id=$3`,
		ready, missing, orderID)
	return err
}

// RevertToHold puts an order back in the demand queue and clears its flags.
func (r *Repository) RevertToHold(ctx context.Context, orderID int64) error {
	_, err := r.conn(ctx).Exec(ctx,
		`UPDATE orders SET status=$1, ready_for_work_order=FALSE, missing_goods=FALSE WHERE id=$2`,
		StatusHold, orderID)
	return err
}

// MarkOnOrder links the order to a published PO number and advances held
// orders to on-order.
func (r *Repository) MarkOnOrder(ctx context.Context, orderID int64, poNumber string) error {
	conn := r.conn(ctx)
	if _, err := conn.Exec(ctx,
		`INSERT INTO order_pos (order_id, po_number) VALUES ($1,$2) ON CONFLICT DO NOTHING`,
		orderID, poNumber); err != nil {
		return err
	}
	_, err := conn.Exec(ctx,
		`UPDATE orders SET status=$1 WHERE id=$2 AND status=$3`,
		StatusOnOrder, orderID, StatusHold)
	return err
}

// ClearPOLink removes a PO linkage. An order left with no linked POs drops
// back to hold.
func (r *Repository) ClearPOLink(ctx context.Context, orderID int64, poNumber string) error {
	conn := r.conn(ctx)
	if _, err := conn.Exec(ctx,
		`DELETE FROM order_pos WHERE order_id=$1 AND po_number=$2`, orderID, poNumber); err != nil {
		return err
	}
	_, err := conn.Exec(ctx,
		`UPDATE orders SET status=$1 WHERE id=$2 AND status=$3
		 AND NOT EXISTS (SELECT 1 FROM order_pos WHERE order_id=$2)`,
		StatusHold, orderID, StatusOnOrder)
	return err
}

// Get returns one order with its PO linkage.
func (r *Repository) Get(ctx context.Context, orderID int64) (Order, error) {
	conn := r.conn(ctx)
	var o Order
	err := conn.QueryRow(ctx,
		`SELECT id, customer, status, ready_for_work_order, missing_goods, created_at
		 FROM orders WHERE id=$1`, orderID).
		Scan(&o.ID, &o.Customer, &o.Status, &o.ReadyForWorkOrder, &o.MissingGoods, &o.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, ErrNotFound
		}
		return Order{}, err
	}
	rows, err := conn.Query(ctx,
		`SELECT po_number FROM order_pos WHERE order_id=$1 ORDER BY po_number`, orderID)
	if err != nil {
		return Order{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var number string
		if err := rows.Scan(&number); err != nil {
			return Order{}, err
		}
		o.PONumbers = append(o.PONumbers, number)
	}
	return o, rows.Err()
}

// ListReady returns orders flagged ready for a work order, oldest first,
// with their linked PO numbers.
func (r *Repository) ListReady(ctx context.Context) ([]Order, error) {
	conn := r.conn(ctx)
	rows, err := conn.Query(ctx,
		`SELECT id, customer, status, ready_for_work_order, missing_goods, created_at
		 FROM orders WHERE ready_for_work_order=TRUE ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Order
	for rows.Next() {
		var o Order
		if err := rows.Scan(&o.ID, &o.Customer, &o.Status, &o.ReadyForWorkOrder, &o.MissingGoods, &o.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return out, nil
	}

	ids := make([]int64, 0, len(out))
	index := make(map[int64]int, len(out))
	for i, o := range out {
		ids = append(ids, o.ID)
		index[o.ID] = i
	}
	links, err := conn.Query(ctx,
		`SELECT order_id, po_number FROM order_pos WHERE order_id = ANY($1) ORDER BY order_id, po_number`, ids)
	if err != nil {
		return nil, err
	}
	defer links.Close()
	for links.Next() {
		var orderID int64
		var number string
		if err := links.Scan(&orderID, &number); err != nil {
			return nil, err
		}
		if i, ok := index[orderID]; ok {
			out[i].PONumbers = append(out[i].PONumbers, number)
		}
	}
	return out, links.Err()
}

// LinesFor returns the demanded lines for a set of orders.
func (r *Repository) LinesFor(ctx context.Context, orderIDs []int64) ([]OrderLine, error) {
	if len(orderIDs) == 0 {
		return nil, nil
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT id, order_id, item_code, color, size, qty, COALESCE(artwork_url,''), COALESCE(note,'')
		 FROM order_lines WHERE order_id = ANY($1) ORDER BY order_id, id`, orderIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []OrderLine
	for rows.Next() {
		var l OrderLine
		if err := rows.Scan(&l.ID, &l.OrderID, &l.ItemCode, &l.Color, &l.Size, &l.Qty, &l.ArtworkURL, &l.Note); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
