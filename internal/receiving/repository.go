package receiving

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/printflow-erp/printflow/internal/platform/db"
)

// RepositoryPort describes read operations used by Service outside a
// transaction.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetPO(ctx context.Context, id int64) (PurchaseOrder, error)
	GetLines(ctx context.Context, poID int64, poNumber string) ([]Line, error)
	ListOpenPOs(ctx context.Context, limit, offset int) ([]POListItem, int, error)
	ListOrderedPOIDs(ctx context.Context) ([]int64, error)
	GetDraft(ctx context.Context, poID int64) ([]DraftLine, error)
	MaxSequenceOn(ctx context.Context, vendor string, day time.Time) (int, error)
	FindOpenRun(ctx context.Context, vendor string) (int64, error)
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	LockPO(ctx context.Context, id int64) (PurchaseOrder, error)
	AppendReceipt(ctx context.Context, ev ReceiptEvent) (int64, error)
	LinesWithTotals(ctx context.Context, poID int64, poNumber string) ([]Line, error)
	UpdatePOStatus(ctx context.Context, id int64, status POStatus) error
	SetPONumber(ctx context.Context, id int64, number string, orderedOn time.Time) error
	ClearPONumber(ctx context.Context, id int64) error
	SetPOTotal(ctx context.Context, id int64, total decimal.Decimal) error
	CreatePO(ctx context.Context, po PurchaseOrder) (int64, error)
	MaxSequenceOn(ctx context.Context, vendor string, day time.Time) (int, error)
	FindOpenRunForUpdate(ctx context.Context, vendor string) (int64, error)
	MergeLine(ctx context.Context, poID int64, line Line) error
	DeleteLine(ctx context.Context, poID int64, key string) error
	DeletePO(ctx context.Context, id int64) error
	SaveDraft(ctx context.Context, poID int64, lines []DraftLine) error
	ClearDraft(ctx context.Context, poID int64) error
}

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx wraps callback in a repeatable-read transaction. The open
// transaction rides on the context so order projections written by other
// packages commit or roll back together with the receipt batch.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	if err := fn(db.ContextWithTx(ctx, tx), &txRepo{tx: tx}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

// GetPO returns the PO header.
func (r *Repository) GetPO(ctx context.Context, id int64) (PurchaseOrder, error) {
	return scanPO(r.pool.QueryRow(ctx, poSelect+` WHERE p.id=$1`, id))
}

// GetLines returns a PO's lines with authoritative received totals summed
// from the receipt ledger.
func (r *Repository) GetLines(ctx context.Context, poID int64, poNumber string) ([]Line, error) {
	return queryLines(ctx, r.pool, poID, poNumber)
}

// ListOpenPOs returns ordered POs that still have at least one short line.
func (r *Repository) ListOpenPOs(ctx context.Context, limit, offset int) ([]POListItem, int, error) {
	const shortExists = `EXISTS (
		SELECT 1 FROM po_lines l
		WHERE l.po_id = p.id
		  AND l.ordered_qty > COALESCE((
			SELECT SUM(r.received_qty) FROM receipts r
			WHERE r.po_number = CASE WHEN p.number <> '' THEN p.number ELSE p.id::text END
			  AND r.po_line_id = l.line_key), 0)
	)`

	var total int
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM pos p WHERE p.status=$1 AND `+shortExists, POStatusOrdered).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT p.id, COALESCE(p.number,''), p.vendor, p.status, p.created_at,
			(SELECT COUNT(*) FROM po_lines l WHERE l.po_id=p.id)
		 FROM pos p
		 WHERE p.status=$1 AND `+shortExists+`
		 ORDER BY p.created_at DESC LIMIT $2 OFFSET $3`,
		POStatusOrdered, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []POListItem
	for rows.Next() {
		var item POListItem
		if err := rows.Scan(&item.ID, &item.Number, &item.Vendor, &item.Status, &item.CreatedAt, &item.ItemsCount); err != nil {
			return nil, 0, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// ListOrderedPOIDs returns ids of all POs awaiting receipt, for the sweep job.
func (r *Repository) ListOrderedPOIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM pos WHERE status=$1 ORDER BY id`, POStatusOrdered)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetDraft loads saved receive-draft quantities for a PO.
func (r *Repository) GetDraft(ctx context.Context, poID int64) ([]DraftLine, error) {
	var raw []byte
	err := r.pool.QueryRow(ctx, `SELECT lines FROM receive_drafts WHERE po_id=$1`, poID).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	var lines []DraftLine
	if err := json.Unmarshal(raw, &lines); err != nil {
		return nil, err
	}
	return lines, nil
}

// MaxSequenceOn returns the highest PO number suffix a vendor used on a
// given day, zero when none. The daily sequence starts one past it, so a
// number freed by pruning a run empty is never handed out again while a
// later number from the same day is still live.
func (r *Repository) MaxSequenceOn(ctx context.Context, vendor string, day time.Time) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, maxSequenceSQL, vendor, day.Format("2006-01-02")).Scan(&n)
	return n, err
}

// FindOpenRun returns the vendor's single open run, zero when absent.
func (r *Repository) FindOpenRun(ctx context.Context, vendor string) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`SELECT id FROM pos WHERE status=$1 AND LOWER(vendor)=LOWER($2) ORDER BY id LIMIT 1`,
		POStatusOpen, vendor).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return id, err
}

const poSelect = `SELECT p.id, p.vendor, COALESCE(p.number,''), COALESCE(p.ordered_on,'0001-01-01'), p.status, p.total::text FROM pos p`

const maxSequenceSQL = `SELECT COALESCE(MAX(substring(number FROM '([0-9]+)$')::INT), 0)
	 FROM pos WHERE vendor=$1 AND ordered_on=$2 AND number <> ''`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPO(row rowScanner) (PurchaseOrder, error) {
	var po PurchaseOrder
	var totalText string
	err := row.Scan(&po.ID, &po.Vendor, &po.Number, &po.OrderedOn, &po.Status, &totalText)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseOrder{}, ErrNotFound
		}
		return PurchaseOrder{}, err
	}
	po.Total, err = decimal.NewFromString(totalText)
	if err != nil {
		return PurchaseOrder{}, err
	}
	return po, nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func queryLines(ctx context.Context, q querier, poID int64, poNumber string) ([]Line, error) {
	rows, err := q.Query(ctx,
		`SELECT l.line_key, l.item, l.color, l.size, l.ordered_qty, l.unit_cost::text,
			COALESCE((SELECT SUM(r.received_qty) FROM receipts r
				WHERE r.po_number=$2 AND r.po_line_id=l.line_key), 0)
		 FROM po_lines l WHERE l.po_id=$1 ORDER BY l.id`, poID, poNumber)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []Line
	index := make(map[string]int)
	for rows.Next() {
		var line Line
		var key, costText string
		if err := rows.Scan(&key, &line.Key.Item, &line.Key.Color, &line.Key.Size,
			&line.OrderedQty, &costText, &line.ReceivedQty); err != nil {
			return nil, err
		}
		line.UnitCost, err = decimal.NewFromString(costText)
		if err != nil {
			return nil, err
		}
		index[key] = len(lines)
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	refRows, err := q.Query(ctx,
		`SELECT l.line_key, o.order_id, o.demanded_qty
		 FROM po_line_orders o JOIN po_lines l ON l.id = o.po_line_id
		 WHERE l.po_id=$1 ORDER BY o.order_id`, poID)
	if err != nil {
		return nil, err
	}
	defer refRows.Close()
	for refRows.Next() {
		var key string
		var ref OrderRef
		if err := refRows.Scan(&key, &ref.OrderID, &ref.DemandedQty); err != nil {
			return nil, err
		}
		if i, ok := index[key]; ok {
			lines[i].Orders = append(lines[i].Orders, ref)
		}
	}
	return lines, refRows.Err()
}

func (tx *txRepo) LockPO(ctx context.Context, id int64) (PurchaseOrder, error) {
	return scanPO(tx.tx.QueryRow(ctx, poSelect+` WHERE p.id=$1 FOR UPDATE`, id))
}

func (tx *txRepo) AppendReceipt(ctx context.Context, ev ReceiptEvent) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx,
		`INSERT INTO receipts (po_number, po_line_id, received_qty, actor_id, batch_id, created_at)
		 VALUES ($1,$2,$3,$4,$5,NOW()) RETURNING id`,
		ev.PONumber, ev.LineID, ev.Qty, ev.ActorID, ev.BatchID).Scan(&id)
	return id, err
}

func (tx *txRepo) LinesWithTotals(ctx context.Context, poID int64, poNumber string) ([]Line, error) {
	return queryLines(ctx, tx.tx, poID, poNumber)
}

func (tx *txRepo) UpdatePOStatus(ctx context.Context, id int64, status POStatus) error {
	_, err := tx.tx.Exec(ctx, `UPDATE pos SET status=$1 WHERE id=$2`, status, id)
	return err
}

func (tx *txRepo) SetPONumber(ctx context.Context, id int64, number string, orderedOn time.Time) error {
	_, err := tx.tx.Exec(ctx, `UPDATE pos SET number=$1, ordered_on=$2 WHERE id=$3`,
		number, orderedOn.Format("2006-01-02"), id)
	return err
}

func (tx *txRepo) ClearPONumber(ctx context.Context, id int64) error {
	_, err := tx.tx.Exec(ctx, `UPDATE pos SET number='', ordered_on=NULL WHERE id=$1`, id)
	return err
}

func (tx *txRepo) SetPOTotal(ctx context.Context, id int64, total decimal.Decimal) error {
	_, err := tx.tx.Exec(ctx, `UPDATE pos SET total=$1 WHERE id=$2`, total.String(), id)
	return err
}

func (tx *txRepo) CreatePO(ctx context.Context, po PurchaseOrder) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx,
		`INSERT INTO pos (vendor, number, status, total, created_at)
		 VALUES ($1,$2,$3,$4,NOW()) RETURNING id`,
		po.Vendor, po.Number, po.Status, po.Total.String()).Scan(&id)
	return id, err
}

func (tx *txRepo) MaxSequenceOn(ctx context.Context, vendor string, day time.Time) (int, error) {
	var n int
	err := tx.tx.QueryRow(ctx, maxSequenceSQL, vendor, day.Format("2006-01-02")).Scan(&n)
	return n, err
}

func (tx *txRepo) FindOpenRunForUpdate(ctx context.Context, vendor string) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx,
		`SELECT id FROM pos WHERE status=$1 AND LOWER(vendor)=LOWER($2) ORDER BY id LIMIT 1 FOR UPDATE`,
		POStatusOpen, vendor).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return id, err
}

func (tx *txRepo) MergeLine(ctx context.Context, poID int64, line Line) error {
	var lineID int64
	err := tx.tx.QueryRow(ctx,
		`INSERT INTO po_lines (po_id, line_key, item, color, size, ordered_qty, unit_cost)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)
		 ON CONFLICT (po_id, line_key) DO UPDATE SET
			ordered_qty = po_lines.ordered_qty + EXCLUDED.ordered_qty,
			unit_cost = CASE WHEN po_lines.unit_cost = 0 THEN EXCLUDED.unit_cost ELSE po_lines.unit_cost END
		 RETURNING id`,
		poID, line.Key.String(), line.Key.Item, line.Key.Color, line.Key.Size,
		line.OrderedQty, line.UnitCost.String()).Scan(&lineID)
	if err != nil {
		return err
	}
	for _, ref := range line.Orders {
		_, err := tx.tx.Exec(ctx,
			`INSERT INTO po_line_orders (po_line_id, order_id, demanded_qty)
			 VALUES ($1,$2,$3)
			 ON CONFLICT (po_line_id, order_id) DO UPDATE SET
				demanded_qty = po_line_orders.demanded_qty + EXCLUDED.demanded_qty`,
			lineID, ref.OrderID, ref.DemandedQty)
		if err != nil {
			return err
		}
	}
	return nil
}

func (tx *txRepo) DeleteLine(ctx context.Context, poID int64, key string) error {
	_, err := tx.tx.Exec(ctx,
		`DELETE FROM po_line_orders WHERE po_line_id IN (SELECT id FROM po_lines WHERE po_id=$1 AND line_key=$2)`,
		poID, key)
	if err != nil {
		return err
	}
	_, err = tx.tx.Exec(ctx, `DELETE FROM po_lines WHERE po_id=$1 AND line_key=$2`, poID, key)
	return err
}

func (tx *txRepo) DeletePO(ctx context.Context, id int64) error {
	if _, err := tx.tx.Exec(ctx,
		`DELETE FROM po_line_orders WHERE po_line_id IN (SELECT id FROM po_lines WHERE po_id=$1)`, id); err != nil {
		return err
	}
	if _, err := tx.tx.Exec(ctx, `DELETE FROM po_lines WHERE po_id=$1`, id); err != nil {
		return err
	}
	if _, err := tx.tx.Exec(ctx, `DELETE FROM receive_drafts WHERE po_id=$1`, id); err != nil {
		return err
	}
	_, err := tx.tx.Exec(ctx, `DELETE FROM pos WHERE id=$1`, id)
	return err
}

func (tx *txRepo) SaveDraft(ctx context.Context, poID int64, lines []DraftLine) error {
	raw, err := json.Marshal(lines)
	if err != nil {
		return err
	}
	_, err = tx.tx.Exec(ctx,
		`INSERT INTO receive_drafts (po_id, lines, updated_at) VALUES ($1,$2,NOW())
		 ON CONFLICT (po_id) DO UPDATE SET lines=EXCLUDED.lines, updated_at=NOW()`,
		poID, raw)
	return err
}

func (tx *txRepo) ClearDraft(ctx context.Context, poID int64) error {
	_, err := tx.tx.Exec(ctx, `DELETE FROM receive_drafts WHERE po_id=$1`, poID)
	return err
}
