package receiving

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/printflow-erp/printflow/internal/shared"
)

const receiveLockTTL = 30 * time.Second

// OrderProjector pushes reconciliation outcomes onto sales orders.
type OrderProjector interface {
	SetProcessing(ctx context.Context, orderID int64) error
	SetReadiness(ctx context.Context, orderID int64, ready, missing bool) error
	RevertToHold(ctx context.Context, orderID int64) error
	MarkOnOrder(ctx context.Context, orderID int64, poNumber string) error
	ClearPOLink(ctx context.Context, orderID int64, poNumber string) error
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyPort guards receive batches against replays.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// LockerPort serialises receive batches per purchase order.
type LockerPort interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

// WorklistCache caches the open-receiving worklist.
type WorklistCache interface {
	Get(ctx context.Context, limit, offset int) ([]POListItem, int, bool)
	Set(ctx context.Context, limit, offset int, items []POListItem, total int)
	Invalidate(ctx context.Context)
}

// Service orchestrates receipt reconciliation and the PO worklist.
type Service struct {
	repo        RepositoryPort
	orders      OrderProjector
	locks       LockerPort
	audit       AuditPort
	idempotency IdempotencyPort
	cache       WorklistCache
}

// NewService constructs the receiving service.
func NewService(repo RepositoryPort, orders OrderProjector, locks LockerPort, audit AuditPort, idem IdempotencyPort, cache WorklistCache) *Service {
	return &Service{repo: repo, orders: orders, locks: locks, audit: audit, idempotency: idem, cache: cache}
}

// ReceiveDelta is one counted quantity for a single PO line.
type ReceiveDelta struct {
	LineID string `json:"po_line_id" validate:"required"`
	Qty    int    `json:"add_qty" validate:"gte=0"`
}

// ReceiveInput describes one submitted receive batch.
type ReceiveInput struct {
	POID           int64
	PONumber       string
	Deltas         []ReceiveDelta
	IdempotencyKey string
}

// Receive appends the counted quantities to the receipt ledger, re-derives
// every line total from the ledger and reconciles order readiness and PO
// closure from the fresh totals.
func (s *Service) Receive(ctx context.Context, input ReceiveInput) (ReceiveResult, error) {
	actorID := shared.ActorFromContext(ctx)
	if actorID == 0 {
		return ReceiveResult{}, ErrUnauthenticated
	}

	deltas := make([]ReceiveDelta, 0, len(input.Deltas))
	for _, d := range input.Deltas {
		if d.Qty <= 0 {
			continue
		}
		if _, err := ParseLineKey(d.LineID); err != nil {
			continue
		}
		deltas = append(deltas, d)
	}
	if len(deltas) == 0 {
		return ReceiveResult{}, fmt.Errorf("%w: no positive quantities", ErrInvalidPayload)
	}

	release, err := s.locks.Acquire(ctx, shared.ReceiveLockKey(input.POID), receiveLockTTL)
	if err != nil {
		return ReceiveResult{}, err
	}
	defer release()

	if input.IdempotencyKey != "" && s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, input.IdempotencyKey, "receiving.receive"); err != nil {
			return ReceiveResult{}, err
		}
	}

	batchID := uuid.NewString()
	var result ReceiveResult
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, err := tx.LockPO(ctx, input.POID)
		if err != nil {
			return err
		}
		if po.Status != POStatusOrdered {
			return fmt.Errorf("%w: cannot receive against %s purchase order", ErrInvalidState, po.Status)
		}
		poNumber := resolvePONumber(input.PONumber, po)

		for _, d := range deltas {
			ev := ReceiptEvent{
				PONumber: poNumber,
				LineID:   d.LineID,
				Qty:      d.Qty,
				ActorID:  actorID,
				BatchID:  batchID,
			}
			if _, err := tx.AppendReceipt(ctx, ev); err != nil {
				return err
			}
		}

		lines, err := tx.LinesWithTotals(ctx, po.ID, poNumber)
		if err != nil {
			return err
		}
		result = reconcile(po, poNumber, lines)
		if len(lines) == 0 {
			result.Note = "no lines on purchase order"
			return nil
		}

		if result.FullyReceived {
			if err := tx.UpdatePOStatus(ctx, po.ID, POStatusReceived); err != nil {
				return err
			}
			for _, orderID := range sortedOrderIDs(result.Orders) {
				if err := s.orders.SetProcessing(ctx, orderID); err != nil {
					return err
				}
			}
		}
		for _, orderID := range sortedOrderIDs(result.Orders) {
			decision := result.Orders[orderID]
			if !decision.Ready && !decision.Missing {
				continue
			}
			if err := s.orders.SetReadiness(ctx, orderID, decision.Ready, decision.Missing); err != nil {
				return err
			}
		}
		return tx.ClearDraft(ctx, po.ID)
	})
	if err != nil {
		if input.IdempotencyKey != "" && s.idempotency != nil {
			_ = s.idempotency.Delete(ctx, input.IdempotencyKey)
		}
		return ReceiveResult{}, err
	}

	if s.cache != nil {
		s.cache.Invalidate(ctx)
	}
	s.recordAudit(ctx, "RECEIVE", input.POID, map[string]any{
		"po_number": result.PONumber,
		"batch_id":  batchID,
		"lines":     len(deltas),
		"closed":    result.FullyReceived,
	})
	return result, nil
}

// CloseIfComplete re-runs reconciliation with no new receipts, closing the
// PO if ledger totals already cover every line. Used by the periodic sweep.
func (s *Service) CloseIfComplete(ctx context.Context, poID int64) (bool, error) {
	release, err := s.locks.Acquire(ctx, shared.ReceiveLockKey(poID), receiveLockTTL)
	if err != nil {
		return false, err
	}
	defer release()

	var closed bool
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, err := tx.LockPO(ctx, poID)
		if err != nil {
			return err
		}
		if po.Status != POStatusOrdered {
			return nil
		}
		poNumber := resolvePONumber("", po)
		lines, err := tx.LinesWithTotals(ctx, po.ID, poNumber)
		if err != nil {
			return err
		}
		result := reconcile(po, poNumber, lines)
		if len(lines) == 0 || !result.FullyReceived {
			return nil
		}
		if err := tx.UpdatePOStatus(ctx, po.ID, POStatusReceived); err != nil {
			return err
		}
		for _, orderID := range sortedOrderIDs(result.Orders) {
			if err := s.orders.SetProcessing(ctx, orderID); err != nil {
				return err
			}
			decision := result.Orders[orderID]
			if err := s.orders.SetReadiness(ctx, orderID, decision.Ready, decision.Missing); err != nil {
				return err
			}
		}
		closed = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if closed {
		if s.cache != nil {
			s.cache.Invalidate(ctx)
		}
		s.recordAudit(ctx, "PO_CLOSE_SWEEP", poID, nil)
	}
	return closed, nil
}

// ListOpenPOs returns the receiving worklist page.
func (s *Service) ListOpenPOs(ctx context.Context, limit, offset int) ([]POListItem, int, error) {
	if s.cache != nil {
		if items, total, ok := s.cache.Get(ctx, limit, offset); ok {
			return items, total, nil
		}
	}
	items, total, err := s.repo.ListOpenPOs(ctx, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	if s.cache != nil {
		s.cache.Set(ctx, limit, offset, items, total)
	}
	return items, total, nil
}

// GetLines returns one PO's lines with ledger-derived received totals.
func (s *Service) GetLines(ctx context.Context, poID int64) (PurchaseOrder, []Line, error) {
	po, err := s.repo.GetPO(ctx, poID)
	if err != nil {
		return PurchaseOrder{}, nil, err
	}
	lines, err := s.repo.GetLines(ctx, po.ID, resolvePONumber("", po))
	if err != nil {
		return PurchaseOrder{}, nil, err
	}
	return po, lines, nil
}

// SaveDraft stores partially counted quantities so a count can resume later.
func (s *Service) SaveDraft(ctx context.Context, poID int64, lines []DraftLine) error {
	if shared.ActorFromContext(ctx) == 0 {
		return ErrUnauthenticated
	}
	kept := lines[:0]
	for _, l := range lines {
		if l.Qty > 0 && l.LineID != "" {
			kept = append(kept, l)
		}
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.LockPO(ctx, poID); err != nil {
			return err
		}
		if len(kept) == 0 {
			return tx.ClearDraft(ctx, poID)
		}
		return tx.SaveDraft(ctx, poID, kept)
	})
}

// GetDraft loads the saved draft for a PO.
func (s *Service) GetDraft(ctx context.Context, poID int64) ([]DraftLine, error) {
	if _, err := s.repo.GetPO(ctx, poID); err != nil {
		return nil, err
	}
	return s.repo.GetDraft(ctx, poID)
}

// reconcile derives the per-line and per-order outcome from fresh ledger
// totals. Orders with no received goods at all keep both flags false and
// are never projected.
func reconcile(po PurchaseOrder, poNumber string, lines []Line) ReceiveResult {
	result := ReceiveResult{
		POID:     po.ID,
		PONumber: poNumber,
		Orders:   make(map[int64]OrderDecision),
	}
	type agg struct {
		anyReceived bool
		anyShort    bool
	}
	perOrder := make(map[int64]*agg)
	anyShort := false
	for _, line := range lines {
		short := line.Short()
		anyShort = anyShort || short
		for _, ref := range line.Orders {
			a, ok := perOrder[ref.OrderID]
			if !ok {
				a = &agg{}
				perOrder[ref.OrderID] = a
			}
			a.anyReceived = a.anyReceived || line.ReceivedQty > 0
			a.anyShort = a.anyShort || short
		}
	}
	result.FullyReceived = len(lines) > 0 && !anyShort
	for orderID, a := range perOrder {
		if !a.anyReceived {
			result.Orders[orderID] = OrderDecision{}
			continue
		}
		result.Orders[orderID] = OrderDecision{Ready: true, Missing: a.anyShort}
	}
	return result
}

// resolvePONumber prefers the caller-supplied number, then the stored PO
// number, then the internal id rendered as text.
func resolvePONumber(wire string, po PurchaseOrder) string {
	if wire != "" {
		return wire
	}
	if po.Number != "" {
		return po.Number
	}
	return fmt.Sprintf("%d", po.ID)
}

func sortedOrderIDs(orders map[int64]OrderDecision) []int64 {
	ids := make([]int64, 0, len(orders))
	for id := range orders {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (s *Service) recordAudit(ctx context.Context, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  shared.ActorFromContext(ctx),
		Action:   action,
		Entity:   shared.EntityPO,
		EntityID: fmt.Sprintf("%d", entityID),
		Meta:     meta,
	})
}
