package receiving

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/printflow-erp/printflow/internal/shared"
)

// RunLineInput is one demanded line added to a vendor run.
type RunLineInput struct {
	Item     string          `json:"item" validate:"required"`
	Color    string          `json:"color"`
	Size     string          `json:"size"`
	Qty      int             `json:"qty" validate:"gt=0"`
	UnitCost decimal.Decimal `json:"unit_cost"`
	Orders   []OrderRef      `json:"orders"`
}

// AddToRunInput describes demand pushed onto a vendor's open run.
type AddToRunInput struct {
	Vendor string         `json:"vendor" validate:"required"`
	Lines  []RunLineInput `json:"lines" validate:"required,min=1,dive"`
}

// AddToRun merges demanded lines into the vendor's single open run,
// creating the run when none exists. Lines with a matching item, color and
// size are summed and their order references unioned.
func (s *Service) AddToRun(ctx context.Context, input AddToRunInput) (int64, error) {
	if shared.ActorFromContext(ctx) == 0 {
		return 0, ErrUnauthenticated
	}
	if input.Vendor == "" || len(input.Lines) == 0 {
		return 0, fmt.Errorf("%w: vendor and lines required", ErrInvalidPayload)
	}

	var poID int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.FindOpenRunForUpdate(ctx, input.Vendor)
		if err != nil {
			return err
		}
		if id == 0 {
			id, err = tx.CreatePO(ctx, PurchaseOrder{
				Vendor: input.Vendor,
				Status: POStatusOpen,
			})
			if err != nil {
				return err
			}
		}
		poID = id
		for _, in := range input.Lines {
			line := Line{
				Key:        NewLineKey(in.Item, in.Color, in.Size),
				OrderedQty: in.Qty,
				UnitCost:   in.UnitCost,
				Orders:     in.Orders,
			}
			if err := tx.MergeLine(ctx, id, line); err != nil {
				return err
			}
		}
		return recomputeTotal(ctx, tx, id)
	})
	if err != nil {
		return 0, err
	}
	s.recordAudit(ctx, "RUN_ADD_LINES", poID, map[string]any{"vendor": input.Vendor, "lines": len(input.Lines)})
	return poID, nil
}

// MarkOrdered publishes an open run: assigns the human-facing PO number,
// flips the status and stamps every referenced order with the number.
// Calling it again on an already numbered PO is a no-op that returns the
// existing number.
func (s *Service) MarkOrdered(ctx context.Context, poID int64, prefix string) (PurchaseOrder, error) {
	if shared.ActorFromContext(ctx) == 0 {
		return PurchaseOrder{}, ErrUnauthenticated
	}

	var published PurchaseOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, err := tx.LockPO(ctx, poID)
		if err != nil {
			return err
		}
		if po.Status == POStatusReceived {
			return fmt.Errorf("%w: purchase order already closed", ErrInvalidState)
		}
		if po.Number == "" {
			day := time.Now().UTC()
			seq, err := tx.MaxSequenceOn(ctx, po.Vendor, day)
			if err != nil {
				return err
			}
			po.Number = fmt.Sprintf("%s-%s-%s-%d", prefix, vendorSlug(po.Vendor), day.Format("01022006"), seq+1)
			po.OrderedOn = day
			if err := tx.SetPONumber(ctx, po.ID, po.Number, day); err != nil {
				return err
			}
		}
		if po.Status != POStatusOrdered {
			if err := tx.UpdatePOStatus(ctx, po.ID, POStatusOrdered); err != nil {
				return err
			}
			po.Status = POStatusOrdered
		}

		lines, err := tx.LinesWithTotals(ctx, po.ID, po.Number)
		if err != nil {
			return err
		}
		for _, orderID := range referencedOrders(lines) {
			if err := s.orders.MarkOnOrder(ctx, orderID, po.Number); err != nil {
				return err
			}
		}
		published = po
		return nil
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	if s.cache != nil {
		s.cache.Invalidate(ctx)
	}
	s.recordAudit(ctx, "PO_MARK_ORDERED", poID, map[string]any{"po_number": published.Number})
	return published, nil
}

// MarkNotOrdered reverts a published PO to an open run. The assigned number
// is kept so a later re-publish reuses it, but order linkage is undone.
func (s *Service) MarkNotOrdered(ctx context.Context, poID int64) error {
	if shared.ActorFromContext(ctx) == 0 {
		return ErrUnauthenticated
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, err := tx.LockPO(ctx, poID)
		if err != nil {
			return err
		}
		if po.Status != POStatusOrdered {
			return fmt.Errorf("%w: purchase order is not on order", ErrInvalidState)
		}
		if err := tx.UpdatePOStatus(ctx, po.ID, POStatusOpen); err != nil {
			return err
		}
		lines, err := tx.LinesWithTotals(ctx, po.ID, resolvePONumber("", po))
		if err != nil {
			return err
		}
		for _, orderID := range referencedOrders(lines) {
			if err := s.orders.ClearPOLink(ctx, orderID, po.Number); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if s.cache != nil {
		s.cache.Invalidate(ctx)
	}
	s.recordAudit(ctx, "PO_MARK_NOT_ORDERED", poID, nil)
	return nil
}

// PruneLines removes lines from a PO. Orders referenced by a removed line
// that already had goods received lose their readiness flags so the floor
// reconsiders them. Pruning the last line reverts the PO to an empty open
// run and drops its number.
func (s *Service) PruneLines(ctx context.Context, poID int64, keys []string) error {
	if shared.ActorFromContext(ctx) == 0 {
		return ErrUnauthenticated
	}
	if len(keys) == 0 {
		return fmt.Errorf("%w: no line keys", ErrInvalidPayload)
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, err := tx.LockPO(ctx, poID)
		if err != nil {
			return err
		}
		poNumber := resolvePONumber("", po)
		lines, err := tx.LinesWithTotals(ctx, po.ID, poNumber)
		if err != nil {
			return err
		}
		byKey := make(map[string]Line, len(lines))
		for _, line := range lines {
			byKey[line.Key.String()] = line
		}
		reconsider := make(map[int64]bool)
		removedRefs := make(map[int64]bool)
		for _, raw := range keys {
			key, err := ParseLineKey(raw)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
			}
			line, ok := byKey[key.String()]
			if !ok {
				continue
			}
			for _, ref := range line.Orders {
				removedRefs[ref.OrderID] = true
				if line.ReceivedQty > 0 {
					reconsider[ref.OrderID] = true
				}
			}
			if err := tx.DeleteLine(ctx, po.ID, key.String()); err != nil {
				return err
			}
			delete(byKey, key.String())
		}
		for orderID := range reconsider {
			if err := s.orders.SetReadiness(ctx, orderID, false, false); err != nil {
				return err
			}
		}
		stillReferenced := make(map[int64]bool)
		for _, line := range byKey {
			for _, ref := range line.Orders {
				stillReferenced[ref.OrderID] = true
			}
		}
		// An order that lost its last referencing line goes back to the
		// demand queue.
		for orderID := range removedRefs {
			if stillReferenced[orderID] {
				continue
			}
			if po.Number != "" {
				if err := s.orders.ClearPOLink(ctx, orderID, po.Number); err != nil {
					return err
				}
			}
			if err := s.orders.RevertToHold(ctx, orderID); err != nil {
				return err
			}
		}
		if len(byKey) == 0 {
			if err := tx.UpdatePOStatus(ctx, po.ID, POStatusOpen); err != nil {
				return err
			}
			if err := tx.ClearPONumber(ctx, po.ID); err != nil {
				return err
			}
		}
		return recomputeTotal(ctx, tx, po.ID)
	})
	if err != nil {
		return err
	}
	if s.cache != nil {
		s.cache.Invalidate(ctx)
	}
	s.recordAudit(ctx, "PO_PRUNE_LINES", poID, map[string]any{"keys": len(keys)})
	return nil
}

// DeleteOrRevert removes a PO from the ordering pipeline. An open run is
// deleted outright. An ordered PO has its demand folded back into the
// vendor's current open run when one exists, otherwise it reverts to open
// in place. Referenced orders return to hold either way.
func (s *Service) DeleteOrRevert(ctx context.Context, poID int64) error {
	if shared.ActorFromContext(ctx) == 0 {
		return ErrUnauthenticated
	}
	var action string
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, err := tx.LockPO(ctx, poID)
		if err != nil {
			return err
		}
		if po.Status == POStatusReceived {
			return fmt.Errorf("%w: purchase order already closed", ErrInvalidState)
		}
		poNumber := resolvePONumber("", po)
		lines, err := tx.LinesWithTotals(ctx, po.ID, poNumber)
		if err != nil {
			return err
		}
		for _, orderID := range referencedOrders(lines) {
			if po.Number != "" {
				if err := s.orders.ClearPOLink(ctx, orderID, po.Number); err != nil {
					return err
				}
			}
			if err := s.orders.RevertToHold(ctx, orderID); err != nil {
				return err
			}
		}

		if po.Status == POStatusOpen {
			action = "deleted"
			return tx.DeletePO(ctx, po.ID)
		}

		runID, err := tx.FindOpenRunForUpdate(ctx, po.Vendor)
		if err != nil {
			return err
		}
		if runID == 0 || runID == po.ID {
			action = "reverted"
			return tx.UpdatePOStatus(ctx, po.ID, POStatusOpen)
		}
		for _, line := range lines {
			if err := tx.MergeLine(ctx, runID, line); err != nil {
				return err
			}
		}
		if err := recomputeTotal(ctx, tx, runID); err != nil {
			return err
		}
		action = "merged"
		return tx.DeletePO(ctx, po.ID)
	})
	if err != nil {
		return err
	}
	if s.cache != nil {
		s.cache.Invalidate(ctx)
	}
	s.recordAudit(ctx, "PO_DELETE_OR_REVERT", poID, map[string]any{"action": action})
	return nil
}

func recomputeTotal(ctx context.Context, tx TxRepository, poID int64) error {
	po, err := tx.LockPO(ctx, poID)
	if err != nil {
		return err
	}
	lines, err := tx.LinesWithTotals(ctx, po.ID, resolvePONumber("", po))
	if err != nil {
		return err
	}
	total := decimal.Zero
	for _, line := range lines {
		total = total.Add(line.UnitCost.Mul(decimal.NewFromInt(int64(line.OrderedQty))))
	}
	return tx.SetPOTotal(ctx, po.ID, total)
}

func referencedOrders(lines []Line) []int64 {
	seen := make(map[int64]struct{})
	var ids []int64
	for _, line := range lines {
		for _, ref := range line.Orders {
			if _, ok := seen[ref.OrderID]; ok {
				continue
			}
			seen[ref.OrderID] = struct{}{}
			ids = append(ids, ref.OrderID)
		}
	}
	return ids
}

func vendorSlug(vendor string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(vendor) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "VENDOR"
	}
	return b.String()
}
