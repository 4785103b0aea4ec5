package receiving

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/printflow-erp/printflow/internal/shared"
)

type memoryRepo struct {
	pos      map[int64]PurchaseOrder
	lines    map[int64]map[string]Line
	receipts []ReceiptEvent
	drafts   map[int64][]DraftLine
	nextID   int64
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		pos:    make(map[int64]PurchaseOrder),
		lines:  make(map[int64]map[string]Line),
		drafts: make(map[int64][]DraftLine),
	}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{repo: r})
}

func (r *memoryRepo) GetPO(ctx context.Context, id int64) (PurchaseOrder, error) {
	po, ok := r.pos[id]
	if !ok {
		return PurchaseOrder{}, ErrNotFound
	}
	return po, nil
}

func (r *memoryRepo) GetLines(ctx context.Context, poID int64, poNumber string) ([]Line, error) {
	byKey := r.lines[poID]
	keys := make([]string, 0, len(byKey))
	for key := range byKey {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	out := make([]Line, 0, len(keys))
	for _, key := range keys {
		line := byKey[key]
		line.ReceivedQty = 0
		for _, ev := range r.receipts {
			if ev.PONumber == poNumber && ev.LineID == key {
				line.ReceivedQty += ev.Qty
			}
		}
		out = append(out, line)
	}
	return out, nil
}

func (r *memoryRepo) ListOpenPOs(ctx context.Context, limit, offset int) ([]POListItem, int, error) {
	var items []POListItem
	ids := make([]int64, 0, len(r.pos))
	for id := range r.pos {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		po := r.pos[id]
		if po.Status != POStatusOrdered {
			continue
		}
		lines, _ := r.GetLines(ctx, id, numberOf(po))
		short := false
		for _, line := range lines {
			if line.Short() {
				short = true
				break
			}
		}
		if !short {
			continue
		}
		items = append(items, POListItem{ID: po.ID, Number: po.Number, Vendor: po.Vendor, Status: po.Status, ItemsCount: len(lines)})
	}
	total := len(items)
	if offset >= len(items) {
		return nil, total, nil
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end], total, nil
}

func (r *memoryRepo) ListOrderedPOIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	for id, po := range r.pos {
		if po.Status == POStatusOrdered {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (r *memoryRepo) GetDraft(ctx context.Context, poID int64) ([]DraftLine, error) {
	return append([]DraftLine(nil), r.drafts[poID]...), nil
}

func (r *memoryRepo) MaxSequenceOn(ctx context.Context, vendor string, day time.Time) (int, error) {
	max := 0
	for _, po := range r.pos {
		if po.Vendor != vendor || po.Number == "" || po.OrderedOn.Format("2006-01-02") != day.Format("2006-01-02") {
			continue
		}
		i := strings.LastIndex(po.Number, "-")
		if i < 0 {
			continue
		}
		if seq, err := strconv.Atoi(po.Number[i+1:]); err == nil && seq > max {
			max = seq
		}
	}
	return max, nil
}

func (r *memoryRepo) FindOpenRun(ctx context.Context, vendor string) (int64, error) {
	return r.findOpenRun(vendor), nil
}

func (r *memoryRepo) findOpenRun(vendor string) int64 {
	var best int64
	for id, po := range r.pos {
		if po.Status != POStatusOpen || !strings.EqualFold(po.Vendor, vendor) {
			continue
		}
		if best == 0 || id < best {
			best = id
		}
	}
	return best
}

func numberOf(po PurchaseOrder) string {
	return resolvePONumber("", po)
}

func (tx *memoryTx) LockPO(ctx context.Context, id int64) (PurchaseOrder, error) {
	return tx.repo.GetPO(ctx, id)
}

func (tx *memoryTx) AppendReceipt(ctx context.Context, ev ReceiptEvent) (int64, error) {
	tx.repo.nextID++
	ev.ID = tx.repo.nextID
	ev.CreatedAt = time.Now()
	tx.repo.receipts = append(tx.repo.receipts, ev)
	return ev.ID, nil
}

func (tx *memoryTx) LinesWithTotals(ctx context.Context, poID int64, poNumber string) ([]Line, error) {
	return tx.repo.GetLines(ctx, poID, poNumber)
}

func (tx *memoryTx) UpdatePOStatus(ctx context.Context, id int64, status POStatus) error {
	po := tx.repo.pos[id]
	po.Status = status
	tx.repo.pos[id] = po
	return nil
}

func (tx *memoryTx) SetPONumber(ctx context.Context, id int64, number string, orderedOn time.Time) error {
	po := tx.repo.pos[id]
	po.Number = number
	po.OrderedOn = orderedOn
	tx.repo.pos[id] = po
	return nil
}

func (tx *memoryTx) ClearPONumber(ctx context.Context, id int64) error {
	po := tx.repo.pos[id]
	po.Number = ""
	po.OrderedOn = time.Time{}
	tx.repo.pos[id] = po
	return nil
}

func (tx *memoryTx) SetPOTotal(ctx context.Context, id int64, total decimal.Decimal) error {
	po := tx.repo.pos[id]
	po.Total = total
	tx.repo.pos[id] = po
	return nil
}

func (tx *memoryTx) CreatePO(ctx context.Context, po PurchaseOrder) (int64, error) {
	tx.repo.nextID++
	po.ID = tx.repo.nextID
	if po.Total.IsZero() {
		po.Total = decimal.Zero
	}
	tx.repo.pos[po.ID] = po
	tx.repo.lines[po.ID] = make(map[string]Line)
	return po.ID, nil
}

func (tx *memoryTx) MaxSequenceOn(ctx context.Context, vendor string, day time.Time) (int, error) {
	return tx.repo.MaxSequenceOn(ctx, vendor, day)
}

func (tx *memoryTx) FindOpenRunForUpdate(ctx context.Context, vendor string) (int64, error) {
	return tx.repo.findOpenRun(vendor), nil
}

func (tx *memoryTx) MergeLine(ctx context.Context, poID int64, line Line) error {
	byKey := tx.repo.lines[poID]
	if byKey == nil {
		byKey = make(map[string]Line)
		tx.repo.lines[poID] = byKey
	}
	key := line.Key.String()
	existing, ok := byKey[key]
	if !ok {
		line.ReceivedQty = 0
		byKey[key] = line
		return nil
	}
	existing.OrderedQty += line.OrderedQty
	if existing.UnitCost.IsZero() {
		existing.UnitCost = line.UnitCost
	}
	for _, ref := range line.Orders {
		merged := false
		for i, have := range existing.Orders {
			if have.OrderID == ref.OrderID {
				existing.Orders[i].DemandedQty += ref.DemandedQty
				merged = true
				break
			}
		}
		if !merged {
			existing.Orders = append(existing.Orders, ref)
		}
	}
	byKey[key] = existing
	return nil
}

func (tx *memoryTx) DeleteLine(ctx context.Context, poID int64, key string) error {
	delete(tx.repo.lines[poID], key)
	return nil
}

func (tx *memoryTx) DeletePO(ctx context.Context, id int64) error {
	delete(tx.repo.pos, id)
	delete(tx.repo.lines, id)
	delete(tx.repo.drafts, id)
	return nil
}

func (tx *memoryTx) SaveDraft(ctx context.Context, poID int64, lines []DraftLine) error {
	tx.repo.drafts[poID] = append([]DraftLine(nil), lines...)
	return nil
}

func (tx *memoryTx) ClearDraft(ctx context.Context, poID int64) error {
	delete(tx.repo.drafts, poID)
	return nil
}

type projection struct {
	ready   bool
	missing bool
}

type stubProjector struct {
	processing []int64
	readiness  map[int64]projection
	held       []int64
	onOrder    map[int64][]string
	cleared    map[int64][]string
}

func newStubProjector() *stubProjector {
	return &stubProjector{
		readiness: make(map[int64]projection),
		onOrder:   make(map[int64][]string),
		cleared:   make(map[int64][]string),
	}
}

func (p *stubProjector) SetProcessing(ctx context.Context, orderID int64) error {
	p.processing = append(p.processing, orderID)
	return nil
}

func (p *stubProjector) SetReadiness(ctx context.Context, orderID int64, ready, missing bool) error {
	p.readiness[orderID] = projection{ready: ready, missing: missing}
	return nil
}

func (p *stubProjector) RevertToHold(ctx context.Context, orderID int64) error {
	p.held = append(p.held, orderID)
	return nil
}

func (p *stubProjector) MarkOnOrder(ctx context.Context, orderID int64, poNumber string) error {
	p.onOrder[orderID] = append(p.onOrder[orderID], poNumber)
	return nil
}

func (p *stubProjector) ClearPOLink(ctx context.Context, orderID int64, poNumber string) error {
	p.cleared[orderID] = append(p.cleared[orderID], poNumber)
	return nil
}

func newTestService(t *testing.T) (*Service, *memoryRepo, *stubProjector) {
	t.Helper()
	repo := newMemoryRepo()
	proj := newStubProjector()
	svc := NewService(repo, proj, shared.NewKeyedMutex(), nil, nil, nil)
	return svc, repo, proj
}

func actorCtx() context.Context {
	return shared.ContextWithActor(context.Background(), 7)
}

// seedOrderedPO installs an ordered PO with two lines. Line one feeds order
// 100, line two feeds orders 100 and 200.
func seedOrderedPO(repo *memoryRepo) int64 {
	repo.nextID++
	id := repo.nextID
	repo.pos[id] = PurchaseOrder{ID: id, Vendor: "Gildan", Number: "BT-GILDAN-01152026-1", Status: POStatusOrdered}
	repo.lines[id] = map[string]Line{
		"g5000|navy|m": {
			Key:        NewLineKey("G5000", "Navy", "M"),
			OrderedQty: 10,
			UnitCost:   decimal.RequireFromString("3.42"),
			Orders:     []OrderRef{{OrderID: 100, DemandedQty: 10}},
		},
		"g5000|navy|l": {
			Key:        NewLineKey("G5000", "Navy", "L"),
			OrderedQty: 6,
			UnitCost:   decimal.RequireFromString("3.42"),
			Orders:     []OrderRef{{OrderID: 100, DemandedQty: 4}, {OrderID: 200, DemandedQty: 2}},
		},
	}
	return id
}

func TestReceiveRequiresActor(t *testing.T) {
	svc, repo, _ := newTestService(t)
	poID := seedOrderedPO(repo)

	_, err := svc.Receive(context.Background(), ReceiveInput{
		POID:   poID,
		Deltas: []ReceiveDelta{{LineID: "g5000|navy|m", Qty: 1}},
	})
	require.ErrorIs(t, err, ErrUnauthenticated)
}

func TestReceiveUnknownPO(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Receive(actorCtx(), ReceiveInput{
		POID:   999,
		Deltas: []ReceiveDelta{{LineID: "g5000|navy|m", Qty: 1}},
	})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestReceiveRejectsBatchWithoutUsableDeltas(t *testing.T) {
	svc, repo, _ := newTestService(t)
	poID := seedOrderedPO(repo)

	_, err := svc.Receive(actorCtx(), ReceiveInput{
		POID: poID,
		Deltas: []ReceiveDelta{
			{LineID: "g5000|navy|m", Qty: 0},
			{LineID: "not-a-line-key", Qty: 5},
		},
	})
	require.ErrorIs(t, err, ErrInvalidPayload)
	require.Empty(t, repo.receipts)
}

func TestReceiveRejectsUnorderedPO(t *testing.T) {
	svc, repo, _ := newTestService(t)
	poID := seedOrderedPO(repo)
	po := repo.pos[poID]
	po.Status = POStatusOpen
	repo.pos[poID] = po

	_, err := svc.Receive(actorCtx(), ReceiveInput{
		POID:   poID,
		Deltas: []ReceiveDelta{{LineID: "g5000|navy|m", Qty: 1}},
	})
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestReceivePartialShipmentFlagsShortage(t *testing.T) {
	svc, repo, proj := newTestService(t)
	poID := seedOrderedPO(repo)

	result, err := svc.Receive(actorCtx(), ReceiveInput{
		POID:   poID,
		Deltas: []ReceiveDelta{{LineID: "g5000|navy|m", Qty: 10}},
	})
	require.NoError(t, err)

	require.False(t, result.FullyReceived)
	require.Equal(t, POStatusOrdered, repo.pos[poID].Status)
	require.Equal(t, OrderDecision{Ready: true, Missing: true}, result.Orders[100])
	require.Equal(t, projection{ready: true, missing: true}, proj.readiness[100])
	require.Empty(t, proj.processing)

	// Order 200 only rides on the untouched line: no goods arrived for it,
	// so it is reported but never projected.
	require.Equal(t, OrderDecision{}, result.Orders[200])
	_, projected := proj.readiness[200]
	require.False(t, projected)
}

func TestReceiveCompletionClosesPOAndReleasesOrders(t *testing.T) {
	svc, repo, proj := newTestService(t)
	poID := seedOrderedPO(repo)

	_, err := svc.Receive(actorCtx(), ReceiveInput{
		POID:   poID,
		Deltas: []ReceiveDelta{{LineID: "g5000|navy|m", Qty: 10}},
	})
	require.NoError(t, err)

	result, err := svc.Receive(actorCtx(), ReceiveInput{
		POID:   poID,
		Deltas: []ReceiveDelta{{LineID: "g5000|navy|l", Qty: 6}},
	})
	require.NoError(t, err)

	require.True(t, result.FullyReceived)
	require.Equal(t, POStatusReceived, repo.pos[poID].Status)
	require.ElementsMatch(t, []int64{100, 200}, proj.processing)
	require.Equal(t, projection{ready: true, missing: false}, proj.readiness[100])
	require.Equal(t, projection{ready: true, missing: false}, proj.readiness[200])
}

func TestReceiveOverageStillCloses(t *testing.T) {
	svc, repo, _ := newTestService(t)
	poID := seedOrderedPO(repo)

	result, err := svc.Receive(actorCtx(), ReceiveInput{
		POID: poID,
		Deltas: []ReceiveDelta{
			{LineID: "g5000|navy|m", Qty: 12},
			{LineID: "g5000|navy|l", Qty: 9},
		},
	})
	require.NoError(t, err)
	require.True(t, result.FullyReceived)
	require.Equal(t, POStatusReceived, repo.pos[poID].Status)
}

func TestReceiveTotalsAccumulateAcrossBatches(t *testing.T) {
	svc, repo, _ := newTestService(t)
	poID := seedOrderedPO(repo)

	for i := 0; i < 3; i++ {
		_, err := svc.Receive(actorCtx(), ReceiveInput{
			POID:   poID,
			Deltas: []ReceiveDelta{{LineID: "g5000|navy|m", Qty: 2}},
		})
		require.NoError(t, err)
	}

	_, lines, err := svc.GetLines(actorCtx(), poID)
	require.NoError(t, err)
	for _, line := range lines {
		if line.Key.String() == "g5000|navy|m" {
			require.Equal(t, 6, line.ReceivedQty)
			require.True(t, line.Short())
		}
	}

	// Reading again must not change derived totals.
	_, again, err := svc.GetLines(actorCtx(), poID)
	require.NoError(t, err)
	require.Equal(t, lines, again)
}

func TestReceiveKeysLedgerByInternalIDWhenNumberMissing(t *testing.T) {
	svc, repo, _ := newTestService(t)
	poID := seedOrderedPO(repo)
	po := repo.pos[poID]
	po.Number = ""
	repo.pos[poID] = po

	result, err := svc.Receive(actorCtx(), ReceiveInput{
		POID:   poID,
		Deltas: []ReceiveDelta{{LineID: "g5000|navy|m", Qty: 3}},
	})
	require.NoError(t, err)
	require.Equal(t, "1", result.PONumber)
	require.Equal(t, "1", repo.receipts[0].PONumber)
}

func TestReceiveOnPOWithoutLinesRecordsNote(t *testing.T) {
	svc, repo, proj := newTestService(t)
	repo.nextID++
	poID := repo.nextID
	repo.pos[poID] = PurchaseOrder{ID: poID, Vendor: "Gildan", Number: "BT-GILDAN-01152026-9", Status: POStatusOrdered}

	result, err := svc.Receive(actorCtx(), ReceiveInput{
		POID:   poID,
		Deltas: []ReceiveDelta{{LineID: "g5000|navy|m", Qty: 3}},
	})
	require.NoError(t, err)
	require.False(t, result.FullyReceived)
	require.NotEmpty(t, result.Note)
	require.Equal(t, POStatusOrdered, repo.pos[poID].Status)
	require.Empty(t, proj.processing)
	// The count itself still lands in the ledger.
	require.Len(t, repo.receipts, 1)
}

func TestReceiveStampsActorAndBatch(t *testing.T) {
	svc, repo, _ := newTestService(t)
	poID := seedOrderedPO(repo)

	_, err := svc.Receive(actorCtx(), ReceiveInput{
		POID: poID,
		Deltas: []ReceiveDelta{
			{LineID: "g5000|navy|m", Qty: 1},
			{LineID: "g5000|navy|l", Qty: 1},
		},
	})
	require.NoError(t, err)
	require.Len(t, repo.receipts, 2)
	require.Equal(t, int64(7), repo.receipts[0].ActorID)
	require.NotEmpty(t, repo.receipts[0].BatchID)
	require.Equal(t, repo.receipts[0].BatchID, repo.receipts[1].BatchID)
}

func TestReceiveClearsDraft(t *testing.T) {
	svc, repo, _ := newTestService(t)
	poID := seedOrderedPO(repo)
	repo.drafts[poID] = []DraftLine{{LineID: "g5000|navy|m", Qty: 4}}

	_, err := svc.Receive(actorCtx(), ReceiveInput{
		POID:   poID,
		Deltas: []ReceiveDelta{{LineID: "g5000|navy|m", Qty: 4}},
	})
	require.NoError(t, err)

	draft, err := svc.GetDraft(actorCtx(), poID)
	require.NoError(t, err)
	require.Empty(t, draft)
}

func TestSaveDraftKeepsOnlyPositiveCounts(t *testing.T) {
	svc, repo, _ := newTestService(t)
	poID := seedOrderedPO(repo)

	err := svc.SaveDraft(actorCtx(), poID, []DraftLine{
		{LineID: "g5000|navy|m", Qty: 4},
		{LineID: "g5000|navy|l", Qty: 0},
	})
	require.NoError(t, err)

	draft, err := svc.GetDraft(actorCtx(), poID)
	require.NoError(t, err)
	require.Equal(t, []DraftLine{{LineID: "g5000|navy|m", Qty: 4}}, draft)
}

func TestCloseIfCompleteSweepsCoveredPO(t *testing.T) {
	svc, repo, proj := newTestService(t)
	poID := seedOrderedPO(repo)

	// Ledger already covers both lines, but the PO was left ORDERED, as if
	// a crash hit between ledger write and closure.
	repo.receipts = append(repo.receipts,
		ReceiptEvent{PONumber: "BT-GILDAN-01152026-1", LineID: "g5000|navy|m", Qty: 10},
		ReceiptEvent{PONumber: "BT-GILDAN-01152026-1", LineID: "g5000|navy|l", Qty: 6},
	)

	closed, err := svc.CloseIfComplete(context.Background(), poID)
	require.NoError(t, err)
	require.True(t, closed)
	require.Equal(t, POStatusReceived, repo.pos[poID].Status)
	require.ElementsMatch(t, []int64{100, 200}, proj.processing)
}

func TestCloseIfCompleteLeavesShortPOAlone(t *testing.T) {
	svc, repo, proj := newTestService(t)
	poID := seedOrderedPO(repo)

	closed, err := svc.CloseIfComplete(context.Background(), poID)
	require.NoError(t, err)
	require.False(t, closed)
	require.Equal(t, POStatusOrdered, repo.pos[poID].Status)
	require.Empty(t, proj.processing)
}

func TestListOpenPOsOnlyShowsShortOrderedPOs(t *testing.T) {
	svc, repo, _ := newTestService(t)
	shortPO := seedOrderedPO(repo)

	// A fully received PO and an open run must not appear.
	repo.nextID++
	fullPO := repo.nextID
	repo.pos[fullPO] = PurchaseOrder{ID: fullPO, Vendor: "Next Level", Number: "BT-NEXTLEVEL-01152026-1", Status: POStatusOrdered}
	repo.lines[fullPO] = map[string]Line{
		"nl3600|black|s": {Key: NewLineKey("NL3600", "Black", "S"), OrderedQty: 5},
	}
	repo.receipts = append(repo.receipts, ReceiptEvent{PONumber: "BT-NEXTLEVEL-01152026-1", LineID: "nl3600|black|s", Qty: 5})

	repo.nextID++
	openPO := repo.nextID
	repo.pos[openPO] = PurchaseOrder{ID: openPO, Vendor: "Gildan", Status: POStatusOpen}

	items, total, err := svc.ListOpenPOs(context.Background(), 20, 0)
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Len(t, items, 1)
	require.Equal(t, shortPO, items[0].ID)
}

type stubIdempotency struct {
	keys    map[string]bool
	deleted []string
}

func (s *stubIdempotency) CheckAndInsert(ctx context.Context, key, module string) error {
	if s.keys[key] {
		return shared.ErrIdempotencyConflict
	}
	s.keys[key] = true
	return nil
}

func (s *stubIdempotency) Delete(ctx context.Context, key string) error {
	s.deleted = append(s.deleted, key)
	delete(s.keys, key)
	return nil
}

func TestReceiveRejectsReplayedIdempotencyKey(t *testing.T) {
	repo := newMemoryRepo()
	idem := &stubIdempotency{keys: make(map[string]bool)}
	svc := NewService(repo, newStubProjector(), shared.NewKeyedMutex(), nil, idem, nil)
	poID := seedOrderedPO(repo)

	input := ReceiveInput{
		POID:           poID,
		Deltas:         []ReceiveDelta{{LineID: "g5000|navy|m", Qty: 2}},
		IdempotencyKey: "truck-42",
	}
	_, err := svc.Receive(actorCtx(), input)
	require.NoError(t, err)
	require.Len(t, repo.receipts, 1)

	_, err = svc.Receive(actorCtx(), input)
	require.ErrorIs(t, err, shared.ErrIdempotencyConflict)
	require.Len(t, repo.receipts, 1)
}

func TestReceiveReleasesIdempotencyKeyOnFailure(t *testing.T) {
	repo := newMemoryRepo()
	idem := &stubIdempotency{keys: make(map[string]bool)}
	svc := NewService(repo, newStubProjector(), shared.NewKeyedMutex(), nil, idem, nil)

	_, err := svc.Receive(actorCtx(), ReceiveInput{
		POID:           999,
		Deltas:         []ReceiveDelta{{LineID: "g5000|navy|m", Qty: 2}},
		IdempotencyKey: "truck-43",
	})
	require.ErrorIs(t, err, ErrNotFound)
	require.Equal(t, []string{"truck-43"}, idem.deleted)
}
