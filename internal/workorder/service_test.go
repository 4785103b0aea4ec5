package workorder

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/printflow-erp/printflow/internal/orders"
)

type stubOrders struct {
	ready []orders.Order
	lines []orders.OrderLine
}

func (s *stubOrders) ListReady(ctx context.Context) ([]orders.Order, error) {
	return s.ready, nil
}

func (s *stubOrders) LinesFor(ctx context.Context, orderIDs []int64) ([]orders.OrderLine, error) {
	var out []orders.OrderLine
	for _, line := range s.lines {
		for _, id := range orderIDs {
			if line.OrderID == id {
				out = append(out, line)
			}
		}
	}
	return out, nil
}

type captureRenderer struct {
	html   string
	assets map[string][]byte
}

func (r *captureRenderer) RenderHTMLWithAssets(ctx context.Context, html string, assets map[string][]byte) ([]byte, error) {
	r.html = html
	r.assets = assets
	return []byte("%PDF-1.7 stub"), nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&strings.Builder{}, nil))
}

func TestAssembleOnePerReadyOrder(t *testing.T) {
	stub := &stubOrders{
		ready: []orders.Order{
			{ID: 1001, Customer: "Riverside Little League", ReadyForWorkOrder: true},
			{ID: 1002, Customer: "Hilltop Brewing Co", ReadyForWorkOrder: true, MissingGoods: true},
		},
		lines: []orders.OrderLine{
			{OrderID: 1001, ItemCode: "G5000", Color: "navy", Size: "M", Qty: 12},
			{OrderID: 1002, ItemCode: "NL3600", Color: "black", Size: "S", Qty: 10},
		},
	}
	svc := NewService(testLogger(), stub, &captureRenderer{}, NewArtworkFetcher(testLogger()), 8)

	all, err := svc.Assemble(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, int64(1001), all[0].Order.ID)
	require.Equal(t, "G5000", all[0].Items[0].ItemCode)
}

func TestAssembleEmptyQueue(t *testing.T) {
	svc := NewService(testLogger(), &stubOrders{}, &captureRenderer{}, NewArtworkFetcher(testLogger()), 8)
	_, err := svc.Assemble(context.Background())
	require.ErrorIs(t, err, ErrNoWorkOrders)
}

func TestRenderChunkEmbedsFetchedArtwork(t *testing.T) {
	art := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "broken.png") {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("fake-png-bytes"))
	}))
	defer art.Close()

	stub := &stubOrders{
		ready: []orders.Order{
			{ID: 1001, Customer: "Riverside Little League", ReadyForWorkOrder: true},
		},
		lines: []orders.OrderLine{
			{OrderID: 1001, ItemCode: "G5000", Color: "navy", Size: "M", Qty: 12, ArtworkURL: art.URL + "/ok.png"},
			{OrderID: 1001, ItemCode: "NL3600", Color: "black", Size: "S", Qty: 4, ArtworkURL: art.URL + "/broken.png"},
		},
	}
	renderer := &captureRenderer{}
	svc := NewService(testLogger(), stub, renderer, NewArtworkFetcher(testLogger()), 8)

	pdf, index, total, err := svc.RenderChunk(context.Background(), 1, 8)
	require.NoError(t, err)
	require.NotEmpty(t, pdf)
	require.Equal(t, 1, index)
	require.Equal(t, 1, total)

	// The reachable image travels as an asset, the broken one falls back
	// to the placeholder.
	require.Len(t, renderer.assets, 1)
	for name, data := range renderer.assets {
		require.Contains(t, renderer.html, name)
		require.Equal(t, []byte("fake-png-bytes"), data)
	}
	require.Contains(t, renderer.html, "artwork unavailable")
	require.Contains(t, renderer.html, "Work Order #1001")
}

func TestRenderChunkPagination(t *testing.T) {
	stub := &stubOrders{}
	for i := int64(1); i <= 5; i++ {
		stub.ready = append(stub.ready, orders.Order{ID: i, Customer: "c", ReadyForWorkOrder: true})
		stub.lines = append(stub.lines, orders.OrderLine{OrderID: i, ItemCode: "G5000", Qty: 1})
	}
	renderer := &captureRenderer{}
	svc := NewService(testLogger(), stub, renderer, NewArtworkFetcher(testLogger()), 2)

	_, index, total, err := svc.RenderChunk(context.Background(), 3, 0)
	require.NoError(t, err)
	require.Equal(t, 3, index)
	require.Equal(t, 3, total)
	require.Contains(t, renderer.html, "Work Order #5")
	require.NotContains(t, renderer.html, "Work Order #1<")

	_, _, _, err = svc.RenderChunk(context.Background(), 9, 2)
	require.ErrorIs(t, err, ErrChunkOutOfRange)
}
