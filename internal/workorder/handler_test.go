package workorder

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/printflow-erp/printflow/internal/orders"
)

func newTestRouter(svc *Service) http.Handler {
	r := chi.NewRouter()
	NewHandler(testLogger(), svc).MountRoutes(r)
	return r
}

func TestHandleRenderServesPDFWithChunkHeaders(t *testing.T) {
	stub := &stubOrders{
		ready: []orders.Order{{ID: 1001, Customer: "Riverside Little League", ReadyForWorkOrder: true}},
		lines: []orders.OrderLine{{OrderID: 1001, ItemCode: "G5000", Color: "navy", Size: "M", Qty: 12}},
	}
	svc := NewService(testLogger(), stub, &captureRenderer{}, NewArtworkFetcher(testLogger()), 8)
	router := newTestRouter(svc)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/workorders", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	require.Equal(t, "1", rec.Header().Get("X-Chunk-Index"))
	require.Equal(t, "1", rec.Header().Get("X-Chunk-Total"))
}

func TestHandleRenderRejectsChunkPastLastPage(t *testing.T) {
	stub := &stubOrders{}
	for i := int64(1); i <= 3; i++ {
		stub.ready = append(stub.ready, orders.Order{ID: i, Customer: "c", ReadyForWorkOrder: true})
		stub.lines = append(stub.lines, orders.OrderLine{OrderID: i, ItemCode: "G5000", Qty: 1})
	}
	svc := NewService(testLogger(), stub, &captureRenderer{}, NewArtworkFetcher(testLogger()), 2)
	router := newTestRouter(svc)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/workorders?chunk=5&chunk_size=2", nil))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
}

func TestHandleRenderEmptyQueueIsNotFound(t *testing.T) {
	svc := NewService(testLogger(), &stubOrders{}, &captureRenderer{}, NewArtworkFetcher(testLogger()), 8)
	router := newTestRouter(svc)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/workorders", nil))

	require.Equal(t, http.StatusNotFound, rec.Code)
}
