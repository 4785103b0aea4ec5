package workorder

import (
	"context"
	"log/slog"
	"time"

	"github.com/printflow-erp/printflow/internal/orders"
)

// OrdersPort exposes the order queries the assembler needs.
type OrdersPort interface {
	ListReady(ctx context.Context) ([]orders.Order, error)
	LinesFor(ctx context.Context, orderIDs []int64) ([]orders.OrderLine, error)
}

// RendererPort converts an HTML sheet plus artwork assets into a PDF.
type RendererPort interface {
	RenderHTMLWithAssets(ctx context.Context, html string, assets map[string][]byte) ([]byte, error)
}

// Service assembles and renders work orders.
type Service struct {
	logger       *slog.Logger
	orders       OrdersPort
	renderer     RendererPort
	artwork      *ArtworkFetcher
	defaultChunk int
}

// NewService constructs the work order service.
func NewService(logger *slog.Logger, ordersPort OrdersPort, renderer RendererPort, artwork *ArtworkFetcher, defaultChunk int) *Service {
	if defaultChunk <= 0 {
		defaultChunk = 8
	}
	return &Service{
		logger:       logger,
		orders:       ordersPort,
		renderer:     renderer,
		artwork:      artwork,
		defaultChunk: defaultChunk,
	}
}

// Assemble builds one work order per ready sales order, in a stable
// oldest-first sequence.
func (s *Service) Assemble(ctx context.Context) ([]WorkOrder, error) {
	ready, err := s.orders.ListReady(ctx)
	if err != nil {
		return nil, err
	}
	if len(ready) == 0 {
		return nil, ErrNoWorkOrders
	}
	ids := make([]int64, 0, len(ready))
	for _, o := range ready {
		ids = append(ids, o.ID)
	}
	lines, err := s.orders.LinesFor(ctx, ids)
	if err != nil {
		return nil, err
	}
	byOrder := make(map[int64][]orders.OrderLine)
	for _, line := range lines {
		byOrder[line.OrderID] = append(byOrder[line.OrderID], line)
	}
	out := make([]WorkOrder, 0, len(ready))
	for _, o := range ready {
		out = append(out, WorkOrder{Order: o, Items: GroupLines(byOrder[o.ID])})
	}
	return out, nil
}

// RenderChunk assembles the ready queue, slices the requested chunk and
// renders it to PDF with artwork embedded where available.
func (s *Service) RenderChunk(ctx context.Context, index, size int) ([]byte, int, int, error) {
	if size <= 0 {
		size = s.defaultChunk
	}
	all, err := s.Assemble(ctx)
	if err != nil {
		return nil, 0, 0, err
	}
	chunk, total, err := Chunk(all, index, size)
	if err != nil {
		return nil, 0, total, err
	}
	if index <= 0 {
		index = 1
	}

	var urls []string
	seen := make(map[string]struct{})
	for _, wo := range chunk {
		for _, item := range wo.Items {
			if item.ArtworkURL == "" {
				continue
			}
			if _, ok := seen[item.ArtworkURL]; ok {
				continue
			}
			seen[item.ArtworkURL] = struct{}{}
			urls = append(urls, item.ArtworkURL)
		}
	}
	fetched := s.artwork.FetchAll(ctx, urls)

	art := make(map[string]string, len(fetched))
	assets := make(map[string][]byte, len(fetched))
	for i, u := range urls {
		data, ok := fetched[u]
		if !ok {
			continue
		}
		name := assetName(u, i)
		art[u] = name
		assets[name] = data
	}

	html, err := renderSheets(sheetData{
		Orders:     chunk,
		Art:        art,
		Generated:  time.Now(),
		ChunkIndex: index,
		ChunkTotal: total,
	})
	if err != nil {
		return nil, 0, 0, err
	}
	pdf, err := s.renderer.RenderHTMLWithAssets(ctx, html, assets)
	if err != nil {
		return nil, 0, 0, err
	}
	s.logger.Info("work orders rendered",
		slog.Int("orders", len(chunk)),
		slog.Int("chunk", index),
		slog.Int("chunks", total))
	return pdf, index, total, nil
}
