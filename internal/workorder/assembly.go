// Package workorder assembles production work orders from sales orders
// whose goods have fully arrived and renders them as printable PDFs.
package workorder

import (
	"errors"
	"sort"
	"strings"

	"github.com/printflow-erp/printflow/internal/orders"
)

// ErrNoWorkOrders indicates no order is currently ready for production.
var ErrNoWorkOrders = errors.New("workorder: nothing ready")

// ErrChunkOutOfRange indicates a requested page past the last chunk.
var ErrChunkOutOfRange = errors.New("workorder: chunk index out of range")

// SizeCount is the demanded quantity for one garment size.
type SizeCount struct {
	Size string `json:"size"`
	Qty  int    `json:"qty"`
}

// ColorGroup collects size counts under one garment color.
type ColorGroup struct {
	Color string      `json:"color"`
	Sizes []SizeCount `json:"sizes"`
}

// ItemGroup collects colors under one vendor item code.
type ItemGroup struct {
	ItemCode   string       `json:"item_code"`
	ArtworkURL string       `json:"artwork_url,omitempty"`
	Note       string       `json:"note,omitempty"`
	TotalQty   int          `json:"total_qty"`
	Colors     []ColorGroup `json:"colors"`
}

// WorkOrder is one printable production sheet for a single sales order.
type WorkOrder struct {
	Order orders.Order `json:"order"`
	Items []ItemGroup  `json:"items"`
}

// garmentSizes is the print-shop size run. Sizes outside the run sort
// after it, alphabetically.
var garmentSizes = []string{"NB", "06M", "12M", "18M", "24M", "XS", "S", "M", "L", "XL", "2XL", "3XL", "4XL", "5XL"}

func sizeRank(size string) int {
	upper := strings.ToUpper(strings.TrimSpace(size))
	for i, s := range garmentSizes {
		if s == upper {
			return i
		}
	}
	return len(garmentSizes)
}

// GroupLines folds flat order lines into the item, color, size tree used
// on the printed sheet. Output order is deterministic: items by code,
// colors alphabetically, sizes in garment run order.
func GroupLines(lines []orders.OrderLine) []ItemGroup {
	type itemMeta struct {
		artwork string
		note    string
		total   int
		colors  map[string]map[string]int
	}

	items := make(map[string]*itemMeta)
	for _, line := range lines {
		item := fallback(line.ItemCode, "item")
		color := fallback(line.Color, "n/a")
		size := fallback(line.Size, "n/a")

		meta, ok := items[item]
		if !ok {
			meta = &itemMeta{colors: make(map[string]map[string]int)}
			items[item] = meta
		}
		if meta.artwork == "" && line.ArtworkURL != "" {
			meta.artwork = line.ArtworkURL
		}
		if meta.note == "" && line.Note != "" {
			meta.note = line.Note
		}
		meta.total += line.Qty
		if meta.colors[color] == nil {
			meta.colors[color] = make(map[string]int)
		}
		meta.colors[color][size] += line.Qty
	}

	codes := make([]string, 0, len(items))
	for code := range items {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	out := make([]ItemGroup, 0, len(codes))
	for _, code := range codes {
		meta := items[code]
		group := ItemGroup{
			ItemCode:   code,
			ArtworkURL: meta.artwork,
			Note:       meta.note,
			TotalQty:   meta.total,
		}
		colorNames := make([]string, 0, len(meta.colors))
		for name := range meta.colors {
			colorNames = append(colorNames, name)
		}
		sort.Strings(colorNames)
		for _, name := range colorNames {
			cg := ColorGroup{Color: name}
			for size, qty := range meta.colors[name] {
				cg.Sizes = append(cg.Sizes, SizeCount{Size: size, Qty: qty})
			}
			sort.SliceStable(cg.Sizes, func(i, j int) bool {
				ri, rj := sizeRank(cg.Sizes[i].Size), sizeRank(cg.Sizes[j].Size)
				if ri != rj {
					return ri < rj
				}
				return cg.Sizes[i].Size < cg.Sizes[j].Size
			})
			group.Colors = append(group.Colors, cg)
		}
		out = append(out, group)
	}
	return out
}

func fallback(value, def string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return def
	}
	return value
}

// Chunk slices the work order list into fixed-size pages and returns the
// requested page together with the total page count. Index is 1-based.
func Chunk(all []WorkOrder, index, size int) ([]WorkOrder, int, error) {
	if size <= 0 {
		size = len(all)
	}
	if size == 0 {
		return nil, 0, ErrNoWorkOrders
	}
	total := (len(all) + size - 1) / size
	if total == 0 {
		return nil, 0, ErrNoWorkOrders
	}
	if index <= 0 {
		index = 1
	}
	if index > total {
		return nil, total, ErrChunkOutOfRange
	}
	start := (index - 1) * size
	end := start + size
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], total, nil
}
