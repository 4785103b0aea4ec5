package shared

// PageMeta describes a limit/offset window over a listing.
type PageMeta struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
	Total  int `json:"total"`
}

// NewPageMeta clamps the requested window to sane bounds.
func NewPageMeta(limit, offset, total int) PageMeta {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return PageMeta{Limit: limit, Offset: offset, Total: total}
}
