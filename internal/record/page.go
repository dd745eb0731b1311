package record

// Page is one page of an ordered result set. Pages are numbered from 1.
type Page[T any] struct {
	Page          int `json:"page"`
	Limit         int `json:"limit"`
	Total         int `json:"total"`
	NumberOfPages int `json:"number_of_pages"`
	Data          []T `json:"data"`
}

// Paginate slices items into the requested page. A page number below 1 is
// treated as the first page; a page past the end is empty.
func Paginate[T any](items []T, limit, page int) Page[T] {
	if page < 1 {
		page = 1
	}
	out := Page[T]{Page: page, Limit: limit, Total: len(items), Data: []T{}}
	if limit <= 0 {
		return out
	}
	out.NumberOfPages = (len(items) + limit - 1) / limit
	start := (page - 1) * limit
	if start >= len(items) {
		return out
	}
	end := min(start+limit, len(items))
	out.Data = append(out.Data, items[start:end]...)
	return out
}
