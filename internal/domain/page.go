package domain

// Pagination defines page-number based paging inputs for list operations.
type Pagination struct {
	Page     int
	PageSize int
}

// Offset returns the number of records to skip for the requested page.
func (p Pagination) Offset() int {
	if p.Page <= 1 || p.PageSize <= 0 {
		return 0
	}
	return (p.Page - 1) * p.PageSize
}

// Page wraps one page of results together with paging metadata.
type Page[T any] struct {
	Items      []T
	Page       int
	PageSize   int
	TotalCount int64
	HasMore    bool
}
