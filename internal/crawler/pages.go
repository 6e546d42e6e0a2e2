package crawler

import (
	"fmt"
	"sync/atomic"
)

// MaxPage is the deepest listing page the forum serves.
const MaxPage = 800

// PageSource hands out the page numbers in [start, end] to concurrent callers.
// Every number is returned to exactly one caller and exhaustion is permanent.
type PageSource struct {
	cursor atomic.Int64
	end    int64
}

// NewPageSource validates the range and builds a PageSource.
func NewPageSource(start, end int) (*PageSource, error) {
	if start < 1 || start > MaxPage {
		return nil, fmt.Errorf("start page %d out of range [1, %d]", start, MaxPage)
	}
	if end < start || end > MaxPage {
		return nil, fmt.Errorf("end page %d out of range [%d, %d]", end, start, MaxPage)
	}
	s := &PageSource{end: int64(end)}
	s.cursor.Store(int64(start))
	return s, nil
}

// Next claims the next page number. The second return is false once the range is spent.
func (s *PageSource) Next() (int, bool) {
	page := s.cursor.Add(1) - 1
	if page > s.end {
		return 0, false
	}
	return int(page), true
}
