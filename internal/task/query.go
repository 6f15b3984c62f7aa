package task

import "time"

// Page controls result pagination. A disabled page returns the full result
// set and reports total as 0 by convention.
type Page struct {
	page    int
	size    int
	enabled bool
}

// NewPage builds a page, clamping out-of-range values the same way for every
// caller: page numbers start at 1, sizes outside (0, 2000] fall back to 10.
func NewPage(page, size int) Page {
	if page <= 0 {
		page = 1
	}
	if size <= 0 || size > 2000 {
		size = 10
	}
	return Page{page: page, size: size, enabled: true}
}

// NoPage returns a page with pagination disabled.
func NoPage() Page {
	return Page{enabled: false}
}

// Next returns the page advanced by one.
func (p Page) Next() Page {
	p.page++
	return p
}

func (p Page) Num() int      { return p.page }
func (p Page) Size() int     { return p.size }
func (p Page) Enabled() bool { return p.enabled }

// Offset returns the row offset for SQL paging.
func (p Page) Offset() int { return (p.page - 1) * p.size }

// Order is one sort criterion for a query.
type Order struct {
	Column    string
	Direction string
}

// InstanceQuery filters task instances. Zero values mean "not filtered".
type InstanceQuery struct {
	IDs           []int64
	ExternalIDs   []string
	Statuses      []Status
	ExpectTimeLTE *time.Time
	Order         []Order
}

// CrontabQuery filters crontab definitions.
type CrontabQuery struct {
	WatermarkLTE *time.Time
	Enabled      *bool
	Creator      string
	// FilterID matches as a substring.
	FilterID string
	Order    []Order
}

// InstanceResult is a paged instance query result. Total is 0 when pagination
// was disabled.
type InstanceResult struct {
	Total int64
	List  []*Instance
}

// CrontabResult is a paged crontab query result.
type CrontabResult struct {
	Total int64
	List  []*Crontab
}
