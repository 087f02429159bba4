package tracing

import (
	"sort"
	"sync"

	"github.com/sarchlab/virtmem/hooking"
	"github.com/sarchlab/virtmem/paging"
)

// PageCount is the number of faults that loaded one page.
type PageCount struct {
	Page   int    `json:"page"`
	Faults uint64 `json:"faults"`
}

// FaultCounter is a hook that counts fault events by kind and by page.
type FaultCounter struct {
	lock      sync.Mutex
	kindNames []string
	kindCount map[paging.FaultKind]uint64
	pageCount map[int]uint64
}

// NewFaultCounter creates a new FaultCounter
func NewFaultCounter() *FaultCounter {
	return &FaultCounter{
		kindCount: make(map[paging.FaultKind]uint64),
		pageCount: make(map[int]uint64),
	}
}

// Func counts the event carried by ctx.
func (c *FaultCounter) Func(ctx hooking.HookCtx) {
	event, ok := ctx.Item.(paging.FaultEvent)
	if !ok {
		return
	}

	c.lock.Lock()
	defer c.lock.Unlock()

	_, seen := c.kindCount[event.Kind]
	if !seen {
		c.kindNames = append(c.kindNames, string(event.Kind))
	}
	c.kindCount[event.Kind]++

	if event.Kind == paging.FaultKindLoad {
		c.pageCount[event.Page]++
	}
}

// Kinds returns the kinds of events seen, in the order they first appeared.
func (c *FaultCounter) Kinds() []string {
	c.lock.Lock()
	defer c.lock.Unlock()

	return append([]string(nil), c.kindNames...)
}

// KindCount returns the number of events of a kind.
func (c *FaultCounter) KindCount(kind paging.FaultKind) uint64 {
	c.lock.Lock()
	defer c.lock.Unlock()

	return c.kindCount[kind]
}

// PageCount returns the number of faults that loaded page.
func (c *FaultCounter) PageCount(page int) uint64 {
	c.lock.Lock()
	defer c.lock.Unlock()

	return c.pageCount[page]
}

// HotPages returns up to n pages with the most faults. Ties go to the lower
// page. A non-positive n returns every faulted page.
func (c *FaultCounter) HotPages(n int) []PageCount {
	c.lock.Lock()
	pages := make([]PageCount, 0, len(c.pageCount))
	for page, count := range c.pageCount {
		pages = append(pages, PageCount{Page: page, Faults: count})
	}
	c.lock.Unlock()

	sort.Slice(pages, func(i, j int) bool {
		if pages[i].Faults != pages[j].Faults {
			return pages[i].Faults > pages[j].Faults
		}

		return pages[i].Page < pages[j].Page
	})

	if n > 0 && n < len(pages) {
		pages = pages[:n]
	}

	return pages
}
