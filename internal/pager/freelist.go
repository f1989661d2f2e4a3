package pager

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// ───────────────────────────────────────────────────────────────────────────
// Free-list — a singly-linked chain of pages holding reclaimed page IDs
// ───────────────────────────────────────────────────────────────────────────
//
// Grounded on the teacher's free-list page format (internal/storage/pager
// in the teacher repo: NextFreeList/EntryCount/entries), generalised to
// spec.md §4.2's exact wire layout:
//
//	offset  size  field
//	0       8     next_free_list_page (int64, InvalidPageID = end of chain)
//	8       4     used_entries        (int32)
//	12      8*n   ids                 ([]int64)
//
// Capacity per page: floor((page_size - page_header - 12) / 8).

const (
	flNextOff  = 0
	flCountOff = 8
	flDataOff  = 12
	flEntryLen = 8 // int64 page id

	// MaxConsecutiveEmptyFreeList bounds how many fully-drained free-list
	// pages Allocate will walk past before growing the file, so a long
	// chain of emptied-out pages doesn't turn every allocation into an
	// O(chain length) scan (spec.md §4.2 "allocate_page... grows the file
	// in batches once it has walked too many empty free-list pages").
	MaxConsecutiveEmptyFreeList = 5
	// BatchGrowPages is how many pages Allocate appends at once once it
	// gives up walking the free list.
	BatchGrowPages = 16
)

// FreeListCapacity returns how many page IDs fit in one free-list page.
func FreeListCapacity(pageSize int) int {
	return (pageSize - PageHeaderSize - flDataOff) / flEntryLen
}

// freeListPage is a decoded free-list page.
type freeListPage struct {
	next Root // next free-list page + its version, for CAS-free chaining
	ids  []PageID
}

func decodeFreeListPage(payload []byte) freeListPage {
	next := PageID(int64(binary.LittleEndian.Uint64(payload[flNextOff:])))
	count := int(int32(binary.LittleEndian.Uint32(payload[flCountOff:])))
	ids := make([]PageID, 0, count)
	for i := 0; i < count; i++ {
		off := flDataOff + i*flEntryLen
		ids = append(ids, PageID(int64(binary.LittleEndian.Uint64(payload[off:]))))
	}
	return freeListPage{next: Root{Page: next}, ids: ids}
}

func encodeFreeListPage(pageSize int, fp freeListPage) []byte {
	payload := make([]byte, flDataOff+len(fp.ids)*flEntryLen)
	binary.LittleEndian.PutUint64(payload[flNextOff:], uint64(int64(fp.next.Page)))
	binary.LittleEndian.PutUint32(payload[flCountOff:], uint32(len(fp.ids)))
	for i, id := range fp.ids {
		off := flDataOff + i*flEntryLen
		binary.LittleEndian.PutUint64(payload[off:], uint64(int64(id)))
	}
	return payload
}

// FreeList allocates and releases page IDs against a Pager, reusing
// reclaimed pages (LIFO within a page) before ever growing the file.
type FreeList struct {
	p *Pager
}

// NewFreeList returns a free-list allocator bound to p.
func NewFreeList(p *Pager) *FreeList { return &FreeList{p: p} }

// Allocate returns a single free page ID, preferring a reclaimed page over
// growing the file. head is the current FreeListRoot from the database
// header; the caller is responsible for persisting the (possibly updated)
// root it returns.
func (fl *FreeList) Allocate(head Root) (PageID, Root, error) {
	cur := head
	empty := 0

	for cur.Page != InvalidPageID {
		if empty >= MaxConsecutiveEmptyFreeList {
			// Walked past too many drained pages in a row: stop scanning
			// and grow the file in bulk rather than one page at a time
			// (spec.md §4.2).
			return fl.growAndAllocate(head, BatchGrowPages)
		}

		payload, hdr, err := fl.p.ReadPage(cur.Page)
		if err != nil {
			return InvalidPageID, head, err
		}
		fp := decodeFreeListPage(payload)

		if len(fp.ids) > 0 {
			id := fp.ids[len(fp.ids)-1]
			fp.ids = fp.ids[:len(fp.ids)-1]
			newVersion := hdr.Version + 1
			if err := fl.p.WritePage(cur.Page, encodeFreeListPage(fl.p.pageSize, fp), newVersion, hdr.PrevPageID, PageID(fp.next.Page), FlagFreeList); err != nil {
				return InvalidPageID, head, err
			}
			if cur.Page == head.Page {
				head.Version = newVersion
			}
			return id, head, nil
		}

		empty++
		cur = fp.next
	}

	// The chain ended (InvalidPageID) before the empty-page threshold was
	// crossed: grow by exactly one page rather than a full batch
	// (spec.md §4.2).
	return fl.growAndAllocate(head, 1)
}

// growAndAllocate appends batchSize fresh pages to the file, hands the
// first one back as the allocation, and (when batchSize > 1) threads the
// rest onto the free list as a brand new head page.
func (fl *FreeList) growAndAllocate(head Root, batchSize int) (PageID, Root, error) {
	ids, err := fl.p.Grow(batchSize)
	if err != nil {
		return InvalidPageID, head, err
	}

	allocated := ids[0]
	rest := ids[1:]
	if len(rest) == 0 {
		return allocated, head, nil
	}

	newHeadID, err := fl.p.Grow(1)
	if err != nil {
		return InvalidPageID, head, err
	}
	fp := freeListPage{next: head, ids: rest}
	if err := fl.p.WritePage(newHeadID[0], encodeFreeListPage(fl.p.pageSize, fp), 0, InvalidPageID, PageID(head.Page), FlagFreeList); err != nil {
		return InvalidPageID, head, err
	}

	return allocated, Root{Page: newHeadID[0], Version: 0}, nil
}

// Release returns id to the free list, appending it to the first
// non-full page in the chain, or allocating a brand new head page if
// every existing page is full (or the chain is empty).
func (fl *FreeList) Release(head Root, id PageID) (Root, error) {
	capacity := FreeListCapacity(fl.p.pageSize)
	cur := head

	for cur.Page != InvalidPageID {
		payload, hdr, err := fl.p.ReadPage(cur.Page)
		if err != nil {
			return head, err
		}
		fp := decodeFreeListPage(payload)
		if len(fp.ids) < capacity {
			fp.ids = append(fp.ids, id)
			newVersion := hdr.Version + 1
			if err := fl.p.WritePage(cur.Page, encodeFreeListPage(fl.p.pageSize, fp), newVersion, hdr.PrevPageID, PageID(fp.next.Page), FlagFreeList); err != nil {
				return head, err
			}
			if cur.Page == head.Page {
				head.Version = newVersion
			}
			return head, nil
		}
		cur = fp.next
	}

	newHeadID, err := fl.p.Grow(1)
	if err != nil {
		return head, err
	}
	fp := freeListPage{next: head, ids: []PageID{id}}
	if err := fl.p.WritePage(newHeadID[0], encodeFreeListPage(fl.p.pageSize, fp), 0, InvalidPageID, PageID(head.Page), FlagFreeList); err != nil {
		return head, err
	}
	return Root{Page: newHeadID[0], Version: 0}, nil
}

// CountFree walks the entire free-list chain and returns the number of
// free page IDs it holds. Resolves spec.md §9's third Open Question —
// count_free_pages must actually walk the chain, not report a cached
// running total that can drift from disk.
func (fl *FreeList) CountFree(head Root) (int, error) {
	total := 0
	cur := head
	seen := map[PageID]bool{}
	for cur.Page != InvalidPageID {
		if seen[cur.Page] {
			return total, errors.Wrapf(ErrInvalidData, "free list cycle detected at page %d", cur.Page)
		}
		seen[cur.Page] = true
		payload, _, err := fl.p.ReadPage(cur.Page)
		if err != nil {
			return total, err
		}
		fp := decodeFreeListPage(payload)
		total += len(fp.ids)
		cur = fp.next
	}
	return total, nil
}

// KnownPages walks the free-list chain and returns the set of every page
// ID it accounts for: the pages holding the chain itself, plus every page
// ID those pages list as free. Recovery's tolerant sweep (spec.md §4.5
// step 4) uses this to find pages accounted for by neither an index nor
// the free list.
func (fl *FreeList) KnownPages(head Root) (map[PageID]bool, error) {
	known := map[PageID]bool{}
	cur := head
	for cur.Page != InvalidPageID {
		if known[cur.Page] {
			return known, errors.Wrapf(ErrInvalidData, "free list cycle detected at page %d", cur.Page)
		}
		known[cur.Page] = true
		payload, _, err := fl.p.ReadPage(cur.Page)
		if err != nil {
			return known, err
		}
		fp := decodeFreeListPage(payload)
		for _, id := range fp.ids {
			known[id] = true
		}
		cur = fp.next
	}
	return known, nil
}
