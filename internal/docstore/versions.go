package docstore

import "github.com/pageforge/streamdb/internal/pager"

// GCOldVersions trims every record's retained-versions list to at most
// versionsToKeep entries, oldest first, releasing the evicted versions'
// chains back to the free list (spec.md §4.3 "gc_old_versions... trims
// each retained list to length <= versions_to_keep, releasing pages of
// the evicted versions").
func GCOldVersions(p *pager.Pager, fl *pager.FreeList, freeListHead pager.Root, ix *Index, versionsToKeep int) (pager.Root, error) {
	head := freeListHead
	for _, rec := range ix.All() {
		if len(rec.Retained) <= versionsToKeep {
			continue
		}
		evictCount := len(rec.Retained) - versionsToKeep
		evicted := rec.Retained[:evictCount]
		rec.Retained = rec.Retained[evictCount:]

		for _, rv := range evicted {
			newHead, err := FreeChain(p, fl, head, rv.FirstPageID)
			if err != nil {
				return head, err
			}
			head = newHead
		}
	}
	return head, nil
}
