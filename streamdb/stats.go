package streamdb

import "github.com/dustin/go-humanize"

// Stats summarises the engine's page cache and page-count bookkeeping
// (spec.md §4.8 "stats()").
type Stats struct {
	CacheHits    uint64
	CacheMisses  uint64
	FreePages    int
	TotalPages   int64
	PageSize     int
}

// String renders Stats for operator-facing logs, using
// github.com/dustin/go-humanize to format byte counts.
func (s Stats) String() string {
	totalBytes := s.TotalPages * int64(s.PageSize)
	return "pages=" + humanize.Comma(s.TotalPages) +
		" (" + humanize.Bytes(uint64(totalBytes)) + ")" +
		" free=" + humanize.Comma(int64(s.FreePages)) +
		" cache_hits=" + humanize.Comma(int64(s.CacheHits)) +
		" cache_misses=" + humanize.Comma(int64(s.CacheMisses))
}

// Stats returns the engine's current cache hit/miss counters, free-page
// count, and total page count.
func (e *Engine) Stats() (Stats, error) {
	hits, misses := e.pg.CacheStats()
	freeCount, err := e.coord.CountFreePages()
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		CacheHits:   hits,
		CacheMisses: misses,
		FreePages:   freeCount,
		TotalPages:  e.pg.NumPages(),
		PageSize:    e.pg.PageSize(),
	}, nil
}
