package pager

import (
	"sync"

	"golang.org/x/exp/mmap"
)

// ───────────────────────────────────────────────────────────────────────────
// Memory-mapped read window
// ───────────────────────────────────────────────────────────────────────────
//
// When Config.UseMMap is set, reads are served from a read-only mapped
// window over the database file (golang.org/x/exp/mmap.ReaderAt) instead
// of positioned os.File reads. Writes always go through the os.File
// handle; the mapping is re-created by remap after Grow extends the file
// (spec.md §4.1 "grow(n)... re-creates the mmap window").
type mmapWindow struct {
	mu sync.RWMutex
	r  *mmap.ReaderAt
}

func openMmapWindow(path string) (*mmapWindow, error) {
	r, err := mmap.Open(path)
	if err != nil {
		return nil, err
	}
	return &mmapWindow{r: r}, nil
}

func (w *mmapWindow) readAt(buf []byte, off int64) (int, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.r.ReadAt(buf, off)
}

// remap closes and re-opens the mapping so it covers the file's new size.
func (w *mmapWindow) remap(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.r.Close(); err != nil {
		return err
	}
	r, err := mmap.Open(path)
	if err != nil {
		return err
	}
	w.r = r
	return nil
}

func (w *mmapWindow) close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.r.Close()
}
