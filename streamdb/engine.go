// Package streamdb is StreamDb's public API: an embedded key-value store
// mapping string paths to opaque binary documents, with prefix search,
// crash-consistent transactions, and MVCC-style versioning (spec.md §1).
//
// Grounded on the teacher's top-level DB type (storage.NewDB /
// tinysql.Open in the teacher repo) as the single entry point wiring
// together the pager, WAL, free list, document index, and path trie — but
// generalised to spec.md §4.8's operation set rather than the teacher's
// SQL surface.
package streamdb

import (
	"io"
	"log"
	"os"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"

	"github.com/pageforge/streamdb/internal/config"
	"github.com/pageforge/streamdb/internal/docstore"
	"github.com/pageforge/streamdb/internal/errs"
	"github.com/pageforge/streamdb/internal/pager"
	"github.com/pageforge/streamdb/internal/txn"
)

// Engine is an open StreamDb database.
type Engine struct {
	cfg    config.Config
	pg     *pager.Pager
	wal    *pager.WAL
	fl     *pager.FreeList
	coord  *txn.Coordinator
	cache  *pathCache
	logger *log.Logger

	scheduler *cron.Cron
}

// Open opens (or creates) a database at cfg.DBPath, running crash
// recovery against its WAL before returning.
func Open(cfg config.Config) (*Engine, error) {
	return OpenWithLogger(cfg, log.New(os.Stderr, "streamdb: ", log.LstdFlags))
}

// OpenWithLogger is Open with an explicit *log.Logger, matching the
// teacher's convention of injecting a stdlib logger rather than relying
// on a package-level default (cmd/server/main.go in the teacher repo).
func OpenWithLogger(cfg config.Config, logger *log.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	pg, err := pager.Open(cfg.DBPath, pager.Config{
		PageSize:       cfg.PageSize,
		MaxPages:       cfg.MaxPages,
		MaxDBSize:      cfg.MaxDBSize,
		PageCacheSize:  cfg.PageCacheSize,
		UseMMap:        cfg.UseMMap,
		UseCompression: cfg.UseCompression,
		EncryptionKey:  cfg.EncryptionKey,
		Durable:        cfg.Durable,
	})
	if err != nil {
		return nil, err
	}

	hdr, err := pg.ReadHeader()
	if err != nil {
		pg.Close()
		return nil, err
	}

	wal, err := pager.OpenWAL(cfg.WALPathOrDefault())
	if err != nil {
		pg.Close()
		return nil, err
	}

	fl := pager.NewFreeList(pg)

	ix, tr, freeListRoot, err := recover(pg, wal, fl, hdr, cfg.MaxDocumentSize)
	if err != nil {
		wal.Close()
		pg.Close()
		return nil, err
	}

	coord := txn.NewCoordinator(pg, wal, fl, cfg.MaxDocumentSize, ix, tr, hdr.DocIndexRoot, hdr.PathIndexRoot, freeListRoot)

	e := &Engine{
		cfg:    cfg,
		pg:     pg,
		wal:    wal,
		fl:     fl,
		coord:  coord,
		cache:  newPathCache(cfg.PageCacheSize),
		logger: logger,
	}

	if cfg.CheckpointCron != "" {
		e.scheduler = cron.New()
		if _, err := e.scheduler.AddFunc(cfg.CheckpointCron, e.backgroundMaintenance); err != nil {
			logger.Printf("streamdb: invalid checkpoint_cron %q: %v", cfg.CheckpointCron, err)
		} else {
			e.scheduler.Start()
		}
	}

	return e, nil
}

func (e *Engine) backgroundMaintenance() {
	if err := e.Flush(); err != nil {
		e.logger.Printf("background flush failed: %v", err)
	}
	if err := e.GCOldVersions(); err != nil {
		e.logger.Printf("background gc failed: %v", err)
	}
}

// Close stops the background scheduler (if any) and closes the WAL and
// pager.
func (e *Engine) Close() error {
	if e.scheduler != nil {
		e.scheduler.Stop()
	}
	var firstErr error
	if err := e.wal.Close(); err != nil {
		firstErr = err
	}
	if err := e.pg.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// ── Public API (spec.md §4.8) ───────────────────────────────────────────

// Write creates a new document from data, binds path to its new id, and
// returns that id. path must be valid and not already bound.
func (e *Engine) Write(path string, data []byte) (uuid.UUID, error) {
	t, err := e.coord.Begin()
	if err != nil {
		return uuid.UUID{}, err
	}
	id, err := t.Write(path, data)
	if err != nil {
		t.Rollback()
		return uuid.UUID{}, err
	}
	if err := t.Commit(); err != nil {
		return uuid.UUID{}, err
	}
	e.cache.put(path, id)
	return id, nil
}

// Overwrite replaces the bytes of the document bound to path, keeping its
// id and path bindings but retaining the superseded version until
// GCOldVersions prunes it (spec.md §4.3 step 4, §9 property #7).
func (e *Engine) Overwrite(path string, data []byte) (uuid.UUID, error) {
	t, err := e.coord.Begin()
	if err != nil {
		return uuid.UUID{}, err
	}
	id, err := t.Overwrite(path, data)
	if err != nil {
		t.Rollback()
		return uuid.UUID{}, err
	}
	if err := t.Commit(); err != nil {
		return uuid.UUID{}, err
	}
	return id, nil
}

// Get returns the latest committed bytes bound to path.
func (e *Engine) Get(path string) ([]byte, error) {
	id, err := e.resolve(path)
	if err != nil {
		return nil, err
	}
	ix, _ := e.coord.State()
	rec, ok := ix.Get(id)
	if !ok {
		return nil, errors.Wrapf(errs.ErrNotFound, "path %q", path)
	}
	return docstore.ReadDocument(e.pg, rec, e.pg.QuickMode())
}

// GetStream returns a lazily-read io.Reader over the document bound to
// path, without materialising the whole document up front.
func (e *Engine) GetStream(path string) (io.Reader, error) {
	id, err := e.resolve(path)
	if err != nil {
		return nil, err
	}
	ix, _ := e.coord.State()
	rec, ok := ix.Get(id)
	if !ok {
		return nil, errors.Wrapf(errs.ErrNotFound, "path %q", path)
	}
	return docstore.GetStream(e.pg, rec), nil
}

// Delete removes path's binding and the underlying document (all
// versions).
func (e *Engine) Delete(path string) error {
	t, err := e.coord.Begin()
	if err != nil {
		return err
	}
	if err := t.Delete(path); err != nil {
		t.Rollback()
		return err
	}
	if err := t.Commit(); err != nil {
		return err
	}
	e.cache.invalidate(path)
	return nil
}

// Bind adds path as an additional alias for id.
func (e *Engine) Bind(id uuid.UUID, path string) error {
	t, err := e.coord.Begin()
	if err != nil {
		return err
	}
	if err := t.Bind(id, path); err != nil {
		t.Rollback()
		return err
	}
	if err := t.Commit(); err != nil {
		return err
	}
	e.cache.put(path, id)
	return nil
}

// Unbind removes path as an alias for id.
func (e *Engine) Unbind(id uuid.UUID, path string) error {
	t, err := e.coord.Begin()
	if err != nil {
		return err
	}
	if err := t.Unbind(id, path); err != nil {
		t.Rollback()
		return err
	}
	if err := t.Commit(); err != nil {
		return err
	}
	e.cache.invalidate(path)
	return nil
}

// Search returns every bound path that starts with prefix, sorted
// lexicographically (spec.md §4.8).
func (e *Engine) Search(prefix string) []string {
	_, tr := e.coord.State()
	results := tr.Search(prefix)
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.Path
	}
	return out
}

// ListPaths returns every path currently bound to id.
func (e *Engine) ListPaths(id uuid.UUID) []string {
	ix, _ := e.coord.State()
	rec, ok := ix.Get(id)
	if !ok {
		return nil
	}
	out := make([]string, len(rec.Paths))
	copy(out, rec.Paths)
	return out
}

// Flush checkpoints the WAL; after it returns, all prior committed data
// is durable.
func (e *Engine) Flush() error {
	return e.wal.Checkpoint()
}

// GCOldVersions trims every document's retained-versions list to
// cfg.VersionsToKeep, releasing evicted versions' pages to the free list.
func (e *Engine) GCOldVersions() error {
	t, err := e.coord.Begin()
	if err != nil {
		return err
	}

	ix, _ := e.coord.State()
	_, _, freeRoot := e.coord.Roots()
	newFreeRoot, err := docstore.GCOldVersions(e.pg, e.fl, freeRoot, ix, e.cfg.VersionsToKeep)
	if err != nil {
		t.Rollback()
		return err
	}
	e.coord.UpdateFreeListRoot(newFreeRoot)
	return t.Commit()
}

func (e *Engine) resolve(path string) (uuid.UUID, error) {
	if id, ok := e.cache.get(path); ok {
		return id, nil
	}
	_, tr := e.coord.State()
	id, ok := tr.Lookup(path)
	if !ok {
		return uuid.UUID{}, errors.Wrapf(errs.ErrNotFound, "path %q", path)
	}
	e.cache.put(path, id)
	return id, nil
}
