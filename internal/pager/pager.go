package pager

import (
	"crypto/cipher"
	"os"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/pageforge/streamdb/internal/errs"
)

// ───────────────────────────────────────────────────────────────────────────
// Pager — fixed-size page I/O over an OS file or a memory-mapped region
// ───────────────────────────────────────────────────────────────────────────
//
// Grounded on the teacher's Pager (internal/storage/pager/pager.go in the
// teacher repo): a single os.File handle, a bounded page cache in front of
// it, and read/write methods that take care of (de)serialisation. Unlike
// the teacher, pages here are identified by an int64 PageID (so -1 can mean
// "no page"), and the cache, crypto, and compression pipelines are the
// spec-shaped ones built in cache.go, crypto.go and compress.go rather than
// the teacher's buffer pool and lack of page-level crypto.

// Config configures a Pager (spec.md §6).
type Config struct {
	PageSize       int    // default DefaultPageSize
	MaxPages       int64  // 0 = unbounded
	MaxDBSize      int64  // 0 = unbounded, in bytes
	PageCacheSize  int    // LRU capacity in pages, 0 = default 1024
	UseMMap        bool   // serve reads from a memory-mapped window
	UseCompression bool   // Snappy-compress payloads before encryption
	EncryptionKey  []byte // 32 bytes, or nil to disable encryption
	Durable        bool   // fsync after every WritePage when true
}

func (c Config) pageSize() int {
	if c.PageSize == 0 {
		return DefaultPageSize
	}
	return c.PageSize
}

func (c Config) cacheSize() int {
	if c.PageCacheSize == 0 {
		return 1024
	}
	return c.PageCacheSize
}

// ErrIO wraps file/mmap I/O failures (spec.md §7 "Io").
var ErrIO = errs.ErrIO

// ErrInvalidInput wraps invalid page IDs and similar caller errors.
var ErrInvalidInput = errs.ErrInvalidInput

// ErrInvalidData wraps CRC mismatches and malformed on-disk structures.
var ErrInvalidData = errs.ErrInvalidData

// Pager owns the single file handle (and, optionally, the mmap window)
// for a StreamDb database file.
type Pager struct {
	mu       sync.RWMutex
	file     *os.File
	path     string
	cfg      Config
	pageSize int
	numPages int64 // total pages currently in the file, including page 0

	mmapWin *mmapWindow // nil unless cfg.UseMMap
	cache   *PageCache
	aead    cipher.AEAD // nil unless cfg.EncryptionKey is set

	quick atomic.Bool // CRC verification is skipped on read when true
}

// Open opens or creates the database file at path with the given config.
func Open(path string, cfg Config) (*Pager, error) {
	ps := cfg.pageSize()
	if ps < MinPageSize || ps > MaxPageSize || ps&(ps-1) != 0 {
		return nil, errors.Wrapf(ErrInvalidInput, "invalid page size %d", ps)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, errors.Wrap(ErrIO, err.Error())
	}

	p := &Pager{
		file:     f,
		path:     path,
		cfg:      cfg,
		pageSize: ps,
		cache:    NewPageCache(cfg.cacheSize()),
	}

	if cfg.EncryptionKey != nil {
		subkey, err := deriveSubkey(cfg.EncryptionKey)
		if err != nil {
			f.Close()
			return nil, err
		}
		aead, err := newAEAD(subkey)
		if err != nil {
			f.Close()
			return nil, err
		}
		p.aead = aead
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrap(ErrIO, err.Error())
	}
	p.numPages = info.Size() / int64(ps)

	if cfg.UseMMap && p.numPages > 0 {
		win, err := openMmapWindow(path)
		if err != nil {
			f.Close()
			return nil, errors.Wrap(ErrIO, err.Error())
		}
		p.mmapWin = win
	}

	return p, nil
}

// PageSize returns the configured page size.
func (p *Pager) PageSize() int { return p.pageSize }

// NumPages returns the number of pages currently allocated in the file.
func (p *Pager) NumPages() int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.numPages
}

// SetQuickMode toggles CRC verification on reads (spec.md §4.1 "Quick mode").
// Never persisted.
func (p *Pager) SetQuickMode(on bool) { p.quick.Store(on) }

// QuickMode reports whether CRC verification is currently skipped.
func (p *Pager) QuickMode() bool { return p.quick.Load() }

// Close closes the mmap window (if any) and the underlying file. It does
// not fsync; call Sync first when prior writes must be durable.
func (p *Pager) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var firstErr error
	if p.mmapWin != nil {
		if err := p.mmapWin.close(); err != nil {
			firstErr = err
		}
	}
	if err := p.file.Close(); err != nil && firstErr == nil {
		firstErr = errors.Wrap(ErrIO, err.Error())
	}
	return firstErr
}

// ── Growth ───────────────────────────────────────────────────────────────

// Grow extends the file by n pages and returns their newly-minted IDs. It
// re-creates the mmap window (if mmap is in use) and fails if the
// resulting file size would exceed MaxDBSize or MaxPages.
func (p *Pager) Grow(n int) ([]PageID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.growLocked(n)
}

func (p *Pager) growLocked(n int) ([]PageID, error) {
	if n <= 0 {
		return nil, nil
	}
	newTotal := p.numPages + int64(n)
	if p.cfg.MaxPages > 0 && newTotal > p.cfg.MaxPages {
		return nil, errors.Wrapf(ErrInvalidInput, "grow would exceed max_pages %d", p.cfg.MaxPages)
	}
	newSize := newTotal * int64(p.pageSize)
	if p.cfg.MaxDBSize > 0 && newSize > p.cfg.MaxDBSize {
		return nil, errors.Wrapf(ErrInvalidInput, "grow would exceed max_db_size %d", p.cfg.MaxDBSize)
	}
	if err := p.file.Truncate(newSize); err != nil {
		return nil, errors.Wrap(ErrIO, err.Error())
	}
	ids := make([]PageID, n)
	for i := 0; i < n; i++ {
		ids[i] = PageID(p.numPages + int64(i))
	}
	p.numPages = newTotal

	if p.mmapWin != nil {
		if err := p.mmapWin.remap(p.path); err != nil {
			return nil, errors.Wrap(ErrIO, err.Error())
		}
	} else if p.cfg.UseMMap {
		win, err := openMmapWindow(p.path)
		if err != nil {
			return nil, errors.Wrap(ErrIO, err.Error())
		}
		p.mmapWin = win
	}
	return ids, nil
}

// ── Reads ────────────────────────────────────────────────────────────────

// ReadPage decodes and returns page id's logical payload along with its
// header. It consults the page cache first; on a miss it reads the raw
// bytes (via mmap or a positioned file read), decrypts, decompresses,
// verifies the CRC (unless quick mode is set), caches the result, and
// kicks off a best-effort read-ahead of the successor page.
func (p *Pager) ReadPage(id PageID) ([]byte, PageHeader, error) {
	if id < 0 {
		return nil, PageHeader{}, errors.Wrapf(ErrInvalidInput, "negative page id %d", id)
	}
	p.mu.RLock()
	maxID := PageID(p.numPages)
	p.mu.RUnlock()
	if id >= maxID {
		return nil, PageHeader{}, errors.Wrapf(ErrInvalidInput, "page id %d out of range (max %d)", id, maxID)
	}

	if payload, hdr, ok := p.cache.Get(id); ok {
		return payload, hdr, nil
	}

	payload, hdr, err := p.readPageFromDisk(id)
	if err != nil {
		return nil, PageHeader{}, err
	}
	p.cache.Put(id, payload, hdr)

	if hdr.NextPageID != InvalidPageID {
		next := hdr.NextPageID
		go func() {
			if _, _, ok := p.cache.Get(next); !ok {
				if payload, hdr, err := p.readPageFromDisk(next); err == nil {
					p.cache.Put(next, payload, hdr)
				}
			}
		}()
	}

	return payload, hdr, nil
}

func (p *Pager) readPageFromDisk(id PageID) ([]byte, PageHeader, error) {
	raw := make([]byte, p.pageSize)
	off := int64(id) * int64(p.pageSize)

	p.mu.RLock()
	var err error
	if p.mmapWin != nil {
		_, err = p.mmapWin.readAt(raw, off)
	} else {
		_, err = p.file.ReadAt(raw, off)
	}
	p.mu.RUnlock()
	if err != nil {
		return nil, PageHeader{}, errors.Wrap(ErrIO, err.Error())
	}

	hdr := UnmarshalHeader(raw)
	onDisk := raw[PageHeaderSize : PageHeaderSize+int(hdr.DataLength)]

	var decrypted []byte
	if p.aead != nil {
		decrypted, err = decryptPayload(p.aead, id, hdr.Version, onDisk)
		if err != nil {
			return nil, PageHeader{}, err
		}
	} else {
		decrypted = onDisk
	}

	var logical []byte
	if p.cfg.UseCompression {
		logical, err = decompressPayload(decrypted, p.pageSize)
		if err != nil {
			return nil, PageHeader{}, errors.Wrap(ErrInvalidData, err.Error())
		}
	} else {
		logical = decrypted
	}

	if !p.quick.Load() {
		if ChecksumPayload(logical) != hdr.CRC32 {
			return nil, PageHeader{}, errors.Wrapf(ErrInvalidData, "CRC mismatch on page %d", id)
		}
	}

	return logical, hdr, nil
}

// ── Writes ───────────────────────────────────────────────────────────────

// WritePage compresses then encrypts payload and writes it through to the
// database file, invalidating and refreshing the cache entry. The header
// CRC covers the logical (pre-compression, pre-encryption) payload. When
// Config.Durable is set, the write is fsynced before returning.
func (p *Pager) WritePage(id PageID, payload []byte, version Version, prev, next PageID, flags Flags) error {
	if id < 0 {
		return errors.Wrapf(ErrInvalidInput, "negative page id %d", id)
	}
	if len(payload) > PayloadCapacity(p.pageSize) {
		return errors.Wrapf(ErrInvalidInput, "payload %d exceeds page capacity %d", len(payload), PayloadCapacity(p.pageSize))
	}

	crc := ChecksumPayload(payload)

	onDisk := payload
	if p.cfg.UseCompression {
		onDisk = compressPayload(onDisk)
	}
	if p.aead != nil {
		onDisk = encryptPayload(p.aead, id, version, onDisk)
	}
	if len(onDisk) > PayloadCapacity(p.pageSize) {
		return errors.Wrapf(ErrInvalidInput, "encoded payload %d exceeds page capacity %d", len(onDisk), PayloadCapacity(p.pageSize))
	}

	buf := make([]byte, p.pageSize)
	hdr := PageHeader{
		CRC32:      crc,
		Version:    version,
		PrevPageID: prev,
		NextPageID: next,
		Flags:      flags,
		DataLength: uint32(len(onDisk)),
	}
	MarshalHeader(&hdr, buf)
	copy(buf[PageHeaderSize:], onDisk)

	p.mu.Lock()
	off := int64(id) * int64(p.pageSize)
	_, err := p.file.WriteAt(buf, off)
	if err == nil && p.cfg.Durable {
		err = p.file.Sync()
	}
	p.mu.Unlock()
	if err != nil {
		return errors.Wrap(ErrIO, err.Error())
	}

	p.cache.Invalidate(id)
	p.cache.Put(id, payload, hdr)
	return nil
}

// Sync fsyncs the database file, guaranteeing durability of prior writes.
func (p *Pager) Sync() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if err := p.file.Sync(); err != nil {
		return errors.Wrap(ErrIO, err.Error())
	}
	return nil
}

// CacheStats returns the page cache's hit/miss counters (spec.md §4.8 "stats()").
func (p *Pager) CacheStats() (hits, misses uint64) {
	return p.cache.Stats()
}

// ── Header (page 0) ─────────────────────────────────────────────────────

// ReadHeader reads and decodes page 0. If the file has no pages yet, or
// page 0 reads back cleanly but its magic is missing or wrong, it
// transparently reinitialises the database with a fresh, empty header
// (spec.md §3: "Mismatched magic triggers reinitialisation"). A page 0
// that fails decryption or its CRC check is returned as an error and is
// not reinitialised.
func (p *Pager) ReadHeader() (*Header, error) {
	p.mu.RLock()
	empty := p.numPages == 0
	p.mu.RUnlock()
	if empty {
		return p.resetHeader()
	}

	payload, _, err := p.ReadPage(0)
	if err != nil {
		return nil, err
	}
	hdr, err := DecodeHeader(payload)
	if errors.Is(err, ErrBadMagic) {
		return p.resetHeader()
	}
	if err != nil {
		return nil, err
	}
	return hdr, nil
}

func (p *Pager) resetHeader() (*Header, error) {
	p.mu.Lock()
	if p.numPages == 0 {
		if _, err := p.growLocked(1); err != nil {
			p.mu.Unlock()
			return nil, err
		}
	}
	p.mu.Unlock()

	hdr := NewHeader()
	if err := p.WriteHeader(hdr); err != nil {
		return nil, err
	}
	return hdr, nil
}

// WriteHeader encodes and writes h to page 0.
func (p *Pager) WriteHeader(h *Header) error {
	return p.WritePage(0, EncodeHeader(h), 0, InvalidPageID, InvalidPageID, FlagIndex)
}
