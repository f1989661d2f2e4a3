package pager

import (
	"encoding/binary"
	"hash/crc32"
	"io"
	"os"
	"sync"

	"github.com/pkg/errors"
)

// ───────────────────────────────────────────────────────────────────────────
// Write-ahead log — logical operation records
// ───────────────────────────────────────────────────────────────────────────
//
// Grounded on the teacher's WAL file format (internal/storage/pager/wal.go
// in the teacher repo): an append-only file of a small fixed header
// followed by self-describing, CRC-checked records, replayed from the last
// checkpoint on recovery. The teacher logs physical page images; spec.md
// §4.5 calls for a *logical* WAL instead — write/delete/bind/unbind
// operations recorded before the staged mutation is applied, so recovery
// re-runs the operation rather than restoring a byte-for-byte page.
//
// WAL file header (first 16 bytes):
//
//	[0:8]   Magic      "SDBWAL\x00\x00"
//	[8:12]  Version    uint32 LE (currently 1)
//	[12:16] Reserved   4 bytes
//
// WAL record (variable-length, follows header):
//
//	[0]     Op          (1 byte)
//	[1:9]   TxID        (uint64 LE)
//	[9:13]  PathLen     (uint32 LE)
//	[13:17] ValueLen    (uint32 LE)
//	[17:21] RecordCRC   (uint32 LE) — CRC-32/IEEE of bytes [0:17] followed by the path and value bytes
//	[21:21+PathLen]           Path bytes
//	[21+PathLen:...+ValueLen] Value bytes (empty for delete/unbind)
const (
	walMagic     = "SDBWAL\x00\x00"
	walVersion   = uint32(1)
	walFileHdr   = 16
	walRecHdrLen = 21
)

// WALOp identifies the logical operation a WAL record replays.
type WALOp uint8

const (
	WALOpBegin      WALOp = 0x01
	WALOpWrite      WALOp = 0x02
	WALOpDelete     WALOp = 0x03
	WALOpBind       WALOp = 0x04
	WALOpUnbind     WALOp = 0x05
	WALOpCommit     WALOp = 0x06
	WALOpAbort      WALOp = 0x07
	WALOpCheckpoint WALOp = 0x08
	// WALOpOverwrite replays a retained-version write (spec.md §4.3 step 4):
	// unlike WALOpWrite, it updates an existing document's chain in place
	// rather than inserting a brand new record.
	WALOpOverwrite WALOp = 0x09
)

// WALRecord is one decoded logical WAL entry.
type WALRecord struct {
	Op    WALOp
	TxID  uint64
	Path  string
	Value []byte
}

// WAL is an append-only logical write-ahead log.
type WAL struct {
	mu   sync.Mutex
	file *os.File
}

// OpenWAL opens or creates the WAL file at path, writing a fresh header if
// the file is new.
func OpenWAL(path string) (*WAL, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, errors.Wrap(ErrIO, err.Error())
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrap(ErrIO, err.Error())
	}
	w := &WAL{file: f}
	if info.Size() == 0 {
		if err := w.writeFileHeader(); err != nil {
			f.Close()
			return nil, err
		}
	}
	return w, nil
}

func (w *WAL) writeFileHeader() error {
	buf := make([]byte, walFileHdr)
	copy(buf[0:8], walMagic)
	binary.LittleEndian.PutUint32(buf[8:12], walVersion)
	if _, err := w.file.WriteAt(buf, 0); err != nil {
		return errors.Wrap(ErrIO, err.Error())
	}
	return nil
}

// Append writes a record to the end of the log and fsyncs it before
// returning, so every staged mutation is durable before it is applied to
// the page store (spec.md §4.5: "the WAL record for an operation is
// durable before the staged mutation is applied").
func (w *WAL) Append(rec WALRecord) error {
	buf := encodeWALRecord(rec)
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.file.Seek(0, io.SeekEnd); err != nil {
		return errors.Wrap(ErrIO, err.Error())
	}
	if _, err := w.file.Write(buf); err != nil {
		return errors.Wrap(ErrIO, err.Error())
	}
	if err := w.file.Sync(); err != nil {
		return errors.Wrap(ErrIO, err.Error())
	}
	return nil
}

// Checkpoint appends a checkpoint marker and truncates the log back to an
// empty, freshly-headered file. Callers must have already ensured every
// record before the checkpoint has been durably applied to the page
// store.
func (w *WAL) Checkpoint() error {
	if err := w.Append(WALRecord{Op: WALOpCheckpoint}); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.file.Truncate(0); err != nil {
		return errors.Wrap(ErrIO, err.Error())
	}
	return w.writeFileHeader()
}

// Close closes the underlying WAL file.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.file.Close(); err != nil {
		return errors.Wrap(ErrIO, err.Error())
	}
	return nil
}

// ReadAll reads every valid record after the file header, in append
// order, stopping (without error) at the first truncated or CRC-invalid
// record — a half-written tail from a crash mid-append.
func (w *WAL) ReadAll() ([]WALRecord, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.file.Seek(walFileHdr, io.SeekStart); err != nil {
		return nil, errors.Wrap(ErrIO, err.Error())
	}
	data, err := io.ReadAll(w.file)
	if err != nil {
		return nil, errors.Wrap(ErrIO, err.Error())
	}

	var recs []WALRecord
	off := 0
	for off+walRecHdrLen <= len(data) {
		rec, n, ok := decodeWALRecord(data[off:])
		if !ok {
			break
		}
		recs = append(recs, rec)
		off += n
	}
	return recs, nil
}

func encodeWALRecord(rec WALRecord) []byte {
	path := []byte(rec.Path)
	buf := make([]byte, walRecHdrLen+len(path)+len(rec.Value))
	buf[0] = byte(rec.Op)
	binary.LittleEndian.PutUint64(buf[1:9], rec.TxID)
	binary.LittleEndian.PutUint32(buf[9:13], uint32(len(path)))
	binary.LittleEndian.PutUint32(buf[13:17], uint32(len(rec.Value)))
	copy(buf[walRecHdrLen:], path)
	copy(buf[walRecHdrLen+len(path):], rec.Value)
	crc := crc32.Checksum(buf[:17], crcTable)
	crc = crc32.Update(crc, crcTable, buf[walRecHdrLen:])
	binary.LittleEndian.PutUint32(buf[17:21], crc)
	return buf
}

func decodeWALRecord(data []byte) (WALRecord, int, bool) {
	if len(data) < walRecHdrLen {
		return WALRecord{}, 0, false
	}
	pathLen := int(binary.LittleEndian.Uint32(data[9:13]))
	valueLen := int(binary.LittleEndian.Uint32(data[13:17]))
	total := walRecHdrLen + pathLen + valueLen
	if total < 0 || len(data) < total {
		return WALRecord{}, 0, false
	}

	wantCRC := binary.LittleEndian.Uint32(data[17:21])
	gotCRC := crc32.Checksum(data[:17], crcTable)
	gotCRC = crc32.Update(gotCRC, crcTable, data[walRecHdrLen:total])
	if gotCRC != wantCRC {
		return WALRecord{}, 0, false
	}

	rec := WALRecord{
		Op:   WALOp(data[0]),
		TxID: binary.LittleEndian.Uint64(data[1:9]),
		Path: string(data[walRecHdrLen : walRecHdrLen+pathLen]),
	}
	if valueLen > 0 {
		rec.Value = append([]byte(nil), data[walRecHdrLen+pathLen:total]...)
	}
	return rec, total, true
}
