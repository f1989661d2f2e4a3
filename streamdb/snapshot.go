package streamdb

import (
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/pageforge/streamdb/internal/errs"
)

// Snapshot copies the entire database file byte-for-byte to destPath and
// opens it as a new Engine with the same configuration (spec.md §4.7).
// All pending transactions must be committed first; Snapshot flushes the
// WAL before copying so the snapshot is self-consistent.
func (e *Engine) Snapshot(destPath string) (*Engine, error) {
	if err := e.Flush(); err != nil {
		return nil, err
	}

	src, err := os.Open(e.cfg.DBPath)
	if err != nil {
		return nil, errors.Wrap(errs.ErrIO, err.Error())
	}
	defer src.Close()

	dst, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, errors.Wrap(errs.ErrIO, err.Error())
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return nil, errors.Wrap(errs.ErrIO, err.Error())
	}
	if err := dst.Close(); err != nil {
		return nil, errors.Wrap(errs.ErrIO, err.Error())
	}

	snapCfg := e.cfg
	snapCfg.DBPath = destPath
	snapCfg.WALPath = ""
	return OpenWithLogger(snapCfg, e.logger)
}
