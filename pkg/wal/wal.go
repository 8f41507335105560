// Package wal is a minimal append-only write-ahead log of JSON records.
//
// Every Append is encoded on its own line and fsync'd before returning, so a
// record that was acknowledged survives a crash. Replay streams the records
// back in write order.
//
// A crash in the middle of an Append can leave a partial last line. That
// record was never acknowledged, so Replay cuts it off and the log stays
// appendable. A bad line anywhere else is reported as ErrCorrupt.
package wal

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

// FileMode is rw-r--r--.
const FileMode fs.FileMode = 0o644

// ErrCorrupt reports an undecodable record followed by further records.
var ErrCorrupt = errors.New("wal corrupt")

type WAL struct {
	file *os.File
	mu   sync.Mutex
	log  zerolog.Logger
}

// Option configures a WAL.
type Option func(*WAL)

// WithLogger reports recovery actions such as a discarded torn record.
func WithLogger(log zerolog.Logger) Option {
	return func(w *WAL) { w.log = log }
}

// Open opens the log at path, creating it when missing.
func Open(path string, opts ...Option) (*WAL, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, FileMode)
	if err != nil {
		return nil, fmt.Errorf("open wal %s: %w", path, err)
	}
	w := &WAL{file: file, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Append writes one record and syncs it to disk. A failed write is cut back
// off the log.
func (w *WAL) Append(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("wal encode: %w", err)
	}
	end, err := w.file.Seek(0, io.SeekEnd)
	if err != nil {
		return fmt.Errorf("wal seek: %w", err)
	}

	if _, err := w.file.Write(append(raw, '\n')); err != nil {
		_ = w.file.Truncate(end)
		return fmt.Errorf("wal append: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("wal sync: %w", err)
	}
	return nil
}

// Replay calls fn with every record from the start of the log. It stops at
// the first error returned by fn. A torn last record is truncated away.
func (w *WAL) Replay(fn func(raw json.RawMessage) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("wal seek: %w", err)
	}

	r := bufio.NewReader(w.file)
	var offset int64 // end of the last good line
	for {
		line, err := r.ReadBytes('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("wal read: %w", err)
		}
		terminated := err == nil

		record := bytes.TrimSpace(line)
		if len(record) == 0 {
			if !terminated {
				return nil
			}
			offset += int64(len(line))
			continue
		}

		if !terminated || !json.Valid(record) {
			if terminated && !atEOF(r) {
				return fmt.Errorf("record at offset %d: %w", offset, ErrCorrupt)
			}
			return w.truncate(offset, len(line))
		}

		if err := fn(json.RawMessage(record)); err != nil {
			return err
		}
		offset += int64(len(line))
	}
}

func (w *WAL) truncate(offset int64, dropped int) error {
	w.log.Warn().
		Int64("offset", offset).
		Int("bytes", dropped).
		Msg("discarding torn record at the end of the wal")

	if err := w.file.Truncate(offset); err != nil {
		return fmt.Errorf("wal truncate: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("wal sync: %w", err)
	}
	return nil
}

func atEOF(r *bufio.Reader) bool {
	_, err := r.Peek(1)
	return errors.Is(err, io.EOF)
}

func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}
