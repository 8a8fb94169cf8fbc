package rawrcache

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/Keksclan/rawrcache/storage"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
)

// snapshotVersion is bumped whenever the snapshot layout changes.
const snapshotVersion = 1

// snapshotHeader is the first line of an export file; every following line
// is one JSON-encoded storage.Entry.
type snapshotHeader struct {
	Version int       `json:"version"`
	ID      string    `json:"id"`
	Created time.Time `json:"created"`
	Entries int       `json:"entries"`
}

// ExportCache writes every live entry to path as JSON lines. The file is
// written to a temporary name first and renamed into place.
func (m *Manager) ExportCache(ctx context.Context, path string) bool {
	if !m.ready("export") {
		return false
	}
	entries, err := m.store.Entries(ctx)
	if err != nil {
		m.logger.Warn("cache export failed", slog.Any("err", err))
		m.obs.storageError("export", err)
		return false
	}
	id := uuid.NewString()
	written, err := writeSnapshot(path, snapshotHeader{
		Version: snapshotVersion,
		ID:      id,
		Created: time.Now().UTC(),
		Entries: len(entries),
	}, entries)
	if err != nil {
		m.logger.Warn("cache export failed", slog.String("path", path), slog.Any("err", err))
		return false
	}
	m.logger.Info("cache exported",
		slog.String("path", path),
		slog.String("snapshot", id),
		slog.Int("entries", len(entries)),
		slog.String("size", humanize.Bytes(uint64(written))))
	return true
}

func writeSnapshot(path string, header snapshotHeader, entries []storage.Entry) (int64, error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".rawrcache-export-*")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	enc := json.NewEncoder(w)
	if err := enc.Encode(header); err != nil {
		tmp.Close()
		return 0, fmt.Errorf("encode header: %w", err)
	}
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			tmp.Close()
			return 0, fmt.Errorf("encode entry %q: %w", e.Key, err)
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return 0, fmt.Errorf("flush: %w", err)
	}
	info, err := tmp.Stat()
	if err != nil {
		tmp.Close()
		return 0, fmt.Errorf("stat: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("close: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return 0, fmt.Errorf("rename: %w", err)
	}
	return info.Size(), nil
}

// ImportCache restores entries from a file written by ExportCache. Entries
// that expired since the export are skipped. Entries restored before a
// failure are kept.
func (m *Manager) ImportCache(ctx context.Context, path string) bool {
	if !m.ready("import") {
		return false
	}
	f, err := os.Open(path)
	if err != nil {
		m.logger.Warn("cache import failed", slog.String("path", path), slog.Any("err", err))
		return false
	}
	defer f.Close()

	dec := json.NewDecoder(bufio.NewReader(f))
	var header snapshotHeader
	if err := dec.Decode(&header); err != nil {
		m.logger.Warn("cache import failed: bad header", slog.String("path", path), slog.Any("err", err))
		return false
	}
	if header.Version != snapshotVersion {
		m.logger.Warn("cache import failed: unsupported snapshot version",
			slog.String("path", path), slog.Int("version", header.Version))
		return false
	}

	now := time.Now()
	var restored, skipped int
	for dec.More() {
		var e storage.Entry
		if err := dec.Decode(&e); err != nil {
			m.logger.Warn("cache import failed: bad entry", slog.String("path", path), slog.Any("err", err))
			m.refreshSize(ctx)
			return false
		}
		if e.Key == "" || e.Expired(now) {
			skipped++
			continue
		}
		if err := m.store.Restore(ctx, e); err != nil {
			m.logger.Warn("cache import failed", slog.String("key", e.Key), slog.Any("err", err))
			m.obs.storageError("import", err)
			m.refreshSize(ctx)
			return false
		}
		restored++
	}
	size := m.refreshSize(ctx)
	m.enforceMaxSize(ctx, size)
	m.logger.Info("cache imported",
		slog.String("path", path),
		slog.String("snapshot", header.ID),
		slog.Int("restored", restored),
		slog.Int("skipped", skipped),
		slog.String("size", humanize.IBytes(uint64(size))))
	return true
}
