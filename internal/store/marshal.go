package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/vend/internal/record"
)

// recordFile is the on-disk document shape. A top-level key (rather than a
// bare list) keeps the file self-describing and leaves room for tolerant
// extension without a schema version.
type recordFile struct {
	Purchases []record.PurchaseRecord `yaml:"purchases"`
}

// loadRecords reads the record file. A missing or empty file yields an
// empty set without error; a file that exists but cannot be parsed is an
// error the caller decides how to degrade on.
//
// Parsing is tolerant: unknown fields are ignored and missing fields take
// zero values, so files written by older or newer builds round-trip.
func loadRecords(path string) ([]record.PurchaseRecord, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read record file: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var doc recordFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse record file: %w", err)
	}
	return doc.Purchases, nil
}

// persistLocked writes the full record set through to disk.
// Caller must hold s.mu.
//
// The write goes to a temp file in the same directory followed by a
// rename, so a crash mid-write leaves the previous file intact. Write
// failures are returned, never swallowed: losing a write means losing
// crash-recovery safety.
func (s *Store) persistLocked() error {
	doc := recordFile{Purchases: s.records}
	data, err := yaml.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("marshal records: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, FileName+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp record file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write record file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync record file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close record file: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace record file: %w", err)
	}
	return nil
}
