// Package store provides the durable record store for in-flight purchases.
//
// The persisted representation is a single YAML file holding the flat list
// of purchase records - structured, human-diffable, and small (a handful of
// records at most). Every mutating call rewrites the file before returning
// (write-through, no write-behind): a crash immediately after a successful
// return must not lose the update.
//
// All operations are serialized behind one mutex. The store is the only
// component allowed to touch the persisted file.
package store

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/roach88/vend/internal/record"
)

// FileName is the record file name inside the data directory.
const FileName = "purchases.yaml"

// Store is a mutex-serialized, write-through purchase record store.
type Store struct {
	mu      sync.Mutex
	path    string
	records []record.PurchaseRecord
}

// Open loads (or initializes) the record store in the given data directory.
//
// A missing, empty, or corrupt record file never fails Open: the store
// starts with an empty set and logs the condition. Availability of new
// purchases is favored over blocking the application on a bad file.
//
// Open fails only when the data directory itself cannot be created.
func Open(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	path := filepath.Join(dataDir, FileName)
	records, err := loadRecords(path)
	if err != nil {
		// Degrade to an empty set - documented trade-off, not silent:
		// the operator sees exactly what was dropped and why.
		slog.Error("record file unreadable, starting empty",
			"path", path,
			"error", err,
		)
		records = nil
	}

	return &Store{path: path, records: records}, nil
}

// Path returns the location of the persisted record file.
func (s *Store) Path() string {
	return s.path
}

// Upsert inserts or replaces the record keyed by ItemID and persists the
// full set before returning.
func (s *Store) Upsert(rec record.PurchaseRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	replaced := false
	for i := range s.records {
		if s.records[i].ItemID == rec.ItemID {
			s.records[i] = rec
			replaced = true
			break
		}
	}
	if !replaced {
		s.records = append(s.records, rec)
	}

	return s.persistLocked()
}

// Remove deletes the record matching both itemID and transactionID and
// persists. Removing a record that does not exist is a no-op: removal is
// retried by recovery and must be idempotent.
//
// A transactionID of "" matches a record with no transaction assigned.
func (s *Store) Remove(itemID, transactionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.records {
		if s.records[i].ItemID == itemID && s.records[i].TransactionID == transactionID {
			s.records = append(s.records[:i], s.records[i+1:]...)
			return s.persistLocked()
		}
	}
	return nil
}

// FindByItem returns a copy of the record for itemID, or false.
func (s *Store) FindByItem(itemID string) (record.PurchaseRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.records {
		if s.records[i].ItemID == itemID {
			return s.records[i], true
		}
	}
	return record.PurchaseRecord{}, false
}

// FindByTransaction returns a copy of the record for transactionID, or false.
func (s *Store) FindByTransaction(transactionID string) (record.PurchaseRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if transactionID == "" {
		return record.PurchaseRecord{}, false
	}
	for i := range s.records {
		if s.records[i].TransactionID == transactionID {
			return s.records[i], true
		}
	}
	return record.PurchaseRecord{}, false
}

// All returns a copy of every record, in stable file order.
func (s *Store) All() []record.PurchaseRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]record.PurchaseRecord, len(s.records))
	copy(out, s.records)
	return out
}

// Len returns the current record count.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// PurgeOlderThan removes stale records and persists if anything changed.
//
// Two policies apply, both measured against UpdatedAt:
//   - any record older than maxAge is removed regardless of status;
//   - records still in Initiated after initGrace are removed early, since
//     a purchase interrupted before the storefront ever replied holds no
//     receipt and cannot be resumed.
//
// Returns the number of records removed.
func (s *Store) PurgeOlderThan(now time.Time, maxAge, initGrace time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.records[:0]
	removed := 0
	for _, rec := range s.records {
		age := now.Sub(rec.UpdatedAt)
		stale := age > maxAge ||
			(rec.Status == record.StatusInitiated && age > initGrace)
		if stale {
			slog.Info("purging stale purchase record",
				"item_id", rec.ItemID,
				"transaction_id", rec.TransactionID,
				"status", rec.Status,
				"updated_at", rec.UpdatedAt,
			)
			removed++
			continue
		}
		kept = append(kept, rec)
	}
	s.records = kept

	if removed == 0 {
		return 0, nil
	}
	return removed, s.persistLocked()
}
