package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/media-harvester/pkg/log"
	"github.com/Sriram-PR/media-harvester/pkg/models"
	"github.com/Sriram-PR/media-harvester/pkg/utils"
)

const (
	sliceKeyPrefix  = "slice:"        // Prefix for slice checkpoint keys in DB
	checkpointDBDir = "checkpoint_db" // Subdirectory name within stateDir for Badger DB files
)

// BadgerStore implements the CheckpointStore interface using BadgerDB
type BadgerStore struct {
	db  *badger.DB
	log *logrus.Entry
}

// NewBadgerStore opens (or creates) the checkpoint database under stateDir
func NewBadgerStore(stateDir string, logger *logrus.Entry) (*BadgerStore, error) {
	dbPath := filepath.Join(stateDir, checkpointDBDir)
	logger.Infof("Initializing checkpoint database at: %s", dbPath)

	if err := os.MkdirAll(dbPath, 0755); err != nil {
		return nil, fmt.Errorf("%w: cannot create state directory %s: %w", utils.ErrFilesystem, dbPath, err)
	}

	badgerLogger := log.NewBadgerLogrusAdapter(logger.WithField("component", "badgerdb"))
	opts := badger.DefaultOptions(dbPath).
		WithLogger(badgerLogger).
		WithNumVersionsToKeep(1)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open badger database at %s: %w", utils.ErrDatabase, dbPath, err)
	}
	return &BadgerStore{db: db, log: logger}, nil
}

// languagePrefix is the key prefix of every slice of lang
func languagePrefix(lang string) []byte {
	return []byte(sliceKeyPrefix + utils.SanitizeFilename(lang) + ":")
}

// sliceKey zero-pads offsets so key order is start order
func sliceKey(lang string, start, end int) []byte {
	return fmt.Appendf(languagePrefix(lang), "%012d-%012d", start, end)
}

const maxConflictRetries = 10

// dbUpdate wraps db.Update with a retry loop for BadgerDB transaction conflicts.
func (s *BadgerStore) dbUpdate(fn func(txn *badger.Txn) error) error {
	for i := range maxConflictRetries {
		err := s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		s.log.Debugf("BadgerDB transaction conflict (attempt %d/%d), retrying", i+1, maxConflictRetries)
	}
	return fmt.Errorf("%w: transaction conflict not resolved after %d retries", utils.ErrDatabase, maxConflictRetries)
}

// MarkSliceAcquired implements the SliceStore interface
func (s *BadgerStore) MarkSliceAcquired(cp models.SliceCheckpoint) error {
	cp.Classified = false
	cp.ClassifiedAt = time.Time{}
	if cp.AcquiredAt.IsZero() {
		cp.AcquiredAt = time.Now()
	}
	key := sliceKey(cp.Language, cp.Start, cp.End)
	val, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("%w: marshaling checkpoint for '%s': %w", utils.ErrDatabase, key, err)
	}
	if err := s.dbUpdate(func(txn *badger.Txn) error { return txn.Set(key, val) }); err != nil {
		s.log.WithField("key", string(key)).Errorf("DB Update error in MarkSliceAcquired: %v", err)
		return fmt.Errorf("%w: storing checkpoint '%s': %w", utils.ErrDatabase, key, err)
	}
	return nil
}

// MarkSliceClassified implements the SliceStore interface
func (s *BadgerStore) MarkSliceClassified(lang string, start, end int) error {
	key := sliceKey(lang, start, end)
	err := s.dbUpdate(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		var cp models.SliceCheckpoint
		if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &cp) }); err != nil {
			return err
		}
		cp.Classified = true
		cp.ClassifiedAt = time.Now()
		val, err := json.Marshal(cp)
		if err != nil {
			return err
		}
		return txn.Set(key, val)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("%w: slice [%d, %d) of '%s' was never acquired", utils.ErrDatabase, start, end, lang)
	}
	if err != nil {
		return fmt.Errorf("%w: updating checkpoint '%s': %w", utils.ErrDatabase, key, err)
	}
	return nil
}

// GetSlice implements the SliceStore interface
func (s *BadgerStore) GetSlice(lang string, start, end int) (*models.SliceCheckpoint, bool, error) {
	key := sliceKey(lang, start, end)
	var cp *models.SliceCheckpoint
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var decoded models.SliceCheckpoint
			if err := json.Unmarshal(val, &decoded); err != nil {
				s.log.Warnf("Failed to unmarshal checkpoint for key '%s': %v. Treating as absent.", key, err)
				return nil
			}
			cp = &decoded
			return nil
		})
	})
	if err != nil {
		return nil, false, fmt.Errorf("%w: reading checkpoint '%s': %w", utils.ErrDatabase, key, err)
	}
	return cp, cp != nil, nil
}

// ListSlices implements the SliceStore interface
func (s *BadgerStore) ListSlices(lang string) ([]models.SliceCheckpoint, error) {
	prefix := languagePrefix(lang)
	var out []models.SliceCheckpoint
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			err := item.Value(func(val []byte) error {
				var cp models.SliceCheckpoint
				if err := json.Unmarshal(val, &cp); err != nil {
					s.log.Warnf("Skipping unreadable checkpoint '%s': %v", item.Key(), err)
					return nil
				}
				out = append(out, cp)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: listing checkpoints of '%s': %w", utils.ErrDatabase, lang, err)
	}
	return out, nil
}

// ResetLanguage implements the StoreAdmin interface
func (s *BadgerStore) ResetLanguage(lang string) error {
	s.log.Warnf("Dropping every slice checkpoint of language '%s'", lang)
	if err := s.db.DropPrefix(languagePrefix(lang)); err != nil {
		return fmt.Errorf("%w: dropping checkpoints of '%s': %w", utils.ErrDatabase, lang, err)
	}
	return nil
}

// RunGC runs BadgerDB's garbage collection periodically
func (s *BadgerStore) RunGC(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if s.db == nil || s.db.IsClosed() {
				continue
			}
			var err error
			for err == nil {
				err = s.db.RunValueLogGC(0.5)
			}
			if !errors.Is(err, badger.ErrNoRewrite) {
				s.log.Errorf("BadgerDB GC error: %v", err)
			}
		case <-ctx.Done():
			s.log.Debugf("Stopping BadgerDB garbage collection: %v", ctx.Err())
			return
		}
	}
}

// Close implements the StoreAdmin interface
func (s *BadgerStore) Close() error {
	if s.db == nil || s.db.IsClosed() {
		return nil
	}
	if err := s.db.Close(); err != nil {
		s.log.Errorf("Error closing checkpoint DB: %v", err)
		return fmt.Errorf("%w: closing checkpoint DB: %w", utils.ErrDatabase, err)
	}
	s.log.Debug("Checkpoint DB closed.")
	return nil
}
