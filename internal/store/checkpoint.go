// SPDX-License-Identifier: MIT

package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Checkpoint marks one finished batch within a run, letting an
// interrupted run resume without refetching completed batches.
type Checkpoint struct {
	RunID      string    `json:"runId"`
	Batch      int       `json:"batch"`
	Records    int       `json:"records"`
	FinishedAt time.Time `json:"finishedAt"`
}

// checkpointTTL bounds how long abandoned checkpoints linger: a run
// nobody resumes within a week expires on its own instead of
// accumulating in the store.
const checkpointTTL = 7 * 24 * time.Hour

// CheckpointStore keeps batch checkpoints in Badger, keyed
// "run:<id>:batch:<n>".
type CheckpointStore struct {
	db  *badger.DB
	ttl time.Duration
}

// OpenCheckpoints opens the checkpoint store at path.
func OpenCheckpoints(path string) (*CheckpointStore, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger: open %s: %w", path, err)
	}
	return &CheckpointStore{db: db, ttl: checkpointTTL}, nil
}

func (s *CheckpointStore) Close() error { return s.db.Close() }

func checkpointKey(runID string, batch int) []byte {
	return []byte(fmt.Sprintf("run:%s:batch:%d", runID, batch))
}

// Mark records that a batch finished.
func (s *CheckpointStore) Mark(cp Checkpoint) error {
	buf, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("badger: marshal checkpoint: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry(checkpointKey(cp.RunID, cp.Batch), buf).WithTTL(s.ttl)
		return txn.SetEntry(e)
	})
}

// Get returns the checkpoint for a batch, or false.
func (s *CheckpointStore) Get(runID string, batch int) (Checkpoint, bool, error) {
	var cp Checkpoint
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(checkpointKey(runID, batch))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &cp)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Checkpoint{}, false, nil
	}
	if err != nil {
		return Checkpoint{}, false, fmt.Errorf("badger: get checkpoint: %w", err)
	}
	return cp, true, nil
}

// Completed returns the batch numbers already finished for a run.
func (s *CheckpointStore) Completed(runID string) (map[int]Checkpoint, error) {
	out := make(map[int]Checkpoint)
	prefix := []byte("run:" + runID + ":batch:")
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var cp Checkpoint
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &cp)
			}); err != nil {
				return err
			}
			out[cp.Batch] = cp
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badger: list checkpoints: %w", err)
	}
	return out, nil
}

// Clear drops every checkpoint belonging to a run, typically after its
// combined output has been written.
func (s *CheckpointStore) Clear(runID string) error {
	prefix := []byte("run:" + runID + ":batch:")
	return s.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		var keys [][]byte
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}
