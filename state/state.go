// Package state persists which list each loader slot was showing, so the
// next run can resume where the last one left off.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"cineshelf/locator"

	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"
)

var bucketSlots = []byte("slots")

const stateFile = "state.db"

type entry struct {
	Target  string    `json:"target"`
	SavedAt time.Time `json:"saved_at"`
}

type Store struct {
	db     *bolt.DB
	logger *zap.Logger
}

// Open opens (creating if needed) the state file under dataPath.
func Open(dataPath string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dataPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := bolt.Open(filepath.Join(dataPath, stateFile), 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open state db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSlots)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create state bucket: %w", err)
	}

	return &Store{db: db, logger: logger.Named("state")}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func slotKey(slot int) []byte {
	return []byte(strconv.Itoa(slot))
}

// Save records target as the slot's current request.
func (s *Store) Save(slot int, target string) error {
	data, err := json.Marshal(entry{Target: target, SavedAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSlots).Put(slotKey(slot), data)
	})
	if err != nil {
		return fmt.Errorf("failed to save slot %d: %w", slot, err)
	}
	s.logger.Debug("state saved", zap.Int("slot", slot), zap.String("target", target))
	return nil
}

// Load returns the slot's saved target, if any. An unreadable entry or a
// failed read counts as no entry.
func (s *Store) Load(slot int) (string, bool) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketSlots).Get(slotKey(slot)); v != nil {
			data = make([]byte, len(v))
			copy(data, v)
		}
		return nil
	})
	if err != nil {
		s.logger.Warn("failed to read state", zap.Int("slot", slot), zap.Error(err))
		return "", false
	}
	if data == nil {
		return "", false
	}

	var e entry
	if err := json.Unmarshal(data, &e); err != nil || e.Target == "" {
		s.logger.Warn("discarding unreadable state entry", zap.Int("slot", slot), zap.Error(err))
		return "", false
	}
	return e.Target, true
}

func (s *Store) Clear(slot int) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSlots).Delete(slotKey(slot))
	})
}

// InitialTarget picks what a slot shows on start-up. A saved target wins.
// Without one, the favorites list is shown when the remote source is
// unreachable and the popular list otherwise.
func InitialTarget(saved string, online bool, popular string) string {
	if saved != "" {
		return saved
	}
	if !online {
		return locator.Favorites().String()
	}
	return popular
}
