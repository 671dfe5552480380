package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// kvEntry is one durable key-value row.
type kvEntry struct {
	Key       string         `gorm:"primaryKey;column:key"`
	Value     datatypes.JSON `gorm:"column:value"`
	UpdatedAt time.Time      `gorm:"column:updated_at"`
}

func (kvEntry) TableName() string { return "kv_entries" }

// saveRequest is one queued save with its completion channel.
type saveRequest struct {
	sets OverrideSets
	done chan error
}

// SQLiteStore is an OverrideStore backed by an embedded SQLite database.
type SQLiteStore struct {
	db     *gorm.DB
	logger *slog.Logger

	queue chan saveRequest
	wg    sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// OpenSQLite opens (creating if needed) the store at path. ":memory:" gives an
// ephemeral store for tests.
func OpenSQLite(path string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}

	if err := db.AutoMigrate(&kvEntry{}); err != nil {
		return nil, fmt.Errorf("migrate kv table: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
		queue:  make(chan saveRequest, 16),
	}

	s.wg.Add(1)
	go s.writeLoop()

	return s, nil
}

// Load reads both override sets.
func (s *SQLiteStore) Load(ctx context.Context) (OverrideSets, error) {
	var sets OverrideSets

	preparing, err := s.loadSet(ctx, KeyPreparing)
	if err != nil {
		return sets, err
	}
	ready, err := s.loadSet(ctx, KeyReadyForPickup)
	if err != nil {
		return sets, err
	}

	sets.Preparing = preparing
	sets.ReadyForPickup = ready
	return sets, nil
}

func (s *SQLiteStore) loadSet(ctx context.Context, key string) ([]string, error) {
	var entry kvEntry
	err := s.db.WithContext(ctx).First(&entry, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", key, err)
	}

	var ids []string
	if err := json.Unmarshal(entry.Value, &ids); err != nil {
		// Corrupt entry: treat as empty rather than wedging startup.
		s.logger.Warn("corrupt override entry, resetting", "key", key, "error", err)
		return nil, nil
	}
	return ids, nil
}

// Save enqueues a whole-set replacement and waits for it to commit.
func (s *SQLiteStore) Save(ctx context.Context, sets OverrideSets) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	req := saveRequest{sets: sets.Clone(), done: make(chan error, 1)}
	s.queue <- req
	s.mu.Unlock()

	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		// The write still lands; only the wait is abandoned.
		return ctx.Err()
	}
}

// writeLoop applies queued saves one at a time.
func (s *SQLiteStore) writeLoop() {
	defer s.wg.Done()

	for req := range s.queue {
		err := s.write(req.sets)
		if err != nil {
			s.logger.Error("override save failed", "error", err)
		}
		req.done <- err
	}
}

func (s *SQLiteStore) write(sets OverrideSets) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := upsert(tx, KeyPreparing, sets.Preparing); err != nil {
			return err
		}
		return upsert(tx, KeyReadyForPickup, sets.ReadyForPickup)
	})
}

func upsert(tx *gorm.DB, key string, ids []string) error {
	if ids == nil {
		ids = []string{}
	}
	value, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}

	entry := kvEntry{Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	err = tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&entry).Error
	if err != nil {
		return fmt.Errorf("upsert %s: %w", key, err)
	}
	return nil
}

// Close drains pending saves and closes the database.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	s.wg.Wait()

	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
