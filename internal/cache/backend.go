package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrInvalidKey indicates an empty or oversized record key.
	ErrInvalidKey      = errors.New("cache: invalid record key")
	errMissingDatabase = errors.New("cache: database handle is required")
)

// Backend is a pluggable durable key/value store. Implementations must be
// safe for use from interleaved asynchronous callers.
type Backend interface {
	Put(ctx context.Context, record Record) error
	Get(ctx context.Context, key string) (Record, bool, error)
	Delete(ctx context.Context, key string) error
	Purge(ctx context.Context) error
}

func validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	if len(key) > maxKeyLength {
		return fmt.Errorf("%w: exceeds %d characters", ErrInvalidKey, maxKeyLength)
	}
	return nil
}

type sqliteBackend struct {
	db *gorm.DB
}

// NewSQLiteBackend wraps an opened gorm handle as a durable Backend.
func NewSQLiteBackend(db *gorm.DB) (Backend, error) {
	if db == nil {
		return nil, errMissingDatabase
	}
	return &sqliteBackend{db: db}, nil
}

func (b *sqliteBackend) Put(ctx context.Context, record Record) error {
	if err := validateKey(record.Key); err != nil {
		return err
	}
	record.ContentBytes = int64(len(record.Content))
	return b.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			UpdateAll: true,
		}).
		Create(&record).Error
}

func (b *sqliteBackend) Get(ctx context.Context, key string) (Record, bool, error) {
	if err := validateKey(key); err != nil {
		return Record{}, false, err
	}
	var record Record
	err := b.db.WithContext(ctx).Where("key = ?", key).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	return record, true, nil
}

func (b *sqliteBackend) Delete(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	return b.db.WithContext(ctx).Where("key = ?", key).Delete(&Record{}).Error
}

func (b *sqliteBackend) Purge(ctx context.Context) error {
	return b.db.WithContext(ctx).Where("1 = 1").Delete(&Record{}).Error
}

type memoryBackend struct {
	mu      sync.Mutex
	records map[string]Record
}

// NewMemoryBackend returns a process-local Backend for tests and for
// environments without a usable durable store.
func NewMemoryBackend() Backend {
	return &memoryBackend{records: make(map[string]Record)}
}

func (b *memoryBackend) Put(_ context.Context, record Record) error {
	if err := validateKey(record.Key); err != nil {
		return err
	}
	record.ContentBytes = int64(len(record.Content))
	b.mu.Lock()
	b.records[record.Key] = record
	b.mu.Unlock()
	return nil
}

func (b *memoryBackend) Get(_ context.Context, key string) (Record, bool, error) {
	if err := validateKey(key); err != nil {
		return Record{}, false, err
	}
	b.mu.Lock()
	record, ok := b.records[key]
	b.mu.Unlock()
	return record, ok, nil
}

func (b *memoryBackend) Delete(_ context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	b.mu.Lock()
	delete(b.records, key)
	b.mu.Unlock()
	return nil
}

func (b *memoryBackend) Purge(_ context.Context) error {
	b.mu.Lock()
	b.records = make(map[string]Record)
	b.mu.Unlock()
	return nil
}
