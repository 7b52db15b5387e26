package journal

import (
	"context"
	"fmt"
	"strings"
	"time"

	"lms-zabbix-sync/core/database"

	"gorm.io/gorm"
)

// DefaultLimit and MaxLimit bound Recent queries.
const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// Filter narrows Recent queries. Zero values match everything.
type Filter struct {
	DeviceID int64
	Outcome  string
	Limit    int
}

// Store persists journal entries.
type Store struct {
	db *gorm.DB
}

// NewStore creates a store on db.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates or updates the journal table and verifies its columns.
func (s *Store) Migrate() error {
	if err := s.db.AutoMigrate(&Entry{}); err != nil {
		return fmt.Errorf("failed to migrate journal: %w", err)
	}
	missing, err := database.MissingColumns(s.db, Entry{}.TableName(), columns)
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		return fmt.Errorf("journal table is missing columns: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Record writes one entry. CreatedAt is set when empty.
func (s *Store) Record(ctx context.Context, e Entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if len(e.Error) > 1024 {
		e.Error = e.Error[:1024]
	}
	if err := s.db.WithContext(ctx).Create(&e).Error; err != nil {
		return fmt.Errorf("failed to record journal entry: %w", err)
	}
	return nil
}

// Recent returns the newest entries matching f.
func (s *Store) Recent(ctx context.Context, f Filter) ([]Entry, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	q := s.db.WithContext(ctx).Model(&Entry{})
	if f.DeviceID != 0 {
		q = q.Where("device_id = ?", f.DeviceID)
	}
	if f.Outcome != "" {
		q = q.Where("outcome = ?", f.Outcome)
	}

	var entries []Entry
	if err := q.Order("id DESC").Limit(limit).Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to query journal: %w", err)
	}
	return entries, nil
}

// Prune deletes entries created before cutoff and returns how many were removed.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&Entry{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to prune journal: %w", res.Error)
	}
	return res.RowsAffected, nil
}
