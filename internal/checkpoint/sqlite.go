package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/querydesk/internal/models"
	"github.com/zulandar/querydesk/internal/state"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SQLite is a Store backed by a local SQLite database, so conversations
// survive process restarts.
type SQLite struct {
	db *gorm.DB
}

// OpenSQLite opens (creating if needed) the checkpoint database at path and
// migrates its schema.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("checkpoint: open %s: %w", path, err)
	}
	if err := db.AutoMigrate(&models.Checkpoint{}); err != nil {
		return nil, fmt.Errorf("checkpoint: migrate: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Load reads and decodes the checkpoint for threadID, or (nil, nil) when
// none exists.
func (s *SQLite) Load(ctx context.Context, threadID string) (*state.State, error) {
	var row models.Checkpoint
	err := s.db.WithContext(ctx).Where("thread_id = ?", threadID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("checkpoint: load %s: %w", threadID, err)
	}
	var st state.State
	if err := json.Unmarshal([]byte(row.State), &st); err != nil {
		return nil, fmt.Errorf("checkpoint: decode %s: %w", threadID, err)
	}
	return &st, nil
}

// Save upserts the checkpoint for threadID.
func (s *SQLite) Save(ctx context.Context, threadID string, st *state.State) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("checkpoint: encode %s: %w", threadID, err)
	}
	row := models.Checkpoint{ThreadID: threadID, State: string(data), UpdatedAt: time.Now()}
	err = s.db.WithContext(ctx).Save(&row).Error
	if err != nil {
		return fmt.Errorf("checkpoint: save %s: %w", threadID, err)
	}
	return nil
}

// Purge deletes checkpoints not updated within ttl and returns how many
// were removed.
func (s *SQLite) Purge(ctx context.Context, ttl time.Duration) (int64, error) {
	cutoff := time.Now().Add(-ttl)
	res := s.db.WithContext(ctx).Where("updated_at < ?", cutoff).Delete(&models.Checkpoint{})
	if res.Error != nil {
		return 0, fmt.Errorf("checkpoint: purge: %w", res.Error)
	}
	return res.RowsAffected, nil
}
