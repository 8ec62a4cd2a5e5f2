// Package history is the terminal session index: a small sqlite table of
// every terminal the server has spawned, surviving restarts. Scrollback is
// never persisted; only metadata lands here, giving clients a "recent
// sessions" list after the live registry has been discarded.
package history

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// TerminalSession is one indexed terminal, live or finished.
type TerminalSession struct {
	ID        string     `gorm:"primaryKey" json:"id"`
	Mode      string     `gorm:"not null" json:"mode"`
	Shell     string     `gorm:"not null" json:"shell"`
	Cwd       string     `json:"cwd"`
	CreatedAt time.Time  `gorm:"index" json:"created_at"`
	ExitedAt  *time.Time `json:"exited_at,omitempty"`
	ExitCode  *int       `json:"exit_code,omitempty"`
}

// Store wraps the sqlite session index. It implements terminal.Recorder.
type Store struct {
	db *gorm.DB
}

// Open opens (or creates) the index at path. Use ":memory:" in tests.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && path != ":memory:" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}
	if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if err := db.AutoMigrate(&TerminalSession{}); err != nil {
		return nil, fmt.Errorf("auto-migrate: %w", err)
	}

	return &Store{db: db}, nil
}

// RecordCreate implements terminal.Recorder.
func (s *Store) RecordCreate(id, mode, shell, cwd string, createdAt time.Time) {
	s.db.Create(&TerminalSession{
		ID:        id,
		Mode:      mode,
		Shell:     shell,
		Cwd:       cwd,
		CreatedAt: createdAt,
	})
}

// RecordExit implements terminal.Recorder.
func (s *Store) RecordExit(id string, exitCode int, exitedAt time.Time) {
	s.db.Model(&TerminalSession{}).Where("id = ?", id).Updates(map[string]any{
		"exited_at": exitedAt,
		"exit_code": exitCode,
	})
}

// Recent returns up to limit sessions, newest first.
func (s *Store) Recent(limit int) ([]TerminalSession, error) {
	if limit <= 0 {
		limit = 50
	}
	var sessions []TerminalSession
	err := s.db.Order("created_at DESC").Limit(limit).Find(&sessions).Error
	return sessions, err
}

// Prune deletes finished sessions older than the retention window.
// Returns the number of rows removed.
func (s *Store) Prune(retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention)
	res := s.db.Where("exited_at IS NOT NULL AND exited_at < ?", cutoff).Delete(&TerminalSession{})
	return res.RowsAffected, res.Error
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
