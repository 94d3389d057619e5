// Package history keeps a log of encoder sessions in SQLite: when each
// ffmpeg process started and ended, how it exited and whether it was a
// reconnect.
package history

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tphakala/ondepi-go/internal/errors"
	"github.com/tphakala/ondepi-go/internal/logger"
	"github.com/tphakala/ondepi-go/internal/streamer"
)

const (
	componentHistory = "history"

	slowQueryThreshold = 200 * time.Millisecond
	defaultListLimit   = 100
	maxListLimit       = 1000
)

// Session is one encoder process.
type Session struct {
	ID        uint       `gorm:"primaryKey" json:"-"`
	SessionID string     `gorm:"uniqueIndex;size:36" json:"session_id"`
	StartedAt time.Time  `gorm:"index" json:"started_at"`
	EndedAt   *time.Time `json:"ended_at"`
	ExitCode  *int       `json:"exit_code"`
	Error     string     `json:"error,omitempty"`
	Retry     bool       `json:"retry"`
	Command   string     `json:"command,omitempty"` // redacted
}

// Store records sessions. It implements streamer.SessionRecorder; write
// failures are logged, never returned to the supervisor.
type Store struct {
	db   *gorm.DB
	keep int
	log  logger.Logger
}

// GetLogger returns the history module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("history")
}

// Open opens or creates the database at path and migrates the schema. keep
// bounds the number of stored sessions, 0 keeps all.
func Open(path string, keep int) (*Store, error) {
	log := GetLogger()
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.New(err).
				Component(componentHistory).
				Category(errors.CategoryFileIO).
				Context("path", path).
				Build()
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.NewGormLoggerAdapter(log, slowQueryThreshold),
	})
	if err != nil {
		return nil, errors.New(err).
			Component(componentHistory).
			Category(errors.CategoryDatabase).
			Context("operation", "open").
			Context("path", path).
			Build()
	}
	if err := db.AutoMigrate(&Session{}); err != nil {
		closeDB(db)
		return nil, errors.New(err).
			Component(componentHistory).
			Category(errors.CategoryDatabase).
			Context("operation", "migrate").
			Build()
	}

	log.Info("session history opened", logger.String("path", path), logger.Int("keep", keep))
	return &Store{db: db, keep: keep, log: log}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SessionStarted implements streamer.SessionRecorder.
func (s *Store) SessionStarted(info streamer.SessionInfo) {
	row := Session{
		SessionID: info.ID,
		StartedAt: info.StartedAt.UTC(),
		Retry:     info.Retry,
		Command:   strings.Join(info.Command, " "),
	}
	if err := s.db.Create(&row).Error; err != nil {
		s.log.Warn("failed to record session start", logger.String("session_id", info.ID), logger.Error(err))
		return
	}
	s.prune()
}

// SessionEnded implements streamer.SessionRecorder.
func (s *Store) SessionEnded(id string, endedAt time.Time, exitCode int, errMsg string) {
	ended := endedAt.UTC()
	res := s.db.Model(&Session{}).
		Where("session_id = ?", id).
		Updates(map[string]any{"ended_at": &ended, "exit_code": exitCode, "error": errMsg})
	if res.Error != nil {
		s.log.Warn("failed to record session end", logger.String("session_id", id), logger.Error(res.Error))
		return
	}
	if res.RowsAffected == 0 {
		s.log.Debug("session end for unknown session", logger.String("session_id", id))
	}
}

// List returns the most recent sessions, newest first. limit <= 0 uses the
// default page size.
func (s *Store) List(ctx context.Context, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	limit = min(limit, maxListLimit)

	var out []Session
	if err := s.db.WithContext(ctx).Order("started_at DESC, id DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, errors.New(err).
			Component(componentHistory).
			Category(errors.CategoryDatabase).
			Context("operation", "list").
			Build()
	}
	return out, nil
}

// Get returns one session or an error of CategoryNotFound.
func (s *Store) Get(ctx context.Context, sessionID string) (*Session, error) {
	var row Session
	err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.Newf("session %s not found", sessionID).
			Component(componentHistory).
			Category(errors.CategoryNotFound).
			Build()
	}
	if err != nil {
		return nil, errors.New(err).
			Component(componentHistory).
			Category(errors.CategoryDatabase).
			Context("operation", "get").
			Build()
	}
	return &row, nil
}

// prune deletes everything but the newest keep sessions.
func (s *Store) prune() {
	if s.keep <= 0 {
		return
	}
	cutoff := s.db.Model(&Session{}).Select("id").Order("id DESC").Limit(s.keep)
	res := s.db.Where("id NOT IN (?)", cutoff).Delete(&Session{})
	if res.Error != nil {
		s.log.Warn("failed to prune session history", logger.Error(res.Error))
		return
	}
	if res.RowsAffected > 0 {
		s.log.Debug("pruned session history", logger.Int("deleted", int(res.RowsAffected)))
	}
}

func closeDB(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
