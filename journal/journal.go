// Package journal appends an audit record for every task that reaches
// a terminal state to an embedded sqlite database. Records hold task
// metadata only, never query or response content, so nothing
// conversational is persisted.
package journal

import (
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/agentrelay/agentrelay/tasks"
)

// Record is one terminal-task audit row.
type Record struct {
	ID         uint      `gorm:"primaryKey" json:"-"`
	TaskID     string    `gorm:"uniqueIndex;size:36" json:"task_id"`
	ContextID  string    `gorm:"index;size:36" json:"context_id"`
	BackendID  string    `json:"backend_id,omitempty"`
	State      string    `gorm:"index" json:"state"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	TerminalAt time.Time `json:"terminal_at"`
	DurationMS int64     `json:"duration_ms"`
}

// TableName sets the sqlite table name.
func (Record) TableName() string {
	return "task_records"
}

// Journal is an append-only terminal-task store. Implements the relay
// engine's Recorder hook.
type Journal struct {
	db     *gorm.DB
	logger *zap.Logger
}

// Open opens (and migrates) the journal database at path. Use
// ":memory:" for an ephemeral journal.
func Open(path string, logger *zap.Logger) (*Journal, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("journal: failed to open %s: %w", path, err)
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("journal: migration failed: %w", err)
	}

	return &Journal{
		db:     db,
		logger: logger.With(zap.String("component", "journal")),
	}, nil
}

// Record appends the terminal snapshot of one task. Journal failures
// are logged, never propagated: auditing must not affect task outcomes.
func (j *Journal) Record(t tasks.Task) {
	if !t.State.Terminal() {
		return
	}

	rec := Record{
		TaskID:    t.ID,
		ContextID: t.ContextID,
		BackendID: t.BackendID,
		State:     string(t.State),
		Error:     t.LastError,
		CreatedAt: t.CreatedAt,
	}
	if t.TerminalAt != nil {
		rec.TerminalAt = *t.TerminalAt
		rec.DurationMS = t.TerminalAt.Sub(t.CreatedAt).Milliseconds()
	}

	if err := j.db.Create(&rec).Error; err != nil {
		j.logger.Warn("failed to record task",
			zap.String("task_id", t.ID),
			zap.Error(err),
		)
	}
}

// Recent returns up to limit records, newest first.
func (j *Journal) Recent(limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []Record
	err := j.db.Order("id desc").Limit(limit).Find(&out).Error
	return out, err
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
