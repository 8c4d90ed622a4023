package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"

	"github.com/vampirenirmal/novelforge/internal/story"
)

// Snapshot is one persisted version of a project's committed state.
type Snapshot struct {
	ID        string `gorm:"primaryKey;size:36"`
	Project   string `gorm:"index;not null"`
	CreatedAt int64  `gorm:"index;not null"`
	Chapters  int    `gorm:"not null"`
	Validated bool   `gorm:"not null"`
	State     string `gorm:"type:text;not null"`
}

func (Snapshot) TableName() string { return "snapshots" }

// History appends a snapshot per persisted checkpoint so earlier versions of
// a story can be listed and restored.
type History struct {
	db      *gorm.DB
	project string
	keep    int
	now     func() time.Time
}

// OpenHistory opens (and migrates) the SQLite database at path. keep bounds
// the snapshots retained per project; zero keeps everything.
func OpenHistory(path string, keep int) (*History, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating history directory: %w", err)
		}
	}
	db, err := gorm.Open(sqlite.Dialector{
		DriverName: "sqlite",
		DSN:        path,
	}, &gorm.Config{Logger: logger.Discard})
	if err != nil {
		return nil, fmt.Errorf("opening history: %w", err)
	}
	if err := db.Exec(`PRAGMA busy_timeout=5000;`).Error; err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&Snapshot{}); err != nil {
		return nil, fmt.Errorf("migrating history: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	return &History{db: db, keep: keep, now: time.Now}, nil
}

// Bind returns a view of the history that records snapshots for project.
func (h *History) Bind(project string) *History {
	c := *h
	c.project = project
	return &c
}

// Persist records state as the newest snapshot of the bound project.
func (h *History) Persist(state story.State) error {
	if h.project == "" {
		return errors.New("history is not bound to a project")
	}
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	row := Snapshot{
		ID:        uuid.NewString(),
		Project:   h.project,
		CreatedAt: h.now().UTC().UnixMilli(),
		Chapters:  len(state.ChaptersFull),
		Validated: state.OverviewValidated,
		State:     string(data),
	}
	return h.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		if h.keep <= 0 {
			return nil
		}
		keepIDs := tx.Model(&Snapshot{}).
			Select("id").
			Where("project = ?", h.project).
			Order("created_at DESC, rowid DESC").
			Limit(h.keep)
		return tx.Where("project = ? AND id NOT IN (?)", h.project, keepIDs).
			Delete(&Snapshot{}).Error
	})
}

// List returns the newest snapshots of project first, without their state.
func (h *History) List(project string, limit int) ([]Snapshot, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []Snapshot
	err := h.db.Select("id", "project", "created_at", "chapters", "validated").
		Where("project = ?", project).
		Order("created_at DESC, rowid DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// Restore decodes the state stored in snapshot id.
func (h *History) Restore(id string) (story.State, error) {
	var row Snapshot
	if err := h.db.Where("id = ?", id).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return story.State{}, fmt.Errorf("snapshot %s: %w", id, ErrNoProject)
		}
		return story.State{}, err
	}
	var st story.State
	if err := json.Unmarshal([]byte(row.State), &st); err != nil {
		return story.State{}, fmt.Errorf("decoding snapshot %s: %w", id, err)
	}
	return st, nil
}

func (h *History) Close() error {
	sqlDB, err := h.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
