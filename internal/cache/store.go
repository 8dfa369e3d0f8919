// Package cache implements the durable local store for the full prompt
// group collection. It is the offline copy of record: every engine mutation
// lands here synchronously before any remote call is issued.
//
// The store is forgiving. Read and write failures are logged
// and degrade to empty defaults; a corrupt payload is treated as an empty
// collection. Callers must never crash because the cache misbehaved.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/promptpilot/promptpilot/internal/models"
)

const (
	// DefaultNamespace is the key under which the group collection is stored.
	DefaultNamespace = "promptpilot.groups"

	// MaxStoredBytes is the fixed ceiling for a single stored payload.
	MaxStoredBytes = 5 << 20 // 5 MiB

	// capacityWarnRatio is the fraction of MaxStoredBytes at which the
	// store starts reporting NearCapacity.
	capacityWarnRatio = 0.8
)

// entry is the GORM model for one namespaced payload.
type entry struct {
	Namespace string    `gorm:"primaryKey;column:namespace;type:varchar(128)"`
	Payload   []byte    `gorm:"column:payload"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName returns the GORM table name.
func (entry) TableName() string { return "cache_entries" }

// Store persists the prompt group collection as a single serialized record
// per namespace key.
type Store struct {
	db        *gorm.DB
	namespace string
	logger    *slog.Logger
}

// Open opens (or creates) the cache database at path and returns a store
// bound to the default namespace.
func Open(path string, logger *slog.Logger) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open cache database: %w", err)
	}
	return NewStore(db, DefaultNamespace, logger)
}

// NewStore creates a store on an existing database handle.
func NewStore(db *gorm.DB, namespace string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if err := db.AutoMigrate(&entry{}); err != nil {
		return nil, fmt.Errorf("migrate cache store: %w", err)
	}
	return &Store{db: db, namespace: namespace, logger: logger}, nil
}

// Load returns the stored group collection. Missing, unreadable, or corrupt
// state yields an empty collection, never an error.
func (s *Store) Load() []*models.PromptGroup {
	var e entry
	if err := s.db.First(&e, "namespace = ?", s.namespace).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			s.logger.Error("failed to read prompt cache, starting empty", "error", err)
		}
		return nil
	}

	var groups []*models.PromptGroup
	if err := json.Unmarshal(e.Payload, &groups); err != nil {
		s.logger.Error("prompt cache payload is corrupt, starting empty", "error", err)
		return nil
	}

	// UnmarshalJSON rehydrates the synced set; guard against hand-edited
	// payloads that bypassed it.
	for _, g := range groups {
		if g.SyncedVersionIDs == nil {
			g.SyncedVersionIDs = mapset.NewSet[string]()
		}
	}
	return groups
}

// Save replaces the entire stored collection. The synced-version sets are
// flattened to sorted string slices by the models' JSON encoding.
func (s *Store) Save(groups []*models.PromptGroup) error {
	if groups == nil {
		groups = []*models.PromptGroup{}
	}
	payload, err := json.Marshal(groups)
	if err != nil {
		return fmt.Errorf("serialize prompt cache: %w", err)
	}

	if len(payload) > MaxStoredBytes {
		s.logger.Warn("prompt cache payload exceeds storage ceiling",
			"bytes", len(payload), "max", MaxStoredBytes)
	}

	e := entry{Namespace: s.namespace, Payload: payload, UpdatedAt: time.Now()}
	err = s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "namespace"}},
		DoUpdates: clause.AssignmentColumns([]string{"payload", "updated_at"}),
	}).Create(&e).Error
	if err != nil {
		return fmt.Errorf("write prompt cache: %w", err)
	}
	return nil
}

// Size returns the stored payload size in bytes. Failures are logged and
// reported as zero.
func (s *Store) Size() int64 {
	var size int64
	err := s.db.Model(&entry{}).
		Select("COALESCE(LENGTH(payload), 0)").
		Where("namespace = ?", s.namespace).
		Scan(&size).Error
	if err != nil {
		s.logger.Error("failed to read prompt cache size", "error", err)
		return 0
	}
	return size
}

// NearCapacity reports whether the stored payload has crossed 80% of the
// storage ceiling, so callers can warn users before writes start failing.
func (s *Store) NearCapacity() bool {
	return float64(s.Size()) >= capacityWarnRatio*float64(MaxStoredBytes)
}
