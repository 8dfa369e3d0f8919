// Package remote implements the client for the remote relational store
// that backs prompt groups and versions. The store is the durable copy the
// sync manager converges the local cache against; every operation here may
// fail and callers are expected to treat failures as "retry later".
package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/promptpilot/promptpilot/internal/models"
)

var (
	ErrGroupNotFound   = errors.New("prompt group not found")
	ErrVersionNotFound = errors.New("prompt version not found")
)

// CreateGroupInput carries the fields for a new remote group row. The row
// id is assigned by the store on insert.
type CreateGroupInput struct {
	Name        string
	Description string
	Tags        []string
	SortOrder   int
}

// CreateVersionInput carries the fields for a new remote version row. The
// row id is assigned on insert, and VersionNumber is derived from the
// group's existing versions when left zero. New rows always start as draft;
// status is applied afterwards through SetVersionStatus.
type CreateVersionInput struct {
	GroupID         string
	Name            string
	Content         string
	Description     string
	ParentVersionID string
	VersionNumber   int
	AuthorNotes     string
}

// GroupPatch is a field-level metadata patch for a group row. Nil fields
// are left untouched (last-write-wins per field).
type GroupPatch struct {
	Name        *string
	Description *string
}

// VersionPatch is a field-level metadata patch for a version row.
type VersionPatch struct {
	Name        *string
	Description *string
}

// Client is the remote persistence contract the sync manager consumes.
type Client interface {
	CreateGroup(ctx context.Context, in CreateGroupInput) (*GroupRecord, error)
	CreateVersion(ctx context.Context, in CreateVersionInput) (*VersionRecord, error)
	UpdateGroup(ctx context.Context, id string, patch GroupPatch) error
	UpdateVersion(ctx context.Context, id string, patch VersionPatch) error
	SetVersionStatus(ctx context.Context, id string, status models.VersionStatus) error
	DeleteVersion(ctx context.Context, id string) error
	DeleteGroup(ctx context.Context, id string) error
	ListGroups(ctx context.Context) ([]GroupRecord, error)
	GetGroup(ctx context.Context, id string) (*GroupRecord, error)
}

// DBClient implements Client against a relational database through GORM.
// It also emulates the store's server-side trigger behavior so that local
// and remote invariant enforcement agree: version numbers are derived on
// insert when unset, and setting a version to current or production demotes
// any other holder of that status within the group.
type DBClient struct {
	db     *gorm.DB
	logger *slog.Logger
}

// NewDBClient creates a new database-backed remote client.
func NewDBClient(db *gorm.DB, logger *slog.Logger) *DBClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &DBClient{db: db, logger: logger}
}

// AutoMigrate creates or updates the prompt_groups and prompt_versions tables.
func (c *DBClient) AutoMigrate() error {
	return c.db.AutoMigrate(&GroupRecord{}, &VersionRecord{})
}

// CreateGroup inserts a new group row and returns it with its assigned id.
func (c *DBClient) CreateGroup(ctx context.Context, in CreateGroupInput) (*GroupRecord, error) {
	rec := GroupRecord{
		ID:          uuid.NewString(),
		Name:        in.Name,
		Description: in.Description,
		Tags:        in.Tags,
		SortOrder:   in.SortOrder,
	}
	if err := c.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return nil, fmt.Errorf("create remote group: %w", err)
	}
	return &rec, nil
}

// CreateVersion inserts a new version row as draft. When in.VersionNumber
// is zero it is derived as max(existing)+1 within the group, matching the
// store-side trigger.
func (c *DBClient) CreateVersion(ctx context.Context, in CreateVersionInput) (*VersionRecord, error) {
	rec := VersionRecord{
		ID:              uuid.NewString(),
		GroupID:         in.GroupID,
		Name:            in.Name,
		Content:         in.Content,
		Description:     in.Description,
		ParentVersionID: in.ParentVersionID,
		AuthorNotes:     in.AuthorNotes,
		Status:          models.StatusDraft,
		VersionNumber:   in.VersionNumber,
	}

	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if rec.VersionNumber == 0 {
			var max int
			err := tx.Model(&VersionRecord{}).
				Select("COALESCE(MAX(version_number), 0)").
				Where("group_id = ?", in.GroupID).
				Scan(&max).Error
			if err != nil {
				return fmt.Errorf("derive version number: %w", err)
			}
			rec.VersionNumber = max + 1
		}
		return tx.Create(&rec).Error
	})
	if err != nil {
		return nil, fmt.Errorf("create remote version: %w", err)
	}
	return &rec, nil
}

// UpdateGroup applies a field-level metadata patch to a group row.
func (c *DBClient) UpdateGroup(ctx context.Context, id string, patch GroupPatch) error {
	updates := map[string]any{}
	if patch.Name != nil {
		updates["name"] = *patch.Name
	}
	if patch.Description != nil {
		updates["description"] = *patch.Description
	}
	if len(updates) == 0 {
		return nil
	}

	result := c.db.WithContext(ctx).Model(&GroupRecord{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("update remote group: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrGroupNotFound
	}
	return nil
}

// UpdateVersion applies a field-level metadata patch to a version row.
func (c *DBClient) UpdateVersion(ctx context.Context, id string, patch VersionPatch) error {
	updates := map[string]any{}
	if patch.Name != nil {
		updates["name"] = *patch.Name
	}
	if patch.Description != nil {
		updates["description"] = *patch.Description
	}
	if len(updates) == 0 {
		return nil
	}

	result := c.db.WithContext(ctx).Model(&VersionRecord{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("update remote version: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrVersionNotFound
	}
	return nil
}

// SetVersionStatus transitions a version row's status. Transitions to
// current or production demote any other version in the same group that
// holds the status, keeping the single-holder constraint intact.
func (c *DBClient) SetVersionStatus(ctx context.Context, id string, status models.VersionStatus) error {
	if !status.Valid() {
		return fmt.Errorf("invalid version status %q", status)
	}

	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec VersionRecord
		if err := tx.First(&rec, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrVersionNotFound
			}
			return err
		}

		if status == models.StatusCurrent || status == models.StatusProduction {
			err := tx.Model(&VersionRecord{}).
				Where("group_id = ? AND status = ? AND id <> ?", rec.GroupID, status, id).
				Update("status", models.StatusDraft).Error
			if err != nil {
				return fmt.Errorf("demote previous %s version: %w", status, err)
			}
		}

		return tx.Model(&VersionRecord{}).Where("id = ?", id).
			Update("status", status).Error
	})
	if err != nil {
		if errors.Is(err, ErrVersionNotFound) {
			return err
		}
		return fmt.Errorf("set remote version status: %w", err)
	}
	return nil
}

// DeleteVersion removes a version row. Deleting an absent row is a no-op.
func (c *DBClient) DeleteVersion(ctx context.Context, id string) error {
	if err := c.db.WithContext(ctx).Delete(&VersionRecord{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("delete remote version: %w", err)
	}
	return nil
}

// DeleteGroup removes a group row and all of its version rows.
func (c *DBClient) DeleteGroup(ctx context.Context, id string) error {
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&VersionRecord{}, "group_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&GroupRecord{}, "id = ?", id).Error
	})
	if err != nil {
		return fmt.Errorf("delete remote group: %w", err)
	}
	return nil
}

// ListGroups returns all group rows with their versions, versions ordered
// by version number ascending.
func (c *DBClient) ListGroups(ctx context.Context) ([]GroupRecord, error) {
	var recs []GroupRecord
	err := c.db.WithContext(ctx).
		Preload("Versions", func(db *gorm.DB) *gorm.DB {
			return db.Order("version_number ASC")
		}).
		Order("sort_order ASC, created_at ASC").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("list remote groups: %w", err)
	}
	return recs, nil
}

// GetGroup returns a single group row with its versions.
func (c *DBClient) GetGroup(ctx context.Context, id string) (*GroupRecord, error) {
	var rec GroupRecord
	err := c.db.WithContext(ctx).
		Preload("Versions", func(db *gorm.DB) *gorm.DB {
			return db.Order("version_number ASC")
		}).
		First(&rec, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrGroupNotFound
		}
		return nil, fmt.Errorf("get remote group: %w", err)
	}
	return &rec, nil
}
