package remote

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/promptpilot/promptpilot/internal/models"
)

// StringList is a custom GORM type for []string stored as JSON text.
type StringList []string

// Scan implements the sql.Scanner interface for StringList.
func (l *StringList) Scan(value any) error {
	if value == nil {
		*l = nil
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case string:
		bytes = []byte(v)
	case []byte:
		bytes = v
	default:
		return fmt.Errorf("unsupported type for StringList: %T", value)
	}
	return json.Unmarshal(bytes, l)
}

// Value implements the driver.Valuer interface for StringList.
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return nil, nil
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// GroupRecord is the GORM model for a remote prompt group row.
type GroupRecord struct {
	ID          string     `gorm:"primaryKey;column:id;type:varchar(36)"`
	Name        string     `gorm:"column:name;not null"`
	Description string     `gorm:"column:description;type:text"`
	CreatedAt   time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time  `gorm:"column:updated_at;autoUpdateTime"`
	UserID      string     `gorm:"column:user_id;index:idx_group_user"`
	Tags        StringList `gorm:"column:tags;type:text"`
	IsArchived  bool       `gorm:"column:is_archived;not null;default:false"`
	SortOrder   int        `gorm:"column:sort_order;not null;default:0"`

	Versions []VersionRecord `gorm:"foreignKey:GroupID;references:ID"`
}

// TableName returns the GORM table name.
func (GroupRecord) TableName() string { return "prompt_groups" }

// VersionRecord is the GORM model for a remote prompt version row.
type VersionRecord struct {
	ID               string               `gorm:"primaryKey;column:id;type:varchar(36)"`
	GroupID          string               `gorm:"column:group_id;index:idx_version_group;not null"`
	Name             string               `gorm:"column:name"`
	Content          string               `gorm:"column:content;type:text"`
	Status           models.VersionStatus `gorm:"column:status;not null;default:draft"`
	VersionNumber    int                  `gorm:"column:version_number;not null"`
	CreatedAt        time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time            `gorm:"column:updated_at;autoUpdateTime"`
	Description      string               `gorm:"column:description;type:text"`
	ParentVersionID  string               `gorm:"column:parent_version_id"`
	AuthorNotes      string               `gorm:"column:author_notes;type:text"`
	PerformanceScore float64              `gorm:"column:performance_score;not null;default:0"`
	UsageCount       int                  `gorm:"column:usage_count;not null;default:0"`
	IsArchived       bool                 `gorm:"column:is_archived;not null;default:false"`
}

// TableName returns the GORM table name.
func (VersionRecord) TableName() string { return "prompt_versions" }
