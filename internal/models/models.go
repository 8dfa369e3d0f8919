// Package models defines the prompt group and prompt version domain types
// shared by the cache store, the version control engine, and the sync manager.
package models

import (
	"encoding/json"
	"sort"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
)

// VersionStatus represents the lifecycle status of a prompt version within
// its group. At most one version per group may hold StatusCurrent, and at
// most one may hold StatusProduction.
type VersionStatus string

const (
	StatusDraft      VersionStatus = "draft"
	StatusCurrent    VersionStatus = "current"
	StatusProduction VersionStatus = "production"
)

// Valid reports whether s is one of the known lifecycle statuses.
func (s VersionStatus) Valid() bool {
	switch s {
	case StatusDraft, StatusCurrent, StatusProduction:
		return true
	}
	return false
}

// PromptVersion is one snapshot of a prompt's text. Content is fixed at
// creation; only status, name and description are mutated afterwards.
// RemoteID is the id of the corresponding remote row once it exists; for
// versions created locally it differs from ID until a pull replaces the
// local view.
type PromptVersion struct {
	ID              string        `json:"id"`
	GroupID         string        `json:"groupId"`
	VersionNumber   int           `json:"versionNumber"`
	Name            string        `json:"name"`
	Content         string        `json:"content"`
	Description     string        `json:"description,omitempty"`
	Status          VersionStatus `json:"status"`
	ParentVersionID string        `json:"parentVersionId,omitempty"`
	RemoteID        string        `json:"remoteId,omitempty"`
	CreatedAt       time.Time     `json:"createdAt"`
}

// RemoteOrLocalID returns the remote row id when one has been recorded,
// falling back to the local id, which doubles as the remote id for
// versions that arrived through a pull.
func (v *PromptVersion) RemoteOrLocalID() string {
	if v.RemoteID != "" {
		return v.RemoteID
	}
	return v.ID
}

// Clone returns a deep copy of the version.
func (v *PromptVersion) Clone() *PromptVersion {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

// PromptGroup is a named collection of versions of one logical prompt. The
// group owns its versions; deleting the group deletes all of them. A group
// with zero versions is invalid and is never persisted.
type PromptGroup struct {
	ID                  string             `json:"id"`
	Name                string             `json:"name"`
	Description         string             `json:"description,omitempty"`
	CurrentVersionID    string             `json:"currentVersionId,omitempty"`
	ProductionVersionID string             `json:"productionVersionId,omitempty"`
	Versions            []*PromptVersion   `json:"versions"`
	RemoteID            string             `json:"remoteId,omitempty"`
	SyncedVersionIDs    mapset.Set[string] `json:"-"`
	CreatedAt           time.Time          `json:"createdAt"`
	LastModifiedAt      time.Time          `json:"lastModifiedAt"`
}

// NewGroup returns a group with an initialized synced-version set.
func NewGroup(id, name, description string, now time.Time) *PromptGroup {
	return &PromptGroup{
		ID:               id,
		Name:             name,
		Description:      description,
		SyncedVersionIDs: mapset.NewSet[string](),
		CreatedAt:        now,
		LastModifiedAt:   now,
	}
}

// Version returns the version with the given id, or nil.
func (g *PromptGroup) Version(id string) *PromptVersion {
	for _, v := range g.Versions {
		if v.ID == id {
			return v
		}
	}
	return nil
}

// MaxVersionNumber returns the highest version number in the group, or 0
// for a group with no versions.
func (g *PromptGroup) MaxVersionNumber() int {
	max := 0
	for _, v := range g.Versions {
		if v.VersionNumber > max {
			max = v.VersionNumber
		}
	}
	return max
}

// SyncedVersionIDSlice returns the synced-version set as a sorted slice.
// The backing medium stores plain structured data only, so the set is
// always persisted in this flattened form.
func (g *PromptGroup) SyncedVersionIDSlice() []string {
	if g.SyncedVersionIDs == nil {
		return []string{}
	}
	ids := g.SyncedVersionIDs.ToSlice()
	sort.Strings(ids)
	return ids
}

// Clone returns a deep copy of the group, its versions, and its synced set.
func (g *PromptGroup) Clone() *PromptGroup {
	if g == nil {
		return nil
	}
	c := *g
	c.Versions = make([]*PromptVersion, len(g.Versions))
	for i, v := range g.Versions {
		c.Versions[i] = v.Clone()
	}
	if g.SyncedVersionIDs != nil {
		c.SyncedVersionIDs = g.SyncedVersionIDs.Clone()
	} else {
		c.SyncedVersionIDs = mapset.NewSet[string]()
	}
	return &c
}

// CloneGroups deep-copies a slice of groups.
func CloneGroups(groups []*PromptGroup) []*PromptGroup {
	out := make([]*PromptGroup, len(groups))
	for i, g := range groups {
		out[i] = g.Clone()
	}
	return out
}

// MarshalJSON flattens the synced-version set to a sorted string slice.
func (g *PromptGroup) MarshalJSON() ([]byte, error) {
	type alias PromptGroup
	return json.Marshal(&struct {
		*alias
		SyncedVersionIDs []string `json:"syncedVersionIds"`
	}{
		alias:            (*alias)(g),
		SyncedVersionIDs: g.SyncedVersionIDSlice(),
	})
}

// UnmarshalJSON rehydrates the synced-version set from its stored slice form.
func (g *PromptGroup) UnmarshalJSON(data []byte) error {
	type alias PromptGroup
	aux := struct {
		*alias
		SyncedVersionIDs []string `json:"syncedVersionIds"`
	}{alias: (*alias)(g)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	g.SyncedVersionIDs = mapset.NewSet(aux.SyncedVersionIDs...)
	return nil
}
