// Package engine implements the version control engine for prompt groups.
// It is the primary API surface for creating and mutating groups and
// versions while preserving the single-current / single-production
// invariants, operating synchronously against the local cache store and
// triggering background reconciliation as a side effect.
//
// Local mutations are the unit of consistency: they either fully succeed
// against the cache or are rejected before any write. Remote
// synchronization is best-effort and fully decoupled; its failures are
// never visible to the immediate caller.
package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/promptpilot/promptpilot/internal/cache"
	"github.com/promptpilot/promptpilot/internal/models"
)

var (
	ErrEmptyName     = errors.New("group name must not be empty")
	ErrEmptyContent  = errors.New("prompt content must not be empty")
	ErrGroupNotFound = errors.New("prompt group not found")
	ErrInvalidStatus = errors.New("invalid version status")
)

// Reconciler is the sync manager surface the engine triggers after local
// mutations. All methods must be non-blocking; the engine calls them
// outside its own lock but on the caller's goroutine.
type Reconciler interface {
	// Push schedules a push pass for unsynced local state.
	Push()
	// PullNow schedules an immediate pull of remote state.
	PullNow()
	// PullSoon schedules a pull after a short settle delay.
	PullSoon()
	// DeleteRemoteVersion schedules best-effort deletion of a remote version row.
	DeleteRemoteVersion(versionID string)
	// DeleteRemoteGroup schedules best-effort deletion of a remote group
	// and its version rows.
	DeleteRemoteGroup(remoteGroupID string, versionIDs []string)
	// PushGroupUpdate schedules a metadata update for an already-synced group.
	PushGroupUpdate(remoteGroupID string, patch GroupPatch)
	// PushVersionUpdate schedules a metadata update for an already-synced version.
	PushVersionUpdate(versionID string, patch VersionPatch)
}

// GroupPatch is a metadata patch for a group; nil fields are untouched.
type GroupPatch struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
}

// VersionPatch is a metadata patch for a version; nil fields are untouched.
type VersionPatch struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
}

// AddVersionOptions carries the optional fields for a new version.
type AddVersionOptions struct {
	Name            string
	Description     string
	Status          models.VersionStatus
	ParentVersionID string
}

// SearchResult pairs a matching version with its owning group's identity.
type SearchResult struct {
	GroupID   string                `json:"groupId"`
	GroupName string                `json:"groupName"`
	Version   *models.PromptVersion `json:"version"`
}

// Engine holds the in-memory view of all prompt groups, backed by the
// local cache store. All access to the shared state is serialized through
// a single mutex since reconciliation and foreground mutations both
// read-modify-write it.
type Engine struct {
	mu         sync.Mutex
	store      *cache.Store
	groups     []*models.PromptGroup
	reconciler Reconciler
	logger     *slog.Logger
}

// New creates an engine seeded from the cache store's current contents.
func New(store *cache.Store, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:  store,
		groups: store.Load(),
		logger: logger,
	}
}

// SetReconciler wires the sync manager. A nil reconciler leaves the engine
// fully functional in local-only mode.
func (e *Engine) SetReconciler(r Reconciler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reconciler = r
}

// persistLocked writes the full collection to the cache store. Write
// failures degrade to in-memory-only state; the caller's mutation has
// already been applied and is not rolled back.
func (e *Engine) persistLocked() {
	if err := e.store.Save(e.groups); err != nil {
		e.logger.Error("failed to persist prompt cache", "error", err)
	}
	if e.store.NearCapacity() {
		e.logger.Warn("prompt cache is near its storage ceiling", "bytes", e.store.Size())
	}
}

// CreateGroup allocates a group with a single initial version atomically:
// either both exist in the cache afterwards or neither does. The initial
// version is created directly as current with version number 1.
func (e *Engine) CreateGroup(name, content, description string) (*models.PromptGroup, error) {
	if strings.TrimSpace(name) == "" {
		return nil, ErrEmptyName
	}
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyContent
	}

	now := time.Now()
	group := models.NewGroup(uuid.NewString(), name, description, now)
	version := &models.PromptVersion{
		ID:            uuid.NewString(),
		GroupID:       group.ID,
		VersionNumber: 1,
		Name:          "v1",
		Content:       content,
		Status:        models.StatusCurrent,
		CreatedAt:     now,
	}
	group.Versions = []*models.PromptVersion{version}
	group.CurrentVersionID = version.ID

	e.mu.Lock()
	e.groups = append(e.groups, group)
	e.persistLocked()
	result := group.Clone()
	r := e.reconciler
	e.mu.Unlock()

	if r != nil {
		r.Push()
		r.PullSoon()
	}
	return result, nil
}

// AddVersion appends a new version to an existing group. The version
// number is derived as max(existing)+1 and the name defaults to a
// generated v{n} label. A requested current or production status is
// applied through the usual single-holder transition rule.
func (e *Engine) AddVersion(groupID, content string, opts AddVersionOptions) (*models.PromptVersion, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyContent
	}
	status := opts.Status
	if status == "" {
		status = models.StatusDraft
	}
	if !status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, opts.Status)
	}

	e.mu.Lock()
	group := e.groupLocked(groupID)
	if group == nil {
		e.mu.Unlock()
		return nil, ErrGroupNotFound
	}

	now := time.Now()
	num := group.MaxVersionNumber() + 1
	name := opts.Name
	if name == "" {
		name = fmt.Sprintf("v%d", num)
	}
	version := &models.PromptVersion{
		ID:              uuid.NewString(),
		GroupID:         group.ID,
		VersionNumber:   num,
		Name:            name,
		Content:         content,
		Description:     opts.Description,
		Status:          models.StatusDraft,
		ParentVersionID: opts.ParentVersionID,
		CreatedAt:       now,
	}
	group.Versions = append(group.Versions, version)
	if status != models.StatusDraft {
		e.applyStatusLocked(group, version, status)
	}
	group.LastModifiedAt = now
	e.persistLocked()
	result := version.Clone()
	r := e.reconciler
	e.mu.Unlock()

	if r != nil {
		r.Push()
	}
	return result, nil
}

// SetVersionStatus transitions a version's lifecycle status, locating the
// owning group by scanning all groups. It returns false if the version id
// does not resolve or the status is unknown.
//
// Demoting the active current or production version to draft leaves the
// group-level pointer stale until a replacement is promoted;
// only deletion re-elects a current version automatically.
func (e *Engine) SetVersionStatus(versionID string, status models.VersionStatus) bool {
	if !status.Valid() {
		e.logger.Error("rejected unknown version status", "status", string(status))
		return false
	}

	e.mu.Lock()
	group, version := e.findVersionLocked(versionID)
	if version == nil {
		e.mu.Unlock()
		return false
	}
	e.applyStatusLocked(group, version, status)
	group.LastModifiedAt = time.Now()
	e.persistLocked()
	r := e.reconciler
	e.mu.Unlock()

	if r != nil {
		r.Push()
	}
	return true
}

// applyStatusLocked applies the single-holder transition rule: before a
// version becomes current or production, every other holder of that status
// in the group is forced back to draft and the group-level pointer is
// repointed. Setting production does not clear current, and vice versa.
//
// Every version whose status actually changes is dropped from the group's
// synced set, so the next push pass rewrites its status on the remote row
// instead of leaving the change local-only.
func (e *Engine) applyStatusLocked(group *models.PromptGroup, version *models.PromptVersion, status models.VersionStatus) {
	switch status {
	case models.StatusCurrent:
		for _, other := range group.Versions {
			if other.ID != version.ID && other.Status == models.StatusCurrent {
				transitionStatus(group, other, models.StatusDraft)
			}
		}
		transitionStatus(group, version, models.StatusCurrent)
		group.CurrentVersionID = version.ID
	case models.StatusProduction:
		for _, other := range group.Versions {
			if other.ID != version.ID && other.Status == models.StatusProduction {
				transitionStatus(group, other, models.StatusDraft)
			}
		}
		transitionStatus(group, version, models.StatusProduction)
		group.ProductionVersionID = version.ID
	case models.StatusDraft:
		transitionStatus(group, version, models.StatusDraft)
	}
}

// transitionStatus records a status change and marks the version as
// unsynced so its remote row converges on the next push pass. A no-op
// transition leaves the synced set alone.
func transitionStatus(group *models.PromptGroup, version *models.PromptVersion, status models.VersionStatus) {
	if version.Status == status {
		return
	}
	version.Status = status
	group.SyncedVersionIDs.Remove(version.ID)
}

// DeleteVersion removes a single version. It refuses to remove the only
// version of a group. If the deleted version was current, the remaining
// version with the highest number is promoted to current; if it was
// production, the group's production pointer is cleared.
func (e *Engine) DeleteVersion(versionID string) bool {
	e.mu.Lock()
	group, version := e.findVersionLocked(versionID)
	if version == nil {
		e.mu.Unlock()
		return false
	}
	if len(group.Versions) <= 1 {
		e.mu.Unlock()
		return false
	}

	kept := group.Versions[:0]
	for _, v := range group.Versions {
		if v.ID != versionID {
			kept = append(kept, v)
		}
	}
	group.Versions = kept
	group.SyncedVersionIDs.Remove(versionID)

	if group.CurrentVersionID == versionID {
		var highest *models.PromptVersion
		for _, v := range group.Versions {
			if highest == nil || v.VersionNumber > highest.VersionNumber {
				highest = v
			}
		}
		e.applyStatusLocked(group, highest, models.StatusCurrent)
	}
	if group.ProductionVersionID == versionID {
		group.ProductionVersionID = ""
	}
	group.LastModifiedAt = time.Now()
	e.persistLocked()
	remoteVersionID := version.RemoteOrLocalID()
	r := e.reconciler
	e.mu.Unlock()

	if r != nil {
		r.DeleteRemoteVersion(remoteVersionID)
		r.Push()
		r.PullSoon()
	}
	return true
}

// DeleteGroup removes a group and all of its versions. Remote deletion is
// attempted in the background; the local removal applies regardless of the
// remote outcome, favoring local consistency.
func (e *Engine) DeleteGroup(groupID string) bool {
	e.mu.Lock()
	idx := -1
	for i, g := range e.groups {
		if g.ID == groupID {
			idx = i
			break
		}
	}
	if idx < 0 {
		e.mu.Unlock()
		return false
	}

	group := e.groups[idx]
	remoteID := group.RemoteID
	if remoteID == "" {
		remoteID = group.ID
	}
	versionIDs := make([]string, len(group.Versions))
	for i, v := range group.Versions {
		versionIDs[i] = v.RemoteOrLocalID()
	}

	e.groups = append(e.groups[:idx], e.groups[idx+1:]...)
	e.persistLocked()
	r := e.reconciler
	e.mu.Unlock()

	if r != nil {
		r.DeleteRemoteGroup(remoteID, versionIDs)
	}
	return true
}

// UpdateGroup applies a name/description metadata patch. An empty name in
// the patch is rejected. Returns false if the group does not exist or the
// patch is invalid.
func (e *Engine) UpdateGroup(groupID string, patch GroupPatch) bool {
	if patch.Name != nil && strings.TrimSpace(*patch.Name) == "" {
		return false
	}

	e.mu.Lock()
	group := e.groupLocked(groupID)
	if group == nil {
		e.mu.Unlock()
		return false
	}
	if patch.Name != nil {
		group.Name = *patch.Name
	}
	if patch.Description != nil {
		group.Description = *patch.Description
	}
	group.LastModifiedAt = time.Now()
	e.persistLocked()
	remoteID := group.RemoteID
	r := e.reconciler
	e.mu.Unlock()

	if r != nil && remoteID != "" {
		r.PushGroupUpdate(remoteID, patch)
	}
	return true
}

// UpdateVersion applies a name/description metadata patch to a version.
// The patch is pushed as soon as a remote row for the version exists,
// keyed by its remote id.
func (e *Engine) UpdateVersion(versionID string, patch VersionPatch) bool {
	e.mu.Lock()
	group, version := e.findVersionLocked(versionID)
	if version == nil {
		e.mu.Unlock()
		return false
	}
	if patch.Name != nil {
		version.Name = *patch.Name
	}
	if patch.Description != nil {
		version.Description = *patch.Description
	}
	group.LastModifiedAt = time.Now()
	e.persistLocked()
	hasRemote := version.RemoteID != "" || group.SyncedVersionIDs.Contains(versionID)
	remoteVersionID := version.RemoteOrLocalID()
	r := e.reconciler
	e.mu.Unlock()

	if r != nil && hasRemote {
		r.PushVersionUpdate(remoteVersionID, patch)
	}
	return true
}

// GetAllGroups returns a copy of every group. Reading the full collection
// also schedules a background pull so the local view converges with the
// remote store.
func (e *Engine) GetAllGroups() []*models.PromptGroup {
	e.mu.Lock()
	result := models.CloneGroups(e.groups)
	r := e.reconciler
	e.mu.Unlock()

	if r != nil {
		r.PullNow()
	}
	return result
}

// GetGroupByID returns a copy of the group, or nil.
func (e *Engine) GetGroupByID(groupID string) *models.PromptGroup {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.groupLocked(groupID).Clone()
}

// GetVersionByID locates a version by scanning all groups. Linear scan is
// acceptable at the scale of a personal or small-team prompt library.
func (e *Engine) GetVersionByID(versionID string) *models.PromptVersion {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, version := e.findVersionLocked(versionID)
	return version.Clone()
}

// GetVersionsForGroup returns the group's versions sorted by version
// number descending, or nil if the group does not exist.
func (e *Engine) GetVersionsForGroup(groupID string) []*models.PromptVersion {
	e.mu.Lock()
	defer e.mu.Unlock()
	group := e.groupLocked(groupID)
	if group == nil {
		return nil
	}
	out := make([]*models.PromptVersion, len(group.Versions))
	for i, v := range group.Versions {
		out[i] = v.Clone()
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].VersionNumber > out[j].VersionNumber
	})
	return out
}

// SearchVersions returns every version whose name, content, or description
// matches the query case-insensitively, or whose group name matches. An
// empty query matches nothing.
func (e *Engine) SearchVersions(query string) []SearchResult {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	var results []SearchResult
	for _, g := range e.groups {
		groupMatch := strings.Contains(strings.ToLower(g.Name), q)
		for _, v := range g.Versions {
			if groupMatch ||
				strings.Contains(strings.ToLower(v.Name), q) ||
				strings.Contains(strings.ToLower(v.Content), q) ||
				strings.Contains(strings.ToLower(v.Description), q) {
				results = append(results, SearchResult{
					GroupID:   g.ID,
					GroupName: g.Name,
					Version:   v.Clone(),
				})
			}
		}
	}
	return results
}

// GetRecentVersions returns up to limit versions across all groups,
// newest first.
func (e *Engine) GetRecentVersions(limit int) []*models.PromptVersion {
	if limit <= 0 {
		return nil
	}

	e.mu.Lock()
	var all []*models.PromptVersion
	for _, g := range e.groups {
		for _, v := range g.Versions {
			all = append(all, v.Clone())
		}
	}
	e.mu.Unlock()

	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].VersionNumber > all[j].VersionNumber
	})
	if len(all) > limit {
		all = all[:limit]
	}
	return all
}

// Snapshot returns a deep copy of every group for the sync manager to push
// from without holding the engine lock.
func (e *Engine) Snapshot() []*models.PromptGroup {
	e.mu.Lock()
	defer e.mu.Unlock()
	return models.CloneGroups(e.groups)
}

// MarkGroupSynced records the remote correlation id assigned to a locally
// created group. Returns false if the group no longer exists locally.
func (e *Engine) MarkGroupSynced(groupID, remoteID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	group := e.groupLocked(groupID)
	if group == nil {
		return false
	}
	group.RemoteID = remoteID
	e.persistLocked()
	return true
}

// MarkVersionSynced records the remote row id for a confirmed version,
// adds it to its group's synced set, and persists immediately, so a crash
// mid-reconciliation neither re-attempts confirmed versions nor loses
// completed progress.
func (e *Engine) MarkVersionSynced(groupID, versionID, remoteID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	group := e.groupLocked(groupID)
	if group == nil {
		return false
	}
	version := group.Version(versionID)
	if version == nil {
		return false
	}
	version.RemoteID = remoteID
	group.SyncedVersionIDs.Add(versionID)
	e.persistLocked()
	return true
}

// ReplaceAll overwrites the entire local collection with the given groups,
// typically the converted result of a remote pull.
func (e *Engine) ReplaceAll(groups []*models.PromptGroup) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.groups = groups
	e.persistLocked()
}

func (e *Engine) groupLocked(groupID string) *models.PromptGroup {
	for _, g := range e.groups {
		if g.ID == groupID {
			return g
		}
	}
	return nil
}

func (e *Engine) findVersionLocked(versionID string) (*models.PromptGroup, *models.PromptVersion) {
	for _, g := range e.groups {
		if v := g.Version(versionID); v != nil {
			return g, v
		}
	}
	return nil, nil
}
