// Package syncer implements the reconciliation manager that converges the
// local prompt cache with the remote store. Push reconciliation sends
// locally created groups and versions to the remote store, tracking
// confirmed versions in each group's synced set so repeated passes never
// duplicate inserts; versions whose status changed after confirmation get
// their remote row rewritten. Pull reconciliation fetches the full remote
// state and replaces the local view with it.
//
// Everything here is best-effort: remote failures are logged, the local
// state remains the most recent truth, and another pass is attempted on
// the next local mutation or periodic tick. No failure ever propagates to
// a caller of the version control engine.
package syncer

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	retry "github.com/avast/retry-go/v4"
	mapset "github.com/deckarep/golang-set/v2"

	"github.com/promptpilot/promptpilot/internal/engine"
	"github.com/promptpilot/promptpilot/internal/models"
	"github.com/promptpilot/promptpilot/internal/remote"
)

// Status is a point-in-time snapshot of reconciliation progress.
type Status struct {
	Enabled         bool           `json:"enabled"`
	PendingGroups   int            `json:"pendingGroups"`
	PendingVersions int            `json:"pendingVersions"`
	DeadLetters     map[string]int `json:"deadLetters,omitempty"`
	LastPullAt      time.Time      `json:"lastPullAt"`
	PullsSkipped    int64          `json:"pullsSkipped"`
}

// Manager converges local and remote prompt state without ever blocking
// the version control engine.
type Manager struct {
	engine *engine.Engine
	client remote.Client
	cfg    *Config
	logger *slog.Logger

	mu           sync.Mutex
	inFlight     int  // remote write operations in progress; pulls are suppressed while > 0
	pushRunning  bool // single-flight push pass
	pushRerun    bool // a mutation arrived while a pass was running
	deadLetters  map[string]int
	subscribers  []func()
	lastPullAt   time.Time
	pullsSkipped int64
}

// NewManager creates a manager and wires it into the engine as its
// reconciler. A nil client disables reconciliation entirely (offline mode).
func NewManager(e *engine.Engine, client remote.Client, cfg *Config, logger *slog.Logger) *Manager {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if client == nil {
		cfg.Enabled = false
		logger.Info("no remote store configured, sync disabled")
	}
	m := &Manager{
		engine:      e,
		client:      client,
		cfg:         cfg,
		logger:      logger,
		deadLetters: make(map[string]int),
	}
	e.SetReconciler(m)
	return m
}

// Run performs an initial pull, then pulls periodically until the context
// is cancelled.
func (m *Manager) Run(ctx context.Context) {
	if !m.cfg.Enabled {
		m.logger.Info("sync manager disabled")
		return
	}

	m.logger.Info("sync manager starting",
		"pullInterval", m.cfg.PullInterval.String(),
		"pushAttempts", m.cfg.PushAttempts)

	m.pullPass(ctx)

	ticker := time.NewTicker(m.cfg.PullInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("sync manager stopped")
			return
		case <-ticker.C:
			m.pullPass(ctx)
		}
	}
}

// Subscribe registers a callback invoked after every completed pull that
// replaced the local view.
func (m *Manager) Subscribe(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers = append(m.subscribers, fn)
}

// SyncStatus reports current reconciliation progress.
func (m *Manager) SyncStatus() Status {
	snapshot := m.engine.Snapshot()

	pendingGroups := 0
	pendingVersions := 0
	for _, g := range snapshot {
		if g.RemoteID == "" {
			pendingGroups++
		}
		for _, v := range g.Versions {
			if !g.SyncedVersionIDs.Contains(v.ID) {
				pendingVersions++
			}
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	dead := make(map[string]int, len(m.deadLetters))
	for k, v := range m.deadLetters {
		dead[k] = v
	}
	return Status{
		Enabled:         m.cfg.Enabled,
		PendingGroups:   pendingGroups,
		PendingVersions: pendingVersions,
		DeadLetters:     dead,
		LastPullAt:      m.lastPullAt,
		PullsSkipped:    m.pullsSkipped,
	}
}

// Push schedules a push pass. Passes are single-flight: a request arriving
// while a pass is running coalesces into one follow-up pass, which also
// picks up anything that failed and needs an opportunistic retry.
func (m *Manager) Push() {
	if !m.cfg.Enabled {
		return
	}
	m.mu.Lock()
	if m.pushRunning {
		m.pushRerun = true
		m.mu.Unlock()
		return
	}
	m.pushRunning = true
	m.mu.Unlock()

	go func() {
		for {
			m.pushPass(context.Background())
			m.mu.Lock()
			if !m.pushRerun {
				m.pushRunning = false
				m.mu.Unlock()
				return
			}
			m.pushRerun = false
			m.mu.Unlock()
		}
	}()
}

// PullNow schedules an immediate pull.
func (m *Manager) PullNow() {
	if !m.cfg.Enabled {
		return
	}
	go m.pullPass(context.Background())
}

// PullSoon schedules a pull after the configured settle delay, giving an
// in-flight push a chance to confirm freshly created records first.
func (m *Manager) PullSoon() {
	if !m.cfg.Enabled {
		return
	}
	go func() {
		time.Sleep(m.cfg.PullDelay)
		m.pullPass(context.Background())
	}()
}

// DeleteRemoteVersion deletes a version row in the background, best-effort.
func (m *Manager) DeleteRemoteVersion(versionID string) {
	if !m.cfg.Enabled {
		return
	}
	go func() {
		m.beginOp()
		defer m.endOp()
		if err := m.client.DeleteVersion(context.Background(), versionID); err != nil {
			m.logger.Error("failed to delete remote version", "versionID", versionID, "error", err)
		}
	}()
}

// DeleteRemoteGroup deletes a group's version rows and then the group row
// in the background, then schedules a pull. The caller has already removed
// the group locally; a remote failure here only delays convergence.
func (m *Manager) DeleteRemoteGroup(remoteGroupID string, versionIDs []string) {
	if !m.cfg.Enabled {
		return
	}
	go func() {
		m.beginOp()
		for _, id := range versionIDs {
			if err := m.client.DeleteVersion(context.Background(), id); err != nil {
				m.logger.Error("failed to delete remote version", "versionID", id, "error", err)
			}
		}
		if err := m.client.DeleteGroup(context.Background(), remoteGroupID); err != nil {
			m.logger.Error("failed to delete remote group", "groupID", remoteGroupID, "error", err)
		}
		m.endOp()

		time.Sleep(m.cfg.PullDelay)
		m.pullPass(context.Background())
	}()
}

// PushGroupUpdate sends a group metadata patch in the background.
func (m *Manager) PushGroupUpdate(remoteGroupID string, patch engine.GroupPatch) {
	if !m.cfg.Enabled {
		return
	}
	go func() {
		m.beginOp()
		defer m.endOp()
		err := m.client.UpdateGroup(context.Background(), remoteGroupID, remote.GroupPatch{
			Name:        patch.Name,
			Description: patch.Description,
		})
		if err != nil {
			m.logger.Error("failed to update remote group", "groupID", remoteGroupID, "error", err)
		}
	}()
}

// PushVersionUpdate sends a version metadata patch in the background.
func (m *Manager) PushVersionUpdate(versionID string, patch engine.VersionPatch) {
	if !m.cfg.Enabled {
		return
	}
	go func() {
		m.beginOp()
		defer m.endOp()
		err := m.client.UpdateVersion(context.Background(), versionID, remote.VersionPatch{
			Name:        patch.Name,
			Description: patch.Description,
		})
		if err != nil {
			m.logger.Error("failed to update remote version", "versionID", versionID, "error", err)
		}
	}()
}

// pushPass pushes every unsynced group and version to the remote store.
func (m *Manager) pushPass(ctx context.Context) {
	m.beginOp()
	defer m.endOp()

	for _, g := range m.engine.Snapshot() {
		if g.RemoteID == "" {
			m.pushNewGroup(ctx, g)
		} else {
			m.pushUnsyncedVersions(ctx, g, g.RemoteID)
		}
	}
}

// pushNewGroup creates the remote group record, then its versions in
// order. The remote group's description field carries the prompt text of
// the first version, not the local description metadata.
// The remote correlation id is recorded locally only after the group-level
// create succeeds.
func (m *Manager) pushNewGroup(ctx context.Context, g *models.PromptGroup) {
	versions := orderedVersions(g)
	if len(versions) == 0 {
		return
	}

	var rec *remote.GroupRecord
	err := retry.Do(
		func() error {
			var err error
			rec, err = m.client.CreateGroup(ctx, remote.CreateGroupInput{
				Name:        g.Name,
				Description: versions[0].Content,
			})
			return err
		},
		retry.Attempts(m.cfg.PushAttempts),
		retry.Delay(m.cfg.PushBaseDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	)
	if err != nil {
		m.logger.Error("failed to create remote group, will retry on next pass",
			"groupID", g.ID, "error", err)
		return
	}

	if !m.engine.MarkGroupSynced(g.ID, rec.ID) {
		// Group was deleted locally while the create was in flight; the
		// orphaned remote record is cleaned up by the delete path or pull.
		m.logger.Warn("group vanished locally during push", "groupID", g.ID)
		return
	}

	for _, v := range versions {
		m.pushVersion(ctx, g, rec.ID, v)
	}
}

// pushUnsyncedVersions creates every version not yet in the group's
// synced set.
func (m *Manager) pushUnsyncedVersions(ctx context.Context, g *models.PromptGroup, remoteGroupID string) {
	for _, v := range orderedVersions(g) {
		m.pushVersion(ctx, g, remoteGroupID, v)
	}
}

// pushVersion converges one unsynced version. A version without a remote
// row is created (remote creation always starts as draft, so any other
// status is applied with a follow-up set-status call); a version whose
// remote row exists but whose status changed locally gets the status
// rewritten in place. The synced set and remote id are persisted
// immediately on success; on repeated failure the version lands in the
// dead-letter log and keeps being retried opportunistically.
func (m *Manager) pushVersion(ctx context.Context, g *models.PromptGroup, remoteGroupID string, v *models.PromptVersion) {
	if g.SyncedVersionIDs != nil && g.SyncedVersionIDs.Contains(v.ID) {
		return
	}
	if v.RemoteID != "" {
		m.pushVersionStatus(ctx, g, v)
		return
	}

	var remoteVersionID string
	err := retry.Do(
		func() error {
			rec, err := m.client.CreateVersion(ctx, remote.CreateVersionInput{
				GroupID:         remoteGroupID,
				Name:            v.Name,
				Content:         v.Content,
				Description:     v.Description,
				ParentVersionID: v.ParentVersionID,
				VersionNumber:   v.VersionNumber,
			})
			if err != nil {
				return err
			}
			remoteVersionID = rec.ID
			if v.Status != models.StatusDraft {
				if err := m.client.SetVersionStatus(ctx, rec.ID, v.Status); err != nil {
					// The row exists; the status converges on a later write.
					m.logger.Error("failed to apply remote version status",
						"versionID", v.ID, "status", string(v.Status), "error", err)
				}
			}
			return nil
		},
		retry.Attempts(m.cfg.PushAttempts),
		retry.Delay(m.cfg.PushBaseDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	)
	if err != nil {
		m.mu.Lock()
		m.deadLetters[v.ID]++
		failures := m.deadLetters[v.ID]
		m.mu.Unlock()
		m.logger.Warn("prompt version failed to sync, dead-lettered",
			"versionID", v.ID, "groupID", g.ID, "failedPasses", failures, "error", err)
		return
	}

	m.engine.MarkVersionSynced(g.ID, v.ID, remoteVersionID)
	m.mu.Lock()
	delete(m.deadLetters, v.ID)
	m.mu.Unlock()
}

// pushVersionStatus rewrites the remote row's status for a version whose
// local status changed after it was last confirmed.
func (m *Manager) pushVersionStatus(ctx context.Context, g *models.PromptGroup, v *models.PromptVersion) {
	err := retry.Do(
		func() error {
			return m.client.SetVersionStatus(ctx, v.RemoteID, v.Status)
		},
		retry.Attempts(m.cfg.PushAttempts),
		retry.Delay(m.cfg.PushBaseDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	)
	if err != nil {
		m.mu.Lock()
		m.deadLetters[v.ID]++
		failures := m.deadLetters[v.ID]
		m.mu.Unlock()
		m.logger.Warn("prompt version status failed to sync, dead-lettered",
			"versionID", v.ID, "groupID", g.ID, "failedPasses", failures, "error", err)
		return
	}

	m.engine.MarkVersionSynced(g.ID, v.ID, v.RemoteID)
	m.mu.Lock()
	delete(m.deadLetters, v.ID)
	m.mu.Unlock()
}

// pullPass fetches the complete remote collection and replaces the local
// view with it. Pulls are skipped while any push or remote delete is in
// flight, so a full-replace cannot transiently hide a locally created
// group whose remote confirmation has not landed yet.
func (m *Manager) pullPass(ctx context.Context) {
	m.mu.Lock()
	if m.inFlight > 0 {
		m.pullsSkipped++
		m.mu.Unlock()
		m.logger.Debug("pull skipped, push in flight")
		return
	}
	m.mu.Unlock()

	recs, err := m.client.ListGroups(ctx)
	if err != nil {
		m.logger.Error("failed to pull remote groups, keeping local view", "error", err)
		return
	}

	groups := make([]*models.PromptGroup, len(recs))
	for i := range recs {
		groups[i] = convertGroup(&recs[i])
	}

	// A write may have started while the fetch was on the wire, making the
	// fetched snapshot stale. Holding the lock across the replace keeps new
	// writes from beginning mid-replace; the next pull converges.
	m.mu.Lock()
	if m.inFlight > 0 {
		m.pullsSkipped++
		m.mu.Unlock()
		m.logger.Debug("pull discarded, push started during fetch")
		return
	}
	m.engine.ReplaceAll(groups)
	m.lastPullAt = time.Now()
	subs := make([]func(), len(m.subscribers))
	copy(subs, m.subscribers)
	m.mu.Unlock()

	for _, fn := range subs {
		fn()
	}
}

func (m *Manager) beginOp() {
	m.mu.Lock()
	m.inFlight++
	m.mu.Unlock()
}

func (m *Manager) endOp() {
	m.mu.Lock()
	m.inFlight--
	m.mu.Unlock()
}

// orderedVersions returns the group's versions sorted by version number
// ascending, the order they must be created remotely in.
func orderedVersions(g *models.PromptGroup) []*models.PromptVersion {
	out := make([]*models.PromptVersion, len(g.Versions))
	copy(out, g.Versions)
	sort.Slice(out, func(i, j int) bool {
		return out[i].VersionNumber < out[j].VersionNumber
	})
	return out
}

// convertGroup maps a remote record to the local model. Every version in a
// pulled group is by definition present remotely, so the synced set covers
// all of them and the remote id doubles as the local id from here on.
func convertGroup(rec *remote.GroupRecord) *models.PromptGroup {
	g := &models.PromptGroup{
		ID:               rec.ID,
		RemoteID:         rec.ID,
		Name:             rec.Name,
		SyncedVersionIDs: mapset.NewSet[string](),
		CreatedAt:        rec.CreatedAt,
		LastModifiedAt:   rec.UpdatedAt,
	}
	for i := range rec.Versions {
		vr := &rec.Versions[i]
		v := &models.PromptVersion{
			ID:              vr.ID,
			RemoteID:        vr.ID,
			GroupID:         rec.ID,
			VersionNumber:   vr.VersionNumber,
			Name:            vr.Name,
			Content:         vr.Content,
			Description:     vr.Description,
			Status:          vr.Status,
			ParentVersionID: vr.ParentVersionID,
			CreatedAt:       vr.CreatedAt,
		}
		g.Versions = append(g.Versions, v)
		g.SyncedVersionIDs.Add(v.ID)
		switch v.Status {
		case models.StatusCurrent:
			g.CurrentVersionID = v.ID
		case models.StatusProduction:
			g.ProductionVersionID = v.ID
		}
	}
	return g
}
