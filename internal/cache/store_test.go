package cache

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/promptpilot/promptpilot/internal/models"
)

func setupTestStore(t *testing.T) (*Store, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	store, err := NewStore(db, DefaultNamespace, testLogger())
	require.NoError(t, err)
	return store, db
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testGroup(name string, versionCount int) *models.PromptGroup {
	g := models.NewGroup(uuid.NewString(), name, "", time.Now())
	for i := 1; i <= versionCount; i++ {
		v := &models.PromptVersion{
			ID:            uuid.NewString(),
			GroupID:       g.ID,
			VersionNumber: i,
			Name:          fmt.Sprintf("v%d", i),
			Content:       "content " + name,
			Status:        models.StatusDraft,
			CreatedAt:     time.Now(),
		}
		g.Versions = append(g.Versions, v)
	}
	g.Versions[0].Status = models.StatusCurrent
	g.CurrentVersionID = g.Versions[0].ID
	return g
}

func TestLoadEmptyStore(t *testing.T) {
	store, _ := setupTestStore(t)
	assert.Empty(t, store.Load())
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store, _ := setupTestStore(t)

	g := testGroup("Support Bot", 2)
	g.SyncedVersionIDs = mapset.NewSet("id-c", "id-a", "id-b")
	g.RemoteID = "remote-1"
	require.NoError(t, store.Save([]*models.PromptGroup{g}))

	loaded := store.Load()
	require.Len(t, loaded, 1)
	got := loaded[0]
	assert.Equal(t, g.ID, got.ID)
	assert.Equal(t, "Support Bot", got.Name)
	assert.Equal(t, "remote-1", got.RemoteID)
	require.Len(t, got.Versions, 2)
	assert.Equal(t, g.Versions[0].ID, got.Versions[0].ID)
	assert.Equal(t, models.StatusCurrent, got.Versions[0].Status)

	// Set membership survives the flatten/rehydrate cycle, order-independent.
	require.NotNil(t, got.SyncedVersionIDs)
	assert.True(t, got.SyncedVersionIDs.Equal(g.SyncedVersionIDs))
}

func TestSyncedSetStoredAsSortedSlice(t *testing.T) {
	store, db := setupTestStore(t)

	g := testGroup("G", 1)
	g.SyncedVersionIDs = mapset.NewSet("zz", "aa", "mm")
	require.NoError(t, store.Save([]*models.PromptGroup{g}))

	var payload string
	err := db.Model(&entry{}).
		Select("payload").
		Where("namespace = ?", DefaultNamespace).
		Scan(&payload).Error
	require.NoError(t, err)
	assert.Contains(t, payload, `"syncedVersionIds":["aa","mm","zz"]`)
}

func TestSaveReplacesWholeCollection(t *testing.T) {
	store, _ := setupTestStore(t)

	require.NoError(t, store.Save([]*models.PromptGroup{testGroup("A", 1), testGroup("B", 1)}))
	require.NoError(t, store.Save([]*models.PromptGroup{testGroup("C", 1)}))

	loaded := store.Load()
	require.Len(t, loaded, 1)
	assert.Equal(t, "C", loaded[0].Name)
}

func TestLoadCorruptPayloadFailsSoft(t *testing.T) {
	store, db := setupTestStore(t)

	require.NoError(t, db.Create(&entry{
		Namespace: DefaultNamespace,
		Payload:   []byte("{not valid json"),
		UpdatedAt: time.Now(),
	}).Error)

	assert.Empty(t, store.Load())
}

func TestSizeAndNearCapacity(t *testing.T) {
	store, _ := setupTestStore(t)

	assert.Zero(t, store.Size())
	assert.False(t, store.NearCapacity())

	require.NoError(t, store.Save([]*models.PromptGroup{testGroup("G", 1)}))
	assert.Greater(t, store.Size(), int64(0))
	assert.False(t, store.NearCapacity())

	big := testGroup("Big", 1)
	big.Versions[0].Content = strings.Repeat("x", int(0.9*float64(MaxStoredBytes)))
	require.NoError(t, store.Save([]*models.PromptGroup{big}))
	assert.True(t, store.NearCapacity())
}
