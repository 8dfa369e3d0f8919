package server

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/promptpilot/promptpilot/internal/cache"
	"github.com/promptpilot/promptpilot/internal/engine"
	"github.com/promptpilot/promptpilot/internal/syncer"
)

type testAPI struct {
	server *httptest.Server
	engine *engine.Engine
}

func setupTestAPI(t *testing.T) *testAPI {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := cache.NewStore(db, cache.DefaultNamespace, logger)
	require.NoError(t, err)

	e := engine.New(store, logger)
	m := syncer.NewManager(e, nil, nil, logger)

	srv := httptest.NewServer(Router(e, m, store))
	t.Cleanup(srv.Close)
	return &testAPI{server: srv, engine: e}
}

func (a *testAPI) do(t *testing.T, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, a.server.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func TestHealthz(t *testing.T) {
	api := setupTestAPI(t)
	resp, body := api.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}

func TestCreateGroupEndpoint(t *testing.T) {
	api := setupTestAPI(t)

	resp, body := api.do(t, http.MethodPost, BasePath+"/groups", map[string]string{
		"name":        "Support Bot",
		"content":     "You are a helpful assistant.",
		"description": "tone experiments",
	})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "Support Bot", body["name"])
	assert.NotEmpty(t, body["id"])

	versions := body["versions"].([]any)
	require.Len(t, versions, 1)
	first := versions[0].(map[string]any)
	assert.Equal(t, float64(1), first["versionNumber"])
	assert.Equal(t, "current", first["status"])
	assert.Equal(t, first["id"], body["currentVersionId"])
}

func TestCreateGroupValidationError(t *testing.T) {
	api := setupTestAPI(t)
	resp, body := api.do(t, http.MethodPost, BasePath+"/groups", map[string]string{
		"name": "no content",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.NotEmpty(t, body["error"])
}

func TestListGroupsEndpoint(t *testing.T) {
	api := setupTestAPI(t)
	_, err := api.engine.CreateGroup("A", "a", "")
	require.NoError(t, err)
	_, err = api.engine.CreateGroup("B", "b", "")
	require.NoError(t, err)

	resp, body := api.do(t, http.MethodGet, BasePath+"/groups", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(2), body["totalSize"])
	assert.Len(t, body["groups"].([]any), 2)
}

func TestGetGroupNotFound(t *testing.T) {
	api := setupTestAPI(t)
	resp, body := api.do(t, http.MethodGet, BasePath+"/groups/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, body["error"], "missing")
}

func TestUpdateGroupEndpoint(t *testing.T) {
	api := setupTestAPI(t)
	g, err := api.engine.CreateGroup("old", "text", "")
	require.NoError(t, err)

	resp, body := api.do(t, http.MethodPatch, BasePath+"/groups/"+g.ID, map[string]string{
		"name": "renamed",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "renamed", body["name"])

	resp, _ = api.do(t, http.MethodPatch, BasePath+"/groups/missing", map[string]string{"name": "x"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDeleteGroupEndpoint(t *testing.T) {
	api := setupTestAPI(t)
	g, err := api.engine.CreateGroup("G", "text", "")
	require.NoError(t, err)

	resp, body := api.do(t, http.MethodDelete, BasePath+"/groups/"+g.ID, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "deleted", body["status"])

	resp, _ = api.do(t, http.MethodDelete, BasePath+"/groups/"+g.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAddVersionEndpoint(t *testing.T) {
	api := setupTestAPI(t)
	g, err := api.engine.CreateGroup("G", "v1 text", "")
	require.NoError(t, err)

	resp, body := api.do(t, http.MethodPost, BasePath+"/groups/"+g.ID+"/versions", map[string]string{
		"content": "v2 text",
		"status":  "current",
	})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, float64(2), body["versionNumber"])
	assert.Equal(t, "current", body["status"])

	resp, _ = api.do(t, http.MethodPost, BasePath+"/groups/missing/versions", map[string]string{
		"content": "x",
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListVersionsEndpoint(t *testing.T) {
	api := setupTestAPI(t)
	g, err := api.engine.CreateGroup("G", "v1", "")
	require.NoError(t, err)
	_, err = api.engine.AddVersion(g.ID, "v2", engine.AddVersionOptions{})
	require.NoError(t, err)

	resp, body := api.do(t, http.MethodGet, BasePath+"/groups/"+g.ID+"/versions", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	versions := body["versions"].([]any)
	require.Len(t, versions, 2)
	// Newest first.
	assert.Equal(t, float64(2), versions[0].(map[string]any)["versionNumber"])
}

func TestSetVersionStatusEndpoint(t *testing.T) {
	api := setupTestAPI(t)
	g, err := api.engine.CreateGroup("G", "v1", "")
	require.NoError(t, err)
	v2, err := api.engine.AddVersion(g.ID, "v2", engine.AddVersionOptions{})
	require.NoError(t, err)

	resp, body := api.do(t, http.MethodPost, BasePath+"/versions/"+v2.ID+":status", map[string]string{
		"status": "production",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "production", body["status"])

	resp, _ = api.do(t, http.MethodPost, BasePath+"/versions/"+v2.ID+":status", map[string]string{
		"status": "shipped",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = api.do(t, http.MethodPost, BasePath+"/versions/missing:status", map[string]string{
		"status": "current",
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDeleteLastVersionConflict(t *testing.T) {
	api := setupTestAPI(t)
	g, err := api.engine.CreateGroup("G", "only", "")
	require.NoError(t, err)
	onlyVersion := g.Versions[0].ID

	resp, body := api.do(t, http.MethodDelete, BasePath+"/versions/"+onlyVersion, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Contains(t, body["error"], "only version")

	_, err = api.engine.AddVersion(g.ID, "second", engine.AddVersionOptions{})
	require.NoError(t, err)
	resp, _ = api.do(t, http.MethodDelete, BasePath+"/versions/"+onlyVersion, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestDuplicateVersionEndpoint(t *testing.T) {
	api := setupTestAPI(t)
	g, err := api.engine.CreateGroup("G", "source text", "")
	require.NoError(t, err)
	source := g.Versions[0]

	resp, body := api.do(t, http.MethodPost, BasePath+"/versions/"+source.ID+":duplicate", map[string]string{
		"name": "copy of v1",
	})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "source text", body["content"])
	assert.Equal(t, "draft", body["status"])
	assert.Equal(t, source.ID, body["parentVersionId"])
	assert.Equal(t, float64(2), body["versionNumber"])
}

func TestDuplicateVersionWithoutBody(t *testing.T) {
	api := setupTestAPI(t)
	g, err := api.engine.CreateGroup("G", "source text", "")
	require.NoError(t, err)
	source := g.Versions[0]

	// Both request fields are optional, so no body at all is valid.
	resp, body := api.do(t, http.MethodPost, BasePath+"/versions/"+source.ID+":duplicate", nil)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "source text", body["content"])
	assert.Equal(t, source.ID, body["parentVersionId"])
}

func TestSearchEndpoint(t *testing.T) {
	api := setupTestAPI(t)
	_, err := api.engine.CreateGroup("Summarizer", "Summarize the following text.", "")
	require.NoError(t, err)
	_, err = api.engine.CreateGroup("Support Bot", "You are a helpful assistant.", "")
	require.NoError(t, err)

	resp, body := api.do(t, http.MethodGet, BasePath+"/search?q=helpful", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["totalSize"])

	resp, _ = api.do(t, http.MethodGet, BasePath+"/search", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRecentVersionsEndpoint(t *testing.T) {
	api := setupTestAPI(t)
	g, err := api.engine.CreateGroup("G", "v1", "")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err = api.engine.AddVersion(g.ID, "more", engine.AddVersionOptions{})
		require.NoError(t, err)
	}

	resp, body := api.do(t, http.MethodGet, BasePath+"/versions/recent?limit=2", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(2), body["totalSize"])
}

func TestStorageEndpoint(t *testing.T) {
	api := setupTestAPI(t)
	_, err := api.engine.CreateGroup("G", "text", "")
	require.NoError(t, err)

	resp, body := api.do(t, http.MethodGet, BasePath+"/storage", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Greater(t, body["usedBytes"], float64(0))
	assert.Equal(t, float64(cache.MaxStoredBytes), body["maxBytes"])
	assert.Equal(t, false, body["nearCapacity"])
}

func TestSyncStatusEndpoint(t *testing.T) {
	api := setupTestAPI(t)
	_, err := api.engine.CreateGroup("G", "text", "")
	require.NoError(t, err)

	resp, body := api.do(t, http.MethodGet, BasePath+"/sync/status", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["enabled"])
	assert.Equal(t, float64(1), body["pendingGroups"])
	assert.Equal(t, float64(1), body["pendingVersions"])
}
