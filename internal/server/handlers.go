package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/promptpilot/promptpilot/internal/cache"
	"github.com/promptpilot/promptpilot/internal/engine"
	"github.com/promptpilot/promptpilot/internal/models"
	"github.com/promptpilot/promptpilot/internal/syncer"
)

// HealthHandler handles GET /healthz
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// ListGroupsHandler handles GET /api/promptpilot/v1alpha1/groups
func ListGroupsHandler(e *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		groups := e.GetAllGroups()
		writeJSON(w, http.StatusOK, map[string]any{
			"groups":    groups,
			"totalSize": len(groups),
		})
	}
}

type createGroupRequest struct {
	Name        string `json:"name"`
	Content     string `json:"content"`
	Description string `json:"description"`
}

// CreateGroupHandler handles POST /api/promptpilot/v1alpha1/groups
func CreateGroupHandler(e *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createGroupRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		group, err := e.CreateGroup(req.Name, req.Content, req.Description)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, group)
	}
}

// GetGroupHandler handles GET /api/promptpilot/v1alpha1/groups/{groupId}
func GetGroupHandler(e *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		groupID := chi.URLParam(r, "groupId")
		group := e.GetGroupByID(groupID)
		if group == nil {
			writeError(w, http.StatusNotFound, fmt.Sprintf("group %q not found", groupID))
			return
		}
		writeJSON(w, http.StatusOK, group)
	}
}

// UpdateGroupHandler handles PATCH /api/promptpilot/v1alpha1/groups/{groupId}
func UpdateGroupHandler(e *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		groupID := chi.URLParam(r, "groupId")
		var patch engine.GroupPatch
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		if !e.UpdateGroup(groupID, patch) {
			if e.GetGroupByID(groupID) == nil {
				writeError(w, http.StatusNotFound, fmt.Sprintf("group %q not found", groupID))
			} else {
				writeError(w, http.StatusBadRequest, "invalid group patch")
			}
			return
		}
		writeJSON(w, http.StatusOK, e.GetGroupByID(groupID))
	}
}

// DeleteGroupHandler handles DELETE /api/promptpilot/v1alpha1/groups/{groupId}
func DeleteGroupHandler(e *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		groupID := chi.URLParam(r, "groupId")
		if !e.DeleteGroup(groupID) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("group %q not found", groupID))
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "id": groupID})
	}
}

// ListVersionsHandler handles GET /api/promptpilot/v1alpha1/groups/{groupId}/versions
func ListVersionsHandler(e *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		groupID := chi.URLParam(r, "groupId")
		if e.GetGroupByID(groupID) == nil {
			writeError(w, http.StatusNotFound, fmt.Sprintf("group %q not found", groupID))
			return
		}
		versions := e.GetVersionsForGroup(groupID)
		writeJSON(w, http.StatusOK, map[string]any{
			"versions":  versions,
			"totalSize": len(versions),
		})
	}
}

type addVersionRequest struct {
	Content         string `json:"content"`
	Name            string `json:"name"`
	Description     string `json:"description"`
	Status          string `json:"status"`
	ParentVersionID string `json:"parentVersionId"`
}

// AddVersionHandler handles POST /api/promptpilot/v1alpha1/groups/{groupId}/versions
func AddVersionHandler(e *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		groupID := chi.URLParam(r, "groupId")
		var req addVersionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		version, err := e.AddVersion(groupID, req.Content, engine.AddVersionOptions{
			Name:            req.Name,
			Description:     req.Description,
			Status:          models.VersionStatus(req.Status),
			ParentVersionID: req.ParentVersionID,
		})
		if err != nil {
			if errors.Is(err, engine.ErrGroupNotFound) {
				writeError(w, http.StatusNotFound, fmt.Sprintf("group %q not found", groupID))
				return
			}
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, version)
	}
}

// GetVersionHandler handles GET /api/promptpilot/v1alpha1/versions/{versionId}
func GetVersionHandler(e *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		versionID := chi.URLParam(r, "versionId")
		version := e.GetVersionByID(versionID)
		if version == nil {
			writeError(w, http.StatusNotFound, fmt.Sprintf("version %q not found", versionID))
			return
		}
		writeJSON(w, http.StatusOK, version)
	}
}

// UpdateVersionHandler handles PATCH /api/promptpilot/v1alpha1/versions/{versionId}
func UpdateVersionHandler(e *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		versionID := chi.URLParam(r, "versionId")
		var patch engine.VersionPatch
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		if !e.UpdateVersion(versionID, patch) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("version %q not found", versionID))
			return
		}
		writeJSON(w, http.StatusOK, e.GetVersionByID(versionID))
	}
}

// DeleteVersionHandler handles DELETE /api/promptpilot/v1alpha1/versions/{versionId}
func DeleteVersionHandler(e *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		versionID := chi.URLParam(r, "versionId")
		if !e.DeleteVersion(versionID) {
			if e.GetVersionByID(versionID) == nil {
				writeError(w, http.StatusNotFound, fmt.Sprintf("version %q not found", versionID))
			} else {
				writeError(w, http.StatusConflict, "cannot delete the only version of a group")
			}
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "id": versionID})
	}
}

type setStatusRequest struct {
	Status string `json:"status"`
}

// SetVersionStatusHandler handles POST /api/promptpilot/v1alpha1/versions/{versionId}:status
func SetVersionStatusHandler(e *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		versionID := chi.URLParam(r, "versionId")
		var req setStatusRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		status := models.VersionStatus(req.Status)
		if !status.Valid() {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid status %q", req.Status))
			return
		}
		if !e.SetVersionStatus(versionID, status) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("version %q not found", versionID))
			return
		}
		writeJSON(w, http.StatusOK, e.GetVersionByID(versionID))
	}
}

type duplicateVersionRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// DuplicateVersionHandler handles POST /api/promptpilot/v1alpha1/versions/{versionId}:duplicate
// The copy starts as a draft with the source version recorded as its parent.
func DuplicateVersionHandler(e *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		versionID := chi.URLParam(r, "versionId")
		var req duplicateVersionRequest
		// Both fields are optional, so an empty body is a valid request.
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		source := e.GetVersionByID(versionID)
		if source == nil {
			writeError(w, http.StatusNotFound, fmt.Sprintf("version %q not found", versionID))
			return
		}

		version, err := e.AddVersion(source.GroupID, source.Content, engine.AddVersionOptions{
			Name:            req.Name,
			Description:     req.Description,
			ParentVersionID: source.ID,
		})
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, version)
	}
}

// SearchHandler handles GET /api/promptpilot/v1alpha1/search?q=
func SearchHandler(e *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query().Get("q")
		if query == "" {
			writeError(w, http.StatusBadRequest, "missing query parameter q")
			return
		}
		results := e.SearchVersions(query)
		writeJSON(w, http.StatusOK, map[string]any{
			"results":   results,
			"totalSize": len(results),
		})
	}
}

// RecentVersionsHandler handles GET /api/promptpilot/v1alpha1/versions/recent?limit=
func RecentVersionsHandler(e *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 10
		if v := r.URL.Query().Get("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				limit = n
			}
		}
		versions := e.GetRecentVersions(limit)
		writeJSON(w, http.StatusOK, map[string]any{
			"versions":  versions,
			"totalSize": len(versions),
		})
	}
}

// StorageHandler handles GET /api/promptpilot/v1alpha1/storage
func StorageHandler(store *cache.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"usedBytes":    store.Size(),
			"maxBytes":     cache.MaxStoredBytes,
			"nearCapacity": store.NearCapacity(),
		})
	}
}

// SyncStatusHandler handles GET /api/promptpilot/v1alpha1/sync/status
func SyncStatusHandler(m *syncer.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, m.SyncStatus())
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
