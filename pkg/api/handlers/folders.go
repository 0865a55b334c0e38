package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kraklabs/usenetsync/pkg/api/middleware"
	"github.com/kraklabs/usenetsync/pkg/storage"
)

// FolderHandler exposes read access to the folders a local API caller owns.
// Folder creation happens out-of-band (via the command-line ingest flow, not
// the HTTP API), so this handler only lists and reads existing rows.
type FolderHandler struct {
	engine storage.Engine
}

// NewFolderHandler creates a new FolderHandler.
func NewFolderHandler(engine storage.Engine) *FolderHandler {
	return &FolderHandler{engine: engine}
}

// FolderResponse is the sanitized API view of a storage.Folder: it omits
// EncryptedKey and KeyNonce, which never leave the owning process.
type FolderResponse struct {
	ID             string    `json:"id"`
	LocalPath      string    `json:"local_path"`
	DisplayName    string    `json:"display_name,omitempty"`
	CurrentVersion int       `json:"current_version"`
	FileCount      int       `json:"file_count"`
	TotalSize      int64     `json:"total_size"`
	AccessMode     string    `json:"access_mode"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func folderToResponse(f storage.Folder) FolderResponse {
	return FolderResponse{
		ID:             f.ID,
		LocalPath:      f.LocalPath,
		DisplayName:    f.DisplayName,
		CurrentVersion: f.CurrentVersion,
		FileCount:      f.FileCount,
		TotalSize:      f.TotalSize,
		AccessMode:     f.AccessMode,
		Status:         f.Status,
		CreatedAt:      f.CreatedAt,
		UpdatedAt:      f.UpdatedAt,
	}
}

// List handles GET /api/v1/folders: every folder owned by the caller.
func (h *FolderHandler) List(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())
	if claims == nil {
		Unauthorized(w, "Authentication required")
		return
	}

	var folders []storage.Folder
	if err := h.engine.FetchAll(r.Context(), &folders,
		"SELECT * FROM folders WHERE owner_user_id = ? ORDER BY created_at DESC", claims.UserID); err != nil {
		InternalServerError(w, "Failed to list folders")
		return
	}

	response := make([]FolderResponse, len(folders))
	for i, f := range folders {
		response[i] = folderToResponse(f)
	}
	WriteJSONOK(w, response)
}

// Get handles GET /api/v1/folders/{id}.
func (h *FolderHandler) Get(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())
	if claims == nil {
		Unauthorized(w, "Authentication required")
		return
	}

	folder, ok := h.fetchOwnedFolder(w, r, chi.URLParam(r, "id"), claims.UserID)
	if !ok {
		return
	}
	WriteJSONOK(w, folderToResponse(folder))
}

func (h *FolderHandler) fetchOwnedFolder(w http.ResponseWriter, r *http.Request, folderID, ownerUserID string) (storage.Folder, bool) {
	if folderID == "" {
		BadRequest(w, "Folder id is required")
		return storage.Folder{}, false
	}

	var folders []storage.Folder
	if err := h.engine.FetchAll(r.Context(), &folders, "SELECT * FROM folders WHERE id = ?", folderID); err != nil {
		InternalServerError(w, "Failed to look up folder")
		return storage.Folder{}, false
	}
	if len(folders) != 1 {
		NotFound(w, "Folder not found")
		return storage.Folder{}, false
	}
	if folders[0].OwnerUserID != ownerUserID {
		Forbidden(w, "You do not own this folder")
		return storage.Folder{}, false
	}
	return folders[0], true
}
