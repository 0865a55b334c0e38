package handlers

import (
	"encoding/hex"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kraklabs/usenetsync/pkg/access"
	"github.com/kraklabs/usenetsync/pkg/api/middleware"
	"github.com/kraklabs/usenetsync/pkg/publisher"
	"github.com/kraklabs/usenetsync/pkg/storage"
)

// ShareHandler exposes the share lifecycle (spec.md §4.1's create_share,
// revoke_share, extend_share, record_access) over HTTP.
type ShareHandler struct {
	engine    storage.Engine
	publisher *publisher.Publisher
}

// NewShareHandler creates a new ShareHandler.
func NewShareHandler(engine storage.Engine, pub *publisher.Publisher) *ShareHandler {
	return &ShareHandler{engine: engine, publisher: pub}
}

// RecipientRequest is one private-share recipient: a user identifier and
// their X25519 public key, hex-encoded for JSON transport.
type RecipientRequest struct {
	UserID    string `json:"user_id"`
	PublicKey string `json:"public_key"`
}

// CreateShareRequest is the request body for POST /api/v1/folders/{id}/shares.
type CreateShareRequest struct {
	Mode       string             `json:"mode"`
	ExpiryDays int                `json:"expiry_days,omitempty"`
	Password   string             `json:"password,omitempty"`
	Recipients []RecipientRequest `json:"recipients,omitempty"`
}

// ShareResponse is the sanitized API view of a storage.Publication: it
// never returns EncryptedIndex, IndexNonce, or Argon2 salt/cost fields,
// none of which a caller needs back over this API.
type ShareResponse struct {
	ID             string     `json:"id"`
	FolderID       string     `json:"folder_id"`
	FolderVersion  int        `json:"folder_version"`
	AccessMode     string     `json:"access_mode"`
	Status         string     `json:"status"`
	IndexMessageID string     `json:"index_message_id"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	Revoked        bool       `json:"revoked"`
	AccessCount    int64      `json:"access_count"`
	CreatedAt      time.Time  `json:"created_at"`
}

func shareToResponse(p storage.Publication) ShareResponse {
	return ShareResponse{
		ID:             p.ID,
		FolderID:       p.FolderID,
		FolderVersion:  p.FolderVersion,
		AccessMode:     p.AccessMode,
		Status:         p.Status,
		IndexMessageID: p.IndexMessageID,
		ExpiresAt:      p.ExpiresAt,
		Revoked:        p.Revoked,
		AccessCount:    p.AccessCount,
		CreatedAt:      p.CreatedAt,
	}
}

// Create handles POST /api/v1/folders/{id}/shares.
func (h *ShareHandler) Create(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())
	if claims == nil {
		Unauthorized(w, "Authentication required")
		return
	}

	folderID := chi.URLParam(r, "id")
	if folderID == "" {
		BadRequest(w, "Folder id is required")
		return
	}

	var req CreateShareRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	mode := access.Mode(req.Mode)
	switch mode {
	case access.ModePublic, access.ModeProtected, access.ModePrivate:
	default:
		BadRequest(w, "mode must be one of public, protected, private")
		return
	}

	pubReq := publisher.CreateShareRequest{
		FolderID:    folderID,
		OwnerUserID: claims.UserID,
		Mode:        mode,
		ExpiryDays:  req.ExpiryDays,
		Password:    req.Password,
	}

	if mode == access.ModePrivate {
		recipients := make([]publisher.Recipient, 0, len(req.Recipients))
		for _, rr := range req.Recipients {
			keyBytes, err := hex.DecodeString(rr.PublicKey)
			if err != nil || len(keyBytes) != 32 {
				BadRequest(w, "recipient public_key must be 32 hex-encoded bytes")
				return
			}
			var key [32]byte
			copy(key[:], keyBytes)
			recipients = append(recipients, publisher.Recipient{UserID: rr.UserID, PublicKey: key})
		}
		pubReq.Recipients = recipients
	}

	share, err := h.publisher.CreateShare(r.Context(), pubReq)
	if err != nil {
		InternalServerError(w, err.Error())
		return
	}
	WriteJSONCreated(w, shareToResponse(share))
}

// Get handles GET /api/v1/shares/{shareID}.
func (h *ShareHandler) Get(w http.ResponseWriter, r *http.Request) {
	share, ok := h.fetchShare(w, r, chi.URLParam(r, "shareID"))
	if !ok {
		return
	}
	WriteJSONOK(w, shareToResponse(share))
}

// Revoke handles POST /api/v1/shares/{shareID}/revoke.
func (h *ShareHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	shareID := chi.URLParam(r, "shareID")
	if shareID == "" {
		BadRequest(w, "Share id is required")
		return
	}
	if err := h.publisher.RevokeShare(r.Context(), shareID); err != nil {
		InternalServerError(w, err.Error())
		return
	}
	WriteNoContent(w)
}

// ExtendRequest is the request body for POST /api/v1/shares/{shareID}/extend.
type ExtendRequest struct {
	AdditionalDays int `json:"additional_days"`
}

// Extend handles POST /api/v1/shares/{shareID}/extend.
func (h *ShareHandler) Extend(w http.ResponseWriter, r *http.Request) {
	shareID := chi.URLParam(r, "shareID")
	if shareID == "" {
		BadRequest(w, "Share id is required")
		return
	}

	var req ExtendRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.AdditionalDays <= 0 {
		BadRequest(w, "additional_days must be positive")
		return
	}

	if err := h.publisher.ExtendShare(r.Context(), shareID, req.AdditionalDays); err != nil {
		InternalServerError(w, err.Error())
		return
	}
	WriteNoContent(w)
}

// RecordAccess handles POST /api/v1/shares/{shareID}/access: a recipient
// checking in against a private share so its commitment's last-used state
// advances (spec.md §4.1's record_access).
func (h *ShareHandler) RecordAccess(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())
	if claims == nil {
		Unauthorized(w, "Authentication required")
		return
	}

	shareID := chi.URLParam(r, "shareID")
	if shareID == "" {
		BadRequest(w, "Share id is required")
		return
	}

	if err := h.publisher.RecordAccess(r.Context(), shareID, claims.UserID); err != nil {
		InternalServerError(w, err.Error())
		return
	}
	WriteNoContent(w)
}

func (h *ShareHandler) fetchShare(w http.ResponseWriter, r *http.Request, shareID string) (storage.Publication, bool) {
	if shareID == "" {
		BadRequest(w, "Share id is required")
		return storage.Publication{}, false
	}
	var pubs []storage.Publication
	if err := h.engine.FetchAll(r.Context(), &pubs, "SELECT * FROM publications WHERE id = ?", shareID); err != nil {
		InternalServerError(w, "Failed to look up share")
		return storage.Publication{}, false
	}
	if len(pubs) != 1 {
		NotFound(w, "Share not found")
		return storage.Publication{}, false
	}
	return pubs[0], true
}
