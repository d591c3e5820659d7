package server

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/relves/groupsync/internal/storage"
	"github.com/relves/groupsync/pkg/groupcrypto"
	"github.com/relves/groupsync/pkg/groupsync"
	"github.com/relves/groupsync/pkg/types"
)

const (
	defaultTimelineLimit = 100
	maxChangeSize        = 1 << 20
)

// HTTPHandler handles the group mirror endpoints.
type HTTPHandler struct {
	store   storage.MirrorStore
	updater Updater
	logger  *slog.Logger
}

// NewHTTPHandler creates a new HTTP handler.
func NewHTTPHandler(store storage.MirrorStore, updater Updater, logger *slog.Logger) *HTTPHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPHandler{
		store:   store,
		updater: updater,
		logger:  logger,
	}
}

type errorResponse struct {
	Code  string `json:"code,omitempty"`
	Error string `json:"error"`
}

// GroupSummary is one row of GET /groups.
type GroupSummary struct {
	ID       types.GroupID `json:"id"`
	Revision *uint32       `json:"revision,omitempty"`
	Name     string        `json:"name,omitempty"`
	Members  int           `json:"members"`
	Pending  int           `json:"pending"`
	Left     bool          `json:"left"`
}

// GroupResponse is the response for GET /groups/{id}. Secret params are
// never exposed.
type GroupResponse struct {
	ID             types.GroupID         `json:"id"`
	Revision       *uint32               `json:"revision,omitempty"`
	Name           string                `json:"name,omitempty"`
	Avatar         *types.Avatar         `json:"avatar,omitempty"`
	ExpireTimer    uint32                `json:"expire_timer,omitempty"`
	AccessControl  *types.AccessControl  `json:"access_control,omitempty"`
	Members        []types.Member        `json:"members"`
	PendingMembers []types.PendingMember `json:"pending_members"`
	BannedMembers  []types.BannedMember  `json:"banned_members"`
	Left           bool                  `json:"left"`
	AddedBy        string                `json:"added_by,omitempty"`
}

// AddGroupRequest is the body of POST /groups.
type AddGroupRequest struct {
	// MasterKey is the group master key, base64 encoded.
	MasterKey string `json:"master_key"`
}

// AddGroupResponse is the response for POST /groups.
type AddGroupResponse struct {
	ID types.GroupID `json:"id"`
}

// UpdateResponse is the response for POST /groups/{id}/update.
type UpdateResponse struct {
	Status   string  `json:"status"`
	Revision *uint32 `json:"revision,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// HandleListGroups handles GET /groups.
func (h *HTTPHandler) HandleListGroups(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ids, err := h.store.ListGroups(ctx)
	if err != nil {
		h.logger.Error("failed to list groups", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list groups")
		return
	}

	summaries := make([]GroupSummary, 0, len(ids))
	for _, id := range ids {
		group, err := h.store.LoadGroup(ctx, id)
		if err != nil {
			h.logger.Error("failed to load group", "group", id, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to load group")
			return
		}
		summaries = append(summaries, GroupSummary{
			ID:       group.ID,
			Revision: group.Revision,
			Name:     group.Name,
			Members:  group.MembersV2.Len(),
			Pending:  group.PendingMembersV2.Len(),
			Left:     group.Left,
		})
	}
	writeJSON(w, http.StatusOK, summaries)
}

// HandleAddGroup handles POST /groups. The group is derived from its master
// key, stored unfetched and queued for a first update.
func (h *HTTPHandler) HandleAddGroup(w http.ResponseWriter, r *http.Request) {
	var req AddGroupRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxChangeSize)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	masterKey, err := base64.StdEncoding.DecodeString(req.MasterKey)
	if err != nil {
		writeError(w, http.StatusBadRequest, "master_key must be base64")
		return
	}
	fields, err := groupcrypto.DeriveGroupFields(masterKey)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	group := &types.GroupAttributes{
		ID:           fields.ID,
		SecretParams: fields.SecretParams,
		PublicParams: fields.PublicParams,
	}
	if err := h.store.AddGroup(r.Context(), group); err != nil {
		h.logger.Error("failed to add group", "group", group.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to add group")
		return
	}
	h.updater.RequestGroupUpdate(r.Context(), group.ID, groupsync.UpdateOptions{})

	writeJSON(w, http.StatusCreated, AddGroupResponse{ID: group.ID})
}

// HandleGetGroup handles GET /groups/{id}.
func (h *HTTPHandler) HandleGetGroup(w http.ResponseWriter, r *http.Request) {
	group, ok := h.loadGroup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, GroupResponse{
		ID:             group.ID,
		Revision:       group.Revision,
		Name:           group.Name,
		Avatar:         group.Avatar,
		ExpireTimer:    group.ExpireTimer,
		AccessControl:  group.AccessControl,
		Members:        nonNil(group.MembersV2.Values()),
		PendingMembers: nonNil(group.PendingMembersV2.Values()),
		BannedMembers:  nonNil(group.BannedMembersV2.Values()),
		Left:           group.Left,
		AddedBy:        group.AddedBy,
	})
}

// HandleTimeline handles GET /groups/{id}/timeline?limit=N.
func (h *HTTPHandler) HandleTimeline(w http.ResponseWriter, r *http.Request) {
	group, ok := h.loadGroup(w, r)
	if !ok {
		return
	}

	limit := defaultTimelineLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	entries, err := h.store.Timeline(r.Context(), group.ID, limit)
	if err != nil {
		h.logger.Error("failed to read timeline", "group", group.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read timeline")
		return
	}
	writeJSON(w, http.StatusOK, nonNil(entries))
}

// HandleUpdate handles POST /groups/{id}/update.
//
// The optional body is an encoded change (application/cbor). Query
// parameters: revision (target revision), sent_at (unix milliseconds) and
// drop_join. The handler waits for the update to finish unless the client
// goes away first, in which case the update still runs.
func (h *HTTPHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	group, ok := h.loadGroup(w, r)
	if !ok {
		return
	}

	opts, err := updateOptions(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	done := h.updater.RequestGroupUpdate(r.Context(), group.ID, opts)
	select {
	case <-done:
	case <-r.Context().Done():
		return
	}

	updated, err := h.store.LoadGroup(r.Context(), group.ID)
	if err != nil {
		h.logger.Error("failed to reload group", "group", group.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to reload group")
		return
	}
	writeJSON(w, http.StatusOK, UpdateResponse{Status: "done", Revision: updated.Revision})
}

func updateOptions(r *http.Request) (groupsync.UpdateOptions, error) {
	var opts groupsync.UpdateOptions
	q := r.URL.Query()

	if v := q.Get("revision"); v != "" {
		rev, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return opts, errors.New("revision must be an unsigned 32-bit integer")
		}
		opts.TargetRevision = types.Uint32(uint32(rev))
	}
	if v := q.Get("sent_at"); v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return opts, errors.New("sent_at must be unix milliseconds")
		}
		opts.SentAt = time.UnixMilli(ms)
	}
	if v := q.Get("drop_join"); v != "" {
		drop, err := strconv.ParseBool(v)
		if err != nil {
			return opts, errors.New("drop_join must be a boolean")
		}
		opts.DropInitialJoinMessage = drop
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxChangeSize+1))
	if err != nil {
		return opts, errors.New("failed to read body")
	}
	if len(body) > maxChangeSize {
		return opts, errors.New("change too large")
	}
	if len(body) > 0 {
		opts.ChangeBlob = body
	}
	return opts, nil
}

// HandleAvatar handles GET /avatars/{hash}.
func (h *HTTPHandler) HandleAvatar(w http.ResponseWriter, r *http.Request) {
	hash := r.PathValue("hash")
	if !groupsync.ValidHash(hash) {
		writeError(w, http.StatusBadRequest, "invalid avatar hash")
		return
	}

	data, err := h.store.Avatar(r.Context(), groupsync.AvatarPath(hash))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "avatar not found")
			return
		}
		h.logger.Error("failed to read avatar", "hash", hash, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read avatar")
		return
	}

	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.Write(data)
}

func (h *HTTPHandler) loadGroup(w http.ResponseWriter, r *http.Request) (*types.GroupAttributes, bool) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "id required")
		return nil, false
	}
	group, err := h.store.LoadGroup(r.Context(), types.GroupID(id))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "group not found")
			return nil, false
		}
		h.logger.Error("failed to load group", "group", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load group")
		return nil, false
	}
	return group, true
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
