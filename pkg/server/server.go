// Package server exposes the local group mirror over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/relves/groupsync/pkg/groupsync"
	"github.com/relves/groupsync/pkg/types"
)

// Updater queues group updates. *groupsync.Orchestrator implements it.
type Updater interface {
	RequestGroupUpdate(ctx context.Context, id types.GroupID, opts groupsync.UpdateOptions) <-chan struct{}
}

var _ Updater = (*groupsync.Orchestrator)(nil)

// NewServer returns the HTTP handler for the group mirror API.
//
// Routes:
//
//	GET  /groups
//	POST /groups
//	GET  /groups/{id}
//	GET  /groups/{id}/timeline
//	POST /groups/{id}/update
//	GET  /avatars/{hash}
func NewServer(opts ...Option) (http.Handler, error) {
	cfg := applyOptions(opts...)

	if cfg.Store == nil {
		return nil, errors.New("store is required")
	}
	if cfg.Updater == nil {
		return nil, errors.New("updater is required")
	}

	h := NewHTTPHandler(cfg.Store, cfg.Updater, cfg.Logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /groups", h.HandleListGroups)
	mux.HandleFunc("POST /groups", h.HandleAddGroup)
	mux.HandleFunc("GET /groups/{id}", h.HandleGetGroup)
	mux.HandleFunc("GET /groups/{id}/timeline", h.HandleTimeline)
	mux.HandleFunc("POST /groups/{id}/update", h.HandleUpdate)
	mux.HandleFunc("GET /avatars/{hash}", h.HandleAvatar)

	if cfg.Validator == nil {
		return mux, nil
	}
	return validate(cfg.Validator, mux), nil
}

func validate(v RequestValidator, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := v.ValidateRequest(r); err != nil {
			var verr *ValidationError
			if errors.As(err, &verr) {
				status := verr.Status
				if status == 0 {
					status = http.StatusForbidden
				}
				writeJSON(w, status, errorResponse{Code: verr.Code, Error: verr.Message})
				return
			}
			writeJSON(w, http.StatusForbidden, errorResponse{Error: err.Error()})
			return
		}
		next.ServeHTTP(w, r)
	})
}
