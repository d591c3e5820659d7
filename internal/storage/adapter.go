package storage

import (
	"context"
	"errors"

	"github.com/relves/groupsync/pkg/groupsync"
	"github.com/relves/groupsync/pkg/types"
)

// ErrNotFound is returned when a group, key or avatar is not mirrored.
var ErrNotFound = errors.New("not found")

// MirrorStore abstracts the local group mirror. It is the sink for
// finished updates and the read side for the HTTP API.
type MirrorStore interface {
	groupsync.Store

	// AddGroup starts mirroring a group. Adding a known group is a no-op.
	AddGroup(ctx context.Context, group *types.GroupAttributes) error
	ListGroups(ctx context.Context) ([]types.GroupID, error)

	// Timeline returns up to limit events for a group in display order,
	// newest last. limit <= 0 returns everything.
	Timeline(ctx context.Context, id types.GroupID, limit int) ([]types.TimelineEntry, error)

	ProfileKey(ctx context.Context, userID string) ([]byte, error)
	Avatar(ctx context.Context, path string) ([]byte, error)
}
