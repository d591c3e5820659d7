package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/relves/groupsync/internal/storage"
	"github.com/relves/groupsync/pkg/groupsync"
	"github.com/relves/groupsync/pkg/types"
)

// Ensure GroupStore implements MirrorStore at compile time.
var _ storage.MirrorStore = (*GroupStore)(nil)

// SaveUpdate persists a finished update in one transaction: the new
// attributes, the stamped timeline, any first-seen profile keys and the
// avatar images still referenced.
// Implements groupsync.Store.
func (s *GroupStore) SaveUpdate(ctx context.Context, update *groupsync.Update) error {
	data, err := jsonGroup(update.Attributes)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339)
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO groups (group_id, revision, attributes, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(group_id) DO UPDATE SET
		   revision = excluded.revision,
		   attributes = excluded.attributes,
		   updated_at = excluded.updated_at`,
		string(update.GroupID), nullRevision(update.Attributes.Revision), data, now, now); err != nil {
		return fmt.Errorf("save group: %w", err)
	}

	if len(update.Timeline) > 0 {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO timeline (id, group_id, kind, detail, sent_at, received_at)
			 VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, entry := range update.Timeline {
			kind, detail, err := types.SerializeEvent(entry.Event)
			if err != nil {
				return fmt.Errorf("encode %T: %w", entry.Event, err)
			}
			if _, err := stmt.ExecContext(ctx,
				entry.ID, string(update.GroupID), string(kind), string(detail),
				entry.SentAt.UnixMilli(), entry.ReceivedAt.UnixMilli()); err != nil {
				return fmt.Errorf("save timeline entry: %w", err)
			}
		}
	}

	for _, pk := range update.ProfileKeys {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO profile_keys (user_id, profile_key, created_at) VALUES (?, ?, ?)
			 ON CONFLICT(user_id) DO NOTHING`,
			pk.ID, pk.ProfileKey, now); err != nil {
			return fmt.Errorf("save profile key: %w", err)
		}
	}

	for _, avatar := range update.Avatars {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO avatars (path, data, created_at) VALUES (?, ?, ?)
			 ON CONFLICT(path) DO NOTHING`,
			avatar.Path, avatar.Data, now); err != nil {
			return fmt.Errorf("save avatar: %w", err)
		}
	}

	return tx.Commit()
}
