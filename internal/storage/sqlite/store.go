package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/relves/groupsync/internal/storage"
	"github.com/relves/groupsync/pkg/types"
)

//go:embed schema.sql
var schemaSQL string

// GroupStore is the sqlite mirror for one local account.
type GroupStore struct {
	db        *sql.DB
	accountID string
	dbPath    string
	logger    *slog.Logger
}

// StoreOption configures a GroupStore.
type StoreOption func(*GroupStore)

// WithLogger sets the store's logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *GroupStore) {
		if l != nil {
			s.logger = l
		}
	}
}

// OpenGroupStore opens or creates the database for accountID under basePath.
func OpenGroupStore(basePath, accountID string, opts ...StoreOption) (*GroupStore, error) {
	if accountID == "" {
		return nil, errors.New("account id is required")
	}
	dir := filepath.Join(basePath, "accounts", accountID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create account directory: %w", err)
	}

	dbPath := filepath.Join(dir, "groups.db")
	db, err := sql.Open("sqlite", dbPath+
		"?_pragma=journal_mode(WAL)"+
		"&_pragma=foreign_keys(ON)"+
		"&_pragma=busy_timeout(5000)"+
		"&_pragma=synchronous(NORMAL)"+
		"&_pragma=wal_autocheckpoint(1000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite handles concurrent writers poorly
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	s := &GroupStore{
		db:        db,
		accountID: accountID,
		dbPath:    dbPath,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *GroupStore) Close() error {
	return s.db.Close()
}

func (s *GroupStore) AccountID() string {
	return s.accountID
}

func (s *GroupStore) DBPath() string {
	return s.dbPath
}

var ErrNotFound = storage.ErrNotFound

func nullRevision(r *uint32) sql.NullInt64 {
	if r == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*r), Valid: true}
}

func jsonGroup(group *types.GroupAttributes) (string, error) {
	data, err := json.Marshal(group)
	if err != nil {
		return "", fmt.Errorf("encode group %s: %w", group.ID, err)
	}
	return string(data), nil
}

// AddGroup inserts group unless a row for its ID already exists.
func (s *GroupStore) AddGroup(ctx context.Context, group *types.GroupAttributes) error {
	data, err := jsonGroup(group)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO groups (group_id, revision, attributes, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(group_id) DO NOTHING`,
		string(group.ID), nullRevision(group.Revision), data, now, now)
	return err
}

// LoadGroup returns the mirrored attributes for id.
func (s *GroupStore) LoadGroup(ctx context.Context, id types.GroupID) (*types.GroupAttributes, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT attributes FROM groups WHERE group_id = ?`,
		string(id)).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("group %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	var group types.GroupAttributes
	if err := json.Unmarshal([]byte(data), &group); err != nil {
		return nil, fmt.Errorf("decode group %s: %w", id, err)
	}
	return &group, nil
}

// ListGroups returns every mirrored group ID in insertion order.
func (s *GroupStore) ListGroups(ctx context.Context) ([]types.GroupID, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT group_id FROM groups ORDER BY rowid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []types.GroupID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, types.GroupID(id))
	}
	return ids, rows.Err()
}

// Timeline returns the most recent limit events for id, oldest first.
func (s *GroupStore) Timeline(ctx context.Context, id types.GroupID, limit int) ([]types.TimelineEntry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, detail, sent_at, received_at FROM (
		   SELECT rowid, id, kind, detail, sent_at, received_at FROM timeline
		   WHERE group_id = ?
		   ORDER BY sent_at DESC, rowid DESC
		   LIMIT ?
		 ) ORDER BY sent_at, rowid`,
		string(id), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []types.TimelineEntry
	for rows.Next() {
		var (
			entryID, kind, detail string
			sentAt, receivedAt    int64
		)
		if err := rows.Scan(&entryID, &kind, &detail, &sentAt, &receivedAt); err != nil {
			return nil, err
		}
		ev, err := types.DeserializeEvent(types.EventKind(kind), []byte(detail))
		if err != nil {
			s.logger.Warn("skipping unreadable timeline entry", "group", string(id), "id", entryID, "kind", kind, "error", err)
			continue
		}
		entries = append(entries, types.TimelineEntry{
			ID:         entryID,
			GroupID:    id,
			Event:      ev,
			SentAt:     time.UnixMilli(sentAt),
			ReceivedAt: time.UnixMilli(receivedAt),
		})
	}
	return entries, rows.Err()
}

// ProfileKey returns the stored profile key for userID.
func (s *GroupStore) ProfileKey(ctx context.Context, userID string) ([]byte, error) {
	var key []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT profile_key FROM profile_keys WHERE user_id = ?`,
		userID).Scan(&key)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return key, err
}

// Avatar returns the stored image at path.
func (s *GroupStore) Avatar(ctx context.Context, path string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM avatars WHERE path = ?`,
		path).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return data, err
}
