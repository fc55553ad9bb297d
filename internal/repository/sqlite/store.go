package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jaakkos/hangout/internal/clock"
	"github.com/jaakkos/hangout/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS memberships (
	space_id TEXT NOT NULL,
	participant_id TEXT NOT NULL,
	x REAL NOT NULL DEFAULT 0,
	y REAL NOT NULL DEFAULT 0,
	avatar_kind TEXT NOT NULL DEFAULT '',
	joined_at TEXT NOT NULL,
	last_seen TEXT NOT NULL,
	PRIMARY KEY (space_id, participant_id)
);
CREATE TABLE IF NOT EXISTS participants (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT '',
	updated_at TEXT NOT NULL
);
`

const indexes = `
CREATE INDEX IF NOT EXISTS idx_memberships_last_seen ON memberships(last_seen);
`

// Store is the durable session store: one row per (space, participant) plus
// the participant display directory. Writes touch the per-space signal file
// so every process subscribed to that space re-reads its roster.
type Store struct {
	db       *sql.DB
	notifier *Notifier
	clock    clock.Clock
}

// Option configures a Store.
type Option func(*Store)

// WithNotifier attaches the change notifier used by Subscribe and touched on writes.
func WithNotifier(n *Notifier) Option {
	return func(s *Store) { s.notifier = n }
}

// WithClock sets the clock used for joined_at/last_seen stamps.
func WithClock(c clock.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// New opens the SQLite database at path, creating parent dirs and schema.
func New(path string, opts ...Option) (*Store, error) {
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("sqlite mkdir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	if _, err := db.Exec(indexes); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite indexes: %w", err)
	}
	s := &Store{db: db}
	for _, o := range opts {
		o(s)
	}
	s.clock = clock.OrReal(s.clock)
	return s, nil
}

// Close releases the database connection. Call on shutdown for clean exit.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Insert records a join. A second insert for the same (space, participant)
// degrades to a refresh: avatar kind and last_seen change, the committed
// position and joined_at are kept so a reconnect resumes where it left off.
func (s *Store) Insert(ctx context.Context, m domain.Membership) error {
	if err := validateKey(m.SpaceID, m.ParticipantID); err != nil {
		return err
	}
	now := s.clock.Now().UTC()
	joined := m.JoinedAt
	if joined.IsZero() {
		joined = now
	}
	kind := m.AvatarKind
	if kind == "" {
		kind = domain.DefaultAvatarKind
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO memberships (space_id, participant_id, x, y, avatar_kind, joined_at, last_seen)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(space_id, participant_id) DO UPDATE SET
	avatar_kind = excluded.avatar_kind,
	last_seen = excluded.last_seen`,
		string(m.SpaceID), string(m.ParticipantID), m.Position.X, m.Position.Y, string(kind),
		formatTime(joined), formatTime(now))
	if err != nil {
		return fmt.Errorf("insert membership: %w", err)
	}
	s.signal(m.SpaceID)
	return nil
}

// Update commits a position for an existing membership.
func (s *Store) Update(ctx context.Context, space domain.SpaceID, participant domain.ParticipantID, pos domain.Position) error {
	if err := validateKey(space, participant); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		"UPDATE memberships SET x = ?, y = ?, last_seen = ? WHERE space_id = ? AND participant_id = ?",
		pos.X, pos.Y, formatTime(s.clock.Now().UTC()), string(space), string(participant))
	if err != nil {
		return fmt.Errorf("update membership: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update %s/%s: %w", space, participant, domain.ErrNoMembership)
	}
	s.signal(space)
	return nil
}

// Delete removes a membership. Deleting a missing row is not an error.
func (s *Store) Delete(ctx context.Context, space domain.SpaceID, participant domain.ParticipantID) error {
	if err := validateKey(space, participant); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM memberships WHERE space_id = ? AND participant_id = ?",
		string(space), string(participant)); err != nil {
		return fmt.Errorf("delete membership: %w", err)
	}
	s.signal(space)
	return nil
}

// Touch refreshes last_seen without signalling a roster change.
func (s *Store) Touch(ctx context.Context, space domain.SpaceID, participant domain.ParticipantID) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE memberships SET last_seen = ? WHERE space_id = ? AND participant_id = ?",
		formatTime(s.clock.Now().UTC()), string(space), string(participant))
	if err != nil {
		return fmt.Errorf("touch membership: %w", err)
	}
	return nil
}

// Query returns every membership of a space ordered by join time.
func (s *Store) Query(ctx context.Context, space domain.SpaceID) ([]domain.Membership, error) {
	if space == "" {
		return nil, domain.ErrInvalidSpace
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT participant_id, x, y, avatar_kind, joined_at, last_seen FROM memberships WHERE space_id = ? ORDER BY joined_at, participant_id",
		string(space))
	if err != nil {
		return nil, fmt.Errorf("memberships: %w", err)
	}
	defer rows.Close()
	var out []domain.Membership
	for rows.Next() {
		m := domain.Membership{SpaceID: space}
		var pid, kind, joined, seen string
		if err := rows.Scan(&pid, &m.Position.X, &m.Position.Y, &kind, &joined, &seen); err != nil {
			return nil, err
		}
		m.ParticipantID = domain.ParticipantID(pid)
		m.AvatarKind = domain.AvatarKind(kind)
		if m.JoinedAt, err = parseTime(joined, "memberships joined_at"); err != nil {
			return nil, err
		}
		if m.LastSeen, err = parseTime(seen, "memberships last_seen"); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("memberships iteration: %w", err)
	}
	return out, nil
}

// PruneStale deletes memberships not seen since cutoff and signals every
// affected space. Returns the number of rows removed.
func (s *Store) PruneStale(ctx context.Context, cutoff time.Time) (int, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT DISTINCT space_id FROM memberships WHERE last_seen < ?", formatTime(cutoff.UTC()))
	if err != nil {
		return 0, fmt.Errorf("stale spaces: %w", err)
	}
	var spaces []domain.SpaceID
	for rows.Next() {
		var sp string
		if err := rows.Scan(&sp); err != nil {
			_ = rows.Close()
			return 0, err
		}
		spaces = append(spaces, domain.SpaceID(sp))
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("stale spaces iteration: %w", err)
	}
	if len(spaces) == 0 {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx, "DELETE FROM memberships WHERE last_seen < ?", formatTime(cutoff.UTC()))
	if err != nil {
		return 0, fmt.Errorf("prune memberships: %w", err)
	}
	n, _ := res.RowsAffected()
	for _, sp := range spaces {
		s.signal(sp)
	}
	return int(n), nil
}

// UpsertParticipant records display metadata for a participant.
func (s *Store) UpsertParticipant(ctx context.Context, id domain.ParticipantID, info domain.DisplayInfo) error {
	if id == "" {
		return domain.ErrInvalidParticipant
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO participants (id, name, status, updated_at) VALUES (?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET name = excluded.name, status = excluded.status, updated_at = excluded.updated_at`,
		string(id), info.Name, info.Status, formatTime(s.clock.Now().UTC()))
	if err != nil {
		return fmt.Errorf("upsert participant: %w", err)
	}
	return nil
}

// LookupDisplayInfo returns display metadata for the given ids in one query.
// Unknown ids are absent from the result.
func (s *Store) LookupDisplayInfo(ctx context.Context, ids []domain.ParticipantID) (map[domain.ParticipantID]domain.DisplayInfo, error) {
	out := make(map[domain.ParticipantID]domain.DisplayInfo, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = string(id)
	}
	query := "SELECT id, name, status FROM participants WHERE id IN (" + placeholders(len(ids)) + ")"
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("participants: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		var info domain.DisplayInfo
		if err := rows.Scan(&id, &info.Name, &info.Status); err != nil {
			return nil, err
		}
		out[domain.ParticipantID(id)] = info
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("participants iteration: %w", err)
	}
	return out, nil
}

// Subscribe registers onChange for change notifications on space.
func (s *Store) Subscribe(space domain.SpaceID, onChange func()) (func(), error) {
	if s.notifier == nil {
		return nil, errors.New("sqlite store: no change notifier configured")
	}
	if space == "" {
		return nil, domain.ErrInvalidSpace
	}
	return s.notifier.Subscribe(space, onChange), nil
}

func (s *Store) signal(space domain.SpaceID) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Touch(space); err != nil {
		s.notifier.logger.Printf("Store: signal %s: %v", space, err)
	}
}

func validateKey(space domain.SpaceID, participant domain.ParticipantID) error {
	if space == "" {
		return domain.ErrInvalidSpace
	}
	if participant == "" {
		return domain.ErrInvalidParticipant
	}
	return nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// timeLayout is fixed width so stored timestamps compare lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// parseTime parses RFC3339Nano or returns zero time and error.
func parseTime(s, context string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: parse timestamp %q: %w", context, s, err)
	}
	return t, nil
}
