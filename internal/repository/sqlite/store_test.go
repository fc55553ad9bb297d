package sqlite

import (
	"bytes"
	"context"
	"log"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaakkos/hangout/internal/clock"
	"github.com/jaakkos/hangout/internal/domain"
)

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "state.sqlite"), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStoreInsertQuery(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fake := clock.Fake(start)
	store := newTestStore(t, WithClock(fake))

	require.NoError(t, store.Insert(ctx, domain.Membership{SpaceID: "s1", ParticipantID: "a", Position: domain.Position{X: 100, Y: 100}}))
	fake.Advance(time.Second)
	require.NoError(t, store.Insert(ctx, domain.Membership{SpaceID: "s1", ParticipantID: "b", AvatarKind: "cat"}))
	require.NoError(t, store.Insert(ctx, domain.Membership{SpaceID: "s2", ParticipantID: "c"}))

	got, err := store.Query(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, domain.ParticipantID("a"), got[0].ParticipantID)
	assert.Equal(t, domain.ParticipantID("b"), got[1].ParticipantID)
	assert.Equal(t, domain.Position{X: 100, Y: 100}, got[0].Position)
	assert.Equal(t, domain.DefaultAvatarKind, got[0].AvatarKind)
	assert.Equal(t, domain.AvatarKind("cat"), got[1].AvatarKind)
	assert.True(t, got[0].JoinedAt.Equal(start), "joined_at = %v", got[0].JoinedAt)
}

func TestStoreInsertTwiceKeepsOneRow(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	m := domain.Membership{SpaceID: "s1", ParticipantID: "a", Position: domain.Position{X: 10, Y: 10}}
	require.NoError(t, store.Insert(ctx, m))
	require.NoError(t, store.Update(ctx, "s1", "a", domain.Position{X: 300, Y: 150}))
	m.AvatarKind = "fox"
	require.NoError(t, store.Insert(ctx, m), "second insert degrades to a refresh")

	got, err := store.Query(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, domain.Position{X: 300, Y: 150}, got[0].Position, "rejoin keeps the committed position")
	assert.Equal(t, domain.AvatarKind("fox"), got[0].AvatarKind)
}

func TestStoreUpdateMissingRow(t *testing.T) {
	store := newTestStore(t)
	err := store.Update(context.Background(), "s1", "ghost", domain.Position{})
	assert.ErrorIs(t, err, domain.ErrNoMembership)
}

func TestStoreDelete(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.Insert(ctx, domain.Membership{SpaceID: "s1", ParticipantID: "a"}))
	require.NoError(t, store.Delete(ctx, "s1", "a"))
	assert.NoError(t, store.Delete(ctx, "s1", "a"), "deleting a missing row")

	got, err := store.Query(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestStoreValidation(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	assert.ErrorIs(t, store.Insert(ctx, domain.Membership{ParticipantID: "a"}), domain.ErrInvalidSpace)
	assert.ErrorIs(t, store.Delete(ctx, "s1", ""), domain.ErrInvalidParticipant)
	_, err := store.Query(ctx, "")
	assert.ErrorIs(t, err, domain.ErrInvalidSpace)
}

func TestStorePruneStale(t *testing.T) {
	ctx := context.Background()
	fake := clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	store := newTestStore(t, WithClock(fake))
	require.NoError(t, store.Insert(ctx, domain.Membership{SpaceID: "s1", ParticipantID: "old"}))
	fake.Advance(500 * time.Millisecond)
	require.NoError(t, store.Insert(ctx, domain.Membership{SpaceID: "s1", ParticipantID: "fresh"}))
	fake.Advance(10 * time.Minute)
	require.NoError(t, store.Touch(ctx, "s1", "fresh"))

	n, err := store.PruneStale(ctx, fake.Now().Add(-5*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := store.Query(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, domain.ParticipantID("fresh"), got[0].ParticipantID)
}

func TestStoreDisplayDirectory(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.UpsertParticipant(ctx, "a", domain.DisplayInfo{Name: "Ann", Status: "online"}))
	require.NoError(t, store.UpsertParticipant(ctx, "b", domain.DisplayInfo{Name: "Bo"}))
	require.NoError(t, store.UpsertParticipant(ctx, "a", domain.DisplayInfo{Name: "Ann", Status: "away"}))

	info, err := store.LookupDisplayInfo(ctx, []domain.ParticipantID{"a", "b", "missing"})
	require.NoError(t, err)
	require.Len(t, info, 2)
	assert.Equal(t, "away", info["a"].Status)
	assert.Equal(t, "Bo", info["b"].Name)

	empty, err := store.LookupDisplayInfo(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestStoreSubscribeWithoutNotifier(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Subscribe("s1", func() {})
	assert.Error(t, err)
}

func TestStoreLogsSignalFailure(t *testing.T) {
	ctx := context.Background()
	// A regular file where the signal dir should be makes every signal
	// write fail.
	blocker := filepath.Join(t.TempDir(), "signals")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))

	var buf bytes.Buffer
	n := NewNotifier(blocker, log.New(&buf, "", 0), WithDebounce(0))
	store := newTestStore(t, WithNotifier(n))
	var fired int32
	cancel, err := store.Subscribe("s1", func() { atomic.AddInt32(&fired, 1) })
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, store.Insert(ctx, domain.Membership{SpaceID: "s1", ParticipantID: "a"}), "the row is written even if the signal is not")
	assert.Contains(t, buf.String(), "Store: signal s1")
	assert.Equal(t, int32(1), atomic.LoadInt32(&fired), "same-process subscribers still hear the write")
}

func TestStoreClose(t *testing.T) {
	store, err := New(filepath.Join(t.TempDir(), "closed.sqlite"))
	require.NoError(t, err)
	assert.NoError(t, store.Close())
	assert.NoError(t, store.Close(), "second Close")
}
