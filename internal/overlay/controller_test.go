package overlay

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaakkos/hangout/internal/clock"
	"github.com/jaakkos/hangout/internal/domain"
)

type fakeLink struct {
	mu        sync.Mutex
	capture   []bool
	snapshots int
}

func (l *fakeLink) RequestCaptureMode(ignore bool) {
	l.mu.Lock()
	l.capture = append(l.capture, ignore)
	l.mu.Unlock()
}

func (l *fakeLink) RequestRosterSnapshot() {
	l.mu.Lock()
	l.snapshots++
	l.mu.Unlock()
}

func (l *fakeLink) counts() ([]bool, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]bool(nil), l.capture...), l.snapshots
}

var area = domain.Bounds{Width: 1280, Height: 800}

func roster(space domain.SpaceID, local domain.ParticipantID, ids ...domain.ParticipantID) domain.Roster {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	members := make([]domain.Member, 0, len(ids))
	for i, id := range ids {
		members = append(members, domain.Member{Membership: domain.Membership{
			SpaceID:       space,
			ParticipantID: id,
			Position:      domain.Position{X: 100, Y: 100},
			JoinedAt:      t0.Add(time.Duration(i) * time.Second),
		}})
	}
	return domain.NewRoster(space, local, members)
}

func newController(t *testing.T, platform *HeadlessPlatform) (*Controller, *fakeLink, *clock.FakeClock) {
	t.Helper()
	clk := clock.Fake(time.Unix(0, 0))
	c := NewController(Config{Platform: platform, Clock: clk, PersistencePresence: true})
	link := &fakeLink{}
	c.Attach(link)
	t.Cleanup(c.CloseSurface)
	return c, link, clk
}

func TestEnsureSurfaceIsIdempotent(t *testing.T) {
	platform := NewHeadlessPlatform(area)
	c, link, _ := newController(t, platform)

	require.NoError(t, c.EnsureSurface(roster("s1", "a", "a")))
	require.NoError(t, c.EnsureSurface(roster("s1", "a", "a", "b")))

	require.Len(t, platform.Created(), 1, "a second ensure must not recreate the surface")
	assert.ElementsMatch(t, []domain.ParticipantID{"a", "b"}, c.Stage().Participants())

	_, snapshots := link.counts()
	assert.Equal(t, 1, snapshots, "a new surface pulls the roster once on mount")
}

func TestSurfaceDefaults(t *testing.T) {
	platform := NewHeadlessPlatform(area)
	c, _, _ := newController(t, platform)
	require.NoError(t, c.EnsureSurface(roster("s1", "a", "a")))

	s := platform.Created()[0]
	assert.True(t, s.Options.IgnorePointer)
	assert.True(t, s.Options.Transparent)
	assert.True(t, s.Options.AlwaysOnTop)
	assert.True(t, s.Options.Borderless)
	assert.Equal(t, area, s.Options.Bounds)
	assert.True(t, c.CaptureMode())
}

func TestCaptureFollowsDragAndHover(t *testing.T) {
	platform := NewHeadlessPlatform(area)
	c, link, clk := newController(t, platform)
	require.NoError(t, c.EnsureSurface(roster("s1", "a", "a", "b")))
	stage := c.Stage()

	require.NoError(t, stage.HoverEnter("b"))
	assert.False(t, c.CaptureMode())
	require.NoError(t, stage.HoverLeave("b"))
	clk.Advance(DefaultHoverRelease)
	assert.True(t, c.CaptureMode())

	ignore, forward := platform.Created()[0].IgnoresPointer()
	assert.True(t, ignore)
	assert.True(t, forward, "forward policy keeps hover detection while click-through")

	capture, _ := link.counts()
	assert.Equal(t, []bool{true, false, true}, capture)
}

func TestTogglePolicyDoesNotForward(t *testing.T) {
	platform := NewHeadlessPlatform(area)
	c := NewController(Config{Platform: platform, Policy: PolicyToggle, Clock: clock.Fake(time.Unix(0, 0))})
	t.Cleanup(c.CloseSurface)
	require.NoError(t, c.EnsureSurface(roster("s1", "a", "a")))
	require.NoError(t, c.SetCaptureMode(true))

	_, forward := platform.Created()[0].IgnoresPointer()
	assert.False(t, forward)
	assert.False(t, platform.Created()[0].Options.ForwardPointer)
}

func TestSurfaceCreationFailureIsContained(t *testing.T) {
	platform := NewHeadlessPlatform(area)
	platform.CreateErr = errors.New("no compositor")
	c, _, _ := newController(t, platform)

	err := c.EnsureSurface(roster("s1", "a", "a"))
	assert.ErrorIs(t, err, domain.ErrSurfaceUnavailable)
	assert.False(t, c.HasSurface())
	assert.False(t, c.ApplyRoster(roster("s1", "a", "a")))
	assert.ErrorIs(t, c.SetCaptureMode(false), domain.ErrSurfaceUnavailable)
}

func TestCloseSurfaceTearsDown(t *testing.T) {
	platform := NewHeadlessPlatform(area)
	c, _, _ := newController(t, platform)
	require.NoError(t, c.EnsureSurface(roster("s1", "a", "a")))
	require.NoError(t, c.Stage().PointerDown("a", domain.Position{X: 100, Y: 100}))
	assert.False(t, c.CaptureMode())

	c.CloseSurface()
	c.CloseSurface()
	assert.False(t, c.HasSurface())
	assert.Nil(t, c.Stage())
	assert.True(t, c.CaptureMode())
	assert.True(t, platform.Created()[0].Closed())

	require.NoError(t, c.EnsureSurface(roster("s1", "a", "a")))
	assert.Len(t, platform.Created(), 2, "rejoin after close gets a fresh surface")
}

func TestEnsureSurfaceForOtherSpaceReplaces(t *testing.T) {
	platform := NewHeadlessPlatform(area)
	c, _, _ := newController(t, platform)
	require.NoError(t, c.EnsureSurface(roster("s1", "a", "a")))
	require.NoError(t, c.EnsureSurface(roster("s2", "a", "a")))

	created := platform.Created()
	require.Len(t, created, 2)
	assert.True(t, created[0].Closed())
	assert.Equal(t, domain.SpaceID("s2"), c.Stage().Space())
}

func TestEnsureSurfaceRequiresSpace(t *testing.T) {
	c, _, _ := newController(t, NewHeadlessPlatform(area))
	assert.ErrorIs(t, c.EnsureSurface(domain.Roster{}), domain.ErrInvalidSpace)
}
