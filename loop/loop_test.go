package loop_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-stepseq/loop"
)

func TestEventsAtIsPeriodic(t *testing.T) {
	l := loop.MustNew(5, "p", "a", "b")
	require.NoError(t, l.Set("a", 0, 60))
	require.NoError(t, l.Set("a", 3, 64))
	require.NoError(t, l.Set("b", 3, 40))

	for n := int64(0); n < 40; n++ {
		assert.Equal(t, l.EventsAt(n), l.EventsAt(n+int64(l.Length())), "step %d", n)
	}
	assert.Equal(t, []int{64, 40}, l.EventsAt(3), "track order")
	assert.Equal(t, []int{64, 40}, l.EventsAt(-2))
	assert.Empty(t, l.EventsAt(1))
}

func TestSetLengthDropsStepsAndResetsHead(t *testing.T) {
	l := loop.MustNew(8, "", "a", "b")
	for step := 0; step < 8; step++ {
		require.NoError(t, l.Set("a", step, 50+step))
	}
	require.NoError(t, l.Set("b", 7, 30))
	l.SetPlayerHead(6)

	require.NoError(t, l.SetLength(4))
	assert.Equal(t, 4, l.Length())
	assert.Equal(t, -1, l.PlayerHead())
	for _, name := range l.TrackNames() {
		for step := 4; step < 8; step++ {
			_, ok := l.Note(name, step)
			assert.False(t, ok, "%s step %d survived", name, step)
		}
	}
	v, ok := l.Note("a", 3)
	require.True(t, ok)
	assert.Equal(t, 53, v)

	// growing keeps what is left
	require.NoError(t, l.SetLength(16))
	v, ok = l.Note("a", 3)
	require.True(t, ok)
	assert.Equal(t, 53, v)
}

func TestSetLengthRejectsNonPositive(t *testing.T) {
	l := loop.MustNew(4, "")
	require.NoError(t, l.Set(loop.PlaceholderTrack, 3, 1))
	assert.ErrorIs(t, l.SetLength(0), loop.ErrInvalidLength)
	assert.ErrorIs(t, l.SetLength(-3), loop.ErrInvalidLength)
	assert.Equal(t, 4, l.Length())
	_, ok := l.Note(loop.PlaceholderTrack, 3)
	assert.True(t, ok)
}

func TestDeletingLastTrackLeavesPlaceholder(t *testing.T) {
	l := loop.MustNew(4, "", "only")
	require.NoError(t, l.DeleteTrack("only"))
	assert.Equal(t, []string{"new track"}, l.TrackNames())

	require.NoError(t, l.DeleteTrack("new track"))
	assert.Equal(t, []string{"new track"}, l.TrackNames())

	assert.ErrorIs(t, l.DeleteTrack("missing"), loop.ErrNoSuchTrack)
}

func TestNewWithoutTracksHasPlaceholder(t *testing.T) {
	l, err := loop.New(8, "")
	require.NoError(t, err)
	assert.Equal(t, []string{loop.PlaceholderTrack}, l.TrackNames())
	assert.Equal(t, loop.DefaultTitle, l.Title())
	assert.Equal(t, -1, l.PlayerHead())

	_, err = loop.New(0, "")
	assert.ErrorIs(t, err, loop.ErrInvalidLength)
}

func TestAddTrackAppendsSuffixOnCollision(t *testing.T) {
	l := loop.MustNew(4, "", "x")
	assert.Equal(t, "x+", l.AddTrack("x"))
	assert.Equal(t, "x++", l.AddTrack("x"))
	assert.Equal(t, []string{"x", "x+", "x++"}, l.TrackNames())

	dup := loop.MustNew(4, "", "x", "x")
	assert.Equal(t, []string{"x", "x+"}, dup.TrackNames())
}

func TestRenameTrackKeepsPositionAndNotes(t *testing.T) {
	l := loop.MustNew(4, "", "a", "b", "c")
	require.NoError(t, l.Set("b", 1, 70))

	name, err := l.RenameTrack("b", "c")
	require.NoError(t, err)
	assert.Equal(t, "c+", name)
	assert.Equal(t, []string{"a", "c+", "c"}, l.TrackNames())
	v, ok := l.Note("c+", 1)
	require.True(t, ok)
	assert.Equal(t, 70, v)

	_, err = l.RenameTrack("nope", "x")
	assert.ErrorIs(t, err, loop.ErrNoSuchTrack)
}

func TestWriteValidatesInput(t *testing.T) {
	l := loop.MustNew(4, "", "a")

	assert.ErrorIs(t, l.Set("ghost", 0, 60), loop.ErrNoSuchTrack)
	assert.False(t, l.HasTrack("ghost"), "write must not create tracks")
	assert.ErrorIs(t, l.Set("a", 4, 60), loop.ErrStepRange)
	assert.ErrorIs(t, l.Set("a", -1, 60), loop.ErrStepRange)
	assert.ErrorIs(t, l.Set("a", 0, 128), loop.ErrNoteRange)
	assert.ErrorIs(t, l.Set("a", 0, -1), loop.ErrNoteRange)

	require.NoError(t, l.Set("a", 2, 127))
	require.NoError(t, l.Erase("a", 2))
	_, ok := l.Note("a", 2)
	assert.False(t, ok)

	// erasing an empty cell is fine
	require.NoError(t, l.Erase("a", 1))
}

func TestSnapshotIsIndependent(t *testing.T) {
	l := loop.MustNew(4, "t", "a")
	require.NoError(t, l.Set("a", 0, 60))
	snap := l.Snapshot()
	require.NoError(t, l.Set("a", 0, 61))

	v, _ := snap.Note("a", 0)
	assert.Equal(t, 60, v)
	assert.False(t, snap.Equal(l))
}

func TestConcurrentReadWrite(t *testing.T) {
	l := loop.MustNew(16, "", "a", "b")
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 2000; i++ {
			_ = l.Set("a", i%16, i%128)
			_ = l.Erase("b", i%16)
			if i%100 == 0 {
				_ = l.SetLength(8 + i%9)
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := int64(0); i < 2000; i++ {
			_ = l.EventsAt(i)
			l.SetPlayerHead(int(i % 16))
		}
	}()
	wg.Wait()
}

func TestParseLength(t *testing.T) {
	n, err := loop.ParseLength(" 12 ")
	require.NoError(t, err)
	assert.Equal(t, 12, n)

	for _, bad := range []string{"", "abc", "0", "-4", "1.5"} {
		_, err := loop.ParseLength(bad)
		assert.Error(t, err, bad)
	}
}
