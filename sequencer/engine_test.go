package sequencer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"go-stepseq/loop"
	"go-stepseq/midi"
)

type recorded struct {
	at time.Time
	ev midi.Event
}

// recorder is a Sink that keeps everything it is sent.
type recorder struct {
	mu     sync.Mutex
	events []recorded
	err    error
}

func (r *recorder) Send(ev midi.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recorded{at: time.Now(), ev: ev})
	return r.err
}

func (r *recorder) all() []recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recorded(nil), r.events...)
}

func (r *recorder) ons() []recorded {
	var out []recorded
	for _, e := range r.all() {
		if e.ev.Type == midi.NoteOn {
			out = append(out, e)
		}
	}
	return out
}

func notesOf(evs []recorded) []uint8 {
	out := make([]uint8, len(evs))
	for i, e := range evs {
		out[i] = e.ev.Note
	}
	return out
}

func startEngine(t *testing.T, l *loop.Loop, sink midi.Sink, opts Options) (*Engine, context.Context) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	e := NewEngine(l, sink, opts)
	go e.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-e.Done()
	})
	return e, ctx
}

func everyStep(t *testing.T, note int) *loop.Loop {
	t.Helper()
	l := loop.MustNew(1, "", "a")
	require.NoError(t, l.Set("a", 0, note))
	return l
}

func fastOptions() Options {
	opts := DefaultOptions()
	opts.BPM = 600 // 100ms steps
	opts.Lookahead = 200 * time.Millisecond
	opts.Logger = zap.NewNop()
	return opts
}

func TestDispatchCountMatchesElapsedSteps(t *testing.T) {
	rec := &recorder{}
	e, ctx := startEngine(t, everyStep(t, 60), rec, fastOptions())

	begin := time.Now()
	require.NoError(t, e.Do(ctx, Play()))
	time.Sleep(1050 * time.Millisecond)
	elapsed := time.Since(begin)
	require.NoError(t, e.Do(ctx, Stop()))

	expected := int(elapsed/(100*time.Millisecond)) + 1
	assert.InDelta(t, expected, len(rec.ons()), 2)

	for _, r := range rec.ons() {
		assert.Equal(t, uint8(60), r.ev.Note)
		assert.Equal(t, uint8(127), r.ev.Velocity)
		assert.Equal(t, uint8(0), r.ev.Channel)
	}
}

func TestStopSilencesOutput(t *testing.T) {
	rec := &recorder{}
	l := everyStep(t, 60)
	e, ctx := startEngine(t, l, rec, fastOptions())

	require.NoError(t, e.Do(ctx, Play()))
	assert.True(t, e.Playing())
	time.Sleep(250 * time.Millisecond)
	require.NoError(t, e.Do(ctx, Stop()))

	n := len(rec.ons())
	assert.Greater(t, n, 0)
	assert.False(t, e.Playing())
	assert.Equal(t, -1, l.PlayerHead())

	time.Sleep(300 * time.Millisecond)
	assert.Len(t, rec.ons(), n, "note-on after stop")
}

func TestTempoChangeCancelsOldSchedule(t *testing.T) {
	l := loop.MustNew(2, "", "a")
	require.NoError(t, l.Set("a", 0, 60))
	require.NoError(t, l.Set("a", 1, 72))

	opts := fastOptions()
	opts.BPM = 60
	opts.Lookahead = time.Second // step 1 at +1s is already queued
	rec := &recorder{}
	e, ctx := startEngine(t, l, rec, opts)

	require.NoError(t, e.Do(ctx, Play()))
	time.Sleep(80 * time.Millisecond)
	require.NoError(t, e.Do(ctx, SetBPM(600)))
	assert.Equal(t, 600.0, e.BPM())
	time.Sleep(1100 * time.Millisecond)
	require.NoError(t, e.Do(ctx, Stop()))

	notes := notesOf(rec.ons())
	require.Greater(t, len(notes), 5)
	assert.Equal(t, uint8(60), notes[0])
	// the new tempo restarts at step 0 and alternates; a stale step 1 from
	// the old schedule would show up as two 72s in a row near +1s
	assert.Equal(t, uint8(60), notes[1])
	for i := 2; i < len(notes); i++ {
		assert.NotEqual(t, notes[i-1], notes[i], "index %d in %v", i, notes)
	}
	assert.InDelta(t, 1+12, len(notes), 2)
}

type hit struct {
	note uint8
	at   time.Duration
}

// simulate runs the schedule/dispatch half of the engine loop on a virtual
// clock in 10ms ticks, applying cmds at the given offsets.
func simulate(t *testing.T, l *loop.Loop, bpm float64, until time.Duration, cmds map[time.Duration]Command) []hit {
	t.Helper()
	begin := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	var now time.Time
	var hits []hit
	sink := midi.SinkFunc(func(ev midi.Event) error {
		if ev.Type == midi.NoteOn {
			hits = append(hits, hit{ev.Note, now.Sub(begin)})
		}
		return nil
	})

	opts := fastOptions()
	opts.BPM = bpm
	opts.Lookahead = time.Second
	e := NewEngine(l, sink, opts)
	e.now = func() time.Time { return now }

	for d := time.Duration(0); d <= until; d += 10 * time.Millisecond {
		now = begin.Add(d)
		if d == 0 {
			e.apply([]Command{Play()}, now)
		}
		if c, ok := cmds[d]; ok {
			e.apply([]Command{c}, now)
		}
		if e.Playing() {
			e.schedule(now)
		}
		e.dispatchDue(now)
	}
	return hits
}

func TestDispatchOnVirtualClock(t *testing.T) {
	l := loop.MustNew(4, "", "a")
	require.NoError(t, l.Set("a", 0, 60))
	require.NoError(t, l.Set("a", 2, 62))

	got := simulate(t, l, 60, 4500*time.Millisecond, nil)
	assert.Equal(t, []hit{{60, 0}, {62, 2 * time.Second}, {60, 4 * time.Second}}, got)
}

func TestTempoChangeOnVirtualClock(t *testing.T) {
	l := loop.MustNew(2, "", "a")
	require.NoError(t, l.Set("a", 0, 60))
	require.NoError(t, l.Set("a", 1, 72))

	// step 1 at +1s is queued under 60bpm before the change at +500ms
	got := simulate(t, l, 60, 2*time.Second, map[time.Duration]Command{
		500 * time.Millisecond: SetBPM(120),
	})
	assert.Equal(t, []hit{
		{60, 0},
		{60, 500 * time.Millisecond},
		{72, time.Second},
		{60, 1500 * time.Millisecond},
		{72, 2 * time.Second},
	}, got)
}

func TestStopOnVirtualClock(t *testing.T) {
	got := simulate(t, everyStep(t, 60), 60, 3*time.Second, map[time.Duration]Command{
		1500 * time.Millisecond: Stop(),
	})
	assert.Equal(t, []hit{{60, 0}, {60, time.Second}}, got)
}

func TestPlayWhilePlayingIsNoop(t *testing.T) {
	l := loop.MustNew(4, "", "a")
	require.NoError(t, l.Set("a", 0, 60))
	rec := &recorder{}
	e, ctx := startEngine(t, l, rec, fastOptions())

	require.NoError(t, e.Do(ctx, Play()))
	time.Sleep(150 * time.Millisecond)
	require.NoError(t, e.Do(ctx, Play()))
	time.Sleep(150 * time.Millisecond)
	require.NoError(t, e.Do(ctx, Stop()))

	// a restart would have struck step 0 again at +150ms
	assert.Len(t, rec.ons(), 1)
}

func TestToggle(t *testing.T) {
	e, ctx := startEngine(t, everyStep(t, 60), &recorder{}, fastOptions())

	require.NoError(t, e.Do(ctx, Toggle()))
	assert.True(t, e.Playing())
	require.NoError(t, e.Do(ctx, Toggle()))
	assert.False(t, e.Playing())
}

func TestReplaceLoopSwitchesNotes(t *testing.T) {
	rec := &recorder{}
	e, ctx := startEngine(t, everyStep(t, 60), rec, fastOptions())

	require.NoError(t, e.Do(ctx, Play()))
	time.Sleep(150 * time.Millisecond)

	next := everyStep(t, 72)
	require.NoError(t, e.Do(ctx, ReplaceLoop(next)))
	n := len(rec.ons())
	assert.Same(t, next, e.Loop())
	assert.True(t, e.Playing(), "reconfiguring keeps the play state")

	time.Sleep(250 * time.Millisecond)
	require.NoError(t, e.Do(ctx, Stop()))

	after := notesOf(rec.ons()[n:])
	require.NotEmpty(t, after)
	for _, note := range after {
		assert.Equal(t, uint8(72), note)
	}
}

func TestNoteOffFollowsEveryNoteOn(t *testing.T) {
	opts := fastOptions()
	opts.NoteOff = true
	opts.Channel = 3
	rec := &recorder{}
	e, ctx := startEngine(t, everyStep(t, 64), rec, opts)

	require.NoError(t, e.Do(ctx, Play()))
	time.Sleep(350 * time.Millisecond)
	require.NoError(t, e.Do(ctx, Stop()))

	evs := rec.all()
	require.GreaterOrEqual(t, len(evs), 4)
	for i, r := range evs {
		want := midi.NoteOn
		if i%2 == 1 {
			want = midi.NoteOff
		}
		assert.Equal(t, want, r.ev.Type, "event %d", i)
		assert.Equal(t, uint8(64), r.ev.Note)
		assert.Equal(t, uint8(3), r.ev.Channel)
	}
	assert.Equal(t, midi.NoteOff, evs[len(evs)-1].ev.Type, "stop releases the sounding note")
}

func TestNoteOnOnlyByDefault(t *testing.T) {
	rec := &recorder{}
	e, ctx := startEngine(t, everyStep(t, 60), rec, fastOptions())

	require.NoError(t, e.Do(ctx, Play()))
	time.Sleep(250 * time.Millisecond)
	require.NoError(t, e.Do(ctx, Stop()))

	assert.Equal(t, len(rec.all()), len(rec.ons()))
}

func TestSinkFailuresAreLoggedAndSwallowed(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	opts := fastOptions()
	opts.Logger = zap.New(core)
	rec := &recorder{err: errors.New("port gone")}
	l := everyStep(t, 60)
	e, ctx := startEngine(t, l, rec, opts)

	require.NoError(t, e.Do(ctx, Play()))
	time.Sleep(350 * time.Millisecond)
	assert.GreaterOrEqual(t, l.PlayerHead(), 0, "clock keeps running")
	require.NoError(t, e.Do(ctx, Stop()))

	require.GreaterOrEqual(t, len(rec.all()), 3)
	failures := logs.FilterMessage("midi send failed")
	assert.Equal(t, 1, failures.FilterLevelExact(zapcore.WarnLevel).Len())
	assert.Equal(t, len(rec.all())-1, failures.FilterLevelExact(zapcore.DebugLevel).Len())
}

func TestUpdatesAreSignalled(t *testing.T) {
	e, ctx := startEngine(t, everyStep(t, 60), &recorder{}, fastOptions())
	require.NoError(t, e.Do(ctx, Play()))

	select {
	case <-e.Updates():
	case <-time.After(time.Second):
		t.Fatal("no update after play")
	}
}

func TestDoAfterRunExits(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	e := NewEngine(everyStep(t, 60), &recorder{}, fastOptions())
	errc := make(chan error, 1)
	go func() { errc <- e.Run(ctx) }()

	require.NoError(t, e.Do(ctx, Play()))
	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)
	assert.False(t, e.Playing())

	assert.ErrorIs(t, e.Do(context.Background(), Play()), ErrStopped)
}

func TestDoHonoursContext(t *testing.T) {
	e := NewEngine(everyStep(t, 60), &recorder{}, fastOptions())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, e.Do(ctx, Play()), context.DeadlineExceeded)
	// Send never waits on a running engine
	e.Send(Stop())
	assert.Equal(t, 2, e.cmds.Len())
}
