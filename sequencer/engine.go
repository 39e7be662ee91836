package sequencer

import (
	"context"
	"errors"
	"math"
	"runtime"
	"slices"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"go-stepseq/debug"
	"go-stepseq/loop"
	"go-stepseq/midi"
)

// ErrStopped is returned by Do once the engine goroutine has exited.
var ErrStopped = errors.New("engine stopped")

// Options configures an Engine.
type Options struct {
	BPM          float64
	Lookahead    time.Duration // how far ahead steps are scheduled
	PollInterval time.Duration // longest idle wait
	Channel      uint8         // 0-15
	Velocity     uint8
	NoteOff      bool // follow each note-on with a note-off one step later
	Logger       *zap.Logger
}

// DefaultOptions returns the playback defaults.
func DefaultOptions() Options {
	return Options{
		BPM:          120,
		Lookahead:    time.Second,
		PollInterval: 50 * time.Millisecond,
		Velocity:     127,
	}
}

// entry is one scheduled dispatch.
type entry struct {
	at      time.Time
	step    int64
	notes   []int
	release bool
}

// Engine is the playback scheduler. A single goroutine (Run) owns the
// clock and the pending queue; other goroutines talk to it through Send
// and Do and read its state through the atomic accessors.
type Engine struct {
	sink midi.Sink
	opts Options
	cmds *Commands
	log  *zap.Logger
	now  func() time.Time

	loop    atomic.Pointer[loop.Loop]
	playing atomic.Bool
	bpm     atomic.Uint64

	// owned by Run
	clock       Clock
	pending     []entry
	sinkFailing bool

	updates chan struct{}
	stopped chan struct{}
}

// NewEngine creates a stopped engine for l.
func NewEngine(l *loop.Loop, sink midi.Sink, opts Options) *Engine {
	def := DefaultOptions()
	if opts.Lookahead <= 0 {
		opts.Lookahead = def.Lookahead
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = def.PollInterval
	}
	if opts.Velocity == 0 {
		opts.Velocity = def.Velocity
	}
	if opts.Logger == nil {
		opts.Logger = debug.Named("engine")
	}
	if sink == nil {
		sink = midi.Discard
	}

	e := &Engine{
		sink:    sink,
		opts:    opts,
		cmds:    NewCommands(),
		log:     opts.Logger,
		now:     time.Now,
		updates: make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
	e.loop.Store(l)
	e.bpm.Store(math.Float64bits(opts.BPM))
	e.clock = NewClock(opts.BPM, e.now())
	return e
}

// Send enqueues a command without waiting.
func (e *Engine) Send(cmd Command) {
	cmd.done = nil
	e.cmds.Send(cmd)
}

// Do enqueues a command and waits until the engine has applied it. After
// Do(ctx, Stop()) returns nil no further note-on is sent until the next
// Play.
func (e *Engine) Do(ctx context.Context, cmd Command) error {
	cmd.done = make(chan struct{})
	e.cmds.Send(cmd)
	select {
	case <-cmd.done:
		return nil
	case <-e.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Playing reports the transport state.
func (e *Engine) Playing() bool { return e.playing.Load() }

// BPM returns the current tempo.
func (e *Engine) BPM() float64 { return math.Float64frombits(e.bpm.Load()) }

// Loop returns the loop being played.
func (e *Engine) Loop() *loop.Loop { return e.loop.Load() }

// Updates is signalled (non-blocking, coalesced) whenever the transport
// state or play-head changes.
func (e *Engine) Updates() <-chan struct{} { return e.updates }

// Done is closed when Run returns.
func (e *Engine) Done() <-chan struct{} { return e.stopped }

// Run drives playback until ctx is cancelled. It must be called once.
func (e *Engine) Run(ctx context.Context) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(e.stopped)

	e.log.Debug("engine started",
		zap.Float64("bpm", e.BPM()),
		zap.Duration("lookahead", e.opts.Lookahead),
		zap.Bool("note_off", e.opts.NoteOff))

	for {
		now := e.now()
		e.apply(e.cmds.Drain(), now)
		if e.playing.Load() {
			e.schedule(now)
		}
		e.dispatchDue(e.now())

		wait := e.opts.PollInterval
		if len(e.pending) > 0 {
			if d := e.pending[0].at.Sub(e.now()); d < wait {
				wait = d
			}
		}
		if wait <= 0 {
			if ctx.Err() != nil {
				return e.shutdown(ctx)
			}
			continue
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return e.shutdown(ctx)
		case <-e.cmds.Wake():
			timer.Stop()
		case <-timer.C:
		}
	}
}

func (e *Engine) shutdown(ctx context.Context) error {
	// acknowledge anything still queued so Do callers are released
	e.apply(e.cmds.Drain(), e.now())
	e.playing.Store(false)
	e.reset(e.now())
	e.log.Debug("engine stopped")
	return ctx.Err()
}

func (e *Engine) apply(cmds []Command, now time.Time) {
	for _, cmd := range cmds {
		switch cmd.Kind {
		case KindPlay:
			e.play(now)
		case KindStop:
			e.stop(now)
		case KindToggle:
			if e.playing.Load() {
				e.stop(now)
			} else {
				e.play(now)
			}
		case KindSetBPM:
			e.clock.SetBPM(cmd.BPM)
			e.bpm.Store(math.Float64bits(cmd.BPM))
			e.reset(now)
			e.log.Debug("tempo", zap.Float64("bpm", cmd.BPM))
		case KindReplaceLoop:
			if cmd.Loop != nil {
				e.loop.Store(cmd.Loop)
			}
			e.reset(now)
			e.log.Debug("loop replaced", zap.String("title", e.Loop().Title()))
		}
		if cmd.done != nil {
			close(cmd.done)
		}
	}
}

func (e *Engine) play(now time.Time) {
	if e.playing.Load() {
		return
	}
	e.playing.Store(true)
	e.reset(now)
	e.log.Info("play", zap.Float64("bpm", e.BPM()))
}

func (e *Engine) stop(now time.Time) {
	wasPlaying := e.playing.Swap(false)
	e.reset(now)
	if wasPlaying {
		e.log.Info("stop")
	}
}

// reset cancels everything pending and restarts the clock at now. Pending
// note-offs are sent right away so nothing hangs.
func (e *Engine) reset(now time.Time) {
	for _, en := range e.pending {
		if en.release {
			e.sendNotes(en.notes, true)
		}
	}
	e.pending = e.pending[:0]
	e.clock.Reset(now)
	if l := e.Loop(); l != nil {
		l.ResetPlayerHead()
	}
	e.notify()
}

func (e *Engine) schedule(now time.Time) {
	l := e.Loop()
	if l == nil {
		return
	}
	n := e.clock.Pump(now, e.opts.Lookahead, func(step int64, at time.Time) {
		e.pending = append(e.pending, entry{at: at, step: step, notes: l.EventsAt(step)})
	})
	if n > 0 {
		e.sortPending()
	}
}

// sortPending orders by time, note-offs first on ties so a repeated pitch
// is released before it is struck again.
func (e *Engine) sortPending() {
	slices.SortStableFunc(e.pending, func(a, b entry) int {
		if c := a.at.Compare(b.at); c != 0 {
			return c
		}
		switch {
		case a.release && !b.release:
			return -1
		case !a.release && b.release:
			return 1
		}
		return 0
	})
}

func (e *Engine) dispatchDue(now time.Time) {
	n := 0
	for n < len(e.pending) && !e.pending[n].at.After(now) {
		n++
	}
	if n == 0 {
		return
	}
	due := make([]entry, n)
	copy(due, e.pending[:n])
	e.pending = append(e.pending[:0], e.pending[n:]...)

	var releases []entry
	for _, en := range due {
		if en.release {
			e.sendNotes(en.notes, true)
			continue
		}
		e.sendNotes(en.notes, false)
		if e.opts.NoteOff && len(en.notes) > 0 {
			releases = append(releases, entry{at: en.at.Add(e.clock.StepDuration()), notes: en.notes, release: true})
		}
		if l := e.Loop(); l != nil {
			head := en.step % int64(l.Length())
			l.SetPlayerHead(int(head))
			debug.LogEvery(64, "engine", "step=%d head=%d notes=%v late=%s", en.step, head, en.notes, now.Sub(en.at))
		}
	}
	if len(releases) > 0 {
		e.pending = append(e.pending, releases...)
		e.sortPending()
	}
	e.notify()
}

func (e *Engine) sendNotes(notes []int, off bool) {
	for _, n := range notes {
		ev := midi.On(e.opts.Channel, uint8(n), e.opts.Velocity)
		if off {
			ev = midi.Off(e.opts.Channel, uint8(n))
		}
		if err := e.sink.Send(ev); err != nil {
			if !e.sinkFailing {
				e.log.Warn("midi send failed", zap.Stringer("event", ev), zap.Error(err))
			} else {
				e.log.Debug("midi send failed", zap.Stringer("event", ev), zap.Error(err))
			}
			e.sinkFailing = true
			continue
		}
		if e.sinkFailing {
			e.log.Info("midi send recovered")
			e.sinkFailing = false
		}
	}
}

func (e *Engine) notify() {
	select {
	case e.updates <- struct{}{}:
	default:
	}
}
