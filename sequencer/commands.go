package sequencer

import (
	"sync"

	"go-stepseq/loop"
)

// Kind tags a Command.
type Kind int

const (
	KindPlay Kind = iota
	KindStop
	KindToggle
	KindSetBPM
	KindReplaceLoop
)

func (k Kind) String() string {
	switch k {
	case KindPlay:
		return "play"
	case KindStop:
		return "stop"
	case KindToggle:
		return "toggle"
	case KindSetBPM:
		return "set_bpm"
	case KindReplaceLoop:
		return "replace_loop"
	}
	return "unknown"
}

// Command is a transport instruction from the presentation layer.
type Command struct {
	Kind Kind
	BPM  float64
	Loop *loop.Loop

	done chan struct{} // closed once applied (Do only)
}

func Play() Command   { return Command{Kind: KindPlay} }
func Stop() Command   { return Command{Kind: KindStop} }
func Toggle() Command { return Command{Kind: KindToggle} }

func SetBPM(bpm float64) Command { return Command{Kind: KindSetBPM, BPM: bpm} }

func ReplaceLoop(l *loop.Loop) Command { return Command{Kind: KindReplaceLoop, Loop: l} }

// Commands is an unbounded FIFO between any number of senders and the
// engine. Send never blocks.
type Commands struct {
	mu    sync.Mutex
	queue []Command
	wake  chan struct{}
}

func NewCommands() *Commands {
	return &Commands{wake: make(chan struct{}, 1)}
}

// Send enqueues cmd and wakes the engine.
func (c *Commands) Send(cmd Command) {
	c.mu.Lock()
	c.queue = append(c.queue, cmd)
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Drain removes and returns every pending command in enqueue order.
func (c *Commands) Drain() []Command {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queue) == 0 {
		return nil
	}
	out := c.queue
	c.queue = nil
	return out
}

// Len returns the number of pending commands.
func (c *Commands) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Wake is signalled after every Send. Several sends may collapse into one
// signal; receivers always Drain.
func (c *Commands) Wake() <-chan struct{} {
	return c.wake
}
