package midi

import (
	"context"
	"sync"
	"time"
)

// PortEvent is emitted when a watched port appears or disappears.
type PortEvent struct {
	Type PortEventType
	Name string
	Out  bool // output port (false: input)
}

type PortEventType int

const (
	PortConnected PortEventType = iota
	PortDisconnected
)

// Watcher polls the driver for the configured ports (hot-plug detection).
type Watcher struct {
	outName, inName string
	pollRate        time.Duration
	list            func() (Ports, error)

	mu     sync.RWMutex
	outUp  bool
	inUp   bool
	events chan PortEvent
}

// NewWatcher watches the named output and input ports. Either may be empty.
func NewWatcher(outName, inName string) *Watcher {
	return &Watcher{
		outName:  outName,
		inName:   inName,
		pollRate: time.Second,
		list:     ListPorts,
		events:   make(chan PortEvent, 16),
	}
}

// Events returns connect/disconnect events. Closed when Run returns.
func (w *Watcher) Events() <-chan PortEvent {
	return w.events
}

// OutputConnected reports whether the output port was present at the last scan.
func (w *Watcher) OutputConnected() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.outUp
}

// InputConnected reports whether the input port was present at the last scan.
func (w *Watcher) InputConnected() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.inUp
}

// Run polls until ctx is done (blocking - run in goroutine)
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.pollRate)
	defer ticker.Stop()
	defer close(w.events)

	w.scan()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.scan()
		}
	}
}

func (w *Watcher) scan() {
	ports, err := w.list()
	if err != nil {
		// driver hung; keep the last known state
		return
	}

	w.mu.Lock()
	var evs []PortEvent
	if w.outName != "" {
		up := ports.HasOut(w.outName)
		if up != w.outUp {
			evs = append(evs, portEvent(w.outName, true, up))
		}
		w.outUp = up
	}
	if w.inName != "" {
		up := ports.HasIn(w.inName)
		if up != w.inUp {
			evs = append(evs, portEvent(w.inName, false, up))
		}
		w.inUp = up
	}
	w.mu.Unlock()

	for _, ev := range evs {
		select {
		case w.events <- ev:
		default:
		}
	}
}

func portEvent(name string, out, up bool) PortEvent {
	t := PortDisconnected
	if up {
		t = PortConnected
	}
	return PortEvent{Type: t, Name: name, Out: out}
}
