package midi

import (
	"errors"
	"fmt"
	"sync"
	"time"

	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
)

// ErrPortNotFound is returned when no port matches the configured name.
var ErrPortNotFound = errors.New("midi: port not found")

// Sink receives outgoing events. Send is fire-and-forget from the caller's
// point of view: the engine logs failures and keeps going.
type Sink interface {
	Send(Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event) error

func (f SinkFunc) Send(e Event) error { return f(e) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(Event) error { return nil })

// PortSink sends to a named output port. The port is opened lazily on the
// first send and reopened after a failed send.
type PortSink struct {
	name    string
	timeout time.Duration

	mu   sync.Mutex
	out  drivers.Out
	send func(gomidi.Message) error
}

// NewPortSink returns a sink for the output port called name.
func NewPortSink(name string) *PortSink {
	return &PortSink{name: name, timeout: listTimeout}
}

// Name returns the configured port name.
func (p *PortSink) Name() string { return p.name }

func (p *PortSink) Send(e Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.send == nil {
		if err := p.openLocked(); err != nil {
			return err
		}
	}
	if err := p.send(e.Message()); err != nil {
		p.closeLocked()
		return fmt.Errorf("send to %q: %w", p.name, err)
	}
	return nil
}

func (p *PortSink) openLocked() error {
	if p.name == "" {
		return fmt.Errorf("no output port configured: %w", ErrPortNotFound)
	}
	out, err := findOut(p.name, p.timeout)
	if err != nil {
		return err
	}
	send, err := gomidi.SendTo(out)
	if err != nil {
		return fmt.Errorf("open %q: %w", p.name, err)
	}
	p.out, p.send = out, send
	return nil
}

func (p *PortSink) closeLocked() {
	if p.out != nil {
		p.out.Close()
	}
	p.out, p.send = nil, nil
}

// Close releases the port. A later Send opens it again.
func (p *PortSink) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeLocked()
	return nil
}
