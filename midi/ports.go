package midi

import (
	"errors"
	"fmt"
	"strings"
	"time"

	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
)

// CoreMIDI can hang while enumerating; every listing is bounded.
const listTimeout = 3 * time.Second

// ErrListTimeout means the driver did not answer in time.
// On macOS the usual fix is: sudo killall coreaudiod midiserver
var ErrListTimeout = errors.New("midi: timed out listing ports")

// Ports is a snapshot of the port names the driver reports.
type Ports struct {
	In  []string
	Out []string
}

// HasOut reports whether an output port matches name.
func (p Ports) HasOut(name string) bool { return matchName(p.Out, name) >= 0 }

// HasIn reports whether an input port matches name.
func (p Ports) HasIn(name string) bool { return matchName(p.In, name) >= 0 }

type rawPorts struct {
	ins  []drivers.In
	outs []drivers.Out
}

func listRaw(timeout time.Duration) (rawPorts, error) {
	ch := make(chan rawPorts, 1)
	go func() {
		ch <- rawPorts{ins: gomidi.GetInPorts(), outs: gomidi.GetOutPorts()}
	}()

	select {
	case r := <-ch:
		return r, nil
	case <-time.After(timeout):
		return rawPorts{}, ErrListTimeout
	}
}

// ListPorts returns the current input and output port names.
func ListPorts() (Ports, error) {
	r, err := listRaw(listTimeout)
	if err != nil {
		return Ports{}, err
	}
	var p Ports
	for _, in := range r.ins {
		p.In = append(p.In, in.String())
	}
	for _, out := range r.outs {
		p.Out = append(p.Out, out.String())
	}
	return p, nil
}

// matchName prefers an exact match and falls back to a case-insensitive
// substring, so "IAC" finds "IAC Driver Bus 1".
func matchName(names []string, want string) int {
	if want == "" {
		return -1
	}
	for i, n := range names {
		if n == want {
			return i
		}
	}
	lw := strings.ToLower(want)
	for i, n := range names {
		if strings.Contains(strings.ToLower(n), lw) {
			return i
		}
	}
	return -1
}

func findOut(name string, timeout time.Duration) (drivers.Out, error) {
	r, err := listRaw(timeout)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(r.outs))
	for i, o := range r.outs {
		names[i] = o.String()
	}
	i := matchName(names, name)
	if i < 0 {
		return nil, fmt.Errorf("output %q: %w", name, ErrPortNotFound)
	}
	return r.outs[i], nil
}

func findIn(name string, timeout time.Duration) (drivers.In, error) {
	r, err := listRaw(timeout)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(r.ins))
	for i, in := range r.ins {
		names[i] = in.String()
	}
	i := matchName(names, name)
	if i < 0 {
		return nil, fmt.Errorf("input %q: %w", name, ErrPortNotFound)
	}
	return r.ins[i], nil
}
