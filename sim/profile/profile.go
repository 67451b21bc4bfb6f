// Package profile records per-dispatch and per-mapping timings.
// This package has no dependencies on sim/; it stores pure data types.
package profile

import "time"

// EventKind distinguishes what a recorded interval measured.
type EventKind string

const (
	// KindDispatch is one kernel dispatch wave.
	KindDispatch EventKind = "dispatch"
	// KindMapping is one host-visible mapping scope, map through unmap.
	KindMapping EventKind = "mapping"
)

// Event is one timed interval.
type Event struct {
	Name  string
	Kind  EventKind
	Start time.Time
	End   time.Time
}

// Duration returns End - Start.
func (e Event) Duration() time.Duration {
	return e.End.Sub(e.Start)
}

// Recorder is the instrumentation capability handed to the engine. The
// engine calls it the same way whether or not anything is kept.
type Recorder interface {
	Enabled() bool
	// Start and Stop bracket the whole run.
	Start()
	Stop()
	Record(e Event)
}

// New returns a recording Profile when enabled, otherwise Noop.
func New(enabled bool) Recorder {
	if enabled {
		return NewProfile()
	}
	return Noop{}
}

// Noop discards everything (zero overhead).
type Noop struct{}

func (Noop) Enabled() bool { return false }
func (Noop) Start()        {}
func (Noop) Stop()         {}
func (Noop) Record(Event)  {}

// Profile keeps every recorded event.
type Profile struct {
	Events  []Event
	started time.Time
	stopped time.Time
	now     func() time.Time
}

// NewProfile creates an empty Profile ready for recording.
func NewProfile() *Profile {
	return &Profile{
		Events: make([]Event, 0),
		now:    time.Now,
	}
}

func (p *Profile) Enabled() bool { return true }
func (p *Profile) Start()        { p.started = p.now() }
func (p *Profile) Stop()         { p.stopped = p.now() }

// Record appends an event.
func (p *Profile) Record(e Event) {
	p.Events = append(p.Events, e)
}

// Elapsed is the wall time between Start and Stop, or zero if either is
// missing.
func (p *Profile) Elapsed() time.Duration {
	if p.started.IsZero() || p.stopped.IsZero() {
		return 0
	}
	return p.stopped.Sub(p.started)
}
