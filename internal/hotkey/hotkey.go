// Package hotkey provides global hotkeys using gohook: one combo presses the
// trigger button, another switches between direct and countdown mode.
package hotkey

import (
	"sync"

	hook "github.com/robotn/gohook"
)

// EventType identifies which combo fired.
type EventType int

const (
	// EventTrigger is a press of the trigger combo.
	EventTrigger EventType = iota
	// EventToggleMode is a press of the mode combo.
	EventToggleMode
)

func (t EventType) String() string {
	switch t {
	case EventTrigger:
		return "trigger"
	case EventToggleMode:
		return "toggle-mode"
	default:
		return "unknown"
	}
}

// Event is emitted on the channel returned by Events.
type Event struct {
	Type EventType
}

// Listener watches two global key combos and emits events.
type Listener struct {
	triggerKeys []string
	modeKeys    []string
	ch          chan Event
	done        chan struct{}
	once        sync.Once
}

// NewListener creates a Listener. Keys are lowercase key names
// (e.g., ["ctrl", "shift", "t"]). An empty modeKeys disables the mode combo.
func NewListener(triggerKeys, modeKeys []string) *Listener {
	return &Listener{
		triggerKeys: triggerKeys,
		modeKeys:    modeKeys,
		ch:          make(chan Event, 16),
		done:        make(chan struct{}),
	}
}

// Events returns the channel that receives hotkey events.
// The channel is closed when Stop is called.
func (l *Listener) Events() <-chan Event {
	return l.ch
}

// Start begins listening for the global hotkeys.
// This function blocks until Stop is called. Run it in a goroutine.
func (l *Listener) Start() {
	hook.Register(hook.KeyDown, l.triggerKeys, func(e hook.Event) {
		l.emit(EventTrigger)
	})
	if len(l.modeKeys) > 0 {
		hook.Register(hook.KeyDown, l.modeKeys, func(e hook.Event) {
			l.emit(EventToggleMode)
		})
	}

	evChan := hook.Start()
	go func() {
		<-l.done
		hook.End()
	}()
	<-hook.Process(evChan)
	close(l.ch)
}

// emit delivers an event without blocking the hook thread.
func (l *Listener) emit(t EventType) {
	select {
	case l.ch <- Event{Type: t}:
	default: // don't block if channel is full
	}
}

// Stop terminates the hotkey listener.
// It is safe to call multiple times.
func (l *Listener) Stop() {
	l.once.Do(func() {
		close(l.done)
	})
}
