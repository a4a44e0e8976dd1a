package agentloop

import "time"

// EventKind identifies the type of loop event.
type EventKind string

const (
	EventTurnStart     EventKind = "turn_start"
	EventToolCallStart EventKind = "tool_call_start"
	EventToolCallEnd   EventKind = "tool_call_end"
	EventPromoted      EventKind = "promoted"
	EventTurnLimit     EventKind = "turn_limit"
	EventLoopDetected  EventKind = "loop_detected"
	EventFinal         EventKind = "final"
	EventError         EventKind = "error"
)

// Event is a typed notification from the loop.
type Event struct {
	Kind      EventKind
	Timestamp time.Time
	Turn      int
	Data      map[string]any
}

// Listener receives events synchronously, in order, on the loop's goroutine.
type Listener func(Event)

type emitter struct {
	listeners []Listener
}

func (e *emitter) emit(kind EventKind, turn int, data map[string]any) {
	if len(e.listeners) == 0 {
		return
	}
	ev := Event{Kind: kind, Timestamp: time.Now(), Turn: turn, Data: data}
	for _, l := range e.listeners {
		l(ev)
	}
}
