package runtime

import (
	"strings"
	"time"
)

// EventKind tags a pipeline event variant.
type EventKind int

const (
	EventStateChanged EventKind = iota
	EventWarning
	EventError
	EventEndOfStream
)

func (k EventKind) String() string {
	switch k {
	case EventStateChanged:
		return "state-changed"
	case EventWarning:
		return "warning"
	case EventError:
		return "error"
	case EventEndOfStream:
		return "eos"
	default:
		return "unknown"
	}
}

// State is the coarse pipeline state reported by the media runtime.
type State int

const (
	StateStarting State = iota
	StateRunning
	StatePaused
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// ErrorCode partitions error events into the classes the health monitor
// cares about. The mapping from the native runtime's error surface is a
// policy, applied in classifyMessage.
type ErrorCode int

const (
	CodeUnknown ErrorCode = iota
	CodeNetwork
	CodeAuth
	CodeNotFound
	CodeInternal
)

func (c ErrorCode) String() string {
	switch c {
	case CodeNetwork:
		return "network"
	case CodeAuth:
		return "auth"
	case CodeNotFound:
		return "not-found"
	case CodeInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Event is one entry of a handle's ordered event stream. Produced by the
// runtime adapter, consumed by the health monitor.
type Event struct {
	Kind    EventKind
	State   State // set for EventStateChanged
	Stage   string
	Code    ErrorCode // set for EventError
	Message string
	At      time.Time
}

// ParseBusLine translates one line of the media worker's bus output into an
// Event. The second return value is false for lines that carry no event
// (progress chatter, caps dumps and similar).
//
// Recognized shapes, as printed by a gst-launch style worker:
//
//	ERROR: from element /GstPipeline:pipeline0/GstRTSPSrc:source: Could not open resource ...
//	WARNING: from element /GstPipeline:pipeline0/GstKvsSink:sink: ...
//	Setting pipeline to PLAYING ...
//	Got EOS from element "pipeline0".
func ParseBusLine(line string, now time.Time) (Event, bool) {
	line = strings.TrimSpace(line)
	switch {
	case strings.HasPrefix(line, "ERROR:"):
		stage, msg := splitBusMessage(strings.TrimSpace(strings.TrimPrefix(line, "ERROR:")))
		return Event{
			Kind:    EventError,
			Stage:   stage,
			Code:    classifyMessage(msg),
			Message: msg,
			At:      now,
		}, true

	case strings.HasPrefix(line, "WARNING:"):
		stage, msg := splitBusMessage(strings.TrimSpace(strings.TrimPrefix(line, "WARNING:")))
		return Event{Kind: EventWarning, Stage: stage, Message: msg, At: now}, true

	case strings.HasPrefix(line, "Got EOS from element"):
		return Event{Kind: EventEndOfStream, Message: line, At: now}, true

	case strings.HasPrefix(line, "Setting pipeline to PLAYING"),
		strings.HasPrefix(line, "Pipeline is live"):
		return Event{Kind: EventStateChanged, State: StateRunning, At: now}, true

	case strings.HasPrefix(line, "Setting pipeline to PAUSED"),
		strings.HasPrefix(line, "Pipeline is PREROLLING"):
		return Event{Kind: EventStateChanged, State: StateStarting, At: now}, true

	case strings.HasPrefix(line, "Setting pipeline to NULL"):
		return Event{Kind: EventStateChanged, State: StateStopped, At: now}, true
	}
	return Event{}, false
}

// splitBusMessage separates the element path prefix ("from element /a/b:name:")
// from the message body and reduces the path to the element name.
func splitBusMessage(s string) (stage, msg string) {
	const fromElement = "from element "
	if !strings.HasPrefix(s, fromElement) {
		return "", s
	}
	rest := strings.TrimPrefix(s, fromElement)
	i := strings.Index(rest, ": ")
	if i < 0 {
		return "", s
	}
	path, msg := rest[:i], rest[i+2:]
	if j := strings.LastIndexByte(path, ':'); j >= 0 {
		return path[j+1:], msg
	}
	if j := strings.LastIndexByte(path, '/'); j >= 0 {
		return path[j+1:], msg
	}
	return path, msg
}

// classifyMessage maps the native runtime's free-form error text onto an
// ErrorCode. This is policy, not an exhaustive enumeration; unmatched
// messages stay CodeUnknown and are treated as transient downstream.
func classifyMessage(msg string) ErrorCode {
	m := strings.ToLower(msg)
	switch {
	case strings.Contains(m, "401"),
		strings.Contains(m, "403"),
		strings.Contains(m, "unauthorized"),
		strings.Contains(m, "not authorized"),
		strings.Contains(m, "authentication"),
		strings.Contains(m, "security token"),
		strings.Contains(m, "signature"),
		strings.Contains(m, "access denied"):
		return CodeAuth
	case strings.Contains(m, "404"),
		strings.Contains(m, "not found"),
		strings.Contains(m, "no such"):
		return CodeNotFound
	case strings.Contains(m, "could not open resource"),
		strings.Contains(m, "could not connect"),
		strings.Contains(m, "failed to connect"),
		strings.Contains(m, "connection refused"),
		strings.Contains(m, "connection reset"),
		strings.Contains(m, "timed out"),
		strings.Contains(m, "timeout"),
		strings.Contains(m, "network"),
		strings.Contains(m, "host"):
		return CodeNetwork
	case strings.Contains(m, "internal data stream error"),
		strings.Contains(m, "internal error"):
		return CodeInternal
	}
	return CodeUnknown
}
