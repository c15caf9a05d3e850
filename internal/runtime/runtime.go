package runtime

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/topecongiro/rtsp-to-kvs/internal/pipeline"
)

// StopMode selects teardown behavior.
type StopMode int

const (
	// StopGraceful asks the pipeline to flush in-flight media to the sink
	// before teardown, bounded by the runtime's graceful timeout.
	StopGraceful StopMode = iota
	// StopForced tears down immediately, accepting loss of unflushed data.
	StopForced
)

func (m StopMode) String() string {
	if m == StopForced {
		return "forced"
	}
	return "graceful"
}

// Handle identifies one running pipeline instance. The token is unique per
// start, so a stop issued against a stale handle after a fast restart race
// is rejected instead of hitting the wrong pipeline. A handle must not be
// reused after Stop returns.
type Handle struct {
	Token     uuid.UUID
	Desc      pipeline.Descriptor
	StartedAt time.Time
}

// ErrStaleHandle is returned when an operation references a handle that is
// no longer (or never was) live.
var ErrStaleHandle = errors.New("stale pipeline handle")

// StartError reports a stage construction failure during Start.
type StartError struct {
	Stage string
	Code  ErrorCode
	Err   error
}

func (e *StartError) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("stage %s init failed: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("pipeline init failed: %v", e.Err)
}

func (e *StartError) Unwrap() error { return e.Err }

// Runtime owns the lifecycle of instantiated pipelines. Start and Stop may
// block briefly during transitions; once started, media flows on the
// pipeline's own execution context and never behind the caller.
type Runtime interface {
	// Start instantiates and links stages in descriptor order. It fails
	// with *StartError if any stage cannot be constructed.
	Start(desc pipeline.Descriptor) (*Handle, error)

	// Events returns the handle's ordered event stream. The channel is
	// closed when the pipeline terminates and no further events follow.
	Events(h *Handle) (<-chan Event, error)

	// Stop tears the pipeline down and invalidates the handle.
	Stop(h *Handle, mode StopMode) error
}
