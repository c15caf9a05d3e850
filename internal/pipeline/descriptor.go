package pipeline

import (
	"fmt"
	"sort"
	"strings"
)

// StageKind identifies one element of the media pipeline. The names match
// the native media runtime's element factories so a descriptor can be turned
// directly into a launch line.
type StageKind string

const (
	StageRTSPSource   StageKind = "rtspsrc"
	StageDepay        StageKind = "rtph264depay"
	StageParse        StageKind = "h264parse"
	StageDecode       StageKind = "avdec_h264"
	StageConvert      StageKind = "videoconvert"
	StageEncode       StageKind = "x264enc"
	StageKVSSink      StageKind = "kvssink"
	StagePlaybackSink StageKind = "autovideosink"
)

// StageSpec is one unit of the pipeline: an element kind plus its
// configuration. Cloud credentials never appear in Params; they travel
// through the runtime's credential resolver instead.
type StageSpec struct {
	Kind   StageKind
	Name   string
	Params map[string]string
}

// Descriptor is an ordered sequence of stages, source first, sink last.
// Built fresh on every (re)connect attempt and never mutated afterwards.
type Descriptor struct {
	Stages []StageSpec
}

// Source returns the first stage.
func (d Descriptor) Source() StageSpec { return d.Stages[0] }

// Sink returns the last stage.
func (d Descriptor) Sink() StageSpec { return d.Stages[len(d.Stages)-1] }

// HasStage reports whether the descriptor contains a stage of the given kind.
func (d Descriptor) HasStage(kind StageKind) bool {
	for _, s := range d.Stages {
		if s.Kind == kind {
			return true
		}
	}
	return false
}

// Args renders the descriptor as launch arguments for the native media
// runtime: element, its key=value params, then "!" between stages.
func (d Descriptor) Args() []string {
	var args []string
	for i, s := range d.Stages {
		if i > 0 {
			args = append(args, "!")
		}
		args = append(args, string(s.Kind))
		if s.Name != "" {
			args = append(args, "name="+s.Name)
		}
		keys := make([]string, 0, len(s.Params))
		for k := range s.Params {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			args = append(args, fmt.Sprintf("%s=%s", k, s.Params[k]))
		}
	}
	return args
}

// String returns a single-line launch description, with the source location
// redacted so descriptors are safe to log.
func (d Descriptor) String() string {
	var b strings.Builder
	for i, s := range d.Stages {
		if i > 0 {
			b.WriteString(" ! ")
		}
		b.WriteString(string(s.Kind))
	}
	return b.String()
}
