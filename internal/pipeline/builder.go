package pipeline

import (
	"fmt"
	"strconv"

	"github.com/bluenviron/gortsplib/v5/pkg/base"
)

// Build translates a stream target and sink configuration into an ordered
// pipeline descriptor. It is a pure function: identical inputs always yield
// a structurally identical descriptor. Stage ordering is deterministic -
// source first, sink last, with a transcode chain inserted only when the
// codec hint says the source codec is incompatible with the sink.
func Build(target StreamTarget, sink SinkConfig, hint CodecHint) (Descriptor, error) {
	source, err := sourceStage(target)
	if err != nil {
		return Descriptor{}, err
	}
	if err := validateSink(sink); err != nil {
		return Descriptor{}, err
	}

	stages := []StageSpec{
		source,
		{Kind: StageDepay, Name: "depay"},
		{Kind: StageParse, Name: "parse"},
	}

	switch sink.Kind {
	case SinkPlayback:
		// Local playback always decodes; mirrors the diagnosis branch.
		stages = append(stages,
			StageSpec{Kind: StageDecode, Name: "decode"},
			StageSpec{Kind: StageConvert, Name: "convert"},
			StageSpec{Kind: StagePlaybackSink, Name: "videosink"},
		)
	default:
		if hint.NeedsTranscode() {
			stages = append(stages,
				StageSpec{Kind: StageDecode, Name: "decode"},
				StageSpec{Kind: StageConvert, Name: "convert"},
				StageSpec{Kind: StageEncode, Name: "encode", Params: map[string]string{
					"tune": "zerolatency",
				}},
			)
		}
		stages = append(stages, kvsSinkStage(sink))
	}

	return Descriptor{Stages: stages}, nil
}

func sourceStage(target StreamTarget) (StageSpec, error) {
	u, err := base.ParseURL(target.URL)
	if err != nil {
		return StageSpec{}, fmt.Errorf("%w: %q: %v", ErrInvalidTarget, target.URL, err)
	}
	if u.Host == "" {
		return StageSpec{}, fmt.Errorf("%w: %q: missing host", ErrInvalidTarget, target.URL)
	}

	user := target.Username
	pass := target.Password
	if u.User != nil {
		if user == "" {
			user = u.User.Username()
		}
		if pass == "" {
			pass, _ = u.User.Password()
		}
	}

	// Credentials embedded in the URL are moved to element properties so
	// the location itself stays loggable.
	clean := *u
	clean.User = nil

	params := map[string]string{
		"location": clean.String(),
	}
	if user != "" {
		params["user-id"] = user
	}
	if pass != "" {
		params["user-pw"] = pass
	}
	switch target.Transport {
	case TransportTCP:
		params["protocols"] = "tcp"
	case TransportUDP:
		params["protocols"] = "udp"
	}

	return StageSpec{Kind: StageRTSPSource, Name: "source", Params: params}, nil
}

func validateSink(sink SinkConfig) error {
	switch sink.Kind {
	case SinkPlayback:
		return nil
	case SinkKVS, "":
	default:
		return fmt.Errorf("%w: unknown sink kind %q", ErrInvalidSink, sink.Kind)
	}
	if sink.StreamName == "" {
		return fmt.Errorf("%w: stream name is required", ErrInvalidSink)
	}
	if sink.Region == "" && sink.Endpoint == "" {
		return fmt.Errorf("%w: region or endpoint is required", ErrInvalidSink)
	}
	if sink.FragmentDur < 0 {
		return fmt.Errorf("%w: negative fragment duration", ErrInvalidSink)
	}
	return nil
}

func kvsSinkStage(sink SinkConfig) StageSpec {
	params := map[string]string{
		"stream-name": sink.StreamName,
	}
	if sink.Region != "" {
		params["aws-region"] = sink.Region
	}
	if sink.Endpoint != "" {
		params["endpoint"] = sink.Endpoint
	}
	if sink.RetentionHrs > 0 {
		params["retention-period"] = strconv.Itoa(sink.RetentionHrs)
	}
	if sink.FragmentDur > 0 {
		params["fragment-duration"] = strconv.FormatInt(sink.FragmentDur.Milliseconds(), 10)
	}
	return StageSpec{Kind: StageKVSSink, Name: "sink", Params: params}
}
