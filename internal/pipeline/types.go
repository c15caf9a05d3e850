package pipeline

import (
	"errors"
	"time"

	"github.com/bluenviron/gortsplib/v5/pkg/base"
)

// Sentinel configuration errors. Callers branch with errors.Is; the wrapped
// message carries the offending field.
var (
	ErrInvalidTarget = errors.New("invalid stream target")
	ErrInvalidSink   = errors.New("invalid sink config")
)

// Transport is the preferred RTSP delivery transport.
type Transport string

const (
	TransportAuto Transport = ""
	TransportTCP  Transport = "tcp"
	TransportUDP  Transport = "udp"
)

// StreamTarget describes the RTSP source. Immutable once a pipeline run
// begins; credentials may also be embedded in the URL userinfo, in which
// case explicit Username/Password take precedence.
type StreamTarget struct {
	URL       string    `json:"url" mapstructure:"url"`
	Username  string    `json:"username" mapstructure:"username"`
	Password  string    `json:"-" mapstructure:"password"`
	Transport Transport `json:"transport" mapstructure:"transport"`
}

// Redacted returns the target URL with any userinfo stripped, safe for
// logs and history records.
func (t StreamTarget) Redacted() string {
	u, err := base.ParseURL(t.URL)
	if err != nil {
		return t.URL
	}
	u.User = nil
	return u.String()
}

// SinkKind selects the terminal stage of the pipeline.
type SinkKind string

const (
	// SinkKVS forwards to the cloud ingestion service.
	SinkKVS SinkKind = "kvs"
	// SinkPlayback renders locally instead of uploading. Used for
	// on-site diagnosis of a camera feed.
	SinkPlayback SinkKind = "playback"
)

// SinkConfig describes the destination. Immutable per run; the credential
// reference may resolve to refreshed values between attempts without the
// struct changing identity.
type SinkConfig struct {
	Kind          SinkKind      `json:"kind" mapstructure:"kind"`
	StreamName    string        `json:"stream_name" mapstructure:"stream_name"`
	Region        string        `json:"region" mapstructure:"region"`
	Endpoint      string        `json:"endpoint" mapstructure:"endpoint"`
	CredentialRef string        `json:"credential_ref" mapstructure:"credential_ref"`
	RetentionHrs  int           `json:"retention_hours" mapstructure:"retention_hours"`
	FragmentDur   time.Duration `json:"fragment_duration" mapstructure:"fragment_duration"`
}

// CodecHint carries the negotiation result supplied by the caller. Actual
// codec negotiation lives in the external media runtime; the builder only
// needs to know whether a transcode stage must be inserted.
type CodecHint struct {
	SourceCodec string
	SinkAccepts []string
}

// NeedsTranscode reports whether the negotiated source codec is outside the
// sink's accepted set. An empty hint means the source is already compatible.
func (h CodecHint) NeedsTranscode() bool {
	if h.SourceCodec == "" || len(h.SinkAccepts) == 0 {
		return false
	}
	for _, c := range h.SinkAccepts {
		if c == h.SourceCodec {
			return false
		}
	}
	return true
}
