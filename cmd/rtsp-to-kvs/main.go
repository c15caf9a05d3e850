package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/topecongiro/rtsp-to-kvs/internal/pipeline"
	"github.com/topecongiro/rtsp-to-kvs/internal/supervisor"
)

// Exit codes, distinct so orchestration tooling can tell "bad config"
// from "exhausted retries".
const (
	ExitOK      = 0
	ExitFailure = 1
	ExitConfig  = 2
	ExitGiveUp  = 3
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	var give *supervisor.GiveUpError
	if errors.As(err, &give) {
		return ExitGiveUp
	}
	var cfgErr *configError
	if errors.As(err, &cfgErr) ||
		errors.Is(err, pipeline.ErrInvalidTarget) ||
		errors.Is(err, pipeline.ErrInvalidSink) {
		return ExitConfig
	}
	return ExitFailure
}

// configError marks startup configuration failures for exit-code mapping.
type configError struct{ err error }

func (e *configError) Error() string { return "configuration error: " + e.err.Error() }
func (e *configError) Unwrap() error { return e.err }
