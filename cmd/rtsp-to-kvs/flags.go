package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/topecongiro/rtsp-to-kvs/internal/config"
	"github.com/topecongiro/rtsp-to-kvs/internal/pipeline"
)

// GlobalFlags holds persistent flags shared by all subcommands.
type GlobalFlags struct {
	ConfigPath string
	LogLevel   string
	NoColor    bool
}

// SourceFlags holds the RTSP source flags, shared by relay and playback.
type SourceFlags struct {
	URL       string
	Username  string
	Password  string
	Transport string
}

func addSourceFlags(cmd *cobra.Command, f *SourceFlags) {
	cmd.Flags().StringVar(&f.URL, "url", "", "RTSP source URL (required unless set in config)")
	cmd.Flags().StringVar(&f.Username, "username", "", "RTSP user id")
	cmd.Flags().StringVar(&f.Password, "password", "", "RTSP user password")
	cmd.Flags().StringVar(&f.Transport, "transport", "", "RTSP transport preference (tcp|udp)")
}

func (f SourceFlags) apply(cfg *config.Config) {
	if f.URL != "" {
		cfg.Source.URL = f.URL
	}
	if f.Username != "" {
		cfg.Source.Username = f.Username
	}
	if f.Password != "" {
		cfg.Source.Password = f.Password
	}
	if f.Transport != "" {
		cfg.Source.Transport = pipeline.Transport(f.Transport)
	}
}

// RelayFlags holds the cloud sink flags of the relay subcommand.
type RelayFlags struct {
	Source       SourceFlags
	StreamName   string
	Region       string
	Endpoint     string
	RetentionHrs int
	FragmentDur  time.Duration
	HTTPListen   string
}

func addRelayFlags(cmd *cobra.Command, f *RelayFlags) {
	addSourceFlags(cmd, &f.Source)
	cmd.Flags().StringVar(&f.StreamName, "stream-name", "", "destination stream name (required unless set in config)")
	cmd.Flags().StringVar(&f.Region, "region", "", "sink region")
	cmd.Flags().StringVar(&f.Endpoint, "endpoint", "", "sink endpoint override")
	cmd.Flags().IntVar(&f.RetentionHrs, "retention-hours", 0, "retention period hint in hours")
	cmd.Flags().DurationVar(&f.FragmentDur, "fragment-duration", 0, "fragment duration hint")
	cmd.Flags().StringVar(&f.HTTPListen, "http-listen", "", "status/metrics listen address (enables HTTP surface)")
}

func (f RelayFlags) apply(cfg *config.Config) {
	f.Source.apply(cfg)
	cfg.Sink.Kind = pipeline.SinkKVS
	if f.StreamName != "" {
		cfg.Sink.StreamName = f.StreamName
	}
	if f.Region != "" {
		cfg.Sink.Region = f.Region
	}
	if f.Endpoint != "" {
		cfg.Sink.Endpoint = f.Endpoint
	}
	if f.RetentionHrs > 0 {
		cfg.Sink.RetentionHrs = f.RetentionHrs
	}
	if f.FragmentDur > 0 {
		cfg.Sink.FragmentDur = f.FragmentDur
	}
	if f.HTTPListen != "" {
		cfg.HTTP.Enabled = true
		cfg.HTTP.Listen = f.HTTPListen
	}
}

func (g GlobalFlags) apply(cfg *config.Config) {
	if g.LogLevel != "" {
		cfg.Log.Level = g.LogLevel
	}
	if g.NoColor {
		cfg.Log.NoColor = true
	}
}
