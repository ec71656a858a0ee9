// Package config loads TOML configuration for the solacelive command
// line tools. The library packages take plain option structs; file
// handling lives here so the core never does I/O.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/SolaceHarmony/SolaceLive-sub001/limits"
)

// LogConfig controls logrus setup in the CLI.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// PipelineConfig tunes the packet processor.
type PipelineConfig struct {
	DispatchIntervalMs uint32 `toml:"dispatch_interval_ms"`
	JitterDelayMs      uint32 `toml:"jitter_delay_ms"`
	JitterMinDelayMs   uint32 `toml:"jitter_min_delay_ms"`
	JitterMaxDelayMs   uint32 `toml:"jitter_max_delay_ms"`
	JitterAdaptive     bool   `toml:"jitter_adaptive"`
	JitterCapacity     int    `toml:"jitter_capacity"`
	DefaultTTLMs       uint32 `toml:"default_ttl_ms"`
}

// ServeConfig configures the websocket bridge and diagnostics server.
type ServeConfig struct {
	Listen        string `toml:"listen"`
	WSPath        string `toml:"ws_path"`
	MetricsListen string `toml:"metrics_listen"`
}

// SoakConfig configures the loopback soak run.
type SoakConfig struct {
	Packets       int     `toml:"packets"`
	FrameMs       uint32  `toml:"frame_ms"`
	LossRate      float64 `toml:"loss_rate"`
	ReorderRate   float64 `toml:"reorder_rate"`
	DuplicateRate float64 `toml:"duplicate_rate"`
	LatencyMs     uint32  `toml:"latency_ms"`
	JitterMs      uint32  `toml:"jitter_ms"`
	Seed          int64   `toml:"seed"`
}

// Config is the root document.
type Config struct {
	Log      LogConfig      `toml:"log"`
	Pipeline PipelineConfig `toml:"pipeline"`
	Serve    ServeConfig    `toml:"serve"`
	Soak     SoakConfig     `toml:"soak"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Log: LogConfig{Level: "info", Format: "text"},
		Pipeline: PipelineConfig{
			DispatchIntervalMs: limits.DefaultDispatchIntervalMs,
			JitterDelayMs:      limits.DefaultJitterDelayMs,
			JitterMinDelayMs:   limits.MinJitterDelayMs,
			JitterMaxDelayMs:   limits.MaxJitterDelayMs,
			JitterAdaptive:     true,
			JitterCapacity:     limits.DefaultJitterCapacity,
			DefaultTTLMs:       limits.DefaultPacketTTLMs,
		},
		Serve: ServeConfig{
			Listen:        ":8090",
			WSPath:        "/ws",
			MetricsListen: ":9096",
		},
		Soak: SoakConfig{
			Packets:  1000,
			FrameMs:  20,
			LossRate: 0.02,
			Seed:     1,
		},
	}
}

// Load reads a TOML file over the defaults and validates the result.
// An empty path returns the defaults untouched.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("validate config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects values the pipeline cannot honor.
func (c *Config) Validate() error {
	p := &c.Pipeline
	if p.DispatchIntervalMs != 0 &&
		(p.DispatchIntervalMs < limits.MinDispatchIntervalMs || p.DispatchIntervalMs > limits.MaxDispatchIntervalMs) {
		return fmt.Errorf("dispatch_interval_ms %d outside [%d, %d]",
			p.DispatchIntervalMs, limits.MinDispatchIntervalMs, limits.MaxDispatchIntervalMs)
	}
	if p.JitterMinDelayMs > p.JitterMaxDelayMs {
		return fmt.Errorf("jitter_min_delay_ms %d above jitter_max_delay_ms %d",
			p.JitterMinDelayMs, p.JitterMaxDelayMs)
	}
	if c.Soak.LossRate < 0 || c.Soak.LossRate >= 1 {
		return fmt.Errorf("soak loss_rate %f outside [0, 1)", c.Soak.LossRate)
	}
	if c.Soak.Packets <= 0 {
		return fmt.Errorf("soak packets must be positive")
	}
	return nil
}

// FrameInterval returns the soak frame cadence as a duration.
func (s *SoakConfig) FrameInterval() time.Duration {
	if s.FrameMs == 0 {
		return 20 * time.Millisecond
	}
	return time.Duration(s.FrameMs) * time.Millisecond
}
