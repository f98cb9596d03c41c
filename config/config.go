// Package config loads session settings from YAML files and IMSESSION_*
// environment variables, and watches the file for changes.
package config

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Zereker/imsession"
)

// EnvPrefix prefixes environment overrides, e.g. IMSESSION_PORT or
// IMSESSION_THROTTLE_RATE.
const EnvPrefix = "IMSESSION"

// ThrottleConfig selects outbound pacing.
type ThrottleConfig struct {
	// Kind is "none", "token" or "funnel".
	Kind string `mapstructure:"kind"`
	// Rate is messages per second.
	Rate float64 `mapstructure:"rate"`
	// Burst applies to the token bucket only.
	Burst int `mapstructure:"burst"`
}

// SessionConfig is the file form of a session's options.
type SessionConfig struct {
	Host              string         `mapstructure:"host"`
	Port              int            `mapstructure:"port"`
	ConnectTimeout    time.Duration  `mapstructure:"connect_timeout"`
	FlushTimeout      time.Duration  `mapstructure:"flush_timeout"`
	PollInterval      time.Duration  `mapstructure:"poll_interval"`
	FrameMode         string         `mapstructure:"frame_mode"`
	Delimiter         string         `mapstructure:"delimiter"`
	LengthWidth       int            `mapstructure:"length_width"`
	LittleEndian      bool           `mapstructure:"little_endian"`
	BlockCommand      string         `mapstructure:"block_command"`
	MaxFrameSize      int            `mapstructure:"max_frame_size"`
	MaxPayloadSize    int            `mapstructure:"max_payload_size"`
	QueueLimit        int            `mapstructure:"queue_limit"`
	ReadIdleTimeout   time.Duration  `mapstructure:"read_idle_timeout"`
	KeepaliveInterval time.Duration  `mapstructure:"keepalive_interval"`
	KeepaliveCommand  string         `mapstructure:"keepalive_command"`
	Throttle          ThrottleConfig `mapstructure:"throttle"`
}

var defaults = map[string]any{
	"host":               "127.0.0.1",
	"port":               0,
	"connect_timeout":    "10s",
	"flush_timeout":      "5s",
	"poll_interval":      "50ms",
	"frame_mode":         "line",
	"delimiter":          "\r\n",
	"length_width":       4,
	"little_endian":      false,
	"block_command":      "block",
	"max_frame_size":     1024 * 1024,
	"max_payload_size":   16 * 1024 * 1024,
	"queue_limit":        0,
	"read_idle_timeout":  "0s",
	"keepalive_interval": "0s",
	"keepalive_command":  "",
	"throttle.kind":      "none",
	"throttle.rate":      0,
	"throttle.burst":     1,
}

func newViper() *viper.Viper {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Default returns the configuration used when no file is given, with
// environment overrides applied.
func Default() (*SessionConfig, error) {
	return decode(newViper())
}

// Load reads a YAML file and applies environment overrides.
func Load(path string) (*SessionConfig, error) {
	v := newViper()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config failed: %w", err)
	}
	return decode(v)
}

func decode(v *viper.Viper) (*SessionConfig, error) {
	var c SessionConfig
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config failed: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config failed: %w", err)
	}
	return &c, nil
}

// Validate checks ranges and enumerations.
func (c *SessionConfig) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	switch c.FrameMode {
	case "line", "block":
	default:
		return fmt.Errorf("unknown frame_mode %q", c.FrameMode)
	}
	if c.Delimiter == "" {
		return fmt.Errorf("delimiter must not be empty")
	}
	if c.LengthWidth != 2 && c.LengthWidth != 4 {
		return fmt.Errorf("length_width must be 2 or 4, got %d", c.LengthWidth)
	}
	if c.MaxFrameSize < 0 || c.MaxPayloadSize < 0 || c.QueueLimit < 0 {
		return fmt.Errorf("sizes and limits must not be negative")
	}
	if c.ConnectTimeout < 0 || c.FlushTimeout < 0 || c.ReadIdleTimeout < 0 || c.KeepaliveInterval < 0 {
		return fmt.Errorf("durations must not be negative")
	}
	if c.KeepaliveInterval > 0 && c.KeepaliveCommand == "" {
		return fmt.Errorf("keepalive_interval requires keepalive_command")
	}
	return c.Throttle.Validate()
}

// Validate checks the throttle kind and rates.
func (t ThrottleConfig) Validate() error {
	switch t.Kind {
	case "", "none":
		return nil
	case "token":
		if t.Burst < 1 {
			return fmt.Errorf("throttle burst must be at least 1")
		}
	case "funnel":
		if t.Rate < 1 || t.Rate != math.Trunc(t.Rate) {
			return fmt.Errorf("funnel throttle rate must be a whole number of at least 1, got %v", t.Rate)
		}
	default:
		return fmt.Errorf("unknown throttle kind %q", t.Kind)
	}
	if t.Rate <= 0 {
		return fmt.Errorf("throttle rate must be positive")
	}
	return nil
}

// New builds the throttle, or nil for kind "none".
func (t ThrottleConfig) New() imsession.Throttle {
	switch t.Kind {
	case "token":
		return imsession.NewTokenThrottle(t.Rate, t.Burst)
	case "funnel":
		return imsession.NewFunnelThrottle(int(t.Rate))
	default:
		return nil
	}
}

// Apply reloads th in place with the rates of t. It reports false when th
// is not of the kind t describes, in which case a new session is needed.
func (t ThrottleConfig) Apply(th imsession.Throttle) bool {
	switch th := th.(type) {
	case *imsession.TokenThrottle:
		if t.Kind != "token" {
			return false
		}
		th.Reload(t.Rate, t.Burst)
		return true
	case *imsession.FunnelThrottle:
		if t.Kind != "funnel" {
			return false
		}
		th.Reload(int(t.Rate))
		return true
	default:
		return false
	}
}

// BlockHeader returns the length-prefix header described by the config.
func (c *SessionConfig) BlockHeader() imsession.LengthPrefixHeader {
	h := imsession.LengthPrefixHeader{Width: c.LengthWidth, Command: c.BlockCommand}
	if c.LittleEndian {
		h.Order = binary.LittleEndian
	}
	return h
}

// Options maps the config to session options. The throttle is left out so
// the caller can keep a handle to it for reloads; see ThrottleConfig.New.
func (c *SessionConfig) Options() []imsession.Option {
	mode := imsession.LineMode
	if c.FrameMode == "block" {
		mode = imsession.BlockMode
	}

	opts := []imsession.Option{
		imsession.DialerOption(&imsession.TCPDialer{PollInterval: c.PollInterval}),
		imsession.FrameModeOption(mode),
		imsession.DelimiterOption(c.Delimiter),
		imsession.BlockHeaderOption(c.BlockHeader()),
		imsession.MaxFrameSizeOption(c.MaxFrameSize),
		imsession.MaxPayloadSizeOption(c.MaxPayloadSize),
		imsession.QueueLimitOption(c.QueueLimit),
		imsession.ConnectTimeoutOption(c.ConnectTimeout),
		imsession.FlushTimeoutOption(c.FlushTimeout),
		imsession.ReadIdleTimeoutOption(c.ReadIdleTimeout),
	}
	if c.KeepaliveInterval > 0 {
		opts = append(opts, imsession.KeepaliveOption(c.KeepaliveInterval, c.KeepaliveCommand))
	}
	if mode == imsession.BlockMode {
		opts = append(opts, imsession.EncoderOption(c.BlockHeader()))
	}
	return opts
}
