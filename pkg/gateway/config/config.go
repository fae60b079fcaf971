package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/vango-go/vai-botapi/pkg/gateway/botapi/protocol"
)

const EnvPrefix = "VAI_BOTAPI_"

type Config struct {
	Host  string `env:"HOST"`
	Port  int    `env:"PORT" envDefault:"8080"`
	Token string `env:"TOKEN"`
	Path  string `env:"PATH" envDefault:"/"`

	KeepAliveTimeout  time.Duration `env:"KEEPALIVE_TIMEOUT" envDefault:"30s"`
	PingInterval      time.Duration `env:"PING_INTERVAL" envDefault:"20s"`
	WriteTimeout      time.Duration `env:"WRITE_TIMEOUT" envDefault:"5s"`
	HandshakeTimeout  time.Duration `env:"HANDSHAKE_TIMEOUT" envDefault:"10s"`
	ReadHeaderTimeout time.Duration `env:"READ_HEADER_TIMEOUT" envDefault:"10s"`

	MaxMessageBytes int64         `env:"MAX_MESSAGE_BYTES" envDefault:"1048576"`
	MaxPlayStreams  int           `env:"MAX_PLAY_STREAMS" envDefault:"0"`
	PlayChunkBytes  int           `env:"PLAY_CHUNK_BYTES" envDefault:"8192"`
	MediaFormats    []string      `env:"MEDIA_FORMATS" envSeparator:"," envDefault:"raw/lpcm16"`
	EchoDelay       time.Duration `env:"ECHO_DELAY" envDefault:"0s"`

	ShutdownGracePeriod time.Duration `env:"SHUTDOWN_GRACE_PERIOD" envDefault:"30s"`
	MetricsEnabled      bool          `env:"METRICS_ENABLED" envDefault:"true"`
	DatabaseURL         string        `env:"DATABASE_URL"`
}

// LoadFromEnv reads VAI_BOTAPI_* variables, applies defaults and validates.
func LoadFromEnv() (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.Host = strings.TrimSpace(c.Host)
	c.Token = strings.TrimSpace(c.Token)
	c.Path = strings.TrimSpace(c.Path)
	c.DatabaseURL = strings.TrimSpace(c.DatabaseURL)

	formats := make([]string, 0, len(c.MediaFormats))
	for _, f := range c.MediaFormats {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		formats = append(formats, f)
	}
	c.MediaFormats = formats
}

// Validate reports the first invalid setting, named by its env var.
func (c Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("VAI_BOTAPI_PORT must be between 0 and 65535")
	}
	if !strings.HasPrefix(c.Path, "/") {
		return fmt.Errorf("VAI_BOTAPI_PATH must start with /")
	}
	if c.KeepAliveTimeout <= 0 {
		return fmt.Errorf("VAI_BOTAPI_KEEPALIVE_TIMEOUT must be > 0")
	}
	if c.PingInterval <= 0 {
		return fmt.Errorf("VAI_BOTAPI_PING_INTERVAL must be > 0")
	}
	if c.PingInterval >= c.KeepAliveTimeout {
		return fmt.Errorf("VAI_BOTAPI_PING_INTERVAL must be < VAI_BOTAPI_KEEPALIVE_TIMEOUT")
	}
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("VAI_BOTAPI_WRITE_TIMEOUT must be > 0")
	}
	if c.HandshakeTimeout <= 0 {
		return fmt.Errorf("VAI_BOTAPI_HANDSHAKE_TIMEOUT must be > 0")
	}
	if c.ReadHeaderTimeout <= 0 {
		return fmt.Errorf("VAI_BOTAPI_READ_HEADER_TIMEOUT must be > 0")
	}
	if c.MaxMessageBytes <= 0 {
		return fmt.Errorf("VAI_BOTAPI_MAX_MESSAGE_BYTES must be > 0")
	}
	if c.MaxPlayStreams < 0 {
		return fmt.Errorf("VAI_BOTAPI_MAX_PLAY_STREAMS must be >= 0")
	}
	if c.PlayChunkBytes <= 0 {
		return fmt.Errorf("VAI_BOTAPI_PLAY_CHUNK_BYTES must be > 0")
	}
	if c.EchoDelay < 0 {
		return fmt.Errorf("VAI_BOTAPI_ECHO_DELAY must be >= 0")
	}
	if c.ShutdownGracePeriod <= 0 {
		return fmt.Errorf("VAI_BOTAPI_SHUTDOWN_GRACE_PERIOD must be > 0")
	}
	if len(c.MediaFormats) == 0 {
		return fmt.Errorf("VAI_BOTAPI_MEDIA_FORMATS must not be empty")
	}
	for _, f := range c.MediaFormats {
		if !knownMediaFormat(protocol.MediaFormat(f)) {
			return fmt.Errorf("VAI_BOTAPI_MEDIA_FORMATS contains unsupported format %q", f)
		}
	}
	return nil
}

// Addr is the host:port the server listens on.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// PreferredMediaFormats returns MediaFormats in preference order.
func (c Config) PreferredMediaFormats() []protocol.MediaFormat {
	out := make([]protocol.MediaFormat, 0, len(c.MediaFormats))
	for _, f := range c.MediaFormats {
		out = append(out, protocol.MediaFormat(f))
	}
	return out
}

func knownMediaFormat(f protocol.MediaFormat) bool {
	switch f {
	case protocol.MediaRawLPCM16, protocol.MediaRawLPCM16At24, protocol.MediaRawMulaw, protocol.MediaRawAlaw,
		protocol.MediaWavLPCM16, protocol.MediaWavMulaw, protocol.MediaWavAlaw:
		return true
	default:
		return false
	}
}
