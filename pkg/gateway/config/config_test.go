package config

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vango-go/vai-botapi/pkg/gateway/botapi/protocol"
)

var botapiEnvKeys = []string{
	"VAI_BOTAPI_HOST",
	"VAI_BOTAPI_PORT",
	"VAI_BOTAPI_TOKEN",
	"VAI_BOTAPI_PATH",
	"VAI_BOTAPI_KEEPALIVE_TIMEOUT",
	"VAI_BOTAPI_PING_INTERVAL",
	"VAI_BOTAPI_WRITE_TIMEOUT",
	"VAI_BOTAPI_HANDSHAKE_TIMEOUT",
	"VAI_BOTAPI_READ_HEADER_TIMEOUT",
	"VAI_BOTAPI_MAX_MESSAGE_BYTES",
	"VAI_BOTAPI_MAX_PLAY_STREAMS",
	"VAI_BOTAPI_PLAY_CHUNK_BYTES",
	"VAI_BOTAPI_MEDIA_FORMATS",
	"VAI_BOTAPI_ECHO_DELAY",
	"VAI_BOTAPI_SHUTDOWN_GRACE_PERIOD",
	"VAI_BOTAPI_METRICS_ENABLED",
	"VAI_BOTAPI_DATABASE_URL",
}

func clearBotAPIEnv(t *testing.T) {
	t.Helper()
	for _, key := range botapiEnvKeys {
		t.Setenv(key, "")
		_ = os.Unsetenv(key)
	}
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	clearBotAPIEnv(t)

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "", cfg.Host)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, ":8080", cfg.Addr())
	assert.Equal(t, "", cfg.Token)
	assert.Equal(t, "/", cfg.Path)
	assert.Equal(t, 30*time.Second, cfg.KeepAliveTimeout)
	assert.Equal(t, 20*time.Second, cfg.PingInterval)
	assert.Equal(t, 5*time.Second, cfg.WriteTimeout)
	assert.Equal(t, 10*time.Second, cfg.HandshakeTimeout)
	assert.Equal(t, 10*time.Second, cfg.ReadHeaderTimeout)
	assert.Equal(t, int64(1<<20), cfg.MaxMessageBytes)
	assert.Equal(t, 0, cfg.MaxPlayStreams)
	assert.Equal(t, 8192, cfg.PlayChunkBytes)
	assert.Equal(t, []protocol.MediaFormat{protocol.MediaRawLPCM16}, cfg.PreferredMediaFormats())
	assert.Equal(t, time.Duration(0), cfg.EchoDelay)
	assert.Equal(t, 30*time.Second, cfg.ShutdownGracePeriod)
	assert.True(t, cfg.MetricsEnabled)
	assert.Equal(t, "", cfg.DatabaseURL)
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	clearBotAPIEnv(t)
	t.Setenv("VAI_BOTAPI_HOST", "127.0.0.1")
	t.Setenv("VAI_BOTAPI_PORT", "9090")
	t.Setenv("VAI_BOTAPI_TOKEN", " secret ")
	t.Setenv("VAI_BOTAPI_PATH", "/bot")
	t.Setenv("VAI_BOTAPI_MEDIA_FORMATS", "raw/mulaw, raw/lpcm16")
	t.Setenv("VAI_BOTAPI_ECHO_DELAY", "250ms")
	t.Setenv("VAI_BOTAPI_MAX_PLAY_STREAMS", "4")
	t.Setenv("VAI_BOTAPI_METRICS_ENABLED", "false")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9090", cfg.Addr())
	assert.Equal(t, "secret", cfg.Token)
	assert.Equal(t, "/bot", cfg.Path)
	assert.Equal(t, []protocol.MediaFormat{protocol.MediaRawMulaw, protocol.MediaRawLPCM16}, cfg.PreferredMediaFormats())
	assert.Equal(t, 250*time.Millisecond, cfg.EchoDelay)
	assert.Equal(t, 4, cfg.MaxPlayStreams)
	assert.False(t, cfg.MetricsEnabled)
}

func TestLoadFromEnv_RejectsInvalidValues(t *testing.T) {
	cases := []struct {
		key, value, want string
	}{
		{"VAI_BOTAPI_PORT", "70000", "VAI_BOTAPI_PORT"},
		{"VAI_BOTAPI_PORT", "not-a-number", "parse env"},
		{"VAI_BOTAPI_PATH", "bot", "VAI_BOTAPI_PATH"},
		{"VAI_BOTAPI_KEEPALIVE_TIMEOUT", "0s", "VAI_BOTAPI_KEEPALIVE_TIMEOUT"},
		{"VAI_BOTAPI_PING_INTERVAL", "45s", "VAI_BOTAPI_PING_INTERVAL"},
		{"VAI_BOTAPI_WRITE_TIMEOUT", "-1s", "VAI_BOTAPI_WRITE_TIMEOUT"},
		{"VAI_BOTAPI_MAX_MESSAGE_BYTES", "0", "VAI_BOTAPI_MAX_MESSAGE_BYTES"},
		{"VAI_BOTAPI_MAX_PLAY_STREAMS", "-1", "VAI_BOTAPI_MAX_PLAY_STREAMS"},
		{"VAI_BOTAPI_PLAY_CHUNK_BYTES", "0", "VAI_BOTAPI_PLAY_CHUNK_BYTES"},
		{"VAI_BOTAPI_ECHO_DELAY", "-5ms", "VAI_BOTAPI_ECHO_DELAY"},
		{"VAI_BOTAPI_MEDIA_FORMATS", "audio/opus", "VAI_BOTAPI_MEDIA_FORMATS"},
	}

	for _, tc := range cases {
		t.Run(tc.key+"="+tc.value, func(t *testing.T) {
			clearBotAPIEnv(t)
			t.Setenv(tc.key, tc.value)

			_, err := LoadFromEnv()
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tc.want), "error %q does not mention %q", err, tc.want)
		})
	}
}
