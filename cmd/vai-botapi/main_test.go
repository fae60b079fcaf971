package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vango-go/vai-botapi/pkg/gateway/config"
	"github.com/vango-go/vai-botapi/pkg/gateway/handlers"
	"github.com/vango-go/vai-botapi/pkg/gateway/journal"
	gatewayserver "github.com/vango-go/vai-botapi/pkg/gateway/server"
)

func validConfig() config.Config {
	return config.Config{
		Host:                "127.0.0.1",
		Port:                0,
		Path:                "/",
		KeepAliveTimeout:    10 * time.Second,
		PingInterval:        5 * time.Second,
		WriteTimeout:        2 * time.Second,
		HandshakeTimeout:    2 * time.Second,
		ReadHeaderTimeout:   2 * time.Second,
		MaxMessageBytes:     64 * 1024,
		PlayChunkBytes:      1024,
		MediaFormats:        []string{"raw/lpcm16"},
		ShutdownGracePeriod: time.Second,
	}
}

func noSignals() (func(chan<- os.Signal, ...os.Signal), func(chan<- os.Signal)) {
	return func(chan<- os.Signal, ...os.Signal) {}, func(chan<- os.Signal) {}
}

func TestRunMain_ReturnsNonZeroWhenConfigLoadFails(t *testing.T) {
	notify, stop := noSignals()
	var stderr bytes.Buffer
	exitCode := runMain(context.Background(), []string{"--env-file", ""}, &stderr, botDeps{
		loadConfig: func() (config.Config, error) {
			return config.Config{}, errors.New("boom")
		},
		newServer: func(config.Config, *slog.Logger, handlers.ConversationHandler, ...gatewayserver.Option) *gatewayserver.Server {
			t.Fatalf("newServer should not be called when config load fails")
			return nil
		},
		signalNotify: notify,
		signalStop:   stop,
	})

	assert.Equal(t, 1, exitCode)
	assert.Contains(t, stderr.String(), "load config: boom")
}

func TestRunMain_FlagsOverrideEnvironment(t *testing.T) {
	notify, stop := noSignals()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var got config.Config
	var stderr bytes.Buffer
	exitCode := runMain(ctx, []string{"--env-file", "", "--token", "flag_token", "--port", "0", "--host", "127.0.0.1"}, &stderr, botDeps{
		loadConfig: func() (config.Config, error) {
			cfg := validConfig()
			cfg.Host = "0.0.0.0"
			cfg.Port = 8080
			cfg.Token = "env_token"
			return cfg, nil
		},
		newServer: func(cfg config.Config, logger *slog.Logger, h handlers.ConversationHandler, opts ...gatewayserver.Option) *gatewayserver.Server {
			got = cfg
			return gatewayserver.New(cfg, logger, h, opts...)
		},
		signalNotify: notify,
		signalStop:   stop,
	})

	require.Equal(t, 0, exitCode, stderr.String())
	assert.Equal(t, "flag_token", got.Token)
	assert.Equal(t, 0, got.Port)
	assert.Equal(t, "127.0.0.1", got.Host)
}

func TestRunMain_InvalidFlagValueFailsValidation(t *testing.T) {
	notify, stop := noSignals()
	var stderr bytes.Buffer
	exitCode := runMain(context.Background(), []string{"--env-file", "", "--port", "70000"}, &stderr, botDeps{
		loadConfig:   func() (config.Config, error) { return validConfig(), nil },
		newServer:    gatewayserver.New,
		signalNotify: notify,
		signalStop:   stop,
	})

	assert.Equal(t, 1, exitCode)
	assert.Contains(t, stderr.String(), "VAI_BOTAPI_PORT")
}

func TestRunBotAPI_JournalOpenFailure(t *testing.T) {
	notify, stop := noSignals()
	cfg := validConfig()
	cfg.DatabaseURL = "postgres://example.invalid/bot"

	err := runBotAPI(context.Background(), slog.New(slog.NewTextHandler(io.Discard, nil)), cfg, botDeps{
		openJournal: func(context.Context, string) (journal.Journal, error) {
			return nil, errors.New("unreachable")
		},
		newServer: func(config.Config, *slog.Logger, handlers.ConversationHandler, ...gatewayserver.Option) *gatewayserver.Server {
			t.Fatalf("newServer should not be called when the journal fails to open")
			return nil
		},
		signalNotify: notify,
		signalStop:   stop,
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "open journal")
}

func TestEchoBot_RepliesToTextMessages(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := gatewayserver.New(validConfig(), logger, newEchoBot(logger))
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/", http.Header{})
	require.NoError(t, err)
	defer conn.Close()

	readType := func() map[string]any {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var msg map[string]any
		require.NoError(t, conn.ReadJSON(&msg))
		return msg
	}

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "session.initiate", "conversationId": "conv-echo"}))
	assert.Equal(t, "session.accepted", readType()["type"])

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":       "activities",
		"activities": []map[string]any{{"type": "message", "text": "hello"}},
	}))
	msg := readType()
	require.Equal(t, "activities", msg["type"])
	activities, ok := msg["activities"].([]any)
	require.True(t, ok)
	require.Len(t, activities, 1)
	assert.Equal(t, "You said: hello", activities[0].(map[string]any)["text"])

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "userStream.start"}))
	assert.Equal(t, "userStream.started", readType()["type"])
	require.NoError(t, conn.WriteJSON(map[string]any{"type": "userStream.chunk", "audioChunk": "QUI="}))
	require.NoError(t, conn.WriteJSON(map[string]any{"type": "userStream.stop"}))

	// The recognition races the stop acknowledgement.
	byType := map[string]map[string]any{}
	for range 2 {
		msg := readType()
		byType[msg["type"].(string)] = msg
	}
	require.Contains(t, byType, "userStream.stopped")
	recognition, ok := byType["userStream.speech.recognition"]
	require.True(t, ok, "missing recognition: %v", byType)
	assert.Contains(t, recognition["alternatives"].([]any)[0].(map[string]any)["text"], "received 2 bytes")
}
