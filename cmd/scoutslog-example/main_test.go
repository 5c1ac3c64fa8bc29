/*
 * Copyright (c) 2024 yakumioto <yaku.mioto@gmail.com>
 * All rights reserved.
 */

package main

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yakumioto/scoutslog"
	"github.com/yakumioto/scoutslog/tracked"
)

func TestRootCommandFlags(t *testing.T) {
	cmd := newRootCommand()
	require.NoError(t, cmd.Flags().Parse([]string{"--service-name", "checkout", "--protocol", "http", "--insecure"}))

	addr, err := cmd.Flags().GetString("addr")
	require.NoError(t, err)
	assert.Equal(t, ":8080", addr)

	interval, err := cmd.Flags().GetDuration("job-interval")
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, interval)

	name, err := cmd.Flags().GetString("service-name")
	require.NoError(t, err)
	assert.Equal(t, "checkout", name)
}

func TestOptionsConfig(t *testing.T) {
	t.Setenv(scoutslog.EnvServiceName, "scout-service")

	cfg := options{protocol: "http", insecure: true}.config()
	assert.Equal(t, scoutslog.ProtocolHTTP, cfg.Protocol)
	assert.True(t, cfg.Insecure)
	assert.Equal(t, "scout-service", cfg.ResolveServiceName())

	cfg = options{serviceName: "checkout"}.config()
	assert.Equal(t, "checkout", cfg.ResolveServiceName())
}

func TestMux(t *testing.T) {
	buf := &bytes.Buffer{}
	prev := slog.Default()
	slog.SetDefault(slog.New(scoutslog.NewHandler(
		slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}),
		scoutslog.WithServiceName("scoutslog-example"),
	)))
	t.Cleanup(func() {
		slog.SetDefault(prev)
	})

	handler := tracked.Middleware(newMux())

	tests := []struct {
		path   string
		status int
		body   string
	}{
		{"/", http.StatusOK, "hello, world\n"},
		{"/users/42", http.StatusOK, "user 42\n"},
		{"/error", http.StatusInternalServerError, "something went wrong\n"},
	}

	for _, test := range tests {
		t.Run(test.path, func(t *testing.T) {
			buf.Reset()
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, test.path, nil))

			assert.Equal(t, test.status, rec.Code)
			assert.Equal(t, test.body, rec.Body.String())

			line, err := buf.ReadBytes('\n')
			require.NoError(t, err)
			var entry map[string]any
			require.NoError(t, json.Unmarshal(line, &entry))
			assert.Equal(t, "GET "+test.path, entry["controller_entrypoint"])
			assert.Equal(t, "scoutslog-example", entry[scoutslog.ServiceNameKey])
			assert.NotEmpty(t, entry[scoutslog.TransactionIDKey])
		})
	}

	t.Run("user tag", func(t *testing.T) {
		buf.Reset()
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/users/7", nil))

		lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
		require.Len(t, lines, 2)
		var entry map[string]any
		require.NoError(t, json.Unmarshal(lines[0], &entry))
		assert.Equal(t, "loading user", entry["msg"])
		assert.Equal(t, "7", entry["scout_tag_user_id"])
		assert.Equal(t, "SQL/users/find", entry[scoutslog.CurrentOperationKey])
	})
}
