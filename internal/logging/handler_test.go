// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"

	"github.com/holomush/authcore/pkg/errutil"
)

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry), "failed to parse JSON: %s", buf.String())
	return entry
}

func TestSetup_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup("authcore", "1.0.0", "json", slog.LevelInfo, &buf)

	logger.Info("test message")

	entry := decode(t, &buf)
	assert.Equal(t, "test message", entry["msg"])
	assert.Equal(t, "authcore", entry["service"])
	assert.Equal(t, "1.0.0", entry["version"])
	assert.Contains(t, entry, "time")
	assert.Contains(t, entry, "level")
}

func TestSetup_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup("authcore", "1.0.0", "text", nil, &buf)

	logger.Info("test message")

	assert.Contains(t, buf.String(), "test message")
	assert.Contains(t, buf.String(), "service=authcore")
}

func TestSetup_DefaultFormatIsJSON(t *testing.T) {
	var buf bytes.Buffer
	Setup("authcore", "1.0.0", "", nil, &buf).Info("test message")
	decode(t, &buf)
}

func TestSetup_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup("authcore", "1.0.0", "json", slog.LevelWarn, &buf)

	logger.Info("dropped")
	assert.Zero(t, buf.Len())

	logger.Warn("kept")
	assert.Equal(t, "kept", decode(t, &buf)["msg"])
}

func TestHandler_TraceContext(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup("authcore", "1.0.0", "json", nil, &buf)

	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)
	ctx := trace.ContextWithSpanContext(context.Background(),
		trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID}))

	logger.InfoContext(ctx, "traced message")

	entry := decode(t, &buf)
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", entry["trace_id"])
	assert.Equal(t, "00f067aa0ba902b7", entry["span_id"])
}

func TestHandler_NoTraceContext(t *testing.T) {
	var buf bytes.Buffer
	Setup("authcore", "1.0.0", "json", nil, &buf).Info("no trace message")

	entry := decode(t, &buf)
	assert.NotContains(t, entry, "trace_id")
	assert.NotContains(t, entry, "span_id")
}

func TestRedaction(t *testing.T) {
	tests := []struct {
		name  string
		attrs []any
		key   string
		want  any
	}{
		{name: "password", attrs: []any{"password", "hunter22"}, key: "password", want: Redacted},
		{name: "refresh token", attrs: []any{"refresh_token", "eyJ..."}, key: "refresh_token", want: Redacted},
		{name: "numeric code", attrs: []any{"code", "123456"}, key: "code", want: Redacted},
		{name: "error code kept", attrs: []any{"code", "AUTH_INVALID_CREDENTIALS"}, key: "code", want: "AUTH_INVALID_CREDENTIALS"},
		{name: "case insensitive", attrs: []any{"Secret", "s3cr3t"}, key: "Secret", want: Redacted},
		{name: "ordinary attribute", attrs: []any{"email", "a@example.com"}, key: "email", want: "a@example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			Setup("authcore", "1.0.0", "json", nil, &buf).Info("msg", tt.attrs...)
			assert.Equal(t, tt.want, decode(t, &buf)[tt.key])
		})
	}
}

func TestRedaction_InsideGroups(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup("authcore", "1.0.0", "json", nil, &buf)

	logger.Info("msg", slog.Group("request", slog.String("token", "abc"), slog.String("user", "alice")))

	group, ok := decode(t, &buf)["request"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, Redacted, group["token"])
	assert.Equal(t, "alice", group["user"])
}

func TestRedaction_ErrutilOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup("authcore", "1.0.0", "json", nil, &buf)

	errutil.LogError(logger, "login failed", oops.Code("LOG_TEST").Errorf("boom"))

	assert.False(t, strings.Contains(buf.String(), Redacted))
	assert.Equal(t, "LOG_TEST", decode(t, &buf)["code"])
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"", slog.LevelInfo, false},
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"verbose", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				errutil.AssertErrorCode(t, err, "LOG_LEVEL_INVALID")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSetDefault(t *testing.T) {
	original := slog.Default()
	defer slog.SetDefault(original)

	logger := SetDefault("authcore", "2.0.0", "json", slog.LevelDebug)

	assert.Same(t, logger, slog.Default())
}
