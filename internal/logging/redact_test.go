package logging

import (
	"strings"
	"testing"

	"github.com/Fuzyal234/Fuz-AgenticAI/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func encodeWith(t *testing.T, cfg RedactionConfig, fields ...zap.Field) string {
	t.Helper()
	enc, err := NewRedactingEncoder(newEncoder("json"), cfg)
	require.NoError(t, err)
	buf, err := enc.EncodeEntry(zapcore.Entry{Message: "msg"}, fields)
	require.NoError(t, err)
	return buf.String()
}

func TestRedactingEncoder(t *testing.T) {
	cfg := NewDefaultConfig().Redaction

	tests := []struct {
		name    string
		field   zap.Field
		leak    string
		present string
	}{
		{name: "sensitive key", field: zap.String("token", "abc123"), leak: "abc123", present: "[REDACTED]"},
		{name: "key case insensitive", field: zap.String("API_KEY", "k-1"), leak: "k-1", present: "[REDACTED]"},
		{name: "github token value", field: zap.String("note", "use ghp_abcdefghijklmnopqrstuvwxyz now"), leak: "ghp_abcdefghij", present: "use [REDACTED] now"},
		{name: "bearer value", field: zap.String("header", "Bearer xyz.abc"), leak: "xyz.abc", present: "[REDACTED]"},
		{name: "plain", field: zap.String("file", "main.go"), present: "main.go"},
		{name: "reflected sensitive", field: zap.Any("secret", map[string]string{"a": "b"}), leak: `"a"`, present: "[REDACTED]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := encodeWith(t, cfg, tt.field)
			if tt.leak != "" {
				assert.NotContains(t, out, tt.leak)
			}
			assert.Contains(t, out, tt.present)
		})
	}
}

func TestRedactingEncoder_Disabled(t *testing.T) {
	out := encodeWith(t, RedactionConfig{}, zap.String("token", "abc123"))
	assert.Contains(t, out, "abc123")
}

func TestRedactingEncoder_BadPattern(t *testing.T) {
	_, err := NewRedactingEncoder(newEncoder("json"), RedactionConfig{Enabled: true, Patterns: []string{"("}})
	assert.Error(t, err)
}

func TestSecretField(t *testing.T) {
	f := Secret("api_key", config.Secret("sk-123456"))
	assert.Equal(t, "[REDACTED:9]", f.String)
	assert.False(t, strings.Contains(f.String, "sk-"))
}
