package steps

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		A int `json:"a"`
	}
	tests := []struct {
		name    string
		in      string
		want    int
		wantErr bool
	}{
		{"plain", `{"a": 1}`, 1, false},
		{"json fence", "Here you go:\n```json\n{\"a\": 2}\n```\nthanks", 2, false},
		{"bare fence", "```\n{\"a\": 3}\n```", 3, false},
		{"prose around braces", "The answer is {\"a\": 4} as requested.", 4, false},
		{"broken json fence falls back to braces", "```json\nnope\n``` but {\"a\": 5}", 5, false},
		{"no json", "I cannot help with that.", 0, true},
		{"empty", "", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p payload
			err := decodeJSON(tt.in, &p)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnparsable)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.A)
		})
	}
}
