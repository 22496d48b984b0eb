package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		kind    Kind
		attrs   Attributes
		field   string
		wantErr bool
	}{
		{name: "valid code", kind: KindCode, attrs: Attributes{"file_path": "main.go"}},
		{name: "valid code with common fields", kind: KindCode, attrs: Attributes{"file_path": "main.go", "run_id": "r1", "iteration": uint8(2)}},
		{name: "unknown kind", kind: "note", attrs: Attributes{}, wantErr: true},
		{name: "missing required", kind: KindDecision, attrs: Attributes{"agent": "planner", "context_text": ""}, field: "decision_text", wantErr: true},
		{name: "empty required", kind: KindCode, attrs: Attributes{"file_path": ""}, field: "file_path", wantErr: true},
		{name: "empty allowed", kind: KindErrorPattern, attrs: Attributes{"error_text": "boom", "fix_text": ""}},
		{name: "wrong type", kind: KindPlanStep, attrs: Attributes{"user_request": "r", "step_number": "one", "agent": "coder", "action": "a", "files": ""}, field: "step_number", wantErr: true},
		{name: "nested value", kind: KindCode, attrs: Attributes{"file_path": "a.go", "stage": map[string]any{"x": 1}}, field: "stage", wantErr: true},
		{name: "slice value", kind: KindCode, attrs: Attributes{"file_path": []string{"a.go"}}, field: "file_path", wantErr: true},
		{name: "nil value", kind: KindCode, attrs: Attributes{"file_path": nil}, field: "file_path", wantErr: true},
		{name: "not in schema", kind: KindCode, attrs: Attributes{"file_path": "a.go", "owner": "x"}, field: "owner", wantErr: true},
		{name: "reserved kind attribute", kind: KindCode, attrs: Attributes{"file_path": "a.go", "kind": "code"}, field: "kind", wantErr: true},
		{name: "confidence above one", kind: KindReasoningTrace, attrs: traceAttrs(1.5), field: "confidence", wantErr: true},
		{name: "confidence integer", kind: KindReasoningTrace, attrs: traceAttrs(1)},
		{name: "step number zero", kind: KindPlanStep, attrs: Attributes{"user_request": "r", "step_number": 0, "agent": "coder", "action": "a", "files": ""}, field: "step_number", wantErr: true},
		{name: "negative iteration", kind: KindCode, attrs: Attributes{"file_path": "a.go", "iteration": -1}, field: "iteration", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := validate(tt.kind, tt.attrs)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestValidate_NormalizesTypes(t *testing.T) {
	got, err := validate(KindReasoningTrace, Attributes{
		"reasoning_type":  "analysis",
		"problem_text":    "p",
		"conclusion_text": "c",
		"confidence":      float32(0.5),
		"step_count":      int32(4),
	})
	require.NoError(t, err)
	assert.Equal(t, 0.5, got["confidence"])
	assert.Equal(t, int64(4), got["step_count"])
}

func traceAttrs(confidence any) Attributes {
	return Attributes{
		"reasoning_type":  "analysis",
		"problem_text":    "p",
		"conclusion_text": "c",
		"confidence":      confidence,
		"step_count":      1,
	}
}
