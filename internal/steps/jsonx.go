package steps

import (
	"encoding/json"
	"fmt"
	"strings"
)

// decodeJSON unmarshals the JSON object in a model response into v. A
// fenced ```json block wins, then any fenced block, then the outermost
// braces.
func decodeJSON(response string, v any) error {
	for _, candidate := range jsonCandidates(response) {
		if err := json.Unmarshal([]byte(candidate), v); err == nil {
			return nil
		}
	}
	return fmt.Errorf("%w: no JSON object found", ErrUnparsable)
}

func jsonCandidates(s string) []string {
	var out []string
	if block, ok := fenced(s, "```json"); ok {
		out = append(out, block)
	}
	if block, ok := fenced(s, "```"); ok {
		out = append(out, block)
	}
	out = append(out, strings.TrimSpace(s))
	if i, j := strings.Index(s, "{"), strings.LastIndex(s, "}"); i >= 0 && j > i {
		out = append(out, s[i:j+1])
	}
	return out
}

func fenced(s, open string) (string, bool) {
	i := strings.Index(s, open)
	if i < 0 {
		return "", false
	}
	rest := s[i+len(open):]
	j := strings.Index(rest, "```")
	if j < 0 {
		return "", false
	}
	return strings.TrimSpace(rest[:j]), true
}
