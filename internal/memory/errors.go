package memory

import (
	"fmt"
	"strings"
)

// ValidationError reports a malformed record. It is a caller bug, never
// a pipeline failure.
type ValidationError struct {
	Kind   Kind
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString("invalid ")
	if e.Kind != "" {
		b.WriteString(string(e.Kind) + " ")
	}
	b.WriteString("record")
	if e.Field != "" {
		fmt.Fprintf(&b, ": attribute %q", e.Field)
	}
	b.WriteString(": " + e.Reason)
	return b.String()
}

// NotFoundError reports a namespace whose backing collection does not
// exist. Remediation describes how to provision it.
type NotFoundError struct {
	Namespace   string
	Collection  string
	Remediation string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("memory namespace %q (collection %q) does not exist: %s", e.Namespace, e.Collection, e.Remediation)
}

// CapacityError reports that the backing store stayed unavailable after
// retries.
type CapacityError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("memory store unavailable: %s failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *CapacityError) Unwrap() error { return e.Err }

func remediation(namespace string, dimension int, model string) string {
	return fmt.Sprintf(
		"provision it with `fuzagent index create --namespace %s` "+
			"(similarity metric: cosine, embedding model: %s, dimension: %d, content field: record content is the embedding input)",
		namespace, model, dimension)
}
