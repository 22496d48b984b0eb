package memory

import (
	"context"
	"fmt"
	"strings"
)

const (
	// ContextSeparator joins rendered records.
	ContextSeparator = "\n\n---\n\n"

	// NoContext is the summary of an empty result.
	NoContext = "No relevant context found."

	excerptLength = 500
)

// ContextSummary renders the top maxResults records for query into a
// prompt-ready block.
func (s *Store) ContextSummary(ctx context.Context, query string, maxResults int, namespace string) (string, error) {
	results, err := s.Search(ctx, query, maxResults, namespace, Filter{})
	if err != nil {
		return "", err
	}
	recs := make([]Record, len(results))
	for i, r := range results {
		recs[i] = r.Record
	}
	return Summarize(recs), nil
}

// Summarize renders records with Render and joins them.
func Summarize(recs []Record) string {
	if len(recs) == 0 {
		return NoContext
	}
	parts := make([]string, len(recs))
	for i, r := range recs {
		parts[i] = Render(r)
	}
	return strings.Join(parts, ContextSeparator)
}

// Render formats a record using its kind's template.
func Render(r Record) string {
	a := r.Attributes
	switch r.Kind {
	case KindCode:
		return fmt.Sprintf("File: %s\nCode: %s", a.String("file_path"), truncate(r.Content, excerptLength))
	case KindDecision:
		return fmt.Sprintf("Decision: %s\nContext: %s", a.String("decision_text"), truncate(a.String("context_text"), excerptLength))
	case KindErrorPattern:
		fix := a.String("fix_text")
		if fix == "" {
			fix = "no confirmed fix"
		}
		return fmt.Sprintf("Error: %s\nFix: %s", a.String("error_text"), fix)
	case KindReasoningTrace:
		return fmt.Sprintf("Problem: %s\nConclusion: %s\nConfidence: %.2f",
			a.String("problem_text"), a.String("conclusion_text"), a.Float("confidence"))
	case KindPlan:
		return fmt.Sprintf("Plan for: %s\nUnderstanding: %s\nSteps: %d",
			a.String("user_request"), a.String("understanding"), a.Int("step_count"))
	case KindPlanStep:
		return fmt.Sprintf("Step %d: %s\nAgent: %s\nFiles: %s",
			a.Int("step_number"), a.String("action"), a.String("agent"), a.String("files"))
	default:
		return truncate(r.Content, excerptLength)
	}
}
