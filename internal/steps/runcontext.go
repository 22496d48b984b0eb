package steps

import (
	"fmt"
	"strings"

	"github.com/Fuzyal234/Fuz-AgenticAI/internal/memory"
)

// Context is the effective context of a stage: the run's own history
// followed by retrieved memory. Retrieved records about a subject the
// history already covers are moved to Shadowed and left out of the
// prompt.
type Context struct {
	History   []HistoryEntry
	Retrieved []memory.Record
	Shadowed  []memory.Record
}

// Merge builds a Context with history taking precedence over retrieved.
func Merge(history []HistoryEntry, retrieved []memory.Record) Context {
	covered := make(map[string]bool, len(history))
	for _, h := range history {
		if h.Kind != "" && h.Subject != "" {
			covered[subjectKey(h.Kind, h.Subject)] = true
		}
	}

	c := Context{History: append([]HistoryEntry(nil), history...)}
	seen := make(map[string]bool, len(retrieved))
	for _, r := range retrieved {
		if seen[r.ID] {
			continue
		}
		seen[r.ID] = true
		if s := recordSubject(r); s != "" && covered[subjectKey(r.Kind, s)] {
			c.Shadowed = append(c.Shadowed, r)
			continue
		}
		c.Retrieved = append(c.Retrieved, r)
	}
	return c
}

func subjectKey(kind memory.Kind, subject string) string {
	return string(kind) + "\x00" + subject
}

// recordSubject returns what a record is about, per kind.
func recordSubject(r memory.Record) string {
	a := r.Attributes
	switch r.Kind {
	case memory.KindCode:
		return a.String("file_path")
	case memory.KindDecision:
		return a.String("agent")
	case memory.KindErrorPattern:
		return a.String("error_text")
	case memory.KindReasoningTrace:
		return a.String("problem_text")
	case memory.KindPlan:
		return a.String("user_request")
	case memory.KindPlanStep:
		return fmt.Sprintf("%s#%d", a.String("user_request"), a.Int("step_number"))
	}
	return ""
}

// PlanStepSubject is the subject of a plan step history entry.
func PlanStepSubject(userRequest string, number int) string {
	return fmt.Sprintf("%s#%d", userRequest, number)
}

// Render formats the context for a prompt, history first.
func (c Context) Render() string {
	var b strings.Builder
	b.WriteString("Current run (authoritative, overrides memory):\n")
	if len(c.History) == 0 {
		b.WriteString("(no prior stages)\n")
	}
	for _, h := range c.History {
		fmt.Fprintf(&b, "[iteration %d, %s] %s\n", h.Iteration, h.Stage, h.Text)
	}
	b.WriteString("\nRelevant memory:\n")
	b.WriteString(c.renderRetrieved())
	return b.String()
}

func (c Context) renderRetrieved() string {
	return memory.Summarize(c.Retrieved)
}
