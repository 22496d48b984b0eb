package steps

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/Fuzyal234/Fuz-AgenticAI/internal/memory"
)

// maxFileExcerpt bounds each current file shown to the model.
const maxFileExcerpt = 4000

const codePrompt = `You are a coding agent. Implement the request by writing complete file contents.

Request: %s

Plan:
%s

Current files:
%s
%s
Context:
%s

Respond with a JSON object:
{
  "changes": [{"file_path": "relative/path", "content": "complete new file content"}],
  "summary": "one line describing the change"
}`

const fixSection = `
The previous attempt failed:
%s

Similar past errors and their fixes:
%s
`

// Coder generates or fixes code in the workspace.
type Coder struct {
	deps Deps
	ws   *Workspace
}

// NewCoder returns the Code stage executor writing into ws.
func NewCoder(deps Deps, ws *Workspace) *Coder {
	return &Coder{deps: deps.withDefaults(), ws: ws}
}

func (c *Coder) Stage() Stage { return StageCode }

type codeResponse struct {
	Changes []struct {
		FilePath string `json:"file_path"`
		Content  string `json:"content"`
	} `json:"changes"`
	Summary string `json:"summary"`
}

// Execute asks for file contents, writes them and returns the change.
// When in.Failure is set the prompt carries it together with past error
// patterns that resemble it.
func (c *Coder) Execute(ctx context.Context, in Input) (Result, error) {
	return c.deps.guard(ctx, StageCode, func(ctx context.Context) (Result, error) {
		if in.Plan == nil {
			return nil, fmt.Errorf("%w: no plan", ErrMissingInput)
		}
		retrieved, err := c.deps.retrieve(ctx, in, in.UserRequest+"\n"+in.Plan.Understanding, memory.Filter{})
		if err != nil {
			return nil, err
		}

		fix := ""
		if in.Failure != "" {
			similar, err := c.deps.retrieve(ctx, in, in.Failure, memory.Filter{Kind: memory.KindErrorPattern})
			if err != nil {
				return nil, err
			}
			retrieved = append(retrieved, similar...)
			fix = fmt.Sprintf(fixSection, in.Failure, Merge(in.History, similar).renderRetrieved())
		}
		rc := Merge(in.History, retrieved)

		files, err := c.currentFiles(in)
		if err != nil {
			return nil, err
		}
		prompt := fmt.Sprintf(codePrompt, in.UserRequest, in.Plan.Text(), files, fix, rc.Render())
		response, err := c.deps.invoke(ctx, StageCode, prompt)
		if err != nil {
			return nil, err
		}

		var parsed codeResponse
		if err := decodeJSON(response, &parsed); err != nil {
			return nil, err
		}
		change, err := c.apply(parsed)
		if err != nil {
			return nil, err
		}

		for _, f := range change.Files {
			if err := c.deps.put(ctx, in, StageCode, memory.KindCode, f.Content, memory.Attributes{"file_path": f.Path}); err != nil {
				return nil, err
			}
		}
		decision := "Code changes for: " + in.UserRequest
		if in.Failure != "" {
			decision = "Fix for: " + in.UserRequest
		}
		if err := c.deps.remember(ctx, in, StageCode, "coder", decision, change.Summary); err != nil {
			return nil, err
		}
		c.deps.Logger.Info(ctx, "code written", zap.Strings("files", change.Paths()))
		return change, nil
	})
}

// apply writes the response files. Files whose content is unchanged are
// not part of the change.
func (c *Coder) apply(parsed codeResponse) (*CodeChange, error) {
	change := &CodeChange{Summary: strings.TrimSpace(parsed.Summary)}
	for _, ch := range parsed.Changes {
		path := strings.TrimSpace(ch.FilePath)
		if path == "" {
			continue
		}
		prev, exists, err := c.ws.Read(path)
		if err != nil {
			return nil, err
		}
		if exists && prev == ch.Content {
			continue
		}
		if err := c.ws.Write(path, ch.Content); err != nil {
			return nil, err
		}
		change.Files = append(change.Files, FileChange{
			Path:     path,
			Previous: prev,
			Content:  ch.Content,
			Created:  !exists,
			Patch:    unifiedDiff(path, prev, ch.Content, !exists),
		})
	}
	if len(change.Files) == 0 {
		return nil, ErrNoChanges
	}
	if change.Summary == "" {
		change.Summary = "Updated " + strings.Join(change.Paths(), ", ")
	}
	return change, nil
}

// currentFiles renders the files named by the plan and the previous change.
func (c *Coder) currentFiles(in Input) (string, error) {
	paths := map[string]bool{}
	for _, st := range in.Plan.Steps {
		for _, f := range st.Files {
			paths[f] = true
		}
	}
	if in.Change != nil {
		for _, p := range in.Change.Paths() {
			paths[p] = true
		}
	}
	sorted := make([]string, 0, len(paths))
	for p := range paths {
		sorted = append(sorted, p)
	}
	sort.Strings(sorted)

	var b strings.Builder
	for _, p := range sorted {
		content, exists, err := c.ws.Read(p)
		if err != nil {
			return "", err
		}
		if !exists {
			fmt.Fprintf(&b, "--- %s (new file)\n", p)
			continue
		}
		if c := Clip(content, maxFileExcerpt); len(c) < len(content) {
			content = c + "\n..."
		}
		fmt.Fprintf(&b, "--- %s\n%s\n", p, content)
	}
	if b.Len() == 0 {
		return "(none)\n", nil
	}
	return b.String(), nil
}
