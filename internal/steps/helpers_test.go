package steps

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Fuzyal234/Fuz-AgenticAI/internal/memory"
	"github.com/Fuzyal234/Fuz-AgenticAI/internal/memory/memorytest"
)

type mockLLM struct {
	mock.Mock
}

func (m *mockLLM) Invoke(ctx context.Context, stage, prompt string) (string, error) {
	args := m.Called(ctx, stage, prompt)
	return args.String(0), args.Error(1)
}

// respond stubs a single answer for stage and records the prompt.
func (m *mockLLM) respond(stage Stage, answer string, err error, prompt *string) {
	call := m.On("Invoke", mock.Anything, string(stage), mock.Anything).Return(answer, err).Once()
	if prompt != nil {
		call.Run(func(args mock.Arguments) { *prompt = args.String(2) })
	}
}

func newTestDeps(t *testing.T, llm *mockLLM) (Deps, *memory.Store) {
	t.Helper()
	store := memorytest.NewStore(t)
	return Deps{LLM: llm, Memory: store, Timeout: time.Second}, store
}

func testInput() Input {
	return Input{RunID: "3f2a9c1e-0000-4000-8000-000000000001", Iteration: 0, UserRequest: "add a health endpoint"}
}

func searchKind(t *testing.T, store *memory.Store, query string, kind memory.Kind) []memory.Result {
	t.Helper()
	results, err := store.Search(context.Background(), query, 20, "", memory.Filter{Kind: kind})
	require.NoError(t, err)
	return results
}
