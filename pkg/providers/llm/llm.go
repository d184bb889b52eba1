// Package llm wraps the three cloud chat-completion backends (Anthropic,
// OpenAI, Google) the prior voice-agent's voice agent used for dialogue turns
// (pkg/orchestrator/types.go's LLMProvider/Message contract) behind a
// smaller Completer seam, then drives the analysis scheduler's summary
// and task-extraction passes from whichever Completer the
// operator configures.
package llm

import "context"

// Message is one turn in a chat-completion request.
type Message struct {
	Role    string
	Content string
}

// CompletionResult is a single completion call's text plus the token
// counts the provider reported, used to feed pkg/cost.Accumulator.
type CompletionResult struct {
	Text      string
	TokensIn  int64
	TokensOut int64
}

// Completer is the minimal seam the analysis summary/task passes need
// from a cloud chat model.
type Completer interface {
	Complete(ctx context.Context, messages []Message) (CompletionResult, error)
	Name() string
}
