package types

import "context"

// LLMClient abstracts the language-model backend used by the auditor and
// the strategy explorer. Implementations must be safe for concurrent use.
type LLMClient interface {
	// Complete sends a single user prompt and returns the raw text reply.
	Complete(ctx context.Context, prompt string) (string, error)

	// CompleteWithSystem sends a system prompt alongside the user prompt.
	CompleteWithSystem(ctx context.Context, system, user string) (string, error)

	// Available reports whether the client is configured and usable.
	// Callers must check this before spending audit budget.
	Available() bool

	// Model returns the backend model identifier, for audit records.
	Model() string
}
