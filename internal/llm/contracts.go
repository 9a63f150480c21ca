package llm

import "context"

// Role values accepted in Message.Role.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is one chat turn. System may hold several blocks; they are
// sent in order ahead of Messages.
type CompletionRequest struct {
	Model       string // optional override of the client default
	System      []string
	Messages    []Message
	Temperature float32
	TopP        float32
	MaxTokens   int
}

// Completer is the "submit prompt -> text completion" contract.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// Embedder is the "submit texts -> embeddings" contract. Output order matches input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Ask is a shorthand for a single user turn under one system prompt.
func Ask(ctx context.Context, c Completer, system, user string, temperature, topP float32, maxTokens int) (string, error) {
	return c.Complete(ctx, CompletionRequest{
		System:      []string{system},
		Messages:    []Message{{Role: RoleUser, Content: user}},
		Temperature: temperature,
		TopP:        topP,
		MaxTokens:   maxTokens,
	})
}
