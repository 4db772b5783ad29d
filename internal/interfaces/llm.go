package interfaces

import (
	"context"

	"github.com/ternarybob/corpus/internal/models"
)

// LLMMessage is a single turn in a completion request.
type LLMMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// LLMService abstracts the completion and embedding providers. The mock
// provider satisfies this interface too, so the pipeline and chat layers
// degrade to deterministic output instead of failing when no provider is
// configured.
type LLMService interface {
	// Complete runs a chat completion and returns the full response text.
	Complete(ctx context.Context, system string, messages []LLMMessage) (string, error)

	// CompleteStream runs a chat completion and hands chunks to emit as they
	// arrive. Implementations stop when ctx is cancelled or emit errors.
	CompleteStream(ctx context.Context, system string, messages []LLMMessage, emit func(chunk string) error) error

	// Embed returns one vector per input text.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// ExtractMetadata asks the model for structured document metadata.
	ExtractMetadata(ctx context.Context, title, content string) (*models.DocumentMetadata, error)

	// Provider reports which backend is active (openai, anthropic, gemini, mock).
	Provider() string

	// Available reports whether the backend is reachable.
	Available(ctx context.Context) bool
}
