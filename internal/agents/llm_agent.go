package agents

import (
	"context"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/corpus/internal/interfaces"
	"github.com/ternarybob/corpus/internal/models"
)

// LLMAgent streams a completion for the message, with session history as
// conversational context.
type LLMAgent struct {
	name         string
	keywords     []string
	phrases      []string
	systemPrompt string
	llmSvc       interfaces.LLMService
	logger       arbor.ILogger
}

// NewLLMAgent creates a plain conversational agent from its descriptor.
func NewLLMAgent(d Descriptor, llmSvc interfaces.LLMService, logger arbor.ILogger) *LLMAgent {
	return &LLMAgent{
		name:         d.Name,
		keywords:     d.Keywords,
		phrases:      d.Phrases,
		systemPrompt: d.SystemPrompt,
		llmSvc:       llmSvc,
		logger:       logger,
	}
}

func (a *LLMAgent) Name() string { return a.name }

func (a *LLMAgent) Keywords() []string { return a.keywords }

func (a *LLMAgent) Phrases() []string { return a.phrases }

func (a *LLMAgent) Respond(ctx context.Context, message string, history []models.ChatTurn, emit func(models.StreamEvent) error) error {
	if err := emit(models.StreamEvent{Type: models.StreamEventThinking, Content: "Thinking..."}); err != nil {
		return err
	}

	return a.llmSvc.CompleteStream(ctx, a.systemPrompt, historyMessages(history, message), func(chunk string) error {
		return emit(models.StreamEvent{Type: models.StreamEventContentChunk, Content: chunk})
	})
}

// historyMessages converts session turns plus the current message into the
// provider request shape.
func historyMessages(history []models.ChatTurn, message string) []interfaces.LLMMessage {
	messages := make([]interfaces.LLMMessage, 0, len(history)+1)
	for _, turn := range history {
		role := "user"
		if turn.Role == models.TurnRoleAI {
			role = "assistant"
		}
		messages = append(messages, interfaces.LLMMessage{Role: role, Content: turn.Content})
	}
	return append(messages, interfaces.LLMMessage{Role: "user", Content: message})
}

var _ interfaces.Agent = (*LLMAgent)(nil)
