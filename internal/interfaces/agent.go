package interfaces

import (
	"context"

	"github.com/ternarybob/corpus/internal/models"
)

// Agent produces a streamed response for a chat message. Implementations emit
// events through the callback as they are generated; the dispatcher owns
// ordering and delivery. Respond must return promptly once ctx is cancelled.
type Agent interface {
	// Name is the stable identifier used in routing and wire messages.
	Name() string

	// Keywords are the routing terms matched against incoming messages.
	Keywords() []string

	// Phrases are multi-word routing terms that score higher than keywords.
	Phrases() []string

	// Respond generates the agent's answer to message, given prior turns.
	// Events passed to emit must carry this agent's name.
	Respond(ctx context.Context, message string, history []models.ChatTurn, emit func(models.StreamEvent) error) error
}
