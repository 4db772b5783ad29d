package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/corpus/internal/interfaces"
	"github.com/ternarybob/corpus/internal/models"
)

// SearchAgent answers by querying the full-text index directly instead of
// the model, so results reflect exactly what has been ingested.
type SearchAgent struct {
	name     string
	keywords []string
	phrases  []string
	sink     interfaces.SearchSink
	limit    int
	logger   arbor.ILogger
}

// NewSearchAgent creates the search agent from its descriptor.
func NewSearchAgent(d Descriptor, sink interfaces.SearchSink, logger arbor.ILogger) *SearchAgent {
	return &SearchAgent{
		name:     d.Name,
		keywords: d.Keywords,
		phrases:  d.Phrases,
		sink:     sink,
		limit:    5,
		logger:   logger,
	}
}

func (a *SearchAgent) Name() string { return a.name }

func (a *SearchAgent) Keywords() []string { return a.keywords }

func (a *SearchAgent) Phrases() []string { return a.phrases }

func (a *SearchAgent) Respond(ctx context.Context, message string, history []models.ChatTurn, emit func(models.StreamEvent) error) error {
	query := stripSearchPreamble(message)
	if err := emit(models.StreamEvent{Type: models.StreamEventThinking, Content: fmt.Sprintf("Searching for %q...", query)}); err != nil {
		return err
	}

	hits, err := a.sink.Search(ctx, query, a.limit)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if len(hits) == 0 {
		return emit(models.StreamEvent{
			Type:    models.StreamEventContentChunk,
			Content: fmt.Sprintf("No indexed documents match %q.", query),
		})
	}

	if err := emit(models.StreamEvent{
		Type:    models.StreamEventContentChunk,
		Content: fmt.Sprintf("Found %d matching documents:\n", len(hits)),
	}); err != nil {
		return err
	}
	for i, hit := range hits {
		line := fmt.Sprintf("%d. %s (%s)", i+1, hit.Title, hit.DocumentID)
		if hit.Snippet != "" {
			line += " - " + hit.Snippet
		}
		if err := emit(models.StreamEvent{Type: models.StreamEventContentChunk, Content: line + "\n"}); err != nil {
			return err
		}
	}
	return nil
}

// stripSearchPreamble drops leading "search for" style phrasing so the query
// sent to the index is the subject, not the instruction.
func stripSearchPreamble(message string) string {
	lower := strings.ToLower(message)
	for _, prefix := range []string{"search for ", "search ", "look up ", "find ", "locate "} {
		if strings.HasPrefix(lower, prefix) {
			return strings.TrimSpace(message[len(prefix):])
		}
	}
	return strings.TrimSpace(message)
}

var _ interfaces.Agent = (*SearchAgent)(nil)
