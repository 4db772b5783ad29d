package agents

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/corpus/internal/models"
)

func collectEvents(t *testing.T, chunks []string) []models.StreamEvent {
	t.Helper()

	var events []models.StreamEvent
	splitter := newFenceSplitter(func(ev models.StreamEvent) error {
		events = append(events, ev)
		return nil
	})

	for _, chunk := range chunks {
		require.NoError(t, splitter.feed(chunk))
	}
	require.NoError(t, splitter.finish())
	return events
}

func eventTypes(events []models.StreamEvent) []models.StreamEventType {
	types := make([]models.StreamEventType, len(events))
	for i, ev := range events {
		types[i] = ev.Type
	}
	return types
}

func TestFenceSplitter_PlainProse(t *testing.T) {
	events := collectEvents(t, []string{"Here is an answer\n", "with two lines\n"})

	require.Len(t, events, 2)
	assert.Equal(t, models.StreamEventContentChunk, events[0].Type)
	assert.Equal(t, "Here is an answer\n", events[0].Content)
	assert.Equal(t, "with two lines\n", events[1].Content)
}

func TestFenceSplitter_LiftsFencedBlock(t *testing.T) {
	events := collectEvents(t, []string{
		"Use this:\n```go\npackage main\nfunc main() {}\n```\nDone.\n",
	})

	types := eventTypes(events)
	assert.Equal(t, []models.StreamEventType{
		models.StreamEventContentChunk,  // "Use this:"
		models.StreamEventArtifactStart, // ```go
		models.StreamEventArtifactChunk, // package main
		models.StreamEventArtifactChunk, // func main() {}
		models.StreamEventArtifactEnd,   // ```
		models.StreamEventContentChunk,  // "Done."
	}, types)

	start := events[1]
	require.NotNil(t, start.Artifact)
	assert.Equal(t, "go", start.Artifact.Language)
	assert.Equal(t, "code", start.Artifact.Type)
	assert.Empty(t, start.Artifact.Content)

	end := events[4]
	require.NotNil(t, end.Artifact)
	assert.Equal(t, start.Artifact.ID, end.Artifact.ID)
	assert.Equal(t, "package main\nfunc main() {}\n", end.Artifact.Content)
}

func TestFenceSplitter_FenceSplitAcrossChunks(t *testing.T) {
	// Stream boundaries land mid-fence; the splitter must still detect it.
	events := collectEvents(t, []string{
		"``", "`py", "thon\n", "print(1)\n", "``", "`\n",
	})

	types := eventTypes(events)
	assert.Equal(t, []models.StreamEventType{
		models.StreamEventArtifactStart,
		models.StreamEventArtifactChunk,
		models.StreamEventArtifactEnd,
	}, types)
	assert.Equal(t, "python", events[0].Artifact.Language)
}

func TestFenceSplitter_UnterminatedBlockClosedOnFinish(t *testing.T) {
	events := collectEvents(t, []string{"```go\nfunc partial() {\n"})

	types := eventTypes(events)
	require.Equal(t, []models.StreamEventType{
		models.StreamEventArtifactStart,
		models.StreamEventArtifactChunk,
		models.StreamEventArtifactEnd,
	}, types)
	assert.Equal(t, "func partial() {\n", events[2].Artifact.Content)
}

func TestFenceSplitter_TrailingProseWithoutNewline(t *testing.T) {
	events := collectEvents(t, []string{"no newline at end"})

	require.Len(t, events, 1)
	assert.Equal(t, models.StreamEventContentChunk, events[0].Type)
	assert.Equal(t, "no newline at end", events[0].Content)
}

func TestFenceSplitter_FenceWithoutLanguage(t *testing.T) {
	events := collectEvents(t, []string{"```\nplain block\n```\n"})

	require.Len(t, events, 3)
	assert.Empty(t, events[0].Artifact.Language)
}

func TestFenceSplitter_MultipleBlocksGetDistinctIDs(t *testing.T) {
	events := collectEvents(t, []string{
		"```go\na\n```\n", "```js\nb\n```\n",
	})

	var ids []string
	for _, ev := range events {
		if ev.Type == models.StreamEventArtifactStart {
			ids = append(ids, ev.Artifact.ID)
		}
	}
	require.Len(t, ids, 2)
	assert.NotEqual(t, ids[0], ids[1])
}
