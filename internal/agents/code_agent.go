package agents

import (
	"context"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/corpus/internal/common"
	"github.com/ternarybob/corpus/internal/interfaces"
	"github.com/ternarybob/corpus/internal/models"
)

// CodeAgent streams completions like LLMAgent, but lifts fenced code blocks
// out of the prose and emits them as artifacts. Detection runs line by line
// over the stream: a line opening with ``` starts an artifact, the matching
// fence closes it.
type CodeAgent struct {
	name         string
	keywords     []string
	phrases      []string
	systemPrompt string
	llmSvc       interfaces.LLMService
	logger       arbor.ILogger
}

// NewCodeAgent creates the code agent from its descriptor.
func NewCodeAgent(d Descriptor, llmSvc interfaces.LLMService, logger arbor.ILogger) *CodeAgent {
	return &CodeAgent{
		name:         d.Name,
		keywords:     d.Keywords,
		phrases:      d.Phrases,
		systemPrompt: d.SystemPrompt,
		llmSvc:       llmSvc,
		logger:       logger,
	}
}

func (a *CodeAgent) Name() string { return a.name }

func (a *CodeAgent) Keywords() []string { return a.keywords }

func (a *CodeAgent) Phrases() []string { return a.phrases }

func (a *CodeAgent) Respond(ctx context.Context, message string, history []models.ChatTurn, emit func(models.StreamEvent) error) error {
	if err := emit(models.StreamEvent{Type: models.StreamEventThinking, Content: "Working on it..."}); err != nil {
		return err
	}

	splitter := newFenceSplitter(emit)
	err := a.llmSvc.CompleteStream(ctx, a.systemPrompt, historyMessages(history, message), splitter.feed)
	if err != nil {
		return err
	}
	return splitter.finish()
}

// fenceSplitter is a line-oriented state machine that routes streamed text
// either to content chunks or to the currently open artifact.
type fenceSplitter struct {
	emit     func(models.StreamEvent) error
	lineBuf  strings.Builder
	artifact *models.Artifact
}

func newFenceSplitter(emit func(models.StreamEvent) error) *fenceSplitter {
	return &fenceSplitter{emit: emit}
}

func (f *fenceSplitter) feed(chunk string) error {
	for _, r := range chunk {
		f.lineBuf.WriteRune(r)
		if r == '\n' {
			if err := f.line(f.lineBuf.String()); err != nil {
				return err
			}
			f.lineBuf.Reset()
		}
	}
	return nil
}

// finish flushes any trailing partial line and force-closes an artifact the
// model never fenced off.
func (f *fenceSplitter) finish() error {
	if f.lineBuf.Len() > 0 {
		if err := f.line(f.lineBuf.String()); err != nil {
			return err
		}
		f.lineBuf.Reset()
	}
	if f.artifact != nil {
		return f.closeArtifact()
	}
	return nil
}

func (f *fenceSplitter) line(line string) error {
	trimmed := strings.TrimSpace(line)

	if f.artifact == nil {
		if strings.HasPrefix(trimmed, "```") {
			f.artifact = &models.Artifact{
				ID:       common.NewArtifactID(),
				Type:     "code",
				Language: strings.TrimSpace(strings.TrimPrefix(trimmed, "```")),
			}
			return f.emit(models.StreamEvent{
				Type:     models.StreamEventArtifactStart,
				Artifact: &models.Artifact{ID: f.artifact.ID, Type: f.artifact.Type, Language: f.artifact.Language},
			})
		}
		if line == "" {
			return nil
		}
		return f.emit(models.StreamEvent{Type: models.StreamEventContentChunk, Content: line})
	}

	if trimmed == "```" {
		return f.closeArtifact()
	}

	f.artifact.Content += line
	return f.emit(models.StreamEvent{Type: models.StreamEventArtifactChunk, Content: line})
}

func (f *fenceSplitter) closeArtifact() error {
	artifact := f.artifact
	f.artifact = nil
	return f.emit(models.StreamEvent{Type: models.StreamEventArtifactEnd, Artifact: artifact})
}

var _ interfaces.Agent = (*CodeAgent)(nil)
