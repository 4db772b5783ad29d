package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/corpus/internal/interfaces"
	"github.com/ternarybob/corpus/internal/models"
)

// scriptAgent runs a scripted Respond while reusing stubAgent's routing
// metadata.
type scriptAgent struct {
	stubAgent
	respond func(ctx context.Context, emit func(models.StreamEvent) error) error
}

func (a *scriptAgent) Respond(ctx context.Context, message string, history []models.ChatTurn, emit func(models.StreamEvent) error) error {
	return a.respond(ctx, emit)
}

// frameRecorder collects every frame sent on the sink.
type frameRecorder struct {
	mu     sync.Mutex
	frames []models.ServerMessage
}

func (r *frameRecorder) sink(msg models.ServerMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, msg)
	return nil
}

func (r *frameRecorder) all() []models.ServerMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.ServerMessage(nil), r.frames...)
}

func (r *frameRecorder) byType(frameType string) []models.ServerMessage {
	var out []models.ServerMessage
	for _, f := range r.all() {
		if f.Type == frameType {
			out = append(out, f)
		}
	}
	return out
}

func newTestDispatcher(t *testing.T, timeout time.Duration, agents ...interfaces.Agent) (*Dispatcher, *SessionManager, string) {
	t.Helper()

	sessions := NewSessionManager(newMemSessionStorage(), 50, arbor.NewLogger())
	router := NewRouter(agents, agents[0], 1.0, len(agents), arbor.NewLogger())

	d, err := NewDispatcher(sessions, router, 8, timeout, arbor.NewLogger())
	require.NoError(t, err)
	t.Cleanup(d.Close)

	session, err := sessions.GetOrCreate(context.Background(), "", "user_1")
	require.NoError(t, err)

	return d, sessions, session.ID
}

func textAgent(name, reply string, keywords ...string) *scriptAgent {
	return &scriptAgent{
		stubAgent: stubAgent{name: name, keywords: keywords},
		respond: func(ctx context.Context, emit func(models.StreamEvent) error) error {
			for _, word := range []string{reply} {
				if err := emit(models.StreamEvent{Type: models.StreamEventContentChunk, Content: word}); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func TestDispatcher_StreamsAndCompletes(t *testing.T) {
	agent := textAgent("general", "hello back", "hello")
	d, sessions, sessionID := newTestDispatcher(t, time.Minute, agent)
	rec := &frameRecorder{}

	err := d.HandleMessage(context.Background(), sessionID, "hello there", rec.sink)
	require.NoError(t, err)

	chunks := rec.byType(models.ServerMsgAgentContentChunk)
	require.Len(t, chunks, 1)
	assert.Equal(t, "hello back", chunks[0].Content)
	assert.Equal(t, "general", chunks[0].Agent)
	assert.NotEmpty(t, chunks[0].GenerationID)

	complete := rec.byType(models.ServerMsgResponseComplete)
	require.Len(t, complete, 1)

	// Both turns are in the session history.
	session, err := sessions.GetOrCreate(context.Background(), sessionID, "user_1")
	require.NoError(t, err)
	require.Len(t, session.History, 2)
	assert.Equal(t, models.TurnRoleHuman, session.History[0].Role)
	assert.Equal(t, models.TurnRoleAI, session.History[1].Role)
	assert.Equal(t, "hello back", session.History[1].Content)
	assert.Equal(t, []string{"general"}, session.History[1].AgentNames)
}

func TestDispatcher_ArtifactFramesAreContiguous(t *testing.T) {
	coder := &scriptAgent{
		stubAgent: stubAgent{name: "code", keywords: []string{"code"}},
		respond: func(ctx context.Context, emit func(models.StreamEvent) error) error {
			art := &models.Artifact{ID: "art_1", Type: "code", Language: "go"}
			if err := emit(models.StreamEvent{Type: models.StreamEventArtifactStart, Artifact: art}); err != nil {
				return err
			}
			for _, line := range []string{"package main\n", "func main() {}\n"} {
				time.Sleep(5 * time.Millisecond)
				if err := emit(models.StreamEvent{Type: models.StreamEventArtifactChunk, Content: line}); err != nil {
					return err
				}
			}
			done := &models.Artifact{ID: "art_1", Type: "code", Language: "go", Content: "package main\nfunc main() {}\n"}
			return emit(models.StreamEvent{Type: models.StreamEventArtifactEnd, Artifact: done})
		},
	}
	chatter := &scriptAgent{
		stubAgent: stubAgent{name: "general", keywords: []string{"code"}},
		respond: func(ctx context.Context, emit func(models.StreamEvent) error) error {
			for i := 0; i < 10; i++ {
				time.Sleep(2 * time.Millisecond)
				if err := emit(models.StreamEvent{Type: models.StreamEventContentChunk, Content: "chatter "}); err != nil {
					return err
				}
			}
			return nil
		},
	}

	d, _, sessionID := newTestDispatcher(t, time.Minute, coder, chatter)
	rec := &frameRecorder{}

	err := d.HandleMessage(context.Background(), sessionID, "write code please", rec.sink)
	require.NoError(t, err)

	frames := rec.all()
	start := -1
	end := -1
	for i, f := range frames {
		switch f.Type {
		case models.ServerMsgAgentArtifactStart:
			start = i
		case models.ServerMsgAgentArtifactEnd:
			end = i
		}
	}
	require.GreaterOrEqual(t, start, 0, "artifact start frame missing")
	require.Greater(t, end, start, "artifact end frame missing")

	// Every frame between start and end belongs to the artifact run.
	for _, f := range frames[start : end+1] {
		assert.Equal(t, "code", f.Agent)
		assert.Contains(t, []string{
			models.ServerMsgAgentArtifactStart,
			models.ServerMsgAgentArtifactChunk,
			models.ServerMsgAgentArtifactEnd,
		}, f.Type)
	}
	assert.Equal(t, end-start, 3, "expected start, two chunks, end back to back")

	// The completion frame carries the finished artifact.
	complete := rec.byType(models.ServerMsgResponseComplete)
	require.Len(t, complete, 1)
	require.Len(t, complete[0].Artifacts, 1)
	assert.Equal(t, "art_1", complete[0].Artifacts[0].ID)
}

func TestDispatcher_AgentErrorIsIsolated(t *testing.T) {
	broken := &scriptAgent{
		stubAgent: stubAgent{name: "broken", keywords: []string{"both"}},
		respond: func(ctx context.Context, emit func(models.StreamEvent) error) error {
			return errors.New("model unavailable")
		},
	}
	healthy := textAgent("healthy", "still here", "both")

	d, _, sessionID := newTestDispatcher(t, time.Minute, broken, healthy)
	rec := &frameRecorder{}

	err := d.HandleMessage(context.Background(), sessionID, "both agents", rec.sink)
	require.NoError(t, err)

	agentErrors := rec.byType(models.ServerMsgAgentError)
	require.Len(t, agentErrors, 1)
	assert.Equal(t, "broken", agentErrors[0].Agent)
	assert.Equal(t, "model unavailable", agentErrors[0].Error)

	chunks := rec.byType(models.ServerMsgAgentContentChunk)
	require.Len(t, chunks, 1)
	assert.Equal(t, "healthy", chunks[0].Agent)

	// The turn still completes.
	assert.Len(t, rec.byType(models.ServerMsgResponseComplete), 1)
}

func TestDispatcher_AllAgentsFailingIsResponseError(t *testing.T) {
	broken := func(name string) *scriptAgent {
		return &scriptAgent{
			stubAgent: stubAgent{name: name, keywords: []string{"both"}},
			respond: func(ctx context.Context, emit func(models.StreamEvent) error) error {
				return errors.New("model unavailable")
			},
		}
	}

	d, _, sessionID := newTestDispatcher(t, time.Minute, broken("first"), broken("second"))
	rec := &frameRecorder{}

	err := d.HandleMessage(context.Background(), sessionID, "both agents", rec.sink)
	require.NoError(t, err)

	assert.Len(t, rec.byType(models.ServerMsgAgentError), 2)
	assert.Empty(t, rec.byType(models.ServerMsgResponseComplete))

	respErrors := rec.byType(models.ServerMsgResponseError)
	require.Len(t, respErrors, 1)
	assert.Equal(t, "all agents failed", respErrors[0].Error)
}

func TestDispatcher_RejectedTaskCountsAsFailure(t *testing.T) {
	agent := textAgent("general", "hello back", "hello")
	d, _, sessionID := newTestDispatcher(t, time.Minute, agent)
	rec := &frameRecorder{}

	// A released pool rejects every submission; the turn must surface that
	// as a failed generation, not an empty completion.
	d.Close()

	err := d.HandleMessage(context.Background(), sessionID, "hello there", rec.sink)
	require.NoError(t, err)

	agentErrors := rec.byType(models.ServerMsgAgentError)
	require.Len(t, agentErrors, 1)
	assert.Equal(t, "general", agentErrors[0].Agent)
	assert.Equal(t, "agent could not be started", agentErrors[0].Error)

	assert.Empty(t, rec.byType(models.ServerMsgResponseComplete))
	respErrors := rec.byType(models.ServerMsgResponseError)
	require.Len(t, respErrors, 1)
	assert.Equal(t, "all agents failed", respErrors[0].Error)
}

func TestDispatcher_BusySession(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	slow := &scriptAgent{
		stubAgent: stubAgent{name: "slow", keywords: []string{"slow"}},
		respond: func(ctx context.Context, emit func(models.StreamEvent) error) error {
			close(started)
			select {
			case <-release:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	}

	d, _, sessionID := newTestDispatcher(t, time.Minute, slow)
	rec := &frameRecorder{}

	done := make(chan error, 1)
	go func() {
		done <- d.HandleMessage(context.Background(), sessionID, "slow question", rec.sink)
	}()
	<-started

	err := d.HandleMessage(context.Background(), sessionID, "second question", rec.sink)
	assert.ErrorIs(t, err, models.ErrSessionBusy)

	close(release)
	require.NoError(t, <-done)
}

func TestDispatcher_StopEmitsStoppedFrame(t *testing.T) {
	started := make(chan struct{})
	blocking := &scriptAgent{
		stubAgent: stubAgent{name: "blocking", keywords: []string{"block"}},
		respond: func(ctx context.Context, emit func(models.StreamEvent) error) error {
			if err := emit(models.StreamEvent{Type: models.StreamEventContentChunk, Content: "partial "}); err != nil {
				return err
			}
			close(started)
			<-ctx.Done()
			return ctx.Err()
		},
	}

	d, sessions, sessionID := newTestDispatcher(t, time.Minute, blocking)
	rec := &frameRecorder{}

	done := make(chan error, 1)
	go func() {
		done <- d.HandleMessage(context.Background(), sessionID, "block forever", rec.sink)
	}()
	<-started

	assert.True(t, d.StopGeneration(sessionID))
	require.NoError(t, <-done)

	stoppedFrames := rec.byType(models.ServerMsgGenerationStopped)
	require.Len(t, stoppedFrames, 1)
	assert.Empty(t, rec.byType(models.ServerMsgResponseComplete))

	// The partial answer is still persisted.
	session, err := sessions.GetOrCreate(context.Background(), sessionID, "user_1")
	require.NoError(t, err)
	require.Len(t, session.History, 2)
	assert.Equal(t, "partial ", session.History[1].Content)
}

func TestDispatcher_TimeoutEmitsResponseError(t *testing.T) {
	stuck := &scriptAgent{
		stubAgent: stubAgent{name: "stuck", keywords: []string{"hang"}},
		respond: func(ctx context.Context, emit func(models.StreamEvent) error) error {
			<-ctx.Done()
			return ctx.Err()
		},
	}

	d, _, sessionID := newTestDispatcher(t, 50*time.Millisecond, stuck)
	rec := &frameRecorder{}

	err := d.HandleMessage(context.Background(), sessionID, "hang please", rec.sink)
	require.NoError(t, err)

	errFrames := rec.byType(models.ServerMsgResponseError)
	require.Len(t, errFrames, 1)
	assert.Equal(t, "generation timed out", errFrames[0].Error)
}
