package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/corpus/internal/interfaces"
	"github.com/ternarybob/corpus/internal/models"
)

// Sink delivers one outbound frame. The dispatcher guarantees a single
// goroutine calls it at a time, so implementations need no locking of their
// own beyond the connection write mutex.
type Sink func(msg models.ServerMessage) error

// Dispatcher runs the selected agents for a turn and serializes their
// streamed events onto the sink. Content chunks from different agents may
// interleave, but each artifact's chunks are buffered and flushed as a
// contiguous run between its start and end frames.
type Dispatcher struct {
	sessions *SessionManager
	router   *Router
	pool     *ants.Pool
	timeout  time.Duration
	logger   arbor.ILogger
}

// NewDispatcher creates the streaming dispatcher. poolSize bounds the number
// of concurrently running agent tasks across all sessions.
func NewDispatcher(sessions *SessionManager, router *Router, poolSize int, timeout time.Duration, logger arbor.ILogger) (*Dispatcher, error) {
	if poolSize <= 0 {
		poolSize = 16
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	pool, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create agent pool: %w", err)
	}

	return &Dispatcher{
		sessions: sessions,
		router:   router,
		pool:     pool,
		timeout:  timeout,
		logger:   logger,
	}, nil
}

// Close releases the agent pool.
func (d *Dispatcher) Close() {
	d.pool.Release()
}

// HandleMessage runs one full chat turn: record the human turn, route
// agents, stream their output, and record the combined AI turn. It returns
// models.ErrSessionBusy when the session already has a generation running.
func (d *Dispatcher) HandleMessage(ctx context.Context, sessionID, content string, sink Sink) error {
	genID, genCtx, err := d.sessions.BeginTurn(ctx, sessionID)
	if err != nil {
		return err
	}
	defer d.sessions.EndTurn(sessionID, genID)

	genCtx, cancel := context.WithTimeout(genCtx, d.timeout)
	defer cancel()

	session, err := d.sessions.AppendTurn(ctx, sessionID, models.ChatTurn{
		Role:    models.TurnRoleHuman,
		Content: content,
	})
	if err != nil {
		return fmt.Errorf("failed to record turn: %w", err)
	}
	history := session.History[:len(session.History)-1]

	agents := d.router.Route(content)
	agentNames := make([]string, len(agents))
	for i, a := range agents {
		agentNames[i] = a.Name()
	}

	d.logger.Info().
		Str("session_id", sessionID).
		Str("generation_id", genID).
		Strs("agents", agentNames).
		Msg("Dispatching generation")

	transcript, failures := d.run(genCtx, genID, content, history, agents, sink)
	stopped := errors.Is(genCtx.Err(), context.Canceled)
	timedOut := errors.Is(genCtx.Err(), context.DeadlineExceeded)

	// The combined AI turn is recorded with the originating context, not the
	// generation context, so a stop still persists the partial answer.
	if text := transcript.text(); text != "" {
		if _, err := d.sessions.AppendTurn(ctx, sessionID, models.ChatTurn{
			Role:       models.TurnRoleAI,
			Content:    text,
			AgentNames: agentNames,
		}); err != nil {
			d.logger.Warn().Str("session_id", sessionID).Err(err).Msg("Failed to record AI turn")
		}
	}

	if stopped {
		return sink(models.ServerMessage{
			Type:         models.ServerMsgGenerationStopped,
			SessionID:    sessionID,
			GenerationID: genID,
		})
	}
	if timedOut {
		return sink(models.ServerMessage{
			Type:         models.ServerMsgResponseError,
			SessionID:    sessionID,
			GenerationID: genID,
			Error:        "generation timed out",
		})
	}
	if len(agents) > 0 && failures == len(agents) {
		return sink(models.ServerMessage{
			Type:         models.ServerMsgResponseError,
			SessionID:    sessionID,
			GenerationID: genID,
			Error:        "all agents failed",
		})
	}
	return sink(models.ServerMessage{
		Type:         models.ServerMsgResponseComplete,
		SessionID:    sessionID,
		GenerationID: genID,
		Artifacts:    transcript.artifacts,
	})
}

// StopGeneration cancels the session's active generation.
func (d *Dispatcher) StopGeneration(sessionID string) bool {
	_, ok := d.sessions.StopGeneration(sessionID)
	return ok
}

// transcript accumulates what streamed during a generation for the history
// record and the completion frame.
type transcript struct {
	content   map[string]*strings.Builder
	order     []string
	artifacts []*models.Artifact
}

func newTranscript() *transcript {
	return &transcript{content: make(map[string]*strings.Builder)}
}

func (t *transcript) add(agent, chunk string) {
	b, ok := t.content[agent]
	if !ok {
		b = &strings.Builder{}
		t.content[agent] = b
		t.order = append(t.order, agent)
	}
	b.WriteString(chunk)
}

func (t *transcript) text() string {
	var out strings.Builder
	for _, agent := range t.order {
		if out.Len() > 0 {
			out.WriteString("\n\n")
		}
		out.WriteString(t.content[agent].String())
	}
	return out.String()
}

// run fans the agents out on the pool and drains their events from a single
// loop, which is the only writer to the sink for this generation. The second
// return is the number of agents that ended in an error.
func (d *Dispatcher) run(ctx context.Context, genID, message string, history []models.ChatTurn, agents []interfaces.Agent, sink Sink) (*transcript, int) {
	events := make(chan models.StreamEvent, 64)
	var wg sync.WaitGroup
	var failed int32

	for _, agent := range agents {
		agent := agent
		wg.Add(1)
		task := func() {
			defer wg.Done()
			emit := func(ev models.StreamEvent) error {
				ev.Agent = agent.Name()
				ev.GenerationID = genID
				select {
				case events <- ev:
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			if err := agent.Respond(ctx, message, history, emit); err != nil && !errors.Is(err, context.Canceled) {
				atomic.AddInt32(&failed, 1)
				d.logger.Warn().
					Str("agent", agent.Name()).
					Str("generation_id", genID).
					Err(err).
					Msg("Agent failed")
				// Errors are isolated per agent; the rest keep streaming.
				select {
				case events <- models.StreamEvent{
					Type:         models.StreamEventError,
					Agent:        agent.Name(),
					GenerationID: genID,
					Err:          err.Error(),
				}:
				case <-ctx.Done():
				}
			}
		}
		if err := d.pool.Submit(task); err != nil {
			// An agent that never started still counts as a failed agent, so
			// a turn where nothing ran ends in response_error. The error
			// frame goes on the buffered channel before wg.Done, which keeps
			// it ahead of the channel close.
			atomic.AddInt32(&failed, 1)
			d.logger.Error().Str("agent", agent.Name()).Err(err).Msg("Failed to start agent task")
			select {
			case events <- models.StreamEvent{
				Type:         models.StreamEventError,
				Agent:        agent.Name(),
				GenerationID: genID,
				Err:          "agent could not be started",
			}:
			default:
			}
			wg.Done()
		}
	}

	go func() {
		wg.Wait()
		close(events)
	}()

	trans := newTranscript()
	// Per-agent buffered artifact run: chunks are held from artifact_start
	// until artifact_end, then flushed back to back.
	pending := make(map[string][]models.ServerMessage)

	for ev := range events {
		switch ev.Type {
		case models.StreamEventThinking:
			d.send(sink, models.ServerMessage{
				Type:         models.ServerMsgAgentThinking,
				GenerationID: genID,
				Agent:        ev.Agent,
				Content:      ev.Content,
			})
		case models.StreamEventContentChunk:
			trans.add(ev.Agent, ev.Content)
			d.send(sink, models.ServerMessage{
				Type:         models.ServerMsgAgentContentChunk,
				GenerationID: genID,
				Agent:        ev.Agent,
				Content:      ev.Content,
			})
		case models.StreamEventArtifactStart:
			pending[ev.Agent] = []models.ServerMessage{{
				Type:         models.ServerMsgAgentArtifactStart,
				GenerationID: genID,
				Agent:        ev.Agent,
				Artifact:     ev.Artifact,
			}}
		case models.StreamEventArtifactChunk:
			if frames, ok := pending[ev.Agent]; ok {
				pending[ev.Agent] = append(frames, models.ServerMessage{
					Type:         models.ServerMsgAgentArtifactChunk,
					GenerationID: genID,
					Agent:        ev.Agent,
					Content:      ev.Content,
				})
			}
		case models.StreamEventArtifactEnd:
			frames := append(pending[ev.Agent], models.ServerMessage{
				Type:         models.ServerMsgAgentArtifactEnd,
				GenerationID: genID,
				Agent:        ev.Agent,
				Artifact:     ev.Artifact,
			})
			delete(pending, ev.Agent)
			for _, frame := range frames {
				d.send(sink, frame)
			}
			if ev.Artifact != nil {
				trans.artifacts = append(trans.artifacts, ev.Artifact)
			}
		case models.StreamEventError:
			d.send(sink, models.ServerMessage{
				Type:         models.ServerMsgAgentError,
				GenerationID: genID,
				Agent:        ev.Agent,
				Error:        ev.Err,
			})
		}
	}

	return trans, int(atomic.LoadInt32(&failed))
}

func (d *Dispatcher) send(sink Sink, msg models.ServerMessage) {
	if err := sink(msg); err != nil {
		d.logger.Debug().Str("type", msg.Type).Err(err).Msg("Failed to deliver frame")
	}
}
