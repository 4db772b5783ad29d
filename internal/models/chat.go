package models

import (
	"errors"
	"time"
)

// ErrSessionBusy is returned by BeginTurn while a generation is active.
// Callers are expected to send stop_generation first.
var ErrSessionBusy = errors.New("session busy: generation in progress")

// TurnRole distinguishes human and AI turns in session history.
type TurnRole string

const (
	TurnRoleHuman TurnRole = "human"
	TurnRoleAI    TurnRole = "ai"
)

// ChatTurn is one entry of a session's ordered history.
type ChatTurn struct {
	Role       TurnRole  `json:"role"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
	AgentNames []string  `json:"agent_names,omitempty"` // Attribution for AI turns
}

// ChatSession holds per-connection conversation state.
// At most one generation is active per session at a time.
type ChatSession struct {
	ID        string     `json:"id"` // sess_{uuid}
	UserID    string     `json:"user_id"`
	History   []ChatTurn `json:"history"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Artifact is a structured, typed piece of generated content (code,
// diagram, document) attached to a chat response.
type Artifact struct {
	ID       string `json:"id"`
	Type     string `json:"type"` // "code", "diagram", "document"
	Title    string `json:"title,omitempty"`
	Language string `json:"language,omitempty"` // For code artifacts
	Content  string `json:"content"`
}

// StreamEventType identifies one typed event on an agent's output stream.
type StreamEventType string

const (
	StreamEventThinking      StreamEventType = "thinking"
	StreamEventContentChunk  StreamEventType = "content_chunk"
	StreamEventArtifactStart StreamEventType = "artifact_start"
	StreamEventArtifactChunk StreamEventType = "artifact_chunk"
	StreamEventArtifactEnd   StreamEventType = "artifact_end"
	StreamEventError         StreamEventType = "error"
	StreamEventDone          StreamEventType = "done"
)

// StreamEvent is one typed event produced by an agent task. The
// dispatcher serializes these onto the single outbound connection in
// production order.
type StreamEvent struct {
	Type         StreamEventType `json:"type"`
	Agent        string          `json:"agent"`
	GenerationID string          `json:"generation_id"`
	Content      string          `json:"content,omitempty"`
	Artifact     *Artifact       `json:"artifact,omitempty"` // Set on artifact_start/end
	Err          string          `json:"error,omitempty"`
}

// Client -> server message types on the chat connection.
const (
	ClientMsgChatMessage    = "chat_message"
	ClientMsgInitSession    = "init_session"
	ClientMsgStopGeneration = "stop_generation"
)

// ClientMessage is one inbound frame on the chat connection.
// Unrecognized types must be ignored, not fatal to the connection.
type ClientMessage struct {
	Type        string   `json:"type"`
	Content     string   `json:"content,omitempty"`
	SessionID   string   `json:"session_id,omitempty"`
	UserID      string   `json:"user_id,omitempty"`
	Attachments []string `json:"attachments,omitempty"`
}

// Server -> client message types on the chat connection.
const (
	ServerMsgSessionInitialized = "session_initialized"
	ServerMsgSessionHistory     = "session_history"
	ServerMsgAgentThinking      = "agent_thinking"
	ServerMsgAgentContentChunk  = "agent_content_chunk"
	ServerMsgAgentArtifactStart = "agent_artifact_start"
	ServerMsgAgentArtifactChunk = "agent_artifact_chunk"
	ServerMsgAgentArtifactEnd   = "agent_artifact_end"
	ServerMsgAgentError         = "agent_error"
	ServerMsgResponseComplete   = "response_complete"
	ServerMsgResponseError      = "response_error"
	ServerMsgGenerationStopped  = "generation_stopped"
	ServerMsgError              = "error"
)

// ServerMessage is one outbound frame on the chat connection.
type ServerMessage struct {
	Type         string      `json:"type"`
	SessionID    string      `json:"session_id,omitempty"`
	UserID       string      `json:"user_id,omitempty"`
	GenerationID string      `json:"generation_id,omitempty"`
	Agent        string      `json:"agent,omitempty"`
	Content      string      `json:"content,omitempty"`
	History      []ChatTurn  `json:"history,omitempty"`
	Artifact     *Artifact   `json:"artifact,omitempty"`
	Artifacts    []*Artifact `json:"artifacts,omitempty"`
	Error        string      `json:"error,omitempty"`
}
