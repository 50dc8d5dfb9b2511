// Package agentclient talks to the already-running external agent process
// over its HTTP SSE event stream and JSON-RPC-style control endpoints. The
// wire vocabulary (dotted event names, part types) is grounded on the
// opencode-compatible event stream: GET <baseURL>/event yields
// `data: <json>` lines whose payload carries a dotted "type".
package agentclient

import "encoding/json"

// EventType enumerates the dotted event names the projector (C8) switches
// on, per spec.md §4.8.
type EventType string

const (
	EventSessionStatus   EventType = "session.status"
	EventSessionCreated  EventType = "session.created"
	EventSessionIdle     EventType = "session.idle"
	EventSessionError    EventType = "session.error"
	EventSessionDiff     EventType = "session.diff"
	EventMessageUpdated  EventType = "message.updated"
	EventMessagePart     EventType = "message.part.updated"
	EventQuestionAsked   EventType = "question.asked"
	EventPermissionAsked EventType = "permission.asked"
)

// Event is one line of the agent's event stream, already parsed.
type Event struct {
	Type      EventType       `json:"type"`
	SessionID string          `json:"sessionId"`
	Payload   json.RawMessage `json:"payload"`
}

// SessionStatusPayload accompanies EventSessionStatus.
type SessionStatusPayload struct {
	Status string `json:"status"` // "busy", "idle", "retry", "error"
	Detail string `json:"detail,omitempty"`
}

// SessionErrorPayload accompanies EventSessionError.
type SessionErrorPayload struct {
	Message string `json:"message"`
	Aborted bool   `json:"aborted"`
	Raw     json.RawMessage `json:"raw,omitempty"`
}

// Message describes an assistant (or user) message the agent is building.
type Message struct {
	ID   string `json:"id"`
	Role string `json:"role"` // "assistant" or "user"
}

// MessageUpdatedPayload accompanies EventMessageUpdated.
type MessageUpdatedPayload struct {
	Message Message `json:"message"`
}

// PartType enumerates the message.part.updated part kinds from §4.8.
type PartType string

const (
	PartText       PartType = "text"
	PartReasoning  PartType = "reasoning"
	PartTool       PartType = "tool"
	PartStepStart  PartType = "step-start"
	PartStepFinish PartType = "step-finish"
	PartPatch      PartType = "patch"
	PartTodoWrite  PartType = "todowrite"
)

// ToolState is the lifecycle state of a PartTool part.
type ToolState string

const (
	ToolRunning   ToolState = "running"
	ToolCompleted ToolState = "completed"
)

// Part is one incremental fragment of an assistant message.
type Part struct {
	ID        string    `json:"id"`
	MessageID string    `json:"messageId"`
	Type      PartType  `json:"type"`
	Text      string    `json:"text,omitempty"`
	ToolName  string    `json:"toolName,omitempty"`
	ToolState ToolState `json:"toolState,omitempty"`
	// ToolInput/ToolOutput carry enough of the edit/write tool's arguments
	// and result to reconstruct a diff (old/new file content, path).
	ToolInput  json.RawMessage `json:"toolInput,omitempty"`
	ToolOutput json.RawMessage `json:"toolOutput,omitempty"`
	Todos      []Todo          `json:"todos,omitempty"`
}

// EditToolInput is the shape of ToolInput for "edit"/"write" tool parts,
// used to reconstruct an inline diff preview (§4.8 tool completed branch).
type EditToolInput struct {
	Path    string `json:"path"`
	OldText string `json:"oldText"`
	NewText string `json:"newText"`
}

// Todo is one row of a todowrite part's rendered list.
type Todo struct {
	Text   string `json:"text"`
	Status string `json:"status"` // "pending", "in_progress", "completed", "cancelled"
}

// MessagePartPayload accompanies EventMessagePart.
type MessagePartPayload struct {
	Part Part `json:"part"`
}

// Question is one question of a question.asked request.
type Question struct {
	Text    string   `json:"text"`
	Options []string `json:"options"`
}

// QuestionAskedPayload accompanies EventQuestionAsked.
type QuestionAskedPayload struct {
	RequestID string     `json:"requestId"`
	Questions []Question `json:"questions"`
}

// PermissionAskedPayload accompanies EventPermissionAsked.
type PermissionAskedPayload struct {
	RequestID string   `json:"requestId"`
	Permission string  `json:"permission"`
	Patterns   []string `json:"patterns"`
}

// TitleResult is the reply shape of the title-generation RPC (§4.7).
type TitleResult struct {
	Type  string `json:"type"` // "title" or "unknown"
	Value string `json:"value"`
}

// ModelRef identifies a provider/model pair.
type ModelRef struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}
