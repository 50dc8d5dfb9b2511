// Package session holds the in-memory per-instance state described in
// spec.md §3.2: the active Session, outstanding PendingQuestion/
// PendingPermission prompts (C9), and per-message StreamState used by the
// streaming projector (C8).
package session

import (
	"sync"
	"time"

	"github.com/agentdev/tg-agent-bridge/internal/agentclient"
)

// ModelOverride is a per-session provider/model selection set via
// /model <provider>/<model>.
type ModelOverride = agentclient.ModelRef

// Session is the single active session for this instance.
type Session struct {
	ID              string
	TitleKnown      bool
	SelectedModel   *ModelOverride
	ThreadID        int
	CreatedAt       time.Time
	TrackedBashPIDs map[int]string // pid -> description, for /ps and /interrupt
	mu              sync.Mutex
}

// NewSession creates a session rooted at id, with no title yet known.
func NewSession(id string, threadID int) *Session {
	return &Session{
		ID:              id,
		ThreadID:        threadID,
		CreatedAt:       time.Now(),
		TrackedBashPIDs: make(map[int]string),
	}
}

// TrackBash records a spawned bash process for /ps and /interrupt.
func (s *Session) TrackBash(pid int, description string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.TrackedBashPIDs[pid] = description
}

// UntrackBash forgets a bash process once it has exited or been killed.
func (s *Session) UntrackBash(pid int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.TrackedBashPIDs, pid)
}

// ListBash returns a snapshot of currently tracked bash processes.
func (s *Session) ListBash() map[int]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int]string, len(s.TrackedBashPIDs))
	for k, v := range s.TrackedBashPIDs {
		out[k] = v
	}
	return out
}

// Key identifies one (chatId, threadId) pair — the unit pending
// interactions and stream state are scoped to.
type Key struct {
	ChatID   int64
	ThreadID int
}

// PendingQuestion tracks an outstanding question.asked prompt for one key.
type PendingQuestion struct {
	RequestID         string
	ChatID            int64
	ThreadID          int
	Questions         []agentclient.Question
	Answers           map[int][]string
	MessageIDs        []int
	AwaitingFreetextIdx *int
}

// AnsweredCount reports how many questions currently have an answer.
func (p *PendingQuestion) AnsweredCount() int {
	return len(p.Answers)
}

// OrderedAnswers returns the answers in question order, for the
// question.reply RPC.
func (p *PendingQuestion) OrderedAnswers() [][]string {
	out := make([][]string, len(p.Questions))
	for i := range p.Questions {
		out[i] = p.Answers[i]
	}
	return out
}

// PendingPermission tracks an outstanding permission.asked prompt for one
// key.
type PendingPermission struct {
	RequestID  string
	ChatID     int64
	ThreadID   int
	Permission string
	Patterns   []string
	MessageID  int
}

// DebounceState tracks the last-edit timestamp and whether markdown
// rendering is still accepted for one streamed message.
type DebounceState struct {
	MessageID    int
	Content      string
	LastEdit     time.Time
	MarkdownOK   bool
	PendingEdit  *time.Timer
}

// StreamState is the per-(session, assistant message) state the projector
// maintains while a turn streams in (§3.2, §4.8).
type StreamState struct {
	BufferedParts []agentclient.Part
	SentPartIDs   map[string]bool

	ReasoningMsg *DebounceState
	TextMsg      *DebounceState

	TypingToken *TypingToken
}

// TypingToken identifies the single typing-indicator handle a stream state
// may own, plus the mode it is in (§4.8.3).
type TypingToken struct {
	Mode         string // "idle" or "tool"
	LastActivity time.Time
}

// NewStreamState returns a zero StreamState ready to accumulate one
// assistant message's parts.
func NewStreamState() *StreamState {
	return &StreamState{SentPartIDs: make(map[string]bool)}
}
