package bridge

import (
	"context"
	"sync"
	"time"

	"github.com/agentdev/tg-agent-bridge/internal/session"
	"github.com/agentdev/tg-agent-bridge/internal/telegramtransport"
)

// typingHandles tracks the live telegramtransport.TypingHandle backing
// each StreamState's TypingToken, keyed by pointer identity of the token.
// Kept out of session.StreamState itself so that package has no dependency
// on telegramtransport. Written from the event-consumer goroutine (via
// acquireTyping/releaseTyping) and from each handle's own
// watchToolTypingTimeout goroutine (§5: "implementations must protect them
// if they use parallel threads"), so access is guarded by typingHandlesMu.
var (
	typingHandlesMu sync.Mutex
	typingHandles   = map[*session.TypingToken]*telegramtransport.TypingHandle{}
)

// acquireTyping owns at most one typing handle per stream (§4.8.3). A mode
// transition bumps (cancels and recreates) the handle; idle mode refreshes
// every 2.5s, tool mode every 1.5s.
func (b *Bridge) acquireTyping(ctx context.Context, stream *session.StreamState, mode string) {
	typingHandlesMu.Lock()
	current := stream.TypingToken
	if current != nil && current.Mode == mode {
		current.LastActivity = time.Now()
		typingHandlesMu.Unlock()
		return
	}
	typingHandlesMu.Unlock()
	b.releaseTyping(stream)

	interval := typingIdleInterval
	if mode == "tool" {
		interval = typingToolInterval
	}
	token := &session.TypingToken{Mode: mode, LastActivity: time.Now()}
	handle := b.tg.StartTyping(ctx, b.cfg.ChatID, b.cfg.ThreadID, interval)
	typingHandlesMu.Lock()
	typingHandles[token] = handle
	stream.TypingToken = token
	typingHandlesMu.Unlock()

	if mode == "tool" {
		go b.watchToolTypingTimeout(stream, token)
	}
}

// watchToolTypingTimeout releases a tool-mode handle defensively after 12s
// of inactivity (§4.8.3).
func (b *Bridge) watchToolTypingTimeout(stream *session.StreamState, token *session.TypingToken) {
	ticker := time.NewTicker(typingToolTimeout)
	defer ticker.Stop()
	for range ticker.C {
		typingHandlesMu.Lock()
		current := stream.TypingToken
		typingHandlesMu.Unlock()
		if current != token {
			return
		}
		if time.Since(token.LastActivity) >= typingToolTimeout {
			b.releaseTyping(stream)
			return
		}
	}
}

// releaseTyping cancels and forgets the stream's typing handle, if any.
func (b *Bridge) releaseTyping(stream *session.StreamState) {
	typingHandlesMu.Lock()
	token := stream.TypingToken
	if token == nil {
		typingHandlesMu.Unlock()
		return
	}
	handle, ok := typingHandles[token]
	if ok {
		delete(typingHandles, token)
	}
	stream.TypingToken = nil
	typingHandlesMu.Unlock()
	if ok {
		handle.Cancel()
	}
}
