package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/agentdev/tg-agent-bridge/internal/agentclient"
	"github.com/agentdev/tg-agent-bridge/internal/session"
)

const (
	textEditInterval      = 2 * time.Second
	reasoningEditInterval = 2500 * time.Millisecond
	earlyFlushThreshold   = 0.9 // fraction of MaxMessageLen

	typingIdleInterval = 2500 * time.Millisecond
	typingToolInterval = 1500 * time.Millisecond
	typingToolTimeout   = 12 * time.Second
)

// RunEventConsumer drains the agent's SSE stream and projects events into
// Telegram messages until ctx is cancelled (§4.8, §5 "agent-event consumer
// loop"). The caller starts it alongside Run.
func (b *Bridge) RunEventConsumer(ctx context.Context) {
	for ev := range b.agent.Events(ctx) {
		b.handleEvent(ctx, ev)
	}
}

func (b *Bridge) handleEvent(ctx context.Context, ev agentclient.Event) {
	switch ev.Type {
	case agentclient.EventSessionStatus:
		b.onSessionStatus(ctx, ev)
	case agentclient.EventSessionCreated:
		b.onSessionCreated(ctx, ev)
	case agentclient.EventSessionIdle:
		b.onSessionIdle(ctx, ev)
	case agentclient.EventSessionError:
		b.onSessionError(ctx, ev)
	case agentclient.EventSessionDiff:
		// Not rendered: too verbose (§4.8).
	case agentclient.EventMessageUpdated:
		b.onMessageUpdated(ctx, ev)
	case agentclient.EventMessagePart:
		b.onMessagePart(ctx, ev)
	case agentclient.EventQuestionAsked:
		var payload agentclient.QuestionAskedPayload
		if err := json.Unmarshal(ev.Payload, &payload); err == nil {
			b.openQuestion(ctx, payload)
		}
	case agentclient.EventPermissionAsked:
		var payload agentclient.PermissionAskedPayload
		if err := json.Unmarshal(ev.Payload, &payload); err == nil {
			b.openPermission(ctx, payload)
		}
	default:
		log.Printf("[projector] unrecognized event type %q: %s", ev.Type, string(ev.Payload))
		b.notify(ctx, fmt.Sprintf("debug: unrecognized event %q", ev.Type))
	}
}

func (b *Bridge) onSessionStatus(ctx context.Context, ev agentclient.Event) {
	var payload agentclient.SessionStatusPayload
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		return
	}
	stream := b.streamFor(ev.SessionID)
	switch payload.Status {
	case "busy":
		b.acquireTyping(ctx, stream, "idle")
	case "retry", "error":
		b.notify(ctx, "⚠️ "+payload.Status+": "+payload.Detail)
	default:
		b.releaseTyping(stream)
	}
}

func (b *Bridge) onSessionCreated(ctx context.Context, ev agentclient.Event) {
	if _, ok := b.topicBySession[ev.SessionID]; ok {
		return
	}
	threadID, err := b.tg.CreateForumTopic(b.cfg.ChatID, "session "+ev.SessionID[:min(8, len(ev.SessionID))])
	if err != nil {
		log.Printf("[projector] failed to create forum topic: %v", err)
		return
	}
	b.topicBySession[ev.SessionID] = threadID
}

func (b *Bridge) onSessionIdle(ctx context.Context, ev agentclient.Event) {
	stream, ok := b.streams[ev.SessionID]
	if !ok {
		return
	}
	b.flushText(ctx, stream, true)
	b.flushReasoning(ctx, stream, true)
	b.releaseTyping(stream)
	delete(b.streams, ev.SessionID)
}

func (b *Bridge) onSessionError(ctx context.Context, ev agentclient.Event) {
	var payload agentclient.SessionErrorPayload
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		return
	}
	stream := b.streamFor(ev.SessionID)
	b.releaseTyping(stream)
	if payload.Aborted || strings.Contains(strings.ToLower(payload.Message), "abort") {
		b.notify(ctx, "Interrupted.")
		return
	}
	dump := string(payload.Raw)
	if len(dump) > 1500 {
		dump = dump[:1500] + "…"
	}
	b.notify(ctx, "Error: "+payload.Message+"\n"+dump)
}

func (b *Bridge) streamFor(sessionID string) *session.StreamState {
	s, ok := b.streams[sessionID]
	if !ok {
		s = session.NewStreamState()
		b.streams[sessionID] = s
	}
	return s
}

func (b *Bridge) onMessageUpdated(ctx context.Context, ev agentclient.Event) {
	var payload agentclient.MessageUpdatedPayload
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		return
	}
	if payload.Message.Role != "assistant" {
		return
	}
	stream := b.streamFor(ev.SessionID)
	buffered := stream.BufferedParts
	stream.BufferedParts = nil
	for _, part := range buffered {
		b.routePart(ctx, ev.SessionID, stream, part)
	}
}

func (b *Bridge) onMessagePart(ctx context.Context, ev agentclient.Event) {
	var payload agentclient.MessagePartPayload
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		return
	}
	stream, ok := b.streams[ev.SessionID]
	if !ok || !b.messageRegistered(ev.SessionID) {
		stream = b.streamFor(ev.SessionID)
		stream.BufferedParts = append(stream.BufferedParts, payload.Part)
		return
	}
	b.routePart(ctx, ev.SessionID, stream, payload.Part)
}

// messageRegistered is a coarse approximation: a message is considered
// registered once the session's stream state exists. That state is created
// by message.updated, but also by session.status, session.error, and by
// buffering the first part that arrives without it, so only that first
// part is held back; later parts are routed even if no message.updated
// has arrived. Registration is not tracked per messageId.
func (b *Bridge) messageRegistered(sessionID string) bool {
	_, ok := b.streams[sessionID]
	return ok
}

func (b *Bridge) routePart(ctx context.Context, sessionID string, stream *session.StreamState, part agentclient.Part) {
	switch part.Type {
	case agentclient.PartText:
		b.appendText(ctx, stream, part)
	case agentclient.PartReasoning:
		b.appendReasoning(ctx, stream, part)
	case agentclient.PartTool:
		b.handleToolPart(ctx, stream, part)
	case agentclient.PartStepStart:
		// structural only
	case agentclient.PartStepFinish:
		b.flushText(ctx, stream, true)
		b.flushReasoning(ctx, stream, true)
		b.releaseTyping(stream)
	case agentclient.PartPatch:
		// structural only
	case agentclient.PartTodoWrite:
		b.renderTodos(ctx, stream, part)
	default:
		if stream.SentPartIDs[part.ID] {
			return
		}
		stream.SentPartIDs[part.ID] = true
		log.Printf("[projector] unrecognized part type %q", part.Type)
		b.notify(ctx, fmt.Sprintf("debug part:\n  type: %s\n  id: %s", part.Type, part.ID))
	}
}

func (b *Bridge) handleToolPart(ctx context.Context, stream *session.StreamState, part agentclient.Part) {
	isEditTool := part.ToolName == "edit" || part.ToolName == "write"

	if part.ToolState == agentclient.ToolRunning && !isEditTool {
		if stream.SentPartIDs[part.ID] {
			return
		}
		stream.SentPartIDs[part.ID] = true
		b.notify(ctx, "🔧 "+part.ToolName)
		return
	}

	if part.ToolState == agentclient.ToolCompleted && isEditTool {
		if stream.SentPartIDs[part.ID] {
			return
		}
		stream.SentPartIDs[part.ID] = true
		b.sendDiffPreview(ctx, part)
	}
}

func (b *Bridge) renderTodos(ctx context.Context, stream *session.StreamState, part agentclient.Part) {
	if stream.SentPartIDs[part.ID] {
		return
	}
	stream.SentPartIDs[part.ID] = true

	var sb strings.Builder
	for _, t := range part.Todos {
		fmt.Fprintf(&sb, "%s %s\n", todoIcon(t.Status), t.Text)
	}
	b.notify(ctx, sb.String())
}

func todoIcon(status string) string {
	switch status {
	case "completed":
		return "🟢"
	case "in_progress":
		return "🟡"
	case "cancelled":
		return "⚪"
	default:
		return "⚫"
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
