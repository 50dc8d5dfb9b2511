package bridge

import (
	"context"
	"log"
	"time"

	"github.com/agentdev/tg-agent-bridge/internal/agentclient"
	"github.com/agentdev/tg-agent-bridge/internal/session"
	"github.com/agentdev/tg-agent-bridge/internal/telegramtransport"
)

// minSendableLen is the "too short to send" threshold from §4.8.1 step 1.
// The spec itself calls this a heuristic, not a hard requirement (§9 Open
// Questions).
const minSendableLen = 10

// appendText implements §4.8.1: defer creation until substantive, then
// send-or-debounce-edit on each update, with an early flush at 90% of the
// message-length limit.
func (b *Bridge) appendText(ctx context.Context, stream *session.StreamState, part agentclient.Part) {
	if stream.TextMsg == nil {
		stream.TextMsg = &session.DebounceState{MarkdownOK: true}
	}
	msg := stream.TextMsg
	msg.Content += part.Text

	if msg.MessageID == 0 {
		if len([]rune(msg.Content)) <= minSendableLen {
			return // buffer until it grows (step 1)
		}
		b.sendFirstTextChunk(ctx, msg)
		return
	}

	if float64(len([]rune(msg.Content))) >= earlyFlushThreshold*float64(telegramtransport.MaxMessageLen) {
		b.earlyFlushText(ctx, msg)
		return
	}

	b.scheduleTextEdit(ctx, msg)
}

func (b *Bridge) sendFirstTextChunk(ctx context.Context, msg *session.DebounceState) {
	result, err := b.tg.SendMessage(ctx, b.cfg.ChatID, b.cfg.ThreadID, msg.Content, nil, 0)
	if err != nil {
		log.Printf("[projector] initial text send failed: %v", err)
		return
	}
	msg.MessageID = result.MessageID
	msg.MarkdownOK = result.UsedMarkdown
	msg.LastEdit = time.Now()
}

// scheduleTextEdit edits immediately if the debounce window has elapsed,
// otherwise schedules a single debounced edit that replaces any prior
// pending one (§4.8.1 step 3).
func (b *Bridge) scheduleTextEdit(ctx context.Context, msg *session.DebounceState) {
	if !msg.MarkdownOK {
		return // buffering only, no incremental edits after a markdown failure
	}
	if msg.PendingEdit != nil {
		msg.PendingEdit.Stop()
		msg.PendingEdit = nil
	}

	elapsed := time.Since(msg.LastEdit)
	if elapsed >= textEditInterval {
		b.editTextNow(ctx, msg)
		return
	}
	delay := textEditInterval - elapsed
	msg.PendingEdit = time.AfterFunc(delay, func() {
		b.editTextNow(ctx, msg)
	})
}

func (b *Bridge) editTextNow(ctx context.Context, msg *session.DebounceState) {
	result, err := b.tg.EditMessage(ctx, b.cfg.ChatID, msg.MessageID, msg.Content, nil)
	if err != nil {
		log.Printf("[projector] text edit failed, degrading to plain text: %v", err)
		msg.MarkdownOK = false
		return
	}
	if !result.UsedMarkdown {
		msg.MarkdownOK = false // §4.8.1 step 4: flip and stop incremental edits
	}
	msg.LastEdit = time.Now()
}

// earlyFlushText splits the pending content at the best boundary, sends the
// first half as the final content of the current message, and keeps the
// remainder as a fresh message-in-progress (§4.8.1 step 6).
func (b *Bridge) earlyFlushText(ctx context.Context, msg *session.DebounceState) {
	chunks := telegramtransport.SplitMessage(msg.Content)
	if len(chunks) < 2 {
		b.editTextNow(ctx, msg)
		return
	}
	first, rest := chunks[0], joinChunks(chunks[1:])

	if _, err := b.tg.EditMessage(ctx, b.cfg.ChatID, msg.MessageID, first, nil); err != nil {
		log.Printf("[projector] early-flush edit failed: %v", err)
	}

	msg.MessageID = 0
	msg.Content = rest
	msg.MarkdownOK = true
	msg.LastEdit = time.Time{}
	if len([]rune(rest)) > minSendableLen {
		b.sendFirstTextChunk(ctx, msg)
	}
}

func joinChunks(chunks []string) string {
	out := ""
	for i, c := range chunks {
		if i > 0 {
			out += "\n"
		}
		out += c
	}
	return out
}

// flushText cancels any pending debounce and performs a final edit with
// the complete content (§4.8.1 step 5, §5 ordering guarantee).
func (b *Bridge) flushText(ctx context.Context, stream *session.StreamState, final bool) {
	msg := stream.TextMsg
	if msg == nil || msg.Content == "" {
		return
	}
	if msg.PendingEdit != nil {
		msg.PendingEdit.Stop()
		msg.PendingEdit = nil
	}
	if msg.MessageID == 0 {
		b.sendFirstTextChunk(ctx, msg)
		return
	}
	result, err := b.tg.EditMessage(ctx, b.cfg.ChatID, msg.MessageID, msg.Content, nil)
	if err != nil {
		log.Printf("[projector] final text flush failed: %v", err)
		return
	}
	log.Printf("[projector] final edit used markdown=%v", result.UsedMarkdown)
	if final {
		stream.TextMsg = nil
	}
}

// appendReasoning implements §4.8.2: identical throttling to text with a
// 2s floor and 2.5s debounce, eliding long reasoning to a disjoint
// beginning/end pair.
func (b *Bridge) appendReasoning(ctx context.Context, stream *session.StreamState, part agentclient.Part) {
	if stream.ReasoningMsg == nil {
		stream.ReasoningMsg = &session.DebounceState{MarkdownOK: true}
	}
	msg := stream.ReasoningMsg
	msg.Content += part.Text
	displayed := telegramtransport.SplitReasoning(msg.Content)
	rendered := "> thinking: " + displayed

	if msg.MessageID == 0 {
		result, err := b.tg.SendMessage(ctx, b.cfg.ChatID, b.cfg.ThreadID, rendered, nil, 0)
		if err != nil {
			log.Printf("[projector] initial reasoning send failed: %v", err)
			return
		}
		msg.MessageID = result.MessageID
		msg.LastEdit = time.Now()
		return
	}

	elapsed := time.Since(msg.LastEdit)
	edit := func() {
		if _, err := b.tg.EditMessage(ctx, b.cfg.ChatID, msg.MessageID, rendered, nil); err != nil {
			log.Printf("[projector] reasoning edit failed: %v", err)
			return
		}
		msg.LastEdit = time.Now()
	}
	if msg.PendingEdit != nil {
		msg.PendingEdit.Stop()
		msg.PendingEdit = nil
	}
	if elapsed >= textEditInterval {
		edit()
		return
	}
	msg.PendingEdit = time.AfterFunc(reasoningEditInterval-elapsed, edit)
}

// flushReasoning cancels any pending debounce and discards the reasoning
// stream state on session idle / step-finish.
func (b *Bridge) flushReasoning(ctx context.Context, stream *session.StreamState, final bool) {
	msg := stream.ReasoningMsg
	if msg == nil {
		return
	}
	if msg.PendingEdit != nil {
		msg.PendingEdit.Stop()
		msg.PendingEdit = nil
	}
	if final {
		stream.ReasoningMsg = nil
	}
}
