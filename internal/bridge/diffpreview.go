package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	diff "github.com/shogoki/gotextdiff"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/agentdev/tg-agent-bridge/internal/agentclient"
)

// maxPreviewLines bounds the inline diff preview (§4.8 tool completed
// branch: "generate an inline preview (≤8 diff lines)").
const maxPreviewLines = 8

// sendDiffPreview reconstructs a unified diff from an edit/write tool's
// input, builds an inline preview capped at maxPreviewLines, optionally
// uploads the full diff, and sends the message with a "View Diff" button
// when an upload URL came back (§4.8).
func (b *Bridge) sendDiffPreview(ctx context.Context, part agentclient.Part) {
	var input agentclient.EditToolInput
	if err := json.Unmarshal(part.ToolInput, &input); err != nil {
		log.Printf("[projector] cannot parse edit tool input: %v", err)
		return
	}

	diffBytes := diff.Diff(input.Path, []byte(input.OldText), input.Path, []byte(input.NewText))
	preview := previewLines(string(diffBytes), maxPreviewLines)

	text := fmt.Sprintf("✏️ %s\n<pre>%s</pre>", input.Path, escapeHTML(preview))

	var markup *tgbotapi.InlineKeyboardMarkup
	if b.cfg.DiffUploadEnabled() {
		if url, err := b.uploadFullDiff(ctx, input.Path, string(diffBytes)); err == nil && url != "" {
			m := tgbotapi.NewInlineKeyboardMarkup(
				tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonURL("View Diff", url)),
			)
			markup = &m
		} else if err != nil {
			log.Printf("[projector] diff upload failed, degrading silently: %v", err)
		}
	}

	if _, err := b.tg.SendMessage(ctx, b.cfg.ChatID, b.cfg.ThreadID, text, markup, 0); err != nil {
		log.Printf("[projector] send diff preview failed: %v", err)
	}
}

// previewLines trims a unified diff to at most maxLines content lines,
// dropping the "diff"/"---"/"+++" headers the way the teacher's terminal
// diff renderer does, and appending a truncation marker when clipped.
func previewLines(diffText string, maxLines int) string {
	lines := strings.Split(diffText, "\n")
	var kept []string
	for _, line := range lines {
		if strings.HasPrefix(line, "diff ") || strings.HasPrefix(line, "--- ") || strings.HasPrefix(line, "+++ ") {
			continue
		}
		if line == "" {
			continue
		}
		if len(kept) >= maxLines {
			kept = append(kept, "…")
			break
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

func escapeHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}

// uploadFullDiff POSTs the complete unified diff to the configured diff
// viewer service and returns the viewable URL. The diff-upload HTTP call
// is itself out of scope (spec.md §1); this is only the boundary glue.
func (b *Bridge) uploadFullDiff(ctx context.Context, path, diffText string) (string, error) {
	body, err := json.Marshal(map[string]string{"path": path, "diff": diffText})
	if err != nil {
		return "", fmt.Errorf("encode diff upload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.cfg.DiffViewerURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build diff upload request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("diff upload request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("diff upload returned %d", resp.StatusCode)
	}

	var result struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode diff upload response: %w", err)
	}
	return result.URL, nil
}
