package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// transcribeVoice downloads a Telegram voice note and POSTs it to OpenAI's
// audio transcription endpoint (a fixed URL) with the configured API key. The transcriber itself is deliberately
// out of scope (spec.md §1 "the voice transcription HTTP call") — this is
// only the boundary glue the ingest path needs to include a transcript as
// a text part.
func (b *Bridge) transcribeVoice(ctx context.Context, fileID string) (string, error) {
	dataURL, err := b.tg.DownloadAsDataURL(fileID, "audio/ogg")
	if err != nil {
		return "", fmt.Errorf("download voice note: %w", err)
	}

	body, err := json.Marshal(map[string]string{"audio": dataURL})
	if err != nil {
		return "", fmt.Errorf("encode transcription request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.openai.com/v1/audio/transcriptions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build transcription request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+b.cfg.OpenAIAPIKey)
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 60 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("transcription request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("transcription returned %d: %s", resp.StatusCode, string(data))
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode transcription response: %w", err)
	}
	return result.Text, nil
}
