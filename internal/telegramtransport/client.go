// Package telegramtransport implements the Telegram transport (C5): a
// typed wrapper around the bot API covering send/edit/answer/typing/topics/
// files, with markdown-then-plain-text retry and fatal/transient error
// classification (spec.md §4.5).
package telegramtransport

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"
)

// botSender is the subset of tgbotapi.BotAPI used for sending/editing
// messages, narrowed so tests can substitute a fake without a live
// connection.
type botSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// botFileGetter is the subset used for resolving/downloading files.
type botFileGetter interface {
	GetFile(config tgbotapi.FileConfig) (tgbotapi.File, error)
	GetFileDirectURL(fileID string) (string, error)
}

// Client wraps a tgbotapi.BotAPI with the contracts in spec.md §4.5.
// SendMessage and EditMessage pass through a token-bucket limiter layered under the
// projector's own debounce/throttle state machine (§4.8.1), since Telegram
// itself rate-limits per-chat edits independent of our own pacing. The other
// API calls are not rate-limited.
type Client struct {
	bot     *tgbotapi.BotAPI
	sender  botSender
	files   botFileGetter
	limiter *rate.Limiter

	httpClient *http.Client
}

// New constructs a Client from a bot token, optionally overriding the API
// base URL (sendUrl config key, used for self-hosted Bot API servers).
func New(token, sendURL string) (*Client, error) {
	var bot *tgbotapi.BotAPI
	var err error
	if sendURL != "" {
		bot, err = tgbotapi.NewBotAPIWithAPIEndpoint(token, sendURL)
	} else {
		bot, err = tgbotapi.NewBotAPI(token)
	}
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	return &Client{
		bot:        bot,
		sender:     bot,
		files:      bot,
		limiter:    rate.NewLimiter(rate.Every(50*time.Millisecond), 20),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (c *Client) wait(ctx context.Context) error {
	return c.limiter.Wait(ctx)
}

// SendResult reports the outcome of sendMessage/editMessage, including
// whether markdown rendering was accepted.
type SendResult struct {
	MessageID   int
	UsedMarkdown bool
}

// SendMessage splits text at the best boundary under MaxMessageLen,
// attempts markdown first for each chunk, and falls back to plain text on
// API rejection, per §4.5. It returns the last chunk's message id.
func (c *Client) SendMessage(ctx context.Context, chatID int64, threadID int, text string, markup *tgbotapi.InlineKeyboardMarkup, replyTo int) (SendResult, error) {
	chunks := SplitMessage(text)
	var result SendResult
	for i, chunk := range chunks {
		if err := c.wait(ctx); err != nil {
			return result, err
		}
		msg := tgbotapi.NewMessage(chatID, ToTelegramHTML(chunk))
		msg.ParseMode = tgbotapi.ModeHTML
		if threadID != 0 {
			msg.MessageThreadID = threadID
		}
		if i == 0 && replyTo != 0 {
			msg.ReplyToMessageID = replyTo
		}
		if i == len(chunks)-1 && markup != nil {
			msg.ReplyMarkup = markup
		}

		sent, err := c.sender.Send(msg)
		usedMarkdown := true
		if err != nil {
			if classifyError(err) {
				return result, fmt.Errorf("telegram send fatal: %w", err)
			}
			// Markdown rejected (or other transient failure): retry once as
			// plain text.
			plain := tgbotapi.NewMessage(chatID, chunk)
			if threadID != 0 {
				plain.MessageThreadID = threadID
			}
			if i == len(chunks)-1 && markup != nil {
				plain.ReplyMarkup = markup
			}
			sent, err = c.sender.Send(plain)
			if err != nil {
				if classifyError(err) {
					return result, fmt.Errorf("telegram send fatal: %w", err)
				}
				log.Printf("[telegram] send failed for chunk %d/%d: %v", i+1, len(chunks), err)
				continue
			}
			usedMarkdown = false
		}
		result = SendResult{MessageID: sent.MessageID, UsedMarkdown: usedMarkdown}
	}
	return result, nil
}

// EditMessage edits an existing message, with the same markdown-then-plain
// retry as SendMessage.
func (c *Client) EditMessage(ctx context.Context, chatID int64, messageID int, text string, markup *tgbotapi.InlineKeyboardMarkup) (SendResult, error) {
	if err := c.wait(ctx); err != nil {
		return SendResult{}, err
	}
	edit := tgbotapi.NewEditMessageText(chatID, messageID, ToTelegramHTML(text))
	edit.ParseMode = tgbotapi.ModeHTML
	if markup != nil {
		edit.ReplyMarkup = markup
	}
	_, err := c.sender.Send(edit)
	if err == nil {
		return SendResult{MessageID: messageID, UsedMarkdown: true}, nil
	}
	if classifyError(err) {
		return SendResult{}, fmt.Errorf("telegram edit fatal: %w", err)
	}

	plain := tgbotapi.NewEditMessageText(chatID, messageID, text)
	if markup != nil {
		plain.ReplyMarkup = markup
	}
	if _, err := c.sender.Send(plain); err != nil {
		if classifyError(err) {
			return SendResult{}, fmt.Errorf("telegram edit fatal: %w", err)
		}
		return SendResult{}, fmt.Errorf("telegram edit transient: %w", err)
	}
	return SendResult{MessageID: messageID, UsedMarkdown: false}, nil
}

// AnswerCallback answers a callback query, best-effort: failures are
// logged, never returned, since a callback answer is cosmetic (spinner
// dismissal on the client) rather than load-bearing.
func (c *Client) AnswerCallback(id, text string, alert bool) {
	cb := tgbotapi.NewCallback(id, text)
	cb.ShowAlert = alert
	if _, err := c.sender.Request(cb); err != nil {
		log.Printf("[telegram] answerCallback failed: %v", err)
	}
}

// TypingHandle is a cancelable recurring typing-action loop (startTyping).
type TypingHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Cancel stops the typing loop and waits for it to exit.
func (h *TypingHandle) Cancel() {
	h.cancel()
	<-h.done
}

// StartTyping sends a typing chat action every interval until the returned
// handle is cancelled.
func (c *Client) StartTyping(ctx context.Context, chatID int64, threadID int, interval time.Duration) *TypingHandle {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		sendOnce := func() {
			action := tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)
			if threadID != 0 {
				action.MessageThreadID = threadID
			}
			if _, err := c.sender.Request(action); err != nil {
				log.Printf("[telegram] typing action failed: %v", err)
			}
		}
		sendOnce()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sendOnce()
			}
		}
	}()
	return &TypingHandle{cancel: cancel, done: done}
}

// CreateForumTopic creates a new forum topic, truncating name to 128
// characters (§4.5).
func (c *Client) CreateForumTopic(chatID int64, name string) (int, error) {
	req := tgbotapi.NewCreateForumTopic(chatID, TruncateTopicName(name))
	resp, err := c.sender.Request(req)
	if err != nil {
		if classifyError(err) {
			return 0, fmt.Errorf("create forum topic fatal: %w", err)
		}
		return 0, fmt.Errorf("create forum topic transient: %w", err)
	}
	var result struct {
		MessageThreadID int `json:"message_thread_id"`
	}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return 0, fmt.Errorf("parse forum topic response: %w", err)
	}
	return result.MessageThreadID, nil
}

// EditForumTopic renames an existing forum topic.
func (c *Client) EditForumTopic(chatID int64, threadID int, name string) error {
	req := tgbotapi.NewEditForumTopic(chatID, threadID, TruncateTopicName(name))
	if _, err := c.sender.Request(req); err != nil {
		if classifyError(err) {
			return fmt.Errorf("edit forum topic fatal: %w", err)
		}
		return fmt.Errorf("edit forum topic transient: %w", err)
	}
	return nil
}

// GetFileURL resolves a Telegram file id to a downloadable URL.
func (c *Client) GetFileURL(fileID string) (string, error) {
	url, err := c.files.GetFileDirectURL(fileID)
	if err != nil {
		return "", fmt.Errorf("get file url: %w", err)
	}
	return url, nil
}

// DownloadAsDataURL fetches a Telegram file and returns it as a
// data:<mime>;base64,<...> URL, suitable for inclusion as an agent file
// part.
func (c *Client) DownloadAsDataURL(fileID, mime string) (string, error) {
	url, err := c.GetFileURL(fileID)
	if err != nil {
		return "", err
	}
	resp, err := c.httpClient.Get(url)
	if err != nil {
		return "", fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read file body: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(data)
	return "data:" + mime + ";base64," + encoded, nil
}

// LongPollUpdates retrieves updates via getUpdates long polling, advancing
// past the given offset. It returns the updates in order.
func (c *Client) LongPollUpdates(ctx context.Context, offset, timeoutSeconds int) ([]tgbotapi.Update, error) {
	cfg := tgbotapi.NewUpdate(offset)
	cfg.Timeout = timeoutSeconds
	cfg.AllowedUpdates = []string{"message", "callback_query"}

	updates, err := c.bot.GetUpdates(cfg)
	if err != nil {
		if classifyError(err) {
			return nil, fmt.Errorf("long poll fatal: %w", err)
		}
		return nil, fmt.Errorf("long poll transient: %w", err)
	}
	return updates, nil
}

// SetCommands idempotently sets the bot's command menu.
func (c *Client) SetCommands(commands []tgbotapi.BotCommand) error {
	cfg := tgbotapi.NewSetMyCommands(commands...)
	if _, err := c.sender.Request(cfg); err != nil {
		return fmt.Errorf("set commands: %w", err)
	}
	return nil
}

// Self returns the bot's own user record.
func (c *Client) Self() tgbotapi.User {
	return c.bot.Self
}

// downloadMu serializes DownloadPhoto calls. Voice downloads through
// DownloadAsDataURL do not take it.
var downloadMu sync.Mutex

// largestPhoto returns the highest-resolution PhotoSize in a Telegram
// photo array, mirroring how Telegram always lists sizes smallest-first.
func largestPhoto(sizes []tgbotapi.PhotoSize) (tgbotapi.PhotoSize, bool) {
	if len(sizes) == 0 {
		return tgbotapi.PhotoSize{}, false
	}
	best := sizes[0]
	for _, s := range sizes[1:] {
		if s.Width*s.Height > best.Width*best.Height {
			best = s
		}
	}
	return best, true
}

// DownloadPhoto downloads the largest size from a Telegram photo array and
// returns it as a data URL.
func (c *Client) DownloadPhoto(sizes []tgbotapi.PhotoSize) (dataURL string, err error) {
	downloadMu.Lock()
	defer downloadMu.Unlock()

	best, ok := largestPhoto(sizes)
	if !ok {
		return "", fmt.Errorf("no photo sizes available")
	}
	return c.DownloadAsDataURL(best.FileID, "image/jpeg")
}

// IsFatal exposes the fatal/transient classification to callers outside
// this package (e.g. the ingest loop deciding whether a poll failure is
// returned as an error or logged as transient).
func IsFatal(err error) bool { return classifyError(err) }
