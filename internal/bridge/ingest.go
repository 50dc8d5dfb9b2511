package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/agentdev/tg-agent-bridge/internal/telegramtransport"
)

// proxyEnvelope is the updates-proxy response shape from spec.md §6.4.
type proxyEnvelope struct {
	Updates []proxyUpdate `json:"updates"`
}

type proxyUpdate struct {
	Payload  tgbotapi.Update `json:"payload"`
	UpdateID int             `json:"update_id"`
}

// pollOnce runs one iteration of the leader's ingest tick (§4.6): poll,
// persist lastUpdateId, filter, dispatch.
func (b *Bridge) pollOnce(ctx context.Context) error {
	state, _, err := b.registry.ReadState()
	if err != nil {
		return fmt.Errorf("read state before poll: %w", err)
	}

	var updates []tgbotapi.Update
	if b.cfg.UpdatesURL != "" {
		updates, err = b.pollViaProxy(ctx, state.LastUpdateID)
	} else {
		updates, err = b.tg.LongPollUpdates(ctx, state.LastUpdateID+1, 30)
	}
	if err != nil {
		if telegramtransport.IsFatal(err) {
			return err
		}
		log.Printf("[ingest] poll transient failure: %v", err)
		return nil
	}

	for _, u := range updates {
		b.processUpdate(ctx, u)
	}
	return nil
}

// pollViaProxy implements the GET <updatesUrl>?since=...&chat_id=...
// protocol, moving basic-auth credentials embedded in the URL into an
// Authorization header (§6.4).
func (b *Bridge) pollViaProxy(ctx context.Context, since int) ([]tgbotapi.Update, error) {
	u, err := url.Parse(b.cfg.UpdatesURL)
	if err != nil {
		return nil, fmt.Errorf("parse updatesUrl: %w", err)
	}
	var username, password string
	hasAuth := false
	if u.User != nil {
		username = u.User.Username()
		password, hasAuth = u.User.Password()
		hasAuth = hasAuth || username != ""
		u.User = nil
	}

	q := u.Query()
	q.Set("since", fmt.Sprintf("%d", since))
	q.Set("chat_id", fmt.Sprintf("%d", b.cfg.ChatID))
	if b.cfg.ThreadID != 0 {
		q.Set("thread_id", fmt.Sprintf("%d", b.cfg.ThreadID))
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build proxy request: %w", err)
	}
	if hasAuth {
		req.SetBasicAuth(username, password)
	}

	client := &http.Client{Timeout: 35 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("proxy request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("proxy returned %d", resp.StatusCode)
	}

	var env proxyEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("decode proxy response: %w", err)
	}

	updates := make([]tgbotapi.Update, 0, len(env.Updates))
	for _, pu := range env.Updates {
		updates = append(updates, pu.Payload)
	}
	return updates, nil
}

// processUpdate applies the filters in §4.6 step 5 and dispatches the
// survivors to the command router, persisting lastUpdateId after each
// accepted update (§5 ordering guarantee).
func (b *Bridge) processUpdate(ctx context.Context, u tgbotapi.Update) {
	defer b.advanceOffset(u.UpdateID)

	chatID, threadID, fromBot, date, ok := updateMeta(u)
	if !ok {
		return
	}
	if fromBot {
		return
	}
	if chatID != b.cfg.ChatID {
		b.recordForeignChat(ctx, chatID)
		return
	}
	if b.cfg.ThreadID != 0 && threadID != b.cfg.ThreadID {
		return
	}
	cutoff := b.startedAt
	if b.becameActiveAt.After(cutoff) {
		cutoff = b.becameActiveAt
	}
	if date.Before(cutoff) {
		return
	}

	b.route(ctx, u)
}

// advanceOffset persists lastUpdateId before the next poll offset is
// computed (§5), a no-op when updateID is not newer.
func (b *Bridge) advanceOffset(updateID int) {
	if updateID == 0 {
		return
	}
	state, _, err := b.registry.ReadState()
	if err != nil {
		log.Printf("[ingest] cannot advance offset, read failed: %v", err)
		return
	}
	if updateID <= state.LastUpdateID {
		return
	}
	state.LastUpdateID = updateID
	state.LastModified = nowMillis()
	state.ModifiedBy = b.registry.DeviceID()
	if err := b.registry.WriteState(&state); err != nil {
		log.Printf("[ingest] cannot advance offset, write failed: %v", err)
	}
}

// updateMeta extracts the fields ingest filtering needs from a Telegram
// update: chat id, thread id, whether the sender is the bot itself, and
// the update's own timestamp.
func updateMeta(u tgbotapi.Update) (chatID int64, threadID int, fromBot bool, date time.Time, ok bool) {
	switch {
	case u.Message != nil:
		m := u.Message
		chatID = m.Chat.ID
		threadID = m.MessageThreadID
		fromBot = m.From != nil && m.From.IsBot
		date = time.Unix(int64(m.Date), 0)
		return chatID, threadID, fromBot, date, true
	case u.CallbackQuery != nil:
		cb := u.CallbackQuery
		if cb.Message == nil {
			return 0, 0, false, time.Time{}, false
		}
		chatID = cb.Message.Chat.ID
		threadID = cb.Message.MessageThreadID
		fromBot = cb.From != nil && cb.From.IsBot
		date = time.Now() // callbacks carry no own date; treat as always-fresh
		return chatID, threadID, fromBot, date, true
	default:
		return 0, 0, false, time.Time{}, false
	}
}
