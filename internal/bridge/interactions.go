package bridge

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/agentdev/tg-agent-bridge/internal/agentclient"
	"github.com/agentdev/tg-agent-bridge/internal/session"
)

// openQuestion implements the question.asked side of §4.9: one Telegram
// message per question, up to 7 option buttons plus "Other" in columns of
// two.
func (b *Bridge) openQuestion(ctx context.Context, payload agentclient.QuestionAskedPayload) {
	key := session.Key{ChatID: b.cfg.ChatID, ThreadID: b.cfg.ThreadID}
	b.cancelPending(ctx, key)

	pq := &session.PendingQuestion{
		RequestID: payload.RequestID,
		ChatID:    key.ChatID,
		ThreadID:  key.ThreadID,
		Questions: payload.Questions,
		Answers:   make(map[int][]string),
	}

	for idx, q := range payload.Questions {
		markup := questionKeyboard(key, idx, q.Options)
		result, err := b.tg.SendMessage(ctx, key.ChatID, key.ThreadID, q.Text, &markup, 0)
		if err != nil {
			log.Printf("[interactions] failed to send question %d: %v", idx, err)
			continue
		}
		pq.MessageIDs = append(pq.MessageIDs, result.MessageID)
	}

	b.pending.SetQuestion(key, pq)
}

func questionKeyboard(key session.Key, idx int, options []string) tgbotapi.InlineKeyboardMarkup {
	opts := options
	if len(opts) > 7 {
		opts = opts[:7]
	}
	var rows [][]tgbotapi.InlineKeyboardButton
	var row []tgbotapi.InlineKeyboardButton
	for optIdx, label := range opts {
		data := fmt.Sprintf("q:%d:%d:%d:%d", key.ChatID, key.ThreadID, idx, optIdx)
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(label, data))
		if len(row) == 2 {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	otherData := fmt.Sprintf("q:%d:%d:%d:other", key.ChatID, key.ThreadID, idx)
	rows = append(rows, []tgbotapi.InlineKeyboardButton{tgbotapi.NewInlineKeyboardButtonData("Other", otherData)})
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// handleQuestionCallback parses "q:<chatId>:<threadId>:<qIdx>:<optIdx|other>"
// and applies the selection, or switches the prompt into freetext mode for
// "Other" (§4.7 "Callback queries", §4.9).
func (b *Bridge) handleQuestionCallback(ctx context.Context, cb *tgbotapi.CallbackQuery, data string) {
	fields := strings.SplitN(data, ":", 5)
	if len(fields) != 5 {
		b.tg.AnswerCallback(cb.ID, "Malformed callback.", true)
		return
	}
	chatID, err1 := strconv.ParseInt(fields[1], 10, 64)
	threadID, err2 := strconv.Atoi(fields[2])
	qIdx, err3 := strconv.Atoi(fields[3])
	if err1 != nil || err2 != nil || err3 != nil {
		b.tg.AnswerCallback(cb.ID, "Malformed callback.", true)
		return
	}
	key := session.Key{ChatID: chatID, ThreadID: threadID}

	pq, ok := b.pending.Question(key)
	if !ok || qIdx >= len(pq.Questions) {
		b.tg.AnswerCallback(cb.ID, "This has expired.", true)
		return
	}

	if fields[4] == "other" {
		pq.AwaitingFreetextIdx = &qIdx
		b.editQuestionMessagePrompt(ctx, pq, qIdx)
		b.tg.AnswerCallback(cb.ID, "", false)
		return
	}

	optIdx, err := strconv.Atoi(fields[4])
	if err != nil || optIdx >= len(pq.Questions[qIdx].Options) {
		b.tg.AnswerCallback(cb.ID, "Malformed callback.", true)
		return
	}
	label := pq.Questions[qIdx].Options[optIdx]
	pq.Answers[qIdx] = []string{label}
	b.editQuestionMessage(ctx, pq, qIdx, label)
	b.tg.AnswerCallback(cb.ID, "", false)

	if pq.AnsweredCount() == len(pq.Questions) {
		b.pending.ClearQuestion(key)
		if err := b.agent.QuestionReply(ctx, pq.RequestID, pq.OrderedAnswers()); err != nil {
			log.Printf("[interactions] question.reply failed: %v", err)
		}
	}
}

// editQuestionMessage edits a question's message to show the chosen
// answer in italics and removes the keyboard.
func (b *Bridge) editQuestionMessage(ctx context.Context, pq *session.PendingQuestion, idx int, answer string) {
	if idx >= len(pq.MessageIDs) {
		return
	}
	text := fmt.Sprintf("%s\n\n_%s_", pq.Questions[idx].Text, answer)
	empty := tgbotapi.NewInlineKeyboardMarkup()
	if _, err := b.tg.EditMessage(ctx, pq.ChatID, pq.MessageIDs[idx], text, &empty); err != nil {
		log.Printf("[interactions] edit question message failed: %v", err)
	}
}

func (b *Bridge) editQuestionMessagePrompt(ctx context.Context, pq *session.PendingQuestion, idx int) {
	if idx >= len(pq.MessageIDs) {
		return
	}
	if _, err := b.tg.EditMessage(ctx, pq.ChatID, pq.MessageIDs[idx], "Please type your answer:", nil); err != nil {
		log.Printf("[interactions] edit freetext prompt failed: %v", err)
	}
}

// openPermission implements the permission.asked side of §4.9: one message
// with Accept / Accept Always / Deny buttons.
func (b *Bridge) openPermission(ctx context.Context, payload agentclient.PermissionAskedPayload) {
	key := session.Key{ChatID: b.cfg.ChatID, ThreadID: b.cfg.ThreadID}
	b.cancelPending(ctx, key)

	pp := &session.PendingPermission{
		RequestID:  payload.RequestID,
		ChatID:     key.ChatID,
		ThreadID:   key.ThreadID,
		Permission: payload.Permission,
		Patterns:   payload.Patterns,
	}

	text := fmt.Sprintf("Permission requested: %s\n%s", payload.Permission, strings.Join(payload.Patterns, "\n"))
	markup := permissionKeyboard(key)
	result, err := b.tg.SendMessage(ctx, key.ChatID, key.ThreadID, text, &markup, 0)
	if err != nil {
		log.Printf("[interactions] failed to send permission prompt: %v", err)
		return
	}
	pp.MessageID = result.MessageID
	b.pending.SetPermission(key, pp)
}

func permissionKeyboard(key session.Key) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Accept", fmt.Sprintf("p:%d:%d:once", key.ChatID, key.ThreadID)),
			tgbotapi.NewInlineKeyboardButtonData("Accept Always", fmt.Sprintf("p:%d:%d:always", key.ChatID, key.ThreadID)),
			tgbotapi.NewInlineKeyboardButtonData("Deny", fmt.Sprintf("p:%d:%d:reject", key.ChatID, key.ThreadID)),
		),
	)
}

// handlePermissionCallback parses "p:<chatId>:<threadId>:<once|always|reject>".
func (b *Bridge) handlePermissionCallback(ctx context.Context, cb *tgbotapi.CallbackQuery, data string) {
	fields := strings.SplitN(data, ":", 4)
	if len(fields) != 4 {
		b.tg.AnswerCallback(cb.ID, "Malformed callback.", true)
		return
	}
	chatID, err1 := strconv.ParseInt(fields[1], 10, 64)
	threadID, err2 := strconv.Atoi(fields[2])
	if err1 != nil || err2 != nil {
		b.tg.AnswerCallback(cb.ID, "Malformed callback.", true)
		return
	}
	key := session.Key{ChatID: chatID, ThreadID: threadID}

	pp, ok := b.pending.Permission(key)
	if !ok {
		b.tg.AnswerCallback(cb.ID, "This has expired.", true)
		return
	}

	var decision agentclient.PermissionDecision
	var verdict string
	switch fields[3] {
	case "once":
		decision, verdict = agentclient.PermissionOnce, "Accepted (once)"
	case "always":
		decision, verdict = agentclient.PermissionAlways, "Accepted (always)"
	case "reject":
		decision, verdict = agentclient.PermissionReject, "Denied"
	default:
		b.tg.AnswerCallback(cb.ID, "Malformed callback.", true)
		return
	}

	b.pending.ClearPermission(key)
	if err := b.agent.PermissionReply(ctx, pp.RequestID, decision); err != nil {
		log.Printf("[interactions] permission.reply failed: %v", err)
	}

	text := fmt.Sprintf("Permission requested: %s\n%s\n\n_%s_", pp.Permission, strings.Join(pp.Patterns, "\n"), verdict)
	empty := tgbotapi.NewInlineKeyboardMarkup()
	if _, err := b.tg.EditMessage(ctx, pp.ChatID, pp.MessageID, text, &empty); err != nil {
		log.Printf("[interactions] edit permission message failed: %v", err)
	}
	b.tg.AnswerCallback(cb.ID, "", false)
}
