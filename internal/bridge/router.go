package bridge

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/agentdev/tg-agent-bridge/internal/agentclient"
	"github.com/agentdev/tg-agent-bridge/internal/cluster"
	"github.com/agentdev/tg-agent-bridge/internal/session"
)

// route implements the command router's classification order (§4.7).
func (b *Bridge) route(ctx context.Context, u tgbotapi.Update) {
	if u.CallbackQuery != nil {
		b.routeCallback(ctx, u.CallbackQuery)
		return
	}
	if u.Message == nil {
		return
	}
	m := u.Message
	key := session.Key{ChatID: m.Chat.ID, ThreadID: m.MessageThreadID}

	// Step 1: outstanding freetext question.
	if pq, ok := b.pending.Question(key); ok && pq.AwaitingFreetextIdx != nil && m.Text != "" {
		b.answerFreetext(ctx, key, pq, m.Text)
		return
	}

	// Step 2: pending interaction cancellation.
	if b.pending.HasAny(key) {
		b.cancelPending(ctx, key)
		// fall through: the incoming message is still processed below.
	}

	// Step 3: single-character "x" aborts the current turn.
	if strings.EqualFold(strings.TrimSpace(m.Text), "x") {
		b.abortTurn(ctx)
		return
	}

	// Step 4: slash commands.
	if m.IsCommand() || strings.HasPrefix(m.Text, "/") {
		if b.dispatchCommand(ctx, m) {
			return
		}
	}

	// Step 5: prompt submission.
	b.submitPrompt(ctx, m)
}

func (b *Bridge) answerFreetext(ctx context.Context, key session.Key, pq *session.PendingQuestion, text string) {
	idx := *pq.AwaitingFreetextIdx
	pq.Answers[idx] = []string{text}
	pq.AwaitingFreetextIdx = nil
	b.editQuestionMessage(ctx, pq, idx, text)

	if pq.AnsweredCount() == len(pq.Questions) {
		b.pending.ClearQuestion(key)
		if err := b.agent.QuestionReply(ctx, pq.RequestID, pq.OrderedAnswers()); err != nil {
			log.Printf("[router] question.reply failed: %v", err)
		}
	}
}

func (b *Bridge) cancelPending(ctx context.Context, key session.Key) {
	if pq, ok := b.pending.Question(key); ok {
		b.pending.ClearQuestion(key)
		if err := b.agent.QuestionReject(ctx, pq.RequestID); err != nil {
			log.Printf("[router] question.reject failed: %v", err)
		}
	}
	if pp, ok := b.pending.Permission(key); ok {
		b.pending.ClearPermission(key)
		if err := b.agent.PermissionReply(ctx, pp.RequestID, agentclient.PermissionReject); err != nil {
			log.Printf("[router] permission.reply(reject) failed: %v", err)
		}
	}
}

func (b *Bridge) abortTurn(ctx context.Context) {
	if b.sess == nil {
		return
	}
	if err := b.agent.Abort(ctx, b.sess.ID); err != nil {
		log.Printf("[router] abort failed: %v", err)
	}
}

// dispatchCommand handles the slash-command table in §4.7. It returns
// false for unrecognized verbs so the caller falls through to prompt
// submission.
func (b *Bridge) dispatchCommand(ctx context.Context, m *tgbotapi.Message) bool {
	text := strings.TrimSpace(m.Text)
	verb, arg, _ := strings.Cut(text, " ")
	verb = strings.ToLower(verb)
	arg = strings.TrimSpace(arg)

	switch verb {
	case "/connect":
		url := b.agent.ExternalURL(ctx)
		if url == "" {
			b.notify(ctx, "No externally-visible URL configured.")
		} else {
			b.notify(ctx, url)
		}
	case "/version":
		b.notify(ctx, "version: "+b.version)
	case "/model":
		b.handleModel(ctx, arg)
	case "/interrupt":
		b.handleInterrupt(ctx, arg)
	case "/plan", "/build":
		b.forwardCommand(ctx, strings.TrimPrefix(verb, "/"), arg)
	case "/review":
		b.forwardCommand(ctx, "review", arg)
	case "/rename":
		b.handleRename(ctx, arg)
	case "/cap":
		b.handleCapture(ctx, m, arg)
	case "/ps":
		b.handlePS(ctx)
	case "/dev":
		b.handleListDevices(ctx)
	case "/use":
		b.handleUseDevice(ctx, arg)
	case "/stop":
		b.handleStopDevice(ctx, arg)
	case "/restart", "/upgrade":
		b.notify(ctx, "Restart/upgrade is handled by an external helper script; not implemented in-process.")
	case "/start":
		b.notify(ctx, "Launching a sibling instance for "+arg+" is handled by an external process supervisor.")
	default:
		return false
	}
	return true
}

func (b *Bridge) handleModel(ctx context.Context, arg string) {
	sess := b.ensureSession()
	switch {
	case arg == "":
		if sess.SelectedModel == nil {
			b.notify(ctx, "No model override set.")
		} else {
			b.notify(ctx, fmt.Sprintf("Model: %s/%s", sess.SelectedModel.Provider, sess.SelectedModel.Model))
		}
	case arg == "list":
		models, err := b.agent.ListModels(ctx)
		if err != nil {
			b.notify(ctx, "Failed to list models: "+err.Error())
			return
		}
		var sb strings.Builder
		for _, mr := range models {
			fmt.Fprintf(&sb, "%s/%s\n", mr.Provider, mr.Model)
		}
		b.notify(ctx, sb.String())
	case arg == "reset":
		sess.SelectedModel = nil
		b.notify(ctx, "Model override cleared.")
	default:
		provider, model, found := strings.Cut(arg, "/")
		if !found {
			b.notify(ctx, "Usage: /model <provider>/<model>")
			return
		}
		sess.SelectedModel = &agentclient.ModelRef{Provider: provider, Model: model}
		b.notify(ctx, "Model set to "+arg)
	}
}

func (b *Bridge) handleInterrupt(ctx context.Context, arg string) {
	if b.sess == nil {
		return
	}
	if arg == "" {
		procs := b.sess.ListBash()
		if len(procs) == 0 {
			b.abortTurn(ctx)
			return
		}
		for pid := range procs {
			b.killBash(pid)
		}
		return
	}
	pid, err := strconv.Atoi(arg)
	if err != nil {
		b.notify(ctx, "Usage: /interrupt [pid]")
		return
	}
	b.killBash(pid)
}

func (b *Bridge) forwardCommand(ctx context.Context, command, arg string) {
	sess := b.ensureSession()
	if err := b.agent.Command(ctx, sess.ID, command, arg); err != nil {
		log.Printf("[router] forward command %s failed: %v", command, err)
		b.notify(ctx, "Failed to forward /"+command+": "+err.Error())
	}
}

func (b *Bridge) handleRename(ctx context.Context, title string) {
	if title == "" {
		b.notify(ctx, "Usage: /rename <title>")
		return
	}
	sess := b.ensureSession()
	sess.TitleKnown = true
	if threadID, ok := b.topicBySession[sess.ID]; ok {
		if err := b.tg.EditForumTopic(b.cfg.ChatID, threadID, title); err != nil {
			log.Printf("[router] rename topic failed: %v", err)
		}
	}
	b.notify(ctx, "Renamed to: "+title)
}

func (b *Bridge) handlePS(ctx context.Context) {
	if b.sess == nil {
		b.notify(ctx, "No tracked processes.")
		return
	}
	procs := b.sess.ListBash()
	if len(procs) == 0 {
		b.notify(ctx, "No tracked processes.")
		return
	}
	var sb strings.Builder
	for pid, desc := range procs {
		fmt.Fprintf(&sb, "pid %d: %s\n", pid, desc)
	}
	b.notify(ctx, sb.String())
}

func (b *Bridge) handleListDevices(ctx context.Context) {
	devices, err := b.registry.ListDevices()
	if err != nil {
		b.notify(ctx, "Failed to list devices: "+err.Error())
		return
	}
	var sb strings.Builder
	for _, d := range devices {
		marker := "  "
		if d.Active {
			marker = "* "
		}
		fmt.Fprintf(&sb, "%s%d. %s (%s)\n", marker, d.Number, d.Record.Name, d.Record.Hostname)
	}
	if sb.Len() == 0 {
		sb.WriteString("No devices registered.")
	}
	b.notify(ctx, sb.String())
}

func (b *Bridge) handleUseDevice(ctx context.Context, arg string) {
	devices, err := b.registry.ListDevices()
	if err != nil {
		b.notify(ctx, "Failed to list devices: "+err.Error())
		return
	}
	target := resolveDeviceArg(devices, arg)
	if target == "" {
		b.notify(ctx, "Unknown device: "+arg)
		return
	}
	if err := cluster.ForceActivate(b.registry, target); err != nil {
		b.notify(ctx, "Failed to activate device: "+err.Error())
		return
	}
	b.notify(ctx, "Forced active device: "+target)
}

func (b *Bridge) handleStopDevice(ctx context.Context, arg string) {
	devices, err := b.registry.ListDevices()
	if err != nil {
		b.notify(ctx, "Failed to list devices: "+err.Error())
		return
	}
	target := resolveDeviceArg(devices, arg)
	if target == "" {
		b.notify(ctx, "Unknown device: "+arg)
		return
	}
	for _, d := range devices {
		if d.Record.Name == target && d.Active {
			b.notify(ctx, "Cannot stop the active device; use /use to hand off first.")
			return
		}
	}
	if err := b.registry.RemoveDevice(target); err != nil {
		b.notify(ctx, "Failed to remove device: "+err.Error())
		return
	}
	b.notify(ctx, "Removed device: "+target)
}

func resolveDeviceArg(devices []cluster.ListedDevice, arg string) string {
	if n, err := strconv.Atoi(arg); err == nil {
		for _, d := range devices {
			if d.Number == n {
				return d.Record.Name
			}
		}
		return ""
	}
	for _, d := range devices {
		if d.Record.Name == arg {
			return d.Record.Name
		}
	}
	return ""
}

// routeCallback dispatches callback queries first to the question handler,
// then the permission handler (§4.7 "Callback queries").
func (b *Bridge) routeCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	data := cb.Data
	switch {
	case strings.HasPrefix(data, "q:"):
		b.handleQuestionCallback(ctx, cb, data)
	case strings.HasPrefix(data, "p:"):
		b.handlePermissionCallback(ctx, cb, data)
	default:
		b.tg.AnswerCallback(cb.ID, "Unknown action.", true)
	}
}

// submitPrompt builds the parts list and submits it to the agent (§4.7
// step 5).
func (b *Bridge) submitPrompt(ctx context.Context, m *tgbotapi.Message) {
	parts, err := b.buildPromptParts(ctx, m)
	if err != nil {
		b.notify(ctx, "Failed to build prompt: "+err.Error())
		return
	}
	if len(parts) == 0 {
		return
	}

	sess := b.ensureSession()
	var model *agentclient.ModelRef
	if sess.SelectedModel != nil {
		model = sess.SelectedModel
	}

	firstMessage := !sess.TitleKnown
	if err := b.agent.Prompt(ctx, sess.ID, parts, model); err != nil {
		log.Printf("[router] prompt submission failed: %v", err)
		b.notify(ctx, "Failed to reach agent: "+err.Error())
		return
	}

	if firstMessage {
		go b.requestTitle(context.Background(), sess, m.Text)
	}
}

func (b *Bridge) requestTitle(ctx context.Context, sess *session.Session, firstText string) {
	result, err := b.agent.TitleRequest(ctx, sess.ID, firstText)
	if err != nil || result.Type != "title" || result.Value == "" {
		return
	}
	sess.TitleKnown = true
	if threadID, ok := b.topicBySession[sess.ID]; ok {
		if err := b.tg.EditForumTopic(b.cfg.ChatID, threadID, result.Value); err != nil {
			log.Printf("[router] apply generated title to topic failed: %v", err)
		}
	}
}

// buildPromptParts builds the agent-facing parts list for m: photo,
// transcribed voice, or plain text. Video attachments are rejected
// explicitly (§4.7 step 5).
func (b *Bridge) buildPromptParts(ctx context.Context, m *tgbotapi.Message) ([]agentclient.PromptPart, error) {
	if m.Video != nil {
		b.notify(ctx, "Video attachments are not supported.")
		return nil, nil
	}

	if len(m.Photo) > 0 {
		dataURL, err := b.tg.DownloadPhoto(m.Photo)
		if err != nil {
			return nil, fmt.Errorf("download photo: %w", err)
		}
		part := agentclient.PromptPart{Type: "file", Data: dataURL, Mime: "image/jpeg"}
		if m.Caption != "" {
			return []agentclient.PromptPart{{Type: "text", Text: m.Caption}, part}, nil
		}
		return []agentclient.PromptPart{part}, nil
	}

	if m.Voice != nil {
		if !b.cfg.VoiceEnabled() {
			return nil, fmt.Errorf("voice transcription is not configured")
		}
		transcript, err := b.transcribeVoice(ctx, m.Voice.FileID)
		if err != nil {
			return nil, fmt.Errorf("transcribe voice: %w", err)
		}
		return []agentclient.PromptPart{{Type: "text", Text: transcript}}, nil
	}

	if m.Text == "" {
		return nil, nil
	}
	return []agentclient.PromptPart{{Type: "text", Text: m.Text}}, nil
}
