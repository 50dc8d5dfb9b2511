package telegramtransport

import "strings"

// classifyError distinguishes fatal Telegram API errors (401 unauthorized,
// 409 conflict, 400 chat-not-found) from everything else, which is
// transient (§4.5).
func classifyError(err error) (fatal bool) {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "unauthorized"):
		return true
	case strings.Contains(msg, "409"), strings.Contains(msg, "conflict"):
		return true
	case strings.Contains(msg, "chat not found"), strings.Contains(msg, "chat_not_found"):
		return true
	default:
		return false
	}
}
