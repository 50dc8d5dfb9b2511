// Package bridgeerr defines the small error taxonomy shared across the
// bridge: a handful of sentinel kinds that callers check with errors.Is,
// wrapped with fmt.Errorf like everywhere else in this codebase.
package bridgeerr

import "errors"

// Kind classifies an error for propagation-policy decisions (log-and-continue
// vs. exit vs. degrade). It is never the whole story — callers still wrap
// the underlying cause with fmt.Errorf("...: %w", err).
type Kind int

const (
	// KindFatalConfig means the process cannot do useful work: missing
	// token/chat or invalid token. The process exits.
	KindFatalConfig Kind = iota
	// KindStoreUnavailable means the shared store root is missing on
	// startup. The instance degrades to permanent-leader single-instance
	// mode and keeps running.
	KindStoreUnavailable
	// KindStoreTransient means a single store read/write failed. Election
	// treats it as "no result"; the next tick retries.
	KindStoreTransient
	// KindTelegramFatal means 401 unauthorized or 400 chat-not-found. The
	// process exits if this happens on startup, otherwise the offending
	// operation is skipped and logged.
	KindTelegramFatal
	// KindTelegramTransient covers every other Telegram API error.
	KindTelegramTransient
	// KindAgentTransient means the agent call timed out. Triggers a
	// best-effort agent restart and one retry.
	KindAgentTransient
	// KindAgentAborted means an explicit abort event arrived.
	KindAgentAborted
)

func (k Kind) String() string {
	switch k {
	case KindFatalConfig:
		return "FatalConfig"
	case KindStoreUnavailable:
		return "StoreUnavailable"
	case KindStoreTransient:
		return "StoreTransient"
	case KindTelegramFatal:
		return "TelegramFatal"
	case KindTelegramTransient:
		return "TelegramTransient"
	case KindAgentTransient:
		return "AgentTransient"
	case KindAgentAborted:
		return "AgentAborted"
	default:
		return "Unknown"
	}
}

// Error is a Kind-tagged error. errors.Is matches on Kind via a sentinel
// wrapped value so existing fmt.Errorf %w chains keep working.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Kind.String() + ": " + e.Msg + ": " + e.Err.Error()
	}
	return e.Kind.String() + ": " + e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, bridgeerr.FatalConfig) work against a sentinel of
// the matching Kind even though the concrete values differ.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func New(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// Sentinels for errors.Is comparisons, e.g. errors.Is(err, bridgeerr.FatalConfig).
var (
	FatalConfig       = &Error{Kind: KindFatalConfig}
	StoreUnavailable  = &Error{Kind: KindStoreUnavailable}
	StoreTransient    = &Error{Kind: KindStoreTransient}
	TelegramFatal     = &Error{Kind: KindTelegramFatal}
	TelegramTransient = &Error{Kind: KindTelegramTransient}
	AgentTransient    = &Error{Kind: KindAgentTransient}
	AgentAborted      = &Error{Kind: KindAgentAborted}
)

// IsKind reports whether err carries the given Kind anywhere in its chain.
func IsKind(err error, kind Kind) bool {
	return errors.Is(err, &Error{Kind: kind})
}
