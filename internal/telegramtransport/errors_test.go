package telegramtransport

import (
	"errors"
	"testing"
)

func TestClassifyErrorFatalCases(t *testing.T) {
	cases := []string{
		"Unauthorized",
		"telegram: 409 Conflict: terminated by other getUpdates request",
		"Bad Request: chat not found",
		"chat_not_found",
	}
	for _, msg := range cases {
		if !classifyError(errors.New(msg)) {
			t.Errorf("expected %q to classify as fatal", msg)
		}
	}
}

func TestClassifyErrorTransientCases(t *testing.T) {
	cases := []string{
		"connection reset by peer",
		"context deadline exceeded",
		"too many requests",
	}
	for _, msg := range cases {
		if classifyError(errors.New(msg)) {
			t.Errorf("expected %q to classify as transient", msg)
		}
	}
}

func TestClassifyErrorNil(t *testing.T) {
	if classifyError(nil) {
		t.Fatal("nil error must not be fatal")
	}
}
