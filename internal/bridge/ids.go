package bridge

import "github.com/google/uuid"

func newSessionID() string {
	return uuid.NewString()
}

func newRequestID() string {
	return uuid.NewString()
}
