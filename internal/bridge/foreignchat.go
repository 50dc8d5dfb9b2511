package bridge

import (
	"context"
	"fmt"
	"log"
)

// recordForeignChat appends chatID to StateRecord.ForeignChatIds if not
// already present and, when it is a genuinely new addition, posts one
// aggregate warning listing the last five foreign ids seen (§4.6 step 5,
// §4.10).
func (b *Bridge) recordForeignChat(ctx context.Context, chatID int64) {
	state, _, err := b.registry.ReadState()
	if err != nil {
		log.Printf("[foreignchat] read state failed: %v", err)
		return
	}
	for _, id := range state.ForeignChatIDs {
		if id == chatID {
			return
		}
	}

	state.ForeignChatIDs = append(state.ForeignChatIDs, chatID)
	state.LastModified = nowMillis()
	state.ModifiedBy = b.registry.DeviceID()
	if err := b.registry.WriteState(&state); err != nil {
		log.Printf("[foreignchat] write state failed: %v", err)
		return
	}

	last := state.ForeignChatIDs
	if len(last) > 5 {
		last = last[len(last)-5:]
	}
	msg := fmt.Sprintf("⚠️ Bot received messages from %d unconfigured chat(s). Last seen: %v", len(state.ForeignChatIDs), last)
	b.notify(ctx, msg)
}
