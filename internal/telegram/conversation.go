package telegram

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const conversationPrefix = ChannelName + ":"

// ErrForeignConversation is returned for conversation ids the bot does not
// own.
var ErrForeignConversation = errors.New("telegram: not a telegram conversation")

// ConversationID namespaces a chat id so it cannot collide with other
// channels in the shared session store.
func ConversationID(chatID int64) string {
	return conversationPrefix + strconv.FormatInt(chatID, 10)
}

// ParseConversationID reverses ConversationID.
func ParseConversationID(id string) (int64, error) {
	raw, ok := strings.CutPrefix(id, conversationPrefix)
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrForeignConversation, id)
	}
	chatID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrForeignConversation, id)
	}
	return chatID, nil
}
