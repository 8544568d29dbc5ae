package chat

import (
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// signalConversationUpdated is the lightweight inbox signal: it carries no
// message body, it only tells open conversation lists of the given users to
// re-fetch. origin, when set, is skipped because it already got the message.
func (m *ChatManager) signalConversationUpdated(origin *Client, userIDs ...string) {
	data, err := encodeFrame(EventConversationUpdated, nil)
	if err != nil {
		m.log.Error("encoding conversation update", zap.Error(err))
		return
	}
	for _, userID := range lo.Uniq(userIDs) {
		m.emitToRoom(userID, data, origin)
	}
}
