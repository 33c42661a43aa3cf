package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/kasuganosora/questengine/cache"
	"go.uber.org/zap"
)

const channelPrefix = "notify:"

// Channel is the pub/sub channel carrying a member's notifications.
func Channel(userID string) string { return channelPrefix + userID }

// Notification is the payload published for a member.
type Notification struct {
	UserID  string    `json:"user_id"`
	Message string    `json:"message"`
	SentAt  time.Time `json:"sent_at"`
}

// Notifier delivers member notifications over pub/sub. Delivery is best
// effort: members without a live subscriber simply miss the message.
type Notifier struct {
	ps     cache.PubSub
	logger *zap.Logger
}

// New creates a Notifier.
func New(ps cache.PubSub, logger *zap.Logger) *Notifier {
	return &Notifier{ps: ps, logger: logger}
}

// Notify publishes message on the member's channel.
func (n *Notifier) Notify(ctx context.Context, userID, message string) error {
	raw, err := json.Marshal(Notification{UserID: userID, Message: message, SentAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	if err := n.ps.Publish(ctx, Channel(userID), string(raw)); err != nil {
		return err
	}
	n.logger.Debug("notification published", zap.String("user_id", userID))
	return nil
}
