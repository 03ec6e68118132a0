package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	pubnub "github.com/pubnub/go"
)

const (
	NotifyReservationStatus = "reservation.status"
	NotifyReviewPrompt      = "reservation.review_prompt"
	NotifyPayoutCompleted   = "payout.completed"
)

// Notifier delivers fire-and-forget messages to a user. Implementations never block the caller
// and swallow delivery failures.
type Notifier interface {
	Notify(ctx context.Context, userID, kind string, payload map[string]any)
}

// PubNubNotifier publishes to the user's "user-<id>" channel.
type PubNubNotifier struct {
	publish func(channel string, message map[string]any) error
	logger  *slog.Logger
	wg      sync.WaitGroup
}

func NewPubNubNotifier(pn *pubnub.PubNub) *PubNubNotifier {
	return &PubNubNotifier{
		publish: func(channel string, message map[string]any) error {
			_, _, err := pn.Publish().
				Channel(channel).
				Message(message).
				Execute()
			return err
		},
		logger: slog.Default(),
	}
}

func (n *PubNubNotifier) Notify(_ context.Context, userID, kind string, payload map[string]any) {
	if userID == "" {
		return
	}
	message := map[string]any{
		"type":      kind,
		"data":      payload,
		"timestamp": time.Now().Unix(),
	}
	channel := "user-" + userID

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if err := n.publish(channel, message); err != nil {
			n.logger.Error("Failed to publish notification", "channel", channel, "type", kind, "error", err)
		}
	}()
}

// Wait blocks until in-flight publishes finish. Used on shutdown.
func (n *PubNubNotifier) Wait() {
	n.wg.Wait()
}

// LogNotifier only logs. Used when PubNub keys are not configured.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, userID, kind string, payload map[string]any) {
	slog.Info("Notification", "user_id", userID, "type", kind, "payload", payload)
}
