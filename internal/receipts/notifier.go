package receipts

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"

	"github.com/lumenfund/giving-backend/pkg/events"
	"github.com/lumenfund/giving-backend/pkg/logger"
)

// receiptEventType labels receipt messages on the wire; the worker
// skips everything else on the subscription.
const receiptEventType = "donation.receipt.created"

const defaultPublishTimeout = 10 * time.Second

type publishResult interface {
	Get(context.Context) (string, error)
}

type publisher interface {
	Publish(context.Context, *pubsub.Message) publishResult
}

type gcpPublisher struct {
	publisher *pubsub.Publisher
}

func (p *gcpPublisher) Publish(ctx context.Context, msg *pubsub.Message) publishResult {
	if p == nil || p.publisher == nil {
		return nil
	}
	return p.publisher.Publish(ctx, msg)
}

// Notifier queues receipts for settled gifts. Delivery is best effort:
// a publish failure is logged and swallowed so it can never fail the
// payment event that produced it.
type Notifier struct {
	pub  publisher
	logg *logger.Logger
}

// NewNotifier builds a receipt notifier on the receipts topic.
func NewNotifier(pub *pubsub.Publisher, logg *logger.Logger) (*Notifier, error) {
	if pub == nil {
		return nil, fmt.Errorf("receipts publisher required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Notifier{
		pub:  &gcpPublisher{publisher: pub},
		logg: logg,
	}, nil
}

// Send enqueues one receipt email.
func (n *Notifier) Send(ctx context.Context, receipt Receipt) {
	logCtx := n.logg.WithFields(ctx, map[string]any{
		"donation_id": receipt.DonationID.String(),
		"user_id":     receipt.UserID.String(),
	})

	data, err := json.Marshal(receipt)
	if err != nil {
		n.logg.Error(logCtx, "failed to encode receipt", err)
		return
	}
	envelope := events.NewEnvelope(&events.ActorRef{UserID: receipt.UserID}, data)
	payload, err := json.Marshal(envelope)
	if err != nil {
		n.logg.Error(logCtx, "failed to encode receipt envelope", err)
		return
	}

	msg := &pubsub.Message{
		Data: payload,
		Attributes: map[string]string{
			"event_id":    envelope.EventID,
			"event_type":  receiptEventType,
			"donation_id": receipt.DonationID.String(),
		},
	}

	publishCtx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
	defer cancel()
	result := n.pub.Publish(publishCtx, msg)
	if result == nil {
		n.logg.Error(logCtx, "receipts publisher unavailable", fmt.Errorf("nil publish result"))
		return
	}
	if _, err := result.Get(publishCtx); err != nil {
		n.logg.Error(logCtx, "receipt publish failed", err)
		return
	}

	n.logg.Info(n.logg.WithEventID(logCtx, envelope.EventID), "receipt queued")
}
