package receipts

import (
	"context"
	"encoding/json"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/lumenfund/giving-backend/pkg/events"
	"github.com/lumenfund/giving-backend/pkg/events/idempotency"
	"github.com/lumenfund/giving-backend/pkg/logger"
)

const receiptConsumer = "receipt-emails"

// Consumer drains the receipts subscription and emails donors. Redis
// markers keep redelivered messages from double-sending; a failed send
// clears its marker so the retry can run the handler again.
type Consumer struct {
	mailer       Mailer
	subscription *pubsub.Subscriber
	idempotency  *idempotency.Manager
	logg         *logger.Logger
}

// NewConsumer builds a receipt email consumer.
func NewConsumer(mailer Mailer, subscription *pubsub.Subscriber, manager *idempotency.Manager, logg *logger.Logger) (*Consumer, error) {
	if mailer == nil {
		return nil, fmt.Errorf("mailer required")
	}
	if subscription == nil {
		return nil, fmt.Errorf("receipts subscription required")
	}
	if manager == nil {
		return nil, fmt.Errorf("idempotency manager required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{
		mailer:       mailer,
		subscription: subscription,
		idempotency:  manager,
		logg:         logg,
	}, nil
}

// Run starts the consumer loop until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		result := c.process(ctx, msg)
		if result.nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

type processResult struct {
	ack  bool
	nack bool
}

func (c *Consumer) process(ctx context.Context, msg *pubsub.Message) processResult {
	eventType := msg.Attributes["event_type"]
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"message_id": msg.ID,
		"event_type": eventType,
	})

	if eventType != receiptEventType {
		c.logg.Info(logCtx, "skipping non-receipt event")
		return processResult{ack: true}
	}

	var envelope events.PayloadEnvelope
	if err := json.Unmarshal(msg.Data, &envelope); err != nil {
		c.logg.Error(logCtx, "failed to decode envelope", err)
		return processResult{ack: true}
	}

	eventID, err := uuid.Parse(envelope.EventID)
	if err != nil {
		c.logg.Error(logCtx, "invalid event id", err)
		return processResult{ack: true}
	}
	logCtx = c.logg.WithEventID(logCtx, envelope.EventID)

	already, err := c.idempotency.CheckAndMarkProcessed(ctx, receiptConsumer, eventID)
	if err != nil {
		c.logg.Error(logCtx, "idempotency check failed", err)
		return processResult{nack: true}
	}
	if already {
		c.logg.Info(logCtx, "receipt already sent")
		return processResult{ack: true}
	}

	var receipt Receipt
	if err := json.Unmarshal(envelope.Data, &receipt); err != nil {
		c.logg.Error(logCtx, "failed to parse receipt", err)
		_ = c.idempotency.Delete(ctx, receiptConsumer, eventID)
		return processResult{nack: true}
	}

	logCtx = c.logg.WithFields(logCtx, map[string]any{
		"donation_id": receipt.DonationID.String(),
		"user_id":     receipt.UserID.String(),
	})

	if err := c.mailer.Send(ctx, receipt); err != nil {
		c.logg.Error(logCtx, "receipt delivery failed", err)
		_ = c.idempotency.Delete(ctx, receiptConsumer, eventID)
		return processResult{nack: true}
	}

	c.logg.Info(logCtx, "receipt emailed")
	return processResult{ack: true}
}
