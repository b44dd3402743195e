package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	inats "github.com/aiox-platform/recall/internal/nats"
)

const consumerName = "turn-audit"

// errMalformed marks events that can never be persisted.
var errMalformed = errors.New("malformed turn event")

// Consumer listens on the turn event subject and persists entries to the repository.
type Consumer struct {
	repo        Repository
	consumerMgr *inats.ConsumerManager
	now         func() time.Time
}

// NewConsumer creates a new turn event Consumer.
func NewConsumer(repo Repository, consumerMgr *inats.ConsumerManager) *Consumer {
	return &Consumer{
		repo:        repo,
		consumerMgr: consumerMgr,
		now:         time.Now,
	}
}

// Start begins the consume loop. Blocks until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	consumer, err := c.consumerMgr.EnsureConsumer(ctx, inats.StreamEvents, consumerName, inats.SubjectTurnEvent, 0)
	if err != nil {
		return err
	}

	slog.Info("turn audit consumer started", "consumer", consumerName)

	for {
		msgs, err := consumer.Fetch(10, jetstream.FetchMaxWait(inats.FetchTimeout))
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Debug("turn audit consumer: fetching events", "error", err)
			continue
		}

		for msg := range msgs.Messages() {
			switch err := c.handle(ctx, msg.Data()); {
			case errors.Is(err, errMalformed):
				slog.Error("turn audit consumer: dropping event", "error", err)
				_ = msg.Term()
			case err != nil:
				slog.Error("turn audit consumer: persisting event", "error", err)
				_ = msg.Nak()
			default:
				_ = msg.Ack()
			}
		}

		if ctx.Err() != nil {
			return nil
		}
	}
}

func (c *Consumer) handle(ctx context.Context, data []byte) error {
	var event inats.TurnEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return fmt.Errorf("%w: %v", errMalformed, err)
	}
	if event.MessageID == "" || event.UserID == "" || event.Outcome == "" {
		return fmt.Errorf("%w: message id, user id and outcome are required", errMalformed)
	}

	log := toLog(event, c.now())
	if err := c.repo.Insert(ctx, log); err != nil {
		return err
	}

	slog.Debug("turn audit consumer: persisted event",
		"message_id", event.MessageID,
		"user_id", event.UserID,
		"outcome", event.Outcome,
	)
	return nil
}

// toLog converts a bus event into a row. Events without a timestamp are
// stamped with now.
func toLog(event inats.TurnEvent, now time.Time) *TurnLog {
	created := event.Timestamp
	if created.IsZero() {
		created = now
	}
	return &TurnLog{
		MessageID:  event.MessageID,
		UserID:     event.UserID,
		Outcome:    event.Outcome,
		Reason:     event.Reason,
		DurationMS: event.Duration.Milliseconds(),
		ReceivedAt: event.ReceivedAt,
		CreatedAt:  created.UTC(),
	}
}
