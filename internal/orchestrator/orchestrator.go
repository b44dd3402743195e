// Package orchestrator turns inbound bus messages into conversation turns
// and publishes the replies.
package orchestrator

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/aiox-platform/recall/internal/metrics"
	inats "github.com/aiox-platform/recall/internal/nats"
)

const consumerName = "orchestrator"

// DefaultRateLimitedReply is sent when a user exceeds the rate limit.
const DefaultRateLimitedReply = "You're sending messages faster than I can think. Give me a moment and try again."

// Responder runs one conversation turn.
type Responder interface {
	HandleMessage(ctx context.Context, userID, text string) (string, error)
}

// Publisher sends replies and turn events.
type Publisher interface {
	PublishOutboundMessage(ctx context.Context, msg inats.OutboundMessage) error
	PublishTurnEvent(ctx context.Context, event inats.TurnEvent) error
}

// Limiter is satisfied by ratelimit.Limiter.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Config holds orchestrator settings.
type Config struct {
	// AckWait bounds how long a message may be in flight before redelivery.
	AckWait time.Duration
	// RateLimitedReply is sent to throttled users. Empty means no reply.
	RateLimitedReply string
}

// Orchestrator consumes inbound messages, filters and rate limits them,
// runs the turn and publishes the reply and a turn event.
type Orchestrator struct {
	publisher   Publisher
	consumerMgr *inats.ConsumerManager
	validator   *Validator
	responder   Responder
	limiter     Limiter
	cfg         Config
	now         func() time.Time
	logger      *slog.Logger
}

// NewOrchestrator creates a new Orchestrator. limiter may be nil.
func NewOrchestrator(
	publisher Publisher,
	consumerMgr *inats.ConsumerManager,
	validator *Validator,
	responder Responder,
	limiter Limiter,
	cfg Config,
	logger *slog.Logger,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		publisher:   publisher,
		consumerMgr: consumerMgr,
		validator:   validator,
		responder:   responder,
		limiter:     limiter,
		cfg:         cfg,
		now:         time.Now,
		logger:      logger.With("component", "orchestrator"),
	}
}

// Start runs the consume loop until ctx is cancelled.
func (o *Orchestrator) Start(ctx context.Context) error {
	consumer, err := o.consumerMgr.EnsureConsumer(ctx, inats.StreamMessages, consumerName, inats.SubjectInboundMessage, o.cfg.AckWait)
	if err != nil {
		return err
	}

	o.logger.Info("orchestrator started", "consumer", consumerName)

	for {
		msgs, err := consumer.Fetch(10, jetstream.FetchMaxWait(inats.FetchTimeout))
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			o.logger.Debug("fetching inbound messages", "error", err)
			continue
		}

		for msg := range msgs.Messages() {
			o.processMessage(ctx, msg)
		}

		if ctx.Err() != nil {
			return nil
		}
	}
}

func (o *Orchestrator) processMessage(ctx context.Context, msg jetstream.Msg) {
	var inbound inats.InboundMessage
	if err := json.Unmarshal(msg.Data(), &inbound); err != nil {
		o.logger.Error("unmarshaling inbound message", "error", err)
		// A malformed payload never becomes valid; drop it instead of redelivering.
		_ = msg.Term()
		return
	}

	o.Handle(ctx, inbound)
	_ = msg.Ack()
}

// Handle processes one decoded inbound message.
func (o *Orchestrator) Handle(ctx context.Context, inbound inats.InboundMessage) {
	start := o.now()
	userID := userIDOf(inbound)
	log := o.logger.With("id", inbound.ID, "user_id", userID)

	event := inats.TurnEvent{
		MessageID:  inbound.ID,
		UserID:     userID,
		ReceivedAt: inbound.ReceivedAt,
	}

	if err := o.validator.Validate(inbound); err != nil {
		log.Debug("dropping inbound message", "reason", err)
		event.Outcome = inats.OutcomeRejected
		event.Reason = err.Error()
		o.publishEvent(ctx, event, start)
		return
	}

	if o.limiter != nil {
		allowed, err := o.limiter.Allow(ctx, userID)
		switch {
		case err != nil:
			log.Warn("rate limiter: redis error, failing open", "error", err)
		case !allowed:
			metrics.RateLimitedTotal.WithLabelValues("user").Inc()
			log.Info("user rate limited")
			if o.cfg.RateLimitedReply != "" {
				o.reply(ctx, inbound, o.cfg.RateLimitedReply)
			}
			event.Outcome = inats.OutcomeRateLimited
			o.publishEvent(ctx, event, start)
			return
		}
	}

	log.Debug("orchestrator processing message", "from", inbound.FromJID, "to", inbound.ToJID)

	reply, err := o.responder.HandleMessage(ctx, userID, inbound.Body)
	if err != nil {
		log.Error("handling message", "error", err)
		event.Outcome = inats.OutcomeFailed
		event.Reason = err.Error()
		o.publishEvent(ctx, event, start)
		return
	}

	o.reply(ctx, inbound, reply)
	event.Outcome = inats.OutcomeReplied
	o.publishEvent(ctx, event, start)
}

func (o *Orchestrator) reply(ctx context.Context, inbound inats.InboundMessage, body string) {
	outbound := inats.OutboundMessage{
		ID:        uuid.New().String(),
		ToJID:     inbound.FromJID,
		FromJID:   inbound.ToJID,
		Body:      body,
		InReplyTo: inbound.ID,
	}
	if err := o.publisher.PublishOutboundMessage(ctx, outbound); err != nil {
		o.logger.Error("publishing outbound message", "error", err, "in_reply_to", inbound.ID)
	}
}

func (o *Orchestrator) publishEvent(ctx context.Context, event inats.TurnEvent, start time.Time) {
	end := o.now()
	event.Duration = end.Sub(start)
	event.Timestamp = end.UTC()
	if err := o.publisher.PublishTurnEvent(ctx, event); err != nil {
		o.logger.Error("publishing turn event", "error", err)
	}
}
