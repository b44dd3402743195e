package xmpp

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/nats-io/nats.go/jetstream"

	inats "github.com/aiox-platform/recall/internal/nats"
)

const relayConsumer = "outbound-relay"

// OutboundRelay consumes outbound messages from NATS and sends them via XMPP.
type OutboundRelay struct {
	sender      PacketSender
	consumerMgr *inats.ConsumerManager
}

// NewOutboundRelay creates a new OutboundRelay. sender is usually
// Component.Sender().
func NewOutboundRelay(sender PacketSender, consumerMgr *inats.ConsumerManager) *OutboundRelay {
	return &OutboundRelay{
		sender:      sender,
		consumerMgr: consumerMgr,
	}
}

// Start consumes outbound messages until ctx is cancelled.
func (r *OutboundRelay) Start(ctx context.Context) error {
	consumer, err := r.consumerMgr.EnsureConsumer(ctx, inats.StreamMessages, relayConsumer, inats.SubjectOutboundMessage, 0)
	if err != nil {
		return err
	}

	slog.Info("outbound relay started", "consumer", relayConsumer)

	for {
		msgs, err := consumer.Fetch(10, jetstream.FetchMaxWait(inats.FetchTimeout))
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Debug("fetching outbound messages", "error", err)
			continue
		}

		for msg := range msgs.Messages() {
			if err := r.deliver(msg.Data()); err != nil {
				_ = msg.Nak()
				continue
			}
			_ = msg.Ack()
		}

		if ctx.Err() != nil {
			return nil
		}
	}
}

func (r *OutboundRelay) deliver(data []byte) error {
	var outbound inats.OutboundMessage
	if err := json.Unmarshal(data, &outbound); err != nil {
		slog.Error("unmarshaling outbound message", "error", err)
		return err
	}

	if err := SendOutboundMessage(r.sender, outbound); err != nil {
		slog.Error("sending outbound XMPP message", "error", err, "to", outbound.ToJID)
		return err
	}

	slog.Debug("sent outbound XMPP message", "to", outbound.ToJID, "from", outbound.FromJID)
	return nil
}
