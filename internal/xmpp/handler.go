package xmpp

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"gosrc.io/xmpp"
	"gosrc.io/xmpp/stanza"

	inats "github.com/aiox-platform/recall/internal/nats"
)

// StatusBroadcast is the pseudo-sender of status updates; never answered.
const StatusBroadcast = "status@broadcast"

const publishTimeout = 5 * time.Second

// InboundPublisher is satisfied by nats.Publisher.
type InboundPublisher interface {
	PublishInboundMessage(ctx context.Context, msg inats.InboundMessage) error
}

// PacketSender is the part of xmpp.Sender used to deliver stanzas.
type PacketSender interface {
	Send(packet stanza.Packet) error
}

// Handler processes incoming XMPP stanzas and bridges them to NATS.
type Handler struct {
	publisher InboundPublisher
	errorBody string
	now       func() time.Time
}

// NewHandler creates a new XMPP stanza handler. errorBody is sent to the
// user when a message cannot be queued.
func NewHandler(publisher InboundPublisher, errorBody string) *Handler {
	if errorBody == "" {
		errorBody = "Internal error processing your message"
	}
	return &Handler{publisher: publisher, errorBody: errorBody, now: time.Now}
}

// HandleMessage publishes incoming <message> stanzas to NATS.
func (h *Handler) HandleMessage(s xmpp.Sender, p stanza.Packet) {
	h.handleMessage(s, p)
}

func (h *Handler) handleMessage(s PacketSender, p stanza.Packet) {
	msg, ok := p.(stanza.Message)
	if !ok {
		return
	}

	userID := BareJID(msg.From)
	if strings.TrimSpace(msg.Body) == "" || strings.EqualFold(userID, StatusBroadcast) {
		return
	}
	if msg.Type == stanza.MessageTypeError {
		return
	}

	slog.Debug("XMPP message received",
		"from", msg.From,
		"to", msg.To,
		"type", string(msg.Type),
	)

	inbound := inats.InboundMessage{
		ID:         uuid.New().String(),
		UserID:     userID,
		FromJID:    msg.From,
		ToJID:      msg.To,
		Body:       msg.Body,
		StanzaType: string(msg.Type),
		ReceivedAt: h.now().UTC(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := h.publisher.PublishInboundMessage(ctx, inbound); err != nil {
		slog.Error("publishing inbound message", "error", err, "from", msg.From)
		h.sendChat(s, msg.To, msg.From, h.errorBody, "")
	}
}

// HandlePresence auto-approves subscription requests.
func (h *Handler) HandlePresence(s xmpp.Sender, p stanza.Packet) {
	h.handlePresence(s, p)
}

func (h *Handler) handlePresence(s PacketSender, p stanza.Packet) {
	pres, ok := p.(stanza.Presence)
	if !ok {
		return
	}

	slog.Debug("XMPP presence received",
		"from", pres.From,
		"to", pres.To,
		"type", string(pres.Type),
	)

	if pres.Type == stanza.PresenceTypeSubscribe {
		reply := stanza.Presence{
			Attrs: stanza.Attrs{
				From: pres.To,
				To:   pres.From,
				Type: stanza.PresenceTypeSubscribed,
			},
		}
		if err := s.Send(reply); err != nil {
			slog.Error("sending presence subscribed reply", "error", err)
		}
	}
}

// HandleIQ logs incoming <iq> stanzas.
func (h *Handler) HandleIQ(_ xmpp.Sender, p stanza.Packet) {
	iq, ok := p.(*stanza.IQ)
	if !ok {
		return
	}
	slog.Debug("XMPP IQ received", "from", iq.From, "to", iq.To, "type", string(iq.Type))
}

// SendOutboundMessage sends a reply as a chat <message> stanza.
func SendOutboundMessage(s PacketSender, outbound inats.OutboundMessage) error {
	return s.Send(chatMessage(outbound.FromJID, outbound.ToJID, outbound.Body, outbound.ID))
}

func (h *Handler) sendChat(s PacketSender, from, to, body, id string) {
	if err := s.Send(chatMessage(from, to, body, id)); err != nil {
		slog.Error("sending chat message", "error", err, "to", to)
	}
}

func chatMessage(from, to, body, id string) stanza.Message {
	return stanza.Message{
		Attrs: stanza.Attrs{
			From: from,
			To:   to,
			Type: stanza.MessageTypeChat,
			Id:   id,
		},
		Body: body,
	}
}

// BareJID strips the resource from a JID: "alice@example.com/phone"
// becomes "alice@example.com".
func BareJID(jid string) string {
	if idx := strings.Index(jid, "/"); idx >= 0 {
		return jid[:idx]
	}
	return jid
}
