package xmpp

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gosrc.io/xmpp/stanza"

	inats "github.com/aiox-platform/recall/internal/nats"
)

type fakeSender struct {
	sent []stanza.Packet
	err  error
}

func (s *fakeSender) Send(p stanza.Packet) error {
	s.sent = append(s.sent, p)
	return s.err
}

type fakePublisher struct {
	msgs []inats.InboundMessage
	err  error
}

func (p *fakePublisher) PublishInboundMessage(_ context.Context, msg inats.InboundMessage) error {
	p.msgs = append(p.msgs, msg)
	return p.err
}

func chat(from, body string) stanza.Message {
	return stanza.Message{
		Attrs: stanza.Attrs{From: from, To: "recall.example.com", Type: stanza.MessageTypeChat},
		Body:  body,
	}
}

func TestHandler_PublishesMessages(t *testing.T) {
	pub := &fakePublisher{}
	h := NewHandler(pub, "")
	fixed := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	h.now = func() time.Time { return fixed }

	h.handleMessage(&fakeSender{}, chat("alice@example.com/phone", "hello"))

	require.Len(t, pub.msgs, 1)
	msg := pub.msgs[0]
	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, "alice@example.com", msg.UserID)
	assert.Equal(t, "alice@example.com/phone", msg.FromJID)
	assert.Equal(t, "recall.example.com", msg.ToJID)
	assert.Equal(t, "hello", msg.Body)
	assert.Equal(t, "chat", msg.StanzaType)
	assert.Equal(t, fixed, msg.ReceivedAt)
}

func TestHandler_IgnoresMessages(t *testing.T) {
	errMsg := chat("alice@example.com", "bounced")
	errMsg.Type = stanza.MessageTypeError

	tests := []struct {
		name   string
		packet stanza.Packet
	}{
		{"empty body", chat("alice@example.com", "")},
		{"whitespace body", chat("alice@example.com", "  ")},
		{"status broadcast", chat("status@broadcast", "story")},
		{"status broadcast with resource", chat("status@broadcast/abc", "story")},
		{"error stanza", errMsg},
		{"not a message", stanza.Presence{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := &fakePublisher{}
			NewHandler(pub, "").handleMessage(&fakeSender{}, tt.packet)
			assert.Empty(t, pub.msgs)
		})
	}
}

func TestHandler_PublishFailureNotifiesUser(t *testing.T) {
	pub := &fakePublisher{err: errors.New("nats down")}
	sender := &fakeSender{}

	NewHandler(pub, "try again later").handleMessage(sender, chat("alice@example.com/phone", "hello"))

	require.Len(t, sender.sent, 1)
	reply, ok := sender.sent[0].(stanza.Message)
	require.True(t, ok)
	assert.Equal(t, "try again later", reply.Body)
	assert.Equal(t, "alice@example.com/phone", reply.To)
	assert.Equal(t, "recall.example.com", reply.From)
}

func TestHandler_Presence(t *testing.T) {
	h := NewHandler(&fakePublisher{}, "")

	t.Run("subscribe is approved", func(t *testing.T) {
		sender := &fakeSender{}
		h.handlePresence(sender, stanza.Presence{Attrs: stanza.Attrs{
			From: "alice@example.com", To: "recall.example.com", Type: stanza.PresenceTypeSubscribe,
		}})

		require.Len(t, sender.sent, 1)
		reply := sender.sent[0].(stanza.Presence)
		assert.Equal(t, stanza.PresenceTypeSubscribed, reply.Type)
		assert.Equal(t, "alice@example.com", reply.To)
		assert.Equal(t, "recall.example.com", reply.From)
	})

	t.Run("other presence ignored", func(t *testing.T) {
		sender := &fakeSender{}
		h.handlePresence(sender, stanza.Presence{Attrs: stanza.Attrs{From: "alice@example.com"}})
		assert.Empty(t, sender.sent)
	})
}

func TestOutboundRelay_Deliver(t *testing.T) {
	sender := &fakeSender{}
	r := NewOutboundRelay(sender, nil)

	data, err := json.Marshal(inats.OutboundMessage{
		ID:      "o1",
		ToJID:   "alice@example.com/phone",
		FromJID: "recall.example.com",
		Body:    "hi alice",
	})
	require.NoError(t, err)
	require.NoError(t, r.deliver(data))

	require.Len(t, sender.sent, 1)
	msg := sender.sent[0].(stanza.Message)
	assert.Equal(t, "hi alice", msg.Body)
	assert.Equal(t, "o1", msg.Id)
	assert.Equal(t, stanza.MessageTypeChat, msg.Type)
	assert.Equal(t, "alice@example.com/phone", msg.To)

	assert.Error(t, r.deliver([]byte("{bad")))

	sender.err = errors.New("stream closed")
	assert.Error(t, r.deliver(data))
}

func TestBareJID(t *testing.T) {
	tests := []struct{ jid, want string }{
		{"alice@example.com/phone", "alice@example.com"},
		{"alice@example.com", "alice@example.com"},
		{"example.com/res/extra", "example.com"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.jid, func(t *testing.T) {
			assert.Equal(t, tt.want, BareJID(tt.jid))
		})
	}
}
