package orchestrator

import (
	"errors"
	"fmt"
	"strings"

	inats "github.com/aiox-platform/recall/internal/nats"
)

// Reasons an inbound message is dropped without a turn.
var (
	ErrEmptyBody        = errors.New("empty body")
	ErrMissingSender    = errors.New("missing sender")
	ErrIgnoredSender    = errors.New("ignored sender")
	ErrDomainNotAllowed = errors.New("sender domain not allowed")
)

// DefaultIgnoredSenders are never answered.
var DefaultIgnoredSenders = []string{"status@broadcast"}

// Validator decides which inbound messages start a turn.
type Validator struct {
	allowedDomains []string
	ignored        []string
}

// NewValidator creates a Validator. An empty allowedDomains accepts every
// sender domain.
func NewValidator(allowedDomains, ignoredSenders []string) *Validator {
	if ignoredSenders == nil {
		ignoredSenders = DefaultIgnoredSenders
	}
	return &Validator{allowedDomains: allowedDomains, ignored: ignoredSenders}
}

// Validate returns nil when the message should be answered.
func (v *Validator) Validate(msg inats.InboundMessage) error {
	if strings.TrimSpace(msg.Body) == "" {
		return ErrEmptyBody
	}

	sender := bareJID(msg.FromJID)
	if sender == "" {
		return ErrMissingSender
	}

	for _, s := range v.ignored {
		if strings.EqualFold(s, sender) {
			return fmt.Errorf("%w: %s", ErrIgnoredSender, sender)
		}
	}

	if len(v.allowedDomains) > 0 {
		domain := extractDomain(sender)
		if !domainAllowed(domain, v.allowedDomains) {
			return fmt.Errorf("%w: %q", ErrDomainNotAllowed, domain)
		}
	}

	return nil
}

// userIDOf returns the conversation key for a message: the explicit user id,
// or the sender's bare JID.
func userIDOf(msg inats.InboundMessage) string {
	if msg.UserID != "" {
		return msg.UserID
	}
	return bareJID(msg.FromJID)
}

func bareJID(jid string) string {
	if idx := strings.Index(jid, "/"); idx >= 0 {
		return jid[:idx]
	}
	return jid
}

func extractDomain(jid string) string {
	bare := bareJID(jid)
	if idx := strings.Index(bare, "@"); idx >= 0 {
		return bare[idx+1:]
	}
	return bare
}

func domainAllowed(domain string, allowed []string) bool {
	for _, d := range allowed {
		if strings.EqualFold(d, domain) {
			return true
		}
	}
	return false
}
