// Package conversation maintains each user's bounded conversation window:
// persona directives, retrieved memories, relationship directives and the
// live dialogue, and runs one turn per inbound message.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aiox-platform/recall/internal/memory"
	"github.com/aiox-platform/recall/internal/metrics"
)

// ErrInvalidMessage is returned for an empty user id or message body.
var ErrInvalidMessage = errors.New("invalid message")

// Generator produces the assistant reply for a message given the context.
type Generator interface {
	Generate(ctx context.Context, history []string, message string) (string, error)
}

// Memories is the long-term memory the manager reads and writes.
type Memories interface {
	StoreMemory(ctx context.Context, userID string, exchange []string) (*memory.Record, error)
	RetrieveMemories(ctx context.Context, userID string, limit int) ([]memory.Record, error)
	FindSimilarMemories(ctx context.Context, userID, queryText string, limit int) ([]memory.ScoredRecord, error)
}

// Config bounds the context window and the turn.
type Config struct {
	// MaxEntries triggers truncation when exceeded.
	MaxEntries int
	// KeepEntries is the context length after truncation.
	KeepEntries int
	// GenerateTimeout bounds one Generate call. Zero means no extra bound.
	GenerateTimeout time.Duration
	// MemoryLimit is passed to memory retrieval. Zero uses the memory default.
	MemoryLimit int
}

// DefaultConfig keeps at most 10 entries, truncating to 8.
func DefaultConfig() Config {
	return Config{
		MaxEntries:      10,
		KeepEntries:     8,
		GenerateTimeout: 60 * time.Second,
	}
}

// Manager runs conversation turns. Turns for the same user are serialized;
// different users proceed in parallel.
type Manager struct {
	memories  Memories
	generator Generator
	store     ContextStore
	profile   Profile
	cfg       Config
	locks     *userLocks
	now       func() time.Time
	logger    *slog.Logger
}

// NewManager creates a Manager.
func NewManager(memories Memories, generator Generator, store ContextStore, profile Profile, cfg Config, logger *slog.Logger) *Manager {
	d := DefaultConfig()
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = d.MaxEntries
	}
	if cfg.KeepEntries <= 0 || cfg.KeepEntries > cfg.MaxEntries {
		cfg.KeepEntries = min(d.KeepEntries, cfg.MaxEntries)
	}
	if logger == nil {
		logger = slog.Default()
	}
	profile.applyDefaults()

	return &Manager{
		memories:  memories,
		generator: generator,
		store:     store,
		profile:   profile,
		cfg:       cfg,
		locks:     newUserLocks(),
		now:       time.Now,
		logger:    logger,
	}
}

// HandleMessage runs one turn and returns the reply. Failures while
// retrieving memories or generating collapse to the profile's apology, and
// the stored context is left as it was before the turn.
func (m *Manager) HandleMessage(ctx context.Context, userID, text string) (string, error) {
	if userID == "" || text == "" {
		return "", fmt.Errorf("user id and text are required: %w", ErrInvalidMessage)
	}

	unlock := m.locks.lock(userID)
	defer unlock()

	log := m.logger.With("user_id", userID)

	current, err := m.store.Load(ctx, userID)
	if err != nil {
		log.Error("loading conversation context", "error", err)
		metrics.TurnsTotal.WithLabelValues("apology").Inc()
		return m.profile.Apology, nil
	}
	if current == nil {
		current = m.initialize(ctx, userID)
		if err := m.save(ctx, current); err != nil {
			log.Error("saving initial conversation context", "error", err)
		}
	}

	next, reply, err := m.turn(ctx, current, text)
	if err != nil {
		log.Error("processing turn", "error", err)
		metrics.TurnsTotal.WithLabelValues("apology").Inc()
		return m.profile.Apology, nil
	}

	if err := m.save(ctx, next); err != nil {
		log.Error("saving conversation context", "error", err)
	}

	metrics.TurnsTotal.WithLabelValues("ok").Inc()
	return reply, nil
}

// Snapshot returns the user's live context, or nil if there is none.
func (m *Manager) Snapshot(ctx context.Context, userID string) (*Context, error) {
	unlock := m.locks.lock(userID)
	defer unlock()
	return m.store.Load(ctx, userID)
}

// Reset drops the user's live context; the next message starts afresh.
func (m *Manager) Reset(ctx context.Context, userID string) error {
	unlock := m.locks.lock(userID)
	defer unlock()
	return m.store.Delete(ctx, userID)
}

// Profile returns the effective profile.
func (m *Manager) Profile() Profile {
	return m.profile
}

// initialize builds the first-contact context. A retrieval failure leaves
// only the persona.
func (m *Manager) initialize(ctx context.Context, userID string) *Context {
	c := &Context{UserID: userID}
	for _, line := range m.profile.Persona {
		c.Entries = append(c.Entries, Entry{Kind: KindPersona, Text: line})
	}

	records, err := m.memories.RetrieveMemories(ctx, userID, m.cfg.MemoryLimit)
	if err != nil {
		m.logger.Warn("retrieving memories for new conversation", "user_id", userID, "error", err)
		return c
	}
	if len(records) > 0 {
		c.Entries = append(c.Entries, Entry{Kind: KindDirective, Text: m.profile.RecentHeader})
		for _, r := range records {
			for _, line := range r.Context {
				c.Entries = append(c.Entries, Entry{Kind: KindRetrievedMemory, Text: line})
			}
		}
	}

	m.logger.Debug("conversation initialized", "user_id", userID, "memories", len(records))
	return c
}

// turn works on a copy of current and returns it only on success.
func (m *Manager) turn(ctx context.Context, current *Context, text string) (*Context, string, error) {
	c := current.clone()

	texts := append(c.Strings(), text)
	for _, rule := range m.profile.Rules {
		if c.hasRule(rule.Name) || !rule.Matches(texts...) {
			continue
		}
		for _, d := range rule.Directives {
			c.Entries = append(c.Entries, Entry{Kind: KindDirective, Text: d, Rule: rule.Name})
		}
	}

	similar, err := m.memories.FindSimilarMemories(ctx, c.UserID, text, m.cfg.MemoryLimit)
	if err != nil {
		return nil, "", fmt.Errorf("finding similar memories: %w", err)
	}
	if len(similar) > 0 {
		c.Entries = append(c.Entries, Entry{Kind: KindDirective, Text: m.profile.RelevantHeader})
		for _, r := range similar {
			for _, line := range r.Context {
				c.Entries = append(c.Entries, Entry{Kind: KindRetrievedMemory, Text: line})
			}
		}
	}

	reply, err := m.generate(ctx, c.Strings(), text)
	if err != nil {
		return nil, "", fmt.Errorf("generating reply: %w", err)
	}

	c.Entries = append(c.Entries,
		Entry{Kind: KindUserTurn, Text: text},
		Entry{Kind: KindAssistantTurn, Text: reply},
	)

	if _, err := m.memories.StoreMemory(ctx, c.UserID, []string{text, reply}); err != nil {
		m.logger.Warn("storing exchange", "user_id", c.UserID, "error", err)
	}

	m.truncate(c)
	return c, reply, nil
}

func (m *Manager) generate(ctx context.Context, history []string, text string) (string, error) {
	if m.cfg.GenerateTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.GenerateTimeout)
		defer cancel()
	}
	return m.generator.Generate(ctx, history, text)
}

// truncate removes the oldest entries after the persona prefix once the
// context exceeds MaxEntries, leaving KeepEntries.
func (m *Manager) truncate(c *Context) {
	if len(c.Entries) <= m.cfg.MaxEntries {
		return
	}

	start := c.pinned()
	remove := len(c.Entries) - m.cfg.KeepEntries
	if start+remove > len(c.Entries) {
		remove = len(c.Entries) - start
	}
	if remove <= 0 {
		return
	}

	c.Entries = append(c.Entries[:start], c.Entries[start+remove:]...)
	metrics.ContextTruncationsTotal.Inc()
}

func (m *Manager) save(ctx context.Context, c *Context) error {
	c.UpdatedAt = m.now()
	return m.store.Save(ctx, c)
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

// userLocks hands out one mutex per user and forgets it when unused.
type userLocks struct {
	mu    sync.Mutex
	locks map[string]*userLock
}

func newUserLocks() *userLocks {
	return &userLocks{locks: make(map[string]*userLock)}
}

func (l *userLocks) lock(userID string) func() {
	l.mu.Lock()
	ul, ok := l.locks[userID]
	if !ok {
		ul = &userLock{}
		l.locks[userID] = ul
	}
	ul.refs++
	l.mu.Unlock()

	ul.mu.Lock()

	return func() {
		ul.mu.Unlock()
		l.mu.Lock()
		ul.refs--
		if ul.refs == 0 {
			delete(l.locks, userID)
		}
		l.mu.Unlock()
	}
}
