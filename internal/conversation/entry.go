package conversation

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind tags what an Entry holds.
type Kind int

const (
	KindPersona Kind = iota
	KindDirective
	KindUserTurn
	KindAssistantTurn
	KindRetrievedMemory
)

var kindNames = map[Kind]string{
	KindPersona:         "persona",
	KindDirective:       "directive",
	KindUserTurn:        "user",
	KindAssistantTurn:   "assistant",
	KindRetrievedMemory: "memory",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

func (k Kind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

func (k *Kind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	for kind, name := range kindNames {
		if name == s {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown entry kind %q", s)
}

// Entry is one line of a conversation context.
type Entry struct {
	Kind Kind   `json:"kind"`
	Text string `json:"text"`
	// Rule names the relationship rule that injected a directive.
	Rule string `json:"rule,omitempty"`
}

// Context is a user's live conversation window, oldest entry first.
type Context struct {
	UserID    string    `json:"user_id"`
	Entries   []Entry   `json:"entries"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Strings projects the entries to the text handed to the response generator.
func (c *Context) Strings() []string {
	out := make([]string, len(c.Entries))
	for i, e := range c.Entries {
		out[i] = e.Text
	}
	return out
}

// clone returns a deep copy so a turn can be abandoned without side effects.
func (c *Context) clone() *Context {
	return &Context{
		UserID:    c.UserID,
		Entries:   append([]Entry(nil), c.Entries...),
		UpdatedAt: c.UpdatedAt,
	}
}

func (c *Context) hasRule(name string) bool {
	for _, e := range c.Entries {
		if e.Kind == KindDirective && e.Rule == name {
			return true
		}
	}
	return false
}

// pinned counts the leading persona entries, which truncation never removes.
func (c *Context) pinned() int {
	n := 0
	for n < len(c.Entries) && c.Entries[n].Kind == KindPersona {
		n++
	}
	return n
}
