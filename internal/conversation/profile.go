package conversation

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Rule injects a block of directives once per context when any trigger
// appears, case-insensitively, in the inbound text or the existing context.
type Rule struct {
	Name       string   `yaml:"name"`
	Triggers   []string `yaml:"triggers"`
	Directives []string `yaml:"directives"`
}

// Matches reports whether any trigger occurs in any of texts.
func (r Rule) Matches(texts ...string) bool {
	for _, trig := range r.Triggers {
		t := strings.ToLower(trig)
		if t == "" {
			continue
		}
		for _, text := range texts {
			if strings.Contains(strings.ToLower(text), t) {
				return true
			}
		}
	}
	return false
}

// Profile describes the assistant: persona lines pinned at the top of every
// context, relationship rules, and the fixed strings used around retrieved
// memories and failures.
type Profile struct {
	AssistantName  string   `yaml:"assistant_name"`
	OwnerName      string   `yaml:"owner_name"`
	Persona        []string `yaml:"persona"`
	SystemPrompt   string   `yaml:"system_prompt"`
	RecentHeader   string   `yaml:"recent_header"`
	RelevantHeader string   `yaml:"relevant_header"`
	Apology        string   `yaml:"apology"`
	Rules          []Rule   `yaml:"rules"`
}

// DefaultProfile returns the built-in persona for the given names.
func DefaultProfile(assistantName, ownerName string) Profile {
	p := Profile{AssistantName: assistantName, OwnerName: ownerName}
	p.applyDefaults()
	return p
}

// LoadProfile reads a YAML profile. Unset fields take their defaults.
func LoadProfile(path string) (Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, fmt.Errorf("reading profile %s: %w", path, err)
	}

	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Profile{}, fmt.Errorf("parsing profile %s: %w", path, err)
	}
	p.applyDefaults()

	if err := p.Validate(); err != nil {
		return Profile{}, fmt.Errorf("profile %s: %w", path, err)
	}
	return p, nil
}

// Validate checks that rules are usable.
func (p Profile) Validate() error {
	seen := make(map[string]bool, len(p.Rules))
	for i, r := range p.Rules {
		switch {
		case r.Name == "":
			return fmt.Errorf("rule %d has no name", i)
		case seen[r.Name]:
			return fmt.Errorf("duplicate rule %q", r.Name)
		case len(r.Triggers) == 0:
			return fmt.Errorf("rule %q has no triggers", r.Name)
		case len(r.Directives) == 0:
			return fmt.Errorf("rule %q has no directives", r.Name)
		}
		seen[r.Name] = true
	}
	return nil
}

func (p *Profile) applyDefaults() {
	if p.AssistantName == "" {
		p.AssistantName = "Recall"
	}
	if p.OwnerName == "" {
		p.OwnerName = "your owner"
	}
	if len(p.Persona) == 0 {
		p.Persona = []string{
			fmt.Sprintf("You are %s, an autonomous digital entity with a witty personality.", p.AssistantName),
			fmt.Sprintf("You think and act like %s, making decisions and handling tasks.", p.OwnerName),
			"You maintain a professional yet friendly demeanor.",
		}
	}
	if p.SystemPrompt == "" {
		p.SystemPrompt = fmt.Sprintf("You are %s, the digital extension of %s. Keep responses concise and engaging, "+
			"and maintain a witty, friendly, yet professional communication style.", p.AssistantName, p.OwnerName)
	}
	if p.RecentHeader == "" {
		p.RecentHeader = "Previous relevant interactions:"
	}
	if p.RelevantHeader == "" {
		p.RelevantHeader = "Relevant past interactions:"
	}
	if p.Apology == "" {
		p.Apology = fmt.Sprintf("I apologize, but I encountered an error. As %s, I'll ensure this gets resolved quickly.", p.AssistantName)
	}
}
