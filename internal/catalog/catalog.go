package catalog

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultVoice is used when neither the NPC nor the catalog names a voice
const DefaultVoice = "Kore"

// NPC is a character the player can talk to
type NPC struct {
	ID      string `yaml:"id" json:"id"`
	Name    string `yaml:"name" json:"name"`
	Persona string `yaml:"persona" json:"persona"` // Instructions and knowledge prepended to every question
	Voice   string `yaml:"voice" json:"voice"`     // Prebuilt voice name, e.g. Kore, Puck, Leda
}

// Catalog is the set of NPCs loaded from a YAML file
type Catalog struct {
	DefaultVoice string `yaml:"default_voice"`
	NPCs         []NPC  `yaml:"npcs"`

	byID map[string]NPC
}

// Empty returns a catalog with no characters
func Empty() *Catalog {
	c := &Catalog{DefaultVoice: DefaultVoice}
	c.index()
	return c
}

// Load reads and parses the catalog file
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file %s: %w", path, err)
	}

	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("catalog file %s: %w", path, err)
	}
	return c, nil
}

// Parse decodes and validates catalog YAML
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}

	if c.DefaultVoice == "" {
		c.DefaultVoice = DefaultVoice
	}
	for i := range c.NPCs {
		c.NPCs[i].ID = strings.TrimSpace(c.NPCs[i].ID)
		if c.NPCs[i].Voice == "" {
			c.NPCs[i].Voice = c.DefaultVoice
		}
		if c.NPCs[i].Name == "" {
			c.NPCs[i].Name = c.NPCs[i].ID
		}
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("catalog validation failed: %w", err)
	}

	c.index()
	return &c, nil
}

// Validate checks that every NPC has a unique ID and a persona
func (c *Catalog) Validate() error {
	seen := make(map[string]bool, len(c.NPCs))
	for i, npc := range c.NPCs {
		if npc.ID == "" {
			return fmt.Errorf("npcs[%d]: id cannot be empty", i)
		}
		if seen[npc.ID] {
			return fmt.Errorf("npcs[%d]: duplicate id %q", i, npc.ID)
		}
		seen[npc.ID] = true

		if strings.TrimSpace(npc.Persona) == "" {
			return fmt.Errorf("npc %q: persona cannot be empty", npc.ID)
		}
	}
	return nil
}

func (c *Catalog) index() {
	c.byID = make(map[string]NPC, len(c.NPCs))
	for _, npc := range c.NPCs {
		c.byID[npc.ID] = npc
	}
}

// Get looks up an NPC by ID
func (c *Catalog) Get(id string) (NPC, bool) {
	npc, ok := c.byID[id]
	return npc, ok
}

// Len returns the number of NPCs
func (c *Catalog) Len() int {
	return len(c.NPCs)
}

// List returns the NPCs ordered by ID
func (c *Catalog) List() []NPC {
	npcs := make([]NPC, len(c.NPCs))
	copy(npcs, c.NPCs)
	sort.Slice(npcs, func(i, j int) bool { return npcs[i].ID < npcs[j].ID })
	return npcs
}

// Voices returns the distinct voices in use, sorted
func (c *Catalog) Voices() []string {
	set := map[string]bool{c.DefaultVoice: true}
	for _, npc := range c.NPCs {
		set[npc.Voice] = true
	}

	voices := make([]string, 0, len(set))
	for v := range set {
		voices = append(voices, v)
	}
	sort.Strings(voices)
	return voices
}
