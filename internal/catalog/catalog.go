// Package catalog holds the static intent metadata shared by the router and
// the fallback engine. A Catalog is read-only once loaded.
package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"
)

//go:embed intents.yaml
var embeddedCatalog []byte

// IntentID names an intent in the catalog.
type IntentID string

// Fallback is the catch-all intent. It is never listed in the catalog file.
const Fallback IntentID = "fallback"

// CategoryOther is the catch-all category left out of category menus.
const CategoryOther = "other"

// Keywords are matched on word boundaries against a normalized message.
type Keywords struct {
	Primary  []string `yaml:"primary"`
	Context  []string `yaml:"context"`
	Negative []string `yaml:"negative"`
}

// IntentMetadata describes one intent.
type IntentMetadata struct {
	ID             IntentID `yaml:"id" json:"id"`
	Category       string   `yaml:"category" json:"category"`
	Label          string   `yaml:"label" json:"label"`
	Description    string   `yaml:"description" json:"description,omitempty"`
	Keywords       Keywords `yaml:"keywords" json:"-"`
	RequiredSlots  []string `yaml:"required_slots" json:"required_slots,omitempty"`
	OptionalSlots  []string `yaml:"optional_slots" json:"optional_slots,omitempty"`
	Examples       []string `yaml:"examples" json:"examples,omitempty"`
	SelfSufficient bool     `yaml:"self_sufficient" json:"self_sufficient"`
	Workflow       string   `yaml:"workflow" json:"workflow,omitempty"`
}

// Category groups intents for the category menu.
type Category struct {
	ID          string `yaml:"id" json:"id"`
	Label       string `yaml:"label" json:"label"`
	Description string `yaml:"description" json:"description,omitempty"`
}

type file struct {
	Slots      []string         `yaml:"slots"`
	Categories []Category       `yaml:"categories"`
	Intents    []IntentMetadata `yaml:"intents"`
}

// Catalog is the loaded, validated intent catalog.
type Catalog struct {
	slots      []string
	slotSet    map[string]bool
	categories []Category
	intents    []IntentMetadata
	byID       map[IntentID]int
}

// Load reads the catalog from path, or the built-in catalog when path is empty.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Parse(embeddedCatalog)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog %s: %w", path, err)
	}
	return Parse(data)
}

// Default returns the built-in catalog. It panics if the embedded file is invalid.
func Default() *Catalog {
	c, err := Parse(embeddedCatalog)
	if err != nil {
		panic("catalog: invalid embedded catalog: " + err.Error())
	}
	return c
}

// Parse decodes and validates a YAML catalog.
func Parse(data []byte) (*Catalog, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing catalog: %w", err)
	}

	c := &Catalog{
		slots:      f.Slots,
		slotSet:    make(map[string]bool, len(f.Slots)),
		categories: f.Categories,
		intents:    f.Intents,
		byID:       make(map[IntentID]int, len(f.Intents)),
	}
	for _, s := range f.Slots {
		c.slotSet[s] = true
	}

	cats := make(map[string]bool, len(f.Categories))
	for _, cat := range f.Categories {
		if cat.ID == "" {
			return nil, fmt.Errorf("catalog: category without id")
		}
		if cats[cat.ID] {
			return nil, fmt.Errorf("catalog: duplicate category %q", cat.ID)
		}
		cats[cat.ID] = true
	}

	for i := range c.intents {
		m := &c.intents[i]
		if m.ID == "" {
			return nil, fmt.Errorf("catalog: intent #%d has no id", i+1)
		}
		if m.ID == Fallback {
			return nil, fmt.Errorf("catalog: %q is reserved", Fallback)
		}
		if _, dup := c.byID[m.ID]; dup {
			return nil, fmt.Errorf("catalog: duplicate intent %q", m.ID)
		}
		if !cats[m.Category] {
			return nil, fmt.Errorf("catalog: intent %q has unknown category %q", m.ID, m.Category)
		}
		for _, s := range append(append([]string(nil), m.RequiredSlots...), m.OptionalSlots...) {
			if !c.slotSet[s] {
				return nil, fmt.Errorf("catalog: intent %q uses unknown slot %q", m.ID, s)
			}
		}
		if m.Label == "" {
			m.Label = string(m.ID)
		}
		m.Keywords.Primary = normalizeAll(m.Keywords.Primary)
		m.Keywords.Context = normalizeAll(m.Keywords.Context)
		m.Keywords.Negative = normalizeAll(m.Keywords.Negative)
		c.byID[m.ID] = i
	}
	return c, nil
}

// Intents returns all intents in catalog order.
func (c *Catalog) Intents() []IntentMetadata {
	out := make([]IntentMetadata, len(c.intents))
	copy(out, c.intents)
	return out
}

// Lookup returns the metadata for id.
func (c *Catalog) Lookup(id IntentID) (IntentMetadata, bool) {
	i, ok := c.byID[id]
	if !ok {
		return IntentMetadata{}, false
	}
	return c.intents[i], true
}

// Has reports whether id is a catalog intent or the fallback intent.
func (c *Catalog) Has(id IntentID) bool {
	if id == Fallback {
		return true
	}
	_, ok := c.byID[id]
	return ok
}

// Categories returns categories in catalog order.
func (c *Catalog) Categories() []Category {
	out := make([]Category, len(c.categories))
	copy(out, c.categories)
	return out
}

// Category looks up a category by id.
func (c *Catalog) Category(id string) (Category, bool) {
	for _, cat := range c.categories {
		if cat.ID == id {
			return cat, true
		}
	}
	return Category{}, false
}

// IntentsIn returns the intents of a category in catalog order.
func (c *Catalog) IntentsIn(category string) []IntentMetadata {
	var out []IntentMetadata
	for _, m := range c.intents {
		if m.Category == category {
			out = append(out, m)
		}
	}
	return out
}

// ValidSlot reports whether key is a declared slot key.
func (c *Catalog) ValidSlot(key string) bool {
	return c.slotSet[key]
}

// SlotKeys returns the declared slot keys.
func (c *Catalog) SlotKeys() []string {
	return append([]string(nil), c.slots...)
}

// Normalize lowercases s, replaces every rune that is not a letter or digit
// with a space and collapses runs of spaces.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := true
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimRight(b.String(), " ")
}

// ContainsWord reports whether the normalized message contains the normalized
// phrase on word boundaries.
func ContainsWord(normalized, phrase string) bool {
	if phrase == "" {
		return false
	}
	return strings.Contains(" "+normalized+" ", " "+phrase+" ")
}

func normalizeAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if n := Normalize(s); n != "" {
			out = append(out, n)
		}
	}
	return out
}
