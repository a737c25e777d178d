package category

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed keywords.yaml
var defaultTable []byte

// table mirrors the layout of keywords.yaml
type table struct {
	Categories []rule `yaml:"categories"`
}

type rule struct {
	Name          string    `yaml:"name"`
	Keywords      []string  `yaml:"keywords"`
	Subcategories []subrule `yaml:"subcategories"`
}

type subrule struct {
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
}

// compiled rule with the category resolved and keywords lowercased
type matcher struct {
	category      Category
	keywords      []string
	subcategories []subrule
}

// Classifier assigns categories to item names by keyword substring match.
// It is the fallback used when the model did not return a usable category.
type Classifier struct {
	matchers []matcher
}

// New returns a Classifier built from the embedded keyword table
func New() *Classifier {
	c, err := Load(bytes.NewReader(defaultTable))
	if err != nil {
		panic(fmt.Sprintf("embedded keyword table: %v", err))
	}
	return c
}

// LoadFile builds a Classifier from a YAML keyword table on disk
func LoadFile(path string) (*Classifier, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening keyword table: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Load builds a Classifier from a YAML keyword table.
// Categories are tried in the order they appear in the table.
func Load(r io.Reader) (*Classifier, error) {
	var t table
	if err := yaml.NewDecoder(r).Decode(&t); err != nil {
		return nil, fmt.Errorf("decoding keyword table: %w", err)
	}

	matchers := make([]matcher, 0, len(t.Categories))
	for _, rl := range t.Categories {
		cat, ok := Parse(rl.Name)
		if !ok {
			return nil, fmt.Errorf("unknown category in keyword table: %q", rl.Name)
		}
		subs := make([]subrule, 0, len(rl.Subcategories))
		for _, s := range rl.Subcategories {
			subs = append(subs, subrule{Name: s.Name, Keywords: lowerAll(s.Keywords)})
		}
		matchers = append(matchers, matcher{
			category:      cat,
			keywords:      lowerAll(rl.Keywords),
			subcategories: subs,
		})
	}

	return &Classifier{matchers: matchers}, nil
}

// Classify returns the first category whose keywords occur in name.
// If nothing matches and context (for example a store type) is given,
// the same search runs against context. Falls back to Other.
func (c *Classifier) Classify(name string, context string) Category {
	if cat, ok := c.match(name); ok {
		return cat
	}
	if strings.TrimSpace(context) != "" {
		if cat, ok := c.match(context); ok {
			return cat
		}
	}
	return Other
}

// Subcategory looks up a subcategory for name within cat
func (c *Classifier) Subcategory(name string, cat Category) (string, bool) {
	lower := strings.ToLower(name)
	for _, m := range c.matchers {
		if m.category != cat {
			continue
		}
		for _, s := range m.subcategories {
			if containsAny(lower, s.Keywords) {
				return s.Name, true
			}
		}
	}
	return "", false
}

func (c *Classifier) match(text string) (Category, bool) {
	lower := strings.ToLower(text)
	for _, m := range c.matchers {
		if containsAny(lower, m.keywords) {
			return m.category, true
		}
	}
	return "", false
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if kw != "" && strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

func lowerAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}
