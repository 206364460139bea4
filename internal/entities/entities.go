// Package entities maps URLs to the third-party organisations that operate them.
// The cookie report uses it to label cookies with a platform name and category.
package entities

import (
	_ "embed"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"

	"golang.org/x/net/publicsuffix"
	"gopkg.in/yaml.v3"
)

//go:embed default_entities.yaml
var defaultEntities []byte

// Entity is an organisation that serves content from a set of domains.
type Entity struct {
	Name     string   `yaml:"name" json:"name"`
	Category string   `yaml:"category" json:"category"`
	Homepage string   `yaml:"homepage,omitempty" json:"homepage,omitempty"`
	Domains  []string `yaml:"domains" json:"domains"`
}

type entityFile struct {
	Entities []Entity `yaml:"entities"`
}

// Table is an immutable domain index over a list of entities.
type Table struct {
	entities []Entity
	byDomain map[string]int
}

// Parse builds a table from YAML. A domain claimed by two entities is an error.
func Parse(data []byte) (*Table, error) {
	var f entityFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse entities: %w", err)
	}

	t := &Table{
		entities: make([]Entity, 0, len(f.Entities)),
		byDomain: make(map[string]int),
	}
	for _, e := range f.Entities {
		if e.Name == "" {
			return nil, fmt.Errorf("entity without name")
		}
		idx := len(t.entities)
		for _, d := range e.Domains {
			d = normalizeHost(d)
			if d == "" {
				continue
			}
			if prev, dup := t.byDomain[d]; dup {
				return nil, fmt.Errorf("domain %s claimed by both %q and %q", d, t.entities[prev].Name, e.Name)
			}
			t.byDomain[d] = idx
		}
		t.entities = append(t.entities, e)
	}
	return t, nil
}

// Load reads a table from a YAML file.
func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read entities file: %w", err)
	}
	return Parse(data)
}

// Default returns the table compiled into the binary.
func Default() *Table {
	t, err := Parse(defaultEntities)
	if err != nil {
		panic(fmt.Sprintf("embedded entities are invalid: %v", err))
	}
	return t
}

// Len returns the number of entities.
func (t *Table) Len() int { return len(t.entities) }

// Entities returns a copy of all entities.
func (t *Table) Entities() []Entity {
	out := make([]Entity, len(t.entities))
	copy(out, t.entities)
	return out
}

// Lookup finds the entity serving rawURL. rawURL may also be a bare host. The host
// is matched label by label from most to least specific, stopping at the
// registrable domain.
func (t *Table) Lookup(rawURL string) (*Entity, bool) {
	if t == nil {
		return nil, false
	}
	host := hostOf(rawURL)
	if host == "" {
		return nil, false
	}

	stop := host
	if net.ParseIP(host) == nil {
		if etld1, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
			stop = etld1
		}
	}

	for candidate := host; ; {
		if idx, ok := t.byDomain[candidate]; ok {
			e := t.entities[idx]
			return &e, true
		}
		if candidate == stop {
			return nil, false
		}
		_, rest, found := strings.Cut(candidate, ".")
		if !found {
			return nil, false
		}
		candidate = rest
	}
}

func hostOf(raw string) string {
	if !strings.Contains(raw, "://") {
		return normalizeHost(raw)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return normalizeHost(u.Hostname())
}

func normalizeHost(h string) string {
	h = strings.TrimSpace(strings.ToLower(h))
	h = strings.TrimPrefix(h, ".")
	return strings.TrimSuffix(h, ".")
}
