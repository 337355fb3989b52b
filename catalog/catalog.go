// Package catalog maps sensor names to their subsystem, mounting component,
// and conversion family.
package catalog

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/zamazir/THMmonitor/errors"
	"github.com/zamazir/THMmonitor/processor/conversion"
)

// Unclassified is the subsystem and component of sensors missing from the catalog.
const Unclassified = "unclassified"

// Entry describes one sensor.
type Entry struct {
	Name      string          `yaml:"name" json:"name"`
	Subsystem string          `yaml:"subsystem" json:"subsystem"`
	Component string          `yaml:"component" json:"component"`
	Kind      conversion.Kind `yaml:"kind" json:"kind"`
}

// overlay is the YAML document accepted by Load.
type overlay struct {
	Sensors []Entry `yaml:"sensors"`
}

// Catalog is safe for concurrent lookups.
type Catalog struct {
	entries map[string]Entry
	order   []string
	logger  *slog.Logger

	mu     sync.Mutex
	warned map[string]struct{}
}

// New builds a catalog from the built-in sensor table with extra entries
// replacing or appending to it.
func New(logger *slog.Logger, extra ...Entry) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Catalog{
		entries: make(map[string]Entry),
		logger:  logger.With("component", "catalog"),
		warned:  make(map[string]struct{}),
	}
	for _, e := range defaultEntries {
		c.put(e)
	}
	for _, e := range extra {
		c.put(e)
	}
	return c
}

// Load builds a catalog and merges the YAML overlay at path over the
// built-in table.
func Load(path string, logger *slog.Logger) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapFatal(err, "catalog", "Load", "read overlay")
	}

	var doc overlay
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.WrapFatal(fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err),
			"catalog", "Load", "parse overlay")
	}

	for i, e := range doc.Sensors {
		if e.Name == "" {
			return nil, errors.WrapFatal(fmt.Errorf("%w: sensor %d has no name", errors.ErrInvalidConfig, i),
				"catalog", "Load", "validate overlay")
		}
		if e.Kind != "" {
			if _, err := conversion.Lookup(e.Kind); err != nil {
				return nil, errors.WrapFatal(fmt.Errorf("%w: sensor %q: %v", errors.ErrInvalidConfig, e.Name, err),
					"catalog", "Load", "validate overlay")
			}
		}
	}

	return New(logger, doc.Sensors...), nil
}

func (c *Catalog) put(e Entry) {
	if prev, ok := c.entries[e.Name]; ok {
		if e.Subsystem == "" {
			e.Subsystem = prev.Subsystem
		}
		if e.Component == "" {
			e.Component = prev.Component
		}
		if e.Kind == "" {
			e.Kind = prev.Kind
		}
	} else {
		c.order = append(c.order, e.Name)
	}
	c.entries[e.Name] = e
}

// Lookup returns the entry for name. Unknown names get an unclassified entry
// and a single warning per name.
func (c *Catalog) Lookup(name string) Entry {
	if e, ok := c.entries[name]; ok {
		return e
	}

	c.mu.Lock()
	_, seen := c.warned[name]
	if !seen {
		c.warned[name] = struct{}{}
	}
	c.mu.Unlock()

	if !seen {
		c.logger.Warn("Sensor not in catalog", "sensor", name, "error", errors.ErrUnmappedSensor)
	}
	return Entry{Name: name, Subsystem: Unclassified, Component: Unclassified}
}

// Known reports whether name has a catalog entry.
func (c *Catalog) Known(name string) bool {
	_, ok := c.entries[name]
	return ok
}

// Entries returns all entries in table order.
func (c *Catalog) Entries() []Entry {
	out := make([]Entry, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.entries[name])
	}
	return out
}

// Subsystems groups sensor names by subsystem. Names are sorted.
func (c *Catalog) Subsystems(names []string) map[string][]string {
	groups := make(map[string][]string)
	for _, name := range names {
		e := c.Lookup(name)
		groups[e.Subsystem] = append(groups[e.Subsystem], name)
	}
	for _, g := range groups {
		sort.Strings(g)
	}
	return groups
}
