// Package migrate runs the schema migrations registered by store and vector
// plugins in a fixed order.
package migrate

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/charmbracelet/log"
)

// Migrator runs schema migrations for a single plugin. A migrator that does
// not apply to the configured backends returns nil without doing anything.
type Migrator interface {
	Name() string
	Migrate(ctx context.Context) error
}

// Plugin represents a migrator with an order for deterministic execution
// sequence. Relational schemas use orders below 200 so that vector
// migrations can extend their tables.
type Plugin struct {
	Order    int
	Migrator Migrator
}

var plugins []Plugin

// Register adds a migration plugin. Called from init() in plugin packages.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

func sorted() []Plugin {
	out := make([]Plugin, len(plugins))
	copy(out, plugins)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

// RunAll executes all registered migrators sorted by Order and stops at the
// first failure.
func RunAll(ctx context.Context) error {
	return run(ctx, sorted())
}

func run(ctx context.Context, list []Plugin) error {
	for _, p := range list {
		if err := ctx.Err(); err != nil {
			return err
		}
		start := time.Now()
		if err := p.Migrator.Migrate(ctx); err != nil {
			return fmt.Errorf("migration %s failed: %w", p.Migrator.Name(), err)
		}
		log.Debug("Migrate: finished", "name", p.Migrator.Name(), "took", time.Since(start))
	}
	return nil
}
