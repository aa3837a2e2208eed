// Package scenario holds the registered regression scenarios and the
// runner that executes them under a test environment, reporting results
// as a TAP stream.
package scenario

import (
	"context"
	"fmt"
	"sort"

	"github.com/tracekit/tracetest/internal/env"
	"github.com/tracekit/tracetest/internal/tap"
)

// Context is what a scenario body gets to work with: the live environment
// and the report it must feed exactly TestCount results.
type Context struct {
	Env    *env.Environment
	Report *tap.Generator
}

// Scenario is one registered regression scenario.
type Scenario struct {
	// Name uniquely identifies this scenario.
	Name string

	// Description explains what this scenario validates.
	Description string

	// TestCount is the number of result lines the scenario contributes to
	// the plan. The runner fails any case the body did not report.
	TestCount int

	// NeedsSessiond spawns a session daemon for the scenario. Scenarios
	// with this set are skipped when no daemon command is configured.
	NeedsSessiond bool

	// Run executes the scenario body.
	Run func(ctx context.Context, sc *Context) error
}

var registry = map[string]*Scenario{}

// Register adds a scenario to the registry. Registration happens from
// init functions; a duplicate name is a programming error.
func Register(s *Scenario) {
	if s.Name == "" || s.TestCount <= 0 || s.Run == nil {
		panic(fmt.Sprintf("scenario %q is incomplete", s.Name))
	}
	if _, exists := registry[s.Name]; exists {
		panic(fmt.Sprintf("scenario %q registered twice", s.Name))
	}
	registry[s.Name] = s
}

// Lookup returns the named scenario.
func Lookup(name string) (*Scenario, bool) {
	s, ok := registry[name]
	return s, ok
}

// All returns every registered scenario, sorted by name.
func All() []*Scenario {
	out := make([]*Scenario, 0, len(registry))
	for _, s := range registry {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Select resolves names against the registry; an empty list selects all
// scenarios.
func Select(names []string) ([]*Scenario, error) {
	if len(names) == 0 {
		return All(), nil
	}
	out := make([]*Scenario, 0, len(names))
	for _, name := range names {
		s, ok := Lookup(name)
		if !ok {
			return nil, fmt.Errorf("unknown scenario %q", name)
		}
		out = append(out, s)
	}
	return out, nil
}
