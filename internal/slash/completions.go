package slash

import (
	"strings"
	"sync"

	"github.com/adamavenir/parley/internal/acp"
)

// Item is one completion suggestion. Insert is the token to place in the
// input; Display carries the label shown alongside it.
type Item struct {
	Display string
	Insert  string
}

// availableModels is the dynamic model list consulted for /model
// completions. It is replaced wholesale by SetAvailableModels; the static
// registry itself is never mutated.
var (
	modelsMu        sync.Mutex
	availableModels []acp.Model
)

// SetAvailableModels replaces the dynamic model list.
func SetAvailableModels(models []acp.Model) {
	list := make([]acp.Model, len(models))
	copy(list, models)
	modelsMu.Lock()
	availableModels = list
	modelsMu.Unlock()
}

func modelList() []acp.Model {
	modelsMu.Lock()
	defer modelsMu.Unlock()
	return availableModels
}

// Completions suggests next tokens for the given input. Bare "/" lists
// every command in registry order; a partial command token filters by
// name prefix; a command followed by a separator lists its sub-options.
func Completions(input string) []Item {
	if !strings.HasPrefix(input, "/") {
		return []Item{}
	}
	rest := input[1:]

	// Still typing the command token.
	if !strings.Contains(rest, " ") {
		var items []Item
		for _, cmd := range commands {
			if !strings.HasPrefix(cmd.Name, rest) {
				continue
			}
			items = append(items, Item{
				Display: "/" + cmd.Name + "  " + cmd.Desc,
				Insert:  "/" + cmd.Name,
			})
		}
		if items == nil {
			items = []Item{}
		}
		return items
	}

	name := rest[:strings.IndexByte(rest, ' ')]
	fragment := strings.TrimSpace(rest[len(name)+1:])
	cmd := lookup(name)
	if cmd == nil {
		return []Item{}
	}

	// Model sub-options come from the runtime model list, matched by
	// substring rather than prefix: display names and identifiers
	// diverge, and users type fragments of either.
	if cmd.Name == "model" {
		return modelCompletions(fragment)
	}

	items := []Item{}
	for _, opt := range cmd.Options {
		if fragment != "" && !strings.HasPrefix(opt.Value, fragment) {
			continue
		}
		items = append(items, Item{
			Display: opt.Value + "  " + opt.Label,
			Insert:  opt.Value,
		})
	}
	return items
}

func modelCompletions(fragment string) []Item {
	items := []Item{}
	for _, m := range modelList() {
		if !modelMatches(m, fragment) {
			continue
		}
		items = append(items, Item{
			Display: m.Name + "  " + m.ModelID,
			Insert:  m.ModelID,
		})
	}
	return items
}

// modelMatches reports whether the fragment occurs in either the model's
// display name or its identifier, case-insensitively.
func modelMatches(m acp.Model, fragment string) bool {
	if fragment == "" {
		return true
	}
	fragment = strings.ToLower(fragment)
	return strings.Contains(strings.ToLower(m.Name), fragment) ||
		strings.Contains(strings.ToLower(m.ModelID), fragment)
}

// FindModelName resolves a typed fragment back to the first matching
// model's display name, or "" when no model matches.
func FindModelName(fragment string) string {
	for _, m := range modelList() {
		if modelMatches(m, fragment) {
			return m.Name
		}
	}
	return ""
}
