// Package slash implements the slash-command language: a static registry
// of command descriptors, a pure incremental parser, and the completion
// engine that suggests next tokens while the user types.
package slash

import (
	"strings"
)

// Kind determines where a command is handled.
type Kind string

const (
	// KindClient commands are handled locally without contacting the agent.
	KindClient Kind = "client"
	// KindServer commands are forwarded to the agent.
	KindServer Kind = "server"
)

// Option describes one sub-option of a command. NeedsArg marks
// sub-options that require non-empty trailing text to be complete (a
// bare "/session rename" is not submittable).
type Option struct {
	Value    string
	Label    string
	NeedsArg bool
}

// Command describes one registered slash command.
type Command struct {
	Name    string
	Kind    Kind
	Desc    string
	Options []Option
}

// commands is the static registry. Order is completion order. The
// registry is read-only at runtime; only the dynamic model list behind
// the model command changes, via SetAvailableModels.
var commands = []Command{
	{Name: "help", Kind: KindClient, Desc: "Show available commands"},
	{Name: "clear", Kind: KindClient, Desc: "Clear the transcript"},
	{Name: "theme", Kind: KindClient, Desc: "Switch color theme", Options: []Option{
		{Value: "dark", Label: "Dark theme"},
		{Value: "light", Label: "Light theme"},
		{Value: "system", Label: "Follow system"},
	}},
	{Name: "model", Kind: KindClient, Desc: "Select agent model"},
	{Name: "agent", Kind: KindServer, Desc: "Show agent status"},
	{Name: "session", Kind: KindServer, Desc: "Manage the session", Options: []Option{
		{Value: "list", Label: "List sessions"},
		{Value: "rename", Label: "Rename this session", NeedsArg: true},
	}},
}

// Registry returns the registered commands in completion order.
func Registry() []Command {
	out := make([]Command, len(commands))
	copy(out, commands)
	return out
}

// Parsed is the result of parsing slash input. Complete reports whether
// the input is submittable as-is; incomplete means "do not submit yet",
// not invalid.
type Parsed struct {
	Command   string
	Kind      Kind
	SubOption string
	Arg       string
	Options   []Option
	Complete  bool
}

// Parse maps raw input to a parsed command, or nil when the input is not
// a recognized slash command (the caller then treats it as free text).
// Command names and sub-option values match exactly and case-sensitively.
func Parse(input string) *Parsed {
	if !strings.HasPrefix(input, "/") {
		return nil
	}
	rest := input[1:]
	name := rest
	remainder := ""
	if i := strings.IndexByte(rest, ' '); i >= 0 {
		name = rest[:i]
		remainder = rest[i+1:]
	}

	cmd := lookup(name)
	if cmd == nil {
		return nil
	}

	p := &Parsed{
		Command: cmd.Name,
		Kind:    cmd.Kind,
		Options: cmd.Options,
	}

	// Commands without sub-options are complete as soon as the command
	// token is present; trailing text is a free argument, kept verbatim.
	if len(cmd.Options) == 0 {
		p.Arg = remainder
		p.Complete = true
		return p
	}

	// Commands with sub-options need the remainder to begin with a
	// declared sub-option token.
	token := remainder
	arg := ""
	if i := strings.IndexByte(remainder, ' '); i >= 0 {
		token = remainder[:i]
		arg = remainder[i+1:]
	}
	for _, opt := range cmd.Options {
		if token != opt.Value {
			continue
		}
		p.SubOption = opt.Value
		p.Arg = arg
		p.Complete = !opt.NeedsArg || strings.TrimSpace(arg) != ""
		return p
	}
	return p
}

func lookup(name string) *Command {
	for i := range commands {
		if commands[i].Name == name {
			return &commands[i]
		}
	}
	return nil
}
