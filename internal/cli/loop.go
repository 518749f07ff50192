package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/adamavenir/parley/internal/convo"
	"github.com/adamavenir/parley/internal/slash"
	"github.com/adamavenir/parley/internal/transport"
)

// runLoop reads user input line by line until stdin closes or the
// context ends. Slash commands are parsed locally; anything else becomes
// a prompt turn. While approvals are pending, a bare number resolves the
// oldest one.
func runLoop(ctx context.Context, client *transport.Client, conversation *convo.Conversation, log *zap.Logger) error {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if n, err := strconv.Atoi(line); err == nil {
			if resolveOldest(client, conversation, n) {
				continue
			}
		}

		parsed := slash.Parse(line)
		if parsed == nil {
			// Unrecognized commands degrade to free text.
			go promptTurn(ctx, client, line, log)
			continue
		}

		if !parsed.Complete {
			printIncomplete(parsed, line)
			continue
		}

		switch parsed.Kind {
		case slash.KindClient:
			runClientCommand(parsed)
		case slash.KindServer:
			go promptTurn(ctx, client, line, log)
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return client.Cancel(context.WithoutCancel(ctx))
}

func promptTurn(ctx context.Context, client *transport.Client, text string, log *zap.Logger) {
	stopReason, err := client.Prompt(ctx, text)
	if err != nil {
		log.Warn("prompt failed", zap.Error(err))
		return
	}
	log.Debug("turn ended", zap.String("stopReason", stopReason))
}

// resolveOldest maps a typed option number onto the oldest unresolved
// permission request. Returns false when there is nothing to resolve, so
// the number falls through as prompt text.
func resolveOldest(client *transport.Client, conversation *convo.Conversation, n int) bool {
	for _, req := range client.Permissions().Active() {
		if req.Resolved {
			continue
		}
		if n < 1 || n > len(req.Options) {
			fmt.Printf("choose 1-%d\n", len(req.Options))
			return true
		}
		client.Permissions().Resolve(conversation, req, req.Options[n-1].ID)
		return true
	}
	return false
}

func printIncomplete(parsed *slash.Parsed, line string) {
	fmt.Printf("/%s needs more input:\n", parsed.Command)
	for _, item := range slash.Completions(line) {
		fmt.Printf("  %s\n", item.Display)
	}
}

func runClientCommand(parsed *slash.Parsed) {
	switch parsed.Command {
	case "help":
		for _, cmd := range slash.Registry() {
			fmt.Printf("/%s  %s\n", cmd.Name, cmd.Desc)
		}
	case "clear":
		fmt.Print("\033[2J\033[H")
	case "theme":
		fmt.Printf("theme set to %s\n", parsed.SubOption)
	case "model":
		fragment := strings.TrimSpace(parsed.Arg)
		if fragment == "" {
			for _, item := range slash.Completions("/model ") {
				fmt.Printf("  %s\n", item.Display)
			}
		} else if name := slash.FindModelName(fragment); name != "" {
			fmt.Printf("model: %s\n", name)
		} else {
			fmt.Printf("no model matches %q\n", fragment)
		}
	}
}
