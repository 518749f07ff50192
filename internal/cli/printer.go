package cli

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/adamavenir/parley/internal/acp"
	"github.com/adamavenir/parley/internal/convo"
	"github.com/adamavenir/parley/internal/permission"
)

// printer is the headless rendering collaborator: it re-reads the model
// on every change notification and emits plain transcript lines. It
// never mutates model state from inside the callback.
type printer struct {
	mu       sync.Mutex
	w        io.Writer
	cv       *convo.Conversation
	perms    *permission.Manager
	printed  int
	plan     string
	tools    map[string]acp.ToolCallStatus
	prompted map[int64]bool
}

func newPrinter(w io.Writer, cv *convo.Conversation, perms *permission.Manager) *printer {
	return &printer{
		w:        w,
		cv:       cv,
		perms:    perms,
		tools:    make(map[string]acp.ToolCallStatus),
		prompted: make(map[int64]bool),
	}
}

func (p *printer) refresh() {
	p.mu.Lock()
	defer p.mu.Unlock()

	entries := p.cv.Messages()

	// New entries print once they stop receiving chunks; the newest
	// open message waits for its terminal chunk.
	for p.printed < len(entries) {
		e := entries[p.printed]
		if e.Kind == convo.EntryMessage && e.Open {
			break
		}
		p.printEntry(e)
		p.printed++
	}

	// Status changes patch already-printed tool calls in place.
	for _, e := range entries[:p.printed] {
		if e.Kind != convo.EntryToolCall {
			continue
		}
		if prev, ok := p.tools[e.ToolCallID]; ok && prev != e.Status {
			fmt.Fprintf(p.w, "[tool] %s: %s\n", e.Title, e.Status)
		}
		p.tools[e.ToolCallID] = e.Status
	}

	if plan := p.cv.Plan(); plan != nil {
		if rendered := renderPlan(plan); rendered != p.plan {
			p.plan = rendered
			fmt.Fprint(p.w, rendered)
		}
	}

	for _, req := range p.perms.Active() {
		if req.Resolved || p.prompted[req.RequestID] {
			continue
		}
		p.prompted[req.RequestID] = true
		fmt.Fprintf(p.w, "[permission] %s\n", req.Title)
		for i, opt := range req.Options {
			marker := "deny"
			if opt.Decision == permission.DecisionApprove {
				marker = "allow"
			}
			fmt.Fprintf(p.w, "  %d. %s (%s)\n", i+1, opt.Name, marker)
		}
	}
}

func (p *printer) printEntry(e convo.Entry) {
	switch e.Kind {
	case convo.EntryMessage:
		fmt.Fprintf(p.w, "[%s] %s\n", e.Role, e.Text)
	case convo.EntryToolCall:
		fmt.Fprintf(p.w, "[tool] %s: %s\n", e.Title, e.Status)
		p.tools[e.ToolCallID] = e.Status
	}
}

func renderPlan(plan *convo.Plan) string {
	var b strings.Builder
	b.WriteString("[plan]\n")
	for _, entry := range plan.Entries {
		mark := " "
		switch entry.Status {
		case acp.PlanInProgress:
			mark = ">"
		case acp.PlanCompleted:
			mark = "x"
		}
		fmt.Fprintf(&b, "  [%s] %s (%s)\n", mark, entry.Content, entry.Priority)
	}
	return b.String()
}
