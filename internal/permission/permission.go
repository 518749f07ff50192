// Package permission brokers human-in-the-loop approval of sensitive
// tool calls, guaranteeing exactly-once resolution per request even when
// requests are created, resolved, and force-cancelled in any order.
package permission

import (
	"strings"
	"sync"

	"github.com/adamavenir/parley/internal/acp"
	"github.com/adamavenir/parley/internal/convo"
)

// Decision classifies a permission option as approving or denying.
type Decision int

const (
	DecisionDeny Decision = iota
	DecisionApprove
)

// Option is a permission option with its decision derived once at
// construction, so callers never re-inspect the raw kind tag.
type Option struct {
	ID       string
	Name     string
	Kind     acp.PermissionKind
	Decision Decision
}

func decisionFor(kind acp.PermissionKind) Decision {
	if strings.HasPrefix(string(kind), "allow") {
		return DecisionApprove
	}
	return DecisionDeny
}

// ActiveRequest is one outstanding approval request. Resolved transitions
// false to true exactly once; respond fires exactly once, synchronously
// with that transition.
type ActiveRequest struct {
	RequestID        int64
	ToolCallID       string
	Title            string
	Options          []Option
	Resolved         bool
	SelectedOptionID string

	// claimed is set under the manager lock before respond fires, so a
	// cancel arriving while respond is still in flight cannot deliver a
	// second outcome. Resolved stays false until after respond returns,
	// preserving what a re-entrant callback observes.
	claimed bool
	respond func(acp.Outcome)
}

// Manager tracks the active requests for one session, in arrival order.
// Arrival order is also the display order for concurrently pending
// requests.
type Manager struct {
	mu     sync.Mutex
	active []*ActiveRequest
}

// NewManager creates an empty manager. One manager per active session.
func NewManager() *Manager {
	return &Manager{}
}

// Show registers a new permission request. A pre-existing request with
// the same id is removed first, so a retransmitted request never creates
// a duplicate pending entry. When autoApproveOptionID is set, respond is
// invoked with the selection and the conversation record resolved before
// Show returns; the caller never observes an unresolved state for
// auto-approved requests.
func (m *Manager) Show(c *convo.Conversation, requestID int64, toolCallID, title string, options []acp.PermissionOption, respond func(acp.Outcome), autoApproveOptionID string) *ActiveRequest {
	opts := make([]Option, len(options))
	for i, o := range options {
		opts[i] = Option{
			ID:       o.OptionID,
			Name:     o.Name,
			Kind:     o.Kind,
			Decision: decisionFor(o.Kind),
		}
	}

	c.TrackPermission(requestID, toolCallID, title, options)

	req := &ActiveRequest{
		RequestID:  requestID,
		ToolCallID: toolCallID,
		Title:      title,
		Options:    opts,
		Resolved:   autoApproveOptionID != "",
		claimed:    autoApproveOptionID != "",
		respond:    respond,
	}

	m.mu.Lock()
	for i, existing := range m.active {
		if existing.RequestID == requestID {
			m.active = append(m.active[:i], m.active[i+1:]...)
			break
		}
	}
	m.active = append(m.active, req)
	m.mu.Unlock()

	if autoApproveOptionID != "" {
		req.SelectedOptionID = autoApproveOptionID
		respond(acp.Selected(autoApproveOptionID))
		c.ResolvePermission(requestID, autoApproveOptionID)
	}

	return req
}

// Resolve delivers the user's choice for a request. Resolving an
// already-resolved request is a no-op, which makes resolution safe
// against duplicate clicks and a cancel racing a queued click. The
// external respond callback fires before the local resolved flag flips,
// so a re-entrant callback observes the pre-resolution state.
func (m *Manager) Resolve(c *convo.Conversation, req *ActiveRequest, optionID string) {
	m.mu.Lock()
	if req.claimed {
		m.mu.Unlock()
		return
	}
	req.claimed = true
	m.mu.Unlock()

	req.respond(acp.Selected(optionID))
	c.ResolvePermission(req.RequestID, optionID)

	m.mu.Lock()
	req.Resolved = true
	req.SelectedOptionID = optionID
	m.mu.Unlock()
}

// CancelAll cancels every unresolved request and clears the active
// collection unconditionally. Already-resolved requests are dropped from
// the visible set without re-invoking respond. Used when a turn ends or
// the user issues a new prompt while approvals are outstanding: stale
// approvals must never silently resolve later.
func (m *Manager) CancelAll(c *convo.Conversation) {
	m.mu.Lock()
	var unresolved []*ActiveRequest
	for _, req := range m.active {
		if !req.claimed {
			req.claimed = true
			unresolved = append(unresolved, req)
		}
	}
	m.active = nil
	m.mu.Unlock()

	for _, req := range unresolved {
		req.respond(acp.Cancelled())
		c.ResolvePermission(req.RequestID, "")
		m.mu.Lock()
		req.Resolved = true
		m.mu.Unlock()
	}
}

// Active returns the pending requests in display order.
func (m *Manager) Active() []*ActiveRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*ActiveRequest, len(m.active))
	copy(out, m.active)
	return out
}
