// Package convo holds the authoritative model of one agent turn: the
// message transcript, the current plan, and the pending permission map,
// fed by a stream of discriminated session-update events.
package convo

import (
	"sync"

	"github.com/adamavenir/parley/internal/acp"
)

// Role identifies the source of a text entry.
type Role string

const (
	RoleUser    Role = "user"
	RoleAgent   Role = "agent"
	RoleThought Role = "thought"
)

// EntryKind discriminates transcript entries.
type EntryKind string

const (
	EntryMessage  EntryKind = "message"
	EntryToolCall EntryKind = "tool_call"
)

// Entry is one transcript item: a chunked text message or a tool call.
type Entry struct {
	Kind EntryKind

	// Message fields. Open means the entry is still receiving chunks.
	Role Role
	Text string
	Open bool

	// Tool-call fields.
	ToolCallID string
	Title      string
	Status     acp.ToolCallStatus
}

// Plan is the agent's declared plan. It is replaced wholesale on every
// plan update, never merged.
type Plan struct {
	Entries []acp.PlanEntry
}

// PermissionRecord is the conversation's view of an outstanding approval
// request, kept for cross-referencing against tool calls.
type PermissionRecord struct {
	RequestID        int64
	ToolCallID       string
	Title            string
	Options          []acp.PermissionOption
	Resolved         bool
	SelectedOptionID string
}

type listener struct {
	id int
	fn func()
}

// Conversation is the aggregate root for one session. It is created per
// session and discarded when the session ends; nothing persists.
type Conversation struct {
	mu        sync.Mutex
	sessionID string
	messages  []Entry
	plan      *Plan
	pending   map[int64]*PermissionRecord
	listeners []listener
	nextID    int
}

// New creates an empty conversation for the given session.
func New(sessionID string) *Conversation {
	return &Conversation{
		sessionID: sessionID,
		pending:   make(map[int64]*PermissionRecord),
	}
}

// SessionID returns the session this conversation models.
func (c *Conversation) SessionID() string {
	return c.sessionID
}

// HandleSessionUpdate applies one session-update event to the model.
// Updates are applied in arrival order and each mutation is atomic from a
// subscriber's point of view. Unknown update kinds are ignored without
// error: the protocol may add kinds and forward compatibility requires
// tolerating them.
func (c *Conversation) HandleSessionUpdate(u acp.SessionUpdate) {
	c.mu.Lock()
	changed := false

	switch u.SessionUpdate {
	case acp.UpdatePlan:
		entries := make([]acp.PlanEntry, len(u.Entries))
		copy(entries, u.Entries)
		c.plan = &Plan{Entries: entries}
		changed = true

	case acp.UpdateAgentMessageChunk:
		c.appendChunk(RoleAgent, u.Content.Text)
		changed = true

	case acp.UpdateUserMessageChunk:
		c.appendChunk(RoleUser, u.Content.Text)
		changed = true

	case acp.UpdateAgentThoughtChunk:
		c.appendChunk(RoleThought, u.Content.Text)
		changed = true

	case acp.UpdateToolCall:
		c.closeOpenMessage()
		c.messages = append(c.messages, Entry{
			Kind:       EntryToolCall,
			ToolCallID: u.ToolCallID,
			Title:      u.Title,
			Status:     u.Status,
		})
		changed = true

	case acp.UpdateToolCallUpdate:
		changed = c.patchToolCall(u)
	}

	c.mu.Unlock()
	if changed {
		c.notify()
	}
}

// appendChunk appends text to the most recent open message of the same
// role, or opens a new one. A role switch closes the previous open
// message.
func (c *Conversation) appendChunk(role Role, text string) {
	if n := len(c.messages); n > 0 {
		last := &c.messages[n-1]
		if last.Kind == EntryMessage && last.Open {
			if last.Role == role {
				last.Text += text
				return
			}
			last.Open = false
		}
	}
	c.messages = append(c.messages, Entry{
		Kind: EntryMessage,
		Role: role,
		Text: text,
		Open: true,
	})
}

func (c *Conversation) closeOpenMessage() {
	if n := len(c.messages); n > 0 {
		last := &c.messages[n-1]
		if last.Kind == EntryMessage && last.Open {
			last.Open = false
		}
	}
}

// patchToolCall updates the matching tool-call entry in place. Updates
// for unknown tool-call ids are dropped.
func (c *Conversation) patchToolCall(u acp.SessionUpdate) bool {
	for i := len(c.messages) - 1; i >= 0; i-- {
		e := &c.messages[i]
		if e.Kind != EntryToolCall || e.ToolCallID != u.ToolCallID {
			continue
		}
		if u.Status != "" {
			e.Status = u.Status
		}
		if u.Title != "" {
			e.Title = u.Title
		}
		return true
	}
	return false
}

// TrackPermission records an outstanding permission request. A request
// retransmitted with the same id replaces the previous record rather than
// duplicating it.
func (c *Conversation) TrackPermission(requestID int64, toolCallID, title string, options []acp.PermissionOption) {
	c.mu.Lock()
	opts := make([]acp.PermissionOption, len(options))
	copy(opts, options)
	c.pending[requestID] = &PermissionRecord{
		RequestID:  requestID,
		ToolCallID: toolCallID,
		Title:      title,
		Options:    opts,
	}
	c.mu.Unlock()
	c.notify()
}

// ResolvePermission marks the tracked request resolved and removes it
// from the pending map. An empty optionID records a cancellation.
// Resolving an unknown or already-resolved id is a no-op.
func (c *Conversation) ResolvePermission(requestID int64, optionID string) {
	c.mu.Lock()
	rec, ok := c.pending[requestID]
	if !ok {
		c.mu.Unlock()
		return
	}
	rec.Resolved = true
	rec.SelectedOptionID = optionID
	delete(c.pending, requestID)
	c.mu.Unlock()
	c.notify()
}

// OnChange registers a change listener and returns its unsubscribe
// handle. Notification is synchronous and fires after every accepted
// mutation. Unsubscribing twice is harmless.
func (c *Conversation) OnChange(fn func()) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners = append(c.listeners, listener{id: id, fn: fn})
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, l := range c.listeners {
			if l.id == id {
				c.listeners = append(c.listeners[:i], c.listeners[i+1:]...)
				return
			}
		}
	}
}

// notify invokes every listener outside the model lock. A panicking
// listener must not break delivery to the remaining listeners.
func (c *Conversation) notify() {
	c.mu.Lock()
	fns := make([]func(), len(c.listeners))
	for i, l := range c.listeners {
		fns[i] = l.fn
	}
	c.mu.Unlock()

	for _, fn := range fns {
		safeCall(fn)
	}
}

func safeCall(fn func()) {
	defer func() {
		_ = recover()
	}()
	fn()
}

// Messages returns a copy of the transcript.
func (c *Conversation) Messages() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Entry, len(c.messages))
	copy(out, c.messages)
	return out
}

// Plan returns a copy of the current plan, or nil before the first plan
// update.
func (c *Conversation) Plan() *Plan {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.plan == nil {
		return nil
	}
	entries := make([]acp.PlanEntry, len(c.plan.Entries))
	copy(entries, c.plan.Entries)
	return &Plan{Entries: entries}
}

// Pending returns a copy of the pending permission map.
func (c *Conversation) Pending() map[int64]PermissionRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[int64]PermissionRecord, len(c.pending))
	for id, rec := range c.pending {
		out[id] = *rec
	}
	return out
}
