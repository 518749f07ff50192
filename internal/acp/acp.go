// Package acp defines the wire types for the agent-client session stream:
// session updates, plan entries, permission options, and outcomes.
package acp

import "encoding/json"

// UpdateKind discriminates session-update variants.
type UpdateKind string

const (
	UpdatePlan              UpdateKind = "plan"
	UpdateAgentMessageChunk UpdateKind = "agent_message_chunk"
	UpdateUserMessageChunk  UpdateKind = "user_message_chunk"
	UpdateAgentThoughtChunk UpdateKind = "agent_thought_chunk"
	UpdateToolCall          UpdateKind = "tool_call"
	UpdateToolCallUpdate    UpdateKind = "tool_call_update"
)

// PlanEntryStatus represents plan step lifecycle state.
type PlanEntryStatus string

const (
	PlanPending    PlanEntryStatus = "pending"
	PlanInProgress PlanEntryStatus = "in_progress"
	PlanCompleted  PlanEntryStatus = "completed"
)

// PlanPriority represents plan step priority.
type PlanPriority string

const (
	PriorityLow    PlanPriority = "low"
	PriorityMedium PlanPriority = "medium"
	PriorityHigh   PlanPriority = "high"
)

// PlanEntry is one step of the agent's declared plan. Entries are
// immutable once part of a plan snapshot; a new plan update replaces the
// whole sequence.
type PlanEntry struct {
	Content  string          `json:"content"`
	Status   PlanEntryStatus `json:"status"`
	Priority PlanPriority    `json:"priority"`
}

// ToolCallStatus represents tool-call lifecycle state.
type ToolCallStatus string

const (
	ToolPending    ToolCallStatus = "pending"
	ToolInProgress ToolCallStatus = "in_progress"
	ToolCompleted  ToolCallStatus = "completed"
	ToolFailed     ToolCallStatus = "failed"
)

// ContentBlock carries message content. Only text blocks are understood;
// other types pass through with Text empty.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// SessionUpdate is one event in the session stream. The tag set is open:
// the protocol may add kinds, and unknown tags must be ignorable rather
// than rejected. Raw preserves the original payload for fields this
// struct does not model.
type SessionUpdate struct {
	SessionUpdate UpdateKind      `json:"sessionUpdate"`
	Content       ContentBlock    `json:"content,omitempty"`
	Entries       []PlanEntry     `json:"entries,omitempty"`
	ToolCallID    string          `json:"toolCallId,omitempty"`
	Title         string          `json:"title,omitempty"`
	Status        ToolCallStatus  `json:"status,omitempty"`
	Raw           json.RawMessage `json:"-"`
}

// DecodeSessionUpdate parses a raw update payload. A payload whose fields
// do not match the modeled shape still decodes to its tag so the caller
// can ignore it; only syntactically invalid JSON returns an error.
func DecodeSessionUpdate(raw json.RawMessage) (SessionUpdate, error) {
	var u SessionUpdate
	if err := json.Unmarshal(raw, &u); err != nil {
		// Recover the tag alone so malformed known variants degrade to
		// the unknown path instead of failing the stream.
		var tag struct {
			SessionUpdate UpdateKind `json:"sessionUpdate"`
		}
		if err2 := json.Unmarshal(raw, &tag); err2 != nil {
			return SessionUpdate{}, err
		}
		u = SessionUpdate{SessionUpdate: tag.SessionUpdate}
	}
	u.Raw = raw
	return u, nil
}

// PermissionKind classifies a permission option as offered by the agent.
type PermissionKind string

const (
	AllowOnce    PermissionKind = "allow_once"
	AllowAlways  PermissionKind = "allow_always"
	RejectOnce   PermissionKind = "reject_once"
	RejectAlways PermissionKind = "reject_always"
)

// PermissionOption is one choice offered on a permission request.
type PermissionOption struct {
	OptionID string         `json:"optionId"`
	Name     string         `json:"name"`
	Kind     PermissionKind `json:"kind"`
}

// Outcome is the terminal resolution of a permission request.
type Outcome struct {
	Outcome  string `json:"outcome"` // "selected" or "cancelled"
	OptionID string `json:"optionId,omitempty"`
}

// Selected returns the outcome for a chosen option.
func Selected(optionID string) Outcome {
	return Outcome{Outcome: "selected", OptionID: optionID}
}

// Cancelled returns the outcome for a request resolved without a choice.
func Cancelled() Outcome {
	return Outcome{Outcome: "cancelled"}
}

// Model identifies an agent model the user can select.
type Model struct {
	ModelID string `json:"modelId"`
	Name    string `json:"name"`
}
