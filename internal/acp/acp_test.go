package acp

import (
	"encoding/json"
	"testing"
)

func TestDecodeSessionUpdate(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want UpdateKind
	}{
		{"plan", `{"sessionUpdate":"plan","entries":[{"content":"step","status":"pending","priority":"high"}]}`, UpdatePlan},
		{"chunk", `{"sessionUpdate":"agent_message_chunk","content":{"type":"text","text":"hi"}}`, UpdateAgentMessageChunk},
		{"tool call", `{"sessionUpdate":"tool_call","toolCallId":"tc-1","title":"Read","status":"pending"}`, UpdateToolCall},
		// Unknown tags decode to their tag; the caller ignores them.
		{"unknown tag", `{"sessionUpdate":"current_mode_update","modeId":"x"}`, "current_mode_update"},
		// A known tag with an off-shape field degrades to the tag
		// instead of failing the stream.
		{"malformed known variant", `{"sessionUpdate":"plan","entries":"not-a-list"}`, UpdatePlan},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeSessionUpdate(json.RawMessage(tt.raw))
			if err != nil {
				t.Fatalf("DecodeSessionUpdate: %v", err)
			}
			if got.SessionUpdate != tt.want {
				t.Errorf("SessionUpdate = %q, want %q", got.SessionUpdate, tt.want)
			}
			if string(got.Raw) != tt.raw {
				t.Errorf("Raw not preserved")
			}
		})
	}
}

func TestDecodeSessionUpdateInvalidJSON(t *testing.T) {
	if _, err := DecodeSessionUpdate(json.RawMessage(`{not json`)); err == nil {
		t.Error("syntactically invalid JSON should return an error")
	}
}

func TestOutcomeJSON(t *testing.T) {
	got, err := json.Marshal(Selected("opt-1"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != `{"outcome":"selected","optionId":"opt-1"}` {
		t.Errorf("Selected = %s", got)
	}

	got, err = json.Marshal(Cancelled())
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != `{"outcome":"cancelled"}` {
		t.Errorf("Cancelled = %s", got)
	}
}
