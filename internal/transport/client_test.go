package transport

import (
	"testing"

	"github.com/sourcegraph/jsonrpc2"

	"github.com/adamavenir/parley/internal/acp"
)

func TestFirstApproving(t *testing.T) {
	tests := []struct {
		name    string
		options []acp.PermissionOption
		want    string
	}{
		{
			"allow before reject",
			[]acp.PermissionOption{
				{OptionID: "r", Kind: acp.RejectOnce},
				{OptionID: "a", Kind: acp.AllowOnce},
			},
			"a",
		},
		{
			"allow_always counts",
			[]acp.PermissionOption{{OptionID: "aa", Kind: acp.AllowAlways}},
			"aa",
		},
		{
			"no approving option",
			[]acp.PermissionOption{{OptionID: "r", Kind: acp.RejectAlways}},
			"",
		},
		{"empty", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := firstApproving(tt.options); got != tt.want {
				t.Errorf("firstApproving = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRequestID(t *testing.T) {
	c := newClient(Options{})

	if got := c.requestID(&jsonrpc2.Request{ID: jsonrpc2.ID{Num: 42}}); got != 42 {
		t.Errorf("numeric id = %d, want 42", got)
	}

	// String ids get distinct synthetic numeric ids.
	a := c.requestID(&jsonrpc2.Request{ID: jsonrpc2.ID{Str: "x", IsString: true}})
	b := c.requestID(&jsonrpc2.Request{ID: jsonrpc2.ID{Str: "x", IsString: true}})
	if a == b {
		t.Errorf("synthetic ids collided: %d", a)
	}
	if a <= 42 || b <= 42 {
		t.Errorf("synthetic ids must not collide with small numeric ids: %d %d", a, b)
	}
}
