package transport

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/sourcegraph/jsonrpc2"

	"github.com/adamavenir/parley/internal/acp"
	"github.com/adamavenir/parley/internal/config"
	"github.com/adamavenir/parley/internal/convo"
)

// newTestPair wires a client to a fake agent over an in-memory pipe and
// opens a conversation for session "sess-1".
func newTestPair(t *testing.T, opts Options) (*Client, *jsonrpc2.Conn, *convo.Conversation) {
	t.Helper()
	ctx := context.Background()

	clientEnd, agentEnd := net.Pipe()
	c := newClient(opts)
	c.start(ctx, jsonrpc2.NewBufferedStream(clientEnd, jsonrpc2.PlainObjectCodec{}))

	agent := jsonrpc2.NewConn(ctx,
		jsonrpc2.NewBufferedStream(agentEnd, jsonrpc2.PlainObjectCodec{}),
		jsonrpc2.HandlerWithError(func(context.Context, *jsonrpc2.Conn, *jsonrpc2.Request) (interface{}, error) {
			return nil, nil
		}))

	cv := convo.New("sess-1")
	c.mu.Lock()
	c.convo = cv
	c.mu.Unlock()

	t.Cleanup(func() {
		agent.Close()
		c.Close()
	})
	return c, agent, cv
}

func waitChange(t *testing.T, changed <-chan struct{}) {
	t.Helper()
	select {
	case <-changed:
	case <-time.After(5 * time.Second):
		t.Fatal("no change notification arrived")
	}
}

func TestSessionUpdateRouting(t *testing.T) {
	_, agent, cv := newTestPair(t, Options{})
	ctx := context.Background()

	changed := make(chan struct{}, 8)
	unsub := cv.OnChange(func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer unsub()

	// Updates for other sessions must not touch this conversation.
	wrong := updateNotification{
		SessionID: "other",
		Update:    json.RawMessage(`{"sessionUpdate":"agent_message_chunk","content":{"type":"text","text":"nope"}}`),
	}
	if err := agent.Notify(ctx, "session/update", wrong); err != nil {
		t.Fatal(err)
	}

	right := updateNotification{
		SessionID: "sess-1",
		Update:    json.RawMessage(`{"sessionUpdate":"agent_message_chunk","content":{"type":"text","text":"hi"}}`),
	}
	if err := agent.Notify(ctx, "session/update", right); err != nil {
		t.Fatal(err)
	}

	waitChange(t, changed)
	msgs := cv.Messages()
	if len(msgs) != 1 {
		t.Fatalf("got %d entries, want 1", len(msgs))
	}
	if msgs[0].Text != "hi" {
		t.Errorf("Text = %q, want %q (foreign-session update leaked in?)", msgs[0].Text, "hi")
	}
}

func TestPermissionRoundTrip(t *testing.T) {
	c, agent, cv := newTestPair(t, Options{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Resolve the request as soon as it surfaces, standing in for the
	// human choice.
	go func() {
		for i := 0; i < 1000; i++ {
			if reqs := c.perms.Active(); len(reqs) > 0 && !reqs[0].Resolved {
				c.perms.Resolve(cv, reqs[0], "allow-once")
				return
			}
			time.Sleep(2 * time.Millisecond)
		}
	}()

	params := permissionRequestParams{
		SessionID: "sess-1",
		ToolCall:  permissionToolCall{ToolCallID: "tc-1", Title: "Write main.go"},
		Options: []acp.PermissionOption{
			{OptionID: "allow-once", Name: "Allow", Kind: acp.AllowOnce},
			{OptionID: "reject-once", Name: "Reject", Kind: acp.RejectOnce},
		},
	}
	var result permissionRequestResult
	if err := agent.Call(ctx, "session/request_permission", params, &result); err != nil {
		t.Fatal(err)
	}

	if result.Outcome.Outcome != "selected" || result.Outcome.OptionID != "allow-once" {
		t.Errorf("reply outcome = %+v, want selected allow-once", result.Outcome)
	}
	if len(cv.Pending()) != 0 {
		t.Error("resolved request still pending in the conversation")
	}
}

func TestPermissionAutoApprove(t *testing.T) {
	path := filepath.Join(t.TempDir(), config.DefaultFile)
	if err := os.WriteFile(path, []byte(`{"autoApprove": ["Write *"]}`), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatal(err)
	}

	_, agent, _ := newTestPair(t, Options{Config: cfg})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	params := permissionRequestParams{
		SessionID: "sess-1",
		ToolCall:  permissionToolCall{ToolCallID: "tc-2", Title: "Write main.go"},
		Options: []acp.PermissionOption{
			{OptionID: "reject-once", Name: "Reject", Kind: acp.RejectOnce},
			{OptionID: "allow-once", Name: "Allow", Kind: acp.AllowOnce},
		},
	}
	var result permissionRequestResult
	if err := agent.Call(ctx, "session/request_permission", params, &result); err != nil {
		t.Fatal(err)
	}

	// No human in the loop: the matching title picked the first
	// approving option.
	if result.Outcome.Outcome != "selected" || result.Outcome.OptionID != "allow-once" {
		t.Errorf("reply outcome = %+v, want selected allow-once", result.Outcome)
	}
}

func TestStdioPipeFraming(t *testing.T) {
	clientRead, agentWrite := io.Pipe()
	agentRead, clientWrite := io.Pipe()
	clientStream := jsonrpc2.NewBufferedStream(stdioPipe{ReadCloser: clientRead, WriteCloser: clientWrite}, jsonrpc2.PlainObjectCodec{})
	agentStream := jsonrpc2.NewBufferedStream(stdioPipe{ReadCloser: agentRead, WriteCloser: agentWrite}, jsonrpc2.PlainObjectCodec{})
	defer clientStream.Close()
	defer agentStream.Close()

	type msg map[string]string

	// Each WriteObject must arrive as exactly one object, with the
	// boundary between consecutive objects intact.
	got := make(chan msg, 2)
	go func() {
		for i := 0; i < 2; i++ {
			var m msg
			if err := agentStream.ReadObject(&m); err != nil {
				return
			}
			got <- m
		}
	}()

	for _, seq := range []string{"1", "2"} {
		if err := clientStream.WriteObject(msg{"seq": seq}); err != nil {
			t.Fatal(err)
		}
		select {
		case m := <-got:
			if m["seq"] != seq {
				t.Errorf("object = %v, want seq %s", m, seq)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("object %s never arrived", seq)
		}
	}
}

func TestWebSocketStream(t *testing.T) {
	serverDone := make(chan error, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			serverDone <- err
			return
		}
		stream := newWebSocketStream(conn)
		var m map[string]string
		if err := stream.ReadObject(&m); err != nil {
			serverDone <- err
			return
		}
		m["echo"] = "true"
		serverDone <- stream.WriteObject(m)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	wsConn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatal(err)
	}
	stream := newWebSocketStream(wsConn)
	defer stream.Close()

	if err := stream.WriteObject(map[string]string{"method": "ping"}); err != nil {
		t.Fatal(err)
	}
	var got map[string]string
	if err := stream.ReadObject(&got); err != nil {
		t.Fatal(err)
	}
	if got["method"] != "ping" || got["echo"] != "true" {
		t.Errorf("round trip = %v", got)
	}
	if err := <-serverDone; err != nil {
		t.Fatal(err)
	}
}
