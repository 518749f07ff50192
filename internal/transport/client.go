// Package transport connects the conversation core to an agent over
// JSON-RPC 2.0, either through a spawned subprocess's stdio or a
// WebSocket endpoint. It routes session-update notifications into the
// conversation model and permission requests into the lifecycle manager.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/sourcegraph/jsonrpc2"
	"go.uber.org/zap"

	"github.com/adamavenir/parley/internal/acp"
	"github.com/adamavenir/parley/internal/config"
	"github.com/adamavenir/parley/internal/convo"
	"github.com/adamavenir/parley/internal/permission"
)

// Options carries the collaborators a client wires updates into.
type Options struct {
	Perms  *permission.Manager
	Config *config.Config
	Log    *zap.Logger
}

// Client is one connection to an agent. It owns no model state: the
// conversation and permission manager are the authorities, the client
// only feeds them.
type Client struct {
	mu    sync.Mutex
	conn  *jsonrpc2.Conn
	convo *convo.Conversation
	perms *permission.Manager
	cfg   *config.Config
	log   *zap.Logger
	cmd   *exec.Cmd

	// synthetic ids for permission requests arriving with string RPC ids
	nextSynthetic atomic.Int64
}

func newClient(opts Options) *Client {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	perms := opts.Perms
	if perms == nil {
		perms = permission.NewManager()
	}
	c := &Client{
		perms: perms,
		cfg:   opts.Config,
		log:   log.With(zap.String("connId", uuid.NewString())),
	}
	c.nextSynthetic.Store(1 << 32)
	return c
}

// Spawn starts the agent command and speaks JSON-RPC over its stdio.
func Spawn(ctx context.Context, argv []string, opts Options) (*Client, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("no agent command configured")
	}
	c := newClient(opts)

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		return nil, fmt.Errorf("start agent: %w", err)
	}
	c.cmd = cmd

	stream := jsonrpc2.NewBufferedStream(stdioPipe{ReadCloser: stdout, WriteCloser: stdin}, jsonrpc2.PlainObjectCodec{})
	c.start(ctx, stream)
	c.log.Info("agent spawned", zap.String("command", argv[0]))
	return c, nil
}

// Dial connects to a remote agent over WebSocket.
func Dial(ctx context.Context, url string, opts Options) (*Client, error) {
	c := newClient(opts)
	wsConn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	c.start(ctx, newWebSocketStream(wsConn))
	c.log.Info("agent connected", zap.String("url", url))
	return c, nil
}

func (c *Client) start(ctx context.Context, stream jsonrpc2.ObjectStream) {
	conn := jsonrpc2.NewConn(ctx, stream, jsonrpc2.AsyncHandler(jsonrpc2.HandlerWithError(c.handle)))
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	// A dropped connection must not leave approvals dangling.
	go func() {
		<-conn.DisconnectNotify()
		c.log.Info("agent disconnected")
		if cv := c.Conversation(); cv != nil {
			c.perms.CancelAll(cv)
		}
	}()
}

// Conversation returns the active conversation, or nil before NewSession.
func (c *Client) Conversation() *convo.Conversation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.convo
}

// Permissions returns the permission manager for this connection.
func (c *Client) Permissions() *permission.Manager {
	return c.perms
}

type initializeParams struct {
	ProtocolVersion int `json:"protocolVersion"`
}

type newSessionParams struct {
	Cwd        string   `json:"cwd"`
	McpServers []string `json:"mcpServers"`
}

type newSessionResult struct {
	SessionID string      `json:"sessionId"`
	Models    []acp.Model `json:"models,omitempty"`
}

// NewSession performs the initialize handshake and opens a session,
// creating the conversation that subsequent updates feed. Models
// advertised by the agent, if any, are returned for the completion
// engine.
func (c *Client) NewSession(ctx context.Context, cwd string) (*convo.Conversation, []acp.Model, error) {
	var initResult json.RawMessage
	if err := c.conn.Call(ctx, "initialize", initializeParams{ProtocolVersion: 1}, &initResult); err != nil {
		return nil, nil, fmt.Errorf("initialize: %w", err)
	}

	var result newSessionResult
	if err := c.conn.Call(ctx, "session/new", newSessionParams{Cwd: cwd, McpServers: []string{}}, &result); err != nil {
		return nil, nil, fmt.Errorf("session/new: %w", err)
	}

	cv := convo.New(result.SessionID)
	c.mu.Lock()
	c.convo = cv
	c.mu.Unlock()
	c.log.Info("session opened", zap.String("sessionId", result.SessionID))
	return cv, result.Models, nil
}

type promptParams struct {
	SessionID string             `json:"sessionId"`
	Prompt    []acp.ContentBlock `json:"prompt"`
}

type promptResult struct {
	StopReason string `json:"stopReason"`
}

// Prompt sends user text as a new turn and blocks until the turn ends.
// Outstanding approvals are cancelled first: a stale approval must never
// resolve after the user has moved on.
func (c *Client) Prompt(ctx context.Context, text string) (string, error) {
	cv := c.Conversation()
	if cv == nil {
		return "", fmt.Errorf("no active session")
	}
	c.perms.CancelAll(cv)

	var result promptResult
	params := promptParams{
		SessionID: cv.SessionID(),
		Prompt:    []acp.ContentBlock{{Type: "text", Text: text}},
	}
	if err := c.conn.Call(ctx, "session/prompt", params, &result); err != nil {
		return "", fmt.Errorf("session/prompt: %w", err)
	}
	return result.StopReason, nil
}

type sessionParams struct {
	SessionID string `json:"sessionId"`
}

// Cancel aborts the in-flight turn and cancels outstanding approvals.
func (c *Client) Cancel(ctx context.Context) error {
	cv := c.Conversation()
	if cv == nil {
		return nil
	}
	err := c.conn.Notify(ctx, "session/cancel", sessionParams{SessionID: cv.SessionID()})
	c.perms.CancelAll(cv)
	return err
}

// Close tears down the connection and the spawned agent, if any.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	cmd := c.cmd
	c.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close()
	}
	if cmd != nil && cmd.Process != nil && cmd.ProcessState == nil {
		cmd.Process.Kill()
	}
	return err
}

type updateNotification struct {
	SessionID string          `json:"sessionId"`
	Update    json.RawMessage `json:"update"`
}

type permissionToolCall struct {
	ToolCallID string `json:"toolCallId"`
	Title      string `json:"title"`
}

type permissionRequestParams struct {
	SessionID string                 `json:"sessionId"`
	ToolCall  permissionToolCall     `json:"toolCall"`
	Options   []acp.PermissionOption `json:"options"`
}

type permissionRequestResult struct {
	Outcome acp.Outcome `json:"outcome"`
}

func (c *Client) handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (interface{}, error) {
	switch req.Method {
	case "session/update":
		c.handleUpdate(req)
		return nil, nil

	case "session/request_permission":
		return c.handlePermission(ctx, conn, req)

	default:
		if req.Notif {
			// Unknown notifications are a forward-compatibility case,
			// same as unknown update kinds.
			return nil, nil
		}
		return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeMethodNotFound, Message: "method not supported: " + req.Method}
	}
}

func (c *Client) handleUpdate(req *jsonrpc2.Request) {
	cv := c.Conversation()
	if cv == nil || req.Params == nil {
		return
	}
	var note updateNotification
	if err := json.Unmarshal(*req.Params, &note); err != nil {
		c.log.Warn("malformed session/update", zap.Error(err))
		return
	}
	if note.SessionID != cv.SessionID() {
		return
	}
	update, err := acp.DecodeSessionUpdate(note.Update)
	if err != nil {
		c.log.Warn("undecodable session update", zap.Error(err))
		return
	}
	cv.HandleSessionUpdate(update)
}

// handlePermission surfaces an approval request and blocks the RPC reply
// on its resolution. The respond callback completes the JSON-RPC call,
// and the lifecycle manager guarantees it runs exactly once.
func (c *Client) handlePermission(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (interface{}, error) {
	cv := c.Conversation()
	if cv == nil || req.Params == nil {
		return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: "no active session"}
	}
	var params permissionRequestParams
	if err := json.Unmarshal(*req.Params, &params); err != nil {
		return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: err.Error()}
	}

	done := make(chan acp.Outcome, 1)
	respond := func(outcome acp.Outcome) {
		done <- outcome
	}

	autoApprove := ""
	if c.cfg.Matches(params.ToolCall.Title) {
		autoApprove = firstApproving(params.Options)
	}

	c.perms.Show(cv, c.requestID(req), params.ToolCall.ToolCallID, params.ToolCall.Title, params.Options, respond, autoApprove)

	select {
	case outcome := <-done:
		return permissionRequestResult{Outcome: outcome}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// requestID extracts the numeric RPC id; string ids get a synthetic
// numeric id since the pending map is integer-keyed.
func (c *Client) requestID(req *jsonrpc2.Request) int64 {
	if req.ID.IsString {
		return c.nextSynthetic.Add(1)
	}
	return int64(req.ID.Num)
}

func firstApproving(options []acp.PermissionOption) string {
	for _, o := range options {
		if o.Kind == acp.AllowOnce || o.Kind == acp.AllowAlways {
			return o.OptionID
		}
	}
	return ""
}
