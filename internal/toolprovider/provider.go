// Package toolprovider manages the lifecycle of a connection to an external tool
// provider speaking a JSON-RPC protocol over HTTP (initialize, tools/list, tools/call).
//
// The provider is designed to degrade gracefully: a connect failure or timeout leaves it
// in StateDegraded rather than failing the caller, and analysis continues without tool
// evidence. Tool discovery results can be cached with a TTL to avoid a network round
// trip on every session. State transitions are observable through OnStateChange.
package toolprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/rewired-gh/polyagent/internal/models"
	"github.com/rewired-gh/polyagent/internal/retry"
)

// State is the lifecycle state of the provider connection.
type State int

const (
	StateUninitialized State = iota
	StateConnecting
	StateConnected
	// StateDegraded means the provider is configured but unreachable; analysis
	// continues reasoning-only. This is a valid operating mode, not an error.
	StateDegraded
	StateClosed
)

// String returns the human-readable state name.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDegraded:
		return "degraded"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ErrNotConnected is returned by CallTool when the provider is not connected.
var ErrNotConnected = errors.New("tool provider not connected")

// Config holds connection parameters for one provider. Immutable once constructed.
type Config struct {
	Name           string
	Endpoint       string
	APIKey         string
	ConnectTimeout time.Duration
	EnableCache    bool
	CacheTTL       time.Duration
	MaxRetries     int
	RetryDelayBase time.Duration
}

// Provider owns one connection to a tool provider endpoint. A Provider instance is
// exclusively owned by one engine for its lifetime.
type Provider struct {
	cfg    Config
	client *resty.Client

	mu        sync.Mutex
	state     State
	sessionID string
	tools     []models.ToolDescriptor
	cachedAt  time.Time
	schemas   map[string]*jsonschema.Schema
	onState   []func(old, new State)
}

// New creates a provider for the given configuration. No network traffic happens
// until Connect.
func New(cfg Config) *Provider {
	client := resty.New().SetBaseURL(cfg.Endpoint)
	if cfg.APIKey != "" {
		client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	}
	client.SetHeader("Content-Type", "application/json")

	return &Provider{
		cfg:     cfg,
		client:  client,
		state:   StateUninitialized,
		schemas: make(map[string]*jsonschema.Schema),
	}
}

// OnStateChange registers a hook invoked on every state transition. Hooks must not
// call back into the provider.
func (p *Provider) OnStateChange(fn func(old, new State)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onState = append(p.onState, fn)
}

// State returns the current connection state.
func (p *Provider) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Provider) setState(new State) {
	p.mu.Lock()
	old := p.state
	if old == new {
		p.mu.Unlock()
		return
	}
	p.state = new
	hooks := make([]func(old, new State), len(p.onState))
	copy(hooks, p.onState)
	p.mu.Unlock()

	for _, fn := range hooks {
		fn(old, new)
	}
}

// Connect establishes the session with the provider endpoint. Connection attempts are
// bounded by ConnectTimeout and retried per MaxRetries; on exhaustion the provider
// lands in StateDegraded and the engine proceeds without tools.
func (p *Provider) Connect(ctx context.Context) State {
	if p.State() == StateConnected {
		return StateConnected
	}
	p.setState(StateConnecting)

	type initResult struct {
		SessionID  string `json:"sessionId"`
		ServerInfo struct {
			Name    string `json:"name"`
			Version string `json:"version"`
		} `json:"serverInfo"`
	}

	cfg := retry.Config{
		MaxRetries:        p.cfg.MaxRetries,
		DelayBase:         p.cfg.RetryDelayBase,
		PerAttemptTimeout: p.cfg.ConnectTimeout,
	}
	res, err := retry.Do(ctx, cfg, func(ctx context.Context) (initResult, error) {
		var out initResult
		raw, err := p.call(ctx, "initialize", map[string]any{
			"clientInfo": map[string]string{"name": p.cfg.Name},
		})
		if err != nil {
			return out, err
		}
		if err := json.Unmarshal(raw, &out); err != nil {
			return out, retry.Permanent(fmt.Errorf("invalid initialize result: %w", err))
		}
		return out, nil
	})
	if err != nil {
		p.setState(StateDegraded)
		return StateDegraded
	}

	p.mu.Lock()
	p.sessionID = res.SessionID
	if p.sessionID == "" {
		p.sessionID = uuid.NewString()
	}
	p.mu.Unlock()
	p.setState(StateConnected)
	return StateConnected
}

// ListTools returns the tools currently advertised by the provider. The result is
// empty unless the provider is Connected. When caching is enabled, a successful
// result is reused until CacheTTL expires.
func (p *Provider) ListTools(ctx context.Context) ([]models.ToolDescriptor, error) {
	p.mu.Lock()
	if p.state != StateConnected {
		p.mu.Unlock()
		return nil, nil
	}
	if p.cfg.EnableCache && p.tools != nil && time.Since(p.cachedAt) < p.cfg.CacheTTL {
		cached := make([]models.ToolDescriptor, len(p.tools))
		copy(cached, p.tools)
		p.mu.Unlock()
		return cached, nil
	}
	p.mu.Unlock()

	raw, err := p.call(ctx, "tools/list", map[string]any{})
	if err != nil {
		// An unreachable provider mid-session degrades the connection rather than
		// failing the analysis; the session continues reasoning-only.
		p.setState(StateDegraded)
		return nil, fmt.Errorf("tool discovery failed: %w", err)
	}

	var out struct {
		Tools []models.ToolDescriptor `json:"tools"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("invalid tools/list result: %w", err)
	}

	p.mu.Lock()
	p.tools = out.Tools
	p.cachedAt = time.Now()
	p.mu.Unlock()

	result := make([]models.ToolDescriptor, len(out.Tools))
	copy(result, out.Tools)
	return result, nil
}

// CallTool invokes one named tool with the given arguments. Arguments are validated
// against the tool's input schema before any network traffic; schema violations are
// permanent errors, transport failures transient.
func (p *Provider) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	p.mu.Lock()
	if p.state != StateConnected {
		p.mu.Unlock()
		return "", retry.Permanent(ErrNotConnected)
	}
	var descriptor *models.ToolDescriptor
	for i := range p.tools {
		if p.tools[i].Name == name {
			descriptor = &p.tools[i]
			break
		}
	}
	p.mu.Unlock()

	if descriptor != nil && len(descriptor.InputSchema) > 0 {
		if err := p.validateArgs(name, descriptor.InputSchema, args); err != nil {
			return "", retry.Permanent(fmt.Errorf("tool %s: %w", name, err))
		}
	}

	raw, err := p.call(ctx, "tools/call", map[string]any{
		"name":      name,
		"arguments": args,
	})
	if err != nil {
		return "", err
	}

	var out struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		IsError bool `json:"isError"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", retry.Permanent(fmt.Errorf("invalid tools/call result: %w", err))
	}

	var parts []string
	for _, c := range out.Content {
		if c.Type == "text" {
			parts = append(parts, c.Text)
		}
	}
	text := strings.Join(parts, "\n")
	if out.IsError {
		return "", retry.Permanent(fmt.Errorf("tool %s reported error: %s", name, text))
	}
	return text, nil
}

// Disconnect closes the connection. Idempotent and safe from any state.
func (p *Provider) Disconnect() {
	p.mu.Lock()
	if p.state == StateClosed {
		p.mu.Unlock()
		return
	}
	p.tools = nil
	p.sessionID = ""
	p.mu.Unlock()
	p.setState(StateClosed)
}

// validateArgs compiles (and memoizes) the tool's input schema and validates args.
func (p *Provider) validateArgs(name string, schema json.RawMessage, args map[string]any) error {
	p.mu.Lock()
	compiled, ok := p.schemas[name]
	p.mu.Unlock()

	if !ok {
		compiler := jsonschema.NewCompiler()
		resource := fmt.Sprintf("tool://%s/input-schema.json", name)
		if err := compiler.AddResource(resource, bytes.NewReader(schema)); err != nil {
			return fmt.Errorf("bad input schema: %w", err)
		}
		var err error
		compiled, err = compiler.Compile(resource)
		if err != nil {
			return fmt.Errorf("bad input schema: %w", err)
		}
		p.mu.Lock()
		p.schemas[name] = compiled
		p.mu.Unlock()
	}

	// Round-trip through JSON so argument values carry JSON types for validation.
	encoded, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("unserializable arguments: %w", err)
	}
	var decoded any
	if err := json.Unmarshal(encoded, &decoded); err != nil {
		return fmt.Errorf("unserializable arguments: %w", err)
	}
	if err := compiled.Validate(decoded); err != nil {
		return fmt.Errorf("arguments rejected by input schema: %w", err)
	}
	return nil
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

// call performs one JSON-RPC round trip. Transport failures and 429/5xx responses are
// transient; protocol-level errors are permanent.
func (p *Provider) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      uuid.NewString(),
		Method:  method,
		Params:  params,
	}

	var out rpcResponse
	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		Post("")
	if err != nil {
		return nil, retry.Transient(fmt.Errorf("%s request failed: %w", method, err))
	}
	if code := resp.StatusCode(); code == 429 || code >= 500 {
		return nil, retry.Transient(fmt.Errorf("%s returned status %d", method, code))
	}
	if resp.IsError() {
		return nil, retry.Permanent(fmt.Errorf("%s returned status %d", method, resp.StatusCode()))
	}
	if out.Error != nil {
		return nil, retry.Permanent(fmt.Errorf("%s failed: %s (code %d)", method, out.Error.Message, out.Error.Code))
	}
	return out.Result, nil
}
