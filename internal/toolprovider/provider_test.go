package toolprovider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

// rpcHandler builds a test server handler that dispatches on JSON-RPC method.
func rpcHandler(t *testing.T, methods map[string]func(params json.RawMessage) (any, *rpcError)) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     string          `json:"id"`
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		handler, ok := methods[req.Method]
		if !ok {
			t.Errorf("unexpected method %q", req.Method)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		result, rpcErr := handler(req.Params)
		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		if rpcErr != nil {
			resp["error"] = rpcErr
		} else {
			resp["result"] = result
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}

func initOK(json.RawMessage) (any, *rpcError) {
	return map[string]any{"sessionId": "session-1"}, nil
}

func testConfig(endpoint string) Config {
	return Config{
		Name:           "test provider",
		Endpoint:       endpoint,
		ConnectTimeout: 2 * time.Second,
		EnableCache:    true,
		CacheTTL:       time.Hour,
		MaxRetries:     0,
		RetryDelayBase: time.Millisecond,
	}
}

func TestConnectSuccess(t *testing.T) {
	srv := httptest.NewServer(rpcHandler(t, map[string]func(json.RawMessage) (any, *rpcError){
		"initialize": initOK,
	}))
	defer srv.Close()

	p := New(testConfig(srv.URL))
	if got := p.Connect(context.Background()); got != StateConnected {
		t.Errorf("Connect = %v, want connected", got)
	}
	if got := p.State(); got != StateConnected {
		t.Errorf("State = %v, want connected", got)
	}
}

func TestConnectFailureDegrades(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.MaxRetries = 2
	p := New(cfg)

	if got := p.Connect(context.Background()); got != StateDegraded {
		t.Errorf("Connect = %v, want degraded", got)
	}
}

func TestConnectUnreachableEndpointDegrades(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.ConnectTimeout = 200 * time.Millisecond
	p := New(cfg)

	if got := p.Connect(context.Background()); got != StateDegraded {
		t.Errorf("Connect = %v, want degraded", got)
	}
}

func TestStateChangeEvents(t *testing.T) {
	srv := httptest.NewServer(rpcHandler(t, map[string]func(json.RawMessage) (any, *rpcError){
		"initialize": initOK,
	}))
	defer srv.Close()

	p := New(testConfig(srv.URL))
	var transitions []string
	p.OnStateChange(func(old, new State) {
		transitions = append(transitions, old.String()+"->"+new.String())
	})

	p.Connect(context.Background())
	p.Disconnect()

	want := []string{"uninitialized->connecting", "connecting->connected", "connected->closed"}
	if len(transitions) != len(want) {
		t.Fatalf("got transitions %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d: got %s, want %s", i, transitions[i], want[i])
		}
	}
}

func TestListToolsNotConnectedReturnsEmpty(t *testing.T) {
	p := New(testConfig("http://127.0.0.1:1"))
	tools, err := p.ListTools(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tools) != 0 {
		t.Errorf("got %d tools, want 0", len(tools))
	}
}

func TestListToolsCaching(t *testing.T) {
	var listCalls atomic.Int64
	srv := httptest.NewServer(rpcHandler(t, map[string]func(json.RawMessage) (any, *rpcError){
		"initialize": initOK,
		"tools/list": func(json.RawMessage) (any, *rpcError) {
			listCalls.Add(1)
			return map[string]any{"tools": []map[string]any{
				{"name": "get_current_price", "description": "Current price of an asset"},
			}}, nil
		},
	}))
	defer srv.Close()

	p := New(testConfig(srv.URL))
	p.Connect(context.Background())

	for i := 0; i < 3; i++ {
		tools, err := p.ListTools(context.Background())
		if err != nil {
			t.Fatalf("ListTools failed: %v", err)
		}
		if len(tools) != 1 || tools[0].Name != "get_current_price" {
			t.Fatalf("unexpected tools: %+v", tools)
		}
	}
	if got := listCalls.Load(); got != 1 {
		t.Errorf("tools/list hit the network %d times, want 1 (cached)", got)
	}
}

func TestListToolsCacheExpiry(t *testing.T) {
	var listCalls atomic.Int64
	srv := httptest.NewServer(rpcHandler(t, map[string]func(json.RawMessage) (any, *rpcError){
		"initialize": initOK,
		"tools/list": func(json.RawMessage) (any, *rpcError) {
			listCalls.Add(1)
			return map[string]any{"tools": []map[string]any{{"name": "t"}}}, nil
		},
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.CacheTTL = 10 * time.Millisecond
	p := New(cfg)
	p.Connect(context.Background())

	if _, err := p.ListTools(context.Background()); err != nil {
		t.Fatal(err)
	}
	time.Sleep(20 * time.Millisecond)
	if _, err := p.ListTools(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := listCalls.Load(); got != 2 {
		t.Errorf("tools/list hit the network %d times, want 2 after TTL expiry", got)
	}
}

func TestCallToolValidatesArguments(t *testing.T) {
	schema := map[string]any{
		"type":       "object",
		"required":   []string{"coin_id"},
		"properties": map[string]any{"coin_id": map[string]any{"type": "string"}},
	}
	var toolCalls atomic.Int64
	srv := httptest.NewServer(rpcHandler(t, map[string]func(json.RawMessage) (any, *rpcError){
		"initialize": initOK,
		"tools/list": func(json.RawMessage) (any, *rpcError) {
			return map[string]any{"tools": []map[string]any{
				{"name": "get_current_price", "inputSchema": schema},
			}}, nil
		},
		"tools/call": func(json.RawMessage) (any, *rpcError) {
			toolCalls.Add(1)
			return map[string]any{"content": []map[string]any{
				{"type": "text", "text": `{"price": 67000}`},
			}}, nil
		},
	}))
	defer srv.Close()

	p := New(testConfig(srv.URL))
	p.Connect(context.Background())
	if _, err := p.ListTools(context.Background()); err != nil {
		t.Fatal(err)
	}

	// Valid arguments reach the endpoint.
	out, err := p.CallTool(context.Background(), "get_current_price", map[string]any{"coin_id": "bitcoin"})
	if err != nil {
		t.Fatalf("CallTool failed: %v", err)
	}
	if out != `{"price": 67000}` {
		t.Errorf("unexpected tool output: %q", out)
	}

	// Schema-violating arguments are rejected locally.
	_, err = p.CallTool(context.Background(), "get_current_price", map[string]any{"coin_id": 42})
	if err == nil {
		t.Error("expected schema validation error")
	}
	if got := toolCalls.Load(); got != 1 {
		t.Errorf("invalid call reached the network (%d calls, want 1)", got)
	}
}

func TestCallToolNotConnected(t *testing.T) {
	p := New(testConfig("http://127.0.0.1:1"))
	if _, err := p.CallTool(context.Background(), "anything", nil); err == nil {
		t.Error("expected error when not connected")
	}
}

func TestCallToolReportedError(t *testing.T) {
	srv := httptest.NewServer(rpcHandler(t, map[string]func(json.RawMessage) (any, *rpcError){
		"initialize": initOK,
		"tools/call": func(json.RawMessage) (any, *rpcError) {
			return map[string]any{
				"content": []map[string]any{{"type": "text", "text": "coin not found"}},
				"isError": true,
			}, nil
		},
	}))
	defer srv.Close()

	p := New(testConfig(srv.URL))
	p.Connect(context.Background())
	if _, err := p.CallTool(context.Background(), "get_current_price", map[string]any{"coin_id": "x"}); err == nil {
		t.Error("expected error for isError result")
	}
}

func TestDisconnectIdempotent(t *testing.T) {
	p := New(testConfig("http://127.0.0.1:1"))
	p.Disconnect()
	p.Disconnect()
	if got := p.State(); got != StateClosed {
		t.Errorf("State = %v, want closed", got)
	}

	// Disconnect from degraded is a no-op too.
	p2 := New(Config{Endpoint: "http://127.0.0.1:1", ConnectTimeout: 100 * time.Millisecond, RetryDelayBase: time.Millisecond})
	p2.Connect(context.Background())
	p2.Disconnect()
	p2.Disconnect()
	if got := p2.State(); got != StateClosed {
		t.Errorf("State = %v, want closed", got)
	}
}
