// Package reasoning drives one bounded reasoning session over an evidence context.
//
// A session talks to an OpenAI-compatible chat completions endpoint and may invoke
// tools advertised by the tool provider through function calling. Each tool call is
// individually retried with a small budget and recorded; a failing tool never aborts
// the session: its failure is fed back to the model as "tool unavailable" so reasoning
// can proceed without it. The session finalizes by parsing the model's last message
// into a structured recommendation tagged with a trace ID.
package reasoning

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/rewired-gh/polyagent/internal/evidence"
	"github.com/rewired-gh/polyagent/internal/logger"
	"github.com/rewired-gh/polyagent/internal/models"
	"github.com/rewired-gh/polyagent/internal/retry"
)

// maxToolRounds bounds how many assistant/tool exchanges one session may make before
// the session is considered stuck and fails as unparsable.
const maxToolRounds = 8

// toolCallRetries is the per-tool-call retry budget, deliberately smaller than the
// session budget: one flaky tool should cost little.
const toolCallRetries = 1

const systemPrompt = `You are an expert prediction market trader analyzing Polymarket opportunities.

You may have access to tools that can fetch market data, prices, and analysis.
Use them to inform your decision. If a tool is reported unavailable, continue without it.
Do not promise to call a tool later; either call it now or answer.

When analyzing a market:
1. Gather relevant external data using available tools
2. Compare current market pricing against fair value
3. Assess the risk/reward profile
4. Provide a clear recommendation with a confidence level

Respond with a JSON object of the form:
{"action": "BUY" | "SELL" | "HOLD", "confidence": 0.0-1.0, "reasoning": "..."}`

// Config holds reasoning endpoint parameters. Immutable once constructed.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	MaxRetries  int
}

// ToolInvoker executes one named tool call. Satisfied by *toolprovider.Provider.
type ToolInvoker interface {
	CallTool(ctx context.Context, name string, args map[string]any) (string, error)
}

// Orchestrator runs reasoning sessions. One orchestrator serves one engine; sessions
// are serialized by the engine, so no internal locking is needed.
type Orchestrator struct {
	cfg     Config
	client  *resty.Client
	invoker ToolInvoker
	now     func() time.Time
}

// New creates an orchestrator bound to a reasoning endpoint and a tool invoker.
// invoker may be nil when no tool provider is configured.
func New(cfg Config, invoker ToolInvoker) *Orchestrator {
	client := resty.New().SetBaseURL(cfg.BaseURL)
	if cfg.APIKey != "" {
		client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	}
	client.SetHeader("Content-Type", "application/json")

	return &Orchestrator{
		cfg:     cfg,
		client:  client,
		invoker: invoker,
		now:     time.Now,
	}
}

// Analyze runs one reasoning session over the evidence. With a Connected provider and a
// non-empty tool set the model may call tools; with an empty tool set the session runs
// reasoning-only and the returned recommendation carries no invocation records.
//
// Returns ErrUnparsableOutput (wrapped) when the model's final output has no valid
// action/confidence pair; transport failures are transient and bubble up for the
// engine's retry wrapper.
func (o *Orchestrator) Analyze(ctx context.Context, ev evidence.Context, tools []models.ToolDescriptor) (models.Recommendation, error) {
	traceID := uuid.NewString()
	logger.Debug("reasoning session %s started for market %s (%d tools)", traceID, ev.MarketID, len(tools))

	messages := []chatMessage{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: "Analyze this prediction market and provide a trading recommendation:\n\n" + ev.Payload},
	}

	var records []models.ToolInvocationRecord
	for round := 0; round < maxToolRounds; round++ {
		msg, err := o.complete(ctx, messages, tools)
		if err != nil {
			return models.Recommendation{}, err
		}

		if len(msg.ToolCalls) == 0 {
			rec, err := parseRecommendation(msg.Content)
			if err != nil {
				return models.Recommendation{}, retry.Permanent(err)
			}
			rec.TraceID = traceID
			rec.ToolInvocations = records
			rec.Timestamp = o.now()
			logger.Debug("reasoning session %s completed: %s (%.2f)", traceID, rec.Action, rec.Confidence)
			return rec, nil
		}

		messages = append(messages, *msg)
		for _, call := range msg.ToolCalls {
			// In a reasoning-only session the model was offered no tools; refuse a
			// hallucinated call without invoking or recording anything.
			if len(tools) == 0 {
				logger.Warn("reasoning session %s: model called tool %s but none are available", traceID, call.Function.Name)
				messages = append(messages, chatMessage{
					Role:       "tool",
					Content:    "tool unavailable: no tools configured",
					ToolCallID: call.ID,
				})
				continue
			}
			output, record := o.invokeTool(ctx, call)
			records = append(records, record)
			messages = append(messages, chatMessage{
				Role:       "tool",
				Content:    output,
				ToolCallID: call.ID,
			})
		}
	}

	return models.Recommendation{}, retry.Permanent(
		fmt.Errorf("%w: session exceeded %d tool rounds without finalizing", ErrUnparsableOutput, maxToolRounds))
}

// invokeTool runs a single tool call with its own small retry budget and returns the
// text to feed back to the model plus the invocation record. Failure is reported to
// the model, never propagated.
func (o *Orchestrator) invokeTool(ctx context.Context, call toolCall) (string, models.ToolInvocationRecord) {
	record := models.ToolInvocationRecord{
		ID:    uuid.NewString(),
		Tool:  call.Function.Name,
		Input: call.Function.Arguments,
	}

	started := o.now()
	output, err := retry.Do(ctx, retry.Config{MaxRetries: toolCallRetries, DelayBase: time.Second},
		func(ctx context.Context) (string, error) {
			if o.invoker == nil {
				return "", retry.Permanent(fmt.Errorf("no tool invoker configured"))
			}
			var args map[string]any
			if call.Function.Arguments != "" {
				if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
					return "", retry.Permanent(fmt.Errorf("bad tool arguments: %w", err))
				}
			}
			return o.invoker.CallTool(ctx, call.Function.Name, args)
		})
	record.Latency = o.now().Sub(started)

	if err != nil {
		record.Success = false
		record.Error = err.Error()
		logger.Warn("tool %s failed (continuing without it): %v", call.Function.Name, err)
		return fmt.Sprintf("tool unavailable: %v", err), record
	}
	record.Success = true
	record.Output = output
	return output, record
}

type chatMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []toolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

type toolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type chatTool struct {
	Type     string       `json:"type"`
	Function toolFunction `json:"function"`
}

type toolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Tools       []chatTool    `json:"tools,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
}

// complete performs one chat completions round trip. Transport failures and 429/5xx
// are transient; other non-2xx statuses and empty responses are permanent.
func (o *Orchestrator) complete(ctx context.Context, messages []chatMessage, tools []models.ToolDescriptor) (*chatMessage, error) {
	req := chatRequest{
		Model:       o.cfg.Model,
		Messages:    messages,
		Temperature: o.cfg.Temperature,
		MaxTokens:   o.cfg.MaxTokens,
	}
	for _, t := range tools {
		req.Tools = append(req.Tools, chatTool{
			Type: "function",
			Function: toolFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.InputSchema,
			},
		})
	}

	var out chatResponse
	resp, err := o.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		Post("/chat/completions")
	if err != nil {
		return nil, retry.Transient(fmt.Errorf("reasoning request failed: %w", err))
	}
	if code := resp.StatusCode(); code == 429 || code >= 500 {
		return nil, retry.Transient(fmt.Errorf("reasoning endpoint returned status %d", code))
	}
	if resp.IsError() {
		return nil, retry.Permanent(fmt.Errorf("reasoning endpoint returned status %d", resp.StatusCode()))
	}
	if len(out.Choices) == 0 {
		return nil, retry.Permanent(fmt.Errorf("%w: empty choices", ErrUnparsableOutput))
	}
	return &out.Choices[0].Message, nil
}
