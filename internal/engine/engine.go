// Package engine is the single entry point for analyzing one market. It sequences
// the tool-provider connection, evidence building, and the reasoning session, and
// owns initialization/cleanup ordering for the resources it acquires.
//
// The engine is safe-by-default: a degraded provider keeps analysis running
// reasoning-only, and any structural failure of the reasoning step degrades to a
// conservative HOLD recommendation with zero confidence instead of propagating.
// One engine processes at most one analysis at a time; concurrent analyses use
// independent engines, each with its own provider connection (see AnalyzeBatch).
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rewired-gh/polyagent/internal/evidence"
	"github.com/rewired-gh/polyagent/internal/logger"
	"github.com/rewired-gh/polyagent/internal/models"
	"github.com/rewired-gh/polyagent/internal/reasoning"
	"github.com/rewired-gh/polyagent/internal/retry"
	"github.com/rewired-gh/polyagent/internal/toolprovider"
)

// sessionRetryDelayBase is the backoff base for full-session retries.
const sessionRetryDelayBase = time.Second

// Provider is the slice of the tool-provider connection the engine drives.
// Satisfied by *toolprovider.Provider.
type Provider interface {
	Connect(ctx context.Context) toolprovider.State
	ListTools(ctx context.Context) ([]models.ToolDescriptor, error)
	State() toolprovider.State
	OnStateChange(fn func(old, new toolprovider.State))
	Disconnect()
}

// Analyzer runs one reasoning session. Satisfied by *reasoning.Orchestrator.
type Analyzer interface {
	Analyze(ctx context.Context, ev evidence.Context, tools []models.ToolDescriptor) (models.Recommendation, error)
}

// Engine coordinates one provider and one analyzer for sequential market analyses.
type Engine struct {
	provider Provider
	analyzer Analyzer

	maxRetries     int
	sessionTimeout time.Duration
	retrySleep     func(time.Duration) // test hook; nil means real sleep

	mu          sync.Mutex
	initialized bool
}

// New creates an engine. MaxRetries and Timeout from the reasoning config bound the
// retry wrapper around each full session.
func New(provider Provider, analyzer Analyzer, cfg reasoning.Config) *Engine {
	return &Engine{
		provider:       provider,
		analyzer:       analyzer,
		maxRetries:     cfg.MaxRetries,
		sessionTimeout: cfg.Timeout,
	}
}

// Initialize opens the tool-provider connection. Idempotent; a connect failure leaves
// the provider Degraded and is not an error; analysis proceeds reasoning-only.
func (e *Engine) Initialize(ctx context.Context) toolprovider.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.initializeLocked(ctx)
}

func (e *Engine) initializeLocked(ctx context.Context) toolprovider.State {
	if e.initialized {
		return e.provider.State()
	}
	e.provider.OnStateChange(func(old, new toolprovider.State) {
		logger.Info("tool provider state: %s -> %s", old, new)
	})
	state := e.provider.Connect(ctx)
	e.initialized = true
	return state
}

// Analyze runs the full pipeline for one market and returns its recommendation.
// It does not apply the decision gate; that is the caller's responsibility so that
// analysis and execution authorization stay independently testable.
//
// Errors surface only for invalid input (ErrMalformedSnapshot) and exhausted transient
// retries; structural reasoning failures and caller-deadline expiry resolve to a HOLD
// recommendation with zero confidence.
func (e *Engine) Analyze(ctx context.Context, snap models.MarketSnapshot) (models.Recommendation, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.initializeLocked(ctx)

	ev, err := evidence.Build(snap)
	if err != nil {
		return models.Recommendation{}, err
	}

	tools, err := e.provider.ListTools(ctx)
	if err != nil {
		logger.Warn("tool discovery failed, continuing reasoning-only: %v", err)
		tools = nil
	}

	rec, err := retry.Do(ctx, retry.Config{
		MaxRetries:        e.maxRetries,
		DelayBase:         sessionRetryDelayBase,
		PerAttemptTimeout: e.sessionTimeout,
		Sleep:             e.retrySleep,
	}, func(ctx context.Context) (models.Recommendation, error) {
		return e.analyzer.Analyze(ctx, ev, tools)
	})
	if err != nil {
		if errors.Is(err, reasoning.ErrUnparsableOutput) || ctx.Err() != nil {
			logger.Warn("analysis for market %s degraded to HOLD: %v", snap.ID, err)
			return holdFallback(err), nil
		}
		return models.Recommendation{}, fmt.Errorf("analysis failed for market %s: %w", snap.ID, err)
	}

	if err := rec.Validate(); err != nil {
		logger.Warn("analysis for market %s produced invalid recommendation, degrading to HOLD: %v", snap.ID, err)
		return holdFallback(err), nil
	}
	return rec, nil
}

// Cleanup releases the tool-provider connection. Safe to call multiple times and
// after partial initialization.
func (e *Engine) Cleanup() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.provider.Disconnect()
}

// holdFallback is the conservative recommendation used when a session cannot produce
// a valid output: do nothing, with the failure recorded as the reasoning.
func holdFallback(cause error) models.Recommendation {
	return models.Recommendation{
		Action:     models.ActionHold,
		Confidence: 0.0,
		Reasoning:  fmt.Sprintf("analysis failed: %v", cause),
		TraceID:    uuid.NewString(),
		Timestamp:  time.Now(),
	}
}
