package engine

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/rewired-gh/polyagent/internal/models"
)

// BatchResult pairs one snapshot with its analysis outcome. A per-market error never
// affects the other markets in the batch.
type BatchResult struct {
	Snapshot       models.MarketSnapshot
	Recommendation models.Recommendation
	Err            error
}

// AnalyzeBatch analyzes snapshots with at most parallelism concurrent sessions.
// Each session gets its own engine from newEngine, and with it its own provider
// connection, so no connection is ever shared across concurrent sessions. Results
// are returned in input order.
func AnalyzeBatch(ctx context.Context, snaps []models.MarketSnapshot, parallelism int, newEngine func() *Engine) []BatchResult {
	if parallelism < 1 {
		parallelism = 1
	}

	results := make([]BatchResult, len(snaps))
	g := new(errgroup.Group)
	g.SetLimit(parallelism)

	for i, snap := range snaps {
		g.Go(func() error {
			eng := newEngine()
			defer eng.Cleanup()

			rec, err := eng.Analyze(ctx, snap)
			results[i] = BatchResult{Snapshot: snap, Recommendation: rec, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}
