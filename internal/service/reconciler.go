package service

import (
	"context"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/LeventeLantos/push-dispatch/internal/retry"
)

// TokenRegistry is the per-user device token set.
type TokenRegistry interface {
	ListTokens(ctx context.Context, userID string) ([]string, error)
	RegisterToken(ctx context.Context, userID, token string) error
	// DeleteToken must succeed when the token is already absent.
	DeleteToken(ctx context.Context, userID, token string) error
}

// Reconciler removes permanently invalid tokens from the registry. It is
// best effort: failures are logged and never reach the caller.
type Reconciler struct {
	registry TokenRegistry
	strategy retry.Strategy
}

func NewReconciler(registry TokenRegistry, strategy retry.Strategy) *Reconciler {
	return &Reconciler{registry: registry, strategy: strategy}
}

// Reconcile deletes tokens concurrently and returns how many deletes
// succeeded.
func (r *Reconciler) Reconcile(ctx context.Context, userID string, tokens []string) int {
	if len(tokens) == 0 {
		return 0
	}

	var removed atomic.Int64
	var g errgroup.Group
	for _, tok := range tokens {
		g.Go(func() error {
			err := retry.Do(ctx, r.strategy, func(ctx context.Context) error {
				return r.registry.DeleteToken(ctx, userID, tok)
			})
			if err != nil {
				slog.Warn("invalid token not removed", "user_id", userID, "token", tok, "err", err)
				return nil
			}
			removed.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	slog.Info("registry reconciled", "user_id", userID, "invalid", len(tokens), "removed", removed.Load())
	return int(removed.Load())
}
