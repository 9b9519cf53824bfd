package cache

import (
	"context"

	"github.com/LeventeLantos/push-dispatch/internal/model"
)

// StatusCache holds finalized notification requests. Only terminal records
// are cached since they never change again.
type StatusCache interface {
	StoreFinal(ctx context.Context, req model.NotificationRequest) error
	GetFinal(ctx context.Context, id string) (*model.NotificationRequest, bool, error)
}
