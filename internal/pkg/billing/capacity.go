package billing

import (
	"context"
	"fmt"

	"golang.org/x/sync/singleflight"

	"github.com/thirdpath/thirdpath/app/models"
	"github.com/thirdpath/thirdpath/internal/pkg/gateway"
)

const (
	// DefaultCap is the seat limit per track.
	DefaultCap = 10

	searchPageSize = 100
)

// CapacityOracle counts the subscriptions holding a seat on a track.
type CapacityOracle struct {
	gw       gateway.Gateway
	cap      int
	pageSize int64
	flight   singleflight.Group
}

func NewCapacityOracle(gw gateway.Gateway, limit int) *CapacityOracle {
	if limit <= 0 {
		limit = DefaultCap
	}
	return &CapacityOracle{gw: gw, cap: limit, pageSize: searchPageSize}
}

// Cap is the seat limit per track.
func (o *CapacityOracle) Cap() int {
	return o.cap
}

// CountActive returns the number of active or trialing subscriptions on a
// track, clamped to the cap. Paging stops as soon as the cap is reached, so
// the result is exact only below the cap. Concurrent calls for the same
// track share one search.
func (o *CapacityOracle) CountActive(ctx context.Context, track models.TrackID) (int, error) {
	v, err, _ := o.flight.Do(string(track), func() (any, error) {
		return o.count(context.WithoutCancel(ctx), track)
	})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

func (o *CapacityOracle) count(ctx context.Context, track models.TrackID) (int, error) {
	query := gateway.ActiveTrackQuery(string(track))
	used := 0
	page := ""
	for {
		res, err := o.gw.SearchSubscriptions(ctx, gateway.SubscriptionSearch{
			Query: query,
			Limit: o.pageSize,
			Page:  page,
		})
		if err != nil {
			return 0, fmt.Errorf("count active subscriptions for %s: %w", track, err)
		}

		used += len(res.Subscriptions)
		if used >= o.cap {
			return o.cap, nil
		}
		if res.NextPage == "" {
			return used, nil
		}
		page = res.NextPage
	}
}
