package shipping

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrUpstreamBusy is returned when the shared upstream quota could not be
// acquired before the lookup context ended.
var ErrUpstreamBusy = errors.New("shipping: upstream quota exhausted")

// QuotaWaiter blocks until an event for key fits the window. ratelimit.Limiter
// satisfies it.
type QuotaWaiter interface {
	Wait(ctx context.Context, key string, window time.Duration, max int) error
}

// Limited decorates a Provider with a quota shared by every process using the
// same limiter backend, so concurrent bulk runs cannot burst the upstream.
type Limited struct {
	Next   Provider
	Quota  QuotaWaiter
	Key    string
	Window time.Duration
	Max    int
}

// Track waits for quota and then delegates.
func (l Limited) Track(ctx context.Context, req TrackReq) (TrackResult, error) {
	if l.Next == nil {
		return TrackResult{}, errors.New("shipping: limited provider has no upstream")
	}
	if l.Quota != nil && l.Max > 0 && l.Window > 0 {
		key := l.Key
		if key == "" {
			key = "upstream"
		}
		if err := l.Quota.Wait(ctx, key, l.Window, l.Max); err != nil {
			if ctx.Err() != nil {
				return TrackResult{}, fmt.Errorf("%w: %v", ErrUpstreamBusy, err)
			}
			return TrackResult{}, err
		}
	}
	return l.Next.Track(ctx, req)
}
