package shipping

import (
	"context"
	"errors"
	"strings"
)

// ErrMockTransport is returned by Mock for tracking numbers ending in "500".
var ErrMockTransport = errors.New("shipping: mock upstream unavailable")

// Mock implements Provider with deterministic results for testing and demos.
// Numbers ending in "404" are reported as not found and numbers ending in
// "500" fail at the transport level.
type Mock struct{}

// Track returns canned events describing a delivered parcel.
func (Mock) Track(ctx context.Context, req TrackReq) (TrackResult, error) {
	if err := ctx.Err(); err != nil {
		return TrackResult{}, err
	}
	number := strings.TrimSpace(req.TrackingNumber)
	switch {
	case strings.HasSuffix(number, "500"):
		return TrackResult{}, ErrMockTransport
	case strings.HasSuffix(number, "404"):
		return TrackResult{Found: false, Description: "tracking number not found"}, nil
	}
	events := []TrackEvent{
		{Status: "PICKED UP", Description: "Paket diterima kurir", Location: "Kediri", OccurredAt: "2024-01-02 09:15"},
		{Status: "ON PROCESS", Description: "Paket dalam perjalanan", Location: "Surabaya", OccurredAt: "2024-01-02 21:40"},
		{Status: "DELIVERED", Description: "Paket diterima oleh yang bersangkutan", Location: "Jakarta", OccurredAt: "2024-01-04 13:05"},
	}
	last := events[len(events)-1]
	return TrackResult{
		Found:       true,
		Status:      last.Status,
		Date:        last.OccurredAt,
		Description: last.Description,
		Events:      events,
	}, nil
}
