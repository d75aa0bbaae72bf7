package shipping

import (
	"context"

	"github.com/noah-isme/cekresi/internal/courier"
)

// TrackReq encapsulates tracking lookup parameters for a shipment provider.
type TrackReq struct {
	Courier        courier.Code
	TrackingNumber string
}

// TrackEvent represents a single manifest entry returned by a provider.
type TrackEvent struct {
	Status      string `json:"status"`
	Description string `json:"description"`
	Location    string `json:"location,omitempty"`
	OccurredAt  string `json:"occurredAt,omitempty"`
}

// TrackResult is the outcome of a lookup that reached the provider. Found is
// false when the carrier has no record of the tracking number; that is a
// successful call, not an error.
type TrackResult struct {
	Found       bool         `json:"found"`
	Status      string       `json:"status,omitempty"`
	Date        string       `json:"date,omitempty"`
	Description string       `json:"description,omitempty"`
	Events      []TrackEvent `json:"events,omitempty"`
}

// Provider models a tracking provider. Transport level failures are returned
// as errors.
type Provider interface {
	Track(ctx context.Context, req TrackReq) (TrackResult, error)
}

// ProviderFunc adapts a plain function to Provider.
type ProviderFunc func(ctx context.Context, req TrackReq) (TrackResult, error)

// Track calls f.
func (f ProviderFunc) Track(ctx context.Context, req TrackReq) (TrackResult, error) {
	return f(ctx, req)
}
