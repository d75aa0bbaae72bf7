package shipping

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/cekresi/internal/courier"
	"github.com/noah-isme/cekresi/internal/resilience"
)

// DefaultRajaOngkirBaseURL points at the RajaOngkir Pro API.
const DefaultRajaOngkirBaseURL = "https://pro.rajaongkir.com/api"

// ErrUpstreamResponse is returned when RajaOngkir answers with an unexpected payload.
var ErrUpstreamResponse = errors.New("shipping: unexpected upstream response")

// Doer is satisfied by resilience.HTTPClient.
type Doer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

var _ Doer = resilience.HTTPClient{}

// RajaOngkir implements Provider against the RajaOngkir waybill endpoint.
type RajaOngkir struct {
	APIKey  string
	BaseURL string
	HTTP    Doer
}

type waybillEnvelope struct {
	RajaOngkir struct {
		Status struct {
			Code        int    `json:"code"`
			Description string `json:"description"`
		} `json:"status"`
		Result *waybillResult `json:"result"`
	} `json:"rajaongkir"`
}

type waybillResult struct {
	Delivered bool `json:"delivered"`
	Summary   struct {
		Status      string `json:"status"`
		WaybillDate string `json:"waybill_date"`
		Origin      string `json:"origin"`
		Destination string `json:"destination"`
	} `json:"summary"`
	DeliveryStatus struct {
		Status      string `json:"status"`
		PODReceiver string `json:"pod_receiver"`
		PODDate     string `json:"pod_date"`
		PODTime     string `json:"pod_time"`
	} `json:"delivery_status"`
	Manifest []struct {
		Description string `json:"manifest_description"`
		Date        string `json:"manifest_date"`
		Time        string `json:"manifest_time"`
		City        string `json:"city_name"`
	} `json:"manifest"`
}

// Track queries the waybill endpoint for a single tracking number.
func (r RajaOngkir) Track(ctx context.Context, req TrackReq) (TrackResult, error) {
	if r.HTTP == nil {
		return TrackResult{}, errors.New("shipping: rajaongkir http client not configured")
	}
	if strings.TrimSpace(r.APIKey) == "" {
		return TrackResult{}, errors.New("shipping: rajaongkir api key not configured")
	}
	ctx, span := otel.Tracer("shipping.RajaOngkir").Start(ctx, "RajaOngkir.Track")
	defer span.End()
	span.SetAttributes(attribute.String("shipping.courier", req.Courier.String()))

	form := url.Values{}
	form.Set("waybill", strings.TrimSpace(req.TrackingNumber))
	form.Set("courier", rajaOngkirCourier(req.Courier))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL()+"/waybill", strings.NewReader(form.Encode()))
	if err != nil {
		return TrackResult{}, err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("key", r.APIKey)

	resp, err := r.HTTP.Do(ctx, httpReq)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "waybill request failed")
		return TrackResult{}, fmt.Errorf("shipping: waybill request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return TrackResult{}, fmt.Errorf("shipping: read waybill response: %w", err)
	}
	var env waybillEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		span.RecordError(err)
		return TrackResult{}, fmt.Errorf("%w: %v", ErrUpstreamResponse, err)
	}

	status := env.RajaOngkir.Status
	switch {
	case status.Code == http.StatusOK && env.RajaOngkir.Result != nil:
		return toTrackResult(env.RajaOngkir.Result), nil
	case status.Code == http.StatusBadRequest && isInvalidWaybill(status.Description):
		span.AddEvent("waybill not found")
		return TrackResult{Found: false, Description: status.Description}, nil
	default:
		err := fmt.Errorf("%w: status %d: %s", ErrUpstreamResponse, status.Code, status.Description)
		span.RecordError(err)
		span.SetStatus(codes.Error, "upstream rejected waybill query")
		return TrackResult{}, err
	}
}

func (r RajaOngkir) baseURL() string {
	base := strings.TrimSpace(r.BaseURL)
	if base == "" {
		base = DefaultRajaOngkirBaseURL
	}
	return strings.TrimRight(base, "/")
}

func toTrackResult(res *waybillResult) TrackResult {
	out := TrackResult{Found: true}
	for _, m := range res.Manifest {
		out.Events = append(out.Events, TrackEvent{
			Description: m.Description,
			Location:    m.City,
			OccurredAt:  joinDateTime(m.Date, m.Time),
		})
	}

	out.Status = res.DeliveryStatus.Status
	if out.Status == "" {
		out.Status = res.Summary.Status
	}
	if res.Delivered && out.Status == "" {
		out.Status = StatusDelivered
	}

	switch {
	case res.Delivered && res.DeliveryStatus.PODDate != "":
		out.Date = joinDateTime(res.DeliveryStatus.PODDate, res.DeliveryStatus.PODTime)
		out.Description = "Diterima oleh " + strings.TrimSpace(res.DeliveryStatus.PODReceiver)
	case len(out.Events) > 0:
		latest := out.Events[len(out.Events)-1]
		out.Date = latest.OccurredAt
		out.Description = latest.Description
	default:
		out.Date = res.Summary.WaybillDate
		if res.Summary.Origin != "" && res.Summary.Destination != "" {
			out.Description = res.Summary.Origin + " → " + res.Summary.Destination
		}
	}
	return out
}

func joinDateTime(date, clock string) string {
	return strings.TrimSpace(strings.TrimSpace(date) + " " + strings.TrimSpace(clock))
}

func isInvalidWaybill(description string) bool {
	d := strings.ToLower(description)
	return strings.Contains(d, "invalid waybill") || strings.Contains(d, "not found")
}

func rajaOngkirCourier(code courier.Code) string {
	switch code {
	case courier.JNT:
		return "J&T"
	case courier.Unknown, "":
		return courier.Default.String()
	default:
		return code.String()
	}
}
