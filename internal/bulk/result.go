package bulk

import (
	"strings"
	"time"

	"github.com/noah-isme/cekresi/internal/courier"
	"github.com/noah-isme/cekresi/internal/shipping"
)

// Status labels and placeholders used for results that carry no provider data.
const (
	StatusNotFound  = "NOT FOUND"
	StatusError     = "ERROR"
	DateUnavailable = "-"
)

// Result is the settled outcome of one lookup. IsError is set both for
// semantic not-found answers and for transport failures; only the latter carry
// an ErrorMessage.
type Result struct {
	TrackingNumber string       `json:"trackingNumber"`
	Courier        courier.Code `json:"courier"`
	Status         string       `json:"status"`
	Date           string       `json:"date"`
	Description    string       `json:"description,omitempty"`
	IsError        bool         `json:"isError"`
	ErrorMessage   string       `json:"errorMessage,omitempty"`
}

// Summary describes a finished run.
type Summary struct {
	Total      int           `json:"total"`
	Dispatched int           `json:"dispatched"`
	Succeeded  int           `json:"succeeded"`
	Failed     int           `json:"failed"`
	Cancelled  bool          `json:"cancelled"`
	Duration   time.Duration `json:"duration"`
}

// Skipped returns the number of items that were never dispatched.
func (s Summary) Skipped() int {
	return s.Total - s.Dispatched
}

func resultFromLookup(id string, code courier.Code, res shipping.TrackResult) Result {
	if !res.Found {
		return Result{
			TrackingNumber: id,
			Courier:        code,
			Status:         StatusNotFound,
			Date:           DateUnavailable,
			Description:    res.Description,
			IsError:        true,
		}
	}
	date := strings.TrimSpace(res.Date)
	if date == "" {
		date = DateUnavailable
	}
	return Result{
		TrackingNumber: id,
		Courier:        code,
		Status:         shipping.NormaliseStatus(res.Status),
		Date:           date,
		Description:    res.Description,
	}
}

func resultFromError(id string, err error) Result {
	return Result{
		TrackingNumber: id,
		Courier:        courier.Unknown,
		Status:         StatusError,
		Date:           DateUnavailable,
		IsError:        true,
		ErrorMessage:   err.Error(),
	}
}
