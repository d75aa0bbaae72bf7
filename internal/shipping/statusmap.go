package shipping

import "strings"

// Normalised status labels surfaced to consumers.
const (
	StatusDelivered      = "DELIVERED"
	StatusOnProcess      = "ON PROCESS"
	StatusOutForDelivery = "OUT FOR DELIVERY"
	StatusPickedUp       = "PICKED UP"
	StatusReturned       = "RETURNED"
	StatusUnknown        = "UNKNOWN"
)

// NormaliseStatus converts provider specific status labels into the labels
// used in tracking results. Unrecognised non-empty labels are upper-cased and
// passed through.
func NormaliseStatus(external string) string {
	trimmed := strings.TrimSpace(external)
	switch strings.ToLower(trimmed) {
	case "":
		return StatusUnknown
	case "delivered", "terkirim", "diterima":
		return StatusDelivered
	case "on process", "on_process", "shipped", "in_transit", "in-transit", "manifest", "dalam proses":
		return StatusOnProcess
	case "out_for_delivery", "out-for-delivery", "with delivery courier", "sedang diantar":
		return StatusOutForDelivery
	case "picked", "pickup", "picked up":
		return StatusPickedUp
	case "returned", "return", "retur":
		return StatusReturned
	}
	return strings.ToUpper(trimmed)
}
