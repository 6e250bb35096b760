package influxdb

import (
	"time"

	"github.com/brollyhq/brolly-core/internal/rental"
)

// Telemetry forwards lease lifecycle events to InfluxDB. It implements
// rental.Listener; writes are fire-and-forget.
type Telemetry struct {
	client *Client
}

// NewTelemetry creates a telemetry recorder over an established client.
func NewTelemetry(client *Client) *Telemetry {
	return &Telemetry{client: client}
}

// SessionIssued implements rental.Listener.
func (t *Telemetry) SessionIssued(s *rental.Session) {
	t.client.WriteSessionMetric(s.SlotID, "issued", 0, false)
	t.client.WriteSlotOccupancy(s.SlotID, string(rental.SlotActive))
}

// SessionReturned implements rental.Listener.
func (t *Telemetry) SessionReturned(s *rental.Session, overdue bool, _ string) {
	duration := time.Since(s.StartTS).Seconds()
	t.client.WriteSessionMetric(s.SlotID, "returned", duration, overdue)
	t.client.WriteSlotOccupancy(s.SlotID, string(rental.SlotAvailable))
}

// SessionExpired implements rental.Listener.
func (t *Telemetry) SessionExpired(s *rental.Session) {
	duration := time.Since(s.StartTS).Seconds()
	t.client.WriteSessionMetric(s.SlotID, "expired", duration, true)
	t.client.WriteSlotOccupancy(s.SlotID, string(rental.SlotAvailable))
}
