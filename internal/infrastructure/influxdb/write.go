package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteSessionMetric records a lease lifecycle measurement.
//
// The write is non-blocking; data is batched and sent asynchronously.
// Tags carry the low-cardinality identifiers (slot, event); the session
// key never leaves the operational store.
func (c *Client) WriteSessionMetric(slotID, event string, durationSec float64, overdue bool) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"rental_sessions",
		map[string]string{
			"slot_id": slotID,
			"event":   event,
		},
		map[string]interface{}{
			"duration_sec": durationSec,
			"overdue":      overdue,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteSlotOccupancy records a slot occupancy transition, feeding the
// fleet utilisation dashboards.
func (c *Client) WriteSlotOccupancy(slotID, status string) {
	if !c.IsConnected() {
		return
	}

	occupied := 0
	if status == "active" {
		occupied = 1
	}

	point := write.NewPoint(
		"slot_occupancy",
		map[string]string{
			"slot_id": slotID,
		},
		map[string]interface{}{
			"occupied": occupied,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
// Use for measurements that don't fit the helper methods.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// WritePointWithTime writes a custom point with a specific timestamp, for
// data that arrives after the fact.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
