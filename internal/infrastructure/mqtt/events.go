package mqtt

import (
	"time"

	"github.com/brollyhq/brolly-core/internal/rental"
)

// sessionEvent is the wire format for lease lifecycle events.
type sessionEvent struct {
	Event     string `json:"event"`
	SlotID    string `json:"slot_id"`
	DeviceID  string `json:"device_id"`
	UserID    string `json:"user_id"`
	Overdue   bool   `json:"overdue,omitempty"`
	Timestamp string `json:"timestamp"`
}

// slotState is the wire format for retained slot occupancy messages.
type slotState struct {
	SlotID    string `json:"slot_id"`
	DeviceID  string `json:"device_id"`
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// EventPublisher forwards lease lifecycle events to the station event bus.
// It implements rental.Listener. Publish failures are logged and dropped;
// the bus is advisory and must never fail a lease transition.
type EventPublisher struct {
	client *Client
}

// NewEventPublisher creates a publisher over an established client.
func NewEventPublisher(client *Client) *EventPublisher {
	return &EventPublisher{client: client}
}

// SessionIssued implements rental.Listener.
func (p *EventPublisher) SessionIssued(s *rental.Session) {
	p.publishEvent(EventSessionIssued, s, false)
	p.publishSlotState(s, rental.SlotActive)
}

// SessionReturned implements rental.Listener. The rider-reported location
// never goes on the bus; it is an audit-trail concern.
func (p *EventPublisher) SessionReturned(s *rental.Session, overdue bool, _ string) {
	p.publishEvent(EventSessionReturned, s, overdue)
	p.publishSlotState(s, rental.SlotAvailable)
}

// SessionExpired implements rental.Listener.
func (p *EventPublisher) SessionExpired(s *rental.Session) {
	p.publishEvent(EventSessionExpired, s, false)
	p.publishSlotState(s, rental.SlotAvailable)
}

func (p *EventPublisher) publishEvent(event string, s *rental.Session, overdue bool) {
	topic := Topics{}.SessionEvent(event)
	payload := sessionEvent{
		Event:     event,
		SlotID:    s.SlotID,
		DeviceID:  s.DeviceID,
		UserID:    s.UserID,
		Overdue:   overdue,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if err := p.client.PublishJSON(topic, payload, false); err != nil {
		if logger := p.client.getLogger(); logger != nil {
			logger.Warn("publishing session event", "topic", topic, "error", err)
		}
	}
}

func (p *EventPublisher) publishSlotState(s *rental.Session, status rental.SlotStatus) {
	topic := Topics{}.SlotState(s.SlotID)
	payload := slotState{
		SlotID:    s.SlotID,
		DeviceID:  s.DeviceID,
		Status:    string(status),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if err := p.client.PublishJSON(topic, payload, true); err != nil {
		if logger := p.client.getLogger(); logger != nil {
			logger.Warn("publishing slot state", "topic", topic, "error", err)
		}
	}
}
