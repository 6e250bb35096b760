package mqtt

import "fmt"

// Topic prefixes for the Brolly event bus.
const (
	// TopicPrefix is the base for all Brolly topics.
	TopicPrefix = "brolly"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "brolly/system"
)

// Session event types published under brolly/event/session/.
const (
	EventSessionIssued   = "issued"
	EventSessionReturned = "returned"
	EventSessionExpired  = "expired"
)

// Topics provides builders for Brolly MQTT topics. Using these helpers
// keeps topic naming consistent across publishers and station firmware.
type Topics struct{}

// SessionEvent returns the topic for a lease lifecycle event.
//
// Example: brolly/event/session/returned
func (Topics) SessionEvent(eventType string) string {
	return fmt.Sprintf("%s/event/session/%s", TopicPrefix, eventType)
}

// SlotState returns the retained occupancy topic for a slot.
//
// Example: brolly/slot/A3/state
func (Topics) SlotState(slotID string) string {
	return fmt.Sprintf("%s/slot/%s/state", TopicPrefix, slotID)
}

// SystemStatus returns the service status topic (retained, also the LWT).
//
// Example: brolly/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// AllSessionEvents returns a pattern matching every lease event.
//
// Pattern: brolly/event/session/+
func (Topics) AllSessionEvents() string {
	return fmt.Sprintf("%s/event/session/+", TopicPrefix)
}

// AllSlotStates returns a pattern matching every slot occupancy topic.
//
// Pattern: brolly/slot/+/state
func (Topics) AllSlotStates() string {
	return fmt.Sprintf("%s/slot/+/state", TopicPrefix)
}
