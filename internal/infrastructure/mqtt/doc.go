// Package mqtt wraps paho.mqtt.golang for the Brolly station event bus.
//
// Core is a publisher: lease lifecycle events and slot occupancy go out
// over MQTT so dock controllers and station signage can react without
// polling the REST API. The wrapper handles connection management, Last
// Will and Testament for offline detection, and automatic reconnection
// with exponential backoff.
//
// Topic hierarchy:
//
//	brolly/event/session/{issued|returned|expired}
//	brolly/slot/{slot_id}/state          (retained)
//	brolly/system/status                 (retained, LWT)
//
// All methods are safe for concurrent use.
package mqtt
