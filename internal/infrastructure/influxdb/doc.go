// Package influxdb records rental telemetry for the Brolly fleet.
//
// Sessions are short-lived and high-volume, so per-lease measurements go
// to a time-series store rather than the operational SQLite database:
// lease durations, overdue counts, and per-slot utilisation feed the
// fleet dashboards. Writes are non-blocking and batched; telemetry loss
// never affects a lease transition.
//
// The integration is optional and disabled by default.
package influxdb
