// Package influxdb provides InfluxDB connectivity for the playout core.
//
// It wraps the official influxdb-client-go v2 library for connection
// management, non-blocking batched writes and health monitoring.
//
// # Purpose
//
// The as-run log is kept in SQLite; this package mirrors it as time series
// so programme timing can be graphed next to other studio telemetry:
//   - asrun: rundown, part and piece started/stopped playback
//   - take: latency from take request to committed pointers
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteTake("studio1", "r1", "p2", 12*time.Millisecond, time.Now())
//
// # Error Handling
//
// Write operations are non-blocking and batch errors are delivered to the
// callback installed with SetOnError. Connection and health check errors are
// returned directly. HealthDetails exposes the write and error counters on
// the daemon's /health endpoint.
package influxdb
