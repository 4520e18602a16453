// Package asrun keeps the as-run log: what actually went on air, and when.
//
// The playout engine reports rundown, part and piece playback through the
// Recorder, which stores events in SQLite and mirrors them to InfluxDB when
// a Mirror is configured.
//
//	playout.Engine ──AsRunRecorder──▶ Recorder ──▶ SQLiteRepository (asrun_events)
//	                                       └────▶ Mirror (influxdb asrun/take points)
//
// Event ids are SHA-1 UUIDs of the event body, so a callback that is
// delivered twice produces one row.
package asrun
