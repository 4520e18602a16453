// Package gateway bridges the playout engine and the playout gateway over MQTT.
//
// Outbound, the Bridge publishes every playout snapshot as a retained JSON
// message on <prefix>/studio/<studio>/playout and sends "current part"
// notifications on <prefix>/studio/<studio>/notify. Inbound, it subscribes to
// <prefix>/studio/<studio>/callbacks and hands playback callbacks to the
// engine:
//
//	{"type":"partPlaybackStarted","rundown_id":"r1","part_instance_id":"pi1","timestamp":1700000000000}
//
// Callback failures are logged and never end the subscription.
package gateway
