// Package mqtt provides MQTT client connectivity for the playout daemon.
//
// This package manages:
//   - Connection to the studio broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//
// # Architecture
//
// The broker decouples the playout core from the playout gateways that drive
// vision mixers, graphics and video servers. The core publishes resolved
// snapshots and the gateways report playback back.
//
//	playoutd ──snapshot──▶ Broker ──▶ playout gateway
//	playoutd ◀─callbacks── Broker ◀── playout gateway
//
// # Topics
//
//	<prefix>/studio/<studioId>/playout    retained playout snapshot
//	<prefix>/studio/<studioId>/callbacks  playback callbacks (subscribed)
//	<prefix>/studio/<studioId>/notify     current part notifications
//	<prefix>/system/status                retained online/offline status
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	topics := client.Topics()
//	err = client.Subscribe(topics.StudioCallbacks("studio1"), 1, handle)
package mqtt
