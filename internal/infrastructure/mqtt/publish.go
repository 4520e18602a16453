package mqtt

import (
	"encoding/json"
	"fmt"
)

// maxPayloadSize caps one message at 1MB. A snapshot of a busy part with
// many resolved pieces stays well below this.
const maxPayloadSize = 1 << 20

// checkTopic validates the arguments shared by publish and subscribe.
func checkTopic(topic string, qos byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return fmt.Errorf("%w: %d", ErrInvalidQoS, qos)
	}
	return nil
}

// Publish sends payload to topic.
//
// State (playout snapshots, daemon status) is retained so a gateway that
// connects late gets the current state straight away. Callbacks and notify
// messages are never retained.
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if err := checkTopic(topic, qos); err != nil {
		return err
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: %s: payload of %d bytes exceeds %d", ErrPublishFailed, topic, len(payload), maxPayloadSize)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	if err := c.wait(c.client.Publish(topic, qos, retained, payload)); err != nil {
		c.stats.publishErrors.Add(1)
		return fmt.Errorf("%w: %s: %w", ErrPublishFailed, topic, err)
	}
	c.stats.published.Add(1)
	return nil
}

// PublishRetained publishes a retained message at the configured QoS.
func (c *Client) PublishRetained(topic string, payload []byte) error {
	return c.Publish(topic, payload, byte(c.cfg.QoS), true)
}

// PublishJSON marshals v and publishes it at the configured QoS.
func (c *Client) PublishJSON(topic string, v any, retained bool) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: %s: marshalling payload: %w", ErrPublishFailed, topic, err)
	}
	return c.Publish(topic, payload, byte(c.cfg.QoS), retained)
}
