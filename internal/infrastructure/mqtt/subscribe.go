package mqtt

import (
	"fmt"
	"maps"
	"slices"
)

// Subscribe registers handler for topic, which may hold + and # wildcards.
// The subscription is remembered and replayed after every reconnect.
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	if err := checkTopic(topic, qos); err != nil {
		return err
	}
	if handler == nil {
		return fmt.Errorf("%w: nil handler for %s", ErrSubscribeFailed, topic)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	sub := subscription{qos: qos, handler: handler}
	if err := c.wait(c.client.Subscribe(topic, qos, c.wrapHandler(handler))); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, topic, err)
	}
	c.subMu.Lock()
	c.subscriptions[topic] = sub
	c.subMu.Unlock()
	return nil
}

// Unsubscribe drops topic. Messages already in flight may still reach the
// old handler.
func (c *Client) Unsubscribe(topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.subMu.Lock()
	delete(c.subscriptions, topic)
	c.subMu.Unlock()

	if err := c.wait(c.client.Unsubscribe(topic)); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, topic, err)
	}
	return nil
}

// Subscriptions lists the subscribed topic filters in order.
func (c *Client) Subscriptions() []string {
	c.subMu.RLock()
	topics := make([]string, 0, len(c.subscriptions))
	for topic := range c.subscriptions {
		topics = append(topics, topic)
	}
	c.subMu.RUnlock()
	slices.Sort(topics)
	return topics
}

// restoreSubscriptions replays every remembered subscription. Failures are
// logged; paho retries on the next reconnect.
func (c *Client) restoreSubscriptions() {
	c.subMu.RLock()
	subs := maps.Clone(c.subscriptions)
	c.subMu.RUnlock()
	for topic, sub := range subs {
		if err := c.wait(c.client.Subscribe(topic, sub.qos, c.wrapHandler(sub.handler))); err != nil {
			if logger := c.getLogger(); logger != nil {
				logger.Warn("MQTT resubscribe failed", "topic", topic, "error", err)
			}
		}
	}
}
