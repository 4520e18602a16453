package mqtt

import (
	"fmt"
	"strings"
)

// DefaultTopicPrefix is used when no prefix is configured.
const DefaultTopicPrefix = "playout"

// Topics builds the playout MQTT topic hierarchy under a configurable prefix.
// Using these helpers keeps the daemon and playout gateways in agreement:
//
//	topics := mqtt.NewTopics("news")
//	topics.StudioPlayout("studio1")
//	// Returns: "news/studio/studio1/playout"
type Topics struct {
	prefix string
}

// NewTopics returns topic builders rooted at prefix. Surrounding slashes are
// trimmed and an empty prefix falls back to DefaultTopicPrefix.
func NewTopics(prefix string) Topics {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{prefix: prefix}
}

// Prefix returns the root of the hierarchy.
func (t Topics) Prefix() string {
	if t.prefix == "" {
		return DefaultTopicPrefix
	}
	return t.prefix
}

// StudioPlayout is the retained playout snapshot topic of a studio.
//
// Example: playout/studio/studio1/playout
func (t Topics) StudioPlayout(studioID string) string {
	return fmt.Sprintf("%s/studio/%s/playout", t.Prefix(), studioID)
}

// StudioCallbacks carries playback callbacks from the playout gateway.
//
// Example: playout/studio/studio1/callbacks
func (t Topics) StudioCallbacks(studioID string) string {
	return fmt.Sprintf("%s/studio/%s/callbacks", t.Prefix(), studioID)
}

// StudioNotify carries "part is now on air" notifications to external systems.
//
// Example: playout/studio/studio1/notify
func (t Topics) StudioNotify(studioID string) string {
	return fmt.Sprintf("%s/studio/%s/notify", t.Prefix(), studioID)
}

// SystemStatus is the retained online/offline status of the daemon.
//
// Example: playout/system/status
func (t Topics) SystemStatus() string {
	return fmt.Sprintf("%s/system/status", t.Prefix())
}

// AllStudioCallbacks matches the callback topic of every studio.
//
// Pattern: playout/studio/+/callbacks
func (t Topics) AllStudioCallbacks() string {
	return fmt.Sprintf("%s/studio/+/callbacks", t.Prefix())
}

// StudioFromTopic extracts the studio id from a studio-scoped topic.
func (t Topics) StudioFromTopic(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, t.Prefix()+"/studio/")
	if !ok {
		return "", false
	}
	id, _, ok := strings.Cut(rest, "/")
	if !ok || id == "" {
		return "", false
	}
	return id, true
}
