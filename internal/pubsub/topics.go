package pubsub

import (
	"fmt"
	"strings"
)

// ChangeCaptureSuffix distinguishes a version's change-capture topic
// from the version topic itself.
const ChangeCaptureSuffix = "_cc"

// VersionTopic returns the topic carrying the batch-push image of the
// given store version.
func VersionTopic(store string, version int) string {
	return fmt.Sprintf("%s_v%d", store, version)
}

// ChangeCaptureTopic returns the topic carrying post-push mutations for
// the given store version.
func ChangeCaptureTopic(store string, version int) string {
	return VersionTopic(store, version) + ChangeCaptureSuffix
}

// IsChangeCaptureTopic reports whether topic is a change-capture topic.
// Change-capture payloads are never compressed, so this also decides
// the decompression path.
func IsChangeCaptureTopic(topic string) bool {
	return strings.HasSuffix(topic, ChangeCaptureSuffix)
}

// StoreVersionFromTopic splits a version or change-capture topic name
// into the store name and version number.
func StoreVersionFromTopic(topic string) (store string, version int, err error) {
	name := strings.TrimSuffix(topic, ChangeCaptureSuffix)
	i := strings.LastIndex(name, "_v")
	if i < 1 {
		return "", 0, fmt.Errorf("pubsub: %q is not a store topic", topic)
	}
	store = name[:i]
	if _, err := fmt.Sscanf(name[i+2:], "%d", &version); err != nil || version < 1 {
		return "", 0, fmt.Errorf("pubsub: %q is not a store topic", topic)
	}
	// Reject trailing junk after the digits.
	if VersionTopic(store, version) != name {
		return "", 0, fmt.Errorf("pubsub: %q is not a store topic", topic)
	}
	return store, version, nil
}
