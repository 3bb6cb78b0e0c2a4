package mqtt

import "strings"

// defaultTopicPrefix is used when the configuration leaves the prefix empty.
const defaultTopicPrefix = "kos"

// Topics builds the topic names under one prefix.
//
//	topics := mqtt.NewTopics("kos/prod")
//	topics.Changes("update") // "kos/prod/changes/update"
type Topics struct {
	prefix string
}

// NewTopics returns the builder for prefix, trimming surrounding slashes.
func NewTopics(prefix string) Topics {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = defaultTopicPrefix
	}
	return Topics{prefix: prefix}
}

// Status returns the retained server status topic.
//
// Example: kos/status
func (t Topics) Status() string {
	return t.prefix + "/status"
}

// Changes returns the topic for store changes of one kind.
//
// Example: kos/changes/update
func (t Topics) Changes(kind string) string {
	return t.prefix + "/changes/" + kind
}

// AllChanges returns a pattern matching every change topic.
//
// Pattern: kos/changes/+
func (t Topics) AllChanges() string {
	return t.prefix + "/changes/+"
}
