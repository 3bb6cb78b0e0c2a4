package mqtt

import (
	"encoding/json"
	"fmt"
	"time"
)

// Maximum payload size for MQTT messages (1MB).
// This prevents resource exhaustion and aligns with typical broker limits.
const maxPayloadSize = 1 << 20 // 1MB

// Publish sends payload to topic and waits for the broker acknowledgment.
//
// QoS Levels:
//   - 0: At most once (fire and forget)
//   - 1: At least once (guaranteed delivery, may duplicate)
//   - 2: Exactly once (guaranteed, no duplicates, higher overhead)
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if err := validatePublish(topic, payload, qos); err != nil {
		return err
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	return nil
}

func validatePublish(topic string, payload []byte, qos byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	return nil
}

// ChangeEvent describes one committed store change.
type ChangeEvent struct {
	// Kind is the change kind: update, load, create, clear or remove.
	Kind string `json:"kind"`

	// Graph is the affected graph, empty for the default graph or for
	// changes spanning the dataset.
	Graph string `json:"graph,omitempty"`

	// Quads is the number of quads written, when known.
	Quads int64 `json:"quads,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// PublishChange publishes ev on its change topic without waiting for the
// broker. Store writes call it synchronously, so failures are only logged.
func (c *Client) PublishChange(ev ChangeEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		c.warn("encoding change event", ev, err)
		return
	}
	topic := c.topics.Changes(ev.Kind)
	if err := validatePublish(topic, payload, byte(c.cfg.QoS)); err != nil {
		c.warn("invalid change event", ev, err)
		return
	}
	if !c.IsConnected() {
		c.warn("dropping change event", ev, ErrNotConnected)
		return
	}

	token := c.client.Publish(topic, byte(c.cfg.QoS), false, payload)
	go func() {
		if !token.WaitTimeout(defaultPublishTimeout) {
			c.warn("change event not acknowledged", ev, fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultPublishTimeout))
			return
		}
		if err := token.Error(); err != nil {
			c.warn("change event not delivered", ev, err)
		}
	}()
}

func (c *Client) warn(msg string, ev ChangeEvent, err error) {
	if logger := c.getLogger(); logger != nil {
		logger.Warn(msg, "kind", ev.Kind, "graph", ev.Graph, "error", err)
	}
}
