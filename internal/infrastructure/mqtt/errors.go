package mqtt

import "errors"

var (
	// ErrNotConnected means the broker link is down. Status publishing
	// callers treat it as transient; the retained state is republished on
	// the next connect.
	ErrNotConnected = errors.New("mqtt: not connected")

	ErrConnectionFailed = errors.New("mqtt: connect failed")
	ErrPublishFailed    = errors.New("mqtt: publish failed")
	ErrSubscribeFailed  = errors.New("mqtt: subscribe failed")

	// ErrInvalidQoS is returned for QoS levels above 2.
	ErrInvalidQoS = errors.New("mqtt: qos must be 0, 1 or 2")

	// ErrInvalidTopic is returned for an empty topic.
	ErrInvalidTopic = errors.New("mqtt: empty topic")
)
