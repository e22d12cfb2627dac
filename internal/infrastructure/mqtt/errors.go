package mqtt

import "errors"

// Sentinel errors. Operation failures wrap one of these; match with errors.Is.
var (
	// ErrNotConnected means the session is down. Publishes are never queued.
	ErrNotConnected = errors.New("mqtt: client not connected")

	ErrConnectionFailed  = errors.New("mqtt: connection failed")
	ErrPublishFailed     = errors.New("mqtt: publish failed")
	ErrSubscribeFailed   = errors.New("mqtt: subscribe failed")
	ErrUnsubscribeFailed = errors.New("mqtt: unsubscribe failed")

	ErrInvalidQoS    = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")
	ErrInvalidTopic  = errors.New("mqtt: invalid topic")
	ErrInvalidFilter = errors.New("mqtt: invalid topic filter")
)
