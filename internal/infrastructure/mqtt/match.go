package mqtt

import (
	"fmt"
	"strings"
)

const (
	levelSeparator    = "/"
	singleLevelWild   = "+"
	multiLevelWild    = "#"
	systemTopicPrefix = "$"
)

// Match reports whether topic matches the subscription filter using MQTT
// wildcard rules:
//   - "+" matches exactly one level (which may be empty)
//   - "#" matches the parent level and any number of child levels
//   - wildcards in the first level never match topics starting with "$"
//
// Example:
//
//	Match("/lab/device/+/meta", "/lab/device/pi-01/meta")   // true
//	Match("/lab/orchestrator/#", "/lab/orchestrator/registry") // true
//	Match("/lab/device/+/meta", "/lab/device/pi-01/led/meta") // false
func Match(filter, topic string) bool {
	if filter == "" || topic == "" {
		return false
	}

	f := strings.Split(filter, levelSeparator)
	t := strings.Split(topic, levelSeparator)

	if strings.HasPrefix(topic, systemTopicPrefix) && (f[0] == singleLevelWild || f[0] == multiLevelWild) {
		return false
	}

	for i, level := range f {
		if level == multiLevelWild {
			return true
		}
		if i >= len(t) {
			return false
		}
		if level != singleLevelWild && level != t[i] {
			return false
		}
	}

	return len(f) == len(t)
}

// ValidateFilter checks that a subscription filter uses wildcards correctly.
// "#" may only appear as the whole last level and "+" only as a whole level.
func ValidateFilter(filter string) error {
	if filter == "" {
		return ErrInvalidTopic
	}

	levels := strings.Split(filter, levelSeparator)
	for i, level := range levels {
		if strings.Contains(level, multiLevelWild) && (level != multiLevelWild || i != len(levels)-1) {
			return fmt.Errorf("%w: %q: '#' must be the final level", ErrInvalidFilter, filter)
		}
		if strings.Contains(level, singleLevelWild) && level != singleLevelWild {
			return fmt.Errorf("%w: %q: '+' must occupy a whole level", ErrInvalidFilter, filter)
		}
	}
	return nil
}

// validatePublishTopic rejects empty topics and topics containing wildcards.
func validatePublishTopic(topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if strings.ContainsAny(topic, singleLevelWild+multiLevelWild) {
		return fmt.Errorf("%w: %q: wildcards are not allowed when publishing", ErrInvalidTopic, topic)
	}
	return nil
}
