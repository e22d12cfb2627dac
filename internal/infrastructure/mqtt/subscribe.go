package mqtt

import "fmt"

// Subscribe routes messages matching filter (+ and # allowed) to handler.
//
// The filter is recorded before it is sent, so a filter added while the
// session is down is issued on the next connect, and every filter is
// re-issued after a reconnect. Subscribing the same filter twice swaps the
// handler; if the broker rejects the change the old handler stays.
//
//	err := client.Subscribe(mqtt.Topics{}.AllDeviceMeta(), 1, reg.HandleMeta)
func (c *Client) Subscribe(filter string, qos byte, handler MessageHandler) error {
	if err := ValidateFilter(filter); err != nil {
		return err
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if handler == nil {
		return fmt.Errorf("%w: nil handler for %q", ErrSubscribeFailed, filter)
	}

	c.mu.Lock()
	prev, had := c.subs[filter]
	c.subs[filter] = subscription{filter: filter, qos: qos, handler: handler}
	c.mu.Unlock()

	if !c.IsConnected() {
		return nil
	}
	err := await(c.paho.Subscribe(filter, qos, nil), ErrSubscribeFailed)
	if err == nil {
		return nil
	}

	c.mu.Lock()
	if had {
		c.subs[filter] = prev
	} else {
		delete(c.subs, filter)
	}
	c.mu.Unlock()
	return err
}

// Unsubscribe forgets filter. Messages already in flight may still arrive.
func (c *Client) Unsubscribe(filter string) error {
	if filter == "" {
		return ErrInvalidTopic
	}

	c.mu.Lock()
	delete(c.subs, filter)
	c.mu.Unlock()

	if !c.IsConnected() {
		return nil
	}
	return await(c.paho.Unsubscribe(filter), ErrUnsubscribeFailed)
}

// SubscriptionCount reports how many filters are registered.
func (c *Client) SubscriptionCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.subs)
}

// HasSubscription compares filter strings exactly; it does not match topics.
func (c *Client) HasSubscription(filter string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.subs[filter]
	return ok
}
