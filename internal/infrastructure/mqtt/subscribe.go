package mqtt

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// subscription is one tracked topic filter with its paho-side handler.
type subscription struct {
	topic   string
	qos     byte
	handler pahomqtt.MessageHandler
}

// subscriptionSet tracks the filters to subscribe again after a reconnect.
// The zero value is ready to use.
type subscriptionSet struct {
	mu      sync.RWMutex
	byTopic map[string]subscription
}

func (s *subscriptionSet) put(sub subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.byTopic == nil {
		s.byTopic = make(map[string]subscription)
	}
	s.byTopic[sub.topic] = sub
}

// snapshot returns the tracked subscriptions ordered by topic.
func (s *subscriptionSet) snapshot() []subscription {
	s.mu.RLock()
	subs := make([]subscription, 0, len(s.byTopic))
	for _, sub := range s.byTopic {
		subs = append(subs, sub)
	}
	s.mu.RUnlock()

	sort.Slice(subs, func(i, j int) bool { return subs[i].topic < subs[j].topic })
	return subs
}

func (s *subscriptionSet) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byTopic)
}

// Subscribe registers handler for topic, which may contain + and # wildcards.
// The engine subscribes once to Topics{}.AllDevices() and routes from there.
//
// The subscription is tracked only once the broker has granted it, and is
// restored automatically after a reconnect.
//
// Returns:
//   - error: ErrInvalidTopic, ErrInvalidQoS, ErrNotConnected, or
//     ErrSubscribeFailed wrapping the broker's answer
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if handler == nil {
		return fmt.Errorf("%w: %s: handler cannot be nil", ErrSubscribeFailed, topic)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	sub := subscription{topic: topic, qos: qos, handler: c.wrapHandler(handler)}
	if err := c.subscribe(sub); err != nil {
		return err
	}
	c.subs.put(sub)
	return nil
}

func (c *Client) subscribe(sub subscription) error {
	return await(c.client.Subscribe(sub.topic, sub.qos, sub.handler), ErrSubscribeFailed, sub.topic)
}

// restoreSubscriptions subscribes again to every tracked topic. Each topic is
// attempted; the failures are joined into the returned error.
func (c *Client) restoreSubscriptions() (int, error) {
	var errs []error
	restored := 0
	for _, sub := range c.subs.snapshot() {
		if err := c.subscribe(sub); err != nil {
			errs = append(errs, err)
			continue
		}
		restored++
	}
	return restored, errors.Join(errs...)
}

// SubscriptionCount returns the number of tracked subscriptions.
func (c *Client) SubscriptionCount() int {
	return c.subs.len()
}
