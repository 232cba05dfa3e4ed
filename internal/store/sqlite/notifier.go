package sqlite

import "sync"

// notifier fans out change kicks to collection watchers. Kicks are
// coalesced: a subscriber that has not drained its pending kick does not
// accumulate more, so writers never block on slow watchers.
type notifier struct {
	mu   sync.Mutex
	subs map[string]map[*subscriber]struct{}
}

type subscriber struct {
	kick chan struct{}
}

func newNotifier() *notifier {
	return &notifier{subs: make(map[string]map[*subscriber]struct{})}
}

func (n *notifier) subscribe(topic string) *subscriber {
	n.mu.Lock()
	defer n.mu.Unlock()

	sub := &subscriber{kick: make(chan struct{}, 1)}
	if n.subs[topic] == nil {
		n.subs[topic] = make(map[*subscriber]struct{})
	}
	n.subs[topic][sub] = struct{}{}
	return sub
}

func (n *notifier) unsubscribe(topic string, sub *subscriber) {
	n.mu.Lock()
	defer n.mu.Unlock()

	delete(n.subs[topic], sub)
	if len(n.subs[topic]) == 0 {
		delete(n.subs, topic)
	}
}

func (n *notifier) notify(topics ...string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for _, topic := range topics {
		for sub := range n.subs[topic] {
			select {
			case sub.kick <- struct{}{}:
			default:
			}
		}
	}
}
