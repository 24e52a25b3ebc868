package river

import "github.com/gip-inclusion/immersion-facile-sub021/internal/domain"

// Registry maps topics to the subscribers that declared them. Built once
// at startup; read-only afterwards.
type Registry struct {
	byTopic map[domain.Topic][]domain.Subscriber
}

// NewRegistry indexes the given subscribers by their declared topics.
func NewRegistry(subs ...domain.Subscriber) *Registry {
	r := &Registry{byTopic: make(map[domain.Topic][]domain.Subscriber)}
	for _, s := range subs {
		for _, topic := range s.Topics() {
			r.byTopic[topic] = append(r.byTopic[topic], s)
		}
	}
	return r
}

// ForTopic returns the subscribers registered for a topic, in
// registration order. May be empty.
func (r *Registry) ForTopic(t domain.Topic) []domain.Subscriber {
	return r.byTopic[t]
}
