package stream

// TopicRouter determines which topics an event should be published to
type TopicRouter struct {
	topics        Topics
	criticalLevel int32
}

// NewTopicRouter creates a new topic router
func NewTopicRouter(topics Topics, criticalLevel int32) *TopicRouter {
	return &TopicRouter{
		topics:        topics,
		criticalLevel: criticalLevel,
	}
}

// Route returns the list of topics this event should be published to.
//
// Routing rules:
//   - ALL records go to topics.Records
//   - Records whose highest rule level reaches the critical level also go to topics.Critical
func (r *TopicRouter) Route(event Event) []string {
	topics := []string{r.topics.Records}

	if r.criticalLevel > 0 && r.topics.Critical != "" && event.Record != nil &&
		event.Record.MaxLevel() >= r.criticalLevel {
		topics = append(topics, r.topics.Critical)
	}

	return topics
}
