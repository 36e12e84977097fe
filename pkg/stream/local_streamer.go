package stream

import (
	"context"
	"errors"
	"sync"
)

// ErrStreamerClosed is returned when attempting to stream to a closed streamer.
var ErrStreamerClosed = errors.New("streamer is closed")

// StreamCallback is called for each event published to a topic.
type StreamCallback func(topic string, event Event)

// LocalStreamer is an in-memory implementation of Streamer.
// It routes events to topics and invokes callbacks for each published message.
type LocalStreamer struct {
	router    *TopicRouter
	callbacks []StreamCallback
	mu        sync.RWMutex
	closed    bool
}

var _ Streamer = (*LocalStreamer)(nil)

// NewLocalStreamer creates a new local streamer with the given configuration.
// If config is nil, DefaultStreamerConfig() is used.
func NewLocalStreamer(config *StreamerConfig) *LocalStreamer {
	if config == nil {
		config = DefaultStreamerConfig()
	}
	return &LocalStreamer{
		router: NewTopicRouter(config.Topics, config.CriticalLevel),
	}
}

// OnPublish registers a callback invoked for each (topic, event) pair, in
// registration order.
func (s *LocalStreamer) OnPublish(cb StreamCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks = append(s.callbacks, cb)
}

// Stream publishes events to the topics chosen by the router.
func (s *LocalStreamer) Stream(ctx context.Context, events []Event) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrStreamerClosed
	}

	for _, event := range events {
		if err := ctx.Err(); err != nil {
			return err
		}
		for _, topic := range s.router.Route(event) {
			for _, cb := range s.callbacks {
				cb(topic, event)
			}
		}
	}

	return nil
}

// Close marks the streamer as closed.
func (s *LocalStreamer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
