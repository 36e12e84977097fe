package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/IBM/sarama"

	"github.com/Tributary-ai-services/fsmatcher/pkg/attest"
)

// KafkaStreamer publishes events with sarama's AsyncProducer.
type KafkaStreamer struct {
	producer sarama.AsyncProducer
	router   *TopicRouter
	mu       sync.RWMutex
	closed   bool
	errCh    chan error
	wg       sync.WaitGroup
}

var _ Streamer = (*KafkaStreamer)(nil)

// NewKafkaStreamer connects to the configured brokers and starts an async producer.
func NewKafkaStreamer(config *StreamerConfig) (*KafkaStreamer, error) {
	if config == nil {
		config = DefaultStreamerConfig()
	}

	if len(config.Brokers) == 0 {
		return nil, errors.New("kafka: no brokers configured")
	}

	producer, err := sarama.NewAsyncProducer(config.Brokers, buildSaramaConfig(config))
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}

	return NewKafkaStreamerWithProducer(producer, config), nil
}

// NewKafkaStreamerWithProducer wraps an existing producer, typically a
// sarama mock in tests.
func NewKafkaStreamerWithProducer(producer sarama.AsyncProducer, config *StreamerConfig) *KafkaStreamer {
	if config == nil {
		config = DefaultStreamerConfig()
	}

	ks := &KafkaStreamer{
		producer: producer,
		router:   NewTopicRouter(config.Topics, config.CriticalLevel),
		errCh:    make(chan error, 100),
	}

	ks.wg.Add(2)
	go ks.handleSuccesses()
	go ks.handleErrors()

	return ks
}

// Stream publishes events to Kafka topics based on routing rules.
// Messages are keyed by the record's SHA-256 so copies of the same content
// land on the same partition.
func (ks *KafkaStreamer) Stream(ctx context.Context, events []Event) error {
	ks.mu.RLock()
	defer ks.mu.RUnlock()

	if ks.closed {
		return ErrStreamerClosed
	}

	for _, event := range events {
		if err := ctx.Err(); err != nil {
			return err
		}

		data, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("failed to marshal event %s: %w", event.ID, err)
		}

		var key sarama.Encoder
		if event.Record != nil {
			key = sarama.StringEncoder(event.Record.File.SHA256)
		}

		var headers []sarama.RecordHeader
		if event.Attestation != "" {
			headers = append(headers, sarama.RecordHeader{
				Key:   []byte(attest.HeaderAttestation),
				Value: []byte(event.Attestation),
			})
		}

		for _, topic := range ks.router.Route(event) {
			msg := &sarama.ProducerMessage{
				Topic:   topic,
				Key:     key,
				Value:   sarama.ByteEncoder(data),
				Headers: headers,
			}

			select {
			case ks.producer.Input() <- msg:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	return nil
}

// Close stops accepting events and waits for the producer to drain.
func (ks *KafkaStreamer) Close() error {
	ks.mu.Lock()
	if ks.closed {
		ks.mu.Unlock()
		return nil
	}
	ks.closed = true
	ks.mu.Unlock()

	ks.producer.AsyncClose()
	ks.wg.Wait()

	return nil
}

// Errors reports asynchronous delivery failures. Failures are dropped with
// a warning when nobody reads the channel.
func (ks *KafkaStreamer) Errors() <-chan error {
	return ks.errCh
}

func (ks *KafkaStreamer) handleSuccesses() {
	defer ks.wg.Done()
	for range ks.producer.Successes() {
	}
}

func (ks *KafkaStreamer) handleErrors() {
	defer ks.wg.Done()
	for err := range ks.producer.Errors() {
		if err == nil {
			continue
		}
		select {
		case ks.errCh <- fmt.Errorf("deliver to %s: %w", err.Msg.Topic, err.Err):
		default:
			slog.Warn("dropping kafka produce error",
				slog.String("topic", err.Msg.Topic),
				slog.Any("error", err.Err),
			)
		}
	}
}

var (
	compressionCodecs = map[string]sarama.CompressionCodec{
		"":       sarama.CompressionNone,
		"none":   sarama.CompressionNone,
		"gzip":   sarama.CompressionGZIP,
		"snappy": sarama.CompressionSnappy,
		"lz4":    sarama.CompressionLZ4,
	}
	ackLevels = map[string]sarama.RequiredAcks{
		"":       sarama.WaitForAll,
		"all":    sarama.WaitForAll,
		"leader": sarama.WaitForLocal,
		"none":   sarama.NoResponse,
	}
)

// buildSaramaConfig maps a StreamerConfig onto sarama's producer settings.
// Unknown compression or ack names fall back to none and all.
func buildSaramaConfig(config *StreamerConfig) *sarama.Config {
	sc := sarama.NewConfig()
	sc.ClientID = "fsmatcher"

	// Both channels are drained by the streamer.
	sc.Producer.Return.Successes = true
	sc.Producer.Return.Errors = true

	sc.Producer.Compression = sarama.CompressionNone
	if codec, ok := compressionCodecs[config.Compression]; ok {
		sc.Producer.Compression = codec
	}
	sc.Producer.RequiredAcks = sarama.WaitForAll
	if acks, ok := ackLevels[config.RequiredAcks]; ok {
		sc.Producer.RequiredAcks = acks
	}

	if config.FlushInterval > 0 {
		sc.Producer.Flush.Frequency = config.FlushInterval
	}
	if config.BatchSize > 0 {
		sc.Producer.Flush.Messages = config.BatchSize
	}
	if config.MaxRetries > 0 {
		sc.Producer.Retry.Max = config.MaxRetries
	}
	if config.RetryBackoff > 0 {
		sc.Producer.Retry.Backoff = config.RetryBackoff
	}

	return sc
}
