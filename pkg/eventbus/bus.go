// Package eventbus carries transcript events between the recognition
// boundary and per-call session workers. The transport is watermill:
// in-memory gochannel by default, Redis Streams when configured, with
// one topic per call.
package eventbus

import (
	"context"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	rstream "github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/zenvox/switchboard/pkg/config"
	"github.com/zenvox/switchboard/pkg/transcript"
)

// TranscriptTopic is the per-call stream of recognition events.
func TranscriptTopic(callID string) string { return "transcript:" + callID }

// Bus is the process-wide publish/subscribe fabric.
type Bus struct {
	pub          message.Publisher
	sub          message.Subscriber
	redisEnabled bool
	redisAddr    string
	redisGroup   string
}

// New builds a Bus from Redis settings: gochannel when disabled,
// Redis Streams otherwise.
func New(rs config.RedisSettings) (*Bus, error) {
	logger := NewWatermillLogger(log.With().Str("component", "eventbus").Logger())
	if !rs.Enabled {
		ch := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, logger)
		return &Bus{pub: ch, sub: ch}, nil
	}

	client := redis.NewClient(&redis.Options{Addr: rs.Addr})
	marshaler := rstream.DefaultMarshallerUnmarshaller{}
	pub, err := rstream.NewPublisher(rstream.PublisherConfig{
		Client:     client,
		Marshaller: marshaler,
	}, logger)
	if err != nil {
		return nil, errors.Wrap(err, "build redis publisher")
	}
	sub, err := rstream.NewSubscriber(rstream.SubscriberConfig{
		Client:        client,
		Unmarshaller:  marshaler,
		ConsumerGroup: rs.Group,
		Consumer:      rs.Consumer,
	}, logger)
	if err != nil {
		return nil, errors.Wrap(err, "build redis subscriber")
	}
	return &Bus{
		pub:          pub,
		sub:          sub,
		redisEnabled: true,
		redisAddr:    rs.Addr,
		redisGroup:   rs.Group,
	}, nil
}

// PublishTranscript puts one recognition event on the call's topic.
func (b *Bus) PublishTranscript(e transcript.Event) error {
	payload, err := e.Marshal()
	if err != nil {
		return err
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	return errors.Wrap(b.pub.Publish(TranscriptTopic(e.CallID), msg), "publish transcript event")
}

// SubscribeTranscripts opens the call's transcript stream. The channel
// closes when ctx is cancelled.
func (b *Bus) SubscribeTranscripts(ctx context.Context, callID string) (<-chan *message.Message, error) {
	topic := TranscriptTopic(callID)
	if b.redisEnabled {
		// Start the consumer group at the tail so a restarted process
		// does not replay the whole history of the stream.
		if err := ensureGroupAtTail(ctx, b.redisAddr, topic, b.redisGroup); err != nil {
			return nil, err
		}
	}
	ch, err := b.sub.Subscribe(ctx, topic)
	if err != nil {
		return nil, errors.Wrapf(err, "subscribe %s", topic)
	}
	return ch, nil
}

func ensureGroupAtTail(ctx context.Context, addr, stream, group string) error {
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer func() { _ = client.Close() }()
	err := client.XGroupCreateMkStream(ctx, stream, group, "$").Err()
	if err != nil {
		if strings.Contains(err.Error(), "BUSYGROUP") {
			return nil
		}
		return errors.Wrap(err, "create consumer group")
	}
	log.Info().Str("stream", stream).Str("group", group).Msg("created redis consumer group at $ (tail)")
	return nil
}

// Close shuts down the transport.
func (b *Bus) Close() error {
	if err := b.pub.Close(); err != nil {
		return errors.Wrap(err, "close publisher")
	}
	// In-memory transport shares one gochannel for both directions.
	if !b.redisEnabled {
		return nil
	}
	return errors.Wrap(b.sub.Close(), "close subscriber")
}
