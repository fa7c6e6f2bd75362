package feed

import (
	"context"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/redis/go-redis/v9"
)

// Sink delivers an encoded Event to an external consumer.
type Sink interface {
	Name() string
	Send(ctx context.Context, payload []byte) error
}

// RedisSink publishes events on a Redis pub/sub channel.
type RedisSink struct {
	client  *redis.Client
	channel string
}

func NewRedisSink(client *redis.Client, channel string) *RedisSink {
	return &RedisSink{client: client, channel: channel}
}

func (s *RedisSink) Name() string { return "redis:" + s.channel }

func (s *RedisSink) Send(ctx context.Context, payload []byte) error {
	if err := s.client.Publish(ctx, s.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", s.channel, err)
	}
	return nil
}

type messageEnqueuer interface {
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
}

// QueueSink appends events to an Azure Storage queue.
type QueueSink struct {
	queue messageEnqueuer
	name  string
}

// NewQueueSink connects to queue using an Azure Storage connection string.
func NewQueueSink(connStr, queue string) (*QueueSink, error) {
	opts := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Second * 30,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	qc, err := azqueue.NewQueueClientFromConnectionString(connStr, queue, &opts)
	if err != nil {
		return nil, err
	}
	return &QueueSink{queue: qc, name: queue}, nil
}

func (s *QueueSink) Name() string { return "queue:" + s.name }

func (s *QueueSink) Send(ctx context.Context, payload []byte) error {
	if _, err := s.queue.EnqueueMessage(ctx, string(payload), nil); err != nil {
		return fmt.Errorf("enqueue to %s: %w", s.name, err)
	}
	return nil
}
