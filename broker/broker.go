// Package broker wraps the two durable queues the orchestrator chains
// jobs through: feature_calculator (analyze) and transcode_video
// (transcode).
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/livepeer/transcode-pipeline/metrics"
)

const (
	// QueueAnalyze carries AnalyzeMessage payloads. The queue names are
	// part of the wire contract with existing producers; do not rename.
	QueueAnalyze = "feature_calculator"
	// QueueTranscode carries TranscodeMessage payloads.
	QueueTranscode = "transcode_video"
)

// AnalyzeMessage is feature_calculator's argument shape: (task_id, source_key).
type AnalyzeMessage struct {
	TaskID    int64  `json:"task_id"`
	SourceKey string `json:"source_key"`
}

// TranscodeMessage is transcode_video's argument shape: the chained
// Analyze stage's return value plus the task id.
type TranscodeMessage struct {
	TaskID          int64           `json:"task_id"`
	PredictorOutput json.RawMessage `json:"predictor_output"`
}

// Broker is a thin wrapper over one amqp091-go connection/channel pair,
// publishing to and consuming from the two durable queues the orchestrator
// chains work through server-side.
type Broker struct {
	conn    *amqp.Connection
	channel *amqp.Channel
}

// Dial connects to url and declares both durable queues.
func Dial(url string) (*Broker, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open broker channel: %w", err)
	}
	b := &Broker{conn: conn, channel: ch}
	for _, q := range []string{QueueAnalyze, QueueTranscode} {
		declared, err := ch.QueueDeclare(q, true, false, false, false, nil)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("failed to declare queue %q: %w", q, err)
		}
		metrics.Metrics.TaskPipeline.QueueDepth.WithLabelValues(q).Set(float64(declared.Messages))
	}
	return b, nil
}

func (b *Broker) Close() error {
	if b.channel != nil {
		_ = b.channel.Close()
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}

// PublishAnalyze enqueues an Analyze job for task_id/source_key.
func (b *Broker) PublishAnalyze(ctx context.Context, msg AnalyzeMessage) error {
	return b.publish(ctx, QueueAnalyze, msg)
}

// EnqueueAnalyze satisfies api.Enqueuer without the broker package
// depending on api, submitting the first stage of the Analyze→Transcode
// chain the task-creation endpoint kicks off.
func (b *Broker) EnqueueAnalyze(ctx context.Context, taskID int64, sourceKey string) error {
	return b.PublishAnalyze(ctx, AnalyzeMessage{TaskID: taskID, SourceKey: sourceKey})
}

// PublishTranscode enqueues a Transcode job carrying the Analyze stage's
// output, chaining the two stages server-side.
func (b *Broker) PublishTranscode(ctx context.Context, msg TranscodeMessage) error {
	return b.publish(ctx, QueueTranscode, msg)
}

func (b *Broker) publish(ctx context.Context, queue string, payload any) error {
	start := time.Now()
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal message for %q: %w", queue, err)
	}
	err = b.channel.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
	if err != nil {
		metrics.Metrics.BrokerClient.FailureCount.WithLabelValues(queue, "publish").Inc()
		return fmt.Errorf("failed to publish to %q: %w", queue, err)
	}
	metrics.Metrics.BrokerClient.RequestDuration.WithLabelValues(queue, "publish").Observe(time.Since(start).Seconds())
	return nil
}

// Consume returns a channel of deliveries for queue, capped at prefetch
// in-flight messages so one worker can't hoard tasks during slow encodes.
func (b *Broker) Consume(queue string, prefetch int) (<-chan amqp.Delivery, error) {
	if prefetch > 0 {
		if err := b.channel.Qos(prefetch, 0, false); err != nil {
			return nil, fmt.Errorf("failed to set QoS for %q: %w", queue, err)
		}
	}
	if declared, err := b.channel.QueueDeclarePassive(queue, true, false, false, false, nil); err == nil {
		metrics.Metrics.TaskPipeline.QueueDepth.WithLabelValues(queue).Set(float64(declared.Messages))
	}
	deliveries, err := b.channel.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to consume from %q: %w", queue, err)
	}
	return deliveries, nil
}
