// Command worker consumes the analyze and transcode queues and drives the
// orchestrator's two-stage job chain against a shared Postgres task
// repository and S3-compatible object store.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/golang/glog"
	_ "github.com/lib/pq"
	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/errgroup"

	"github.com/livepeer/transcode-pipeline/broker"
	"github.com/livepeer/transcode-pipeline/clients"
	"github.com/livepeer/transcode-pipeline/config"
	"github.com/livepeer/transcode-pipeline/encode"
	"github.com/livepeer/transcode-pipeline/log"
	"github.com/livepeer/transcode-pipeline/metrics"
	"github.com/livepeer/transcode-pipeline/orchestrator"
	"github.com/livepeer/transcode-pipeline/pprof"
	"github.com/livepeer/transcode-pipeline/predict"
	"github.com/livepeer/transcode-pipeline/processor"
	"github.com/livepeer/transcode-pipeline/task"
	"github.com/livepeer/transcode-pipeline/video"
)

func main() {
	_ = flag.Set("logtostderr", "true")
	fs := flag.NewFlagSet("worker", flag.ExitOnError)
	metricsPort := fs.Int("metrics-port", 9090, "Prometheus metrics listen port")
	pprofPort := fs.Int("pprof-port", 6062, "pprof listen port")
	if err := fs.Parse(os.Args[1:]); err != nil {
		glog.Fatalf("error parsing flags: %s", err)
	}

	cli := config.FromEnv()
	if err := cli.Validate(); err != nil {
		glog.Fatalf("invalid configuration: %s", err)
	}

	db, err := sql.Open("postgres", cli.DatabaseURL)
	if err != nil {
		glog.Fatalf("failed to open database: %s", err)
	}
	defer db.Close()

	tasks := task.NewPostgres(db)
	if err := tasks.EnsureSchema(context.Background()); err != nil {
		glog.Fatalf("failed to ensure task schema: %s", err)
	}
	descriptors := task.NewPostgresDescriptorCache(db)
	if err := descriptors.EnsureSchema(context.Background()); err != nil {
		glog.Fatalf("failed to ensure descriptor cache schema: %s", err)
	}

	store, err := clients.NewObjectStore(cli)
	if err != nil {
		glog.Fatalf("failed to create object store client: %s", err)
	}

	registry, err := processor.NewRegistry()
	if err != nil {
		glog.Fatalf("failed to build processor registry: %s", err)
	}

	model, err := predict.LoadLinearModel(context.Background(), cli.RegressorPath)
	if err != nil {
		glog.Fatalf("failed to load regressor model: %s", err)
	}
	predictor := predict.NewPredictor(model, predict.DefaultConfig())

	encoder, err := encode.NewDriver(store)
	if err != nil {
		glog.Fatalf("failed to resolve encoder binary: %s", err)
	}

	b, err := broker.Dial(cli.BrokerURL)
	if err != nil {
		glog.Fatalf("failed to connect to broker: %s", err)
	}
	defer b.Close()

	orch := &orchestrator.Orchestrator{
		Tasks:       tasks,
		Descriptors: descriptors,
		ObjectStore: store,
		FrameSource: video.NewFrameSource(video.Probe{}),
		Registry:    registry,
		Predictor:   predictor,
		Encoder:     encoder,
		Concurrency: config.InnerConcurrency(cli.OuterConcurrency),
		Expiry:      config.WorkerPresignExpiry,
	}

	group, ctx := errgroup.WithContext(context.Background())

	group.Go(func() error {
		return pprof.ListenAndServe(*pprofPort)
	})
	group.Go(func() error {
		return metrics.ListenAndServe(*metricsPort)
	})
	group.Go(func() error {
		return handleSignals(ctx)
	})
	group.Go(func() error {
		return consumeAnalyze(ctx, b, orch, cli.OuterConcurrency)
	})
	group.Go(func() error {
		return consumeTranscode(ctx, b, orch, cli.OuterConcurrency)
	})

	if err := group.Wait(); err != nil {
		glog.Infof("shutdown complete, reason: %s", err)
	}
}

// consumeAnalyze stops pulling new deliveries once ctx is canceled (a
// shutdown signal), but hands each already-received delivery a detached
// background context so a job already in flight runs to completion instead
// of being killed mid-decode and left PROCESSING forever.
func consumeAnalyze(ctx context.Context, b *broker.Broker, orch *orchestrator.Orchestrator, prefetch int) error {
	deliveries, err := b.Consume(broker.QueueAnalyze, prefetch)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			handleAnalyzeDelivery(context.Background(), b, orch, d)
		}
	}
}

func handleAnalyzeDelivery(ctx context.Context, b *broker.Broker, orch *orchestrator.Orchestrator, d amqp.Delivery) {
	var msg broker.AnalyzeMessage
	if err := decodeDelivery(d, &msg); err != nil {
		log.LogNoRequestID("failed to decode analyze message, dropping", "err", err, "payload", log.RedactLogs(string(d.Body), "\n"))
		_ = d.Nack(false, false)
		return
	}

	ctx = log.WithTaskStage(ctx, msg.TaskID, "analyze")
	out, err := orch.Analyze(ctx, msg.TaskID, msg.SourceKey)
	if err != nil {
		log.LogCtx(ctx, "analyze stage failed", "err", err)
		_ = d.Ack(false)
		return
	}
	_ = d.Ack(false)
	if out == nil {
		return
	}

	payload, err := orchestrator.EncodeAnalyzeOutput(out)
	if err != nil {
		log.LogCtx(ctx, "failed to encode analyze output", "err", err)
		return
	}
	if err := b.PublishTranscode(ctx, broker.TranscodeMessage{TaskID: msg.TaskID, PredictorOutput: payload}); err != nil {
		log.LogCtx(ctx, "failed to enqueue transcode stage", "err", err)
	}
}

func consumeTranscode(ctx context.Context, b *broker.Broker, orch *orchestrator.Orchestrator, prefetch int) error {
	deliveries, err := b.Consume(broker.QueueTranscode, prefetch)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			handleTranscodeDelivery(context.Background(), orch, d)
		}
	}
}

func handleTranscodeDelivery(ctx context.Context, orch *orchestrator.Orchestrator, d amqp.Delivery) {
	var msg broker.TranscodeMessage
	if err := decodeDelivery(d, &msg); err != nil {
		log.LogNoRequestID("failed to decode transcode message, dropping", "err", err, "payload", log.RedactLogs(string(d.Body), "\n"))
		_ = d.Nack(false, false)
		return
	}

	ctx = log.WithTaskStage(ctx, msg.TaskID, "transcode")
	var analyzeOut *orchestrator.AnalyzeOutput
	if len(msg.PredictorOutput) > 0 {
		out, err := orchestrator.DecodeAnalyzeOutput(msg.PredictorOutput)
		if err != nil {
			log.LogCtx(ctx, "failed to decode analyze payload, falling back to descriptor cache", "err", err)
		} else {
			analyzeOut = out
		}
	}

	if err := orch.Transcode(ctx, msg.TaskID, analyzeOut); err != nil {
		log.LogCtx(ctx, "transcode stage failed", "err", err)
	}
	_ = d.Ack(false)
}

func decodeDelivery(d amqp.Delivery, v any) error {
	return json.Unmarshal(d.Body, v)
}

func handleSignals(ctx context.Context) error {
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGQUIT, syscall.SIGTERM, syscall.SIGINT)
	select {
	case s := <-c:
		glog.Errorf("caught signal=%v, attempting clean shutdown", s)
		return fmt.Errorf("caught signal=%v", s)
	case <-ctx.Done():
		return nil
	}
}
