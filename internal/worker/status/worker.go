package status

import (
	"context"
	"encoding/json"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/acme/lead-dialer/internal/app"
	"github.com/acme/lead-dialer/internal/domain"
	"github.com/acme/lead-dialer/internal/queue"
)

// Worker consumes provider completion events from Kafka and forwards them
// into the engine registry. It never mutates engine state directly: the
// registry hands each event to the owning engine's serialization point.
type Worker struct {
	container *app.Container
}

// New creates a status worker.
func New(container *app.Container) *Worker {
	return &Worker{container: container}
}

// Run processes completion events until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	cfg := w.container.Config
	reader := w.container.Kafka.NewReader(cfg.Kafka.CompletionTopic, cfg.Kafka.ConsumerGroupID)
	defer reader.Close()

	registry := w.container.Registry()
	logger := w.container.Logger

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Error("status worker: fetch", zap.Error(err))
			continue
		}

		var completion queue.CompletionMessage
		if err := json.Unmarshal(msg.Value, &completion); err != nil {
			logger.Error("status worker: unmarshal", zap.Error(err))
			_ = reader.CommitMessages(ctx, msg)
			continue
		}

		tracer := otel.Tracer("dialer.statusworker")
		sctx, span := tracer.Start(ctx, "call.completion", trace.WithAttributes(
			attribute.String("call.id", completion.CallID.String()),
			attribute.String("campaign.id", completion.CampaignID.String()),
			attribute.String("outcome", completion.Outcome),
		))

		registry.OnCallCompletion(sctx, completion.CallID, domain.CallOutcome(completion.Outcome))

		if err := reader.CommitMessages(sctx, msg); err != nil {
			span.RecordError(err)
			logger.Error("status worker: commit", zap.Error(err))
		}
		span.End()
	}
}
