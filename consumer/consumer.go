// Package consumer writes every job record change after submission (the
// orchestrator writes only the initial record and its queued or failed
// status): it subscribes to every event on the topic exchange and applies
// §4.4's transition table, persisting the result and appending to the
// job's bounded audit list.
package consumer

import (
	"context"

	"github.com/opensubs-io/subsync/broker"
	"github.com/opensubs-io/subsync/config"
	"github.com/opensubs-io/subsync/dedup"
	"github.com/opensubs-io/subsync/errors"
	"github.com/opensubs-io/subsync/events"
	"github.com/opensubs-io/subsync/job"
	"github.com/opensubs-io/subsync/log"
	"github.com/opensubs-io/subsync/metrics"
	"github.com/opensubs-io/subsync/store"
)

const consumerQueueName = broker.EventsExchange + ".consumer"

type Consumer struct {
	cfg    *config.Config
	broker broker.Broker
	store  store.Store
}

func New(cfg *config.Config, b broker.Broker, s store.Store) *Consumer {
	return &Consumer{cfg: cfg, broker: b, store: s}
}

// Run subscribes to every event kind ("#") and blocks until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.broker.ConsumeTopic(ctx, consumerQueueName, "#", c.handle)
}

func (c *Consumer) handle(ctx context.Context, body []byte, routingKey string) error {
	env, err := events.Unmarshal(body)
	if err != nil {
		log.LogNoJobID("discarding malformed event envelope", "routing_key", routingKey, "err", err)
		return nil
	}

	eventKind := events.ToJobEvent(env.EventType)
	if eventKind == "" {
		log.Log(env.JobID, "ignoring event with no transition-table mapping", "event_type", env.EventType)
		return nil
	}

	record, err := c.store.GetJob(ctx, env.JobID)
	if err != nil {
		if err == store.ErrNotFound {
			log.Log(env.JobID, "ignoring event for unknown job", "event_type", env.EventType)
			return nil
		}
		return errors.NewTransientInfraError("loading job record", err)
	}

	resultPath, errMessage := payloadOutcome(env)

	applied := record.Apply(eventKind, resultPath, errMessage, config.Clock.GetTime())
	if !applied {
		log.Log(env.JobID, "ignoring regressive or unroutable transition",
			"event_type", env.EventType, "status", record.Status)
		return nil
	}

	if err := c.store.PutJob(ctx, record); err != nil {
		return errors.NewTransientInfraError("persisting job record", err)
	}

	if err := c.appendAudit(ctx, env, body); err != nil {
		return err
	}

	if !record.Status.Terminal() {
		c.refreshDedup(ctx, record)
	}

	c.recordMetrics(record, env)
	return nil
}

// refreshDedup extends the job's dedup reservation so progress on a
// long-running job doesn't let its window expire out from under it
// mid-flight (spec §4.6). Best-effort: a refresh failure just means the
// fingerprint expires on its original schedule, which at worst reopens the
// window for a duplicate submission rather than corrupting job state.
func (c *Consumer) refreshDedup(ctx context.Context, record *job.Record) {
	fingerprint := dedup.Fingerprint(record.VideoURL, record.TargetLanguage)
	if err := dedup.Refresh(ctx, c.store, fingerprint, config.DefaultDedupTTL); err != nil {
		log.LogError(record.JobID, "failed to refresh dedup reservation", err)
	}
}

func (c *Consumer) appendAudit(ctx context.Context, env events.Envelope, body []byte) error {
	maxLen := int64(config.DefaultAuditListSize)
	if err := c.store.AppendAudit(ctx, env.JobID, body, maxLen); err != nil {
		return errors.NewTransientInfraError("appending audit entry", err)
	}
	return nil
}

func (c *Consumer) recordMetrics(record *job.Record, env events.Envelope) {
	if !record.Status.Terminal() {
		return
	}
	metrics.Metrics.Pipeline.JobsInFlight.Dec()
	metrics.Metrics.Pipeline.JobsTerminal.WithLabelValues(string(record.Status), errorTypeOf(env)).Inc()
}

// payloadOutcome extracts the result path / error message that job.Apply
// folds into the record, per each event kind's documented payload shape.
func payloadOutcome(env events.Envelope) (resultPath, errMessage string) {
	switch env.EventType {
	case events.KindSubtitleReady:
		resultPath, _ = env.Payload["subtitle_path"].(string)
	case events.KindTranslationCompleted:
		resultPath, _ = env.Payload["result_path"].(string)
	case events.KindTranslationFailed, events.KindJobFailed:
		errMessage, _ = env.Payload["message"].(string)
	}
	return resultPath, errMessage
}

func errorTypeOf(env events.Envelope) string {
	if t, ok := env.Payload["error_type"].(string); ok && t != "" {
		return t
	}
	switch env.EventType {
	case events.KindTranslationCompleted, events.KindSubtitleReady:
		return ""
	default:
		return errors.ErrorTypeInternal
	}
}
