package broadcast

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"jobboard/ingestion-service/internal/model"
)

const (
	// Outbound jobs waiting for Redis; beyond this, Publish drops.
	relayQueueSize = 256

	// Upper bound for one PUBLISH, retries included.
	relayPublishTimeout = 2 * time.Second
)

// RedisRelay publishes jobs to a Redis channel instead of the local hub.
// Every process runs Run, which re-emits what arrives on the channel to its
// own sessions, so all processes' sessions see each job.
type RedisRelay struct {
	rdb            *redis.Client
	local          Publisher
	channel        string
	queue          chan []byte
	publishTimeout time.Duration
	log            *zap.SugaredLogger
}

// NewRedisRelay relays through the EventNewJob channel to local.
func NewRedisRelay(rdb *redis.Client, local Publisher, log *zap.SugaredLogger) *RedisRelay {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &RedisRelay{
		rdb:            rdb,
		local:          local,
		channel:        EventNewJob,
		queue:          make(chan []byte, relayQueueSize),
		publishTimeout: relayPublishTimeout,
		log:            log,
	}
}

// Publish queues each job for the channel in order and returns immediately.
// When the queue is full the job is dropped and logged; it is already
// persisted and clients reconcile on their next full load.
func (r *RedisRelay) Publish(_ context.Context, jobs []model.PersistedJob) {
	for _, job := range jobs {
		payload, err := json.Marshal(job)
		if err != nil {
			r.log.Warnw("Failed to encode job for relay", "job_id", job.ID, "error", err.Error())
			continue
		}
		select {
		case r.queue <- payload:
		default:
			r.log.Warnw("Relay queue full, dropping job event", "job_id", job.ID, "queued", len(r.queue))
		}
	}
}

// Run drains the outbound queue and forwards every job arriving on the
// channel to the local publisher until ctx is cancelled.
func (r *RedisRelay) Run(ctx context.Context) error {
	go r.drain(ctx)

	sub := r.rdb.Subscribe(ctx, r.channel)
	defer sub.Close()

	// Wait for the subscription to be confirmed before reporting ready.
	if _, err := sub.Receive(ctx); err != nil {
		return errors.Wrapf(err, "subscribe %s", r.channel)
	}
	r.log.Infow("Relay subscribed", "channel", r.channel)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return errors.Newf("relay channel %s closed", r.channel)
			}
			var job model.PersistedJob
			if err := json.Unmarshal([]byte(msg.Payload), &job); err != nil {
				r.log.Warnw("Dropping undecodable relay message", "error", err.Error())
				continue
			}
			r.local.Publish(ctx, []model.PersistedJob{job})
		}
	}
}

// drain publishes queued payloads one at a time, each bounded by
// publishTimeout.
func (r *RedisRelay) drain(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case payload := <-r.queue:
			pctx, cancel := context.WithTimeout(ctx, r.publishTimeout)
			err := r.rdb.Publish(pctx, r.channel, payload).Err()
			cancel()
			if err != nil {
				r.log.Warnw("Relay publish failed", "channel", r.channel, "error", err.Error())
			}
		}
	}
}
