// Package statusfanout is the optional, best-effort secondary status cache
// exposed via REDIS_URL. It lets a `watch`
// invocation against a different process observe status transitions without
// polling the job directory directly. It is never load-bearing: the
// filesystem job directory remains authoritative, and every read here falls
// back to the caller reading the store directly when Redis is absent or
// stale. Trimmed down to the single hash-per-job shape a status poller
// actually needs.
package statusfanout

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Publisher publishes job status transitions to Redis. A nil *Publisher (or
// one built for an empty URL) is always a no-op.
type Publisher struct {
	client *redis.Client
	keyNS  string
	ttl    time.Duration
}

// New builds a Publisher for redisURL. If redisURL is empty, Publish/Fetch
// become no-ops and no client is constructed.
func New(redisURL string) (*Publisher, error) {
	if redisURL == "" {
		return &Publisher{}, nil
	}
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("statusfanout: parse redis url: %w", err)
	}
	return &Publisher{client: redis.NewClient(opt), keyNS: "deepreview:job", ttl: 24 * time.Hour}, nil
}

// Enabled reports whether a Redis URL was configured.
func (p *Publisher) Enabled() bool { return p != nil && p.client != nil }

func (p *Publisher) key(jobID string) string { return fmt.Sprintf("%s:%s:status", p.keyNS, jobID) }

// Publish records the latest status/message for jobID. Failures are logged
// by the caller if desired but never returned as fatal; they never affect
// job correctness.
func (p *Publisher) Publish(ctx context.Context, jobID, status, message string) error {
	if !p.Enabled() {
		return nil
	}
	k := p.key(jobID)
	if err := p.client.HSet(ctx, k, map[string]any{
		"status": status, "message": message, "updated_at": time.Now().UTC().Format(time.RFC3339Nano),
	}).Err(); err != nil {
		return fmt.Errorf("statusfanout: publish %s: %w", jobID, err)
	}
	return p.client.Expire(ctx, k, p.ttl).Err()
}

// Fetch returns the last published status/message for jobID, if any. The
// caller treats a false ok (or an error) as "fall back to the job
// directory" rather than a failure.
func (p *Publisher) Fetch(ctx context.Context, jobID string) (status, message string, ok bool, err error) {
	if !p.Enabled() {
		return "", "", false, nil
	}
	res, err := p.client.HGetAll(ctx, p.key(jobID)).Result()
	if err != nil {
		return "", "", false, err
	}
	if len(res) == 0 {
		return "", "", false, nil
	}
	return res["status"], res["message"], true, nil
}

// Close releases the underlying client, if any.
func (p *Publisher) Close() error {
	if !p.Enabled() {
		return nil
	}
	return p.client.Close()
}
