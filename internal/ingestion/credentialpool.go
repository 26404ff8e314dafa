package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/antigravity-dev/buildrisk/internal/pipelineerr"
	"github.com/redis/go-redis/v9"
)

// CredentialPool rotates CI-provider tokens round-robin with per-token
// remaining-quota tracking and a cooldown list keyed by reset time (§5
// shared-resource policy). Backed by Redis so acquisition is safe under
// contention across worker processes.
type CredentialPool struct {
	rdb               redis.Cmdable
	provider          string
	tokens            []string
	quotaPerToken     int64
	cooldownOnExhaust time.Duration
}

// NewCredentialPool builds a pool for one CI provider's token set.
func NewCredentialPool(rdb redis.Cmdable, provider string, tokens []string, quotaPerToken int64, cooldown time.Duration) *CredentialPool {
	return &CredentialPool{
		rdb:               rdb,
		provider:          provider,
		tokens:            tokens,
		quotaPerToken:     quotaPerToken,
		cooldownOnExhaust: cooldown,
	}
}

func (p *CredentialPool) quotaKey(token string) string    { return fmt.Sprintf("buildrisk:quota:%s:%s", p.provider, token) }
func (p *CredentialPool) cooldownKey(token string) string { return fmt.Sprintf("buildrisk:cooldown:%s:%s", p.provider, token) }
func (p *CredentialPool) rrKey() string                   { return fmt.Sprintf("buildrisk:rr:%s", p.provider) }

// Acquire picks the next available token in round-robin order, skipping
// tokens currently in cooldown, and decrements its remaining quota. Returns
// a rate_limited pipelineerr if every token is exhausted or cooling down.
func (p *CredentialPool) Acquire(ctx context.Context) (string, error) {
	if len(p.tokens) == 0 {
		return "", pipelineerr.New(pipelineerr.KindConfiguration, "credential_pool", fmt.Errorf("no tokens configured for provider %s", p.provider))
	}

	cursor, err := p.rdb.Incr(ctx, p.rrKey()).Result()
	if err != nil {
		return "", pipelineerr.New(pipelineerr.KindRetryable, "credential_pool", err)
	}

	n := int64(len(p.tokens))
	for i := int64(0); i < n; i++ {
		idx := (cursor + i) % n
		token := p.tokens[idx]

		inCooldown, err := p.rdb.Exists(ctx, p.cooldownKey(token)).Result()
		if err != nil {
			return "", pipelineerr.New(pipelineerr.KindRetryable, "credential_pool", err)
		}
		if inCooldown > 0 {
			continue
		}

		// SetNX seeds the window so the first Decr counts down from the
		// configured quota instead of from Redis's implicit zero.
		if _, err := p.rdb.SetNX(ctx, p.quotaKey(token), p.quotaPerToken, 24*time.Hour).Result(); err != nil {
			return "", pipelineerr.New(pipelineerr.KindRetryable, "credential_pool", err)
		}

		remaining, err := p.rdb.Decr(ctx, p.quotaKey(token)).Result()
		if err != nil {
			return "", pipelineerr.New(pipelineerr.KindRetryable, "credential_pool", err)
		}
		if remaining < 0 {
			p.rdb.Set(ctx, p.cooldownKey(token), "1", p.cooldownOnExhaust)
			continue
		}

		return token, nil
	}

	return "", pipelineerr.New(pipelineerr.KindRateLimited, "credential_pool", fmt.Errorf("all tokens for provider %s exhausted or cooling down", p.provider))
}

// Release restores one unit of quota to a token, used when a reservation is
// rolled back after a dispatch failure that never consumed the call.
func (p *CredentialPool) Release(ctx context.Context, token string) error {
	if _, err := p.rdb.Incr(ctx, p.quotaKey(token)).Result(); err != nil {
		return pipelineerr.New(pipelineerr.KindRetryable, "credential_pool", err)
	}
	return nil
}
