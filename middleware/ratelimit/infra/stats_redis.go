package infra

import (
	"context"
	"fmt"
	"strings"
	"time"

	"storefront-gateway/middleware/ratelimit/domain"

	"github.com/redis/go-redis/v9"
)

type RedisStatsStore struct {
	rdb redis.Cmdable

	prefix string
	// ttl aplica apenas em chaves de série temporal / por tenant.
	// total é cumulativo e não expira.
	ttl time.Duration

	bucket string // "minute" (padrão) ou "none"

	trackTenants bool
}

type RedisStatsOption func(*RedisStatsStore)

func WithStatsPrefix(prefix string) RedisStatsOption {
	return func(s *RedisStatsStore) {
		s.prefix = strings.Trim(prefix, ":")
	}
}

func WithStatsTTL(d time.Duration) RedisStatsOption {
	return func(s *RedisStatsStore) { s.ttl = d }
}

func WithStatsBucket(bucket string) RedisStatsOption {
	return func(s *RedisStatsStore) { s.bucket = strings.ToLower(strings.TrimSpace(bucket)) }
}

func WithStatsTrackTenants(track bool) RedisStatsOption {
	return func(s *RedisStatsStore) { s.trackTenants = track }
}

func NewRedisStatsStore(rdb redis.Cmdable, opts ...RedisStatsOption) *RedisStatsStore {
	s := &RedisStatsStore{
		rdb:    rdb,
		prefix: "storefront:ratelimit:stats",
		ttl:    24 * time.Hour,
		bucket: "minute",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// increment é um HINCRBY de 1; ttl > 0 também renova a expiração da chave.
type increment struct {
	key   string
	field string
	ttl   time.Duration
}

// increments lista os contadores que um evento movimenta:
// total, série por minuto, por operação e, opcionalmente, por tenant.
func (s *RedisStatsStore) increments(ev domain.StatsEvent) []increment {
	decision := "denied"
	if ev.Allowed {
		decision = "allowed"
	}
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	op := strings.TrimSpace(ev.Operation)

	incs := []increment{{key: s.prefix + ":total", field: decision}}
	if s.bucket == "minute" {
		incs = append(incs, increment{
			key:   s.prefix + ":minute:" + at.UTC().Format("200601021504"),
			field: decision,
			ttl:   s.ttl,
		})
	}
	if op != "" {
		incs = append(incs, increment{key: s.prefix + ":operation", field: op + ":" + decision})
	}

	tenant := strings.TrimSpace(ev.Tenant)
	if !s.trackTenants || tenant == "" {
		return incs
	}
	tenantKey := s.prefix + ":tenant:" + tenant
	incs = append(incs, increment{key: tenantKey, field: decision, ttl: s.ttl})
	if op != "" {
		incs = append(incs, increment{key: tenantKey, field: op + ":" + decision})
	}
	return incs
}

// Record grava o evento num único pipeline.
func (s *RedisStatsStore) Record(ctx context.Context, ev domain.StatsEvent) error {
	if s == nil || s.rdb == nil {
		return nil
	}

	pipe := s.rdb.Pipeline()
	for _, inc := range s.increments(ev) {
		pipe.HIncrBy(ctx, inc.key, inc.field, 1)
		if inc.ttl > 0 {
			pipe.Expire(ctx, inc.key, inc.ttl)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record rate limit stats for tenant %q: %w", ev.Tenant, err)
	}
	return nil
}
