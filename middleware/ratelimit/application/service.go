package application

import (
	"time"

	"storefront-gateway/middleware/ratelimit/domain"
)

// TenantService concentra a regra de aplicação do rate limit por tenant.
//
// Ele não sabe nada sobre HTTP (headers/status), apenas valida a entrada
// e retorna uma decisão.
type TenantService struct {
	Limiter domain.TenantLimiter
	Now     func() time.Time
}

func (s TenantService) Decide(id domain.Identity, p domain.Policy) (domain.Decision, error) {
	if err := id.Validate(); err != nil {
		return domain.Decision{}, err
	}
	if err := p.Validate(); err != nil {
		return domain.Decision{}, err
	}
	if s.Limiter == nil {
		return domain.Decision{Allowed: true, Limit: p.Limit, Remaining: p.Limit}, nil
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}

	allowed := s.Limiter.IsAllowed(id.TenantID, p.Key, p.Limit, p.Window)
	dec := domain.Decision{
		Allowed:   allowed,
		Limit:     p.Limit,
		Remaining: s.Limiter.Remaining(id.TenantID, p.Key, p.Limit, p.Window),
	}
	if resetAt, ok := s.Limiter.ResetTime(id.TenantID, p.Key); ok {
		dec.ResetAt = resetAt
	}
	if !allowed {
		dec.RetryAfter = retryAfter(dec.ResetAt, now())
	}
	return dec, nil
}

// retryAfter arredonda para segundos inteiros (Retry-After não aceita fração), mínimo 1s.
func retryAfter(resetAt, now time.Time) time.Duration {
	d := resetAt.Sub(now)
	if d <= time.Second {
		return time.Second
	}
	return ((d + time.Second - 1) / time.Second) * time.Second
}
