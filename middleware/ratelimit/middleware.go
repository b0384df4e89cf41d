package ratelimit

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"storefront-gateway/middleware/ratelimit/application"
	"storefront-gateway/middleware/ratelimit/domain"
)

// IdentityFunc extrai o chamador autenticado da requisição.
type IdentityFunc func(r *http.Request) (domain.Identity, bool)

// PolicyFunc escolhe a cota da rota. Permite políticas diferentes por operação.
type PolicyFunc func(r *http.Request) domain.Policy

type Options struct {
	Limiter             domain.TenantLimiter
	Stats               domain.StatsStore
	Policy              domain.Policy
	PolicyFn            PolicyFunc
	IdentityFn          IdentityFunc
	RejectStatus        int
	AddRateLimitHeaders bool
	Now                 func() time.Time
}

const (
	DefaultTenantHeader = "X-Tenant-ID"
	DefaultUserHeader   = "X-User-ID"
)

// FromContext usa a identidade gravada no contexto pela camada de autenticação.
func FromContext(r *http.Request) (domain.Identity, bool) {
	id, ok := domain.IdentityFromContext(r.Context())
	if !ok || id.Validate() != nil {
		return domain.Identity{}, false
	}
	return id, true
}

// HeaderIdentity lê tenant/usuário de headers. Só deve ser usado atrás de um
// proxy que já autenticou a requisição e sobrescreve esses headers.
func HeaderIdentity(tenantHeader, userHeader string) IdentityFunc {
	return func(r *http.Request) (domain.Identity, bool) {
		if id, ok := FromContext(r); ok {
			return id, true
		}
		id := domain.Identity{
			TenantID: strings.TrimSpace(r.Header.Get(tenantHeader)),
			UserID:   strings.TrimSpace(r.Header.Get(userHeader)),
		}
		if id.Validate() != nil {
			return domain.Identity{}, false
		}
		return id, true
	}
}

// Middleware aplica o rate limit por tenant antes do handler.
//
// Política estática inválida é erro de programação: entra em pânico na montagem.
func Middleware(opts Options) func(next http.Handler) http.Handler {
	if opts.RejectStatus == 0 {
		opts.RejectStatus = http.StatusTooManyRequests
	}
	if opts.IdentityFn == nil {
		opts.IdentityFn = HeaderIdentity(DefaultTenantHeader, DefaultUserHeader)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.PolicyFn == nil {
		if err := opts.Policy.Validate(); err != nil {
			panic(err)
		}
		p := opts.Policy
		opts.PolicyFn = func(*http.Request) domain.Policy { return p }
	}

	svc := application.TenantService{
		Limiter: opts.Limiter,
		Now:     opts.Now,
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := opts.IdentityFn(r)
			if !ok {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}
			policy := opts.PolicyFn(r)

			dec, err := svc.Decide(id, policy)
			if err != nil {
				status := http.StatusInternalServerError
				if errors.Is(err, domain.ErrInvalidIdentity) {
					status = http.StatusUnauthorized
				}
				http.Error(w, http.StatusText(status), status)
				return
			}

			if opts.Stats != nil {
				_ = opts.Stats.Record(r.Context(), domain.StatsEvent{
					Tenant:    id.TenantID,
					Operation: policy.Key,
					Allowed:   dec.Allowed,
					Method:    r.Method,
					Path:      r.URL.Path,
					At:        opts.Now(),
				})
			}

			if opts.AddRateLimitHeaders {
				w.Header().Set("X-RateLimit-Limit", formatInt(dec.Limit))
				w.Header().Set("X-RateLimit-Remaining", formatInt(dec.Remaining))
				if !dec.ResetAt.IsZero() {
					w.Header().Set("X-RateLimit-Reset", formatInt64(dec.ResetAt.Unix()))
				}
			}
			if !dec.Allowed {
				w.Header().Set("Retry-After", formatInt(int(dec.RetryAfter/time.Second)))
				http.Error(w, http.StatusText(opts.RejectStatus), opts.RejectStatus)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
