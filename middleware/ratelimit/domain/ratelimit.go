package domain

// Camada de domínio do rate limit por tenant.
//
// Regras e contratos (interfaces/tipos) sem dependência de net/http.

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrInvalidIdentity = errors.New("ratelimit: tenant id is required")
	ErrInvalidPolicy   = errors.New("ratelimit: invalid policy")
)

// Policy descreve a cota de uma operação lógica (ex: "assign", "promo.update").
type Policy struct {
	Key    string
	Limit  int
	Window time.Duration
}

func (p Policy) Validate() error {
	if strings.TrimSpace(p.Key) == "" {
		return errors.Join(ErrInvalidPolicy, errors.New("key is empty"))
	}
	if p.Limit <= 0 {
		return errors.Join(ErrInvalidPolicy, errors.New("limit must be > 0"))
	}
	if p.Window <= 0 {
		return errors.Join(ErrInvalidPolicy, errors.New("window must be > 0"))
	}
	return nil
}

// TenantLimiter decide por (tenant, chave) usando janela fixa.
//
// IsAllowed é a única operação que muda estado; as demais são leituras.
type TenantLimiter interface {
	IsAllowed(tenantID, key string, limit int, window time.Duration) bool
	Remaining(tenantID, key string, limit int, window time.Duration) int
	ResetTime(tenantID, key string) (time.Time, bool)
	TenantStats(tenantID string) TenantStats
}

type TenantStats struct {
	ActiveKeys    int       `json:"activeKeys"`
	TotalRequests int       `json:"totalRequests"`
	LastActivity  time.Time `json:"lastActivity"`
}

type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	// ResetAt é o fim da janela atual. Zero se não há bucket.
	ResetAt time.Time
	// RetryAfter é o valor a ser retornado em Retry-After quando bloquear.
	// Se 0, não há recomendação.
	RetryAfter time.Duration
}
