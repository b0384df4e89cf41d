package infra

import (
	"context"
	"sync"
	"time"

	"storefront-gateway/middleware/ratelimit/domain"
)

// TenantStore é um rate limit de janela fixa isolado por tenant e por chave
// de operação. Buckets e tenants são criados sob demanda; o janitor remove
// buckets vencidos e tenants inativos.
//
// Janela fixa permite rajada de até 2×limit em torno da virada da janela.
type TenantStore struct {
	mu      sync.RWMutex
	tenants map[string]*tenantEntry

	idleTTL      time.Duration
	cleanupEvery time.Duration
	now          func() time.Time

	stopOnce sync.Once
	stop     chan struct{}
}

type tenantEntry struct {
	mu           sync.Mutex
	buckets      map[string]*bucket
	lastActivity time.Time
	// removed é marcado pelo Cleanup sob mu; quem segurava o ponteiro busca de novo.
	removed bool
}

type bucket struct {
	count   int
	resetAt time.Time
}

func (b *bucket) expired(now time.Time) bool { return !now.Before(b.resetAt) }

var _ domain.TenantLimiter = (*TenantStore)(nil)

type TenantStoreOption func(*TenantStore)

// WithIdleTTL define após quanto tempo sem atividade um tenant é descartado.
func WithIdleTTL(d time.Duration) TenantStoreOption {
	return func(s *TenantStore) { s.idleTTL = d }
}

func WithCleanupEvery(d time.Duration) TenantStoreOption {
	return func(s *TenantStore) { s.cleanupEvery = d }
}

func WithClock(now func() time.Time) TenantStoreOption {
	return func(s *TenantStore) { s.now = now }
}

func NewTenantStore(opts ...TenantStoreOption) *TenantStore {
	s := &TenantStore{
		tenants:      make(map[string]*tenantEntry),
		idleTTL:      30 * time.Minute,
		cleanupEvery: 5 * time.Minute,
		now:          time.Now,
		stop:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *TenantStore) CleanupEvery() time.Duration { return s.cleanupEvery }

// IsAllowed conta uma requisição para (tenantID, key) e diz se ela cabe na cota.
func (s *TenantStore) IsAllowed(tenantID, key string, limit int, window time.Duration) bool {
	for {
		ent := s.entry(tenantID)
		now := s.now()

		ent.mu.Lock()
		if ent.removed {
			ent.mu.Unlock()
			continue
		}
		ent.lastActivity = now

		b, ok := ent.buckets[key]
		if !ok || b.expired(now) {
			ent.buckets[key] = &bucket{count: 1, resetAt: now.Add(window)}
			ent.mu.Unlock()
			return true
		}
		if b.count >= limit {
			ent.mu.Unlock()
			return false
		}
		b.count++
		ent.mu.Unlock()
		return true
	}
}

// Remaining não altera estado.
func (s *TenantStore) Remaining(tenantID, key string, limit int, _ time.Duration) int {
	b, ok := s.snapshot(tenantID, key)
	if !ok || b.expired(s.now()) {
		return limit
	}
	if left := limit - b.count; left > 0 {
		return left
	}
	return 0
}

// ResetTime retorna o fim da janela do bucket, se ele existir.
func (s *TenantStore) ResetTime(tenantID, key string) (time.Time, bool) {
	b, ok := s.snapshot(tenantID, key)
	if !ok {
		return time.Time{}, false
	}
	return b.resetAt, true
}

// TenantStats soma os contadores dos buckets ainda guardados do tenant, inclusive
// janelas vencidas que a limpeza não removeu. Não é total histórico.
func (s *TenantStore) TenantStats(tenantID string) domain.TenantStats {
	s.mu.RLock()
	ent, ok := s.tenants[tenantID]
	s.mu.RUnlock()
	if !ok {
		return domain.TenantStats{}
	}

	ent.mu.Lock()
	defer ent.mu.Unlock()
	st := domain.TenantStats{
		ActiveKeys:   len(ent.buckets),
		LastActivity: ent.lastActivity,
	}
	for _, b := range ent.buckets {
		st.TotalRequests += b.count
	}
	return st
}

// Tenants retorna quantos tenants estão em memória.
func (s *TenantStore) Tenants() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tenants)
}

// Cleanup remove buckets vencidos e tenants inativos há mais de idleTTL.
func (s *TenantStore) Cleanup() (buckets, tenants int) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, ent := range s.tenants {
		ent.mu.Lock()
		for k, b := range ent.buckets {
			if b.expired(now) {
				delete(ent.buckets, k)
				buckets++
			}
		}
		if now.Sub(ent.lastActivity) > s.idleTTL {
			ent.removed = true
			delete(s.tenants, id)
			tenants++
		}
		ent.mu.Unlock()
	}
	return buckets, tenants
}

// StartJanitor inicia uma goroutine que roda Cleanup periodicamente.
// Pare cancelando o contexto ou chamando Close.
func (s *TenantStore) StartJanitor(ctx context.Context) {
	if s.cleanupEvery <= 0 {
		return
	}

	t := time.NewTicker(s.cleanupEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			case <-t.C:
				s.Cleanup()
			}
		}
	}()
}

func (s *TenantStore) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *TenantStore) entry(tenantID string) *tenantEntry {
	s.mu.RLock()
	ent, ok := s.tenants[tenantID]
	s.mu.RUnlock()
	if ok {
		return ent
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if ent, ok := s.tenants[tenantID]; ok {
		return ent
	}
	ent = &tenantEntry{buckets: make(map[string]*bucket)}
	s.tenants[tenantID] = ent
	return ent
}

func (s *TenantStore) snapshot(tenantID, key string) (bucket, bool) {
	s.mu.RLock()
	ent, ok := s.tenants[tenantID]
	s.mu.RUnlock()
	if !ok {
		return bucket{}, false
	}

	ent.mu.Lock()
	defer ent.mu.Unlock()
	b, ok := ent.buckets[key]
	if !ok {
		return bucket{}, false
	}
	return *b, true
}
