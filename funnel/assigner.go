package funnel

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

var (
	ErrInvalidAssignment = errors.New("funnel: funnel id and resource id are required")
	// ErrResourceInUse indica que o recurso já está em outro funil do tenant.
	ErrResourceInUse = errors.New("funnel: resource already assigned to another funnel")
)

// Assignment pede para ligar um recurso (produto, oferta, página) a um funil.
type Assignment struct {
	TenantID   string `json:"-"`
	UserID     string `json:"-"`
	FunnelID   string `json:"funnelId"`
	ResourceID string `json:"resourceId"`
}

func (a Assignment) Validate() error {
	if strings.TrimSpace(a.FunnelID) == "" || strings.TrimSpace(a.ResourceID) == "" {
		return ErrInvalidAssignment
	}
	return nil
}

type Result struct {
	FunnelID   string    `json:"funnelId"`
	ResourceID string    `json:"resourceId"`
	AssignedBy string    `json:"assignedBy"`
	AssignedAt time.Time `json:"assignedAt"`
	// Unchanged é true quando o funil já tinha esse recurso.
	Unchanged bool `json:"unchanged"`
}

// Assigner faz a atribuição. Não é seguro contra corrida por si só:
// chamadas concorrentes do mesmo usuário passam pela assignqueue.
type Assigner interface {
	Assign(ctx context.Context, a Assignment) (Result, error)
}

type binding struct {
	resourceID string
	assignedBy string
	assignedAt time.Time
}

// MemoryAssigner guarda as atribuições em memória. Útil para testes e desenvolvimento.
type MemoryAssigner struct {
	mu       sync.Mutex
	byFunnel map[string]map[string]binding // tenant -> funnel -> binding
	now      func() time.Time
}

func NewMemoryAssigner() *MemoryAssigner {
	return &MemoryAssigner{
		byFunnel: make(map[string]map[string]binding),
		now:      time.Now,
	}
}

func (m *MemoryAssigner) Assign(ctx context.Context, a Assignment) (Result, error) {
	if err := a.Validate(); err != nil {
		return Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	funnels := m.byFunnel[a.TenantID]
	if funnels == nil {
		funnels = make(map[string]binding)
		m.byFunnel[a.TenantID] = funnels
	}

	if cur, ok := funnels[a.FunnelID]; ok && cur.resourceID == a.ResourceID {
		return Result{
			FunnelID:   a.FunnelID,
			ResourceID: a.ResourceID,
			AssignedBy: cur.assignedBy,
			AssignedAt: cur.assignedAt,
			Unchanged:  true,
		}, nil
	}
	for funnelID, b := range funnels {
		if funnelID != a.FunnelID && b.resourceID == a.ResourceID {
			return Result{}, ErrResourceInUse
		}
	}

	b := binding{resourceID: a.ResourceID, assignedBy: a.UserID, assignedAt: m.now()}
	funnels[a.FunnelID] = b
	return Result{
		FunnelID:   a.FunnelID,
		ResourceID: a.ResourceID,
		AssignedBy: b.assignedBy,
		AssignedAt: b.assignedAt,
	}, nil
}

// Lookup devolve o recurso atual do funil.
func (m *MemoryAssigner) Lookup(tenantID, funnelID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.byFunnel[tenantID][funnelID]
	return b.resourceID, ok
}
