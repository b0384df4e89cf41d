package domain

import (
	"context"
	"strings"
)

// Identity é o chamador autenticado. Quem preenche é a camada de autenticação
// da plataforma (fora deste módulo).
type Identity struct {
	TenantID string
	UserID   string
}

func (id Identity) Validate() error {
	if strings.TrimSpace(id.TenantID) == "" {
		return ErrInvalidIdentity
	}
	return nil
}

type identityKey struct{}

func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}
