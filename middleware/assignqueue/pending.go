package assignqueue

import "context"

// Pending é o resultado futuro de um pedido. É resolvido exatamente uma vez.
type Pending[R any] struct {
	id   string
	done chan struct{}
	val  R
	err  error
}

func newPending[R any](id string) *Pending[R] {
	return &Pending[R]{id: id, done: make(chan struct{})}
}

func (p *Pending[R]) ID() string { return p.id }

func (p *Pending[R]) Done() <-chan struct{} { return p.done }

// Wait bloqueia até o pedido ser resolvido ou ctx encerrar. Cancelar ctx não
// tira o pedido da fila.
func (p *Pending[R]) Wait(ctx context.Context) (R, error) {
	select {
	case <-p.done:
		return p.val, p.err
	case <-ctx.Done():
		var zero R
		return zero, ctx.Err()
	}
}

// resolve fecha done; uma segunda chamada entra em pânico.
func (p *Pending[R]) resolve(val R, err error) {
	p.val = val
	p.err = err
	close(p.done)
}
