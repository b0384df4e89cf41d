package assignqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	DefaultMaxQueueSize = 50
	DefaultTimeout      = 30 * time.Second
	DefaultPace         = 100 * time.Millisecond
	DefaultSweepEvery   = 5 * time.Minute
)

// Operation é a unidade de trabalho executada com exclusão mútua por (usuário, tenant).
// ctx é cancelado quando a fila é fechada.
type Operation[P, R any] func(ctx context.Context, params P) (R, error)

type Option func(*config)

type config struct {
	maxSize    int
	timeout    time.Duration
	pace       time.Duration
	sweepEvery time.Duration
	now        func() time.Time
	obs        Observer
}

// WithMaxQueueSize limita pedidos não resolvidos por par, incluindo o que está executando.
func WithMaxQueueSize(n int) Option { return func(c *config) { c.maxSize = n } }

// WithTimeout define a idade máxima de um pedido antes de executar.
func WithTimeout(d time.Duration) Option { return func(c *config) { c.timeout = d } }

// WithPace define o intervalo mínimo entre o início de duas execuções do mesmo par.
// 0 desliga.
func WithPace(d time.Duration) Option { return func(c *config) { c.pace = d } }

// WithSweepEvery define o período do CleanupExpired automático. 0 desliga.
func WithSweepEvery(d time.Duration) Option { return func(c *config) { c.sweepEvery = d } }

func WithClock(now func() time.Time) Option { return func(c *config) { c.now = now } }

func WithObserver(o Observer) Option { return func(c *config) { c.obs = o } }

type pairKey struct {
	user   string
	tenant string
}

type request[P, R any] struct {
	params     P
	op         Operation[P, R]
	enqueuedAt time.Time
	pending    *Pending[R]
}

type pairQueue[P, R any] struct {
	items []*request[P, R]
	// current é o pedido retirado pelo worker e ainda não resolvido.
	current    *request[P, R]
	processing bool
	pacer      *rate.Limiter
}

func (pq *pairQueue[P, R]) depth() int {
	n := len(pq.items)
	if pq.current != nil {
		n++
	}
	return n
}

// Queue serializa operações por (usuário, tenant): no máximo uma em execução
// por par, em ordem FIFO. Pares diferentes rodam em paralelo.
//
// O estado é só em memória e não coordena réplicas do serviço.
type Queue[P, R any] struct {
	mu     sync.Mutex
	pairs  map[pairKey]*pairQueue[P, R]
	closed bool

	cfg config

	ctx    context.Context
	cancel context.CancelFunc
}

func New[P, R any](opts ...Option) *Queue[P, R] {
	cfg := config{
		maxSize:    DefaultMaxQueueSize,
		timeout:    DefaultTimeout,
		pace:       DefaultPace,
		sweepEvery: DefaultSweepEvery,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.maxSize <= 0 {
		cfg.maxSize = DefaultMaxQueueSize
	}
	if cfg.timeout <= 0 {
		cfg.timeout = DefaultTimeout
	}
	if cfg.obs == nil {
		cfg.obs = nopObserver{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue[P, R]{
		pairs:  make(map[pairKey]*pairQueue[P, R]),
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
	}
	if cfg.sweepEvery > 0 {
		go q.sweepLoop(cfg.sweepEvery)
	}
	return q
}

// Submit enfileira op para o par e devolve o Pending do pedido.
// Fila cheia ou fechada falha aqui mesmo, sem enfileirar.
func (q *Queue[P, R]) Submit(userID, tenantID string, params P, op Operation[P, R]) (*Pending[R], error) {
	if op == nil {
		return nil, errors.New("assignqueue: nil operation")
	}
	k := pairKey{user: userID, tenant: tenantID}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.cfg.obs.Rejected(ErrQueueClosed)
		return nil, ErrQueueClosed
	}
	pq, ok := q.pairs[k]
	if !ok {
		pq = &pairQueue[P, R]{pacer: newPacer(q.cfg.pace)}
		q.pairs[k] = pq
	}
	if pq.depth() >= q.cfg.maxSize {
		q.mu.Unlock()
		q.cfg.obs.Rejected(ErrQueueFull)
		return nil, fmt.Errorf("%w: %d pending for user %q in tenant %q", ErrQueueFull, q.cfg.maxSize, userID, tenantID)
	}

	req := &request[P, R]{
		params:     params,
		op:         op,
		enqueuedAt: q.cfg.now(),
		pending:    newPending[R](uuid.NewString()),
	}
	pq.items = append(pq.items, req)
	depth := pq.depth()
	if !pq.processing {
		pq.processing = true
		go q.run(k, pq)
	}
	q.mu.Unlock()

	q.cfg.obs.Enqueued(depth)
	return req.pending, nil
}

// Do é Submit seguido de Wait.
func (q *Queue[P, R]) Do(ctx context.Context, userID, tenantID string, params P, op Operation[P, R]) (R, error) {
	p, err := q.Submit(userID, tenantID, params, op)
	if err != nil {
		var zero R
		return zero, err
	}
	return p.Wait(ctx)
}

type Status struct {
	QueueSize        int       `json:"queueSize"`
	Processing       bool      `json:"isProcessing"`
	OldestEnqueuedAt time.Time `json:"oldestAssignment,omitzero"`
}

// Status não altera a fila. QueueSize conta só pedidos aguardando.
func (q *Queue[P, R]) Status(userID, tenantID string) Status {
	q.mu.Lock()
	defer q.mu.Unlock()

	pq, ok := q.pairs[pairKey{user: userID, tenant: tenantID}]
	if !ok {
		return Status{}
	}
	st := Status{QueueSize: len(pq.items), Processing: pq.processing}
	if len(pq.items) > 0 {
		st.OldestEnqueuedAt = pq.items[0].enqueuedAt
	}
	return st
}

// Clear rejeita com ErrQueueCleared tudo que aguarda no par. A operação em
// execução não é interrompida; enquanto ela roda o par continua registrado,
// senão um segundo worker poderia começar em paralelo.
func (q *Queue[P, R]) Clear(userID, tenantID string) int {
	k := pairKey{user: userID, tenant: tenantID}

	q.mu.Lock()
	pq, ok := q.pairs[k]
	if !ok {
		q.mu.Unlock()
		return 0
	}
	dropped := pq.items
	pq.items = nil
	if !pq.processing {
		delete(q.pairs, k)
	}
	q.mu.Unlock()

	for _, req := range dropped {
		q.settle(req, ErrQueueCleared)
	}
	return len(dropped)
}

// CleanupExpired rejeita com ErrQueueTimeout os pedidos vencidos de todas as
// filas, mesmo os que não estão na cabeça, e remove pares vazios e parados.
func (q *Queue[P, R]) CleanupExpired() int {
	now := q.cfg.now()
	var expired []*request[P, R]

	q.mu.Lock()
	for k, pq := range q.pairs {
		kept := pq.items[:0:0]
		for _, req := range pq.items {
			if q.expired(req, now) {
				expired = append(expired, req)
				continue
			}
			kept = append(kept, req)
		}
		pq.items = kept
		if len(pq.items) == 0 && !pq.processing {
			delete(q.pairs, k)
		}
	}
	q.mu.Unlock()

	for _, req := range expired {
		q.settle(req, ErrQueueTimeout)
	}
	return len(expired)
}

// Pairs retorna quantos pares (usuário, tenant) estão registrados.
func (q *Queue[P, R]) Pairs() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pairs)
}

// Close para a limpeza periódica, rejeita com ErrQueueClosed o que aguarda e
// recusa novos pedidos. Operações já em execução terminam sozinhas.
func (q *Queue[P, R]) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	var dropped []*request[P, R]
	for k, pq := range q.pairs {
		dropped = append(dropped, pq.items...)
		pq.items = nil
		if !pq.processing {
			delete(q.pairs, k)
		}
	}
	q.mu.Unlock()

	q.cancel()
	for _, req := range dropped {
		q.settle(req, ErrQueueClosed)
	}
}

// run é o worker do par. Há no máximo um por par: processing é lido e
// marcado sob q.mu em Submit.
//
// O ritmo é aguardado antes de retirar o próximo pedido, então durante a
// espera ele continua na fila: Status o conta e Clear o rejeita.
func (q *Queue[P, R]) run(k pairKey, pq *pairQueue[P, R]) {
	for {
		if err := pq.pacer.Wait(q.ctx); err != nil {
			q.mu.Lock()
			dropped := pq.items
			pq.items = nil
			q.retire(k, pq)
			q.mu.Unlock()
			for _, req := range dropped {
				q.settle(req, ErrQueueClosed)
			}
			return
		}

		q.mu.Lock()
		req := pq.pop()
		if req == nil {
			// Clear ou CleanupExpired esvaziou a fila durante a espera.
			q.retire(k, pq)
			q.mu.Unlock()
			return
		}
		q.mu.Unlock()

		val, err := q.execute(req)

		q.mu.Lock()
		pq.current = nil
		last := len(pq.items) == 0
		if last {
			q.retire(k, pq)
		}
		q.mu.Unlock()

		// Resolve só depois de aposentar o par: quem observa o resultado
		// já vê a fila vazia.
		q.settleValue(req, val, err)
		if last {
			return
		}
	}
}

// retire exige q.mu.
func (q *Queue[P, R]) retire(k pairKey, pq *pairQueue[P, R]) {
	pq.processing = false
	if q.pairs[k] == pq {
		delete(q.pairs, k)
	}
}

func (pq *pairQueue[P, R]) pop() *request[P, R] {
	if len(pq.items) == 0 {
		return nil
	}
	req := pq.items[0]
	pq.items[0] = nil
	pq.items = pq.items[1:]
	pq.current = req
	return req
}

func (q *Queue[P, R]) execute(req *request[P, R]) (val R, err error) {
	if q.expired(req, q.cfg.now()) {
		return val, ErrQueueTimeout
	}

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("assignqueue: operation panicked: %v", p)
		}
	}()
	return req.op(q.ctx, req.params)
}

func (q *Queue[P, R]) expired(req *request[P, R], now time.Time) bool {
	return now.Sub(req.enqueuedAt) > q.cfg.timeout
}

func (q *Queue[P, R]) settle(req *request[P, R], err error) {
	var zero R
	q.settleValue(req, zero, err)
}

func (q *Queue[P, R]) settleValue(req *request[P, R], val R, err error) {
	q.cfg.obs.Settled(outcomeOf(err), q.cfg.now().Sub(req.enqueuedAt))
	req.pending.resolve(val, err)
}

func (q *Queue[P, R]) sweepLoop(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-q.ctx.Done():
			return
		case <-t.C:
			q.CleanupExpired()
		}
	}
}

// newPacer espaça os inícios de execuções consecutivas do par (burst 1).
// Não é um intervalo depois do término: uma operação mais lenta que pace
// é seguida pela próxima sem espera.
func newPacer(pace time.Duration) *rate.Limiter {
	if pace <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(pace), 1)
}
