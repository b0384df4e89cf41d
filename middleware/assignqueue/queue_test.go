package assignqueue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestQueue(t *testing.T, opts ...Option) *Queue[int, int] {
	t.Helper()
	base := []Option{WithPace(0), WithSweepEvery(0)}
	q := New[int, int](append(base, opts...)...)
	t.Cleanup(q.Close)
	return q
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// blocker devolve uma operação que sinaliza started e segura até release fechar.
func blocker(started chan<- struct{}, release <-chan struct{}) Operation[int, int] {
	return func(ctx context.Context, n int) (int, error) {
		if started != nil {
			started <- struct{}{}
		}
		select {
		case <-release:
			return n, nil
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

func identity(_ context.Context, n int) (int, error) { return n, nil }

func TestQueue_FIFOWithinPair(t *testing.T) {
	q := newTestQueue(t)
	ctx := waitCtx(t)

	var mu sync.Mutex
	var order []int
	record := func(_ context.Context, n int) (int, error) {
		mu.Lock()
		order = append(order, n)
		mu.Unlock()
		time.Sleep(time.Millisecond)
		return n, nil
	}

	pending := make([]*Pending[int], 0, 3)
	for i := 1; i <= 3; i++ {
		p, err := q.Submit("u1", "t1", i, record)
		require.NoError(t, err)
		pending = append(pending, p)
	}

	// espera fora de ordem de propósito
	for _, i := range []int{2, 0, 1} {
		v, err := pending[i].Wait(ctx)
		require.NoError(t, err)
		assert.Equal(t, i+1, v)
	}
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestQueue_SettlementOrderScenario(t *testing.T) {
	q := New[int, int](WithSweepEvery(0))
	t.Cleanup(q.Close)
	ctx := waitCtx(t)

	slow := func(_ context.Context, n int) (int, error) {
		time.Sleep(10 * time.Millisecond)
		return n, nil
	}

	settled := make(chan int, 5)
	for i := 0; i < 5; i++ {
		p, err := q.Submit("u1", "t1", i, slow)
		require.NoError(t, err)
		go func() {
			v, err := p.Wait(ctx)
			if err == nil {
				settled <- v
			}
		}()
	}

	got := make([]int, 0, 5)
	for i := 0; i < 5; i++ {
		select {
		case v := <-settled:
			got = append(got, v)
		case <-ctx.Done():
			t.Fatalf("timeout waiting settlements, got %v", got)
		}
	}
	assert.Equal(t, []int{0, 1, 2, 3, 4}, got)
}

func TestQueue_PairsRunIndependently(t *testing.T) {
	q := newTestQueue(t)
	ctx := waitCtx(t)

	started := make(chan struct{}, 1)
	release := make(chan struct{})
	pa, err := q.Submit("userA", "tenantX", 1, blocker(started, release))
	require.NoError(t, err)
	<-started

	// B termina enquanto A está preso
	v, err := q.Do(ctx, "userB", "tenantY", 2, identity)
	require.NoError(t, err)
	assert.Equal(t, 2, v)

	// mesmo usuário em outro tenant também não bloqueia
	v, err = q.Do(ctx, "userA", "tenantY", 3, identity)
	require.NoError(t, err)
	assert.Equal(t, 3, v)

	close(release)
	v, err = pa.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestQueue_RejectsWhenFull(t *testing.T) {
	q := newTestQueue(t)
	ctx := waitCtx(t)

	release := make(chan struct{})
	op := blocker(nil, release)

	pending := make([]*Pending[int], 0, DefaultMaxQueueSize)
	for i := 0; i < DefaultMaxQueueSize; i++ {
		p, err := q.Submit("u2", "t2", i, op)
		require.NoError(t, err, "submit %d", i)
		pending = append(pending, p)
	}

	p, err := q.Submit("u2", "t2", 99, op)
	assert.Nil(t, p)
	require.ErrorIs(t, err, ErrQueueFull)

	// outro par não é afetado pelo limite
	other, err := q.Submit("u3", "t2", 1, identity)
	require.NoError(t, err)
	_, err = other.Wait(ctx)
	require.NoError(t, err)

	close(release)
	for i, p := range pending {
		v, err := p.Wait(ctx)
		require.NoError(t, err)
		assert.Equal(t, i, v)
	}
}

func TestQueue_ExpiresRequestsAtHead(t *testing.T) {
	q := newTestQueue(t, WithTimeout(50*time.Millisecond))
	ctx := waitCtx(t)

	stall := func(_ context.Context, n int) (int, error) {
		time.Sleep(120 * time.Millisecond)
		return n, nil
	}
	var ran atomic.Bool
	late := func(_ context.Context, n int) (int, error) {
		ran.Store(true)
		return n, nil
	}

	p1, err := q.Submit("u1", "t1", 1, stall)
	require.NoError(t, err)
	p2, err := q.Submit("u1", "t1", 2, late)
	require.NoError(t, err)

	v, err := p1.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	_, err = p2.Wait(ctx)
	require.ErrorIs(t, err, ErrQueueTimeout)
	assert.False(t, ran.Load(), "expired operation must not run")
}

func TestQueue_OperationFailureIsIsolated(t *testing.T) {
	q := newTestQueue(t)
	ctx := waitCtx(t)

	errBusiness := errors.New("funnel already has a resource")
	fail := func(context.Context, int) (int, error) { return 0, errBusiness }

	p1, err := q.Submit("u1", "t1", 1, identity)
	require.NoError(t, err)
	p2, err := q.Submit("u1", "t1", 2, fail)
	require.NoError(t, err)
	p3, err := q.Submit("u1", "t1", 3, identity)
	require.NoError(t, err)

	v, err := p1.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	_, err = p2.Wait(ctx)
	assert.Same(t, errBusiness, err, "operation error must be returned unchanged")
	assert.Equal(t, 0, StatusFor(err))

	v, err = p3.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, v)
}

func TestQueue_PanicBecomesError(t *testing.T) {
	q := newTestQueue(t)
	ctx := waitCtx(t)

	_, err := q.Do(ctx, "u1", "t1", 1, func(context.Context, int) (int, error) { panic("boom") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")

	v, err := q.Do(ctx, "u1", "t1", 2, identity)
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

func TestQueue_StatusEmptyAfterDrain(t *testing.T) {
	q := newTestQueue(t)
	ctx := waitCtx(t)

	var last *Pending[int]
	for i := 0; i < 4; i++ {
		p, err := q.Submit("u1", "t1", i, identity)
		require.NoError(t, err)
		last = p
	}
	_, err := last.Wait(ctx)
	require.NoError(t, err)

	st := q.Status("u1", "t1")
	assert.Equal(t, 0, st.QueueSize)
	assert.False(t, st.Processing)
	assert.True(t, st.OldestEnqueuedAt.IsZero())
	assert.Equal(t, 0, q.Pairs())
}

func TestQueue_StatusWhileBusy(t *testing.T) {
	clk := newFakeClock()
	q := newTestQueue(t, WithClock(clk.Now))

	started := make(chan struct{}, 1)
	release := make(chan struct{})
	defer close(release)

	_, err := q.Submit("u1", "t1", 1, blocker(started, release))
	require.NoError(t, err)
	<-started

	enqueuedAt := clk.Now()
	_, err = q.Submit("u1", "t1", 2, identity)
	require.NoError(t, err)
	clk.Advance(time.Second)
	_, err = q.Submit("u1", "t1", 3, identity)
	require.NoError(t, err)

	st := q.Status("u1", "t1")
	assert.Equal(t, 2, st.QueueSize)
	assert.True(t, st.Processing)
	assert.Equal(t, enqueuedAt, st.OldestEnqueuedAt)
	assert.Equal(t, Status{}, q.Status("u1", "other"))
}

func TestQueue_ClearRejectsWaitingButNotInFlight(t *testing.T) {
	q := newTestQueue(t)
	ctx := waitCtx(t)

	started := make(chan struct{}, 2)
	release := make(chan struct{})
	p1, err := q.Submit("u1", "t1", 1, blocker(started, release))
	require.NoError(t, err)
	<-started

	p2, err := q.Submit("u1", "t1", 2, identity)
	require.NoError(t, err)
	p3, err := q.Submit("u1", "t1", 3, identity)
	require.NoError(t, err)

	assert.Equal(t, 2, q.Clear("u1", "t1"))
	for _, p := range []*Pending[int]{p2, p3} {
		_, err := p.Wait(ctx)
		require.ErrorIs(t, err, ErrQueueCleared)
		assert.Equal(t, 409, StatusFor(err))
	}

	st := q.Status("u1", "t1")
	assert.Equal(t, 0, st.QueueSize)
	assert.True(t, st.Processing, "in-flight operation keeps running")

	// pedido novo depois do Clear ainda espera o que está executando
	var overlapped atomic.Bool
	p4, err := q.Submit("u1", "t1", 4, func(_ context.Context, n int) (int, error) {
		select {
		case <-release:
		default:
			overlapped.Store(true)
		}
		return n, nil
	})
	require.NoError(t, err)

	close(release)
	v, err := p1.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	v, err = p4.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, v)
	assert.False(t, overlapped.Load(), "second worker ran while first was in flight")
}

func TestQueue_ClearUnknownPair(t *testing.T) {
	q := newTestQueue(t)
	assert.Equal(t, 0, q.Clear("nobody", "t1"))
}

func TestQueue_CleanupExpiredEvictsBehindHead(t *testing.T) {
	clk := newFakeClock()
	q := newTestQueue(t, WithClock(clk.Now), WithTimeout(30*time.Second))
	ctx := waitCtx(t)

	started := make(chan struct{}, 1)
	release := make(chan struct{})
	p1, err := q.Submit("u1", "t1", 1, blocker(started, release))
	require.NoError(t, err)
	<-started

	p2, err := q.Submit("u1", "t1", 2, identity)
	require.NoError(t, err)
	clk.Advance(20 * time.Second)
	p3, err := q.Submit("u1", "t1", 3, identity)
	require.NoError(t, err)

	assert.Equal(t, 0, q.CleanupExpired())

	clk.Advance(11 * time.Second)
	assert.Equal(t, 1, q.CleanupExpired())

	_, err = p2.Wait(ctx)
	require.ErrorIs(t, err, ErrQueueTimeout)
	assert.Equal(t, 504, StatusFor(err))

	close(release)
	v, err := p1.Wait(ctx)
	require.NoError(t, err, "in-flight request is not evicted by the sweep")
	assert.Equal(t, 1, v)

	v, err = p3.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, v)
}

func TestQueue_SweepLoopRuns(t *testing.T) {
	clk := newFakeClock()
	q := New[int, int](WithPace(0), WithClock(clk.Now), WithTimeout(time.Second), WithSweepEvery(5*time.Millisecond))
	t.Cleanup(q.Close)
	ctx := waitCtx(t)

	started := make(chan struct{}, 1)
	release := make(chan struct{})
	defer close(release)
	_, err := q.Submit("u1", "t1", 1, blocker(started, release))
	require.NoError(t, err)
	<-started

	p2, err := q.Submit("u1", "t1", 2, identity)
	require.NoError(t, err)
	clk.Advance(2 * time.Second)

	_, err = p2.Wait(ctx)
	require.ErrorIs(t, err, ErrQueueTimeout)
}

func TestQueue_CloseRejectsPendingAndNewSubmits(t *testing.T) {
	q := New[int, int](WithPace(0), WithSweepEvery(time.Minute))
	ctx := waitCtx(t)

	started := make(chan struct{}, 1)
	p1, err := q.Submit("u1", "t1", 1, blocker(started, nil))
	require.NoError(t, err)
	<-started
	p2, err := q.Submit("u1", "t1", 2, identity)
	require.NoError(t, err)

	q.Close()
	q.Close()

	_, err = p2.Wait(ctx)
	require.ErrorIs(t, err, ErrQueueClosed)

	// blocker sai pelo ctx da fila
	_, err = p1.Wait(ctx)
	require.ErrorIs(t, err, context.Canceled)

	_, err = q.Submit("u1", "t1", 3, identity)
	require.ErrorIs(t, err, ErrQueueClosed)
	assert.Equal(t, 503, StatusFor(err))
}

func TestQueue_PaceSpacesExecutions(t *testing.T) {
	q := New[int, int](WithPace(40*time.Millisecond), WithSweepEvery(0))
	t.Cleanup(q.Close)
	ctx := waitCtx(t)

	var mu sync.Mutex
	var starts []time.Time
	op := func(_ context.Context, n int) (int, error) {
		mu.Lock()
		starts = append(starts, time.Now())
		mu.Unlock()
		return n, nil
	}

	var last *Pending[int]
	for i := 0; i < 3; i++ {
		p, err := q.Submit("u1", "t1", i, op)
		require.NoError(t, err)
		last = p
	}
	_, err := last.Wait(ctx)
	require.NoError(t, err)

	require.Len(t, starts, 3)
	for i := 1; i < len(starts); i++ {
		assert.GreaterOrEqual(t, starts[i].Sub(starts[i-1]), 30*time.Millisecond)
	}
}

func TestQueue_ClearRejectsRequestWaitingForPace(t *testing.T) {
	q := New[int, int](WithPace(300*time.Millisecond), WithSweepEvery(0))
	t.Cleanup(q.Close)
	ctx := waitCtx(t)

	var ran atomic.Bool
	p1, err := q.Submit("u1", "t1", 1, identity)
	require.NoError(t, err)
	p2, err := q.Submit("u1", "t1", 2, func(_ context.Context, n int) (int, error) {
		ran.Store(true)
		return n, nil
	})
	require.NoError(t, err)

	_, err = p1.Wait(ctx)
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)

	st := q.Status("u1", "t1")
	assert.Equal(t, 1, st.QueueSize, "request waiting for pace is still queued")
	assert.True(t, st.Processing)

	assert.Equal(t, 1, q.Clear("u1", "t1"))
	_, err = p2.Wait(ctx)
	require.ErrorIs(t, err, ErrQueueCleared)

	require.Eventually(t, func() bool { return q.Pairs() == 0 }, time.Second, 5*time.Millisecond)
	assert.False(t, ran.Load(), "cleared request must not run")
}

func TestQueue_NeverRunsTwoPerPair(t *testing.T) {
	q := newTestQueue(t)
	ctx := waitCtx(t)

	var inFlight, maxSeen atomic.Int32
	op := func(_ context.Context, n int) (int, error) {
		cur := inFlight.Add(1)
		for {
			prev := maxSeen.Load()
			if cur <= prev || maxSeen.CompareAndSwap(prev, cur) {
				break
			}
		}
		time.Sleep(100 * time.Microsecond)
		inFlight.Add(-1)
		return n, nil
	}

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				_, err := q.Do(ctx, "u1", "t1", i, op)
				if err != nil && !errors.Is(err, ErrQueueFull) {
					t.Errorf("unexpected error: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxSeen.Load())
	assert.Equal(t, 0, q.Pairs())
}

func TestQueue_SubmitNilOperation(t *testing.T) {
	q := newTestQueue(t)
	_, err := q.Submit("u1", "t1", 1, nil)
	require.Error(t, err)
	assert.Equal(t, 0, q.Pairs())
}

func TestPending_WaitHonoursContext(t *testing.T) {
	q := newTestQueue(t)

	release := make(chan struct{})
	defer close(release)
	p, err := q.Submit("u1", "t1", 1, blocker(nil, release))
	require.NoError(t, err)
	assert.NotEmpty(t, p.ID())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = p.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	select {
	case <-p.Done():
		t.Fatalf("request must stay queued after caller gives up")
	default:
	}
}
