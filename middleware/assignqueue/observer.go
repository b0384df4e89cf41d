package assignqueue

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome é o estado terminal de um pedido.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomeExpired   Outcome = "expired"
	OutcomeCleared   Outcome = "cleared"
	OutcomeClosed    Outcome = "closed"
)

func outcomeOf(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeSucceeded
	case errors.Is(err, ErrQueueTimeout):
		return OutcomeExpired
	case errors.Is(err, ErrQueueCleared):
		return OutcomeCleared
	case errors.Is(err, ErrQueueClosed):
		return OutcomeClosed
	default:
		return OutcomeFailed
	}
}

// Observer recebe os eventos da fila. As chamadas acontecem fora do lock
// interno, mas podem vir de goroutines diferentes.
type Observer interface {
	Enqueued(depth int)
	Rejected(err error)
	Settled(outcome Outcome, wait time.Duration)
}

type nopObserver struct{}

func (nopObserver) Enqueued(int)                   {}
func (nopObserver) Rejected(error)                 {}
func (nopObserver) Settled(Outcome, time.Duration) {}

type PrometheusObserver struct {
	enqueued *prometheus.CounterVec
	depth    prometheus.Histogram
	settled  *prometheus.CounterVec
	wait     prometheus.Histogram
}

func NewPrometheusObserver(reg prometheus.Registerer) *PrometheusObserver {
	o := &PrometheusObserver{
		enqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_assignqueue_submits_total",
			Help: "Assignment submits by result",
		}, []string{"result"}),
		depth: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "storefront_assignqueue_depth",
			Help:    "Pending requests in the pair queue right after a submit",
			Buckets: prometheus.LinearBuckets(1, 5, 10),
		}),
		settled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_assignqueue_settled_total",
			Help: "Settled assignment requests by outcome",
		}, []string{"outcome"}),
		wait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "storefront_assignqueue_wait_ms",
			Help:    "Time from submit to settlement in milliseconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 16), // 1ms a ~32s
		}),
	}
	if reg != nil {
		reg.MustRegister(o.enqueued, o.depth, o.settled, o.wait)
	}
	return o
}

func (o *PrometheusObserver) Enqueued(depth int) {
	o.enqueued.WithLabelValues("accepted").Inc()
	o.depth.Observe(float64(depth))
}

func (o *PrometheusObserver) Rejected(err error) {
	result := "closed"
	if errors.Is(err, ErrQueueFull) {
		result = "full"
	}
	o.enqueued.WithLabelValues(result).Inc()
}

func (o *PrometheusObserver) Settled(outcome Outcome, wait time.Duration) {
	o.settled.WithLabelValues(string(outcome)).Inc()
	o.wait.Observe(float64(wait) / float64(time.Millisecond))
}
