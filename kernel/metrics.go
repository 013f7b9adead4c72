package kernel

import (
	"math"
	"sync"
	"time"
)

// Metrics is a snapshot of kernel runtime statistics, optionally sampled
// around each scheduling decision (spec.md §4.2's Context switch rule is
// the natural sampling point, the same way the teacher samples around
// each task execution in its own Metrics).
type Metrics struct {
	Ticks           int64
	LevelDepths     []int
	ReaperDepth     int
	AlarmsPending   int
	ActiveSockets   int
	DispatchLatency LatencyQuantiles
}

// LatencyQuantiles holds streaming percentile estimates of the time spent
// inside afterStateChangeLocked per scheduling decision.
type LatencyQuantiles struct {
	P50, P90, P99 time.Duration
}

// dispatchMonitor records scheduling-decision latency with a P-Square
// streaming quantile estimator, the same algorithm and O(1) update cost
// the teacher's LatencyMetrics uses (eventloop/psquare.go), scaled down
// to the three quantiles the kernel's dispatch hot path can afford to
// track continuously.
type dispatchMonitor struct {
	mu   sync.Mutex
	p50  *pSquareQuantile
	p90  *pSquareQuantile
	p99  *pSquareQuantile
}

func newDispatchMonitor() *dispatchMonitor {
	return &dispatchMonitor{
		p50: newPSquareQuantile(0.50),
		p90: newPSquareQuantile(0.90),
		p99: newPSquareQuantile(0.99),
	}
}

func (d *dispatchMonitor) record(dur time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v := float64(dur)
	d.p50.Update(v)
	d.p90.Update(v)
	d.p99.Update(v)
}

func (d *dispatchMonitor) snapshot() LatencyQuantiles {
	d.mu.Lock()
	defer d.mu.Unlock()
	return LatencyQuantiles{
		P50: time.Duration(d.p50.Value()),
		P90: time.Duration(d.p90.Value()),
		P99: time.Duration(d.p99.Value()),
	}
}

// pSquareQuantile is the teacher's single-quantile P-Square estimator
// (eventloop/psquare.go), carried over unmodified: it's a standalone
// numerical algorithm rather than anything specific to the event loop
// domain, so there's nothing to adapt beyond giving it a smaller home.
//
// Jain, R. and Chlamtac, I. (1985). "The P^2 Algorithm for Dynamic
// Calculation of Quantiles and Histograms Without Storing Observations".
// Communications of the ACM, 28(10), pp. 1076-1085.
type pSquareQuantile struct {
	p           float64
	q           [5]float64
	n           [5]int
	np          [5]float64
	dn          [5]float64
	initialized bool
	count       int
	initBuffer  [5]float64
}

func newPSquareQuantile(p float64) *pSquareQuantile {
	if p < 0 {
		p = 0
	}
	if p > 1 {
		p = 1
	}
	return &pSquareQuantile{
		p:  p,
		dn: [5]float64{0, p / 2, p, (1 + p) / 2, 1},
	}
}

func (q *pSquareQuantile) Update(x float64) {
	q.count++

	if !q.initialized {
		q.initBuffer[q.count-1] = x
		if q.count < 5 {
			return
		}
		sortFive(&q.initBuffer)
		for i := 0; i < 5; i++ {
			q.q[i] = q.initBuffer[i]
			q.n[i] = i + 1
			q.np[i] = float64(i + 1)
		}
		q.initialized = true
		return
	}

	var k int
	switch {
	case x < q.q[0]:
		q.q[0] = x
		k = 0
	case x >= q.q[4]:
		q.q[4] = x
		k = 3
	default:
		for i := 0; i < 4; i++ {
			if x < q.q[i+1] {
				k = i
				break
			}
		}
	}

	for i := k + 1; i < 5; i++ {
		q.n[i]++
	}
	for i := 0; i < 5; i++ {
		q.np[i] += q.dn[i]
	}

	for i := 1; i < 4; i++ {
		d := q.np[i] - float64(q.n[i])
		if (d >= 1 && q.n[i+1]-q.n[i] > 1) || (d <= -1 && q.n[i-1]-q.n[i] < -1) {
			sign := 1
			if d < 0 {
				sign = -1
			}
			qNew := q.parabolic(i, sign)
			if q.q[i-1] < qNew && qNew < q.q[i+1] {
				q.q[i] = qNew
			} else {
				q.q[i] = q.linear(i, sign)
			}
			q.n[i] += sign
		}
	}
}

func (q *pSquareQuantile) parabolic(i, d int) float64 {
	fd := float64(d)
	return q.q[i] + fd/float64(q.n[i+1]-q.n[i-1])*(
		(float64(q.n[i]-q.n[i-1])+fd)*(q.q[i+1]-q.q[i])/float64(q.n[i+1]-q.n[i])+
			(float64(q.n[i+1]-q.n[i])-fd)*(q.q[i]-q.q[i-1])/float64(q.n[i]-q.n[i-1]))
}

func (q *pSquareQuantile) linear(i, d int) float64 {
	fd := float64(d)
	return q.q[i] + fd*(q.q[i+d]-q.q[i])/float64(q.n[i+d]-q.n[i])
}

// Value returns the current quantile estimate.
func (q *pSquareQuantile) Value() float64 {
	if !q.initialized {
		if q.count == 0 {
			return 0
		}
		sorted := q.initBuffer
		sortFive(&sorted)
		idx := int(math.Round(q.p * float64(q.count-1)))
		return sorted[idx]
	}
	return q.q[2]
}

func sortFive(a *[5]float64) {
	for i := 1; i < 5; i++ {
		for j := i; j > 0 && a[j-1] > a[j]; j-- {
			a[j-1], a[j] = a[j], a[j-1]
		}
	}
}

// Metrics returns a point-in-time snapshot of kernel-wide counters.
func (k *Kernel) Metrics() Metrics {
	return Metrics{
		Ticks:           k.Clock.Now(),
		LevelDepths:     k.Scheduler.LevelDepths(),
		ReaperDepth:     k.Scheduler.ReaperDepth(),
		AlarmsPending:   k.Clock.PendingAlarms(),
		ActiveSockets:   k.Socket.ActiveSockets(),
		DispatchLatency: k.dispatch.snapshot(),
	}
}
