// Package circuit implements a circuit breaker for external API calls
// (geocoding, chat completions). It fails fast when a dependency is
// unhealthy instead of queueing doomed requests behind timeouts.
package circuit

import (
	"context"
	"errors"
	"sync"
	"time"

	"coffee-catalog/pkg/logging"
	"coffee-catalog/pkg/metrics"
)

// State of the breaker. Closed is normal operation, Open fails fast,
// HalfOpen allows a probe call through.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

// Config tunes a breaker instance.
type Config struct {
	Name string

	OperationTimeout  time.Duration // per-call timeout
	OpenFor           time.Duration // how long to stay open before probing
	MaxConsecFailures int           // consecutive failures to open
	WindowSize        int           // sliding window of recent calls
	FailureRate       float64       // 0..1 fraction in window to open
	SlowCallThreshold time.Duration // calls slower than this count as slow
	SlowCallRate      float64       // 0..1 fraction in window to open
}

// ErrOpen indicates the breaker is open and the call was short-circuited.
var ErrOpen = errors.New("circuit open")

type sample struct {
	success bool
	slow    bool
}

type Breaker struct {
	cfg        Config
	mu         sync.Mutex
	st         State
	lastChange time.Time
	nextProbe  time.Time
	consecFail int

	win  []sample
	idx  int
	used int

	log *logging.Logger

	mState   *metrics.Gauge
	mOpens   *metrics.Counter
	mSuccess *metrics.Counter
	mFailure *metrics.Counter
	mTimeout *metrics.Counter
	mSlow    *metrics.Counter
	mLatency *metrics.Histogram
}

func New(cfg Config, log *logging.Logger) *Breaker {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = 20
	}
	if cfg.OpenFor <= 0 {
		cfg.OpenFor = 30 * time.Second
	}
	b := &Breaker{
		cfg:        cfg,
		st:         Closed,
		lastChange: time.Now(),
		win:        make([]sample, cfg.WindowSize),
		log:        log,
		mState:     metrics.Default.Gauge("cb_"+cfg.Name+"_state", "Breaker state (0=closed,1=open,2=half-open)"),
		mOpens:     metrics.Default.Counter("cb_"+cfg.Name+"_opens_total", "Breaker opened events"),
		mSuccess:   metrics.Default.Counter("cb_"+cfg.Name+"_success_total", "Successful calls through breaker"),
		mFailure:   metrics.Default.Counter("cb_"+cfg.Name+"_failure_total", "Failed calls through breaker"),
		mTimeout:   metrics.Default.Counter("cb_"+cfg.Name+"_timeout_total", "Timed out calls"),
		mSlow:      metrics.Default.Counter("cb_"+cfg.Name+"_slow_total", "Slow calls"),
		mLatency: metrics.Default.Histogram("cb_"+cfg.Name+"_latency_ms", "Call latency (ms)",
			[]float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000}),
	}
	b.mState.Set(0)
	return b
}

// State reports the current breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.st
}

func (b *Breaker) setStateLocked(st State) {
	if b.st == st {
		return
	}
	b.st = st
	b.lastChange = time.Now()
	switch st {
	case Open:
		b.mOpens.Inc(1)
		b.mState.Set(1)
	case HalfOpen:
		b.mState.Set(2)
	case Closed:
		b.mState.Set(0)
	}
	if b.log != nil {
		b.log.WithComponent("circuit").Info("breaker state change",
			logging.String("name", b.cfg.Name), logging.Int("state", int(st)))
	}
}

func (b *Breaker) openLocked() {
	b.setStateLocked(Open)
	b.nextProbe = time.Now().Add(b.cfg.OpenFor)
}

// record adds a sample to the ring and opens the breaker if any
// threshold is crossed.
func (b *Breaker) record(success, slow bool) {
	b.win[b.idx] = sample{success: success, slow: slow}
	if b.used < len(b.win) {
		b.used++
	}
	b.idx = (b.idx + 1) % len(b.win)

	if b.st != Closed {
		return
	}
	if b.cfg.MaxConsecFailures > 0 && b.consecFail >= b.cfg.MaxConsecFailures {
		b.openLocked()
		return
	}

	fail, slowN := 0, 0
	for i := 0; i < b.used; i++ {
		if !b.win[i].success {
			fail++
		}
		if b.win[i].slow {
			slowN++
		}
	}
	if b.used > 0 {
		failRate := float64(fail) / float64(b.used)
		slowRate := float64(slowN) / float64(b.used)
		if b.cfg.FailureRate > 0 && failRate >= b.cfg.FailureRate {
			b.openLocked()
			return
		}
		if b.cfg.SlowCallRate > 0 && slowRate >= b.cfg.SlowCallRate {
			b.openLocked()
		}
	}
}

// Do runs op under the breaker. When open, fallback runs if provided,
// otherwise ErrOpen is returned. Outputs are captured via closure vars.
func (b *Breaker) Do(ctx context.Context, op func(ctx context.Context) error, fallback func(ctx context.Context, cause error) error) error {
	b.mu.Lock()
	if b.st == Open {
		if time.Now().Before(b.nextProbe) {
			b.mu.Unlock()
			if fallback != nil {
				return fallback(ctx, ErrOpen)
			}
			return ErrOpen
		}
		b.setStateLocked(HalfOpen)
	}
	b.mu.Unlock()

	if b.cfg.OperationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.cfg.OperationTimeout)
		defer cancel()
	}

	start := time.Now()
	err := op(ctx)
	dur := time.Since(start)
	b.mLatency.Observe(float64(dur.Milliseconds()))

	slow := b.cfg.SlowCallThreshold > 0 && dur > b.cfg.SlowCallThreshold
	if slow {
		b.mSlow.Inc(1)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		b.mTimeout.Inc(1)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		b.consecFail++
		b.mFailure.Inc(1)
		b.record(false, slow)
		if b.st == HalfOpen {
			b.openLocked()
		}
		if fallback != nil {
			return fallback(ctx, err)
		}
		return err
	}

	b.consecFail = 0
	b.mSuccess.Inc(1)
	b.record(true, slow)
	if b.st == HalfOpen {
		b.setStateLocked(Closed)
	}
	return nil
}
