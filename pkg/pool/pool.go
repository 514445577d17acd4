package pool

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/ajitpratap0/aether/pkg/errors"
	"github.com/ajitpratap0/aether/pkg/logger"
	"github.com/ajitpratap0/aether/pkg/metrics"
)

// ErrPoisoned is returned by TakeOrMake once a constructor or resetter has
// panicked while the pool lock was held.
var ErrPoisoned = errors.New(errors.ErrorTypePoisoned, "pool lock poisoned")

// Status is the outcome of a checkout attempt.
type Status int

const (
	// StatusOK means an object was checked out.
	StatusOK Status = iota
	// StatusExhausted means no object was available and the pool did not grow.
	StatusExhausted
	// StatusPoisoned means the pool state is unusable.
	StatusPoisoned
)

// String returns a string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusExhausted:
		return "exhausted"
	case StatusPoisoned:
		return "poisoned"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Stats is a point-in-time snapshot of pool counters.
type Stats struct {
	// Available is the number of objects checked in.
	Available int
	// Capacity is the number of objects ever constructed.
	Capacity int
	// Outstanding is the number of live handles.
	// Capacity == Available + Outstanding + Discards.
	Outstanding int
	// Takes counts checkouts served from available objects.
	Takes int64
	// Grows counts checkouts that constructed a new object.
	Grows int64
	// Misses counts Take calls that found the pool empty.
	Misses int64
	// Discards counts objects dropped on release of a poisoned pool.
	Discards int64
}

// Option configures a Pool.
type Option func(*options)

type options struct {
	name   string
	logger *zap.Logger
}

// WithName labels the pool in logs and enables its Prometheus metrics.
func WithName(name string) Option {
	return func(o *options) {
		o.name = name
	}
}

// WithLogger sets the logger used for poisoning diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// state is shared by every Pool reference and every outstanding Elem.
type state[T any] struct {
	mu        sync.Mutex
	available []T
	newFn     func() T
	resetFn   func(*T)
	capacity  int
	poisoned  bool

	takes    int64
	grows    int64
	misses   int64
	discards int64

	name   string
	logger *zap.Logger
}

// Pool is a thread-safe cache of reusable objects of one type. Every clone
// shares the same state. The zero value is not usable; create pools with Make.
type Pool[T any] struct {
	s *state[T]
}

// Make creates a pool holding initialSize objects built by newFn. Each object
// is passed through resetFn before it becomes available, the same as on
// every later return. resetFn may be nil.
//
// Example:
//
//	frames := pool.Make(4,
//	    func() []float64 { return make([]float64, 0, 1024) },
//	    func(f *[]float64) { *f = (*f)[:0] },
//	    pool.WithName("frames"),
//	)
func Make[T any](initialSize int, newFn func() T, resetFn func(*T), opts ...Option) *Pool[T] {
	if newFn == nil {
		panic("pool: nil constructor")
	}
	if initialSize < 0 {
		initialSize = 0
	}

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logger.Named("pool")
	}
	if o.name != "" {
		o.logger = o.logger.With(zap.String("pool", o.name))
	}

	available := make([]T, 0, initialSize)
	for i := 0; i < initialSize; i++ {
		v := newFn()
		if resetFn != nil {
			resetFn(&v)
		}
		available = append(available, v)
	}

	s := &state[T]{
		available: available,
		newFn:     newFn,
		resetFn:   resetFn,
		capacity:  initialSize,
		name:      o.name,
		logger:    o.logger,
	}
	s.publish()
	return &Pool[T]{s: s}
}

// Clone returns a new reference to the same pool state.
func (p *Pool[T]) Clone() *Pool[T] {
	return &Pool[T]{s: p.s}
}

// Take checks out an object if one is available. It never grows the pool
// and never blocks on anything but the pool lock. ok is false when the pool
// is empty or poisoned.
func (p *Pool[T]) Take() (elem *Elem[T], ok bool) {
	elem, status := p.TryTake()
	return elem, status == StatusOK
}

// TryTake is Take with the reason for an empty result spelled out.
func (p *Pool[T]) TryTake() (*Elem[T], Status) {
	s := p.s
	s.mu.Lock()
	defer s.unlock()

	if s.poisoned {
		s.count(metrics.CheckoutPoisoned)
		return nil, StatusPoisoned
	}
	if len(s.available) == 0 {
		s.misses++
		s.count(metrics.CheckoutExhausted)
		return nil, StatusExhausted
	}

	v := s.pop()
	s.takes++
	s.count(metrics.CheckoutHit)
	s.publish()
	return newElem(s, v), StatusOK
}

// TakeOrMake checks out an available object or constructs a new one,
// growing the pool's capacity by one. The constructor runs under the pool
// lock. It fails only with ErrPoisoned.
func (p *Pool[T]) TakeOrMake() (*Elem[T], error) {
	s := p.s
	s.mu.Lock()
	defer s.unlock()

	if s.poisoned {
		s.count(metrics.CheckoutPoisoned)
		return nil, ErrPoisoned
	}

	var v T
	if len(s.available) == 0 {
		v = s.newFn()
		s.capacity++
		s.grows++
		s.count(metrics.CheckoutGrow)
	} else {
		v = s.pop()
		s.takes++
		s.count(metrics.CheckoutHit)
	}
	s.publish()
	return newElem(s, v), nil
}

// MustTakeOrMake is like TakeOrMake but panics if the pool is poisoned.
func (p *Pool[T]) MustTakeOrMake() *Elem[T] {
	e, err := p.TakeOrMake()
	if err != nil {
		panic(err)
	}
	return e
}

// Len returns the number of objects currently available.
func (p *Pool[T]) Len() int {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	return len(p.s.available)
}

// IsEmpty reports whether no object is available.
func (p *Pool[T]) IsEmpty() bool {
	return p.Len() == 0
}

// Cap returns the number of objects ever constructed for this pool.
func (p *Pool[T]) Cap() int {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	return p.s.capacity
}

// Poisoned reports whether a constructor or resetter panicked under the lock.
func (p *Pool[T]) Poisoned() bool {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	return p.s.poisoned
}

// Stats returns a snapshot of the pool counters.
func (p *Pool[T]) Stats() Stats {
	s := p.s
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Available:   len(s.available),
		Capacity:    s.capacity,
		Outstanding: s.capacity - len(s.available) - int(s.discards),
		Takes:       s.takes,
		Grows:       s.grows,
		Misses:      s.misses,
		Discards:    s.discards,
	}
}

// pop removes the most recently returned object. Caller holds s.mu.
func (s *state[T]) pop() T {
	n := len(s.available) - 1
	v := s.available[n]
	var zero T
	s.available[n] = zero
	s.available = s.available[:n]
	return v
}

// giveBack resets v and makes it available again, or drops it when the
// pool is poisoned.
func (s *state[T]) giveBack(v T) {
	s.mu.Lock()
	defer s.unlock()

	if s.poisoned {
		s.discards++
		if s.name != "" {
			metrics.PoolDiscards.WithLabelValues(s.name).Inc()
		}
		s.logger.Warn("pool poisoned, dropping element")
		return
	}

	if s.resetFn != nil {
		s.resetFn(&v)
	}
	s.available = append(s.available, v)
	s.publish()
}

// unlock releases s.mu. It must be deferred directly after Lock: a panic
// unwinding through the critical section poisons the pool before the lock
// is released and the panic continues.
func (s *state[T]) unlock() {
	if r := recover(); r != nil {
		s.poisoned = true
		s.mu.Unlock()
		s.logger.Error("panic while holding pool lock, pool poisoned",
			zap.Any("panic", r))
		panic(r)
	}
	s.mu.Unlock()
}

// publish pushes gauges for named pools. Caller holds s.mu.
func (s *state[T]) publish() {
	if s.name == "" {
		return
	}
	metrics.ObservePool(s.name, len(s.available), s.capacity)
}

// count records a checkout result for named pools. Caller holds s.mu.
func (s *state[T]) count(result string) {
	if s.name == "" {
		return
	}
	metrics.PoolCheckouts.WithLabelValues(s.name, result).Inc()
}

// Elem is a checkout handle holding exclusive use of one pooled object.
// Release returns the object; it is safe to call more than once and only
// the first call has an effect. A handle that becomes unreachable without
// being released is returned by the garbage collector.
type Elem[T any] struct {
	pool     *state[T]
	val      T
	released atomic.Bool
}

func newElem[T any](s *state[T], v T) *Elem[T] {
	e := &Elem[T]{pool: s, val: v}
	runtime.SetFinalizer(e, finalizeElem[T])
	return e
}

// Value returns a pointer to the wrapped object. Reads and writes go
// straight through to the pooled value. Neither the pointer nor anything
// reachable from it (slice backing arrays included) may be used after
// Release.
func (e *Elem[T]) Value() *T {
	return &e.val
}

// Released reports whether the handle has already been given back.
func (e *Elem[T]) Released() bool {
	return e.released.Load()
}

// Release resets the object and returns it to the pool.
func (e *Elem[T]) Release() {
	if e == nil {
		return
	}
	if !e.released.CompareAndSwap(false, true) {
		return
	}
	runtime.SetFinalizer(e, nil)

	v := e.val
	var zero T
	e.val = zero
	e.pool.giveBack(v)
}

func finalizeElem[T any](e *Elem[T]) {
	defer func() {
		if r := recover(); r != nil {
			e.pool.logger.Error("panic returning collected element", zap.Any("panic", r))
		}
	}()
	e.Release()
}
