// Package pool implements a shared, thread-safe cache of reusable objects
// for expensive-to-construct values such as sample frames and FFT scratch
// buffers. It amortizes allocation under sustained throughput on the
// assumption that lock contention is low.
//
// # Architecture
//
// A Pool[T] is a reference to shared state: a slice of available objects,
// a constructor, a resetter and a capacity counter, all guarded by one
// mutex. Clone hands out another reference to the same state. The state
// lives for as long as any reference or outstanding handle does.
//
// Core Types:
//
//   - Pool[T]: the pool reference
//   - Elem[T]: a checkout handle; Release resets the object and returns it
//   - Status: the explicit result of a checkout (ok, exhausted, poisoned)
//
// # Bounded and Unbounded Use
//
// Take never grows the pool, so a pool created with Make(n, ...) serves at
// most n concurrent handles:
//
//	frames := pool.Make(8, newFrame, resetFrame)
//	if f, ok := frames.Take(); ok {
//		defer f.Release()
//		fill(*f.Value())
//	}
//
// TakeOrMake constructs a new object when the pool is empty and grows its
// capacity by one:
//
//	f, err := frames.TakeOrMake()
//	if err != nil {
//		return err // pool.ErrPoisoned
//	}
//	defer f.Release()
//
// # Returning Objects
//
// Release is idempotent. Handles that are dropped without Release are
// returned when the garbage collector finalizes them, so a pipeline can
// simply discard its final output. Explicit Release is still the
// predictable path and should be preferred.
//
// # Poisoning
//
// Constructors and resetters run while the pool lock is held. If one of
// them panics, the pool is marked poisoned before the lock is released and
// the panic continues. A poisoned pool stays poisoned: Take reports no
// object, TryTake reports StatusPoisoned, TakeOrMake returns ErrPoisoned
// and Release drops the object instead of returning it.
//
// # Metrics
//
// Pools created with WithName publish aether_pool_available,
// aether_pool_capacity, aether_pool_checkouts_total and
// aether_pool_discards_total.
package pool
