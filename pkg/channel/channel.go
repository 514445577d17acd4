// Package channel provides single-producer/single-consumer hand-off
// endpoints that report disconnection in both directions.
//
// Go channels only signal closure from the sending side. Pipeline stages
// also need to notice when the consumer went away, so that shutdown can
// travel upstream. A Sender learns that its Receiver was closed from the
// ErrDisconnected returned by Send; a Receiver learns that its Sender was
// closed once the queue is drained.
//
// Channels are unbounded unless created with a positive capacity, in which
// case Send blocks while the queue is full.
//
//	tx, rx := channel.New[[]float64](0)
//	go func() {
//		defer tx.Close()
//		for _, f := range frames {
//			if err := tx.Send(f); err != nil {
//				return // receiver gone
//			}
//		}
//	}()
//	for f := range rx.All() {
//		consume(f)
//	}
package channel

import (
	"context"
	"iter"
	"sync"

	"github.com/eapache/queue"

	"github.com/ajitpratap0/aether/pkg/errors"
)

// ErrDisconnected is returned by Send when the receiver has been closed and
// by Recv when the sender has been closed and the queue is empty.
var ErrDisconnected = errors.New(errors.ErrorTypeDisconnected, "channel disconnected")

// ErrSenderClosed is returned by Send after the sender itself was closed.
var ErrSenderClosed = errors.New(errors.ErrorTypeDisconnected, "send on closed sender")

// Releaser is implemented by values that own a resource which must be given
// back when the value is dropped, such as pool handles. Queued values that
// implement it are released when the receiver is closed.
type Releaser interface {
	Release()
}

// Discard drops v, releasing it first if it is a Releaser.
func Discard(v any) {
	if r, ok := v.(Releaser); ok {
		r.Release()
	}
}

type core[T any] struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond

	items    *queue.Queue
	capacity int

	senderClosed   bool
	receiverClosed bool
}

// Sender is the producing endpoint.
type Sender[T any] struct {
	c *core[T]
}

// Receiver is the consuming endpoint.
type Receiver[T any] struct {
	c *core[T]
}

// New creates a connected Sender/Receiver pair. A capacity of zero or less
// makes the channel unbounded.
func New[T any](capacity int) (*Sender[T], *Receiver[T]) {
	c := &core[T]{
		items:    queue.New(),
		capacity: capacity,
	}
	c.notEmpty = sync.NewCond(&c.mu)
	c.notFull = sync.NewCond(&c.mu)
	return &Sender[T]{c: c}, &Receiver[T]{c: c}
}

// Send queues v. It blocks only when the channel is bounded and full.
// It returns ErrDisconnected once the receiver is closed; v is not queued
// in that case and ownership stays with the caller.
func (s *Sender[T]) Send(v T) error {
	c := s.c
	c.mu.Lock()
	defer c.mu.Unlock()

	for {
		if c.receiverClosed {
			return ErrDisconnected
		}
		if c.senderClosed {
			return ErrSenderClosed
		}
		if c.capacity <= 0 || c.items.Length() < c.capacity {
			break
		}
		c.notFull.Wait()
	}

	c.items.Add(v)
	c.notEmpty.Signal()
	return nil
}

// Close marks the sender as gone. The receiver still gets every queued
// item before it observes ErrDisconnected. Close is idempotent.
func (s *Sender[T]) Close() {
	c := s.c
	c.mu.Lock()
	defer c.mu.Unlock()

	c.senderClosed = true
	c.notEmpty.Broadcast()
	c.notFull.Broadcast()
}

// Disconnected reports whether the receiver has been closed.
func (s *Sender[T]) Disconnected() bool {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	return s.c.receiverClosed
}

// Recv blocks until an item is available or the channel is disconnected.
func (r *Receiver[T]) Recv() (T, error) {
	c := r.c
	c.mu.Lock()
	defer c.mu.Unlock()

	for c.items.Length() == 0 {
		if c.senderClosed || c.receiverClosed {
			var zero T
			return zero, ErrDisconnected
		}
		c.notEmpty.Wait()
	}
	return c.take(), nil
}

// RecvContext is Recv that also gives up when ctx is done, returning the
// context's error.
func (r *Receiver[T]) RecvContext(ctx context.Context) (T, error) {
	c := r.c
	stop := context.AfterFunc(ctx, func() {
		c.mu.Lock()
		c.notEmpty.Broadcast()
		c.mu.Unlock()
	})
	defer stop()

	c.mu.Lock()
	defer c.mu.Unlock()

	for c.items.Length() == 0 {
		if c.senderClosed || c.receiverClosed {
			var zero T
			return zero, ErrDisconnected
		}
		if err := ctx.Err(); err != nil {
			var zero T
			return zero, err
		}
		c.notEmpty.Wait()
	}
	return c.take(), nil
}

// TryRecv returns immediately. ok is false when nothing is queued; err is
// ErrDisconnected when nothing is queued and the sender is gone.
func (r *Receiver[T]) TryRecv() (v T, ok bool, err error) {
	c := r.c
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.items.Length() == 0 {
		if c.senderClosed || c.receiverClosed {
			return v, false, ErrDisconnected
		}
		return v, false, nil
	}
	return c.take(), true, nil
}

// All returns an iterator over received items that ends on disconnection.
func (r *Receiver[T]) All() iter.Seq[T] {
	return func(yield func(T) bool) {
		for {
			v, err := r.Recv()
			if err != nil {
				return
			}
			if !yield(v) {
				return
			}
		}
	}
}

// Len returns the number of queued items.
func (r *Receiver[T]) Len() int {
	r.c.mu.Lock()
	defer r.c.mu.Unlock()
	return r.c.items.Length()
}

// Close drops the receiver. Queued items are discarded, releasing those
// that implement Releaser, and every later Send fails with ErrDisconnected.
// Close is idempotent.
func (r *Receiver[T]) Close() {
	c := r.c
	c.mu.Lock()
	if c.receiverClosed {
		c.mu.Unlock()
		return
	}
	c.receiverClosed = true
	dropped := make([]T, 0, c.items.Length())
	for c.items.Length() > 0 {
		v, _ := c.items.Remove().(T)
		dropped = append(dropped, v)
	}
	c.notFull.Broadcast()
	c.notEmpty.Broadcast()
	c.mu.Unlock()

	for _, v := range dropped {
		Discard(v)
	}
}

// take removes the oldest item. Caller holds c.mu and has checked Length.
func (c *core[T]) take() T {
	v, _ := c.items.Remove().(T)
	c.notFull.Signal()
	return v
}
