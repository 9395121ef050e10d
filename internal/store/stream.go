package store

import (
	"context"
	"sync"
)

// Source is a cancellable stream of values.
type Source[T any] interface {
	// Updates is closed once the stream ends.
	Updates() <-chan T
	// Close stops the stream and releases its resources. Safe to call more than once.
	Close() error
}

// Stream is a Source driven by a producer goroutine. Delivery coalesces: a
// consumer that falls behind only sees the latest value.
type Stream[T any] struct {
	updates chan T
	cancel  context.CancelFunc
	done    chan struct{}
	err     error
}

// Run starts producer in its own goroutine. The producer must return once ctx
// is done. cleanup runs after the producer returns, before Updates is closed.
func Run[T any](parent context.Context, producer func(ctx context.Context, emit func(T)), cleanup func() error) *Stream[T] {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	s := &Stream[T]{
		updates: make(chan T, 1),
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	go func() {
		defer close(s.done)
		defer close(s.updates)
		producer(ctx, s.emit)
		cancel()
		if cleanup != nil {
			s.err = cleanup()
		}
	}()

	return s
}

func (s *Stream[T]) emit(value T) {
	for {
		select {
		case s.updates <- value:
			return
		default:
		}
		select {
		case <-s.updates:
		default:
		}
	}
}

// Updates implements Source.
func (s *Stream[T]) Updates() <-chan T {
	return s.updates
}

// Close implements Source.
func (s *Stream[T]) Close() error {
	s.cancel()
	<-s.done
	return s.err
}

// Map derives a stream by applying fn to every value of src. Closing the
// derived stream closes src.
func Map[T, U any](src Source[T], fn func(T) U) *Stream[U] {
	return Run(context.Background(), func(ctx context.Context, emit func(U)) {
		for {
			select {
			case <-ctx.Done():
				return
			case value, ok := <-src.Updates():
				if !ok {
					return
				}
				emit(fn(value))
			}
		}
	}, src.Close)
}

// fanout delivers path change notifications to local subscribers.
type fanout struct {
	mu   sync.Mutex
	next int
	subs map[string]map[int]chan struct{}
}

func newFanout() *fanout {
	return &fanout{subs: make(map[string]map[int]chan struct{})}
}

func (f *fanout) subscribe(path string) (<-chan struct{}, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ch := make(chan struct{}, 1)
	id := f.next
	f.next++
	if f.subs[path] == nil {
		f.subs[path] = make(map[int]chan struct{})
	}
	f.subs[path][id] = ch

	return ch, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.subs[path], id)
		if len(f.subs[path]) == 0 {
			delete(f.subs, path)
		}
	}
}

func (f *fanout) notify(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs[path] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
